// Package view derives the list a user sees from the loaded records: filtering,
// transaction-id search, sorting, chart summaries and report data. Everything
// here is a pure function of its inputs; nothing is persisted.
package view

import (
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/payscan/internal/domain"
)

// Filter narrows a record list. Zero-valued fields do not constrain.
type Filter struct {
	Start     civil.Date // first day included
	End       civil.Date // last day included
	MinAmount *decimal.Decimal
	MaxAmount *decimal.Decimal
	Methods   []string
	Types     []domain.TransactionType
	Query     string // case-insensitive transaction-id prefix
}

// IsEmpty reports whether the filter lets every record through.
func (f Filter) IsEmpty() bool {
	return f.Start.IsZero() && f.End.IsZero() &&
		f.MinAmount == nil && f.MaxAmount == nil &&
		len(f.Methods) == 0 && len(f.Types) == 0 &&
		strings.TrimSpace(f.Query) == ""
}

// Apply returns the records matching f, preserving input order. Day bounds are
// evaluated in loc. The input slice is not modified.
func Apply(records []domain.Record, f Filter, loc *time.Location) []domain.Record {
	if loc == nil {
		loc = time.Local
	}
	m := newMatcher(f, loc)
	out := make([]domain.Record, 0, len(records))
	for _, r := range records {
		if m.match(r) {
			out = append(out, r)
		}
	}
	return out
}

// Search keeps records whose transaction id starts with query, ignoring case.
// A blank query keeps everything.
func Search(records []domain.Record, query string) []domain.Record {
	return Apply(records, Filter{Query: query}, time.UTC)
}

type matcher struct {
	f       Filter
	from    time.Time
	until   time.Time
	methods map[string]bool
	types   map[domain.TransactionType]bool
	prefix  string
}

func newMatcher(f Filter, loc *time.Location) matcher {
	m := matcher{f: f, prefix: strings.ToLower(strings.TrimSpace(f.Query))}
	if !f.Start.IsZero() {
		m.from = f.Start.In(loc)
	}
	if !f.End.IsZero() {
		m.until = f.End.AddDays(1).In(loc)
	}
	if len(f.Methods) > 0 {
		m.methods = make(map[string]bool, len(f.Methods))
		for _, method := range f.Methods {
			m.methods[domain.NormalizeMethod(method)] = true
		}
	}
	if len(f.Types) > 0 {
		m.types = make(map[domain.TransactionType]bool, len(f.Types))
		for _, t := range f.Types {
			m.types[t] = true
		}
	}
	return m
}

func (m matcher) match(r domain.Record) bool {
	if !m.from.IsZero() && r.DateTime.Before(m.from) {
		return false
	}
	if !m.until.IsZero() && !r.DateTime.Before(m.until) {
		return false
	}
	if m.f.MinAmount != nil && r.Amount.LessThan(*m.f.MinAmount) {
		return false
	}
	if m.f.MaxAmount != nil && r.Amount.GreaterThan(*m.f.MaxAmount) {
		return false
	}
	if m.methods != nil && !m.methods[domain.NormalizeMethod(r.Method)] {
		return false
	}
	if m.types != nil && !m.types[r.Type] {
		return false
	}
	if m.prefix != "" && !strings.HasPrefix(strings.ToLower(r.TransactionID), m.prefix) {
		return false
	}
	return true
}
