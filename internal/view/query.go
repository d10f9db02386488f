package view

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/payscan/internal/domain"
)

// ErrInvalidQuery is returned for list parameters that cannot be parsed.
var ErrInvalidQuery = errors.New("invalid query")

// Query parameter names shared by the HTTP API and its client.
const (
	ParamStart     = "start"
	ParamEnd       = "end"
	ParamMinAmount = "min_amount"
	ParamMaxAmount = "max_amount"
	ParamMethod    = "method"
	ParamType      = "type"
	ParamSearch    = "q"
	ParamSort      = "sort"
	ParamOrder     = "order"
)

// Query is a filter plus an ordering.
type Query struct {
	Filter Filter
	Sort   Sort
}

// Run filters then sorts records.
func (q Query) Run(records []domain.Record, loc *time.Location) []domain.Record {
	return q.Sort.Apply(Apply(records, q.Filter, loc))
}

// FromValues parses list parameters. Unknown parameters are ignored.
func FromValues(v url.Values) (Query, error) {
	var q Query
	var err error

	if q.Filter.Start, err = parseDate(v.Get(ParamStart), ParamStart); err != nil {
		return Query{}, err
	}
	if q.Filter.End, err = parseDate(v.Get(ParamEnd), ParamEnd); err != nil {
		return Query{}, err
	}
	if !q.Filter.Start.IsZero() && !q.Filter.End.IsZero() && q.Filter.End.Before(q.Filter.Start) {
		return Query{}, fmt.Errorf("%w: %s is before %s", ErrInvalidQuery, ParamEnd, ParamStart)
	}
	if q.Filter.MinAmount, err = parseAmount(v.Get(ParamMinAmount), ParamMinAmount); err != nil {
		return Query{}, err
	}
	if q.Filter.MaxAmount, err = parseAmount(v.Get(ParamMaxAmount), ParamMaxAmount); err != nil {
		return Query{}, err
	}

	for _, m := range splitList(v[ParamMethod]) {
		q.Filter.Methods = append(q.Filter.Methods, domain.NormalizeMethod(m))
	}
	for _, raw := range splitList(v[ParamType]) {
		t, ok := domain.ParseTransactionType(raw)
		if !ok {
			return Query{}, fmt.Errorf("%w: unknown %s %q", ErrInvalidQuery, ParamType, raw)
		}
		q.Filter.Types = append(q.Filter.Types, t)
	}
	q.Filter.Query = strings.TrimSpace(v.Get(ParamSearch))

	if q.Sort, err = ParseSort(v.Get(ParamSort), v.Get(ParamOrder)); err != nil {
		return Query{}, err
	}
	return q, nil
}

// Values encodes q in the form FromValues accepts.
func (q Query) Values() url.Values {
	v := url.Values{}
	f := q.Filter
	if !f.Start.IsZero() {
		v.Set(ParamStart, f.Start.String())
	}
	if !f.End.IsZero() {
		v.Set(ParamEnd, f.End.String())
	}
	if f.MinAmount != nil {
		v.Set(ParamMinAmount, f.MinAmount.String())
	}
	if f.MaxAmount != nil {
		v.Set(ParamMaxAmount, f.MaxAmount.String())
	}
	for _, m := range f.Methods {
		v.Add(ParamMethod, m)
	}
	for _, t := range f.Types {
		v.Add(ParamType, string(t))
	}
	if f.Query != "" {
		v.Set(ParamSearch, f.Query)
	}
	if q.Sort.Key != "" {
		v.Set(ParamSort, string(q.Sort.Key))
	}
	if q.Sort.Order != "" {
		v.Set(ParamOrder, string(q.Sort.Order))
	}
	return v
}

func parseDate(raw, name string) (civil.Date, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return civil.Date{}, nil
	}
	d, err := civil.ParseDate(raw)
	if err != nil {
		return civil.Date{}, fmt.Errorf("%w: %s must be YYYY-MM-DD: %q", ErrInvalidQuery, name, raw)
	}
	return d, nil
}

func parseAmount(raw, name string) (*decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil || d.IsNegative() {
		return nil, fmt.Errorf("%w: %s must be a non-negative number: %q", ErrInvalidQuery, name, raw)
	}
	return &d, nil
}

// splitList accepts both repeated parameters and comma-separated values.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
