package view

import (
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/payscan/internal/domain"
)

// WeekDays is the length of the daily series in a Summary.
const WeekDays = 7

const dayLabelLayout = "Jan 2"

var hundred = decimal.NewFromInt(100)

// Bucket is one slice of a share chart.
type Bucket struct {
	Name    string          `json:"name"`
	Value   decimal.Decimal `json:"value"`
	Percent int64           `json:"percent"`
	Label   string          `json:"label"`
}

// Day holds the credit and debit totals for one calendar day.
type Day struct {
	Date   civil.Date      `json:"-"`
	Label  string          `json:"date"`
	Credit decimal.Decimal `json:"credit"`
	Debit  decimal.Decimal `json:"debit"`
}

// Summary is the chart data for a record list.
type Summary struct {
	Types   []Bucket `json:"types"`
	Methods []Bucket `json:"methods"`
	Week    []Day    `json:"week"`
}

// Summarize computes credit/debit shares, per-method shares and the last seven
// days of credit/debit totals ending today in loc. Buckets with a zero total
// are dropped; methods appear in first-seen order with an empty method counted
// as other.
func Summarize(records []domain.Record, now time.Time, loc *time.Location) Summary {
	if loc == nil {
		loc = time.Local
	}

	var credit, debit decimal.Decimal
	methodTotals := map[string]decimal.Decimal{}
	var methodOrder []string

	today := civil.DateOf(now.In(loc))
	first := today.AddDays(-(WeekDays - 1))
	week := make([]Day, WeekDays)
	for i := range week {
		d := first.AddDays(i)
		week[i] = Day{Date: d, Label: d.In(loc).Format(dayLabelLayout)}
	}

	for _, r := range records {
		switch r.Type {
		case domain.Credit:
			credit = credit.Add(r.Amount)
		case domain.Debit:
			debit = debit.Add(r.Amount)
		}

		method := strings.ToLower(strings.TrimSpace(r.Method))
		if method == "" {
			method = domain.MethodOther
		}
		if _, seen := methodTotals[method]; !seen {
			methodOrder = append(methodOrder, method)
		}
		methodTotals[method] = methodTotals[method].Add(r.Amount)

		day := civil.DateOf(r.DateTime.In(loc))
		if day.Before(first) || day.After(today) {
			continue
		}
		slot := &week[day.DaysSince(first)]
		switch r.Type {
		case domain.Credit:
			slot.Credit = slot.Credit.Add(r.Amount)
		case domain.Debit:
			slot.Debit = slot.Debit.Add(r.Amount)
		}
	}

	s := Summary{Week: week}
	s.Types = shares([]string{"Credit", "Debit"}, map[string]decimal.Decimal{"Credit": credit, "Debit": debit})
	s.Methods = shares(methodOrder, methodTotals)
	return s
}

// shares builds labelled buckets for the non-zero totals in order.
func shares(order []string, totals map[string]decimal.Decimal) []Bucket {
	var sum decimal.Decimal
	for _, name := range order {
		sum = sum.Add(totals[name])
	}
	out := []Bucket{}
	if !sum.IsPositive() {
		return out
	}
	for _, name := range order {
		v := totals[name]
		if !v.IsPositive() {
			continue
		}
		pct := v.Mul(hundred).Div(sum).Round(0).IntPart()
		out = append(out, Bucket{
			Name:    name,
			Value:   v,
			Percent: pct,
			Label:   fmt.Sprintf("%s (%d%%)", name, pct),
		})
	}
	return out
}
