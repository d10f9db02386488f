package view

import (
	"fmt"
	"slices"
	"strings"

	"github.com/dvloznov/payscan/internal/domain"
)

// SortKey selects the column a list is ordered by.
type SortKey string

const (
	SortByDateTime SortKey = "dateTime"
	SortByAmount   SortKey = "amount"
)

// Order is the sort direction.
type Order string

const (
	Ascending  Order = "asc"
	Descending Order = "desc"
)

// Sort describes a list ordering. The zero value is newest first.
type Sort struct {
	Key   SortKey
	Order Order
}

// DefaultSort orders by transaction time, newest first.
var DefaultSort = Sort{Key: SortByDateTime, Order: Descending}

// ParseSort validates user-supplied sort parameters. Blank values fall back to
// DefaultSort.
func ParseSort(key, order string) (Sort, error) {
	s := DefaultSort
	switch k := strings.TrimSpace(key); strings.ToLower(k) {
	case "":
	case "datetime", "date":
		s.Key = SortByDateTime
	case "amount":
		s.Key = SortByAmount
	default:
		return Sort{}, fmt.Errorf("%w: unknown sort key %q", ErrInvalidQuery, k)
	}
	switch o := strings.ToLower(strings.TrimSpace(order)); o {
	case "":
	case "asc":
		s.Order = Ascending
	case "desc":
		s.Order = Descending
	default:
		return Sort{}, fmt.Errorf("%w: unknown sort order %q", ErrInvalidQuery, order)
	}
	return s, nil
}

// Apply returns a sorted copy of records. Equal keys keep their input order.
func (s Sort) Apply(records []domain.Record) []domain.Record {
	if s.Key == "" {
		s.Key = DefaultSort.Key
	}
	if s.Order == "" {
		s.Order = DefaultSort.Order
	}
	out := slices.Clone(records)
	slices.SortStableFunc(out, func(a, b domain.Record) int {
		var c int
		switch s.Key {
		case SortByAmount:
			c = a.Amount.Cmp(b.Amount)
		default:
			c = a.DateTime.Compare(b.DateTime)
		}
		if s.Order == Descending {
			return -c
		}
		return c
	})
	return out
}
