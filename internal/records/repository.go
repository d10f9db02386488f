// Package records is the owner-scoped transaction store. Backends implement
// Repository; Service enforces identity and ownership on top of them.
package records

import (
	"context"

	"github.com/dvloznov/payscan/internal/domain"
)

// Repository is a keyed collection of records with a secondary index on owner.
type Repository interface {
	// ListByOwner returns the owner's records, most recently inserted first.
	ListByOwner(ctx context.Context, ownerID string) ([]domain.Record, error)

	// Get returns the record with the given id, or nil when there is none.
	Get(ctx context.Context, id string) (*domain.Record, error)

	// Insert stores a new record. The id is already assigned.
	Insert(ctx context.Context, rec domain.Record) error

	// Patch writes the set fields of p onto an existing record in a single
	// step. Fields left nil keep whatever value is stored at that moment.
	Patch(ctx context.Context, id string, p domain.Patch) error

	// Delete removes a record. Deleting a missing id is not an error.
	Delete(ctx context.Context, id string) error

	// Close releases the backend connection.
	Close() error
}
