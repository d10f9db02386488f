// Package memory is a process-local record backend used for development and
// tests. Contents are lost on restart.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/dvloznov/payscan/internal/domain"
)

// Store keeps records in insertion order.
type Store struct {
	mu   sync.RWMutex
	rows []domain.Record
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{}
}

// ListByOwner returns the owner's records, newest insertion first.
func (s *Store) ListByOwner(ctx context.Context, ownerID string) ([]domain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Record, 0)
	for i := len(s.rows) - 1; i >= 0; i-- {
		if s.rows[i].OwnerID == ownerID {
			out = append(out, s.rows[i])
		}
	}
	return out, nil
}

// Get returns a copy of the record, or nil when the id is unknown.
func (s *Store) Get(ctx context.Context, id string) (*domain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i := s.index(id); i >= 0 {
		rec := s.rows[i]
		return &rec, nil
	}
	return nil, nil
}

// Insert appends a record.
func (s *Store) Insert(ctx context.Context, rec domain.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.index(rec.ID) >= 0 {
		return fmt.Errorf("Insert: record %s already exists", rec.ID)
	}
	s.rows = append(s.rows, rec)
	return nil
}

// Patch applies the set fields of p to the stored record under the write lock.
func (s *Store) Patch(ctx context.Context, id string, p domain.Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.index(id)
	if i < 0 {
		return fmt.Errorf("Patch: record %s not found", id)
	}
	p.Apply(&s.rows[i])
	return nil
}

// Delete removes a record if present.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.index(id); i >= 0 {
		s.rows = append(s.rows[:i], s.rows[i+1:]...)
	}
	return nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

func (s *Store) index(id string) int {
	for i := range s.rows {
		if s.rows[i].ID == id {
			return i
		}
	}
	return -1
}
