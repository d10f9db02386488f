package records

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/payscan/internal/auth"
	"github.com/dvloznov/payscan/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Service applies identity and ownership rules to a Repository.
type Service struct {
	repo  Repository
	log   zerolog.Logger
	now   func() time.Time
	newID func() string
}

// NewService creates a new record service.
func NewService(repo Repository, log zerolog.Logger) *Service {
	return &Service{
		repo:  repo,
		log:   log,
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// List returns the caller's records. A backend failure is logged and yields an
// empty list.
func (s *Service) List(ctx context.Context, caller auth.Identity) ([]domain.Record, error) {
	if !caller.Authenticated() {
		return nil, domain.ErrUnauthenticated
	}

	recs, err := s.repo.ListByOwner(ctx, caller.Subject)
	if err != nil {
		s.log.Error().Err(err).Str("owner_id", caller.Subject).Msg("Failed to list transactions")
		return []domain.Record{}, nil
	}
	if recs == nil {
		recs = []domain.Record{}
	}
	return recs, nil
}

// Insert persists a new record owned by the caller and returns its id.
func (s *Service) Insert(ctx context.Context, caller auth.Identity, d domain.Draft) (string, error) {
	if !caller.Authenticated() {
		return "", domain.ErrUnauthenticated
	}

	d = d.WithDefaults(s.now())
	if err := d.Validate(); err != nil {
		return "", err
	}

	rec := domain.NewRecord(s.newID(), caller.Subject, d)
	if err := s.repo.Insert(ctx, rec); err != nil {
		return "", fmt.Errorf("Insert: storing record: %w", err)
	}

	s.log.Info().
		Str("id", rec.ID).
		Str("owner_id", rec.OwnerID).
		Str("method", rec.Method).
		Msg("Transaction stored")

	return rec.ID, nil
}

// Patch applies the set fields of p to a record the caller owns. A missing
// record is reported as forbidden, like one owned by someone else.
func (s *Service) Patch(ctx context.Context, caller auth.Identity, id string, p domain.Patch) error {
	if !caller.Authenticated() {
		return domain.ErrUnauthenticated
	}
	if err := p.Validate(); err != nil {
		return err
	}

	rec, err := s.owned(ctx, caller, id)
	if err != nil {
		return err
	}
	if rec == nil {
		return domain.ErrForbidden
	}
	if p.IsEmpty() {
		return nil
	}

	if err := s.repo.Patch(ctx, id, p); err != nil {
		return fmt.Errorf("Patch: updating record: %w", err)
	}

	s.log.Info().Str("id", id).Str("owner_id", caller.Subject).Msg("Transaction updated")
	return nil
}

// Remove deletes a record the caller owns. Removing a missing id is a no-op.
func (s *Service) Remove(ctx context.Context, caller auth.Identity, id string) error {
	if !caller.Authenticated() {
		return domain.ErrUnauthenticated
	}

	rec, err := s.owned(ctx, caller, id)
	if err != nil {
		return err
	}
	if rec == nil {
		return nil
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("Remove: deleting record: %w", err)
	}

	s.log.Info().Str("id", id).Str("owner_id", caller.Subject).Msg("Transaction removed")
	return nil
}

// Submit stores a confirmed draft: a new record when the draft has no id,
// otherwise a full overwrite of the record it was loaded from.
func (s *Service) Submit(ctx context.Context, caller auth.Identity, d domain.Draft) (string, error) {
	if !d.IsEdit() {
		return s.Insert(ctx, caller, d)
	}
	if !caller.Authenticated() {
		return "", domain.ErrUnauthenticated
	}

	d = d.WithDefaults(s.now())
	if err := d.Validate(); err != nil {
		return "", err
	}
	if err := s.Patch(ctx, caller, d.ID, domain.PatchFromDraft(d)); err != nil {
		return "", err
	}
	return d.ID, nil
}

// owned loads a record and checks the caller owns it. It returns nil, nil when
// the record does not exist.
func (s *Service) owned(ctx context.Context, caller auth.Identity, id string) (*domain.Record, error) {
	if id == "" {
		return nil, nil
	}
	rec, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("owned: loading record %s: %w", id, err)
	}
	if rec == nil {
		return nil, nil
	}
	if rec.OwnerID != caller.Subject {
		s.log.Warn().
			Str("id", id).
			Str("caller", caller.Subject).
			Msg("Rejected mutation of a foreign transaction")
		return nil, domain.ErrForbidden
	}
	return rec, nil
}
