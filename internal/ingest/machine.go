// Package ingest drives a screenshot from capture to a stored record.
package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dvloznov/payscan/internal/domain"
	"github.com/dvloznov/payscan/internal/extraction"
	"github.com/rs/zerolog"
)

// Extractor returns raw model text for a screenshot.
type Extractor interface {
	Extract(ctx context.Context, image []byte, mimeType string) (string, error)
}

// Store persists confirmed drafts for the current caller.
type Store interface {
	Insert(ctx context.Context, d domain.Draft) (string, error)
	Patch(ctx context.Context, id string, p domain.Patch) error
}

// RecordSource returns the records currently loaded for the caller. The
// duplicate guard only looks at these. It is called with the machine locked and
// must not call back into the machine.
type RecordSource func() []domain.Record

// Machine holds one draft and moves it through the ingestion states. At most
// one extraction and one submission run at a time. The mutex is never held
// across an Extractor or Store call.
type Machine struct {
	extractor Extractor
	store     Store
	loaded    RecordSource
	log       zerolog.Logger
	now       func() time.Time

	mu        sync.Mutex
	state     State
	draft     *domain.Draft
	lastErr   error
	gen       uint64
	observers []func(Transition)
	pending   []Transition
}

// NewMachine creates an idle machine.
func NewMachine(extractor Extractor, store Store, loaded RecordSource, log zerolog.Logger) *Machine {
	if loaded == nil {
		loaded = func() []domain.Record { return nil }
	}
	return &Machine{
		extractor: extractor,
		store:     store,
		loaded:    loaded,
		log:       log,
		now:       time.Now,
	}
}

// OnTransition registers an observer. Observers run after the change, outside
// the machine's lock, in registration order.
func (m *Machine) OnTransition(fn func(Transition)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Draft returns a copy of the current draft.
func (m *Machine) Draft() (domain.Draft, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.draft == nil {
		return domain.Draft{}, false
	}
	return *m.draft, true
}

// Err returns the failure reported by the last transition, if any.
func (m *Machine) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// BeginCapture opens the capture step.
func (m *Machine) BeginCapture() error {
	m.mu.Lock()
	defer m.unlockAndNotify()

	switch m.state {
	case Idle:
		m.set(Capturing, nil)
		return nil
	case Capturing:
		return nil
	}
	return m.refuse("begin capture")
}

// Extract sends the image to the extractor and loads the normalized draft for
// confirmation. A failure returns the machine to Idle and drops any draft.
func (m *Machine) Extract(ctx context.Context, image []byte, mimeType string) (domain.Draft, error) {
	m.mu.Lock()
	if m.state != Idle && m.state != Capturing {
		err := m.refuse("extract")
		m.unlockAndNotify()
		return domain.Draft{}, err
	}
	m.gen++
	gen := m.gen
	m.set(Extracting, nil)
	m.unlockAndNotify()

	raw, err := m.extractor.Extract(ctx, image, mimeType)
	var d domain.Draft
	if err == nil {
		d, err = extraction.Normalize(raw, m.now())
	}

	m.mu.Lock()
	defer m.unlockAndNotify()

	if m.gen != gen || m.state != Extracting {
		m.log.Debug().Uint64("generation", gen).Msg("Dropping late extraction result")
		return domain.Draft{}, ErrDiscarded
	}
	if err != nil {
		m.draft = nil
		m.set(Idle, err)
		m.log.Warn().Err(err).Msg("Extraction failed")
		return domain.Draft{}, err
	}

	m.draft = &d
	m.set(AwaitingConfirmation, nil)
	return d, nil
}

// Compose starts confirmation of a manually entered draft.
func (m *Machine) Compose(d domain.Draft) error {
	m.mu.Lock()
	defer m.unlockAndNotify()

	if m.state != Idle && m.state != Capturing {
		return m.refuse("compose")
	}
	m.draft = &d
	m.set(AwaitingConfirmation, nil)
	return nil
}

// Edit loads a stored record as a draft that keeps its id.
func (m *Machine) Edit(rec domain.Record) error {
	return m.Compose(rec.Draft())
}

// UpdateDraft mutates the draft while it is editable.
func (m *Machine) UpdateDraft(fn func(*domain.Draft)) error {
	m.mu.Lock()
	defer m.unlockAndNotify()

	if m.state != Idle && m.state != AwaitingConfirmation {
		return m.refuse("edit draft")
	}
	if m.draft == nil {
		return ErrNoDraft
	}
	d := *m.draft
	fn(&d)
	m.draft = &d
	return nil
}

// RequestConfirmation reopens confirmation for a draft kept after a cancel or
// a failed submit.
func (m *Machine) RequestConfirmation() error {
	m.mu.Lock()
	defer m.unlockAndNotify()

	switch m.state {
	case AwaitingConfirmation:
		return nil
	case Idle:
		if m.draft == nil {
			return ErrNoDraft
		}
		m.set(AwaitingConfirmation, nil)
		return nil
	}
	return m.refuse("request confirmation")
}

// Confirm checks the draft against the loaded records and submits it. A
// duplicate moves the machine to DuplicateWarning and returns ErrDuplicate
// without calling the store.
func (m *Machine) Confirm(ctx context.Context) (string, error) {
	m.mu.Lock()
	if m.state != AwaitingConfirmation {
		err := m.refuse("confirm")
		m.unlockAndNotify()
		return "", err
	}
	if m.draft == nil {
		m.unlockAndNotify()
		return "", ErrNoDraft
	}
	d := *m.draft

	check := CheckDuplicate(d, m.loaded())
	if check.IsDuplicate {
		m.set(DuplicateWarning, nil)
		m.unlockAndNotify()
		m.log.Info().Str("transaction_id", d.TransactionID).Str("existing_id", check.Match.ID).Msg("Duplicate transaction id")
		return "", ErrDuplicate
	}
	return m.submitLocked(ctx)
}

// ForceSubmit stores the draft despite a duplicate warning.
func (m *Machine) ForceSubmit(ctx context.Context) (string, error) {
	m.mu.Lock()
	if m.state != DuplicateWarning {
		err := m.refuse("force submit")
		m.unlockAndNotify()
		return "", err
	}
	return m.submitLocked(ctx)
}

// Cancel leaves confirmation or the duplicate warning and keeps the draft
// editable. Cancelling a capture behaves like Close.
func (m *Machine) Cancel() error {
	m.mu.Lock()
	defer m.unlockAndNotify()

	switch m.state {
	case AwaitingConfirmation, DuplicateWarning:
		m.set(Idle, nil)
		return nil
	case Capturing, Extracting:
		m.closeLocked()
		return nil
	case Idle:
		return nil
	}
	return m.refuse("cancel")
}

// Close abandons the capture. An extraction still in flight keeps running but
// its result is dropped.
func (m *Machine) Close() error {
	m.mu.Lock()
	defer m.unlockAndNotify()

	switch m.state {
	case Capturing, Extracting:
		m.closeLocked()
		return nil
	case Idle:
		return nil
	}
	return m.refuse("close capture")
}

// Discard drops the draft. It is only allowed while nothing is in flight.
func (m *Machine) Discard() error {
	m.mu.Lock()
	defer m.unlockAndNotify()

	if m.state == Extracting || m.state == Submitting {
		return ErrBusy
	}
	m.draft = nil
	if m.state != Idle {
		m.set(Idle, nil)
	}
	return nil
}

func (m *Machine) closeLocked() {
	m.gen++
	m.set(Idle, nil)
}

// submitLocked is entered with m.mu held and releases it.
func (m *Machine) submitLocked(ctx context.Context) (string, error) {
	d := m.draft.WithDefaults(m.now())
	m.set(Submitting, nil)
	m.unlockAndNotify()

	var (
		id  string
		err error
	)
	if d.IsEdit() {
		id = d.ID
		err = m.store.Patch(ctx, d.ID, domain.PatchFromDraft(d))
	} else {
		id, err = m.store.Insert(ctx, d)
	}

	m.mu.Lock()
	defer m.unlockAndNotify()

	if err != nil {
		// keep the draft so the user can retry
		m.set(Idle, err)
		m.log.Warn().Err(err).Str("id", d.ID).Msg("Submit failed")
		return "", err
	}

	m.draft = nil
	m.set(Idle, nil)
	return id, nil
}

func (m *Machine) set(to State, err error) {
	from := m.state
	m.state = to
	m.lastErr = err
	m.pending = append(m.pending, Transition{From: from, To: to, Err: err})
}

func (m *Machine) refuse(action string) error {
	if m.state == Extracting || m.state == Submitting {
		return ErrBusy
	}
	return fmt.Errorf("%w: cannot %s while %s", ErrInvalidTransition, action, m.state)
}

// unlockAndNotify releases m.mu and then delivers queued transitions.
func (m *Machine) unlockAndNotify() {
	pending := m.pending
	m.pending = nil
	observers := m.observers
	m.mu.Unlock()

	for _, t := range pending {
		for _, fn := range observers {
			fn(t)
		}
	}
}
