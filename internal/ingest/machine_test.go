package ingest

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/dvloznov/payscan/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// MockExtractor is a mock implementation of Extractor for testing.
type MockExtractor struct {
	ExtractFunc func(ctx context.Context, image []byte, mimeType string) (string, error)
}

func (m *MockExtractor) Extract(ctx context.Context, image []byte, mimeType string) (string, error) {
	if m.ExtractFunc != nil {
		return m.ExtractFunc(ctx, image, mimeType)
	}
	return "", errors.New("not implemented")
}

// MockStore is a mock implementation of Store for testing.
type MockStore struct {
	mu       sync.Mutex
	inserted []domain.Draft
	patched  map[string]domain.Patch

	InsertFunc func(ctx context.Context, d domain.Draft) (string, error)
	PatchFunc  func(ctx context.Context, id string, p domain.Patch) error
}

func (m *MockStore) Insert(ctx context.Context, d domain.Draft) (string, error) {
	m.mu.Lock()
	m.inserted = append(m.inserted, d)
	m.mu.Unlock()
	if m.InsertFunc != nil {
		return m.InsertFunc(ctx, d)
	}
	return "new-id", nil
}

func (m *MockStore) Patch(ctx context.Context, id string, p domain.Patch) error {
	m.mu.Lock()
	if m.patched == nil {
		m.patched = make(map[string]domain.Patch)
	}
	m.patched[id] = p
	m.mu.Unlock()
	if m.PatchFunc != nil {
		return m.PatchFunc(ctx, id, p)
	}
	return nil
}

func (m *MockStore) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inserted) + len(m.patched)
}

func staticExtractor(text string) *MockExtractor {
	return &MockExtractor{ExtractFunc: func(ctx context.Context, image []byte, mimeType string) (string, error) {
		return text, nil
	}}
}

func newTestMachine(ex Extractor, st Store, loaded []domain.Record) *Machine {
	m := NewMachine(ex, st, func() []domain.Record { return loaded }, zerolog.New(io.Discard))
	m.now = func() time.Time { return time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC) }
	return m
}

const extracted = `{"payment_app": "paytm", "amount": 500, "transaction_type": "debit", "upi_transaction_id": "T123", "dateTime": "2025-01-01T10:00:00Z"}`

func TestMachine_HappyPath(t *testing.T) {
	store := &MockStore{}
	m := newTestMachine(staticExtractor(extracted), store, nil)

	var seen []Transition
	m.OnTransition(func(tr Transition) { seen = append(seen, tr) })

	if err := m.BeginCapture(); err != nil {
		t.Fatalf("BeginCapture() error = %v", err)
	}
	d, err := m.Extract(context.Background(), []byte("img"), "image/png")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if d.TransactionID != "T123" || !d.Amount.Equal(decimal.NewFromInt(500)) {
		t.Errorf("draft = %+v", d)
	}
	if m.State() != AwaitingConfirmation {
		t.Fatalf("State() = %v, want awaiting_confirmation", m.State())
	}

	id, err := m.Confirm(context.Background())
	if err != nil {
		t.Fatalf("Confirm() error = %v", err)
	}
	if id != "new-id" {
		t.Errorf("id = %q", id)
	}
	if m.State() != Idle {
		t.Errorf("State() = %v, want idle", m.State())
	}
	if _, ok := m.Draft(); ok {
		t.Error("draft should be cleared after a successful submit")
	}
	if len(store.inserted) != 1 || store.inserted[0].Type != domain.Debit {
		t.Errorf("inserted = %+v", store.inserted)
	}

	want := []State{Capturing, Extracting, AwaitingConfirmation, Submitting, Idle}
	if len(seen) != len(want) {
		t.Fatalf("transitions = %+v, want %d", seen, len(want))
	}
	for i, tr := range seen {
		if tr.To != want[i] {
			t.Errorf("transition %d to %v, want %v", i, tr.To, want[i])
		}
	}
}

func TestMachine_DuplicateWarning(t *testing.T) {
	store := &MockStore{}
	loaded := []domain.Record{{ID: "r1", OwnerID: "a", TransactionID: "T123"}}
	m := newTestMachine(staticExtractor(extracted), store, loaded)

	var reached []State
	m.OnTransition(func(tr Transition) { reached = append(reached, tr.To) })

	if _, err := m.Extract(context.Background(), []byte("img"), ""); err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	_, err := m.Confirm(context.Background())
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("Confirm() error = %v, want ErrDuplicate", err)
	}
	if m.State() != DuplicateWarning {
		t.Fatalf("State() = %v, want duplicate_warning", m.State())
	}
	if store.calls() != 0 {
		t.Fatal("store was called before the duplicate was confirmed")
	}
	for _, s := range reached {
		if s == Submitting {
			t.Fatal("machine passed through Submitting on a duplicate")
		}
	}

	id, err := m.ForceSubmit(context.Background())
	if err != nil {
		t.Fatalf("ForceSubmit() error = %v", err)
	}
	if id != "new-id" || store.calls() != 1 {
		t.Errorf("ForceSubmit() id = %q, calls = %d", id, store.calls())
	}
}

func TestMachine_CancelDuplicateKeepsDraft(t *testing.T) {
	loaded := []domain.Record{{ID: "r1", TransactionID: "T123"}}
	m := newTestMachine(staticExtractor(extracted), &MockStore{}, loaded)

	m.Extract(context.Background(), []byte("img"), "")
	m.Confirm(context.Background())

	if err := m.Cancel(); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if m.State() != Idle {
		t.Errorf("State() = %v, want idle", m.State())
	}
	d, ok := m.Draft()
	if !ok || d.TransactionID != "T123" {
		t.Fatalf("draft lost after cancel: %+v %v", d, ok)
	}

	// user fixes the id and confirms again
	if err := m.UpdateDraft(func(d *domain.Draft) { d.TransactionID = "T124" }); err != nil {
		t.Fatalf("UpdateDraft() error = %v", err)
	}
	if err := m.RequestConfirmation(); err != nil {
		t.Fatalf("RequestConfirmation() error = %v", err)
	}
	if _, err := m.Confirm(context.Background()); err != nil {
		t.Errorf("Confirm() after fixing id error = %v", err)
	}
}

func TestMachine_ExtractionFailure(t *testing.T) {
	tests := []struct {
		name    string
		ex      *MockExtractor
		wantErr error
	}{
		{
			name: "gateway failure",
			ex: &MockExtractor{ExtractFunc: func(ctx context.Context, image []byte, mimeType string) (string, error) {
				return "", domain.ErrExtractionFailed
			}},
			wantErr: domain.ErrExtractionFailed,
		},
		{
			name:    "malformed output",
			ex:      staticExtractor("sorry, no JSON here"),
			wantErr: domain.ErrMalformedExtraction,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMachine(tt.ex, &MockStore{}, nil)
			m.BeginCapture()

			_, err := m.Extract(context.Background(), []byte("img"), "")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Extract() error = %v, want %v", err, tt.wantErr)
			}
			if m.State() != Idle {
				t.Errorf("State() = %v, want idle", m.State())
			}
			if _, ok := m.Draft(); ok {
				t.Error("draft should be discarded after a failed extraction")
			}
			if !errors.Is(m.Err(), tt.wantErr) {
				t.Errorf("Err() = %v", m.Err())
			}
		})
	}
}

func TestMachine_SecondExtractionIsBusy(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	ex := &MockExtractor{ExtractFunc: func(ctx context.Context, image []byte, mimeType string) (string, error) {
		close(started)
		<-release
		return extracted, nil
	}}
	m := newTestMachine(ex, &MockStore{}, nil)

	done := make(chan error, 1)
	go func() {
		_, err := m.Extract(context.Background(), []byte("img"), "")
		done <- err
	}()
	<-started

	if _, err := m.Extract(context.Background(), []byte("img"), ""); !errors.Is(err, ErrBusy) {
		t.Errorf("second Extract() error = %v, want ErrBusy", err)
	}
	if err := m.BeginCapture(); !errors.Is(err, ErrBusy) {
		t.Errorf("BeginCapture() while extracting error = %v, want ErrBusy", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first Extract() error = %v", err)
	}
	if m.State() != AwaitingConfirmation {
		t.Errorf("State() = %v", m.State())
	}
}

func TestMachine_SecondSubmitIsBusy(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	store := &MockStore{InsertFunc: func(ctx context.Context, d domain.Draft) (string, error) {
		close(started)
		<-release
		return "id-1", nil
	}}
	m := newTestMachine(staticExtractor(extracted), store, nil)
	m.Extract(context.Background(), []byte("img"), "")

	done := make(chan error, 1)
	go func() {
		_, err := m.Confirm(context.Background())
		done <- err
	}()
	<-started

	if m.State() != Submitting {
		t.Fatalf("State() = %v, want submitting", m.State())
	}
	if _, err := m.Confirm(context.Background()); !errors.Is(err, ErrBusy) {
		t.Errorf("second Confirm() error = %v, want ErrBusy", err)
	}
	if err := m.Cancel(); !errors.Is(err, ErrBusy) {
		t.Errorf("Cancel() while submitting error = %v, want ErrBusy", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first Confirm() error = %v", err)
	}
	if store.calls() != 1 {
		t.Errorf("store calls = %d, want 1", store.calls())
	}
}

func TestMachine_LateResultDiscarded(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	ex := &MockExtractor{ExtractFunc: func(ctx context.Context, image []byte, mimeType string) (string, error) {
		close(started)
		<-release
		return extracted, nil
	}}
	m := newTestMachine(ex, &MockStore{}, nil)
	m.BeginCapture()

	done := make(chan error, 1)
	go func() {
		_, err := m.Extract(context.Background(), []byte("img"), "")
		done <- err
	}()
	<-started

	if err := m.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if m.State() != Idle {
		t.Fatalf("State() after Close() = %v, want idle", m.State())
	}

	close(release)
	if err := <-done; !errors.Is(err, ErrDiscarded) {
		t.Errorf("Extract() error = %v, want ErrDiscarded", err)
	}
	if m.State() != Idle {
		t.Errorf("State() = %v, want idle", m.State())
	}
	if _, ok := m.Draft(); ok {
		t.Error("late result must not become the draft")
	}
}

func TestMachine_SubmitFailureKeepsDraft(t *testing.T) {
	storeErr := errors.New("store unavailable")
	store := &MockStore{InsertFunc: func(ctx context.Context, d domain.Draft) (string, error) {
		return "", storeErr
	}}
	m := newTestMachine(staticExtractor(extracted), store, nil)
	m.Extract(context.Background(), []byte("img"), "")

	if _, err := m.Confirm(context.Background()); !errors.Is(err, storeErr) {
		t.Fatalf("Confirm() error = %v", err)
	}
	if m.State() != Idle {
		t.Errorf("State() = %v, want idle", m.State())
	}
	d, ok := m.Draft()
	if !ok || d.TransactionID != "T123" {
		t.Errorf("draft not preserved: %+v %v", d, ok)
	}
	if !errors.Is(m.Err(), storeErr) {
		t.Errorf("Err() = %v", m.Err())
	}

	// retry succeeds
	store.InsertFunc = nil
	m.RequestConfirmation()
	if _, err := m.Confirm(context.Background()); err != nil {
		t.Errorf("retry Confirm() error = %v", err)
	}
}

func TestMachine_EditPatchesWithoutDuplicateCheck(t *testing.T) {
	rec := domain.Record{
		ID:            "r1",
		OwnerID:       "a",
		Amount:        decimal.NewFromInt(10),
		TransactionID: "T123",
		Method:        domain.MethodPaytm,
	}
	store := &MockStore{}
	m := newTestMachine(nil, store, []domain.Record{rec})

	if err := m.Edit(rec); err != nil {
		t.Fatalf("Edit() error = %v", err)
	}
	m.UpdateDraft(func(d *domain.Draft) { d.Amount = decimal.NewFromInt(20) })

	id, err := m.Confirm(context.Background())
	if err != nil {
		t.Fatalf("Confirm() error = %v", err)
	}
	if id != "r1" {
		t.Errorf("id = %q, want r1", id)
	}
	p, ok := store.patched["r1"]
	if !ok {
		t.Fatal("edit was not patched")
	}
	if !p.Amount.Equal(decimal.NewFromInt(20)) {
		t.Errorf("patched amount = %s", p.Amount)
	}
	if *p.Type != domain.Credit {
		t.Errorf("patched type = %q, want credit default", *p.Type)
	}
	if len(store.inserted) != 0 {
		t.Error("edit must not insert")
	}
}

func TestMachine_InvalidTransitions(t *testing.T) {
	m := newTestMachine(staticExtractor(extracted), &MockStore{}, nil)

	if _, err := m.Confirm(context.Background()); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Confirm() from idle error = %v", err)
	}
	if _, err := m.ForceSubmit(context.Background()); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("ForceSubmit() from idle error = %v", err)
	}
	if err := m.RequestConfirmation(); !errors.Is(err, ErrNoDraft) {
		t.Errorf("RequestConfirmation() without draft error = %v", err)
	}
	if err := m.UpdateDraft(func(*domain.Draft) {}); !errors.Is(err, ErrNoDraft) {
		t.Errorf("UpdateDraft() without draft error = %v", err)
	}

	m.Extract(context.Background(), []byte("img"), "")
	if err := m.BeginCapture(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("BeginCapture() while awaiting confirmation error = %v", err)
	}
	if err := m.Discard(); err != nil {
		t.Fatalf("Discard() error = %v", err)
	}
	if _, ok := m.Draft(); ok || m.State() != Idle {
		t.Error("Discard() should drop the draft and return to idle")
	}
}

func TestStateString(t *testing.T) {
	if DuplicateWarning.String() != "duplicate_warning" || State(42).String() != "unknown" {
		t.Error("unexpected State.String() output")
	}
}
