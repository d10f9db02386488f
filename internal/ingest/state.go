package ingest

import "errors"

// State is where an ingestion currently is.
type State int

const (
	Idle State = iota
	Capturing
	Extracting
	AwaitingConfirmation
	DuplicateWarning
	Submitting
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Capturing:
		return "capturing"
	case Extracting:
		return "extracting"
	case AwaitingConfirmation:
		return "awaiting_confirmation"
	case DuplicateWarning:
		return "duplicate_warning"
	case Submitting:
		return "submitting"
	default:
		return "unknown"
	}
}

// Transition is delivered to observers after every state change.
type Transition struct {
	From State
	To   State
	// Err is set when the transition was caused by a failure.
	Err error
}

var (
	// ErrBusy is returned when an extraction or submission is already in flight.
	ErrBusy = errors.New("another operation is in progress")

	// ErrInvalidTransition is returned for actions the current state does not offer.
	ErrInvalidTransition = errors.New("action not allowed in the current state")

	// ErrDuplicate is returned by Confirm when the draft reuses a loaded
	// transaction id. The machine is then in DuplicateWarning.
	ErrDuplicate = errors.New("a transaction with this id already exists")

	// ErrDiscarded is returned by Extract when the capture was closed before
	// the result arrived.
	ErrDiscarded = errors.New("extraction result discarded")

	// ErrNoDraft is returned when an action needs a draft and there is none.
	ErrNoDraft = errors.New("no draft")
)
