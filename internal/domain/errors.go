package domain

import "errors"

var (
	// ErrUnauthenticated is returned when no verified caller identity is present.
	ErrUnauthenticated = errors.New("you must be logged in")

	// ErrForbidden is returned when the caller does not own the target record.
	ErrForbidden = errors.New("you do not have permission to modify this transaction")

	// ErrExtractionFailed is returned when the vision call did not complete.
	ErrExtractionFailed = errors.New("failed to extract payment details")

	// ErrMalformedExtraction is returned when the model answered with something
	// that is not a JSON object.
	ErrMalformedExtraction = errors.New("extraction returned malformed content")

	// ErrInvalidDraft is returned when a draft fails validation before persistence.
	ErrInvalidDraft = errors.New("invalid transaction")
)
