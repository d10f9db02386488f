// Package jobs describes background screenshot imports and the queue
// abstractions they run on.
package jobs

import (
	"context"
	"errors"
	"time"
)

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting to be processed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates the job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the job completed successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusSkipped indicates the handler chose not to store anything.
	JobStatusSkipped JobStatus = "skipped"
	// JobStatusFailed indicates the job failed.
	JobStatusFailed JobStatus = "failed"
	// JobStatusRetrying indicates the job failed and is being retried.
	JobStatusRetrying JobStatus = "retrying"
)

// Terminal reports whether no further work will happen for the job.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusSkipped || s == JobStatusFailed
}

var (
	// ErrPermanent marks a handler failure that a retry cannot fix.
	ErrPermanent = errors.New("permanent failure")
	// ErrSkipped is returned by a handler that deliberately did nothing.
	ErrSkipped = errors.New("skipped")
	// ErrQueueClosed is returned when publishing to a stopped queue.
	ErrQueueClosed = errors.New("queue is closed")
)

// DefaultMaxRetries applies when a job is published without MaxRetries.
const DefaultMaxRetries = 3

// ImportJob imports a single screenshot for one user.
type ImportJob struct {
	// JobID is the unique identifier for this job.
	JobID string `json:"job_id"`

	// OwnerID is the subject the imported record belongs to.
	OwnerID string `json:"owner_id"`

	// Path is the local path of the screenshot.
	Path string `json:"path"`

	// MimeType is detected from the file contents when empty.
	MimeType string `json:"mime_type,omitempty"`

	// RecordID is set once the record has been stored.
	RecordID string `json:"record_id,omitempty"`

	// ArchiveURI is the gs:// copy of the screenshot, when archiving is on.
	ArchiveURI string `json:"archive_uri,omitempty"`

	// Status is the current status of the job.
	Status JobStatus `json:"status"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error contains error details if the job failed or was skipped.
	Error string `json:"error,omitempty"`

	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`
}

// Publisher defines the interface for publishing jobs to a queue.
type Publisher interface {
	Publish(ctx context.Context, job *ImportJob) error
	Close() error
}

// Consumer defines the interface for consuming jobs from a queue.
type Consumer interface {
	// Start begins consuming jobs from the queue.
	// The handler function is called for each job received.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler processes a job. A nil error completes it, ErrSkipped or
// ErrPermanent end it without a retry, and anything else is retried.
type JobHandler func(ctx context.Context, job *ImportJob) error

// JobStore keeps job state so progress can be reported.
type JobStore interface {
	SaveJob(ctx context.Context, job *ImportJob) error
	GetJob(ctx context.Context, jobID string) (*ImportJob, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*ImportJob, error)
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errorMsg string) error
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	OwnerID string
	Status  JobStatus

	// Limit limits the number of results.
	Limit int

	// Offset for pagination.
	Offset int
}

// Tally counts jobs per status.
func Tally(list []*ImportJob) map[JobStatus]int {
	counts := make(map[JobStatus]int)
	for _, j := range list {
		counts[j.Status]++
	}
	return counts
}
