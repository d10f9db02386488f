package inmemory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dvloznov/payscan/internal/jobs"
)

// DefaultBackoff is multiplied by the retry count before a failed job is
// queued again.
const DefaultBackoff = time.Second

// Queue is an in-memory implementation of job publisher and consumer.
// It uses Go channels for job distribution and is safe for concurrent use.
// It suits single-process imports; jobs do not survive a restart.
type Queue struct {
	jobChan   chan *jobs.ImportJob
	closeChan chan struct{}
	closeOnce sync.Once
	workers   int
	backoff   time.Duration

	// wg tracks worker goroutines, pending tracks published jobs that have
	// not reached a terminal status.
	wg      sync.WaitGroup
	pending sync.WaitGroup

	mu     sync.RWMutex
	store  jobs.JobStore
	closed bool
}

// NewQueue creates a new in-memory job queue.
// bufferSize determines how many jobs can be queued before Publish blocks and
// workers is the number of jobs handled concurrently. store may be nil.
func NewQueue(bufferSize, workers int, store jobs.JobStore) *Queue {
	if workers < 1 {
		workers = 1
	}
	return &Queue{
		jobChan:   make(chan *jobs.ImportJob, bufferSize),
		closeChan: make(chan struct{}),
		workers:   workers,
		backoff:   DefaultBackoff,
		store:     store,
	}
}

// SetBackoff changes the base retry delay. Call it before Start.
func (q *Queue) SetBackoff(d time.Duration) {
	q.backoff = d
}

// Publish enqueues a job for asynchronous processing. Wait must not run
// concurrently with Publish.
func (q *Queue) Publish(ctx context.Context, job *jobs.ImportJob) error {
	if job.JobID == "" {
		job.JobID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = jobs.JobStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	if job.MaxRetries == 0 {
		job.MaxRetries = jobs.DefaultMaxRetries
	}

	q.save(ctx, job)
	q.pending.Add(1)

	if err := q.enqueue(ctx, job); err != nil {
		q.finish(ctx, job, jobs.JobStatusFailed, err.Error())
		return fmt.Errorf("Publish: %w", err)
	}
	return nil
}

func (q *Queue) enqueue(ctx context.Context, job *jobs.ImportJob) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return jobs.ErrQueueClosed
	}

	select {
	case q.jobChan <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closeChan:
		return jobs.ErrQueueClosed
	}
}

// Start launches the workers. Each calls handler for one job at a time.
func (q *Queue) Start(ctx context.Context, handler jobs.JobHandler) error {
	q.mu.RLock()
	closed := q.closed
	q.mu.RUnlock()
	if closed {
		return fmt.Errorf("Start: %w", jobs.ErrQueueClosed)
	}

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, handler)
	}
	return nil
}

func (q *Queue) worker(ctx context.Context, handler jobs.JobHandler) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closeChan:
			return
		case job := <-q.jobChan:
			if job == nil {
				return
			}
			q.processJob(ctx, job, handler)
		}
	}
}

// processJob executes a single job with retry logic.
func (q *Queue) processJob(ctx context.Context, job *jobs.ImportJob, handler jobs.JobHandler) {
	job.Status = jobs.JobStatusRunning
	now := time.Now()
	job.StartedAt = &now
	q.save(ctx, job)

	err := handler(ctx, job)

	switch {
	case err == nil:
		q.finish(ctx, job, jobs.JobStatusCompleted, "")
	case errors.Is(err, jobs.ErrSkipped):
		q.finish(ctx, job, jobs.JobStatusSkipped, err.Error())
	case errors.Is(err, jobs.ErrPermanent), ctx.Err() != nil, job.RetryCount >= job.MaxRetries:
		q.finish(ctx, job, jobs.JobStatusFailed, err.Error())
	default:
		q.retry(ctx, job, err)
	}
}

func (q *Queue) retry(ctx context.Context, job *jobs.ImportJob, cause error) {
	job.RetryCount++
	job.Status = jobs.JobStatusRetrying
	job.Error = cause.Error()
	q.save(ctx, job)

	backoff := time.Duration(job.RetryCount) * q.backoff
	time.AfterFunc(backoff, func() {
		job.Status = jobs.JobStatusPending
		job.StartedAt = nil
		job.CompletedAt = nil
		q.save(ctx, job)
		if err := q.enqueue(ctx, job); err != nil {
			q.finish(ctx, job, jobs.JobStatusFailed, err.Error())
		}
	})
}

func (q *Queue) finish(ctx context.Context, job *jobs.ImportJob, status jobs.JobStatus, msg string) {
	job.Status = status
	job.Error = msg
	completedAt := time.Now()
	job.CompletedAt = &completedAt
	q.save(ctx, job)
	q.pending.Done()
}

func (q *Queue) save(ctx context.Context, job *jobs.ImportJob) {
	if q.store != nil {
		_ = q.store.SaveJob(ctx, job)
	}
}

// Wait blocks until every published job is completed, skipped or failed.
func (q *Queue) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		q.pending.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop stops the workers and waits for in-flight jobs. Jobs still queued are
// marked failed.
func (q *Queue) Stop(ctx context.Context) error {
	q.closeOnce.Do(func() { close(q.closeChan) })

	// Publishers blocked in enqueue return through closeChan, so the write
	// lock is always obtainable here.
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	for {
		select {
		case job := <-q.jobChan:
			q.finish(context.Background(), job, jobs.JobStatusFailed, jobs.ErrQueueClosed.Error())
		default:
			return nil
		}
	}
}

// Close stops the queue without a deadline.
func (q *Queue) Close() error {
	return q.Stop(context.Background())
}

var _ jobs.Publisher = (*Queue)(nil)
var _ jobs.Consumer = (*Queue)(nil)
