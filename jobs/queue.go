package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/researchintegrity/elis-backend/errors"
)

const (
	// MaxJobsLimit is the maximum number of jobs considered in counting queries
	MaxJobsLimit = 10000
	// SubscriberChannelBufferSize is the buffer size for subscriber channels
	SubscriberChannelBufferSize = 100
)

// Queue coordinates job state transitions and fans job updates out to
// subscribers. All transitions go through the queue so every change is
// persisted and broadcast exactly once.
type Queue struct {
	store       *Store
	mu          sync.RWMutex
	subscribers []chan *Job
	cancellers  map[string]context.CancelFunc // job ID -> cancel for in-flight execution
}

// NewQueue creates a new job queue
func NewQueue(db *sql.DB) *Queue {
	return &Queue{
		store:       NewStore(db),
		subscribers: make([]chan *Job, 0),
		cancellers:  make(map[string]context.CancelFunc),
	}
}

// Enqueue adds a new job to the queue
func (q *Queue) Enqueue(job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.store.CreateJob(job); err != nil {
		err = errors.Wrap(err, "failed to enqueue job")
		err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", job.ID))
		err = errors.WithDetail(err, fmt.Sprintf("Handler: %s", job.HandlerName))
		return err
	}

	q.notifySubscribers(job)

	return nil
}

// Dequeue gets the oldest pending job and marks it as processing
func (q *Queue) Dequeue() (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.store.NextPendingJob()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get pending jobs")
	}

	if job == nil {
		return nil, nil // No jobs available
	}

	job.Start()

	if err := q.store.UpdateJob(job); err != nil {
		err = errors.Wrap(err, "failed to mark job as processing")
		err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", job.ID))
		return nil, err
	}

	q.notifySubscribers(job)

	return job, nil
}

// GetJob retrieves a job by ID
func (q *Queue) GetJob(id string) (*Job, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return q.store.GetJob(id)
}

// UpdateJob updates a job's state.
// Terminal jobs are never overwritten: late progress writes from a handler
// that raced with cancellation are dropped silently.
func (q *Queue) UpdateJob(job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	current, err := q.store.GetJob(job.ID)
	if err == nil && current.Status.IsTerminal() && !job.Status.IsTerminal() {
		return nil
	}

	if err := q.store.UpdateJob(job); err != nil {
		err = errors.Wrap(err, "failed to update job")
		err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", job.ID))
		err = errors.WithDetail(err, fmt.Sprintf("Status: %s", job.Status))
		return err
	}

	q.notifySubscribers(job)

	return nil
}

// CompleteJob marks a job as completed with its result
func (q *Queue) CompleteJob(id string, result json.RawMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.store.GetJob(id)
	if err != nil {
		return errors.Wrapf(err, "failed to complete job %s", id)
	}

	if job.Status.IsTerminal() {
		// Job was cancelled while the handler was finishing; keep the
		// cancelled state, drop the late result.
		return nil
	}

	job.Complete(result)

	if err := q.store.UpdateJob(job); err != nil {
		return errors.Wrapf(err, "failed to mark job %s as completed", id)
	}

	q.notifySubscribers(job)

	return nil
}

// FailJob marks a job as failed with an error
func (q *Queue) FailJob(id string, jobErr error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.store.GetJob(id)
	if err != nil {
		return errors.Wrapf(err, "failed to mark job %s as failed", id)
	}

	if job.Status.IsTerminal() {
		return nil
	}

	job.Fail(jobErr)

	if err := q.store.UpdateJob(job); err != nil {
		err = errors.Wrap(err, "failed to mark job as failed")
		err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", job.ID))
		err = errors.WithDetail(err, fmt.Sprintf("Job error: %s", jobErr.Error()))
		return err
	}

	q.notifySubscribers(job)

	return nil
}

// CancelJob requests cancellation of a job.
//
// Pending jobs are cancelled immediately. Processing jobs have their
// execution context cancelled; the worker observes this at the next
// iteration boundary and records the cancelled state. Terminal jobs
// cannot be cancelled.
func (q *Queue) CancelJob(id string, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.store.GetJob(id)
	if err != nil {
		return errors.Wrapf(err, "failed to cancel job %s", id)
	}

	switch job.Status {
	case JobStatusPending:
		job.Cancel(reason)
		if err := q.store.UpdateJob(job); err != nil {
			return errors.Wrapf(err, "failed to cancel pending job %s", id)
		}
		q.notifySubscribers(job)
		return nil

	case JobStatusProcessing:
		if cancel, ok := q.cancellers[id]; ok {
			cancel()
			return nil
		}
		// No live execution (e.g. worker died): record the cancellation directly
		job.Cancel(reason)
		if err := q.store.UpdateJob(job); err != nil {
			return errors.Wrapf(err, "failed to cancel processing job %s", id)
		}
		q.notifySubscribers(job)
		return nil

	default:
		return errors.Wrapf(errors.ErrConflict, "job %s is already %s", id, job.Status)
	}
}

// RegisterCanceller associates a cancel function with an in-flight job.
// Called by the worker pool before handler execution.
func (q *Queue) RegisterCanceller(id string, cancel context.CancelFunc) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cancellers[id] = cancel
}

// UnregisterCanceller removes the cancel function for a job after execution
func (q *Queue) UnregisterCanceller(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.cancellers, id)
}

// DeleteJob removes a terminal job from the database.
// Active jobs must be cancelled first.
func (q *Queue) DeleteJob(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.store.GetJob(id)
	if err != nil {
		return err
	}

	if !job.Status.IsTerminal() {
		return errors.Wrapf(errors.ErrConflict, "job %s is %s, cancel it before deleting", id, job.Status)
	}

	return q.store.DeleteJob(id)
}

// ListJobs returns jobs for an owner, optionally filtered by status
func (q *Queue) ListJobs(status *JobStatus, owner string, limit int) ([]*Job, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return q.store.ListJobs(status, owner, limit)
}

// ListActiveJobs returns all active (pending, processing) jobs
func (q *Queue) ListActiveJobs(limit int) ([]*Job, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return q.store.ListActiveJobs(limit)
}

// Subscribe returns a channel that receives job updates.
// The caller is responsible for calling Unsubscribe when done.
// The returned channel is buffered to prevent blocking the notifier.
func (q *Queue) Subscribe() chan *Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	ch := make(chan *Job, SubscriberChannelBufferSize)
	q.subscribers = append(q.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscriber channel from the queue.
// The channel is NOT closed by this method - callers should close it
// themselves after unsubscribing if needed. This prevents double-close panics.
func (q *Queue) Unsubscribe(ch chan *Job) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, sub := range q.subscribers {
		if sub == ch {
			q.subscribers = append(q.subscribers[:i], q.subscribers[i+1:]...)
			return
		}
	}
}

// notifySubscribers sends job updates to all subscribers.
// REQUIRES: q.mu must be held by caller.
// Uses non-blocking send to avoid stalling if a subscriber is slow.
func (q *Queue) notifySubscribers(job *Job) {
	for _, ch := range q.subscribers {
		select {
		case ch <- job:
		default:
			// Channel full, skip
		}
	}
}

// Cleanup removes old terminal jobs
func (q *Queue) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.store.CleanupOldJobs(olderThan)
}

// QueueStats returns statistics about the queue
type QueueStats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
	Total      int `json:"total"`
}

// GetStats returns queue statistics
func (q *Queue) GetStats() (*QueueStats, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	stats := &QueueStats{}

	for _, status := range []JobStatus{JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed, JobStatusCancelled} {
		jobs, err := q.store.ListJobs(&status, "", MaxJobsLimit)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to count %s jobs", status)
		}

		count := len(jobs)
		switch status {
		case JobStatusPending:
			stats.Pending = count
		case JobStatusProcessing:
			stats.Processing = count
		case JobStatusCompleted:
			stats.Completed = count
		case JobStatusFailed:
			stats.Failed = count
		case JobStatusCancelled:
			stats.Cancelled = count
		}
		stats.Total += count
	}

	return stats, nil
}

// GetJobCounts returns quick counts of pending and processing jobs
func (q *Queue) GetJobCounts() (pending int, processing int, err error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	pendingStatus := JobStatusPending
	processingStatus := JobStatusProcessing

	pendingJobs, err := q.store.ListJobs(&pendingStatus, "", MaxJobsLimit)
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to count pending jobs")
	}

	processingJobs, err := q.store.ListJobs(&processingStatus, "", MaxJobsLimit)
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to count processing jobs")
	}

	return len(pendingJobs), len(processingJobs), nil
}
