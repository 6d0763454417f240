package jobs

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/researchintegrity/elis-backend/errors"
)

const (
	// MaxOrphanedJobsToFail limits how many orphaned jobs we'll mark failed
	// on startup to prevent unbounded scans after a crash
	MaxOrphanedJobsToFail = 1000
)

// WorkerPool manages a pool of workers that process analysis jobs
type WorkerPool struct {
	queue         *Queue
	db            *sql.DB
	poolConfig    WorkerPoolConfig
	workers       int
	parentCtx     context.Context // Parent context from which worker context is derived
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	executor      JobExecutor
	activeWorkers int // Workers currently executing jobs
	logger        *zap.SugaredLogger
	mu            sync.Mutex
}

// WorkerPoolConfig contains configuration for the worker pool
type WorkerPoolConfig struct {
	Workers           int           `json:"workers"`             // Number of concurrent workers
	PollInterval      time.Duration `json:"poll_interval"`       // How often to check for new jobs
	MemoryWarnPercent float64       `json:"memory_warn_percent"` // Warn at startup when memory use exceeds this
}

// DefaultWorkerPoolConfig returns sensible defaults
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		Workers:           1,
		PollInterval:      1 * time.Second,
		MemoryWarnPercent: 85.0,
	}
}

// NewWorkerPool creates a new worker pool with an empty handler registry.
// Callers must register handlers before calling Start().
func NewWorkerPool(db *sql.DB, poolCfg WorkerPoolConfig, logger *zap.SugaredLogger) *WorkerPool {
	return NewWorkerPoolWithContext(context.Background(), db, poolCfg, logger)
}

// NewWorkerPoolWithContext creates a worker pool with a custom parent context.
// Cancelling the parent context shuts the pool down: workers observe
// cancellation at iteration boundaries and exit cleanly.
func NewWorkerPoolWithContext(ctx context.Context, db *sql.DB, poolCfg WorkerPoolConfig, logger *zap.SugaredLogger) *WorkerPool {
	return NewWorkerPoolWithRegistry(ctx, db, poolCfg, logger, NewHandlerRegistry())
}

// NewWorkerPoolWithRegistry creates a worker pool with a custom handler registry.
func NewWorkerPoolWithRegistry(ctx context.Context, db *sql.DB, poolCfg WorkerPoolConfig, logger *zap.SugaredLogger, registry *HandlerRegistry) *WorkerPool {
	workerCtx, cancel := context.WithCancel(ctx)

	return &WorkerPool{
		queue:      NewQueue(db),
		db:         db,
		poolConfig: poolCfg,
		workers:    poolCfg.Workers,
		parentCtx:  ctx,
		ctx:        workerCtx,
		cancel:     cancel,
		executor:   NewRegistryExecutor(registry),
		logger:     logger.Named("jobs"),
	}
}

// Start begins processing jobs with the worker pool.
// Jobs orphaned in a processing state by a previous crash are failed first.
func (wp *WorkerPool) Start() {
	wp.mu.Lock()

	// Check if context was cancelled (after Stop()) - if so, create a new one.
	// This must happen BEFORE spawning workers to avoid races.
	select {
	case <-wp.ctx.Done():
		wp.ctx, wp.cancel = context.WithCancel(wp.parentCtx)
		wp.logger.Debugw("Recreated worker context after previous shutdown")
	default:
	}
	wp.mu.Unlock()

	if err := wp.failOrphanedJobs(); err != nil {
		wp.logger.Warnw("Failed to clean up orphaned jobs", "error", err)
		// Continue starting workers even if cleanup fails
	}

	if warning := wp.checkMemoryPressure(); warning != "" {
		wp.logger.Warnw("Memory pressure warning", "warning", warning, "workers", wp.workers)
	}

	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// failOrphanedJobs finds jobs stuck in a processing state from a previous
// crash and marks them failed. Analysis traversals hold all working state in
// memory, so an interrupted job cannot be resumed.
func (wp *WorkerPool) failOrphanedJobs() error {
	processingStatus := JobStatusProcessing
	orphanedJobs, err := wp.queue.ListJobs(&processingStatus, "", MaxOrphanedJobsToFail)
	if err != nil {
		return errors.Wrap(err, "failed to list processing jobs")
	}

	if len(orphanedJobs) == 0 {
		return nil
	}

	wp.logger.Warnw("Found orphaned jobs from previous shutdown", "count", len(orphanedJobs))

	for _, job := range orphanedJobs {
		if err := wp.queue.FailJob(job.ID, errors.New("analysis interrupted by service restart")); err != nil {
			wp.logger.Warnw("Failed to mark orphaned job as failed", "job_id", job.ID, "error", err)
			continue
		}
		wp.logger.Infow("Marked orphaned job as failed", "job_id", job.ID, "handler", job.HandlerName)
	}

	return nil
}

// Stop gracefully stops the worker pool.
// Workers observe cancellation at iteration boundaries and exit cleanly.
// Uses a 30-second timeout to avoid blocking shutdown indefinitely.
func (wp *WorkerPool) Stop() {
	wp.cancel()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	timeout := 30 * time.Second
	select {
	case <-done:
		wp.logger.Infow("Worker pool stopped - all workers exited cleanly")
	case <-time.After(timeout):
		wp.logger.Warnw("Worker pool stop timed out - workers may still be finishing", "timeout", timeout)
	}
}

// worker processes jobs from the queue
func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	interval := wp.poolConfig.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Error backoff state
	errorCount := 0
	const maxConsecutiveErrors = 5
	backoffDuration := time.Second
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-wp.ctx.Done():
			return
		case <-ticker.C:
			if err := wp.processNextJob(); err != nil {
				// Check if error is due to shutdown (context cancelled or database closed)
				select {
				case <-wp.ctx.Done():
					return
				default:
					if errors.Is(err, sql.ErrConnDone) {
						// Database closed during shutdown - exit silently
						return
					}
					errorCount++
					wp.logger.Errorw("Worker error processing job",
						"worker_id", id,
						"error", err,
						"consecutive_errors", errorCount)

					if errorCount >= maxConsecutiveErrors {
						wp.logger.Warnw("Worker backing off due to consecutive errors",
							"worker_id", id,
							"backoff", backoffDuration,
							"consecutive_errors", errorCount)
						time.Sleep(backoffDuration)
						backoffDuration = min(backoffDuration*2, maxBackoff)
					}
				}
			} else {
				if errorCount > 0 {
					wp.logger.Infow("Worker recovered from errors",
						"worker_id", id,
						"previous_error_count", errorCount)
				}
				errorCount = 0
				backoffDuration = time.Second
			}
		}
	}
}

// processNextJob gets the next job from the queue and processes it
func (wp *WorkerPool) processNextJob() error {
	select {
	case <-wp.ctx.Done():
		return nil // Graceful shutdown - don't process new jobs
	default:
	}

	job, err := wp.queue.Dequeue()
	if err != nil {
		return errors.Wrap(err, "failed to dequeue job")
	}

	if job == nil {
		// No jobs available
		return nil
	}

	wp.mu.Lock()
	wp.activeWorkers++
	wp.mu.Unlock()
	defer func() {
		wp.mu.Lock()
		wp.activeWorkers--
		wp.mu.Unlock()
	}()

	// Each job gets its own cancellable context so a single analysis can be
	// cancelled without stopping the pool.
	jobCtx, jobCancel := context.WithCancel(wp.ctx)
	wp.queue.RegisterCanceller(job.ID, jobCancel)
	defer func() {
		wp.queue.UnregisterCanceller(job.ID)
		jobCancel()
	}()

	if err := wp.executor.Execute(jobCtx, job); err != nil {
		select {
		case <-wp.ctx.Done():
			// Pool shutdown took the job down with it; the state is gone,
			// so the job fails rather than resuming later.
			wp.logger.Warnw("Job interrupted by shutdown", "job_id", job.ID)
			if failErr := wp.queue.FailJob(job.ID, errors.New("analysis interrupted by shutdown")); failErr != nil {
				wp.logger.Errorw("Failed to record interrupted job", "job_id", job.ID, "error", failErr)
			}
			return nil
		default:
		}

		if errors.IsCancelledError(err) || errors.Is(err, context.Canceled) {
			// Cancelled via CancelJob: keep accumulated progress, no result
			wp.logger.Infow("Job cancelled", "job_id", job.ID)
			job.Cancel("cancelled by user")
			return wp.queue.UpdateJob(job)
		}

		return wp.queue.FailJob(job.ID, err)
	}

	return wp.queue.CompleteJob(job.ID, job.Result)
}

// GetQueue returns the job queue (useful for enqueuing jobs)
func (wp *WorkerPool) GetQueue() *Queue {
	return wp.queue
}

// Workers returns the number of concurrent workers configured for this pool
func (wp *WorkerPool) Workers() int {
	return wp.workers
}

// Registry returns the handler registry for registering custom job handlers.
// Use this to register handlers before calling Start():
//
//	pool := jobs.NewWorkerPool(db, poolCfg, logger)
//	pool.Registry().Register(provenanceHandler)
//	pool.Start()
func (wp *WorkerPool) Registry() *HandlerRegistry {
	if registryExec, ok := wp.executor.(*RegistryExecutor); ok {
		return registryExec.registry
	}
	return nil
}
