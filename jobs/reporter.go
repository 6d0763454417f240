package jobs

import (
	"go.uber.org/zap"
)

// ProgressReporter persists progress updates for a job as a handler works.
// Writes go through the queue so subscribers (e.g. WebSocket clients) see
// every update, and terminal-state guards still apply.
type ProgressReporter struct {
	job   *Job
	queue *Queue
	log   *zap.SugaredLogger
}

// NewProgressReporter creates a progress reporter for an in-flight job.
func NewProgressReporter(job *Job, queue *Queue, baseLogger *zap.SugaredLogger) *ProgressReporter {
	return &ProgressReporter{
		job:   job,
		queue: queue,
		log:   baseLogger.With("job_id", job.ID),
	}
}

// Report replaces the job's progress snapshot and persists it.
// Failures to persist are logged but never interrupt the analysis.
func (r *ProgressReporter) Report(p Progress) {
	r.job.UpdateProgress(p)

	if err := r.queue.UpdateJob(r.job); err != nil {
		r.log.Warnw("Failed to persist job progress",
			"current", p.Current,
			"total", p.Total,
			"error", err,
		)
	}
}

// ReportError records a non-fatal error encountered during a stage.
func (r *ProgressReporter) ReportError(stage string, err error) {
	r.log.Warnw("Analysis stage error",
		"stage", stage,
		"error", err,
	)
}
