// Package jobs provides asynchronous job processing for provenance analyses.
package jobs

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/researchintegrity/elis-backend/errors"
)

// JobStatus represents the current state of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// IsValidStatus returns true if the status string is a valid JobStatus
func IsValidStatus(s string) bool {
	switch JobStatus(s) {
	case JobStatusPending, JobStatusProcessing,
		JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal returns true for statuses a job can never leave
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// Progress represents job progress information. All fields update while the
// job is processing so pollers see live counters, not just the terminal result.
type Progress struct {
	Current      int    `json:"current,omitempty"`       // Completed expansion iterations
	Total        int    `json:"total,omitempty"`         // Known total (grows as the frontier grows)
	MatchedPairs int    `json:"matched_pairs,omitempty"` // Verified pairs accepted so far
	ElapsedMS    int64  `json:"elapsed_ms,omitempty"`    // Wall time since the run started
	Message      string `json:"message,omitempty"`       // Human-readable phase description
}

// Percentage calculates progress as a percentage (0-100)
func (p Progress) Percentage() float64 {
	if p.Total == 0 {
		return 0
	}
	return float64(p.Current) / float64(p.Total) * 100
}

// Job represents an async analysis operation.
//
// The infrastructure is handler-based and domain-agnostic: HandlerName
// identifies which registered handler executes the job, and Payload carries
// handler-specific data. Result holds handler output for completed jobs.
type Job struct {
	ID          string          `json:"id"`
	HandlerName string          `json:"handler_name"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Owner       string          `json:"owner"` // Submitting user, scopes visibility
	Status      JobStatus       `json:"status"`
	Progress    Progress        `json:"progress,omitempty"`
	Error       string          `json:"error,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// NewJob creates a new pending job for the given handler and owner.
func NewJob(handlerName string, owner string, payload json.RawMessage) (*Job, error) {
	if handlerName == "" {
		return nil, errors.New("handlerName cannot be empty")
	}
	if owner == "" {
		owner = "system"
	}

	now := time.Now()
	return &Job{
		ID:          uuid.NewString(),
		HandlerName: handlerName,
		Payload:     payload,
		Owner:       owner,
		Status:      JobStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Start marks the job as processing
func (j *Job) Start() {
	now := time.Now()
	j.Status = JobStatusProcessing
	j.StartedAt = &now
	j.UpdatedAt = now
}

// Complete marks the job as completed with its result
func (j *Job) Complete(result json.RawMessage) {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.Result = result
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// Fail marks the job as failed with an error message
func (j *Job) Fail(err error) {
	now := time.Now()
	j.Status = JobStatusFailed
	j.Error = err.Error()
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// Cancel marks the job as cancelled with a reason.
// Progress counters accumulated so far are retained; any result is discarded.
func (j *Job) Cancel(reason string) {
	now := time.Now()
	j.Status = JobStatusCancelled
	j.Error = reason
	j.Result = nil
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// UpdateProgress replaces the job's progress snapshot
func (j *Job) UpdateProgress(p Progress) {
	j.Progress = p
	j.UpdatedAt = time.Now()
}
