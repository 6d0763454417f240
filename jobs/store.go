package jobs

import (
	"database/sql"
	"time"

	"github.com/researchintegrity/elis-backend/errors"
)

// Store handles persistence of analysis jobs
type Store struct {
	db *sql.DB
}

// NewStore creates a new job store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateJob inserts a new job into the database
func (s *Store) CreateJob(job *Job) error {
	query := `
		INSERT INTO analysis_jobs (
			id, handler_name, payload, owner, status,
			progress_current, progress_total,
			progress_matched_pairs, progress_elapsed_ms, progress_message,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	payload := string(job.Payload)
	if payload == "" {
		payload = "{}"
	}

	_, err := s.db.Exec(query,
		job.ID,
		job.HandlerName,
		payload,
		job.Owner,
		job.Status,
		job.Progress.Current,
		job.Progress.Total,
		job.Progress.MatchedPairs,
		job.Progress.ElapsedMS,
		job.Progress.Message,
		job.CreatedAt,
		job.UpdatedAt,
	)

	if err != nil {
		return errors.Wrap(err, "failed to create job")
	}

	return nil
}

// GetJob retrieves a job by ID
func (s *Store) GetJob(id string) (*Job, error) {
	query := `SELECT ` + StandardJobSelectColumns() + ` FROM analysis_jobs WHERE id = ?`

	var job Job
	err := ScanJobFromRow(s.db.QueryRow(query, id), &job)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("job not found: %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get job")
	}

	return &job, nil
}

// UpdateJob updates an existing job in the database
func (s *Store) UpdateJob(job *Job) error {
	query := `
		UPDATE analysis_jobs
		SET handler_name = ?,
		    payload = ?,
		    status = ?,
		    progress_current = ?,
		    progress_total = ?,
		    progress_matched_pairs = ?,
		    progress_elapsed_ms = ?,
		    progress_message = ?,
		    error = ?,
		    result = ?,
		    started_at = ?,
		    completed_at = ?,
		    updated_at = ?
		WHERE id = ?
	`

	payload := string(job.Payload)
	if payload == "" {
		payload = "{}"
	}
	result := sql.NullString{String: string(job.Result), Valid: len(job.Result) > 0}

	_, err := s.db.Exec(query,
		job.HandlerName,
		payload,
		job.Status,
		job.Progress.Current,
		job.Progress.Total,
		job.Progress.MatchedPairs,
		job.Progress.ElapsedMS,
		job.Progress.Message,
		job.Error,
		result,
		job.StartedAt,
		job.CompletedAt,
		job.UpdatedAt,
		job.ID,
	)

	if err != nil {
		return errors.Wrap(err, "failed to update job")
	}

	return nil
}

// ListJobs returns jobs for an owner, optionally filtered by status.
// An empty owner lists jobs across all owners (admin use).
func (s *Store) ListJobs(status *JobStatus, owner string, limit int) ([]*Job, error) {
	query := `SELECT ` + StandardJobSelectColumns() + ` FROM analysis_jobs`
	var conds []string
	var args []interface{}

	if status != nil {
		conds = append(conds, "status = ?")
		args = append(args, *status)
	}
	if owner != "" {
		conds = append(conds, "owner = ?")
		args = append(args, owner)
	}
	for i, cond := range conds {
		if i == 0 {
			query += " WHERE " + cond
		} else {
			query += " AND " + cond
		}
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs")
	}
	defer rows.Close()

	return scanJobs(rows, "jobs")
}

// NextPendingJob returns the oldest pending job, or nil if none are waiting
func (s *Store) NextPendingJob() (*Job, error) {
	query := `SELECT ` + StandardJobSelectColumns() + `
		FROM analysis_jobs
		WHERE status = 'pending'
		ORDER BY created_at ASC
		LIMIT 1`

	var job Job
	err := ScanJobFromRow(s.db.QueryRow(query), &job)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get next pending job")
	}

	return &job, nil
}

// ListActiveJobs returns all jobs that are currently pending or processing
func (s *Store) ListActiveJobs(limit int) ([]*Job, error) {
	query := `SELECT ` + StandardJobSelectColumns() + `
		FROM analysis_jobs
		WHERE status IN ('pending', 'processing')
		ORDER BY created_at DESC
		LIMIT ?`

	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list active jobs")
	}
	defer rows.Close()

	return scanJobs(rows, "active jobs")
}

// scanJobs is a helper that scans multiple jobs from query rows
func scanJobs(rows *sql.Rows, context string) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		var job Job
		if err := ScanJobFromRows(rows, &job); err != nil {
			return nil, errors.Wrap(err, "failed to scan job")
		}
		jobs = append(jobs, &job)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "error iterating %s", context)
	}

	return jobs, nil
}

// DeleteJob removes a job from the database
func (s *Store) DeleteJob(id string) error {
	result, err := s.db.Exec(`DELETE FROM analysis_jobs WHERE id = ?`, id)
	if err != nil {
		return errors.Wrap(err, "failed to delete job")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}

	if rows == 0 {
		return errors.NewNotFoundError("job not found: %s", id)
	}

	return nil
}

// CleanupOldJobs removes terminal jobs older than the specified duration
func (s *Store) CleanupOldJobs(olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)

	query := `
		DELETE FROM analysis_jobs
		WHERE status IN ('completed', 'failed', 'cancelled')
		  AND updated_at < ?
	`

	result, err := s.db.Exec(query, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "failed to cleanup old jobs")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}

	return int(rows), nil
}
