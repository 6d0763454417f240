package jobs

import (
	"database/sql"
)

// JobScanArgs holds the nullable column targets needed for scanning a job
// from a database row.
type JobScanArgs struct {
	Payload     sql.NullString
	ErrorMsg    sql.NullString
	Result      sql.NullString
	StartedAt   sql.NullTime
	CompletedAt sql.NullTime
}

// GetJobScanArgs returns a JobScanArgs struct with all variables ready for scanning
func GetJobScanArgs() *JobScanArgs {
	return &JobScanArgs{}
}

// GetJobScanTargets returns scan targets for the job and scan args,
// in the order expected by the standard job SELECT query
func GetJobScanTargets(job *Job, args *JobScanArgs) []interface{} {
	return []interface{}{
		&job.ID,
		&job.HandlerName,
		&args.Payload,
		&job.Owner,
		&job.Status,
		&job.Progress.Current,
		&job.Progress.Total,
		&job.Progress.MatchedPairs,
		&job.Progress.ElapsedMS,
		&job.Progress.Message,
		&args.ErrorMsg,
		&args.Result,
		&job.CreatedAt,
		&args.StartedAt,
		&args.CompletedAt,
		&job.UpdatedAt,
	}
}

// ProcessJobScanArgs copies the scanned nullable values into the job struct
func ProcessJobScanArgs(job *Job, args *JobScanArgs) error {
	if args.Payload.Valid {
		job.Payload = []byte(args.Payload.String)
	}
	if args.ErrorMsg.Valid {
		job.Error = args.ErrorMsg.String
	}
	if args.Result.Valid {
		job.Result = []byte(args.Result.String)
	}
	if args.StartedAt.Valid {
		job.StartedAt = &args.StartedAt.Time
	}
	if args.CompletedAt.Valid {
		job.CompletedAt = &args.CompletedAt.Time
	}
	return nil
}

// ScanJobFromRow scans a single job from a sql.Row
func ScanJobFromRow(row *sql.Row, job *Job) error {
	args := GetJobScanArgs()
	targets := GetJobScanTargets(job, args)

	if err := row.Scan(targets...); err != nil {
		return err
	}

	return ProcessJobScanArgs(job, args)
}

// ScanJobFromRows scans a single job from sql.Rows (for use in loops)
func ScanJobFromRows(rows *sql.Rows, job *Job) error {
	args := GetJobScanArgs()
	targets := GetJobScanTargets(job, args)

	if err := rows.Scan(targets...); err != nil {
		return err
	}

	return ProcessJobScanArgs(job, args)
}

// StandardJobSelectColumns returns the standard column list for job SELECT queries
func StandardJobSelectColumns() string {
	return `id, handler_name, payload, owner, status,
		progress_current, progress_total,
		progress_matched_pairs, progress_elapsed_ms, progress_message,
		error, result,
		created_at, started_at, completed_at, updated_at`
}
