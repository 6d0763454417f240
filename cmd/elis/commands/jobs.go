package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/researchintegrity/elis-backend/errors"
	"github.com/researchintegrity/elis-backend/jobs"
)

// JobsCmd represents the jobs command
var JobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and manage analysis jobs",
	Long: `Inspect and manage provenance analysis jobs.

Status filters:
  pending    - Jobs waiting for a worker
  processing - Jobs currently being analyzed
  completed  - Successfully completed jobs
  failed     - Jobs that failed with errors
  cancelled  - Jobs cancelled by the user

Examples:
  elis jobs ls                      # List all jobs
  elis jobs ls --status processing  # List only running jobs
  elis jobs show <job-id>           # Show full job detail
  elis jobs cancel <job-id>         # Request cooperative cancellation
  elis jobs cleanup --days 30       # Delete old terminal jobs`,
}

var jobsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List analysis jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		statusFilter, _ := cmd.Flags().GetString("status")
		owner, _ := cmd.Flags().GetString("owner")
		limit, _ := cmd.Flags().GetInt("limit")
		return runJobsLs(statusFilter, owner, limit)
	},
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show detailed status of an analysis job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJobsShow(args[0])
	},
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a pending or running analysis job",
	Long: `Request cooperative cancellation. Running analyses observe the
request at the next traversal iteration boundary; progress counters are
preserved but no result is stored.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJobsCancel(args[0])
	},
}

var jobsCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete terminal jobs older than the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("days")
		return runJobsCleanup(days)
	},
}

func init() {
	jobsLsCmd.Flags().String("status", "", "Filter by status (pending, processing, completed, failed, cancelled)")
	jobsLsCmd.Flags().String("owner", "", "Filter by owner")
	jobsLsCmd.Flags().Int("limit", 20, "Maximum number of jobs to display")
	jobsCleanupCmd.Flags().Int("days", 30, "Delete terminal jobs older than this many days")

	JobsCmd.AddCommand(jobsLsCmd)
	JobsCmd.AddCommand(jobsShowCmd)
	JobsCmd.AddCommand(jobsCancelCmd)
	JobsCmd.AddCommand(jobsCleanupCmd)
}

func openQueue() (*jobs.Queue, func(), error) {
	database, _, err := openDatabase()
	if err != nil {
		return nil, nil, err
	}
	return jobs.NewQueue(database), func() { database.Close() }, nil
}

func runJobsLs(statusFilter, owner string, limit int) error {
	queue, closeDB, err := openQueue()
	if err != nil {
		return err
	}
	defer closeDB()

	var status *jobs.JobStatus
	if statusFilter != "" {
		s := jobs.JobStatus(statusFilter)
		status = &s
	}

	list, err := queue.ListJobs(status, owner, limit)
	if err != nil {
		return errors.Wrap(err, "failed to list jobs")
	}

	if len(list) == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	fmt.Printf("%-38s %-12s %-12s %-15s %s\n", "JOB ID", "STATUS", "OWNER", "PROGRESS", "CREATED")
	fmt.Printf("%-38s %-12s %-12s %-15s %s\n", "------", "------", "-----", "--------", "-------")
	for _, job := range list {
		progress := fmt.Sprintf("%d/%d (%.0f%%)",
			job.Progress.Current, job.Progress.Total, job.Progress.Percentage())

		fmt.Printf("%-38s %-12s %-12s %-15s %s\n",
			job.ID,
			job.Status,
			truncate(job.Owner, 12),
			progress,
			job.CreatedAt.Format("2006-01-02 15:04"))
	}

	fmt.Printf("\nTotal: %d job(s)\n", len(list))
	return nil
}

func runJobsShow(jobID string) error {
	queue, closeDB, err := openQueue()
	if err != nil {
		return err
	}
	defer closeDB()

	job, err := queue.GetJob(jobID)
	if err != nil {
		return errors.Wrap(err, "failed to get job")
	}

	fmt.Printf("Job ID:   %s\n", job.ID)
	fmt.Printf("Handler:  %s\n", job.HandlerName)
	fmt.Printf("Owner:    %s\n", job.Owner)
	fmt.Printf("Status:   %s\n", job.Status)
	fmt.Printf("Progress: %d/%d", job.Progress.Current, job.Progress.Total)
	if job.Progress.Message != "" {
		fmt.Printf(" (%s)", job.Progress.Message)
	}
	fmt.Println()
	if job.Progress.MatchedPairs > 0 || job.Progress.ElapsedMS > 0 {
		fmt.Printf("Matched:  %d pair(s) in %s\n",
			job.Progress.MatchedPairs, (time.Duration(job.Progress.ElapsedMS) * time.Millisecond).Round(time.Millisecond))
	}
	if job.Error != "" {
		fmt.Printf("Error:    %s\n", job.Error)
	}
	fmt.Printf("Created:  %s\n", job.CreatedAt.Format(time.RFC3339))
	if job.StartedAt != nil {
		fmt.Printf("Started:  %s\n", job.StartedAt.Format(time.RFC3339))
	}
	if job.CompletedAt != nil {
		fmt.Printf("Finished: %s\n", job.CompletedAt.Format(time.RFC3339))
	}

	if len(job.Result) > 0 {
		pretty, err := json.MarshalIndent(json.RawMessage(job.Result), "", "  ")
		if err == nil {
			fmt.Printf("\nResult:\n%s\n", pretty)
		}
	}

	return nil
}

func runJobsCancel(jobID string) error {
	queue, closeDB, err := openQueue()
	if err != nil {
		return err
	}
	defer closeDB()

	if err := queue.CancelJob(jobID, "cancelled from CLI"); err != nil {
		return errors.Wrap(err, "failed to cancel job")
	}

	fmt.Printf("Cancellation requested for %s\n", jobID)
	return nil
}

func runJobsCleanup(days int) error {
	if days <= 0 {
		return errors.NewInvalidConfigError("days must be > 0, got %d", days)
	}

	queue, closeDB, err := openQueue()
	if err != nil {
		return err
	}
	defer closeDB()

	removed, err := queue.Cleanup(context.Background(), time.Duration(days)*24*time.Hour)
	if err != nil {
		return errors.Wrap(err, "cleanup failed")
	}

	fmt.Printf("Removed %d terminal job(s) older than %d day(s)\n", removed, days)
	return nil
}

// truncate shortens a string for table display
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
