package commands

import (
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/researchintegrity/elis-backend/config"
	"github.com/researchintegrity/elis-backend/db"
	"github.com/researchintegrity/elis-backend/errors"
	"github.com/researchintegrity/elis-backend/logger"
)

// DbCmd represents the db (database) command
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the ELIS database",
	Long: `Manage ELIS database operations.

Examples:
  elis db migrate   # Apply pending schema migrations
  elis db stats     # Show database statistics`,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE:  runDbMigrate,
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show database statistics",
	Long:  "Display job counts by status, descriptor cache size, and corpus index size",
	RunE:  runDbStats,
}

func init() {
	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbStatsCmd)
}

func openDatabase() (*sql.DB, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to load configuration")
	}

	database, err := db.Open(cfg.GetDatabasePath(), logger.Logger)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to open database")
	}
	return database, cfg, nil
}

func runDbMigrate(cmd *cobra.Command, args []string) error {
	database, cfg, err := openDatabase()
	if err != nil {
		return err
	}
	defer database.Close()

	if err := db.Migrate(database, logger.Logger); err != nil {
		return errors.Wrap(err, "migration failed")
	}

	fmt.Printf("Database up to date: %s\n", cfg.GetDatabasePath())
	return nil
}

func runDbStats(cmd *cobra.Command, args []string) error {
	database, cfg, err := openDatabase()
	if err != nil {
		return err
	}
	defer database.Close()

	fmt.Println("ELIS Database Statistics")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("Database Path: %s\n\n", cfg.GetDatabasePath())

	rows, err := database.Query(`SELECT status, COUNT(*) FROM analysis_jobs GROUP BY status ORDER BY status`)
	if err != nil {
		return errors.Wrap(err, "failed to query job counts")
	}
	defer rows.Close()

	fmt.Println("Analysis jobs:")
	totalJobs := 0
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return errors.Wrap(err, "failed to scan job count")
		}
		fmt.Printf("  %-12s %d\n", status, count)
		totalJobs += count
	}
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, "failed to iterate job counts")
	}
	fmt.Printf("  %-12s %d\n\n", "total", totalJobs)

	var descriptors int
	var descriptorBytes sql.NullInt64
	err = database.QueryRow(`SELECT COUNT(*), SUM(LENGTH(data)) FROM descriptors`).
		Scan(&descriptors, &descriptorBytes)
	if err != nil {
		return errors.Wrap(err, "failed to query descriptor stats")
	}
	fmt.Printf("Cached descriptors: %d (%d bytes)\n", descriptors, descriptorBytes.Int64)

	var indexed int
	if err := database.QueryRow(`SELECT COUNT(*) FROM image_embeddings`).Scan(&indexed); err != nil {
		return errors.Wrap(err, "failed to query index size")
	}
	fmt.Printf("Indexed images:     %d\n", indexed)

	return nil
}
