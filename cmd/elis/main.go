package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/researchintegrity/elis-backend/cmd/elis/commands"
	"github.com/researchintegrity/elis-backend/logger"
)

var rootCmd = &cobra.Command{
	Use:   "elis",
	Short: "ELIS - Research image provenance analysis backend",
	Long: `ELIS - Research image integrity backend.

ELIS runs provenance analyses over an indexed image corpus: similarity
retrieval plus geometric verification discover which images share content,
and the resulting graph is summarized into spanning forests and components.

Available commands:
  server  - Start the ELIS API server and analysis workers
  db      - Manage the ELIS database
  jobs    - Inspect and manage analysis jobs
  version - Show version information

Examples:
  elis server                 # Start the API server
  elis jobs ls                # List analysis jobs
  elis jobs cancel <job-id>   # Cancel a running analysis
  elis db stats               # Show database statistics`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.Initialize(jsonLogs); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit structured JSON logs instead of console output")

	rootCmd.AddCommand(commands.ServerCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.JobsCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	defer logger.Cleanup()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
