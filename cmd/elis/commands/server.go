package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/researchintegrity/elis-backend/config"
	"github.com/researchintegrity/elis-backend/db"
	"github.com/researchintegrity/elis-backend/descriptor"
	"github.com/researchintegrity/elis-backend/errors"
	"github.com/researchintegrity/elis-backend/jobs"
	"github.com/researchintegrity/elis-backend/logger"
	"github.com/researchintegrity/elis-backend/provenance"
	"github.com/researchintegrity/elis-backend/retrieval"
	"github.com/researchintegrity/elis-backend/server"
	"github.com/researchintegrity/elis-backend/verify"
)

// ServerCmd starts the ELIS API server and worker pool
var ServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the ELIS API server and analysis workers",
	Long: `Start the ELIS backend: the HTTP API, the WebSocket job stream,
and the background worker pool that executes provenance analyses.

The server reads its configuration from elis.toml (project directory),
~/.elis/config.toml (user), /etc/elis/config.toml (system), and ELIS_*
environment variables, highest precedence last.

Examples:
  elis server                  # Start with configured port
  elis server --port 9000      # Override the listen port
  elis server --workers 4      # Run four concurrent analysis workers`,
	RunE: runServer,
}

var (
	serverPortFlag    int
	serverWorkersFlag int
)

func init() {
	ServerCmd.Flags().IntVar(&serverPortFlag, "port", 0, "Listen port (overrides configuration)")
	ServerCmd.Flags().IntVar(&serverWorkersFlag, "workers", 0, "Concurrent analysis workers (overrides configuration)")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}
	if serverPortFlag > 0 {
		cfg.Server.Port = &serverPortFlag
	}
	if serverWorkersFlag > 0 {
		cfg.Worker.Workers = serverWorkersFlag
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	database, err := db.OpenWithMigrations(cfg.GetDatabasePath(), logger.Logger)
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer database.Close()

	log := logger.Logger

	// collaborators
	computer := descriptor.NewHTTPComputer(
		cfg.Collaborators.Descriptor.BaseURL,
		time.Duration(cfg.Collaborators.Descriptor.TimeoutSeconds)*time.Second,
		log,
	)
	matcher := verify.NewHTTPMatcher(cfg.Collaborators.Matcher, log)

	cache := descriptor.NewCache(descriptor.NewStore(database), computer, log)
	index := retrieval.NewVecIndex(database, log)

	// worker pool with the analysis handler
	poolCfg := jobs.WorkerPoolConfig{
		Workers:           cfg.Worker.Workers,
		PollInterval:      time.Duration(cfg.Worker.TickerIntervalSeconds) * time.Second,
		MemoryWarnPercent: cfg.Worker.MemoryWarnPercent,
	}
	pool := jobs.NewWorkerPool(database, poolCfg, log)
	pool.Registry().Register(provenance.NewAnalyzeHandler(
		index,
		matcher,
		cache,
		index,
		pool.GetQueue(),
		cfg.Provenance.FailureStreakThreshold,
		log,
	))
	pool.Start()
	defer pool.Stop()

	srv := server.NewServer(cfg, database, pool.GetQueue(), cache, index, computer, matcher, log)

	printStartupBanner(cfg)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		return err
	case <-sigChan:
		pterm.Info.Println("\nShutting down gracefully (press Ctrl+C again to force)...")

		shutdownDone := make(chan error, 1)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			shutdownDone <- srv.Shutdown(ctx)
		}()

		select {
		case err := <-shutdownDone:
			if err != nil {
				pterm.Warning.Printf("Shutdown error: %v\n", err)
				return err
			}
			pterm.Success.Println("Server stopped cleanly")
			return nil
		case <-sigChan:
			pterm.Warning.Println("\nForce shutdown - exiting immediately")
			os.Exit(1)
			return nil // unreachable
		}
	}
}

// printStartupBanner prints the startup summary before serving
func printStartupBanner(cfg *config.Config) {
	pterm.DefaultBox.WithTitle("ELIS").Println(fmt.Sprintf(
		"Port:       %d\nDatabase:   %s\nWorkers:    %d\nDescriptor: %s\nMatcher:    %s",
		cfg.GetServerPort(),
		cfg.GetDatabasePath(),
		cfg.Worker.Workers,
		cfg.Collaborators.Descriptor.BaseURL,
		cfg.Collaborators.Matcher.BaseURL,
	))
	pterm.Info.Println("Press Ctrl+C to stop")
}
