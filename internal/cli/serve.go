package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/cadenza-io/cadenza/internal/alerts"
	"github.com/cadenza-io/cadenza/internal/config"
	"github.com/cadenza-io/cadenza/internal/database"
	"github.com/cadenza-io/cadenza/internal/jobs"
	"github.com/cadenza-io/cadenza/internal/schedule"
	"github.com/cadenza-io/cadenza/internal/server"
	"github.com/cadenza-io/cadenza/internal/worker"
)

var (
	servePort     int
	serveHost     string
	serveNoWorker bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the scheduler",
	Long: `Start the Cadenza scheduler.

This will:
  - Open the SQLite database and apply pending migrations
  - Start the polling worker that claims and executes due jobs
  - Start the HTTP API server

Use --no-worker to serve the API without executing jobs; due
occurrences are then driven externally via POST /api/scheduler/process-due.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8090, "Port to listen on")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to bind to")
	serveCmd.Flags().BoolVar(&serveNoWorker, "no-worker", false, "Disable the in-process worker loop")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(config.LoadOptions{ConfigFile: cfgFile})
	if err != nil {
		log.Warn().Err(err).Msg("No config file found, using defaults")
		cfg = config.Default()
	}

	if cmd.Flags().Changed("port") {
		cfg.Server.Port = servePort
	}
	if cmd.Flags().Changed("host") {
		cfg.Server.Host = serveHost
	}
	if serveNoWorker {
		cfg.Scheduler.Enabled = false
	}

	db, err := database.Open(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer db.Close()

	store := jobs.NewStore(db)
	resolver := schedule.NewResolver()
	notifier := alerts.FromConfig(&cfg.Alerts)
	handler := jobs.NewHTTPWorkHandler(30 * time.Second)
	executor := jobs.NewExecutor(db, store, resolver, notifier, handler)
	service := jobs.NewService(db, store, resolver, executor)
	claimer := jobs.NewClaimer(db, store, resolver)
	processor := jobs.NewProcessor(store, claimer, executor)

	srv := server.New(cfg, db, service, processor)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var w *worker.Worker
	if cfg.Scheduler.Enabled {
		w = worker.New(processor, db, &cfg.Scheduler)
		w.Start()
	} else {
		log.Info().Msg("Worker loop disabled, due jobs will not execute in this process")
	}

	go func() {
		<-sigChan
		log.Info().Msg("Shutdown signal received")
		if w != nil {
			w.Stop()
		}
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().
		Str("addr", cfg.Server.Address()).
		Bool("worker", cfg.Scheduler.Enabled).
		Msg("Cadenza is running")

	if err := srv.Start(ctx); err != nil {
		log.Error().Err(err).Msg("Server error")
		return err
	}

	return nil
}
