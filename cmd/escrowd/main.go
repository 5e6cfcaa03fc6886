/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the CleanSlate escrow settlement engine.
  Handles configuration, dependency injection, and graceful shutdown.

COMMANDS:
  escrowd serve              Run the HTTP server with background sweeps
  escrowd sweep settlement   Run the auto-settlement pass once and exit
  escrowd sweep expiry       Run the expiry/no-show pass once and exit
  escrowd sweep recurring    Generate due recurring bookings once and exit

CONFIGURATION:
  All knobs come from environment variables (see config package):
  SERVER_PORT, DATABASE_PATH, GRACE_CANCELLATIONS,
  SETTLEMENT_DELAY_HOURS, UNCONFIRMED_EXPIRY_HOURS,
  NO_SHOW_COMPENSATION, RECURRING_LOOKAHEAD_DAYS, and the poll intervals.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the sweep scheduler and wait for in-flight passes
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  DATABASE_PATH=./data/escrow.db escrowd serve

  # Run with in-memory database
  DATABASE_PATH=":memory:" escrowd serve

  # One-shot sweep (cron-friendly)
  escrowd sweep settlement

SEE ALSO:
  - api/server.go: Router configuration
  - api/scheduler.go: Background sweep loops
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cleanslate/escrow-engine/api"
	"github.com/cleanslate/escrow-engine/config"
	"github.com/cleanslate/escrow-engine/engine"
	"github.com/cleanslate/escrow-engine/escrow"
	"github.com/cleanslate/escrow-engine/store/sqlite"
	"github.com/cleanslate/escrow-engine/sweep"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "escrowd",
	Short: "Credit ledger and escrow settlement engine",
	Long: `escrowd runs the booking escrow engine: an append-only credit ledger,
a booking state machine with atomic money effects, and the background
sweeps that settle, expire, and generate bookings.`,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sweepCmd)
	sweepCmd.AddCommand(sweepSettlementCmd, sweepExpiryCmd, sweepRecurringCmd)
}

// ─── serve ──────────────────────────────────────────────────────────────────

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server with background sweeps",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	store, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	svc, settlement, expiry, recurring := buildServices(store, cfg)

	scheduler := api.NewSweepScheduler(settlement, expiry, recurring)
	scheduler.SettlementInterval = cfg.SettlementPoll()
	scheduler.ExpiryInterval = cfg.NoShowPoll()
	scheduler.RecurringInterval = cfg.DailySweep()
	scheduler.Start()
	defer scheduler.Stop()

	handler := api.NewHandler(svc, settlement, expiry, recurring)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on http://localhost:%d", cfg.ServerPort)
		log.Printf("API available at http://localhost:%d/api", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Println("Server stopped")
	return nil
}

// ─── sweep ──────────────────────────────────────────────────────────────────

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run a background pass once and exit (cron-friendly)",
}

var sweepSettlementCmd = &cobra.Command{
	Use:   "settlement",
	Short: "Auto-capture unreviewed completed bookings past the review window",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(store *sqlite.Store, cfg *config.Config) error {
			_, settlement, _, _ := buildServices(store, cfg)
			report, err := settlement.Run(cmd.Context())
			if err != nil {
				return err
			}
			log.Printf("Settlement sweep: examined=%d captured=%d skipped=%d failed=%d",
				report.Examined, report.Captured, report.Skipped, report.Failed)
			return nil
		})
	},
}

var sweepExpiryCmd = &cobra.Command{
	Use:   "expiry",
	Short: "Expire unconfirmed bookings and resolve no-shows",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(store *sqlite.Store, cfg *config.Config) error {
			_, _, expiry, _ := buildServices(store, cfg)
			report, err := expiry.Run(cmd.Context())
			if err != nil {
				return err
			}
			log.Printf("Expiry sweep: expired=%d no_shows=%d failed=%d",
				report.Expired, report.NoShows, report.Failed)
			return nil
		})
	},
}

var sweepRecurringCmd = &cobra.Command{
	Use:   "recurring",
	Short: "Materialize due bookings from recurring templates",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(store *sqlite.Store, cfg *config.Config) error {
			_, _, _, recurring := buildServices(store, cfg)
			generated, err := recurring.GenerateDueBookings(cmd.Context())
			if err != nil {
				return err
			}
			log.Printf("Recurring sweep: generated=%d bookings", len(generated))
			return nil
		})
	},
}

// ─── wiring ─────────────────────────────────────────────────────────────────

func withStore(fn func(*sqlite.Store, *config.Config) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	store, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()
	return fn(store, cfg)
}

func buildServices(store *sqlite.Store, cfg *config.Config) (*escrow.Service, *sweep.SettlementTimer, *sweep.ExpirySweep, *sweep.RecurringGenerator) {
	clock := engine.SystemClock{}
	notifier := escrow.LogNotifier{}

	svc := escrow.NewService(store, clock, notifier)
	svc.GraceDefault = cfg.GraceCancellations

	settlement := sweep.NewSettlementTimer(store, clock, notifier)
	settlement.Delay = cfg.SettlementDelay()

	expiry := sweep.NewExpirySweep(store, clock, notifier)
	expiry.UnconfirmedMaxAge = cfg.UnconfirmedExpiry()
	expiry.NoShowCompensation = cfg.NoShowCompensation

	recurring := sweep.NewRecurringGenerator(store, clock)
	recurring.Lookahead = cfg.RecurringLookahead()

	return svc, settlement, expiry, recurring
}
