package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/recon/recon/internal/config"
	"github.com/recon/recon/internal/domain/ledger"
	"github.com/recon/recon/internal/domain/recon"
	"github.com/recon/recon/internal/platform/db"
	"github.com/recon/recon/internal/platform/middleware"
	"github.com/recon/recon/internal/platform/telemetry"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "recon-server",
		Short: "Claim reconciliation API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(recomputeCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the reconciliation API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.MigrationsDir
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.MigrationsDir
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func recomputeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recompute",
		Short: "Recompute derived rollups from the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			all, _ := cmd.Flags().GetBool("all")
			sinceStr, _ := cmd.Flags().GetString("since")
			claimStr, _ := cmd.Flags().GetString("claim")

			target, err := resolveRecomputeTarget(all, sinceStr, claimStr)
			if err != nil {
				return err
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger := newLogger(cfg)

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			ledgerSvc := ledger.NewService(
				ledger.NewClaimRepoPG(pool),
				ledger.NewActivityRepoPG(pool),
				ledger.NewRemittanceRepoPG(pool),
				ledger.NewResubmissionRepoPG(pool),
				logger,
			)
			reconSvc := recon.NewService(ledgerSvc, recon.NewSummaryRepoPG(pool), logger)
			reconSvc.SetBatchShards(cfg.RecomputeShards)

			switch {
			case target.claimID != nil:
				if err := reconSvc.RecomputeClaim(ctx, *target.claimID); err != nil {
					return err
				}
				fmt.Println("Recomputed 1 claim.")
			case target.since != nil:
				n, err := reconSvc.RecomputeSince(ctx, *target.since)
				if err != nil {
					return err
				}
				fmt.Printf("Recomputed %d claim(s) changed since %s.\n", n, target.since.Format(time.RFC3339))
			default:
				n, err := reconSvc.RecomputeAll(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("Recomputed %d claim(s).\n", n)
			}
			return nil
		},
	}
	cmd.Flags().Bool("all", false, "Recompute every claim")
	cmd.Flags().String("since", "", "Recompute claims with events since this RFC3339 timestamp")
	cmd.Flags().String("claim", "", "Recompute a single claim by internal id")
	return cmd
}

// recomputeTarget is the parsed form of the recompute command flags.
// Exactly one of claimID, since or all is set.
type recomputeTarget struct {
	claimID *uuid.UUID
	since   *time.Time
	all     bool
}

func resolveRecomputeTarget(all bool, sinceStr, claimStr string) (recomputeTarget, error) {
	set := 0
	if all {
		set++
	}
	if sinceStr != "" {
		set++
	}
	if claimStr != "" {
		set++
	}
	if set == 0 {
		return recomputeTarget{}, fmt.Errorf("one of --all, --since or --claim is required")
	}
	if set > 1 {
		return recomputeTarget{}, fmt.Errorf("--all, --since and --claim are mutually exclusive")
	}

	if claimStr != "" {
		id, err := uuid.Parse(claimStr)
		if err != nil {
			return recomputeTarget{}, fmt.Errorf("invalid claim id: %w", err)
		}
		return recomputeTarget{claimID: &id}, nil
	}
	if sinceStr != "" {
		since, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			return recomputeTarget{}, fmt.Errorf("invalid --since value (want RFC3339): %w", err)
		}
		return recomputeTarget{since: &since}, nil
	}
	return recomputeTarget{all: true}, nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func runServer() error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Telemetry
	tp := telemetry.NewTelemetryProvider(telemetry.TelemetryConfig{
		ServiceName:    "recon-server",
		ServiceVersion: "0.1.0",
		Environment:    cfg.Env,
	})
	defer tp.Shutdown(context.Background())

	// Domain services
	ledgerSvc := ledger.NewService(
		ledger.NewClaimRepoPG(pool),
		ledger.NewActivityRepoPG(pool),
		ledger.NewRemittanceRepoPG(pool),
		ledger.NewResubmissionRepoPG(pool),
		logger,
	)
	reconSvc := recon.NewService(ledgerSvc, recon.NewSummaryRepoPG(pool), logger)
	reconSvc.SetBatchShards(cfg.RecomputeShards)

	coordinator := recon.NewCoordinator(
		reconSvc.RecomputeClaim,
		ledgerSvc.OwnerOfActivity,
		cfg.RecomputeWorkers,
		logger,
	)
	coordinator.SetStats(tp.RecomputeMetrics())
	ledgerSvc.SetNotifier(coordinator)

	coorCtx, coorCancel := context.WithCancel(ctx)
	defer coorCancel()
	go coordinator.Run(coorCtx)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(tp.TracingMiddleware())
	e.Use(tp.MetricsMiddleware())
	e.Use(middleware.RequestTimeout(30 * time.Second))
	e.Use(middleware.BodyLimit("1M", "20M"))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// Health and metrics
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))
	e.GET("/metrics", tp.PrometheusHandler())

	// API routes
	api := e.Group("/api/v1")
	ledger.NewHandler(ledgerSvc).RegisterRoutes(api)
	recon.NewHandler(reconSvc, coordinator).RegisterRoutes(api)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}

	// Stop accepting recompute work and let in-flight recomputes finish.
	coorCancel()
	flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer flushCancel()
	_ = coordinator.Flush(flushCtx)

	logger.Info().Msg("server stopped")
	return nil
}
