package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/procurepro/procurepro/cmd/procurepro/cli"
	"github.com/procurepro/procurepro/internal/app"
	"github.com/procurepro/procurepro/internal/notifications"
	"github.com/procurepro/procurepro/internal/observability"
	"github.com/procurepro/procurepro/internal/platform/cache"
	"github.com/procurepro/procurepro/internal/platform/db"
	"github.com/procurepro/procurepro/internal/platform/migrations"
	"github.com/procurepro/procurepro/internal/procurement"
	"github.com/procurepro/procurepro/internal/rbac"
	"github.com/procurepro/procurepro/internal/shared"
	"github.com/procurepro/procurepro/internal/users"
	"github.com/procurepro/procurepro/internal/vendors"
	"github.com/procurepro/procurepro/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Default().Warn("load .env", slog.Any("error", err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	if len(os.Args) > 1 && os.Args[1] == "jobs" {
		if err := runJobs(ctx, cfg, os.Args[2:]); err != nil {
			logger.Error("jobs command", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	dbpool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	if cfg.MigrationsAuto {
		if err := migrations.Up(ctx, dbpool); err != nil {
			logger.Error("apply migrations", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("migrations applied")
	}

	// Redis is optional for the API: without it identities are read uncached.
	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	if err != nil {
		logger.Warn("redis unavailable, identity cache disabled", slog.Any("error", err))
		redisClient = nil
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	directory := users.NewDirectory(users.NewRepository(dbpool), redisClient, cfg.IdentityCacheTTL, logger)
	rbacMiddleware := rbac.Middleware{Users: directory, Logger: logger}

	vendorService := vendors.NewService(vendors.NewRepository(dbpool), vendors.WithUserCache(directory))
	vendorHandler := vendors.NewHandler(logger, vendorService, rbacMiddleware)

	dispatcher := notifications.NewDispatcher(jobClient, metrics, logger)
	procurementService := procurement.NewService(
		procurement.NewRepository(dbpool),
		directory,
		vendorService,
		dispatcher,
		logger,
		procurement.WithAudit(shared.NewAuditLogger(dbpool)),
		procurement.WithApprovalHistory(shared.NewApprovalRecorder(dbpool, logger)),
		procurement.WithMetrics(metrics),
	)
	procurementHandler := procurement.NewHandler(logger, procurementService, rbacMiddleware)

	notificationHandler := notifications.NewHandler(logger, notifications.NewStore(dbpool))

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:              logger,
		Config:              cfg,
		DB:                  dbpool,
		RBACMiddleware:      rbacMiddleware,
		ProcurementHandler:  procurementHandler,
		VendorsHandler:      vendorHandler,
		NotificationHandler: notificationHandler,
		JobHandler:          jobHandler,
		Metrics:             metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

// runJobs handles "procurepro jobs <trigger NAME|stats>".
func runJobs(ctx context.Context, cfg *app.Config, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: procurepro jobs <trigger NAME|stats>")
	}
	jobsCLI, err := cli.NewJobsCLI(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}, cfg.IdempotencyKeepFor)
	if err != nil {
		return err
	}
	defer jobsCLI.Close()

	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			return errors.New("usage: procurepro jobs trigger NAME")
		}
		info, err := jobsCLI.Trigger(ctx, args[1])
		if err != nil {
			return err
		}
		fmt.Printf("enqueued %s as %s on %s\n", info.Type, info.ID, info.Queue)
	case "stats":
		stats, err := jobsCLI.InspectQueues()
		if err != nil {
			return err
		}
		for _, s := range stats {
			fmt.Printf("%-14s pending=%d active=%d scheduled=%d retry=%d\n", s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry)
		}
	default:
		return fmt.Errorf("unknown jobs command %q", args[0])
	}
	return nil
}
