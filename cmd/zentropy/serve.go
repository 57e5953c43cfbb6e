package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	zentropy "github.com/ApexAZ/zentropy-sub008"
	fiberadapter "github.com/ApexAZ/zentropy-sub008/adapters/fiber"
	pgxadapter "github.com/ApexAZ/zentropy-sub008/adapters/pgx"
	"github.com/ApexAZ/zentropy-sub008/internal/config"
	"github.com/ApexAZ/zentropy-sub008/internal/logging"
)

const shutdownTimeout = 10 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the auth HTTP server",
		Long: `Start the HTTP server exposing the auth API under /api/auth,
Prometheus metrics under /metrics, and the background session reaper.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load(cmd)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, newLogger(cmd, cfg))
		},
	}
}

func newLogger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	logger := logging.Setup("zentropy", version, cfg.LogFormat, logging.ParseLevel(cfg.LogLevel), cmd.ErrOrStderr())
	slog.SetDefault(logger)
	return logger
}

func runServe(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.InfoContext(ctx, "starting auth server",
		"listen_addr", cfg.ListenAddr,
		"ratelimit_backend", cfg.RateLimit.Backend,
	)

	pool, err := connectDatabase(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	counters, closeCounters, err := newCounterStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeCounters()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	app := fiber.New(fiber.Config{AppName: "zentropy"})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	app.Get("/healthz", func(c fiber.Ctx) error {
		if err := pool.Ping(c.Context()); err != nil {
			return c.SendStatus(fiber.StatusServiceUnavailable)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	sessionConfig := cfg.SessionConfig()
	passwordConfig := cfg.PasswordConfig()
	rateLimits := cfg.RateLimits()

	z, err := zentropy.New(zentropy.Config{
		Storage:    pgxadapter.New(pool),
		HTTP:       fiberadapter.New(app, cfg.CookieConfig()),
		Counters:   counters,
		Session:    &sessionConfig,
		Password:   &passwordConfig,
		RateLimits: &rateLimits,

		InvalidateOthersOnPasswordChange: cfg.InvalidateOthersOnPasswordChange,

		Registerer: registry,
		Logger:     logger,
	})
	if err != nil {
		return oops.Code("SETUP_FAILED").With("operation", "wire auth core").Wrap(err)
	}

	if sessionConfig.ReapInterval > 0 {
		go z.Reaper.Run(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(cfg.ListenAddr, fiber.ListenConfig{DisableStartupMessage: true})
	}()
	logger.InfoContext(ctx, "auth server listening", "addr", cfg.ListenAddr)

	select {
	case err := <-errCh:
		if err != nil {
			return oops.Code("SERVER_FAILED").With("addr", cfg.ListenAddr).Wrap(err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down auth server")
	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return oops.Code("SHUTDOWN_FAILED").Wrap(err)
	}
	return nil
}
