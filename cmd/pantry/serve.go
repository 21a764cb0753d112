package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecgard/pantry/internal/api"
	"github.com/alecgard/pantry/internal/auth"
	"github.com/alecgard/pantry/internal/metering"
	"github.com/alecgard/pantry/internal/metrics"
	"github.com/alecgard/pantry/internal/quota"
	"github.com/alecgard/pantry/internal/ratelimit"
	"github.com/alecgard/pantry/internal/recipe"
	"github.com/alecgard/pantry/internal/report"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Pantry API server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b, err := openBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	m := metrics.New()
	if b.pool != nil {
		pool := b.pool
		m.RegisterDBPoolCollector(func() (int32, int32, int32) {
			s := pool.Stat()
			return s.TotalConns(), s.IdleConns(), s.AcquiredConns()
		})
	}

	observers := quota.Observers{m}

	var (
		collector *metering.Collector
		events    api.EventQuerier
	)
	if cfg.Metering.Enabled {
		meterStore := metering.NewStore(b.pool)
		collector = metering.NewCollector(meterStore, cfg.Metering.BatchSize, cfg.Metering.FlushInterval)
		collector.SetMetrics(m)
		go collector.Start(ctx)
		observers = append(observers, collector)
		events = meterStore
	}

	if cfg.Sentry.DSN != "" {
		reporter, err := report.Init(cfg.Sentry.DSN, cfg.Sentry.Environment, "pantry@"+version)
		if err != nil {
			return err
		}
		defer reporter.Flush(2 * time.Second)
		observers = append(observers, reporter)
		slog.Info("sentry reporting enabled", "environment", cfg.Sentry.Environment)
	}

	tracker := newTracker(cfg, b)
	tracker.SetObserver(observers)

	var recipes *recipe.Service
	if cfg.Generator.Provider == "openai" {
		gen, err := recipe.NewOpenAIGenerator(recipe.OpenAIConfig{
			APIKey:  cfg.Generator.APIKey,
			Model:   cfg.Generator.Model,
			BaseURL: cfg.Generator.BaseURL,
			Timeout: cfg.Generator.Timeout,
		})
		if err != nil {
			return err
		}
		recipes = recipe.NewService(tracker, gen)
		recipes.SetMetrics(m)
	} else {
		slog.Info("no generator configured; recipe route disabled")
	}

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Requests > 0 {
		limiter = ratelimit.New(cfg.RateLimit.Requests, cfg.RateLimit.Window)
		go sweepLimiter(ctx, limiter, cfg.RateLimit.Window)
	}

	serviceKeys := cfg.ServiceKeyHashes(auth.HashKey)
	if len(serviceKeys) == 0 {
		slog.Warn("no service keys configured; every /api/v1 request will be rejected")
	}
	authService := auth.NewService(serviceKeys, cfg.Auth.AdminKeyHash)
	authService.SetMetrics(m)

	router := api.NewRouter(api.RouterDeps{
		Tracker:        tracker,
		Accounts:       b.accounts,
		Recipes:        recipes,
		Events:         events,
		Auth:           authService,
		Limiter:        limiter,
		Metrics:        m,
		Pingers:        b.pingers,
		StoreTimeout:   cfg.Quota.StoreTimeout,
		MaxRequestSize: cfg.Server.MaxRequestSize,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", cfg.Addr(), "accounts", cfg.Accounts.Backend, "devices", cfg.Devices.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-sigCh:
		slog.Info("shutting down")
	case err := <-errCh:
		slog.Error("server error", "error", err)
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	err = srv.Shutdown(shutdownCtx)
	// Drain buffered events once no handler can record more.
	if collector != nil {
		collector.Stop()
	}
	return err
}

// sweepLimiter drops burst buckets idle for ten windows.
func sweepLimiter(ctx context.Context, l *ratelimit.Limiter, window time.Duration) {
	t := time.NewTicker(window)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := l.Sweep(10 * window); n > 0 {
				slog.Debug("swept idle rate limit buckets", "count", n)
			}
		}
	}
}
