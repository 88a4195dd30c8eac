package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"personachat/internal/audit"
	"personachat/internal/config"
	"personachat/internal/fallback"
	"personachat/internal/httpapi"
	"personachat/internal/metrics"
	"personachat/internal/ratelimit"
	"personachat/internal/session"
	"personachat/internal/storage"
	"personachat/internal/upstream"
)

type options struct {
	envFiles []string
	dataDir  string
	addr     string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:           "personachat",
		Short:         "Character chat session gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadEnvFiles(opts.envFiles...); err != nil {
				log.Error().Err(err).Msg("failed to load env files")
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				log.Error().Err(err).Msg("failed to load config")
				return err
			}
			if opts.dataDir != "" {
				cfg.DataDir = opts.dataDir
			}
			return run(cmd.Context(), cfg, opts.addr)
		},
	}
	cmd.Flags().StringSliceVar(&opts.envFiles, "env-file", nil, "dotenv files to load (default .env when present)")
	cmd.Flags().StringVar(&opts.dataDir, "data-dir", "", "override DATA_DIR")
	cmd.Flags().StringVar(&opts.addr, "addr", "", "override HOST:PORT listen address")
	return cmd
}

func run(parent context.Context, cfg *config.Config, addrOverride string) error {
	if parent == nil {
		parent = context.Background()
	}
	setupLogger(cfg.Log.Level)

	addr := cfg.HTTP.ListenAddr()
	if addrOverride != "" {
		addr = addrOverride
	}
	log.Info().
		Str("data_dir", cfg.DataDir).
		Str("upstream", cfg.Upstream.BaseURL).
		Dur("upstream_timeout", cfg.Upstream.Timeout).
		Bool("debug", cfg.Debug).
		Msg("starting personachat")

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	m := metrics.Global()

	store, err := storage.New(storage.Config{Dir: cfg.DataDir, Logger: log.Logger, Metrics: m})
	if err != nil {
		return fmt.Errorf("initialize storage: %w", err)
	}

	svcCfg := session.Config{
		Store: store,
		Upstream: upstream.New(upstream.Config{
			BaseURL:       cfg.Upstream.BaseURL,
			Timeout:       cfg.Upstream.Timeout,
			SelectTimeout: cfg.Upstream.SelectTimeout,
			MaxNewTokens:  cfg.Upstream.MaxNewTokens,
			Temperature:   cfg.Upstream.Temperature,
			Logger:        log.Logger,
			Metrics:       m,
		}),
		Fallback:         fallback.New(fallback.Config{}),
		Logger:           log.Logger,
		Metrics:          m,
		ContextWindow:    cfg.Chat.ContextWindow,
		FallbackDisabled: !cfg.Chat.FallbackEnabled,
	}

	if cfg.Redis.Enabled() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rdb.Close()
		svcCfg.Limiter = ratelimit.New(ratelimit.Config{Redis: rdb, Limit: cfg.Rate.PerHour})
		log.Info().Int64("per_hour", cfg.Rate.PerHour).Msg("per-chat rate limit enabled")
	}

	if cfg.Audit.Enabled() {
		auditStore, err := audit.Open(ctx, cfg.Audit.Driver, cfg.Audit.DSN, cfg.Audit.AutoMigrate)
		if err != nil {
			return fmt.Errorf("initialize audit store: %w", err)
		}
		defer auditStore.Close()
		svcCfg.Auditor = auditStore
		log.Info().Str("driver", cfg.Audit.Driver).Msg("audit log enabled")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+cfg.HTTP.HealthPath, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("GET "+cfg.HTTP.MetricsPath, promhttp.Handler())
	httpapi.New(httpapi.Config{
		Sessions: session.New(svcCfg),
		Logger:   log.Logger,
		Metrics:  m,
	}).Register(mux)

	// WriteTimeout must outlast a full upstream generation.
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.Upstream.Timeout + 30*time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case runErr = <-errCh:
		log.Error().Err(runErr).Msg("runtime error")
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to stop http server")
	}

	log.Info().Msg("stopped")
	return runErr
}

func setupLogger(level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(parseLogLevel(level))
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
