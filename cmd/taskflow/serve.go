package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/taskflow/taskflow/internal/app/identity"
	"github.com/taskflow/taskflow/internal/app/taskstore"
	"github.com/taskflow/taskflow/internal/app/taskview"
	"github.com/taskflow/taskflow/internal/app/webui"
	"github.com/taskflow/taskflow/internal/platform/auth"
	"github.com/taskflow/taskflow/internal/platform/dbpool"
	"github.com/taskflow/taskflow/internal/platform/env"
	"github.com/taskflow/taskflow/internal/platform/logging"
	"github.com/taskflow/taskflow/internal/platform/metrics"
	"github.com/taskflow/taskflow/internal/platform/natsutil"
	"golang.org/x/text/language"
)

func newServeCmd(cfg *config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the web UI",
		Long: `Serve the web UI.

Examples:
  taskflow serve --store memory
  taskflow serve --addr :9090 --log-format json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.addr, "addr", env.String("TASKFLOW_ADDR", env.DefaultAddr), "listen address")
	f.StringVar(&cfg.store, "store", env.String("TASKFLOW_STORE", "postgres"), "task store: postgres or memory")
	f.StringVar(&cfg.jwtSecret, "jwt-secret", env.String("JWT_SECRET", "dev-insecure-change-me"), "session token signing secret")
	f.DurationVar(&cfg.sessionTTL, "session-ttl", env.Duration("SESSION_TTL", 24*time.Hour), "session token lifetime")
	f.DurationVar(&cfg.idleTTL, "idle-ttl", env.Duration("CLIENT_IDLE_TTL", 30*time.Minute), "drop browser clients without a stream after this long")
	f.StringVar(&cfg.locale, "locale", env.String("TASKFLOW_LOCALE", "en"), "BCP 47 tag used to order titles")
	f.DurationVar(&cfg.snapshotDebounce, "snapshot-debounce", env.Duration("SNAPSHOT_DEBOUNCE", 75*time.Millisecond), "coalescing window for snapshot refreshes")
	f.DurationVar(&cfg.shutdownTimeout, "shutdown-timeout", env.Duration("SHUTDOWN_TIMEOUT", 10*time.Second), "graceful shutdown budget")
	f.BoolVar(&cfg.secureCookies, "secure-cookies", env.Bool("SECURE_COOKIES", false), "mark cookies Secure")
	return cmd
}

// backend is the store plus whatever has to be closed or checked for readiness with it.
type backend struct {
	store    taskview.Store
	users    identity.Repository
	ready    func(context.Context) error
	shutdown func()
}

func openBackend(ctx context.Context, cfg *config, logger *slog.Logger) (*backend, error) {
	switch cfg.store {
	case "memory":
		logger.Warn("using in-memory store; data is lost on restart")
		return &backend{
			store:    taskstore.NewMemory(),
			users:    identity.NewMemoryRepository(),
			ready:    func(context.Context) error { return nil },
			shutdown: func() {},
		}, nil

	case "postgres":
		pool, err := dbpool.New(ctx, cfg.databaseURL, dbpool.LimitsFromEnv())
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		db := taskstore.NewPostgres(pool)
		users := identity.NewPostgresRepository(pool)
		if err := ensureSchemas(ctx, logger, db, users); err != nil {
			pool.Close()
			return nil, err
		}

		client, err := natsutil.ConnectJetStreamWithRetry(ctx, cfg.natsURL, cfg.natsConnectTimeout)
		if err != nil {
			pool.Close()
			return nil, err
		}

		live := taskstore.NewLive(db, client.Bus(), logger)
		live.Feed.Debounce = cfg.snapshotDebounce
		return &backend{
			store: live,
			users: users,
			ready: func(ctx context.Context) error {
				if err := client.Ready(); err != nil {
					return err
				}
				pingCtx, cancel := context.WithTimeout(ctx, 1500*time.Millisecond)
				defer cancel()
				if err := pool.Ping(pingCtx); err != nil {
					return fmt.Errorf("postgres ping failed: %w", err)
				}
				return nil
			},
			shutdown: func() {
				client.Close()
				pool.Close()
			},
		}, nil
	}
	return nil, fmt.Errorf("unknown store %q (want postgres or memory)", cfg.store)
}

func runServe(ctx context.Context, cfg *config) error {
	logger, err := logging.New(os.Stderr, cfg.logLevel, cfg.logFormat)
	if err != nil {
		return err
	}
	locale, err := language.Parse(cfg.locale)
	if err != nil {
		return fmt.Errorf("locale %q: %w", cfg.locale, err)
	}

	be, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer be.shutdown()

	registry := metrics.NewProcessRegistry()
	store := taskstore.Instrument(be.store, registry)

	accounts := identity.NewService(be.users, auth.NewManager(cfg.jwtSecret, cfg.sessionTTL))
	ui := webui.NewServer(accounts, store, logger)
	ui.Projector = taskview.Projector{Locale: locale}
	ui.SessionTTL = cfg.sessionTTL
	ui.IdleTTL = cfg.idleTTL
	ui.SecureCookies = cfg.secureCookies

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := be.ready(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", registry.Handler())
	ui.Routes(r)

	uiCtx, stopUI := context.WithCancel(context.Background())
	uiDone := make(chan struct{})
	go func() {
		ui.Run(uiCtx)
		close(uiDone)
	}()
	defer func() {
		stopUI()
		<-uiDone
	}()

	server := &http.Server{
		Addr:              cfg.addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Keep WriteTimeout unset for long-lived SSE streams.
		IdleTimeout: 120 * time.Second,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	logger.Info("taskflow listening", "addr", cfg.addr, "store", cfg.store, "locale", locale.String())
	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
	}
	logger.Info("taskflow stopped")
	return nil
}
