// Package app wires the process-wide pieces every service binary shares:
// logger, metrics registry, breaker registry, event bus, optional database
// and the admin HTTP server.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/quynguyen1908/MobileShop-Backend-sub000/internal/admin"
	"github.com/quynguyen1908/MobileShop-Backend-sub000/internal/config"
	"github.com/quynguyen1908/MobileShop-Backend-sub000/internal/db"
	"github.com/quynguyen1908/MobileShop-Backend-sub000/pkg/breaker"
	"github.com/quynguyen1908/MobileShop-Backend-sub000/pkg/idempotency"
	"github.com/quynguyen1908/MobileShop-Backend-sub000/pkg/messaging"
	"github.com/quynguyen1908/MobileShop-Backend-sub000/pkg/rpc"
	"github.com/quynguyen1908/MobileShop-Backend-sub000/pkg/telemetry"
)

const shutdownTimeout = 10 * time.Second

// ReadyHook runs once after the bus is connected and before the process
// reports healthy. Saga subscriptions are registered here.
type ReadyHook func(ctx context.Context) error

type App struct {
	Config     config.Config
	Log        *slog.Logger
	Registry   *prometheus.Registry
	Metrics    *telemetry.ServiceMetrics
	Breakers   *breaker.Registry
	Dispatcher *rpc.Dispatcher
	Bus        messaging.EventBus
	// DB is nil when DATABASE_URL is not set.
	DB *sql.DB

	middlewares []messaging.Middleware
	hooks       []ReadyHook
	readyOnce   sync.Once
	readyErr    error
	health      admin.Health
	closers     []func() error
}

// New builds everything except the bus. It does not dial any network peer
// besides Redis when deduplication is enabled.
func New(cfg config.Config, log *slog.Logger) (*App, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	breakers := breaker.NewRegistry(log)
	reg.MustRegister(breakers)

	a := &App{
		Config:     cfg,
		Log:        log,
		Registry:   reg,
		Metrics:    telemetry.NewServiceMetrics(cfg.ServiceName, reg),
		Breakers:   breakers,
		Dispatcher: rpc.NewDispatcher(breakers, log),
	}

	if cfg.DedupTTL > 0 {
		store, err := a.dedupStore()
		if err != nil {
			return nil, err
		}
		a.middlewares = append(a.middlewares, idempotency.Middleware(cfg.ServiceName, store, log, a.Metrics))
	}
	return a, nil
}

func (a *App) dedupStore() (idempotency.Store, error) {
	if a.Config.RedisURL == "" {
		a.Log.Info("dedup_store", slog.String("kind", "memory"), slog.Duration("ttl", a.Config.DedupTTL))
		return idempotency.NewMemoryStore(a.Config.DedupTTL), nil
	}
	opts, err := redis.ParseURL(a.Config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	a.closers = append(a.closers, rdb.Close)
	a.Log.Info("dedup_store", slog.String("kind", "redis"), slog.Duration("ttl", a.Config.DedupTTL))
	return idempotency.NewRedisStore(rdb, a.Config.DedupTTL), nil
}

// Middlewares returns the consumer middlewares every subscription gets.
func (a *App) Middlewares() []messaging.Middleware { return a.middlewares }

// ConnectBus dials RabbitMQ, retrying until ctx ends.
func (a *App) ConnectBus(ctx context.Context) error {
	bus, err := messaging.Connect(ctx, messaging.Config{
		URL:                      a.Config.RabbitURL,
		Exchange:                 a.Config.Exchange,
		ServiceName:              a.Config.ServiceName,
		PrefetchCount:            a.Config.PrefetchCount,
		ReconnectInitialInterval: a.Config.ReconnectInitialInterval,
		ReconnectMaxInterval:     a.Config.ReconnectMaxInterval,
		Retry: messaging.RetryPolicy{
			MaxRetries:      uint64(max(a.Config.HandlerMaxRetries, 0)),
			InitialInterval: a.Config.HandlerRetryInterval,
			MaxInterval:     messaging.DefaultRetryPolicy.MaxInterval,
		},
		Middlewares: a.middlewares,
		Logger:      a.Log,
		Metrics:     a.Metrics,
	})
	if err != nil {
		return err
	}
	a.UseBus(bus)
	a.health = func(context.Context) error {
		if s := bus.State(); s != messaging.StateConnected {
			return fmt.Errorf("rabbitmq %s", s)
		}
		return nil
	}
	a.closers = append(a.closers, bus.Close)
	return nil
}

// UseBus installs an already built bus, e.g. a MemoryBus.
func (a *App) UseBus(bus messaging.EventBus) { a.Bus = bus }

// OpenDB connects to Postgres when DATABASE_URL is set.
func (a *App) OpenDB(ctx context.Context) error {
	if a.Config.DatabaseURL == "" {
		a.Log.Info("db_disabled")
		return nil
	}
	pool := db.PoolFrom(a.Config)
	conn, err := db.Open(ctx, a.Config.DatabaseURL, pool)
	if err != nil {
		return err
	}
	a.DB = conn
	a.closers = append(a.closers, conn.Close)
	a.Log.Info("db_connected", slog.Int("max_open_conns", pool.MaxOpenConns))

	if a.Config.DBMigrate {
		if err := db.Migrate(ctx, conn, a.Log); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) OnReady(h ReadyHook) { a.hooks = append(a.hooks, h) }

// Ready runs the registered hooks exactly once and returns the first error.
func (a *App) Ready(ctx context.Context) error {
	a.readyOnce.Do(func() {
		for _, h := range a.hooks {
			if err := h(ctx); err != nil {
				a.readyErr = err
				return
			}
		}
		a.Log.Info("app_ready", slog.Int("hooks", len(a.hooks)))
	})
	return a.readyErr
}

// Handler is the HTTP surface: /healthz, /metrics and the breaker admin API.
func (a *App) Handler() http.Handler {
	return admin.NewRouter(admin.Config{
		Service:    a.Config.ServiceName,
		Log:        a.Log,
		Gatherer:   a.Registry,
		Breakers:   a.Dispatcher,
		Authorizer: admin.NewStaticTokenAuthorizer(a.Config.AdminToken),
		Health:     a.health,
	})
}

// AddCloser registers a cleanup run on Close, in reverse order.
func (a *App) AddCloser(fn func() error) { a.closers = append(a.closers, fn) }

func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Run fires the ready hooks with ctx, serves HTTP and blocks until ctx ends,
// then shuts the server down and closes resources. Callers pass a context
// bound to SIGINT/SIGTERM so subscriptions started by the hooks stop with it.
func (a *App) Run(ctx context.Context) error {
	defer func() {
		if err := a.Close(); err != nil {
			a.Log.Warn("close_failed", slog.String("err", err.Error()))
		}
	}()

	if err := a.Ready(ctx); err != nil {
		return fmt.Errorf("ready hooks: %w", err)
	}

	srv := &http.Server{
		Addr:              a.Config.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	a.Log.Info("http_listen", slog.String("addr", srv.Addr))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		a.Log.Error("http_server_error", slog.String("err", err.Error()))
		runErr = err
	}

	a.Log.Info("shutdown_start")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	a.Log.Info("shutdown_done")
	return runErr
}
