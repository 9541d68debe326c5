// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mobiletoly/go-snapsync/internal/config"
	"github.com/mobiletoly/go-snapsync/internal/events"
	"github.com/mobiletoly/go-snapsync/internal/metrics"
	"github.com/mobiletoly/go-snapsync/snapsync"
	"github.com/redis/go-redis/v9"
)

const (
	ServiceName = "snapsyncd"

	limiterSweepInterval = time.Minute
	limiterIdleTTL       = 10 * time.Minute
)

// HandlerConfig describes the HTTP surface independently of how the service is built
type HandlerConfig struct {
	Service        snapsync.Syncer
	Logger         *slog.Logger
	Metrics        *metrics.Recorder // nil disables /metrics and HTTP counters
	HealthCheck    func(ctx context.Context) error
	RequestTimeout time.Duration
	MaxBodyBytes   int64
	RateLimitRPS   float64 // <= 0 disables rate limiting
	RateLimitBurst int
}

// NewHandler builds the route table
func NewHandler(cfg HandlerConfig) http.Handler {
	h, _ := newHandler(cfg)
	return h
}

// newHandler also returns the limiter so the owner can sweep it; nil when rate limiting is off
func newHandler(cfg HandlerConfig) (http.Handler, *rateLimiter) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var limiter *rateLimiter
	if cfg.RateLimitRPS > 0 {
		limiter = newRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	}
	var obs RouteObserver
	if cfg.Metrics != nil {
		obs = cfg.Metrics
	}

	syncHandlers := snapsync.NewHTTPSyncHandlers(cfg.Service, logger, cfg.MaxBodyBytes)
	mux := http.NewServeMux()

	handle := func(pattern string, h http.Handler, limited bool) {
		h = TimeoutMiddleware(cfg.RequestTimeout, h)
		if limited {
			h = RateLimitMiddleware(limiter, h)
		}
		mux.Handle(pattern, LoggingMiddleware(pattern, logger, obs, h))
	}

	handle("POST /api/sync", http.HandlerFunc(syncHandlers.HandleSync), true)
	handle("GET /api/sync-logs", http.HandlerFunc(syncHandlers.HandleSyncLogs), true)
	handle("GET /api/sync-logs/{clientId}", http.HandlerFunc(syncHandlers.HandleClientAttempts), true)

	mux.HandleFunc("GET /health", HandleHealth(cfg.HealthCheck))
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics.Handler())
	}

	return mux, limiter
}

// HandleHealth reports healthy when check (if any) passes
func HandleHealth(check func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		status, code := "healthy", http.StatusOK
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				status, code = "unhealthy", http.StatusServiceUnavailable
			}
		}
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": status, "service": ServiceName})
	}
}

// ServerComponents holds the initialized server components
type ServerComponents struct {
	Pool        *pgxpool.Pool
	SyncService *snapsync.SyncService
	Metrics     *metrics.Recorder
	Redis       *redis.Client
	Handler     http.Handler
	Logger      *slog.Logger
	ctx         context.Context
	cancel      context.CancelFunc
}

// ServiceConfigFrom maps process configuration onto the library configuration.
// sync.max_tx_retries=0 disables retries; the library reads 0 as "use the default".
func ServiceConfigFrom(cfg *config.Config) *snapsync.ServiceConfig {
	maxRetries := cfg.Sync.MaxTxRetries
	if maxRetries == 0 {
		maxRetries = -1
	}
	return &snapsync.ServiceConfig{
		AppName: ServiceName,
		Tables: snapsync.TableNames{
			SyncLogs: cfg.Sync.SyncLogsTable,
			Users:    cfg.Sync.UsersTable,
			Tasks:    cfg.Sync.TasksTable,
		},
		DisableClientLock:   !cfg.Sync.ClientLock,
		MaxTxRetries:        maxRetries,
		RetryBackoff:        cfg.Sync.RetryBackoff,
		MaxSnapshotEntities: cfg.Sync.MaxSnapshotEntities,
		CreateSchema:        cfg.Database.CreateSchema,
		LogStageTimings:     cfg.Sync.LogStageTimings,
	}
}

// NewPool opens and pings a pgx pool configured from cfg
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	return pool, nil
}

// SetupServer initializes all server components (database, sync service, handlers).
// This is the shared logic used by the serve command and tests.
func SetupServer(cfg *config.Config, logger *slog.Logger) (*ServerComponents, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	sc := &ServerComponents{Logger: logger, ctx: ctx, cancel: cancel}

	pool, err := NewPool(ctx, cfg.Database)
	if err != nil {
		sc.Close()
		return nil, err
	}
	sc.Pool = pool

	serviceConfig := ServiceConfigFrom(cfg)
	if cfg.Metrics.Enabled {
		sc.Metrics = metrics.NewRecorder(cfg.Metrics.Namespace)
		serviceConfig.StageMetrics = sc.Metrics
	}
	if cfg.Redis.Addr != "" {
		sc.Redis = events.NewRedisClient(cfg.Redis)
		if err := sc.Redis.Ping(ctx).Err(); err != nil {
			// events are best effort
			logger.Warn("Redis unreachable, sync events will fail to publish", "addr", cfg.Redis.Addr, "error", err)
		}
		serviceConfig.Events = events.NewRedisPublisher(sc.Redis, cfg.Redis.Channel)
	}

	service, err := snapsync.NewSyncService(pool, serviceConfig, logger)
	if err != nil {
		sc.Close()
		return nil, err
	}
	sc.SyncService = service

	handler, limiter := newHandler(HandlerConfig{
		Service:        service,
		Logger:         logger,
		Metrics:        sc.Metrics,
		HealthCheck:    pool.Ping,
		RequestTimeout: cfg.Server.RequestTimeout,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		RateLimitRPS:   cfg.RateLimit.RPS,
		RateLimitBurst: cfg.RateLimit.Burst,
	})
	sc.Handler = handler
	if limiter != nil {
		go sc.sweepLimiter(limiter)
	}

	logger.Info("Server components initialized",
		"metrics", sc.Metrics != nil,
		"events", sc.Redis != nil,
		"rate_limit_rps", cfg.RateLimit.RPS,
		"client_lock", cfg.Sync.ClientLock)
	return sc, nil
}

func (sc *ServerComponents) sweepLimiter(l *rateLimiter) {
	ticker := time.NewTicker(limiterSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-sc.ctx.Done():
			return
		case now := <-ticker.C:
			if n := l.sweep(now, limiterIdleTTL); n > 0 {
				sc.Logger.Debug("Evicted idle rate limiters", "count", n)
			}
		}
	}
}

// Close shuts down the server components and cleans up resources
func (sc *ServerComponents) Close() {
	if sc.cancel != nil {
		sc.cancel()
	}
	if sc.SyncService != nil {
		_ = sc.SyncService.Close()
	}
	if sc.Redis != nil {
		_ = sc.Redis.Close()
	}
	if sc.Pool != nil {
		sc.Pool.Close()
	}
}

// TestServer represents a running test server instance
type TestServer struct {
	*ServerComponents
	HTTPServer *httptest.Server
}

// NewTestServer creates a new test server instance using the shared server setup
func NewTestServer(cfg *config.Config, logger *slog.Logger) (*TestServer, error) {
	components, err := SetupServer(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &TestServer{
		ServerComponents: components,
		HTTPServer:       httptest.NewServer(components.Handler),
	}, nil
}

// Close shuts down the test server and cleans up resources
func (ts *TestServer) Close() {
	if ts.HTTPServer != nil {
		ts.HTTPServer.Close()
	}
	ts.ServerComponents.Close()
}

// URL returns the base URL of the test server
func (ts *TestServer) URL() string {
	return ts.HTTPServer.URL
}
