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

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/vnmchuo/banana-gateway/config"
	"github.com/vnmchuo/banana-gateway/internal/auth"
	"github.com/vnmchuo/banana-gateway/internal/billing"
	"github.com/vnmchuo/banana-gateway/internal/httpclient"
	"github.com/vnmchuo/banana-gateway/internal/logging"
	"github.com/vnmchuo/banana-gateway/internal/metrics"
	"github.com/vnmchuo/banana-gateway/internal/provider"
	"github.com/vnmchuo/banana-gateway/internal/proxy"
	"github.com/vnmchuo/banana-gateway/internal/schedule"
	"github.com/vnmchuo/banana-gateway/internal/seeder"
	"github.com/vnmchuo/banana-gateway/internal/telemetry"
	"github.com/vnmchuo/banana-gateway/pkg/ratelimit"
)

const (
	serviceName       = "banana-gateway"
	writeTimeoutSlack = time.Minute
)

func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	// 2. Init telemetry
	shutdownTracer, err := telemetry.InitTracer(serviceName, cfg)
	if err != nil {
		fatal("failed to init tracer", err)
	}
	defer shutdownTracer()

	// 3. Connect PostgreSQL
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		fatal("failed to connect postgres", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		fatal("failed to ping postgres", err)
	}
	slog.Info("postgres connected")

	// 4. Connect Redis
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		fatal("failed to ping redis", err)
	}
	slog.Info("redis connected")

	// 5. Stores
	authStore := auth.NewPostgresStore(pool)
	authMiddleware := auth.NewMiddleware(authStore, rdb, logger)
	billingStore := billing.NewPostgresStore(pool)
	scheduleStore := schedule.NewPostgresStore(pool)

	// 6. Rate limiter
	limiter := ratelimit.NewLimiter(rdb, cfg.DefaultRateLimitTPM)

	// 7. Provider registry
	descriptors, prices, err := config.LoadProviders(cfg.ProvidersFile, cfg.NanoAPIBaseURL)
	if err != nil {
		fatal("failed to load providers", err)
	}
	registry, err := provider.NewRegistry(descriptors, cfg.CredentialLookup)
	if err != nil {
		fatal("invalid provider registry", err)
	}
	enabled := registry.ListEnabled()
	if len(enabled) == 0 {
		slog.Warn("no provider has a credential; AI endpoints will answer 503")
	}
	for i, d := range enabled {
		slog.Info("provider enabled", "order", i, "provider", d.ID, "kind", d.Kind, "base_url", d.BaseURL)
	}

	// 8. Metrics
	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m = metrics.New(reg)
	}

	// 9. Orchestrator
	tracer := otel.GetTracerProvider().Tracer(serviceName)
	clientCfg := httpclient.DefaultConfig()
	routerOpts := []proxy.Option{
		proxy.WithTracer(tracer),
		proxy.WithLogger(logger),
	}
	if m != nil {
		routerOpts = append(routerOpts, proxy.WithHooks(m.Hooks()))
	}
	if cfg.CircuitBreaker {
		routerOpts = append(routerOpts, proxy.WithCircuitBreaker())
	}
	router, err := proxy.NewRouter(registry, proxy.NewAdapterFactory(httpclient.New(&clientCfg)), routerOpts...)
	if err != nil {
		fatal("failed to build router", err)
	}

	// 10. Handler
	handlerOpts := []proxy.HandlerOption{
		proxy.WithSchedules(scheduleStore),
		proxy.WithPrices(prices),
		proxy.WithHandlerLogger(logger),
	}
	if m != nil {
		handlerOpts = append(handlerOpts, proxy.WithRecorder(m))
	}
	handler := proxy.NewHandler(router, billingStore, limiter, tracer, handlerOpts...)

	// 11. Seed development data if RUN_SEED=true
	if cfg.RunSeed {
		seeder.Seed(ctx, authStore, billingStore, scheduleStore, logger)
	}

	// 12. HTTP routes
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","service":"banana-gateway"}`))
	})
	if m != nil {
		r.Handle("/metrics", m.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		handler.Mount(r)
		r.Delete("/v1/keys/current", auth.NewRevokeHandler(authStore, rdb, logger))
	})

	// 13. Graceful shutdown
	// a request may wait on every provider timing out before the last one answers
	writeTimeout := router.MaxDuration() + writeTimeoutSlack
	slog.Info("http write timeout", "timeout", writeTimeout)
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  120 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("banana gateway starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal("server error", err)
		}
	}()

	<-quit
	slog.Info("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
	}
	slog.Info("server stopped")
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}
