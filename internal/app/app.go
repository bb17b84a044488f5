package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vendasys/pos-service/internal/client"
	"github.com/vendasys/pos-service/internal/config"
	"github.com/vendasys/pos-service/internal/event"
	handler "github.com/vendasys/pos-service/internal/handler/http"
	redisrepo "github.com/vendasys/pos-service/internal/repository/redis"
	"github.com/vendasys/pos-service/internal/service"
	"github.com/vendasys/pos-service/pkg/database"
	"github.com/vendasys/pos-service/pkg/health"
	"github.com/vendasys/pos-service/pkg/httpclient"
	pkgkafka "github.com/vendasys/pos-service/pkg/kafka"
	"github.com/vendasys/pos-service/pkg/tracing"
)

// App wires together all dependencies and runs the POS service.
type App struct {
	cfg             *config.Config
	logger          *slog.Logger
	rdb             *redis.Client
	producer        *pkgkafka.Producer
	httpServer      *http.Server
	tracingShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Tracing (no-op unless enabled).
	traceCfg := tracing.DefaultConfig("pos-service")
	traceCfg.Enabled = cfg.TracingEnabled
	traceCfg.Environment = cfg.Environment
	traceCfg.OTLPEndpoint = cfg.OTLPEndpoint
	traceCfg.SampleRate = cfg.TraceSampleRate
	tracingShutdown, err := tracing.InitTracer(ctx, traceCfg)
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	// Redis session store.
	rdb, err := database.NewRedisClient(ctx, database.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPass,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info("connected to Redis",
		slog.String("addr", cfg.RedisAddr),
		slog.Int("db", cfg.RedisDB),
	)

	// Kafka producer.
	kafkaCfg := pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers)
	producer := pkgkafka.NewProducer(kafkaCfg, logger)
	logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))

	// Collaborator HTTP clients, each behind its own circuit breaker so a
	// flapping catalog does not take customer lookup down with it.
	lookupCfg := httpclient.DefaultConfig()
	lookupCfg.Timeout = cfg.LookupTimeout
	customersHTTP := httpclient.NewCircuitBreakerClient(
		httpclient.New(lookupCfg), httpclient.DefaultCircuitBreakerConfig("customers"), logger)
	catalogHTTP := httpclient.NewCircuitBreakerClient(
		httpclient.New(lookupCfg), httpclient.DefaultCircuitBreakerConfig("catalog"), logger)

	// Finalize is never retried by the transport layer: the idempotency key
	// makes a manual retry safe, an automatic one just doubles the load.
	finalizeCfg := httpclient.DefaultConfig()
	finalizeCfg.Timeout = cfg.FinalizeTimeout
	finalizeCfg.MaxRetries = 0
	salesHTTP := httpclient.NewCircuitBreakerClient(
		httpclient.New(finalizeCfg), httpclient.DefaultCircuitBreakerConfig("sales"), logger)

	customers := client.NewCustomerClient(customersHTTP, cfg.CustomersURL, logger)
	catalog := client.NewCatalogClient(catalogHTTP, cfg.CatalogURL, logger)
	sales := client.NewSalesClient(salesHTTP, cfg.SalesURL, logger)

	// Build the dependency graph.
	sessionTTL := time.Duration(cfg.SessionTTL) * time.Hour
	repo := redisrepo.NewSessionRepository(rdb, sessionTTL)
	eventProducer := event.NewProducer(producer, logger)
	sessionService := service.NewSessionService(repo, customers, catalog, sales, eventProducer, logger)

	// Health checks.
	healthHandler := health.NewHandler()
	healthHandler.Register("redis", func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})
	healthHandler.Register("kafka", func(ctx context.Context) error {
		return producer.Ping(ctx)
	})

	// HTTP router.
	router := handler.NewRouter(sessionService, healthHandler, logger)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &App{
		cfg:             cfg,
		logger:          logger,
		rdb:             rdb,
		producer:        producer,
		httpServer:      httpServer,
		tracingShutdown: tracingShutdown,
	}, nil
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
	}

	if err := a.producer.Close(); err != nil {
		a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
	}

	if err := a.rdb.Close(); err != nil {
		a.logger.Error("redis close error", slog.String("error", err.Error()))
	}

	if err := a.tracingShutdown(shutdownCtx); err != nil {
		a.logger.Error("tracing shutdown error", slog.String("error", err.Error()))
	}

	a.logger.Info("application shutdown complete")
	return nil
}
