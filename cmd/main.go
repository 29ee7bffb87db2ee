/**
 * @description
 * This is the main entry point for the entitlement-service.
 * It initializes and wires together all the components of the application,
 * including configuration, database connection, migrations, the payment
 * client, the optional Redis limiter and RabbitMQ producer, and the HTTP
 * router. Finally, it starts the HTTP server to listen for incoming requests.
 */
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/cinelux/entitlement-service/internal/api"
	"github.com/cinelux/entitlement-service/internal/app"
	"github.com/cinelux/entitlement-service/internal/config"
	"github.com/cinelux/entitlement-service/internal/database"
	"github.com/cinelux/entitlement-service/internal/mediastore"
	"github.com/cinelux/entitlement-service/internal/metrics"
	"github.com/cinelux/entitlement-service/internal/store"
	"github.com/cinelux/entitlement-service/pkg/paymentclient"
	"github.com/cinelux/entitlement-service/pkg/rabbitmq"
)

func main() {
	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// Load application configuration from environment variables
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Create a context that can be cancelled
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up channel to listen for OS signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Apply schema migrations before opening the pool
	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("database migrations applied")

	// Establish connection to the PostgreSQL database with connection pool configuration
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Error("unable to parse database URL", "error", err)
		os.Exit(1)
	}

	// Configure connection pool for high-traffic scenarios
	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// IMPORTANT: Disable prepared statements to work with PgBouncer transaction pooling
	// Use simple protocol to avoid statement cache errors (SQLSTATE 42P05)
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Error("unable to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbpool.Close()
	logger.Info("database connection established")

	// Optional collaborators: the service runs without Redis or RabbitMQ,
	// skipping rate limiting and event publishing respectively.
	var limiter app.RateLimiter
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("unable to parse Redis URL", "error", err)
			os.Exit(1)
		}
		limiter = app.NewRedisRateLimiter(redis.NewClient(opts), "cinelux:rate_limit")
		logger.Info("redis rate limiter enabled")
	}

	var producer app.EventPublisher
	if cfg.AMQPURL != "" {
		eventProducer, err := rabbitmq.NewEventProducer(cfg.AMQPURL)
		if err != nil {
			logger.Error("unable to connect to RabbitMQ", "error", err)
			os.Exit(1)
		}
		defer eventProducer.Close()
		producer = eventProducer
		logger.Info("rabbitmq producer connected")
	}

	// Metrics registry and collector
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// Initialize application layers
	repository := store.NewPostgresRepository(dbpool)
	payments := paymentclient.NewClient(cfg.PaymentAPIURL, cfg.PaymentAPIKey)
	artifacts := mediastore.New(cfg.MediaRoot, cfg.DownloadRoot)
	service := app.NewService(repository, payments, artifacts, producer, limiter, collector)
	handler := api.NewHandler(service, cfg.PaymentWebhookSecret)
	router := api.NewRouter(handler, cfg.JWKSURL, cfg.InternalAPIKey, metrics.Handler(registry))

	// Configure and start the HTTP server
	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: router,
	}

	go func() {
		logger.Info("starting server", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for an OS signal
	<-sigCh
	logger.Info("shutdown signal received, gracefully shutting down")

	// Create a context with a timeout for shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Attempt to gracefully shut down the server
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}

	logger.Info("server stopped")
}
