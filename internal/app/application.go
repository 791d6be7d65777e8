// Package app assembles the kernel binary's lifecycle, grounded on the
// teacher's internal/app.Application: Initialize loads config and builds
// the dependency graph, Start launches the IPC server/admin HTTP
// server/compliance sweep concurrently, and Shutdown tears them down in
// reverse order on SIGINT/SIGTERM.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/capkernel/kernel/internal/api/routes"
	"github.com/capkernel/kernel/internal/infrastructure/config"
	"github.com/capkernel/kernel/internal/infrastructure/database"
	"github.com/capkernel/kernel/internal/infrastructure/di"
	"github.com/capkernel/kernel/internal/workers/compliance"
	"github.com/capkernel/kernel/pkg/logger"
	"github.com/capkernel/kernel/pkg/metrics"
	"github.com/capkernel/kernel/pkg/tracing"
)

// Application wires the kernel's subsystems and owns their start/stop
// lifecycle.
type Application struct {
	cfg       *config.Config
	log       *logger.Logger
	container *di.Container

	server  *http.Server
	sweeper *compliance.Sweeper

	tracingShutdown func(context.Context) error
}

func NewApplication() *Application {
	return &Application{}
}

// Initialize loads configuration, opens the database and Redis
// connections, runs migrations, builds the DI container, and prepares
// the admin HTTP server and compliance sweeper. It does not start any of
// them; call Start for that.
func (app *Application) Initialize() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	app.cfg = cfg

	log, err := logger.New(cfg.LogLevel, cfg.Environment)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	app.log = log

	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := database.RunMigrations(cfg.Database.URL); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	if err := app.initializeTracing(); err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	container, err := di.New(context.Background(), cfg, log.Zap(), db, redisClient)
	if err != nil {
		return fmt.Errorf("failed to build dependency container: %w", err)
	}
	app.container = container

	app.sweeper = compliance.NewSweeper(container.Audit, container.Capability, log.Zap())

	app.initializeServer()

	return nil
}

func (app *Application) initializeTracing() error {
	tracingConfig := tracing.Config{
		Enabled:      app.cfg.Environment != "test",
		CollectorURL: getEnvOrDefault("OTEL_COLLECTOR_URL", "localhost:4317"),
		Environment:  app.cfg.Environment,
		SampleRate:   getSampleRate(app.cfg.Environment),
	}

	shutdown, err := tracing.InitTracer(context.Background(), tracingConfig, app.log.Zap())
	if err != nil {
		return err
	}
	app.tracingShutdown = shutdown
	app.log.Info("tracing initialized")
	return nil
}

func (app *Application) initializeServer() {
	if app.cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := routes.SetupRoutes(app.container)

	app.server = &http.Server{
		Addr:           fmt.Sprintf(":%d", app.cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    time.Duration(app.cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(app.cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
}

// Start launches the IPC server and the compliance sweep, returning an
// error if either fails to start, then starts the admin HTTP server and
// background metrics collection in goroutines. It returns without waiting
// for the admin HTTP server to bind; a failure there is logged, not
// returned.
func (app *Application) Start() error {
	if err := app.container.IPCServer.Start(); err != nil {
		return fmt.Errorf("failed to start ipc server: %w", err)
	}
	app.log.Info("ipc server listening")

	if err := app.sweeper.Start(app.cfg.Compliance.SweepInterval); err != nil {
		return fmt.Errorf("failed to start compliance sweep: %w", err)
	}

	go func() {
		app.log.Info("admin api listening")
		if err := app.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			app.log.Error("admin api server failed")
		}
	}()

	go app.startMetricsCollection()

	return nil
}

func (app *Application) startMetricsCollection() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		stats := app.container.DB.Stats()
		metrics.DatabaseConnectionsGauge.WithLabelValues("open").Set(float64(stats.OpenConnections))
		metrics.DatabaseConnectionsGauge.WithLabelValues("idle").Set(float64(stats.Idle))
		metrics.DatabaseConnectionsGauge.WithLabelValues("in_use").Set(float64(stats.InUse))
	}
}

// Shutdown tears everything down in reverse start order: HTTP server
// first (stop accepting new admin requests), then the compliance sweep,
// then the IPC server, then tracing.
func (app *Application) Shutdown() error {
	app.log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.log.Warn("admin api did not shut down cleanly")
	}

	app.sweeper.Stop()
	if err := app.container.IPCServer.Stop(); err != nil {
		app.log.Warn("ipc server did not shut down cleanly")
	}

	if app.tracingShutdown != nil {
		_ = app.tracingShutdown(context.Background())
	}

	app.log.Info("shutdown complete")
	return nil
}

// WaitForShutdown blocks until SIGINT or SIGTERM.
func (app *Application) WaitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getSampleRate(env string) float64 {
	switch env {
	case "production":
		return 0.1
	case "staging":
		return 0.5
	default:
		return 1.0
	}
}
