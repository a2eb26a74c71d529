package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/riandyrn/otelchi"

	"github.com/neomorfeo/routesphere/internal/adapter/esl"
	"github.com/neomorfeo/routesphere/internal/adapter/fsm"
	"github.com/neomorfeo/routesphere/internal/adapter/ingress"
	"github.com/neomorfeo/routesphere/internal/adapter/kafka"
	"github.com/neomorfeo/routesphere/internal/adapter/otel"
	"github.com/neomorfeo/routesphere/internal/adapter/prom"
	"github.com/neomorfeo/routesphere/internal/adapter/river"
	"github.com/neomorfeo/routesphere/internal/adapter/sip"
	"github.com/neomorfeo/routesphere/internal/adapter/sqlite"
	"github.com/neomorfeo/routesphere/internal/adapter/yamlconfig"
	"github.com/neomorfeo/routesphere/internal/app"
	"github.com/neomorfeo/routesphere/internal/channel"
	"github.com/neomorfeo/routesphere/internal/domain"

	handler "github.com/neomorfeo/routesphere/internal/adapter/http"
)

const serviceName = "routesphere"

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	port := envOrDefault("PORT", "8080")
	dbPath := envOrDefault("DATABASE_PATH", "routesphere.db")
	configDir := envOrDefault("CONFIG_DIR", "config")

	logger := newLogger(envOrDefault("LOG_LEVEL", "info"))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Telemetry ---
	providers, err := otel.Setup(ctx, otel.ConfigFromEnv())
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Error("otel shutdown", "error", err)
		}
	}()

	// --- Adapters (out) ---
	db, err := otel.OpenDB(dbPath)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	repo, err := sqlite.NewFromDB(db)
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("database: %w", err)
	}
	defer repo.Close()

	queue, err := river.Setup(ctx, db, logger)
	if err != nil {
		return fmt.Errorf("river: %w", err)
	}
	// River hard-stops when its start context ends; Stop below is the graceful path.
	if err := queue.Start(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("starting river: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := queue.Stop(stopCtx); err != nil {
			logger.Error("river shutdown", "error", err)
		}
	}()

	publisher := otel.NewTracingPublisher(river.NewPublisher(queue))

	// --- Application ---
	svc := app.NewTenantService(
		domain.NewHierarchy(),
		otel.NewTracingRepository(repo),
		publisher,
		fsm.NewTenantValidator(),
		logger,
	)
	if err := svc.Bootstrap(ctx); err != nil {
		return fmt.Errorf("loading tenants: %w", err)
	}

	metrics, err := otel.NewRequestMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	router := app.NewRouter(svc.Hierarchy(), logger,
		app.WithProcessorWrapper(otel.WrapProcessor),
		app.WithObserver(metrics),
	)
	router.Start()
	defer router.Stop()

	// --- Channels ---
	factory := channel.NewFactory()
	factory.Register(domain.ChannelHTTP, domain.ModeServer, ingress.NewChannel)
	factory.Register(domain.ChannelSIP, domain.ModeServer, sip.NewChannel)
	factory.Register(domain.ChannelESL, domain.ModeClient, esl.NewChannel)
	factory.Register(domain.ChannelKafka, domain.ModeClient, kafka.NewChannel)

	manager := channel.NewManager(yamlconfig.New(configDir, logger), factory, channel.Deps{
		Logger:     logger,
		Validator:  fsm.NewChannelValidator(),
		Dispatcher: router,
		Publisher:  publisher,
	})
	if err := manager.LoadAndStart(ctx); err != nil {
		return fmt.Errorf("channels: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := manager.ShutdownAll(stopCtx); err != nil {
			logger.Error("channel shutdown", "error", err)
		}
	}()

	// --- Adapters (in) ---
	mux := chi.NewMux()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.Recoverer)
	mux.Use(otelchi.Middleware(serviceName, otelchi.WithChiRoutes(mux)))

	api := humachi.New(mux, huma.DefaultConfig(serviceName, "0.1.0"))
	handler.Register(api, svc)
	handler.RegisterChannels(api, manager)
	handler.RegisterRouting(api, router)
	mux.Handle("/metrics", prom.Handler(prom.NewRegistry(manager)))

	// --- Server ---
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("routesphere listening", "port", port, "docs", "http://localhost:"+port+"/docs")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "error", err)
	}
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
