// SurveySync - client sync and response collection server
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

	"github.com/joho/godotenv"

	"github.com/ashureev/surveysync/internal/actions"
	"github.com/ashureev/surveysync/internal/api"
	"github.com/ashureev/surveysync/internal/cache"
	"github.com/ashureev/surveysync/internal/clientsync"
	"github.com/ashureev/surveysync/internal/config"
	"github.com/ashureev/surveysync/internal/domain"
	"github.com/ashureev/surveysync/internal/feed"
	"github.com/ashureev/surveysync/internal/identity"
	"github.com/ashureev/surveysync/internal/middleware"
	"github.com/ashureev/surveysync/internal/responses"
	"github.com/ashureev/surveysync/internal/session"
	"github.com/ashureev/surveysync/internal/store"
	"github.com/ashureev/surveysync/internal/sweeper"
	"github.com/ashureev/surveysync/internal/telemetry"
	"github.com/ashureev/surveysync/internal/tracing"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "cloud", cfg.IsCloud, "redis", cfg.UsesRedis())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		slog.Error("Failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			slog.Warn("Tracer shutdown failed", "error", err)
		}
	}()

	telemetry.InitMetrics()

	// Initialize dependencies.
	db, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	if err := db.Ping(ctx); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	tagCache, err := cache.New(cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB, cfg.Cache.TTL)
	if err != nil {
		slog.Error("Failed to initialize cache", "error", err)
		os.Exit(1)
	}
	repo := cache.NewRepository(db, tagCache, logger)
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	sink, err := telemetry.NewSink(cfg.Telemetry.LogPath, cfg.Telemetry.QueueSize, logger)
	if err != nil {
		slog.Error("Failed to initialize telemetry sink", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := sink.Close(); closeErr != nil {
			slog.Error("Failed to close telemetry sink", "error", closeErr)
		}
	}()

	if err := ensureBootstrapKey(ctx, repo, cfg); err != nil {
		slog.Error("Failed to register management API key", "error", err)
		os.Exit(1)
	}

	// Initialize services.
	people := identity.NewPeople(repo)
	sessions := session.NewManager(repo, people, sink, session.WithLogger(logger))
	orchestrator := clientsync.NewOrchestrator(repo, sessions, logger)
	hub := feed.NewHub(64, logger)
	responseService := responses.NewService(repo, sink, hub, responses.WithLogger(logger))
	tracker := actions.NewTracker(repo)

	sw := sweeper.New(repo, cfg.SessionRetention, cfg.SessionSweepSchedule)
	if err := sw.Start(ctx); err != nil {
		slog.Error("Failed to start session sweeper", "error", err)
		os.Exit(1)
	}
	defer sw.Stop()
	slog.Info("Session sweeper started", "schedule", cfg.SessionSweepSchedule, "retention", cfg.SessionRetention)

	// Setup router.
	router := api.NewRouter(api.RouterConfig{
		AllowedOrigins: cfg.AllowedOrigins,
		Client:         api.NewClientHandler(orchestrator, people, responseService, tracker, cfg.IsCloud),
		Management:     api.NewManagementHandler(repo, responseService, feed.NewWebSocketHandler(hub, cfg.AllowedOrigins)),
		Health:         api.NewHealthHandler(db),
		RateLimiter:    middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst),
		AccessLog:      true,
	})

	// No WriteTimeout: the response feed keeps websocket connections open.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	// Start server.
	serverErr := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for shutdown signal.
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		slog.Error("Server failed", "error", err)
	}
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	hub.CloseAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		return
	}

	slog.Info("Server stopped successfully")
}

// ensureBootstrapKey registers the configured management key, creating the
// environment it is scoped to when the database is empty.
func ensureBootstrapKey(ctx context.Context, repo store.Repository, cfg *config.Config) error {
	if cfg.ManagementAPIKey == "" {
		return nil
	}

	hashed := identity.HashAPIKey(cfg.ManagementAPIKey)
	existing, err := repo.GetAPIKeyByHash(ctx, hashed)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	env, err := repo.GetEnvironment(ctx, cfg.ManagementEnvironmentID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if env == nil {
		product := &domain.Product{
			ID:                identity.NewID(),
			Name:              "Default",
			BrandColor:        "#64748b",
			Placement:         "bottomRight",
			ClickOutsideClose: true,
			ShowSignature:     true,
			RecontactDays:     7,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := repo.CreateProduct(ctx, product); err != nil {
			return err
		}
		env = &domain.Environment{
			ID:        cfg.ManagementEnvironmentID,
			ProductID: product.ID,
			Type:      "production",
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := repo.CreateEnvironment(ctx, env); err != nil {
			return err
		}
		slog.Info("Bootstrap environment created", "environment_id", env.ID, "product_id", product.ID)
	}

	if err := repo.CreateAPIKey(ctx, &domain.APIKey{
		ID:            identity.NewID(),
		EnvironmentID: env.ID,
		Label:         "bootstrap",
		HashedKey:     hashed,
		CreatedAt:     now,
	}); err != nil {
		return err
	}
	slog.Info("Management API key registered", "environment_id", env.ID)
	return nil
}
