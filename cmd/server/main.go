// Solcredito - Conversational Loan Origination Server
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
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/solcredito/solcredito/internal/api"
	"github.com/solcredito/solcredito/internal/config"
	"github.com/solcredito/solcredito/internal/identity"
	"github.com/solcredito/solcredito/internal/llm"
	"github.com/solcredito/solcredito/internal/middleware"
	"github.com/solcredito/solcredito/internal/orchestrator"
	"github.com/solcredito/solcredito/internal/prompts"
	"github.com/solcredito/solcredito/internal/specialist"
	"github.com/solcredito/solcredito/internal/store"
	"github.com/solcredito/solcredito/internal/tracing"
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

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close store", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	tracer, err := tracing.NewProvider(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		TLSInsecure: cfg.Tracing.TLSInsecure,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tracer.Shutdown(shutdownCtx); shutdownErr != nil {
			slog.Error("Failed to shut down tracing", "error", shutdownErr)
		}
	}()

	// Completion vendor client with single-retry behavior.
	var client llm.Client = llm.WithRetry(llm.NewAnthropicClient(cfg.Anthropic.APIKey, llm.Config{
		Model:     cfg.Anthropic.Model,
		MaxTokens: cfg.Anthropic.MaxTokens,
	}))

	// Prompt resolution: hosted service when configured, embedded defaults
	// otherwise.
	var resolver prompts.Resolver
	if cfg.PromptAPI.URL != "" {
		resolver = prompts.NewHTTPResolver(cfg.PromptAPI.URL, cfg.PromptAPI.PublicKey, cfg.PromptAPI.SecretKey, cfg.PromptAPI.CacheTTL)
		slog.Info("Prompt service configured", "url", cfg.PromptAPI.URL, "cache_ttl", cfg.PromptAPI.CacheTTL)
	} else {
		slog.Info("Prompt service not configured, using embedded defaults")
	}

	// Specialists and the turn orchestrator.
	specialists := []orchestrator.Specialist{
		specialist.NewOnboarding(client, resolver, logger),
		specialist.NewUnderwriting(logger),
		specialist.NewServicing(client, resolver, logger),
		specialist.NewCoaching(client, resolver, logger),
	}

	orch, err := orchestrator.New(repo, specialists, logger, orchestrator.Options{
		MaxHops:        cfg.MaxRoutingHops,
		StrictGate:     cfg.StrictUnderwritingGate,
		TurnTimeout:    cfg.TurnTimeout,
		PersistTimeout: cfg.PersistTimeout,
	})
	if err != nil {
		slog.Error("Failed to initialize orchestrator", "error", err)
		os.Exit(1)
	}
	defer orch.Close()

	// Initialize handlers.
	chatHandler := api.NewChatHandler(orch, cfg.Anthropic.Model, logger)
	healthHandler := api.NewHealthHandler(repo)
	wsHandler := api.NewWSHandler(orch, cfg.Anthropic.Model, logger)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(corsOrigins(cfg)))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	healthHandler.RegisterHealth(r)
	chatHandler.RegisterRoutes(r)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws/chat", wsHandler.ServeHTTP)

	// Note: websocket connections stay open across turns (no WriteTimeout).
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

func corsOrigins(cfg *config.Config) []string {
	if cfg.FrontendURL != "" {
		return []string{cfg.FrontendURL}
	}
	return []string{"*"}
}
