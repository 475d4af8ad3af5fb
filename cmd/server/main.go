// Jai Dee - Conversation Session & Follow-up Orchestration Engine
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

	"github.com/jaidee-care/jaidee-core/internal/api"
	"github.com/jaidee-care/jaidee-core/internal/cache"
	"github.com/jaidee-care/jaidee-core/internal/config"
	"github.com/jaidee-care/jaidee-core/internal/followup"
	"github.com/jaidee-care/jaidee-core/internal/llm"
	"github.com/jaidee-care/jaidee-core/internal/middleware"
	"github.com/jaidee-care/jaidee-core/internal/notify"
	"github.com/jaidee-care/jaidee-core/internal/ratelimit"
	"github.com/jaidee-care/jaidee-core/internal/risk"
	"github.com/jaidee-care/jaidee-core/internal/session"
	"github.com/jaidee-care/jaidee-core/internal/store"
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

	slog.Info("Starting engine", "port", cfg.Port, "followup_intervals", cfg.FollowUpIntervals)

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	cacheStore := cache.NewMemory()
	defer func() {
		if closeErr := cacheStore.Close(); closeErr != nil {
			slog.Error("Failed to close cache", "error", closeErr)
		}
	}()

	lexicon, err := loadLexicon(cfg.Risk.LexiconPath)
	if err != nil {
		slog.Error("Failed to load risk lexicon", "error", err)
		os.Exit(1)
	}
	assessor, err := risk.NewEngine(lexicon, risk.Thresholds{
		Medium:   cfg.Risk.ThresholdMedium,
		High:     cfg.Risk.ThresholdHigh,
		Critical: cfg.Risk.ThresholdCritical,
	})
	if err != nil {
		slog.Error("Failed to initialize risk engine", "error", err)
		os.Exit(1)
	}
	slog.Info("Risk engine initialized", "lexicon_entries", lexicon.Len())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	generator, err := llm.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		slog.Error("Failed to initialize reply generator", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := generator.Close(); closeErr != nil {
			slog.Error("Failed to close reply generator", "error", closeErr)
		}
	}()
	slog.Info("Reply generator initialized", "model", cfg.GeminiModel)

	// Initialize services.
	limiter := ratelimit.New(cacheStore, cfg.RateLimitCapacity, cfg.RateLimitRefillPerMin, cfg.SessionTTL)

	sessions := session.NewManager(cacheStore, repo, assessor, session.Options{
		IdleTimeout:       cfg.SessionIdleTimeout,
		AbsoluteTTL:       cfg.SessionTTL,
		ContextWindow:     cfg.SessionContextWindow,
		ResetOnEscalation: cfg.FollowUpResetOnEscalation,
		FailSafeScore:     cfg.Risk.ThresholdMedium,
	})

	scheduler := followup.NewScheduler(repo, cfg.FollowUpIntervals)

	messenger := notify.NewHTTPPush(cfg.OutboundWebhookURL)
	escalator := notify.NewHTTPPush(cfg.EscalationWebhookURL)
	escalations := notify.NewEscalationQueue(escalator, cfg.EscalationQueueSize)
	defer escalations.Close()

	// Initialize handlers.
	webhookHandler := api.NewWebhookHandler(limiter, sessions, scheduler, generator, escalations, repo, cfg.LLMTimeout)
	followUpHandler := api.NewFollowUpHandler(scheduler)
	healthHandler := api.NewHealthHandler(cacheStore, repo, generator)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS([]string{"*"}))

	healthHandler.RegisterHealth(r)
	webhookHandler.RegisterRoutes(r)
	followUpHandler.RegisterRoutes(r)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.LLMTimeout + 15*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start background workers.
	session.StartSweepWorker(ctx, sessions, cfg.SweepInterval, messenger)
	followup.StartDispatchWorker(ctx, scheduler, repo, generator, messenger, followup.WorkerOptions{
		Interval:   cfg.DispatchInterval,
		LLMTimeout: cfg.LLMTimeout,
	})

	// Start server.
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

func loadLexicon(path string) (*risk.Lexicon, error) {
	if path == "" {
		return risk.DefaultLexicon()
	}
	slog.Info("Loading lexicon override", "path", path)
	return risk.LoadLexicon(path)
}
