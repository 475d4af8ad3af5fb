package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/jaidee-care/jaidee-core/internal/cache"
	"github.com/jaidee-care/jaidee-core/internal/llm"
	"github.com/jaidee-care/jaidee-core/internal/store"
)

const healthCheckTimeout = 5 * time.Second

// HealthHandler reports reachability of the engine's dependencies.
type HealthHandler struct {
	cache     cache.Store
	repo      store.Repository
	generator llm.ReplyGenerator
}

// NewHealthHandler creates the health handler.
func NewHealthHandler(cacheStore cache.Store, repo store.Repository, generator llm.ReplyGenerator) *HealthHandler {
	return &HealthHandler{cache: cacheStore, repo: repo, generator: generator}
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
}

// Health checks every dependency concurrently and reports healthy or
// degraded. A degraded engine still serves requests; callers fall back to
// canned behavior per dependency.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	var mu sync.Mutex
	record := func(name string, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			slog.Error("health check failed", "dependency", name, "error", err)
			checks[name] = "unreachable"
		} else {
			checks[name] = "ok"
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		record("cache", h.cache.Ping(gctx))
		return nil
	})
	g.Go(func() error {
		record("database", h.repo.Ping(gctx))
		return nil
	})
	g.Go(func() error {
		record("llm", h.generator.Ping(gctx))
		return nil
	})
	_ = g.Wait()

	status := "healthy"
	statusCode := http.StatusOK
	for _, v := range checks {
		if v != "ok" {
			status = "degraded"
			statusCode = http.StatusServiceUnavailable
			break
		}
	}

	JSON(w, statusCode, map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}
