package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jaidee-care/jaidee-core/internal/followup"
	"github.com/jaidee-care/jaidee-core/internal/shared"
)

// FollowUpHandler exposes read-only schedule status for operator tooling.
type FollowUpHandler struct {
	scheduler *followup.Scheduler
}

// NewFollowUpHandler creates the follow-up status handler.
func NewFollowUpHandler(scheduler *followup.Scheduler) *FollowUpHandler {
	return &FollowUpHandler{scheduler: scheduler}
}

// RegisterRoutes registers the follow-up routes.
func (h *FollowUpHandler) RegisterRoutes(r chi.Router) {
	r.Route("/v1/followup", func(r chi.Router) {
		r.Get("/{userID}", h.Status)
	})
}

// Status returns the user's active schedule.
func (h *FollowUpHandler) Status(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		Error(w, http.StatusBadRequest, "userID is required")
		return
	}

	sched, err := h.scheduler.Status(r.Context(), userID)
	if shared.IsNotFound(err) {
		Error(w, http.StatusNotFound, "no active schedule")
		return
	}
	if err != nil {
		slog.Error("failed to load schedule", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load schedule")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"user_id":      sched.UserID,
		"status":       string(sched.Status),
		"anchor_date":  sched.AnchorDate.Format(time.RFC3339),
		"next_due_at":  sched.NextDueAt.Format(time.RFC3339),
		"interval_day": sched.Intervals[sched.NextIndex],
		"remaining":    sched.Remaining(),
	})
}
