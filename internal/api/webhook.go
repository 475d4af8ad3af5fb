package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jaidee-care/jaidee-core/internal/domain"
	"github.com/jaidee-care/jaidee-core/internal/followup"
	"github.com/jaidee-care/jaidee-core/internal/llm"
	"github.com/jaidee-care/jaidee-core/internal/notify"
	"github.com/jaidee-care/jaidee-core/internal/ratelimit"
	"github.com/jaidee-care/jaidee-core/internal/session"
	"github.com/jaidee-care/jaidee-core/internal/shared"
	"github.com/jaidee-care/jaidee-core/internal/store"
)

const maxMessageBytes = 16 << 10

const rateLimitedReply = "I want to give each of your messages my full attention. " +
	"Could you give me just a moment before sending the next one?"

// WebhookHandler handles the inbound message webhook and its slash commands.
type WebhookHandler struct {
	limiter     *ratelimit.Limiter
	sessions    *session.Manager
	scheduler   *followup.Scheduler
	generator   llm.ReplyGenerator
	escalations *notify.EscalationQueue
	repo        store.Repository
	llmTimeout  time.Duration
}

// NewWebhookHandler creates the webhook handler.
func NewWebhookHandler(limiter *ratelimit.Limiter, sessions *session.Manager, scheduler *followup.Scheduler, generator llm.ReplyGenerator, escalations *notify.EscalationQueue, repo store.Repository, llmTimeout time.Duration) *WebhookHandler {
	return &WebhookHandler{
		limiter:     limiter,
		sessions:    sessions,
		scheduler:   scheduler,
		generator:   generator,
		escalations: escalations,
		repo:        repo,
		llmTimeout:  llmTimeout,
	}
}

// RegisterRoutes registers the webhook routes.
func (h *WebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhook/message", h.HandleMessage)
}

type messageRequest struct {
	UserID string `json:"user_id"`
	Text   string `json:"text"`
}

type messageResponse struct {
	Reply             string `json:"reply"`
	Tier              string `json:"tier,omitempty"`
	State             string `json:"state,omitempty"`
	RetryAfterSeconds int64  `json:"retry_after_seconds,omitempty"`
}

// HandleMessage processes one inbound user message end to end: admission,
// slash commands, risk assessment, side-effect actions, and reply generation.
func (h *WebhookHandler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxMessageBytes)).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Text = strings.TrimSpace(req.Text)
	if req.UserID == "" || req.Text == "" {
		Error(w, http.StatusBadRequest, "user_id and text are required")
		return
	}

	ctx := r.Context()

	decision := h.limiter.Admit(ctx, req.UserID)
	if !decision.Allowed {
		retryAfter := int64(decision.RetryAfter.Seconds() + 0.5)
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
		JSON(w, http.StatusTooManyRequests, messageResponse{
			Reply:             rateLimitedReply,
			RetryAfterSeconds: retryAfter,
		})
		return
	}

	// Slash commands bypass the risk pipeline entirely.
	if strings.HasPrefix(req.Text, "/") {
		h.handleCommand(ctx, w, req.UserID, req.Text)
		return
	}

	result, err := h.sessions.HandleMessage(ctx, req.UserID, req.Text)
	if err != nil {
		slog.Error("failed to handle message", "user_id", req.UserID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to process message")
		return
	}

	h.execute(ctx, result.Actions)

	reply := h.reply(ctx, result)
	if err := h.sessions.AppendReply(ctx, req.UserID, reply); err != nil {
		slog.Warn("failed to append reply turn", "user_id", req.UserID, "error", err)
	}

	JSON(w, http.StatusOK, messageResponse{
		Reply: reply,
		Tier:  result.Assessment.Tier.String(),
		State: string(result.Session.State),
	})
}

// execute performs the side-effect intents emitted by the session manager.
// Failures are logged, never surfaced to the user: the reply path must not
// depend on downstream services.
func (h *WebhookHandler) execute(ctx context.Context, actions []domain.Action) {
	for _, act := range actions {
		switch act.Type {
		case domain.ActionEscalate:
			h.escalations.Enqueue(notify.Escalation{
				UserID:     act.UserID,
				Tier:       act.Tier,
				TierName:   act.Tier.String(),
				Excerpt:    act.Excerpt,
				OccurredAt: act.Timestamp,
			})
		case domain.ActionResetFollowUp:
			if err := h.scheduler.OnEpisodeStart(ctx, act.UserID, act.Timestamp); err != nil {
				slog.Error("failed to reset follow-up schedule", "user_id", act.UserID, "error", err)
			}
		}
	}
}

// reply generates the supportive reply with a bounded timeout. Generation
// failure degrades to canned text; a Critical-tier user always gets the
// crisis resources even when the generator is down.
func (h *WebhookHandler) reply(ctx context.Context, result *session.Result) string {
	genCtx, cancel := context.WithTimeout(ctx, h.llmTimeout)
	defer cancel()

	text, err := h.generator.GenerateReply(genCtx, result.ReplyContext)
	if err != nil {
		slog.Warn("reply generation failed",
			"user_id", result.Session.UserID,
			"tier", result.Assessment.Tier.String(),
			"error", err)
		if result.Assessment.Tier >= domain.TierCritical {
			return llm.CrisisReply
		}
		return llm.FallbackReply
	}
	return text
}

// handleCommand dispatches the user-facing slash commands.
func (h *WebhookHandler) handleCommand(ctx context.Context, w http.ResponseWriter, userID, text string) {
	cmd := strings.ToLower(strings.Fields(text)[0])

	var reply string
	switch cmd {
	case "/followup":
		reply = h.followUpStatus(ctx, userID)
	case "/stop":
		reply = h.stopFollowUps(ctx, userID)
	case "/report":
		reply = h.progressReport(ctx, userID)
	case "/help":
		reply = "Here's what I can do:\n" +
			"/followup — see when your next check-in is scheduled\n" +
			"/stop — stop scheduled check-ins\n" +
			"/report — a short summary of how you've been doing\n" +
			"/help — show this message\n" +
			"Or just tell me what's on your mind."
	default:
		reply = "I don't recognize that command. Send /help to see what I can do, " +
			"or just tell me what's on your mind."
	}

	JSON(w, http.StatusOK, messageResponse{Reply: reply})
}

func (h *WebhookHandler) followUpStatus(ctx context.Context, userID string) string {
	sched, err := h.scheduler.Status(ctx, userID)
	if shared.IsNotFound(err) {
		return "You don't have any check-ins scheduled right now. " +
			"I'll set some up if we talk through a difficult patch together."
	}
	if err != nil {
		slog.Error("failed to load follow-up status", "user_id", userID, "error", err)
		return "I couldn't look up your check-in schedule just now. Please try again in a moment."
	}
	return fmt.Sprintf("Your next check-in is on %s (day %d). %d check-in(s) remaining. "+
		"Send /stop if you'd rather I didn't check in.",
		sched.NextDueAt.Format("Mon, 2 Jan 2006"),
		sched.Intervals[sched.NextIndex],
		sched.Remaining())
}

func (h *WebhookHandler) stopFollowUps(ctx context.Context, userID string) string {
	err := h.scheduler.Cancel(ctx, userID)
	if shared.IsNotFound(err) {
		return "You didn't have any check-ins scheduled, so there's nothing to stop. " +
			"I'm still here whenever you want to talk."
	}
	if err != nil {
		slog.Error("failed to cancel follow-ups", "user_id", userID, "error", err)
		return "I couldn't update your check-in schedule just now. Please try again in a moment."
	}
	return "Okay, I've stopped your scheduled check-ins. " +
		"You can message me any time, and I'll still be here."
}

// progressReport summarizes the user's recent risk trajectory in plain,
// supportive language.
func (h *WebhookHandler) progressReport(ctx context.Context, userID string) string {
	assessments, err := h.repo.RecentAssessments(ctx, userID, 10)
	if err != nil {
		slog.Error("failed to load assessments for report", "user_id", userID, "error", err)
		return "I couldn't put your summary together just now. Please try again in a moment."
	}
	if len(assessments) == 0 {
		return "We haven't talked enough yet for me to see a pattern. " +
			"Tell me how you've been doing and we'll take it from there."
	}

	// assessments are newest first
	latest := assessments[0]
	calm := 0
	for _, a := range assessments {
		if a.Tier < domain.TierMedium {
			calm++
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Looking at our last %d conversations: ", len(assessments))
	switch {
	case calm == len(assessments):
		b.WriteString("things have been steady, and that's genuinely good to see. ")
	case latest.Tier < domain.TierMedium:
		fmt.Fprintf(&b, "%d of them were calm, and your most recent messages sound steadier. "+
			"That's real progress. ", calm)
	default:
		fmt.Fprintf(&b, "%d of them were calm, but lately things sound harder. "+
			"That's nothing to be ashamed of. ", calm)
	}
	b.WriteString("Recovery isn't a straight line, and I'm here for every step. " +
		"If things ever feel like too much, the hotline 1323 is available around the clock.")
	return b.String()
}
