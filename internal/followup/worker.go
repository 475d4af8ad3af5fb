package followup

import (
	"context"
	"log/slog"
	"time"

	"github.com/jaidee-care/jaidee-core/internal/llm"
	"github.com/jaidee-care/jaidee-core/internal/notify"
	"github.com/jaidee-care/jaidee-core/internal/store"
)

// how many recent turns to hand the generator for a contextual check-in
const checkInHistoryLimit = 20

// WorkerOptions configures the dispatch worker.
type WorkerOptions struct {
	Interval   time.Duration
	LLMTimeout time.Duration
}

// StartDispatchWorker runs the periodic due-schedule sweep until ctx is
// cancelled. Each due check-in gets a contextual message generated from the
// user's recent conversation, falling back to canned text so delivery never
// depends on the generator being up.
func StartDispatchWorker(ctx context.Context, s *Scheduler, repo store.Repository, gen llm.ReplyGenerator, messenger notify.Messenger, opts WorkerOptions) {
	ticker := time.NewTicker(opts.Interval)
	go func() {
		defer ticker.Stop()
		slog.Info("follow-up dispatch worker started", "interval", opts.Interval)

		for {
			select {
			case <-ticker.C:
				runDispatch(ctx, s, repo, gen, messenger, opts.LLMTimeout)
			case <-ctx.Done():
				slog.Info("follow-up dispatch worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func runDispatch(ctx context.Context, s *Scheduler, repo store.Repository, gen llm.ReplyGenerator, messenger notify.Messenger, llmTimeout time.Duration) {
	due, err := s.DispatchDue(ctx, time.Now())
	if err != nil {
		slog.Error("follow-up dispatch sweep failed", "error", err)
		return
	}
	for _, checkIn := range due {
		text := composeCheckIn(ctx, repo, gen, checkIn.UserID, llmTimeout)
		err := messenger.SendText(ctx, checkIn.UserID, text)
		if err != nil {
			slog.Warn("failed to deliver follow-up check-in",
				"user_id", checkIn.UserID, "interval_day", checkIn.IntervalDay, "error", err)
		} else {
			slog.Info("follow-up check-in delivered",
				"user_id", checkIn.UserID, "interval_day", checkIn.IntervalDay)
		}
		s.RecordOutcome(ctx, checkIn, err == nil)
	}
}

// composeCheckIn builds the check-in text for one user. Users with no
// conversation history get the default greeting; generation failures fall
// back to canned text.
func composeCheckIn(ctx context.Context, repo store.Repository, gen llm.ReplyGenerator, userID string, llmTimeout time.Duration) string {
	turns, err := repo.RecentHistory(ctx, userID, checkInHistoryLimit)
	if err != nil {
		slog.Warn("failed to load history for check-in", "user_id", userID, "error", err)
		return llm.FallbackFollowUp
	}
	if len(turns) == 0 {
		return llm.DefaultFollowUp
	}

	genCtx, cancel := context.WithTimeout(ctx, llmTimeout)
	defer cancel()

	text, err := gen.GenerateFollowUp(genCtx, turns)
	if err != nil {
		slog.Warn("contextual check-in generation failed", "user_id", userID, "error", err)
		return llm.FallbackFollowUp
	}
	return text
}
