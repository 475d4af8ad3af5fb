package session

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/jaidee-care/jaidee-core/internal/domain"
	"github.com/jaidee-care/jaidee-core/internal/notify"
)

// timeoutNotice is the one-shot message sent when a session goes idle.
// Context is retained, so any new message resumes the same conversation.
const timeoutNotice = "It's been a while since your last message, so this conversation is now paused. " +
	"Send me anything whenever you're ready and we'll pick up right where we left off."

// Sweep re-evaluates every live session's inactivity and is the only actor
// that moves sessions Active/Monitoring -> Idle -> archived without new
// input. It returns the notification actions decided along the way.
func (m *Manager) Sweep(ctx context.Context, now time.Time) ([]domain.Action, error) {
	keys, err := m.cache.Keys(ctx, sessionKeyPrefix)
	if err != nil {
		return nil, err
	}

	var actions []domain.Action
	for _, key := range keys {
		userID := strings.TrimPrefix(key, sessionKeyPrefix)
		acts, err := m.sweepOne(ctx, userID, now)
		if err != nil {
			slog.Error("sweep failed for session", "user_id", userID, "error", err)
			continue
		}
		actions = append(actions, acts...)
	}
	return actions, nil
}

func (m *Manager) sweepOne(ctx context.Context, userID string, now time.Time) ([]domain.Action, error) {
	unlock := m.locks.Lock(userID)
	defer unlock()

	sess, err := m.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, nil
	}

	idle := sess.IdleFor(now)

	if idle >= m.opts.AbsoluteTTL {
		// Retention exceeded: evict from live storage. Durable history
		// keeps the conversation; a later message starts a fresh
		// session.
		if err := m.cache.Delete(ctx, sessionKeyPrefix+userID); err != nil {
			return nil, err
		}
		slog.Info("session archived", "user_id", userID, "idle", idle)
		return nil, nil
	}

	if idle < m.opts.IdleTimeout {
		return nil, nil
	}

	switch sess.State {
	case domain.StateIdle:
		// Already idle; nothing to do until resume or archival.
		return nil, nil
	case domain.StateMonitoring:
		// Monitored users are checked on by the follow-up scheduler
		// instead of being told their session expired.
		sess.State = domain.StateIdle
		if err := m.save(ctx, sess); err != nil {
			return nil, err
		}
		slog.Info("monitored session went idle, timeout notice suppressed", "user_id", userID)
		return nil, nil
	default:
		sess.State = domain.StateIdle
		var actions []domain.Action
		if !sess.TimeoutNotified {
			sess.TimeoutNotified = true
			actions = append(actions, domain.Action{
				Type:      domain.ActionNotifyTimeout,
				UserID:    userID,
				Tier:      sess.RiskTier,
				Timestamp: now,
			})
		}
		if err := m.save(ctx, sess); err != nil {
			return nil, err
		}
		return actions, nil
	}
}

// StartSweepWorker runs the periodic idle sweep until ctx is cancelled,
// delivering timeout notifications through the messenger.
func StartSweepWorker(ctx context.Context, m *Manager, interval time.Duration, messenger notify.Messenger) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("session sweep worker started", "interval", interval,
			"idle_timeout", m.opts.IdleTimeout, "session_ttl", m.opts.AbsoluteTTL)

		for {
			select {
			case <-ticker.C:
				runSweep(ctx, m, messenger)
			case <-ctx.Done():
				slog.Info("session sweep worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func runSweep(ctx context.Context, m *Manager, messenger notify.Messenger) {
	actions, err := m.Sweep(ctx, m.now())
	if err != nil {
		slog.Error("session sweep failed", "error", err)
		return
	}
	for _, act := range actions {
		if act.Type != domain.ActionNotifyTimeout {
			continue
		}
		if err := messenger.SendText(ctx, act.UserID, timeoutNotice); err != nil {
			slog.Warn("failed to deliver timeout notice", "user_id", act.UserID, "error", err)
		}
	}
}
