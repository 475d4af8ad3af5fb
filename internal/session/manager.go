// Package session owns live conversational state: the per-user session
// state machine, its context window, and idle-timeout detection.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jaidee-care/jaidee-core/internal/cache"
	"github.com/jaidee-care/jaidee-core/internal/domain"
	"github.com/jaidee-care/jaidee-core/internal/shared"
	"github.com/jaidee-care/jaidee-core/internal/store"
)

const (
	sessionKeyPrefix = "session:"
	// assessWindow is how many recent turns are handed to the assessor.
	assessWindow = 10
)

// Assessor scores one inbound message given recent history.
type Assessor interface {
	Assess(userID, text string, recent []domain.ConversationTurn) (domain.RiskAssessment, error)
}

// Options configure a Manager.
type Options struct {
	IdleTimeout       time.Duration
	AbsoluteTTL       time.Duration
	ContextWindow     int
	ResetOnEscalation bool
	// FailSafeScore is recorded when the assessor itself fails. It must sit
	// at the configured Medium threshold so the audited score maps to the
	// same tier the fail-safe assigns.
	FailSafeScore float64
}

// Result is the outcome of handling one inbound message. Actions are ordered
// side-effect intents; the caller executes them against the messaging and
// notification collaborators.
type Result struct {
	Session    *domain.Session
	Assessment domain.RiskAssessment
	// ReplyContext is the live context window including the new user
	// turn, for reply generation.
	ReplyContext []domain.ConversationTurn
	Actions      []domain.Action
}

// Manager drives session transitions. It performs no messaging I/O itself,
// which keeps every transition testable as a pure function of the injected
// clock. All per-user state changes run inside a per-key critical section.
type Manager struct {
	cache    cache.Store
	repo     store.Repository
	assessor Assessor
	opts     Options

	locks *shared.KeyedLocks
	now   func() time.Time
}

// NewManager creates a session manager.
func NewManager(cacheStore cache.Store, repo store.Repository, assessor Assessor, opts Options) *Manager {
	if opts.ContextWindow < 1 {
		opts.ContextWindow = 1
	}
	if opts.FailSafeScore <= 0 {
		opts.FailSafeScore = 0.25
	}
	return &Manager{
		cache:    cacheStore,
		repo:     repo,
		assessor: assessor,
		opts:     opts,
		locks:    shared.NewKeyedLocks(),
		now:      time.Now,
	}
}

// HandleMessage runs the full inbound transition for one user message:
// load-or-create the session, assess risk, append the turn, decide state and
// side-effect intents, persist.
func (m *Manager) HandleMessage(ctx context.Context, userID, text string) (*Result, error) {
	unlock := m.locks.Lock(userID)
	defer unlock()

	now := m.now()

	sess, fresh, err := m.loadOrCreate(ctx, userID, now)
	if err != nil {
		return nil, err
	}

	assessment, err := m.assessor.Assess(userID, text, sess.RecentTurns(assessWindow))
	if err != nil {
		// Fail safe toward caution: an unassessed message is treated as
		// at least Medium, never silently dropped to Low.
		slog.Error("risk assessment failed, applying fail-safe tier",
			"user_id", userID, "error", err)
		assessment = domain.RiskAssessment{
			Tier:       domain.TierMedium,
			Score:      m.opts.FailSafeScore,
			Factors:    []string{"assessment-unavailable"},
			AssessedAt: now,
		}
	}

	if err := m.repo.SaveAssessment(ctx, userID, assessment); err != nil {
		slog.Warn("failed to persist risk assessment", "user_id", userID, "error", err)
	}

	turn := domain.ConversationTurn{
		TurnID:    uuid.NewString(),
		Role:      domain.RoleUser,
		Text:      text,
		Timestamp: now,
		Tier:      assessment.Tier,
	}
	m.appendTurn(ctx, sess, turn)

	prevTier := sess.RiskTier
	var actions []domain.Action

	if assessment.Tier >= domain.TierMedium {
		sess.State = domain.StateMonitoring
	} else {
		sess.State = domain.StateActive
	}
	if assessment.Tier > sess.RiskTier {
		sess.RiskTier = assessment.Tier
	}
	sess.TimeoutNotified = false
	sess.Touch(now)

	if assessment.Tier == domain.TierCritical {
		actions = append(actions, domain.Action{
			Type:      domain.ActionEscalate,
			UserID:    userID,
			Tier:      assessment.Tier,
			Timestamp: now,
			Excerpt:   text,
		})
	}

	escalated := assessment.Tier >= domain.TierMedium && prevTier < domain.TierMedium
	if fresh || (escalated && m.opts.ResetOnEscalation) {
		// A new episode starts watching from this moment; prior cadence
		// is intentionally discarded.
		actions = append(actions, domain.Action{
			Type:      domain.ActionResetFollowUp,
			UserID:    userID,
			Tier:      assessment.Tier,
			Timestamp: now,
		})
	}

	if err := m.save(ctx, sess); err != nil {
		return nil, err
	}

	return &Result{
		Session:      sess,
		Assessment:   assessment,
		ReplyContext: sess.Context(),
		Actions:      actions,
	}, nil
}

// AppendReply records the system reply as a turn in the session and durable
// history.
func (m *Manager) AppendReply(ctx context.Context, userID, text string) error {
	unlock := m.locks.Lock(userID)
	defer unlock()

	now := m.now()
	sess, _, err := m.loadOrCreate(ctx, userID, now)
	if err != nil {
		return err
	}

	m.appendTurn(ctx, sess, domain.ConversationTurn{
		TurnID:    uuid.NewString(),
		Role:      domain.RoleSystem,
		Text:      text,
		Timestamp: now,
		Tier:      sess.RiskTier,
	})
	sess.Touch(now)

	return m.save(ctx, sess)
}

// Peek returns the user's live session without mutating it, or nil when none
// exists.
func (m *Manager) Peek(ctx context.Context, userID string) (*domain.Session, error) {
	unlock := m.locks.Lock(userID)
	defer unlock()
	return m.load(ctx, userID)
}

// loadOrCreate returns the live session, creating a fresh one when none
// exists or the absolute TTL has passed. fresh reports that a new episode
// started.
func (m *Manager) loadOrCreate(ctx context.Context, userID string, now time.Time) (sess *domain.Session, fresh bool, err error) {
	sess, err = m.load(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	if sess != nil && sess.IdleFor(now) >= m.opts.AbsoluteTTL {
		// Past retention: the old conversation is archived; durable
		// history remains but the live context does not resume.
		if delErr := m.cache.Delete(ctx, sessionKeyPrefix+userID); delErr != nil {
			slog.Warn("failed to delete archived session", "user_id", userID, "error", delErr)
		}
		sess = nil
	}
	if sess == nil {
		return domain.NewSession(userID, m.opts.ContextWindow, now), true, nil
	}
	return sess, false, nil
}

func (m *Manager) load(ctx context.Context, userID string) (*domain.Session, error) {
	raw, ok, err := m.cache.Get(ctx, sessionKeyPrefix+userID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var sess domain.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", userID, err)
	}
	return &sess, nil
}

func (m *Manager) save(ctx context.Context, sess *domain.Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", sess.UserID, err)
	}
	if err := m.cache.Set(ctx, sessionKeyPrefix+sess.UserID, raw, m.opts.AbsoluteTTL); err != nil {
		return fmt.Errorf("save session %s: %w", sess.UserID, err)
	}
	return nil
}

// appendTurn adds the turn to the live ring and durable history. History
// write failures are logged, not fatal: the conversation continues and the
// audit gap is visible in the logs.
func (m *Manager) appendTurn(ctx context.Context, sess *domain.Session, turn domain.ConversationTurn) {
	sess.Append(turn)
	if err := m.repo.AppendTurn(ctx, sess.UserID, turn); err != nil {
		slog.Error("failed to persist conversation turn",
			"user_id", sess.UserID, "turn_id", turn.TurnID, "error", err)
	}
}
