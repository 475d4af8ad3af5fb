package domain

import (
	"time"
)

// SessionState represents the lifecycle state of a conversation session.
type SessionState string

const (
	// StateNew is the state of a session created on first contact.
	StateNew SessionState = "new"
	// StateActive is the normal turn-exchange state.
	StateActive SessionState = "active"
	// StateMonitoring is entered when risk reaches Medium or above.
	// Monitored sessions get closer follow-up and never receive the
	// idle-timeout notification; they are checked on proactively instead.
	StateMonitoring SessionState = "monitoring"
	// StateIdle is entered by the sweep after the inactivity timeout.
	// Context is retained so a later message resumes the conversation.
	StateIdle SessionState = "idle"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser   Role = "user"
	RoleSystem Role = "system"
)

// ConversationTurn is one message in a session. Turns are immutable once
// appended and are always persisted to durable history, including after
// eviction from the live context window.
type ConversationTurn struct {
	TurnID    string    `json:"turn_id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Tier      Tier      `json:"tier"`
}

// Session holds the live conversational state for one user. It is stored in
// the cache keyed by user ID; there is exactly one live session per user.
type Session struct {
	UserID         string       `json:"user_id"`
	State          SessionState `json:"state"`
	RiskTier       Tier         `json:"risk_tier"`
	LastActivityAt time.Time    `json:"last_activity_at"`
	CreatedAt      time.Time    `json:"created_at"`
	// TimeoutNotified records that the one-shot idle notification was
	// already emitted for the current idle period.
	TimeoutNotified bool `json:"timeout_notified"`

	// Turns is a fixed-capacity ring of recent turns; Head and Count
	// locate the chronological window inside the arena.
	Turns    []ConversationTurn `json:"turns"`
	Head     int                `json:"head"`
	Count    int                `json:"count"`
	Capacity int                `json:"capacity"`
}

// NewSession creates a session in StateNew with a context ring of the given
// capacity.
func NewSession(userID string, capacity int, now time.Time) *Session {
	if capacity < 1 {
		capacity = 1
	}
	return &Session{
		UserID:         userID,
		State:          StateNew,
		RiskTier:       TierLow,
		LastActivityAt: now,
		CreatedAt:      now,
		Turns:          make([]ConversationTurn, capacity),
		Capacity:       capacity,
	}
}

// Append adds a turn to the context ring, evicting the oldest turn when the
// ring is full. The evicted turn remains in durable history; only the live
// window forgets it.
func (s *Session) Append(turn ConversationTurn) {
	if s.Capacity == 0 {
		// Sessions decoded from an older cache entry may predate the
		// ring fields; rebuild with a single-slot ring.
		s.Turns = make([]ConversationTurn, 1)
		s.Capacity = 1
	}
	tail := (s.Head + s.Count) % s.Capacity
	s.Turns[tail] = turn
	if s.Count < s.Capacity {
		s.Count++
	} else {
		s.Head = (s.Head + 1) % s.Capacity
	}
}

// Context returns the live turns in chronological order.
func (s *Session) Context() []ConversationTurn {
	out := make([]ConversationTurn, 0, s.Count)
	for i := 0; i < s.Count; i++ {
		out = append(out, s.Turns[(s.Head+i)%s.Capacity])
	}
	return out
}

// RecentTurns returns up to n most recent turns in chronological order.
func (s *Session) RecentTurns(n int) []ConversationTurn {
	if n >= s.Count {
		return s.Context()
	}
	out := make([]ConversationTurn, 0, n)
	for i := s.Count - n; i < s.Count; i++ {
		out = append(out, s.Turns[(s.Head+i)%s.Capacity])
	}
	return out
}

// Touch advances last_activity_at, keeping it monotone even if the caller's
// clock stepped backwards.
func (s *Session) Touch(now time.Time) {
	if now.After(s.LastActivityAt) {
		s.LastActivityAt = now
	}
}

// IdleFor reports how long the session has been without activity.
func (s *Session) IdleFor(now time.Time) time.Duration {
	d := now.Sub(s.LastActivityAt)
	if d < 0 {
		return 0
	}
	return d
}
