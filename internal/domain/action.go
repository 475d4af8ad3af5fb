package domain

import "time"

// ActionType identifies a side-effecting intent decided by the session
// manager. The manager never performs I/O; the caller executes actions
// against the messaging and notification collaborators.
type ActionType string

const (
	// ActionEscalate requests an emergency-contact alert for a
	// Critical-tier message.
	ActionEscalate ActionType = "escalate"
	// ActionResetFollowUp requests a fresh follow-up schedule anchored at
	// the action timestamp.
	ActionResetFollowUp ActionType = "reset_follow_up"
	// ActionNotifyTimeout requests the one-shot "session timed out"
	// notification to the user.
	ActionNotifyTimeout ActionType = "notify_timeout"
)

// Action is one ordered side-effect intent emitted by a session transition.
type Action struct {
	Type      ActionType
	UserID    string
	Tier      Tier
	Timestamp time.Time
	// Excerpt carries the triggering message text for escalation alerts.
	Excerpt string
}
