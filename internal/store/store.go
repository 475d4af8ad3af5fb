// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/jaidee-care/jaidee-core/internal/domain"
)

// Repository defines the durable-store contract for conversation history,
// risk audit and follow-up schedules.
type Repository interface {
	// AppendTurn persists one conversation turn to durable history.
	// Turns are immutable; history survives eviction from the live
	// session context.
	AppendTurn(ctx context.Context, userID string, turn domain.ConversationTurn) error

	// History returns up to limit turns for a user, oldest first.
	// limit <= 0 means no limit.
	History(ctx context.Context, userID string, limit int) ([]domain.ConversationTurn, error)

	// RecentHistory returns the latest limit turns in chronological
	// order.
	RecentHistory(ctx context.Context, userID string, limit int) ([]domain.ConversationTurn, error)

	// SaveAssessment persists one risk assessment for audit and trends.
	SaveAssessment(ctx context.Context, userID string, a domain.RiskAssessment) error

	// RecentAssessments returns up to limit assessments, newest first.
	RecentAssessments(ctx context.Context, userID string, limit int) ([]domain.RiskAssessment, error)

	// ReplaceActiveSchedule cancels any active schedule for the user and
	// inserts sched as the single active one.
	ReplaceActiveSchedule(ctx context.Context, sched *domain.FollowUpSchedule) error

	// ActiveSchedule returns the user's active schedule, or a not-found
	// error when none exists.
	ActiveSchedule(ctx context.Context, userID string) (*domain.FollowUpSchedule, error)

	// DueSchedules returns active schedules whose next_due_at has passed.
	DueSchedules(ctx context.Context, now time.Time, limit int) ([]*domain.FollowUpSchedule, error)

	// ClaimAdvance atomically advances a schedule from seenIndex to
	// nextIndex with the new due time and status. It fails with a
	// conflict error when the schedule was claimed by a concurrent
	// sweep (next_index no longer equals seenIndex).
	ClaimAdvance(ctx context.Context, userID string, seenIndex, nextIndex int, nextDueAt time.Time, status domain.ScheduleStatus) error

	// CancelSchedule marks the user's active schedule cancelled, or
	// returns a not-found error when none is active.
	CancelSchedule(ctx context.Context, userID string) error

	// RecordFollowUpEvent appends one check-in outcome to the audit log.
	RecordFollowUpEvent(ctx context.Context, ev domain.FollowUpEvent) error

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
