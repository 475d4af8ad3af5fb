// Package followup owns durable check-in schedules and their dispatch.
package followup

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jaidee-care/jaidee-core/internal/domain"
	"github.com/jaidee-care/jaidee-core/internal/shared"
	"github.com/jaidee-care/jaidee-core/internal/store"
)

// Scheduler manages follow-up schedules. Schedules live in the relational
// store so dispatch survives process restarts without duplicate delivery.
type Scheduler struct {
	repo      store.Repository
	intervals []int

	conflicts atomic.Int64
	now       func() time.Time
}

// NewScheduler creates a scheduler with the configured day-offset intervals.
func NewScheduler(repo store.Repository, intervals []int) *Scheduler {
	return &Scheduler{
		repo:      repo,
		intervals: intervals,
		now:       time.Now,
	}
}

// OnEpisodeStart creates or resets the user's schedule anchored at
// anchorDate. Any prior active schedule is cancelled first, keeping at most
// one active schedule per user; restarting mid-schedule is deliberate — the
// intent is "watch closely starting now", not "keep the old cadence".
func (s *Scheduler) OnEpisodeStart(ctx context.Context, userID string, anchorDate time.Time) error {
	now := s.now()
	sched := &domain.FollowUpSchedule{
		UserID:     userID,
		AnchorDate: anchorDate,
		Intervals:  s.intervals,
		NextIndex:  0,
		NextDueAt:  anchorDate.AddDate(0, 0, s.intervals[0]),
		Status:     domain.ScheduleActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.ReplaceActiveSchedule(ctx, sched); err != nil {
		return fmt.Errorf("start episode for %s: %w", userID, err)
	}
	slog.Info("follow-up schedule reset",
		"user_id", userID,
		"anchor", anchorDate.Format(time.RFC3339),
		"next_due", sched.NextDueAt.Format(time.RFC3339))
	return nil
}

// DispatchDue claims every due schedule entry and returns the check-ins to
// deliver. It is idempotent under at-least-once invocation: each entry is
// advanced with a single atomic claim before the caller's delivery is
// considered, so overlapping sweeps never both claim the same interval.
//
// When the process was down across several due offsets, only the single
// most-overdue interval is emitted; the skipped ones are recorded as missed
// rather than flooding the user with backlogged check-ins.
func (s *Scheduler) DispatchDue(ctx context.Context, now time.Time) ([]domain.DueCheckIn, error) {
	due, err := s.repo.DueSchedules(ctx, now, 0)
	if err != nil {
		return nil, fmt.Errorf("scan due schedules: %w", err)
	}

	var out []domain.DueCheckIn
	for _, sched := range due {
		checkIn, claimed := s.claim(ctx, sched, now)
		if claimed {
			out = append(out, checkIn)
		}
	}
	return out, nil
}

// claim advances one due schedule past every elapsed offset and returns the
// check-in for its most-overdue interval.
func (s *Scheduler) claim(ctx context.Context, sched *domain.FollowUpSchedule, now time.Time) (domain.DueCheckIn, bool) {
	emit := sched.NextIndex

	// Fast-forward past every offset that already elapsed beyond the one
	// being emitted.
	next := emit + 1
	var missed []int
	for next < len(sched.Intervals) && !sched.DueAt(next).After(now) {
		missed = append(missed, sched.Intervals[next])
		next++
	}

	status := domain.ScheduleActive
	nextDueAt := sched.NextDueAt
	if next >= len(sched.Intervals) {
		status = domain.ScheduleCompleted
	} else {
		nextDueAt = sched.DueAt(next)
	}

	err := s.repo.ClaimAdvance(ctx, sched.UserID, emit, next, nextDueAt, status)
	if shared.IsConflict(err) {
		// A concurrent sweep got here first; it owns the delivery.
		s.conflicts.Add(1)
		slog.Debug("due entry already claimed by concurrent sweep", "user_id", sched.UserID)
		return domain.DueCheckIn{}, false
	}
	if err != nil {
		slog.Error("failed to claim due schedule", "user_id", sched.UserID, "error", err)
		return domain.DueCheckIn{}, false
	}

	for _, day := range missed {
		s.recordEvent(ctx, sched.UserID, day, "missed", now)
	}
	if status == domain.ScheduleCompleted {
		slog.Info("follow-up schedule completed", "user_id", sched.UserID)
	}

	return domain.DueCheckIn{
		UserID:      sched.UserID,
		IntervalDay: sched.Intervals[emit],
		DueAt:       sched.DueAt(emit),
	}, true
}

// RecordOutcome logs the delivery result of one dispatched check-in.
func (s *Scheduler) RecordOutcome(ctx context.Context, checkIn domain.DueCheckIn, delivered bool) {
	outcome := "sent"
	if !delivered {
		outcome = "failed"
	}
	s.recordEvent(ctx, checkIn.UserID, checkIn.IntervalDay, outcome, s.now())
}

func (s *Scheduler) recordEvent(ctx context.Context, userID string, day int, outcome string, at time.Time) {
	err := s.repo.RecordFollowUpEvent(ctx, domain.FollowUpEvent{
		UserID:      userID,
		IntervalDay: day,
		Outcome:     outcome,
		OccurredAt:  at,
	})
	if err != nil {
		slog.Warn("failed to record follow-up event",
			"user_id", userID, "interval_day", day, "outcome", outcome, "error", err)
	}
}

// Status returns the user's active schedule, or a not-found error when the
// user has none.
func (s *Scheduler) Status(ctx context.Context, userID string) (*domain.FollowUpSchedule, error) {
	return s.repo.ActiveSchedule(ctx, userID)
}

// Cancel stops the user's active schedule (opt-out or account deletion).
func (s *Scheduler) Cancel(ctx context.Context, userID string) error {
	if err := s.repo.CancelSchedule(ctx, userID); err != nil {
		return fmt.Errorf("cancel schedule for %s: %w", userID, err)
	}
	slog.Info("follow-up schedule cancelled", "user_id", userID)
	return nil
}

// ConflictCount reports how many due entries were lost to concurrent sweeps.
func (s *Scheduler) ConflictCount() int64 {
	return s.conflicts.Load()
}
