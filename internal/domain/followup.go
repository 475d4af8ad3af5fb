// Package domain contains core domain types for the Jai Dee engine.
package domain

import "time"

// ScheduleStatus is the lifecycle status of a follow-up schedule.
type ScheduleStatus string

const (
	ScheduleActive    ScheduleStatus = "active"
	ScheduleCompleted ScheduleStatus = "completed"
	ScheduleCancelled ScheduleStatus = "cancelled"
)

// FollowUpSchedule is a user's outstanding check-in plan. At most one Active
// schedule exists per user. While Active, NextDueAt always equals
// AnchorDate + Intervals[NextIndex] days.
type FollowUpSchedule struct {
	UserID     string
	AnchorDate time.Time
	Intervals  []int
	NextIndex  int
	NextDueAt  time.Time
	Status     ScheduleStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Remaining returns the number of check-ins not yet dispatched.
func (s *FollowUpSchedule) Remaining() int {
	if s.Status != ScheduleActive {
		return 0
	}
	return len(s.Intervals) - s.NextIndex
}

// DueAt returns the due time of the interval at index i.
func (s *FollowUpSchedule) DueAt(i int) time.Time {
	return s.AnchorDate.AddDate(0, 0, s.Intervals[i])
}

// DueCheckIn is one check-in claimed for delivery by a dispatch sweep.
type DueCheckIn struct {
	UserID      string
	IntervalDay int
	DueAt       time.Time
}

// FollowUpEvent records the outcome of one scheduled check-in for audit.
type FollowUpEvent struct {
	UserID      string
	IntervalDay int
	Outcome     string // "sent", "failed" or "missed"
	OccurredAt  time.Time
}
