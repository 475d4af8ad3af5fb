package store

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/jaidee-care/jaidee-core/internal/domain"
	"github.com/jaidee-care/jaidee-core/internal/shared"
)

func testStore(t *testing.T) Repository {
	t.Helper()
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create test store: %v", err)
	}
	t.Cleanup(func() {
		if err := repo.Close(); err != nil {
			t.Errorf("Failed to close store: %v", err)
		}
	})
	return repo
}

func TestSQLiteStore_TurnHistoryOrdering(t *testing.T) {
	repo := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		turn := domain.ConversationTurn{
			TurnID:    "t" + strconv.Itoa(i),
			Role:      domain.RoleUser,
			Text:      "message " + strconv.Itoa(i),
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Tier:      domain.TierLow,
		}
		if err := repo.AppendTurn(ctx, "u1", turn); err != nil {
			t.Fatalf("AppendTurn failed: %v", err)
		}
	}

	turns, err := repo.History(ctx, "u1", 0)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(turns) != 5 {
		t.Fatalf("Expected 5 turns, got %d", len(turns))
	}
	for i, turn := range turns {
		if turn.TurnID != "t"+strconv.Itoa(i) {
			t.Errorf("Turn %d out of order: got %s", i, turn.TurnID)
		}
	}
	if !turns[0].Timestamp.Equal(base) {
		t.Errorf("Timestamp lost precision: got %v", turns[0].Timestamp)
	}

	limited, err := repo.History(ctx, "u1", 2)
	if err != nil {
		t.Fatalf("History with limit failed: %v", err)
	}
	if len(limited) != 2 || limited[0].TurnID != "t0" {
		t.Errorf("Expected oldest 2 turns, got %v", limited)
	}
}

func TestSQLiteStore_RecentHistoryIsLatestChronological(t *testing.T) {
	repo := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		turn := domain.ConversationTurn{
			TurnID:    "t" + strconv.Itoa(i),
			Role:      domain.RoleUser,
			Text:      "message",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Tier:      domain.TierLow,
		}
		if err := repo.AppendTurn(ctx, "u1", turn); err != nil {
			t.Fatalf("AppendTurn failed: %v", err)
		}
	}

	turns, err := repo.RecentHistory(ctx, "u1", 2)
	if err != nil {
		t.Fatalf("RecentHistory failed: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("Expected 2 turns, got %d", len(turns))
	}
	if turns[0].TurnID != "t3" || turns[1].TurnID != "t4" {
		t.Errorf("Expected latest 2 in chronological order, got %s,%s", turns[0].TurnID, turns[1].TurnID)
	}
}

func TestSQLiteStore_HistoryIsolatedPerUser(t *testing.T) {
	repo := testStore(t)
	ctx := context.Background()
	now := time.Now()

	_ = repo.AppendTurn(ctx, "u1", domain.ConversationTurn{TurnID: "a", Role: domain.RoleUser, Text: "x", Timestamp: now})
	_ = repo.AppendTurn(ctx, "u2", domain.ConversationTurn{TurnID: "b", Role: domain.RoleUser, Text: "y", Timestamp: now})

	turns, err := repo.History(ctx, "u1", 0)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(turns) != 1 || turns[0].TurnID != "a" {
		t.Errorf("Expected only u1's turn, got %v", turns)
	}
}

func TestSQLiteStore_AssessmentRoundTrip(t *testing.T) {
	repo := testStore(t)
	ctx := context.Background()

	a := domain.RiskAssessment{
		Tier:       domain.TierHigh,
		Score:      0.7,
		Factors:    []string{"self-harm:suicide", "repeated-elevated-mentions:+0.15"},
		AssessedAt: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := repo.SaveAssessment(ctx, "u1", a); err != nil {
		t.Fatalf("SaveAssessment failed: %v", err)
	}
	later := a
	later.Tier = domain.TierLow
	later.Score = 0.1
	later.Factors = nil
	later.AssessedAt = a.AssessedAt.Add(time.Hour)
	if err := repo.SaveAssessment(ctx, "u1", later); err != nil {
		t.Fatalf("SaveAssessment failed: %v", err)
	}

	got, err := repo.RecentAssessments(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("RecentAssessments failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 assessments, got %d", len(got))
	}
	// Newest first.
	if got[0].Tier != domain.TierLow || got[1].Tier != domain.TierHigh {
		t.Errorf("Expected newest first, got %v then %v", got[0].Tier, got[1].Tier)
	}
	if len(got[1].Factors) != 2 {
		t.Errorf("Factors lost in round trip: %v", got[1].Factors)
	}
	if len(got[0].Factors) != 0 {
		t.Errorf("Expected no factors on calm assessment, got %v", got[0].Factors)
	}
}

func testSchedule(userID string, anchor time.Time) *domain.FollowUpSchedule {
	return &domain.FollowUpSchedule{
		UserID:     userID,
		AnchorDate: anchor,
		Intervals:  []int{1, 3, 7, 14, 30},
		NextIndex:  0,
		NextDueAt:  anchor.AddDate(0, 0, 1),
		Status:     domain.ScheduleActive,
		CreatedAt:  anchor,
		UpdatedAt:  anchor,
	}
}

func TestSQLiteStore_ScheduleRoundTrip(t *testing.T) {
	repo := testStore(t)
	ctx := context.Background()
	anchor := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

	if err := repo.ReplaceActiveSchedule(ctx, testSchedule("u1", anchor)); err != nil {
		t.Fatalf("ReplaceActiveSchedule failed: %v", err)
	}

	got, err := repo.ActiveSchedule(ctx, "u1")
	if err != nil {
		t.Fatalf("ActiveSchedule failed: %v", err)
	}
	if !got.AnchorDate.Equal(anchor) {
		t.Errorf("Anchor lost: got %v", got.AnchorDate)
	}
	if len(got.Intervals) != 5 || got.Intervals[4] != 30 {
		t.Errorf("Intervals lost: got %v", got.Intervals)
	}
	if !got.NextDueAt.Equal(anchor.AddDate(0, 0, 1)) {
		t.Errorf("Next due lost: got %v", got.NextDueAt)
	}
}

func TestSQLiteStore_ActiveScheduleNotFound(t *testing.T) {
	repo := testStore(t)

	_, err := repo.ActiveSchedule(context.Background(), "nobody")
	if !shared.IsNotFound(err) {
		t.Errorf("Expected not-found error, got %v", err)
	}
}

func TestSQLiteStore_ReplaceKeepsOneActive(t *testing.T) {
	repo := testStore(t)
	ctx := context.Background()
	anchor := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

	if err := repo.ReplaceActiveSchedule(ctx, testSchedule("u1", anchor)); err != nil {
		t.Fatalf("ReplaceActiveSchedule failed: %v", err)
	}
	second := testSchedule("u1", anchor.AddDate(0, 0, 5))
	if err := repo.ReplaceActiveSchedule(ctx, second); err != nil {
		t.Fatalf("Second ReplaceActiveSchedule failed: %v", err)
	}

	got, err := repo.ActiveSchedule(ctx, "u1")
	if err != nil {
		t.Fatalf("ActiveSchedule failed: %v", err)
	}
	if !got.AnchorDate.Equal(second.AnchorDate) {
		t.Errorf("Expected the replacing schedule, got anchor %v", got.AnchorDate)
	}
}

func TestSQLiteStore_DueSchedules(t *testing.T) {
	repo := testStore(t)
	ctx := context.Background()
	anchor := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

	_ = repo.ReplaceActiveSchedule(ctx, testSchedule("u1", anchor))
	_ = repo.ReplaceActiveSchedule(ctx, testSchedule("u2", anchor.AddDate(0, 0, 10)))

	due, err := repo.DueSchedules(ctx, anchor.AddDate(0, 0, 2), 0)
	if err != nil {
		t.Fatalf("DueSchedules failed: %v", err)
	}
	if len(due) != 1 || due[0].UserID != "u1" {
		t.Errorf("Expected only u1 due, got %v", due)
	}
}

func TestSQLiteStore_ClaimAdvanceConflict(t *testing.T) {
	repo := testStore(t)
	ctx := context.Background()
	anchor := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

	if err := repo.ReplaceActiveSchedule(ctx, testSchedule("u1", anchor)); err != nil {
		t.Fatalf("ReplaceActiveSchedule failed: %v", err)
	}

	nextDue := anchor.AddDate(0, 0, 3)
	if err := repo.ClaimAdvance(ctx, "u1", 0, 1, nextDue, domain.ScheduleActive); err != nil {
		t.Fatalf("First claim failed: %v", err)
	}

	// Second claim against the same seen index loses.
	err := repo.ClaimAdvance(ctx, "u1", 0, 1, nextDue, domain.ScheduleActive)
	if !shared.IsConflict(err) {
		t.Errorf("Expected conflict on stale claim, got %v", err)
	}

	got, err := repo.ActiveSchedule(ctx, "u1")
	if err != nil {
		t.Fatalf("ActiveSchedule failed: %v", err)
	}
	if got.NextIndex != 1 {
		t.Errorf("Expected index 1 after single claim, got %d", got.NextIndex)
	}
}

func TestSQLiteStore_ClaimAdvanceCompletes(t *testing.T) {
	repo := testStore(t)
	ctx := context.Background()
	anchor := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

	sched := testSchedule("u1", anchor)
	sched.Intervals = []int{1}
	if err := repo.ReplaceActiveSchedule(ctx, sched); err != nil {
		t.Fatalf("ReplaceActiveSchedule failed: %v", err)
	}

	if err := repo.ClaimAdvance(ctx, "u1", 0, 1, sched.NextDueAt, domain.ScheduleCompleted); err != nil {
		t.Fatalf("Completing claim failed: %v", err)
	}
	if _, err := repo.ActiveSchedule(ctx, "u1"); !shared.IsNotFound(err) {
		t.Errorf("Completed schedule must not be active, got %v", err)
	}
}

func TestSQLiteStore_CancelSchedule(t *testing.T) {
	repo := testStore(t)
	ctx := context.Background()
	anchor := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

	if err := repo.ReplaceActiveSchedule(ctx, testSchedule("u1", anchor)); err != nil {
		t.Fatalf("ReplaceActiveSchedule failed: %v", err)
	}
	if err := repo.CancelSchedule(ctx, "u1"); err != nil {
		t.Fatalf("CancelSchedule failed: %v", err)
	}
	if _, err := repo.ActiveSchedule(ctx, "u1"); !shared.IsNotFound(err) {
		t.Errorf("Cancelled schedule must not be active, got %v", err)
	}

	// Cancelling again reports that nothing was active.
	if err := repo.CancelSchedule(ctx, "u1"); !shared.IsNotFound(err) {
		t.Errorf("Cancel with nothing active must report not-found, got %v", err)
	}
}

func TestSQLiteStore_CancelScheduleWithoutSchedule(t *testing.T) {
	repo := testStore(t)
	ctx := context.Background()

	if err := repo.CancelSchedule(ctx, "nobody"); !shared.IsNotFound(err) {
		t.Errorf("Cancel for a user with no schedule must report not-found, got %v", err)
	}
}

func TestSQLiteStore_RecordFollowUpEvent(t *testing.T) {
	repo := testStore(t)
	ctx := context.Background()

	ev := domain.FollowUpEvent{
		UserID:      "u1",
		IntervalDay: 3,
		Outcome:     "sent",
		OccurredAt:  time.Now(),
	}
	if err := repo.RecordFollowUpEvent(ctx, ev); err != nil {
		t.Errorf("RecordFollowUpEvent failed: %v", err)
	}
}

func TestEncodeDecodeIntervals(t *testing.T) {
	out, err := decodeIntervals(encodeIntervals([]int{1, 3, 7, 14, 30}))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(out) != 5 || out[0] != 1 || out[4] != 30 {
		t.Errorf("Round trip lost intervals: %v", out)
	}

	if _, err := decodeIntervals("1,x,3"); err == nil {
		t.Error("Expected error for malformed intervals")
	}
}
