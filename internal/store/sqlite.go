package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"github.com/jaidee-care/jaidee-core/internal/domain"
	"github.com/jaidee-care/jaidee-core/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS conversation_turns (
		turn_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		role TEXT NOT NULL,
		text TEXT NOT NULL,
		tier TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_turns_user ON conversation_turns(user_id, created_at);

	CREATE TABLE IF NOT EXISTS risk_assessments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		tier TEXT NOT NULL,
		score REAL NOT NULL,
		factors_json TEXT,
		assessed_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_assessments_user ON risk_assessments(user_id, assessed_at);

	CREATE TABLE IF NOT EXISTS followup_schedules (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		anchor_date INTEGER NOT NULL,
		intervals TEXT NOT NULL,
		next_index INTEGER NOT NULL DEFAULT 0,
		next_due_at INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_schedules_one_active
		ON followup_schedules(user_id) WHERE status = 'active';
	CREATE INDEX IF NOT EXISTS idx_schedules_due
		ON followup_schedules(next_due_at) WHERE status = 'active';

	CREATE TABLE IF NOT EXISTS followup_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		interval_day INTEGER NOT NULL,
		outcome TEXT NOT NULL,
		occurred_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_followup_events_user ON followup_events(user_id, occurred_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// AppendTurn persists one conversation turn to durable history.
func (s *SQLiteStore) AppendTurn(ctx context.Context, userID string, turn domain.ConversationTurn) error {
	query := `
	INSERT INTO conversation_turns (turn_id, user_id, role, text, tier, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		turn.TurnID, userID, string(turn.Role), turn.Text,
		turn.Tier.String(), turn.Timestamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

// History returns up to limit turns for a user, oldest first.
func (s *SQLiteStore) History(ctx context.Context, userID string, limit int) ([]domain.ConversationTurn, error) {
	query := `
		SELECT turn_id, role, text, tier, created_at
		FROM conversation_turns WHERE user_id = ?
		ORDER BY created_at ASC, turn_id ASC`
	args := []interface{}{userID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close history rows", "error", closeErr)
		}
	}()

	var turns []domain.ConversationTurn
	for rows.Next() {
		var t domain.ConversationTurn
		var role, tier string
		var createdAt int64
		if err := rows.Scan(&t.TurnID, &role, &t.Text, &tier, &createdAt); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		t.Role = domain.Role(role)
		t.Tier = domain.ParseTier(tier)
		t.Timestamp = time.Unix(0, createdAt)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}

	return turns, nil
}

// RecentHistory returns the latest limit turns in chronological order.
func (s *SQLiteStore) RecentHistory(ctx context.Context, userID string, limit int) ([]domain.ConversationTurn, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT turn_id, role, text, tier, created_at
		FROM conversation_turns WHERE user_id = ?
		ORDER BY created_at DESC, turn_id DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent history: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close recent history rows", "error", closeErr)
		}
	}()

	var turns []domain.ConversationTurn
	for rows.Next() {
		var t domain.ConversationTurn
		var role, tier string
		var createdAt int64
		if err := rows.Scan(&t.TurnID, &role, &t.Text, &tier, &createdAt); err != nil {
			return nil, fmt.Errorf("scan recent turn row: %w", err)
		}
		t.Role = domain.Role(role)
		t.Tier = domain.ParseTier(tier)
		t.Timestamp = time.Unix(0, createdAt)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recent history: %w", err)
	}

	// Rows arrive newest first; callers want chronological order.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// SaveAssessment persists one risk assessment for audit.
func (s *SQLiteStore) SaveAssessment(ctx context.Context, userID string, a domain.RiskAssessment) error {
	var factors interface{}
	if len(a.Factors) > 0 {
		raw, err := json.Marshal(a.Factors)
		if err != nil {
			return fmt.Errorf("marshal factors: %w", err)
		}
		factors = string(raw)
	}

	query := `
	INSERT INTO risk_assessments (user_id, tier, score, factors_json, assessed_at)
	VALUES (?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		userID, a.Tier.String(), a.Score, factors, a.AssessedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("save assessment: %w", err)
	}
	return nil
}

// RecentAssessments returns up to limit assessments, newest first.
func (s *SQLiteStore) RecentAssessments(ctx context.Context, userID string, limit int) ([]domain.RiskAssessment, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT tier, score, factors_json, assessed_at
		FROM risk_assessments WHERE user_id = ?
		ORDER BY assessed_at DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query assessments: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close assessment rows", "error", closeErr)
		}
	}()

	var out []domain.RiskAssessment
	for rows.Next() {
		var a domain.RiskAssessment
		var tier string
		var factorsJSON sql.NullString
		var assessedAt int64
		if err := rows.Scan(&tier, &a.Score, &factorsJSON, &assessedAt); err != nil {
			return nil, fmt.Errorf("scan assessment row: %w", err)
		}
		a.Tier = domain.ParseTier(tier)
		a.AssessedAt = time.Unix(0, assessedAt)
		if factorsJSON.Valid {
			if err := json.Unmarshal([]byte(factorsJSON.String), &a.Factors); err != nil {
				return nil, fmt.Errorf("unmarshal factors: %w", err)
			}
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assessments: %w", err)
	}

	return out, nil
}

// ReplaceActiveSchedule cancels any active schedule for the user and inserts
// sched as the single active one. Both statements run in one transaction so
// the at-most-one-active invariant holds under concurrent episode starts.
func (s *SQLiteStore) ReplaceActiveSchedule(ctx context.Context, sched *domain.FollowUpSchedule) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace schedule: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx,
		`UPDATE followup_schedules SET status = 'cancelled', updated_at = ? WHERE user_id = ? AND status = 'active'`,
		sched.UpdatedAt.Unix(), sched.UserID,
	); err != nil {
		return fmt.Errorf("cancel prior schedule: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO followup_schedules (user_id, anchor_date, intervals, next_index, next_due_at, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, 'active', ?, ?)`,
		sched.UserID, sched.AnchorDate.Unix(), encodeIntervals(sched.Intervals),
		sched.NextIndex, sched.NextDueAt.Unix(),
		sched.CreatedAt.Unix(), sched.UpdatedAt.Unix(),
	); err != nil {
		return fmt.Errorf("insert schedule: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace schedule: %w", err)
	}
	return nil
}

// ActiveSchedule returns the user's active schedule.
func (s *SQLiteStore) ActiveSchedule(ctx context.Context, userID string) (*domain.FollowUpSchedule, error) {
	query := `
		SELECT user_id, anchor_date, intervals, next_index, next_due_at, status, created_at, updated_at
		FROM followup_schedules WHERE user_id = ? AND status = 'active'`

	sched, err := s.scanSchedule(s.db.QueryRowContext(ctx, query, userID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("active schedule for %s: %w", userID, errdefs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan active schedule: %w", err)
	}
	return sched, nil
}

// DueSchedules returns active schedules whose next_due_at has passed.
func (s *SQLiteStore) DueSchedules(ctx context.Context, now time.Time, limit int) ([]*domain.FollowUpSchedule, error) {
	if limit <= 0 {
		limit = 500
	}
	query := `
		SELECT user_id, anchor_date, intervals, next_index, next_due_at, status, created_at, updated_at
		FROM followup_schedules
		WHERE status = 'active' AND next_due_at <= ?
		ORDER BY next_due_at ASC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, now.Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("query due schedules: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close due schedule rows", "error", closeErr)
		}
	}()

	var out []*domain.FollowUpSchedule
	for rows.Next() {
		sched, err := s.scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan due schedule row: %w", err)
		}
		out = append(out, sched)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate due schedules: %w", err)
	}

	return out, nil
}

// ClaimAdvance atomically advances a schedule using an optimistic check on
// next_index. Zero rows affected means another sweep already claimed the
// entry.
func (s *SQLiteStore) ClaimAdvance(ctx context.Context, userID string, seenIndex, nextIndex int, nextDueAt time.Time, status domain.ScheduleStatus) error {
	query := `
	UPDATE followup_schedules
	SET next_index = ?, next_due_at = ?, status = ?, updated_at = ?
	WHERE user_id = ? AND status = 'active' AND next_index = ?`

	result, err := s.db.ExecContext(ctx, query,
		nextIndex, nextDueAt.Unix(), string(status), time.Now().Unix(),
		userID, seenIndex,
	)
	if err != nil {
		return fmt.Errorf("claim schedule advance: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return shared.Conflict("claim schedule advance for " + userID)
	}
	return nil
}

// CancelSchedule marks the user's active schedule cancelled. Zero rows
// affected means there was nothing active to cancel.
func (s *SQLiteStore) CancelSchedule(ctx context.Context, userID string) error {
	query := `UPDATE followup_schedules SET status = 'cancelled', updated_at = ? WHERE user_id = ? AND status = 'active'`
	result, err := s.db.ExecContext(ctx, query, time.Now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("cancel schedule: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("no active schedule for %s: %w", userID, errdefs.ErrNotFound)
	}
	return nil
}

// RecordFollowUpEvent appends one check-in outcome to the audit log.
func (s *SQLiteStore) RecordFollowUpEvent(ctx context.Context, ev domain.FollowUpEvent) error {
	query := `
	INSERT INTO followup_events (user_id, interval_day, outcome, occurred_at)
	VALUES (?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query,
		ev.UserID, ev.IntervalDay, ev.Outcome, ev.OccurredAt.Unix()); err != nil {
		return fmt.Errorf("record followup event: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *SQLiteStore) scanSchedule(row rowScanner) (*domain.FollowUpSchedule, error) {
	var sched domain.FollowUpSchedule
	var anchor, nextDue, createdAt, updatedAt int64
	var intervals, status string

	err := row.Scan(&sched.UserID, &anchor, &intervals, &sched.NextIndex,
		&nextDue, &status, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	sched.AnchorDate = time.Unix(anchor, 0)
	sched.NextDueAt = time.Unix(nextDue, 0)
	sched.Status = domain.ScheduleStatus(status)
	sched.CreatedAt = time.Unix(createdAt, 0)
	sched.UpdatedAt = time.Unix(updatedAt, 0)

	parsed, err := decodeIntervals(intervals)
	if err != nil {
		return nil, err
	}
	sched.Intervals = parsed

	return &sched, nil
}

func encodeIntervals(intervals []int) string {
	parts := make([]string, len(intervals))
	for i, d := range intervals {
		parts[i] = strconv.Itoa(d)
	}
	return strings.Join(parts, ",")
}

func decodeIntervals(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("decode intervals %q: %w", s, err)
		}
		out = append(out, n)
	}
	return out, nil
}
