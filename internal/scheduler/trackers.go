package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/watzon/ruletick/internal/database"
	"github.com/watzon/ruletick/internal/history"
	"github.com/watzon/ruletick/internal/schedule"
)

// Claim is a time-limited execution claim over a schedule.
type Claim struct {
	ScheduleID   string
	Holder       string
	AcquiredAtMs int64
	ExpiresAtMs  int64
}

// Expired reports whether the claim has lapsed at nowMs.
func (c *Claim) Expired(nowMs int64) bool {
	return c.ExpiresAtMs <= nowMs
}

// TrackerStore persists trackers and execution claims in SQLite. It
// implements TrackerRepository.
type TrackerStore struct {
	db  *database.DB
	now func() time.Time
}

// NewTrackerStore creates a new tracker store.
func NewTrackerStore(db *database.DB) *TrackerStore {
	return &TrackerStore{db: db, now: time.Now}
}

// Get returns the tracker of a schedule, or nil if it has none.
func (s *TrackerStore) Get(ctx context.Context, scheduleID string) (*schedule.Tracker, error) {
	query := `
		SELECT actual_execution_time_ms, last_effective_execution_time_ms, next_effective_execution_time_ms
		FROM trackers
		WHERE schedule_id = ?
	`

	var tracker schedule.Tracker
	var next sql.NullInt64
	err := s.db.QueryRowContext(ctx, query, scheduleID).Scan(
		&tracker.ActualExecutionTimeMs,
		&tracker.LastEffectiveExecutionTimeMs,
		&next,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting tracker: %w", err)
	}

	tracker.NextEffectiveExecutionTimeMs = database.Int64Ptr(next)
	return &tracker, nil
}

// Seed stores tracker unless the schedule already has one, and returns the
// tracker that is stored afterwards.
func (s *TrackerStore) Seed(ctx context.Context, scheduleID string, tracker *schedule.Tracker) (*schedule.Tracker, error) {
	query := `
		INSERT INTO trackers (
			schedule_id, actual_execution_time_ms, last_effective_execution_time_ms,
			next_effective_execution_time_ms, updated_at
		)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(schedule_id) DO NOTHING
	`

	_, err := s.db.ExecContext(ctx, query,
		scheduleID,
		tracker.ActualExecutionTimeMs,
		tracker.LastEffectiveExecutionTimeMs,
		database.NullInt64(tracker.NextEffectiveExecutionTimeMs),
		database.Timestamp(s.now()),
	)
	if err != nil {
		return nil, fmt.Errorf("seeding tracker: %w", err)
	}

	stored, err := s.Get(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, fmt.Errorf("seeding tracker: %w", ErrScheduleNotFound)
	}
	return stored, nil
}

// TryClaim claims a schedule for holder until now+ttl. It succeeds when no
// claim exists, the existing claim has expired, or holder already owns it.
func (s *TrackerStore) TryClaim(ctx context.Context, scheduleID, holder string, ttl time.Duration) (bool, error) {
	nowMs := s.now().UnixMilli()

	query := `
		INSERT INTO execution_claims (schedule_id, holder, acquired_at_ms, expires_at_ms)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(schedule_id) DO UPDATE SET
			holder = excluded.holder,
			acquired_at_ms = CASE
				WHEN execution_claims.holder = excluded.holder THEN execution_claims.acquired_at_ms
				ELSE excluded.acquired_at_ms
			END,
			expires_at_ms = excluded.expires_at_ms
		WHERE execution_claims.expires_at_ms <= ? OR execution_claims.holder = excluded.holder
	`

	result, err := s.db.ExecContext(ctx, query, scheduleID, holder, nowMs, nowMs+ttl.Milliseconds(), nowMs)
	if err != nil {
		if database.IsForeignKeyError(database.ClassifyError(err)) {
			return false, fmt.Errorf("%w: %s", ErrScheduleNotFound, scheduleID)
		}
		return false, fmt.Errorf("claiming schedule: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}

	return n == 1, nil
}

// Release drops the claim if holder still owns it.
func (s *TrackerStore) Release(ctx context.Context, scheduleID, holder string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM execution_claims WHERE schedule_id = ? AND holder = ?`,
		scheduleID, holder,
	)
	if err != nil {
		return fmt.Errorf("releasing claim: %w", err)
	}
	return nil
}

// GetClaim returns the current claim of a schedule, or nil if unclaimed.
// Expired claims are returned as stored.
func (s *TrackerStore) GetClaim(ctx context.Context, scheduleID string) (*Claim, error) {
	query := `
		SELECT schedule_id, holder, acquired_at_ms, expires_at_ms
		FROM execution_claims
		WHERE schedule_id = ?
	`

	var claim Claim
	err := s.db.QueryRowContext(ctx, query, scheduleID).Scan(
		&claim.ScheduleID,
		&claim.Holder,
		&claim.AcquiredAtMs,
		&claim.ExpiresAtMs,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting claim: %w", err)
	}

	return &claim, nil
}

// Commit applies c in a single transaction. When c.Holder is set the commit
// fails with ErrClaimLost unless Holder still owns the claim. A tracker whose
// watermark is behind the stored one fails with ErrWatermarkRegression.
func (s *TrackerStore) Commit(ctx context.Context, c Commit) error {
	return s.db.Transaction(ctx, func(tx *database.Tx) error {
		if c.Holder != "" {
			var holder string
			err := tx.QueryRowContext(ctx,
				`SELECT holder FROM execution_claims WHERE schedule_id = ?`, c.ScheduleID,
			).Scan(&holder)
			if errors.Is(err, sql.ErrNoRows) || (err == nil && holder != c.Holder) {
				return ErrClaimLost
			}
			if err != nil {
				return fmt.Errorf("checking claim: %w", err)
			}
		}

		if c.Tracker != nil {
			if err := s.upsertTracker(ctx, tx, c.ScheduleID, c.Tracker); err != nil {
				return err
			}
		}

		if c.Entry != nil {
			if err := history.AppendTx(ctx, tx, c.Entry); err != nil {
				return err
			}
		}

		if c.ReleaseClaim && c.Holder != "" {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM execution_claims WHERE schedule_id = ? AND holder = ?`,
				c.ScheduleID, c.Holder,
			); err != nil {
				return fmt.Errorf("releasing claim: %w", err)
			}
		}

		return nil
	})
}

func (s *TrackerStore) upsertTracker(ctx context.Context, tx *database.Tx, scheduleID string, tracker *schedule.Tracker) error {
	query := `
		INSERT INTO trackers (
			schedule_id, actual_execution_time_ms, last_effective_execution_time_ms,
			next_effective_execution_time_ms, updated_at
		)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(schedule_id) DO UPDATE SET
			actual_execution_time_ms = excluded.actual_execution_time_ms,
			last_effective_execution_time_ms = excluded.last_effective_execution_time_ms,
			next_effective_execution_time_ms = excluded.next_effective_execution_time_ms,
			updated_at = excluded.updated_at
		WHERE trackers.last_effective_execution_time_ms <= excluded.last_effective_execution_time_ms
	`

	result, err := tx.ExecContext(ctx, query,
		scheduleID,
		tracker.ActualExecutionTimeMs,
		tracker.LastEffectiveExecutionTimeMs,
		database.NullInt64(tracker.NextEffectiveExecutionTimeMs),
		database.Timestamp(s.now()),
	)
	if err != nil {
		if database.IsForeignKeyError(database.ClassifyError(err)) {
			return fmt.Errorf("%w: %s", ErrScheduleNotFound, scheduleID)
		}
		return fmt.Errorf("saving tracker: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return ErrWatermarkRegression
	}

	return nil
}
