package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/watzon/ruletick/internal/database"
)

// ErrDuplicateSuccess is returned when a window end is recorded as
// succeeded twice for the same schedule.
var ErrDuplicateSuccess = errors.New("window already recorded as succeeded")

// DefaultPageSize is used when a PageRequest has no limit.
const DefaultPageSize = 50

const maxPageSize = 1000

// Execer is satisfied by *database.DB and *database.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Store handles database operations for execution history.
type Store struct {
	db       *database.DB
	pageSize int
}

// NewStore creates a new history store.
func NewStore(db *database.DB) *Store {
	return &Store{db: db, pageSize: DefaultPageSize}
}

// WithPageSize sets the limit used for requests that do not specify one.
func (s *Store) WithPageSize(n int) *Store {
	if n > 0 {
		s.pageSize = n
	}
	return s
}

// Append inserts an entry and sets its ID.
func (s *Store) Append(ctx context.Context, entry *Entry) error {
	return AppendTx(ctx, s.db, entry)
}

// AppendTx inserts an entry using the given executor, so it can share a
// transaction with a tracker update.
func AppendTx(ctx context.Context, exec Execer, entry *Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO execution_history (
			schedule_id, schedule_name, execution_time_ms, window_from_ms,
			effective_execution_time_ms, duration_ms, status, message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := exec.ExecContext(ctx, query,
		entry.ScheduleID,
		entry.ScheduleName,
		entry.ExecutionTimeMs,
		database.NullInt64(entry.WindowFromMs),
		entry.EffectiveExecutionTimeMs,
		entry.DurationMs,
		entry.Status,
		entry.Message,
	)
	if err != nil {
		if database.IsUniqueError(database.ClassifyError(err)) {
			return fmt.Errorf("%w: schedule %s at %d", ErrDuplicateSuccess, entry.ScheduleID, entry.EffectiveExecutionTimeMs)
		}
		return fmt.Errorf("inserting history entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting history entry id: %w", err)
	}
	entry.ID = id

	return nil
}

// List returns a page of a schedule's history, newest first. Entries with the
// same execution time are ordered by insertion, latest first.
func (s *Store) List(ctx context.Context, scheduleID string, req PageRequest) (*Page, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = s.pageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset := req.Offset
	if offset < 0 {
		offset = 0
	}

	page := &Page{Offset: offset, Limit: limit}

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM execution_history WHERE schedule_id = ?`, scheduleID,
	).Scan(&page.Total)
	if err != nil {
		return nil, fmt.Errorf("counting history entries: %w", err)
	}

	query := `
		SELECT id, schedule_id, schedule_name, execution_time_ms, window_from_ms,
		       effective_execution_time_ms, duration_ms, status, message
		FROM execution_history
		WHERE schedule_id = ?
		ORDER BY execution_time_ms DESC, id DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, scheduleID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("querying history entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var entry Entry
		var windowFrom sql.NullInt64

		if err := rows.Scan(
			&entry.ID,
			&entry.ScheduleID,
			&entry.ScheduleName,
			&entry.ExecutionTimeMs,
			&windowFrom,
			&entry.EffectiveExecutionTimeMs,
			&entry.DurationMs,
			&entry.Status,
			&entry.Message,
		); err != nil {
			return nil, fmt.Errorf("scanning history entry: %w", err)
		}
		entry.WindowFromMs = database.Int64Ptr(windowFrom)

		page.Entries = append(page.Entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating history entries: %w", err)
	}

	return page, nil
}

// DeleteOlderThan removes entries executed before the given instant and
// returns how many were removed.
func (s *Store) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM execution_history WHERE execution_time_ms < ?`, before.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("deleting old history entries: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}

	return rows, nil
}

// DeleteForSchedule removes all entries of a schedule.
func DeleteForSchedule(ctx context.Context, exec Execer, scheduleID string) error {
	if _, err := exec.ExecContext(ctx, `DELETE FROM execution_history WHERE schedule_id = ?`, scheduleID); err != nil {
		return fmt.Errorf("deleting history for schedule %s: %w", scheduleID, err)
	}
	return nil
}
