package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/watzon/ruletick/internal/database"
	"github.com/watzon/ruletick/internal/history"
	"github.com/watzon/ruletick/internal/schedule"
)

const scheduleColumns = `id, name, rule_ref, node_name, enabled, schedule_type, expression, timezone,
		       contiguous, start_time_ms, end_time_ms, run_as_user_uuid, run_as_user_name,
		       created_at, updated_at`

// Store handles database operations for schedules.
type Store struct {
	db *database.DB
}

// NewStore creates a new schedule store.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// Create inserts a new schedule.
func (s *Store) Create(ctx context.Context, sched *schedule.Schedule) error {
	if sched.ID == "" {
		sched.ID = uuid.New().String()
	}
	now := database.Now()
	if sched.CreatedAt.IsZero() {
		sched.CreatedAt = now
	}
	if sched.UpdatedAt.IsZero() {
		sched.UpdatedAt = now
	}
	sched.CreatedAt = database.StoredTime(sched.CreatedAt)
	sched.UpdatedAt = database.StoredTime(sched.UpdatedAt)
	if sched.Timezone == "" {
		sched.Timezone = "UTC"
	}

	query := `
		INSERT INTO schedules (` + scheduleColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		sched.ID,
		sched.Name,
		sched.RuleRef,
		sched.NodeName,
		sched.Enabled,
		string(sched.Type),
		sched.Expression,
		sched.Timezone,
		sched.Contiguous,
		database.NullInt64(sched.Bounds.StartMs),
		database.NullInt64(sched.Bounds.EndMs),
		sched.RunAsUser.UUID,
		sched.RunAsUser.Name,
		database.Timestamp(sched.CreatedAt),
		database.Timestamp(sched.UpdatedAt),
	)
	if err != nil {
		if database.IsUniqueError(database.ClassifyError(err)) {
			return fmt.Errorf("%w: %s", ErrDuplicateName, sched.Name)
		}
		return fmt.Errorf("inserting schedule: %w", err)
	}

	return nil
}

// Update updates an existing schedule.
func (s *Store) Update(ctx context.Context, sched *schedule.Schedule) error {
	sched.UpdatedAt = database.Now()
	if sched.Timezone == "" {
		sched.Timezone = "UTC"
	}

	query := `
		UPDATE schedules
		SET name = ?, rule_ref = ?, node_name = ?, enabled = ?, schedule_type = ?, expression = ?,
		    timezone = ?, contiguous = ?, start_time_ms = ?, end_time_ms = ?,
		    run_as_user_uuid = ?, run_as_user_name = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		sched.Name,
		sched.RuleRef,
		sched.NodeName,
		sched.Enabled,
		string(sched.Type),
		sched.Expression,
		sched.Timezone,
		sched.Contiguous,
		database.NullInt64(sched.Bounds.StartMs),
		database.NullInt64(sched.Bounds.EndMs),
		sched.RunAsUser.UUID,
		sched.RunAsUser.Name,
		database.Timestamp(sched.UpdatedAt),
		sched.ID,
	)
	if err != nil {
		if database.IsUniqueError(database.ClassifyError(err)) {
			return fmt.Errorf("%w: %s", ErrDuplicateName, sched.Name)
		}
		return fmt.Errorf("updating schedule: %w", err)
	}

	return requireRow(result, sched.ID)
}

// Disable marks a schedule disabled.
func (s *Store) Disable(ctx context.Context, scheduleID string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE schedules SET enabled = 0, updated_at = ? WHERE id = ?`,
		database.Timestamp(database.Now()), scheduleID,
	)
	if err != nil {
		return fmt.Errorf("disabling schedule: %w", err)
	}

	return requireRow(result, scheduleID)
}

// Delete removes a schedule with its tracker, claim and history.
func (s *Store) Delete(ctx context.Context, scheduleID string) error {
	return s.db.Transaction(ctx, func(tx *database.Tx) error {
		if err := history.DeleteForSchedule(ctx, tx, scheduleID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM execution_claims WHERE schedule_id = ?`, scheduleID); err != nil {
			return fmt.Errorf("deleting claim: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM trackers WHERE schedule_id = ?`, scheduleID); err != nil {
			return fmt.Errorf("deleting tracker: %w", err)
		}

		result, err := tx.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, scheduleID)
		if err != nil {
			return fmt.Errorf("deleting schedule: %w", err)
		}
		return requireRow(result, scheduleID)
	})
}

// Get retrieves a schedule by ID.
func (s *Store) Get(ctx context.Context, scheduleID string) (*schedule.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules WHERE id = ?`

	sched, err := scanSchedule(s.db.QueryRowContext(ctx, query, scheduleID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrScheduleNotFound, scheduleID)
		}
		return nil, fmt.Errorf("getting schedule: %w", err)
	}

	return sched, nil
}

// GetByName retrieves a schedule by its unique name.
func (s *Store) GetByName(ctx context.Context, name string) (*schedule.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules WHERE name = ?`

	sched, err := scanSchedule(s.db.QueryRowContext(ctx, query, name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrScheduleNotFound, name)
		}
		return nil, fmt.Errorf("getting schedule by name: %w", err)
	}

	return sched, nil
}

// List retrieves all schedules.
func (s *Store) List(ctx context.Context) ([]*schedule.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules ORDER BY name ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying schedules: %w", err)
	}
	defer rows.Close()

	return scanSchedules(rows)
}

// FindByRule finds schedules owned by a rule.
func (s *Store) FindByRule(ctx context.Context, ruleRef string) ([]*schedule.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules WHERE rule_ref = ? ORDER BY name ASC`

	rows, err := s.db.QueryContext(ctx, query, ruleRef)
	if err != nil {
		return nil, fmt.Errorf("querying schedules by rule: %w", err)
	}
	defer rows.Close()

	return scanSchedules(rows)
}

// ListEnabledForNode returns enabled schedules whose node affinity matches
// nodeName, ordered by name.
func (s *Store) ListEnabledForNode(ctx context.Context, nodeName string) ([]*schedule.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules WHERE enabled = 1 ORDER BY name ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying enabled schedules: %w", err)
	}
	defer rows.Close()

	all, err := scanSchedules(rows)
	if err != nil {
		return nil, err
	}

	matched := all[:0]
	for _, sched := range all {
		if MatchesNode(sched.NodeName, nodeName) {
			matched = append(matched, sched)
		}
	}

	return matched, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row rowScanner) (*schedule.Schedule, error) {
	var sched schedule.Schedule
	var scheduleType string
	var startMs, endMs sql.NullInt64
	var createdAt, updatedAt string

	err := row.Scan(
		&sched.ID,
		&sched.Name,
		&sched.RuleRef,
		&sched.NodeName,
		&sched.Enabled,
		&scheduleType,
		&sched.Expression,
		&sched.Timezone,
		&sched.Contiguous,
		&startMs,
		&endMs,
		&sched.RunAsUser.UUID,
		&sched.RunAsUser.Name,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	sched.Type = schedule.Type(scheduleType)
	sched.Bounds = schedule.Bounds{
		StartMs: database.Int64Ptr(startMs),
		EndMs:   database.Int64Ptr(endMs),
	}

	if sched.CreatedAt, err = database.ParseTimestamp(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if sched.UpdatedAt, err = database.ParseTimestamp(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &sched, nil
}

func scanSchedules(rows *sql.Rows) ([]*schedule.Schedule, error) {
	var schedules []*schedule.Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning schedule: %w", err)
		}
		schedules = append(schedules, sched)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating schedules: %w", err)
	}

	return schedules, nil
}

func requireRow(result sql.Result, scheduleID string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrScheduleNotFound, scheduleID)
	}
	return nil
}
