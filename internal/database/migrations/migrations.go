// Package migrations provides the embedded SQL migrations for the ruletick store.
package migrations

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

//go:embed sql/*.sql
var sqlFS embed.FS

const versionTable = "_ruletick_versions"

// ErrChecksumMismatch is returned when an applied migration no longer matches
// the copy embedded in the binary.
var ErrChecksumMismatch = errors.New("applied migration was modified")

// AppliedMigration is a row of the version table.
type AppliedMigration struct {
	ID        string
	Checksum  string
	AppliedAt time.Time
}

// Status compares the embedded migrations with the database.
type Status struct {
	Applied []AppliedMigration
	Pending []string
}

type migration struct {
	id       string
	body     string
	checksum string
}

// Run applies every pending migration in filename order, each in its own
// transaction. It refuses to run when an applied migration has changed.
func Run(ctx context.Context, db *sql.DB) error {
	status, known, err := inspect(ctx, db)
	if err != nil {
		return err
	}
	if len(status.Pending) == 0 {
		return nil
	}

	pending := make(map[string]bool, len(status.Pending))
	for _, id := range status.Pending {
		pending[id] = true
	}

	for _, m := range known {
		if !pending[m.id] {
			continue
		}
		if err := apply(ctx, db, m); err != nil {
			return fmt.Errorf("applying migration %s: %w", m.id, err)
		}
		log.Info().Str("migration", m.id).Msg("Applied migration")
	}

	return nil
}

// GetApplied returns the applied migrations ordered by ID.
func GetApplied(ctx context.Context, db *sql.DB) ([]AppliedMigration, error) {
	if err := ensureVersionTable(ctx, db); err != nil {
		return nil, err
	}
	return readApplied(ctx, db)
}

// GetStatus reports applied and pending migrations without applying anything.
func GetStatus(ctx context.Context, db *sql.DB) (*Status, error) {
	status, _, err := inspect(ctx, db)
	return status, err
}

func inspect(ctx context.Context, db *sql.DB) (*Status, []migration, error) {
	if err := ensureVersionTable(ctx, db); err != nil {
		return nil, nil, err
	}

	applied, err := readApplied(ctx, db)
	if err != nil {
		return nil, nil, err
	}

	known, err := loadMigrations()
	if err != nil {
		return nil, nil, fmt.Errorf("loading migrations: %w", err)
	}

	byID := make(map[string]AppliedMigration, len(applied))
	for _, a := range applied {
		byID[a.ID] = a
	}

	status := &Status{Applied: applied}
	for _, m := range known {
		a, ok := byID[m.id]
		if !ok {
			status.Pending = append(status.Pending, m.id)
			continue
		}
		// Rows written before checksums were recorded carry an empty one.
		if a.Checksum != "" && a.Checksum != m.checksum {
			return nil, nil, fmt.Errorf("%w: %s", ErrChecksumMismatch, m.id)
		}
	}

	return status, known, nil
}

func ensureVersionTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS `+versionTable+` (
			id TEXT PRIMARY KEY,
			checksum TEXT NOT NULL DEFAULT '',
			applied_at TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("ensuring version table: %w", err)
	}
	return nil
}

func readApplied(ctx context.Context, db *sql.DB) ([]AppliedMigration, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, checksum, applied_at FROM `+versionTable+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying migrations: %w", err)
	}
	defer rows.Close()

	var result []AppliedMigration
	for rows.Next() {
		var (
			m         AppliedMigration
			appliedAt string
		)
		if err := rows.Scan(&m.ID, &m.Checksum, &appliedAt); err != nil {
			return nil, fmt.Errorf("scanning migration: %w", err)
		}
		m.AppliedAt, _ = time.Parse(time.RFC3339Nano, appliedAt)
		result = append(result, m)
	}

	return result, rows.Err()
}

func loadMigrations() ([]migration, error) {
	names, err := fs.Glob(sqlFS, "sql/*.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	out := make([]migration, 0, len(names))
	for _, name := range names {
		body, err := fs.ReadFile(sqlFS, name)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}
		sum := sha256.Sum256(body)
		out = append(out, migration{
			id:       strings.TrimSuffix(path.Base(name), ".sql"),
			body:     string(body),
			checksum: hex.EncodeToString(sum[:]),
		})
	}
	return out, nil
}

func apply(ctx context.Context, db *sql.DB, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range splitStatements(stripComments(m.body)) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w\nSQL: %s", err, truncate(stmt, 100))
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO `+versionTable+` (id, checksum, applied_at) VALUES (?, ?, ?)`,
		m.id, m.checksum, time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("recording migration: %w", err)
	}

	return tx.Commit()
}

// stripComments removes full-line "--" comments so a comment preceding a
// statement does not hide it.
func stripComments(content string) string {
	lines := strings.Split(content, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

// splitStatements splits on semicolons outside quoted strings.
func splitStatements(content string) []string {
	var (
		statements []string
		current    strings.Builder
		quote      rune
	)

	flush := func() {
		if stmt := strings.TrimSpace(current.String()); stmt != "" {
			statements = append(statements, stmt)
		}
		current.Reset()
	}

	for _, ch := range content {
		switch {
		case quote != 0:
			if ch == quote {
				quote = 0
			}
		case ch == '\'' || ch == '"':
			quote = ch
		case ch == ';':
			flush()
			continue
		}
		current.WriteRune(ch)
	}
	flush()

	return statements
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
