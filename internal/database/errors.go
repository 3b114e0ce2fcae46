package database

import (
	"errors"
	"regexp"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	ErrNotFound        = errors.New("record not found")
	ErrForeignKey      = errors.New("foreign key constraint failed")
	ErrUniqueViolation = errors.New("unique constraint violated")
	ErrNotNull         = errors.New("not null constraint failed")
	ErrCheckConstraint = errors.New("check constraint failed")
)

// Constraint kinds reported in ConstraintError.Type.
const (
	ConstraintUnique     = "unique"
	ConstraintForeignKey = "foreign_key"
	ConstraintNotNull    = "not_null"
	ConstraintCheck      = "check"
)

// ConstraintError describes a violated SQLite constraint. Table and Column
// are set when SQLite names them.
type ConstraintError struct {
	Type    string
	Table   string
	Column  string
	Message string
	Cause   error
}

func (e *ConstraintError) Error() string {
	return e.Message
}

func (e *ConstraintError) Unwrap() error {
	return e.Cause
}

type constraintKind struct {
	typ     string
	cause   error
	codes   []int
	text    string
	message string
}

var constraintKinds = []constraintKind{
	{ConstraintUnique, ErrUniqueViolation, []int{sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY}, "UNIQUE constraint failed", "already exists"},
	{ConstraintForeignKey, ErrForeignKey, []int{sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY}, "FOREIGN KEY constraint failed", "referenced record does not exist"},
	{ConstraintNotNull, ErrNotNull, []int{sqlite3.SQLITE_CONSTRAINT_NOTNULL}, "NOT NULL constraint failed", "is required"},
	{ConstraintCheck, ErrCheckConstraint, []int{sqlite3.SQLITE_CONSTRAINT_CHECK}, "CHECK constraint failed", "value does not meet requirements"},
}

// SQLite names the offending column as "table.column" after the colon.
var columnPattern = regexp.MustCompile(`constraint failed: ([A-Za-z_][\w]*)\.([A-Za-z_][\w]*)`)

// ClassifyError maps SQLite constraint failures to *ConstraintError. Other
// errors are returned unchanged.
func ClassifyError(err error) error {
	if err == nil {
		return nil
	}

	kind, ok := classify(err)
	if !ok {
		return err
	}

	ce := &ConstraintError{Type: kind.typ, Cause: kind.cause, Message: kind.message}
	if m := columnPattern.FindStringSubmatch(err.Error()); m != nil {
		ce.Table, ce.Column = m[1], m[2]
		switch kind.typ {
		case ConstraintUnique:
			ce.Message = "a " + singular(ce.Table) + " with this " + ce.Column + " already exists"
		case ConstraintNotNull:
			ce.Message = ce.Column + " is required"
		}
	}
	return ce
}

func classify(err error) (constraintKind, bool) {
	var se *sqlite.Error
	if errors.As(err, &se) {
		for _, k := range constraintKinds {
			for _, code := range k.codes {
				if se.Code() == code {
					return k, true
				}
			}
		}
	}

	msg := err.Error()
	for _, k := range constraintKinds {
		if strings.Contains(msg, k.text) {
			return k, true
		}
	}
	return constraintKind{}, false
}

func singular(table string) string {
	return strings.TrimSuffix(table, "s")
}

func IsUniqueError(err error) bool {
	return isConstraint(err, ConstraintUnique)
}

func IsForeignKeyError(err error) bool {
	return isConstraint(err, ConstraintForeignKey)
}

func isConstraint(err error, typ string) bool {
	var ce *ConstraintError
	return errors.As(err, &ce) && ce.Type == typ
}

// IsBusy reports whether err is SQLite lock contention.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
