package database

import (
	"errors"
	"regexp"
	"strings"
)

var (
	ErrForeignKey      = errors.New("foreign key constraint failed")
	ErrUniqueViolation = errors.New("unique constraint violated")
	ErrCheckConstraint = errors.New("check constraint failed")
)

// ConstraintError carries the table and column a SQLite constraint failure
// refers to. The claim protocol relies on detecting unique violations on
// the run idempotency key, so the classification has to be structured
// rather than a string match at each call site.
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

var (
	fkPattern     = regexp.MustCompile(`FOREIGN KEY constraint failed`)
	uniquePattern = regexp.MustCompile(`UNIQUE constraint failed: ([^\s]+)`)
	checkPattern  = regexp.MustCompile(`CHECK constraint failed`)
)

// ClassifyError maps a raw SQLite error onto a ConstraintError where
// possible; anything unrecognized passes through unchanged.
func ClassifyError(err error) error {
	if err == nil {
		return nil
	}

	errStr := err.Error()

	if fkPattern.MatchString(errStr) {
		return &ConstraintError{
			Type:    "foreign_key",
			Cause:   ErrForeignKey,
			Message: "referenced record does not exist",
		}
	}

	if matches := uniquePattern.FindStringSubmatch(errStr); len(matches) == 2 {
		ce := &ConstraintError{
			Type:    "unique",
			Cause:   ErrUniqueViolation,
			Message: "a record with this value already exists",
		}
		if parts := strings.Split(matches[1], "."); len(parts) == 2 {
			ce.Table = parts[0]
			ce.Column = parts[1]
		}
		return ce
	}

	if checkPattern.MatchString(errStr) {
		return &ConstraintError{
			Type:    "check",
			Cause:   ErrCheckConstraint,
			Message: "value does not meet requirements",
		}
	}

	return err
}

func IsUniqueError(err error) bool {
	var ce *ConstraintError
	if errors.As(err, &ce) {
		return ce.Type == "unique"
	}
	// Fall back to the raw message for errors that never went through
	// ClassifyError.
	return err != nil && uniquePattern.MatchString(err.Error())
}

func IsForeignKeyError(err error) bool {
	var ce *ConstraintError
	if errors.As(err, &ce) {
		return ce.Type == "foreign_key"
	}
	return false
}
