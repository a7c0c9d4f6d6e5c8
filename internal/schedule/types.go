// Package schedule computes next-run instants for recurring jobs.
//
// All functions in this package are pure: they perform no I/O and keep no
// state beyond the time-zone location cache owned by Resolver.
package schedule

import (
	"fmt"
	"time"
)

// Cadence is the recurrence pattern of a job.
type Cadence string

const (
	// CadenceDaily runs once per day at the configured local time.
	CadenceDaily Cadence = "daily"
	// CadenceWeekly runs once per week on the configured day of week.
	CadenceWeekly Cadence = "weekly"
)

// Valid reports whether the cadence is a known value.
func (c Cadence) Valid() bool {
	return c == CadenceDaily || c == CadenceWeekly
}

// AmbiguousPolicy selects an instant when a local time occurs twice
// during a DST fall-back overlap.
type AmbiguousPolicy string

const (
	// EarlierOffset picks the first occurrence (the pre-transition offset).
	EarlierOffset AmbiguousPolicy = "earlier_offset"
	// LaterOffset picks the second occurrence (the post-transition offset).
	LaterOffset AmbiguousPolicy = "later_offset"
)

// Valid reports whether the policy is a known value.
func (p AmbiguousPolicy) Valid() bool {
	return p == EarlierOffset || p == LaterOffset
}

// InvalidPolicy decides what happens when a local time does not exist
// on a candidate date (DST spring-forward gap).
type InvalidPolicy string

const (
	// ShiftForward substitutes the first valid local time after the gap.
	ShiftForward InvalidPolicy = "shift_forward"
	// SkipDay rejects the candidate date and moves to the next one.
	SkipDay InvalidPolicy = "skip"
)

// Valid reports whether the policy is a known value.
func (p InvalidPolicy) Valid() bool {
	return p == ShiftForward || p == SkipDay
}

// Spec describes a recurring schedule resolved to a concrete time zone.
type Spec struct {
	Cadence   Cadence
	DayOfWeek int // 0 = Sunday; only meaningful for weekly cadence
	Hour      int // 0-23, local wall-clock hour
	Minute    int // 0-59, local wall-clock minute
	Location  *time.Location
	Ambiguous AmbiguousPolicy
	Invalid   InvalidPolicy
}

// Validate checks the spec for values the calculator cannot work with.
func (s Spec) Validate() error {
	if !s.Cadence.Valid() {
		return fmt.Errorf("invalid cadence %q", s.Cadence)
	}
	if s.Cadence == CadenceWeekly && (s.DayOfWeek < 0 || s.DayOfWeek > 6) {
		return fmt.Errorf("invalid day of week %d", s.DayOfWeek)
	}
	if s.Hour < 0 || s.Hour > 23 {
		return fmt.Errorf("invalid hour %d", s.Hour)
	}
	if s.Minute < 0 || s.Minute > 59 {
		return fmt.Errorf("invalid minute %d", s.Minute)
	}
	if s.Location == nil {
		return fmt.Errorf("missing location")
	}
	if !s.Ambiguous.Valid() {
		return fmt.Errorf("invalid ambiguous-time policy %q", s.Ambiguous)
	}
	if !s.Invalid.Valid() {
		return fmt.Errorf("invalid nonexistent-time policy %q", s.Invalid)
	}
	return nil
}
