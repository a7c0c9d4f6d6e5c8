package schedule

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// maxCandidateDays bounds the next-run search. A schedule that produces no
// resolvable instant within this window is misconfigured (or the zone
// database is defective); hitting the bound is fatal, never retried.
const maxCandidateDays = 370

// maxGapScan bounds the shift-forward scan past a DST gap.
const maxGapScan = 6 * time.Hour

// ErrNoValidRun is returned when no resolvable run instant exists within
// the candidate-day search bound.
var ErrNoValidRun = errors.New("no valid run instant within search bound")

// NextRun returns the earliest instant strictly after the reference that
// satisfies the spec's cadence, local time, and time zone, after resolving
// DST edge cases per the spec's policies.
func NextRun(spec Spec, after time.Time) (time.Time, error) {
	if err := spec.Validate(); err != nil {
		return time.Time{}, fmt.Errorf("invalid schedule: %w", err)
	}

	local := after.In(spec.Location)
	year, month, day := local.Date()

	// Date cursor in UTC: only the calendar triple matters here, so a
	// fixed-offset zone keeps day arithmetic free of DST surprises.
	cursor := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)

	step := 1
	if spec.Cadence == CadenceWeekly {
		for cursor.Weekday() != time.Weekday(spec.DayOfWeek) {
			cursor = cursor.AddDate(0, 0, 1)
		}
		step = 7
	}

	limit := time.Date(year, month, day, 0, 0, 0, 0, time.UTC).AddDate(0, 0, maxCandidateDays)
	for !cursor.After(limit) {
		y, m, d := cursor.Date()
		instant, ok := resolveLocal(spec, y, m, d)
		if ok && instant.After(after) {
			return instant, nil
		}
		cursor = cursor.AddDate(0, 0, step)
	}

	return time.Time{}, ErrNoValidRun
}

// resolveLocal converts the spec's wall-clock time on the given local date
// to an absolute instant. The second return is false when the local time
// does not exist on that date and the spec says to skip it.
func resolveLocal(spec Spec, year int, month time.Month, day int) (time.Time, bool) {
	// Naive instant: the target local date-time as if the zone had zero
	// offset. The real instant differs from it by the zone's UTC offset.
	naive := time.Date(year, month, day, spec.Hour, spec.Minute, 0, 0, time.UTC)

	offsets := plausibleOffsets(spec.Location, naive)

	var matches []time.Time
	for _, off := range offsets {
		candidate := naive.Add(-time.Duration(off) * time.Second)
		if sameLocal(candidate.In(spec.Location), year, month, day, spec.Hour, spec.Minute) {
			matches = appendInstant(matches, candidate)
		}
	}

	switch len(matches) {
	case 0:
		// Nonexistent local time: a spring-forward gap swallowed it.
		if spec.Invalid == SkipDay {
			return time.Time{}, false
		}
		return shiftPastGap(spec, naive, offsets, year, month, day)
	case 1:
		return matches[0], true
	default:
		// Ambiguous local time: a fall-back overlap maps it to several
		// instants. The policy picks which offset wins.
		sort.Slice(matches, func(i, j int) bool { return matches[i].Before(matches[j]) })
		if spec.Ambiguous == LaterOffset {
			return matches[len(matches)-1], true
		}
		return matches[0], true
	}
}

// plausibleOffsets samples the zone's UTC offset at the naive instant and
// around it, wide enough to catch the offsets on both sides of any DST
// transition near the target.
func plausibleOffsets(loc *time.Location, naive time.Time) []int {
	deltas := []time.Duration{0, -6 * time.Hour, 6 * time.Hour, -24 * time.Hour, 24 * time.Hour}

	seen := make(map[int]struct{}, len(deltas))
	var offsets []int
	for _, delta := range deltas {
		_, off := naive.Add(delta).In(loc).Zone()
		if _, ok := seen[off]; ok {
			continue
		}
		seen[off] = struct{}{}
		offsets = append(offsets, off)
	}
	return offsets
}

// shiftPastGap scans forward in one-minute increments for the first instant
// whose local representation is on the target date and later than the target
// wall-clock time. The scan starts at the earliest plausible conversion of
// the naive instant so the result lands just past the gap regardless of the
// sign of the zone's offset.
func shiftPastGap(spec Spec, naive time.Time, offsets []int, year int, month time.Month, day int) (time.Time, bool) {
	start := naive
	for _, off := range offsets {
		candidate := naive.Add(-time.Duration(off) * time.Second)
		if candidate.Before(start) {
			start = candidate
		}
	}

	target := spec.Hour*60 + spec.Minute
	for elapsed := time.Duration(0); elapsed <= maxGapScan; elapsed += time.Minute {
		instant := start.Add(elapsed)
		local := instant.In(spec.Location)
		ly, lm, ld := local.Date()
		if ly != year || lm != month || ld != day {
			continue
		}
		if local.Hour()*60+local.Minute() > target {
			return instant, true
		}
	}
	return time.Time{}, false
}

func sameLocal(local time.Time, year int, month time.Month, day, hour, minute int) bool {
	ly, lm, ld := local.Date()
	return ly == year && lm == month && ld == day &&
		local.Hour() == hour && local.Minute() == minute
}

func appendInstant(instants []time.Time, t time.Time) []time.Time {
	for _, existing := range instants {
		if existing.Equal(t) {
			return instants
		}
	}
	return append(instants, t)
}
