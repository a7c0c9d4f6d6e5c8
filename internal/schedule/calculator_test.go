package schedule

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
	"time"
)

func mustZone(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Fatalf("loading %s: %v", name, err)
	}
	return loc
}

func dailySpec(loc *time.Location, hour, minute int) Spec {
	return Spec{
		Cadence:   CadenceDaily,
		Hour:      hour,
		Minute:    minute,
		Location:  loc,
		Ambiguous: EarlierOffset,
		Invalid:   ShiftForward,
	}
}

func TestNextRun_DailyUTC(t *testing.T) {
	spec := dailySpec(time.UTC, 9, 30)

	tests := []struct {
		name  string
		after time.Time
		want  time.Time
	}{
		{
			name:  "before today's run",
			after: time.Date(2025, 6, 10, 8, 0, 0, 0, time.UTC),
			want:  time.Date(2025, 6, 10, 9, 30, 0, 0, time.UTC),
		},
		{
			name:  "exactly at the run instant",
			after: time.Date(2025, 6, 10, 9, 30, 0, 0, time.UTC),
			want:  time.Date(2025, 6, 11, 9, 30, 0, 0, time.UTC),
		},
		{
			name:  "after today's run",
			after: time.Date(2025, 6, 10, 23, 59, 0, 0, time.UTC),
			want:  time.Date(2025, 6, 11, 9, 30, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextRun(spec, tt.after)
			if err != nil {
				t.Fatalf("NextRun() error = %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("NextRun() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNextRun_PlainNonDSTZone(t *testing.T) {
	// Phoenix observes no DST; the offset is a constant UTC-7.
	phoenix := mustZone(t, "America/Phoenix")
	spec := dailySpec(phoenix, 6, 0)

	after := time.Date(2025, 3, 9, 20, 0, 0, 0, time.UTC)
	got, err := NextRun(spec, after)
	if err != nil {
		t.Fatalf("NextRun() error = %v", err)
	}

	want := time.Date(2025, 3, 10, 13, 0, 0, 0, time.UTC) // 06:00 MST
	if !got.Equal(want) {
		t.Errorf("NextRun() = %v, want %v", got, want)
	}
}

func TestNextRun_SpringForwardGap(t *testing.T) {
	// 02:30 does not exist in New York on 2025-03-09; clocks jump
	// 02:00 EST -> 03:00 EDT at 07:00 UTC.
	ny := mustZone(t, "America/New_York")
	after := time.Date(2025, 3, 8, 12, 0, 0, 0, time.UTC)

	t.Run("skip rejects the gap date", func(t *testing.T) {
		spec := dailySpec(ny, 2, 30)
		spec.Invalid = SkipDay

		got, err := NextRun(spec, after)
		if err != nil {
			t.Fatalf("NextRun() error = %v", err)
		}

		want := time.Date(2025, 3, 10, 6, 30, 0, 0, time.UTC) // Mar 10 02:30 EDT
		if !got.Equal(want) {
			t.Errorf("NextRun() = %v, want %v", got, want)
		}
	})

	t.Run("shift forward lands just past the gap", func(t *testing.T) {
		spec := dailySpec(ny, 2, 30)
		spec.Invalid = ShiftForward

		got, err := NextRun(spec, after)
		if err != nil {
			t.Fatalf("NextRun() error = %v", err)
		}

		want := time.Date(2025, 3, 9, 7, 0, 0, 0, time.UTC) // Mar 9 03:00 EDT
		if !got.Equal(want) {
			t.Errorf("NextRun() = %v, want %v", got, want)
		}
	})
}

func TestNextRun_SpringForwardGap_PositiveOffsetZone(t *testing.T) {
	// Paris jumps 02:00 CET -> 03:00 CEST on 2025-03-30 at 01:00 UTC.
	paris := mustZone(t, "Europe/Paris")
	spec := dailySpec(paris, 2, 30)

	after := time.Date(2025, 3, 29, 12, 0, 0, 0, time.UTC)
	got, err := NextRun(spec, after)
	if err != nil {
		t.Fatalf("NextRun() error = %v", err)
	}

	want := time.Date(2025, 3, 30, 1, 0, 0, 0, time.UTC) // 03:00 CEST
	if !got.Equal(want) {
		t.Errorf("NextRun() = %v, want %v", got, want)
	}
}

func TestNextRun_FallBackOverlap(t *testing.T) {
	// 01:30 occurs twice in New York on 2025-11-02: once in EDT (UTC-4)
	// and once in EST (UTC-5), exactly one hour apart.
	ny := mustZone(t, "America/New_York")
	after := time.Date(2025, 11, 1, 12, 0, 0, 0, time.UTC)

	earlierSpec := dailySpec(ny, 1, 30)
	earlierSpec.Ambiguous = EarlierOffset

	laterSpec := dailySpec(ny, 1, 30)
	laterSpec.Ambiguous = LaterOffset

	earlier, err := NextRun(earlierSpec, after)
	if err != nil {
		t.Fatalf("NextRun(earlier) error = %v", err)
	}
	later, err := NextRun(laterSpec, after)
	if err != nil {
		t.Fatalf("NextRun(later) error = %v", err)
	}

	wantEarlier := time.Date(2025, 11, 2, 5, 30, 0, 0, time.UTC) // 01:30 EDT
	wantLater := time.Date(2025, 11, 2, 6, 30, 0, 0, time.UTC)   // 01:30 EST

	if !earlier.Equal(wantEarlier) {
		t.Errorf("earlier offset = %v, want %v", earlier, wantEarlier)
	}
	if !later.Equal(wantLater) {
		t.Errorf("later offset = %v, want %v", later, wantLater)
	}
	if later.Sub(earlier) != time.Hour {
		t.Errorf("overlap instants %v apart, want exactly one hour", later.Sub(earlier))
	}
}

func TestNextRun_WeeklyFromSunday(t *testing.T) {
	// Weekly Monday 09:00 New York, reference on the preceding Sunday.
	ny := mustZone(t, "America/New_York")
	spec := Spec{
		Cadence:   CadenceWeekly,
		DayOfWeek: 1, // Monday
		Hour:      9,
		Minute:    0,
		Location:  ny,
		Ambiguous: EarlierOffset,
		Invalid:   ShiftForward,
	}

	after := time.Date(2025, 3, 9, 15, 0, 0, 0, time.UTC) // Sunday
	got, err := NextRun(spec, after)
	if err != nil {
		t.Fatalf("NextRun() error = %v", err)
	}

	want := time.Date(2025, 3, 10, 13, 0, 0, 0, time.UTC) // Mon 09:00 EDT
	if !got.Equal(want) {
		t.Errorf("NextRun() = %v, want %v", got, want)
	}
}

func TestNextRun_WeeklyAcrossDSTBoundary(t *testing.T) {
	// Wednesday 09:00 New York. The reference Wednesday is in EST; the
	// next occurrence falls after the spring-forward transition, so the
	// UTC instant moves an hour earlier.
	ny := mustZone(t, "America/New_York")
	spec := Spec{
		Cadence:   CadenceWeekly,
		DayOfWeek: 3, // Wednesday
		Hour:      9,
		Minute:    0,
		Location:  ny,
		Ambiguous: EarlierOffset,
		Invalid:   ShiftForward,
	}

	after := time.Date(2025, 3, 5, 15, 0, 0, 0, time.UTC) // Wed, past 09:00 EST
	got, err := NextRun(spec, after)
	if err != nil {
		t.Fatalf("NextRun() error = %v", err)
	}

	want := time.Date(2025, 3, 12, 13, 0, 0, 0, time.UTC) // Wed 09:00 EDT
	if !got.Equal(want) {
		t.Errorf("NextRun() = %v, want %v", got, want)
	}
}

func TestNextRun_Monotonic(t *testing.T) {
	ny := mustZone(t, "America/New_York")
	specs := []Spec{
		dailySpec(time.UTC, 0, 0),
		dailySpec(ny, 2, 30),
		{Cadence: CadenceWeekly, DayOfWeek: 0, Hour: 23, Minute: 59, Location: ny, Ambiguous: LaterOffset, Invalid: SkipDay},
	}
	refs := []time.Time{
		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 3, 9, 6, 59, 0, 0, time.UTC),
		time.Date(2025, 11, 2, 5, 30, 0, 0, time.UTC),
		time.Date(2025, 12, 31, 23, 59, 59, 0, time.UTC),
	}

	for _, spec := range specs {
		for _, after := range refs {
			got, err := NextRun(spec, after)
			if err != nil {
				t.Fatalf("NextRun(%+v, %v) error = %v", spec, after, err)
			}
			if !got.After(after) {
				t.Errorf("NextRun(%+v, %v) = %v, not strictly after reference", spec, after, got)
			}
		}
	}
}

func TestNextRun_InvalidSpec(t *testing.T) {
	tests := []struct {
		name string
		spec Spec
	}{
		{"unknown cadence", Spec{Cadence: "hourly", Location: time.UTC, Ambiguous: EarlierOffset, Invalid: SkipDay}},
		{"hour out of range", Spec{Cadence: CadenceDaily, Hour: 24, Location: time.UTC, Ambiguous: EarlierOffset, Invalid: SkipDay}},
		{"minute out of range", Spec{Cadence: CadenceDaily, Minute: 60, Location: time.UTC, Ambiguous: EarlierOffset, Invalid: SkipDay}},
		{"weekly day out of range", Spec{Cadence: CadenceWeekly, DayOfWeek: 7, Location: time.UTC, Ambiguous: EarlierOffset, Invalid: SkipDay}},
		{"missing location", Spec{Cadence: CadenceDaily, Ambiguous: EarlierOffset, Invalid: SkipDay}},
		{"bad ambiguous policy", Spec{Cadence: CadenceDaily, Location: time.UTC, Ambiguous: "nearest", Invalid: SkipDay}},
		{"bad invalid policy", Spec{Cadence: CadenceDaily, Location: time.UTC, Ambiguous: EarlierOffset, Invalid: "wrap"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NextRun(tt.spec, time.Now()); err == nil {
				t.Error("NextRun() expected error, got nil")
			}
		})
	}
}

// gappedZone builds a synthetic zone whose clock springs forward one hour
// at 02:00 local every single day (reverting late in the evening), so a
// 02:30 wall-clock time never exists on any date.
func gappedZone(t *testing.T) *time.Location {
	t.Helper()

	const (
		base = 1735689600 // 2025-01-01T00:00:00Z
		days = 500
	)

	var transitions []int32
	var indices []byte
	for d := 0; d < days; d++ {
		midnight := int32(base + d*86400)
		transitions = append(transitions, midnight+2*3600) // 02:00 local, jump to +1h
		indices = append(indices, 1)
		transitions = append(transitions, midnight+22*3600) // 23:00 local, back to UTC
		indices = append(indices, 0)
	}

	var buf bytes.Buffer
	buf.WriteString("TZif")
	buf.WriteByte(0) // version 1
	buf.Write(make([]byte, 15))

	for _, count := range []int32{0, 0, 0, int32(len(transitions)), 2, 8} {
		if err := binary.Write(&buf, binary.BigEndian, count); err != nil {
			t.Fatalf("encoding header: %v", err)
		}
	}
	for _, tr := range transitions {
		if err := binary.Write(&buf, binary.BigEndian, tr); err != nil {
			t.Fatalf("encoding transitions: %v", err)
		}
	}
	buf.Write(indices)

	// Two zone records: standard UTC+0 and the shifted UTC+1.
	if err := binary.Write(&buf, binary.BigEndian, int32(0)); err != nil {
		t.Fatalf("encoding zone record: %v", err)
	}
	buf.Write([]byte{0, 0})
	if err := binary.Write(&buf, binary.BigEndian, int32(3600)); err != nil {
		t.Fatalf("encoding zone record: %v", err)
	}
	buf.Write([]byte{1, 4})
	buf.WriteString("STD\x00SHF\x00")

	loc, err := time.LoadLocationFromTZData("Synthetic/Gapped", buf.Bytes())
	if err != nil {
		t.Fatalf("building synthetic zone: %v", err)
	}
	return loc
}

func TestNextRun_ExhaustsSearchBound(t *testing.T) {
	spec := Spec{
		Cadence:   CadenceDaily,
		Hour:      2,
		Minute:    30,
		Location:  gappedZone(t),
		Ambiguous: EarlierOffset,
		Invalid:   SkipDay,
	}

	_, err := NextRun(spec, time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC))
	if !errors.Is(err, ErrNoValidRun) {
		t.Fatalf("NextRun() error = %v, want ErrNoValidRun", err)
	}
}
