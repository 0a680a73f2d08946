package busdate_test

import (
	"testing"
	"time"

	"caseline/internal/busdate"
)

var kyiv = time.FixedZone("EET", 2*60*60)

func TestZeroDurationIdentity(t *testing.T) {
	cal := busdate.NewCalendar([]string{"2018-01-01"})
	starts := []time.Time{
		time.Date(2018, 1, 1, 11, 0, 0, 0, kyiv),  // holiday
		time.Date(2018, 1, 6, 23, 59, 0, 0, kyiv), // saturday
		time.Date(2018, 1, 3, 9, 30, 0, 0, kyiv),  // plain working day
	}
	for _, start := range starts {
		if got := cal.Deadline(start, 0, true, 0); !got.Equal(start) {
			t.Fatalf("zero duration from %v: got %v, want start unchanged", start, got)
		}
		if got := cal.Deadline(start, -busdate.Days(2), true, 0); !got.Equal(start) {
			t.Fatalf("negative duration from %v: got %v, want start unchanged", start, got)
		}
	}
}

func TestPlainDuration(t *testing.T) {
	cal := busdate.NewCalendar([]string{"2018-01-05"})
	start := time.Date(2018, 1, 4, 18, 0, 0, 0, kyiv)
	got := cal.Deadline(start, busdate.Days(2), false, 0)
	want := start.Add(48 * time.Hour)
	if !got.Equal(want) {
		t.Fatalf("plain duration ignores calendar: got %v want %v", got, want)
	}
}

func TestAccelerationBypassesCalendar(t *testing.T) {
	cal := busdate.NewCalendar([]string{"2018-01-01", "2018-01-05"})
	start := time.Date(2018, 1, 1, 11, 0, 0, 0, kyiv)
	for _, accel := range []int{1, 360, 1440} {
		got := cal.Deadline(start, busdate.Days(15), true, accel)
		want := start.Add(busdate.Days(15) / time.Duration(accel))
		if !got.Equal(want) {
			t.Fatalf("accel=%d: got %v want %v", accel, got, want)
		}
	}
}

func TestMonitoringPeriodScenario(t *testing.T) {
	// Case created 2018-01-01T11:00:00+02:00, 15 working days, holidays on
	// 01-01 and 01-05. The start itself is a holiday, so the walk begins at
	// 01-02 midnight and must skip the second holiday plus two weekends.
	cal := busdate.NewCalendar([]string{"2018-01-01", "2018-01-05"})
	start := time.Date(2018, 1, 1, 11, 0, 0, 0, kyiv)
	got := cal.Deadline(start, busdate.Days(15), true, 0)
	want := time.Date(2018, 1, 24, 0, 0, 0, 0, kyiv)
	if !got.Equal(want) {
		t.Fatalf("monitoring deadline: got %v want %v", got, want)
	}
}

func TestStartOnHolidayAdvancesFirst(t *testing.T) {
	cal := busdate.NewCalendar([]string{"2018-01-01", "2018-01-02"})
	start := time.Date(2018, 1, 1, 15, 0, 0, 0, kyiv)
	got := cal.Deadline(start, busdate.Days(1), true, 0)
	// Both 01-01 and 01-02 are holidays; one working day from 01-03 midnight.
	want := time.Date(2018, 1, 4, 0, 0, 0, 0, kyiv)
	if !got.Equal(want) {
		t.Fatalf("holiday start: got %v want %v", got, want)
	}
}

func TestNeverLandsOnNonWorkingDay(t *testing.T) {
	cal := busdate.NewCalendar([]string{"2018-01-01", "2018-01-05", "2018-02-14"})
	start := time.Date(2018, 1, 1, 11, 0, 0, 0, kyiv)
	for days := 1; days <= 40; days++ {
		got := cal.Deadline(start, busdate.Days(days), true, 0)
		if !cal.IsWorking(got) {
			t.Fatalf("%d working days landed on non-working %v", days, got)
		}
	}
}

func TestWalkPreservesTimeOfDay(t *testing.T) {
	cal := busdate.NewCalendar(nil)
	start := time.Date(2018, 1, 3, 14, 30, 0, 0, kyiv) // wednesday
	got := cal.Deadline(start, busdate.Days(2), true, 0)
	want := time.Date(2018, 1, 5, 14, 30, 0, 0, kyiv) // friday
	if !got.Equal(want) {
		t.Fatalf("two working days: got %v want %v", got, want)
	}
	// Third day crosses the weekend.
	got = cal.Deadline(start, busdate.Days(3), true, 0)
	want = time.Date(2018, 1, 8, 14, 30, 0, 0, kyiv) // monday
	if !got.Equal(want) {
		t.Fatalf("three working days: got %v want %v", got, want)
	}
}

func TestNormalizeDay(t *testing.T) {
	at := time.Date(2018, 1, 3, 14, 30, 0, 0, kyiv)
	midnight := time.Date(2018, 1, 3, 0, 0, 0, 0, kyiv)
	if got := busdate.NormalizeDay(at, busdate.Days(1)); !got.Equal(midnight.Add(24*time.Hour)) {
		t.Fatalf("ceil: got %v", got)
	}
	if got := busdate.NormalizeDay(at, 0); !got.Equal(midnight) {
		t.Fatalf("floor: got %v", got)
	}
	if got := busdate.CeilDay(midnight); !got.Equal(midnight) {
		t.Fatalf("ceil at midnight must be identity, got %v", got)
	}
}
