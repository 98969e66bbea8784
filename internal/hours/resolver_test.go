package hours

import (
	"testing"
	"time"

	"pharmacy-finder/internal/models"
)

func seoul(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		t.Fatalf("load Asia/Seoul: %v", err)
	}
	return loc
}

// 2024-01-01 is a Monday.
func mondayAt(t *testing.T, hh, mm int) time.Time {
	t.Helper()
	return time.Date(2024, 1, 1, hh, mm, 0, 0, seoul(t))
}

func weekdayHours(open, close string) models.OperatingHours {
	return models.OperatingHours{
		models.DayMon: {Open: open, Close: close},
	}
}

func TestResolveOpenAndClosingSoonBoundaries(t *testing.T) {
	h := weekdayHours("0900", "1800")
	loc := seoul(t)

	cases := []struct {
		hh, mm int
		want   string
	}{
		{8, 59, models.StateClosed},
		{9, 0, models.StateOpen},
		{17, 0, models.StateOpen},
		{17, 1, models.StateClosingSoon},
		{17, 59, models.StateClosingSoon},
		{18, 0, models.StateClosed},
	}
	for _, tc := range cases {
		got := Resolve(h, mondayAt(t, tc.hh, tc.mm), loc)
		if got.State != tc.want {
			t.Fatalf("at %02d:%02d expected %s got %s", tc.hh, tc.mm, tc.want, got.State)
		}
		if got.ClosesAt != "1800" {
			t.Fatalf("at %02d:%02d expected closes_at 1800 got %q", tc.hh, tc.mm, got.ClosesAt)
		}
	}
}

func TestResolveTimezoneConversion(t *testing.T) {
	// Monday 17:30 in Seoul is Monday 08:30 UTC. The resolver must use the
	// Seoul wall clock, not the instant's own location.
	h := weekdayHours("0900", "1800")
	utcInstant := time.Date(2024, 1, 1, 8, 30, 0, 0, time.UTC)

	got := Resolve(h, utcInstant, seoul(t))
	if got.State != models.StateClosingSoon {
		t.Fatalf("expected closing-soon got %s", got.State)
	}
	if got.ClosesAt != "1800" {
		t.Fatalf("expected closes_at 1800 got %q", got.ClosesAt)
	}
}

func TestResolveDegradesToUnknown(t *testing.T) {
	loc := seoul(t)
	now := mondayAt(t, 12, 0)

	cases := []struct {
		name string
		h    models.OperatingHours
	}{
		{"nil table", nil},
		{"empty table", models.OperatingHours{}},
		{"nil slot", models.OperatingHours{models.DayMon: nil}},
		{"short open", weekdayHours("900", "1800")},
		{"alpha close", weekdayHours("0900", "18o0")},
		{"hour out of range", weekdayHours("2500", "1800")},
		{"minute out of range", weekdayHours("0960", "1800")},
		{"empty strings", weekdayHours("", "")},
	}
	for _, tc := range cases {
		got := Resolve(tc.h, now, loc)
		if got.State != models.StateUnknown {
			t.Fatalf("%s: expected unknown got %s", tc.name, got.State)
		}
		if got.ClosesAt != "" {
			t.Fatalf("%s: expected empty closes_at got %q", tc.name, got.ClosesAt)
		}
	}
}

func TestResolveClosedKeepsClosesAt(t *testing.T) {
	got := Resolve(weekdayHours("0900", "2000"), mondayAt(t, 21, 30), seoul(t))
	if got.State != models.StateClosed {
		t.Fatalf("expected closed got %s", got.State)
	}
	if got.ClosesAt != "2000" {
		t.Fatalf("expected closes_at 2000 got %q", got.ClosesAt)
	}
}

func TestResolveDayHolidaySlot(t *testing.T) {
	h := models.OperatingHours{
		models.DayMon:     {Open: "0900", Close: "1800"},
		models.DayHoliday: {Open: "1000", Close: "1400"},
	}
	got := ResolveDay(h, models.DayHoliday, mondayAt(t, 10, 30), seoul(t))
	if got.State != models.StateOpen || got.ClosesAt != "1400" {
		t.Fatalf("expected open/1400 got %s/%q", got.State, got.ClosesAt)
	}
}

// Overnight ranges are a known boundary: a pharmacy open 2200-0600 is
// reported closed at 01:00 because the naive comparison never matches when
// close < open. This test pins that behavior; changing it is a product
// decision, not a refactor.
func TestResolveOvernightSpanKnownBoundary(t *testing.T) {
	h := weekdayHours("2200", "0600")
	got := Resolve(h, mondayAt(t, 1, 0), seoul(t))
	if got.State != models.StateClosed {
		t.Fatalf("pinned overnight behavior changed: got %s", got.State)
	}
}

func TestResolveTotalityOverGarbage(t *testing.T) {
	loc := seoul(t)
	inputs := []string{"", "1", "12", "123", "12345", "ab:cd", "9999", "-100", "0000", "2359"}
	for _, open := range inputs {
		for _, close := range inputs {
			got := Resolve(weekdayHours(open, close), mondayAt(t, 12, 0), loc)
			switch got.State {
			case models.StateOpen, models.StateClosingSoon, models.StateClosed, models.StateUnknown:
			default:
				t.Fatalf("open=%q close=%q produced invalid state %q", open, close, got.State)
			}
		}
	}
}
