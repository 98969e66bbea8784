// Package hours derives a live operating status from a weekly table of
// open/close times. All functions are total: malformed input degrades to
// the unknown state and never panics.
package hours

import (
	"time"

	"pharmacy-finder/internal/models"
)

// closingSoonWindow is how close to closing time a pharmacy must be before
// its status flips from open to closing-soon.
const closingSoonWindow = 60 // minutes

var weekdayKeys = map[time.Weekday]string{
	time.Monday:    models.DayMon,
	time.Tuesday:   models.DayTue,
	time.Wednesday: models.DayWed,
	time.Thursday:  models.DayThu,
	time.Friday:    models.DayFri,
	time.Saturday:  models.DaySat,
	time.Sunday:    models.DaySun,
}

// Resolve computes the operating status for the current weekday in loc.
// Callers that know today is a public holiday should use ResolveDay with
// models.DayHoliday instead; holiday detection is not this package's job.
func Resolve(h models.OperatingHours, now time.Time, loc *time.Location) models.OperatingStatus {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	return ResolveDay(h, weekdayKeys[local.Weekday()], now, loc)
}

// ResolveDay computes the operating status against the slot for dayKey.
//
// Overnight spans (close < open, e.g. 2200-0600) are not modeled: the plain
// open <= now < close comparison reports closed for the post-midnight part.
func ResolveDay(h models.OperatingHours, dayKey string, now time.Time, loc *time.Location) models.OperatingStatus {
	if loc == nil {
		loc = time.UTC
	}
	if h == nil {
		return models.OperatingStatus{State: models.StateUnknown}
	}
	slot := h[dayKey]
	if slot == nil {
		return models.OperatingStatus{State: models.StateUnknown}
	}

	openMin, okOpen := parseHHMM(slot.Open)
	closeMin, okClose := parseHHMM(slot.Close)
	if !okOpen || !okClose {
		return models.OperatingStatus{State: models.StateUnknown}
	}

	local := now.In(loc)
	cur := local.Hour()*60 + local.Minute()

	if openMin <= cur && cur < closeMin {
		if closeMin-cur < closingSoonWindow {
			return models.OperatingStatus{State: models.StateClosingSoon, ClosesAt: slot.Close}
		}
		return models.OperatingStatus{State: models.StateOpen, ClosesAt: slot.Close}
	}
	return models.OperatingStatus{State: models.StateClosed, ClosesAt: slot.Close}
}

// parseHHMM converts a 4-digit "HHMM" string into minutes since midnight.
// Anything that is not exactly two valid 2-digit fields is rejected.
func parseHHMM(s string) (int, bool) {
	if len(s) != 4 {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	hh := int(s[0]-'0')*10 + int(s[1]-'0')
	mm := int(s[2]-'0')*10 + int(s[3]-'0')
	if hh > 23 || mm > 59 {
		return 0, false
	}
	return hh*60 + mm, true
}
