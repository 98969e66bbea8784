// Package schedule computes publish times for generated content: a fixed
// three-slot daily cadence for general posts, and a deterministic per-entity
// dispersion offset that spreads many same-day items across a window.
package schedule

import (
	"time"
)

// slotEpsilon nudges a base exactly on a slot boundary into the next slot,
// so repeated scheduling never lands two items on the same instant.
const slotEpsilon = time.Minute

// slotHours is the daily publish cadence in UTC (09:00 / 15:00 / 21:00 KST).
var slotHours = []int{0, 6, 12}

// NextSlot returns the next publish slot after base: the earliest cadence
// instant at or after base+epsilon. Always strictly after base, always at
// the top of an hour. Pure and deterministic.
func NextSlot(base time.Time) time.Time {
	t := base.UTC().Add(slotEpsilon)
	for _, h := range slotHours {
		slot := time.Date(t.Year(), t.Month(), t.Day(), h, 0, 0, 0, time.UTC)
		if !slot.Before(t) {
			return slot
		}
	}
	next := t.AddDate(0, 0, 1)
	return time.Date(next.Year(), next.Month(), next.Day(), 0, 0, 0, 0, time.UTC)
}
