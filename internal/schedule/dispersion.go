package schedule

import (
	"hash/fnv"
	"time"
)

// Dispersion window bounds in minutes. Offsets land in [OffsetMin,
// OffsetMin+offsetSpan-1] = [10, 250].
const (
	OffsetMin  = 10
	offsetSpan = 241
)

// DisperseMinutes derives a reproducible offset in minutes for entityKey on
// the calendar day of now (UTC). The same key on the same day always maps to
// the same offset, so re-queuing an entity reproduces its slot instead of
// drifting. FNV-1a is non-cryptographic; this is load spreading, not
// security.
func DisperseMinutes(entityKey string, now time.Time) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(now.UTC().Format("2006-01-02") + ":" + entityKey))
	return OffsetMin + int(h.Sum32()%offsetSpan)
}

// DispersedPublishTime returns now shifted by the entity's dispersion offset.
func DispersedPublishTime(entityKey string, now time.Time) time.Time {
	return now.Add(time.Duration(DisperseMinutes(entityKey, now)) * time.Minute)
}
