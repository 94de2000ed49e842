package freebusy

import (
	"math"
	"time"
)

// epoch1601 is 1601-01-01T00:00:00Z in Unix seconds.
const epoch1601 int64 = -11644473600

// ToEpochMinutes returns the minutes elapsed since 1601-01-01T00:00:00Z.
// time.Duration cannot span that distance, so the arithmetic goes through
// Unix seconds.
func ToEpochMinutes(t time.Time) float64 {
	secs := t.Unix() - epoch1601
	whole := secs / 60
	frac := float64(secs%60)/60 + float64(t.Nanosecond())/float64(time.Minute)
	return float64(whole) + frac
}

// FromEpochMinutes is the inverse of ToEpochMinutes at second precision.
func FromEpochMinutes(m float64) time.Time {
	whole, frac := math.Modf(m)
	secs := int64(whole)*60 + epoch1601 + int64(math.Round(frac*60))
	return time.Unix(secs, 0).UTC()
}
