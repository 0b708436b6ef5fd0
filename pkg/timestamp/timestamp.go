// Package timestamp provides Unix millisecond helpers.
//
// Telemetry samples carry int64 milliseconds since the Unix epoch (UTC) on
// the wire, so the series model and render windows use the same unit. A
// value of 0 means "not set", matching the connection engine's use of
// connectedAt == 0 for "not yet connected".
package timestamp

import (
	"fmt"
	"math"
	"time"
)

// Now returns the current time as Unix milliseconds.
func Now() int64 {
	return time.Now().UnixMilli()
}

// ToUnixMs converts a time.Time to Unix milliseconds.
func ToUnixMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// FromUnixMs converts Unix milliseconds to time.Time.
// Returns zero time if timestamp is 0.
func FromUnixMs(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// Format converts Unix milliseconds to an RFC3339 string for display.
func Format(ms int64) string {
	if ms == 0 {
		return ""
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339Nano)
}

// FromFloat converts a JSON number carrying milliseconds to int64,
// truncating any fractional part.
func FromFloat(v float64) (int64, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("timestamp is not finite: %v", v)
	}
	if v < 0 || v > math.MaxInt64 {
		return 0, fmt.Errorf("timestamp out of range: %v", v)
	}
	return int64(v), nil
}

// Since returns the duration since the given timestamp.
// Returns 0 if timestamp is zero.
func Since(ms int64) time.Duration {
	if ms == 0 {
		return 0
	}
	return time.Since(time.UnixMilli(ms))
}

// Sub moves a timestamp back by d, truncated to whole milliseconds.
func Sub(ms int64, d time.Duration) int64 {
	return ms - d.Milliseconds()
}
