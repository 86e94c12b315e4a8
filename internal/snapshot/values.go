package snapshot

import (
	"fmt"
	"strings"
	"time"
)

// CorrectCounter undoes 32-bit signed overflow of an originally-unsigned
// counter transmitted as a signed decimal
func CorrectCounter(raw int64) int64 {
	if raw < 0 {
		return raw + (1 << 32)
	}
	return raw
}

// ParseDistance converts a raw odometer value (millimeters, possibly
// overflowed) to meters
func ParseDistance(raw int64) float64 {
	return float64(CorrectCounter(raw)) / 1000.0
}

// ParseDuration converts a raw counter (milliseconds, possibly overflowed)
// to a duration
func ParseDuration(raw int64) time.Duration {
	return time.Duration(CorrectCounter(raw)) * time.Millisecond
}

// FormatLapTime renders a lap time in milliseconds as M:SS.mmm.
// Non-positive values mean no valid lap and render as "-".
func FormatLapTime(ms int64) string {
	if ms <= 0 {
		return "-"
	}
	minutes := ms / 60000
	seconds := (ms % 60000) / 1000
	millis := ms % 1000
	return fmt.Sprintf("%d:%02d.%03d", minutes, seconds, millis)
}

// FormatDuration renders a duration as a compact humanized string,
// e.g. "1h 23m 45s"
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	var parts []string
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if minutes > 0 || hours > 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}
	parts = append(parts, fmt.Sprintf("%ds", seconds))
	return strings.Join(parts, " ")
}
