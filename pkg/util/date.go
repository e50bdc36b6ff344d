package util

import (
	"fmt"
	"strconv"
	"time"
)

const (
	dayLayout  = "2006-01-02"
	hourLayout = "2006-01-02-15"
)

// DayKey returns the UTC calendar day bucket of t.
func DayKey(t time.Time) string { return t.UTC().Format(dayLayout) }

// HourKey returns the UTC hour bucket of t.
func HourKey(t time.Time) string { return t.UTC().Format(hourLayout) }

// ParseTime tries RFC3339, RFC3339Nano, and unix seconds. Returns (t, true) if any worked.
func ParseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil && ts > 0 {
		return time.Unix(ts, 0), true
	}
	return time.Time{}, false
}

// HumanSpan renders a span as whole minutes below one hour, otherwise as hours with one decimal.
func HumanSpan(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	if d < time.Hour {
		return fmt.Sprintf("%d minutes", int(d/time.Minute))
	}
	return fmt.Sprintf("%.1f hours", d.Hours())
}
