package shared

import "time"

// DateOnly truncates t to its calendar day in UTC, matching DATE columns.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
