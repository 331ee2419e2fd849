package lottery

import "time"

// DateOf truncates t to its civil date as stored in the database: midnight
// UTC of the year/month/day seen in t's location.
func DateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
