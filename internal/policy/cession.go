// Package policy holds the edit-window rules for cessions and reservations.
// Everything here is a pure function of the target date and the clock, so the
// same rules gate the bot flows, the direct reservation path and the engine.
package policy

import (
	"errors"
	"time"
)

// ErrEditWindowClosed is what callers surface when CanModify refuses a
// mutation. An expected outcome, never fatal.
var ErrEditWindowClosed = errors.New("policy: edit window closed")

type Action int

const (
	ActionReserve Action = iota
	ActionCancel
	ActionCede
)

// CutoffHour is the default local hour from which tomorrow can no longer be
// edited. The configured value (lottery.cutoff_hour) is threaded into every
// CanModify caller and into the trigger, so edits close exactly when the
// sorteo fires. At the cutoff hour sharp the window is already closed.
const CutoffHour = 20

// CanModify reports whether action on date is allowed at instant now.
// Rules:
//   - past dates: never.
//   - today: only reserving (same-day direct reservation); a cession or a
//     cancellation for the current day is categorically forbidden.
//   - tomorrow: anything, but only before cutoffHour local.
//   - the day after tomorrow and later: anything.
func CanModify(date time.Time, action Action, now time.Time, cutoffHour int) bool {
	today := civil(now)
	target := civil(date)

	days := int(target.Sub(today).Hours() / 24)
	switch {
	case days < 0:
		return false
	case days == 0:
		return action == ActionReserve
	case days == 1:
		return now.Hour() < cutoffHour
	default:
		return true
	}
}

// civil truncates t to its calendar date in t's own location.
func civil(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
