package requests

import (
	"time"

	"github.com/jmoran/plazabot/internal/domain/slots"
)

type State string

const (
	StatePending   State = "pending"
	StateAssigned  State = "assigned"
	StateRejected  State = "rejected"
	StateCancelled State = "cancelled"
)

// Preference narrows the acceptable EV windows. Empty for the parking pool.
type Preference string

const (
	PrefNone  Preference = ""
	PrefEarly Preference = "early" // W1 o W2
	PrefLate  Preference = "late"  // W3 o W4
	PrefAny   Preference = "any"
)

// Windows expands an EV preference into the windows the user accepts.
func (p Preference) Windows() []slots.Period {
	switch p {
	case PrefEarly:
		return []slots.Period{slots.PeriodW1, slots.PeriodW2}
	case PrefLate:
		return []slots.Period{slots.PeriodW3, slots.PeriodW4}
	default:
		return slots.Periods(slots.PoolEV)
	}
}

type Request struct {
	ID         int64
	Pool       slots.Pool
	UserID     int64
	Date       time.Time
	Period     slots.Period
	Preference Preference
	PackID     *int64 // two rows share it for a full-day request
	State      State
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
