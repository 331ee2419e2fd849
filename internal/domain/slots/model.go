package slots

import "time"

// Pool separates the ordinary parking slots from the EV-charger windows.
// Both pools share the same table and the same assignment rules.
type Pool string

const (
	PoolParking Pool = "parking"
	PoolEV      Pool = "ev"
)

type Period string

const (
	PeriodAM Period = "AM"
	PeriodPM Period = "PM"

	PeriodW1 Period = "W1"
	PeriodW2 Period = "W2"
	PeriodW3 Period = "W3"
	PeriodW4 Period = "W4"
)

// Periods returns the fixed period set of a pool, in allocation order.
func Periods(pool Pool) []Period {
	if pool == PoolEV {
		return []Period{PeriodW1, PeriodW2, PeriodW3, PeriodW4}
	}
	return []Period{PeriodAM, PeriodPM}
}

type Origin string

const (
	OriginManual  Origin = "manual"
	OriginLottery Origin = "lottery"
)

// Slot is one (date, plaza, period) occupancy row. A slot is free when the
// titular has ceded it (OwnerUses=false) and nobody holds it yet.
type Slot struct {
	Pool       Pool
	Date       time.Time // civil date, midnight UTC
	SpotID     int64
	Period     Period
	OwnerUses  bool
	ReservedBy *int64
	Origin     Origin
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (s Slot) Free() bool { return !s.OwnerUses && s.ReservedBy == nil }

// Key identifies a slot row.
type Key struct {
	Pool   Pool
	Date   time.Time
	SpotID int64
	Period Period
}
