package spots

import "time"

// Spot is a physical plaza. OwnerUserID is nil for pool-only plazas (no
// titular). EV marks charger plazas, which belong to the EV pool.
type Spot struct {
	ID          int64
	Name        string
	OwnerUserID *int64
	EV          bool
	CreatedAt   time.Time
}
