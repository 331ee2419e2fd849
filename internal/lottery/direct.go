package lottery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoran/plazabot/internal/domain/requests"
	"github.com/jmoran/plazabot/internal/domain/slots"
	"github.com/jmoran/plazabot/internal/infra/metrics"
	"github.com/jmoran/plazabot/internal/policy"
)

var (
	// ErrNoCapacity: no free slot for the period. Expected, not exceptional.
	ErrNoCapacity = errors.New("lottery: no free slot")
	// ErrAlreadyAssigned: a concurrent writer won the slot first. The caller
	// decides whether to retry.
	ErrAlreadyAssigned = errors.New("lottery: slot taken concurrently")
)

type RequestCreator interface {
	Create(ctx context.Context, pool slots.Pool, userID int64, date time.Time, period slots.Period, pref requests.Preference, state requests.State) (*requests.Request, error)
}

// Direct is the same-day reservation path. It bypasses the sorteo but goes
// through the exact same TryAssign claim point, so it can never collide with
// a concurrent run.
type Direct struct {
	pool   slots.Pool
	slots  SlotStore
	reqs   RequestCreator
	log    *slog.Logger
	loc    *time.Location
	cutoff int
	now    func() time.Time
}

func NewDirect(pool slots.Pool, ss SlotStore, rc RequestCreator, log *slog.Logger, loc *time.Location, cutoffHour int) *Direct {
	return &Direct{pool: pool, slots: ss, reqs: rc, log: log, loc: loc, cutoff: cutoffHour, now: time.Now}
}

// Reserve grabs the lowest-numbered free slot of (today, period) for userID.
// One attempt, no partial state on any failure path.
func (d *Direct) Reserve(ctx context.Context, userID int64, period slots.Period) (*requests.Request, error) {
	now := d.now().In(d.loc)
	today := DateOf(now)

	if !policy.CanModify(today, policy.ActionReserve, now, d.cutoff) {
		return nil, policy.ErrEditWindowClosed
	}

	free, err := d.slots.FreeByDate(ctx, d.pool, today)
	if err != nil {
		return nil, fmt.Errorf("list free slots: %w", err)
	}
	var key *slots.Key
	for _, s := range free {
		if s.Period == period {
			k := slots.Key{Pool: s.Pool, Date: s.Date, SpotID: s.SpotID, Period: s.Period}
			key = &k
			break // lowest spot id first
		}
	}
	if key == nil {
		metrics.DirectReservations.WithLabelValues("no_capacity").Inc()
		return nil, ErrNoCapacity
	}

	won, err := d.slots.TryAssign(ctx, *key, userID, slots.OriginManual)
	if err != nil {
		return nil, fmt.Errorf("assign slot: %w", err)
	}
	if !won {
		metrics.DirectReservations.WithLabelValues("lost_race").Inc()
		return nil, ErrAlreadyAssigned
	}

	req, err := d.reqs.Create(ctx, d.pool, userID, today, period, requests.PrefNone, requests.StateAssigned)
	if err != nil {
		// give the slot back so the failure leaves nothing half-done
		if relErr := d.slots.Release(ctx, *key); relErr != nil {
			d.log.Error("release after failed request insert", "err", relErr)
		}
		return nil, fmt.Errorf("record reservation: %w", err)
	}
	metrics.DirectReservations.WithLabelValues("ok").Inc()
	return req, nil
}
