// Package booking is the single chokepoint for user mutations: cessions,
// requests and cancellations. Every operation checks the edit-window policy
// before touching a repository.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoran/plazabot/internal/domain/requests"
	"github.com/jmoran/plazabot/internal/domain/slots"
	"github.com/jmoran/plazabot/internal/domain/spots"
	"github.com/jmoran/plazabot/internal/lottery"
	"github.com/jmoran/plazabot/internal/policy"
)

var (
	ErrNotTitular  = errors.New("booking: user owns no plaza")
	ErrSlotHeld    = errors.New("booking: period is reserved by a suplente")
	ErrNotFound    = errors.New("booking: request not found")
	ErrPackSameDay = errors.New("booking: full-day requests are for future dates")
)

type SlotStore interface {
	Cede(ctx context.Context, k slots.Key) error
	Retake(ctx context.Context, k slots.Key) (bool, error)
	ReleaseByHolder(ctx context.Context, pool slots.Pool, date time.Time, period slots.Period, userID int64) (bool, error)
}

type RequestStore interface {
	Create(ctx context.Context, pool slots.Pool, userID int64, date time.Time, period slots.Period, pref requests.Preference, state requests.State) (*requests.Request, error)
	CreatePack(ctx context.Context, userID int64, date time.Time) (*requests.Request, *requests.Request, error)
	Get(ctx context.Context, id int64) (*requests.Request, error)
	ByPack(ctx context.Context, packID int64) ([]requests.Request, error)
	SetState(ctx context.Context, id int64, from []requests.State, to requests.State) (bool, error)
	ActiveByUser(ctx context.Context, pool slots.Pool, userID int64, from time.Time) ([]requests.Request, error)
}

type SpotFinder interface {
	ByOwner(ctx context.Context, userID int64) (*spots.Spot, error)
}

type Service struct {
	slots   SlotStore
	reqs    RequestStore
	spots   SpotFinder
	directs map[slots.Pool]*lottery.Direct
	log     *slog.Logger
	loc     *time.Location
	cutoff  int
	now     func() time.Time
}

func NewService(ss SlotStore, rs RequestStore, sf SpotFinder, directs map[slots.Pool]*lottery.Direct, log *slog.Logger, loc *time.Location, cutoffHour int) *Service {
	return &Service{slots: ss, reqs: rs, spots: sf, directs: directs, log: log, loc: loc, cutoff: cutoffHour, now: time.Now}
}

func (s *Service) localNow() time.Time { return s.now().In(s.loc) }

// Cede marks the titular's own plaza as available. A parking plaza is ceded
// one period at a time; an EV plaza is ceded as the whole day of charging
// windows, since the windows are what its pool allocates.
func (s *Service) Cede(ctx context.Context, userID int64, date time.Time, period slots.Period) error {
	now := s.localNow()
	if !policy.CanModify(date, policy.ActionCede, now, s.cutoff) {
		return policy.ErrEditWindowClosed
	}
	spot, err := s.spots.ByOwner(ctx, userID)
	if err != nil {
		return err
	}
	if spot == nil {
		return ErrNotTitular
	}
	pool := poolOf(spot)
	for _, p := range cessionPeriods(pool, period) {
		if err := s.slots.Cede(ctx, slots.Key{Pool: pool, Date: date, SpotID: spot.ID, Period: p}); err != nil {
			return err
		}
	}
	return nil
}

// Retake reverts a cession. For an EV plaza every free window is taken back;
// either way the call is refused with ErrSlotHeld if any period is already
// reserved by a suplente.
func (s *Service) Retake(ctx context.Context, userID int64, date time.Time, period slots.Period) error {
	now := s.localNow()
	if !policy.CanModify(date, policy.ActionCede, now, s.cutoff) {
		return policy.ErrEditWindowClosed
	}
	spot, err := s.spots.ByOwner(ctx, userID)
	if err != nil {
		return err
	}
	if spot == nil {
		return ErrNotTitular
	}
	pool := poolOf(spot)
	held := false
	for _, p := range cessionPeriods(pool, period) {
		ok, err := s.slots.Retake(ctx, slots.Key{Pool: pool, Date: date, SpotID: spot.ID, Period: p})
		if err != nil {
			return err
		}
		if !ok {
			held = true
		}
	}
	if held {
		return ErrSlotHeld
	}
	return nil
}

// cessionPeriods expands a titular cession to the periods the plaza's pool
// actually allocates: the chosen AM/PM period for parking, all four charging
// windows for an EV plaza.
func cessionPeriods(pool slots.Pool, period slots.Period) []slots.Period {
	if pool == slots.PoolEV {
		return slots.Periods(slots.PoolEV)
	}
	return []slots.Period{period}
}

// RequestPeriod files a half-day request. Same-day requests skip the lottery
// and go through the direct reservation path.
func (s *Service) RequestPeriod(ctx context.Context, userID int64, date time.Time, period slots.Period) (*requests.Request, error) {
	now := s.localNow()
	if !policy.CanModify(date, policy.ActionReserve, now, s.cutoff) {
		return nil, policy.ErrEditWindowClosed
	}
	if date.Equal(lottery.DateOf(now)) {
		return s.directs[slots.PoolParking].Reserve(ctx, userID, period)
	}
	return s.reqs.Create(ctx, slots.PoolParking, userID, date, period, requests.PrefNone, requests.StatePending)
}

// RequestFullDay files an AM+PM pack for a future date. Packs exist only for
// the lottery, so there is no same-day variant.
func (s *Service) RequestFullDay(ctx context.Context, userID int64, date time.Time) (*requests.Request, *requests.Request, error) {
	now := s.localNow()
	if !policy.CanModify(date, policy.ActionReserve, now, s.cutoff) {
		return nil, nil, policy.ErrEditWindowClosed
	}
	if !date.After(lottery.DateOf(now)) {
		return nil, nil, ErrPackSameDay
	}
	return s.reqs.CreatePack(ctx, userID, date)
}

// RequestEV files an EV-window request with a preference. Same-day requests
// try the acceptable windows in order through the direct path.
func (s *Service) RequestEV(ctx context.Context, userID int64, date time.Time, pref requests.Preference) (*requests.Request, error) {
	now := s.localNow()
	if !policy.CanModify(date, policy.ActionReserve, now, s.cutoff) {
		return nil, policy.ErrEditWindowClosed
	}
	if date.Equal(lottery.DateOf(now)) {
		direct := s.directs[slots.PoolEV]
		for _, w := range pref.Windows() {
			req, err := direct.Reserve(ctx, userID, w)
			if err == nil {
				return req, nil
			}
			if !errors.Is(err, lottery.ErrNoCapacity) && !errors.Is(err, lottery.ErrAlreadyAssigned) {
				return nil, err
			}
		}
		return nil, lottery.ErrNoCapacity
	}
	return s.reqs.Create(ctx, slots.PoolEV, userID, date, "", pref, requests.StatePending)
}

// Cancel voids a request (and its pack twin, if any) and releases whatever
// slot the user held for it. Already-cancelled requests are a no-op.
func (s *Service) Cancel(ctx context.Context, userID int64, requestID int64) error {
	q, err := s.reqs.Get(ctx, requestID)
	if err != nil {
		return ErrNotFound
	}
	if q.UserID != userID {
		return ErrNotFound
	}
	if q.State == requests.StateCancelled || q.State == requests.StateRejected {
		return nil
	}
	now := s.localNow()
	if !policy.CanModify(q.Date, policy.ActionCancel, now, s.cutoff) {
		return policy.ErrEditWindowClosed
	}

	rows := []requests.Request{*q}
	if q.PackID != nil {
		rows, err = s.reqs.ByPack(ctx, *q.PackID)
		if err != nil {
			return fmt.Errorf("load pack: %w", err)
		}
	}
	for _, row := range rows {
		ok, err := s.reqs.SetState(ctx, row.ID, []requests.State{requests.StatePending, requests.StateAssigned}, requests.StateCancelled)
		if err != nil {
			return fmt.Errorf("cancel request %d: %w", row.ID, err)
		}
		if ok {
			// the row may have been assigned since we read it, so release
			// whatever the user holds for it; a no-op for pending rows
			if _, err := s.slots.ReleaseByHolder(ctx, row.Pool, row.Date, row.Period, userID); err != nil {
				return fmt.Errorf("release slot for request %d: %w", row.ID, err)
			}
		}
	}
	return nil
}

// Mine lists the user's live requests in both pools, nearest date first.
func (s *Service) Mine(ctx context.Context, userID int64) ([]requests.Request, error) {
	today := lottery.DateOf(s.localNow())
	parking, err := s.reqs.ActiveByUser(ctx, slots.PoolParking, userID, today)
	if err != nil {
		return nil, err
	}
	ev, err := s.reqs.ActiveByUser(ctx, slots.PoolEV, userID, today)
	if err != nil {
		return nil, err
	}
	return append(parking, ev...), nil
}

func poolOf(spot *spots.Spot) slots.Pool {
	if spot.EV {
		return slots.PoolEV
	}
	return slots.PoolParking
}
