package lottery

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jmoran/plazabot/internal/domain/requests"
	"github.com/jmoran/plazabot/internal/domain/slots"
)

// memStore implements SlotStore, RequestStore, RequestCreator and RunLog in
// memory, with the same conditional-write semantics as the pgx repositories.
type memStore struct {
	mu     sync.Mutex
	slots  map[slots.Key]*slots.Slot
	reqs   map[int64]*requests.Request
	runs   map[string]bool
	nextID int64

	// test hooks
	beforeTryAssign func(k slots.Key)
	failOn          map[int64]error // fail transitions of specific rows
}

func newMemStore() *memStore {
	return &memStore{
		slots: make(map[slots.Key]*slots.Slot),
		reqs:  make(map[int64]*requests.Request),
		runs:  make(map[string]bool),
	}
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// cede seeds a free slot.
func (s *memStore) cede(pool slots.Pool, day time.Time, spotID int64, period slots.Period) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := slots.Key{Pool: pool, Date: day, SpotID: spotID, Period: period}
	s.slots[k] = &slots.Slot{Pool: pool, Date: day, SpotID: spotID, Period: period, OwnerUses: false, Origin: slots.OriginManual}
}

// reserve seeds an existing reservation (for usage counts and reverse tests).
func (s *memStore) reserve(pool slots.Pool, day time.Time, spotID int64, period slots.Period, userID int64, origin slots.Origin) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := slots.Key{Pool: pool, Date: day, SpotID: spotID, Period: period}
	uid := userID
	s.slots[k] = &slots.Slot{Pool: pool, Date: day, SpotID: spotID, Period: period, OwnerUses: false, ReservedBy: &uid, Origin: origin}
}

func (s *memStore) addPending(pool slots.Pool, userID int64, day time.Time, period slots.Period, pref requests.Preference) *requests.Request {
	return s.addRequest(pool, userID, day, period, pref, requests.StatePending, nil)
}

func (s *memStore) addPack(userID int64, day time.Time) (*requests.Request, *requests.Request) {
	am := s.addRequest(slots.PoolParking, userID, day, slots.PeriodAM, requests.PrefNone, requests.StatePending, nil)
	am.PackID = &am.ID
	pm := s.addRequest(slots.PoolParking, userID, day, slots.PeriodPM, requests.PrefNone, requests.StatePending, &am.ID)
	return am, pm
}

func (s *memStore) addRequest(pool slots.Pool, userID int64, day time.Time, period slots.Period, pref requests.Preference, state requests.State, packID *int64) *requests.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	q := &requests.Request{
		ID: s.nextID, Pool: pool, UserID: userID, Date: day,
		Period: period, Preference: pref, PackID: packID, State: state,
	}
	s.reqs[q.ID] = q
	return q
}

func (s *memStore) state(id int64) requests.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reqs[id].State
}

func (s *memStore) holder(k slots.Key) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.slots[k]
	if !ok || sl.ReservedBy == nil {
		return 0, false
	}
	return *sl.ReservedBy, true
}

/* SlotStore */

func (s *memStore) FreeByDate(_ context.Context, pool slots.Pool, day time.Time) ([]slots.Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []slots.Slot
	for _, sl := range s.slots {
		if sl.Pool == pool && sl.Date.Equal(day) && sl.Free() {
			out = append(out, *sl)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Period != out[j].Period {
			return out[i].Period < out[j].Period
		}
		return out[i].SpotID < out[j].SpotID
	})
	return out, nil
}

func (s *memStore) TryAssign(_ context.Context, k slots.Key, userID int64, origin slots.Origin) (bool, error) {
	if s.beforeTryAssign != nil {
		s.beforeTryAssign(k)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.slots[k]
	if !ok || !sl.Free() {
		return false, nil
	}
	uid := userID
	sl.ReservedBy = &uid
	sl.Origin = origin
	return true, nil
}

func (s *memStore) Release(_ context.Context, k slots.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sl, ok := s.slots[k]; ok {
		sl.ReservedBy = nil
		sl.Origin = slots.OriginManual
	}
	return nil
}

func (s *memStore) ReleaseLotteryByHolder(_ context.Context, pool slots.Pool, day time.Time, period slots.Period, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	released := false
	for _, sl := range s.slots {
		if sl.Pool == pool && sl.Date.Equal(day) && sl.Period == period &&
			sl.Origin == slots.OriginLottery && sl.ReservedBy != nil && *sl.ReservedBy == userID {
			sl.ReservedBy = nil
			sl.Origin = slots.OriginManual
			released = true
		}
	}
	return released, nil
}

func (s *memStore) MonthlyUsage(_ context.Context, pool slots.Pool, day time.Time) (map[int64]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	first := time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, time.UTC)
	next := first.AddDate(0, 1, 0)
	usage := make(map[int64]int)
	for _, sl := range s.slots {
		if sl.Pool == pool && sl.ReservedBy != nil && !sl.Date.Before(first) && sl.Date.Before(next) {
			usage[*sl.ReservedBy]++
		}
	}
	return usage, nil
}

/* RequestStore */

func (s *memStore) PendingByDate(_ context.Context, pool slots.Pool, day time.Time) ([]requests.Request, error) {
	return s.byState(pool, day, requests.StatePending)
}

func (s *memStore) ByDateStates(_ context.Context, pool slots.Pool, day time.Time, states ...requests.State) ([]requests.Request, error) {
	return s.byState(pool, day, states...)
}

func (s *memStore) byState(pool slots.Pool, day time.Time, states ...requests.State) ([]requests.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []requests.Request
	for _, q := range s.reqs {
		if q.Pool != pool || !q.Date.Equal(day) {
			continue
		}
		for _, st := range states {
			if q.State == st {
				out = append(out, *q)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) SetState(_ context.Context, id int64, from []requests.State, to requests.State) (bool, error) {
	if err, ok := s.failOn[id]; ok {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.reqs[id]
	if !ok {
		return false, nil
	}
	for _, st := range from {
		if q.State == st {
			q.State = to
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) MarkAssigned(_ context.Context, id int64, period slots.Period) (bool, error) {
	if err, ok := s.failOn[id]; ok {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.reqs[id]
	if !ok || q.State != requests.StatePending {
		return false, nil
	}
	q.State = requests.StateAssigned
	q.Period = period
	return true, nil
}

/* RequestCreator */

func (s *memStore) Create(_ context.Context, pool slots.Pool, userID int64, day time.Time, period slots.Period, pref requests.Preference, state requests.State) (*requests.Request, error) {
	q := s.addRequest(pool, userID, day, period, pref, state, nil)
	return q, nil
}

/* RunLog */

func (s *memStore) HasRun(_ context.Context, pool slots.Pool, day time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs[string(pool)+day.Format("2006-01-02")], nil
}

func (s *memStore) Record(_ context.Context, pool slots.Pool, day time.Time, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[string(pool)+day.Format("2006-01-02")] = true
	return nil
}
