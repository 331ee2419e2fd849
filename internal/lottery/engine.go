// Package lottery implements the fairness allocation of ceded parking
// periods: the sorteo over pending requests, its reversal, and the same-day
// direct reservation path. The engine works against small store interfaces so
// the concrete pgx repositories and the test fakes are interchangeable.
package lottery

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/jmoran/plazabot/internal/domain/requests"
	"github.com/jmoran/plazabot/internal/domain/slots"
	"github.com/jmoran/plazabot/internal/infra/metrics"
)

// SlotStore is the slice of the slot repository the engine needs. TryAssign
// must be atomic: exactly one caller wins a free slot, losers see false.
type SlotStore interface {
	FreeByDate(ctx context.Context, pool slots.Pool, date time.Time) ([]slots.Slot, error)
	TryAssign(ctx context.Context, k slots.Key, userID int64, origin slots.Origin) (bool, error)
	Release(ctx context.Context, k slots.Key) error
	ReleaseLotteryByHolder(ctx context.Context, pool slots.Pool, date time.Time, period slots.Period, userID int64) (bool, error)
	MonthlyUsage(ctx context.Context, pool slots.Pool, date time.Time) (map[int64]int, error)
}

type RequestStore interface {
	PendingByDate(ctx context.Context, pool slots.Pool, date time.Time) ([]requests.Request, error)
	ByDateStates(ctx context.Context, pool slots.Pool, date time.Time, states ...requests.State) ([]requests.Request, error)
	SetState(ctx context.Context, id int64, from []requests.State, to requests.State) (bool, error)
	MarkAssigned(ctx context.Context, id int64, period slots.Period) (bool, error)
}

// Outcome is the per-request verdict of a run, for display to admins.
type Outcome struct {
	RequestID int64
	UserID    int64
	Period    slots.Period
	State     requests.State
}

type Result struct {
	Pool     slots.Pool
	Date     time.Time
	Assigned map[slots.Period]int
	Rejected int
	Outcomes []Outcome
}

// RunError reports a run that stopped on a persistence failure. Pending lists
// the request ids not yet settled; a retry will skip everything else.
type RunError struct {
	Pending []int64
	Err     error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("lottery: run aborted with %d requests still pending: %v", len(e.Pending), e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

type Engine struct {
	pool       slots.Pool
	slots      SlotStore
	reqs       RequestStore
	log        *slog.Logger
	monthlyCap int // 0 = disabled

	// one tag per candidate, drawn before sorting; injectable for tests
	randTag func() uint64
}

func NewEngine(pool slots.Pool, ss SlotStore, rs RequestStore, log *slog.Logger, monthlyCap int) *Engine {
	return &Engine{
		pool:       pool,
		slots:      ss,
		reqs:       rs,
		log:        log,
		monthlyCap: monthlyCap,
		randTag:    rand.Uint64,
	}
}

// candidate carries the fairness key of one requester for the whole run.
type candidate struct {
	usage int
	tag   uint64
}

func (c candidate) less(o candidate) bool {
	if c.usage != o.usage {
		return c.usage < o.usage
	}
	return c.tag < o.tag
}

// run-local mutable state shared by the pack and single passes.
type runState struct {
	date       time.Time
	free       map[slots.Period][]slots.Key // ordered by spot id
	candidates map[int64]candidate
	settled    map[int64]bool // request id -> handled this run
	pending    []requests.Request
	res        *Result
}

// Run executes the sorteo for one date. Deterministic given the usage counts
// and the drawn tags; safe to re-run after a partial failure because every
// transition is conditional on the row still being pending.
func (e *Engine) Run(ctx context.Context, date time.Time) (*Result, error) {
	res := &Result{Pool: e.pool, Date: date, Assigned: make(map[slots.Period]int)}

	pending, err := e.reqs.PendingByDate(ctx, e.pool, date)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	if len(pending) == 0 {
		return res, nil
	}

	freeSlots, err := e.slots.FreeByDate(ctx, e.pool, date)
	if err != nil {
		return nil, fmt.Errorf("list free slots: %w", err)
	}
	usage, err := e.slots.MonthlyUsage(ctx, e.pool, date)
	if err != nil {
		return nil, fmt.Errorf("monthly usage: %w", err)
	}

	st := &runState{
		date:       date,
		free:       groupFree(freeSlots),
		candidates: make(map[int64]candidate),
		settled:    make(map[int64]bool),
		pending:    pending,
		res:        res,
	}
	for _, q := range pending {
		if _, ok := st.candidates[q.UserID]; !ok {
			st.candidates[q.UserID] = candidate{usage: usage[q.UserID], tag: e.randTag()}
		}
	}

	packs, singles := e.partition(pending)

	if err := e.allocPacks(ctx, st, packs); err != nil {
		return res, e.abort(st, err)
	}

	if e.pool == slots.PoolEV {
		err = e.allocEV(ctx, st, singles)
	} else {
		err = e.allocSingles(ctx, st, singles)
	}
	if err != nil {
		return res, e.abort(st, err)
	}

	metrics.LotteryRuns.WithLabelValues(string(e.pool)).Inc()
	for period, n := range res.Assigned {
		metrics.LotteryAssigned.WithLabelValues(string(e.pool), string(period)).Add(float64(n))
	}
	metrics.LotteryRejected.WithLabelValues(string(e.pool)).Add(float64(res.Rejected))
	return res, nil
}

func groupFree(list []slots.Slot) map[slots.Period][]slots.Key {
	free := make(map[slots.Period][]slots.Key)
	for _, s := range list {
		free[s.Period] = append(free[s.Period], slots.Key{Pool: s.Pool, Date: s.Date, SpotID: s.SpotID, Period: s.Period})
	}
	return free
}

type pack struct {
	userID int64
	am, pm requests.Request
}

// partition splits the pending rows into well-formed full-day packs and
// singles. A pack missing its counterpart, or otherwise malformed, degrades
// to singles and is logged — never dropped, never assigned as a pack.
func (e *Engine) partition(pending []requests.Request) ([]pack, []requests.Request) {
	var singles []requests.Request
	grouped := make(map[int64][]requests.Request)
	for _, q := range pending {
		if q.PackID == nil {
			singles = append(singles, q)
			continue
		}
		grouped[*q.PackID] = append(grouped[*q.PackID], q)
	}

	var packs []pack
	for packID, rows := range grouped {
		if ok, p := wellFormed(rows); ok {
			packs = append(packs, p)
			continue
		}
		e.log.Warn("inconsistent pack, degrading to singles", "pack_id", packID, "rows", len(rows))
		singles = append(singles, rows...)
	}
	// map iteration order is random; restore a stable base order before the
	// fairness sort so ties beyond the tag cannot reorder between runs
	sort.Slice(packs, func(i, j int) bool { return packs[i].am.ID < packs[j].am.ID })
	sort.Slice(singles, func(i, j int) bool { return singles[i].ID < singles[j].ID })
	return packs, singles
}

func wellFormed(rows []requests.Request) (bool, pack) {
	if len(rows) != 2 || rows[0].UserID != rows[1].UserID {
		return false, pack{}
	}
	var p pack
	p.userID = rows[0].UserID
	for _, q := range rows {
		switch q.Period {
		case slots.PeriodAM:
			p.am = q
		case slots.PeriodPM:
			p.pm = q
		}
	}
	if p.am.ID == 0 || p.pm.ID == 0 {
		return false, pack{}
	}
	return true, p
}

// allocPacks runs before singles. A pack needs one free AM and one free PM
// slot; it is never split. A winner's effective usage goes up by 2 so the
// same user does not sweep the rest of the run.
func (e *Engine) allocPacks(ctx context.Context, st *runState, packs []pack) error {
	sort.SliceStable(packs, func(i, j int) bool {
		return st.candidates[packs[i].userID].less(st.candidates[packs[j].userID])
	})

	for _, p := range packs {
		if e.overCap(st.candidates[p.userID]) {
			if err := e.reject(ctx, st, p.am, p.pm); err != nil {
				return err
			}
			continue
		}
		if len(st.free[slots.PeriodAM]) == 0 || len(st.free[slots.PeriodPM]) == 0 {
			if err := e.reject(ctx, st, p.am, p.pm); err != nil {
				return err
			}
			continue
		}

		amKey := st.free[slots.PeriodAM][0]
		won, err := e.slots.TryAssign(ctx, amKey, p.userID, slots.OriginLottery)
		if err != nil {
			return fmt.Errorf("assign AM slot: %w", err)
		}
		st.free[slots.PeriodAM] = st.free[slots.PeriodAM][1:] // taken either way
		if !won {
			if err := e.reject(ctx, st, p.am, p.pm); err != nil {
				return err
			}
			continue
		}

		pmKey := st.free[slots.PeriodPM][0]
		won, err = e.slots.TryAssign(ctx, pmKey, p.userID, slots.OriginLottery)
		if err != nil {
			return fmt.Errorf("assign PM slot: %w", err)
		}
		st.free[slots.PeriodPM] = st.free[slots.PeriodPM][1:]
		if !won {
			// lost the second half to a concurrent writer: give the first
			// half back and reject the pack whole
			if err := e.slots.Release(ctx, amKey); err != nil {
				return fmt.Errorf("release AM after lost PM: %w", err)
			}
			if err := e.reject(ctx, st, p.am, p.pm); err != nil {
				return err
			}
			continue
		}

		if err := e.assign(ctx, st, p.am, slots.PeriodAM, amKey); err != nil {
			return err
		}
		if err := e.assign(ctx, st, p.pm, slots.PeriodPM, pmKey); err != nil {
			return err
		}
		c := st.candidates[p.userID]
		c.usage += 2
		st.candidates[p.userID] = c
	}
	return nil
}

// allocSingles handles the per-period greedy pass, AM then PM, using the
// usage counts as updated by the pack pass.
func (e *Engine) allocSingles(ctx context.Context, st *runState, singles []requests.Request) error {
	byPeriod := make(map[slots.Period][]requests.Request)
	for _, q := range singles {
		byPeriod[q.Period] = append(byPeriod[q.Period], q)
	}

	for _, period := range slots.Periods(e.pool) {
		queue := byPeriod[period]
		sort.SliceStable(queue, func(i, j int) bool {
			return st.candidates[queue[i].UserID].less(st.candidates[queue[j].UserID])
		})

		for _, q := range queue {
			if e.overCap(st.candidates[q.UserID]) || len(st.free[period]) == 0 {
				if err := e.reject(ctx, st, q); err != nil {
					return err
				}
				continue
			}
			key := st.free[period][0]
			won, err := e.slots.TryAssign(ctx, key, q.UserID, slots.OriginLottery)
			if err != nil {
				return fmt.Errorf("assign slot: %w", err)
			}
			st.free[period] = st.free[period][1:]
			if !won {
				if err := e.reject(ctx, st, q); err != nil {
					return err
				}
				continue
			}
			if err := e.assign(ctx, st, q, period, key); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) overCap(c candidate) bool {
	return e.monthlyCap > 0 && c.usage >= e.monthlyCap
}

// assign settles one pending row as assigned. If the row was settled by
// someone else in the meantime (e.g. cancelled), the captured slot is given
// back so no reservation exists without a live request behind it.
func (e *Engine) assign(ctx context.Context, st *runState, q requests.Request, period slots.Period, key slots.Key) error {
	ok, err := e.reqs.MarkAssigned(ctx, q.ID, period)
	if err != nil {
		return fmt.Errorf("mark request %d assigned: %w", q.ID, err)
	}
	st.settled[q.ID] = true
	if !ok {
		e.log.Warn("request settled concurrently, releasing slot", "request_id", q.ID)
		return e.slots.Release(ctx, key)
	}
	st.res.Assigned[period]++
	st.res.Outcomes = append(st.res.Outcomes, Outcome{RequestID: q.ID, UserID: q.UserID, Period: period, State: requests.StateAssigned})
	return nil
}

func (e *Engine) reject(ctx context.Context, st *runState, qs ...requests.Request) error {
	for _, q := range qs {
		ok, err := e.reqs.SetState(ctx, q.ID, []requests.State{requests.StatePending}, requests.StateRejected)
		if err != nil {
			return fmt.Errorf("reject request %d: %w", q.ID, err)
		}
		st.settled[q.ID] = true
		if !ok {
			continue // already settled elsewhere, nothing to record
		}
		st.res.Rejected++
		st.res.Outcomes = append(st.res.Outcomes, Outcome{RequestID: q.ID, UserID: q.UserID, Period: q.Period, State: requests.StateRejected})
	}
	return nil
}

// abort wraps a mid-run failure with the ids still pending, so the operator
// knows exactly what a retry will pick up.
func (e *Engine) abort(st *runState, err error) error {
	var left []int64
	for _, q := range st.pending {
		if !st.settled[q.ID] {
			left = append(left, q.ID)
		}
	}
	e.log.Error("lottery run aborted", "pool", e.pool, "date", st.date.Format("2006-01-02"), "pending_left", len(left), "err", err)
	return &RunError{Pending: left, Err: err}
}
