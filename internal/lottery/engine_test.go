package lottery

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmoran/plazabot/internal/domain/requests"
	"github.com/jmoran/plazabot/internal/domain/slots"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// tagQueue makes the per-candidate tags deterministic: tags are handed out in
// the order candidates first appear in the pending list (ascending id).
func tagQueue(tags ...uint64) func() uint64 {
	i := 0
	return func() uint64 {
		t := tags[i%len(tags)]
		i++
		return t
	}
}

func newTestEngine(pool slots.Pool, store *memStore, cap int) *Engine {
	return NewEngine(pool, store, store, testLogger(), cap)
}

var day = date(2026, time.March, 12)

// Scenario A: 3 free AM slots, 5 pending singles with usage [0,0,1,2,2].
// The three lowest-usage users win; the tie between the zero-usage pair is
// broken by the precomputed tag, not by insertion order.
func TestRun_FairnessOrdering(t *testing.T) {
	store := newMemStore()
	for spot := int64(1); spot <= 3; spot++ {
		store.cede(slots.PoolParking, day, spot, slots.PeriodAM)
	}
	// prior reservations this month give users 3..5 their usage counts
	earlier := date(2026, time.March, 2)
	store.reserve(slots.PoolParking, earlier, 1, slots.PeriodAM, 3, slots.OriginLottery)
	store.reserve(slots.PoolParking, earlier, 2, slots.PeriodAM, 4, slots.OriginLottery)
	store.reserve(slots.PoolParking, earlier, 2, slots.PeriodPM, 4, slots.OriginLottery)
	store.reserve(slots.PoolParking, earlier, 3, slots.PeriodAM, 5, slots.OriginLottery)
	store.reserve(slots.PoolParking, earlier, 3, slots.PeriodPM, 5, slots.OriginLottery)

	var ids []int64
	for user := int64(1); user <= 5; user++ {
		ids = append(ids, store.addPending(slots.PoolParking, user, day, slots.PeriodAM, requests.PrefNone).ID)
	}

	e := newTestEngine(slots.PoolParking, store, 0)
	// user 1 draws a bigger tag than user 2: insertion order must not save it
	e.randTag = tagQueue(50, 10, 1, 1, 1)

	res, err := e.Run(context.Background(), day)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Assigned[slots.PeriodAM])
	assert.Equal(t, 2, res.Rejected)

	assert.Equal(t, requests.StateAssigned, store.state(ids[0]))
	assert.Equal(t, requests.StateAssigned, store.state(ids[1]))
	assert.Equal(t, requests.StateAssigned, store.state(ids[2]))
	assert.Equal(t, requests.StateRejected, store.state(ids[3]))
	assert.Equal(t, requests.StateRejected, store.state(ids[4]))

	// user 2 sorted ahead of user 1, so it got the lowest plaza
	holder, ok := store.holder(slots.Key{Pool: slots.PoolParking, Date: day, SpotID: 1, Period: slots.PeriodAM})
	require.True(t, ok)
	assert.Equal(t, int64(2), holder)
}

// Scenario B: a pack with no free PM slot is rejected whole, and the AM slot
// it could not use stays available for singles in the same run.
func TestRun_PackNeverSplit(t *testing.T) {
	store := newMemStore()
	store.cede(slots.PoolParking, day, 1, slots.PeriodAM)
	am, pm := store.addPack(7, day)
	single := store.addPending(slots.PoolParking, 8, day, slots.PeriodAM, requests.PrefNone)

	e := newTestEngine(slots.PoolParking, store, 0)
	res, err := e.Run(context.Background(), day)
	require.NoError(t, err)

	assert.Equal(t, requests.StateRejected, store.state(am.ID))
	assert.Equal(t, requests.StateRejected, store.state(pm.ID))
	assert.Equal(t, requests.StateAssigned, store.state(single.ID))
	assert.Equal(t, 1, res.Assigned[slots.PeriodAM])
	assert.Equal(t, 2, res.Rejected)
}

// A pack winner's usage goes up by 2 for the rest of the run, so it loses the
// later single tie against an equal-usage competitor.
func TestRun_PackWinRaisesUsage(t *testing.T) {
	store := newMemStore()
	store.cede(slots.PoolParking, day, 1, slots.PeriodAM)
	store.cede(slots.PoolParking, day, 1, slots.PeriodPM)
	store.cede(slots.PoolParking, day, 2, slots.PeriodPM)

	_, _ = store.addPack(1, day)
	packUserSingle := store.addPending(slots.PoolParking, 1, day, slots.PeriodPM, requests.PrefNone)
	otherSingle := store.addPending(slots.PoolParking, 2, day, slots.PeriodPM, requests.PrefNone)

	e := newTestEngine(slots.PoolParking, store, 0)
	// give the pack user the better tag: only the +2 usage can beat it
	e.randTag = tagQueue(1, 99)

	_, err := e.Run(context.Background(), day)
	require.NoError(t, err)

	assert.Equal(t, requests.StateAssigned, store.state(otherSingle.ID))
	assert.Equal(t, requests.StateRejected, store.state(packUserSingle.ID))
}

func TestRun_NoPendingIsNoop(t *testing.T) {
	store := newMemStore()
	store.cede(slots.PoolParking, day, 1, slots.PeriodAM)

	e := newTestEngine(slots.PoolParking, store, 0)
	res, err := e.Run(context.Background(), day)
	require.NoError(t, err)
	assert.Empty(t, res.Outcomes)
}

func TestRun_NoFreeSlotsRejectsAll(t *testing.T) {
	store := newMemStore()
	q1 := store.addPending(slots.PoolParking, 1, day, slots.PeriodAM, requests.PrefNone)
	q2 := store.addPending(slots.PoolParking, 2, day, slots.PeriodPM, requests.PrefNone)

	e := newTestEngine(slots.PoolParking, store, 0)
	res, err := e.Run(context.Background(), day)
	require.NoError(t, err)

	assert.Equal(t, requests.StateRejected, store.state(q1.ID))
	assert.Equal(t, requests.StateRejected, store.state(q2.ID))
	assert.Equal(t, 2, res.Rejected)
}

func TestRun_IdempotentRerun(t *testing.T) {
	store := newMemStore()
	store.cede(slots.PoolParking, day, 1, slots.PeriodAM)
	store.addPending(slots.PoolParking, 1, day, slots.PeriodAM, requests.PrefNone)
	store.addPending(slots.PoolParking, 2, day, slots.PeriodAM, requests.PrefNone)

	e := newTestEngine(slots.PoolParking, store, 0)
	first, err := e.Run(context.Background(), day)
	require.NoError(t, err)
	require.Len(t, first.Outcomes, 2)

	second, err := e.Run(context.Background(), day)
	require.NoError(t, err)
	assert.Empty(t, second.Outcomes, "second run must see nothing pending and change nothing")
}

// A lone row carrying a pack id degrades to a single instead of being dropped
// or assigned as a pack.
func TestRun_InconsistentPackDegradesToSingle(t *testing.T) {
	store := newMemStore()
	store.cede(slots.PoolParking, day, 1, slots.PeriodAM)
	orphan := store.addPending(slots.PoolParking, 1, day, slots.PeriodAM, requests.PrefNone)
	store.mu.Lock()
	store.reqs[orphan.ID].PackID = &orphan.ID
	store.mu.Unlock()

	e := newTestEngine(slots.PoolParking, store, 0)
	res, err := e.Run(context.Background(), day)
	require.NoError(t, err)

	assert.Equal(t, requests.StateAssigned, store.state(orphan.ID))
	assert.Equal(t, 1, res.Assigned[slots.PeriodAM])
}

func TestRun_MonthlyCap(t *testing.T) {
	store := newMemStore()
	store.cede(slots.PoolParking, day, 1, slots.PeriodAM)
	earlier := date(2026, time.March, 2)
	store.reserve(slots.PoolParking, earlier, 2, slots.PeriodAM, 1, slots.OriginLottery)
	store.reserve(slots.PoolParking, earlier, 2, slots.PeriodPM, 1, slots.OriginLottery)
	capped := store.addPending(slots.PoolParking, 1, day, slots.PeriodAM, requests.PrefNone)

	e := newTestEngine(slots.PoolParking, store, 2)
	_, err := e.Run(context.Background(), day)
	require.NoError(t, err)
	assert.Equal(t, requests.StateRejected, store.state(capped.ID))
}

// A persistence failure mid-run surfaces a RunError naming the rows still
// pending; once the store recovers, a retry settles exactly those.
func TestRun_PartialFailureThenRetry(t *testing.T) {
	store := newMemStore()
	store.cede(slots.PoolParking, day, 1, slots.PeriodAM)
	q1 := store.addPending(slots.PoolParking, 1, day, slots.PeriodAM, requests.PrefNone)
	q2 := store.addPending(slots.PoolParking, 2, day, slots.PeriodAM, requests.PrefNone)

	e := newTestEngine(slots.PoolParking, store, 0)
	e.randTag = tagQueue(1, 2)

	// q1 settles normally, q2's rejection hits a broken store
	store.failOn = map[int64]error{q2.ID: errors.New("connection reset")}

	_, err := e.Run(context.Background(), day)
	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	require.Len(t, runErr.Pending, 1)
	assert.Equal(t, q2.ID, runErr.Pending[0])
	assert.Equal(t, requests.StateAssigned, store.state(q1.ID))
	assert.Equal(t, requests.StatePending, store.state(q2.ID))

	store.failOn = nil
	store.cede(slots.PoolParking, day, 2, slots.PeriodAM)
	res, err := e.Run(context.Background(), day)
	require.NoError(t, err)
	require.Len(t, res.Outcomes, 1, "retry must only touch the row left pending")
	assert.Equal(t, q2.ID, res.Outcomes[0].RequestID)
	assert.Equal(t, requests.StateAssigned, store.state(q2.ID))
}

// Exactly one of many concurrent claimants wins a slot.
func TestTryAssign_NoDoubleAssignment(t *testing.T) {
	store := newMemStore()
	store.cede(slots.PoolParking, day, 1, slots.PeriodAM)
	k := slots.Key{Pool: slots.PoolParking, Date: day, SpotID: 1, Period: slots.PeriodAM}

	const claimants = 32
	var wg sync.WaitGroup
	wins := make(chan int64, claimants)
	for user := int64(1); user <= claimants; user++ {
		wg.Add(1)
		go func(uid int64) {
			defer wg.Done()
			won, err := store.TryAssign(context.Background(), k, uid, slots.OriginManual)
			require.NoError(t, err)
			if won {
				wins <- uid
			}
		}(user)
	}
	wg.Wait()
	close(wins)

	require.Len(t, wins, 1)
	winner := <-wins
	holder, ok := store.holder(k)
	require.True(t, ok)
	assert.Equal(t, winner, holder)
}

func TestReverse_RoundTrip(t *testing.T) {
	store := newMemStore()
	store.cede(slots.PoolParking, day, 1, slots.PeriodAM)
	store.cede(slots.PoolParking, day, 1, slots.PeriodPM)
	q1 := store.addPending(slots.PoolParking, 1, day, slots.PeriodAM, requests.PrefNone)
	q2 := store.addPending(slots.PoolParking, 2, day, slots.PeriodAM, requests.PrefNone)

	e := newTestEngine(slots.PoolParking, store, 0)
	_, err := e.Run(context.Background(), day)
	require.NoError(t, err)

	n, err := e.Reverse(context.Background(), day)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, requests.StatePending, store.state(q1.ID))
	assert.Equal(t, requests.StatePending, store.state(q2.ID))

	_, held := store.holder(slots.Key{Pool: slots.PoolParking, Date: day, SpotID: 1, Period: slots.PeriodAM})
	assert.False(t, held, "the lottery's slot must be free again")

	res, err := e.Run(context.Background(), day)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Assigned[slots.PeriodAM])
	assert.Equal(t, 1, res.Rejected)
}

// Reverse must not touch same-day direct reservations: the slot stays held,
// the request stays assigned, and a later run must not give the same user a
// second slot for the same period.
func TestReverse_LeavesManualAlone(t *testing.T) {
	store := newMemStore()
	store.reserve(slots.PoolParking, day, 1, slots.PeriodAM, 9, slots.OriginManual)
	direct := store.addRequest(slots.PoolParking, 9, day, slots.PeriodAM, requests.PrefNone, requests.StateAssigned, nil)
	store.cede(slots.PoolParking, day, 2, slots.PeriodAM)

	e := newTestEngine(slots.PoolParking, store, 0)
	n, err := e.Reverse(context.Background(), day)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, requests.StateAssigned, store.state(direct.ID))

	holder, held := store.holder(slots.Key{Pool: slots.PoolParking, Date: day, SpotID: 1, Period: slots.PeriodAM})
	require.True(t, held, "manual reservation must survive reversal")
	assert.Equal(t, int64(9), holder)

	_, err = e.Run(context.Background(), day)
	require.NoError(t, err)
	_, taken := store.holder(slots.Key{Pool: slots.PoolParking, Date: day, SpotID: 2, Period: slots.PeriodAM})
	assert.False(t, taken, "user 9 must keep exactly one AM slot")
}

// A row-level failure during reversal is collected, named in the error, and
// does not stop the other rows from reverting.
func TestReverse_PartialFailureIsSurfaced(t *testing.T) {
	store := newMemStore()
	store.cede(slots.PoolParking, day, 1, slots.PeriodAM)
	store.cede(slots.PoolParking, day, 1, slots.PeriodPM)
	q1 := store.addPending(slots.PoolParking, 1, day, slots.PeriodAM, requests.PrefNone)
	q2 := store.addPending(slots.PoolParking, 2, day, slots.PeriodPM, requests.PrefNone)

	e := newTestEngine(slots.PoolParking, store, 0)
	_, err := e.Run(context.Background(), day)
	require.NoError(t, err)
	require.Equal(t, requests.StateAssigned, store.state(q1.ID))
	require.Equal(t, requests.StateAssigned, store.state(q2.ID))

	store.failOn = map[int64]error{q2.ID: errors.New("connection reset")}

	n, err := e.Reverse(context.Background(), day)
	var partial *PartialReversalError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, []int64{q2.ID}, partial.RequestIDs)
	assert.Equal(t, 1, n)
	assert.Equal(t, requests.StatePending, store.state(q1.ID))
	assert.Equal(t, requests.StateAssigned, store.state(q2.ID))
}
