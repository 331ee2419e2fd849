package lottery

import (
	"context"
	"fmt"
	"sort"

	"github.com/jmoran/plazabot/internal/domain/requests"
	"github.com/jmoran/plazabot/internal/domain/slots"
)

// allocEV is the single pass of the EV pool. There are no packs: a request
// carries a preference that expands to the windows the user accepts, all
// equally acceptable. Windows are walked in order W1..W4; within a window the
// still-unassigned eligible candidates compete by fairness key, and a
// candidate is assigned at most once per run.
func (e *Engine) allocEV(ctx context.Context, st *runState, pending []requests.Request) error {
	done := make(map[int64]bool)

	for _, window := range slots.Periods(slots.PoolEV) {
		var eligible []requests.Request
		for _, q := range pending {
			if done[q.ID] || e.overCap(st.candidates[q.UserID]) {
				continue
			}
			if accepts(q.Preference, window) {
				eligible = append(eligible, q)
			}
		}
		sort.SliceStable(eligible, func(i, j int) bool {
			return st.candidates[eligible[i].UserID].less(st.candidates[eligible[j].UserID])
		})

		for _, q := range eligible {
			if len(st.free[window]) == 0 {
				break
			}
			key := st.free[window][0]
			won, err := e.slots.TryAssign(ctx, key, q.UserID, slots.OriginLottery)
			if err != nil {
				return fmt.Errorf("assign EV window: %w", err)
			}
			st.free[window] = st.free[window][1:]
			if !won {
				continue // stale slot; the candidate keeps competing
			}
			if err := e.assign(ctx, st, q, window, key); err != nil {
				return err
			}
			done[q.ID] = true
		}
	}

	for _, q := range pending {
		if !done[q.ID] {
			if err := e.reject(ctx, st, q); err != nil {
				return err
			}
		}
	}
	return nil
}

func accepts(pref requests.Preference, window slots.Period) bool {
	for _, w := range pref.Windows() {
		if w == window {
			return true
		}
	}
	return false
}
