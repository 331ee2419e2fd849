package lottery

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoran/plazabot/internal/domain/requests"
)

// PartialReversalError lists the rows Reverse could not put back to pending.
// Partial reversal is an error state for the operator to see, never something
// to swallow.
type PartialReversalError struct {
	RequestIDs []int64
}

func (e *PartialReversalError) Error() string {
	return fmt.Sprintf("lottery: reversal left %d requests unreverted: %v", len(e.RequestIDs), e.RequestIDs)
}

// Reverse undoes a run: the requests it settled for the date go back to
// pending, and the slots it handed out are released. An assigned row is only
// re-pended when its lottery-guarded release actually frees a slot; rows
// whose slot is not lottery-held by the assignee anymore (same-day direct
// reservations, slots re-claimed since the run) are left exactly as they are,
// otherwise a later run would hand the same user a second slot for the same
// period. Safe to call with no prior run (no-op).
func (e *Engine) Reverse(ctx context.Context, date time.Time) (int, error) {
	rows, err := e.reqs.ByDateStates(ctx, e.pool, date, requests.StateAssigned, requests.StateRejected)
	if err != nil {
		return 0, fmt.Errorf("list settled requests: %w", err)
	}

	var reverted int
	var failed []int64
	for _, q := range rows {
		if q.State == requests.StateAssigned {
			released, err := e.slots.ReleaseLotteryByHolder(ctx, e.pool, date, q.Period, q.UserID)
			if err != nil {
				e.log.Error("reverse: release failed", "request_id", q.ID, "err", err)
				failed = append(failed, q.ID)
				continue
			}
			if !released {
				// not this lottery's assignment; leave the row alone
				continue
			}
		}
		ok, err := e.reqs.SetState(ctx, q.ID, []requests.State{q.State}, requests.StatePending)
		if err != nil {
			e.log.Error("reverse: transition failed", "request_id", q.ID, "err", err)
			failed = append(failed, q.ID)
			continue
		}
		if !ok {
			// the row moved concurrently; surface it rather than guess
			failed = append(failed, q.ID)
			continue
		}
		reverted++
	}

	if len(failed) > 0 {
		return reverted, &PartialReversalError{RequestIDs: failed}
	}
	return reverted, nil
}
