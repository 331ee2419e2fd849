package lottery

import (
	"context"
	"log/slog"
	"time"

	"github.com/jmoran/plazabot/internal/domain/slots"
)

type RunLog interface {
	HasRun(ctx context.Context, pool slots.Pool, date time.Time) (bool, error)
	Record(ctx context.Context, pool slots.Pool, date time.Time, at time.Time) error
}

// Trigger fires the sorteo for tomorrow once the local clock passes the
// cutoff hour. The audit row written after a successful run is the only guard
// against running the same (pool, date) twice automatically; a failed run
// writes no row and is retried on the next tick.
type Trigger struct {
	engines map[slots.Pool]*Engine
	runs    RunLog
	log     *slog.Logger
	loc     *time.Location
	cutoff  int

	tick time.Duration
	now  func() time.Time
}

func NewTrigger(engines map[slots.Pool]*Engine, runs RunLog, log *slog.Logger, loc *time.Location, cutoffHour int) *Trigger {
	return &Trigger{
		engines: engines,
		runs:    runs,
		log:     log,
		loc:     loc,
		cutoff:  cutoffHour,
		tick:    time.Minute,
		now:     time.Now,
	}
}

// Start blocks until ctx is cancelled, checking once per tick.
func (t *Trigger) Start(ctx context.Context) error {
	ticker := time.NewTicker(t.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			t.Check(ctx)
		}
	}
}

// Check runs any pool whose run for tomorrow is due and not yet recorded.
func (t *Trigger) Check(ctx context.Context) {
	now := t.now().In(t.loc)
	if now.Hour() < t.cutoff {
		return
	}
	tomorrow := DateOf(now).AddDate(0, 0, 1)

	for pool, engine := range t.engines {
		done, err := t.runs.HasRun(ctx, pool, tomorrow)
		if err != nil {
			t.log.Error("trigger: audit check failed", "pool", pool, "err", err)
			continue
		}
		if done {
			continue
		}

		res, err := engine.Run(ctx, tomorrow)
		if err != nil {
			t.log.Error("trigger: run failed", "pool", pool, "date", tomorrow.Format("2006-01-02"), "err", err)
			continue
		}
		if err := t.runs.Record(ctx, pool, tomorrow, now); err != nil {
			// the run itself is idempotent, but log loudly: until the row
			// lands the next tick will re-run this date
			t.log.Error("trigger: audit record failed", "pool", pool, "err", err)
			continue
		}
		t.log.Info("sorteo ejecutado",
			"pool", pool,
			"date", tomorrow.Format("2006-01-02"),
			"assigned", res.Assigned,
			"rejected", res.Rejected,
		)
	}
}
