package audit

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jmoran/plazabot/internal/domain/slots"
)

// Run is the audit row of one successful lottery execution. Its existence is
// what stops the automatic trigger from running the same date twice.
type Run struct {
	ID         int64
	Pool       slots.Pool
	Date       time.Time
	ExecutedAt time.Time
}

type Repo struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) *Repo { return &Repo{pool: pool} }

func (r *Repo) HasRun(ctx context.Context, pool slots.Pool, date time.Time) (bool, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*) FROM lottery_runs WHERE pool=$1 AND date=$2
	`, pool, date).Scan(&n)
	return n > 0, err
}

func (r *Repo) Record(ctx context.Context, pool slots.Pool, date time.Time, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO lottery_runs (pool, date, executed_at) VALUES ($1,$2,$3)
	`, pool, date, at)
	return err
}

// ListByDate is what the admin surface shows when asked for run history.
func (r *Repo) ListByDate(ctx context.Context, date time.Time) ([]Run, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, pool, date, executed_at FROM lottery_runs
		WHERE date=$1 ORDER BY executed_at
	`, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var e Run
		if err := rows.Scan(&e.ID, &e.Pool, &e.Date, &e.ExecutedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
