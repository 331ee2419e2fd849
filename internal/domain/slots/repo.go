package slots

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Repo struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) *Repo { return &Repo{pool: pool} }

// Cede marks the period as not used by its titular, creating the row if this
// is the first write for that (date, plaza, period).
func (r *Repo) Cede(ctx context.Context, k Key) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO slots (pool, date, spot_id, period, owner_uses, origin)
		VALUES ($1,$2,$3,$4,false,'manual')
		ON CONFLICT (pool, date, spot_id, period)
		DO UPDATE SET owner_uses=false, updated_at=now()
	`, k.Pool, k.Date, k.SpotID, k.Period)
	return err
}

// Retake reverts a cession. Conditional: the titular cannot take the period
// back while a suplente holds it.
func (r *Repo) Retake(ctx context.Context, k Key) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE slots SET owner_uses=true, updated_at=now()
		WHERE pool=$1 AND date=$2 AND spot_id=$3 AND period=$4
		  AND reserved_by IS NULL
	`, k.Pool, k.Date, k.SpotID, k.Period)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// TryAssign captures a free slot for userID. The WHERE guard makes this the
// single atomic claim point: whoever gets RowsAffected()==1 owns the slot,
// every concurrent caller gets false and no mutation.
func (r *Repo) TryAssign(ctx context.Context, k Key, userID int64, origin Origin) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE slots SET reserved_by=$5, origin=$6, updated_at=now()
		WHERE pool=$1 AND date=$2 AND spot_id=$3 AND period=$4
		  AND owner_uses=false AND reserved_by IS NULL
	`, k.Pool, k.Date, k.SpotID, k.Period, userID, origin)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Release frees a slot unconditionally. Idempotent: releasing an already-free
// slot affects zero rows and is not an error.
func (r *Repo) Release(ctx context.Context, k Key) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE slots SET reserved_by=NULL, origin='manual', updated_at=now()
		WHERE pool=$1 AND date=$2 AND spot_id=$3 AND period=$4
	`, k.Pool, k.Date, k.SpotID, k.Period)
	return err
}

// ReleaseLotteryByHolder frees the slot the lottery gave userID for
// (date, period), and only while userID still holds it with origin=lottery.
// Direct (manual) reservations and slots re-reserved since the run are left
// untouched, which is what makes reversal safe to run late.
func (r *Repo) ReleaseLotteryByHolder(ctx context.Context, pool Pool, date time.Time, period Period, userID int64) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE slots SET reserved_by=NULL, origin='manual', updated_at=now()
		WHERE pool=$1 AND date=$2 AND period=$3
		  AND origin='lottery' AND reserved_by=$4
	`, pool, date, period, userID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() >= 1, nil
}

// ReleaseByHolder frees whichever slot userID holds for (date, period).
// Used by cancellations, which know the holder but not the plaza.
func (r *Repo) ReleaseByHolder(ctx context.Context, pool Pool, date time.Time, period Period, userID int64) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE slots SET reserved_by=NULL, origin='manual', updated_at=now()
		WHERE pool=$1 AND date=$2 AND period=$3 AND reserved_by=$4
	`, pool, date, period, userID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() >= 1, nil
}

// FreeByDate lists the free slots of a date ordered by period and plaza id,
// so allocation always picks the lowest plaza first.
func (r *Repo) FreeByDate(ctx context.Context, pool Pool, date time.Time) ([]Slot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT pool, date, spot_id, period, owner_uses, reserved_by, origin, created_at, updated_at
		FROM slots
		WHERE pool=$1 AND date=$2 AND owner_uses=false AND reserved_by IS NULL
		ORDER BY period, spot_id
	`, pool, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Slot
	for rows.Next() {
		var s Slot
		if err := rows.Scan(&s.Pool, &s.Date, &s.SpotID, &s.Period, &s.OwnerUses, &s.ReservedBy, &s.Origin, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// MonthlyUsage derives the fairness signal: how many periods each user holds
// in the month containing date. Always recomputed from the slot rows, never
// kept as a separate counter.
func (r *Repo) MonthlyUsage(ctx context.Context, pool Pool, date time.Time) (map[int64]int, error) {
	first := time.Date(date.Year(), date.Month(), 1, 0, 0, 0, 0, time.UTC)
	next := first.AddDate(0, 1, 0)

	rows, err := r.pool.Query(ctx, `
		SELECT reserved_by, count(*)
		FROM slots
		WHERE pool=$1 AND date >= $2 AND date < $3 AND reserved_by IS NOT NULL
		GROUP BY reserved_by
	`, pool, first, next)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	usage := make(map[int64]int)
	for rows.Next() {
		var userID int64
		var n int
		if err := rows.Scan(&userID, &n); err != nil {
			return nil, err
		}
		usage[userID] = n
	}
	return usage, rows.Err()
}
