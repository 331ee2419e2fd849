package requests

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jmoran/plazabot/internal/domain/slots"
)

type Repo struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) *Repo { return &Repo{pool: pool} }

const cols = `id, pool, user_id, date, period, preference, pack_id, state, created_at, updated_at`

func (r *Repo) Create(ctx context.Context, pool slots.Pool, userID int64, date time.Time, period slots.Period, pref Preference, state State) (*Request, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO requests (pool, user_id, date, period, preference, state)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING `+cols,
		pool, userID, date, period, pref, state)
	return scanOne(row)
}

// CreatePack inserts the AM and PM rows of a full-day request in one
// transaction, both pointing at the AM row's id as pack_id. Either both rows
// exist or neither does.
func (r *Repo) CreatePack(ctx context.Context, userID int64, date time.Time) (*Request, *Request, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var amID int64
	if err := tx.QueryRow(ctx, `
		INSERT INTO requests (pool, user_id, date, period, state)
		VALUES ('parking',$1,$2,'AM','pending')
		RETURNING id
	`, userID, date).Scan(&amID); err != nil {
		return nil, nil, err
	}
	if _, err := tx.Exec(ctx, `UPDATE requests SET pack_id=$1 WHERE id=$1`, amID); err != nil {
		return nil, nil, err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO requests (pool, user_id, date, period, pack_id, state)
		VALUES ('parking',$1,$2,'PM',$3,'pending')
	`, userID, date, amID); err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}

	pair, err := r.ByPack(ctx, amID)
	if err != nil {
		return nil, nil, err
	}
	return &pair[0], &pair[1], nil
}

// SetState performs the conditional transition id: from -> to. Zero rows
// affected means the row was no longer in any of the from states.
func (r *Repo) SetState(ctx context.Context, id int64, from []State, to State) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE requests SET state=$2, updated_at=now()
		WHERE id=$1 AND state = ANY($3)
	`, id, to, statesToText(from))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkAssigned settles a pending row as assigned and pins the period it won.
// For EV requests the stored period is the concrete window, not the
// preference the user filed with.
func (r *Repo) MarkAssigned(ctx context.Context, id int64, period slots.Period) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE requests SET state='assigned', period=$2, updated_at=now()
		WHERE id=$1 AND state='pending'
	`, id, period)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repo) PendingByDate(ctx context.Context, pool slots.Pool, date time.Time) ([]Request, error) {
	return r.list(ctx, `
		SELECT `+cols+` FROM requests
		WHERE pool=$1 AND date=$2 AND state='pending'
		ORDER BY id
	`, pool, date)
}

func (r *Repo) ByDateStates(ctx context.Context, pool slots.Pool, date time.Time, states ...State) ([]Request, error) {
	return r.list(ctx, `
		SELECT `+cols+` FROM requests
		WHERE pool=$1 AND date=$2 AND state = ANY($3)
		ORDER BY id
	`, pool, date, statesToText(states))
}

// ActiveByUser lists a user's pending and assigned requests from a date on,
// for the listing and cancellation flows.
func (r *Repo) ActiveByUser(ctx context.Context, pool slots.Pool, userID int64, from time.Time) ([]Request, error) {
	return r.list(ctx, `
		SELECT `+cols+` FROM requests
		WHERE pool=$1 AND user_id=$2 AND date >= $3 AND state IN ('pending','assigned')
		ORDER BY date, period
	`, pool, userID, from)
}

func (r *Repo) Get(ctx context.Context, id int64) (*Request, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+cols+` FROM requests WHERE id=$1`, id)
	return scanOne(row)
}

// ByPack returns the rows of a full-day pack ordered AM, PM.
func (r *Repo) ByPack(ctx context.Context, packID int64) ([]Request, error) {
	return r.list(ctx, `SELECT `+cols+` FROM requests WHERE pack_id=$1 ORDER BY period`, packID)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOne(row rowScanner) (*Request, error) {
	var q Request
	if err := row.Scan(&q.ID, &q.Pool, &q.UserID, &q.Date, &q.Period, &q.Preference, &q.PackID, &q.State, &q.CreatedAt, &q.UpdatedAt); err != nil {
		return nil, err
	}
	return &q, nil
}

func (r *Repo) list(ctx context.Context, q string, args ...any) ([]Request, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Request
	for rows.Next() {
		var item Request
		if err := rows.Scan(&item.ID, &item.Pool, &item.UserID, &item.Date, &item.Period, &item.Preference, &item.PackID, &item.State, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func statesToText(states []State) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}
