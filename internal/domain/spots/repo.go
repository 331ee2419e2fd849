package spots

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repo struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) *Repo { return &Repo{pool: pool} }

func (r *Repo) List(ctx context.Context, ev bool) ([]Spot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, owner_user_id, ev, created_at
		FROM plazas WHERE ev=$1 ORDER BY id
	`, ev)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Spot
	for rows.Next() {
		var s Spot
		if err := rows.Scan(&s.ID, &s.Name, &s.OwnerUserID, &s.EV, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ByOwner returns the plaza of a titular, nil if the user owns none.
func (r *Repo) ByOwner(ctx context.Context, userID int64) (*Spot, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, owner_user_id, ev, created_at
		FROM plazas WHERE owner_user_id=$1
	`, userID)
	var s Spot
	if err := row.Scan(&s.ID, &s.Name, &s.OwnerUserID, &s.EV, &s.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}
