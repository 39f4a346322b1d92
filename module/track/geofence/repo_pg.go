package geofence

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"GProject/tools/errs"
)

type pgRepo struct {
	pool *pgxpool.Pool
}

func NewPgRepo(pool *pgxpool.Pool) Repo {
	return &pgRepo{pool: pool}
}

// InitSchema creates the geofences table. Safe to call on every boot.
func InitSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS geofences (
			id          BIGSERIAL PRIMARY KEY,
			name        VARCHAR(128) NOT NULL,
			fence_type  VARCHAR(16)  NOT NULL DEFAULT 'circle',
			center_lat  DOUBLE PRECISION NOT NULL,
			center_lng  DOUBLE PRECISION NOT NULL,
			radius_m    DOUBLE PRECISION NOT NULL,
			description TEXT DEFAULT '',
			active      BOOLEAN NOT NULL DEFAULT TRUE,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	return err
}

func (r *pgRepo) Insert(ctx context.Context, f *Fence) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO geofences (name, fence_type, center_lat, center_lng, radius_m, description, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING id::text`,
		f.Name, f.FenceType, f.CenterLat, f.CenterLng, f.RadiusM, f.Description, f.Active, f.CreatedAt,
	).Scan(&f.ID)
}

func (r *pgRepo) ListActive(ctx context.Context) ([]*Fence, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, name, fence_type, center_lat, center_lng, radius_m, description, active, created_at
		FROM geofences WHERE active`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Fence
	for rows.Next() {
		f := &Fence{}
		if err := rows.Scan(&f.ID, &f.Name, &f.FenceType, &f.CenterLat, &f.CenterLng,
			&f.RadiusM, &f.Description, &f.Active, &f.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (r *pgRepo) Deactivate(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE geofences SET active = FALSE WHERE id::text = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound.WrapMsg("fence " + id)
	}
	return nil
}
