package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"GProject/logger"
	"GProject/module/track/model"
	"GProject/tools/errs"
	"GProject/tools/geo"
)

// PgStore Postgres 实现：父表 gps_points 按 source_ts RANGE 分区。
type PgStore struct {
	pool  *pgxpool.Pool
	clock func() time.Time
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool, clock: time.Now}
}

// InitSchema creates the partitioned parent table and its indexes.
// Safe to call on every boot.
func (s *PgStore) InitSchema(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS gps_points (
			entity_id  VARCHAR(64)  NOT NULL,
			latitude   DOUBLE PRECISION NOT NULL,
			longitude  DOUBLE PRECISION NOT NULL,
			altitude   DOUBLE PRECISION DEFAULT 0,
			accuracy   DOUBLE PRECISION DEFAULT 0,
			speed      DOUBLE PRECISION DEFAULT 0,
			heading    DOUBLE PRECISION DEFAULT 0,
			source_ts  TIMESTAMPTZ NOT NULL,
			ingest_ts  TIMESTAMPTZ NOT NULL,
			source     SMALLINT DEFAULT 0,
			device_id  VARCHAR(64) DEFAULT '',
			CONSTRAINT pk_gps_points PRIMARY KEY (entity_id, source_ts)
		) PARTITION BY RANGE (source_ts)`,
		`CREATE INDEX IF NOT EXISTS idx_gps_points_entity_ts ON gps_points (entity_id, source_ts DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_gps_points_ts ON gps_points (source_ts)`,
	}
	for _, q := range ddl {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

const upsertSQL = `
INSERT INTO gps_points
	(entity_id, latitude, longitude, altitude, accuracy, speed, heading, source_ts, ingest_ts, source, device_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (entity_id, source_ts) DO UPDATE SET
	latitude  = EXCLUDED.latitude,
	longitude = EXCLUDED.longitude,
	altitude  = EXCLUDED.altitude,
	accuracy  = EXCLUDED.accuracy,
	speed     = EXCLUDED.speed,
	heading   = EXCLUDED.heading,
	ingest_ts = EXCLUDED.ingest_ts,
	source    = EXCLUDED.source,
	device_id = EXCLUDED.device_id`

// BulkUpsert writes the whole batch in one transaction; any failure rolls
// the batch back and surfaces an upstream-write error.
func (s *PgStore) BulkUpsert(ctx context.Context, points []*model.LocationPoint) (int64, error) {
	if len(points) == 0 {
		return 0, nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, errs.ErrUpstreamWrite.WrapMsg("begin tx: " + err.Error())
	}
	defer func() { _ = tx.Rollback(ctx) }()

	b := &pgx.Batch{}
	for _, p := range points {
		b.Queue(upsertSQL,
			p.EntityID, p.Latitude, p.Longitude, p.Altitude, p.Accuracy,
			p.Speed, p.Heading, p.SourceTS, p.IngestTS, p.Source, p.DeviceID)
	}
	br := tx.SendBatch(ctx, b)
	for range points {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return 0, errs.ErrUpstreamWrite.WrapMsg("batch exec: " + err.Error())
		}
	}
	if err := br.Close(); err != nil {
		return 0, errs.ErrUpstreamWrite.WrapMsg("batch close: " + err.Error())
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, errs.ErrUpstreamWrite.WrapMsg("commit: " + err.Error())
	}
	return int64(len(points)), nil
}

// RangeQuery returns points for one entity in [from,to], ascending by
// source_ts. The time predicate lets the planner prune partitions.
func (s *PgStore) RangeQuery(ctx context.Context, entity string, from, to time.Time, limit int) ([]*model.LocationPoint, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.pool.Query(ctx, `
		SELECT entity_id, latitude, longitude, altitude, accuracy, speed, heading, source_ts, ingest_ts, source, device_id
		FROM gps_points
		WHERE entity_id = $1 AND source_ts >= $2 AND source_ts <= $3
		ORDER BY source_ts ASC
		LIMIT $4`, entity, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.LocationPoint
	for rows.Next() {
		p := &model.LocationPoint{}
		if err := rows.Scan(&p.EntityID, &p.Latitude, &p.Longitude, &p.Altitude, &p.Accuracy,
			&p.Speed, &p.Heading, &p.SourceTS, &p.IngestTS, &p.Source, &p.DeviceID); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// AggregateStats computes per-entity window aggregates in one query.
// Displacement is the great-circle distance between the first and last
// point of the window, not the cumulative path length.
func (s *PgStore) AggregateStats(ctx context.Context, entities []string, from, to time.Time) (map[string]*model.AggregateStats, error) {
	if len(entities) == 0 {
		return map[string]*model.AggregateStats{}, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT entity_id,
		       COUNT(*),
		       COALESCE(AVG(speed), 0),
		       COALESCE(MAX(speed), 0),
		       MIN(source_ts),
		       MAX(source_ts),
		       (ARRAY_AGG(latitude  ORDER BY source_ts ASC))[1],
		       (ARRAY_AGG(longitude ORDER BY source_ts ASC))[1],
		       (ARRAY_AGG(latitude  ORDER BY source_ts DESC))[1],
		       (ARRAY_AGG(longitude ORDER BY source_ts DESC))[1]
		FROM gps_points
		WHERE entity_id = ANY($1) AND source_ts >= $2 AND source_ts <= $3
		GROUP BY entity_id`, entities, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]*model.AggregateStats, len(entities))
	for rows.Next() {
		var id string
		var st model.AggregateStats
		var fLat, fLng, lLat, lLng float64
		if err := rows.Scan(&id, &st.Count, &st.AvgSpeedKmh, &st.MaxSpeedKmh,
			&st.FirstTS, &st.LastTS, &fLat, &fLng, &lLat, &lLng); err != nil {
			return nil, err
		}
		st.DisplacementKm = geo.HaversineKm(fLat, fLng, lLat, lLng)
		out[id] = &st
	}
	return out, rows.Err()
}

// EnsurePartitions 幂等创建 [昨天 .. 今天+daysAhead] 的按天分区。
// 单个分区失败只记录，继续建后面的。
func (s *PgStore) EnsurePartitions(ctx context.Context, daysAhead int) (int, error) {
	base := s.clock().UTC().Truncate(24 * time.Hour)
	created := 0
	var lastErr error
	for i := -1; i <= daysAhead; i++ {
		day := base.AddDate(0, 0, i)
		next := day.AddDate(0, 0, 1)
		name := PartitionName(day)
		q := fmt.Sprintf(
			`CREATE TABLE IF NOT EXISTS %s PARTITION OF gps_points FOR VALUES FROM ('%s') TO ('%s')`,
			name, day.Format("2006-01-02"), next.Format("2006-01-02"))
		if _, err := s.pool.Exec(ctx, q); err != nil {
			logger.Warnf("[store] create partition %s failed: %v", name, err)
			lastErr = errs.ErrPartitionMaintenance.WrapMsg(name + ": " + err.Error())
			continue
		}
		created++
	}
	return created, lastErr
}

// DropExpiredPartitions drops every partition whose whole day range lies
// before now - retentionDays, as whole tables.
func (s *PgStore) DropExpiredPartitions(ctx context.Context, retentionDays int) (int, error) {
	cutoff := s.clock().UTC().Truncate(24 * time.Hour).AddDate(0, 0, -retentionDays)
	rows, err := s.pool.Query(ctx, `
		SELECT tablename FROM pg_tables
		WHERE tablename LIKE 'gps_points_%' AND tablename < $1
		ORDER BY tablename`, PartitionName(cutoff))
	if err != nil {
		return 0, errs.ErrPartitionMaintenance.WrapMsg("list partitions: " + err.Error())
	}
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			rows.Close()
			return 0, err
		}
		names = append(names, n)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	dropped := 0
	var lastErr error
	for _, n := range names {
		if _, err := s.pool.Exec(ctx, "DROP TABLE IF EXISTS "+n); err != nil {
			logger.Warnf("[store] drop partition %s failed: %v", n, err)
			lastErr = errs.ErrPartitionMaintenance.WrapMsg(n + ": " + err.Error())
			continue
		}
		logger.Infof("[store] dropped expired partition %s", n)
		dropped++
	}
	return dropped, lastErr
}
