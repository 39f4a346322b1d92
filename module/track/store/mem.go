package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"GProject/module/track/model"
	"GProject/tools/errs"
	"GProject/tools/geo"
)

// MemStore 内存实现：测试与无 Postgres 的降级运行用。
// 行为对齐 PgStore：自然键 upsert、按天分区、整分区删除。
type MemStore struct {
	mu      sync.RWMutex
	rows    map[string]map[int64]*model.LocationPoint // entity -> source_ts(unix nano) -> point
	days    map[string]time.Time                      // partition name -> day start (UTC)
	Clock   func() time.Time                          // 可注入时钟（单测用）；nil => time.Now
	failWr  bool
	failMnt bool
}

func NewMemStore() *MemStore {
	return &MemStore{
		rows:  make(map[string]map[int64]*model.LocationPoint),
		days:  make(map[string]time.Time),
		Clock: time.Now,
	}
}

// FailWrites toggles forced BulkUpsert failure, for exercising the
// flush error path in tests.
func (m *MemStore) FailWrites(v bool) {
	m.mu.Lock()
	m.failWr = v
	m.mu.Unlock()
}

// FailMaintenance toggles forced partition-maintenance failure, for
// exercising the sweep error path in tests.
func (m *MemStore) FailMaintenance(v bool) {
	m.mu.Lock()
	m.failMnt = v
	m.mu.Unlock()
}

func (m *MemStore) BulkUpsert(ctx context.Context, points []*model.LocationPoint) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWr {
		return 0, errs.ErrUpstreamWrite.WrapMsg("forced failure")
	}
	for _, p := range points {
		byTS, ok := m.rows[p.EntityID]
		if !ok {
			byTS = make(map[int64]*model.LocationPoint)
			m.rows[p.EntityID] = byTS
		}
		cp := *p
		// 纳秒粒度对齐 PgStore 的 timestamptz 键：亚秒间隔的点不合并
		byTS[p.SourceTS.UnixNano()] = &cp
	}
	return int64(len(points)), nil
}

func (m *MemStore) RangeQuery(ctx context.Context, entity string, from, to time.Time, limit int) ([]*model.LocationPoint, error) {
	if limit <= 0 {
		limit = 1000
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.LocationPoint
	for _, p := range m.rows[entity] {
		if !p.SourceTS.Before(from) && !p.SourceTS.After(to) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceTS.Before(out[j].SourceTS) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemStore) AggregateStats(ctx context.Context, entities []string, from, to time.Time) (map[string]*model.AggregateStats, error) {
	out := make(map[string]*model.AggregateStats, len(entities))
	for _, e := range entities {
		pts, err := m.RangeQuery(ctx, e, from, to, 0)
		if err != nil {
			return nil, err
		}
		if len(pts) == 0 {
			continue
		}
		st := &model.AggregateStats{Count: int64(len(pts))}
		var sum float64
		for _, p := range pts {
			sum += p.Speed
			if p.Speed > st.MaxSpeedKmh {
				st.MaxSpeedKmh = p.Speed
			}
		}
		st.AvgSpeedKmh = sum / float64(len(pts))
		first, last := pts[0], pts[len(pts)-1]
		st.FirstTS = first.SourceTS
		st.LastTS = last.SourceTS
		st.DisplacementKm = geo.HaversineKm(first.Latitude, first.Longitude, last.Latitude, last.Longitude)
		out[e] = st
	}
	return out, nil
}

func (m *MemStore) EnsurePartitions(ctx context.Context, daysAhead int) (int, error) {
	base := m.Clock().UTC().Truncate(24 * time.Hour)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failMnt {
		return 0, errs.ErrPartitionMaintenance.Wrap()
	}
	created := 0
	for i := -1; i <= daysAhead; i++ {
		day := base.AddDate(0, 0, i)
		name := PartitionName(day)
		if _, ok := m.days[name]; ok {
			continue
		}
		m.days[name] = day
		created++
	}
	return created, nil
}

func (m *MemStore) DropExpiredPartitions(ctx context.Context, retentionDays int) (int, error) {
	cutoff := m.Clock().UTC().Truncate(24 * time.Hour).AddDate(0, 0, -retentionDays)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failMnt {
		return 0, errs.ErrPartitionMaintenance.Wrap()
	}
	dropped := 0
	for name, day := range m.days {
		if !day.Before(cutoff) {
			continue
		}
		delete(m.days, name)
		dropped++
		// 整分区删除：同一天范围内的行一起消失
		next := day.AddDate(0, 0, 1)
		for _, byTS := range m.rows {
			for ts, p := range byTS {
				if !p.SourceTS.Before(day) && p.SourceTS.Before(next) {
					delete(byTS, ts)
				}
			}
		}
	}
	return dropped, nil
}

// HasPartition reports whether the daily partition exists.
func (m *MemStore) HasPartition(day time.Time) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.days[PartitionName(day.UTC().Truncate(24*time.Hour))]
	return ok
}

// AddPartition registers one daily partition directly, for tests.
func (m *MemStore) AddPartition(day time.Time) {
	day = day.UTC().Truncate(24 * time.Hour)
	m.mu.Lock()
	m.days[PartitionName(day)] = day
	m.mu.Unlock()
}
