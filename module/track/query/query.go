package query

import (
	"context"
	"time"

	"GProject/module/track/analyze"
	"GProject/module/track/model"
	"GProject/module/track/store"
	"GProject/tools/errs"
)

// CacheReader 读路径需要的缓存能力子集。
type CacheReader interface {
	GetCurrent(ctx context.Context, entity string) (*model.LocationPoint, bool, error)
	GetHistory(ctx context.Context, entity string, limit int) ([]*model.LocationPoint, error)
	Nearby(ctx context.Context, lat, lng, radiusKm float64) ([]model.NearbyEntity, error)
	BatchGetCurrent(ctx context.Context, entities []string) (map[string]*model.LocationPoint, error)
}

// Engine 组合缓存与落库的读 API。热路径走缓存，历史走落库。
type Engine struct {
	cache    CacheReader
	db       store.Store
	analyzer *analyze.RouteAnalyzer
	clock    func() time.Time
}

func NewEngine(cache CacheReader, db store.Store, analyzer *analyze.RouteAnalyzer) *Engine {
	return &Engine{cache: cache, db: db, analyzer: analyzer, clock: time.Now}
}

// WithClock injects a clock for tests.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// CurrentLocation 只查缓存；缓存过期即 NotFound，不回源落库。
// 冷读是否应回源是一个产品层决策，这里保持缓存即真相的热路径语义。
func (e *Engine) CurrentLocation(ctx context.Context, entity string) (*model.LocationPoint, error) {
	p, ok, err := e.cache.GetCurrent(ctx, entity)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.ErrNotFound.WrapMsg("no cached position for " + entity)
	}
	return p, nil
}

// RecentTrack returns the cached trajectory, most recent first.
func (e *Engine) RecentTrack(ctx context.Context, entity string, limit int) ([]*model.LocationPoint, error) {
	return e.cache.GetHistory(ctx, entity, limit)
}

// Track 历史轨迹，落库侧升序返回，不受缓存 TTL 影响。
func (e *Engine) Track(ctx context.Context, entity string, from, to time.Time, limit int) ([]*model.LocationPoint, error) {
	return e.db.RangeQuery(ctx, entity, from, to, limit)
}

// Nearby combines the geo index scan with a recency filter: only
// entities whose current position is fresher than the window qualify.
func (e *Engine) Nearby(ctx context.Context, lat, lng, radiusKm float64, window time.Duration) ([]model.NearbyEntity, error) {
	hits, err := e.cache.Nearby(ctx, lat, lng, radiusKm)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 || window <= 0 {
		return hits, nil
	}

	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		ids = append(ids, h.EntityID)
	}
	current, err := e.cache.BatchGetCurrent(ctx, ids)
	if err != nil {
		return nil, err
	}

	threshold := e.clock().Add(-window)
	out := hits[:0]
	for _, h := range hits {
		p, ok := current[h.EntityID]
		if !ok || p.SourceTS.Before(threshold) {
			continue
		}
		out = append(out, h)
	}
	return out, nil
}

// Stats delegates windowed aggregates to the durable store.
func (e *Engine) Stats(ctx context.Context, entities []string, from, to time.Time) (map[string]*model.AggregateStats, error) {
	return e.db.AggregateStats(ctx, entities, from, to)
}

// AnalyzeRoute 基于落库轨迹做路线分析。
func (e *Engine) AnalyzeRoute(ctx context.Context, entity string, from, to time.Time) (model.RouteMetrics, error) {
	points, err := e.db.RangeQuery(ctx, entity, from, to, 0)
	if err != nil {
		return model.RouteMetrics{}, err
	}
	return e.analyzer.Analyze(points), nil
}
