package query

import (
	"context"
	"errors"
	"math"
	"sort"
	"testing"
	"time"

	"GProject/module/track/analyze"
	"GProject/module/track/model"
	"GProject/module/track/store"
	"GProject/tools/errs"
	"GProject/tools/geo"
)

// fakeCache 直接用 haversine 实现 Nearby，替代 Redis GEO
type fakeCache struct {
	current map[string]*model.LocationPoint
}

func newFakeCache() *fakeCache {
	return &fakeCache{current: make(map[string]*model.LocationPoint)}
}

func (c *fakeCache) GetCurrent(ctx context.Context, entity string) (*model.LocationPoint, bool, error) {
	p, ok := c.current[entity]
	return p, ok, nil
}

func (c *fakeCache) GetHistory(ctx context.Context, entity string, limit int) ([]*model.LocationPoint, error) {
	return nil, nil
}

func (c *fakeCache) Nearby(ctx context.Context, lat, lng, radiusKm float64) ([]model.NearbyEntity, error) {
	var out []model.NearbyEntity
	for id, p := range c.current {
		d := geo.HaversineKm(lat, lng, p.Latitude, p.Longitude)
		if d <= radiusKm {
			out = append(out, model.NearbyEntity{EntityID: id, DistanceKm: d})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DistanceKm < out[j].DistanceKm })
	return out, nil
}

func (c *fakeCache) BatchGetCurrent(ctx context.Context, entities []string) (map[string]*model.LocationPoint, error) {
	out := make(map[string]*model.LocationPoint)
	for _, e := range entities {
		if p, ok := c.current[e]; ok {
			out[e] = p
		}
	}
	return out, nil
}

func newEngine(c *fakeCache, db store.Store) *Engine {
	return NewEngine(c, db, analyze.NewRouteAnalyzer(analyze.Config{}))
}

func TestCurrentLocationNotFound(t *testing.T) {
	e := newEngine(newFakeCache(), store.NewMemStore())
	_, err := e.CurrentLocation(context.Background(), "veh-unknown")
	if !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound (no durable fallback)", err)
	}
}

func TestNearbyRadiusAndRecencyFilter(t *testing.T) {
	ctx := context.Background()
	c := newFakeCache()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	// 中心在 (31.0, 121.0)：A 约 5km，B 约 20km，C 在 5km 内但数据已过时
	const kmPerDegLat = 111.2
	c.current["veh-A"] = &model.LocationPoint{EntityID: "veh-A", Latitude: 31.0 + 5/kmPerDegLat, Longitude: 121.0, SourceTS: now.Add(-2 * time.Minute)}
	c.current["veh-B"] = &model.LocationPoint{EntityID: "veh-B", Latitude: 31.0 + 20/kmPerDegLat, Longitude: 121.0, SourceTS: now.Add(-2 * time.Minute)}
	c.current["veh-C"] = &model.LocationPoint{EntityID: "veh-C", Latitude: 31.0 + 3/kmPerDegLat, Longitude: 121.0, SourceTS: now.Add(-90 * time.Minute)}

	e := newEngine(c, store.NewMemStore()).WithClock(func() time.Time { return now })

	got, err := e.Nearby(ctx, 31.0, 121.0, 10, 30*time.Minute)
	if err != nil {
		t.Fatalf("Nearby: %v", err)
	}
	if len(got) != 1 || got[0].EntityID != "veh-A" {
		t.Fatalf("nearby = %+v, want only veh-A", got)
	}
	if math.Abs(got[0].DistanceKm-5) > 0.5 {
		t.Errorf("distance = %v, want ~5km", got[0].DistanceKm)
	}
}

func TestTrackAndAnalyzeRouteEndToEnd(t *testing.T) {
	ctx := context.Background()
	db := store.NewMemStore()
	base := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

	// 5 点跨 1 小时匀速 60 km/h 北行
	const kmPerDegLat = 111.2
	var batch []*model.LocationPoint
	for i := 0; i < 5; i++ {
		batch = append(batch, &model.LocationPoint{
			EntityID: "veh-1",
			Latitude: 31.0 + float64(i)*15/kmPerDegLat, Longitude: 121.0,
			Speed: 60, SourceTS: base.Add(time.Duration(i*15) * time.Minute),
			IngestTS: base,
		})
	}
	if _, err := db.BulkUpsert(ctx, batch); err != nil {
		t.Fatalf("BulkUpsert: %v", err)
	}

	e := newEngine(newFakeCache(), db)

	track, err := e.Track(ctx, "veh-1", base, base.Add(time.Hour), 0)
	if err != nil {
		t.Fatalf("Track: %v", err)
	}
	if len(track) != 5 {
		t.Fatalf("track length = %d, want 5", len(track))
	}

	m, err := e.AnalyzeRoute(ctx, "veh-1", base, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("AnalyzeRoute: %v", err)
	}
	if math.Abs(m.AverageSpeedKmh-60) > 1 {
		t.Errorf("average_speed = %v, want ~60", m.AverageSpeedKmh)
	}
	if m.MaxSpeedKmh != 60 {
		t.Errorf("max_speed = %v, want 60", m.MaxSpeedKmh)
	}
}
