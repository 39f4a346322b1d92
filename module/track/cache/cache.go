package cache

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"GProject/module/track/codec"
	"GProject/module/track/model"
)

// key 约定：
//   trk:cur:<entity>   当前位置 hash，TTL 1h
//   trk:hist:<entity>  轨迹 list（20 字节编码块，最新在前），TTL 2h
//   trk:geo            GEO 索引 entity -> (lng,lat)
// 过期是被动的：写入刷新 TTL，不做主动清扫。
type Config struct {
	CurrentTTL time.Duration
	HistoryTTL time.Duration
	HistoryCap int
	GeoKey     string
}

func (c *Config) norm() {
	if c.CurrentTTL <= 0 {
		c.CurrentTTL = time.Hour
	}
	if c.HistoryTTL <= 0 {
		c.HistoryTTL = 2 * time.Hour
	}
	if c.HistoryCap <= 0 {
		c.HistoryCap = 200
	}
	if c.GeoKey == "" {
		c.GeoKey = "trk:geo"
	}
}

// FastCache 低延迟读路径，不是数据权威。
type FastCache struct {
	rdb  redis.UniversalClient
	conf Config

	hits   atomic.Int64
	misses atomic.Int64
}

func NewFastCache(rdb redis.UniversalClient, conf Config) *FastCache {
	conf.norm()
	return &FastCache{rdb: rdb, conf: conf}
}

func curKey(entity string) string  { return "trk:cur:" + entity }
func histKey(entity string) string { return "trk:hist:" + entity }

// PutCurrent overwrites the entity's current position, refreshes its TTL
// and updates the geo index entry.
func (c *FastCache) PutCurrent(ctx context.Context, p *model.LocationPoint) error {
	key := curKey(p.EntityID)
	pipe := c.rdb.Pipeline()
	pipe.HSet(ctx, key, map[string]any{
		"lat":       p.Latitude,
		"lng":       p.Longitude,
		"speed":     p.Speed,
		"heading":   p.Heading,
		"src_ts":    p.SourceTS.Unix(),
		"ingest_ts": p.IngestTS.Unix(),
		"source":    p.Source,
		"device_id": p.DeviceID,
	})
	pipe.Expire(ctx, key, c.conf.CurrentTTL)
	pipe.GeoAdd(ctx, c.conf.GeoKey, &redis.GeoLocation{
		Name:      p.EntityID,
		Longitude: p.Longitude,
		Latitude:  p.Latitude,
	})
	_, err := pipe.Exec(ctx)
	return err
}

// PushHistory prepends encoded points (newest last in the argument list),
// trims to capacity and refreshes the history TTL.
func (c *FastCache) PushHistory(ctx context.Context, entity string, points []*model.LocationPoint) error {
	if len(points) == 0 {
		return nil
	}
	vals := make([]any, 0, len(points))
	for _, p := range points {
		vals = append(vals, codec.Encode(p))
	}
	key := histKey(entity)
	pipe := c.rdb.Pipeline()
	pipe.LPush(ctx, key, vals...)
	pipe.LTrim(ctx, key, 0, int64(c.conf.HistoryCap-1))
	pipe.Expire(ctx, key, c.conf.HistoryTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// GetCurrent returns the current position, ok=false on cache miss.
func (c *FastCache) GetCurrent(ctx context.Context, entity string) (*model.LocationPoint, bool, error) {
	data, err := c.rdb.HGetAll(ctx, curKey(entity)).Result()
	if err != nil {
		return nil, false, err
	}
	if len(data) == 0 {
		c.misses.Add(1)
		return nil, false, nil
	}
	c.hits.Add(1)
	return pointFromHash(entity, data), true, nil
}

// GetHistory returns up to limit points, most recent first. limit is
// clamped to the history capacity.
func (c *FastCache) GetHistory(ctx context.Context, entity string, limit int) ([]*model.LocationPoint, error) {
	if limit <= 0 || limit > c.conf.HistoryCap {
		limit = c.conf.HistoryCap
	}
	blocks, err := c.rdb.LRange(ctx, histKey(entity), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	if len(blocks) == 0 {
		c.misses.Add(1)
		return nil, nil
	}
	c.hits.Add(1)
	out := make([]*model.LocationPoint, 0, len(blocks))
	for _, b := range blocks {
		p, err := codec.Decode(entity, []byte(b))
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Nearby scans the geo index and returns entities within radiusKm,
// sorted ascending by distance.
func (c *FastCache) Nearby(ctx context.Context, lat, lng, radiusKm float64) ([]model.NearbyEntity, error) {
	locs, err := c.rdb.GeoSearchLocation(ctx, c.conf.GeoKey, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  lng,
			Latitude:   lat,
			Radius:     radiusKm,
			RadiusUnit: "km",
			Sort:       "ASC",
		},
		WithDist: true,
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]model.NearbyEntity, 0, len(locs))
	for _, l := range locs {
		out = append(out, model.NearbyEntity{EntityID: l.Name, DistanceKm: l.Dist})
	}
	return out, nil
}

// BatchGetCurrent multi-fetches current positions in one round trip.
// Entities without a cached position are simply absent from the result.
func (c *FastCache) BatchGetCurrent(ctx context.Context, entities []string) (map[string]*model.LocationPoint, error) {
	if len(entities) == 0 {
		return map[string]*model.LocationPoint{}, nil
	}
	pipe := c.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(entities))
	for i, e := range entities {
		cmds[i] = pipe.HGetAll(ctx, curKey(e))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	out := make(map[string]*model.LocationPoint, len(entities))
	for i, e := range entities {
		data, err := cmds[i].Result()
		if err != nil || len(data) == 0 {
			c.misses.Add(1)
			continue
		}
		c.hits.Add(1)
		out[e] = pointFromHash(e, data)
	}
	return out, nil
}

// HitRate returns cache hits, misses and the hit percentage.
func (c *FastCache) HitRate() (hits, misses int64, pct float64) {
	hits = c.hits.Load()
	misses = c.misses.Load()
	if total := hits + misses; total > 0 {
		pct = float64(hits) / float64(total) * 100
	}
	return hits, misses, pct
}

func pointFromHash(entity string, data map[string]string) *model.LocationPoint {
	f := func(k string) float64 {
		v, _ := strconv.ParseFloat(data[k], 64)
		return v
	}
	i := func(k string) int64 {
		v, _ := strconv.ParseInt(data[k], 10, 64)
		return v
	}
	return &model.LocationPoint{
		EntityID:  entity,
		Latitude:  f("lat"),
		Longitude: f("lng"),
		Speed:     f("speed"),
		Heading:   f("heading"),
		SourceTS:  time.Unix(i("src_ts"), 0).UTC(),
		IngestTS:  time.Unix(i("ingest_ts"), 0).UTC(),
		Source:    int32(i("source")),
		DeviceID:  data["device_id"],
	}
}
