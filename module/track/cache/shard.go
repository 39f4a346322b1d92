package cache

import (
	"context"
	"hash/fnv"
	"sort"

	"github.com/redis/go-redis/v9"

	"GProject/module/track/model"
)

// Sharded 把每个 entity 固定路由到 K 个独立缓存实例之一
// （fnv32a(entity) % K），分片之间没有任何协调。
// 改变 K 需要整体迁移，这里不支持在线 reshard。
type Sharded struct {
	shards []*FastCache
}

// NewSharded builds one FastCache per client. Panics on an empty client
// list since a cacheless deployment is not a supported mode.
func NewSharded(clients []redis.UniversalClient, conf Config) *Sharded {
	if len(clients) == 0 {
		panic("cache: at least one redis client required")
	}
	s := &Sharded{shards: make([]*FastCache, len(clients))}
	for i, c := range clients {
		s.shards[i] = NewFastCache(c, conf)
	}
	return s
}

func (s *Sharded) pick(entity string) *FastCache {
	h := fnv.New32a()
	_, _ = h.Write([]byte(entity))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}

func (s *Sharded) PutCurrent(ctx context.Context, p *model.LocationPoint) error {
	return s.pick(p.EntityID).PutCurrent(ctx, p)
}

func (s *Sharded) PushHistory(ctx context.Context, entity string, points []*model.LocationPoint) error {
	return s.pick(entity).PushHistory(ctx, entity, points)
}

func (s *Sharded) GetCurrent(ctx context.Context, entity string) (*model.LocationPoint, bool, error) {
	return s.pick(entity).GetCurrent(ctx, entity)
}

func (s *Sharded) GetHistory(ctx context.Context, entity string, limit int) ([]*model.LocationPoint, error) {
	return s.pick(entity).GetHistory(ctx, entity, limit)
}

// Nearby fans out to every shard and merges the per-shard results back
// into one ascending-by-distance list.
func (s *Sharded) Nearby(ctx context.Context, lat, lng, radiusKm float64) ([]model.NearbyEntity, error) {
	var out []model.NearbyEntity
	for _, sh := range s.shards {
		part, err := sh.Nearby(ctx, lat, lng, radiusKm)
		if err != nil {
			return nil, err
		}
		out = append(out, part...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DistanceKm < out[j].DistanceKm })
	return out, nil
}

// HitRate aggregates hit/miss counters across all shards.
func (s *Sharded) HitRate() (hits, misses int64, pct float64) {
	for _, sh := range s.shards {
		h, m, _ := sh.HitRate()
		hits += h
		misses += m
	}
	if total := hits + misses; total > 0 {
		pct = float64(hits) / float64(total) * 100
	}
	return hits, misses, pct
}

func (s *Sharded) BatchGetCurrent(ctx context.Context, entities []string) (map[string]*model.LocationPoint, error) {
	groups := make(map[*FastCache][]string)
	for _, e := range entities {
		sh := s.pick(e)
		groups[sh] = append(groups[sh], e)
	}
	out := make(map[string]*model.LocationPoint, len(entities))
	for sh, ids := range groups {
		part, err := sh.BatchGetCurrent(ctx, ids)
		if err != nil {
			return nil, err
		}
		for k, v := range part {
			out[k] = v
		}
	}
	return out, nil
}
