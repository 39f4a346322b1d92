package cache

import (
	"context"
	"hash/fnv"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"GProject/module/track/codec"
	"GProject/module/track/model"
)

// cmdRecorder 拦截所有 redis 命令，list 语义在内存里重放，
// 不需要真实 redis 进程。
type cmdRecorder struct {
	mu    sync.Mutex
	lists map[string][]string
	names []string
	trims [][2]int64
}

func (r *cmdRecorder) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return nil, nil
	}
}

func (r *cmdRecorder) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		return r.handle(cmd)
	}
}

func (r *cmdRecorder) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		for _, cmd := range cmds {
			if err := r.handle(cmd); err != nil {
				return err
			}
		}
		return nil
	}
}

func (r *cmdRecorder) handle(cmd redis.Cmder) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, cmd.Name())
	args := cmd.Args()
	switch cmd.Name() {
	case "lpush":
		key := args[1].(string)
		for _, v := range args[2:] {
			r.lists[key] = append([]string{asString(v)}, r.lists[key]...)
		}
	case "ltrim":
		key := args[1].(string)
		start, stop := asInt64(args[2]), asInt64(args[3])
		r.trims = append(r.trims, [2]int64{start, stop})
		l := r.lists[key]
		if stop >= int64(len(l)) {
			stop = int64(len(l)) - 1
		}
		if start > stop {
			r.lists[key] = nil
		} else {
			r.lists[key] = l[start : stop+1]
		}
	case "lrange":
		key := args[1].(string)
		start, stop := asInt64(args[2]), asInt64(args[3])
		l := r.lists[key]
		if stop >= int64(len(l)) || stop < 0 {
			stop = int64(len(l)) - 1
		}
		var out []string
		if start <= stop {
			out = append(out, l[start:stop+1]...)
		}
		cmd.(*redis.StringSliceCmd).SetVal(out)
	}
	return nil
}

func asString(v any) string {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case string:
		return x
	default:
		return ""
	}
}

func asInt64(v any) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case int:
		return int64(x)
	default:
		return 0
	}
}

func newRecordedCache(historyCap int) (*FastCache, *cmdRecorder) {
	rec := &cmdRecorder{lists: map[string][]string{}}
	cli := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	cli.AddHook(rec)
	return NewFastCache(cli, Config{HistoryCap: historyCap}), rec
}

func histPoint(entity string, idx int) *model.LocationPoint {
	// 用 speed 区分每个点；codec 的时间戳是 float32，秒级间隔会丢精度
	return &model.LocationPoint{
		EntityID: entity, Latitude: 31, Longitude: 121,
		Speed:    float64(idx),
		SourceTS: time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC),
	}
}

func TestPushHistoryBoundedByCap(t *testing.T) {
	ctx := context.Background()
	const histCap = 20
	c, rec := newRecordedCache(histCap)

	// 3 批 × 10 点 = 30 点，超出容量
	idx := 0
	for batch := 0; batch < 3; batch++ {
		var pts []*model.LocationPoint
		for i := 0; i < 10; i++ {
			pts = append(pts, histPoint("veh-1", idx))
			idx++
		}
		if err := c.PushHistory(ctx, "veh-1", pts); err != nil {
			t.Fatalf("PushHistory batch %d: %v", batch, err)
		}
		if n := len(rec.lists["trk:hist:veh-1"]); n > histCap {
			t.Fatalf("history length = %d after batch %d, histCap = %d", n, batch, histCap)
		}
	}

	if n := len(rec.lists["trk:hist:veh-1"]); n != histCap {
		t.Fatalf("final history length = %d, want %d", n, histCap)
	}
	for _, tr := range rec.trims {
		if tr[0] != 0 || tr[1] != histCap-1 {
			t.Fatalf("ltrim range = %v, want [0, %d]", tr, histCap-1)
		}
	}
	// 最新点（speed=29）必须在表头
	head, err := codec.Decode("veh-1", []byte(rec.lists["trk:hist:veh-1"][0]))
	if err != nil {
		t.Fatalf("decode head: %v", err)
	}
	if head.Speed != 29 {
		t.Errorf("head speed = %v, want 29 (newest point)", head.Speed)
	}
}

func TestGetHistoryClampsLimit(t *testing.T) {
	ctx := context.Background()
	const histCap = 20
	c, _ := newRecordedCache(histCap)

	var pts []*model.LocationPoint
	for i := 0; i < 30; i++ {
		pts = append(pts, histPoint("veh-1", i))
	}
	if err := c.PushHistory(ctx, "veh-1", pts); err != nil {
		t.Fatalf("PushHistory: %v", err)
	}

	got, err := c.GetHistory(ctx, "veh-1", 1000)
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(got) != histCap {
		t.Fatalf("GetHistory(1000) = %d points, want clamped to %d", len(got), histCap)
	}
	if got[0].Speed != 29 {
		t.Errorf("first point speed = %v, want newest first", got[0].Speed)
	}

	got, err = c.GetHistory(ctx, "veh-1", 5)
	if err != nil {
		t.Fatalf("GetHistory(5): %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("GetHistory(5) = %d points, want 5", len(got))
	}
}

func TestHitRateCounters(t *testing.T) {
	ctx := context.Background()
	c, _ := newRecordedCache(10)

	if err := c.PushHistory(ctx, "veh-1", []*model.LocationPoint{histPoint("veh-1", 0)}); err != nil {
		t.Fatalf("PushHistory: %v", err)
	}
	if _, err := c.GetHistory(ctx, "veh-1", 10); err != nil { // hit
		t.Fatalf("GetHistory: %v", err)
	}
	if _, err := c.GetHistory(ctx, "veh-missing", 10); err != nil { // miss
		t.Fatalf("GetHistory(miss): %v", err)
	}

	hits, misses, pct := c.HitRate()
	if hits != 1 || misses != 1 || pct != 50 {
		t.Fatalf("HitRate = (%d, %d, %v), want (1, 1, 50)", hits, misses, pct)
	}
}

func TestShardedPickStableRouting(t *testing.T) {
	clients := make([]redis.UniversalClient, 3)
	for i := range clients {
		clients[i] = redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	}
	s := NewSharded(clients, Config{})

	for _, e := range []string{"veh-1", "veh-2", "order-99", "driver-abc", ""} {
		h := fnv.New32a()
		_, _ = h.Write([]byte(e))
		want := s.shards[h.Sum32()%uint32(len(s.shards))]
		for i := 0; i < 5; i++ {
			if got := s.pick(e); got != want {
				t.Fatalf("pick(%q) moved between shards", e)
			}
		}
	}
}
