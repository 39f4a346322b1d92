package buffer

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"GProject/logger"
	"GProject/module/track/model"
)

// Durable 刷写目标：落库側（整批事务 upsert）。
type Durable interface {
	BulkUpsert(ctx context.Context, points []*model.LocationPoint) (int64, error)
}

// CacheWriter 刷写目标：缓存侧（最新位置 + 轨迹）。
type CacheWriter interface {
	PutCurrent(ctx context.Context, p *model.LocationPoint) error
	PushHistory(ctx context.Context, entity string, points []*model.LocationPoint) error
}

// FlushHook 在一个实体的批次成功落库后回调（latest 为批内最新点）。
// 回调在刷写 goroutine 内同步执行，耗时操作自行异步化。
type FlushHook func(entity string, latest *model.LocationPoint, batch []*model.LocationPoint)

// ===== 配置 =====

type Config struct {
	BatchSize     int              // 单实体缓冲达到该值立即刷写（默认 200）
	FlushInterval time.Duration    // 定时刷写周期（默认 3s）
	Clock         func() time.Time // 可注入时钟（单测用）；nil => time.Now
}

func (c *Config) norm() {
	if c.BatchSize <= 0 {
		c.BatchSize = 200
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 3 * time.Second
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

// Stats 运行统计
type Stats struct {
	TotalPoints    int64          `json:"total_points"`
	FlushCount     int64          `json:"flush_count"`
	DroppedPoints  int64          `json:"dropped_points"` // 落库失败整批丢弃的点数
	BufferSizes    map[string]int `json:"buffer_sizes"`
	AvgFlushMillis float64        `json:"avg_flush_ms"` // 最近 100 次刷写均值
}

// IngestionBuffer 按实体聚合写入，尺寸或时间触发刷写。
// 每实体缓冲只归本组件所有，仅在锁内变更；刷写采用 swap-and-release，
// 生产者永远不会阻塞在网络 I/O 上。
type IngestionBuffer struct {
	db    Durable
	cache CacheWriter
	conf  Config
	hook  FlushHook

	mu        sync.Mutex
	buf       map[string][]*model.LocationPoint
	lastFlush map[string]time.Time

	totalPoints atomic.Int64
	flushCount  atomic.Int64
	dropped     atomic.Int64

	latMu     sync.Mutex
	latencies []time.Duration

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

func NewIngestionBuffer(db Durable, cache CacheWriter, conf Config) *IngestionBuffer {
	conf.norm()
	return &IngestionBuffer{
		db:        db,
		cache:     cache,
		conf:      conf,
		buf:       make(map[string][]*model.LocationPoint),
		lastFlush: make(map[string]time.Time),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// SetFlushHook installs the post-flush callback. Call before Start.
func (b *IngestionBuffer) SetFlushHook(h FlushHook) { b.hook = h }

// Accept validates the point and appends it to the entity's buffer.
// Reaching BatchSize triggers a synchronous flush of just that entity.
func (b *IngestionBuffer) Accept(ctx context.Context, p *model.LocationPoint) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.IngestTS.IsZero() {
		p.IngestTS = b.conf.Clock().UTC()
	}

	var batch []*model.LocationPoint
	b.mu.Lock()
	b.buf[p.EntityID] = append(b.buf[p.EntityID], p)
	if len(b.buf[p.EntityID]) >= b.conf.BatchSize {
		batch = b.swapLocked(p.EntityID)
	}
	b.mu.Unlock()

	if batch != nil {
		return b.flushBatch(ctx, p.EntityID, batch)
	}
	return nil
}

// Start launches the timed background flush loop.
func (b *IngestionBuffer) Start() {
	b.startOnce.Do(func() {
		go b.loop()
	})
}

// Stop halts the timer loop and performs one final drain of every
// non-empty buffer before returning.
func (b *IngestionBuffer) Stop(ctx context.Context) {
	b.stopOnce.Do(func() {
		close(b.stopCh)
		<-b.doneCh
		b.FlushAll(ctx)
		logger.Infof("[buffer] stopped, total=%d flushes=%d dropped=%d",
			b.totalPoints.Load(), b.flushCount.Load(), b.dropped.Load())
	})
}

func (b *IngestionBuffer) loop() {
	defer close(b.doneCh)
	ticker := time.NewTicker(b.conf.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			// 单次刷写失败不能终止循环
			b.flushAged(context.Background())
		}
	}
}

// flushAged flushes every entity whose buffer is non-empty and whose age
// since its last flush reached the interval, regardless of size.
func (b *IngestionBuffer) flushAged(ctx context.Context) {
	now := b.conf.Clock()
	type job struct {
		entity string
		batch  []*model.LocationPoint
	}
	var jobs []job

	b.mu.Lock()
	for entity, pts := range b.buf {
		if len(pts) == 0 {
			continue
		}
		if now.Sub(b.lastFlush[entity]) < b.conf.FlushInterval {
			continue
		}
		jobs = append(jobs, job{entity, b.swapLocked(entity)})
	}
	b.mu.Unlock()

	for _, j := range jobs {
		if err := b.flushBatch(ctx, j.entity, j.batch); err != nil {
			logger.Errorf("[buffer] timed flush %s: %v", j.entity, err)
		}
	}
}

// FlushAll drains every non-empty buffer immediately.
func (b *IngestionBuffer) FlushAll(ctx context.Context) {
	b.mu.Lock()
	batches := make(map[string][]*model.LocationPoint, len(b.buf))
	for entity := range b.buf {
		if batch := b.swapLocked(entity); batch != nil {
			batches[entity] = batch
		}
	}
	b.mu.Unlock()

	for entity, batch := range batches {
		if err := b.flushBatch(ctx, entity, batch); err != nil {
			logger.Errorf("[buffer] drain flush %s: %v", entity, err)
		}
	}
}

// swapLocked atomically takes the live buffer out; caller holds b.mu.
func (b *IngestionBuffer) swapLocked(entity string) []*model.LocationPoint {
	batch := b.buf[entity]
	if len(batch) == 0 {
		return nil
	}
	b.buf[entity] = nil
	b.lastFlush[entity] = b.conf.Clock()
	return batch
}

// flushBatch runs outside the lock: durable write first, then cache
// mirror. A failed upsert drops the whole batch — no retry, no DLQ.
func (b *IngestionBuffer) flushBatch(ctx context.Context, entity string, batch []*model.LocationPoint) error {
	start := b.conf.Clock()

	sort.Slice(batch, func(i, j int) bool { return batch[i].SourceTS.Before(batch[j].SourceTS) })

	if _, err := b.db.BulkUpsert(ctx, batch); err != nil {
		b.dropped.Add(int64(len(batch)))
		return err
	}
	b.totalPoints.Add(int64(len(batch)))
	b.flushCount.Add(1)
	b.recordLatency(b.conf.Clock().Sub(start))

	latest := batch[len(batch)-1]
	// 缓存失败只降级读路径，不影响已落库的数据
	if err := b.cache.PutCurrent(ctx, latest); err != nil {
		logger.Warnf("[buffer] cache put_current %s: %v", entity, err)
	}
	if err := b.cache.PushHistory(ctx, entity, batch); err != nil {
		logger.Warnf("[buffer] cache push_history %s: %v", entity, err)
	}

	if b.hook != nil {
		b.hook(entity, latest, batch)
	}
	return nil
}

func (b *IngestionBuffer) recordLatency(d time.Duration) {
	b.latMu.Lock()
	b.latencies = append(b.latencies, d)
	if len(b.latencies) > 100 {
		b.latencies = b.latencies[len(b.latencies)-100:]
	}
	b.latMu.Unlock()
}

// Snapshot returns current processing statistics.
func (b *IngestionBuffer) Snapshot() Stats {
	sizes := make(map[string]int)
	b.mu.Lock()
	for entity, pts := range b.buf {
		if len(pts) > 0 {
			sizes[entity] = len(pts)
		}
	}
	b.mu.Unlock()

	var avg float64
	b.latMu.Lock()
	if n := len(b.latencies); n > 0 {
		var sum time.Duration
		for _, d := range b.latencies {
			sum += d
		}
		avg = float64(sum.Milliseconds()) / float64(n)
	}
	b.latMu.Unlock()

	return Stats{
		TotalPoints:    b.totalPoints.Load(),
		FlushCount:     b.flushCount.Load(),
		DroppedPoints:  b.dropped.Load(),
		BufferSizes:    sizes,
		AvgFlushMillis: avg,
	}
}
