package maintenance

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"GProject/logger"
	"GProject/module/track/store"
)

// Config 分区维护策略。
type Config struct {
	DaysAhead     int           // 预建未来分区数
	RetentionDays int           // 保留天数，之前的整分区删除
	Interval      time.Duration // 巡检周期
}

func (c *Config) norm() {
	if c.DaysAhead <= 0 {
		c.DaysAhead = 7
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = 30
	}
	if c.Interval <= 0 {
		c.Interval = 24 * time.Hour
	}
}

// Worker 周期性预建/清理日分区。维护失败只告警，下一轮重试，
// 不影响读写路径。
type Worker struct {
	db  store.Store
	cfg Config

	started   atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

func NewWorker(db store.Store, cfg Config) *Worker {
	cfg.norm()
	return &Worker{
		db:     db,
		cfg:    cfg,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// RunOnce executes one maintenance round. Both halves run even if the
// first fails; errors are joined into the log, not returned upward.
func (w *Worker) RunOnce(ctx context.Context) {
	created, err := w.db.EnsurePartitions(ctx, w.cfg.DaysAhead)
	if err != nil {
		logger.Warnf("[maintenance] ensure partitions: %v", err)
	}
	dropped, err := w.db.DropExpiredPartitions(ctx, w.cfg.RetentionDays)
	if err != nil {
		logger.Warnf("[maintenance] drop expired partitions: %v", err)
	}
	if created > 0 || dropped > 0 {
		logger.Infof("[maintenance] partitions created=%d dropped=%d", created, dropped)
	}
}

// Start runs one round immediately, then ticks.
func (w *Worker) Start() {
	w.startOnce.Do(func() {
		w.started.Store(true)
		go func() {
			defer close(w.doneCh)
			ctx := context.Background()
			w.RunOnce(ctx)
			t := time.NewTicker(w.cfg.Interval)
			defer t.Stop()
			for {
				select {
				case <-w.stopCh:
					return
				case <-t.C:
					w.RunOnce(ctx)
				}
			}
		}()
	})
}

// Stop is safe to call even if the loop never started.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	if w.started.Load() {
		<-w.doneCh
	}
}
