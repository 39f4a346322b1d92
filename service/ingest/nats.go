package ingest

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"

	"GProject/logger"
	trksrv "GProject/module/track/service"
	"GProject/tools/decode"
)

// subject 约定：
//
//	gps.points.point  单点上报
//	gps.points.batch  批量上报
//
// 多实例时用同一个 queue group 分摊消费。
const (
	SubjectPoint = "gps.points.point"
	SubjectBatch = "gps.points.batch"

	defaultQueue = "gps-ingest"
)

type Config struct {
	Queue string // 为空时用 defaultQueue
}

func (c *Config) norm() {
	if c.Queue == "" {
		c.Queue = defaultQueue
	}
}

// Consumer 把消息总线上的上报喂给摄入缓冲。
// 设备网关侧只管往 subject 扔 JSON，不关心缓冲与落库节奏。
type Consumer struct {
	nc   *nats.Conn
	svc  *trksrv.TrackingService
	cfg  Config
	subs []*nats.Subscription
}

func NewConsumer(nc *nats.Conn, svc *trksrv.TrackingService, cfg Config) *Consumer {
	cfg.norm()
	return &Consumer{nc: nc, svc: svc, cfg: cfg}
}

// Start subscribes both subjects. Handlers run on the NATS delivery
// goroutine; Accept is cheap (append under a mutex) so that is fine.
func (c *Consumer) Start() error {
	s1, err := c.nc.QueueSubscribe(SubjectPoint, c.cfg.Queue, c.onPoint)
	if err != nil {
		return errors.WithMessage(err, "subscribe "+SubjectPoint)
	}
	c.subs = append(c.subs, s1)

	s2, err := c.nc.QueueSubscribe(SubjectBatch, c.cfg.Queue, c.onBatch)
	if err != nil {
		return errors.WithMessage(err, "subscribe "+SubjectBatch)
	}
	c.subs = append(c.subs, s2)

	logger.Infof("[ingest] nats consumer started queue=%s", c.cfg.Queue)
	return nil
}

func (c *Consumer) Stop() {
	for _, s := range c.subs {
		_ = s.Unsubscribe()
	}
	c.subs = nil
}

func (c *Consumer) onPoint(m *nats.Msg) {
	raw := map[string]any{}
	if err := json.Unmarshal(m.Data, &raw); err != nil {
		logger.Warnf("[ingest] drop malformed point payload: %v", err)
		return
	}
	pl, err := decode.DecodeMap[trksrv.PointPayload](raw)
	if err != nil {
		logger.Warnf("[ingest] drop undecodable point payload: %v", err)
		return
	}
	if err := c.svc.IngestPoint(context.Background(), pl.ToModel(), raw); err != nil {
		logger.Warnf("[ingest] point rejected: %v", err)
	}
}

func (c *Consumer) onBatch(m *nats.Msg) {
	raw := map[string]any{}
	if err := json.Unmarshal(m.Data, &raw); err != nil {
		logger.Warnf("[ingest] drop malformed batch payload: %v", err)
		return
	}
	pl, err := decode.DecodeMap[trksrv.BatchPayload](raw)
	if err != nil {
		logger.Warnf("[ingest] drop undecodable batch payload: %v", err)
		return
	}
	res := c.svc.IngestBatch(context.Background(), pl.EntityID, pl.ToModels(), nil)
	if len(res.Rejected) > 0 {
		logger.Warnf("[ingest] batch entity=%s accepted=%d rejected=%d",
			pl.EntityID, res.Accepted, len(res.Rejected))
	}
}
