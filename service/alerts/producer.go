package alerts

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"

	"GProject/logger"
)

// 告警类型
const (
	TypeGeofence  = "geofence"
	TypeOverspeed = "overspeed"
	TypeLongStop  = "long_stop"
)

// 阈值沿用调度侧约定：120 km/h 超速、停车超 180 分钟告警。
const (
	OverspeedThresholdKmh = 120
	LongStopThresholdMin  = 180
)

// Alert 发往通知侧的事件载荷。本核心只产出数据，不做任何通知分发。
type Alert struct {
	Type      string         `json:"type"`
	EntityID  string         `json:"entity_id"`
	Latitude  float64        `json:"latitude"`
	Longitude float64        `json:"longitude"`
	Detail    map[string]any `json:"detail,omitempty"`
	At        time.Time      `json:"at"`
}

// Sink 告警出口抽象；NATS 实现 + 空实现（未配置消息总线时）。
type Sink interface {
	Publish(ctx context.Context, a Alert) error
}

// ===== NATS 实现 =====

// subject 约定：gps.alerts.<type>
type NatsSink struct {
	nc *nats.Conn
}

func NewNatsSink(nc *nats.Conn) *NatsSink {
	return &NatsSink{nc: nc}
}

func (s *NatsSink) Publish(ctx context.Context, a Alert) error {
	if a.At.IsZero() {
		a.At = time.Now().UTC()
	}
	b, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return s.nc.Publish("gps.alerts."+a.Type, b)
}

// ===== 空实现 =====

type NopSink struct{}

func (NopSink) Publish(ctx context.Context, a Alert) error {
	logger.Debug("[alerts] sink disabled, alert dropped")
	return nil
}
