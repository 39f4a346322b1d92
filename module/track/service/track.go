package service

import (
	"context"
	"time"

	"GProject/logger"
	"GProject/module/track/analyze"
	"GProject/module/track/buffer"
	"GProject/module/track/geofence"
	"GProject/module/track/model"
	"GProject/module/track/query"
	"GProject/service/alerts"
	"GProject/tools/safe"
)

// Broadcaster 实时推送出口（live.Hub 实现）。
type Broadcaster interface {
	BroadcastPoint(p *model.LocationPoint)
}

// RawSink 原始上报归档出口（Mongo 实现）。
type RawSink interface {
	SaveRaw(ctx context.Context, entity, deviceID string, payload map[string]any) error
}

// Rejection 批量摄入中单点被拒的原因。
type Rejection struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// BatchResult ingest_batch 的应答。
type BatchResult struct {
	Accepted int         `json:"accepted"`
	Rejected []Rejection `json:"rejected,omitempty"`
}

// TrackingService 摄入与分析的业务门面。鉴权在到达这里之前已由
// 外层访问控制完成，service 不感知租户。
type TrackingService struct {
	buf      *buffer.IngestionBuffer
	engine   *query.Engine
	analyzer *analyze.RouteAnalyzer
	fences   *geofence.Service
	sink     alerts.Sink
	hub      Broadcaster
	raw      RawSink
}

func NewTrackingService(
	buf *buffer.IngestionBuffer,
	engine *query.Engine,
	analyzer *analyze.RouteAnalyzer,
	fences *geofence.Service,
	sink alerts.Sink,
	hub Broadcaster,
	raw RawSink,
) *TrackingService {
	s := &TrackingService{
		buf: buf, engine: engine, analyzer: analyzer,
		fences: fences, sink: sink, hub: hub, raw: raw,
	}
	buf.SetFlushHook(s.onFlush)
	return s
}

// Engine exposes the read-side API.
func (s *TrackingService) Engine() *query.Engine { return s.engine }

// Analyzer exposes the pure analysis helpers (ETA, route ordering).
func (s *TrackingService) Analyzer() *analyze.RouteAnalyzer { return s.analyzer }

// Fences exposes geofence management.
func (s *TrackingService) Fences() *geofence.Service { return s.fences }

// BufferStats returns ingestion statistics.
func (s *TrackingService) BufferStats() buffer.Stats { return s.buf.Snapshot() }

// IngestPoint validates and buffers one sample; validation errors are
// returned synchronously and never buffered.
func (s *TrackingService) IngestPoint(ctx context.Context, p *model.LocationPoint, rawPayload map[string]any) error {
	if err := s.buf.Accept(ctx, p); err != nil {
		return err
	}
	s.archiveRaw(p, rawPayload)
	return nil
}

// IngestBatch accepts what it can and reports per-point rejections.
func (s *TrackingService) IngestBatch(ctx context.Context, entity string, points []*model.LocationPoint, rawPayloads []map[string]any) BatchResult {
	var res BatchResult
	for i, p := range points {
		if p.EntityID == "" {
			p.EntityID = entity
		}
		if err := s.buf.Accept(ctx, p); err != nil {
			res.Rejected = append(res.Rejected, Rejection{Index: i, Reason: err.Error()})
			continue
		}
		res.Accepted++
		if rawPayloads != nil && i < len(rawPayloads) {
			s.archiveRaw(p, rawPayloads[i])
		}
	}
	return res
}

func (s *TrackingService) archiveRaw(p *model.LocationPoint, payload map[string]any) {
	if s.raw == nil || payload == nil {
		return
	}
	entity, device := p.EntityID, p.DeviceID
	safe.SafeGo(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := s.raw.SaveRaw(ctx, entity, device, payload); err != nil {
			logger.Warnf("[track] raw archive %s: %v", entity, err)
		}
	})
}

// AnalyzeRoute 路线分析；超速/长停超过阈值时顺带产出告警事件。
func (s *TrackingService) AnalyzeRoute(ctx context.Context, entity string, from, to time.Time) (model.RouteMetrics, error) {
	m, err := s.engine.AnalyzeRoute(ctx, entity, from, to)
	if err != nil {
		return m, err
	}
	if m.MaxSpeedKmh > alerts.OverspeedThresholdKmh {
		s.emitAlert(alerts.Alert{
			Type: alerts.TypeOverspeed, EntityID: entity,
			Detail: map[string]any{"max_speed_kmh": m.MaxSpeedKmh, "threshold": alerts.OverspeedThresholdKmh},
		})
	}
	if m.StopDurationMin > alerts.LongStopThresholdMin {
		s.emitAlert(alerts.Alert{
			Type: alerts.TypeLongStop, EntityID: entity,
			Detail: map[string]any{"stop_duration_min": m.StopDurationMin, "threshold": alerts.LongStopThresholdMin},
		})
	}
	return m, nil
}

// onFlush 在批次成功落库后异步联动：实时推送 + 围栏检测。
// 任何联动失败都不回头影响摄入路径。
func (s *TrackingService) onFlush(entity string, latest *model.LocationPoint, batch []*model.LocationPoint) {
	if s.hub != nil {
		s.hub.BroadcastPoint(latest)
	}
	if s.fences == nil && latest.Speed <= alerts.OverspeedThresholdKmh {
		return
	}
	p := *latest
	safe.SafeGo(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		if p.Speed > alerts.OverspeedThresholdKmh {
			s.emitAlert(alerts.Alert{
				Type: alerts.TypeOverspeed, EntityID: p.EntityID,
				Latitude: p.Latitude, Longitude: p.Longitude,
				Detail: map[string]any{"speed_kmh": p.Speed, "threshold": alerts.OverspeedThresholdKmh},
			})
		}
		if s.fences == nil {
			return
		}
		hits, err := s.fences.CheckViolations(ctx, p.Latitude, p.Longitude)
		if err != nil {
			logger.Warnf("[track] geofence check %s: %v", p.EntityID, err)
			return
		}
		for _, v := range hits {
			s.emitAlert(alerts.Alert{
				Type: alerts.TypeGeofence, EntityID: p.EntityID,
				Latitude: p.Latitude, Longitude: p.Longitude,
				Detail: map[string]any{
					"fence_id":        v.FenceID,
					"fence_name":      v.FenceName,
					"distance_meters": v.DistanceMeters,
				},
			})
		}
	})
}

func (s *TrackingService) emitAlert(a alerts.Alert) {
	if s.sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.sink.Publish(ctx, a); err != nil {
		logger.Warnf("[track] publish alert %s/%s: %v", a.Type, a.EntityID, err)
	}
}
