package service

import (
	"context"
	"testing"
	"time"

	"GProject/module/track/buffer"
	"GProject/module/track/geofence"
	"GProject/module/track/model"
	"GProject/module/track/store"
	"GProject/service/alerts"
)

type nopCache struct{}

func (nopCache) PutCurrent(ctx context.Context, p *model.LocationPoint) error { return nil }
func (nopCache) PushHistory(ctx context.Context, entity string, points []*model.LocationPoint) error {
	return nil
}

type captureSink struct{ ch chan alerts.Alert }

func (s *captureSink) Publish(ctx context.Context, a alerts.Alert) error {
	s.ch <- a
	return nil
}

type captureHub struct{ ch chan *model.LocationPoint }

func (h *captureHub) BroadcastPoint(p *model.LocationPoint) { h.ch <- p }

func newPoint(entity string, lat, lng, speed float64, ts time.Time) *model.LocationPoint {
	return &model.LocationPoint{
		EntityID: entity, Latitude: lat, Longitude: lng,
		Speed: speed, SourceTS: ts,
	}
}

func TestFlushHookEmitsAlertsAndBroadcast(t *testing.T) {
	ctx := context.Background()

	fences := geofence.NewService(geofence.NewMemRepo())
	if err := fences.Create(ctx, &geofence.Fence{
		Name: "depot", CenterLat: 31.2304, CenterLng: 121.4737, RadiusM: 1000,
	}); err != nil {
		t.Fatalf("Create fence: %v", err)
	}

	sink := &captureSink{ch: make(chan alerts.Alert, 8)}
	hub := &captureHub{ch: make(chan *model.LocationPoint, 8)}

	buf := buffer.NewIngestionBuffer(store.NewMemStore(), nopCache{},
		buffer.Config{BatchSize: 2, FlushInterval: time.Hour})
	svc := NewTrackingService(buf, nil, nil, fences, sink, hub, nil)

	base := time.Now().UTC()
	// 第二个点落在围栏中心且超速，写满 BatchSize 触发刷写
	if err := svc.IngestPoint(ctx, newPoint("veh-1", 31.25, 121.50, 60, base), nil); err != nil {
		t.Fatalf("IngestPoint: %v", err)
	}
	if err := svc.IngestPoint(ctx, newPoint("veh-1", 31.2304, 121.4737, 130, base.Add(time.Second)), nil); err != nil {
		t.Fatalf("IngestPoint: %v", err)
	}

	select {
	case p := <-hub.ch:
		if p.Speed != 130 {
			t.Errorf("broadcast latest speed = %v, want 130", p.Speed)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no broadcast after flush")
	}

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case a := <-sink.ch:
			got[a.Type] = true
			if a.EntityID != "veh-1" {
				t.Errorf("alert entity = %s, want veh-1", a.EntityID)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("got alerts %v, want overspeed and geofence", got)
		}
	}
	if !got[alerts.TypeOverspeed] || !got[alerts.TypeGeofence] {
		t.Fatalf("alert types = %v, want overspeed and geofence", got)
	}
}

func TestIngestBatchReportsRejections(t *testing.T) {
	buf := buffer.NewIngestionBuffer(store.NewMemStore(), nopCache{},
		buffer.Config{BatchSize: 100, FlushInterval: time.Hour})
	svc := NewTrackingService(buf, nil, nil, nil, nil, nil, nil)

	base := time.Now().UTC()
	points := []*model.LocationPoint{
		newPoint("", 31.0, 121.0, 10, base), // 继承外层 entity
		newPoint("veh-2", 999, 121.0, 10, base.Add(time.Second)),
		newPoint("veh-2", 31.1, 121.1, 10, base.Add(2*time.Second)),
	}
	res := svc.IngestBatch(context.Background(), "veh-2", points, nil)
	if res.Accepted != 2 {
		t.Errorf("accepted = %d, want 2", res.Accepted)
	}
	if len(res.Rejected) != 1 || res.Rejected[0].Index != 1 || res.Rejected[0].Reason == "" {
		t.Fatalf("rejected = %+v, want index 1 with reason", res.Rejected)
	}
	if points[0].EntityID != "veh-2" {
		t.Errorf("entity inheritance failed: %q", points[0].EntityID)
	}
}

func TestPayloadConversion(t *testing.T) {
	bp := BatchPayload{
		EntityID: "veh-9",
		Points: []PointPayload{
			{Latitude: 31, Longitude: 121, SourceTS: 1700000000, Source: "app-reported"},
			{EntityID: "veh-8", Latitude: 32, Longitude: 122, SourceTS: 1700000060},
		},
	}
	pts := bp.ToModels()
	if pts[0].EntityID != "veh-9" || pts[1].EntityID != "veh-8" {
		t.Fatalf("entity ids = %s/%s", pts[0].EntityID, pts[1].EntityID)
	}
	if pts[0].Source != model.SourceApp || pts[1].Source != model.SourceDevice {
		t.Errorf("sources = %d/%d", pts[0].Source, pts[1].Source)
	}
	if pts[0].SourceTS.Unix() != 1700000000 {
		t.Errorf("source_ts = %v", pts[0].SourceTS)
	}
}
