package analyze

import (
	"math"
	"testing"
	"time"

	"GProject/module/track/model"
)

func pt(ts time.Time, lat, lng, speed float64) *model.LocationPoint {
	return &model.LocationPoint{EntityID: "veh-1", Latitude: lat, Longitude: lng, Speed: speed, SourceTS: ts}
}

func TestAnalyzeFewPointsAllZero(t *testing.T) {
	a := NewRouteAnalyzer(Config{})
	m := a.Analyze([]*model.LocationPoint{pt(time.Now(), 31, 121, 50)})
	if m != (model.RouteMetrics{}) {
		t.Fatalf("metrics for single point = %+v, want zero value", m)
	}
}

func TestAnalyzeStopDetection(t *testing.T) {
	a := NewRouteAnalyzer(Config{})
	base := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

	// p2 在 p1 后 10 分钟且速度 0 -> 一次停车 10 分钟；
	// p3 在 p2 后 1 分钟速度 60 -> 不计停车
	points := []*model.LocationPoint{
		pt(base, 31.2300, 121.4700, 30),
		pt(base.Add(10*time.Minute), 31.2301, 121.4701, 0),
		pt(base.Add(11*time.Minute), 31.2350, 121.4750, 60),
	}

	m := a.Analyze(points)
	if m.StopCount != 1 {
		t.Errorf("stop_count = %d, want 1", m.StopCount)
	}
	if math.Abs(m.StopDurationMin-10) > 0.01 {
		t.Errorf("stop_duration = %v min, want ~10", m.StopDurationMin)
	}
	if m.MaxSpeedKmh != 60 {
		t.Errorf("max_speed = %v, want 60", m.MaxSpeedKmh)
	}
}

func TestAnalyzeMergesConsecutiveStopGaps(t *testing.T) {
	a := NewRouteAnalyzer(Config{})
	base := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

	// 两段连续的停车间隔合并为一次停车事件；中间一段行驶后再停，算第二次
	points := []*model.LocationPoint{
		pt(base, 31.2300, 121.4700, 30),
		pt(base.Add(5*time.Minute), 31.2300, 121.4700, 1),  // stop gap 1
		pt(base.Add(10*time.Minute), 31.2300, 121.4700, 2), // stop gap 2（同一次）
		pt(base.Add(15*time.Minute), 31.2400, 121.4800, 55),
		pt(base.Add(25*time.Minute), 31.2400, 121.4800, 0), // 第二次停车
	}

	m := a.Analyze(points)
	if m.StopCount != 2 {
		t.Errorf("stop_count = %d, want 2", m.StopCount)
	}
	if math.Abs(m.StopDurationMin-20) > 0.01 {
		t.Errorf("stop_duration = %v min, want ~20", m.StopDurationMin)
	}
}

func TestAnalyzeConstantSpeedRun(t *testing.T) {
	a := NewRouteAnalyzer(Config{})
	base := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

	// 5 个点跨 1 小时，沿经线每 15 分钟北移 15km（60 km/h）
	const kmPerDegLat = 111.2
	points := make([]*model.LocationPoint, 0, 5)
	for i := 0; i < 5; i++ {
		lat := 31.0 + float64(i)*15/kmPerDegLat
		points = append(points, pt(base.Add(time.Duration(i*15)*time.Minute), lat, 121.0, 60))
	}

	m := a.Analyze(points)
	if math.Abs(m.AverageSpeedKmh-60) > 1 {
		t.Errorf("average_speed = %v, want ~60", m.AverageSpeedKmh)
	}
	if m.MaxSpeedKmh != 60 {
		t.Errorf("max_speed = %v, want 60", m.MaxSpeedKmh)
	}
	if math.Abs(m.TotalDurationMin-60) > 0.01 {
		t.Errorf("duration = %v min, want 60", m.TotalDurationMin)
	}
	if m.StopCount != 0 {
		t.Errorf("stop_count = %d, want 0", m.StopCount)
	}
}

func TestEstimateETA(t *testing.T) {
	a := NewRouteAnalyzer(Config{})
	now := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

	cur := pt(now, 31.0, 121.0, 0)
	eta := a.EstimateETA(cur, 31.0, 122.0, now) // 约 95km 正东
	if eta.SpeedUsedKmh != 50 {
		t.Errorf("speed used = %v, want default 50 when reported speed is 0", eta.SpeedUsedKmh)
	}
	if !eta.EstimatedArrival.After(now.Add(time.Hour)) {
		t.Errorf("arrival = %v, expected more than 1h out", eta.EstimatedArrival)
	}

	cur.Speed = 10 // 低速被钳制到 30
	eta = a.EstimateETA(cur, 31.0, 122.0, now)
	if eta.SpeedUsedKmh != 30 {
		t.Errorf("speed used = %v, want clamped 30", eta.SpeedUsedKmh)
	}

	cur.Speed = 80
	eta = a.EstimateETA(cur, 31.0, 122.0, now)
	if eta.SpeedUsedKmh != 80 {
		t.Errorf("speed used = %v, want reported 80", eta.SpeedUsedKmh)
	}
}

func TestOrderByDistance(t *testing.T) {
	a := NewRouteAnalyzer(Config{})
	plan := a.OrderByDistance(31.0, 121.0, []Waypoint{
		{Latitude: 33.0, Longitude: 121.0, Label: "far"},
		{Latitude: 31.1, Longitude: 121.0, Label: "near"},
		{Latitude: 32.0, Longitude: 121.0, Label: "mid"},
	})
	if len(plan.Stops) != 3 {
		t.Fatalf("stops = %d, want 3", len(plan.Stops))
	}
	if plan.Stops[0].Label != "near" || plan.Stops[1].Label != "mid" || plan.Stops[2].Label != "far" {
		t.Errorf("order = %s,%s,%s", plan.Stops[0].Label, plan.Stops[1].Label, plan.Stops[2].Label)
	}
	if plan.TotalDistanceKm <= 0 || plan.EstimatedMinutes <= 0 {
		t.Errorf("plan totals = %+v", plan)
	}
}
