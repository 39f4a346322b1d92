package analyze

import (
	"sort"
	"time"

	"GProject/module/track/model"
	"GProject/tools/geo"
)

// ===== 配置 =====

type Config struct {
	StopThresholdKmh float64 // 低于该速度视为可能停车（默认 5）
	MinStopMinutes   float64 // 间隔超过该分钟数才计停车（默认 2）
}

func (c *Config) norm() {
	if c.StopThresholdKmh <= 0 {
		c.StopThresholdKmh = 5
	}
	if c.MinStopMinutes <= 0 {
		c.MinStopMinutes = 2
	}
}

// RouteAnalyzer 对单实体升序轨迹做距离/速度/停车分析。纯计算，无 I/O。
type RouteAnalyzer struct {
	conf Config
}

func NewRouteAnalyzer(conf Config) *RouteAnalyzer {
	conf.norm()
	return &RouteAnalyzer{conf: conf}
}

// Analyze 输入必须按 source_ts 升序。
//   - 总里程：相邻点 haversine 距离之和
//   - 平均速度：总里程 / 总时长
//   - 最高速度：取各点上报的 speed 字段，不做距离/时间反推
//   - 停车：相邻点对满足「后点速度 < 阈值 且 间隔 > 最小停车分钟」记为
//     停车间隔，连续的停车间隔合并为一次停车事件
func (a *RouteAnalyzer) Analyze(points []*model.LocationPoint) model.RouteMetrics {
	var m model.RouteMetrics
	if len(points) < 2 {
		return m
	}

	inStop := false
	for i := 1; i < len(points); i++ {
		prev, curr := points[i-1], points[i]

		m.TotalDistanceKm += geo.HaversineKm(prev.Latitude, prev.Longitude, curr.Latitude, curr.Longitude)

		if curr.Speed > m.MaxSpeedKmh {
			m.MaxSpeedKmh = curr.Speed
		}

		gapMin := curr.SourceTS.Sub(prev.SourceTS).Minutes()
		if curr.Speed < a.conf.StopThresholdKmh && gapMin > a.conf.MinStopMinutes {
			if !inStop {
				m.StopCount++
				inStop = true
			}
			m.StopDurationMin += gapMin
		} else {
			inStop = false
		}
	}
	if points[0].Speed > m.MaxSpeedKmh {
		m.MaxSpeedKmh = points[0].Speed
	}

	m.TotalDurationMin = points[len(points)-1].SourceTS.Sub(points[0].SourceTS).Minutes()
	if m.TotalDurationMin > 0 {
		m.AverageSpeedKmh = m.TotalDistanceKm / (m.TotalDurationMin / 60)
	}
	return m
}

// ===== ETA =====

const (
	defaultSpeedKmh = 50 // 无上报速度时的估算速度
	minSpeedKmh     = 30 // 上报速度的下限钳制，避免低速导致 ETA 爆炸
)

type ETA struct {
	DistanceKm       float64   `json:"distance_km"`
	EstimatedArrival time.Time `json:"estimated_arrival"`
	SpeedUsedKmh     float64   `json:"speed_used_kmh"`
}

// EstimateETA projects arrival at the destination from the current
// position, assuming straight-line distance.
func (a *RouteAnalyzer) EstimateETA(cur *model.LocationPoint, destLat, destLng float64, now time.Time) ETA {
	dist := geo.HaversineKm(cur.Latitude, cur.Longitude, destLat, destLng)
	speed := float64(defaultSpeedKmh)
	if cur.Speed > 0 {
		speed = cur.Speed
		if speed < minSpeedKmh {
			speed = minSpeedKmh
		}
	}
	hours := dist / speed
	return ETA{
		DistanceKm:       dist,
		EstimatedArrival: now.Add(time.Duration(hours * float64(time.Hour))),
		SpeedUsedKmh:     speed,
	}
}

// ===== 简单路线排序 =====

type Waypoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Label     string  `json:"label,omitempty"`
}

type OrderedStop struct {
	Waypoint
	DistanceKm float64 `json:"distance_km"` // 距起点直线距离
}

type RoutePlan struct {
	Stops            []OrderedStop `json:"stops"`
	TotalDistanceKm  float64       `json:"total_distance_km"`
	EstimatedMinutes float64       `json:"estimated_minutes"`
}

// OrderByDistance sorts destinations by straight-line distance from the
// start position and estimates travel time at the default speed.
func (a *RouteAnalyzer) OrderByDistance(startLat, startLng float64, dests []Waypoint) RoutePlan {
	stops := make([]OrderedStop, 0, len(dests))
	for _, w := range dests {
		stops = append(stops, OrderedStop{
			Waypoint:   w,
			DistanceKm: geo.HaversineKm(startLat, startLng, w.Latitude, w.Longitude),
		})
	}
	sort.Slice(stops, func(i, j int) bool { return stops[i].DistanceKm < stops[j].DistanceKm })

	var total float64
	for _, s := range stops {
		total += s.DistanceKm
	}
	return RoutePlan{
		Stops:            stops,
		TotalDistanceKm:  total,
		EstimatedMinutes: total / defaultSpeedKmh * 60,
	}
}
