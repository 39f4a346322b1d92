package model

import (
	"time"

	"GProject/tools/errs"
)

// Source GPS 数据来源
const (
	SourceDevice int32 = 0 // 设备直报（车载终端）
	SourceApp    int32 = 1 // 司机 App 上报
	SourceManual int32 = 2 // 人工补录
)

// SourceName maps a source code to its wire name.
func SourceName(s int32) string {
	switch s {
	case SourceApp:
		return "app-reported"
	case SourceManual:
		return "manual"
	default:
		return "device-reported"
	}
}

// ParseSource resolves a wire name back to a source code; unknown names
// fall back to device-reported.
func ParseSource(name string) int32 {
	switch name {
	case "app-reported":
		return SourceApp
	case "manual":
		return SourceManual
	default:
		return SourceDevice
	}
}

// LocationPoint 单个位置采样。
// (EntityID, SourceTS) 是落库自然键；重复上报按 last-write-wins 覆盖非键字段。
type LocationPoint struct {
	EntityID  string  `json:"entity_id"` // 被追踪对象（车辆/运单）
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude,omitempty"`
	Accuracy  float64 `json:"accuracy,omitempty"` // 米
	Speed     float64 `json:"speed"`              // km/h，>= 0
	Heading   float64 `json:"heading"`            // 度，[0, 360)

	SourceTS time.Time `json:"source_ts"` // 设备侧时钟
	IngestTS time.Time `json:"ingest_ts"` // 服务端接收时钟（入库时补默认值）

	Source   int32  `json:"source"`
	DeviceID string `json:"device_id,omitempty"`
}

// Validate enforces the ingestion-boundary invariants; a point that fails
// here must never reach the buffer.
func (p *LocationPoint) Validate() error {
	if p.EntityID == "" {
		return errs.ErrValidation.WrapMsg("entity_id is empty")
	}
	if p.Latitude < -90 || p.Latitude > 90 {
		return errs.ErrValidation.WrapMsg("latitude out of range [-90,90]")
	}
	if p.Longitude < -180 || p.Longitude > 180 {
		return errs.ErrValidation.WrapMsg("longitude out of range [-180,180]")
	}
	if p.Speed < 0 {
		return errs.ErrValidation.WrapMsg("speed must be >= 0")
	}
	if p.Heading < 0 || p.Heading >= 360 {
		return errs.ErrValidation.WrapMsg("heading out of range [0,360)")
	}
	if p.SourceTS.IsZero() {
		return errs.ErrValidation.WrapMsg("source_ts is zero")
	}
	return nil
}

// AggregateStats 单实体窗口聚合。Displacement 是首末两点直线距离，
// 不是累计里程。
type AggregateStats struct {
	Count          int64     `json:"count"`
	AvgSpeedKmh    float64   `json:"avg_speed_kmh"`
	MaxSpeedKmh    float64   `json:"max_speed_kmh"`
	FirstTS        time.Time `json:"first_ts"`
	LastTS         time.Time `json:"last_ts"`
	DisplacementKm float64   `json:"displacement_km"`
}

// RouteMetrics 路线分析结果
type RouteMetrics struct {
	TotalDistanceKm  float64 `json:"total_distance_km"`
	TotalDurationMin float64 `json:"total_duration_min"`
	AverageSpeedKmh  float64 `json:"average_speed_kmh"`
	MaxSpeedKmh      float64 `json:"max_speed_kmh"`
	StopCount        int     `json:"stop_count"`
	StopDurationMin  float64 `json:"stop_duration_min"`
}

// NearbyEntity nearby 查询的单条结果
type NearbyEntity struct {
	EntityID   string  `json:"entity_id"`
	DistanceKm float64 `json:"distance_km"`
}
