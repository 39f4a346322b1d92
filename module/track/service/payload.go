package service

import (
	"time"

	"GProject/module/track/model"
)

// PointPayload 上报侧统一载荷（HTTP 与 NATS 共用一套字段）。
// source_ts 为设备侧 epoch 秒。
type PointPayload struct {
	EntityID  string  `json:"entity_id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude"`
	Accuracy  float64 `json:"accuracy"`
	Speed     float64 `json:"speed"`
	Heading   float64 `json:"heading"`
	SourceTS  int64   `json:"source_ts"`
	Source    string  `json:"source"`
	DeviceID  string  `json:"device_id"`
}

// BatchPayload 批量上报；points 里未带 entity_id 的点继承外层的。
type BatchPayload struct {
	EntityID string         `json:"entity_id"`
	Points   []PointPayload `json:"points"`
}

func (pl PointPayload) ToModel() *model.LocationPoint {
	p := &model.LocationPoint{
		EntityID:  pl.EntityID,
		Latitude:  pl.Latitude,
		Longitude: pl.Longitude,
		Altitude:  pl.Altitude,
		Accuracy:  pl.Accuracy,
		Speed:     pl.Speed,
		Heading:   pl.Heading,
		Source:    model.ParseSource(pl.Source),
		DeviceID:  pl.DeviceID,
	}
	if pl.SourceTS > 0 {
		p.SourceTS = time.Unix(pl.SourceTS, 0).UTC()
	}
	return p
}

func (bp BatchPayload) ToModels() []*model.LocationPoint {
	out := make([]*model.LocationPoint, 0, len(bp.Points))
	for _, pl := range bp.Points {
		p := pl.ToModel()
		if p.EntityID == "" {
			p.EntityID = bp.EntityID
		}
		out = append(out, p)
	}
	return out
}
