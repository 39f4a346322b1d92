package geofence

import (
	"context"
	"time"

	"GProject/tools/errs"
	"GProject/tools/geo"
)

// FenceType
const (
	TypeCircle = "circle"
)

// Fence 圆形地理围栏。半径单位为米。
type Fence struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	FenceType   string    `json:"fence_type"`
	CenterLat   float64   `json:"center_lat"`
	CenterLng   float64   `json:"center_lng"`
	RadiusM     float64   `json:"radius_m"`
	Description string    `json:"description,omitempty"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}

func (f *Fence) validate() error {
	if f.Name == "" {
		return errs.ErrValidation.WrapMsg("fence name is empty")
	}
	if f.CenterLat < -90 || f.CenterLat > 90 || f.CenterLng < -180 || f.CenterLng > 180 {
		return errs.ErrValidation.WrapMsg("fence center out of range")
	}
	if f.RadiusM <= 0 {
		return errs.ErrValidation.WrapMsg("fence radius must be > 0")
	}
	return nil
}

// Violation 一次命中结果（点落在围栏内）。
type Violation struct {
	FenceID        string  `json:"fence_id"`
	FenceName      string  `json:"fence_name"`
	DistanceMeters float64 `json:"distance_meters"` // 距围栏中心
}

// Repo 围栏存取抽象：生产实现 Postgres（pg 实现见 repo_pg.go），
// 内存实现用于单测。
type Repo interface {
	Insert(ctx context.Context, f *Fence) error
	ListActive(ctx context.Context) ([]*Fence, error)
	Deactivate(ctx context.Context, id string) error
}

// Service 围栏业务：创建 + 命中检测。
type Service struct {
	repo Repo
}

func NewService(repo Repo) *Service {
	return &Service{repo: repo}
}

func (s *Service) Create(ctx context.Context, f *Fence) error {
	if f.FenceType == "" {
		f.FenceType = TypeCircle
	}
	if err := f.validate(); err != nil {
		return err
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	f.Active = true
	return s.repo.Insert(ctx, f)
}

func (s *Service) ListActive(ctx context.Context) ([]*Fence, error) {
	return s.repo.ListActive(ctx)
}

func (s *Service) Deactivate(ctx context.Context, id string) error {
	return s.repo.Deactivate(ctx, id)
}

// CheckViolations returns every active circle fence containing the point.
func (s *Service) CheckViolations(ctx context.Context, lat, lng float64) ([]Violation, error) {
	fences, err := s.repo.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	var out []Violation
	for _, f := range fences {
		if f.FenceType != TypeCircle {
			continue
		}
		distM := geo.HaversineKm(lat, lng, f.CenterLat, f.CenterLng) * 1000
		if distM <= f.RadiusM {
			out = append(out, Violation{FenceID: f.ID, FenceName: f.Name, DistanceMeters: distM})
		}
	}
	return out, nil
}
