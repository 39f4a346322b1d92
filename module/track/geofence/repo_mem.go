package geofence

import (
	"context"
	"strconv"
	"sync"

	"GProject/tools/errs"
)

type memRepo struct {
	mu     sync.RWMutex
	fences map[string]*Fence
	nextID int
}

func NewMemRepo() Repo {
	return &memRepo{fences: make(map[string]*Fence)}
}

func (r *memRepo) Insert(ctx context.Context, f *Fence) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f.ID == "" {
		r.nextID++
		f.ID = "fence-" + strconv.Itoa(r.nextID)
	}
	cp := *f
	r.fences[f.ID] = &cp
	return nil
}

func (r *memRepo) ListActive(ctx context.Context) ([]*Fence, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Fence
	for _, f := range r.fences {
		if f.Active {
			cp := *f
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memRepo) Deactivate(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.fences[id]
	if !ok {
		return errs.ErrNotFound.WrapMsg("fence " + id)
	}
	f.Active = false
	return nil
}
