package authz

import (
	"context"
	"sync"

	"schoolhub/access/internal/model"
)

// MemoryRepository keeps matrices in process memory. Used by tests and
// by deployments that have not wired Postgres yet.
type MemoryRepository struct {
	mu       sync.Mutex
	matrices map[string]model.TenantPermissionMatrix
}

func NewMemoryRepository(seed ...model.TenantPermissionMatrix) *MemoryRepository {
	r := &MemoryRepository{matrices: make(map[string]model.TenantPermissionMatrix, len(seed))}
	for _, matrix := range seed {
		r.matrices[matrix.TenantID] = matrix.Clone()
	}
	return r
}

func (r *MemoryRepository) LoadAll(ctx context.Context) ([]model.TenantPermissionMatrix, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.TenantPermissionMatrix, 0, len(r.matrices))
	for _, matrix := range r.matrices {
		out = append(out, matrix.Clone())
	}
	return out, nil
}

func (r *MemoryRepository) Save(ctx context.Context, tenantID, module string, value model.ModulePermission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	matrix, ok := r.matrices[tenantID]
	if !ok {
		return &NotFoundError{Kind: "tenant", ID: tenantID}
	}
	if _, ok := matrix.Modules[module]; !ok {
		return &NotFoundError{Kind: "module", ID: module}
	}
	updated := matrix.Clone()
	updated.Modules[module] = value.Clone()
	r.matrices[tenantID] = updated
	return nil
}
