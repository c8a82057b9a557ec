// Package authz answers, for every protected action, whether a module
// is enabled for a tenant and whether the actor's role holds a given
// permission on it. Checks never fail open: an unknown tenant, unknown
// module, or disabled module all answer false. super_admin bypasses
// the matrix entirely.
package authz

import (
	"context"
	"fmt"
	"sync"

	"schoolhub/access/internal/model"
)

// NotFoundError reports an administrative mutation against an unknown
// tenant or module.
type NotFoundError struct {
	Kind string // "tenant" or "module"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// PermissionRepository is the durable home of tenant permission
// matrices.
type PermissionRepository interface {
	LoadAll(ctx context.Context) ([]model.TenantPermissionMatrix, error)
	Save(ctx context.Context, tenantID, module string, value model.ModulePermission) error
}

// ModuleEnabled is the pure form of the module check: true for
// super_admin, otherwise the module's enabled flag, false when the
// matrix or module is missing.
func ModuleEnabled(role model.Role, matrix *model.TenantPermissionMatrix, module string) bool {
	if role == model.RoleSuperAdmin {
		return true
	}
	if matrix == nil {
		return false
	}
	perm, ok := matrix.Modules[module]
	if !ok {
		return false
	}
	return perm.Enabled
}

// PermissionGranted is the pure form of the permission check. A
// disabled module grants nothing regardless of its permission set.
func PermissionGranted(role model.Role, matrix *model.TenantPermissionMatrix, module string, level model.PermissionLevel) bool {
	if role == model.RoleSuperAdmin {
		return true
	}
	if !ModuleEnabled(role, matrix, module) {
		return false
	}
	return matrix.Modules[module].Has(level)
}

// Engine caches every tenant's matrix and serves lock-free-shaped
// reads under an RWMutex. Updates replace one module's value
// atomically, so a concurrent reader never observes a torn
// {enabled, permissions} pair.
type Engine struct {
	repo PermissionRepository

	mu       sync.RWMutex
	matrices map[string]model.TenantPermissionMatrix
}

func NewEngine(repo PermissionRepository) *Engine {
	return &Engine{
		repo:     repo,
		matrices: make(map[string]model.TenantPermissionMatrix),
	}
}

// LoadAll replaces the cache with the repository's current state.
func (e *Engine) LoadAll(ctx context.Context) error {
	matrices, err := e.repo.LoadAll(ctx)
	if err != nil {
		return err
	}
	fresh := make(map[string]model.TenantPermissionMatrix, len(matrices))
	for _, matrix := range matrices {
		fresh[matrix.TenantID] = matrix.Clone()
	}
	e.mu.Lock()
	e.matrices = fresh
	e.mu.Unlock()
	return nil
}

func (e *Engine) IsModuleEnabled(role model.Role, tenantID, module string) bool {
	if role == model.RoleSuperAdmin {
		return true
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	matrix, ok := e.matrices[tenantID]
	if !ok {
		return false
	}
	return ModuleEnabled(role, &matrix, module)
}

func (e *Engine) HasPermission(role model.Role, tenantID, module string, level model.PermissionLevel) bool {
	if role == model.RoleSuperAdmin {
		return true
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	matrix, ok := e.matrices[tenantID]
	if !ok {
		return false
	}
	return PermissionGranted(role, &matrix, module, level)
}

// Matrix returns a deep copy of one tenant's matrix for admin views.
func (e *Engine) Matrix(tenantID string) (model.TenantPermissionMatrix, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	matrix, ok := e.matrices[tenantID]
	if !ok {
		return model.TenantPermissionMatrix{}, false
	}
	return matrix.Clone(), true
}

// UpdateModulePermission atomically replaces one module's gate for one
// tenant, in the repository and then in the cache. The value is taken
// as given: callers constructing it apply the grant rules (see
// GrantPermission).
func (e *Engine) UpdateModulePermission(ctx context.Context, tenantID, module string, value model.ModulePermission) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	matrix, ok := e.matrices[tenantID]
	if !ok {
		return &NotFoundError{Kind: "tenant", ID: tenantID}
	}
	if _, ok := matrix.Modules[module]; !ok {
		return &NotFoundError{Kind: "module", ID: module}
	}
	if err := e.repo.Save(ctx, tenantID, module, value.Clone()); err != nil {
		return err
	}

	updated := matrix.Clone()
	updated.Modules[module] = value.Clone()
	e.matrices[tenantID] = updated
	return nil
}

// GrantPermission builds the replacement value for granting levels on
// a module: the module is enabled and write/delete pull in read, since
// write-without-read is a state no screen can present sensibly. The
// reverse is deliberately not true: revoking read leaves any
// write/delete grants in place (see RevokePermission).
func GrantPermission(current model.ModulePermission, levels ...model.PermissionLevel) model.ModulePermission {
	out := model.ModulePermission{Enabled: true}
	granted := make(map[model.PermissionLevel]bool, 3)
	for _, level := range current.Permissions {
		granted[level] = true
	}
	for _, level := range levels {
		granted[level] = true
		if level == model.PermissionWrite || level == model.PermissionDelete {
			granted[model.PermissionRead] = true
		}
	}
	// Stable order keeps stored rows and API payloads deterministic.
	for _, level := range []model.PermissionLevel{model.PermissionRead, model.PermissionWrite, model.PermissionDelete} {
		if granted[level] {
			out.Permissions = append(out.Permissions, level)
		}
	}
	return out
}

// RevokePermission removes exactly the named levels. Revoking read
// does not cascade to write/delete.
func RevokePermission(current model.ModulePermission, levels ...model.PermissionLevel) model.ModulePermission {
	revoked := make(map[model.PermissionLevel]bool, len(levels))
	for _, level := range levels {
		revoked[level] = true
	}
	out := model.ModulePermission{Enabled: current.Enabled}
	for _, level := range current.Permissions {
		if !revoked[level] {
			out.Permissions = append(out.Permissions, level)
		}
	}
	return out
}
