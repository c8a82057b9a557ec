// Package repository is the Postgres backing for the user directory,
// the session store, and the tenant permission matrices. Schema lives
// in migrations/.
package repository

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"schoolhub/access/internal/auth"
	"schoolhub/access/internal/authz"
	"schoolhub/access/internal/model"
	"schoolhub/access/internal/session"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// LookupByEmail implements auth.UserDirectory. The role-specific
// payload (staff profile, parent child links) is loaded alongside the
// base record.
func (s *Store) LookupByEmail(ctx context.Context, email string) (model.Identity, string, error) {
	var (
		identity     model.Identity
		passwordHash string
	)
	row := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, email, password_hash, display_name, role
		FROM users
		WHERE email = $1
	`, email)
	err := row.Scan(
		&identity.ID,
		&identity.TenantID,
		&identity.Email,
		&passwordHash,
		&identity.DisplayName,
		&identity.Role,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Identity{}, "", auth.ErrIdentityNotFound
		}
		return model.Identity{}, "", err
	}

	switch identity.Role {
	case model.RoleStaff:
		profile, err := s.getStaffProfile(ctx, identity.ID)
		if err != nil {
			return model.Identity{}, "", err
		}
		identity.Staff = profile
	case model.RoleParent:
		children, err := s.getChildIDs(ctx, identity.ID)
		if err != nil {
			return model.Identity{}, "", err
		}
		identity.ChildIDs = children
	}

	return identity, passwordHash, nil
}

func (s *Store) getStaffProfile(ctx context.Context, userID string) (*model.StaffProfile, error) {
	var profile model.StaffProfile
	row := s.pool.QueryRow(ctx, `
		SELECT department, designation
		FROM staff_profiles
		WHERE user_id = $1
	`, userID)
	if err := row.Scan(&profile.Department, &profile.Designation); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &profile, nil
}

func (s *Store) getChildIDs(ctx context.Context, parentID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT student_id
		FROM parent_children
		WHERE parent_id = $1
		ORDER BY student_id
	`, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var children []string
	for rows.Next() {
		var studentID string
		if err := rows.Scan(&studentID); err != nil {
			return nil, err
		}
		children = append(children, studentID)
	}
	return children, rows.Err()
}

// Persist implements session.Store. Re-persisting the same token hash
// replaces the record, which is how renewal writes back.
func (s *Store) Persist(ctx context.Context, tokenHash string, sess model.Session) error {
	identity, err := json.Marshal(sess.Identity)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO sessions (token_hash, id, identity, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (token_hash) DO UPDATE
		SET id = EXCLUDED.id, identity = EXCLUDED.identity,
		    created_at = EXCLUDED.created_at, expires_at = EXCLUDED.expires_at
	`, tokenHash, sess.ID, identity, sess.CreatedAt, sess.ExpiresAt)
	return err
}

func (s *Store) Load(ctx context.Context, tokenHash string) (model.Session, error) {
	var (
		sess     model.Session
		identity []byte
	)
	row := s.pool.QueryRow(ctx, `
		SELECT id, identity, created_at, expires_at
		FROM sessions
		WHERE token_hash = $1
	`, tokenHash)
	err := row.Scan(&sess.ID, &identity, &sess.CreatedAt, &sess.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Session{}, session.ErrNotFound
		}
		return model.Session{}, err
	}
	if err := json.Unmarshal(identity, &sess.Identity); err != nil {
		return model.Session{}, session.ErrCorrupt
	}
	return sess, nil
}

func (s *Store) Delete(ctx context.Context, tokenHash string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE token_hash = $1`, tokenHash)
	return err
}

// LoadAll implements authz.PermissionRepository.
func (s *Store) LoadAll(ctx context.Context) ([]model.TenantPermissionMatrix, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT t.id, t.name, m.module, m.enabled, m.permissions
		FROM tenants t
		LEFT JOIN tenant_modules m ON m.tenant_id = t.id
		ORDER BY t.id, m.module
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byTenant := make(map[string]*model.TenantPermissionMatrix)
	var order []string
	for rows.Next() {
		var (
			tenantID    string
			tenantName  string
			module      *string
			enabled     *bool
			permissions []string
		)
		if err := rows.Scan(&tenantID, &tenantName, &module, &enabled, &permissions); err != nil {
			return nil, err
		}
		matrix, ok := byTenant[tenantID]
		if !ok {
			matrix = &model.TenantPermissionMatrix{
				TenantID:   tenantID,
				TenantName: tenantName,
				Modules:    make(map[string]model.ModulePermission),
			}
			byTenant[tenantID] = matrix
			order = append(order, tenantID)
		}
		if module == nil {
			continue // tenant with no module rows yet
		}
		perm := model.ModulePermission{Enabled: enabled != nil && *enabled}
		for _, level := range permissions {
			perm.Permissions = append(perm.Permissions, model.PermissionLevel(level))
		}
		matrix.Modules[*module] = perm
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]model.TenantPermissionMatrix, 0, len(order))
	for _, tenantID := range order {
		out = append(out, *byTenant[tenantID])
	}
	return out, nil
}

// Save implements authz.PermissionRepository. The row must already
// exist: modules are provisioned by migration, not created on write.
func (s *Store) Save(ctx context.Context, tenantID, module string, value model.ModulePermission) error {
	permissions := make([]string, 0, len(value.Permissions))
	for _, level := range value.Permissions {
		permissions = append(permissions, string(level))
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE tenant_modules
		SET enabled = $1, permissions = $2
		WHERE tenant_id = $3 AND module = $4
	`, value.Enabled, permissions, tenantID, module)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if !s.tenantExists(ctx, tenantID) {
			return &authz.NotFoundError{Kind: "tenant", ID: tenantID}
		}
		return &authz.NotFoundError{Kind: "module", ID: module}
	}
	return nil
}

func (s *Store) tenantExists(ctx context.Context, tenantID string) bool {
	var exists bool
	_ = s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tenants WHERE id = $1)`, tenantID).Scan(&exists)
	return exists
}
