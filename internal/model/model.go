package model

import "time"

type Role string

const (
	RoleSuperAdmin Role = "super_admin"
	RoleAdmin      Role = "admin"
	RoleStaff      Role = "staff"
	RoleParent     Role = "parent"
)

func (r Role) Valid() bool {
	switch r {
	case RoleSuperAdmin, RoleAdmin, RoleStaff, RoleParent:
		return true
	default:
		return false
	}
}

// StaffProfile carries the role-specific payload for staff identities.
type StaffProfile struct {
	Department  string `json:"department"`
	Designation string `json:"designation"`
}

// Identity is the directory record of an actor. It never carries
// credential material once loaded into a session.
type Identity struct {
	ID          string        `json:"id"`
	DisplayName string        `json:"displayName"`
	Email       string        `json:"email"`
	Role        Role          `json:"role"`
	TenantID    string        `json:"tenantId,omitempty"`
	Staff       *StaffProfile `json:"staff,omitempty"`
	ChildIDs    []string      `json:"childIds,omitempty"`
}

// Session is time-bounded proof of authentication for one identity.
// Invariant: ExpiresAt > CreatedAt; valid iff now < ExpiresAt.
type Session struct {
	ID        string    `json:"id"`
	Identity  Identity  `json:"identity"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (s Session) ValidAt(now time.Time) bool {
	return now.Before(s.ExpiresAt)
}

type PermissionLevel string

const (
	PermissionRead   PermissionLevel = "read"
	PermissionWrite  PermissionLevel = "write"
	PermissionDelete PermissionLevel = "delete"
)

func (p PermissionLevel) Valid() bool {
	switch p {
	case PermissionRead, PermissionWrite, PermissionDelete:
		return true
	default:
		return false
	}
}

// ModulePermission gates one feature area for one tenant. Enabled=false
// revokes everything regardless of the permission set.
type ModulePermission struct {
	Enabled     bool              `json:"enabled"`
	Permissions []PermissionLevel `json:"permissions"`
}

func (m ModulePermission) Has(level PermissionLevel) bool {
	for _, p := range m.Permissions {
		if p == level {
			return true
		}
	}
	return false
}

func (m ModulePermission) Clone() ModulePermission {
	out := ModulePermission{Enabled: m.Enabled}
	if m.Permissions != nil {
		out.Permissions = append([]PermissionLevel(nil), m.Permissions...)
	}
	return out
}

// TenantPermissionMatrix holds one tenant's module gating. Modules are
// open-keyed; the constants below are the feature areas the school
// platform ships with.
type TenantPermissionMatrix struct {
	TenantID   string                      `json:"tenantId"`
	TenantName string                      `json:"tenantName"`
	Modules    map[string]ModulePermission `json:"modules"`
}

func (t TenantPermissionMatrix) Clone() TenantPermissionMatrix {
	out := TenantPermissionMatrix{
		TenantID:   t.TenantID,
		TenantName: t.TenantName,
		Modules:    make(map[string]ModulePermission, len(t.Modules)),
	}
	for name, perm := range t.Modules {
		out.Modules[name] = perm.Clone()
	}
	return out
}

const (
	ModuleFees       = "fees"
	ModuleAttendance = "attendance"
	ModuleStudents   = "students"
	ModuleAlumni     = "alumni"
	ModuleCalendar   = "calendar"
	ModuleReports    = "reports"
	ModuleMessaging  = "messaging"
)

var landingViews = map[Role]string{
	RoleSuperAdmin: "platform",
	RoleAdmin:      "school",
	RoleStaff:      "workspace",
	RoleParent:     "family",
}

const defaultLandingView = "login"

// LandingView maps a role to the view an authenticated actor lands on.
// Unrecognized roles fall through to the login view.
func LandingView(role Role) string {
	if view, ok := landingViews[role]; ok {
		return view
	}
	return defaultLandingView
}
