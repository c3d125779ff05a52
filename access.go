package access

import (
	"context"
	"time"
)

// ============================================================================
// DOMAIN OBJECTS
// ============================================================================

// PermissionType classifies what kind of action a permission controls.
type PermissionType string

const (
	PermTypeCreate          PermissionType = "create"
	PermTypeRead            PermissionType = "read"
	PermTypeUpdate          PermissionType = "update"
	PermTypeDelete          PermissionType = "delete"
	PermTypeApprove         PermissionType = "approve"
	PermTypeReject          PermissionType = "reject"
	PermTypeExport          PermissionType = "export"
	PermTypeImport          PermissionType = "import"
	PermTypeAssign          PermissionType = "assign"
	PermTypeDelegate        PermissionType = "delegate"
	PermTypeOverride        PermissionType = "override"
	PermTypeViewAnalytics   PermissionType = "view_analytics"
	PermTypeManageUsers     PermissionType = "manage_users"
	PermTypeConfigureSystem PermissionType = "configure_system"
)

// ResourceType names the kind of object a permission applies to.
type ResourceType string

const (
	ResourceEvaluation   ResourceType = "evaluation"
	ResourceKPI          ResourceType = "kpi"
	ResourceFormTemplate ResourceType = "form_template"
	ResourceGoal         ResourceType = "goal"
	ResourceApproval     ResourceType = "approval"
	ResourceAnalytics    ResourceType = "analytics"
	ResourceUser         ResourceType = "user"
	ResourceDepartment   ResourceType = "department"
	ResourceRole         ResourceType = "role"
	ResourcePermission   ResourceType = "permission"
	ResourceSystemConfig ResourceType = "system_config"
	ResourceAuditLog     ResourceType = "audit_log"
	ResourceNotification ResourceType = "notification"
	ResourceReport       ResourceType = "report"
)

// RoleType classifies the scope a role is defined for.
type RoleType string

const (
	RoleTypeSystem     RoleType = "system"
	RoleTypeDepartment RoleType = "department"
	RoleTypeProject    RoleType = "project"
	RoleTypeTemporary  RoleType = "temporary"
)

// OverrideType is the effect of a per-user permission override.
type OverrideType string

const (
	OverrideGrant  OverrideType = "grant"
	OverrideDeny   OverrideType = "deny"
	OverrideModify OverrideType = "modify"
)

// Permission is a named, globally-unique grantable right. Identity (the code)
// is immutable once created; retiring a permission toggles IsActive.
type Permission struct {
	Code               string         `json:"code" yaml:"code"`
	Name               string         `json:"name" yaml:"name"`
	Description        string         `json:"description,omitempty" yaml:"description,omitempty"`
	PermissionType     PermissionType `json:"permission_type" yaml:"permission_type"`
	ResourceType       ResourceType   `json:"resource_type" yaml:"resource_type"`
	DepartmentScope    *int64         `json:"department_scope,omitempty" yaml:"department_scope,omitempty"`
	IsActive           bool           `json:"is_active" yaml:"is_active"`
	IsSystemPermission bool           `json:"is_system_permission,omitempty" yaml:"is_system_permission,omitempty"`
	CreatedAt          time.Time      `json:"created_at,omitempty" yaml:"-"`
	UpdatedAt          time.Time      `json:"updated_at,omitempty" yaml:"-"`
}

// Role groups permissions under a globally-unique code.
type Role struct {
	Code         string    `json:"code" yaml:"code"`
	Name         string    `json:"name" yaml:"name"`
	Description  string    `json:"description,omitempty" yaml:"description,omitempty"`
	RoleType     RoleType  `json:"role_type" yaml:"role_type"`
	DepartmentID *int64    `json:"department_id,omitempty" yaml:"department_id,omitempty"`
	IsActive     bool      `json:"is_active" yaml:"is_active"`
	IsSystemRole bool      `json:"is_system_role,omitempty" yaml:"is_system_role,omitempty"`
	CreatedAt    time.Time `json:"created_at,omitempty" yaml:"-"`
	UpdatedAt    time.Time `json:"updated_at,omitempty" yaml:"-"`
}

// RolePermission attaches a permission to a role, optionally constrained by a
// conditions map (see condition.go for the clause grammar). Unique per
// (role, permission).
type RolePermission struct {
	RoleCode       string         `json:"role_code" yaml:"role"`
	PermissionCode string         `json:"permission_code" yaml:"permission"`
	Conditions     map[string]any `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	IsActive       bool           `json:"is_active" yaml:"is_active"`
	CreatedAt      time.Time      `json:"created_at,omitempty" yaml:"-"`
}

// UserRole is a time-bounded assignment of a role to a user, optionally in a
// department context. The same role can be held once per department. A nil
// EndDate means the assignment is open-ended.
type UserRole struct {
	ID           int64          `json:"id"`
	UserID       int64          `json:"user_id" yaml:"user_id"`
	RoleCode     string         `json:"role_code" yaml:"role"`
	DepartmentID *int64         `json:"department_id,omitempty" yaml:"department_id,omitempty"`
	StartDate    time.Time      `json:"start_date" yaml:"start_date"`
	EndDate      *time.Time     `json:"end_date,omitempty" yaml:"end_date,omitempty"`
	Conditions   map[string]any `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	AssignedBy   *int64         `json:"assigned_by,omitempty" yaml:"assigned_by,omitempty"`
	Reason       string         `json:"reason,omitempty" yaml:"reason,omitempty"`
	IsActive     bool           `json:"is_active"`
	CreatedAt    time.Time      `json:"created_at,omitempty" yaml:"-"`
	UpdatedAt    time.Time      `json:"updated_at,omitempty" yaml:"-"`
}

// IsCurrent reports whether the assignment is in force at the given instant.
// Both window bounds are inclusive.
func (ur *UserRole) IsCurrent(at time.Time) bool {
	return currentWindow(ur.IsActive, ur.StartDate, ur.EndDate, at)
}

// Status returns the lifecycle state of the assignment at the given instant.
func (ur *UserRole) Status(at time.Time) RecordStatus {
	return windowStatus(ur.IsActive, ur.StartDate, ur.EndDate, at)
}

// PermissionOverride is a time-bounded per-user exception to role-derived
// permissions. Unique per (user, permission, override type). Reason is
// mandatory: overrides are the compliance-sensitive escape hatch.
type PermissionOverride struct {
	ID             int64        `json:"id"`
	UserID         int64        `json:"user_id" yaml:"user_id"`
	PermissionCode string       `json:"permission_code" yaml:"permission"`
	OverrideType   OverrideType `json:"override_type" yaml:"override_type"`
	StartDate      time.Time    `json:"start_date" yaml:"start_date"`
	EndDate        *time.Time   `json:"end_date,omitempty" yaml:"end_date,omitempty"`
	Reason         string       `json:"reason" yaml:"reason"`
	GrantedBy      *int64       `json:"granted_by,omitempty" yaml:"granted_by,omitempty"`
	IsActive       bool         `json:"is_active"`
	CreatedAt      time.Time    `json:"created_at,omitempty" yaml:"-"`
	UpdatedAt      time.Time    `json:"updated_at,omitempty" yaml:"-"`
}

// IsCurrent reports whether the override is in force at the given instant.
func (o *PermissionOverride) IsCurrent(at time.Time) bool {
	return currentWindow(o.IsActive, o.StartDate, o.EndDate, at)
}

// Status returns the lifecycle state of the override at the given instant.
func (o *PermissionOverride) Status(at time.Time) RecordStatus {
	return windowStatus(o.IsActive, o.StartDate, o.EndDate, at)
}

// RecordStatus is the lifecycle state of a time-bounded record.
// Revoked and Expired both fail IsCurrent; only Revoked is irreversible.
// Extending an expired window is not exposed as an operation: a fresh row is
// created instead.
type RecordStatus string

const (
	StatusPendingFuture RecordStatus = "pending-future"
	StatusCurrent       RecordStatus = "current"
	StatusExpired       RecordStatus = "expired"
	StatusRevoked       RecordStatus = "revoked"
)

func currentWindow(active bool, start time.Time, end *time.Time, at time.Time) bool {
	return active && !start.After(at) && (end == nil || !end.Before(at))
}

func windowStatus(active bool, start time.Time, end *time.Time, at time.Time) RecordStatus {
	if !active {
		return StatusRevoked
	}
	if start.After(at) {
		return StatusPendingFuture
	}
	if end != nil && end.Before(at) {
		return StatusExpired
	}
	return StatusCurrent
}

// AuditAction names what a PermissionAudit record documents.
type AuditAction string

const (
	AuditGranted         AuditAction = "granted"
	AuditRevoked         AuditAction = "revoked"
	AuditModified        AuditAction = "modified"
	AuditOverrideGranted AuditAction = "override_granted"
	AuditOverrideRevoked AuditAction = "override_revoked"
	AuditRoleAssigned    AuditAction = "role_assigned"
	AuditRoleRemoved     AuditAction = "role_removed"
)

// PermissionAudit is an append-only record of a permission mutation.
// Never updated or deleted; never consulted during resolution.
type PermissionAudit struct {
	ID             int64       `json:"id"`
	UserID         int64       `json:"user_id"`
	PermissionCode string      `json:"permission_code"`
	Action         AuditAction `json:"action"`
	RoleCode       string      `json:"role_code,omitempty"`
	OverrideID     int64       `json:"override_id,omitempty"`
	Reason         string      `json:"reason,omitempty"`
	PerformedBy    *int64      `json:"performed_by,omitempty"`
	Timestamp      time.Time   `json:"timestamp"`
}

// AuditFilter selects audit records for reporting.
type AuditFilter struct {
	UserID         int64
	PermissionCode string
	Action         AuditAction
	StartTime      time.Time
	EndTime        time.Time
	Limit          int
}

// Setting is a system-wide key/value configuration entry.
type Setting struct {
	Key         string    `json:"key" yaml:"key"`
	Value       string    `json:"value" yaml:"value"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	IsActive    bool      `json:"is_active"`
	UpdatedAt   time.Time `json:"updated_at,omitempty" yaml:"-"`
}

// ============================================================================
// IDENTITY
// ============================================================================

// Identity is the authenticated-user handle supplied by the identity
// provider. Superusers short-circuit every check to allow; unauthenticated
// callers are denied without touching the store.
type Identity interface {
	UserID() int64
	IsAuthenticated() bool
	IsSuperuser() bool
}

// User is a plain Identity value for services that already resolved the
// caller.
type User struct {
	ID            int64
	Authenticated bool
	Superuser     bool
}

func (u User) UserID() int64         { return u.ID }
func (u User) IsAuthenticated() bool { return u.Authenticated }
func (u User) IsSuperuser() bool     { return u.Superuser }

// ============================================================================
// STORAGE INTERFACES
// ============================================================================

// EntityStore is the persistence boundary for roles, permissions,
// assignments, and overrides. Query methods filter inactive rows and the
// temporal window store-side: callers never re-filter.
//
// Mutations that take a *PermissionAudit must write the row and the audit
// record in one atomic unit: if the audit write fails, the mutation rolls
// back and the error wraps ErrAuditWrite.
type EntityStore interface {
	CreatePermission(ctx context.Context, p *Permission) error
	GetPermission(ctx context.Context, code string) (*Permission, error)
	ListPermissions(ctx context.Context) ([]*Permission, error)

	CreateRole(ctx context.Context, r *Role) error
	GetRole(ctx context.Context, code string) (*Role, error)
	ListRoles(ctx context.Context) ([]*Role, error)
	DeleteRole(ctx context.Context, code string) error

	AttachPermission(ctx context.Context, rp *RolePermission) error
	DetachPermission(ctx context.Context, roleCode, permissionCode string) error
	RolePermissions(ctx context.Context, roleCode string) ([]*RolePermission, error)
	RolesGrantingPermission(ctx context.Context, permissionCode string) ([]string, error)

	AssignRole(ctx context.Context, ur *UserRole, audit *PermissionAudit) error
	RevokeUserRole(ctx context.Context, userID int64, roleCode string, departmentID *int64, audit *PermissionAudit) error
	ActiveUserRoles(ctx context.Context, userID int64, asOf time.Time) ([]*UserRole, error)
	AssignmentsForRole(ctx context.Context, roleCode string, asOf time.Time) ([]*UserRole, error)
	UserDepartments(ctx context.Context, userID int64, asOf time.Time) ([]int64, error)

	GrantOverride(ctx context.Context, o *PermissionOverride, audit *PermissionAudit) error
	RevokeOverride(ctx context.Context, userID int64, permissionCode string, overrideType OverrideType, audit *PermissionAudit) error
	ActiveOverrides(ctx context.Context, userID int64, asOf time.Time) ([]*PermissionOverride, error)
	OverridesForPermission(ctx context.Context, permissionCode string, asOf time.Time) ([]*PermissionOverride, error)
}

// AuditStore reads the append-only mutation trail. Writes happen inside the
// EntityStore mutation transactions; Append exists for stores that share the
// backing medium and for reporting pipelines that replicate entries.
type AuditStore interface {
	Append(ctx context.Context, entry *PermissionAudit) error
	List(ctx context.Context, filter AuditFilter) ([]*PermissionAudit, error)
}

// SettingStore persists system configuration key/values.
type SettingStore interface {
	GetSetting(ctx context.Context, key string) (*Setting, error)
	PutSetting(ctx context.Context, s *Setting) error
}

var validPermissionTypes = map[PermissionType]bool{
	PermTypeCreate: true, PermTypeRead: true, PermTypeUpdate: true,
	PermTypeDelete: true, PermTypeApprove: true, PermTypeReject: true,
	PermTypeExport: true, PermTypeImport: true, PermTypeAssign: true,
	PermTypeDelegate: true, PermTypeOverride: true, PermTypeViewAnalytics: true,
	PermTypeManageUsers: true, PermTypeConfigureSystem: true,
}

var validResourceTypes = map[ResourceType]bool{
	ResourceEvaluation: true, ResourceKPI: true, ResourceFormTemplate: true,
	ResourceGoal: true, ResourceApproval: true, ResourceAnalytics: true,
	ResourceUser: true, ResourceDepartment: true, ResourceRole: true,
	ResourcePermission: true, ResourceSystemConfig: true, ResourceAuditLog: true,
	ResourceNotification: true, ResourceReport: true,
}

var validRoleTypes = map[RoleType]bool{
	RoleTypeSystem: true, RoleTypeDepartment: true,
	RoleTypeProject: true, RoleTypeTemporary: true,
}

var validOverrideTypes = map[OverrideType]bool{
	OverrideGrant: true, OverrideDeny: true, OverrideModify: true,
}
