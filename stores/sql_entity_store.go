package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hrkit/access"
	"github.com/oarkflow/squealx"
)

// SQLEntityStore persists roles, permissions, assignments, and overrides in
// SQL (squealx). Audited mutations write the row and the audit record in one
// transaction; a failed audit insert rolls the whole mutation back.
type SQLEntityStore struct {
	db *squealx.DB
}

func NewSQLEntityStore(db *squealx.DB) *SQLEntityStore {
	return &SQLEntityStore{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLEntityStore) withTx(ctx context.Context, fn func(tx *squealx.Tx) error) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func insertAudit(ctx context.Context, tx *squealx.Tx, a *access.PermissionAudit) error {
	if a == nil {
		return nil
	}
	q := `INSERT INTO permission_audit(user_id, permission_code, action, role_code, override_id, reason, performed_by, timestamp)
	      VALUES(:user_id, :permission_code, :action, :role_code, :override_id, :reason, :performed_by, :timestamp)`
	res, err := tx.NamedExecContext(ctx, q, map[string]any{
		"user_id":         a.UserID,
		"permission_code": a.PermissionCode,
		"action":          string(a.Action),
		"role_code":       a.RoleCode,
		"override_id":     a.OverrideID,
		"reason":          a.Reason,
		"performed_by":    nullInt64Param(a.PerformedBy),
		"timestamp":       a.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", access.ErrAuditWrite, err)
	}
	if id, err := res.LastInsertId(); err == nil {
		a.ID = id
	}
	return nil
}

func (s *SQLEntityStore) exists(ctx context.Context, q string, params map[string]any) (bool, error) {
	r, err := s.db.NamedQueryContext(ctx, q, params)
	if err != nil {
		return false, err
	}
	defer r.Close()
	if r.Next() {
		var n int64
		if err := r.Scan(&n); err != nil {
			return false, err
		}
		return n > 0, nil
	}
	return false, nil
}

// ============================================================================
// PERMISSIONS
// ============================================================================

func (s *SQLEntityStore) CreatePermission(ctx context.Context, p *access.Permission) error {
	dup, err := s.exists(ctx, `SELECT COUNT(*) FROM permissions WHERE code = :code`, map[string]any{"code": p.Code})
	if err != nil {
		return err
	}
	if dup {
		return fmt.Errorf("permission %s: %w", p.Code, access.ErrDuplicate)
	}
	q := `INSERT INTO permissions(code, name, description, permission_type, resource_type, department_scope, is_active, is_system, created_at, updated_at)
	      VALUES(:code, :name, :description, :permission_type, :resource_type, :department_scope, :is_active, :is_system, :created_at, :updated_at)`
	_, err = s.db.NamedExecContext(ctx, q, map[string]any{
		"code":             p.Code,
		"name":             p.Name,
		"description":      p.Description,
		"permission_type":  string(p.PermissionType),
		"resource_type":    string(p.ResourceType),
		"department_scope": nullInt64Param(p.DepartmentScope),
		"is_active":        boolToInt(p.IsActive),
		"is_system":        boolToInt(p.IsSystemPermission),
		"created_at":       p.CreatedAt,
		"updated_at":       p.UpdatedAt,
	})
	return err
}

const permissionColumns = `code, name, description, permission_type, resource_type, department_scope, is_active, is_system, created_at, updated_at`

func scanPermission(r rowScanner) (*access.Permission, error) {
	var code, name, description, permType, resType string
	var scopeRaw, createdRaw, updatedRaw interface{}
	var activeInt, systemInt int
	if err := r.Scan(&code, &name, &description, &permType, &resType, &scopeRaw, &activeInt, &systemInt, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	return &access.Permission{
		Code:               code,
		Name:               name,
		Description:        description,
		PermissionType:     access.PermissionType(permType),
		ResourceType:       access.ResourceType(resType),
		DepartmentScope:    scanNullInt64(scopeRaw),
		IsActive:           activeInt != 0,
		IsSystemPermission: systemInt != 0,
		CreatedAt:          scanTime(createdRaw),
		UpdatedAt:          scanTime(updatedRaw),
	}, nil
}

func (s *SQLEntityStore) GetPermission(ctx context.Context, code string) (*access.Permission, error) {
	q := `SELECT ` + permissionColumns + ` FROM permissions WHERE code = :code`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"code": code})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, fmt.Errorf("permission %s: %w", code, access.ErrNotFound)
	}
	return scanPermission(r)
}

func (s *SQLEntityStore) ListPermissions(ctx context.Context) ([]*access.Permission, error) {
	q := `SELECT ` + permissionColumns + ` FROM permissions ORDER BY code`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*access.Permission, 0)
	for r.Next() {
		p, err := scanPermission(r)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// ============================================================================
// ROLES
// ============================================================================

func (s *SQLEntityStore) CreateRole(ctx context.Context, role *access.Role) error {
	dup, err := s.exists(ctx, `SELECT COUNT(*) FROM roles WHERE code = :code`, map[string]any{"code": role.Code})
	if err != nil {
		return err
	}
	if dup {
		return fmt.Errorf("role %s: %w", role.Code, access.ErrDuplicate)
	}
	q := `INSERT INTO roles(code, name, description, role_type, department_id, is_active, is_system, created_at, updated_at)
	      VALUES(:code, :name, :description, :role_type, :department_id, :is_active, :is_system, :created_at, :updated_at)`
	_, err = s.db.NamedExecContext(ctx, q, map[string]any{
		"code":          role.Code,
		"name":          role.Name,
		"description":   role.Description,
		"role_type":     string(role.RoleType),
		"department_id": nullInt64Param(role.DepartmentID),
		"is_active":     boolToInt(role.IsActive),
		"is_system":     boolToInt(role.IsSystemRole),
		"created_at":    role.CreatedAt,
		"updated_at":    role.UpdatedAt,
	})
	return err
}

const roleColumns = `code, name, description, role_type, department_id, is_active, is_system, created_at, updated_at`

func scanRole(r rowScanner) (*access.Role, error) {
	var code, name, description, roleType string
	var deptRaw, createdRaw, updatedRaw interface{}
	var activeInt, systemInt int
	if err := r.Scan(&code, &name, &description, &roleType, &deptRaw, &activeInt, &systemInt, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	return &access.Role{
		Code:         code,
		Name:         name,
		Description:  description,
		RoleType:     access.RoleType(roleType),
		DepartmentID: scanNullInt64(deptRaw),
		IsActive:     activeInt != 0,
		IsSystemRole: systemInt != 0,
		CreatedAt:    scanTime(createdRaw),
		UpdatedAt:    scanTime(updatedRaw),
	}, nil
}

func (s *SQLEntityStore) GetRole(ctx context.Context, code string) (*access.Role, error) {
	q := `SELECT ` + roleColumns + ` FROM roles WHERE code = :code`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"code": code})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, fmt.Errorf("role %s: %w", code, access.ErrNotFound)
	}
	return scanRole(r)
}

func (s *SQLEntityStore) ListRoles(ctx context.Context) ([]*access.Role, error) {
	q := `SELECT ` + roleColumns + ` FROM roles ORDER BY code`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*access.Role, 0)
	for r.Next() {
		role, err := scanRole(r)
		if err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	return out, nil
}

func (s *SQLEntityStore) DeleteRole(ctx context.Context, code string) error {
	return s.withTx(ctx, func(tx *squealx.Tx) error {
		res, err := tx.NamedExecContext(ctx, `DELETE FROM roles WHERE code = :code`, map[string]any{"code": code})
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("role %s: %w", code, access.ErrNotFound)
		}
		_, err = tx.NamedExecContext(ctx, `DELETE FROM role_permissions WHERE role_code = :code`, map[string]any{"code": code})
		return err
	})
}

// ============================================================================
// ROLE PERMISSIONS
// ============================================================================

func (s *SQLEntityStore) AttachPermission(ctx context.Context, rp *access.RolePermission) error {
	roleOK, err := s.exists(ctx, `SELECT COUNT(*) FROM roles WHERE code = :code`, map[string]any{"code": rp.RoleCode})
	if err != nil {
		return err
	}
	if !roleOK {
		return fmt.Errorf("role %s: %w", rp.RoleCode, access.ErrNotFound)
	}
	permOK, err := s.exists(ctx, `SELECT COUNT(*) FROM permissions WHERE code = :code`, map[string]any{"code": rp.PermissionCode})
	if err != nil {
		return err
	}
	if !permOK {
		return fmt.Errorf("permission %s: %w", rp.PermissionCode, access.ErrNotFound)
	}
	dup, err := s.exists(ctx,
		`SELECT COUNT(*) FROM role_permissions WHERE role_code = :role AND permission_code = :permission AND is_active = 1`,
		map[string]any{"role": rp.RoleCode, "permission": rp.PermissionCode})
	if err != nil {
		return err
	}
	if dup {
		return fmt.Errorf("role %s already grants %s: %w", rp.RoleCode, rp.PermissionCode, access.ErrDuplicate)
	}
	condB, _ := json.Marshal(rp.Conditions)
	q := `INSERT INTO role_permissions(role_code, permission_code, conditions_json, is_active, created_at)
	      VALUES(:role_code, :permission_code, :conditions_json, :is_active, :created_at)`
	_, err = s.db.NamedExecContext(ctx, q, map[string]any{
		"role_code":       rp.RoleCode,
		"permission_code": rp.PermissionCode,
		"conditions_json": string(condB),
		"is_active":       boolToInt(rp.IsActive),
		"created_at":      rp.CreatedAt,
	})
	return err
}

func (s *SQLEntityStore) DetachPermission(ctx context.Context, roleCode, permissionCode string) error {
	q := `UPDATE role_permissions SET is_active = 0 WHERE role_code = :role AND permission_code = :permission AND is_active = 1`
	res, err := s.db.NamedExecContext(ctx, q, map[string]any{"role": roleCode, "permission": permissionCode})
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("role %s does not grant %s: %w", roleCode, permissionCode, access.ErrNotFound)
	}
	return nil
}

// RolePermissions returns the active grants whose permission is still active.
func (s *SQLEntityStore) RolePermissions(ctx context.Context, roleCode string) ([]*access.RolePermission, error) {
	q := `SELECT rp.role_code, rp.permission_code, rp.conditions_json, rp.is_active, rp.created_at
	      FROM role_permissions rp
	      JOIN permissions p ON p.code = rp.permission_code
	      WHERE rp.role_code = :role AND rp.is_active = 1 AND p.is_active = 1`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"role": roleCode})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*access.RolePermission, 0)
	for r.Next() {
		rp, err := scanRolePermission(r)
		if err != nil {
			return nil, err
		}
		out = append(out, rp)
	}
	return out, nil
}

func scanRolePermission(r rowScanner) (*access.RolePermission, error) {
	var roleCode, permCode, condJSON string
	var activeInt int
	var createdRaw interface{}
	if err := r.Scan(&roleCode, &permCode, &condJSON, &activeInt, &createdRaw); err != nil {
		return nil, err
	}
	rp := &access.RolePermission{
		RoleCode:       roleCode,
		PermissionCode: permCode,
		IsActive:       activeInt != 0,
		CreatedAt:      scanTime(createdRaw),
	}
	if condJSON != "" && condJSON != "null" && condJSON != "{}" {
		_ = json.Unmarshal([]byte(condJSON), &rp.Conditions)
	}
	return rp, nil
}

func (s *SQLEntityStore) RolesGrantingPermission(ctx context.Context, permissionCode string) ([]string, error) {
	q := `SELECT rp.role_code
	      FROM role_permissions rp
	      JOIN roles ro ON ro.code = rp.role_code
	      WHERE rp.permission_code = :permission AND rp.is_active = 1 AND ro.is_active = 1
	      ORDER BY rp.role_code`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"permission": permissionCode})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]string, 0)
	for r.Next() {
		var code string
		if err := r.Scan(&code); err != nil {
			return nil, err
		}
		out = append(out, code)
	}
	return out, nil
}

// ============================================================================
// USER ROLES
// ============================================================================

func (s *SQLEntityStore) AssignRole(ctx context.Context, ur *access.UserRole, audit *access.PermissionAudit) error {
	roleOK, err := s.exists(ctx, `SELECT COUNT(*) FROM roles WHERE code = :code`, map[string]any{"code": ur.RoleCode})
	if err != nil {
		return err
	}
	if !roleOK {
		return fmt.Errorf("role %s: %w", ur.RoleCode, access.ErrNotFound)
	}
	dup, err := s.exists(ctx,
		`SELECT COUNT(*) FROM user_roles
		 WHERE user_id = :user_id AND role_code = :role_code AND is_active = 1
		 AND ((:department_id IS NULL AND department_id IS NULL) OR department_id = :department_id)`,
		map[string]any{
			"user_id":       ur.UserID,
			"role_code":     ur.RoleCode,
			"department_id": nullInt64Param(ur.DepartmentID),
		})
	if err != nil {
		return err
	}
	if dup {
		return fmt.Errorf("user %d already holds %s: %w", ur.UserID, ur.RoleCode, access.ErrDuplicate)
	}
	condB, _ := json.Marshal(ur.Conditions)
	return s.withTx(ctx, func(tx *squealx.Tx) error {
		q := `INSERT INTO user_roles(user_id, role_code, department_id, start_date, end_date, conditions_json, assigned_by, reason, is_active, created_at, updated_at)
		      VALUES(:user_id, :role_code, :department_id, :start_date, :end_date, :conditions_json, :assigned_by, :reason, :is_active, :created_at, :updated_at)`
		res, err := tx.NamedExecContext(ctx, q, map[string]any{
			"user_id":         ur.UserID,
			"role_code":       ur.RoleCode,
			"department_id":   nullInt64Param(ur.DepartmentID),
			"start_date":      ur.StartDate,
			"end_date":        nullTimeParam(ur.EndDate),
			"conditions_json": string(condB),
			"assigned_by":     nullInt64Param(ur.AssignedBy),
			"reason":          ur.Reason,
			"is_active":       boolToInt(ur.IsActive),
			"created_at":      ur.CreatedAt,
			"updated_at":      ur.UpdatedAt,
		})
		if err != nil {
			// a concurrent assign can slip past the pre-check; the partial
			// unique index on active rows is the backstop
			if isUniqueViolation(err) {
				return fmt.Errorf("user %d already holds %s: %w", ur.UserID, ur.RoleCode, access.ErrDuplicate)
			}
			return err
		}
		if id, err := res.LastInsertId(); err == nil {
			ur.ID = id
		}
		return insertAudit(ctx, tx, audit)
	})
}

func (s *SQLEntityStore) RevokeUserRole(ctx context.Context, userID int64, roleCode string, departmentID *int64, audit *access.PermissionAudit) error {
	return s.withTx(ctx, func(tx *squealx.Tx) error {
		q := `UPDATE user_roles SET is_active = 0, updated_at = :now
		      WHERE user_id = :user_id AND role_code = :role_code AND is_active = 1
		      AND ((:department_id IS NULL AND department_id IS NULL) OR department_id = :department_id)`
		res, err := tx.NamedExecContext(ctx, q, map[string]any{
			"user_id":       userID,
			"role_code":     roleCode,
			"department_id": nullInt64Param(departmentID),
			"now":           time.Now(),
		})
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("assignment of %s to user %d: %w", roleCode, userID, access.ErrNotFound)
		}
		return insertAudit(ctx, tx, audit)
	})
}

const userRoleColumns = `id, user_id, role_code, department_id, start_date, end_date, conditions_json, assigned_by, reason, is_active, created_at, updated_at`

// currentWindowClause selects rows in force at :as_of, both bounds inclusive.
const currentWindowClause = `is_active = 1 AND start_date <= :as_of AND (end_date IS NULL OR end_date >= :as_of)`

func scanUserRole(r rowScanner) (*access.UserRole, error) {
	var id, userID int64
	var roleCode, condJSON, reason string
	var deptRaw, startRaw, endRaw, assignedRaw, createdRaw, updatedRaw interface{}
	var activeInt int
	if err := r.Scan(&id, &userID, &roleCode, &deptRaw, &startRaw, &endRaw, &condJSON, &assignedRaw, &reason, &activeInt, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	ur := &access.UserRole{
		ID:           id,
		UserID:       userID,
		RoleCode:     roleCode,
		DepartmentID: scanNullInt64(deptRaw),
		StartDate:    scanTime(startRaw),
		EndDate:      scanNullTime(endRaw),
		AssignedBy:   scanNullInt64(assignedRaw),
		Reason:       reason,
		IsActive:     activeInt != 0,
		CreatedAt:    scanTime(createdRaw),
		UpdatedAt:    scanTime(updatedRaw),
	}
	if condJSON != "" && condJSON != "null" && condJSON != "{}" {
		_ = json.Unmarshal([]byte(condJSON), &ur.Conditions)
	}
	return ur, nil
}

func (s *SQLEntityStore) ActiveUserRoles(ctx context.Context, userID int64, asOf time.Time) ([]*access.UserRole, error) {
	q := `SELECT ` + userRoleColumns + ` FROM user_roles WHERE user_id = :user_id AND ` + currentWindowClause
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"user_id": userID, "as_of": asOf})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*access.UserRole, 0)
	for r.Next() {
		ur, err := scanUserRole(r)
		if err != nil {
			return nil, err
		}
		out = append(out, ur)
	}
	return out, nil
}

func (s *SQLEntityStore) AssignmentsForRole(ctx context.Context, roleCode string, asOf time.Time) ([]*access.UserRole, error) {
	q := `SELECT ` + userRoleColumns + ` FROM user_roles WHERE role_code = :role_code AND ` + currentWindowClause
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"role_code": roleCode, "as_of": asOf})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*access.UserRole, 0)
	for r.Next() {
		ur, err := scanUserRole(r)
		if err != nil {
			return nil, err
		}
		out = append(out, ur)
	}
	return out, nil
}

func (s *SQLEntityStore) UserDepartments(ctx context.Context, userID int64, asOf time.Time) ([]int64, error) {
	q := `SELECT DISTINCT department_id FROM user_roles
	      WHERE user_id = :user_id AND department_id IS NOT NULL AND ` + currentWindowClause + `
	      ORDER BY department_id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"user_id": userID, "as_of": asOf})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]int64, 0)
	for r.Next() {
		var d int64
		if err := r.Scan(&d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// ============================================================================
// OVERRIDES
// ============================================================================

func (s *SQLEntityStore) GrantOverride(ctx context.Context, o *access.PermissionOverride, audit *access.PermissionAudit) error {
	permOK, err := s.exists(ctx, `SELECT COUNT(*) FROM permissions WHERE code = :code`, map[string]any{"code": o.PermissionCode})
	if err != nil {
		return err
	}
	if !permOK {
		return fmt.Errorf("permission %s: %w", o.PermissionCode, access.ErrNotFound)
	}
	dup, err := s.exists(ctx,
		`SELECT COUNT(*) FROM permission_overrides
		 WHERE user_id = :user_id AND permission_code = :permission_code AND override_type = :override_type AND is_active = 1`,
		map[string]any{
			"user_id":         o.UserID,
			"permission_code": o.PermissionCode,
			"override_type":   string(o.OverrideType),
		})
	if err != nil {
		return err
	}
	if dup {
		return fmt.Errorf("override %s/%s for user %d: %w", o.PermissionCode, o.OverrideType, o.UserID, access.ErrDuplicate)
	}
	return s.withTx(ctx, func(tx *squealx.Tx) error {
		q := `INSERT INTO permission_overrides(user_id, permission_code, override_type, start_date, end_date, reason, granted_by, is_active, created_at, updated_at)
		      VALUES(:user_id, :permission_code, :override_type, :start_date, :end_date, :reason, :granted_by, :is_active, :created_at, :updated_at)`
		res, err := tx.NamedExecContext(ctx, q, map[string]any{
			"user_id":         o.UserID,
			"permission_code": o.PermissionCode,
			"override_type":   string(o.OverrideType),
			"start_date":      o.StartDate,
			"end_date":        nullTimeParam(o.EndDate),
			"reason":          o.Reason,
			"granted_by":      nullInt64Param(o.GrantedBy),
			"is_active":       boolToInt(o.IsActive),
			"created_at":      o.CreatedAt,
			"updated_at":      o.UpdatedAt,
		})
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("override %s/%s for user %d: %w", o.PermissionCode, o.OverrideType, o.UserID, access.ErrDuplicate)
			}
			return err
		}
		if id, err := res.LastInsertId(); err == nil {
			o.ID = id
			if audit != nil {
				audit.OverrideID = id
			}
		}
		return insertAudit(ctx, tx, audit)
	})
}

func (s *SQLEntityStore) RevokeOverride(ctx context.Context, userID int64, permissionCode string, overrideType access.OverrideType, audit *access.PermissionAudit) error {
	return s.withTx(ctx, func(tx *squealx.Tx) error {
		q := `UPDATE permission_overrides SET is_active = 0, updated_at = :now
		      WHERE user_id = :user_id AND permission_code = :permission_code AND override_type = :override_type AND is_active = 1`
		res, err := tx.NamedExecContext(ctx, q, map[string]any{
			"user_id":         userID,
			"permission_code": permissionCode,
			"override_type":   string(overrideType),
			"now":             time.Now(),
		})
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("override %s/%s for user %d: %w", permissionCode, overrideType, userID, access.ErrNotFound)
		}
		return insertAudit(ctx, tx, audit)
	})
}

const overrideColumns = `id, user_id, permission_code, override_type, start_date, end_date, reason, granted_by, is_active, created_at, updated_at`

func scanOverride(r rowScanner) (*access.PermissionOverride, error) {
	var id, userID int64
	var permCode, overrideType, reason string
	var startRaw, endRaw, grantedRaw, createdRaw, updatedRaw interface{}
	var activeInt int
	if err := r.Scan(&id, &userID, &permCode, &overrideType, &startRaw, &endRaw, &reason, &grantedRaw, &activeInt, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	return &access.PermissionOverride{
		ID:             id,
		UserID:         userID,
		PermissionCode: permCode,
		OverrideType:   access.OverrideType(overrideType),
		StartDate:      scanTime(startRaw),
		EndDate:        scanNullTime(endRaw),
		Reason:         reason,
		GrantedBy:      scanNullInt64(grantedRaw),
		IsActive:       activeInt != 0,
		CreatedAt:      scanTime(createdRaw),
		UpdatedAt:      scanTime(updatedRaw),
	}, nil
}

func (s *SQLEntityStore) ActiveOverrides(ctx context.Context, userID int64, asOf time.Time) ([]*access.PermissionOverride, error) {
	q := `SELECT ` + overrideColumns + ` FROM permission_overrides WHERE user_id = :user_id AND ` + currentWindowClause
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"user_id": userID, "as_of": asOf})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*access.PermissionOverride, 0)
	for r.Next() {
		o, err := scanOverride(r)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

func (s *SQLEntityStore) OverridesForPermission(ctx context.Context, permissionCode string, asOf time.Time) ([]*access.PermissionOverride, error) {
	q := `SELECT ` + overrideColumns + ` FROM permission_overrides WHERE permission_code = :permission_code AND ` + currentWindowClause
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"permission_code": permissionCode, "as_of": asOf})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*access.PermissionOverride, 0)
	for r.Next() {
		o, err := scanOverride(r)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}
