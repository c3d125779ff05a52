package access

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryEntityStore keeps all permission state in process memory. It enforces
// the same uniqueness rules as the SQL store and pairs every audited mutation
// with an append to the given AuditStore, reverting the row when the append
// fails. Suitable for tests and single-process deployments.
type MemoryEntityStore struct {
	mu        sync.RWMutex
	perms     map[string]*Permission
	roles     map[string]*Role
	rolePerms map[string][]*RolePermission
	userRoles []*UserRole
	overrides []*PermissionOverride
	nextID    int64
	audit     AuditStore
}

func NewMemoryEntityStore(audit AuditStore) *MemoryEntityStore {
	return &MemoryEntityStore{
		perms:     make(map[string]*Permission),
		roles:     make(map[string]*Role),
		rolePerms: make(map[string][]*RolePermission),
		nextID:    1,
		audit:     audit,
	}
}

func (s *MemoryEntityStore) CreatePermission(_ context.Context, p *Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.perms[p.Code]; exists {
		return fmt.Errorf("permission %s: %w", p.Code, ErrDuplicate)
	}
	cp := *p
	s.perms[p.Code] = &cp
	return nil
}

func (s *MemoryEntityStore) GetPermission(_ context.Context, code string) (*Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.perms[code]
	if !ok {
		return nil, fmt.Errorf("permission %s: %w", code, ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryEntityStore) ListPermissions(_ context.Context) ([]*Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Permission, 0, len(s.perms))
	for _, p := range s.perms {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *MemoryEntityStore) CreateRole(_ context.Context, r *Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.roles[r.Code]; exists {
		return fmt.Errorf("role %s: %w", r.Code, ErrDuplicate)
	}
	cp := *r
	s.roles[r.Code] = &cp
	return nil
}

func (s *MemoryEntityStore) GetRole(_ context.Context, code string) (*Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.roles[code]
	if !ok {
		return nil, fmt.Errorf("role %s: %w", code, ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryEntityStore) ListRoles(_ context.Context) ([]*Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Role, 0, len(s.roles))
	for _, r := range s.roles {
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *MemoryEntityStore) DeleteRole(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[code]; !ok {
		return fmt.Errorf("role %s: %w", code, ErrNotFound)
	}
	delete(s.roles, code)
	delete(s.rolePerms, code)
	return nil
}

func (s *MemoryEntityStore) AttachPermission(_ context.Context, rp *RolePermission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[rp.RoleCode]; !ok {
		return fmt.Errorf("role %s: %w", rp.RoleCode, ErrNotFound)
	}
	if _, ok := s.perms[rp.PermissionCode]; !ok {
		return fmt.Errorf("permission %s: %w", rp.PermissionCode, ErrNotFound)
	}
	for _, existing := range s.rolePerms[rp.RoleCode] {
		if existing.IsActive && existing.PermissionCode == rp.PermissionCode {
			return fmt.Errorf("role %s already grants %s: %w", rp.RoleCode, rp.PermissionCode, ErrDuplicate)
		}
	}
	cp := *rp
	s.rolePerms[rp.RoleCode] = append(s.rolePerms[rp.RoleCode], &cp)
	return nil
}

func (s *MemoryEntityStore) DetachPermission(_ context.Context, roleCode, permissionCode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rp := range s.rolePerms[roleCode] {
		if rp.IsActive && rp.PermissionCode == permissionCode {
			rp.IsActive = false
			return nil
		}
	}
	return fmt.Errorf("role %s does not grant %s: %w", roleCode, permissionCode, ErrNotFound)
}

// RolePermissions returns the active grants of a role whose underlying
// permission is itself still active.
func (s *MemoryEntityStore) RolePermissions(_ context.Context, roleCode string) ([]*RolePermission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*RolePermission
	for _, rp := range s.rolePerms[roleCode] {
		if !rp.IsActive {
			continue
		}
		if p, ok := s.perms[rp.PermissionCode]; !ok || !p.IsActive {
			continue
		}
		cp := *rp
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryEntityStore) RolesGrantingPermission(_ context.Context, permissionCode string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for roleCode, grants := range s.rolePerms {
		role, ok := s.roles[roleCode]
		if !ok || !role.IsActive {
			continue
		}
		for _, rp := range grants {
			if rp.IsActive && rp.PermissionCode == permissionCode {
				out = append(out, roleCode)
				break
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryEntityStore) AssignRole(ctx context.Context, ur *UserRole, audit *PermissionAudit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[ur.RoleCode]; !ok {
		return fmt.Errorf("role %s: %w", ur.RoleCode, ErrNotFound)
	}
	for _, existing := range s.userRoles {
		if existing.IsActive &&
			existing.UserID == ur.UserID &&
			existing.RoleCode == ur.RoleCode &&
			sameDepartment(existing.DepartmentID, ur.DepartmentID) {
			return fmt.Errorf("user %d already holds %s: %w", ur.UserID, ur.RoleCode, ErrDuplicate)
		}
	}
	cp := *ur
	cp.ID = s.nextID
	s.nextID++
	s.userRoles = append(s.userRoles, &cp)
	if err := s.appendAudit(ctx, audit); err != nil {
		s.userRoles = s.userRoles[:len(s.userRoles)-1]
		return err
	}
	ur.ID = cp.ID
	return nil
}

func (s *MemoryEntityStore) RevokeUserRole(ctx context.Context, userID int64, roleCode string, departmentID *int64, audit *PermissionAudit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var revoked []*UserRole
	for _, ur := range s.userRoles {
		if ur.IsActive && ur.UserID == userID && ur.RoleCode == roleCode &&
			sameDepartment(ur.DepartmentID, departmentID) {
			ur.IsActive = false
			revoked = append(revoked, ur)
		}
	}
	if len(revoked) == 0 {
		return fmt.Errorf("assignment of %s to user %d: %w", roleCode, userID, ErrNotFound)
	}
	if err := s.appendAudit(ctx, audit); err != nil {
		for _, ur := range revoked {
			ur.IsActive = true
		}
		return err
	}
	return nil
}

func (s *MemoryEntityStore) ActiveUserRoles(_ context.Context, userID int64, asOf time.Time) ([]*UserRole, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*UserRole
	for _, ur := range s.userRoles {
		if ur.UserID == userID && ur.IsCurrent(asOf) {
			cp := *ur
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryEntityStore) AssignmentsForRole(_ context.Context, roleCode string, asOf time.Time) ([]*UserRole, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*UserRole
	for _, ur := range s.userRoles {
		if ur.RoleCode == roleCode && ur.IsCurrent(asOf) {
			cp := *ur
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryEntityStore) UserDepartments(_ context.Context, userID int64, asOf time.Time) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := map[int64]bool{}
	for _, ur := range s.userRoles {
		if ur.UserID == userID && ur.IsCurrent(asOf) && ur.DepartmentID != nil {
			seen[*ur.DepartmentID] = true
		}
	}
	out := make([]int64, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *MemoryEntityStore) GrantOverride(ctx context.Context, o *PermissionOverride, audit *PermissionAudit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.perms[o.PermissionCode]; !ok {
		return fmt.Errorf("permission %s: %w", o.PermissionCode, ErrNotFound)
	}
	for _, existing := range s.overrides {
		if existing.IsActive &&
			existing.UserID == o.UserID &&
			existing.PermissionCode == o.PermissionCode &&
			existing.OverrideType == o.OverrideType {
			return fmt.Errorf("override %s/%s for user %d: %w", o.PermissionCode, o.OverrideType, o.UserID, ErrDuplicate)
		}
	}
	cp := *o
	cp.ID = s.nextID
	s.nextID++
	s.overrides = append(s.overrides, &cp)
	if audit != nil {
		audit.OverrideID = cp.ID
	}
	if err := s.appendAudit(ctx, audit); err != nil {
		s.overrides = s.overrides[:len(s.overrides)-1]
		return err
	}
	o.ID = cp.ID
	return nil
}

func (s *MemoryEntityStore) RevokeOverride(ctx context.Context, userID int64, permissionCode string, overrideType OverrideType, audit *PermissionAudit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var revoked []*PermissionOverride
	for _, o := range s.overrides {
		if o.IsActive && o.UserID == userID &&
			o.PermissionCode == permissionCode && o.OverrideType == overrideType {
			o.IsActive = false
			revoked = append(revoked, o)
		}
	}
	if len(revoked) == 0 {
		return fmt.Errorf("override %s/%s for user %d: %w", permissionCode, overrideType, userID, ErrNotFound)
	}
	if audit != nil && len(revoked) == 1 {
		audit.OverrideID = revoked[0].ID
	}
	if err := s.appendAudit(ctx, audit); err != nil {
		for _, o := range revoked {
			o.IsActive = true
		}
		return err
	}
	return nil
}

func (s *MemoryEntityStore) ActiveOverrides(_ context.Context, userID int64, asOf time.Time) ([]*PermissionOverride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*PermissionOverride
	for _, o := range s.overrides {
		if o.UserID == userID && o.IsCurrent(asOf) {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryEntityStore) OverridesForPermission(_ context.Context, permissionCode string, asOf time.Time) ([]*PermissionOverride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*PermissionOverride
	for _, o := range s.overrides {
		if o.PermissionCode == permissionCode && o.IsCurrent(asOf) {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryEntityStore) appendAudit(ctx context.Context, audit *PermissionAudit) error {
	if audit == nil || s.audit == nil {
		return nil
	}
	if err := s.audit.Append(ctx, audit); err != nil {
		return fmt.Errorf("%w: %v", ErrAuditWrite, err)
	}
	return nil
}

func sameDepartment(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// ============================================================================
// AUDIT STORE
// ============================================================================

// MemoryAuditStore is an append-only in-memory audit trail.
type MemoryAuditStore struct {
	mu      sync.RWMutex
	entries []*PermissionAudit
	nextID  int64
}

func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{nextID: 1}
}

func (s *MemoryAuditStore) Append(_ context.Context, entry *PermissionAudit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *entry
	cp.ID = s.nextID
	s.nextID++
	s.entries = append(s.entries, &cp)
	entry.ID = cp.ID
	return nil
}

// List returns matching entries, newest first.
func (s *MemoryAuditStore) List(_ context.Context, filter AuditFilter) ([]*PermissionAudit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*PermissionAudit
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if filter.UserID != 0 && e.UserID != filter.UserID {
			continue
		}
		if filter.PermissionCode != "" && e.PermissionCode != filter.PermissionCode {
			continue
		}
		if filter.Action != "" && e.Action != filter.Action {
			continue
		}
		if !filter.StartTime.IsZero() && e.Timestamp.Before(filter.StartTime) {
			continue
		}
		if !filter.EndTime.IsZero() && e.Timestamp.After(filter.EndTime) {
			continue
		}
		cp := *e
		out = append(out, &cp)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// ============================================================================
// SETTING STORE
// ============================================================================

// MemorySettingStore keeps system settings in a map.
type MemorySettingStore struct {
	mu       sync.RWMutex
	settings map[string]*Setting
}

func NewMemorySettingStore() *MemorySettingStore {
	return &MemorySettingStore{settings: make(map[string]*Setting)}
}

func (s *MemorySettingStore) GetSetting(_ context.Context, key string) (*Setting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.settings[key]
	if !ok || !st.IsActive {
		return nil, fmt.Errorf("setting %s: %w", key, ErrNotFound)
	}
	cp := *st
	return &cp, nil
}

func (s *MemorySettingStore) PutSetting(_ context.Context, st *Setting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *st
	s.settings[st.Key] = &cp
	return nil
}
