package access

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/hrkit/access/logger"
	"github.com/hrkit/access/utils"
)

// ResolveOptions selects what the resolution pass considers. Both flags
// default to true; callers that want the raw role-derived set (reporting,
// diffing) can switch either off. The flags are part of the cache key.
type ResolveOptions struct {
	IncludeOverrides  bool
	IncludeConditions bool
}

// DefaultResolveOptions is what every permission check uses.
func DefaultResolveOptions() ResolveOptions {
	return ResolveOptions{IncludeOverrides: true, IncludeConditions: true}
}

// Engine computes effective permission sets by merging role-derived grants
// with per-user overrides, memoizing results in a ResolutionCache.
//
// Reads never block each other and never touch the audit trail. Mutations go
// through the EntityStore, which commits the row and its audit record
// atomically; the engine then invalidates every cache variant for the
// affected user before returning.
type Engine struct {
	store    EntityStore
	audit    AuditStore
	cache    ResolutionCache
	logger   logger.Logger
	cacheTTL time.Duration
	now      func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine) error

// WithCache installs a ResolutionCache (memory, ristretto, redis, ...).
func WithCache(c ResolutionCache) EngineOption {
	return func(e *Engine) error {
		e.cache = c
		return nil
	}
}

// WithRistrettoCache replaces the default in-memory cache with a
// ristretto-backed one.
func WithRistrettoCache(numCounters, maxCost, bufferItems int64) EngineOption {
	return func(e *Engine) error {
		c, err := NewRistrettoCache(numCounters, maxCost, bufferItems)
		if err != nil {
			return err
		}
		e.cache = c
		return nil
	}
}

// WithLogger installs a Logger on the Engine.
func WithLogger(l logger.Logger) EngineOption {
	return func(e *Engine) error {
		e.logger = l
		return nil
	}
}

// WithCacheTTL overrides the default 5-minute memoization window.
func WithCacheTTL(ttl time.Duration) EngineOption {
	return func(e *Engine) error {
		e.cacheTTL = ttl
		return nil
	}
}

// WithClock overrides the engine clock. Temporal-boundary tests use this.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) error {
		e.now = now
		return nil
	}
}

// DefaultCacheTTL bounds how stale a memoized permission set can get when an
// invalidation is missed (external cache backends are best-effort).
const DefaultCacheTTL = 300 * time.Second

func NewEngine(store EntityStore, audit AuditStore, opts ...EngineOption) (*Engine, error) {
	e := &Engine{
		store:    store,
		audit:    audit,
		cache:    NewMemoryResolutionCache(),
		logger:   logger.NewPhusluLogger(),
		cacheTTL: DefaultCacheTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// ============================================================================
// RESOLUTION
// ============================================================================

// GetUserPermissions returns the effective permission set for the caller,
// served from cache when a resolution younger than the TTL exists.
// Unauthenticated callers get an empty set without a store round-trip.
func (e *Engine) GetUserPermissions(ctx context.Context, id Identity, opts ResolveOptions) (*PermissionSet, error) {
	if id == nil || !id.IsAuthenticated() {
		return NewPermissionSet(e.now()), nil
	}
	key := ResolutionKey{
		UserID:            id.UserID(),
		IncludeOverrides:  opts.IncludeOverrides,
		IncludeConditions: opts.IncludeConditions,
	}
	if set, ok := e.cache.Get(key); ok {
		return set, nil
	}
	set, err := e.resolve(ctx, id.UserID(), opts, e.now(), nil)
	if err != nil {
		return nil, err
	}
	e.cache.Set(key, set, e.cacheTTL)
	return set, nil
}

// ResolveWithContext computes the set against request-supplied context
// values (generic key/value condition inputs). The result is never cached:
// it depends on more than (user, flags).
func (e *Engine) ResolveWithContext(ctx context.Context, id Identity, opts ResolveOptions, rc *RequestContext) (*PermissionSet, error) {
	if id == nil || !id.IsAuthenticated() {
		return NewPermissionSet(e.now()), nil
	}
	at := e.now()
	var values map[string]any
	if rc != nil {
		if !rc.At.IsZero() {
			at = rc.At
		}
		values = rc.Values
	}
	return e.resolve(ctx, id.UserID(), opts, at, values)
}

// resolve builds the set from scratch: role-derived grants first, then
// overrides. Deny overrides are applied before grant overrides, so a
// simultaneous deny+grant for the same code nets to granted — an explicit
// override outranks role defaults, and the grant supersedes the deny.
// Changing that order changes authorization outcomes; see the engine tests.
func (e *Engine) resolve(ctx context.Context, userID int64, opts ResolveOptions, at time.Time, values map[string]any) (*PermissionSet, error) {
	set := NewPermissionSet(at)

	userRoles, err := e.store.ActiveUserRoles(ctx, userID, at)
	if err != nil {
		return nil, fmt.Errorf("load user roles: %w", err)
	}
	perms := map[string]*Permission{}
	for _, ur := range userRoles {
		grants, err := e.store.RolePermissions(ctx, ur.RoleCode)
		if err != nil {
			return nil, fmt.Errorf("load role permissions for %s: %w", ur.RoleCode, err)
		}
		rc := &RequestContext{DepartmentID: ur.DepartmentID, At: at, Values: values}
		for _, rp := range grants {
			if opts.IncludeConditions {
				perm, ok := perms[rp.PermissionCode]
				if !ok {
					perm, err = e.store.GetPermission(ctx, rp.PermissionCode)
					if err != nil {
						return nil, fmt.Errorf("load permission %s: %w", rp.PermissionCode, err)
					}
					perms[rp.PermissionCode] = perm
				}
				if !perm.IsActive {
					continue
				}
				if !e.conditionsPass(rp.Conditions, rc, perm.DepartmentScope) {
					continue
				}
				if len(ur.Conditions) > 0 && !e.conditionsPass(ur.Conditions, rc, nil) {
					continue
				}
			}
			set.add(rp.PermissionCode, Provenance{
				Source:       SourceRole,
				RoleCode:     ur.RoleCode,
				DepartmentID: ur.DepartmentID,
			})
		}
	}

	if opts.IncludeOverrides {
		overrides, err := e.store.ActiveOverrides(ctx, userID, at)
		if err != nil {
			return nil, fmt.Errorf("load overrides: %w", err)
		}
		// deny pass, then grant pass
		for _, o := range overrides {
			if o.OverrideType == OverrideDeny {
				set.remove(o.PermissionCode)
			}
		}
		for _, o := range overrides {
			if o.OverrideType == OverrideGrant {
				set.add(o.PermissionCode, Provenance{
					Source:       SourceOverride,
					OverrideType: OverrideGrant,
				})
			}
		}
	}

	return set, nil
}

// conditionsPass evaluates a stored conditions map plus the permission's
// department scope against the grant context. The scope comparison binds
// whenever the scope is set, even with an empty conditions map. A malformed
// map denies and is logged; a broken condition must never crash a check.
func (e *Engine) conditionsPass(conds map[string]any, rc *RequestContext, scope *int64) bool {
	if scope != nil && !(&DepartmentScope{DepartmentID: *scope}).Evaluate(rc) {
		return false
	}
	if len(conds) == 0 {
		return true
	}
	cs, err := ParseConditionSet(conds)
	if err != nil {
		e.logger.Error("malformed condition map, denying", "error", err.Error())
		return false
	}
	return cs.Evaluate(rc)
}

// ============================================================================
// QUERY SURFACE
// ============================================================================

// HasPermission checks a single permission code. Superusers always pass;
// unauthenticated callers always fail, both without touching the store.
func (e *Engine) HasPermission(ctx context.Context, id Identity, code string) (bool, error) {
	return e.HasPermissionOn(ctx, id, code, "", "")
}

// HasPermissionOn checks a permission code, optionally against a concrete
// resource. Membership is tested in order: the exact code, the wildcard form
// "<code>_*", and — when a resource id is given — the resource-qualified
// form "<code>_<resourceType>_<resourceID>".
func (e *Engine) HasPermissionOn(ctx context.Context, id Identity, code string, resourceType ResourceType, resourceID string) (bool, error) {
	if id == nil || !id.IsAuthenticated() {
		return false, nil
	}
	if id.IsSuperuser() {
		return true, nil
	}
	set, err := e.GetUserPermissions(ctx, id, DefaultResolveOptions())
	if err != nil {
		return false, err
	}
	if set.Has(code) {
		return true, nil
	}
	if set.Has(code + "_*") {
		return true, nil
	}
	if resourceType != "" && resourceID != "" {
		if set.Has(fmt.Sprintf("%s_%s_%s", code, resourceType, resourceID)) {
			return true, nil
		}
	}
	return false, nil
}

// HasAnyPermission reports whether at least one of the codes is granted.
func (e *Engine) HasAnyPermission(ctx context.Context, id Identity, codes ...string) (bool, error) {
	for _, code := range codes {
		ok, err := e.HasPermission(ctx, id, code)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// HasAllPermissions reports whether every code is granted.
func (e *Engine) HasAllPermissions(ctx context.Context, id Identity, codes ...string) (bool, error) {
	for _, code := range codes {
		ok, err := e.HasPermission(ctx, id, code)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// GetUsersWithPermission returns the ids of all users whose current role
// assignments grant the code or who hold a current grant override. Override
// precedence matches resolution: the deny pass runs first, so a user holding
// both a grant and a deny override for the code is included. The role pass
// does not evaluate per-grant conditions or the permission's department
// scope, so conditioned or scoped grants can list users a HasPermission call
// would deny at that instant. Used by notification fan-out and approval
// routing; callers needing an exact answer verify per user.
func (e *Engine) GetUsersWithPermission(ctx context.Context, code string) ([]int64, error) {
	at := e.now()
	users := map[int64]bool{}

	roles, err := e.store.RolesGrantingPermission(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("load granting roles: %w", err)
	}
	for _, roleCode := range roles {
		assignments, err := e.store.AssignmentsForRole(ctx, roleCode, at)
		if err != nil {
			return nil, fmt.Errorf("load assignments for %s: %w", roleCode, err)
		}
		for _, ur := range assignments {
			users[ur.UserID] = true
		}
	}

	overrides, err := e.store.OverridesForPermission(ctx, code, at)
	if err != nil {
		return nil, fmt.Errorf("load overrides: %w", err)
	}
	for _, o := range overrides {
		if o.OverrideType == OverrideDeny {
			delete(users, o.UserID)
		}
	}
	for _, o := range overrides {
		if o.OverrideType == OverrideGrant {
			users[o.UserID] = true
		}
	}

	out := make([]int64, 0, len(users))
	for uid := range users {
		out = append(out, uid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// FilterByDepartmentAccess returns the subset of departmentIDs the caller may
// read: everything for superusers and holders of a global department read
// permission, otherwise the departments of the caller's current role
// assignments plus any department granted resource-specifically.
func (e *Engine) FilterByDepartmentAccess(ctx context.Context, id Identity, departmentIDs []int64) ([]int64, error) {
	if id == nil || !id.IsAuthenticated() {
		return nil, nil
	}
	if id.IsSuperuser() {
		return append([]int64(nil), departmentIDs...), nil
	}
	set, err := e.GetUserPermissions(ctx, id, DefaultResolveOptions())
	if err != nil {
		return nil, err
	}
	globalCode := fmt.Sprintf("%s_%s", PermTypeRead, ResourceDepartment)
	if set.Has(globalCode) || set.Has(globalCode+"_*") {
		return append([]int64(nil), departmentIDs...), nil
	}
	member, err := e.store.UserDepartments(ctx, id.UserID(), e.now())
	if err != nil {
		return nil, fmt.Errorf("load user departments: %w", err)
	}
	memberSet := map[int64]bool{}
	for _, d := range member {
		memberSet[d] = true
	}
	out := make([]int64, 0, len(departmentIDs))
	for _, d := range departmentIDs {
		if memberSet[d] || set.Has(fmt.Sprintf("%s_%d", globalCode, d)) {
			out = append(out, d)
		}
	}
	return out, nil
}

// PermissionsForResource lists the caller's granted codes that mention the
// resource type (and id, when given), wildcard-aware.
func (e *Engine) PermissionsForResource(ctx context.Context, id Identity, resourceType ResourceType, resourceID string) ([]string, error) {
	set, err := e.GetUserPermissions(ctx, id, DefaultResolveOptions())
	if err != nil {
		return nil, err
	}
	pattern := "*_" + string(resourceType)
	if resourceID != "" {
		pattern = pattern + "_" + resourceID
	}
	out := make([]string, 0)
	for _, code := range set.Codes() {
		if utils.MatchCode(code, pattern) || utils.MatchCode(code, pattern+"_*") {
			out = append(out, code)
		}
	}
	return out, nil
}

// AuditTrail exposes the append-only mutation log to reporting collaborators.
func (e *Engine) AuditTrail(ctx context.Context, filter AuditFilter) ([]*PermissionAudit, error) {
	return e.audit.List(ctx, filter)
}

// ============================================================================
// MUTATIONS
// ============================================================================

// CreatePermission registers a new permission definition.
func (e *Engine) CreatePermission(ctx context.Context, p *Permission) error {
	if err := p.Validate(); err != nil {
		return err
	}
	now := e.now()
	p.CreatedAt, p.UpdatedAt = now, now
	if err := e.store.CreatePermission(ctx, p); err != nil {
		return err
	}
	e.logger.Info("permission created", "code", p.Code, "resource", string(p.ResourceType))
	return nil
}

// CreateRole registers a new role.
func (e *Engine) CreateRole(ctx context.Context, r *Role) error {
	if err := r.Validate(); err != nil {
		return err
	}
	now := e.now()
	r.CreatedAt, r.UpdatedAt = now, now
	if err := e.store.CreateRole(ctx, r); err != nil {
		return err
	}
	e.logger.Info("role created", "code", r.Code, "type", string(r.RoleType))
	return nil
}

// DeleteRole removes a role definition. System roles are immutable.
func (e *Engine) DeleteRole(ctx context.Context, code string) error {
	role, err := e.store.GetRole(ctx, code)
	if err != nil {
		return err
	}
	if role.IsSystemRole {
		return ErrSystemRole
	}
	if err := e.store.DeleteRole(ctx, code); err != nil {
		return err
	}
	e.logger.Info("role deleted", "code", code)
	return nil
}

// AttachPermission grants a permission to a role, optionally conditioned.
// Holders of the role pick the grant up on their next resolution; the cache
// TTL bounds the delay, so the attach also cannot be relied on to take effect
// instantly for already-cached users.
func (e *Engine) AttachPermission(ctx context.Context, rp *RolePermission) error {
	rp.IsActive = true
	rp.CreatedAt = e.now()
	if err := e.store.AttachPermission(ctx, rp); err != nil {
		return err
	}
	e.logger.Info("permission attached", "role", rp.RoleCode, "permission", rp.PermissionCode)
	return nil
}

// AssignRole gives a user a role, optionally bounded to a department and a
// validity window. The assignment row and its audit record commit together;
// every cache variant for the user is invalidated before returning.
func (e *Engine) AssignRole(ctx context.Context, actor Identity, ur *UserRole) error {
	if ur.RoleCode == "" {
		return invalidf("role code is required")
	}
	now := e.now()
	if ur.StartDate.IsZero() {
		ur.StartDate = now
	}
	ur.IsActive = true
	ur.CreatedAt, ur.UpdatedAt = now, now
	if actor != nil {
		performedBy := actor.UserID()
		ur.AssignedBy = &performedBy
	}
	audit := &PermissionAudit{
		UserID:      ur.UserID,
		Action:      AuditRoleAssigned,
		RoleCode:    ur.RoleCode,
		Reason:      ur.Reason,
		PerformedBy: ur.AssignedBy,
		Timestamp:   now,
	}
	if err := e.store.AssignRole(ctx, ur, audit); err != nil {
		return err
	}
	e.invalidateUser(ur.UserID)
	e.logger.Info("role assigned", "user", ur.UserID, "role", ur.RoleCode)
	return nil
}

// RevokeRole deactivates a user's role assignment. Terminal: re-granting the
// role means creating a fresh assignment row.
func (e *Engine) RevokeRole(ctx context.Context, actor Identity, userID int64, roleCode string, departmentID *int64, reason string) error {
	now := e.now()
	audit := &PermissionAudit{
		UserID:      userID,
		Action:      AuditRoleRemoved,
		RoleCode:    roleCode,
		Reason:      reason,
		PerformedBy: actorID(actor),
		Timestamp:   now,
	}
	if err := e.store.RevokeUserRole(ctx, userID, roleCode, departmentID, audit); err != nil {
		return err
	}
	e.invalidateUser(userID)
	e.logger.Info("role revoked", "user", userID, "role", roleCode)
	return nil
}

// GrantOverride creates a per-user grant/deny exception. Exactly one audit
// record is written, in the same transaction as the override row.
func (e *Engine) GrantOverride(ctx context.Context, actor Identity, o *PermissionOverride) error {
	if err := o.Validate(); err != nil {
		return err
	}
	now := e.now()
	if o.StartDate.IsZero() {
		o.StartDate = now
	}
	o.IsActive = true
	o.CreatedAt, o.UpdatedAt = now, now
	o.GrantedBy = actorID(actor)
	audit := &PermissionAudit{
		UserID:         o.UserID,
		PermissionCode: o.PermissionCode,
		Action:         AuditOverrideGranted,
		Reason:         o.Reason,
		PerformedBy:    o.GrantedBy,
		Timestamp:      now,
	}
	if err := e.store.GrantOverride(ctx, o, audit); err != nil {
		return err
	}
	e.invalidateUser(o.UserID)
	e.logger.Info("override granted",
		"user", o.UserID, "permission", o.PermissionCode, "type", string(o.OverrideType))
	return nil
}

// RevokeOverride deactivates an override. Terminal and irreversible: the
// override can only be re-established as a new row.
func (e *Engine) RevokeOverride(ctx context.Context, actor Identity, userID int64, permissionCode string, overrideType OverrideType, reason string) error {
	audit := &PermissionAudit{
		UserID:         userID,
		PermissionCode: permissionCode,
		Action:         AuditOverrideRevoked,
		Reason:         reason,
		PerformedBy:    actorID(actor),
		Timestamp:      e.now(),
	}
	if err := e.store.RevokeOverride(ctx, userID, permissionCode, overrideType, audit); err != nil {
		return err
	}
	e.invalidateUser(userID)
	e.logger.Info("override revoked",
		"user", userID, "permission", permissionCode, "type", string(overrideType))
	return nil
}

// InvalidateUser drops every memoized set for a user. Exposed for
// collaborators that mutate permission state out of band (bulk import).
func (e *Engine) InvalidateUser(userID int64) {
	e.invalidateUser(userID)
}

func (e *Engine) invalidateUser(userID int64) {
	for _, key := range keyVariants(userID) {
		e.cache.Delete(key)
	}
}

func actorID(actor Identity) *int64 {
	if actor == nil {
		return nil
	}
	id := actor.UserID()
	return &id
}
