package stores

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/hrkit/access"
	"github.com/oarkflow/squealx"
	_ "modernc.org/sqlite"
)

func newTestDB(t *testing.T) *squealx.DB {
	t.Helper()
	sqlDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })
	db := squealx.NewDb(sqlDB, "sqlite", "testdb")
	if err := Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedCatalogue(t *testing.T, store *SQLEntityStore) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	perm := &access.Permission{
		Code: "read_evaluation", Name: "Read evaluations",
		PermissionType: access.PermTypeRead, ResourceType: access.ResourceEvaluation,
		IsActive: true, CreatedAt: now, UpdatedAt: now,
	}
	if err := store.CreatePermission(ctx, perm); err != nil {
		t.Fatalf("create permission: %v", err)
	}
	role := &access.Role{
		Code: "reviewer", Name: "Reviewer", RoleType: access.RoleTypeSystem,
		IsActive: true, CreatedAt: now, UpdatedAt: now,
	}
	if err := store.CreateRole(ctx, role); err != nil {
		t.Fatalf("create role: %v", err)
	}
	rp := &access.RolePermission{RoleCode: "reviewer", PermissionCode: "read_evaluation", IsActive: true, CreatedAt: now}
	if err := store.AttachPermission(ctx, rp); err != nil {
		t.Fatalf("attach permission: %v", err)
	}
}

func TestSQLEntityStoreCatalogueRoundtrip(t *testing.T) {
	ctx := context.Background()
	store := NewSQLEntityStore(newTestDB(t))
	seedCatalogue(t, store)

	perm, err := store.GetPermission(ctx, "read_evaluation")
	if err != nil {
		t.Fatalf("get permission: %v", err)
	}
	if perm.PermissionType != access.PermTypeRead || !perm.IsActive {
		t.Fatalf("unexpected permission %+v", perm)
	}

	if _, err := store.GetPermission(ctx, "ghost"); !errors.Is(err, access.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.CreatePermission(ctx, perm); !errors.Is(err, access.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	grants, err := store.RolePermissions(ctx, "reviewer")
	if err != nil {
		t.Fatalf("role permissions: %v", err)
	}
	if len(grants) != 1 || grants[0].PermissionCode != "read_evaluation" {
		t.Fatalf("unexpected grants %+v", grants)
	}

	roles, err := store.RolesGrantingPermission(ctx, "read_evaluation")
	if err != nil {
		t.Fatalf("granting roles: %v", err)
	}
	if len(roles) != 1 || roles[0] != "reviewer" {
		t.Fatalf("unexpected roles %v", roles)
	}
}

func TestSQLEntityStoreGrantConditionsRoundtrip(t *testing.T) {
	ctx := context.Background()
	store := NewSQLEntityStore(newTestDB(t))
	seedCatalogue(t, store)

	now := time.Now().UTC()
	_ = store.CreatePermission(ctx, &access.Permission{
		Code: "export_analytics", Name: "Export analytics",
		PermissionType: access.PermTypeExport, ResourceType: access.ResourceAnalytics,
		IsActive: true, CreatedAt: now, UpdatedAt: now,
	})
	rp := &access.RolePermission{
		RoleCode: "reviewer", PermissionCode: "export_analytics", IsActive: true, CreatedAt: now,
		Conditions: map[string]any{
			"time_restrictions": map[string]any{"start_time": "09:00", "end_time": "17:00"},
		},
	}
	if err := store.AttachPermission(ctx, rp); err != nil {
		t.Fatalf("attach: %v", err)
	}

	grants, _ := store.RolePermissions(ctx, "reviewer")
	var found *access.RolePermission
	for _, g := range grants {
		if g.PermissionCode == "export_analytics" {
			found = g
		}
	}
	if found == nil || found.Conditions == nil {
		t.Fatalf("expected conditions to survive the roundtrip, got %+v", found)
	}
	if _, ok := found.Conditions["time_restrictions"]; !ok {
		t.Fatalf("missing time_restrictions clause: %+v", found.Conditions)
	}
}

func TestSQLEntityStoreAssignmentLifecycle(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	store := NewSQLEntityStore(db)
	audit := NewSQLAuditStore(db)
	seedCatalogue(t, store)

	now := time.Now().UTC().Truncate(time.Second)
	performer := int64(50)
	ur := &access.UserRole{
		UserID: 1, RoleCode: "reviewer", StartDate: now.Add(-time.Hour),
		IsActive: true, CreatedAt: now, UpdatedAt: now, AssignedBy: &performer,
	}
	rec := &access.PermissionAudit{
		UserID: 1, Action: access.AuditRoleAssigned, RoleCode: "reviewer",
		PerformedBy: &performer, Timestamp: now,
	}
	if err := store.AssignRole(ctx, ur, rec); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if ur.ID == 0 {
		t.Fatalf("expected assignment id set from insert")
	}

	// the audit record committed in the same transaction
	entries, err := audit.List(ctx, access.AuditFilter{UserID: 1})
	if err != nil {
		t.Fatalf("audit list: %v", err)
	}
	if len(entries) != 1 || entries[0].Action != access.AuditRoleAssigned {
		t.Fatalf("unexpected audit trail %+v", entries)
	}

	active, err := store.ActiveUserRoles(ctx, 1, now)
	if err != nil {
		t.Fatalf("active roles: %v", err)
	}
	if len(active) != 1 || active[0].RoleCode != "reviewer" {
		t.Fatalf("unexpected active roles %+v", active)
	}

	dup := &access.UserRole{UserID: 1, RoleCode: "reviewer", StartDate: now, IsActive: true, CreatedAt: now, UpdatedAt: now}
	if err := store.AssignRole(ctx, dup, nil); !errors.Is(err, access.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	revokeRec := &access.PermissionAudit{UserID: 1, Action: access.AuditRoleRemoved, RoleCode: "reviewer", Timestamp: now}
	if err := store.RevokeUserRole(ctx, 1, "reviewer", nil, revokeRec); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	active, _ = store.ActiveUserRoles(ctx, 1, now)
	if len(active) != 0 {
		t.Fatalf("expected no active roles after revoke, got %+v", active)
	}
	if err := store.RevokeUserRole(ctx, 1, "reviewer", nil, nil); !errors.Is(err, access.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second revoke, got %v", err)
	}
}

func TestSQLEntityStoreTemporalFilter(t *testing.T) {
	ctx := context.Background()
	store := NewSQLEntityStore(newTestDB(t))
	seedCatalogue(t, store)

	now := time.Now().UTC().Truncate(time.Second)
	past := now.Add(-48 * time.Hour)
	yesterday := now.Add(-24 * time.Hour)
	tomorrow := now.Add(24 * time.Hour)

	// expired window
	expired := &access.UserRole{UserID: 2, RoleCode: "reviewer", StartDate: past, EndDate: &yesterday, IsActive: true, CreatedAt: now, UpdatedAt: now}
	if err := store.AssignRole(ctx, expired, nil); err != nil {
		t.Fatalf("assign expired: %v", err)
	}
	active, _ := store.ActiveUserRoles(ctx, 2, now)
	if len(active) != 0 {
		t.Fatalf("expected expired assignment filtered out")
	}

	// future window
	future := &access.UserRole{UserID: 3, RoleCode: "reviewer", StartDate: tomorrow, IsActive: true, CreatedAt: now, UpdatedAt: now}
	if err := store.AssignRole(ctx, future, nil); err != nil {
		t.Fatalf("assign future: %v", err)
	}
	active, _ = store.ActiveUserRoles(ctx, 3, now)
	if len(active) != 0 {
		t.Fatalf("expected future assignment filtered out")
	}

	// end date exactly now still counts
	boundary := &access.UserRole{UserID: 4, RoleCode: "reviewer", StartDate: past, EndDate: &now, IsActive: true, CreatedAt: now, UpdatedAt: now}
	if err := store.AssignRole(ctx, boundary, nil); err != nil {
		t.Fatalf("assign boundary: %v", err)
	}
	active, _ = store.ActiveUserRoles(ctx, 4, now)
	if len(active) != 1 {
		t.Fatalf("expected assignment ending exactly now to count")
	}
}

func TestSQLEntityStoreDepartments(t *testing.T) {
	ctx := context.Background()
	store := NewSQLEntityStore(newTestDB(t))
	seedCatalogue(t, store)

	now := time.Now().UTC().Truncate(time.Second)
	d2, d3 := int64(2), int64(3)
	for _, dept := range []*int64{&d2, &d3, nil} {
		ur := &access.UserRole{UserID: 5, RoleCode: "reviewer", DepartmentID: dept, StartDate: now.Add(-time.Hour), IsActive: true, CreatedAt: now, UpdatedAt: now}
		if err := store.AssignRole(ctx, ur, nil); err != nil {
			t.Fatalf("assign dept %v: %v", dept, err)
		}
	}

	depts, err := store.UserDepartments(ctx, 5, now)
	if err != nil {
		t.Fatalf("user departments: %v", err)
	}
	if len(depts) != 2 || depts[0] != 2 || depts[1] != 3 {
		t.Fatalf("expected [2 3], got %v", depts)
	}

	// revoking the department-less assignment leaves the scoped ones alone
	if err := store.RevokeUserRole(ctx, 5, "reviewer", nil, nil); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	roles, _ := store.ActiveUserRoles(ctx, 5, now)
	if len(roles) != 2 {
		t.Fatalf("expected 2 scoped assignments to survive, got %d", len(roles))
	}
}

func TestSQLEntityStoreOverrides(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	store := NewSQLEntityStore(db)
	audit := NewSQLAuditStore(db)
	seedCatalogue(t, store)

	now := time.Now().UTC().Truncate(time.Second)
	o := &access.PermissionOverride{
		UserID: 6, PermissionCode: "read_evaluation", OverrideType: access.OverrideDeny,
		StartDate: now.Add(-time.Hour), Reason: "investigation",
		IsActive: true, CreatedAt: now, UpdatedAt: now,
	}
	rec := &access.PermissionAudit{UserID: 6, PermissionCode: "read_evaluation", Action: access.AuditOverrideGranted, Reason: "investigation", Timestamp: now}
	if err := store.GrantOverride(ctx, o, rec); err != nil {
		t.Fatalf("grant override: %v", err)
	}
	if o.ID == 0 || rec.OverrideID != o.ID {
		t.Fatalf("expected audit record linked to override row, id=%d link=%d", o.ID, rec.OverrideID)
	}

	missing := &access.PermissionOverride{UserID: 6, PermissionCode: "ghost", OverrideType: access.OverrideDeny, StartDate: now, Reason: "x", IsActive: true, CreatedAt: now, UpdatedAt: now}
	if err := store.GrantOverride(ctx, missing, nil); !errors.Is(err, access.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown permission, got %v", err)
	}

	dup := &access.PermissionOverride{UserID: 6, PermissionCode: "read_evaluation", OverrideType: access.OverrideDeny, StartDate: now, Reason: "again", IsActive: true, CreatedAt: now, UpdatedAt: now}
	if err := store.GrantOverride(ctx, dup, nil); !errors.Is(err, access.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	list, err := store.ActiveOverrides(ctx, 6, now)
	if err != nil {
		t.Fatalf("active overrides: %v", err)
	}
	if len(list) != 1 || list[0].OverrideType != access.OverrideDeny {
		t.Fatalf("unexpected overrides %+v", list)
	}

	byPerm, _ := store.OverridesForPermission(ctx, "read_evaluation", now)
	if len(byPerm) != 1 || byPerm[0].UserID != 6 {
		t.Fatalf("unexpected overrides by permission %+v", byPerm)
	}

	if err := store.RevokeOverride(ctx, 6, "read_evaluation", access.OverrideDeny, &access.PermissionAudit{
		UserID: 6, PermissionCode: "read_evaluation", Action: access.AuditOverrideRevoked, Reason: "cleared", Timestamp: now,
	}); err != nil {
		t.Fatalf("revoke override: %v", err)
	}
	list, _ = store.ActiveOverrides(ctx, 6, now)
	if len(list) != 0 {
		t.Fatalf("expected no overrides after revoke")
	}

	entries, _ := audit.List(ctx, access.AuditFilter{UserID: 6})
	if len(entries) != 2 {
		t.Fatalf("expected 2 audit records, got %d", len(entries))
	}
}

func TestSQLEntityStoreWorksWithEngine(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	store := NewSQLEntityStore(db)
	audit := NewSQLAuditStore(db)
	seedCatalogue(t, store)

	eng, err := access.NewEngine(store, audit)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if err := eng.AssignRole(ctx, testUser(50), &access.UserRole{UserID: 7, RoleCode: "reviewer"}); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if ok, _ := eng.HasPermission(ctx, testUser(7), "read_evaluation"); !ok {
		t.Fatalf("expected SQL-backed grant to resolve")
	}
	if err := eng.RevokeRole(ctx, testUser(50), 7, "reviewer", nil, "done"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if ok, _ := eng.HasPermission(ctx, testUser(7), "read_evaluation"); ok {
		t.Fatalf("expected revoke to take effect")
	}
}

func testUser(id int64) access.User {
	return access.User{ID: id, Authenticated: true}
}

func TestSQLEntityStoreUniqueConstraints(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	store := NewSQLEntityStore(db)
	seedCatalogue(t, store)

	now := time.Now().UTC().Truncate(time.Second)
	ur := &access.UserRole{UserID: 8, RoleCode: "reviewer", StartDate: now.Add(-time.Hour), IsActive: true, CreatedAt: now, UpdatedAt: now}
	if err := store.AssignRole(ctx, ur, nil); err != nil {
		t.Fatalf("assign: %v", err)
	}

	// an insert that bypasses the application-level check, as a racing
	// writer would, hits the partial unique index
	rawAssign := `INSERT INTO user_roles(user_id, role_code, department_id, start_date, end_date, conditions_json, assigned_by, reason, is_active, created_at, updated_at)
	              VALUES(:user_id, :role_code, NULL, :start, NULL, '{}', NULL, '', 1, :now, :now)`
	if _, err := db.NamedExecContext(ctx, rawAssign, map[string]any{"user_id": int64(8), "role_code": "reviewer", "start": now, "now": now}); !isUniqueViolation(err) {
		t.Fatalf("expected unique violation on duplicate active assignment, got %v", err)
	}

	// a different department is a different row
	d4 := int64(4)
	scoped := &access.UserRole{UserID: 8, RoleCode: "reviewer", DepartmentID: &d4, StartDate: now.Add(-time.Hour), IsActive: true, CreatedAt: now, UpdatedAt: now}
	if err := store.AssignRole(ctx, scoped, nil); err != nil {
		t.Fatalf("assign scoped: %v", err)
	}

	// inactive rows do not block reassignment
	if err := store.RevokeUserRole(ctx, 8, "reviewer", nil, nil); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	again := &access.UserRole{UserID: 8, RoleCode: "reviewer", StartDate: now, IsActive: true, CreatedAt: now, UpdatedAt: now}
	if err := store.AssignRole(ctx, again, nil); err != nil {
		t.Fatalf("reassign after revoke: %v", err)
	}

	o := &access.PermissionOverride{
		UserID: 8, PermissionCode: "read_evaluation", OverrideType: access.OverrideDeny,
		StartDate: now.Add(-time.Hour), Reason: "freeze", IsActive: true, CreatedAt: now, UpdatedAt: now,
	}
	if err := store.GrantOverride(ctx, o, nil); err != nil {
		t.Fatalf("grant override: %v", err)
	}
	rawOverride := `INSERT INTO permission_overrides(user_id, permission_code, override_type, start_date, end_date, reason, granted_by, is_active, created_at, updated_at)
	                VALUES(:user_id, :permission_code, :override_type, :start, NULL, 'again', NULL, 1, :now, :now)`
	if _, err := db.NamedExecContext(ctx, rawOverride, map[string]any{"user_id": int64(8), "permission_code": "read_evaluation", "override_type": "deny", "start": now, "now": now}); !isUniqueViolation(err) {
		t.Fatalf("expected unique violation on duplicate active override, got %v", err)
	}
	// the opposite override type coexists
	grant := &access.PermissionOverride{
		UserID: 8, PermissionCode: "read_evaluation", OverrideType: access.OverrideGrant,
		StartDate: now.Add(-time.Hour), Reason: "exception", IsActive: true, CreatedAt: now, UpdatedAt: now,
	}
	if err := store.GrantOverride(ctx, grant, nil); err != nil {
		t.Fatalf("grant opposite type: %v", err)
	}
}
