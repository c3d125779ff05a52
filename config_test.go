package access

import (
	"context"
	"errors"
	"testing"
	"time"
)

const testConfigYAML = `
version: 1
permissions:
  - code: read_evaluation
    name: Read evaluations
    permission_type: read
    resource_type: evaluation
    is_active: true
  - code: export_analytics
    name: Export analytics
    permission_type: export
    resource_type: analytics
    is_active: true
roles:
  - code: reviewer
    name: Reviewer
    role_type: system
    is_active: true
grants:
  - role: reviewer
    permission: read_evaluation
    is_active: true
  - role: reviewer
    permission: export_analytics
    is_active: true
    conditions:
      day_restrictions: [0, 1, 2, 3, 4]
assignments:
  - user_id: 1
    role: reviewer
    start_date: "2025-01-01"
overrides:
  - user_id: 2
    permission: export_analytics
    type: grant
    reason: quarterly close
settings:
  - key: appraisal_cycle
    value: quarterly
engine:
  cache_ttl_ms: 60000
`

func TestLoadYAMLAndApply(t *testing.T) {
	ctx := context.Background()
	eng, _, audit := newTestEngine(t)

	cfg, err := NewConfigLoader().LoadYAML([]byte(testConfigYAML))
	if err != nil {
		t.Fatalf("load yaml: %v", err)
	}
	if err := eng.ApplyConfig(ctx, cfg, User{ID: 99, Authenticated: true}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if eng.cacheTTL != 60*time.Second {
		t.Fatalf("expected cache ttl from config, got %v", eng.cacheTTL)
	}

	if ok, _ := eng.HasPermission(ctx, User{ID: 1, Authenticated: true}, "read_evaluation"); !ok {
		t.Fatalf("expected assignment from config to grant")
	}
	if ok, _ := eng.HasPermission(ctx, User{ID: 2, Authenticated: true}, "export_analytics"); !ok {
		t.Fatalf("expected override from config to grant")
	}

	entries, _ := audit.List(ctx, AuditFilter{})
	if len(entries) != 2 {
		t.Fatalf("expected 2 audit records (assignment + override), got %d", len(entries))
	}

	// re-applying the same document is a no-op
	if err := eng.ApplyConfig(ctx, cfg, User{ID: 99, Authenticated: true}); err != nil {
		t.Fatalf("re-apply: %v", err)
	}
	entries, _ = audit.List(ctx, AuditFilter{})
	if len(entries) != 2 {
		t.Fatalf("expected idempotent re-apply, got %d audit records", len(entries))
	}
}

func TestConfigYAMLRoundtrip(t *testing.T) {
	cfg, err := NewConfigLoader().LoadYAML([]byte(testConfigYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	out, err := cfg.ToYAML()
	if err != nil {
		t.Fatalf("to yaml: %v", err)
	}
	again, err := NewConfigLoader().LoadYAML(out)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(again.Permissions) != len(cfg.Permissions) || len(again.Grants) != len(cfg.Grants) {
		t.Fatalf("roundtrip lost records")
	}
	if again.Grants[1].Conditions == nil {
		t.Fatalf("roundtrip lost grant conditions")
	}
}

func TestConfigValidate(t *testing.T) {
	bad := &Config{Overrides: []OverrideConfig{{UserID: 1, Permission: "x", Type: OverrideGrant}}}
	if err := bad.Validate(); !errors.Is(err, ErrReasonRequired) {
		t.Fatalf("expected ErrReasonRequired, got %v", err)
	}
	bad = &Config{Permissions: []*Permission{{Code: "x", PermissionType: "explode", ResourceType: ResourceGoal}}}
	if err := bad.Validate(); !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("expected ErrInvalidRecord, got %v", err)
	}
}

func TestAssignmentConfigDateParsing(t *testing.T) {
	a := &AssignmentConfig{UserID: 1, Role: "reviewer", StartDate: "2025-01-01", EndDate: "2025-06-30"}
	ur, err := a.toUserRole()
	if err != nil {
		t.Fatalf("to user role: %v", err)
	}
	if ur.StartDate.Year() != 2025 || ur.StartDate.Month() != time.January {
		t.Fatalf("unexpected start %v", ur.StartDate)
	}
	if ur.EndDate == nil || ur.EndDate.Month() != time.June {
		t.Fatalf("unexpected end %v", ur.EndDate)
	}

	bad := &AssignmentConfig{UserID: 1, Role: "reviewer", StartDate: "not a date"}
	if _, err := bad.toUserRole(); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestDefaultCatalogue(t *testing.T) {
	ctx := context.Background()
	eng, _, _ := newTestEngine(t)

	cfg := DefaultCatalogue()
	if err := eng.ApplyConfig(ctx, cfg, nil); err != nil {
		t.Fatalf("apply catalogue: %v", err)
	}

	_ = eng.AssignRole(ctx, nil, &UserRole{UserID: 1, RoleCode: "staff"})
	_ = eng.AssignRole(ctx, nil, &UserRole{UserID: 2, RoleCode: "admin"})

	staff := User{ID: 1, Authenticated: true}
	if ok, _ := eng.HasPermission(ctx, staff, "read_evaluation"); !ok {
		t.Fatalf("expected staff to read evaluations")
	}
	if ok, _ := eng.HasPermission(ctx, staff, "configure_system"); ok {
		t.Fatalf("expected staff not to configure the system")
	}

	admin := User{ID: 2, Authenticated: true}
	set, _ := eng.GetUserPermissions(ctx, admin, DefaultResolveOptions())
	if set.Len() != len(cfg.Permissions) {
		t.Fatalf("expected admin to hold the full catalogue, got %d of %d", set.Len(), len(cfg.Permissions))
	}

	// every stock role is protected from deletion
	for _, r := range cfg.Roles {
		if err := eng.DeleteRole(ctx, r.Code); !errors.Is(err, ErrSystemRole) {
			t.Fatalf("expected %s to be a system role, got %v", r.Code, err)
		}
	}
}
