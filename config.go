package access

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oarkflow/date"
	"gopkg.in/yaml.v3"
)

// Config is the declarative bootstrap document: the permission catalogue,
// roles and their grants, initial assignments and overrides, settings, and
// engine tuning. Applying a config is idempotent; rows that already exist are
// left alone.
type Config struct {
	Version     uint16             `json:"version" yaml:"version"`
	Permissions []*Permission      `json:"permissions" yaml:"permissions"`
	Roles       []*Role            `json:"roles" yaml:"roles"`
	Grants      []*RolePermission  `json:"grants" yaml:"grants"`
	Assignments []AssignmentConfig `json:"assignments,omitempty" yaml:"assignments,omitempty"`
	Overrides   []OverrideConfig   `json:"overrides,omitempty" yaml:"overrides,omitempty"`
	Settings    []SettingConfig    `json:"settings,omitempty" yaml:"settings,omitempty"`
	Engine      EngineConfig       `json:"engine" yaml:"engine"`
}

// AssignmentConfig is a user-role assignment as written in a config file.
// Dates are free-form strings, parsed leniently.
type AssignmentConfig struct {
	UserID       int64          `json:"user_id" yaml:"user_id"`
	Role         string         `json:"role" yaml:"role"`
	DepartmentID *int64         `json:"department_id,omitempty" yaml:"department_id,omitempty"`
	StartDate    string         `json:"start_date,omitempty" yaml:"start_date,omitempty"`
	EndDate      string         `json:"end_date,omitempty" yaml:"end_date,omitempty"`
	Conditions   map[string]any `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Reason       string         `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// OverrideConfig is a permission override as written in a config file.
type OverrideConfig struct {
	UserID     int64        `json:"user_id" yaml:"user_id"`
	Permission string       `json:"permission" yaml:"permission"`
	Type       OverrideType `json:"type" yaml:"type"`
	StartDate  string       `json:"start_date,omitempty" yaml:"start_date,omitempty"`
	EndDate    string       `json:"end_date,omitempty" yaml:"end_date,omitempty"`
	Reason     string       `json:"reason" yaml:"reason"`
}

// SettingConfig seeds one system setting.
type SettingConfig struct {
	Key         string `json:"key" yaml:"key"`
	Value       string `json:"value" yaml:"value"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// EngineConfig tunes caching.
type EngineConfig struct {
	CacheTTL            int64 `json:"cache_ttl_ms" yaml:"cache_ttl_ms"`
	SettingCacheTTL     int64 `json:"setting_cache_ttl_ms" yaml:"setting_cache_ttl_ms"`
	RistrettoNumCounter int64 `json:"ristretto_num_counter" yaml:"ristretto_num_counter"`
	RistrettoMaxCost    int64 `json:"ristretto_max_cost" yaml:"ristretto_max_cost"`
	RistrettoBuffer     int64 `json:"ristretto_buffer" yaml:"ristretto_buffer"`
}

// ConfigLoader loads configuration from YAML or JSON.
type ConfigLoader struct{}

func NewConfigLoader() *ConfigLoader {
	return &ConfigLoader{}
}

func (l *ConfigLoader) LoadYAML(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *ConfigLoader) LoadJSON(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ToYAML exports config to YAML.
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// ToJSON exports config to JSON.
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// Validate checks every record in the config without touching a store.
func (c *Config) Validate() error {
	for _, p := range c.Permissions {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("permission %s: %w", p.Code, err)
		}
	}
	for _, r := range c.Roles {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("role %s: %w", r.Code, err)
		}
	}
	for _, o := range c.Overrides {
		if o.Reason == "" {
			return fmt.Errorf("override %s for user %d: %w", o.Permission, o.UserID, ErrReasonRequired)
		}
		if !validOverrideTypes[o.Type] {
			return invalidf("override %s for user %d: unknown type %q", o.Permission, o.UserID, o.Type)
		}
	}
	return nil
}

// ApplyConfig loads a config into the engine's stores. Existing rows are
// skipped, so re-applying the same document is safe. Assignments and
// overrides go through the audited mutation path with the given actor.
func (e *Engine) ApplyConfig(ctx context.Context, cfg *Config, actor Identity) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	if cfg.Engine.CacheTTL > 0 {
		e.cacheTTL = time.Duration(cfg.Engine.CacheTTL) * time.Millisecond
	}
	if cfg.Engine.RistrettoNumCounter > 0 {
		c, err := NewRistrettoCache(cfg.Engine.RistrettoNumCounter, cfg.Engine.RistrettoMaxCost, cfg.Engine.RistrettoBuffer)
		if err != nil {
			return fmt.Errorf("configure ristretto cache: %w", err)
		}
		e.cache = c
	}

	for _, p := range cfg.Permissions {
		if err := e.CreatePermission(ctx, p); err != nil && !errors.Is(err, ErrDuplicate) {
			return fmt.Errorf("create permission %s: %w", p.Code, err)
		}
	}
	for _, r := range cfg.Roles {
		if err := e.CreateRole(ctx, r); err != nil && !errors.Is(err, ErrDuplicate) {
			return fmt.Errorf("create role %s: %w", r.Code, err)
		}
	}
	for _, g := range cfg.Grants {
		if err := e.AttachPermission(ctx, g); err != nil && !errors.Is(err, ErrDuplicate) {
			return fmt.Errorf("attach %s to %s: %w", g.PermissionCode, g.RoleCode, err)
		}
	}
	for _, a := range cfg.Assignments {
		ur, err := a.toUserRole()
		if err != nil {
			return fmt.Errorf("assignment of %s to user %d: %w", a.Role, a.UserID, err)
		}
		if err := e.AssignRole(ctx, actor, ur); err != nil && !errors.Is(err, ErrDuplicate) {
			return fmt.Errorf("assign %s to user %d: %w", a.Role, a.UserID, err)
		}
	}
	for _, o := range cfg.Overrides {
		po, err := o.toOverride()
		if err != nil {
			return fmt.Errorf("override %s for user %d: %w", o.Permission, o.UserID, err)
		}
		if err := e.GrantOverride(ctx, actor, po); err != nil && !errors.Is(err, ErrDuplicate) {
			return fmt.Errorf("grant override %s for user %d: %w", o.Permission, o.UserID, err)
		}
	}
	return nil
}

// ApplySettings seeds system settings through a Settings service.
func (c *Config) ApplySettings(ctx context.Context, s *Settings) error {
	for _, sc := range c.Settings {
		if err := s.Set(ctx, sc.Key, sc.Value, sc.Description); err != nil {
			return err
		}
	}
	return nil
}

func (a *AssignmentConfig) toUserRole() (*UserRole, error) {
	ur := &UserRole{
		UserID:       a.UserID,
		RoleCode:     a.Role,
		DepartmentID: a.DepartmentID,
		Conditions:   a.Conditions,
		Reason:       a.Reason,
	}
	if a.StartDate != "" {
		t, err := date.Parse(a.StartDate)
		if err != nil {
			return nil, fmt.Errorf("bad start date %q: %w", a.StartDate, err)
		}
		ur.StartDate = t
	}
	if a.EndDate != "" {
		t, err := date.Parse(a.EndDate)
		if err != nil {
			return nil, fmt.Errorf("bad end date %q: %w", a.EndDate, err)
		}
		ur.EndDate = &t
	}
	return ur, nil
}

func (o *OverrideConfig) toOverride() (*PermissionOverride, error) {
	po := &PermissionOverride{
		UserID:         o.UserID,
		PermissionCode: o.Permission,
		OverrideType:   o.Type,
		Reason:         o.Reason,
	}
	if o.StartDate != "" {
		t, err := date.Parse(o.StartDate)
		if err != nil {
			return nil, fmt.Errorf("bad start date %q: %w", o.StartDate, err)
		}
		po.StartDate = t
	}
	if o.EndDate != "" {
		t, err := date.Parse(o.EndDate)
		if err != nil {
			return nil, fmt.Errorf("bad end date %q: %w", o.EndDate, err)
		}
		po.EndDate = &t
	}
	return po, nil
}

// ============================================================================
// DEFAULT CATALOGUE
// ============================================================================

// DefaultCatalogue returns the stock permission catalogue and role set for a
// performance-appraisal deployment: evaluation, KPI, and goal permissions
// plus analytics and administration, grouped into staff, supervisor,
// hr_officer, and admin system roles.
func DefaultCatalogue() *Config {
	perms := []*Permission{
		catalogPerm("create_evaluation", PermTypeCreate, ResourceEvaluation, "Create evaluations"),
		catalogPerm("read_evaluation", PermTypeRead, ResourceEvaluation, "Read evaluations"),
		catalogPerm("update_evaluation", PermTypeUpdate, ResourceEvaluation, "Update evaluations"),
		catalogPerm("approve_evaluation", PermTypeApprove, ResourceEvaluation, "Approve evaluations"),
		catalogPerm("create_kpi", PermTypeCreate, ResourceKPI, "Create KPIs"),
		catalogPerm("read_kpi", PermTypeRead, ResourceKPI, "Read KPIs"),
		catalogPerm("update_kpi", PermTypeUpdate, ResourceKPI, "Update KPIs"),
		catalogPerm("create_goal", PermTypeCreate, ResourceGoal, "Create goals"),
		catalogPerm("read_goal", PermTypeRead, ResourceGoal, "Read goals"),
		catalogPerm("update_goal", PermTypeUpdate, ResourceGoal, "Update goals"),
		catalogPerm("view_analytics", PermTypeViewAnalytics, ResourceAnalytics, "View analytics"),
		catalogPerm("export_analytics", PermTypeExport, ResourceAnalytics, "Export analytics"),
		catalogPerm("manage_users", PermTypeManageUsers, ResourceUser, "Manage users"),
		catalogPerm("configure_system", PermTypeConfigureSystem, ResourceSystemConfig, "Configure the system"),
	}

	roles := []*Role{
		catalogRole("staff", "Staff", RoleTypeSystem),
		catalogRole("supervisor", "Supervisor", RoleTypeDepartment),
		catalogRole("hr_officer", "HR Officer", RoleTypeSystem),
		catalogRole("admin", "Administrator", RoleTypeSystem),
	}

	rolePerms := map[string][]string{
		"staff": {
			"read_evaluation", "create_goal", "read_goal", "update_goal",
		},
		"supervisor": {
			"create_evaluation", "read_evaluation", "update_evaluation", "approve_evaluation",
			"create_kpi", "read_kpi", "update_kpi",
			"read_goal", "update_goal", "view_analytics",
		},
		"hr_officer": {
			"create_evaluation", "read_evaluation", "update_evaluation", "approve_evaluation",
			"create_kpi", "read_kpi", "update_kpi",
			"create_goal", "read_goal", "update_goal",
			"view_analytics", "export_analytics", "manage_users",
		},
	}
	var grants []*RolePermission
	for role, codes := range rolePerms {
		for _, code := range codes {
			grants = append(grants, &RolePermission{RoleCode: role, PermissionCode: code, IsActive: true})
		}
	}
	// admin holds the full catalogue
	for _, p := range perms {
		grants = append(grants, &RolePermission{RoleCode: "admin", PermissionCode: p.Code, IsActive: true})
	}

	return &Config{
		Version:     1,
		Permissions: perms,
		Roles:       roles,
		Grants:      grants,
	}
}

func catalogPerm(code string, pt PermissionType, rt ResourceType, name string) *Permission {
	return &Permission{
		Code:               code,
		Name:               name,
		PermissionType:     pt,
		ResourceType:       rt,
		IsActive:           true,
		IsSystemPermission: true,
	}
}

func catalogRole(code, name string, rt RoleType) *Role {
	return &Role{
		Code:         code,
		Name:         name,
		RoleType:     rt,
		IsActive:     true,
		IsSystemRole: true,
	}
}
