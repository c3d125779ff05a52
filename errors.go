package access

import (
	"errors"
	"fmt"
)

// Sentinel errors. Store implementations wrap these so callers can branch
// with errors.Is regardless of the backing medium.
var (
	// ErrNotFound: a referenced role, permission, assignment, or override
	// does not exist. Mutations abort with nothing written.
	ErrNotFound = errors.New("access: not found")

	// ErrDuplicate: a unique constraint would be violated — duplicate
	// (user, role, department) assignment or (user, permission, type)
	// override. User-correctable; never retried automatically.
	ErrDuplicate = errors.New("access: duplicate record")

	// ErrSystemRole: system roles cannot be deleted.
	ErrSystemRole = errors.New("access: system role cannot be deleted")

	// ErrAuditWrite: the paired audit record could not be written. The
	// enclosing mutation rolls back; permission state never changes
	// unaudited.
	ErrAuditWrite = errors.New("access: audit write failed")

	// ErrReasonRequired: overrides and revocations must carry a reason.
	ErrReasonRequired = errors.New("access: reason is required")

	// ErrInvalidRecord: a record failed enum or field validation.
	ErrInvalidRecord = errors.New("access: invalid record")
)

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRecord, fmt.Sprintf(format, args...))
}

// Validate checks enum membership and required fields.
func (p *Permission) Validate() error {
	if p.Code == "" {
		return invalidf("permission code is required")
	}
	if !validPermissionTypes[p.PermissionType] {
		return invalidf("unknown permission type %q", p.PermissionType)
	}
	if !validResourceTypes[p.ResourceType] {
		return invalidf("unknown resource type %q", p.ResourceType)
	}
	return nil
}

// Validate checks enum membership and required fields.
func (r *Role) Validate() error {
	if r.Code == "" {
		return invalidf("role code is required")
	}
	if !validRoleTypes[r.RoleType] {
		return invalidf("unknown role type %q", r.RoleType)
	}
	return nil
}

// Validate checks required fields. Overrides always carry a reason.
func (o *PermissionOverride) Validate() error {
	if o.PermissionCode == "" {
		return invalidf("override permission code is required")
	}
	if !validOverrideTypes[o.OverrideType] {
		return invalidf("unknown override type %q", o.OverrideType)
	}
	if o.Reason == "" {
		return ErrReasonRequired
	}
	return nil
}
