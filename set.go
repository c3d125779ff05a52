package access

import (
	"sort"
	"time"
)

// GrantSource tells where a resolved permission came from.
type GrantSource string

const (
	SourceRole     GrantSource = "role"
	SourceOverride GrantSource = "override"
)

// Provenance records which role/department or override produced a grant.
// Retained for audit and debugging, never consulted for the yes/no answer.
type Provenance struct {
	Source       GrantSource  `json:"source"`
	RoleCode     string       `json:"role_code,omitempty"`
	DepartmentID *int64       `json:"department_id,omitempty"`
	OverrideType OverrideType `json:"override_type,omitempty"`
}

// PermissionSet is the effective permission set of one user at one instant,
// with per-code provenance.
type PermissionSet struct {
	Grants     map[string]Provenance `json:"grants"`
	ResolvedAt time.Time             `json:"resolved_at"`
}

func NewPermissionSet(at time.Time) *PermissionSet {
	return &PermissionSet{Grants: make(map[string]Provenance), ResolvedAt: at}
}

// Has reports exact code membership.
func (s *PermissionSet) Has(code string) bool {
	if s == nil {
		return false
	}
	_, ok := s.Grants[code]
	return ok
}

// Provenance returns the grant source for a code.
func (s *PermissionSet) Provenance(code string) (Provenance, bool) {
	if s == nil {
		return Provenance{}, false
	}
	p, ok := s.Grants[code]
	return p, ok
}

// Codes returns the granted codes in sorted order, so two resolutions of the
// same state serialize identically.
func (s *PermissionSet) Codes() []string {
	if s == nil {
		return nil
	}
	codes := make([]string, 0, len(s.Grants))
	for c := range s.Grants {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	return codes
}

// Len returns the number of granted codes.
func (s *PermissionSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Grants)
}

// add keeps the first provenance seen for a code: a later role granting the
// same permission does not overwrite who granted it first. Overrides always
// overwrite, they are the stronger claim.
func (s *PermissionSet) add(code string, p Provenance) {
	if existing, ok := s.Grants[code]; ok && p.Source == SourceRole && existing.Source == SourceRole {
		return
	}
	s.Grants[code] = p
}

// remove drops a code; removing an absent code is a no-op.
func (s *PermissionSet) remove(code string) {
	delete(s.Grants, code)
}
