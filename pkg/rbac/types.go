package rbac

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
)

var (
	// ErrProfileNotFound is returned when a named profile does not exist
	ErrProfileNotFound = errors.New("profile not found")

	// ErrUnknownPermission is returned when a token is not part of the permission catalog
	ErrUnknownPermission = errors.New("unknown permission")
)

// Permission is an opaque capability token
type Permission string

// Case management
const (
	PermProcessView    Permission = "process.view"
	PermProcessCreate  Permission = "process.create"
	PermProcessEdit    Permission = "process.edit"
	PermProcessDelete  Permission = "process.delete"
	PermProcessAssign  Permission = "process.assign"
	PermProcessArchive Permission = "process.archive"

	PermVistoView    Permission = "visto.view"
	PermVistoAnalyze Permission = "visto.analyze"
	PermVistoDecide  Permission = "visto.decide"

	PermAccountsView   Permission = "accounts.view"
	PermAccountsReview Permission = "accounts.review"

	PermFineView    Permission = "fine.view"
	PermFineCreate  Permission = "fine.create"
	PermFineApprove Permission = "fine.approve"

	PermAuditView    Permission = "audit.view"
	PermAuditPlan    Permission = "audit.plan"
	PermAuditExecute Permission = "audit.execute"

	PermReportView     Permission = "report.view"
	PermReportCreate   Permission = "report.create"
	PermReportValidate Permission = "report.validate"
	PermReportExport   Permission = "report.export"

	PermCorrespondenceView Permission = "correspondence.view"
	PermCorrespondenceSend Permission = "correspondence.send"
)

// Administration
const (
	PermUserView         Permission = "user.view"
	PermUserManage       Permission = "user.manage"
	PermProfileManage    Permission = "profile.manage"
	PermSessionView      Permission = "session.view"
	PermSessionTerminate Permission = "session.terminate"
)

var catalog = []Permission{
	PermProcessView, PermProcessCreate, PermProcessEdit, PermProcessDelete, PermProcessAssign, PermProcessArchive,
	PermVistoView, PermVistoAnalyze, PermVistoDecide,
	PermAccountsView, PermAccountsReview,
	PermFineView, PermFineCreate, PermFineApprove,
	PermAuditView, PermAuditPlan, PermAuditExecute,
	PermReportView, PermReportCreate, PermReportValidate, PermReportExport,
	PermCorrespondenceView, PermCorrespondenceSend,
	PermUserView, PermUserManage, PermProfileManage, PermSessionView, PermSessionTerminate,
}

var known = func() map[Permission]struct{} {
	m := make(map[Permission]struct{}, len(catalog))
	for _, p := range catalog {
		m[p] = struct{}{}
	}
	return m
}()

// AllPermissions returns every permission token, in catalog order
func AllPermissions() []Permission {
	out := make([]Permission, len(catalog))
	copy(out, catalog)
	return out
}

// Valid reports whether p belongs to the permission catalog
func (p Permission) Valid() bool {
	_, ok := known[p]
	return ok
}

// ParsePermissions converts raw tokens, rejecting any outside the catalog
func ParsePermissions(tokens []string) ([]Permission, error) {
	out := make([]Permission, 0, len(tokens))
	for _, token := range tokens {
		p := Permission(token)
		if !p.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrUnknownPermission, token)
		}
		out = append(out, p)
	}
	return out, nil
}

// PermissionSet is an unordered set of permissions. It encodes as a sorted JSON array.
type PermissionSet map[Permission]struct{}

// NewPermissionSet builds a set, collapsing duplicates
func NewPermissionSet(perms ...Permission) PermissionSet {
	s := make(PermissionSet, len(perms))
	for _, p := range perms {
		s[p] = struct{}{}
	}
	return s
}

// Has reports membership
func (s PermissionSet) Has(p Permission) bool {
	_, ok := s[p]
	return ok
}

// Slice returns the members sorted
func (s PermissionSet) Slice() []Permission {
	out := make([]Permission, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s PermissionSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Slice())
}

func (s *PermissionSet) UnmarshalJSON(data []byte) error {
	var perms []Permission
	if err := json.Unmarshal(data, &perms); err != nil {
		return err
	}
	*s = NewPermissionSet(perms...)
	return nil
}

// FunctionalArea groups profiles by organizational function
type FunctionalArea struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Profile is a named bundle of permissions
type Profile struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Description    string          `json:"description,omitempty"`
	Permissions    []Permission    `json:"permissions"`
	FunctionalArea *FunctionalArea `json:"functional_area,omitempty"`
}

// Summary returns the profile as exposed through Capabilities
func (p *Profile) Summary() ProfileSummary {
	summary := ProfileSummary{ID: p.ID, Name: p.Name}
	if p.FunctionalArea != nil {
		summary.FunctionalArea = p.FunctionalArea.Name
	}
	return summary
}

// ProfileSummary identifies a profile assigned to a principal
type ProfileSummary struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	FunctionalArea string `json:"functional_area,omitempty"`
}

// Capabilities is the effective authorization state of a principal.
// Every predicate is false while Resolved is false.
type Capabilities struct {
	PrincipalID string           `json:"principal_id"`
	Permissions PermissionSet    `json:"permissions"`
	Profiles    []ProfileSummary `json:"profiles"`
	IsAdmin     bool             `json:"is_admin"`
	Resolved    bool             `json:"resolved"`
	ResolvedAt  time.Time        `json:"resolved_at"`
}

// Unresolved is the state of a principal whose capabilities are loading or failed to load
func Unresolved(principalID string) *Capabilities {
	return &Capabilities{
		PrincipalID: principalID,
		Permissions: PermissionSet{},
		Profiles:    []ProfileSummary{},
	}
}

// Empty is a resolved state with nothing granted
func Empty(principalID string, at time.Time) *Capabilities {
	return &Capabilities{
		PrincipalID: principalID,
		Permissions: PermissionSet{},
		Profiles:    []ProfileSummary{},
		Resolved:    true,
		ResolvedAt:  at,
	}
}

// Aggregate unions the permissions of profiles into a resolved state
func Aggregate(principalID string, profiles []Profile, isAdmin bool, at time.Time) *Capabilities {
	caps := Empty(principalID, at)
	caps.IsAdmin = isAdmin
	for i := range profiles {
		for _, p := range profiles[i].Permissions {
			caps.Permissions[p] = struct{}{}
		}
		caps.Profiles = append(caps.Profiles, profiles[i].Summary())
	}
	return caps
}

// HasPermission reports whether any of perms is granted. Admins hold every permission.
func (c *Capabilities) HasPermission(perms ...Permission) bool {
	if c == nil || !c.Resolved {
		return false
	}
	if c.IsAdmin {
		return true
	}
	for _, p := range perms {
		if c.Permissions.Has(p) {
			return true
		}
	}
	return false
}

// HasAllPermissions reports whether every one of perms is granted.
// An empty list is satisfied by any resolved state.
func (c *Capabilities) HasAllPermissions(perms ...Permission) bool {
	if c == nil || !c.Resolved {
		return false
	}
	if c.IsAdmin {
		return true
	}
	for _, p := range perms {
		if !c.Permissions.Has(p) {
			return false
		}
	}
	return true
}

// HasProfile reports whether a profile with the given name is assigned
func (c *Capabilities) HasProfile(name string) bool {
	if c == nil || !c.Resolved {
		return false
	}
	for _, p := range c.Profiles {
		if p.Name == name {
			return true
		}
	}
	return false
}

// HasFunctionalArea reports whether any assigned profile belongs to the area
func (c *Capabilities) HasFunctionalArea(name string) bool {
	if c == nil || !c.Resolved || name == "" {
		return false
	}
	for _, p := range c.Profiles {
		if p.FunctionalArea == name {
			return true
		}
	}
	return false
}
