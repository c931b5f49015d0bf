package gate

import "github.com/tcangola/portal/pkg/rbac"

// Decision is the outcome of evaluating a policy
type Decision int

const (
	// Loading means capabilities are not resolved yet
	Loading Decision = iota
	Allow
	Deny
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	default:
		return "loading"
	}
}

// Policy describes what a protected region requires
type Policy struct {
	// Name labels metrics and logs
	Name string

	RequireAdmin          bool
	RequireAllPermissions []rbac.Permission
	// RequirePermission is satisfied by any one of its permissions
	RequirePermission []rbac.Permission

	// Fresh makes the gate bypass the capability cache before evaluating
	Fresh bool
}

// AdminOnly requires the administrator designation
func AdminOnly(name string) Policy {
	return Policy{Name: name, RequireAdmin: true}
}

// AllOf requires every permission
func AllOf(name string, perms ...rbac.Permission) Policy {
	return Policy{Name: name, RequireAllPermissions: perms}
}

// AnyOf requires at least one permission
func AnyOf(name string, perms ...rbac.Permission) Policy {
	return Policy{Name: name, RequirePermission: perms}
}

// WithFresh returns a copy of p that always re-resolves capabilities
func (p Policy) WithFresh() Policy {
	p.Fresh = true
	return p
}

// Evaluate decides p against caps. A policy with no requirement allows any
// resolved state.
func Evaluate(p Policy, caps *rbac.Capabilities) Decision {
	if caps == nil || !caps.Resolved {
		return Loading
	}

	var ok bool
	switch {
	case p.RequireAdmin:
		ok = caps.IsAdmin
	case len(p.RequireAllPermissions) > 0:
		ok = caps.HasAllPermissions(p.RequireAllPermissions...)
	case len(p.RequirePermission) > 0:
		ok = caps.HasPermission(p.RequirePermission...)
	default:
		ok = true
	}

	if ok {
		return Allow
	}
	return Deny
}

// Visible reports, for each named policy, whether its region should be shown.
// Regions whose decision is Loading or Deny are hidden.
func Visible(policies map[string]Policy, caps *rbac.Capabilities) map[string]bool {
	visible := make(map[string]bool, len(policies))
	for name, p := range policies {
		visible[name] = Evaluate(p, caps) == Allow
	}
	return visible
}
