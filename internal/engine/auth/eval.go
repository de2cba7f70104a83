package auth

import "queueline/internal/domain"

// Decision is the outcome of an authorization check.
type Decision int

const (
	Deny Decision = iota
	Allow
)

func (d Decision) String() string {
	if d == Allow {
		return "allow"
	}
	return "deny"
}

// DenyReason describes why a check was denied.
type DenyReason int

const (
	ReasonNone DenyReason = iota
	// ReasonAnonymous means the caller carried no access identifiers.
	ReasonAnonymous
	// ReasonNoAccessItems means no access row matched any caller identifier.
	ReasonNoAccessItems
	// ReasonMissingPermission means rows matched but lacked a required bit.
	ReasonMissingPermission
	// ReasonRoleRequired means the operation is restricted to roles the caller lacks.
	ReasonRoleRequired
	// ReasonNotCreator means only the creator of a comment may change it.
	ReasonNotCreator
)

func (r DenyReason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonAnonymous:
		return "no caller identity"
	case ReasonNoAccessItems:
		return "no matching access item"
	case ReasonMissingPermission:
		return "matching access items lack permission"
	case ReasonRoleRequired:
		return "administrative role required"
	case ReasonNotCreator:
		return "caller is not the creator"
	default:
		return "unknown"
	}
}

// Grant is one access row reduced to what evaluation needs.
type Grant struct {
	AccessID    string
	Permissions domain.Permission
}

// GrantsFromItems projects access items into grants.
func GrantsFromItems(items []domain.AccessItem) []Grant {
	grants := make([]Grant, 0, len(items))
	for _, it := range items {
		grants = append(grants, Grant{AccessID: it.AccessID, Permissions: it.Permissions})
	}
	return grants
}

// Request is the input of Evaluate. Bypass lists roles that allow without
// consulting grants.
type Request struct {
	Identity Identity
	Roles    RoleSet
	Bypass   []Role
	Required domain.Permission
	Grants   []Grant
}

// Result describes the outcome of Evaluate.
type Result struct {
	Decision Decision
	Reason   DenyReason

	// Role is the bypass role that allowed the request, if any.
	Role Role

	// Granted is the union of permissions from matching grants.
	Granted domain.Permission

	// Missing are the required bits absent from Granted.
	Missing domain.Permission
}

func (r Result) Allowed() bool { return r.Decision == Allow }

// Evaluate decides a permission request. It is a pure function of its input.
func Evaluate(req Request) Result {
	for _, role := range req.Bypass {
		if req.Roles[role] {
			return Result{Decision: Allow, Role: role}
		}
	}
	ids := req.Identity.AccessIDs()
	if len(ids) == 0 {
		return Result{Decision: Deny, Reason: ReasonAnonymous, Missing: req.Required}
	}
	matched := false
	var granted domain.Permission
	for _, g := range req.Grants {
		gid := NormalizeAccessID(g.AccessID)
		for _, id := range ids {
			if gid == id {
				matched = true
				granted |= g.Permissions
				break
			}
		}
	}
	if !matched {
		return Result{Decision: Deny, Reason: ReasonNoAccessItems, Missing: req.Required}
	}
	if !granted.Has(req.Required) {
		return Result{Decision: Deny, Reason: ReasonMissingPermission, Granted: granted, Missing: req.Required &^ granted}
	}
	return Result{Decision: Allow, Granted: granted}
}

// RequireRole decides a role-scoped operation.
func RequireRole(held RoleSet, roles ...Role) Result {
	for _, role := range roles {
		if held[role] {
			return Result{Decision: Allow, Role: role}
		}
	}
	return Result{Decision: Deny, Reason: ReasonRoleRequired}
}

// Err converts a denied result into a NotAuthorizedError, or nil when allowed.
func (r Result) Err(id Identity, workbasketID string, required domain.Permission, roles ...Role) error {
	if r.Allowed() {
		return nil
	}
	e := NotAuthorizedError{
		AccessID:     id.Name(),
		WorkbasketID: workbasketID,
		Permission:   required,
		Reason:       r.Reason,
	}
	if r.Reason == ReasonRoleRequired {
		e.Roles = roles
	}
	return e
}
