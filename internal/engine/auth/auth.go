package auth

import (
	"fmt"
	"sort"
	"strings"

	"queueline/internal/domain"
)

// Role is an administrative role. Membership is configured per deployment.
type Role string

const (
	RoleAdmin         Role = "admin"
	RoleBusinessAdmin Role = "businessadmin"
	RoleTaskAdmin     Role = "taskadmin"
)

// Roles lists every known role in evaluation order.
var Roles = []Role{RoleAdmin, RoleBusinessAdmin, RoleTaskAdmin}

func (r Role) Valid() bool {
	for _, known := range Roles {
		if r == known {
			return true
		}
	}
	return false
}

// Identity is the caller of a core operation: a user id plus group memberships.
type Identity struct {
	UserID string
	Groups []string
}

// User builds an identity from a user id and its groups.
func User(userID string, groups ...string) Identity {
	return Identity{UserID: userID, Groups: groups}
}

// NormalizeAccessID lower-cases and trims an accessor id. Access ids are
// compared case-insensitively everywhere.
func NormalizeAccessID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// AccessIDs returns the normalized, de-duplicated access identifiers of the
// caller, user first.
func (id Identity) AccessIDs() []string {
	seen := map[string]bool{}
	var out []string
	add := func(v string) {
		v = NormalizeAccessID(v)
		if v == "" || seen[v] {
			return
		}
		seen[v] = true
		out = append(out, v)
	}
	add(id.UserID)
	for _, g := range id.Groups {
		add(g)
	}
	return out
}

func (id Identity) Anonymous() bool {
	return len(id.AccessIDs()) == 0
}

// Name is the user id as recorded on owners, creators and events.
func (id Identity) Name() string {
	return strings.TrimSpace(id.UserID)
}

// RoleSet holds the roles of one caller.
type RoleSet map[Role]bool

// HasAny reports whether the set contains at least one of roles.
func (s RoleSet) HasAny(roles ...Role) bool {
	for _, r := range roles {
		if s[r] {
			return true
		}
	}
	return false
}

func (s RoleSet) List() []Role {
	var out []Role
	for _, r := range Roles {
		if s[r] {
			out = append(out, r)
		}
	}
	return out
}

// RoleMapping maps each role to the access ids (users or groups) holding it.
type RoleMapping map[Role][]string

// RolesOf resolves the roles held by id. A role is held when any of the
// caller's access ids is listed for it.
func (m RoleMapping) RolesOf(id Identity) RoleSet {
	set := RoleSet{}
	ids := id.AccessIDs()
	for role, members := range m {
		for _, member := range members {
			member = NormalizeAccessID(member)
			for _, aid := range ids {
				if aid == member {
					set[role] = true
				}
			}
		}
	}
	return set
}

// NotAuthorizedError is returned when the caller lacks a role or permission.
type NotAuthorizedError struct {
	AccessID     string
	WorkbasketID string
	Permission   domain.Permission
	Roles        []Role
	Reason       DenyReason
}

func (e NotAuthorizedError) Error() string {
	who := e.AccessID
	if who == "" {
		who = "anonymous caller"
	}
	if len(e.Roles) > 0 && e.Permission == 0 {
		names := make([]string, 0, len(e.Roles))
		for _, r := range e.Roles {
			names = append(names, string(r))
		}
		sort.Strings(names)
		return fmt.Sprintf("%s is not authorized: one of roles %s required", who, strings.Join(names, ", "))
	}
	if e.WorkbasketID != "" {
		return fmt.Sprintf("%s is not authorized for %s on workbasket %s (%s)", who, e.Permission, e.WorkbasketID, e.Reason)
	}
	return fmt.Sprintf("%s is not authorized for %s (%s)", who, e.Permission, e.Reason)
}
