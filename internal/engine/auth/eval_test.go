package auth_test

import (
	"errors"
	"strings"
	"testing"

	"queueline/internal/domain"
	"queueline/internal/engine/auth"
)

func TestEvaluate(t *testing.T) {
	grants := []auth.Grant{
		{AccessID: "User-1-1", Permissions: domain.PermRead},
		{AccessID: "group-1", Permissions: domain.PermAppend},
		{AccessID: "group-2", Permissions: domain.PermAll},
	}
	cases := []struct {
		name     string
		id       auth.Identity
		roles    auth.RoleSet
		bypass   []auth.Role
		required domain.Permission
		decision auth.Decision
		reason   auth.DenyReason
	}{
		{"user row", auth.User("user-1-1"), nil, nil, domain.PermRead, auth.Allow, auth.ReasonNone},
		{"union of user and group", auth.User("USER-1-1", "Group-1"), nil, nil, domain.PermRead | domain.PermAppend, auth.Allow, auth.ReasonNone},
		{"missing bit", auth.User("user-1-1"), nil, nil, domain.PermOpen, auth.Deny, auth.ReasonMissingPermission},
		{"no rows", auth.User("user-9"), nil, nil, domain.PermRead, auth.Deny, auth.ReasonNoAccessItems},
		{"anonymous", auth.Identity{}, nil, nil, domain.PermRead, auth.Deny, auth.ReasonAnonymous},
		{"bypass role", auth.User("admin"), auth.RoleSet{auth.RoleAdmin: true}, []auth.Role{auth.RoleAdmin}, domain.PermDistribute, auth.Allow, auth.ReasonNone},
		{"role not in bypass", auth.User("ta"), auth.RoleSet{auth.RoleTaskAdmin: true}, []auth.Role{auth.RoleAdmin}, domain.PermRead, auth.Deny, auth.ReasonNoAccessItems},
	}
	for _, tc := range cases {
		res := auth.Evaluate(auth.Request{Identity: tc.id, Roles: tc.roles, Bypass: tc.bypass, Required: tc.required, Grants: grants})
		if res.Decision != tc.decision || res.Reason != tc.reason {
			t.Fatalf("%s: got %s/%s, want %s/%s", tc.name, res.Decision, res.Reason, tc.decision, tc.reason)
		}
	}

	res := auth.Evaluate(auth.Request{Identity: auth.User("user-1-1"), Required: domain.PermRead | domain.PermOpen, Grants: grants})
	if res.Granted != domain.PermRead || res.Missing != domain.PermOpen {
		t.Fatalf("granted %s missing %s", res.Granted, res.Missing)
	}
}

func TestRoleMapping(t *testing.T) {
	m := auth.RoleMapping{
		auth.RoleAdmin:     {"Admin"},
		auth.RoleTaskAdmin: {"ops-group"},
	}
	roles := m.RolesOf(auth.User("someone", "OPS-GROUP"))
	if !roles[auth.RoleTaskAdmin] || roles[auth.RoleAdmin] {
		t.Fatalf("roles via group: %v", roles.List())
	}
	if !m.RolesOf(auth.User("admin")).HasAny(auth.RoleAdmin) {
		t.Fatalf("admin role not resolved case-insensitively")
	}
}

func TestResultErr(t *testing.T) {
	id := auth.User("user-1-1")
	err := auth.RequireRole(auth.RoleSet{}, auth.RoleAdmin, auth.RoleBusinessAdmin).Err(id, "", 0, auth.RoleAdmin, auth.RoleBusinessAdmin)
	var na auth.NotAuthorizedError
	if !errors.As(err, &na) || na.Reason != auth.ReasonRoleRequired {
		t.Fatalf("expected role error, got %v", err)
	}
	if !strings.Contains(err.Error(), "admin, businessadmin") {
		t.Fatalf("message should name the roles: %s", err)
	}
	if err := auth.RequireRole(auth.RoleSet{auth.RoleBusinessAdmin: true}, auth.RoleAdmin, auth.RoleBusinessAdmin).Err(id, "", 0); err != nil {
		t.Fatalf("held role denied: %v", err)
	}
	err = auth.Evaluate(auth.Request{Identity: id, Required: domain.PermRead}).Err(id, "WBI:1", domain.PermRead)
	if !strings.Contains(err.Error(), "WBI:1") {
		t.Fatalf("message should name the workbasket: %s", err)
	}
}
