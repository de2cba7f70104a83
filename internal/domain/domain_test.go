package domain_test

import (
	"encoding/json"
	"testing"

	"queueline/internal/domain"
)

func TestPermissionSet(t *testing.T) {
	p := domain.PermRead.With(domain.PermAppend)
	if !p.Has(domain.PermRead) || !p.Has(domain.PermRead|domain.PermAppend) {
		t.Fatalf("expected read and append in %s", p)
	}
	if p.Has(domain.PermOpen) || p.Has(0) {
		t.Fatalf("unexpected bits held by %s", p)
	}
	if got := p.Without(domain.PermRead); got != domain.PermAppend {
		t.Fatalf("without read: %s", got)
	}
	if p.String() != "read|append" || domain.Permission(0).String() != "none" {
		t.Fatalf("string forms: %q %q", p.String(), domain.Permission(0).String())
	}
	if domain.Permission(1 << 20).Valid() {
		t.Fatalf("out of range bit should be invalid")
	}
}

func TestParsePermissions(t *testing.T) {
	p, err := domain.ParsePermissions([]string{"READ", "custom_3", "Distribute"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p != domain.PermRead|domain.PermCustom3|domain.PermDistribute {
		t.Fatalf("parsed %s", p)
	}
	if _, err := domain.ParsePermission("delete"); err == nil {
		t.Fatalf("expected unknown permission error")
	}

	var item domain.AccessItem
	if err := json.Unmarshal([]byte(`{"permissions":["open","transfer"]}`), &item); err != nil {
		t.Fatalf("unmarshal names: %v", err)
	}
	if item.Permissions != domain.PermOpen|domain.PermTransfer {
		t.Fatalf("names decoded to %s", item.Permissions)
	}
	if err := json.Unmarshal([]byte(`{"permissions":5}`), &item); err != nil {
		t.Fatalf("unmarshal bits: %v", err)
	}
	if item.Permissions != domain.PermRead|domain.PermAppend {
		t.Fatalf("bits decoded to %s", item.Permissions)
	}
}

func TestTaskStateTransitions(t *testing.T) {
	legal := [][2]domain.TaskState{
		{domain.StateReady, domain.StateClaimed},
		{domain.StateClaimed, domain.StateReady},
		{domain.StateClaimed, domain.StateCompleted},
		{domain.StateReady, domain.StateCancelled},
		{domain.StateClaimed, domain.StateTerminated},
	}
	for _, tr := range legal {
		if !domain.CanTransition(tr[0], tr[1]) {
			t.Fatalf("%s -> %s should be legal", tr[0], tr[1])
		}
	}
	for _, from := range []domain.TaskState{domain.StateCompleted, domain.StateCancelled, domain.StateTerminated} {
		if !from.Terminal() {
			t.Fatalf("%s should be terminal", from)
		}
		for _, to := range []domain.TaskState{domain.StateReady, domain.StateClaimed, domain.StateCompleted, domain.StateCancelled} {
			if domain.CanTransition(from, to) {
				t.Fatalf("%s is absorbing but allows -> %s", from, to)
			}
		}
	}
	if domain.CanTransition(domain.StateReady, domain.StateReady) {
		t.Fatalf("self transition should be illegal")
	}
	if _, ok := domain.ParseTaskStates([]string{"READY", "DONE"}); ok {
		t.Fatalf("unknown state accepted")
	}
}

func TestWorkbasketCopy(t *testing.T) {
	src := domain.Workbasket{
		ID: "WBI:1", Key: "GPK_KSC", Domain: "DOMAIN_A", Name: "Group KSC", Type: domain.WorkbasketGroup,
		Custom: []string{"c1"}, MarkedForDeletion: true, Created: "2024-01-01T00:00:00Z", Modified: "2024-01-02T00:00:00Z",
	}
	c := src.Copy("GPK_KSC_2")
	if c.ID != "" || c.Created != "" || c.Modified != "" || c.MarkedForDeletion {
		t.Fatalf("identity not cleared: %+v", c)
	}
	if c.Key != "GPK_KSC_2" || c.Domain != src.Domain || c.Name != src.Name || c.Type != src.Type {
		t.Fatalf("attributes not carried: %+v", c)
	}
	c.Custom[0] = "changed"
	if src.Custom[0] != "c1" {
		t.Fatalf("custom fields shared with source")
	}
}
