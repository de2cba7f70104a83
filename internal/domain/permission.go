package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Permission is a set of workbasket capabilities held by one accessor.
type Permission uint32

const (
	PermRead Permission = 1 << iota
	PermOpen
	PermAppend
	PermTransfer
	PermDistribute
	PermCustom1
	PermCustom2
	PermCustom3
	PermCustom4
	PermCustom5
	PermCustom6
	PermCustom7
	PermCustom8
	PermCustom9
	PermCustom10
	PermCustom11
	PermCustom12

	permLimit
)

// PermAll holds every defined capability.
const PermAll = permLimit - 1

var permissionNames = []string{
	"read", "open", "append", "transfer", "distribute",
	"custom1", "custom2", "custom3", "custom4", "custom5", "custom6",
	"custom7", "custom8", "custom9", "custom10", "custom11", "custom12",
}

// Has reports whether every bit of req is present. The empty set is never held.
func (p Permission) Has(req Permission) bool {
	return req != 0 && p&req == req
}

func (p Permission) With(o Permission) Permission    { return p | o }
func (p Permission) Without(o Permission) Permission { return p &^ o }

func (p Permission) Valid() bool {
	return p&^PermAll == 0
}

// Names lists the capabilities in declaration order.
func (p Permission) Names() []string {
	names := []string{}
	for i, name := range permissionNames {
		if p&(1<<i) != 0 {
			names = append(names, name)
		}
	}
	return names
}

func (p Permission) String() string {
	if p == 0 {
		return "none"
	}
	if !p.Valid() {
		return fmt.Sprintf("Permission(%#x)", uint32(p))
	}
	return strings.Join(p.Names(), "|")
}

// ParsePermission resolves one capability name. Names are case-insensitive and
// the underscore form used by older exports ("CUSTOM_3") is accepted.
func ParsePermission(name string) (Permission, error) {
	n := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), "_", ""))
	for i, candidate := range permissionNames {
		if candidate == n {
			return 1 << i, nil
		}
	}
	return 0, fmt.Errorf("unknown permission %q", name)
}

func ParsePermissions(names []string) (Permission, error) {
	var p Permission
	for _, name := range names {
		bit, err := ParsePermission(name)
		if err != nil {
			return 0, err
		}
		p |= bit
	}
	return p, nil
}

func (p Permission) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Names())
}

func (p *Permission) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		var raw uint32
		if err2 := json.Unmarshal(data, &raw); err2 != nil {
			return err
		}
		if !Permission(raw).Valid() {
			return fmt.Errorf("permission bits %#x out of range", raw)
		}
		*p = Permission(raw)
		return nil
	}
	parsed, err := ParsePermissions(names)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
