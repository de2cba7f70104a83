// Package directory resolves users and groups. It answers who an accessor is,
// never what it may do.
package directory

import (
	"context"
	"sort"
	"strings"

	"queueline/internal/config"
)

// Kind distinguishes directory entries.
type Kind string

const (
	KindUser  Kind = "user"
	KindGroup Kind = "group"
)

type Entry struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Kind Kind   `json:"kind"`
}

// Directory is the accessor registry consulted by the engine and the server.
type Directory interface {
	IsUser(ctx context.Context, accessID string) (bool, error)
	IsGroup(ctx context.Context, accessID string) (bool, error)
	GroupsOf(ctx context.Context, userID string) ([]string, error)
	Search(ctx context.Context, prefix string) ([]Entry, error)
}

// Static is a Directory held in memory, usually loaded from config.
type Static struct {
	users  map[string]config.DirectoryUser
	groups map[string]config.DirectoryGroup
}

// FromConfig builds a Static directory from the directory section of cfg.
func FromConfig(cfg config.Directory) *Static {
	s := &Static{
		users:  make(map[string]config.DirectoryUser, len(cfg.Users)),
		groups: make(map[string]config.DirectoryGroup, len(cfg.Groups)),
	}
	for _, g := range cfg.Groups {
		s.groups[key(g.ID)] = g
	}
	for _, u := range cfg.Users {
		s.users[key(u.ID)] = u
		for _, g := range u.Groups {
			if _, ok := s.groups[key(g)]; !ok {
				s.groups[key(g)] = config.DirectoryGroup{ID: g}
			}
		}
	}
	return s
}

func key(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

func (s *Static) IsUser(_ context.Context, accessID string) (bool, error) {
	_, ok := s.users[key(accessID)]
	return ok, nil
}

func (s *Static) IsGroup(_ context.Context, accessID string) (bool, error) {
	_, ok := s.groups[key(accessID)]
	return ok, nil
}

// GroupsOf returns the groups of a user. Unknown users have no groups.
func (s *Static) GroupsOf(_ context.Context, userID string) ([]string, error) {
	u, ok := s.users[key(userID)]
	if !ok {
		return nil, nil
	}
	out := make([]string, 0, len(u.Groups))
	for _, g := range u.Groups {
		out = append(out, key(g))
	}
	sort.Strings(out)
	return out, nil
}

// Search lists users and groups whose id or name starts with prefix, ignoring case.
func (s *Static) Search(_ context.Context, prefix string) ([]Entry, error) {
	p := key(prefix)
	var out []Entry
	for id, u := range s.users {
		if strings.HasPrefix(id, p) || strings.HasPrefix(strings.ToLower(u.Name), p) {
			out = append(out, Entry{ID: id, Name: u.Name, Kind: KindUser})
		}
	}
	for id, g := range s.groups {
		if strings.HasPrefix(id, p) || strings.HasPrefix(strings.ToLower(g.Name), p) {
			out = append(out, Entry{ID: id, Name: g.Name, Kind: KindGroup})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind > out[j].Kind
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
