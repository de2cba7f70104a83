package directory_test

import (
	"context"
	"testing"

	"queueline/internal/config"
	"queueline/internal/directory"
)

func TestStaticDirectory(t *testing.T) {
	ctx := context.Background()
	dir := directory.FromConfig(config.Directory{
		Users: []config.DirectoryUser{
			{ID: "User-1-1", Name: "Max", Groups: []string{"Group-1", "group-2"}},
			{ID: "teamlead-1"},
		},
		Groups: []config.DirectoryGroup{{ID: "group-1", Name: "Team One"}},
	})

	if ok, _ := dir.IsUser(ctx, "user-1-1"); !ok {
		t.Fatalf("expected user-1-1 to be a user")
	}
	if ok, _ := dir.IsUser(ctx, "group-1"); ok {
		t.Fatalf("group-1 must not be a user")
	}
	if ok, _ := dir.IsGroup(ctx, "GROUP-2"); !ok {
		t.Fatalf("groups referenced by users should be known")
	}
	groups, err := dir.GroupsOf(ctx, "USER-1-1")
	if err != nil {
		t.Fatalf("groups: %v", err)
	}
	if len(groups) != 2 || groups[0] != "group-1" || groups[1] != "group-2" {
		t.Fatalf("unexpected groups %v", groups)
	}
	if groups, _ := dir.GroupsOf(ctx, "nobody"); len(groups) != 0 {
		t.Fatalf("unknown user should have no groups, got %v", groups)
	}

	entries, err := dir.Search(ctx, "te")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected teamlead-1 and Team One, got %+v", entries)
	}
	if entries[0].Kind != directory.KindUser || entries[0].ID != "teamlead-1" {
		t.Fatalf("users sort first, got %+v", entries[0])
	}
}
