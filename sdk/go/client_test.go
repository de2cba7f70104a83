package queuelinesdk

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"queueline/internal/config"
	"queueline/internal/db"
	"queueline/internal/engine"
	"queueline/internal/migrate"
	"queueline/internal/server"
)

func newTestAPI(t *testing.T) string {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	handler, err := server.New(server.Config{
		Engine:   engine.New(conn, config.Default()),
		BasePath: "/v0",
		Auth: server.AuthConfig{
			JWTSecret:               "sdk-secret",
			AllowLegacyAccessHeader: true,
			Logger:                  slog.New(slog.NewTextHandler(io.Discard, nil)),
		},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv.URL
}

func clientAs(baseURL, accessID string) *Client {
	c := New(baseURL)
	c.AccessID = accessID
	return c
}

func TestClientTaskRoundTrip(t *testing.T) {
	ctx := context.Background()
	baseURL := newTestAPI(t)
	admin := clientAs(baseURL, "admin")
	user := clientAs(baseURL, "user-1-1")

	wb, err := admin.CreateWorkbasket(ctx, Workbasket{Key: "GPK_KSC", Domain: "DOMAIN_A", Name: "Group KSC", Type: "GROUP"})
	if err != nil {
		t.Fatalf("create workbasket: %v", err)
	}
	if wb.ID == "" {
		t.Fatalf("expected workbasket id")
	}
	if _, err := admin.GrantAccess(ctx, wb.ID, AccessItem{AccessID: "group-1", Permissions: []string{"read", "open", "append"}}); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if _, err := admin.CreateClassification(ctx, Classification{Key: "L10000", Domain: "DOMAIN_A", Priority: 2, ServiceLevel: "P2D"}); err != nil {
		t.Fatalf("create classification: %v", err)
	}

	me, err := user.Me(ctx)
	if err != nil {
		t.Fatalf("me: %v", err)
	}
	if me.AccessID != "user-1-1" {
		t.Fatalf("unexpected identity %+v", me)
	}

	task, err := user.CreateTask(ctx, NewTask{
		WorkbasketKey:    "GPK_KSC",
		WorkbasketDomain: "DOMAIN_A",
		Classification:   ClassRef{Key: "L10000", Domain: "DOMAIN_A"},
		PrimaryObjRef:    ObjectReference{Company: "MyCompany", Type: "MyType", Value: "4711"},
		Name:             "check invoice",
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if task.State != "READY" || task.Priority != 2 || task.Workbasket.ID != wb.ID {
		t.Fatalf("unexpected task %+v", task)
	}

	claimed, err := user.Claim(ctx, task.ID)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.State != "CLAIMED" || claimed.Owner != "user-1-1" {
		t.Fatalf("unexpected claimed task %+v", claimed)
	}
	if _, err := user.AddComment(ctx, task.ID, "looking into it"); err != nil {
		t.Fatalf("comment: %v", err)
	}
	done, err := user.Complete(ctx, task.ID, false)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.State != "COMPLETED" {
		t.Fatalf("expected COMPLETED, got %s", done.State)
	}

	page, err := user.ListTasks(ctx, TaskFilter{States: []string{"COMPLETED"}})
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].ID != task.ID {
		t.Fatalf("unexpected task page %+v", page)
	}

	events, err := admin.Events(ctx, 5)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) == 0 || events[0].Type != "task.completed" {
		t.Fatalf("expected task.completed first, got %+v", events)
	}
}

func TestClientDecodesErrorEnvelope(t *testing.T) {
	ctx := context.Background()
	baseURL := newTestAPI(t)
	admin := clientAs(baseURL, "admin")
	wb, err := admin.CreateWorkbasket(ctx, Workbasket{Key: "TPK_VIP", Domain: "DOMAIN_A", Name: "VIP", Type: "TOPIC"})
	if err != nil {
		t.Fatalf("create workbasket: %v", err)
	}

	stranger := clientAs(baseURL, "user-2-1")
	_, err = stranger.GetWorkbasket(ctx, wb.ID)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusForbidden || apiErr.Code != "not_authorized" {
		t.Fatalf("unexpected error %+v", apiErr)
	}

	anonymous := New(baseURL)
	_, err = anonymous.Me(ctx)
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}

	_, err = admin.GetTask(ctx, "TKI:missing")
	if !errors.As(err, &apiErr) || apiErr.Code != "not_found" {
		t.Fatalf("expected not_found, got %v", err)
	}
}

func TestClientBulkTransfer(t *testing.T) {
	ctx := context.Background()
	baseURL := newTestAPI(t)
	admin := clientAs(baseURL, "admin")
	src, err := admin.CreateWorkbasket(ctx, Workbasket{Key: "SRC", Domain: "DOMAIN_A", Name: "Source", Type: "GROUP"})
	if err != nil {
		t.Fatalf("create source: %v", err)
	}
	dst, err := admin.CreateWorkbasket(ctx, Workbasket{Key: "DST", Domain: "DOMAIN_A", Name: "Target", Type: "GROUP"})
	if err != nil {
		t.Fatalf("create target: %v", err)
	}
	for _, wb := range []Workbasket{src, dst} {
		if _, err := admin.GrantAccess(ctx, wb.ID, AccessItem{AccessID: "group-1", Permissions: []string{"read", "open", "append", "transfer"}}); err != nil {
			t.Fatalf("grant: %v", err)
		}
	}
	if _, err := admin.CreateClassification(ctx, Classification{Key: "T2000", Domain: "DOMAIN_A"}); err != nil {
		t.Fatalf("create classification: %v", err)
	}
	user := clientAs(baseURL, "user-1-1")
	task, err := user.CreateTask(ctx, NewTask{
		WorkbasketID:   src.ID,
		Classification: ClassRef{Key: "T2000", Domain: "DOMAIN_A"},
		PrimaryObjRef:  ObjectReference{Company: "MyCompany", Type: "MyType", Value: "1"},
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	failed, err := user.TransferTasks(ctx, dst.ID, []string{task.ID, "TKI:missing"}, true)
	if err != nil {
		t.Fatalf("bulk transfer: %v", err)
	}
	if len(failed) != 1 || failed[0].TaskID != "TKI:missing" || failed[0].Error.Code != "not_found" {
		t.Fatalf("unexpected failures %+v", failed)
	}
	moved, err := user.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if moved.Workbasket.ID != dst.ID || !moved.Transferred {
		t.Fatalf("task not transferred: %+v", moved)
	}
	read, err := user.SetRead(ctx, task.ID, true)
	if err != nil {
		t.Fatalf("set read: %v", err)
	}
	if !read.Read {
		t.Fatalf("expected task marked read")
	}

	if err := admin.SetDistributionTargets(ctx, src.ID, []string{dst.ID}); err != nil {
		t.Fatalf("set targets: %v", err)
	}
	targets, err := admin.DistributionTargets(ctx, src.ID)
	if err != nil {
		t.Fatalf("targets: %v", err)
	}
	if len(targets) != 1 || targets[0].ID != dst.ID {
		t.Fatalf("unexpected targets %+v", targets)
	}
}
