package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"queueline/internal/config"
	"queueline/internal/db"
	"queueline/internal/domain"
	"queueline/internal/engine"
	"queueline/internal/engine/auth"
	"queueline/internal/migrate"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
}

func newTestEngine(t *testing.T, cfg *config.Config) engine.Engine {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return engine.New(conn, cfg)
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	e := newTestEngine(t, config.Default())
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth: AuthConfig{
			JWTSecret:               testSecret,
			AllowLegacyAccessHeader: true,
			Logger:                  slog.New(slog.NewTextHandler(io.Discard, nil)),
		},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &testServer{URL: srv.URL + "/v0", Engine: e, client: srv.Client()}
}

func as(accessID string) map[string]string {
	return map[string]string{"X-Access-Id": accessID}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader = bytes.NewReader(nil)
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := s.client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func (s *testServer) expect(t *testing.T, status int, method, path string, body any, headers map[string]string, out any) {
	t.Helper()
	res, data := s.do(t, method, path, body, headers)
	if res.StatusCode != status {
		t.Fatalf("%s %s: expected %d, got %d: %s", method, path, status, res.StatusCode, string(data))
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			t.Fatalf("unmarshal %s %s: %v", method, path, err)
		}
	}
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return env.Error.Code
}

// seed creates a workbasket readable by group-1 and a classification.
func (s *testServer) seed(t *testing.T) domain.Workbasket {
	t.Helper()
	var wb domain.Workbasket
	s.expect(t, http.StatusCreated, http.MethodPost, "/workbaskets", map[string]any{
		"key":    "GPK_KSC",
		"domain": "DOMAIN_A",
		"name":   "Group basket",
		"type":   "GROUP",
	}, as("businessadmin"), &wb)
	s.expect(t, http.StatusCreated, http.MethodPost, "/workbaskets/"+wb.ID+"/access-items", map[string]any{
		"access_id":   "group-1",
		"permissions": []string{"READ", "OPEN", "APPEND", "TRANSFER"},
	}, as("businessadmin"), nil)
	s.expect(t, http.StatusCreated, http.MethodPost, "/classifications", map[string]any{
		"key":           "L10000",
		"domain":        "DOMAIN_A",
		"name":          "Beratungsprotokoll",
		"priority":      2,
		"service_level": "P2D",
	}, as("admin"), nil)
	return wb
}

func (s *testServer) createTask(t *testing.T, wbID, caller string) domain.Task {
	t.Helper()
	var task domain.Task
	s.expect(t, http.StatusCreated, http.MethodPost, "/tasks", map[string]any{
		"workbasket_id":  wbID,
		"classification": map[string]any{"key": "L10000"},
		"primary_obj_ref": map[string]any{
			"company": "MyCompany1",
			"type":    "MyType1",
			"value":   "00000001",
		},
	}, as(caller), &task)
	return task
}

func TestCredentialsRequired(t *testing.T) {
	srv := newTestServer(t)
	res, data := srv.do(t, http.MethodGet, "/workbaskets", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(data))
	}
	srv.expect(t, http.StatusOK, http.MethodGet, "/health", nil, nil, nil)

	res, data = srv.do(t, http.MethodGet, "/me", nil, map[string]string{"Authorization": "Bearer not-a-token"})
	if res.StatusCode != http.StatusUnauthorized || errorCode(t, data) != "invalid_credentials" {
		t.Fatalf("expected invalid_credentials, got %d: %s", res.StatusCode, string(data))
	}
}

func TestTaskLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	wb := srv.seed(t)
	created := srv.createTask(t, wb.ID, "user-1-1")
	if created.State != domain.StateReady {
		t.Fatalf("expected READY, got %s", created.State)
	}
	if created.Priority != 2 {
		t.Fatalf("expected priority from classification, got %d", created.Priority)
	}

	var claimed domain.Task
	srv.expect(t, http.StatusOK, http.MethodPost, "/tasks/"+created.ID+"/claim", nil, as("user-1-2"), &claimed)
	if claimed.State != domain.StateClaimed || claimed.Owner == nil || *claimed.Owner != "user-1-2" {
		t.Fatalf("unexpected claim result: %+v", claimed)
	}

	res, data := srv.do(t, http.MethodPost, "/tasks/"+created.ID+"/claim", nil, as("user-1-1"))
	if res.StatusCode != http.StatusConflict || errorCode(t, data) != "invalid_owner" {
		t.Fatalf("expected invalid_owner conflict, got %d: %s", res.StatusCode, string(data))
	}

	var completed domain.Task
	srv.expect(t, http.StatusOK, http.MethodPost, "/tasks/"+created.ID+"/complete", nil, as("user-1-2"), &completed)
	if completed.State != domain.StateCompleted || completed.Completed == nil {
		t.Fatalf("unexpected complete result: %+v", completed)
	}

	res, data = srv.do(t, http.MethodPost, "/tasks/"+created.ID+"/cancel", nil, as("taskadmin"))
	if res.StatusCode != http.StatusConflict || errorCode(t, data) != "invalid_state" {
		t.Fatalf("expected invalid_state, got %d: %s", res.StatusCode, string(data))
	}

	var page paginatedTasks
	srv.expect(t, http.StatusOK, http.MethodGet, "/tasks?state=COMPLETED", nil, as("user-1-1"), &page)
	if len(page.Items) != 1 || page.Items[0].ID != created.ID {
		t.Fatalf("expected the completed task, got %+v", page.Items)
	}
	srv.expect(t, http.StatusOK, http.MethodGet, "/tasks", nil, as("user-2-1"), &page)
	if len(page.Items) != 0 {
		t.Fatalf("user outside group-1 should see no tasks, got %d", len(page.Items))
	}
}

func TestAuthorizationErrors(t *testing.T) {
	srv := newTestServer(t)
	wb := srv.seed(t)

	res, data := srv.do(t, http.MethodGet, "/workbaskets/"+wb.ID, nil, as("user-2-1"))
	if res.StatusCode != http.StatusForbidden || errorCode(t, data) != "not_authorized" {
		t.Fatalf("expected 403 not_authorized, got %d: %s", res.StatusCode, string(data))
	}
	res, data = srv.do(t, http.MethodPost, "/workbaskets", map[string]any{
		"key": "X", "domain": "DOMAIN_A", "name": "X", "type": "GROUP",
	}, as("user-1-1"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin create, got %d: %s", res.StatusCode, string(data))
	}
	res, data = srv.do(t, http.MethodGet, "/tasks/TKI:missing", nil, as("admin"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", res.StatusCode, string(data))
	}
	res, data = srv.do(t, http.MethodPost, "/workbaskets", map[string]any{
		"key": "GPK_KSC", "domain": "DOMAIN_A", "name": "dup", "type": "GROUP",
	}, as("businessadmin"))
	if res.StatusCode != http.StatusConflict || errorCode(t, data) != "already_exists" {
		t.Fatalf("expected already_exists, got %d: %s", res.StatusCode, string(data))
	}
}

func TestStaleWorkbasketUpdate(t *testing.T) {
	srv := newTestServer(t)
	wb := srv.seed(t)
	update := map[string]any{
		"key":      wb.Key,
		"domain":   wb.Domain,
		"name":     "Renamed",
		"type":     "GROUP",
		"modified": wb.Modified,
	}
	var updated domain.Workbasket
	srv.expect(t, http.StatusOK, http.MethodPut, "/workbaskets/"+wb.ID, update, as("businessadmin"), &updated)
	if updated.Name != "Renamed" {
		t.Fatalf("expected rename, got %q", updated.Name)
	}
	res, data := srv.do(t, http.MethodPut, "/workbaskets/"+wb.ID, update, as("businessadmin"))
	if res.StatusCode != http.StatusConflict || errorCode(t, data) != "concurrent_modification" {
		t.Fatalf("expected concurrent_modification, got %d: %s", res.StatusCode, string(data))
	}
}

func TestBulkTransferReportsFailures(t *testing.T) {
	srv := newTestServer(t)
	wb := srv.seed(t)
	var target domain.Workbasket
	srv.expect(t, http.StatusCreated, http.MethodPost, "/workbaskets", map[string]any{
		"key": "TPK_VIP", "domain": "DOMAIN_A", "name": "Target", "type": "TOPIC",
	}, as("businessadmin"), &target)
	srv.expect(t, http.StatusCreated, http.MethodPost, "/workbaskets/"+target.ID+"/access-items", map[string]any{
		"access_id":   "group-1",
		"permissions": []string{"read", "append"},
	}, as("businessadmin"), nil)

	movable := srv.createTask(t, wb.ID, "user-1-1")
	var res BulkResultResponse
	srv.expect(t, http.StatusOK, http.MethodPost, "/tasks/transfer", map[string]any{
		"target_id": target.ID,
		"task_ids":  []string{movable.ID, "TKI:missing"},
	}, as("user-1-1"), &res)
	if len(res.Failed) != 1 || res.Failed[0].TaskID != "TKI:missing" || res.Failed[0].Error.Code != "not_found" {
		t.Fatalf("unexpected bulk result: %+v", res)
	}
	var moved domain.Task
	srv.expect(t, http.StatusOK, http.MethodGet, "/tasks/"+movable.ID, nil, as("user-1-1"), &moved)
	if moved.Workbasket.ID != target.ID || !moved.Transferred || moved.Read {
		t.Fatalf("unexpected transferred task: %+v", moved)
	}
}

func TestAccessItemPermissionsRoundTrip(t *testing.T) {
	srv := newTestServer(t)
	wb := srv.seed(t)
	var items []AccessItemResponse
	srv.expect(t, http.StatusOK, http.MethodGet, "/workbaskets/"+wb.ID+"/access-items", nil, as("businessadmin"), &items)
	if len(items) != 1 {
		t.Fatalf("expected one grant, got %d", len(items))
	}
	got := strings.Join(items[0].Permissions, ",")
	if got != "read,open,append,transfer" {
		t.Fatalf("unexpected permissions %q", got)
	}
	res, data := srv.do(t, http.MethodPost, "/workbaskets/"+wb.ID+"/access-items", map[string]any{
		"access_id":   "user-2-1",
		"permissions": []string{"fly"},
	}, as("businessadmin"))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown permission, got %d: %s", res.StatusCode, string(data))
	}
}

func TestTokenAndAPIKeyAuth(t *testing.T) {
	srv := newTestServer(t)
	token, err := SignToken(testSecret, "user-1-1", []string{"extra-group"}, time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	bearer := map[string]string{"Authorization": "Bearer " + token}

	var who WhoAmIResponse
	srv.expect(t, http.StatusOK, http.MethodGet, "/me", nil, bearer, &who)
	if who.AccessID != "user-1-1" || who.Source != "jwt" {
		t.Fatalf("unexpected principal: %+v", who)
	}
	groups := strings.Join(who.Groups, ",")
	if !strings.Contains(groups, "extra-group") || !strings.Contains(groups, "group-1") {
		t.Fatalf("expected token and directory groups, got %v", who.Groups)
	}

	var key APIKeyResponse
	srv.expect(t, http.StatusCreated, http.MethodPost, "/api-keys", map[string]any{"name": "ci"}, bearer, &key)
	if !strings.HasPrefix(key.Key, "ql_") {
		t.Fatalf("expected plaintext key, got %q", key.Key)
	}
	srv.expect(t, http.StatusOK, http.MethodGet, "/me", nil, map[string]string{"X-Api-Key": key.Key}, &who)
	if who.AccessID != "user-1-1" || who.Source != "api_key" {
		t.Fatalf("unexpected api key principal: %+v", who)
	}

	srv.expect(t, http.StatusNoContent, http.MethodDelete, "/api-keys/"+key.ID, nil, as("admin"), nil)
	res, _ := srv.do(t, http.MethodGet, "/me", nil, map[string]string{"X-Api-Key": key.Key})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("revoked key should be rejected, got %d", res.StatusCode)
	}
}

func TestWebhookDelivery(t *testing.T) {
	var (
		mu       sync.Mutex
		received []*http.Request
		bodies   [][]byte
	)
	sink := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		received = append(received, r)
		bodies = append(bodies, data)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer sink.Close()

	cfg := config.Default()
	cfg.Webhooks = []config.Webhook{{URL: sink.URL, Secret: "s3cret", Events: []string{"workbasket.*"}}}
	e := newTestEngine(t, cfg)
	d := newWebhookDispatcher(e, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()
	d.prime(ctx)

	if _, err := e.CreateWorkbasket(ctx, auth.User("businessadmin"), domain.Workbasket{
		Key: "HOOK", Domain: "DOMAIN_A", Name: "Hook", Type: domain.WorkbasketGroup,
	}); err != nil {
		t.Fatalf("create workbasket: %v", err)
	}
	d.deliver(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("expected one delivery, got %d", len(received))
	}
	if got := received[0].Header.Get("X-Queueline-Event"); got != "workbasket.created" {
		t.Fatalf("unexpected event header %q", got)
	}
	want := "sha256=" + signPayload("s3cret", bodies[0])
	if got := received[0].Header.Get("X-Queueline-Signature"); got != want {
		t.Fatalf("signature mismatch: %q vs %q", got, want)
	}
}

func TestWebhookDispatcherStopsWithContext(t *testing.T) {
	cfg := config.Default()
	cfg.Webhooks = []config.Webhook{{URL: "http://127.0.0.1:1/hook"}}
	d := newWebhookDispatcher(newTestEngine(t, cfg), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if d == nil {
		t.Fatalf("expected a dispatcher for a configured hook")
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("dispatcher did not stop after cancel")
	}
}

func TestSubscriberTopics(t *testing.T) {
	s := newSubscriber(config.Webhook{URL: "http://hook", Events: []string{"task.*", " workbasket.deleted ", ""}})
	cases := map[string]bool{
		"task.claimed":        true,
		"workbasket.deleted":  true,
		"workbasket.created":  false,
		"access_item.created": false,
		"task":                false,
	}
	for evt, want := range cases {
		if got := s.wants(evt); got != want {
			t.Fatalf("wants(%q) = %v, want %v", evt, got, want)
		}
	}
	if !newSubscriber(config.Webhook{URL: "http://hook"}).wants("anything") {
		t.Fatalf("hook without topics should receive everything")
	}
}
