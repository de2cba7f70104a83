package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"queueline/internal/config"
	"queueline/internal/db"
	"queueline/internal/domain"
	"queueline/internal/engine"
	"queueline/internal/engine/auth"
	"queueline/internal/migrate"
	"queueline/internal/repo"
)

var (
	admin         = auth.User("admin")
	businessAdmin = auth.User("businessadmin")
	taskAdmin     = auth.User("taskadmin")
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func (env testEnv) workbasket(t *testing.T, key string) domain.Workbasket {
	t.Helper()
	w, err := env.Engine.CreateWorkbasket(env.Ctx, businessAdmin, domain.Workbasket{
		Key:    key,
		Domain: "DOMAIN_A",
		Name:   "Basket " + key,
		Type:   domain.WorkbasketGroup,
	})
	if err != nil {
		t.Fatalf("create workbasket %s: %v", key, err)
	}
	return w
}

func (env testEnv) grant(t *testing.T, workbasketID, accessID string, perms domain.Permission) domain.AccessItem {
	t.Helper()
	it, err := env.Engine.CreateAccessItem(env.Ctx, businessAdmin, domain.AccessItem{
		WorkbasketID: workbasketID,
		AccessID:     accessID,
		Permissions:  perms,
	})
	if err != nil {
		t.Fatalf("grant %s on %s: %v", accessID, workbasketID, err)
	}
	return it
}

func (env testEnv) classification(t *testing.T) domain.Classification {
	t.Helper()
	c, err := env.Engine.CreateClassification(env.Ctx, admin, domain.Classification{
		Key:          "L10000",
		Domain:       "DOMAIN_A",
		Category:     "EXTERNAL",
		Type:         "TASK",
		Name:         "Change address",
		Priority:     2,
		ServiceLevel: "P2D",
	})
	if err != nil {
		t.Fatalf("create classification: %v", err)
	}
	return c
}

func (env testEnv) task(t *testing.T, id auth.Identity, workbasketID string) domain.Task {
	t.Helper()
	task, err := env.Engine.CreateTask(env.Ctx, id, engine.TaskInput{
		WorkbasketID:   workbasketID,
		Classification: engine.ClassificationRef{Key: "L10000"},
		PrimaryObjRef:  domain.ObjectReference{Company: "MyCompany1", System: "MySystem1", Type: "MyType1", Value: "00000001"},
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func TestCreateWorkbasketRequiresAdminRole(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateWorkbasket(env.Ctx, auth.User("user-1-1", "group-1"), domain.Workbasket{
		Key: "k", Domain: "DOMAIN_A", Name: "n", Type: domain.WorkbasketGroup,
	})
	var na auth.NotAuthorizedError
	if !errors.As(err, &na) {
		t.Fatalf("expected not authorized, got %v", err)
	}
	if _, err := env.Engine.CreateWorkbasket(env.Ctx, admin, domain.Workbasket{
		Key: "k", Domain: "DOMAIN_A", Name: "n", Type: domain.WorkbasketGroup,
	}); err != nil {
		t.Fatalf("admin create: %v", err)
	}
}

func TestCreateWorkbasketValidation(t *testing.T) {
	env := newTestEnv(t)
	cases := []domain.Workbasket{
		{Domain: "DOMAIN_A", Name: "n", Type: domain.WorkbasketGroup},
		{Key: "k", Domain: "DOMAIN_A", Type: domain.WorkbasketGroup},
		{Key: "k", Name: "n", Type: domain.WorkbasketGroup},
		{Key: "k", Domain: "DOMAIN_A", Name: "n"},
		{Key: "k", Domain: "DOMAIN_A", Name: "n", Type: "QUEUE"},
	}
	for i, w := range cases {
		_, err := env.Engine.CreateWorkbasket(env.Ctx, admin, w)
		var iw engine.InvalidWorkbasketError
		if !errors.As(err, &iw) {
			t.Fatalf("case %d: expected invalid workbasket, got %v", i, err)
		}
	}
	_, err := env.Engine.CreateWorkbasket(env.Ctx, admin, domain.Workbasket{Key: "k", Domain: "DOMAIN_Z", Name: "n", Type: domain.WorkbasketGroup})
	var dnf engine.DomainNotFoundError
	if !errors.As(err, &dnf) {
		t.Fatalf("expected domain not found, got %v", err)
	}
}

func TestDuplicateWorkbasketKeyIgnoresCase(t *testing.T) {
	env := newTestEnv(t)
	env.workbasket(t, "key1")
	_, err := env.Engine.CreateWorkbasket(env.Ctx, businessAdmin, domain.Workbasket{
		Key: "KEY1", Domain: "domain_a", Name: "other", Type: domain.WorkbasketPersonal,
	})
	var ae engine.AlreadyExistsError
	if !errors.As(err, &ae) {
		t.Fatalf("expected already exists, got %v", err)
	}
}

func TestGetWorkbasketDoesNotDiscloseExistence(t *testing.T) {
	env := newTestEnv(t)
	w := env.workbasket(t, "hidden")
	stranger := auth.User("user-2-1", "group-2")

	_, err := env.Engine.GetWorkbasket(env.Ctx, stranger, w.ID)
	var na auth.NotAuthorizedError
	if !errors.As(err, &na) {
		t.Fatalf("existing basket: expected not authorized, got %v", err)
	}
	_, err = env.Engine.GetWorkbasket(env.Ctx, stranger, "WBI:does-not-exist")
	if !errors.As(err, &na) {
		t.Fatalf("missing basket: expected not authorized, got %v", err)
	}
	_, err = env.Engine.GetWorkbasket(env.Ctx, admin, "WBI:does-not-exist")
	var nf engine.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("admin: expected not found, got %v", err)
	}

	env.grant(t, w.ID, "group-2", domain.PermRead)
	got, err := env.Engine.GetWorkbasket(env.Ctx, stranger, w.ID)
	if err != nil || got.Key != "hidden" {
		t.Fatalf("granted read: %v %+v", err, got)
	}
}

func TestUpdateWorkbasketStaleModified(t *testing.T) {
	env := newTestEnv(t)
	w := env.workbasket(t, "guarded")
	stale := w

	w.Name = "renamed"
	updated, err := env.Engine.UpdateWorkbasket(env.Ctx, businessAdmin, w)
	if err != nil {
		t.Fatalf("first update: %v", err)
	}
	if updated.Modified == stale.Modified {
		t.Fatalf("modified stamp did not advance")
	}

	stale.Name = "lost update"
	_, err = env.Engine.UpdateWorkbasket(env.Ctx, businessAdmin, stale)
	var ce engine.ConcurrencyError
	if !errors.As(err, &ce) {
		t.Fatalf("expected concurrency error, got %v", err)
	}
	got, err := env.Engine.GetWorkbasket(env.Ctx, admin, w.ID)
	if err != nil || got.Name != "renamed" {
		t.Fatalf("stored workbasket changed: %v %+v", err, got)
	}
}

func TestUpdateWorkbasketChangedKeyAndDomainIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	w := env.workbasket(t, "fixed")
	w.Key, w.Domain = "InvalidKey", "InvalidDomain"
	_, err := env.Engine.UpdateWorkbasket(env.Ctx, businessAdmin, w)
	var nf engine.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected not found, got %T %v", err, err)
	}
	got, err := env.Engine.GetWorkbasket(env.Ctx, admin, w.ID)
	if err != nil || got.Key != "fixed" || got.Domain != "DOMAIN_A" {
		t.Fatalf("stored workbasket changed: %v %+v", err, got)
	}
}

func TestAccessItemUniquePerAccessor(t *testing.T) {
	env := newTestEnv(t)
	w := env.workbasket(t, "k")
	env.grant(t, w.ID, "User-1-1", domain.PermRead)
	_, err := env.Engine.CreateAccessItem(env.Ctx, admin, domain.AccessItem{
		WorkbasketID: w.ID, AccessID: "user-1-1", Permissions: domain.PermAppend,
	})
	var ae engine.AlreadyExistsError
	if !errors.As(err, &ae) {
		t.Fatalf("expected already exists, got %v", err)
	}
	items, err := env.Engine.ListAccessItems(env.Ctx, admin, w.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].Permissions != domain.PermRead {
		t.Fatalf("bits merged or duplicated: %+v", items)
	}
}

func TestPermissionsUnionAcrossGroups(t *testing.T) {
	env := newTestEnv(t)
	w := env.workbasket(t, "k")
	env.classification(t)
	env.grant(t, w.ID, "user-1-1", domain.PermRead)
	env.grant(t, w.ID, "group-1", domain.PermAppend)

	user := auth.User("user-1-1", "group-1")
	task := env.task(t, user, w.ID)
	if task.State != domain.StateReady {
		t.Fatalf("state %s", task.State)
	}
	if _, err := env.Engine.CreateTask(env.Ctx, auth.User("user-1-1"), engine.TaskInput{
		WorkbasketID:   w.ID,
		Classification: engine.ClassificationRef{Key: "L10000"},
		PrimaryObjRef:  task.PrimaryObjRef,
	}); err == nil {
		t.Fatalf("append without group membership should fail")
	}
}

func TestSetAccessItemsReplacesAll(t *testing.T) {
	env := newTestEnv(t)
	w := env.workbasket(t, "k")
	env.grant(t, w.ID, "user-1-1", domain.PermRead)

	_, err := env.Engine.SetAccessItems(env.Ctx, admin, w.ID, []domain.AccessItem{
		{AccessID: "user-1-2", Permissions: domain.PermRead},
		{AccessID: "USER-1-2", Permissions: domain.PermOpen},
	})
	var ae engine.AlreadyExistsError
	if !errors.As(err, &ae) {
		t.Fatalf("expected already exists for duplicate accessor, got %v", err)
	}

	items, err := env.Engine.SetAccessItems(env.Ctx, admin, w.ID, []domain.AccessItem{
		{AccessID: "user-1-2", Permissions: domain.PermRead | domain.PermOpen},
		{AccessID: "group-2", Permissions: domain.PermAppend},
	})
	if err != nil {
		t.Fatalf("set access items: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	stored, err := env.Engine.ListAccessItems(env.Ctx, admin, w.ID)
	if err != nil {
		t.Fatal(err)
	}
	for _, it := range stored {
		if it.AccessID == "user-1-1" {
			t.Fatalf("old grant survived replace")
		}
	}
	if len(stored) != 2 {
		t.Fatalf("expected 2 stored items, got %d", len(stored))
	}
}

func TestDistributionEdges(t *testing.T) {
	env := newTestEnv(t)
	w1 := env.workbasket(t, "W1")
	w2 := env.workbasket(t, "W2")

	if err := env.Engine.AddDistributionTarget(env.Ctx, businessAdmin, w1.ID, w2.ID); err != nil {
		t.Fatalf("add edge: %v", err)
	}
	if err := env.Engine.AddDistributionTarget(env.Ctx, businessAdmin, w1.ID, w2.ID); err != nil {
		t.Fatalf("duplicate edge should be a no-op: %v", err)
	}
	targets, err := env.Engine.GetDistributionTargets(env.Ctx, admin, w1.ID)
	if err != nil || len(targets) != 1 || targets[0].ID != w2.ID {
		t.Fatalf("targets: %v %+v", err, targets)
	}
	sources, err := env.Engine.GetDistributionSources(env.Ctx, taskAdmin, w2.ID)
	if err != nil || len(sources) != 1 || sources[0].ID != w1.ID {
		t.Fatalf("sources: %v %+v", err, sources)
	}

	if err := env.Engine.RemoveDistributionTarget(env.Ctx, businessAdmin, w1.ID, w2.ID); err != nil {
		t.Fatalf("remove edge: %v", err)
	}
	targets, err = env.Engine.GetDistributionTargets(env.Ctx, admin, w1.ID)
	if err != nil || len(targets) != 0 {
		t.Fatalf("expected no targets, got %v %+v", err, targets)
	}
	if err := env.Engine.RemoveDistributionTarget(env.Ctx, businessAdmin, w1.ID, w2.ID); err != nil {
		t.Fatalf("repeated removal should be a no-op: %v", err)
	}
}

func TestDistributionRequiresDistributeOnSource(t *testing.T) {
	env := newTestEnv(t)
	src := env.workbasket(t, "src")
	dst := env.workbasket(t, "dst")
	user := auth.User("user-1-1")
	env.grant(t, dst.ID, "user-1-1", domain.PermDistribute)

	err := env.Engine.AddDistributionTarget(env.Ctx, user, src.ID, dst.ID)
	var na auth.NotAuthorizedError
	if !errors.As(err, &na) {
		t.Fatalf("distribute on target only: expected not authorized, got %v", err)
	}
	env.grant(t, src.ID, "user-1-1", domain.PermDistribute)
	if err := env.Engine.AddDistributionTarget(env.Ctx, user, src.ID, dst.ID); err != nil {
		t.Fatalf("distribute on source: %v", err)
	}
	err = env.Engine.AddDistributionTarget(env.Ctx, admin, src.ID, src.ID)
	var ia engine.InvalidArgumentError
	if !errors.As(err, &ia) {
		t.Fatalf("self edge: expected invalid argument, got %v", err)
	}
}

func TestSetDistributionTargetsIsAtomic(t *testing.T) {
	env := newTestEnv(t)
	src := env.workbasket(t, "src")
	a := env.workbasket(t, "a")
	b := env.workbasket(t, "b")
	if err := env.Engine.SetDistributionTargets(env.Ctx, admin, src.ID, []string{a.ID}); err != nil {
		t.Fatalf("set targets: %v", err)
	}

	err := env.Engine.SetDistributionTargets(env.Ctx, admin, src.ID, []string{b.ID, "WBI:missing"})
	var nf engine.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected not found, got %v", err)
	}
	targets, err := env.Engine.GetDistributionTargets(env.Ctx, admin, src.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(targets) != 1 || targets[0].ID != a.ID {
		t.Fatalf("edge set changed after failed set: %+v", targets)
	}

	if err := env.Engine.SetDistributionTargets(env.Ctx, admin, src.ID, []string{b.ID, b.ID}); err != nil {
		t.Fatalf("replace targets: %v", err)
	}
	targets, _ = env.Engine.GetDistributionTargets(env.Ctx, admin, src.ID)
	if len(targets) != 1 || targets[0].ID != b.ID {
		t.Fatalf("replace result: %+v", targets)
	}
}

func TestGetDistributionTargetsUnknownBasket(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.GetDistributionTargets(env.Ctx, admin, "WBI:missing")
	var nf engine.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDeleteUnreferencedWorkbasketRemovesEverything(t *testing.T) {
	env := newTestEnv(t)
	w := env.workbasket(t, "doomed")
	other := env.workbasket(t, "other")
	env.grant(t, w.ID, "user-1-1", domain.PermRead)
	env.grant(t, w.ID, "group-1", domain.PermAppend)
	if err := env.Engine.AddDistributionTarget(env.Ctx, admin, w.ID, other.ID); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.AddDistributionTarget(env.Ctx, admin, other.ID, w.ID); err != nil {
		t.Fatal(err)
	}

	deleted, err := env.Engine.DeleteWorkbasket(env.Ctx, businessAdmin, w.ID)
	if err != nil || !deleted {
		t.Fatalf("delete: %v deleted=%v", err, deleted)
	}
	items, err := env.Engine.Repo.ListAccessItems(env.Ctx, env.Engine.DB, repo.AccessItemFilters{WorkbasketIDs: []string{w.ID}})
	if err != nil || len(items) != 0 {
		t.Fatalf("residual access items: %v %+v", err, items)
	}
	edges, err := env.Engine.Repo.CountEdgesTouching(env.Ctx, env.Engine.DB, w.ID)
	if err != nil || edges != 0 {
		t.Fatalf("residual edges: %v %d", err, edges)
	}
	_, err = env.Engine.GetWorkbasket(env.Ctx, admin, w.ID)
	var nf engine.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestDeleteReferencedWorkbasketIsDeferred(t *testing.T) {
	env := newTestEnv(t)
	env.classification(t)
	w := env.workbasket(t, "busy")
	env.grant(t, w.ID, "user-1-1", domain.PermRead|domain.PermAppend)
	task := env.task(t, auth.User("user-1-1"), w.ID)

	deleted, err := env.Engine.DeleteWorkbasket(env.Ctx, admin, w.ID)
	if err != nil || deleted {
		t.Fatalf("expected deferred delete: %v deleted=%v", err, deleted)
	}
	got, err := env.Engine.GetWorkbasket(env.Ctx, admin, w.ID)
	if err != nil || !got.MarkedForDeletion {
		t.Fatalf("expected marked for deletion: %v %+v", err, got)
	}
	items, _ := env.Engine.ListAccessItems(env.Ctx, admin, w.ID)
	if len(items) != 0 {
		t.Fatalf("access items of marked basket should be gone: %+v", items)
	}

	_, err = env.Engine.CreateTask(env.Ctx, taskAdmin, engine.TaskInput{
		WorkbasketID:   w.ID,
		Classification: engine.ClassificationRef{Key: "L10000"},
		PrimaryObjRef:  task.PrimaryObjRef,
	})
	var ia engine.InvalidArgumentError
	if !errors.As(err, &ia) {
		t.Fatalf("create in marked basket: expected invalid argument, got %v", err)
	}

	purged, err := env.Engine.PurgeMarkedWorkbaskets(env.Ctx, admin)
	if err != nil || len(purged) != 0 {
		t.Fatalf("purge with live task: %v %v", err, purged)
	}
	if err := env.Engine.ForceDeleteTask(env.Ctx, admin, task.ID); err != nil {
		t.Fatalf("force delete task: %v", err)
	}
	purged, err = env.Engine.PurgeMarkedWorkbaskets(env.Ctx, admin)
	if err != nil || len(purged) != 1 || purged[0] != w.ID {
		t.Fatalf("purge: %v %v", err, purged)
	}
}

func TestDeleteWorkbasketCountsCompletedTasks(t *testing.T) {
	env := newTestEnv(t)
	env.classification(t)
	w := env.workbasket(t, "archive")
	task := env.task(t, taskAdmin, w.ID)
	if _, err := env.Engine.ForceComplete(env.Ctx, taskAdmin, task.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	deleted, err := env.Engine.DeleteWorkbasket(env.Ctx, admin, w.ID)
	if err != nil || deleted {
		t.Fatalf("completed task should still defer delete: %v deleted=%v", err, deleted)
	}
	got, err := env.Engine.GetWorkbasket(env.Ctx, admin, w.ID)
	if err != nil || !got.MarkedForDeletion {
		t.Fatalf("expected marked for deletion: %v %+v", err, got)
	}
}

func TestDeleteAccessItemsForAccessor(t *testing.T) {
	env := newTestEnv(t)
	a := env.workbasket(t, "a")
	b := env.workbasket(t, "b")
	env.grant(t, a.ID, "user-1-1", domain.PermRead)
	env.grant(t, b.ID, "user-1-1", domain.PermRead|domain.PermOpen)
	env.grant(t, b.ID, "group-1", domain.PermRead)

	_, err := env.Engine.DeleteAccessItemsForAccessor(env.Ctx, admin, "group-1")
	var ia engine.InvalidArgumentError
	if !errors.As(err, &ia) {
		t.Fatalf("group accessor: expected invalid argument, got %v", err)
	}
	n, err := env.Engine.DeleteAccessItemsForAccessor(env.Ctx, admin, "USER-1-1")
	if err != nil || n != 2 {
		t.Fatalf("revoke: %v n=%d", err, n)
	}
	left, err := env.Engine.QueryAccessItems(env.Ctx, admin, nil, []string{a.ID, b.ID})
	if err != nil || len(left) != 1 || left[0].AccessID != "group-1" {
		t.Fatalf("remaining items: %v %+v", err, left)
	}
}

func TestClassificationInUse(t *testing.T) {
	env := newTestEnv(t)
	c := env.classification(t)
	w := env.workbasket(t, "k")
	env.task(t, taskAdmin, w.ID)

	err := env.Engine.DeleteClassification(env.Ctx, admin, c.ID)
	var iu engine.InUseError
	if !errors.As(err, &iu) {
		t.Fatalf("expected in use, got %v", err)
	}
}

func TestHistoryRecordsMutations(t *testing.T) {
	env := newTestEnv(t)
	w := env.workbasket(t, "k")
	env.grant(t, w.ID, "user-1-1", domain.PermRead)
	evts, err := env.Engine.History(env.Ctx, admin, 10, 0, "", domain.KindWorkbasket, w.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(evts) != 1 || evts[0].Type != "workbasket.created" || evts[0].ActorID != "businessadmin" {
		t.Fatalf("unexpected events: %+v", evts)
	}
	if _, err := env.Engine.History(env.Ctx, auth.User("user-1-1"), 10, 0, "", "", ""); err == nil {
		t.Fatalf("history should be admin only")
	}
}
