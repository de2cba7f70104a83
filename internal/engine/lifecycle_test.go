package engine_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"queueline/internal/domain"
	"queueline/internal/engine"
	"queueline/internal/engine/auth"
)

func TestClaimAndForceCompleteScenario(t *testing.T) {
	env := newTestEnv(t)
	env.classification(t)
	w, err := env.Engine.CreateWorkbasket(env.Ctx, businessAdmin, domain.Workbasket{
		Key: "key0", Domain: "DOMAIN_A", Name: "Key zero", Type: domain.WorkbasketGroup,
	})
	if err != nil {
		t.Fatal(err)
	}
	env.grant(t, w.ID, "U1", domain.PermRead|domain.PermAppend)
	u1 := auth.User("U1")

	task := env.task(t, u1, w.ID)
	if task.State != domain.StateReady || task.Owner != nil {
		t.Fatalf("new task: %+v", task)
	}
	if task.Due == nil || task.Planned == nil {
		t.Fatalf("planned and due should be derived: %+v", task)
	}

	claimed, err := env.Engine.Claim(env.Ctx, u1, task.ID)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.State != domain.StateClaimed || claimed.Owner == nil || *claimed.Owner != "U1" || claimed.Claimed == nil {
		t.Fatalf("claimed task: %+v", claimed)
	}

	done, err := env.Engine.ForceComplete(env.Ctx, u1, task.ID)
	if err != nil {
		t.Fatalf("force complete: %v", err)
	}
	if done.State != domain.StateCompleted || done.Completed == nil || done.Owner == nil || *done.Owner != "U1" {
		t.Fatalf("completed task: %+v", done)
	}
	stored, err := env.Engine.GetTask(env.Ctx, u1, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.State != domain.StateCompleted || stored.Completed == nil || stored.Owner == nil {
		t.Fatalf("stored task: %+v", stored)
	}
}

func TestConcurrentClaimHasOneWinner(t *testing.T) {
	env := newTestEnv(t)
	env.classification(t)
	w := env.workbasket(t, "race")
	env.grant(t, w.ID, "group-1", domain.PermRead|domain.PermOpen)
	task := env.task(t, taskAdmin, w.ID)

	const racers = 8
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		won    int
		lost   int
		others []error
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := env.Engine.Claim(env.Ctx, auth.User(fmt.Sprintf("racer-%d", i), "group-1"), task.ID)
			mu.Lock()
			defer mu.Unlock()
			var io engine.InvalidOwnerError
			switch {
			case err == nil:
				won++
			case errors.As(err, &io):
				lost++
			default:
				others = append(others, err)
			}
		}(i)
	}
	wg.Wait()
	if won != 1 || lost != racers-1 || len(others) != 0 {
		t.Fatalf("won=%d lost=%d others=%v", won, lost, others)
	}
}

func TestCancelClaimOwnership(t *testing.T) {
	env := newTestEnv(t)
	env.classification(t)
	w := env.workbasket(t, "k")
	env.grant(t, w.ID, "group-1", domain.PermRead)
	owner := auth.User("user-1-1", "group-1")
	other := auth.User("user-1-2", "group-1")
	task := env.task(t, taskAdmin, w.ID)

	if _, err := env.Engine.Claim(env.Ctx, owner, task.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}
	_, err := env.Engine.CancelClaim(env.Ctx, other, task.ID)
	var io engine.InvalidOwnerError
	if !errors.As(err, &io) {
		t.Fatalf("cancel claim by non-owner: expected invalid owner, got %v", err)
	}
	_, err = env.Engine.Claim(env.Ctx, other, task.ID)
	if !errors.As(err, &io) {
		t.Fatalf("claim of claimed task: expected invalid owner, got %v", err)
	}
	_, err = env.Engine.ForceCancelClaim(env.Ctx, other, task.ID)
	var na auth.NotAuthorizedError
	if !errors.As(err, &na) {
		t.Fatalf("force cancel without role: expected not authorized, got %v", err)
	}

	released, err := env.Engine.ForceCancelClaim(env.Ctx, taskAdmin, task.ID)
	if err != nil {
		t.Fatalf("force cancel claim: %v", err)
	}
	if released.State != domain.StateReady || released.Owner != nil || released.Claimed != nil {
		t.Fatalf("released task: %+v", released)
	}

	if _, err := env.Engine.Claim(env.Ctx, owner, task.ID); err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	released, err = env.Engine.CancelClaim(env.Ctx, owner, task.ID)
	if err != nil || released.State != domain.StateReady || released.Owner != nil {
		t.Fatalf("cancel claim by owner: %v %+v", err, released)
	}
	_, err = env.Engine.CancelClaim(env.Ctx, owner, task.ID)
	var is engine.InvalidStateError
	if !errors.As(err, &is) {
		t.Fatalf("cancel claim of READY task: expected invalid state, got %v", err)
	}
}

func TestCompleteRequiresClaimAndOwner(t *testing.T) {
	env := newTestEnv(t)
	env.classification(t)
	w := env.workbasket(t, "k")
	env.grant(t, w.ID, "group-1", domain.PermRead)
	owner := auth.User("user-1-1", "group-1")
	other := auth.User("user-1-2", "group-1")
	task := env.task(t, taskAdmin, w.ID)

	_, err := env.Engine.Complete(env.Ctx, owner, task.ID)
	var is engine.InvalidStateError
	if !errors.As(err, &is) {
		t.Fatalf("complete READY task: expected invalid state, got %v", err)
	}
	if _, err := env.Engine.Claim(env.Ctx, owner, task.ID); err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.Complete(env.Ctx, other, task.ID)
	var io engine.InvalidOwnerError
	if !errors.As(err, &io) {
		t.Fatalf("complete by non-owner: expected invalid owner, got %v", err)
	}
	done, err := env.Engine.Complete(env.Ctx, owner, task.ID)
	if err != nil || done.State != domain.StateCompleted || done.Completed == nil {
		t.Fatalf("complete: %v %+v", err, done)
	}
	again, err := env.Engine.Complete(env.Ctx, owner, task.ID)
	if err != nil || again.Modified != done.Modified {
		t.Fatalf("completing twice should return the task unchanged: %v", err)
	}
}

func TestForceCompleteReadyTaskClaimsForCaller(t *testing.T) {
	env := newTestEnv(t)
	env.classification(t)
	w := env.workbasket(t, "k")
	task := env.task(t, taskAdmin, w.ID)

	done, err := env.Engine.ForceComplete(env.Ctx, taskAdmin, task.ID)
	if err != nil {
		t.Fatalf("force complete: %v", err)
	}
	if done.State != domain.StateCompleted || done.Owner == nil || *done.Owner != "taskadmin" || done.Claimed == nil {
		t.Fatalf("force completed READY task: %+v", done)
	}
}

func TestCancelTerminalTaskFails(t *testing.T) {
	env := newTestEnv(t)
	env.classification(t)
	w := env.workbasket(t, "k")
	env.grant(t, w.ID, "user-1-1", domain.PermRead|domain.PermTransfer)
	user := auth.User("user-1-1")
	task := env.task(t, taskAdmin, w.ID)
	if _, err := env.Engine.Claim(env.Ctx, user, task.ID); err != nil {
		t.Fatal(err)
	}

	cancelled, err := env.Engine.Cancel(env.Ctx, user, task.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.State != domain.StateCancelled || cancelled.Completed == nil || cancelled.Owner != nil {
		t.Fatalf("cancelled task: %+v", cancelled)
	}
	_, err = env.Engine.Cancel(env.Ctx, user, task.ID)
	var is engine.InvalidStateError
	if !errors.As(err, &is) {
		t.Fatalf("cancel of CANCELLED task: expected invalid state, got %v", err)
	}
	_, err = env.Engine.Claim(env.Ctx, user, task.ID)
	if !errors.As(err, &is) {
		t.Fatalf("claim of CANCELLED task: expected invalid state, got %v", err)
	}
	_, err = env.Engine.Terminate(env.Ctx, taskAdmin, task.ID)
	if !errors.As(err, &is) {
		t.Fatalf("terminate of CANCELLED task: expected invalid state, got %v", err)
	}
}

func TestCancelRequiresTransfer(t *testing.T) {
	env := newTestEnv(t)
	env.classification(t)
	w := env.workbasket(t, "k")
	env.grant(t, w.ID, "user-1-1", domain.PermRead)
	task := env.task(t, taskAdmin, w.ID)

	_, err := env.Engine.Cancel(env.Ctx, auth.User("user-1-1"), task.ID)
	var na auth.NotAuthorizedError
	if !errors.As(err, &na) {
		t.Fatalf("expected not authorized, got %v", err)
	}
	terminated, err := env.Engine.Terminate(env.Ctx, admin, task.ID)
	if err != nil || terminated.State != domain.StateTerminated || terminated.Completed == nil {
		t.Fatalf("terminate: %v %+v", err, terminated)
	}
}

func TestTransferKeepsStateAndSetsFlags(t *testing.T) {
	env := newTestEnv(t)
	env.classification(t)
	src := env.workbasket(t, "src")
	dst := env.workbasket(t, "dst")
	user := auth.User("user-1-1")
	env.grant(t, src.ID, "user-1-1", domain.PermRead|domain.PermTransfer)
	task := env.task(t, taskAdmin, src.ID)
	if _, err := env.Engine.Claim(env.Ctx, user, task.ID); err != nil {
		t.Fatal(err)
	}

	_, err := env.Engine.Transfer(env.Ctx, user, task.ID, dst.ID, true)
	var na auth.NotAuthorizedError
	if !errors.As(err, &na) {
		t.Fatalf("transfer without append on target: expected not authorized, got %v", err)
	}
	env.grant(t, dst.ID, "user-1-1", domain.PermAppend)
	moved, err := env.Engine.Transfer(env.Ctx, user, task.ID, dst.ID, true)
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if moved.Workbasket.ID != dst.ID || moved.State != domain.StateClaimed || !moved.Transferred || moved.Read {
		t.Fatalf("transferred task: %+v", moved)
	}

	if _, err := env.Engine.DeleteWorkbasket(env.Ctx, admin, src.ID); err != nil {
		t.Fatal(err)
	}
	other := env.task(t, taskAdmin, dst.ID)
	marked := env.workbasket(t, "marked")
	if _, err := env.Engine.CreateTask(env.Ctx, taskAdmin, engine.TaskInput{
		WorkbasketID:   marked.ID,
		Classification: engine.ClassificationRef{Key: "L10000"},
		PrimaryObjRef:  other.PrimaryObjRef,
	}); err != nil {
		t.Fatal(err)
	}
	if deleted, err := env.Engine.DeleteWorkbasket(env.Ctx, admin, marked.ID); err != nil || deleted {
		t.Fatalf("mark: %v %v", err, deleted)
	}
	_, err = env.Engine.Transfer(env.Ctx, taskAdmin, other.ID, marked.ID, false)
	var ia engine.InvalidArgumentError
	if !errors.As(err, &ia) {
		t.Fatalf("transfer into marked basket: expected invalid argument, got %v", err)
	}
}

func TestTransferTasksReportsPerTask(t *testing.T) {
	env := newTestEnv(t)
	env.classification(t)
	src := env.workbasket(t, "src")
	dst := env.workbasket(t, "dst")
	a := env.task(t, taskAdmin, src.ID)
	b := env.task(t, taskAdmin, src.ID)
	if _, err := env.Engine.ForceComplete(env.Ctx, taskAdmin, b.ID); err != nil {
		t.Fatal(err)
	}

	res, err := env.Engine.TransferTasks(env.Ctx, taskAdmin, dst.ID, []string{a.ID, b.ID, "TKI:missing"}, true)
	if err != nil {
		t.Fatalf("transfer tasks: %v", err)
	}
	if len(res.Failed) != 2 || res.Failed[a.ID] != nil {
		t.Fatalf("unexpected failures: %v", res.Failed)
	}
	var is engine.InvalidStateError
	if !errors.As(res.Failed[b.ID], &is) {
		t.Fatalf("completed task: expected invalid state, got %v", res.Failed[b.ID])
	}
	var nf engine.NotFoundError
	if !errors.As(res.Failed["TKI:missing"], &nf) {
		t.Fatalf("missing task: expected not found, got %v", res.Failed["TKI:missing"])
	}
	if _, err := env.Engine.TransferTasks(env.Ctx, taskAdmin, "WBI:missing", []string{a.ID}, true); !errors.As(err, &nf) {
		t.Fatalf("unknown target: expected not found, got %v", err)
	}
}

func TestTransferAlongDistributionTargetsOnly(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Tasks.TransferRequiresDistributionTarget = true
	env.classification(t)
	src := env.workbasket(t, "src")
	dst := env.workbasket(t, "dst")
	task := env.task(t, taskAdmin, src.ID)

	_, err := env.Engine.Transfer(env.Ctx, taskAdmin, task.ID, dst.ID, true)
	var ia engine.InvalidArgumentError
	if !errors.As(err, &ia) {
		t.Fatalf("expected invalid argument without edge, got %v", err)
	}
	if err := env.Engine.AddDistributionTarget(env.Ctx, admin, src.ID, dst.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Transfer(env.Ctx, taskAdmin, task.ID, dst.ID, true); err != nil {
		t.Fatalf("transfer along edge: %v", err)
	}
}

func TestSelectAndClaimTakesHighestPriority(t *testing.T) {
	env := newTestEnv(t)
	env.classification(t)
	w := env.workbasket(t, "k")
	env.grant(t, w.ID, "user-1-1", domain.PermRead|domain.PermOpen)
	low := env.task(t, taskAdmin, w.ID)
	high, err := env.Engine.CreateTask(env.Ctx, taskAdmin, engine.TaskInput{
		WorkbasketID:   w.ID,
		Classification: engine.ClassificationRef{Key: "L10000"},
		PrimaryObjRef:  low.PrimaryObjRef,
		Priority:       intPtr(9),
	})
	if err != nil {
		t.Fatal(err)
	}
	user := auth.User("user-1-1")

	first, err := env.Engine.SelectAndClaim(env.Ctx, user, engine.TaskQuery{WorkbasketIDs: []string{w.ID}})
	if err != nil || first.ID != high.ID || first.State != domain.StateClaimed {
		t.Fatalf("first select: %v %+v", err, first)
	}
	second, err := env.Engine.SelectAndClaim(env.Ctx, user, engine.TaskQuery{WorkbasketIDs: []string{w.ID}})
	if err != nil || second.ID != low.ID {
		t.Fatalf("second select: %v %+v", err, second)
	}
	_, err = env.Engine.SelectAndClaim(env.Ctx, user, engine.TaskQuery{WorkbasketIDs: []string{w.ID}})
	var nf engine.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("nothing left: expected not found, got %v", err)
	}
}

func TestUpdateTaskGuards(t *testing.T) {
	env := newTestEnv(t)
	env.classification(t)
	w := env.workbasket(t, "k")
	env.grant(t, w.ID, "user-1-1", domain.PermRead)
	user := auth.User("user-1-1")
	task := env.task(t, taskAdmin, w.ID)

	note := "call back"
	ext := "EXT-1"
	updated, err := env.Engine.UpdateTask(env.Ctx, user, engine.TaskUpdate{ID: task.ID, Modified: task.Modified, Note: &note, ExternalID: &ext})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Note != note || updated.ExternalID == nil || *updated.ExternalID != ext {
		t.Fatalf("updated task: %+v", updated)
	}

	_, err = env.Engine.UpdateTask(env.Ctx, user, engine.TaskUpdate{ID: task.ID, Modified: task.Modified, Note: &note})
	var ce engine.ConcurrencyError
	if !errors.As(err, &ce) {
		t.Fatalf("stale update: expected concurrency error, got %v", err)
	}

	changed := "EXT-2"
	_, err = env.Engine.UpdateTask(env.Ctx, user, engine.TaskUpdate{ID: task.ID, Modified: updated.Modified, ExternalID: &changed})
	var ia engine.InvalidArgumentError
	if !errors.As(err, &ia) {
		t.Fatalf("external id change: expected invalid argument, got %v", err)
	}

	_, err = env.Engine.CreateTask(env.Ctx, taskAdmin, engine.TaskInput{
		ExternalID:     &ext,
		WorkbasketID:   w.ID,
		Classification: engine.ClassificationRef{Key: "L10000"},
		PrimaryObjRef:  task.PrimaryObjRef,
	})
	var ae engine.AlreadyExistsError
	if !errors.As(err, &ae) {
		t.Fatalf("duplicate external id: expected already exists, got %v", err)
	}

	done, err := env.Engine.ForceComplete(env.Ctx, taskAdmin, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.UpdateTask(env.Ctx, taskAdmin, engine.TaskUpdate{ID: task.ID, Modified: done.Modified, Note: &note})
	var is engine.InvalidStateError
	if !errors.As(err, &is) {
		t.Fatalf("update of completed task: expected invalid state, got %v", err)
	}
}

func TestExternalIDIsTrimmed(t *testing.T) {
	env := newTestEnv(t)
	env.classification(t)
	w := env.workbasket(t, "k")
	padded := " EXT-1 "
	task, err := env.Engine.CreateTask(env.Ctx, taskAdmin, engine.TaskInput{
		ExternalID:     &padded,
		WorkbasketID:   w.ID,
		Classification: engine.ClassificationRef{Key: "L10000"},
		PrimaryObjRef:  domain.ObjectReference{Company: "MyCompany", System: "MySystem", SystemInstance: "MyInstance", Type: "MyType", Value: "1"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if task.ExternalID == nil || *task.ExternalID != "EXT-1" {
		t.Fatalf("expected trimmed external id, got %v", task.ExternalID)
	}

	bare := "EXT-1"
	_, err = env.Engine.CreateTask(env.Ctx, taskAdmin, engine.TaskInput{
		ExternalID:     &bare,
		WorkbasketID:   w.ID,
		Classification: engine.ClassificationRef{Key: "L10000"},
		PrimaryObjRef:  task.PrimaryObjRef,
	})
	var ae engine.AlreadyExistsError
	if !errors.As(err, &ae) {
		t.Fatalf("duplicate external id: expected already exists, got %v", err)
	}

	note := "same id written back"
	updated, err := env.Engine.UpdateTask(env.Ctx, taskAdmin, engine.TaskUpdate{ID: task.ID, Modified: task.Modified, Note: &note, ExternalID: &padded})
	if err != nil {
		t.Fatalf("update with unchanged external id: %v", err)
	}
	if updated.Note != note || *updated.ExternalID != "EXT-1" {
		t.Fatalf("updated task: %+v", updated)
	}
}

func TestCreateTaskWithOwnerIsClaimed(t *testing.T) {
	env := newTestEnv(t)
	env.classification(t)
	w := env.workbasket(t, "k")
	task, err := env.Engine.CreateTask(env.Ctx, taskAdmin, engine.TaskInput{
		WorkbasketKey:    "K",
		WorkbasketDomain: "DOMAIN_A",
		Classification:   engine.ClassificationRef{Key: "L10000"},
		PrimaryObjRef:    domain.ObjectReference{Company: "c", Type: "t", Value: "v"},
		Owner:            "user-1-1",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if task.Workbasket.ID != w.ID || task.State != domain.StateClaimed || task.Owner == nil || task.Claimed == nil {
		t.Fatalf("pre-assigned task: %+v", task)
	}
	if task.Due == nil || *task.Due != "2024-01-03T09:00:00.000000000Z" {
		t.Fatalf("due from P2D: %v", task.Due)
	}

	_, err = env.Engine.CreateTask(env.Ctx, taskAdmin, engine.TaskInput{
		WorkbasketID:   w.ID,
		Classification: engine.ClassificationRef{Key: "NOPE"},
		PrimaryObjRef:  task.PrimaryObjRef,
	})
	var nf engine.NotFoundError
	if !errors.As(err, &nf) || nf.Kind != domain.KindClassification {
		t.Fatalf("unknown classification: expected not found, got %v", err)
	}
}

func TestDeleteTaskRules(t *testing.T) {
	env := newTestEnv(t)
	env.classification(t)
	w := env.workbasket(t, "k")
	open := env.task(t, taskAdmin, w.ID)
	finished := env.task(t, taskAdmin, w.ID)
	if _, err := env.Engine.ForceComplete(env.Ctx, taskAdmin, finished.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CreateComment(env.Ctx, taskAdmin, finished.ID, "done and dusted"); err != nil {
		t.Fatal(err)
	}

	if err := env.Engine.DeleteTask(env.Ctx, taskAdmin, finished.ID); err == nil {
		t.Fatalf("taskadmin must not delete tasks")
	}
	res, err := env.Engine.DeleteTasks(env.Ctx, admin, []string{open.ID, finished.ID})
	if err != nil {
		t.Fatal(err)
	}
	var is engine.InvalidStateError
	if len(res.Failed) != 1 || !errors.As(res.Failed[open.ID], &is) {
		t.Fatalf("bulk delete failures: %v", res.Failed)
	}
	n, err := env.Engine.Repo.CountComments(env.Ctx, env.Engine.DB, finished.ID)
	if err != nil || n != 0 {
		t.Fatalf("comments of deleted task: %v %d", err, n)
	}
	if err := env.Engine.ForceDeleteTask(env.Ctx, admin, open.ID); err != nil {
		t.Fatalf("force delete: %v", err)
	}
	_, err = env.Engine.GetTask(env.Ctx, admin, open.ID)
	var nf engine.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCommentsBelongToCreator(t *testing.T) {
	env := newTestEnv(t)
	env.classification(t)
	w := env.workbasket(t, "k")
	env.grant(t, w.ID, "group-1", domain.PermRead)
	author := auth.User("user-1-1", "group-1")
	other := auth.User("user-1-2", "group-1")
	task := env.task(t, taskAdmin, w.ID)

	c, err := env.Engine.CreateComment(env.Ctx, author, task.ID, "first")
	if err != nil {
		t.Fatal(err)
	}
	c.Text = "edited"
	if _, err := env.Engine.UpdateComment(env.Ctx, other, c); err == nil {
		t.Fatalf("non-creator edit should fail")
	}
	edited, err := env.Engine.UpdateComment(env.Ctx, author, c)
	if err != nil || edited.Text != "edited" {
		t.Fatalf("edit: %v %+v", err, edited)
	}
	if err := env.Engine.DeleteComment(env.Ctx, other, c.ID); err == nil {
		t.Fatalf("non-creator delete should fail")
	}
	if err := env.Engine.DeleteComment(env.Ctx, admin, c.ID); err != nil {
		t.Fatalf("admin delete: %v", err)
	}
	list, err := env.Engine.ListComments(env.Ctx, author, task.ID)
	if err != nil || len(list) != 0 {
		t.Fatalf("comments left: %v %+v", err, list)
	}
	if _, err := env.Engine.ListComments(env.Ctx, auth.User("user-2-1"), task.ID); err == nil {
		t.Fatalf("comments should require read on the workbasket")
	}
}

func TestQueryTasksVisibility(t *testing.T) {
	env := newTestEnv(t)
	env.classification(t)
	mine := env.workbasket(t, "mine")
	theirs := env.workbasket(t, "theirs")
	env.grant(t, mine.ID, "user-1-1", domain.PermRead)
	env.task(t, taskAdmin, mine.ID)
	env.task(t, taskAdmin, theirs.ID)

	got, err := env.Engine.QueryTasks(env.Ctx, auth.User("user-1-1"), engine.TaskQuery{})
	if err != nil || len(got) != 1 || got[0].Workbasket.ID != mine.ID {
		t.Fatalf("visible tasks: %v %+v", err, got)
	}
	all, err := env.Engine.QueryTasks(env.Ctx, taskAdmin, engine.TaskQuery{States: []domain.TaskState{domain.StateReady}})
	if err != nil || len(all) != 2 {
		t.Fatalf("admin tasks: %v %d", err, len(all))
	}
}

func intPtr(v int) *int { return &v }
