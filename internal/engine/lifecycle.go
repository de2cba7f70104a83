package engine

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"queueline/internal/domain"
	"queueline/internal/engine/auth"
	"queueline/internal/events"
)

// writeLifecycle persists state, ownership, placement and flags of t when the
// stored stamp still equals prev.
func (e Engine) writeLifecycle(ctx context.Context, tx *sql.Tx, t domain.Task, prev string) error {
	ok, err := e.Repo.UpdateTaskLifecycle(ctx, tx, t, prev)
	if err != nil {
		return err
	}
	if !ok {
		return ConcurrencyError{Kind: domain.KindTask, ID: t.ID, Expected: prev}
	}
	return nil
}

// transition moves t to next, or fails with InvalidState.
func transition(t *domain.Task, next domain.TaskState, op string) error {
	if !domain.CanTransition(t.State, next) {
		return InvalidStateError{TaskID: t.ID, State: t.State, Operation: op}
	}
	t.State = next
	return nil
}

// claimTx claims t for the caller with the storage compare-and-set. A task
// claimed by the caller already is returned unchanged.
func (e Engine) claimTx(ctx context.Context, tx *sql.Tx, ev events.Writer, id auth.Identity, t domain.Task) (domain.Task, error) {
	if t.State == domain.StateClaimed {
		if isOwner(t, id) {
			return t, nil
		}
		return domain.Task{}, InvalidOwnerError{TaskID: t.ID, Owner: deref(t.Owner), Caller: id.Name()}
	}
	if !domain.CanTransition(t.State, domain.StateClaimed) {
		return domain.Task{}, InvalidStateError{TaskID: t.ID, State: t.State, Operation: "claim"}
	}
	stamp := domain.FormatTime(e.now())
	modified := e.nextStamp(t.Modified)
	ok, err := e.Repo.ClaimTask(ctx, tx, t.ID, id.Name(), stamp, modified)
	if err != nil {
		return domain.Task{}, err
	}
	if !ok {
		return domain.Task{}, InvalidOwnerError{TaskID: t.ID, Caller: id.Name()}
	}
	t.State = domain.StateClaimed
	t.Owner = strPtr(id.Name())
	t.Claimed = strPtr(stamp)
	t.Read = true
	t.Modified = modified
	if err := ev.Append(ctx, tx, events.TaskClaimed, domain.KindTask, t.ID, id.Name(), events.EventPayload{"workbasket_id": t.Workbasket.ID}); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// Claim makes the caller the owner of a READY task. Losing a race against
// another claimer fails with InvalidOwner.
func (e Engine) Claim(ctx context.Context, id auth.Identity, taskID string) (domain.Task, error) {
	tx, ev, err := e.begin(ctx)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.loadTask(ctx, tx, id, taskID, domain.PermRead)
	if err != nil {
		return domain.Task{}, err
	}
	claimed, err := e.claimTx(ctx, tx, ev, id, t)
	if err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return claimed, nil
}

// SelectAndClaim claims the highest priority READY task matching query in a
// workbasket where the caller holds read and open.
func (e Engine) SelectAndClaim(ctx context.Context, id auth.Identity, query TaskQuery) (domain.Task, error) {
	query.States = []domain.TaskState{domain.StateReady}
	query.ByPriority = true
	query.Page.Limit = 1
	tx, ev, err := e.begin(ctx)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	found, err := e.queryTasks(ctx, tx, id, query, domain.PermRead|domain.PermOpen)
	if err != nil {
		return domain.Task{}, err
	}
	if len(found) == 0 {
		return domain.Task{}, NotFoundError{Kind: domain.KindTask, ID: "matching the query"}
	}
	t, err := e.claimTx(ctx, tx, ev, id, found[0])
	if err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// CancelClaim hands a task claimed by the caller back to its workbasket.
func (e Engine) CancelClaim(ctx context.Context, id auth.Identity, taskID string) (domain.Task, error) {
	return e.cancelClaim(ctx, id, taskID, false)
}

// ForceCancelClaim releases a claim regardless of the owner. Restricted to
// admin and taskadmin.
func (e Engine) ForceCancelClaim(ctx context.Context, id auth.Identity, taskID string) (domain.Task, error) {
	if err := e.requireRole(id, taskAdmins...); err != nil {
		return domain.Task{}, err
	}
	return e.cancelClaim(ctx, id, taskID, true)
}

func (e Engine) cancelClaim(ctx context.Context, id auth.Identity, taskID string, force bool) (domain.Task, error) {
	tx, ev, err := e.begin(ctx)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.loadTask(ctx, tx, id, taskID, domain.PermRead)
	if err != nil {
		return domain.Task{}, err
	}
	if t.State != domain.StateClaimed {
		return domain.Task{}, InvalidStateError{TaskID: t.ID, State: t.State, Operation: "cancel claim"}
	}
	if !force && !isOwner(t, id) {
		return domain.Task{}, InvalidOwnerError{TaskID: t.ID, Owner: deref(t.Owner), Caller: id.Name()}
	}
	previousOwner := deref(t.Owner)
	prev := t.Modified
	if err := transition(&t, domain.StateReady, "cancel claim"); err != nil {
		return domain.Task{}, err
	}
	t.Owner, t.Claimed = nil, nil
	t.Modified = e.nextStamp(prev)
	if err := e.writeLifecycle(ctx, tx, t, prev); err != nil {
		return domain.Task{}, err
	}
	if err := ev.Append(ctx, tx, events.TaskClaimCancelled, domain.KindTask, t.ID, id.Name(), events.EventPayload{
		"previous_owner": previousOwner, "forced": force,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// Complete finishes a task claimed by the caller. Completing a COMPLETED task
// returns it unchanged.
func (e Engine) Complete(ctx context.Context, id auth.Identity, taskID string) (domain.Task, error) {
	return e.complete(ctx, id, taskID, false)
}

// ForceComplete finishes a task regardless of its owner. A READY task is
// claimed for the caller first; an existing owner is kept.
func (e Engine) ForceComplete(ctx context.Context, id auth.Identity, taskID string) (domain.Task, error) {
	return e.complete(ctx, id, taskID, true)
}

func (e Engine) complete(ctx context.Context, id auth.Identity, taskID string, force bool) (domain.Task, error) {
	tx, ev, err := e.begin(ctx)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.loadTask(ctx, tx, id, taskID, domain.PermRead)
	if err != nil {
		return domain.Task{}, err
	}
	if t.State == domain.StateCompleted {
		return t, nil
	}
	switch {
	case t.State.Terminal():
		return domain.Task{}, InvalidStateError{TaskID: t.ID, State: t.State, Operation: "complete"}
	case t.State == domain.StateReady && !force:
		return domain.Task{}, InvalidStateError{TaskID: t.ID, State: t.State, Operation: "complete"}
	case t.State == domain.StateReady:
		if t, err = e.claimTx(ctx, tx, ev, id, t); err != nil {
			return domain.Task{}, err
		}
	case !force && !isOwner(t, id):
		return domain.Task{}, InvalidOwnerError{TaskID: t.ID, Owner: deref(t.Owner), Caller: id.Name()}
	}
	prev := t.Modified
	if err := transition(&t, domain.StateCompleted, "complete"); err != nil {
		return domain.Task{}, err
	}
	t.Modified = e.nextStamp(prev)
	t.Completed = strPtr(t.Modified)
	if err := e.writeLifecycle(ctx, tx, t, prev); err != nil {
		return domain.Task{}, err
	}
	if err := ev.Append(ctx, tx, events.TaskCompleted, domain.KindTask, t.ID, id.Name(), events.EventPayload{
		"owner": deref(t.Owner), "forced": force,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// Cancel ends a READY or CLAIMED task. The caller needs transfer on the
// workbasket, or admin or taskadmin. Cancelling a finished task fails.
func (e Engine) Cancel(ctx context.Context, id auth.Identity, taskID string) (domain.Task, error) {
	return e.end(ctx, id, taskID, domain.StateCancelled, domain.PermTransfer, events.TaskCancelled)
}

// Terminate ends a READY or CLAIMED task administratively.
func (e Engine) Terminate(ctx context.Context, id auth.Identity, taskID string) (domain.Task, error) {
	if err := e.requireRole(id, taskAdmins...); err != nil {
		return domain.Task{}, err
	}
	return e.end(ctx, id, taskID, domain.StateTerminated, domain.PermRead, events.TaskTerminated)
}

func (e Engine) end(ctx context.Context, id auth.Identity, taskID string, next domain.TaskState, required domain.Permission, evtType string) (domain.Task, error) {
	op := "cancel"
	if next == domain.StateTerminated {
		op = "terminate"
	}
	tx, ev, err := e.begin(ctx)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.loadTask(ctx, tx, id, taskID, required)
	if err != nil {
		return domain.Task{}, err
	}
	prev := t.Modified
	previousOwner := deref(t.Owner)
	if err := transition(&t, next, op); err != nil {
		return domain.Task{}, err
	}
	t.Owner = nil
	t.Modified = e.nextStamp(prev)
	t.Completed = strPtr(t.Modified)
	if err := e.writeLifecycle(ctx, tx, t, prev); err != nil {
		return domain.Task{}, err
	}
	if err := ev.Append(ctx, tx, evtType, domain.KindTask, t.ID, id.Name(), events.EventPayload{"previous_owner": previousOwner}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// Transfer moves a non-terminal task into target keeping its state. The caller
// needs append on target and read on the source, plus transfer on the source
// when setTransferFlag is set.
func (e Engine) Transfer(ctx context.Context, id auth.Identity, taskID, targetID string, setTransferFlag bool) (domain.Task, error) {
	if err := requireID("target workbasket id", targetID); err != nil {
		return domain.Task{}, err
	}
	required := domain.PermRead
	if setTransferFlag {
		required = required.With(domain.PermTransfer)
	}
	tx, ev, err := e.begin(ctx)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.loadTask(ctx, tx, id, taskID, required)
	if err != nil {
		return domain.Task{}, err
	}
	if t.State.Terminal() {
		return domain.Task{}, InvalidStateError{TaskID: t.ID, State: t.State, Operation: "transfer"}
	}
	target, err := e.Repo.GetWorkbasket(ctx, tx, targetID)
	if err != nil {
		return domain.Task{}, notFound(err, domain.KindWorkbasket, targetID)
	}
	if err := e.authorize(ctx, tx, id, target.ID, domain.PermAppend, taskAdmins...); err != nil {
		return domain.Task{}, err
	}
	if target.MarkedForDeletion {
		return domain.Task{}, InvalidArgumentError{Field: "target workbasket id", Reason: "workbasket " + target.ID + " is marked for deletion"}
	}
	source := t.Workbasket.ID
	if e.Config != nil && e.Config.Tasks.TransferRequiresDistributionTarget && source != target.ID {
		ok, err := e.Repo.EdgeExists(ctx, tx, source, target.ID)
		if err != nil {
			return domain.Task{}, err
		}
		if !ok {
			return domain.Task{}, InvalidArgumentError{Field: "target workbasket id", Reason: fmt.Sprintf("%s is not a distribution target of %s", target.ID, source)}
		}
	}
	prev := t.Modified
	t.Workbasket = target.Summary()
	t.Read = false
	if setTransferFlag {
		t.Transferred = true
	}
	t.Modified = e.nextStamp(prev)
	if err := e.writeLifecycle(ctx, tx, t, prev); err != nil {
		return domain.Task{}, err
	}
	if err := ev.Append(ctx, tx, events.TaskTransferred, domain.KindTask, t.ID, id.Name(), events.EventPayload{
		"from": source, "to": target.ID,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// BulkResult collects the per-task failures of a bulk operation. Task ids
// absent from Failed succeeded.
type BulkResult struct {
	Failed map[string]error
}

func (b BulkResult) HasErrors() bool {
	return len(b.Failed) > 0
}

// FailedIDs returns the failed task ids in sorted order.
func (b BulkResult) FailedIDs() []string {
	ids := make([]string, 0, len(b.Failed))
	for id := range b.Failed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (b *BulkResult) add(taskID string, err error) {
	if err == nil {
		return
	}
	if b.Failed == nil {
		b.Failed = map[string]error{}
	}
	b.Failed[taskID] = err
}

// TransferTasks transfers each task on its own; one failing task does not
// stop the others. An unknown target fails the whole call.
func (e Engine) TransferTasks(ctx context.Context, id auth.Identity, targetID string, taskIDs []string, setTransferFlag bool) (BulkResult, error) {
	if err := requireID("target workbasket id", targetID); err != nil {
		return BulkResult{}, err
	}
	if len(taskIDs) == 0 {
		return BulkResult{}, InvalidArgumentError{Field: "task ids", Reason: "must not be empty"}
	}
	ok, err := e.Repo.WorkbasketExists(ctx, e.DB, targetID)
	if err != nil {
		return BulkResult{}, err
	}
	if !ok {
		return BulkResult{}, NotFoundError{Kind: domain.KindWorkbasket, ID: targetID}
	}
	var res BulkResult
	for _, taskID := range taskIDs {
		_, err := e.Transfer(ctx, id, taskID, targetID, setTransferFlag)
		res.add(taskID, err)
	}
	return res, nil
}

// DeleteTask removes a finished task. Restricted to admin.
func (e Engine) DeleteTask(ctx context.Context, id auth.Identity, taskID string) error {
	return e.deleteTask(ctx, id, taskID, false)
}

// ForceDeleteTask removes a task in any state. Restricted to admin.
func (e Engine) ForceDeleteTask(ctx context.Context, id auth.Identity, taskID string) error {
	return e.deleteTask(ctx, id, taskID, true)
}

func (e Engine) deleteTask(ctx context.Context, id auth.Identity, taskID string, force bool) error {
	if err := e.requireRole(id, auth.RoleAdmin); err != nil {
		return err
	}
	if err := requireID("task id", taskID); err != nil {
		return err
	}
	tx, ev, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTask(ctx, tx, taskID)
	if err != nil {
		return notFound(err, domain.KindTask, taskID)
	}
	if !force && !t.State.Terminal() {
		return InvalidStateError{TaskID: t.ID, State: t.State, Operation: "delete"}
	}
	if err := e.Repo.DeleteTask(ctx, tx, taskID); err != nil {
		return notFound(err, domain.KindTask, taskID)
	}
	if err := ev.Append(ctx, tx, events.TaskDeleted, domain.KindTask, taskID, id.Name(), events.EventPayload{
		"workbasket_id": t.Workbasket.ID, "state": t.State, "forced": force,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteTasks deletes finished tasks one by one and reports per-task failures.
func (e Engine) DeleteTasks(ctx context.Context, id auth.Identity, taskIDs []string) (BulkResult, error) {
	if err := e.requireRole(id, auth.RoleAdmin); err != nil {
		return BulkResult{}, err
	}
	if len(taskIDs) == 0 {
		return BulkResult{}, InvalidArgumentError{Field: "task ids", Reason: "must not be empty"}
	}
	var res BulkResult
	for _, taskID := range taskIDs {
		res.add(taskID, e.DeleteTask(ctx, id, taskID))
	}
	return res, nil
}
