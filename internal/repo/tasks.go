package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"queueline/internal/domain"
)

const taskSelect = `SELECT t.id, t.external_id, t.workbasket_id, w.key, w.domain, w.name, w.type, w.marked_for_deletion,
t.classification_id, c.key, COALESCE(c.category,''), COALESCE(t.business_process_id,''),
t.por_company, COALESCE(t.por_system,''), COALESCE(t.por_system_instance,''), t.por_type, t.por_value,
t.state, t.owner, t.creator, COALESCE(t.name,''), COALESCE(t.note,''), COALESCE(t.description,''), t.priority, t.is_read, t.is_transferred,
t.created, t.claimed, t.completed, t.modified, t.planned, t.due, t.received, t.custom_json
FROM tasks t
JOIN workbaskets w ON w.id=t.workbasket_id
JOIN classifications c ON c.id=t.classification_id`

func scanTask(row rowScanner) (domain.Task, error) {
	var t domain.Task
	var externalID, owner, claimed, completed, planned, due, received, custom sql.NullString
	var marked, read, transferred int
	err := row.Scan(&t.ID, &externalID, &t.Workbasket.ID, &t.Workbasket.Key, &t.Workbasket.Domain, &t.Workbasket.Name, &t.Workbasket.Type, &marked,
		&t.Classification.ID, &t.Classification.Key, &t.Classification.Category, &t.BusinessProcessID,
		&t.PrimaryObjRef.Company, &t.PrimaryObjRef.System, &t.PrimaryObjRef.SystemInstance, &t.PrimaryObjRef.Type, &t.PrimaryObjRef.Value,
		&t.State, &owner, &t.Creator, &t.Name, &t.Note, &t.Description, &t.Priority, &read, &transferred,
		&t.Created, &claimed, &completed, &t.Modified, &planned, &due, &received, &custom)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.Workbasket.MarkedForDeletion = marked != 0
	t.Read = read != 0
	t.Transferred = transferred != 0
	t.ExternalID = optionalString(externalID)
	t.Owner = optionalString(owner)
	t.Claimed = optionalString(claimed)
	t.Completed = optionalString(completed)
	t.Planned = optionalString(planned)
	t.Due = optionalString(due)
	t.Received = optionalString(received)
	t.Custom, err = decodeStrings(custom)
	return t, err
}

func (r Repo) InsertTask(ctx context.Context, q Querier, t domain.Task) error {
	_, err := q.ExecContext(ctx, `INSERT INTO tasks(id,external_id,workbasket_id,classification_id,business_process_id,
por_company,por_system,por_system_instance,por_type,por_value,state,owner,creator,name,note,description,priority,is_read,is_transferred,
created,claimed,completed,modified,planned,due,received,custom_json) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, nullableStringPtr(t.ExternalID), t.Workbasket.ID, t.Classification.ID, nullable(t.BusinessProcessID),
		t.PrimaryObjRef.Company, nullable(t.PrimaryObjRef.System), nullable(t.PrimaryObjRef.SystemInstance), t.PrimaryObjRef.Type, t.PrimaryObjRef.Value,
		string(t.State), nullableStringPtr(t.Owner), t.Creator, nullable(t.Name), nullable(t.Note), nullable(t.Description), t.Priority,
		boolInt(t.Read), boolInt(t.Transferred),
		t.Created, nullableStringPtr(t.Claimed), nullableStringPtr(t.Completed), t.Modified,
		nullableStringPtr(t.Planned), nullableStringPtr(t.Due), nullableStringPtr(t.Received), encodeStrings(t.Custom))
	if err != nil {
		return err
	}
	for _, a := range t.Attachments {
		if err := r.InsertAttachment(ctx, q, a); err != nil {
			return err
		}
	}
	return nil
}

// GetTask loads a task with its attachments.
func (r Repo) GetTask(ctx context.Context, q Querier, id string) (domain.Task, error) {
	t, err := scanTask(q.QueryRowContext(ctx, taskSelect+` WHERE t.id=?`, id))
	if err != nil {
		return t, err
	}
	atts, err := r.ListAttachments(ctx, q, []string{id})
	if err != nil {
		return t, err
	}
	t.Attachments = atts[id]
	return t, nil
}

func (r Repo) ExternalIDExists(ctx context.Context, q Querier, externalID string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE external_id=?`, externalID).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// UpdateTaskContent writes the user-editable fields when the stored modified
// stamp still equals expectModified.
func (r Repo) UpdateTaskContent(ctx context.Context, q Querier, t domain.Task, expectModified string) (bool, error) {
	res, err := q.ExecContext(ctx, `UPDATE tasks SET external_id=?,classification_id=?,business_process_id=?,
por_company=?,por_system=?,por_system_instance=?,por_type=?,por_value=?,name=?,note=?,description=?,priority=?,
planned=?,due=?,received=?,custom_json=?,modified=? WHERE id=? AND modified=?`,
		nullableStringPtr(t.ExternalID), t.Classification.ID, nullable(t.BusinessProcessID),
		t.PrimaryObjRef.Company, nullable(t.PrimaryObjRef.System), nullable(t.PrimaryObjRef.SystemInstance), t.PrimaryObjRef.Type, t.PrimaryObjRef.Value,
		nullable(t.Name), nullable(t.Note), nullable(t.Description), t.Priority,
		nullableStringPtr(t.Planned), nullableStringPtr(t.Due), nullableStringPtr(t.Received), encodeStrings(t.Custom),
		t.Modified, t.ID, expectModified)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// UpdateTaskLifecycle writes state, ownership, placement and flags when the
// stored modified stamp still equals expectModified.
func (r Repo) UpdateTaskLifecycle(ctx context.Context, q Querier, t domain.Task, expectModified string) (bool, error) {
	res, err := q.ExecContext(ctx, `UPDATE tasks SET workbasket_id=?,state=?,owner=?,claimed=?,completed=?,is_read=?,is_transferred=?,modified=? WHERE id=? AND modified=?`,
		t.Workbasket.ID, string(t.State), nullableStringPtr(t.Owner), nullableStringPtr(t.Claimed), nullableStringPtr(t.Completed),
		boolInt(t.Read), boolInt(t.Transferred), t.Modified, t.ID, expectModified)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ClaimTask is the claim compare-and-set: it only succeeds on a READY task
// without owner. It reports whether the row was claimed.
func (r Repo) ClaimTask(ctx context.Context, q Querier, id, owner, claimed, modified string) (bool, error) {
	res, err := q.ExecContext(ctx, `UPDATE tasks SET state=?, owner=?, claimed=?, is_read=1, modified=? WHERE id=? AND state=? AND owner IS NULL`,
		string(domain.StateClaimed), owner, claimed, modified, id, string(domain.StateReady))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// DeleteTask removes a task together with its comments and attachments.
func (r Repo) DeleteTask(ctx context.Context, q Querier, id string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM task_comments WHERE task_id=?`, id); err != nil {
		return fmt.Errorf("delete comments: %w", err)
	}
	if _, err := q.ExecContext(ctx, `DELETE FROM attachments WHERE task_id=?`, id); err != nil {
		return fmt.Errorf("delete attachments: %w", err)
	}
	res, err := q.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// TaskOrder selects the ordering of ListTasks.
type TaskOrder string

const (
	// OrderNewest sorts by created descending and supports cursors.
	OrderNewest TaskOrder = ""
	// OrderPriority sorts by priority descending, then oldest first.
	OrderPriority TaskOrder = "priority"
)

type TaskFilters struct {
	IDs                []string
	ExternalIDs        []string
	States             []domain.TaskState
	WorkbasketIDs      []string
	Owner              string
	ClassificationKeys []string
	BusinessProcessID  string
	PORCompany         string
	PORSystem          string
	PORSystemInstance  string
	PORType            string
	PORValue           string

	// VisibleTo restricts results to tasks in workbaskets where the access ids
	// hold every bit of Required. Ignored when empty.
	VisibleTo []string
	Required  domain.Permission
	Order     TaskOrder
	Page      Page
}

func (r Repo) ListTasks(ctx context.Context, q Querier, f TaskFilters) ([]domain.Task, error) {
	clauses := []string{"1=1"}
	var args []any
	in := func(col string, values []string) {
		if len(values) == 0 {
			return
		}
		clauses = append(clauses, col+" IN ("+placeholders(len(values))+")")
		args = append(args, stringArgs(values)...)
	}
	eq := func(col, value string) {
		if value == "" {
			return
		}
		clauses = append(clauses, col+"=?")
		args = append(args, value)
	}
	in("t.id", f.IDs)
	in("t.external_id", f.ExternalIDs)
	states := make([]string, 0, len(f.States))
	for _, s := range f.States {
		states = append(states, string(s))
	}
	in("t.state", states)
	in("t.workbasket_id", f.WorkbasketIDs)
	in("c.key", f.ClassificationKeys)
	eq("t.owner", f.Owner)
	eq("t.business_process_id", f.BusinessProcessID)
	eq("t.por_company", f.PORCompany)
	eq("t.por_system", f.PORSystem)
	eq("t.por_system_instance", f.PORSystemInstance)
	eq("t.por_type", f.PORType)
	eq("t.por_value", f.PORValue)
	if len(f.VisibleTo) > 0 {
		clause, vargs := visibilityClause("t.workbasket_id", f.VisibleTo, f.Required)
		clauses = append(clauses, clause)
		args = append(args, vargs...)
	}
	order := "t.created DESC, t.id DESC"
	if f.Order == OrderPriority {
		order = "t.priority DESC, t.created ASC, t.id ASC"
	} else if c, cargs := f.Page.clause("t.created", "t.id"); c != "" {
		clauses = append(clauses, c)
		args = append(args, cargs...)
	}
	query := fmt.Sprintf(`%s WHERE %s ORDER BY %s LIMIT ?`, taskSelect, strings.Join(clauses, " AND "), order)
	args = append(args, f.Page.limit())
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		res = append(res, t)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()
	if len(res) == 0 {
		return res, nil
	}
	ids := make([]string, 0, len(res))
	for _, t := range res {
		ids = append(ids, t.ID)
	}
	atts, err := r.ListAttachments(ctx, q, ids)
	if err != nil {
		return nil, err
	}
	for i := range res {
		res[i].Attachments = atts[res[i].ID]
	}
	return res, nil
}

const attachmentSelect = `SELECT a.id, a.task_id, a.classification_id, c.key, COALESCE(c.category,''),
a.ref_company, COALESCE(a.ref_system,''), COALESCE(a.ref_system_instance,''), a.ref_type, a.ref_value,
COALESCE(a.channel,''), a.received, a.created, a.modified
FROM attachments a JOIN classifications c ON c.id=a.classification_id`

func (r Repo) InsertAttachment(ctx context.Context, q Querier, a domain.Attachment) error {
	_, err := q.ExecContext(ctx, `INSERT INTO attachments(id,task_id,classification_id,ref_company,ref_system,ref_system_instance,ref_type,ref_value,channel,received,created,modified)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.TaskID, a.Classification.ID, a.ObjRef.Company, nullable(a.ObjRef.System), nullable(a.ObjRef.SystemInstance),
		a.ObjRef.Type, a.ObjRef.Value, nullable(a.Channel), nullableStringPtr(a.Received), a.Created, a.Modified)
	return err
}

func (r Repo) DeleteAttachmentsForTask(ctx context.Context, q Querier, taskID string) error {
	_, err := q.ExecContext(ctx, `DELETE FROM attachments WHERE task_id=?`, taskID)
	return err
}

// ListAttachments returns the attachments of the given tasks keyed by task id.
func (r Repo) ListAttachments(ctx context.Context, q Querier, taskIDs []string) (map[string][]domain.Attachment, error) {
	out := map[string][]domain.Attachment{}
	if len(taskIDs) == 0 {
		return out, nil
	}
	rows, err := q.QueryContext(ctx, attachmentSelect+` WHERE a.task_id IN (`+placeholders(len(taskIDs))+`) ORDER BY a.created, a.id`, stringArgs(taskIDs)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var a domain.Attachment
		var received sql.NullString
		if err := rows.Scan(&a.ID, &a.TaskID, &a.Classification.ID, &a.Classification.Key, &a.Classification.Category,
			&a.ObjRef.Company, &a.ObjRef.System, &a.ObjRef.SystemInstance, &a.ObjRef.Type, &a.ObjRef.Value,
			&a.Channel, &received, &a.Created, &a.Modified); err != nil {
			return nil, err
		}
		a.Received = optionalString(received)
		out[a.TaskID] = append(out[a.TaskID], a)
	}
	return out, rows.Err()
}
