package engine

import (
	"context"
	"strings"
	"time"

	"queueline/internal/domain"
	"queueline/internal/engine/auth"
	"queueline/internal/events"
	"queueline/internal/repo"
)

// taskAdmins bypass per-workbasket checks on tasks.
var taskAdmins = []auth.Role{auth.RoleAdmin, auth.RoleTaskAdmin}

// TaskInput describes a task to create. The workbasket is addressed by id or
// by key and domain.
type TaskInput struct {
	ExternalID        *string
	WorkbasketID      string
	WorkbasketKey     string
	WorkbasketDomain  string
	Classification    ClassificationRef
	BusinessProcessID string
	PrimaryObjRef     domain.ObjectReference
	Owner             string
	Name              string
	Note              string
	Description       string
	Priority          *int
	Planned           *string
	Due               *string
	Received          *string
	Custom            []string
	Attachments       []AttachmentInput
}

type AttachmentInput struct {
	Classification ClassificationRef
	ObjRef         domain.ObjectReference
	Channel        string
	Received       *string
}

func validateObjRef(field string, ref domain.ObjectReference) error {
	switch {
	case strings.TrimSpace(ref.Company) == "":
		return InvalidArgumentError{Field: field + ".company", Reason: "must not be empty"}
	case strings.TrimSpace(ref.Type) == "":
		return InvalidArgumentError{Field: field + ".type", Reason: "must not be empty"}
	case strings.TrimSpace(ref.Value) == "":
		return InvalidArgumentError{Field: field + ".value", Reason: "must not be empty"}
	}
	return nil
}

// normalizeStamp parses an optional caller timestamp into the stored layout.
func normalizeStamp(field string, v *string) (*string, error) {
	if v == nil || strings.TrimSpace(*v) == "" {
		return nil, nil
	}
	t, err := domain.ParseTime(strings.TrimSpace(*v))
	if err != nil {
		return nil, InvalidArgumentError{Field: field, Reason: "must be an RFC3339 timestamp"}
	}
	return strPtr(domain.FormatTime(t)), nil
}

func (e Engine) serviceLevelOf(c domain.Classification) (ServiceLevel, error) {
	raw := c.ServiceLevel
	if raw == "" && e.Config != nil {
		raw = e.Config.Tasks.DefaultServiceLevel
	}
	if raw == "" {
		return ServiceLevel{}, nil
	}
	sl, err := ParseServiceLevel(raw)
	if err != nil {
		return ServiceLevel{}, InvalidArgumentError{Field: "service_level", Reason: err.Error()}
	}
	return sl, nil
}

func (e Engine) skipWeekends() bool {
	return e.Config != nil && e.Config.Calendar.SkipWeekends
}

// schedule fills in planned and due from each other and the service level.
// With neither given the task is planned now.
func (e Engine) schedule(planned, due *string, sl ServiceLevel, now time.Time) (*string, *string, error) {
	switch {
	case planned != nil && due != nil:
		p, _ := domain.ParseTime(*planned)
		d, _ := domain.ParseTime(*due)
		if d.Before(p) {
			return nil, nil, InvalidArgumentError{Field: "due", Reason: "must not be before planned"}
		}
		return planned, due, nil
	case due != nil:
		d, _ := domain.ParseTime(*due)
		return strPtr(domain.FormatTime(sl.PlannedFrom(d, e.skipWeekends()))), due, nil
	case planned != nil:
		p, _ := domain.ParseTime(*planned)
		return planned, strPtr(domain.FormatTime(sl.DueFrom(p, e.skipWeekends()))), nil
	default:
		return strPtr(domain.FormatTime(now)), strPtr(domain.FormatTime(sl.DueFrom(now, e.skipWeekends()))), nil
	}
}

func (e Engine) lookupWorkbasket(ctx context.Context, q repo.Querier, wbID, key, dom string) (domain.Workbasket, error) {
	if wbID != "" {
		w, err := e.Repo.GetWorkbasket(ctx, q, wbID)
		return w, notFound(err, domain.KindWorkbasket, wbID)
	}
	if key == "" || dom == "" {
		return domain.Workbasket{}, InvalidArgumentError{Field: "workbasket", Reason: "id or key and domain are required"}
	}
	w, err := e.Repo.GetWorkbasketByKey(ctx, q, key, dom)
	return w, notFound(err, domain.KindWorkbasket, key+"/"+dom)
}

// CreateTask stores a new task in a workbasket where the caller holds append.
// A pre-assigned owner creates the task CLAIMED.
func (e Engine) CreateTask(ctx context.Context, id auth.Identity, in TaskInput) (domain.Task, error) {
	if err := validateObjRef("primary_obj_ref", in.PrimaryObjRef); err != nil {
		return domain.Task{}, err
	}
	if len(in.Custom) > domain.MaxTaskCustomFields {
		return domain.Task{}, InvalidArgumentError{Field: "custom", Reason: "at most 16 custom fields"}
	}
	if in.ExternalID != nil {
		if ext := strings.TrimSpace(*in.ExternalID); ext != "" {
			in.ExternalID = strPtr(ext)
		} else {
			in.ExternalID = nil
		}
	}
	planned, err := normalizeStamp("planned", in.Planned)
	if err != nil {
		return domain.Task{}, err
	}
	due, err := normalizeStamp("due", in.Due)
	if err != nil {
		return domain.Task{}, err
	}
	received, err := normalizeStamp("received", in.Received)
	if err != nil {
		return domain.Task{}, err
	}

	// Classifications resolve outside the transaction; the store allows a
	// single connection.
	wb, err := e.lookupWorkbasket(ctx, e.DB, in.WorkbasketID, in.WorkbasketKey, in.WorkbasketDomain)
	if err != nil {
		return domain.Task{}, err
	}
	resolve := func(ref ClassificationRef) (domain.Classification, error) {
		if ref.ID == "" && ref.Domain == "" {
			ref.Domain = wb.Domain
		}
		return e.classifications().Resolve(ctx, ref)
	}
	cl, err := resolve(in.Classification)
	if err != nil {
		return domain.Task{}, err
	}
	attClass := make([]domain.Classification, len(in.Attachments))
	for i, a := range in.Attachments {
		if err := validateObjRef("attachments.obj_ref", a.ObjRef); err != nil {
			return domain.Task{}, err
		}
		if attClass[i], err = resolve(a.Classification); err != nil {
			return domain.Task{}, err
		}
	}
	sl, err := e.serviceLevelOf(cl)
	if err != nil {
		return domain.Task{}, err
	}

	tx, ev, err := e.begin(ctx)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	wbID := wb.ID
	wb, err = e.Repo.GetWorkbasket(ctx, tx, wbID)
	if err != nil {
		return domain.Task{}, notFound(err, domain.KindWorkbasket, wbID)
	}
	if err := e.authorize(ctx, tx, id, wb.ID, domain.PermAppend, taskAdmins...); err != nil {
		return domain.Task{}, err
	}
	if wb.MarkedForDeletion {
		return domain.Task{}, InvalidArgumentError{Field: "workbasket", Reason: "workbasket " + wb.ID + " is marked for deletion"}
	}
	if in.ExternalID != nil {
		exists, err := e.Repo.ExternalIDExists(ctx, tx, *in.ExternalID)
		if err != nil {
			return domain.Task{}, err
		}
		if exists {
			return domain.Task{}, AlreadyExistsError{Kind: domain.KindTask, Key: *in.ExternalID}
		}
	}

	now := e.now()
	stamp := domain.FormatTime(now)
	planned, due, err = e.schedule(planned, due, sl, now)
	if err != nil {
		return domain.Task{}, err
	}
	t := domain.Task{
		ID:                newID(prefixTask),
		ExternalID:        in.ExternalID,
		Workbasket:        wb.Summary(),
		Classification:    cl.Summary(),
		BusinessProcessID: in.BusinessProcessID,
		PrimaryObjRef:     in.PrimaryObjRef,
		State:             domain.StateReady,
		Creator:           id.Name(),
		Name:              in.Name,
		Note:              in.Note,
		Description:       in.Description,
		Priority:          cl.Priority,
		Created:           stamp,
		Modified:          stamp,
		Planned:           planned,
		Due:               due,
		Received:          received,
		Custom:            in.Custom,
	}
	if in.Priority != nil {
		t.Priority = *in.Priority
	}
	if t.Name == "" {
		t.Name = cl.Name
	}
	if owner := strings.TrimSpace(in.Owner); owner != "" {
		t.State = domain.StateClaimed
		t.Owner = strPtr(owner)
		t.Claimed = strPtr(stamp)
	}
	for i, a := range in.Attachments {
		ar, err := normalizeStamp("attachments.received", a.Received)
		if err != nil {
			return domain.Task{}, err
		}
		t.Attachments = append(t.Attachments, domain.Attachment{
			ID:             newID(prefixAttachment),
			TaskID:         t.ID,
			Classification: attClass[i].Summary(),
			ObjRef:         a.ObjRef,
			Channel:        a.Channel,
			Received:       ar,
			Created:        stamp,
			Modified:       stamp,
		})
	}
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		if repo.IsUniqueViolation(err) {
			return domain.Task{}, AlreadyExistsError{Kind: domain.KindTask, Key: deref(t.ExternalID)}
		}
		return domain.Task{}, err
	}
	if err := ev.Append(ctx, tx, events.TaskCreated, domain.KindTask, t.ID, id.Name(), events.EventPayload{
		"workbasket_id": wb.ID, "classification": cl.Key, "state": t.State,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// loadTask reads a task inside q and checks the caller holds required on its
// workbasket. Existence is checked first: task ids are not guessable.
func (e Engine) loadTask(ctx context.Context, q repo.Querier, id auth.Identity, taskID string, required domain.Permission) (domain.Task, error) {
	if err := requireID("task id", taskID); err != nil {
		return domain.Task{}, err
	}
	t, err := e.Repo.GetTask(ctx, q, taskID)
	if err != nil {
		return domain.Task{}, notFound(err, domain.KindTask, taskID)
	}
	if err := e.authorize(ctx, q, id, t.Workbasket.ID, required, taskAdmins...); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func (e Engine) GetTask(ctx context.Context, id auth.Identity, taskID string) (domain.Task, error) {
	return e.loadTask(ctx, e.DB, id, taskID, domain.PermRead)
}

// TaskQuery filters QueryTasks. Results are restricted to workbaskets where
// the caller holds read.
type TaskQuery struct {
	IDs                []string
	ExternalIDs        []string
	States             []domain.TaskState
	WorkbasketIDs      []string
	Owner              string
	ClassificationKeys []string
	BusinessProcessID  string
	PrimaryObjRef      domain.ObjectReference
	ByPriority         bool
	Page               repo.Page
}

func (q TaskQuery) filters() repo.TaskFilters {
	f := repo.TaskFilters{
		IDs:                q.IDs,
		ExternalIDs:        q.ExternalIDs,
		States:             q.States,
		WorkbasketIDs:      q.WorkbasketIDs,
		Owner:              q.Owner,
		ClassificationKeys: q.ClassificationKeys,
		BusinessProcessID:  q.BusinessProcessID,
		PORCompany:         q.PrimaryObjRef.Company,
		PORSystem:          q.PrimaryObjRef.System,
		PORSystemInstance:  q.PrimaryObjRef.SystemInstance,
		PORType:            q.PrimaryObjRef.Type,
		PORValue:           q.PrimaryObjRef.Value,
		Page:               q.Page,
	}
	if q.ByPriority {
		f.Order = repo.OrderPriority
	}
	return f
}

func (e Engine) QueryTasks(ctx context.Context, id auth.Identity, query TaskQuery) ([]domain.Task, error) {
	return e.queryTasks(ctx, e.DB, id, query, domain.PermRead)
}

func (e Engine) queryTasks(ctx context.Context, q repo.Querier, id auth.Identity, query TaskQuery, required domain.Permission) ([]domain.Task, error) {
	for _, s := range query.States {
		if !s.Valid() {
			return nil, InvalidArgumentError{Field: "state", Reason: "unknown state " + string(s)}
		}
	}
	visible, err := e.visibleTo(id, taskAdmins...)
	if err != nil {
		return nil, err
	}
	f := query.filters()
	f.VisibleTo = visible
	f.Required = required
	return e.Repo.ListTasks(ctx, q, f)
}

// TaskUpdate carries the editable fields of a task together with the modified
// stamp the caller last read. Nil fields are left unchanged.
type TaskUpdate struct {
	ID                string
	Modified          string
	ExternalID        *string
	Classification    *ClassificationRef
	BusinessProcessID *string
	PrimaryObjRef     *domain.ObjectReference
	Name              *string
	Note              *string
	Description       *string
	Priority          *int
	Planned           *string
	Due               *string
	Received          *string
	Custom            []string
	Attachments       *[]AttachmentInput
}

// UpdateTask overwrites the editable fields of a non-terminal task. State,
// owner, workbasket and creator change only through lifecycle operations.
func (e Engine) UpdateTask(ctx context.Context, id auth.Identity, u TaskUpdate) (domain.Task, error) {
	if err := requireID("id", u.ID); err != nil {
		return domain.Task{}, err
	}
	if len(u.Custom) > domain.MaxTaskCustomFields {
		return domain.Task{}, InvalidArgumentError{Field: "custom", Reason: "at most 16 custom fields"}
	}
	if u.PrimaryObjRef != nil {
		if err := validateObjRef("primary_obj_ref", *u.PrimaryObjRef); err != nil {
			return domain.Task{}, err
		}
	}
	current, err := e.Repo.GetTask(ctx, e.DB, u.ID)
	if err != nil {
		return domain.Task{}, notFound(err, domain.KindTask, u.ID)
	}
	resolve := func(ref ClassificationRef) (domain.Classification, error) {
		if ref.ID == "" && ref.Domain == "" {
			ref.Domain = current.Workbasket.Domain
		}
		return e.classifications().Resolve(ctx, ref)
	}
	var cl *domain.Classification
	if u.Classification != nil {
		c, err := resolve(*u.Classification)
		if err != nil {
			return domain.Task{}, err
		}
		cl = &c
	}
	var atts []domain.Attachment
	if u.Attachments != nil {
		for _, a := range *u.Attachments {
			if err := validateObjRef("attachments.obj_ref", a.ObjRef); err != nil {
				return domain.Task{}, err
			}
			c, err := resolve(a.Classification)
			if err != nil {
				return domain.Task{}, err
			}
			received, err := normalizeStamp("attachments.received", a.Received)
			if err != nil {
				return domain.Task{}, err
			}
			atts = append(atts, domain.Attachment{Classification: c.Summary(), ObjRef: a.ObjRef, Channel: a.Channel, Received: received})
		}
	}
	var sl ServiceLevel
	if u.Planned != nil || u.Classification != nil {
		base := domain.Classification{}
		if cl != nil {
			base = *cl
		} else if stored, err := resolve(ClassificationRef{ID: current.Classification.ID}); err == nil {
			base = stored
		}
		if sl, err = e.serviceLevelOf(base); err != nil {
			return domain.Task{}, err
		}
	}

	tx, ev, err := e.begin(ctx)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.loadTask(ctx, tx, id, u.ID, domain.PermRead)
	if err != nil {
		return domain.Task{}, err
	}
	if t.State.Terminal() {
		return domain.Task{}, InvalidStateError{TaskID: t.ID, State: t.State, Operation: "update"}
	}
	if err := checkModified(domain.KindTask, t.ID, u.Modified, t.Modified); err != nil {
		return domain.Task{}, err
	}
	if u.ExternalID != nil {
		ext := strings.TrimSpace(*u.ExternalID)
		switch {
		case t.ExternalID != nil && strings.TrimSpace(*t.ExternalID) != ext:
			return domain.Task{}, InvalidArgumentError{Field: "external_id", Reason: "cannot be changed once set"}
		case t.ExternalID == nil && ext != "":
			exists, err := e.Repo.ExternalIDExists(ctx, tx, ext)
			if err != nil {
				return domain.Task{}, err
			}
			if exists {
				return domain.Task{}, AlreadyExistsError{Kind: domain.KindTask, Key: ext}
			}
			t.ExternalID = strPtr(ext)
		}
	}
	if cl != nil {
		t.Classification = cl.Summary()
	}
	if u.BusinessProcessID != nil {
		t.BusinessProcessID = *u.BusinessProcessID
	}
	if u.PrimaryObjRef != nil {
		t.PrimaryObjRef = *u.PrimaryObjRef
	}
	if u.Name != nil {
		t.Name = *u.Name
	}
	if u.Note != nil {
		t.Note = *u.Note
	}
	if u.Description != nil {
		t.Description = *u.Description
	}
	if u.Priority != nil {
		t.Priority = *u.Priority
	}
	if u.Custom != nil {
		t.Custom = u.Custom
	}
	if u.Received != nil {
		if t.Received, err = normalizeStamp("received", u.Received); err != nil {
			return domain.Task{}, err
		}
	}
	if u.Planned != nil || u.Due != nil {
		planned, err := normalizeStamp("planned", u.Planned)
		if err != nil {
			return domain.Task{}, err
		}
		due, err := normalizeStamp("due", u.Due)
		if err != nil {
			return domain.Task{}, err
		}
		if planned == nil {
			planned = t.Planned
		}
		if u.Planned != nil && due == nil {
			// A new planned date moves due along with it.
			t.Planned, t.Due, err = e.schedule(planned, nil, sl, e.now())
		} else {
			t.Planned, t.Due, err = e.schedule(planned, due, sl, e.now())
		}
		if err != nil {
			return domain.Task{}, err
		}
	}
	prev := t.Modified
	t.Modified = e.nextStamp(prev)
	ok, err := e.Repo.UpdateTaskContent(ctx, tx, t, prev)
	if err != nil {
		if repo.IsUniqueViolation(err) {
			return domain.Task{}, AlreadyExistsError{Kind: domain.KindTask, Key: deref(t.ExternalID)}
		}
		return domain.Task{}, err
	}
	if !ok {
		return domain.Task{}, ConcurrencyError{Kind: domain.KindTask, ID: t.ID, Expected: prev}
	}
	if u.Attachments != nil {
		if err := e.Repo.DeleteAttachmentsForTask(ctx, tx, t.ID); err != nil {
			return domain.Task{}, err
		}
		t.Attachments = nil
		for _, a := range atts {
			a.ID = newID(prefixAttachment)
			a.TaskID = t.ID
			a.Created, a.Modified = t.Modified, t.Modified
			if err := e.Repo.InsertAttachment(ctx, tx, a); err != nil {
				return domain.Task{}, err
			}
			t.Attachments = append(t.Attachments, a)
		}
	}
	if err := ev.Append(ctx, tx, events.TaskUpdated, domain.KindTask, t.ID, id.Name(), nil); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// SetTaskRead flips the read flag. It is not version guarded.
func (e Engine) SetTaskRead(ctx context.Context, id auth.Identity, taskID string, read bool) (domain.Task, error) {
	tx, ev, err := e.begin(ctx)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.loadTask(ctx, tx, id, taskID, domain.PermRead)
	if err != nil {
		return domain.Task{}, err
	}
	if t.Read == read {
		return t, nil
	}
	prev := t.Modified
	t.Read = read
	t.Modified = e.nextStamp(prev)
	if err := e.writeLifecycle(ctx, tx, t, prev); err != nil {
		return domain.Task{}, err
	}
	if err := ev.Append(ctx, tx, events.TaskUpdated, domain.KindTask, t.ID, id.Name(), events.EventPayload{"read": read}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// isOwner compares owners case-insensitively, like every access id.
func isOwner(t domain.Task, id auth.Identity) bool {
	return t.Owner != nil && auth.NormalizeAccessID(*t.Owner) == auth.NormalizeAccessID(id.UserID)
}
