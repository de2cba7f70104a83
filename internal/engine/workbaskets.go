package engine

import (
	"context"
	"errors"
	"strings"

	"queueline/internal/domain"
	"queueline/internal/engine/auth"
	"queueline/internal/events"
	"queueline/internal/repo"
)

var workbasketAdmins = []auth.Role{auth.RoleAdmin, auth.RoleBusinessAdmin}

func (e Engine) validateWorkbasket(w domain.Workbasket) error {
	switch {
	case strings.TrimSpace(w.Key) == "":
		return InvalidWorkbasketError{Field: "key", Reason: "must not be empty"}
	case strings.TrimSpace(w.Name) == "":
		return InvalidWorkbasketError{Field: "name", Reason: "must not be empty"}
	case strings.TrimSpace(w.Domain) == "":
		return InvalidWorkbasketError{Field: "domain", Reason: "must not be empty"}
	case w.Type == "":
		return InvalidWorkbasketError{Field: "type", Reason: "must not be empty"}
	case !w.Type.Valid():
		return InvalidWorkbasketError{Field: "type", Reason: "must be GROUP, PERSONAL, TOPIC or CLEARANCE"}
	case len(w.Custom) > domain.MaxWorkbasketCustomFields:
		return InvalidArgumentError{Field: "custom", Reason: "at most 8 custom fields"}
	}
	if !e.Config.DomainAllowed(w.Domain) {
		return DomainNotFoundError{Domain: w.Domain}
	}
	return nil
}

// CreateWorkbasket stores a new workbasket. Only admin and businessadmin may create.
func (e Engine) CreateWorkbasket(ctx context.Context, id auth.Identity, w domain.Workbasket) (domain.Workbasket, error) {
	if err := e.requireRole(id, workbasketAdmins...); err != nil {
		return domain.Workbasket{}, err
	}
	if w.ID != "" {
		return domain.Workbasket{}, InvalidArgumentError{Field: "id", Reason: "must not be set on create"}
	}
	if err := e.validateWorkbasket(w); err != nil {
		return domain.Workbasket{}, err
	}
	tx, ev, err := e.begin(ctx)
	if err != nil {
		return domain.Workbasket{}, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetWorkbasketByKey(ctx, tx, w.Key, w.Domain); err == nil {
		return domain.Workbasket{}, AlreadyExistsError{Kind: domain.KindWorkbasket, Key: w.Key + "/" + w.Domain}
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Workbasket{}, err
	}
	now := domain.FormatTime(e.now())
	w.ID = newID(prefixWorkbasket)
	w.Created, w.Modified = now, now
	w.MarkedForDeletion = false
	if err := e.Repo.InsertWorkbasket(ctx, tx, w); err != nil {
		if repo.IsUniqueViolation(err) {
			return domain.Workbasket{}, AlreadyExistsError{Kind: domain.KindWorkbasket, Key: w.Key + "/" + w.Domain}
		}
		return domain.Workbasket{}, err
	}
	if err := ev.Append(ctx, tx, events.WorkbasketCreated, domain.KindWorkbasket, w.ID, id.Name(), events.EventPayload{"key": w.Key, "domain": w.Domain}); err != nil {
		return domain.Workbasket{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Workbasket{}, err
	}
	return w, nil
}

// GetWorkbasket returns a workbasket the caller may read. Authorization is
// checked before existence so unreadable ids are indistinguishable from
// missing ones.
func (e Engine) GetWorkbasket(ctx context.Context, id auth.Identity, workbasketID string) (domain.Workbasket, error) {
	if err := requireID("workbasket id", workbasketID); err != nil {
		return domain.Workbasket{}, err
	}
	if err := e.authorize(ctx, e.DB, id, workbasketID, domain.PermRead, workbasketAdmins...); err != nil {
		return domain.Workbasket{}, err
	}
	w, err := e.Repo.GetWorkbasket(ctx, e.DB, workbasketID)
	if err != nil {
		return domain.Workbasket{}, notFound(err, domain.KindWorkbasket, workbasketID)
	}
	return w, nil
}

// GetWorkbasketByKey resolves a workbasket by key and domain. Callers without
// an administrative role see NotAuthorized for unknown keys as well.
func (e Engine) GetWorkbasketByKey(ctx context.Context, id auth.Identity, key, dom string) (domain.Workbasket, error) {
	if err := requireID("key", key); err != nil {
		return domain.Workbasket{}, err
	}
	if err := requireID("domain", dom); err != nil {
		return domain.Workbasket{}, err
	}
	w, err := e.Repo.GetWorkbasketByKey(ctx, e.DB, key, dom)
	if errors.Is(err, repo.ErrNotFound) {
		if rerr := e.requireRole(id, workbasketAdmins...); rerr != nil {
			return domain.Workbasket{}, auth.NotAuthorizedError{AccessID: id.Name(), Permission: domain.PermRead, Reason: auth.ReasonNoAccessItems}
		}
		return domain.Workbasket{}, NotFoundError{Kind: domain.KindWorkbasket, ID: key + "/" + dom}
	}
	if err != nil {
		return domain.Workbasket{}, err
	}
	if err := e.authorize(ctx, e.DB, id, w.ID, domain.PermRead, workbasketAdmins...); err != nil {
		return domain.Workbasket{}, err
	}
	return w, nil
}

// UpdateWorkbasket overwrites a workbasket. The caller presents the modified
// stamp it last read; key and domain are immutable.
func (e Engine) UpdateWorkbasket(ctx context.Context, id auth.Identity, w domain.Workbasket) (domain.Workbasket, error) {
	if err := e.requireRole(id, workbasketAdmins...); err != nil {
		return domain.Workbasket{}, err
	}
	if err := requireID("id", w.ID); err != nil {
		return domain.Workbasket{}, err
	}
	tx, ev, err := e.begin(ctx)
	if err != nil {
		return domain.Workbasket{}, err
	}
	defer tx.Rollback()

	stored, err := e.Repo.GetWorkbasket(ctx, tx, w.ID)
	if err != nil {
		return domain.Workbasket{}, notFound(err, domain.KindWorkbasket, w.ID)
	}
	if !strings.EqualFold(stored.Key, w.Key) || !strings.EqualFold(stored.Domain, w.Domain) {
		return domain.Workbasket{}, NotFoundError{Kind: domain.KindWorkbasket, ID: w.Key + "/" + w.Domain}
	}
	if err := e.validateWorkbasket(w); err != nil {
		return domain.Workbasket{}, err
	}
	if err := checkModified(domain.KindWorkbasket, w.ID, w.Modified, stored.Modified); err != nil {
		return domain.Workbasket{}, err
	}
	w.Key, w.Domain = stored.Key, stored.Domain
	w.Created = stored.Created
	w.MarkedForDeletion = stored.MarkedForDeletion
	w.Modified = e.nextStamp(stored.Modified)
	ok, err := e.Repo.UpdateWorkbasket(ctx, tx, w, stored.Modified)
	if err != nil {
		return domain.Workbasket{}, err
	}
	if !ok {
		return domain.Workbasket{}, ConcurrencyError{Kind: domain.KindWorkbasket, ID: w.ID, Expected: stored.Modified}
	}
	if err := ev.Append(ctx, tx, events.WorkbasketUpdated, domain.KindWorkbasket, w.ID, id.Name(), nil); err != nil {
		return domain.Workbasket{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Workbasket{}, err
	}
	return w, nil
}

// WorkbasketQuery filters ListWorkbaskets.
type WorkbasketQuery struct {
	Domain   string
	Type     domain.WorkbasketType
	Key      string
	NameLike string
	Marked   *bool

	// Permission the caller must hold; defaults to read.
	Permission domain.Permission
	Page       repo.Page
}

// ListWorkbaskets returns the workbaskets the caller holds Permission on.
// Administrators see every workbasket.
func (e Engine) ListWorkbaskets(ctx context.Context, id auth.Identity, q WorkbasketQuery) ([]domain.Workbasket, error) {
	visible, err := e.visibleTo(id, workbasketAdmins...)
	if err != nil {
		return nil, err
	}
	perm := q.Permission
	if perm == 0 {
		perm = domain.PermRead
	}
	if !perm.Valid() {
		return nil, InvalidArgumentError{Field: "permission", Reason: "unknown permission bits"}
	}
	return e.Repo.ListWorkbaskets(ctx, e.DB, repo.WorkbasketFilters{
		Domain:    q.Domain,
		Type:      q.Type,
		Key:       q.Key,
		NameLike:  q.NameLike,
		Marked:    q.Marked,
		VisibleTo: visible,
		Required:  perm,
		Page:      q.Page,
	})
}
