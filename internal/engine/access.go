package engine

import (
	"context"

	"queueline/internal/domain"
	"queueline/internal/engine/auth"
	"queueline/internal/events"
	"queueline/internal/repo"
)

func validateAccessItem(it domain.AccessItem) (domain.AccessItem, error) {
	if err := requireID("workbasket_id", it.WorkbasketID); err != nil {
		return it, err
	}
	it.AccessID = auth.NormalizeAccessID(it.AccessID)
	if it.AccessID == "" {
		return it, InvalidArgumentError{Field: "access_id", Reason: "must not be empty"}
	}
	if !it.Permissions.Valid() {
		return it, InvalidArgumentError{Field: "permissions", Reason: "unknown permission bits"}
	}
	return it, nil
}

// CreateAccessItem grants one accessor permissions on a workbasket. A second
// grant for the same accessor fails instead of merging bits.
func (e Engine) CreateAccessItem(ctx context.Context, id auth.Identity, it domain.AccessItem) (domain.AccessItem, error) {
	if err := e.requireRole(id, workbasketAdmins...); err != nil {
		return domain.AccessItem{}, err
	}
	it, err := validateAccessItem(it)
	if err != nil {
		return domain.AccessItem{}, err
	}
	tx, ev, err := e.begin(ctx)
	if err != nil {
		return domain.AccessItem{}, err
	}
	defer tx.Rollback()

	w, err := e.Repo.GetWorkbasket(ctx, tx, it.WorkbasketID)
	if err != nil {
		return domain.AccessItem{}, notFound(err, domain.KindWorkbasket, it.WorkbasketID)
	}
	exists, err := e.Repo.AccessItemExists(ctx, tx, it.WorkbasketID, it.AccessID)
	if err != nil {
		return domain.AccessItem{}, err
	}
	if exists {
		return domain.AccessItem{}, AlreadyExistsError{Kind: domain.KindAccessItem, Key: it.WorkbasketID + "/" + it.AccessID}
	}
	it.ID = newID(prefixAccessItem)
	it.WorkbasketKey = w.Key
	if err := e.Repo.InsertAccessItem(ctx, tx, it); err != nil {
		if repo.IsUniqueViolation(err) {
			return domain.AccessItem{}, AlreadyExistsError{Kind: domain.KindAccessItem, Key: it.WorkbasketID + "/" + it.AccessID}
		}
		return domain.AccessItem{}, err
	}
	if err := ev.Append(ctx, tx, events.AccessItemCreated, domain.KindAccessItem, it.ID, id.Name(), events.EventPayload{
		"workbasket_id": it.WorkbasketID, "access_id": it.AccessID, "permissions": it.Permissions.Names(),
	}); err != nil {
		return domain.AccessItem{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.AccessItem{}, err
	}
	return it, nil
}

// UpdateAccessItem replaces the permissions and display name of a grant. The
// workbasket and accessor of a grant cannot change.
func (e Engine) UpdateAccessItem(ctx context.Context, id auth.Identity, it domain.AccessItem) (domain.AccessItem, error) {
	if err := e.requireRole(id, workbasketAdmins...); err != nil {
		return domain.AccessItem{}, err
	}
	if err := requireID("id", it.ID); err != nil {
		return domain.AccessItem{}, err
	}
	if !it.Permissions.Valid() {
		return domain.AccessItem{}, InvalidArgumentError{Field: "permissions", Reason: "unknown permission bits"}
	}
	tx, ev, err := e.begin(ctx)
	if err != nil {
		return domain.AccessItem{}, err
	}
	defer tx.Rollback()

	stored, err := e.Repo.GetAccessItem(ctx, tx, it.ID)
	if err != nil {
		return domain.AccessItem{}, notFound(err, domain.KindAccessItem, it.ID)
	}
	if it.WorkbasketID != "" && it.WorkbasketID != stored.WorkbasketID {
		return domain.AccessItem{}, InvalidArgumentError{Field: "workbasket_id", Reason: "cannot be changed"}
	}
	if it.AccessID != "" && auth.NormalizeAccessID(it.AccessID) != stored.AccessID {
		return domain.AccessItem{}, InvalidArgumentError{Field: "access_id", Reason: "cannot be changed"}
	}
	stored.Permissions = it.Permissions
	stored.AccessName = it.AccessName
	if err := e.Repo.UpdateAccessItem(ctx, tx, stored); err != nil {
		return domain.AccessItem{}, notFound(err, domain.KindAccessItem, it.ID)
	}
	if err := ev.Append(ctx, tx, events.AccessItemUpdated, domain.KindAccessItem, stored.ID, id.Name(), events.EventPayload{
		"permissions": stored.Permissions.Names(),
	}); err != nil {
		return domain.AccessItem{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.AccessItem{}, err
	}
	return stored, nil
}

func (e Engine) DeleteAccessItem(ctx context.Context, id auth.Identity, itemID string) error {
	if err := e.requireRole(id, workbasketAdmins...); err != nil {
		return err
	}
	if err := requireID("id", itemID); err != nil {
		return err
	}
	tx, ev, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteAccessItem(ctx, tx, itemID); err != nil {
		return notFound(err, domain.KindAccessItem, itemID)
	}
	if err := ev.Append(ctx, tx, events.AccessItemDeleted, domain.KindAccessItem, itemID, id.Name(), nil); err != nil {
		return err
	}
	return tx.Commit()
}

// ListAccessItems returns every grant on one workbasket.
func (e Engine) ListAccessItems(ctx context.Context, id auth.Identity, workbasketID string) ([]domain.AccessItem, error) {
	if err := e.requireRole(id, workbasketAdmins...); err != nil {
		return nil, err
	}
	if err := requireID("workbasket id", workbasketID); err != nil {
		return nil, err
	}
	ok, err := e.Repo.WorkbasketExists(ctx, e.DB, workbasketID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, NotFoundError{Kind: domain.KindWorkbasket, ID: workbasketID}
	}
	return e.Repo.ListAccessItems(ctx, e.DB, repo.AccessItemFilters{WorkbasketIDs: []string{workbasketID}})
}

// QueryAccessItems lists grants across workbaskets, filtered by accessor and workbasket.
func (e Engine) QueryAccessItems(ctx context.Context, id auth.Identity, accessIDs, workbasketIDs []string) ([]domain.AccessItem, error) {
	if err := e.requireRole(id, workbasketAdmins...); err != nil {
		return nil, err
	}
	normalized := make([]string, 0, len(accessIDs))
	for _, a := range accessIDs {
		if a = auth.NormalizeAccessID(a); a != "" {
			normalized = append(normalized, a)
		}
	}
	return e.Repo.ListAccessItems(ctx, e.DB, repo.AccessItemFilters{AccessIDs: normalized, WorkbasketIDs: workbasketIDs})
}

// SetAccessItems replaces every grant on a workbasket with items in one
// transaction. Items must target the workbasket and name distinct accessors.
func (e Engine) SetAccessItems(ctx context.Context, id auth.Identity, workbasketID string, items []domain.AccessItem) ([]domain.AccessItem, error) {
	if err := e.requireRole(id, workbasketAdmins...); err != nil {
		return nil, err
	}
	if err := requireID("workbasket id", workbasketID); err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	prepared := make([]domain.AccessItem, 0, len(items))
	for _, it := range items {
		if it.WorkbasketID == "" {
			it.WorkbasketID = workbasketID
		}
		if it.WorkbasketID != workbasketID {
			return nil, InvalidArgumentError{Field: "workbasket_id", Reason: "access item " + it.AccessID + " targets workbasket " + it.WorkbasketID}
		}
		it, err := validateAccessItem(it)
		if err != nil {
			return nil, err
		}
		if seen[it.AccessID] {
			return nil, AlreadyExistsError{Kind: domain.KindAccessItem, Key: workbasketID + "/" + it.AccessID}
		}
		seen[it.AccessID] = true
		prepared = append(prepared, it)
	}
	tx, ev, err := e.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	w, err := e.Repo.GetWorkbasket(ctx, tx, workbasketID)
	if err != nil {
		return nil, notFound(err, domain.KindWorkbasket, workbasketID)
	}
	if _, err := e.Repo.DeleteAccessItemsForWorkbasket(ctx, tx, workbasketID); err != nil {
		return nil, err
	}
	for i := range prepared {
		prepared[i].ID = newID(prefixAccessItem)
		prepared[i].WorkbasketKey = w.Key
		if err := e.Repo.InsertAccessItem(ctx, tx, prepared[i]); err != nil {
			return nil, err
		}
	}
	if err := ev.Append(ctx, tx, events.AccessItemsReplaced, domain.KindWorkbasket, workbasketID, id.Name(), events.EventPayload{"count": len(prepared)}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return prepared, nil
}
