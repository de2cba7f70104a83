package engine

import (
	"context"
	"database/sql"

	"queueline/internal/domain"
	"queueline/internal/engine/auth"
	"queueline/internal/events"
)

// DeleteWorkbasket removes a workbasket. It reports true when the workbasket
// was hard-deleted and false when tasks still reference it; in that case it
// is marked for deletion and its access items are removed right away.
func (e Engine) DeleteWorkbasket(ctx context.Context, id auth.Identity, workbasketID string) (bool, error) {
	if err := e.requireRole(id, workbasketAdmins...); err != nil {
		return false, err
	}
	if err := requireID("workbasket id", workbasketID); err != nil {
		return false, err
	}
	tx, ev, err := e.begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	w, err := e.Repo.GetWorkbasket(ctx, tx, workbasketID)
	if err != nil {
		return false, notFound(err, domain.KindWorkbasket, workbasketID)
	}
	refs, err := e.Repo.CountTasksInWorkbasket(ctx, tx, workbasketID)
	if err != nil {
		return false, err
	}
	if refs > 0 {
		if !w.MarkedForDeletion {
			if err := e.Repo.MarkWorkbasketForDeletion(ctx, tx, workbasketID, e.nextStamp(w.Modified)); err != nil {
				return false, err
			}
		}
		if _, err := e.Repo.DeleteAccessItemsForWorkbasket(ctx, tx, workbasketID); err != nil {
			return false, err
		}
		if err := ev.Append(ctx, tx, events.WorkbasketMarked, domain.KindWorkbasket, workbasketID, id.Name(), events.EventPayload{"tasks": refs}); err != nil {
			return false, err
		}
		return false, tx.Commit()
	}
	if err := e.hardDeleteWorkbasket(ctx, tx, workbasketID); err != nil {
		return false, err
	}
	if err := ev.Append(ctx, tx, events.WorkbasketDeleted, domain.KindWorkbasket, workbasketID, id.Name(), events.EventPayload{"key": w.Key, "domain": w.Domain}); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// hardDeleteWorkbasket removes grants and edges before the row so nothing is
// left pointing at an id that no longer resolves.
func (e Engine) hardDeleteWorkbasket(ctx context.Context, tx *sql.Tx, workbasketID string) error {
	if _, err := e.Repo.DeleteAccessItemsForWorkbasket(ctx, tx, workbasketID); err != nil {
		return err
	}
	if _, err := e.Repo.DeleteEdgesTouching(ctx, tx, workbasketID); err != nil {
		return err
	}
	return notFound(e.Repo.DeleteWorkbasket(ctx, tx, workbasketID), domain.KindWorkbasket, workbasketID)
}

// PurgeMarkedWorkbaskets hard-deletes every workbasket marked for deletion that
// no task references anymore and returns the deleted ids.
func (e Engine) PurgeMarkedWorkbaskets(ctx context.Context, id auth.Identity) ([]string, error) {
	if err := e.requireRole(id, workbasketAdmins...); err != nil {
		return nil, err
	}
	tx, ev, err := e.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	marked, err := e.Repo.ListMarkedWorkbasketIDs(ctx, tx)
	if err != nil {
		return nil, err
	}
	var deleted []string
	for _, wbID := range marked {
		refs, err := e.Repo.CountTasksInWorkbasket(ctx, tx, wbID)
		if err != nil {
			return nil, err
		}
		if refs > 0 {
			continue
		}
		if err := e.hardDeleteWorkbasket(ctx, tx, wbID); err != nil {
			return nil, err
		}
		if err := ev.Append(ctx, tx, events.WorkbasketDeleted, domain.KindWorkbasket, wbID, id.Name(), events.EventPayload{"purged": true}); err != nil {
			return nil, err
		}
		deleted = append(deleted, wbID)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return deleted, nil
}

// DeleteAccessItemsForAccessor revokes every grant of one user across all
// workbaskets. Group ids are rejected.
func (e Engine) DeleteAccessItemsForAccessor(ctx context.Context, id auth.Identity, accessID string) (int64, error) {
	if err := e.requireRole(id, workbasketAdmins...); err != nil {
		return 0, err
	}
	accessID = auth.NormalizeAccessID(accessID)
	if accessID == "" {
		return 0, InvalidArgumentError{Field: "access_id", Reason: "must not be empty"}
	}
	if e.Directory != nil {
		isGroup, err := e.Directory.IsGroup(ctx, accessID)
		if err != nil {
			return 0, err
		}
		if isGroup {
			return 0, InvalidArgumentError{Field: "access_id", Reason: accessID + " is a group; only user grants can be revoked in bulk"}
		}
		isUser, err := e.Directory.IsUser(ctx, accessID)
		if err != nil {
			return 0, err
		}
		if !isUser {
			return 0, InvalidArgumentError{Field: "access_id", Reason: accessID + " is not a known user"}
		}
	}
	tx, ev, err := e.begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	n, err := e.Repo.DeleteAccessItemsForAccessor(ctx, tx, accessID)
	if err != nil {
		return 0, err
	}
	if err := ev.Append(ctx, tx, events.AccessItemsRevoked, domain.KindAccessItem, "", id.Name(), events.EventPayload{"access_id": accessID, "count": n}); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}
