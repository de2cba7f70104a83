package engine

import (
	"context"
	"strings"

	"queueline/internal/domain"
	"queueline/internal/engine/auth"
	"queueline/internal/events"
)

// commentTask loads the task a comment belongs to and checks read on its
// workbasket.
func (e Engine) commentTask(ctx context.Context, id auth.Identity, taskID string) error {
	_, err := e.loadTask(ctx, e.DB, id, taskID, domain.PermRead)
	return err
}

func (e Engine) CreateComment(ctx context.Context, id auth.Identity, taskID, text string) (domain.Comment, error) {
	if strings.TrimSpace(text) == "" {
		return domain.Comment{}, InvalidArgumentError{Field: "text", Reason: "must not be empty"}
	}
	tx, ev, err := e.begin(ctx)
	if err != nil {
		return domain.Comment{}, err
	}
	defer tx.Rollback()

	if _, err := e.loadTask(ctx, tx, id, taskID, domain.PermRead); err != nil {
		return domain.Comment{}, err
	}
	now := domain.FormatTime(e.now())
	c := domain.Comment{
		ID:       newID(prefixComment),
		TaskID:   taskID,
		Text:     text,
		Creator:  id.Name(),
		Created:  now,
		Modified: now,
	}
	if err := e.Repo.InsertComment(ctx, tx, c); err != nil {
		return domain.Comment{}, err
	}
	if err := ev.Append(ctx, tx, events.CommentCreated, domain.KindComment, c.ID, id.Name(), events.EventPayload{"task_id": taskID}); err != nil {
		return domain.Comment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Comment{}, err
	}
	return c, nil
}

func (e Engine) GetComment(ctx context.Context, id auth.Identity, commentID string) (domain.Comment, error) {
	if err := requireID("comment id", commentID); err != nil {
		return domain.Comment{}, err
	}
	c, err := e.Repo.GetComment(ctx, e.DB, commentID)
	if err != nil {
		return domain.Comment{}, notFound(err, domain.KindComment, commentID)
	}
	if err := e.commentTask(ctx, id, c.TaskID); err != nil {
		return domain.Comment{}, err
	}
	return c, nil
}

func (e Engine) ListComments(ctx context.Context, id auth.Identity, taskID string) ([]domain.Comment, error) {
	if err := e.commentTask(ctx, id, taskID); err != nil {
		return nil, err
	}
	return e.Repo.ListComments(ctx, e.DB, taskID)
}

// UpdateComment replaces the text of a comment. Only its creator may edit it.
func (e Engine) UpdateComment(ctx context.Context, id auth.Identity, c domain.Comment) (domain.Comment, error) {
	if err := requireID("comment id", c.ID); err != nil {
		return domain.Comment{}, err
	}
	if strings.TrimSpace(c.Text) == "" {
		return domain.Comment{}, InvalidArgumentError{Field: "text", Reason: "must not be empty"}
	}
	tx, ev, err := e.begin(ctx)
	if err != nil {
		return domain.Comment{}, err
	}
	defer tx.Rollback()

	stored, err := e.Repo.GetComment(ctx, tx, c.ID)
	if err != nil {
		return domain.Comment{}, notFound(err, domain.KindComment, c.ID)
	}
	if _, err := e.loadTask(ctx, tx, id, stored.TaskID, domain.PermRead); err != nil {
		return domain.Comment{}, err
	}
	if auth.NormalizeAccessID(stored.Creator) != auth.NormalizeAccessID(id.UserID) {
		return domain.Comment{}, auth.NotAuthorizedError{AccessID: id.Name(), Reason: auth.ReasonNotCreator}
	}
	if err := checkModified(domain.KindComment, c.ID, c.Modified, stored.Modified); err != nil {
		return domain.Comment{}, err
	}
	stored.Text = c.Text
	prev := stored.Modified
	stored.Modified = e.nextStamp(prev)
	ok, err := e.Repo.UpdateComment(ctx, tx, stored, prev)
	if err != nil {
		return domain.Comment{}, err
	}
	if !ok {
		return domain.Comment{}, ConcurrencyError{Kind: domain.KindComment, ID: c.ID, Expected: prev}
	}
	if err := ev.Append(ctx, tx, events.CommentUpdated, domain.KindComment, c.ID, id.Name(), nil); err != nil {
		return domain.Comment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Comment{}, err
	}
	return stored, nil
}

// DeleteComment removes a comment. Its creator and admin may delete.
func (e Engine) DeleteComment(ctx context.Context, id auth.Identity, commentID string) error {
	if err := requireID("comment id", commentID); err != nil {
		return err
	}
	tx, ev, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stored, err := e.Repo.GetComment(ctx, tx, commentID)
	if err != nil {
		return notFound(err, domain.KindComment, commentID)
	}
	isAdmin := e.RolesOf(id).HasAny(auth.RoleAdmin)
	if !isAdmin {
		if _, err := e.loadTask(ctx, tx, id, stored.TaskID, domain.PermRead); err != nil {
			return err
		}
		if auth.NormalizeAccessID(stored.Creator) != auth.NormalizeAccessID(id.UserID) {
			return auth.NotAuthorizedError{AccessID: id.Name(), Reason: auth.ReasonNotCreator}
		}
	}
	if err := e.Repo.DeleteComment(ctx, tx, commentID); err != nil {
		return notFound(err, domain.KindComment, commentID)
	}
	if err := ev.Append(ctx, tx, events.CommentDeleted, domain.KindComment, commentID, id.Name(), events.EventPayload{"task_id": stored.TaskID}); err != nil {
		return err
	}
	return tx.Commit()
}
