package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"queueline/internal/domain"
)

// Event types appended by the engine.
const (
	TaskCreated         = "task.created"
	TaskUpdated         = "task.updated"
	TaskClaimed         = "task.claimed"
	TaskClaimCancelled  = "task.claim_cancelled"
	TaskCompleted       = "task.completed"
	TaskCancelled       = "task.cancelled"
	TaskTerminated      = "task.terminated"
	TaskTransferred     = "task.transferred"
	TaskDeleted         = "task.deleted"
	WorkbasketCreated   = "workbasket.created"
	WorkbasketUpdated   = "workbasket.updated"
	WorkbasketMarked    = "workbasket.marked_for_deletion"
	WorkbasketDeleted   = "workbasket.deleted"
	AccessItemCreated   = "access_item.created"
	AccessItemUpdated   = "access_item.updated"
	AccessItemDeleted   = "access_item.deleted"
	AccessItemsReplaced = "access_item.replaced"
	AccessItemsRevoked  = "access_item.revoked"
	DistributionChanged = "workbasket.distribution_changed"
	ClassificationSaved = "classification.saved"
	ClassificationGone  = "classification.deleted"
	CommentCreated      = "task_comment.created"
	CommentUpdated      = "task_comment.updated"
	CommentDeleted      = "task_comment.deleted"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append records one history event inside tx.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	if actorID == "" {
		actorID = "system"
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		domain.FormatTime(w.Now()), evtType, entityKind, nullable(entityID), actorID, string(data))
	if err != nil {
		return fmt.Errorf("append event %s: %w", evtType, err)
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
