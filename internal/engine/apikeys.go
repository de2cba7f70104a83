package engine

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"queueline/internal/domain"
	"queueline/internal/engine/auth"
	"queueline/internal/repo"
)

// CreateAPIKey issues a key for accessID and returns the stored record with
// the plaintext key. The plaintext is not kept. Callers may issue keys for
// themselves; admin may issue keys for anyone.
func (e Engine) CreateAPIKey(ctx context.Context, id auth.Identity, accessID, name string) (domain.APIKey, string, error) {
	accessID = auth.NormalizeAccessID(accessID)
	if accessID == "" {
		return domain.APIKey{}, "", InvalidArgumentError{Field: "access_id", Reason: "must not be empty"}
	}
	if accessID != auth.NormalizeAccessID(id.UserID) {
		if err := e.requireRole(id, auth.RoleAdmin); err != nil {
			return domain.APIKey{}, "", err
		}
	}
	plain := "ql_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	key := domain.APIKey{
		ID:        newID("KEY:"),
		AccessID:  accessID,
		Name:      strings.TrimSpace(name),
		KeyHash:   repo.HashAPIKey(plain),
		CreatedAt: domain.FormatTime(e.now()),
	}
	tx, _, err := e.begin(ctx)
	if err != nil {
		return domain.APIKey{}, "", err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
		return domain.APIKey{}, "", err
	}
	if err := tx.Commit(); err != nil {
		return domain.APIKey{}, "", err
	}
	return key, plain, nil
}

// ListAPIKeys lists the keys of accessID; admin may list every key by
// passing an empty accessID.
func (e Engine) ListAPIKeys(ctx context.Context, id auth.Identity, accessID string) ([]domain.APIKey, error) {
	accessID = auth.NormalizeAccessID(accessID)
	if accessID == "" || accessID != auth.NormalizeAccessID(id.UserID) {
		if err := e.requireRole(id, auth.RoleAdmin); err != nil {
			return nil, err
		}
	}
	return e.Repo.ListAPIKeys(ctx, e.DB, accessID)
}

func (e Engine) RevokeAPIKey(ctx context.Context, id auth.Identity, keyID string) error {
	if err := e.requireRole(id, auth.RoleAdmin); err != nil {
		return err
	}
	if err := requireID("id", keyID); err != nil {
		return err
	}
	return notFound(e.Repo.DeleteAPIKey(ctx, e.DB, keyID), "api_key", keyID)
}

// History lists recorded events newest first. Restricted to admin.
func (e Engine) History(ctx context.Context, id auth.Identity, limit int, cursor int64, evtType, entityKind, entityID string) ([]domain.Event, error) {
	if err := e.requireRole(id, auth.RoleAdmin); err != nil {
		return nil, err
	}
	return e.Repo.LatestEvents(ctx, e.DB, limit, cursor, evtType, entityKind, entityID)
}
