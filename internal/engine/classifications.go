package engine

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"queueline/internal/domain"
	"queueline/internal/engine/auth"
	"queueline/internal/events"
	"queueline/internal/repo"
)

// ClassificationRef addresses a classification by id, or by key within a domain.
type ClassificationRef struct {
	ID     string
	Key    string
	Domain string
}

func (r ClassificationRef) String() string {
	if r.ID != "" {
		return r.ID
	}
	return r.Key + "/" + r.Domain
}

// ClassificationResolver supplies classifications to task creation.
type ClassificationResolver interface {
	Resolve(ctx context.Context, ref ClassificationRef) (domain.Classification, error)
}

// RepoClassifications resolves classifications from the local store.
type RepoClassifications struct {
	DB   *sql.DB
	Repo repo.Repo
}

func (c RepoClassifications) Resolve(ctx context.Context, ref ClassificationRef) (domain.Classification, error) {
	var (
		cl  domain.Classification
		err error
	)
	switch {
	case ref.ID != "":
		cl, err = c.Repo.GetClassification(ctx, c.DB, ref.ID)
	case ref.Key != "":
		cl, err = c.Repo.GetClassificationByKey(ctx, c.DB, ref.Key, ref.Domain)
	default:
		return cl, InvalidArgumentError{Field: "classification", Reason: "id or key is required"}
	}
	if err != nil {
		return cl, notFound(err, domain.KindClassification, ref.String())
	}
	return cl, nil
}

func (e Engine) validateClassification(c domain.Classification) error {
	if strings.TrimSpace(c.Key) == "" {
		return InvalidArgumentError{Field: "key", Reason: "must not be empty"}
	}
	if strings.TrimSpace(c.Domain) == "" {
		return InvalidArgumentError{Field: "domain", Reason: "must not be empty"}
	}
	if !e.Config.DomainAllowed(c.Domain) {
		return DomainNotFoundError{Domain: c.Domain}
	}
	if c.ServiceLevel != "" {
		if _, err := ParseServiceLevel(c.ServiceLevel); err != nil {
			return InvalidArgumentError{Field: "service_level", Reason: err.Error()}
		}
	}
	return nil
}

func (e Engine) CreateClassification(ctx context.Context, id auth.Identity, c domain.Classification) (domain.Classification, error) {
	if err := e.requireRole(id, workbasketAdmins...); err != nil {
		return domain.Classification{}, err
	}
	if c.ID != "" {
		return domain.Classification{}, InvalidArgumentError{Field: "id", Reason: "must not be set on create"}
	}
	if err := e.validateClassification(c); err != nil {
		return domain.Classification{}, err
	}
	tx, ev, err := e.begin(ctx)
	if err != nil {
		return domain.Classification{}, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetClassificationByKey(ctx, tx, c.Key, c.Domain); err == nil {
		return domain.Classification{}, AlreadyExistsError{Kind: domain.KindClassification, Key: c.Key + "/" + c.Domain}
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Classification{}, err
	}
	now := domain.FormatTime(e.now())
	c.ID = newID(prefixClassification)
	c.Created, c.Modified = now, now
	if err := e.Repo.InsertClassification(ctx, tx, c); err != nil {
		if repo.IsUniqueViolation(err) {
			return domain.Classification{}, AlreadyExistsError{Kind: domain.KindClassification, Key: c.Key + "/" + c.Domain}
		}
		return domain.Classification{}, err
	}
	if err := ev.Append(ctx, tx, events.ClassificationSaved, domain.KindClassification, c.ID, id.Name(), events.EventPayload{"key": c.Key}); err != nil {
		return domain.Classification{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Classification{}, err
	}
	return c, nil
}

// GetClassification is open to every caller; classifications carry no secrets.
func (e Engine) GetClassification(ctx context.Context, ref ClassificationRef) (domain.Classification, error) {
	return e.classifications().Resolve(ctx, ref)
}

func (e Engine) ListClassifications(ctx context.Context, dom, category string) ([]domain.Classification, error) {
	return e.Repo.ListClassifications(ctx, e.DB, repo.ClassificationFilters{Domain: dom, Category: category})
}

// UpdateClassification overwrites a classification guarded by its modified stamp.
func (e Engine) UpdateClassification(ctx context.Context, id auth.Identity, c domain.Classification) (domain.Classification, error) {
	if err := e.requireRole(id, workbasketAdmins...); err != nil {
		return domain.Classification{}, err
	}
	if err := requireID("id", c.ID); err != nil {
		return domain.Classification{}, err
	}
	tx, ev, err := e.begin(ctx)
	if err != nil {
		return domain.Classification{}, err
	}
	defer tx.Rollback()

	stored, err := e.Repo.GetClassification(ctx, tx, c.ID)
	if err != nil {
		return domain.Classification{}, notFound(err, domain.KindClassification, c.ID)
	}
	if c.Key == "" {
		c.Key = stored.Key
	}
	if c.Domain == "" {
		c.Domain = stored.Domain
	}
	if !strings.EqualFold(c.Key, stored.Key) || !strings.EqualFold(c.Domain, stored.Domain) {
		return domain.Classification{}, InvalidArgumentError{Field: "key", Reason: "key and domain cannot be changed"}
	}
	if err := e.validateClassification(c); err != nil {
		return domain.Classification{}, err
	}
	if err := checkModified(domain.KindClassification, c.ID, c.Modified, stored.Modified); err != nil {
		return domain.Classification{}, err
	}
	c.Key, c.Domain, c.Created = stored.Key, stored.Domain, stored.Created
	c.Modified = e.nextStamp(stored.Modified)
	ok, err := e.Repo.UpdateClassification(ctx, tx, c, stored.Modified)
	if err != nil {
		return domain.Classification{}, err
	}
	if !ok {
		return domain.Classification{}, ConcurrencyError{Kind: domain.KindClassification, ID: c.ID, Expected: stored.Modified}
	}
	if err := ev.Append(ctx, tx, events.ClassificationSaved, domain.KindClassification, c.ID, id.Name(), nil); err != nil {
		return domain.Classification{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Classification{}, err
	}
	return c, nil
}

// DeleteClassification removes an unreferenced classification.
func (e Engine) DeleteClassification(ctx context.Context, id auth.Identity, classificationID string) error {
	if err := e.requireRole(id, workbasketAdmins...); err != nil {
		return err
	}
	if err := requireID("id", classificationID); err != nil {
		return err
	}
	tx, ev, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetClassification(ctx, tx, classificationID); err != nil {
		return notFound(err, domain.KindClassification, classificationID)
	}
	refs, err := e.Repo.CountClassificationReferences(ctx, tx, classificationID)
	if err != nil {
		return err
	}
	if refs > 0 {
		return InUseError{Kind: domain.KindClassification, ID: classificationID, References: refs}
	}
	if err := e.Repo.DeleteClassification(ctx, tx, classificationID); err != nil {
		return notFound(err, domain.KindClassification, classificationID)
	}
	if err := ev.Append(ctx, tx, events.ClassificationGone, domain.KindClassification, classificationID, id.Name(), nil); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) classifications() ClassificationResolver {
	if e.Classifications != nil {
		return e.Classifications
	}
	return RepoClassifications{DB: e.DB, Repo: e.Repo}
}
