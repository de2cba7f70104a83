package engine

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"queueline/internal/config"
	"queueline/internal/directory"
	"queueline/internal/domain"
	"queueline/internal/engine/auth"
	"queueline/internal/events"
	"queueline/internal/repo"
)

// Id prefixes per entity.
const (
	prefixWorkbasket     = "WBI:"
	prefixTask           = "TKI:"
	prefixAccessItem     = "WAI:"
	prefixClassification = "CLI:"
	prefixComment        = "TCI:"
	prefixAttachment     = "TAI:"
)

type Engine struct {
	DB              *sql.DB
	Repo            repo.Repo
	Events          events.Writer
	Config          *config.Config
	Directory       directory.Directory
	Classifications ClassificationResolver
	Now             func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	r := repo.Repo{DB: db}
	e := Engine{
		DB:        db,
		Repo:      r,
		Events:    events.Writer{DB: db},
		Config:    cfg,
		Directory: directory.FromConfig(cfg.Directory),
		Now:       time.Now,
	}
	e.Classifications = RepoClassifications{DB: db, Repo: r}
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func newID(prefix string) string {
	return prefix + uuid.NewString()
}

// begin opens the transaction of one core operation. Every read and write of
// the operation goes through it; the event writer shares the clock.
func (e Engine) begin(ctx context.Context) (*sql.Tx, events.Writer, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, events.Writer{}, err
	}
	w := e.Events
	w.Now = e.now
	return tx, w, nil
}

func (e Engine) roleMapping() auth.RoleMapping {
	m := auth.RoleMapping{}
	if e.Config == nil {
		return m
	}
	for role, members := range e.Config.Roles {
		m[auth.Role(role)] = members
	}
	return m
}

// RolesOf resolves the administrative roles of id.
func (e Engine) RolesOf(id auth.Identity) auth.RoleSet {
	return e.roleMapping().RolesOf(id)
}

// Identify builds the identity of userID from the groups the caller asserts
// plus the groups the directory knows for it. An empty userID is anonymous.
func (e Engine) Identify(ctx context.Context, userID string, groups ...string) (auth.Identity, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return auth.Identity{}, nil
	}
	all := append([]string(nil), groups...)
	if e.Directory != nil {
		known, err := e.Directory.GroupsOf(ctx, userID)
		if err != nil {
			return auth.Identity{}, err
		}
		all = append(all, known...)
	}
	return auth.User(userID, all...), nil
}

// requireRole authorizes a role-scoped operation.
func (e Engine) requireRole(id auth.Identity, roles ...auth.Role) error {
	return auth.RequireRole(e.RolesOf(id), roles...).Err(id, "", 0, roles...)
}

// checkPermission evaluates id against the access rows of one workbasket.
func (e Engine) checkPermission(ctx context.Context, q repo.Querier, id auth.Identity, workbasketID string, required domain.Permission, bypass ...auth.Role) (auth.Result, error) {
	req := auth.Request{
		Identity: id,
		Roles:    e.RolesOf(id),
		Bypass:   bypass,
		Required: required,
	}
	if !auth.RequireRole(req.Roles, bypass...).Allowed() {
		items, err := e.Repo.GrantsFor(ctx, q, workbasketID, id.AccessIDs())
		if err != nil {
			return auth.Result{}, err
		}
		req.Grants = auth.GrantsFromItems(items)
	}
	return auth.Evaluate(req), nil
}

// authorize is checkPermission reduced to an error.
func (e Engine) authorize(ctx context.Context, q repo.Querier, id auth.Identity, workbasketID string, required domain.Permission, bypass ...auth.Role) error {
	res, err := e.checkPermission(ctx, q, id, workbasketID, required, bypass...)
	if err != nil {
		return err
	}
	return res.Err(id, workbasketID, required)
}

// visibleTo returns the access ids a listing must be restricted to, or nil
// when one of bypass lets the caller see everything.
func (e Engine) visibleTo(id auth.Identity, bypass ...auth.Role) ([]string, error) {
	if e.RolesOf(id).HasAny(bypass...) {
		return nil, nil
	}
	if id.Anonymous() {
		return nil, auth.NotAuthorizedError{Reason: auth.ReasonAnonymous}
	}
	return id.AccessIDs(), nil
}

// notFound maps repo.ErrNotFound onto a typed NotFoundError.
func notFound(err error, kind, id string) error {
	if errors.Is(err, repo.ErrNotFound) {
		return NotFoundError{Kind: kind, ID: id}
	}
	return err
}

func requireID(field, v string) error {
	if strings.TrimSpace(v) == "" {
		return InvalidArgumentError{Field: field, Reason: "must not be empty"}
	}
	return nil
}

func strPtr(s string) *string {
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
