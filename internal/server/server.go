package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"queueline/internal/engine"
	"queueline/internal/engine/auth"
	"queueline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	// Webhooks starts the history dispatcher when the engine config lists hooks.
	Webhooks bool
	// Context stops the webhook dispatcher when done. Nil means it runs for
	// the life of the process.
	Context context.Context
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_authorized"`
	Message string         `json:"message" example:"user-1 lacks APPEND on workbasket WBI:..."`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope of every failed request.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Queueline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine))
	hcfg := huma.DefaultConfig("Queueline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerMe(group, cfg.Engine)
	registerWorkbaskets(group, cfg.Engine)
	registerAccessItems(group, cfg.Engine)
	registerDistribution(group, cfg.Engine)
	registerClassifications(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerTaskLifecycle(group, cfg.Engine)
	registerComments(group, cfg.Engine)
	registerAPIKeys(group, cfg.Engine)
	registerHistory(group, cfg.Engine)
	mountDocs(router, api, basePath)

	if cfg.Webhooks {
		ctx := cfg.Context
		if ctx == nil {
			ctx = context.Background()
		}
		startWebhookDispatcher(ctx, cfg.Engine, cfg.Auth.logger())
	}
	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// handleError maps engine errors onto HTTP statuses.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	msg := err.Error()
	var (
		na    auth.NotAuthorizedError
		nf    engine.NotFoundError
		st    engine.InvalidStateError
		ow    engine.InvalidOwnerError
		arg   engine.InvalidArgumentError
		wb    engine.InvalidWorkbasketError
		dom   engine.DomainNotFoundError
		dup   engine.AlreadyExistsError
		cc    engine.ConcurrencyError
		inUse engine.InUseError
	)
	switch {
	case errors.As(err, &na):
		if na.Reason == auth.ReasonAnonymous {
			return newAPIError(http.StatusUnauthorized, "unauthorized", msg, nil)
		}
		details := map[string]any{"reason": na.Reason.String()}
		if na.WorkbasketID != "" {
			details["workbasket_id"] = na.WorkbasketID
		}
		if na.Permission != 0 {
			details["permission"] = na.Permission.Names()
		}
		return newAPIError(http.StatusForbidden, "not_authorized", msg, details)
	case errors.As(err, &nf):
		return newAPIError(http.StatusNotFound, "not_found", msg, map[string]any{"kind": nf.Kind, "id": nf.ID})
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", msg, nil)
	case errors.As(err, &cc):
		return newAPIError(http.StatusConflict, "concurrent_modification", msg, map[string]any{"kind": cc.Kind, "id": cc.ID})
	case errors.As(err, &ow):
		return newAPIError(http.StatusConflict, "invalid_owner", msg, map[string]any{"task_id": ow.TaskID, "owner": ow.Owner})
	case errors.As(err, &st):
		return newAPIError(http.StatusConflict, "invalid_state", msg, map[string]any{"task_id": st.TaskID, "state": st.State})
	case errors.As(err, &dup):
		return newAPIError(http.StatusConflict, "already_exists", msg, map[string]any{"kind": dup.Kind, "key": dup.Key})
	case errors.As(err, &inUse):
		return newAPIError(http.StatusConflict, "in_use", msg, map[string]any{"kind": inUse.Kind, "references": inUse.References})
	case errors.As(err, &arg):
		return newAPIError(http.StatusBadRequest, "invalid_argument", msg, map[string]any{"field": arg.Field})
	case errors.As(err, &wb):
		return newAPIError(http.StatusUnprocessableEntity, "invalid_workbasket", msg, map[string]any{"field": wb.Field})
	case errors.As(err, &dom):
		return newAPIError(http.StatusUnprocessableEntity, "domain_not_found", msg, map[string]any{"domain": dom.Domain})
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current caller",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		id, err := callerIdentity(ctx, e)
		if err != nil {
			return nil, err
		}
		p, _ := principalFromContext(ctx)
		roles := []string{}
		for _, r := range e.RolesOf(id).List() {
			roles = append(roles, string(r))
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{
			AccessID: id.Name(),
			Groups:   nonNilSlice(id.Groups),
			Roles:    roles,
			Source:   p.Source,
		}}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}

func requireBody(ctx context.Context) huma.StatusError {
	if len(bytes.TrimSpace(bodyBytes(ctx))) == 0 {
		return newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
	}
	return nil
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

func parseCompositeCursor(cursor string) (string, string, error) {
	if cursor == "" {
		return "", "", nil
	}
	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid cursor")
	}
	return parts[0], parts[1], nil
}

func composeCursor(ts, id string) string {
	if ts == "" || id == "" {
		return ""
	}
	return ts + "|" + id
}

// pageFrom builds a keyset page that fetches one row past limit, so callers
// can tell whether a next cursor exists.
func pageFrom(limit int, cursor string) (repo.Page, int, huma.StatusError) {
	limit = normalizeLimit(limit)
	created, id, err := parseCompositeCursor(cursor)
	if err != nil {
		return repo.Page{}, 0, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": cursor})
	}
	return repo.Page{Limit: limit + 1, CursorCreated: created, CursorID: id}, limit, nil
}

func parseEventCursor(cursor string) (int64, huma.StatusError) {
	if cursor == "" {
		return 0, nil
	}
	parsed, err := strconv.ParseInt(cursor, 10, 64)
	if err != nil {
		return 0, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": cursor})
	}
	return parsed, nil
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
