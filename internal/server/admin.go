package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"queueline/internal/domain"
	"queueline/internal/engine"
)

func registerClassifications(api huma.API, e engine.Engine) {
	type classificationBody struct {
		Body domain.Classification `json:"body"`
	}
	type classificationPath struct {
		ClassificationID string `path:"classification_id"`
	}

	huma.Register(api, huma.Operation{
		OperationID:   "create-classification",
		Method:        http.MethodPost,
		Path:          "/classifications",
		Summary:       "Create classification",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		Body ClassificationRequest `json:"body"`
	}) (*classificationBody, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		id, err := callerIdentity(ctx, e)
		if err != nil {
			return nil, err
		}
		c, err := e.CreateClassification(ctx, id, input.Body.classification(""))
		if err != nil {
			return nil, handleError(err)
		}
		return &classificationBody{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-classifications",
		Method:      http.MethodGet,
		Path:        "/classifications",
		Summary:     "List classifications",
	}, func(ctx context.Context, input *struct {
		Domain   string `query:"domain"`
		Category string `query:"category"`
	}) (*struct {
		Body []domain.Classification `json:"body"`
	}, error) {
		if _, err := callerIdentity(ctx, e); err != nil {
			return nil, err
		}
		items, err := e.ListClassifications(ctx, input.Domain, input.Category)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Classification `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-classification",
		Method:      http.MethodGet,
		Path:        "/classifications/{classification_id}",
		Summary:     "Get classification",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *classificationPath) (*classificationBody, error) {
		if _, err := callerIdentity(ctx, e); err != nil {
			return nil, err
		}
		c, err := e.GetClassification(ctx, engine.ClassificationRef{ID: input.ClassificationID})
		if err != nil {
			return nil, handleError(err)
		}
		return &classificationBody{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-classification",
		Method:      http.MethodPut,
		Path:        "/classifications/{classification_id}",
		Summary:     "Update classification",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ClassificationID string                `path:"classification_id"`
		Body             ClassificationRequest `json:"body"`
	}) (*classificationBody, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		if strings.TrimSpace(input.Body.Modified) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "modified is required", map[string]any{"field": "modified"})
		}
		id, err := callerIdentity(ctx, e)
		if err != nil {
			return nil, err
		}
		c, err := e.UpdateClassification(ctx, id, input.Body.classification(input.ClassificationID))
		if err != nil {
			return nil, handleError(err)
		}
		return &classificationBody{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-classification",
		Method:        http.MethodDelete,
		Path:          "/classifications/{classification_id}",
		Summary:       "Delete classification",
		DefaultStatus: http.StatusNoContent,
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *classificationPath) (*struct{}, error) {
		id, err := callerIdentity(ctx, e)
		if err != nil {
			return nil, err
		}
		if err := e.DeleteClassification(ctx, id, input.ClassificationID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/api-keys",
		Summary:       "Issue an API key",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		id, err := callerIdentity(ctx, e)
		if err != nil {
			return nil, err
		}
		accessID := input.Body.AccessID
		if accessID == "" {
			accessID = id.Name()
		}
		k, plain, err := e.CreateAPIKey(ctx, id, accessID, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: apiKeyResponse(k, plain)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/api-keys",
		Summary:     "List API keys",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		AccessID string `query:"access_id" doc:"Defaults to the caller; admin may pass all"`
	}) (*struct {
		Body []APIKeyResponse `json:"body"`
	}, error) {
		id, err := callerIdentity(ctx, e)
		if err != nil {
			return nil, err
		}
		accessID := input.AccessID
		switch accessID {
		case "":
			accessID = id.Name()
		case "all":
			accessID = ""
		}
		keys, err := e.ListAPIKeys(ctx, id, accessID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]APIKeyResponse, 0, len(keys))
		for _, k := range keys {
			out = append(out, apiKeyResponse(k, ""))
		}
		return &struct {
			Body []APIKeyResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "revoke-api-key",
		Method:        http.MethodDelete,
		Path:          "/api-keys/{key_id}",
		Summary:       "Revoke an API key",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		KeyID string `path:"key_id"`
	}) (*struct{}, error) {
		id, err := callerIdentity(ctx, e)
		if err != nil {
			return nil, err
		}
		if err := e.RevokeAPIKey(ctx, id, input.KeyID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerHistory(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent history events",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		id, err := callerIdentity(ctx, e)
		if err != nil {
			return nil, err
		}
		limit := normalizeLimit(input.Limit)
		cursor, cerr := parseEventCursor(input.Cursor)
		if cerr != nil {
			return nil, cerr
		}
		items, err := e.History(ctx, id, limit+1, cursor, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: nonNilSlice(items)}
		if len(items) > limit {
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
			resp.Items = items[:limit]
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}
