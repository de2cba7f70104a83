package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"queueline/internal/domain"
	"queueline/internal/engine"
)

type workbasketPath struct {
	WorkbasketID string `path:"workbasket_id"`
}

func registerWorkbaskets(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-workbasket",
		Method:        http.MethodPost,
		Path:          "/workbaskets",
		Summary:       "Create workbasket",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		Body WorkbasketRequest `json:"body"`
	}) (*struct {
		Body domain.Workbasket `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		id, err := callerIdentity(ctx, e)
		if err != nil {
			return nil, err
		}
		w, err := e.CreateWorkbasket(ctx, id, input.Body.workbasket(""))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Workbasket `json:"body"`
		}{Body: w}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-workbaskets",
		Method:      http.MethodGet,
		Path:        "/workbaskets",
		Summary:     "List workbaskets the caller may see",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Domain     string `query:"domain"`
		Type       string `query:"type"`
		Key        string `query:"key"`
		Name       string `query:"name"`
		Permission string `query:"permission" doc:"Comma separated permissions the caller must hold; defaults to READ"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedWorkbaskets `json:"body"`
	}, error) {
		id, err := callerIdentity(ctx, e)
		if err != nil {
			return nil, err
		}
		page, limit, perr := pageFrom(input.Limit, input.Cursor)
		if perr != nil {
			return nil, perr
		}
		q := engine.WorkbasketQuery{
			Domain:   input.Domain,
			Type:     domain.WorkbasketType(input.Type),
			Key:      input.Key,
			NameLike: input.Name,
			Page:     page,
		}
		if input.Permission != "" {
			perms, err := domain.ParsePermissions(splitGroups(input.Permission))
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"permission": input.Permission})
			}
			q.Permission = perms
		}
		items, err := e.ListWorkbaskets(ctx, id, q)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedWorkbaskets{Items: nonNilSlice(items)}
		if len(items) > limit {
			last := items[limit-1]
			resp.NextCursor = composeCursor(last.Created, last.ID)
			resp.Items = items[:limit]
		}
		return &struct {
			Body paginatedWorkbaskets `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-workbasket",
		Method:      http.MethodGet,
		Path:        "/workbaskets/{workbasket_id}",
		Summary:     "Get workbasket",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *workbasketPath) (*struct {
		Body domain.Workbasket `json:"body"`
	}, error) {
		id, err := callerIdentity(ctx, e)
		if err != nil {
			return nil, err
		}
		w, err := e.GetWorkbasket(ctx, id, input.WorkbasketID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Workbasket `json:"body"`
		}{Body: w}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-workbasket-by-key",
		Method:      http.MethodGet,
		Path:        "/domains/{domain}/workbaskets/{key}",
		Summary:     "Get workbasket by key and domain",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Domain string `path:"domain"`
		Key    string `path:"key"`
	}) (*struct {
		Body domain.Workbasket `json:"body"`
	}, error) {
		id, err := callerIdentity(ctx, e)
		if err != nil {
			return nil, err
		}
		w, err := e.GetWorkbasketByKey(ctx, id, input.Key, input.Domain)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Workbasket `json:"body"`
		}{Body: w}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-workbasket",
		Method:      http.MethodPut,
		Path:        "/workbaskets/{workbasket_id}",
		Summary:     "Update workbasket",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		WorkbasketID string            `path:"workbasket_id"`
		Body         WorkbasketRequest `json:"body"`
	}) (*struct {
		Body domain.Workbasket `json:"body"`
	}, error) {
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
		w, err := e.UpdateWorkbasket(ctx, id, input.Body.workbasket(input.WorkbasketID))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Workbasket `json:"body"`
		}{Body: w}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-workbasket",
		Method:      http.MethodDelete,
		Path:        "/workbaskets/{workbasket_id}",
		Summary:     "Delete workbasket, or mark it while tasks reference it",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *workbasketPath) (*struct {
		Body DeleteWorkbasketResponse `json:"body"`
	}, error) {
		id, err := callerIdentity(ctx, e)
		if err != nil {
			return nil, err
		}
		deleted, err := e.DeleteWorkbasket(ctx, id, input.WorkbasketID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DeleteWorkbasketResponse `json:"body"`
		}{Body: DeleteWorkbasketResponse{Deleted: deleted, Marked: !deleted}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "purge-workbaskets",
		Method:      http.MethodPost,
		Path:        "/workbaskets/purge",
		Summary:     "Hard-delete marked workbaskets no task references any more",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body PurgeResponse `json:"body"`
	}, error) {
		id, err := callerIdentity(ctx, e)
		if err != nil {
			return nil, err
		}
		deleted, err := e.PurgeMarkedWorkbaskets(ctx, id)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PurgeResponse `json:"body"`
		}{Body: PurgeResponse{Deleted: nonNilSlice(deleted)}}, nil
	})
}

func registerAccessItems(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-access-item",
		Method:        http.MethodPost,
		Path:          "/workbaskets/{workbasket_id}/access-items",
		Summary:       "Grant permissions on a workbasket",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		WorkbasketID string            `path:"workbasket_id"`
		Body         AccessItemRequest `json:"body"`
	}) (*struct {
		Body AccessItemResponse `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		id, err := callerIdentity(ctx, e)
		if err != nil {
			return nil, err
		}
		it, err := input.Body.item("", input.WorkbasketID)
		if err != nil {
			return nil, handleError(err)
		}
		created, err := e.CreateAccessItem(ctx, id, it)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AccessItemResponse `json:"body"`
		}{Body: accessItemResponse(created)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-access-items",
		Method:      http.MethodGet,
		Path:        "/workbaskets/{workbasket_id}/access-items",
		Summary:     "List grants on a workbasket",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *workbasketPath) (*struct {
		Body []AccessItemResponse `json:"body"`
	}, error) {
		id, err := callerIdentity(ctx, e)
		if err != nil {
			return nil, err
		}
		items, err := e.ListAccessItems(ctx, id, input.WorkbasketID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []AccessItemResponse `json:"body"`
		}{Body: mapAccessItems(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-access-items",
		Method:      http.MethodPut,
		Path:        "/workbaskets/{workbasket_id}/access-items",
		Summary:     "Replace every grant on a workbasket",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		WorkbasketID string              `path:"workbasket_id"`
		Body         []AccessItemRequest `json:"body"`
	}) (*struct {
		Body []AccessItemResponse `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		id, err := callerIdentity(ctx, e)
		if err != nil {
			return nil, err
		}
		items := make([]domain.AccessItem, 0, len(input.Body))
		for _, req := range input.Body {
			it, err := req.item("", input.WorkbasketID)
			if err != nil {
				return nil, handleError(err)
			}
			items = append(items, it)
		}
		stored, err := e.SetAccessItems(ctx, id, input.WorkbasketID, items)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []AccessItemResponse `json:"body"`
		}{Body: mapAccessItems(stored)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "query-access-items",
		Method:      http.MethodGet,
		Path:        "/access-items",
		Summary:     "Query grants across workbaskets",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		AccessID     []string `query:"access_id"`
		WorkbasketID []string `query:"workbasket_id"`
	}) (*struct {
		Body []AccessItemResponse `json:"body"`
	}, error) {
		id, err := callerIdentity(ctx, e)
		if err != nil {
			return nil, err
		}
		items, err := e.QueryAccessItems(ctx, id, input.AccessID, input.WorkbasketID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []AccessItemResponse `json:"body"`
		}{Body: mapAccessItems(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-access-item",
		Method:      http.MethodPut,
		Path:        "/access-items/{item_id}",
		Summary:     "Replace the permissions of a grant",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ItemID string            `path:"item_id"`
		Body   AccessItemRequest `json:"body"`
	}) (*struct {
		Body AccessItemResponse `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		id, err := callerIdentity(ctx, e)
		if err != nil {
			return nil, err
		}
		it, err := input.Body.item(input.ItemID, "")
		if err != nil {
			return nil, handleError(err)
		}
		updated, err := e.UpdateAccessItem(ctx, id, it)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AccessItemResponse `json:"body"`
		}{Body: accessItemResponse(updated)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-access-item",
		Method:        http.MethodDelete,
		Path:          "/access-items/{item_id}",
		Summary:       "Delete a grant",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ItemID string `path:"item_id"`
	}) (*struct{}, error) {
		id, err := callerIdentity(ctx, e)
		if err != nil {
			return nil, err
		}
		if err := e.DeleteAccessItem(ctx, id, input.ItemID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "revoke-accessor",
		Method:      http.MethodDelete,
		Path:        "/accessors/{access_id}/access-items",
		Summary:     "Revoke every grant of a user",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		AccessID string `path:"access_id"`
	}) (*struct {
		Body RevokeResponse `json:"body"`
	}, error) {
		id, err := callerIdentity(ctx, e)
		if err != nil {
			return nil, err
		}
		n, err := e.DeleteAccessItemsForAccessor(ctx, id, input.AccessID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RevokeResponse `json:"body"`
		}{Body: RevokeResponse{Removed: n}}, nil
	})
}

func registerDistribution(api huma.API, e engine.Engine) {
	type edgePath struct {
		WorkbasketID string `path:"workbasket_id"`
		TargetID     string `path:"target_id"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "list-distribution-targets",
		Method:      http.MethodGet,
		Path:        "/workbaskets/{workbasket_id}/distribution-targets",
		Summary:     "Workbaskets this workbasket may distribute to",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *workbasketPath) (*struct {
		Body []domain.WorkbasketSummary `json:"body"`
	}, error) {
		id, err := callerIdentity(ctx, e)
		if err != nil {
			return nil, err
		}
		items, err := e.GetDistributionTargets(ctx, id, input.WorkbasketID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.WorkbasketSummary `json:"body"`
		}{Body: summaries(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-distribution-sources",
		Method:      http.MethodGet,
		Path:        "/workbaskets/{workbasket_id}/distribution-sources",
		Summary:     "Workbaskets that may distribute into this workbasket",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *workbasketPath) (*struct {
		Body []domain.WorkbasketSummary `json:"body"`
	}, error) {
		id, err := callerIdentity(ctx, e)
		if err != nil {
			return nil, err
		}
		items, err := e.GetDistributionSources(ctx, id, input.WorkbasketID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.WorkbasketSummary `json:"body"`
		}{Body: summaries(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-distribution-targets",
		Method:      http.MethodPut,
		Path:        "/workbaskets/{workbasket_id}/distribution-targets",
		Summary:     "Replace the distribution targets of a workbasket",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		WorkbasketID string                     `path:"workbasket_id"`
		Body         DistributionTargetsRequest `json:"body"`
	}) (*struct {
		Body []domain.WorkbasketSummary `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		id, err := callerIdentity(ctx, e)
		if err != nil {
			return nil, err
		}
		if err := e.SetDistributionTargets(ctx, id, input.WorkbasketID, input.Body.TargetIDs); err != nil {
			return nil, handleError(err)
		}
		items, err := e.GetDistributionTargets(ctx, id, input.WorkbasketID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.WorkbasketSummary `json:"body"`
		}{Body: summaries(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-distribution-target",
		Method:        http.MethodPut,
		Path:          "/workbaskets/{workbasket_id}/distribution-targets/{target_id}",
		Summary:       "Allow distribution to one target",
		DefaultStatus: http.StatusNoContent,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *edgePath) (*struct{}, error) {
		id, err := callerIdentity(ctx, e)
		if err != nil {
			return nil, err
		}
		if err := e.AddDistributionTarget(ctx, id, input.WorkbasketID, input.TargetID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "remove-distribution-target",
		Method:        http.MethodDelete,
		Path:          "/workbaskets/{workbasket_id}/distribution-targets/{target_id}",
		Summary:       "Stop distribution to one target",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *edgePath) (*struct{}, error) {
		id, err := callerIdentity(ctx, e)
		if err != nil {
			return nil, err
		}
		if err := e.RemoveDistributionTarget(ctx, id, input.WorkbasketID, input.TargetID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func summaries(items []domain.Workbasket) []domain.WorkbasketSummary {
	out := make([]domain.WorkbasketSummary, 0, len(items))
	for _, w := range items {
		out = append(out, w.Summary())
	}
	return out
}
