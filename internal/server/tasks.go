package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"queueline/internal/domain"
	"queueline/internal/engine"
	"queueline/internal/engine/auth"
)

type taskPath struct {
	TaskID string `path:"task_id"`
}

type taskBody struct {
	Body domain.Task `json:"body"`
}

func taskResult(t domain.Task, err error) (*taskBody, error) {
	if err != nil {
		return nil, handleError(err)
	}
	return &taskBody{Body: t}, nil
}

// lifecycleRoute registers a body-less POST on a task that hands the task to op.
func lifecycleRoute(api huma.API, e engine.Engine, opID, suffix, summary string, op func(context.Context, auth.Identity, string) (domain.Task, error)) {
	huma.Register(api, huma.Operation{
		OperationID: opID,
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/" + suffix,
		Summary:     summary,
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *taskPath) (*taskBody, error) {
		id, err := callerIdentity(ctx, e)
		if err != nil {
			return nil, err
		}
		return taskResult(op(ctx, id, input.TaskID))
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*taskBody, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		id, err := callerIdentity(ctx, e)
		if err != nil {
			return nil, err
		}
		return taskResult(e.CreateTask(ctx, id, input.Body.input()))
	})

	huma.Register(api, huma.Operation{
		OperationID: "query-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "Query tasks in workbaskets the caller may read",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		ID                []string `query:"id"`
		ExternalID        []string `query:"external_id"`
		State             []string `query:"state"`
		WorkbasketID      []string `query:"workbasket_id"`
		Owner             string   `query:"owner"`
		ClassificationKey []string `query:"classification_key"`
		BusinessProcessID string   `query:"business_process_id"`
		PORCompany        string   `query:"por_company"`
		PORSystem         string   `query:"por_system"`
		PORInstance       string   `query:"por_system_instance"`
		PORType           string   `query:"por_type"`
		PORValue          string   `query:"por_value"`
		Order             string   `query:"order" enum:"created,priority" default:"created"`
		Limit             int      `query:"limit" default:"50"`
		Cursor            string   `query:"cursor"`
	}) (*struct {
		Body paginatedTasks `json:"body"`
	}, error) {
		id, err := callerIdentity(ctx, e)
		if err != nil {
			return nil, err
		}
		states, ok := domain.ParseTaskStates(input.State)
		if !ok {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid state", map[string]any{"state": input.State})
		}
		page, limit, perr := pageFrom(input.Limit, input.Cursor)
		if perr != nil {
			return nil, perr
		}
		q := engine.TaskQuery{
			IDs:                input.ID,
			ExternalIDs:        input.ExternalID,
			States:             states,
			WorkbasketIDs:      input.WorkbasketID,
			Owner:              input.Owner,
			ClassificationKeys: input.ClassificationKey,
			BusinessProcessID:  input.BusinessProcessID,
			PrimaryObjRef: domain.ObjectReference{
				Company:        input.PORCompany,
				System:         input.PORSystem,
				SystemInstance: input.PORInstance,
				Type:           input.PORType,
				Value:          input.PORValue,
			},
			ByPriority: input.Order == "priority",
			Page:       page,
		}
		items, err := e.QueryTasks(ctx, id, q)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedTasks{Items: nonNilSlice(items)}
		if len(items) > limit {
			resp.Items = items[:limit]
			if !q.ByPriority {
				last := items[limit-1]
				resp.NextCursor = composeCursor(last.Created, last.ID)
			}
		}
		return &struct {
			Body paginatedTasks `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*taskBody, error) {
		id, err := callerIdentity(ctx, e)
		if err != nil {
			return nil, err
		}
		return taskResult(e.GetTask(ctx, id, input.TaskID))
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPut,
		Path:        "/tasks/{task_id}",
		Summary:     "Update the editable fields of a task",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string            `path:"task_id"`
		Body   UpdateTaskRequest `json:"body"`
	}) (*taskBody, error) {
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
		return taskResult(e.UpdateTask(ctx, id, input.Body.update(input.TaskID)))
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-task",
		Method:        http.MethodDelete,
		Path:          "/tasks/{task_id}",
		Summary:       "Delete a task",
		DefaultStatus: http.StatusNoContent,
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
		Force  bool   `query:"force" doc:"Delete regardless of state"`
	}) (*struct{}, error) {
		id, err := callerIdentity(ctx, e)
		if err != nil {
			return nil, err
		}
		del := e.DeleteTask
		if input.Force {
			del = e.ForceDeleteTask
		}
		if err := del(ctx, id, input.TaskID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-tasks",
		Method:      http.MethodPost,
		Path:        "/tasks/delete",
		Summary:     "Delete several tasks, reporting per-task failures",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body BulkDeleteRequest `json:"body"`
	}) (*struct {
		Body BulkResultResponse `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		id, err := callerIdentity(ctx, e)
		if err != nil {
			return nil, err
		}
		res, err := e.DeleteTasks(ctx, id, input.Body.TaskIDs)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BulkResultResponse `json:"body"`
		}{Body: bulkResultResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-task-read",
		Method:      http.MethodPut,
		Path:        "/tasks/{task_id}/read",
		Summary:     "Mark a task read or unread",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string      `path:"task_id"`
		Body   ReadRequest `json:"body"`
	}) (*taskBody, error) {
		id, err := callerIdentity(ctx, e)
		if err != nil {
			return nil, err
		}
		return taskResult(e.SetTaskRead(ctx, id, input.TaskID, input.Body.Read))
	})
}

func registerTaskLifecycle(api huma.API, e engine.Engine) {
	lifecycleRoute(api, e, "claim-task", "claim", "Claim a task", e.Claim)
	lifecycleRoute(api, e, "cancel-task", "cancel", "Cancel a task", e.Cancel)
	lifecycleRoute(api, e, "terminate-task", "terminate", "Terminate a task", e.Terminate)

	huma.Register(api, huma.Operation{
		OperationID: "cancel-claim",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/claim/cancel",
		Summary:     "Return a claimed task to its workbasket",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
		Force  bool   `query:"force" doc:"Cancel a claim held by another user"`
	}) (*taskBody, error) {
		id, err := callerIdentity(ctx, e)
		if err != nil {
			return nil, err
		}
		if input.Force {
			return taskResult(e.ForceCancelClaim(ctx, id, input.TaskID))
		}
		return taskResult(e.CancelClaim(ctx, id, input.TaskID))
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/complete",
		Summary:     "Complete a task",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
		Force  bool   `query:"force" doc:"Complete a READY task or one claimed by another user"`
	}) (*taskBody, error) {
		id, err := callerIdentity(ctx, e)
		if err != nil {
			return nil, err
		}
		if input.Force {
			return taskResult(e.ForceComplete(ctx, id, input.TaskID))
		}
		return taskResult(e.Complete(ctx, id, input.TaskID))
	})

	huma.Register(api, huma.Operation{
		OperationID: "select-and-claim",
		Method:      http.MethodPost,
		Path:        "/tasks/select-and-claim",
		Summary:     "Claim the most urgent READY task matching a query",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		Body SelectAndClaimRequest `json:"body" required:"false"`
	}) (*taskBody, error) {
		id, err := callerIdentity(ctx, e)
		if err != nil {
			return nil, err
		}
		return taskResult(e.SelectAndClaim(ctx, id, engine.TaskQuery{
			WorkbasketIDs:      input.Body.WorkbasketIDs,
			ClassificationKeys: input.Body.ClassificationKeys,
			BusinessProcessID:  input.Body.BusinessProcessID,
		}))
	})

	huma.Register(api, huma.Operation{
		OperationID: "transfer-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/transfer",
		Summary:     "Move a task to another workbasket",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string          `path:"task_id"`
		Body   TransferRequest `json:"body"`
	}) (*taskBody, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		id, err := callerIdentity(ctx, e)
		if err != nil {
			return nil, err
		}
		return taskResult(e.Transfer(ctx, id, input.TaskID, input.Body.TargetID, flagOrDefault(input.Body.SetTransferFlag)))
	})

	huma.Register(api, huma.Operation{
		OperationID: "transfer-tasks",
		Method:      http.MethodPost,
		Path:        "/tasks/transfer",
		Summary:     "Move several tasks, reporting per-task failures",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		Body BulkTransferRequest `json:"body"`
	}) (*struct {
		Body BulkResultResponse `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		id, err := callerIdentity(ctx, e)
		if err != nil {
			return nil, err
		}
		res, err := e.TransferTasks(ctx, id, input.Body.TargetID, input.Body.TaskIDs, flagOrDefault(input.Body.SetTransferFlag))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BulkResultResponse `json:"body"`
		}{Body: bulkResultResponse(res)}, nil
	})
}

// flagOrDefault reads the optional transfer flag, which defaults to true.
func flagOrDefault(v *bool) bool {
	return v == nil || *v
}

func registerComments(api huma.API, e engine.Engine) {
	type commentBody struct {
		Body domain.Comment `json:"body"`
	}
	type commentPath struct {
		CommentID string `path:"comment_id"`
	}

	huma.Register(api, huma.Operation{
		OperationID:   "create-comment",
		Method:        http.MethodPost,
		Path:          "/tasks/{task_id}/comments",
		Summary:       "Comment on a task",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string         `path:"task_id"`
		Body   CommentRequest `json:"body"`
	}) (*commentBody, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		id, err := callerIdentity(ctx, e)
		if err != nil {
			return nil, err
		}
		c, err := e.CreateComment(ctx, id, input.TaskID, input.Body.Text)
		if err != nil {
			return nil, handleError(err)
		}
		return &commentBody{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-comments",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}/comments",
		Summary:     "List the comments of a task",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*struct {
		Body []domain.Comment `json:"body"`
	}, error) {
		id, err := callerIdentity(ctx, e)
		if err != nil {
			return nil, err
		}
		items, err := e.ListComments(ctx, id, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Comment `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-comment",
		Method:      http.MethodGet,
		Path:        "/comments/{comment_id}",
		Summary:     "Get a comment",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *commentPath) (*commentBody, error) {
		id, err := callerIdentity(ctx, e)
		if err != nil {
			return nil, err
		}
		c, err := e.GetComment(ctx, id, input.CommentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &commentBody{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-comment",
		Method:      http.MethodPut,
		Path:        "/comments/{comment_id}",
		Summary:     "Edit a comment",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		CommentID string         `path:"comment_id"`
		Body      CommentRequest `json:"body"`
	}) (*commentBody, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		id, err := callerIdentity(ctx, e)
		if err != nil {
			return nil, err
		}
		c, err := e.UpdateComment(ctx, id, domain.Comment{ID: input.CommentID, Text: input.Body.Text, Modified: input.Body.Modified})
		if err != nil {
			return nil, handleError(err)
		}
		return &commentBody{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-comment",
		Method:        http.MethodDelete,
		Path:          "/comments/{comment_id}",
		Summary:       "Delete a comment",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *commentPath) (*struct{}, error) {
		id, err := callerIdentity(ctx, e)
		if err != nil {
			return nil, err
		}
		if err := e.DeleteComment(ctx, id, input.CommentID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}
