package server

import (
	"queueline/internal/domain"
	"queueline/internal/engine"
)

// Request payloads

type WorkbasketRequest struct {
	Key         string                `json:"key"`
	Domain      string                `json:"domain"`
	Name        string                `json:"name"`
	Type        domain.WorkbasketType `json:"type" enum:"GROUP,PERSONAL,TOPIC,CLEARANCE"`
	Description string                `json:"description,omitempty"`
	Owner       string                `json:"owner,omitempty"`
	OrgLevel1   string                `json:"org_level_1,omitempty"`
	OrgLevel2   string                `json:"org_level_2,omitempty"`
	OrgLevel3   string                `json:"org_level_3,omitempty"`
	OrgLevel4   string                `json:"org_level_4,omitempty"`
	Custom      []string              `json:"custom,omitempty" maxItems:"8"`
	// Modified is the stamp last read; required on update.
	Modified string `json:"modified,omitempty"`
}

func (r WorkbasketRequest) workbasket(id string) domain.Workbasket {
	return domain.Workbasket{
		ID:          id,
		Key:         r.Key,
		Domain:      r.Domain,
		Name:        r.Name,
		Type:        r.Type,
		Description: r.Description,
		Owner:       r.Owner,
		OrgLevel1:   r.OrgLevel1,
		OrgLevel2:   r.OrgLevel2,
		OrgLevel3:   r.OrgLevel3,
		OrgLevel4:   r.OrgLevel4,
		Custom:      r.Custom,
		Modified:    r.Modified,
	}
}

type AccessItemRequest struct {
	AccessID    string   `json:"access_id"`
	AccessName  string   `json:"access_name,omitempty"`
	Permissions []string `json:"permissions" example:"[\"READ\",\"APPEND\"]"`
}

func (r AccessItemRequest) item(id, workbasketID string) (domain.AccessItem, error) {
	perms, err := domain.ParsePermissions(r.Permissions)
	if err != nil {
		return domain.AccessItem{}, engine.InvalidArgumentError{Field: "permissions", Reason: err.Error()}
	}
	return domain.AccessItem{
		ID:           id,
		WorkbasketID: workbasketID,
		AccessID:     r.AccessID,
		AccessName:   r.AccessName,
		Permissions:  perms,
	}, nil
}

type DistributionTargetsRequest struct {
	TargetIDs []string `json:"target_ids"`
}

type ClassificationRequest struct {
	Key          string `json:"key"`
	Domain       string `json:"domain"`
	Category     string `json:"category,omitempty"`
	Type         string `json:"type,omitempty"`
	Name         string `json:"name,omitempty"`
	Description  string `json:"description,omitempty"`
	Priority     int    `json:"priority,omitempty"`
	ServiceLevel string `json:"service_level,omitempty" example:"P2D"`
	Modified     string `json:"modified,omitempty"`
}

func (r ClassificationRequest) classification(id string) domain.Classification {
	return domain.Classification{
		ID:           id,
		Key:          r.Key,
		Domain:       r.Domain,
		Category:     r.Category,
		Type:         r.Type,
		Name:         r.Name,
		Description:  r.Description,
		Priority:     r.Priority,
		ServiceLevel: r.ServiceLevel,
		Modified:     r.Modified,
	}
}

type ClassificationRefRequest struct {
	ID     string `json:"id,omitempty"`
	Key    string `json:"key,omitempty"`
	Domain string `json:"domain,omitempty"`
}

func (r ClassificationRefRequest) ref() engine.ClassificationRef {
	return engine.ClassificationRef{ID: r.ID, Key: r.Key, Domain: r.Domain}
}

type AttachmentRequest struct {
	Classification ClassificationRefRequest `json:"classification"`
	ObjRef         domain.ObjectReference   `json:"obj_ref"`
	Channel        string                   `json:"channel,omitempty"`
	Received       *string                  `json:"received,omitempty"`
}

func attachmentInputs(in []AttachmentRequest) []engine.AttachmentInput {
	out := make([]engine.AttachmentInput, 0, len(in))
	for _, a := range in {
		out = append(out, engine.AttachmentInput{
			Classification: a.Classification.ref(),
			ObjRef:         a.ObjRef,
			Channel:        a.Channel,
			Received:       a.Received,
		})
	}
	return out
}

type CreateTaskRequest struct {
	ExternalID        *string                  `json:"external_id,omitempty"`
	WorkbasketID      string                   `json:"workbasket_id,omitempty"`
	WorkbasketKey     string                   `json:"workbasket_key,omitempty"`
	WorkbasketDomain  string                   `json:"workbasket_domain,omitempty"`
	Classification    ClassificationRefRequest `json:"classification"`
	BusinessProcessID string                   `json:"business_process_id,omitempty"`
	PrimaryObjRef     domain.ObjectReference   `json:"primary_obj_ref"`
	Owner             string                   `json:"owner,omitempty"`
	Name              string                   `json:"name,omitempty"`
	Note              string                   `json:"note,omitempty"`
	Description       string                   `json:"description,omitempty"`
	Priority          *int                     `json:"priority,omitempty"`
	Planned           *string                  `json:"planned,omitempty"`
	Due               *string                  `json:"due,omitempty"`
	Received          *string                  `json:"received,omitempty"`
	Custom            []string                 `json:"custom,omitempty" maxItems:"16"`
	Attachments       []AttachmentRequest      `json:"attachments,omitempty"`
}

func (r CreateTaskRequest) input() engine.TaskInput {
	return engine.TaskInput{
		ExternalID:        r.ExternalID,
		WorkbasketID:      r.WorkbasketID,
		WorkbasketKey:     r.WorkbasketKey,
		WorkbasketDomain:  r.WorkbasketDomain,
		Classification:    r.Classification.ref(),
		BusinessProcessID: r.BusinessProcessID,
		PrimaryObjRef:     r.PrimaryObjRef,
		Owner:             r.Owner,
		Name:              r.Name,
		Note:              r.Note,
		Description:       r.Description,
		Priority:          r.Priority,
		Planned:           r.Planned,
		Due:               r.Due,
		Received:          r.Received,
		Custom:            r.Custom,
		Attachments:       attachmentInputs(r.Attachments),
	}
}

type UpdateTaskRequest struct {
	Modified          string                    `json:"modified"`
	ExternalID        *string                   `json:"external_id,omitempty"`
	Classification    *ClassificationRefRequest `json:"classification,omitempty"`
	BusinessProcessID *string                   `json:"business_process_id,omitempty"`
	PrimaryObjRef     *domain.ObjectReference   `json:"primary_obj_ref,omitempty"`
	Name              *string                   `json:"name,omitempty"`
	Note              *string                   `json:"note,omitempty"`
	Description       *string                   `json:"description,omitempty"`
	Priority          *int                      `json:"priority,omitempty"`
	Planned           *string                   `json:"planned,omitempty"`
	Due               *string                   `json:"due,omitempty"`
	Received          *string                   `json:"received,omitempty"`
	Custom            []string                  `json:"custom,omitempty" maxItems:"16"`
	Attachments       *[]AttachmentRequest      `json:"attachments,omitempty"`
}

func (r UpdateTaskRequest) update(taskID string) engine.TaskUpdate {
	u := engine.TaskUpdate{
		ID:                taskID,
		Modified:          r.Modified,
		ExternalID:        r.ExternalID,
		BusinessProcessID: r.BusinessProcessID,
		PrimaryObjRef:     r.PrimaryObjRef,
		Name:              r.Name,
		Note:              r.Note,
		Description:       r.Description,
		Priority:          r.Priority,
		Planned:           r.Planned,
		Due:               r.Due,
		Received:          r.Received,
		Custom:            r.Custom,
	}
	if r.Classification != nil {
		ref := r.Classification.ref()
		u.Classification = &ref
	}
	if r.Attachments != nil {
		in := attachmentInputs(*r.Attachments)
		u.Attachments = &in
	}
	return u
}

type SelectAndClaimRequest struct {
	WorkbasketIDs      []string `json:"workbasket_ids,omitempty"`
	ClassificationKeys []string `json:"classification_keys,omitempty"`
	BusinessProcessID  string   `json:"business_process_id,omitempty"`
}

type TransferRequest struct {
	TargetID        string `json:"target_id"`
	SetTransferFlag *bool  `json:"set_transfer_flag,omitempty"`
}

type BulkTransferRequest struct {
	TargetID        string   `json:"target_id"`
	TaskIDs         []string `json:"task_ids"`
	SetTransferFlag *bool    `json:"set_transfer_flag,omitempty"`
}

type BulkDeleteRequest struct {
	TaskIDs []string `json:"task_ids"`
}

type ReadRequest struct {
	Read bool `json:"read"`
}

type CommentRequest struct {
	Text     string `json:"text"`
	Modified string `json:"modified,omitempty"`
}

type CreateAPIKeyRequest struct {
	AccessID string `json:"access_id,omitempty" doc:"Defaults to the caller"`
	Name     string `json:"name,omitempty"`
}

// Responses

type AccessItemResponse struct {
	ID            string   `json:"id"`
	WorkbasketID  string   `json:"workbasket_id"`
	WorkbasketKey string   `json:"workbasket_key,omitempty"`
	AccessID      string   `json:"access_id"`
	AccessName    string   `json:"access_name,omitempty"`
	Permissions   []string `json:"permissions"`
}

type WhoAmIResponse struct {
	AccessID string   `json:"access_id"`
	Groups   []string `json:"groups"`
	Roles    []string `json:"roles"`
	Source   string   `json:"source,omitempty"`
}

type DeleteWorkbasketResponse struct {
	Deleted bool `json:"deleted"`
	// Marked is set when open tasks kept the workbasket alive.
	Marked bool `json:"marked"`
}

type PurgeResponse struct {
	Deleted []string `json:"deleted"`
}

type RevokeResponse struct {
	Removed int64 `json:"removed"`
}

type BulkFailure struct {
	TaskID string       `json:"task_id"`
	Error  apiErrorBody `json:"error"`
}

type BulkResultResponse struct {
	Failed []BulkFailure `json:"failed"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	AccessID  string `json:"access_id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at"`
	// Key is only returned once, on creation.
	Key string `json:"key,omitempty"`
}

type paginatedWorkbaskets struct {
	Items      []domain.Workbasket `json:"items"`
	NextCursor string              `json:"next_cursor,omitempty"`
}

type paginatedTasks struct {
	Items      []domain.Task `json:"items"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

type paginatedEvents struct {
	Items      []domain.Event `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

func accessItemResponse(it domain.AccessItem) AccessItemResponse {
	return AccessItemResponse{
		ID:            it.ID,
		WorkbasketID:  it.WorkbasketID,
		WorkbasketKey: it.WorkbasketKey,
		AccessID:      it.AccessID,
		AccessName:    it.AccessName,
		Permissions:   nonNilSlice(it.Permissions.Names()),
	}
}

func mapAccessItems(items []domain.AccessItem) []AccessItemResponse {
	out := make([]AccessItemResponse, 0, len(items))
	for _, it := range items {
		out = append(out, accessItemResponse(it))
	}
	return out
}

func apiKeyResponse(k domain.APIKey, plain string) APIKeyResponse {
	return APIKeyResponse{
		ID:        k.ID,
		AccessID:  k.AccessID,
		Name:      k.Name,
		CreatedAt: k.CreatedAt,
		Key:       plain,
	}
}

func bulkResultResponse(res engine.BulkResult) BulkResultResponse {
	out := BulkResultResponse{Failed: []BulkFailure{}}
	for _, id := range res.FailedIDs() {
		body := apiErrorBody{Code: "internal_error", Message: res.Failed[id].Error()}
		if ae, ok := handleError(res.Failed[id]).(*apiError); ok {
			body = ae.Body
		}
		out.Failed = append(out.Failed, BulkFailure{TaskID: id, Error: body})
	}
	return out
}
