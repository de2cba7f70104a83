package queuelinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal Queueline HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	// AccessID and Groups are sent as legacy identity headers when no
	// credential is set; the server must allow them.
	AccessID   string
	Groups     []string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

// Workbasket represents the API workbasket model (partial).
type Workbasket struct {
	ID                string   `json:"id,omitempty"`
	Key               string   `json:"key"`
	Domain            string   `json:"domain"`
	Name              string   `json:"name"`
	Type              string   `json:"type"`
	Description       string   `json:"description,omitempty"`
	Owner             string   `json:"owner,omitempty"`
	Custom            []string `json:"custom,omitempty"`
	MarkedForDeletion bool     `json:"marked_for_deletion,omitempty"`
	Modified          string   `json:"modified,omitempty"`
}

// AccessItem grants permissions on a workbasket.
type AccessItem struct {
	ID           string   `json:"id,omitempty"`
	WorkbasketID string   `json:"workbasket_id,omitempty"`
	AccessID     string   `json:"access_id"`
	AccessName   string   `json:"access_name,omitempty"`
	Permissions  []string `json:"permissions"`
}

type Classification struct {
	ID           string `json:"id,omitempty"`
	Key          string `json:"key"`
	Domain       string `json:"domain"`
	Category     string `json:"category,omitempty"`
	Name         string `json:"name,omitempty"`
	Priority     int    `json:"priority,omitempty"`
	ServiceLevel string `json:"service_level,omitempty"`
	Modified     string `json:"modified,omitempty"`
}

type ObjectReference struct {
	Company        string `json:"company"`
	System         string `json:"system,omitempty"`
	SystemInstance string `json:"system_instance,omitempty"`
	Type           string `json:"type"`
	Value          string `json:"value"`
}

// Task represents the API task model (partial).
type Task struct {
	ID         string `json:"id"`
	ExternalID string `json:"external_id,omitempty"`
	Workbasket struct {
		ID     string `json:"id"`
		Key    string `json:"key"`
		Domain string `json:"domain"`
	} `json:"workbasket"`
	Classification struct {
		ID  string `json:"id"`
		Key string `json:"key"`
	} `json:"classification"`
	PrimaryObjRef ObjectReference `json:"primary_obj_ref"`
	State         string          `json:"state"`
	Owner         string          `json:"owner,omitempty"`
	Creator       string          `json:"creator"`
	Name          string          `json:"name,omitempty"`
	Priority      int             `json:"priority"`
	Read          bool            `json:"read"`
	Transferred   bool            `json:"transferred"`
	Due           string          `json:"due,omitempty"`
	Modified      string          `json:"modified"`
}

// NewTask is the payload of CreateTask. Set WorkbasketID, or WorkbasketKey
// together with WorkbasketDomain.
type NewTask struct {
	ExternalID        string          `json:"external_id,omitempty"`
	WorkbasketID      string          `json:"workbasket_id,omitempty"`
	WorkbasketKey     string          `json:"workbasket_key,omitempty"`
	WorkbasketDomain  string          `json:"workbasket_domain,omitempty"`
	Classification    ClassRef        `json:"classification"`
	BusinessProcessID string          `json:"business_process_id,omitempty"`
	PrimaryObjRef     ObjectReference `json:"primary_obj_ref"`
	Owner             string          `json:"owner,omitempty"`
	Name              string          `json:"name,omitempty"`
	Note              string          `json:"note,omitempty"`
	Priority          *int            `json:"priority,omitempty"`
	Due               string          `json:"due,omitempty"`
}

// ClassRef addresses a classification by id, or by key and domain.
type ClassRef struct {
	ID     string `json:"id,omitempty"`
	Key    string `json:"key,omitempty"`
	Domain string `json:"domain,omitempty"`
}

// TaskFilter narrows ListTasks and SelectAndClaim.
type TaskFilter struct {
	States             []string
	WorkbasketIDs      []string
	ClassificationKeys []string
	Owner              string
	ByPriority         bool
	Limit              int
	Cursor             string
}

type Comment struct {
	ID       string `json:"id"`
	TaskID   string `json:"task_id"`
	Text     string `json:"text"`
	Creator  string `json:"creator"`
	Created  string `json:"created"`
	Modified string `json:"modified"`
}

// Event represents a history entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// Identity is the caller as the server sees it.
type Identity struct {
	AccessID string   `json:"access_id"`
	Groups   []string `json:"groups"`
	Roles    []string `json:"roles"`
	Source   string   `json:"source"`
}

// BulkFailure is one task a bulk call could not process.
type BulkFailure struct {
	TaskID string   `json:"task_id"`
	Error  APIError `json:"error"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int            `json:"-"`
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
	Body       string         `json:"-"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedTasks wraps list responses with cursors.
type PaginatedTasks struct {
	Items      []Task `json:"items"`
	NextCursor string `json:"next_cursor"`
}

type PaginatedWorkbaskets struct {
	Items      []Workbasket `json:"items"`
	NextCursor string       `json:"next_cursor"`
}

type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// Me returns the identity the credentials resolve to.
func (c *Client) Me(ctx context.Context) (Identity, error) {
	var resp Identity
	err := c.do(ctx, http.MethodGet, "me", nil, &resp)
	return resp, err
}

func (c *Client) CreateWorkbasket(ctx context.Context, wb Workbasket) (Workbasket, error) {
	var resp Workbasket
	err := c.do(ctx, http.MethodPost, "workbaskets", wb, &resp)
	return resp, err
}

func (c *Client) GetWorkbasket(ctx context.Context, id string) (Workbasket, error) {
	var resp Workbasket
	err := c.do(ctx, http.MethodGet, "workbaskets/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

func (c *Client) GetWorkbasketByKey(ctx context.Context, key, domain string) (Workbasket, error) {
	var resp Workbasket
	endpoint := fmt.Sprintf("domains/%s/workbaskets/%s", url.PathEscape(domain), url.PathEscape(key))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ListWorkbaskets returns a page of workbaskets the caller may read.
func (c *Client) ListWorkbaskets(ctx context.Context, domain string, limit int, cursor string) (PaginatedWorkbaskets, error) {
	q := url.Values{}
	setQuery(q, "domain", domain)
	setQuery(q, "cursor", cursor)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp PaginatedWorkbaskets
	err := c.do(ctx, http.MethodGet, withQuery("workbaskets", q), nil, &resp)
	return resp, err
}

// DeleteWorkbasket deletes a workbasket. marked reports that open tasks
// kept it and it was only marked for deletion.
func (c *Client) DeleteWorkbasket(ctx context.Context, id string) (marked bool, err error) {
	var resp struct {
		Marked bool `json:"marked"`
	}
	err = c.do(ctx, http.MethodDelete, "workbaskets/"+url.PathEscape(id), nil, &resp)
	return resp.Marked, err
}

func (c *Client) GrantAccess(ctx context.Context, workbasketID string, item AccessItem) (AccessItem, error) {
	var resp AccessItem
	endpoint := fmt.Sprintf("workbaskets/%s/access-items", url.PathEscape(workbasketID))
	err := c.do(ctx, http.MethodPost, endpoint, item, &resp)
	return resp, err
}

func (c *Client) ListAccessItems(ctx context.Context, workbasketID string) ([]AccessItem, error) {
	var resp []AccessItem
	endpoint := fmt.Sprintf("workbaskets/%s/access-items", url.PathEscape(workbasketID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) SetDistributionTargets(ctx context.Context, sourceID string, targetIDs []string) error {
	endpoint := fmt.Sprintf("workbaskets/%s/distribution-targets", url.PathEscape(sourceID))
	return c.do(ctx, http.MethodPut, endpoint, map[string]any{"target_ids": targetIDs}, nil)
}

func (c *Client) DistributionTargets(ctx context.Context, sourceID string) ([]Workbasket, error) {
	var resp []Workbasket
	endpoint := fmt.Sprintf("workbaskets/%s/distribution-targets", url.PathEscape(sourceID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) CreateClassification(ctx context.Context, cl Classification) (Classification, error) {
	var resp Classification
	err := c.do(ctx, http.MethodPost, "classifications", cl, &resp)
	return resp, err
}

// CreateTask creates a task.
func (c *Client) CreateTask(ctx context.Context, in NewTask) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks", in, &resp)
	return resp, err
}

func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, "tasks/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ListTasks returns a page of tasks in readable workbaskets.
func (c *Client) ListTasks(ctx context.Context, f TaskFilter) (PaginatedTasks, error) {
	q := url.Values{}
	setQuery(q, "state", strings.Join(f.States, ","))
	setQuery(q, "workbasket_id", strings.Join(f.WorkbasketIDs, ","))
	setQuery(q, "classification_key", strings.Join(f.ClassificationKeys, ","))
	setQuery(q, "owner", f.Owner)
	setQuery(q, "cursor", f.Cursor)
	if f.ByPriority {
		q.Set("order", "priority")
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	var resp PaginatedTasks
	err := c.do(ctx, http.MethodGet, withQuery("tasks", q), nil, &resp)
	return resp, err
}

func (c *Client) Claim(ctx context.Context, taskID string) (Task, error) {
	return c.taskAction(ctx, taskID, "claim", false)
}

// CancelClaim returns a claimed task to READY. force cancels another
// user's claim.
func (c *Client) CancelClaim(ctx context.Context, taskID string, force bool) (Task, error) {
	return c.taskAction(ctx, taskID, "claim/cancel", force)
}

func (c *Client) Complete(ctx context.Context, taskID string, force bool) (Task, error) {
	return c.taskAction(ctx, taskID, "complete", force)
}

func (c *Client) Cancel(ctx context.Context, taskID string) (Task, error) {
	return c.taskAction(ctx, taskID, "cancel", false)
}

func (c *Client) Terminate(ctx context.Context, taskID string) (Task, error) {
	return c.taskAction(ctx, taskID, "terminate", false)
}

// SelectAndClaim claims the first ready task matching f.
func (c *Client) SelectAndClaim(ctx context.Context, f TaskFilter) (Task, error) {
	body := map[string]any{}
	if len(f.WorkbasketIDs) > 0 {
		body["workbasket_ids"] = f.WorkbasketIDs
	}
	if len(f.ClassificationKeys) > 0 {
		body["classification_keys"] = f.ClassificationKeys
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks/select-and-claim", body, &resp)
	return resp, err
}

func (c *Client) Transfer(ctx context.Context, taskID, targetID string, setTransferFlag bool) (Task, error) {
	var resp Task
	body := map[string]any{"target_id": targetID, "set_transfer_flag": setTransferFlag}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("tasks/%s/transfer", url.PathEscape(taskID)), body, &resp)
	return resp, err
}

// TransferTasks moves several tasks; the returned failures list the tasks
// left in place.
func (c *Client) TransferTasks(ctx context.Context, targetID string, taskIDs []string, setTransferFlag bool) ([]BulkFailure, error) {
	var resp struct {
		Failed []BulkFailure `json:"failed"`
	}
	body := map[string]any{"target_id": targetID, "task_ids": taskIDs, "set_transfer_flag": setTransferFlag}
	err := c.do(ctx, http.MethodPost, "tasks/transfer", body, &resp)
	return resp.Failed, err
}

func (c *Client) DeleteTask(ctx context.Context, taskID string, force bool) error {
	endpoint := "tasks/" + url.PathEscape(taskID)
	if force {
		endpoint += "?force=true"
	}
	return c.do(ctx, http.MethodDelete, endpoint, nil, nil)
}

func (c *Client) SetRead(ctx context.Context, taskID string, read bool) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPut, fmt.Sprintf("tasks/%s/read", url.PathEscape(taskID)), map[string]any{"read": read}, &resp)
	return resp, err
}

func (c *Client) AddComment(ctx context.Context, taskID, text string) (Comment, error) {
	var resp Comment
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("tasks/%s/comments", url.PathEscape(taskID)), map[string]any{"text": text}, &resp)
	return resp, err
}

func (c *Client) ListComments(ctx context.Context, taskID string) ([]Comment, error) {
	var resp []Comment
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("tasks/%s/comments", url.PathEscape(taskID)), nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing, newest first.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	setQuery(q, "cursor", cursor)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, withQuery("events", q), nil, &resp)
	return resp, err
}

func (c *Client) taskAction(ctx context.Context, taskID, action string, force bool) (Task, error) {
	endpoint := fmt.Sprintf("tasks/%s/%s", url.PathEscape(taskID), action)
	if force {
		endpoint += "?force=true"
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	case c.AccessID != "":
		req.Header.Set("X-Access-Id", c.AccessID)
		if len(c.Groups) > 0 {
			req.Header.Set("X-Access-Groups", strings.Join(c.Groups, ","))
		}
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error *APIError `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil && envelope.Error != nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
			apiErr.Details = envelope.Error.Details
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}

func setQuery(q url.Values, key, value string) {
	if value != "" {
		q.Set(key, value)
	}
}

func withQuery(endpoint string, q url.Values) string {
	if len(q) == 0 {
		return endpoint
	}
	return endpoint + "?" + q.Encode()
}
