package domain

import "time"

// Entity kinds used in errors and history events.
const (
	KindTask           = "task"
	KindWorkbasket     = "workbasket"
	KindAccessItem     = "access_item"
	KindClassification = "classification"
	KindComment        = "task_comment"
	KindAttachment     = "attachment"
)

// Limits on free-form custom fields.
const (
	MaxTaskCustomFields       = 16
	MaxWorkbasketCustomFields = 8
)

// StampLayout is the fixed-width UTC layout used for every persisted timestamp.
// Fixed width keeps lexical and chronological order identical.
const StampLayout = "2006-01-02T15:04:05.000000000Z"

// FormatTime renders t in StampLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(StampLayout)
}

// ParseTime accepts StampLayout or any RFC3339 value.
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(StampLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

type WorkbasketType string

const (
	WorkbasketGroup     WorkbasketType = "GROUP"
	WorkbasketPersonal  WorkbasketType = "PERSONAL"
	WorkbasketTopic     WorkbasketType = "TOPIC"
	WorkbasketClearance WorkbasketType = "CLEARANCE"
)

func (t WorkbasketType) Valid() bool {
	switch t {
	case WorkbasketGroup, WorkbasketPersonal, WorkbasketTopic, WorkbasketClearance:
		return true
	}
	return false
}

type Workbasket struct {
	ID                string         `json:"id"`
	Key               string         `json:"key"`
	Domain            string         `json:"domain"`
	Name              string         `json:"name"`
	Description       string         `json:"description,omitempty"`
	Owner             string         `json:"owner,omitempty"`
	Type              WorkbasketType `json:"type" enum:"GROUP,PERSONAL,TOPIC,CLEARANCE"`
	OrgLevel1         string         `json:"org_level_1,omitempty"`
	OrgLevel2         string         `json:"org_level_2,omitempty"`
	OrgLevel3         string         `json:"org_level_3,omitempty"`
	OrgLevel4         string         `json:"org_level_4,omitempty"`
	Custom            []string       `json:"custom,omitempty" maxItems:"8"`
	MarkedForDeletion bool           `json:"marked_for_deletion"`
	Created           string         `json:"created" format:"date-time"`
	Modified          string         `json:"modified" format:"date-time"`
}

// WorkbasketSummary is the reduced view embedded in tasks and graph listings.
type WorkbasketSummary struct {
	ID                string         `json:"id"`
	Key               string         `json:"key"`
	Domain            string         `json:"domain"`
	Name              string         `json:"name"`
	Type              WorkbasketType `json:"type"`
	MarkedForDeletion bool           `json:"marked_for_deletion"`
}

func (w Workbasket) Summary() WorkbasketSummary {
	return WorkbasketSummary{
		ID:                w.ID,
		Key:               w.Key,
		Domain:            w.Domain,
		Name:              w.Name,
		Type:              w.Type,
		MarkedForDeletion: w.MarkedForDeletion,
	}
}

// Copy returns an unsaved workbasket with the same attributes under a new key.
// Identity, timestamps and the deletion mark are cleared.
func (w Workbasket) Copy(key string) Workbasket {
	c := w
	c.ID, c.Created, c.Modified = "", "", ""
	c.Key = key
	c.MarkedForDeletion = false
	if w.Custom != nil {
		c.Custom = append([]string(nil), w.Custom...)
	}
	return c
}

// AccessItem grants one accessor a permission set on one workbasket.
type AccessItem struct {
	ID            string     `json:"id"`
	WorkbasketID  string     `json:"workbasket_id"`
	WorkbasketKey string     `json:"workbasket_key,omitempty"`
	AccessID      string     `json:"access_id"`
	AccessName    string     `json:"access_name,omitempty"`
	Permissions   Permission `json:"permissions"`
}

type Classification struct {
	ID           string `json:"id"`
	Key          string `json:"key"`
	Domain       string `json:"domain"`
	Category     string `json:"category,omitempty"`
	Type         string `json:"type,omitempty"`
	Name         string `json:"name,omitempty"`
	Description  string `json:"description,omitempty"`
	Priority     int    `json:"priority"`
	ServiceLevel string `json:"service_level,omitempty"`
	Created      string `json:"created" format:"date-time"`
	Modified     string `json:"modified" format:"date-time"`
}

// ClassificationSummary is the view of a classification carried on tasks and attachments.
type ClassificationSummary struct {
	ID       string `json:"id"`
	Key      string `json:"key"`
	Category string `json:"category,omitempty"`
}

func (c Classification) Summary() ClassificationSummary {
	return ClassificationSummary{ID: c.ID, Key: c.Key, Category: c.Category}
}

// ObjectReference identifies the real-world subject of a task.
type ObjectReference struct {
	Company        string `json:"company"`
	System         string `json:"system,omitempty"`
	SystemInstance string `json:"system_instance,omitempty"`
	Type           string `json:"type"`
	Value          string `json:"value"`
}

type Task struct {
	ID                string                `json:"id"`
	ExternalID        *string               `json:"external_id,omitempty"`
	Workbasket        WorkbasketSummary     `json:"workbasket"`
	Classification    ClassificationSummary `json:"classification"`
	BusinessProcessID string                `json:"business_process_id,omitempty"`
	PrimaryObjRef     ObjectReference       `json:"primary_obj_ref"`
	State             TaskState             `json:"state" enum:"READY,CLAIMED,COMPLETED,CANCELLED,TERMINATED"`
	Owner             *string               `json:"owner,omitempty"`
	Creator           string                `json:"creator"`
	Name              string                `json:"name,omitempty"`
	Note              string                `json:"note,omitempty"`
	Description       string                `json:"description,omitempty"`
	Priority          int                   `json:"priority"`
	Read              bool                  `json:"read"`
	Transferred       bool                  `json:"transferred"`
	Created           string                `json:"created" format:"date-time"`
	Claimed           *string               `json:"claimed,omitempty" format:"date-time"`
	Completed         *string               `json:"completed,omitempty" format:"date-time"`
	Modified          string                `json:"modified" format:"date-time"`
	Planned           *string               `json:"planned,omitempty" format:"date-time"`
	Due               *string               `json:"due,omitempty" format:"date-time"`
	Received          *string               `json:"received,omitempty" format:"date-time"`
	Custom            []string              `json:"custom,omitempty" maxItems:"16"`
	Attachments       []Attachment          `json:"attachments,omitempty"`
}

type Attachment struct {
	ID             string                `json:"id"`
	TaskID         string                `json:"task_id"`
	Classification ClassificationSummary `json:"classification"`
	ObjRef         ObjectReference       `json:"obj_ref"`
	Channel        string                `json:"channel,omitempty"`
	Received       *string               `json:"received,omitempty" format:"date-time"`
	Created        string                `json:"created" format:"date-time"`
	Modified       string                `json:"modified" format:"date-time"`
}

type Comment struct {
	ID       string `json:"id"`
	TaskID   string `json:"task_id"`
	Text     string `json:"text"`
	Creator  string `json:"creator"`
	Created  string `json:"created" format:"date-time"`
	Modified string `json:"modified" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	AccessID  string `json:"access_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
