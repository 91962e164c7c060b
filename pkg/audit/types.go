package audit

import (
	"time"
)

// Action names an audited operation
type Action string

const (
	// Data mutations through the scoped repository
	ActionCreate Action = "CREATE"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"

	// Session lifecycle
	ActionSessionCreate  Action = "SESSION_CREATE"
	ActionSessionDestroy Action = "SESSION_DESTROY"

	// Access administration
	ActionMemberAdd         Action = "MEMBER_ADD"
	ActionMemberRemove      Action = "MEMBER_REMOVE"
	ActionModuleAccessGrant Action = "MODULE_ACCESS_GRANT"
	ActionPresetApply       Action = "PRESET_APPLY"
	ActionRoleChange        Action = "ROLE_CHANGE"
)

// Entry is a single append-only audit record
type Entry struct {
	ID        int64          `json:"id,omitempty"`
	UserID    string         `json:"userId"`
	ProjectID string         `json:"projectId,omitempty"`
	Action    Action         `json:"action"`
	Entity    string         `json:"entity"`
	EntityID  string         `json:"entityId,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewEntry creates an entry stamped with the current time
func NewEntry(userID, projectID string, action Action, entity, entityID string) *Entry {
	return &Entry{
		UserID:    userID,
		ProjectID: projectID,
		Action:    action,
		Entity:    entity,
		EntityID:  entityID,
		Meta:      make(map[string]any),
		Timestamp: time.Now().UTC(),
	}
}

// WithMeta sets a metadata key and returns the entry
func (e *Entry) WithMeta(key string, value any) *Entry {
	if e.Meta == nil {
		e.Meta = make(map[string]any)
	}
	e.Meta[key] = value
	return e
}

// SearchFilter narrows a DBSink search
type SearchFilter struct {
	UserID    string
	ProjectID string
	Actions   []Action
	Entity    string
	EntityID  string
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
	Offset    int
}
