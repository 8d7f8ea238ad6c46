package audit

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Event actions
const (
	ActionMemberCreated  = "MEMBER_CREATED"
	ActionMembersBulk    = "MEMBERS_BULK_CREATED"
	ActionMemberUpdated  = "MEMBER_UPDATED"
	ActionMemberDeleted  = "MEMBER_DELETED"
	ActionMemberScanned  = "MEMBER_SCANNED"
	ActionScanDenied     = "SCAN_DENIED"
	ActionScanFrameError = "SCAN_FRAME_REJECTED"
)

// Event status constants
const (
	StatusSuccess = "SUCCESS"
	StatusFailure = "FAILURE"
)

// Event is one audit record. Member names and photos are never included.
type Event struct {
	ID        string    `json:"id"`
	Action    string    `json:"action"`
	Status    string    `json:"status"`
	MemberID  *int64    `json:"memberId,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	// Metadata holds small action-specific details such as counts or the previous identifier
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// NewEvent creates an event stamped with a fresh ID and the current time
func NewEvent(action, status string, memberID *int64) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Action:    action,
		Status:    status,
		MemberID:  memberID,
		Timestamp: time.Now().UTC(),
	}
}

// WithMetadata adds a metadata entry and returns the event
func (e *Event) WithMetadata(key string, value interface{}) *Event {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// Values flattens the event into the field map written to the stream
func (e *Event) Values() map[string]interface{} {
	values := map[string]interface{}{
		"id":        e.ID,
		"action":    e.Action,
		"status":    e.Status,
		"timestamp": e.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if e.MemberID != nil {
		values["memberId"] = strconv.FormatInt(*e.MemberID, 10)
	}
	if len(e.Metadata) > 0 {
		if raw, err := json.Marshal(e.Metadata); err == nil {
			values["metadata"] = string(raw)
		}
	}
	return values
}
