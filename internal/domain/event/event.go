package event

import (
	"fmt"
	"strings"
)

// Event is a normalized case-lifecycle notification published by the case
// management system. Instances are built once by Decode and are read-only
// afterwards; handlers must not modify them.
type Event struct {
	EventInstanceID string          `json:"EventInstanceId" validate:"required"`
	EventTimeStamp  *LocalDateTime  `json:"EventTimeStamp,omitempty"`
	CaseID          string          `json:"CaseId" validate:"required"`
	JurisdictionID  string          `json:"JurisdictionId" validate:"required"`
	CaseTypeID      string          `json:"CaseTypeId" validate:"required"`
	EventID         string          `json:"EventId" validate:"required"`
	PreviousStateID string          `json:"PreviousStateId,omitempty"`
	NewStateID      string          `json:"NewStateId,omitempty"`
	UserID          string          `json:"UserId" validate:"required"`
	AdditionalData  *AdditionalData `json:"AdditionalData,omitempty"`
}

// AdditionalData carries the open case data snapshot attached to an event.
type AdditionalData struct {
	Data       map[string]interface{} `json:"Data,omitempty"`
	Definition map[string]interface{} `json:"Definition,omitempty"`
}

// normalize lower-cases the identifiers used to resolve decision tables.
func (e *Event) normalize() {
	e.JurisdictionID = strings.ToLower(e.JurisdictionID)
	e.CaseTypeID = strings.ToLower(e.CaseTypeID)
}

// String returns a short description used in log lines
func (e *Event) String() string {
	return fmt.Sprintf("event %s (case %s, %s/%s, %s)",
		e.EventInstanceID, e.CaseID, e.JurisdictionID, e.CaseTypeID, e.EventID)
}

// GetData walks AdditionalData.Data following path and returns the value found
// at the end of it. Every intermediate value must be an object.
func (e *Event) GetData(path ...string) (interface{}, bool) {
	if e.AdditionalData == nil || len(path) == 0 {
		return nil, false
	}

	var current interface{} = e.AdditionalData.Data
	for _, key := range path {
		obj, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = obj[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// GetDataString retrieves a string value from AdditionalData.Data
func (e *Event) GetDataString(path ...string) string {
	if val, ok := e.GetData(path...); ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}
