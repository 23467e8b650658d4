package model

import "time"

// TemplateEvent records a maintenance action or finding on a template document
type TemplateEvent struct {
	ID             string                 `json:"id"`
	PresentationID string                 `json:"presentationId"`
	Action         string                 `json:"action"`
	JobID          *string                `json:"jobId,omitempty"`
	Name           *string                `json:"name,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt      time.Time              `json:"createdAt"`
}

// Template event actions
const (
	EventActionDirty      = "template.dirty"
	EventActionReset      = "template.reset"
	EventActionAuditClean = "template.audit_clean"
	EventActionAuditDirty = "template.audit_dirty"
)
