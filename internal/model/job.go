package model

import "time"

// Job statuses
const (
	JobStatusRunning   = "running"
	JobStatusSucceeded = "succeeded"
	JobStatusFailed    = "failed"
)

// Job is the persisted record of one certificate job.
type Job struct {
	ID             string     `json:"id"`
	RecipientName  string     `json:"recipientName"`
	RecipientEmail string     `json:"recipientEmail"`
	PresentationID string     `json:"presentationId"`
	SlideID        *string    `json:"slideId,omitempty"`
	Phase          string     `json:"phase"`
	Status         string     `json:"status"`
	ErrorKind      *string    `json:"errorKind,omitempty"`
	ErrorMessage   *string    `json:"errorMessage,omitempty"`
	TemplateDirty  bool       `json:"templateDirty"`
	MessageID      *string    `json:"messageId,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	FinishedAt     *time.Time `json:"finishedAt,omitempty"`
}

// JobOutcome is what a job reports when it reaches a terminal phase.
type JobOutcome struct {
	Status        string
	Phase         string
	SlideID       string
	ErrorKind     string
	ErrorMessage  string
	TemplateDirty bool
	MessageID     string
}
