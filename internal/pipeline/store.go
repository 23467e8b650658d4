package pipeline

import (
	"context"

	"github.com/certgen/certgen/internal/model"
)

// JobStore persists job progress. *repository.JobRepository implements it.
type JobStore interface {
	Create(ctx context.Context, job *model.Job) error
	UpdatePhase(ctx context.Context, id, phase string) error
	Finish(ctx context.Context, id string, out model.JobOutcome) error
	ClearDirty(ctx context.Context, presentationID, name string) (int64, error)
}

// NopStore discards job state.
type NopStore struct{}

func (NopStore) Create(context.Context, *model.Job) error                   { return nil }
func (NopStore) UpdatePhase(context.Context, string, string) error          { return nil }
func (NopStore) Finish(context.Context, string, model.JobOutcome) error     { return nil }
func (NopStore) ClearDirty(context.Context, string, string) (int64, error) { return 0, nil }

// EventRecorder keeps the maintenance history of a template.
// *repository.EventRepository implements it.
type EventRecorder interface {
	Create(ctx context.Context, ev *model.TemplateEvent) error
}
