// Package alert reports templates left without their placeholder. Such a
// template breaks every later job until someone restores it, so each event
// is logged, counted and fanned out to subscribers.
package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/certgen/certgen/internal/logger"
	"github.com/certgen/certgen/internal/metrics"
)

// Channel is the Redis pub/sub channel carrying dirty-template events.
const Channel = "certgen:template:dirty"

// Event describes a dirty template.
type Event struct {
	JobID      string    `json:"jobId,omitempty"`
	DocumentID string    `json:"documentId"`
	Name       string    `json:"name"`
	JobError   string    `json:"jobError,omitempty"`
	ResetError string    `json:"resetError,omitempty"`
	Source     string    `json:"source"`
	At         time.Time `json:"at"`
}

// Publisher fans events out. *database.Redis satisfies it.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) error
}

// Notifier emits dirty-template alerts.
type Notifier struct {
	pub Publisher
	log *logger.Logger
}

// New creates a Notifier. pub may be nil, in which case events are only
// logged and counted.
func New(pub Publisher, log *logger.Logger) *Notifier {
	return &Notifier{pub: pub, log: log.WithComponent("alert")}
}

// TemplateDirty emits ev. The returned error only reports a failed fan-out;
// the event has been logged and counted regardless.
func (n *Notifier) TemplateDirty(ctx context.Context, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	if ev.Source == "" {
		ev.Source = "job"
	}

	metrics.IncTemplateDirty()
	n.log.Error().
		Str("job_id", ev.JobID).
		Str("document_id", ev.DocumentID).
		Str("name", ev.Name).
		Str("job_error", ev.JobError).
		Str("reset_error", ev.ResetError).
		Str("source", ev.Source).
		Msg("template left dirty, manual reset required")

	if n.pub == nil {
		return nil
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("alert: failed to encode event: %w", err)
	}
	if err := n.pub.Publish(ctx, Channel, payload); err != nil {
		return fmt.Errorf("alert: failed to publish event: %w", err)
	}
	return nil
}
