package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/certgen/certgen/internal/alert"
	"github.com/certgen/certgen/internal/certerr"
	"github.com/certgen/certgen/internal/lock"
	"github.com/certgen/certgen/internal/model"
	"github.com/certgen/certgen/internal/template"
)

// Reset restores the placeholder over name, the manual fix for a dirty
// template. It takes the document lock so it never races a running job, and
// clears the dirty flag of the jobs that left name behind.
func (o *Orchestrator) Reset(ctx context.Context, name string) (*template.Revision, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", certerr.ErrInvalidInput)
	}

	lease, err := o.d.Locker.Acquire(ctx, lock.Key(o.cfg.PresentationID))
	if err != nil {
		return nil, err
	}
	defer lease.Release(context.WithoutCancel(ctx))

	rev, err := o.d.Mutator.ResetPlaceholder(ctx, o.cfg.PresentationID, name)
	if err != nil {
		return nil, err
	}

	cleared, err := o.d.Store.ClearDirty(ctx, o.cfg.PresentationID, name)
	if err != nil {
		o.log.Warn().Err(err).Msg("failed to clear dirty job flags")
	}
	o.event(ctx, model.EventActionReset, "", name, map[string]interface{}{
		"occurrences":  rev.OccurrencesChanged,
		"revision":     rev.ID,
		"jobs_cleared": cleared,
	})
	o.log.Info().
		Str("document_id", o.cfg.PresentationID).
		Int64("occurrences", rev.OccurrencesChanged).
		Int64("jobs_cleared", cleared).
		Msg("template reset")
	return rev, nil
}

// Audit checks, between jobs, that the template still shows its placeholder
// and raises a dirty-template alert when it does not.
func (o *Orchestrator) Audit(ctx context.Context) (*template.Status, error) {
	lease, err := o.d.Locker.Acquire(ctx, lock.Key(o.cfg.PresentationID))
	if err != nil {
		return nil, err
	}
	defer lease.Release(context.WithoutCancel(ctx))

	st, err := o.d.Mutator.Inspect(ctx, o.cfg.PresentationID)
	if err != nil {
		return nil, err
	}
	if st.PlaceholderPresent {
		o.event(ctx, model.EventActionAuditClean, "", "", map[string]interface{}{"revision": st.RevisionID})
		return st, nil
	}
	o.event(ctx, model.EventActionAuditDirty, "", "", map[string]interface{}{"revision": st.RevisionID})

	if o.d.Alerter != nil {
		if err := o.d.Alerter.TemplateDirty(ctx, alert.Event{
			DocumentID: o.cfg.PresentationID,
			Source:     "audit",
		}); err != nil {
			o.log.Error().Err(err).Msg("failed to deliver dirty template alert")
		}
	}
	return st, fmt.Errorf("presentation %s: %w", o.cfg.PresentationID, certerr.ErrTemplateDirty)
}
