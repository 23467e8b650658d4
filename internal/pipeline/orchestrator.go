// Package pipeline runs certificate jobs end to end.
//
// A job moves through start, located, applied, rendered, reset, assembled,
// sent and done, and stops at the first failure. The span from locating the
// slide to resetting the placeholder runs under a per-document lock so that
// no two jobs ever see each other's names. Once a name has been applied the
// reset is always attempted, even when the job fails or is canceled, and a
// reset that cannot complete is reported as a dirty template.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/certgen/certgen/internal/alert"
	"github.com/certgen/certgen/internal/certerr"
	"github.com/certgen/certgen/internal/email"
	"github.com/certgen/certgen/internal/lock"
	"github.com/certgen/certgen/internal/logger"
	"github.com/certgen/certgen/internal/metrics"
	"github.com/certgen/certgen/internal/model"
	"github.com/certgen/certgen/internal/render"
	"github.com/certgen/certgen/internal/template"
)

// Phase is a job state.
type Phase string

// Job phases in order. PhaseFailed is terminal.
const (
	PhaseStart     Phase = "start"
	PhaseLocated   Phase = "located"
	PhaseApplied   Phase = "applied"
	PhaseRendered  Phase = "rendered"
	PhaseReset     Phase = "reset"
	PhaseAssembled Phase = "assembled"
	PhaseSent      Phase = "sent"
	PhaseDone      Phase = "done"
	PhaseFailed    Phase = "failed"
)

// TemplateMutator edits the shared template.
type TemplateMutator interface {
	Placeholder() string
	Inspect(ctx context.Context, documentID string) (*template.Status, error)
	LocateSlide(ctx context.Context, documentID string) (string, error)
	ApplyName(ctx context.Context, documentID, name string) (*template.Revision, error)
	ResetPlaceholder(ctx context.Context, documentID, name string) (*template.Revision, error)
}

// Renderer snapshots a slide.
type Renderer interface {
	RenderSlide(ctx context.Context, documentID, slideID string) (*render.Artifact, error)
}

// Assembler packages an artifact into an email.
type Assembler interface {
	Assemble(ctx context.Context, to, subject, body, artifactURL string) (*email.Message, error)
}

// Alerter reports dirty templates.
type Alerter interface {
	TemplateDirty(ctx context.Context, ev alert.Event) error
}

// Config holds the per-deployment job settings.
type Config struct {
	PresentationID string
	// ResetTimeout bounds a reset, which always runs detached from the job context.
	ResetTimeout time.Duration
}

// Dependencies are the collaborators of an Orchestrator. Store, Events and
// Alerter are optional.
type Dependencies struct {
	Mutator   TemplateMutator
	Renderer  Renderer
	Assembler Assembler
	Sender    email.Sender
	Locker    lock.Locker
	Content   *email.Content
	Store     JobStore
	Events    EventRecorder
	Alerter   Alerter
}

// Request is one certificate to generate.
type Request struct {
	// JobID is assigned when empty. Queued jobs carry the ID issued at enqueue time.
	JobID string
	Name  string
	Email string
}

// Result describes a delivered certificate.
type Result struct {
	JobID          string
	PresentationID string
	SlideID        string
	ArtifactURL    string
	Receipt        *email.Receipt
	Duration       time.Duration
}

// JobError is returned by Run for every failed job. It wraps the typed cause,
// so errors.Is against the certerr sentinels works on it directly.
type JobError struct {
	JobID string
	// Phase is the last phase the job reached before failing.
	Phase Phase
	Err   error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("job %s failed after %s: %v", e.JobID, e.Phase, e.Err)
}

func (e *JobError) Unwrap() error {
	return e.Err
}

// Orchestrator runs jobs against one template document.
type Orchestrator struct {
	cfg Config
	d   Dependencies
	log *logger.Logger
}

// New creates an Orchestrator.
func New(cfg Config, d Dependencies, log *logger.Logger) *Orchestrator {
	if d.Store == nil {
		d.Store = NopStore{}
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 20 * time.Second
	}
	return &Orchestrator{cfg: cfg, d: d, log: log.WithComponent("pipeline")}
}

// PresentationID returns the template document jobs run against.
func (o *Orchestrator) PresentationID() string {
	return o.cfg.PresentationID
}

// job tracks one run.
type job struct {
	id      string
	name    string
	email   string
	slideID string
	phase   Phase
	entered time.Time
	started time.Time
	log     *logger.Logger
}

// Run executes one job. On failure the returned error is a *JobError.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	j := &job{
		id:      req.JobID,
		name:    strings.TrimSpace(req.Name),
		email:   strings.TrimSpace(req.Email),
		phase:   PhaseStart,
		started: time.Now(),
	}
	if j.id == "" {
		j.id = uuid.NewString()
	}
	j.entered = j.started
	j.log = o.log.WithJobID(j.id)

	o.record(ctx, func(c context.Context) error {
		return o.d.Store.Create(c, &model.Job{
			ID:             j.id,
			RecipientName:  j.name,
			RecipientEmail: j.email,
			PresentationID: o.cfg.PresentationID,
			Phase:          string(PhaseStart),
			Status:         model.JobStatusRunning,
		})
	})

	if err := o.validate(j); err != nil {
		return nil, o.fail(ctx, j, err)
	}
	subject, body, err := o.d.Content.Render(email.Recipient{Name: j.name, Email: j.email})
	if err != nil {
		return nil, o.fail(ctx, j, err)
	}

	artifact, err := o.mutateAndRender(ctx, j)
	if err != nil {
		return nil, o.fail(ctx, j, err)
	}

	// The template is clean again. Cancellation from here on abandons the
	// remaining phases without touching the document.
	if err := ctx.Err(); err != nil {
		return nil, o.fail(ctx, j, err)
	}
	msg, err := o.d.Assembler.Assemble(ctx, j.email, subject, body, artifact.ContentURL)
	if err != nil {
		return nil, o.fail(ctx, j, err)
	}
	o.advance(ctx, j, PhaseAssembled)

	if err := ctx.Err(); err != nil {
		return nil, o.fail(ctx, j, err)
	}
	receipt, err := o.d.Sender.Send(ctx, msg)
	if err != nil {
		return nil, o.fail(ctx, j, err)
	}
	o.advance(ctx, j, PhaseSent)
	o.advance(ctx, j, PhaseDone)

	o.finish(ctx, j, model.JobOutcome{
		Status:    model.JobStatusSucceeded,
		Phase:     string(PhaseDone),
		SlideID:   j.slideID,
		MessageID: receipt.MessageID,
	})
	metrics.IncJob("success", "")
	j.log.Info().
		Str("document_id", o.cfg.PresentationID).
		Dur("duration", time.Since(j.started)).
		Msg("certificate sent")

	return &Result{
		JobID:          j.id,
		PresentationID: o.cfg.PresentationID,
		SlideID:        j.slideID,
		ArtifactURL:    artifact.ContentURL,
		Receipt:        receipt,
		Duration:       time.Since(j.started),
	}, nil
}

func (o *Orchestrator) validate(j *job) error {
	if err := template.ValidateName(j.name, o.d.Mutator.Placeholder()); err != nil {
		return err
	}
	addr, err := mail.ParseAddress(j.email)
	if err != nil || addr.Address != j.email {
		return fmt.Errorf("%w: invalid email address", certerr.ErrInvalidInput)
	}
	return nil
}

// mutateAndRender holds the document lock from locate through reset.
func (o *Orchestrator) mutateAndRender(ctx context.Context, j *job) (*render.Artifact, error) {
	doc := o.cfg.PresentationID

	waitStart := time.Now()
	lease, err := o.d.Locker.Acquire(ctx, lock.Key(doc))
	metrics.ObserveLockWait(time.Since(waitStart))
	if err != nil {
		return nil, err
	}
	defer func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.ResetTimeout)
		defer cancel()
		if err := lease.Release(rctx); err != nil {
			j.log.Warn().Err(err).Msg("failed to release document lock")
		}
	}()

	slideID, err := o.d.Mutator.LocateSlide(ctx, doc)
	if err != nil {
		return nil, err
	}
	j.slideID = slideID
	o.advance(ctx, j, PhaseLocated)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := o.d.Mutator.ApplyName(ctx, doc, j.name); err != nil {
		if applyMayHaveCommitted(err) {
			return nil, o.compensate(ctx, j, err)
		}
		return nil, err
	}
	o.advance(ctx, j, PhaseApplied)

	artifact, err := o.renderApplied(ctx, j)
	if err != nil {
		return nil, o.compensate(ctx, j, err)
	}
	o.advance(ctx, j, PhaseRendered)

	if _, err := o.reset(ctx, j.name); err != nil {
		return nil, o.dirty(ctx, j, nil, err)
	}
	o.advance(ctx, j, PhaseReset)
	return artifact, nil
}

func (o *Orchestrator) renderApplied(ctx context.Context, j *job) (*render.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return o.d.Renderer.RenderSlide(ctx, o.cfg.PresentationID, j.slideID)
}

// reset restores the placeholder on a context detached from the job, so a
// canceled job still gets its reset.
func (o *Orchestrator) reset(ctx context.Context, name string) (*template.Revision, error) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.ResetTimeout)
	defer cancel()
	return o.d.Mutator.ResetPlaceholder(rctx, o.cfg.PresentationID, name)
}

// compensate makes a best-effort reset after a failure that followed a
// committed (or possibly committed) apply. It returns cause when the
// template was restored and a dirty-template error otherwise.
func (o *Orchestrator) compensate(ctx context.Context, j *job, cause error) error {
	rev, err := o.reset(ctx, j.name)
	if err != nil {
		return o.dirty(ctx, j, cause, err)
	}
	j.log.Warn().
		Err(cause).
		Int64("occurrences", rev.OccurrencesChanged).
		Msg("template restored after failed job")
	return cause
}

func (o *Orchestrator) dirty(ctx context.Context, j *job, cause, resetErr error) error {
	err := &certerr.TemplateDirtyError{
		DocumentID: o.cfg.PresentationID,
		Name:       j.name,
		JobErr:     cause,
		ResetErr:   resetErr,
	}
	if o.d.Alerter != nil {
		ev := alert.Event{
			JobID:      j.id,
			DocumentID: o.cfg.PresentationID,
			Name:       j.name,
			ResetError: resetErr.Error(),
		}
		if cause != nil {
			ev.JobError = cause.Error()
		}
		if aerr := o.d.Alerter.TemplateDirty(context.WithoutCancel(ctx), ev); aerr != nil {
			j.log.Error().Err(aerr).Msg("failed to deliver dirty template alert")
		}
	}

	meta := map[string]interface{}{"reset_error": resetErr.Error()}
	if cause != nil {
		meta["job_error"] = cause.Error()
	}
	o.event(ctx, model.EventActionDirty, j.id, j.name, meta)
	return err
}

// event appends to the template history when one is configured.
func (o *Orchestrator) event(ctx context.Context, action, jobID, name string, meta map[string]interface{}) {
	if o.d.Events == nil {
		return
	}
	ev := &model.TemplateEvent{
		PresentationID: o.cfg.PresentationID,
		Action:         action,
		Metadata:       meta,
	}
	if jobID != "" {
		ev.JobID = &jobID
	}
	if name != "" {
		ev.Name = &name
	}
	o.record(ctx, func(c context.Context) error {
		return o.d.Events.Create(c, ev)
	})
}

// applyMayHaveCommitted reports whether a failed apply could still have
// changed the document, for instance when the response was lost to a timeout.
func applyMayHaveCommitted(err error) bool {
	switch {
	case errors.Is(err, certerr.ErrConflict),
		errors.Is(err, certerr.ErrNotFound),
		errors.Is(err, certerr.ErrInvalidInput),
		errors.Is(err, certerr.ErrAuth):
		return false
	}
	return true
}

func (o *Orchestrator) advance(ctx context.Context, j *job, next Phase) {
	now := time.Now()
	d := now.Sub(j.entered)
	metrics.ObservePhase(string(next), d)
	j.log.JobEvent(j.id, o.cfg.PresentationID, string(next), d, nil)
	j.phase = next
	j.entered = now

	if next == PhaseDone {
		return
	}
	o.record(ctx, func(c context.Context) error {
		return o.d.Store.UpdatePhase(c, j.id, string(next))
	})
}

func (o *Orchestrator) fail(ctx context.Context, j *job, err error) error {
	kind := certerr.Kind(err)
	// Only the job whose name stayed in the template is flagged.
	var dirty *certerr.TemplateDirtyError
	leftDirty := errors.As(err, &dirty)
	metrics.IncJob("failure", kind)
	j.log.JobEvent(j.id, o.cfg.PresentationID, string(PhaseFailed), time.Since(j.entered), err)

	o.finish(ctx, j, model.JobOutcome{
		Status:        model.JobStatusFailed,
		Phase:         string(j.phase),
		SlideID:       j.slideID,
		ErrorKind:     kind,
		ErrorMessage:  err.Error(),
		TemplateDirty: leftDirty,
	})
	return &JobError{JobID: j.id, Phase: j.phase, Err: err}
}

func (o *Orchestrator) finish(ctx context.Context, j *job, out model.JobOutcome) {
	o.record(ctx, func(c context.Context) error {
		return o.d.Store.Finish(c, j.id, out)
	})
}

// record writes to the job store without letting a store outage or a
// canceled job context fail the job itself.
func (o *Orchestrator) record(ctx context.Context, fn func(context.Context) error) {
	c, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := fn(c); err != nil {
		o.log.Warn().Err(err).Msg("failed to record job state")
	}
}
