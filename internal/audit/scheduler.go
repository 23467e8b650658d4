// Package audit periodically checks that the shared template still shows its
// placeholder, and optionally repairs it from the dirty jobs on record.
package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/certgen/certgen/internal/certerr"
	"github.com/certgen/certgen/internal/config"
	"github.com/certgen/certgen/internal/logger"
	"github.com/certgen/certgen/internal/model"
	"github.com/certgen/certgen/internal/template"
)

const repairBatch = 20

// Auditor inspects and resets the template.
type Auditor interface {
	PresentationID() string
	Audit(ctx context.Context) (*template.Status, error)
	Reset(ctx context.Context, name string) (*template.Revision, error)
}

// DirtyLister lists the jobs that left a template dirty.
type DirtyLister interface {
	ListDirty(ctx context.Context, limit int) ([]*model.Job, error)
}

// Scheduler runs the audit on a cron schedule.
type Scheduler struct {
	cron    *cron.Cron
	auditor Auditor
	dirty   DirtyLister
	cfg     config.AuditConfig
	log     *logger.Logger
}

// NewScheduler validates the schedule and registers the audit. dirty may be
// nil, which disables repair.
func NewScheduler(cfg config.AuditConfig, auditor Auditor, dirty DirtyLister, log *logger.Logger) (*Scheduler, error) {
	log = log.WithComponent("audit")
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(
		cron.WithParser(parser),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{log})),
		cron.WithLogger(cronLogger{log}),
	)

	s := &Scheduler{cron: c, auditor: auditor, dirty: dirty, cfg: cfg, log: log}
	if _, err := c.AddFunc(cfg.Schedule, s.run); err != nil {
		return nil, fmt.Errorf("audit: invalid cron schedule %q: %w", cfg.Schedule, err)
	}
	return s, nil
}

// Start runs the scheduler in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops scheduling and waits for a running audit, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) run() {
	ctx := context.Background()
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}
	if _, err := s.RunOnce(ctx); err != nil {
		s.log.Error().Err(err).Str("kind", certerr.Kind(err)).Msg("template audit failed")
	}
}

// RunOnce audits the template and, when repair is enabled and the template
// is dirty, resets every name recorded on a dirty job of this template before
// auditing again.
func (s *Scheduler) RunOnce(ctx context.Context) (*template.Status, error) {
	start := time.Now()
	st, err := s.auditor.Audit(ctx)
	if err == nil {
		s.log.Debug().Dur("duration", time.Since(start)).Msg("template clean")
		return st, nil
	}
	if !errors.Is(err, certerr.ErrTemplateDirty) || !s.cfg.Repair || s.dirty == nil {
		return st, err
	}

	repaired, rerr := s.repair(ctx)
	if rerr != nil {
		return st, errors.Join(err, rerr)
	}
	s.log.Info().Int("names_reset", repaired).Msg("dirty template repaired from job records")
	return s.auditor.Audit(ctx)
}

func (s *Scheduler) repair(ctx context.Context) (int, error) {
	jobs, err := s.dirty.ListDirty(ctx, repairBatch)
	if err != nil {
		return 0, err
	}

	doc := s.auditor.PresentationID()
	seen := make(map[string]bool)
	repaired := 0
	for _, job := range jobs {
		if job.PresentationID != doc || seen[job.RecipientName] {
			continue
		}
		seen[job.RecipientName] = true

		rev, err := s.auditor.Reset(ctx, job.RecipientName)
		if err != nil {
			return repaired, fmt.Errorf("reset name of job %s: %w", job.ID, err)
		}
		if rev.OccurrencesChanged > 0 {
			repaired++
		}
	}
	return repaired, nil
}

// cronLogger adapts the application logger to cron.Logger.
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
