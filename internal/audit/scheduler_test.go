package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/certgen/certgen/internal/certerr"
	"github.com/certgen/certgen/internal/config"
	"github.com/certgen/certgen/internal/logger"
	"github.com/certgen/certgen/internal/model"
	"github.com/certgen/certgen/internal/template"
)

// fakeAuditor models a template containing the names in shown; an empty set
// means the placeholder is present.
type fakeAuditor struct {
	shown  map[string]bool
	resets []string
	audits int
}

func (f *fakeAuditor) PresentationID() string { return "doc" }

func (f *fakeAuditor) Audit(context.Context) (*template.Status, error) {
	f.audits++
	if len(f.shown) == 0 {
		return &template.Status{PlaceholderPresent: true, SlideCount: 1}, nil
	}
	return &template.Status{SlideCount: 1}, certerr.ErrTemplateDirty
}

func (f *fakeAuditor) Reset(_ context.Context, name string) (*template.Revision, error) {
	f.resets = append(f.resets, name)
	if f.shown[name] {
		delete(f.shown, name)
		return &template.Revision{OccurrencesChanged: 1}, nil
	}
	return &template.Revision{}, nil
}

type dirtyList []*model.Job

func (d dirtyList) ListDirty(context.Context, int) ([]*model.Job, error) { return d, nil }

func newScheduler(t *testing.T, repair bool, a Auditor, d DirtyLister) *Scheduler {
	t.Helper()
	s, err := NewScheduler(config.AuditConfig{Schedule: "*/5 * * * *", Repair: repair, Timeout: time.Second}, a, d, logger.Nop())
	require.NoError(t, err)
	return s
}

func TestNewScheduler_InvalidSchedule(t *testing.T) {
	_, err := NewScheduler(config.AuditConfig{Schedule: "every minute"}, &fakeAuditor{}, nil, logger.Nop())
	require.Error(t, err)
}

func TestRunOnce_Clean(t *testing.T) {
	a := &fakeAuditor{}
	st, err := newScheduler(t, true, a, dirtyList{}).RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, st.PlaceholderPresent)
	assert.Empty(t, a.resets)
}

func TestRunOnce_DirtyWithoutRepair(t *testing.T) {
	a := &fakeAuditor{shown: map[string]bool{"Alice": true}}
	_, err := newScheduler(t, false, a, dirtyList{{ID: "j1", PresentationID: "doc", RecipientName: "Alice"}}).
		RunOnce(context.Background())
	require.ErrorIs(t, err, certerr.ErrTemplateDirty)
	assert.Empty(t, a.resets)
	assert.Equal(t, 1, a.audits)
}

func TestRunOnce_Repair(t *testing.T) {
	a := &fakeAuditor{shown: map[string]bool{"Alice": true}}
	jobs := dirtyList{
		{ID: "j3", PresentationID: "other-doc", RecipientName: "Carol"},
		{ID: "j2", PresentationID: "doc", RecipientName: "Alice"},
		{ID: "j1", PresentationID: "doc", RecipientName: "Alice"},
		{ID: "j0", PresentationID: "doc", RecipientName: "Bob"},
	}

	st, err := newScheduler(t, true, a, jobs).RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, st.PlaceholderPresent)
	assert.Equal(t, []string{"Alice", "Bob"}, a.resets)
	assert.Equal(t, 2, a.audits)
}

type failingLister struct{}

func (failingLister) ListDirty(context.Context, int) ([]*model.Job, error) {
	return nil, errors.New("database unavailable")
}

func TestRunOnce_RepairListFails(t *testing.T) {
	a := &fakeAuditor{shown: map[string]bool{"Alice": true}}
	_, err := newScheduler(t, true, a, failingLister{}).RunOnce(context.Background())
	require.ErrorIs(t, err, certerr.ErrTemplateDirty)
	assert.ErrorContains(t, err, "database unavailable")
}

func TestScheduler_StartStop(t *testing.T) {
	s := newScheduler(t, false, &fakeAuditor{}, nil)
	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}
