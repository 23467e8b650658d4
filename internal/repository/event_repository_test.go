package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/certgen/certgen/internal/model"
)

func TestEventRepository_CreateAndList(t *testing.T) {
	repo := NewEventRepository(newTestDB(t))
	ctx := context.Background()
	doc := "doc-" + uuid.NewString()[:8]
	jobID := uuid.NewString()
	name := "Ada"

	first := &model.TemplateEvent{
		PresentationID: doc,
		Action:         model.EventActionDirty,
		JobID:          &jobID,
		Name:           &name,
		Metadata:       map[string]interface{}{"reset_error": "timeout"},
		CreatedAt:      time.Now().UTC().Add(-time.Minute),
	}
	require.NoError(t, repo.Create(ctx, first))
	assert.NotEmpty(t, first.ID)
	require.NoError(t, repo.Create(ctx, &model.TemplateEvent{PresentationID: doc, Action: model.EventActionReset, Name: &name}))
	require.NoError(t, repo.Create(ctx, &model.TemplateEvent{PresentationID: "other", Action: model.EventActionAuditClean}))

	events, err := repo.List(ctx, doc, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, model.EventActionReset, events[0].Action)
	assert.Nil(t, events[0].JobID)
	assert.Equal(t, model.EventActionDirty, events[1].Action)
	require.NotNil(t, events[1].JobID)
	assert.Equal(t, jobID, *events[1].JobID)
	assert.Equal(t, "timeout", events[1].Metadata["reset_error"])
}
