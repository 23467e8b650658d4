package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/certgen/certgen/internal/database"
	"github.com/certgen/certgen/internal/model"
)

// EventRepository handles template event persistence
type EventRepository struct {
	db *database.Postgres
}

// NewEventRepository creates a new EventRepository
func NewEventRepository(db *database.Postgres) *EventRepository {
	return &EventRepository{db: db}
}

// Create inserts a new template event. ID and CreatedAt are filled in when empty.
func (r *EventRepository) Create(ctx context.Context, ev *model.TemplateEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	metadataJSON, err := json.Marshal(ev.Metadata)
	if err != nil || ev.Metadata == nil {
		metadataJSON = []byte("{}")
	}

	query := `
		INSERT INTO template_events (id, presentation_id, action, job_id, name, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = r.db.ExecContext(ctx, query,
		ev.ID,
		ev.PresentationID,
		ev.Action,
		ev.JobID,
		ev.Name,
		metadataJSON,
		ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create template event: %w", err)
	}
	return nil
}

// List returns the latest events of a template, newest first
func (r *EventRepository) List(ctx context.Context, presentationID string, limit int) ([]*model.TemplateEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, presentation_id, action, job_id, name, metadata, created_at
		FROM template_events
		WHERE presentation_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, presentationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list template events: %w", err)
	}
	defer rows.Close()

	var events []*model.TemplateEvent
	for rows.Next() {
		var (
			ev       model.TemplateEvent
			jobID    sql.NullString
			name     sql.NullString
			metadata []byte
		)
		if err := rows.Scan(&ev.ID, &ev.PresentationID, &ev.Action, &jobID, &name, &metadata, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan template event: %w", err)
		}
		if jobID.Valid {
			ev.JobID = &jobID.String
		}
		if name.Valid {
			ev.Name = &name.String
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &ev.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode event metadata: %w", err)
			}
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}
