package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/certgen/certgen/internal/database"
	"github.com/certgen/certgen/internal/model"
)

// JobRepository handles certificate job persistence
type JobRepository struct {
	db *database.Postgres
}

// NewJobRepository creates a new JobRepository
func NewJobRepository(db *database.Postgres) *JobRepository {
	return &JobRepository{db: db}
}

const jobColumns = `id, recipient_name, recipient_email, presentation_id, slide_id, phase, status,
	error_kind, error_message, template_dirty, message_id, created_at, updated_at, finished_at`

// Create inserts a new job. A redelivered job with the same ID is restarted:
// its outcome is cleared but a dirty flag is kept.
func (r *JobRepository) Create(ctx context.Context, job *model.Job) error {
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	query := `
		INSERT INTO certificate_jobs (id, recipient_name, recipient_email, presentation_id,
		    phase, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE
		SET phase = EXCLUDED.phase, status = EXCLUDED.status, updated_at = EXCLUDED.updated_at,
		    error_kind = NULL, error_message = NULL, finished_at = NULL
	`
	_, err := r.db.ExecContext(ctx, query,
		job.ID,
		job.RecipientName,
		job.RecipientEmail,
		job.PresentationID,
		job.Phase,
		job.Status,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) {
			return fmt.Errorf("failed to create job: %s: %w", pqErr.Code.Name(), err)
		}
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// UpdatePhase records the latest phase a running job reached
func (r *JobRepository) UpdatePhase(ctx context.Context, id, phase string) error {
	query := `
		UPDATE certificate_jobs
		SET phase = $2, status = $3, updated_at = $4
		WHERE id = $1 AND finished_at IS NULL
	`
	res, err := r.db.ExecContext(ctx, query, id, phase, model.JobStatusRunning, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update job phase: %w", err)
	}
	return expectOne(res)
}

// Finish stores the terminal outcome of a job
func (r *JobRepository) Finish(ctx context.Context, id string, out model.JobOutcome) error {
	now := time.Now().UTC()
	query := `
		UPDATE certificate_jobs
		SET phase = $2, status = $3, slide_id = $4, error_kind = $5, error_message = $6,
		    template_dirty = $7, message_id = $8, updated_at = $9, finished_at = $9
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query,
		id,
		out.Phase,
		out.Status,
		nullString(out.SlideID),
		nullString(out.ErrorKind),
		nullString(out.ErrorMessage),
		out.TemplateDirty,
		nullString(out.MessageID),
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to finish job: %w", err)
	}
	return expectOne(res)
}

// GetByID retrieves a job by ID
func (r *JobRepository) GetByID(ctx context.Context, id string) (*model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM certificate_jobs WHERE id = $1`
	job, err := scanJob(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// ListDirty returns jobs that left a template without its placeholder, newest first
func (r *JobRepository) ListDirty(ctx context.Context, limit int) ([]*model.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + jobColumns + `
		FROM certificate_jobs
		WHERE template_dirty
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list dirty jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ClearDirty unflags the dirty jobs of a document once its placeholder is restored
func (r *JobRepository) ClearDirty(ctx context.Context, presentationID, name string) (int64, error) {
	query := `
		UPDATE certificate_jobs
		SET template_dirty = FALSE, updated_at = $3
		WHERE presentation_id = $1 AND recipient_name = $2 AND template_dirty
	`
	res, err := r.db.ExecContext(ctx, query, presentationID, name, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to clear dirty jobs: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*model.Job, error) {
	job := &model.Job{}
	err := row.Scan(
		&job.ID,
		&job.RecipientName,
		&job.RecipientEmail,
		&job.PresentationID,
		&job.SlideID,
		&job.Phase,
		&job.Status,
		&job.ErrorKind,
		&job.ErrorMessage,
		&job.TemplateDirty,
		&job.MessageID,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	return job, nil
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
