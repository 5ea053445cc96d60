package supabase

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"virtual-tryon-backend/internal/jobs"
	"virtual-tryon-backend/internal/models"
)

const jobColumns = `id, user_id, product_image_id, model_photo_id, kind, status, result_url,
	credits_used, error_message, external_handle, source_job_id, product_name, model_name,
	model_gender, metadata, created_at, processing_started_at, processing_completed_at`

func scanJob(row interface{ Scan(...any) error }) (*models.Job, error) {
	var j models.Job
	var metadata []byte
	err := row.Scan(
		&j.ID, &j.UserID, &j.ProductImageID, &j.ModelPhotoID, &j.Kind, &j.Status, &j.ResultURL,
		&j.CreditsUsed, &j.ErrorMessage, &j.ExternalHandle, &j.SourceJobID, &j.ProductName, &j.ModelName,
		&j.ModelGender, &metadata, &j.CreatedAt, &j.ProcessingStartedAt, &j.ProcessingCompletedAt,
	)
	if err != nil {
		return nil, err
	}
	j.Metadata = json.RawMessage(metadata)
	return &j, nil
}

func (d *DatabaseClient) InsertJob(ctx context.Context, job *models.Job) error {
	metadata := job.Metadata
	if len(metadata) == 0 {
		metadata = json.RawMessage("{}")
	}
	err := d.db.QueryRowContext(ctx, `
		INSERT INTO jobs (id, user_id, product_image_id, model_photo_id, kind, status, credits_used,
			source_job_id, product_name, model_name, model_gender, metadata)
		VALUES ($1, $2, $3, $4, $5, 'pending', $6, $7, $8, $9, $10, $11)
		RETURNING status, created_at
	`, job.ID, job.UserID, job.ProductImageID, job.ModelPhotoID, job.Kind, job.CreditsUsed,
		job.SourceJobID, job.ProductName, job.ModelName, job.ModelGender, []byte(metadata),
	).Scan(&job.Status, &job.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

func (d *DatabaseClient) MarkJobProcessing(ctx context.Context, jobID uuid.UUID, handle string) error {
	res, err := d.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'processing', external_handle = $2,
			processing_started_at = COALESCE(processing_started_at, NOW())
		WHERE id = $1 AND status IN ('pending', 'processing')
	`, jobID, handle)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	return d.checkTransition(ctx, res, "jobs", jobID)
}

func (d *DatabaseClient) CompleteJob(ctx context.Context, jobID uuid.UUID, resultURL string, metadata json.RawMessage) error {
	if len(metadata) == 0 {
		metadata = json.RawMessage("{}")
	}
	res, err := d.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'completed', result_url = $2, metadata = metadata || $3::jsonb,
			processing_completed_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'processing')
	`, jobID, resultURL, []byte(metadata))
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	return d.checkTransition(ctx, res, "jobs", jobID)
}

func (d *DatabaseClient) FailJob(ctx context.Context, jobID uuid.UUID, message string) error {
	res, err := d.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'failed', error_message = $2, processing_completed_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'processing')
	`, jobID, message)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	return d.checkTransition(ctx, res, "jobs", jobID)
}

func (d *DatabaseClient) GetJob(ctx context.Context, jobID, userID uuid.UUID) (*models.Job, error) {
	job, err := scanJob(d.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE id = $1 AND user_id = $2
	`, jobID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, jobs.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

func (d *DatabaseClient) ListCompletedJobs(ctx context.Context, userID uuid.UUID, filter jobs.Filter) ([]models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE user_id = $1 AND status = 'completed'`
	args := []interface{}{userID}

	if search := strings.TrimSpace(filter.Search); search != "" {
		args = append(args, "%"+escapeLike(search)+"%")
		query += fmt.Sprintf(` AND (product_name ILIKE $%d OR model_name ILIKE $%d)`, len(args), len(args))
	}
	if filter.Gender != "" {
		args = append(args, filter.Gender)
		query += fmt.Sprintf(` AND model_gender = $%d`, len(args))
	}
	args = append(args, filter.Limit, filter.Offset)
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var result []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		result = append(result, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate jobs: %w", err)
	}
	return result, nil
}

func (d *DatabaseClient) ListStaleJobs(ctx context.Context, createdBefore time.Time) ([]models.Job, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE status IN ('pending', 'processing') AND created_at < $1
		ORDER BY created_at
		LIMIT 100
	`, createdBefore)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale jobs: %w", err)
	}
	defer rows.Close()

	var result []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		result = append(result, *job)
	}
	return result, rows.Err()
}

// checkTransition turns a guarded UPDATE that touched no rows into
// ErrJobNotFound or ErrJobTerminal.
func (d *DatabaseClient) checkTransition(ctx context.Context, res sql.Result, table string, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	var status string
	err = d.db.QueryRowContext(ctx, `SELECT status FROM `+table+` WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return jobs.ErrJobNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read status: %w", err)
	}
	return jobs.ErrJobTerminal
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
