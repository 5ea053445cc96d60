package supabase

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"virtual-tryon-backend/internal/jobs"
	"virtual-tryon-backend/internal/models"
)

const videoColumns = `id, user_id, parent_job_id, status, video_url, error_message, credits_used,
	duration_seconds, aspect_ratio, prompt, external_handle, created_at,
	processing_started_at, processing_completed_at`

func scanVideoJob(row interface{ Scan(...any) error }) (*models.VideoJob, error) {
	var v models.VideoJob
	err := row.Scan(
		&v.ID, &v.UserID, &v.ParentJobID, &v.Status, &v.VideoURL, &v.ErrorMessage, &v.CreditsUsed,
		&v.DurationSeconds, &v.AspectRatio, &v.Prompt, &v.ExternalHandle, &v.CreatedAt,
		&v.ProcessingStartedAt, &v.ProcessingCompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (d *DatabaseClient) InsertVideoJob(ctx context.Context, video *models.VideoJob) error {
	err := d.db.QueryRowContext(ctx, `
		INSERT INTO video_jobs (id, user_id, parent_job_id, status, credits_used, duration_seconds, aspect_ratio, prompt)
		VALUES ($1, $2, $3, 'pending', $4, $5, $6, $7)
		RETURNING status, created_at
	`, video.ID, video.UserID, video.ParentJobID, video.CreditsUsed, video.DurationSeconds,
		video.AspectRatio, video.Prompt,
	).Scan(&video.Status, &video.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert video job: %w", err)
	}
	return nil
}

func (d *DatabaseClient) MarkVideoJobProcessing(ctx context.Context, videoID uuid.UUID, handle string) error {
	res, err := d.db.ExecContext(ctx, `
		UPDATE video_jobs
		SET status = 'processing', external_handle = $2,
			processing_started_at = COALESCE(processing_started_at, NOW())
		WHERE id = $1 AND status IN ('pending', 'processing')
	`, videoID, handle)
	if err != nil {
		return fmt.Errorf("failed to update video job: %w", err)
	}
	return d.checkTransition(ctx, res, "video_jobs", videoID)
}

func (d *DatabaseClient) CompleteVideoJob(ctx context.Context, videoID uuid.UUID, videoURL string) error {
	res, err := d.db.ExecContext(ctx, `
		UPDATE video_jobs
		SET status = 'completed', video_url = $2, processing_completed_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'processing')
	`, videoID, videoURL)
	if err != nil {
		return fmt.Errorf("failed to update video job: %w", err)
	}
	return d.checkTransition(ctx, res, "video_jobs", videoID)
}

func (d *DatabaseClient) FailVideoJob(ctx context.Context, videoID uuid.UUID, message string) error {
	res, err := d.db.ExecContext(ctx, `
		UPDATE video_jobs
		SET status = 'failed', error_message = $2, processing_completed_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'processing')
	`, videoID, message)
	if err != nil {
		return fmt.Errorf("failed to update video job: %w", err)
	}
	return d.checkTransition(ctx, res, "video_jobs", videoID)
}

func (d *DatabaseClient) GetVideoJob(ctx context.Context, videoID, userID uuid.UUID) (*models.VideoJob, error) {
	video, err := scanVideoJob(d.db.QueryRowContext(ctx, `
		SELECT `+videoColumns+` FROM video_jobs WHERE id = $1 AND user_id = $2
	`, videoID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, jobs.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get video job: %w", err)
	}
	return video, nil
}

func (d *DatabaseClient) ListVideoJobs(ctx context.Context, parentJobID, userID uuid.UUID) ([]models.VideoJob, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT `+videoColumns+`
		FROM video_jobs
		WHERE parent_job_id = $1 AND user_id = $2
		ORDER BY created_at DESC
	`, parentJobID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list video jobs: %w", err)
	}
	return collectVideoJobs(rows)
}

func (d *DatabaseClient) ListStaleVideoJobs(ctx context.Context, createdBefore time.Time) ([]models.VideoJob, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT `+videoColumns+`
		FROM video_jobs
		WHERE status IN ('pending', 'processing') AND created_at < $1
		ORDER BY created_at
		LIMIT 100
	`, createdBefore)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale video jobs: %w", err)
	}
	return collectVideoJobs(rows)
}

func collectVideoJobs(rows *sql.Rows) ([]models.VideoJob, error) {
	defer rows.Close()

	var result []models.VideoJob
	for rows.Next() {
		video, err := scanVideoJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan video job: %w", err)
		}
		result = append(result, *video)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate video jobs: %w", err)
	}
	return result, nil
}
