package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"virtual-tryon-backend/internal/models"
)

func (s *Store) CreateVideo(ctx context.Context, p CreateVideoParams) (*models.VideoJob, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	video := &models.VideoJob{
		ID:              p.ID,
		UserID:          p.UserID,
		ParentJobID:     p.ParentJobID,
		Status:          models.JobStatusPending,
		CreditsUsed:     p.CreditsUsed,
		DurationSeconds: p.DurationSeconds,
		AspectRatio:     p.AspectRatio,
		Prompt:          p.Prompt,
		CreatedAt:       s.now().UTC(),
	}
	if err := s.repo.InsertVideoJob(ctx, video); err != nil {
		return nil, fmt.Errorf("failed to create video job: %w", err)
	}

	s.logger.Info("video job created",
		zap.String("video_job_id", video.ID.String()),
		zap.String("parent_job_id", video.ParentJobID.String()),
	)
	return video, nil
}

func (s *Store) GetVideo(ctx context.Context, videoID, userID uuid.UUID) (*models.VideoJob, error) {
	video, err := s.repo.GetVideoJob(ctx, videoID, userID)
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get video job: %w", err)
	}
	return video, nil
}

func (s *Store) ListVideosForJob(ctx context.Context, parentJobID, userID uuid.UUID) ([]models.VideoJob, error) {
	videos, err := s.repo.ListVideoJobs(ctx, parentJobID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list video jobs: %w", err)
	}
	return videos, nil
}

func (s *Store) ListStaleVideos(ctx context.Context, createdBefore time.Time) ([]models.VideoJob, error) {
	videos, err := s.repo.ListStaleVideoJobs(ctx, createdBefore)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale video jobs: %w", err)
	}
	return videos, nil
}

// Videos exposes the video lifecycle through the same interface as image jobs.
func (s *Store) Videos() Lifecycle {
	return videoLifecycle{s}
}

type videoLifecycle struct {
	s *Store
}

func (v videoLifecycle) MarkProcessing(ctx context.Context, id uuid.UUID, handle string) error {
	return v.s.transition(id, "processing", v.s.repo.MarkVideoJobProcessing(ctx, id, handle))
}

func (v videoLifecycle) Complete(ctx context.Context, id uuid.UUID, videoURL string, _ map[string]interface{}) error {
	if videoURL == "" {
		return fmt.Errorf("video url is required to complete video job %s", id)
	}
	return v.s.transition(id, "completed", v.s.repo.CompleteVideoJob(ctx, id, videoURL))
}

func (v videoLifecycle) Fail(ctx context.Context, id uuid.UUID, message string) error {
	return v.s.transition(id, "failed", v.s.repo.FailVideoJob(ctx, id, message))
}
