// Package jobs records the lifecycle of generation jobs:
// pending -> processing -> completed | failed. Terminal states are final.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"virtual-tryon-backend/internal/models"
)

var (
	ErrJobNotFound = errors.New("job not found")
	// ErrJobTerminal is returned when a transition targets a job that is
	// already completed or failed.
	ErrJobTerminal = errors.New("job already in terminal state")
)

type Repository interface {
	InsertJob(ctx context.Context, job *models.Job) error
	MarkJobProcessing(ctx context.Context, jobID uuid.UUID, handle string) error
	CompleteJob(ctx context.Context, jobID uuid.UUID, resultURL string, metadata json.RawMessage) error
	FailJob(ctx context.Context, jobID uuid.UUID, message string) error
	GetJob(ctx context.Context, jobID, userID uuid.UUID) (*models.Job, error)
	ListCompletedJobs(ctx context.Context, userID uuid.UUID, filter Filter) ([]models.Job, error)
	ListStaleJobs(ctx context.Context, createdBefore time.Time) ([]models.Job, error)

	InsertVideoJob(ctx context.Context, video *models.VideoJob) error
	MarkVideoJobProcessing(ctx context.Context, videoID uuid.UUID, handle string) error
	CompleteVideoJob(ctx context.Context, videoID uuid.UUID, videoURL string) error
	FailVideoJob(ctx context.Context, videoID uuid.UUID, message string) error
	GetVideoJob(ctx context.Context, videoID, userID uuid.UUID) (*models.VideoJob, error)
	ListVideoJobs(ctx context.Context, parentJobID, userID uuid.UUID) ([]models.VideoJob, error)
	ListStaleVideoJobs(ctx context.Context, createdBefore time.Time) ([]models.VideoJob, error)
}

// Filter narrows gallery listings. Search matches product or model name
// as a case-insensitive substring.
type Filter struct {
	Search string
	Gender string
	Limit  int
	Offset int
}

type CreateParams struct {
	// ID may be pre-allocated so that the admission debit can reference it.
	ID             uuid.UUID
	UserID         uuid.UUID
	ProductImageID uuid.UUID
	ModelPhotoID   uuid.UUID
	Kind           string
	CreditsUsed    int
	SourceJobID    uuid.NullUUID
	ProductName    string
	ModelName      string
	ModelGender    string
	Metadata       map[string]interface{}
}

type CreateVideoParams struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	ParentJobID     uuid.UUID
	CreditsUsed     int
	DurationSeconds int
	AspectRatio     string
	Prompt          string
}

// Lifecycle is the transition surface shared by image and video jobs.
type Lifecycle interface {
	MarkProcessing(ctx context.Context, id uuid.UUID, handle string) error
	Complete(ctx context.Context, id uuid.UUID, resultURL string, metadata map[string]interface{}) error
	Fail(ctx context.Context, id uuid.UUID, message string) error
}

type Store struct {
	repo   Repository
	logger *zap.Logger
	now    func() time.Time
}

func NewStore(repo Repository, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{repo: repo, logger: logger.Named("jobs"), now: time.Now}
}

func (s *Store) Create(ctx context.Context, p CreateParams) (*models.Job, error) {
	if p.Kind != models.JobKindTryOn && p.Kind != models.JobKindRegeneration {
		return nil, fmt.Errorf("unsupported job kind %q", p.Kind)
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}

	metadata := json.RawMessage("{}")
	if len(p.Metadata) > 0 {
		raw, err := json.Marshal(p.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadata = raw
	}

	job := &models.Job{
		ID:             p.ID,
		UserID:         p.UserID,
		ProductImageID: p.ProductImageID,
		ModelPhotoID:   p.ModelPhotoID,
		Kind:           p.Kind,
		Status:         models.JobStatusPending,
		CreditsUsed:    p.CreditsUsed,
		SourceJobID:    p.SourceJobID,
		ProductName:    p.ProductName,
		ModelName:      p.ModelName,
		ModelGender:    p.ModelGender,
		Metadata:       metadata,
		CreatedAt:      s.now().UTC(),
	}

	if err := s.repo.InsertJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	s.logger.Info("job created",
		zap.String("job_id", job.ID.String()),
		zap.String("kind", job.Kind),
		zap.String("user_id", job.UserID.String()),
	)
	return job, nil
}

func (s *Store) MarkProcessing(ctx context.Context, jobID uuid.UUID, handle string) error {
	return s.transition(jobID, "processing", s.repo.MarkJobProcessing(ctx, jobID, handle))
}

func (s *Store) Complete(ctx context.Context, jobID uuid.UUID, resultURL string, metadata map[string]interface{}) error {
	if resultURL == "" {
		return fmt.Errorf("result url is required to complete job %s", jobID)
	}
	raw := json.RawMessage("{}")
	if len(metadata) > 0 {
		var err error
		if raw, err = json.Marshal(metadata); err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}
	return s.transition(jobID, "completed", s.repo.CompleteJob(ctx, jobID, resultURL, raw))
}

func (s *Store) Fail(ctx context.Context, jobID uuid.UUID, message string) error {
	return s.transition(jobID, "failed", s.repo.FailJob(ctx, jobID, message))
}

func (s *Store) transition(jobID uuid.UUID, to string, err error) error {
	if err != nil {
		if errors.Is(err, ErrJobTerminal) || errors.Is(err, ErrJobNotFound) {
			return err
		}
		return fmt.Errorf("failed to mark job %s %s: %w", jobID, to, err)
	}
	s.logger.Debug("job transition", zap.String("job_id", jobID.String()), zap.String("status", to))
	return nil
}

// Get returns the job only if it belongs to userID; other users' jobs are
// reported as ErrJobNotFound.
func (s *Store) Get(ctx context.Context, jobID, userID uuid.UUID) (*models.Job, error) {
	job, err := s.repo.GetJob(ctx, jobID, userID)
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

func (s *Store) ListCompleted(ctx context.Context, userID uuid.UUID, filter Filter) ([]models.Job, error) {
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 200
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	jobs, err := s.repo.ListCompletedJobs(ctx, userID, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

// ListStale returns image jobs still pending or processing that were
// created before the cutoff.
func (s *Store) ListStale(ctx context.Context, createdBefore time.Time) ([]models.Job, error) {
	jobs, err := s.repo.ListStaleJobs(ctx, createdBefore)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale jobs: %w", err)
	}
	return jobs, nil
}
