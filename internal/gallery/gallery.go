// Package gallery is the read side of generation results: date-grouped
// listing with search, plus the actions a user can take on a past result.
package gallery

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"virtual-tryon-backend/internal/jobs"
	"virtual-tryon-backend/internal/models"
	"virtual-tryon-backend/internal/orchestrator"
)

const maxBulkDownload = 50

var ErrTooManyItems = fmt.Errorf("at most %d results can be downloaded at once", maxBulkDownload)

type JobReader interface {
	Get(ctx context.Context, jobID, userID uuid.UUID) (*models.Job, error)
	ListCompleted(ctx context.Context, userID uuid.UUID, filter jobs.Filter) ([]models.Job, error)
}

type Starter interface {
	Start(ctx context.Context, req orchestrator.Request) (*orchestrator.Admission, error)
}

type Fetcher interface {
	Download(ctx context.Context, url string) ([]byte, string, error)
}

type Service struct {
	jobs    JobReader
	starter Starter
	fetcher Fetcher
	loc     *time.Location
	logger  *zap.Logger
}

func NewService(jobs JobReader, starter Starter, fetcher Fetcher, loc *time.Location, logger *zap.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{jobs: jobs, starter: starter, fetcher: fetcher, loc: loc, logger: logger.Named("gallery")}
}

func (s *Service) List(ctx context.Context, userID uuid.UUID, filter jobs.Filter) ([]jobs.DateGroup, int, error) {
	list, err := s.jobs.ListCompleted(ctx, userID, filter)
	if err != nil {
		return nil, 0, err
	}
	return jobs.GroupByDate(list, s.loc), len(list), nil
}

// Regenerate starts a new job on the same inputs as a completed one.
func (s *Service) Regenerate(ctx context.Context, userID, jobID uuid.UUID, params map[string]interface{}) (*orchestrator.Admission, error) {
	return s.starter.Start(ctx, orchestrator.Request{
		Kind:        models.JobKindRegeneration,
		UserID:      userID,
		SourceJobID: jobID,
		Params:      params,
	})
}

func (s *Service) GenerateVideo(ctx context.Context, userID, jobID uuid.UUID, opts orchestrator.VideoOptions) (*orchestrator.Admission, error) {
	return s.starter.Start(ctx, orchestrator.Request{
		Kind:        models.JobKindVideo,
		UserID:      userID,
		SourceJobID: jobID,
		Video:       opts,
	})
}

// BulkDownload writes a zip of the requested completed results to w.
// Jobs that are missing, foreign or unfinished are skipped.
func (s *Service) BulkDownload(ctx context.Context, userID uuid.UUID, jobIDs []uuid.UUID, w io.Writer) (int, error) {
	if len(jobIDs) > maxBulkDownload {
		return 0, ErrTooManyItems
	}

	zw := zip.NewWriter(w)
	written := 0
	seen := make(map[uuid.UUID]bool, len(jobIDs))
	for _, id := range jobIDs {
		if seen[id] {
			continue
		}
		seen[id] = true

		job, err := s.jobs.Get(ctx, id, userID)
		if errors.Is(err, jobs.ErrJobNotFound) {
			continue
		}
		if err != nil {
			return written, err
		}
		if job.Status != models.JobStatusCompleted || !job.ResultURL.Valid {
			continue
		}

		data, _, err := s.fetcher.Download(ctx, job.ResultURL.String)
		if err != nil {
			s.logger.Warn("skipping result in archive", zap.String("job_id", id.String()), zap.Error(err))
			continue
		}

		f, err := zw.CreateHeader(&zip.FileHeader{
			Name:     ArchiveName(job),
			Method:   zip.Store,
			Modified: job.CreatedAt,
		})
		if err != nil {
			return written, fmt.Errorf("failed to add %s to archive: %w", id, err)
		}
		if _, err := f.Write(data); err != nil {
			return written, fmt.Errorf("failed to write %s to archive: %w", id, err)
		}
		written++
	}

	if err := zw.Close(); err != nil {
		return written, fmt.Errorf("failed to finish archive: %w", err)
	}
	return written, nil
}

// ArchiveName is "<date>_<product>_<model>_<short id><ext>".
func ArchiveName(job *models.Job) string {
	ext := path.Ext(job.ResultURL.String)
	if ext == "" {
		ext = ".webp"
	}
	return fmt.Sprintf("%s_%s_%s_%s%s",
		job.CreatedAt.UTC().Format("2006-01-02"),
		slug(job.ProductName, "product"),
		slug(job.ModelName, "model"),
		job.ID.String()[:8],
		ext,
	)
}

func slug(s, fallback string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			out = append(out, r)
		case r == ' ' || r == '_':
			if len(out) > 0 && out[len(out)-1] != '-' {
				out = append(out, '-')
			}
		}
		if len(out) >= 40 {
			break
		}
	}
	if trimmed := strings.Trim(string(out), "-"); trimmed != "" {
		return trimmed
	}
	return fallback
}
