package orchestrator

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"
	"virtual-tryon-backend/internal/inference"
	"virtual-tryon-backend/internal/models"
)

const reasonInterrupted = "interrupted before submission"

// ResumeJob takes over a non-terminal job whose poll loop is gone, for
// instance after a restart. Jobs that never got a provider handle are
// failed and refunded. Jobs with budget left are polled again in the
// background; jobs past their budget get one last poll, then complete or
// time out.
func (o *Orchestrator) ResumeJob(ctx context.Context, job *models.Job) error {
	if job.IsTerminal() {
		return nil
	}
	return o.resume(ctx, o.flowFromJob(job), job.ProcessingStartedAt, job.CreatedAt)
}

func (o *Orchestrator) ResumeVideo(ctx context.Context, video *models.VideoJob) error {
	if video.IsTerminal() {
		return nil
	}
	return o.resume(ctx, o.flowFromVideo(video), video.ProcessingStartedAt, video.CreatedAt)
}

func (o *Orchestrator) resume(ctx context.Context, f *flow, startedAt sql.NullTime, createdAt time.Time) error {
	if _, running := o.active.Load(f.jobID); running {
		return nil
	}

	log := o.logger.With(zap.String("job_id", f.jobID.String()), zap.String("kind", f.kind))

	if f.handle == "" {
		log.Warn("resuming job without provider handle")
		_, err := o.finishFailure(ctx, f, reasonInterrupted)
		return err
	}

	since := createdAt
	if startedAt.Valid {
		since = startedAt.Time
	}
	used := int(time.Since(since) / o.cfg.PollInterval)

	if used < f.budget {
		log.Info("resuming poll loop", zap.Int("attempts_used", used))
		o.launch(f, used)
		return nil
	}

	res, err := o.deps.Gateway.Poll(ctx, f.handle)
	if err == nil {
		switch res.State {
		case inference.StateCompleted:
			_, _, err := o.finishSuccess(ctx, f)
			return err
		case inference.StateFailed:
			_, err := o.finishFailure(ctx, f, failureMessage(res.Message))
			return err
		}
	}
	_, err = o.finishFailure(ctx, f, reasonTimeout)
	return err
}

// Sweep resumes open jobs created before the cutoffs. It returns how many
// jobs it looked at.
func (o *Orchestrator) Sweep(ctx context.Context, imageCutoff, videoCutoff time.Time) (int, error) {
	stale, err := o.deps.Jobs.ListStale(ctx, imageCutoff)
	if err != nil {
		return 0, err
	}
	videos, err := o.deps.Jobs.ListStaleVideos(ctx, videoCutoff)
	if err != nil {
		return 0, err
	}

	for i := range stale {
		if err := o.ResumeJob(ctx, &stale[i]); err != nil {
			o.logger.Error("failed to resume job", zap.String("job_id", stale[i].ID.String()), zap.Error(err))
		}
	}
	for i := range videos {
		if err := o.ResumeVideo(ctx, &videos[i]); err != nil {
			o.logger.Error("failed to resume video job", zap.String("video_job_id", videos[i].ID.String()), zap.Error(err))
		}
	}
	return len(stale) + len(videos), nil
}

// RunSweeper recovers every open job once at startup, then periodically
// sweeps jobs older than their poll budget plus grace. It returns when ctx
// is done.
func (o *Orchestrator) RunSweeper(ctx context.Context, interval, grace time.Duration) {
	now := time.Now()
	if n, err := o.Sweep(ctx, now, now); err != nil {
		o.logger.Error("startup recovery failed", zap.Error(err))
	} else if n > 0 {
		o.logger.Info("recovered open jobs", zap.Int("count", n))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			imageCutoff := now.Add(-(time.Duration(o.cfg.ImageAttempts)*o.cfg.PollInterval + grace))
			videoCutoff := now.Add(-(time.Duration(o.cfg.VideoAttempts)*o.cfg.PollInterval + grace))
			n, err := o.Sweep(ctx, imageCutoff, videoCutoff)
			if err != nil {
				o.logger.Error("sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				o.logger.Info("swept stale jobs", zap.Int("count", n))
			}
		}
	}
}
