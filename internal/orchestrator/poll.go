package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"
	"virtual-tryon-backend/internal/imaging"
	"virtual-tryon-backend/internal/inference"
	"virtual-tryon-backend/internal/jobs"
	"virtual-tryon-backend/internal/models"
	"virtual-tryon-backend/internal/progress"
)

const (
	reasonTimeout    = "generation timed out"
	reasonNoArtifact = "no result artifact"
)

// pollUntilTerminal polls the provider every PollInterval until it reports
// a terminal state or the attempt budget runs out. used is the number of
// attempts already spent (non-zero when resuming). Poll errors count
// against the budget and never fail the job by themselves.
func (o *Orchestrator) pollUntilTerminal(ctx context.Context, f *flow, used int) (*Result, error) {
	log := o.logger.With(zap.String("job_id", f.jobID.String()), zap.String("kind", f.kind))

	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	for attempt := used + 1; attempt <= f.budget; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		res, err := o.deps.Gateway.Poll(ctx, f.handle)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Warn("poll failed", zap.Int("attempt", attempt), zap.Error(err))
			o.publish(ctx, progress.Processing(f.jobID, progress.Estimate(attempt, f.budget), attempt, ""))
			continue
		}

		switch res.State {
		case inference.StateQueued:
			o.publish(ctx, progress.Queued(f.jobID, attempt))
		case inference.StateProcessing:
			percent := res.Progress
			if percent < 0 {
				percent = progress.Estimate(attempt, f.budget)
			}
			o.publish(ctx, progress.Processing(f.jobID, percent, attempt, res.Message))
		case inference.StateCompleted:
			result, retry, err := o.finishSuccess(ctx, f)
			if retry {
				log.Warn("result fetch failed, will poll again", zap.Int("attempt", attempt), zap.Error(err))
				continue
			}
			return result, err
		case inference.StateFailed:
			return o.finishFailure(ctx, f, failureMessage(res.Message))
		}
	}

	log.Warn("attempt budget exhausted", zap.Int("budget", f.budget))
	return o.finishFailure(ctx, f, reasonTimeout)
}

// finishSuccess fetches and stores the artifact, then completes the job.
// retry is true for transient fetch errors that deserve another poll.
func (o *Orchestrator) finishSuccess(ctx context.Context, f *flow) (*Result, bool, error) {
	url, err := o.deps.Gateway.FetchResult(ctx, f.handle)
	switch {
	case errors.Is(err, inference.ErrNotReady), errors.Is(err, inference.ErrNoArtifact):
		res, ferr := o.finishFailure(ctx, f, reasonNoArtifact)
		return res, false, ferr
	case errors.Is(err, inference.ErrResultFailed):
		res, ferr := o.finishFailure(ctx, f, failureMessage(strings.TrimPrefix(err.Error(), inference.ErrResultFailed.Error()+": ")))
		return res, false, ferr
	case err != nil:
		return nil, true, err
	}

	storedURL, metadata, err := o.persist(ctx, f, url)
	if err != nil && ctx.Err() != nil {
		// interrupted, not broken; recovery picks the job up again
		return nil, false, ctx.Err()
	}
	if err != nil {
		o.logger.Error("failed to persist result",
			zap.String("job_id", f.jobID.String()),
			zap.Error(err),
		)
		res, ferr := o.finishFailure(ctx, f, "failed to store result")
		if ferr != nil {
			// leave the job for the sweeper; surface the storage error
			return nil, false, fmt.Errorf("persist result: %w", err)
		}
		return res, false, nil
	}

	err = f.lifecycle.Complete(context.WithoutCancel(ctx), f.jobID, storedURL, metadata)
	if errors.Is(err, jobs.ErrJobTerminal) {
		o.logger.Warn("job finalized elsewhere before completion", zap.String("job_id", f.jobID.String()))
		// the stored artifact belongs to no completed job
		if derr := o.deps.Objects.DeleteJobFiles(context.WithoutCancel(ctx), f.userID, f.jobID); derr != nil {
			o.logger.Warn("failed to remove orphaned artifact", zap.String("job_id", f.jobID.String()), zap.Error(derr))
		}
		return &Result{JobID: f.jobID, Kind: f.kind, Status: models.JobStatusFailed, Reason: "job already finalized"}, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("complete job: %w", err)
	}

	o.publish(ctx, progress.Completed(f.jobID, storedURL))
	o.logger.Info("generation completed",
		zap.String("job_id", f.jobID.String()),
		zap.String("kind", f.kind),
		zap.String("result_url", storedURL),
	)
	return &Result{JobID: f.jobID, Kind: f.kind, Status: models.JobStatusCompleted, ResultURL: storedURL}, false, nil
}

// finishFailure fails the job and refunds its cost. If the job had already
// reached a terminal state nothing is refunded.
func (o *Orchestrator) finishFailure(ctx context.Context, f *flow, reason string) (*Result, error) {
	ctx = context.WithoutCancel(ctx)

	err := f.lifecycle.Fail(ctx, f.jobID, reason)
	if errors.Is(err, jobs.ErrJobTerminal) {
		o.logger.Info("job already terminal, no refund", zap.String("job_id", f.jobID.String()))
		return &Result{JobID: f.jobID, Kind: f.kind, Status: models.JobStatusFailed, Reason: reason}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fail job: %w", err)
	}

	if err := o.refund(ctx, f, reason); err != nil {
		return nil, fmt.Errorf("refund job: %w", err)
	}

	o.publish(ctx, progress.Failed(f.jobID, reason))
	o.logger.Info("generation failed",
		zap.String("job_id", f.jobID.String()),
		zap.String("kind", f.kind),
		zap.String("reason", reason),
		zap.Int("refunded", f.cost),
	)
	return &Result{JobID: f.jobID, Kind: f.kind, Status: models.JobStatusFailed, Reason: reason}, nil
}

// persist copies the provider artifact into object storage. Images are
// re-encoded as WebP.
func (o *Orchestrator) persist(ctx context.Context, f *flow, providerURL string) (string, map[string]interface{}, error) {
	data, contentType, err := o.deps.Downloader.Download(ctx, providerURL)
	if err != nil {
		return "", nil, fmt.Errorf("download artifact: %w", err)
	}

	filename := "result" + extensionFor(contentType, providerURL)
	if f.isVideo() {
		if contentType == "" {
			contentType = "video/mp4"
		}
	} else {
		webp, err := imaging.ToWebP(data, o.cfg.WebPQuality)
		if err != nil {
			return "", nil, fmt.Errorf("convert artifact: %w", err)
		}
		data, contentType, filename = webp, imaging.ContentTypeWebP, "result.webp"
	}

	storagePath, publicURL, err := o.deps.Objects.Put(ctx, f.userID, f.jobID, filename, contentType, data)
	if err != nil {
		return "", nil, fmt.Errorf("upload artifact: %w", err)
	}

	metadata := map[string]interface{}{
		"provider_url": providerURL,
		"storage_path": storagePath,
		"content_type": contentType,
		"size_bytes":   len(data),
		"handle":       f.handle.String(),
	}
	if f.seed != 0 {
		metadata["seed"] = f.seed
	}
	return publicURL, metadata, nil
}

func extensionFor(contentType, url string) string {
	switch contentType {
	case "video/mp4":
		return ".mp4"
	case "video/webm":
		return ".webm"
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	}
	if ext := path.Ext(strings.SplitN(url, "?", 2)[0]); ext != "" && len(ext) <= 5 {
		return ext
	}
	return ".bin"
}
