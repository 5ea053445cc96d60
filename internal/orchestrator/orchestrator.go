// Package orchestrator drives a generation request from admission to a
// terminal job state and keeps the credit ledger consistent with the
// outcome: a completed job consumes its credits, anything else refunds them.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"virtual-tryon-backend/internal/inference"
	"virtual-tryon-backend/internal/jobs"
	"virtual-tryon-backend/internal/ledger"
	"virtual-tryon-backend/internal/models"
	"virtual-tryon-backend/internal/progress"
)

var (
	ErrSourceNotCompleted = errors.New("source job is not completed")
	ErrInvalidRequest     = errors.New("invalid generation request")
)

type Ledger interface {
	Debit(ctx context.Context, userID uuid.UUID, amount int, reason string, relatedJobID uuid.NullUUID) (*models.Wallet, error)
	Refund(ctx context.Context, userID uuid.UUID, amount int, reason string, relatedJobID uuid.NullUUID) (*models.Wallet, error)
}

type JobStore interface {
	jobs.Lifecycle
	Create(ctx context.Context, p jobs.CreateParams) (*models.Job, error)
	Get(ctx context.Context, jobID, userID uuid.UUID) (*models.Job, error)
	CreateVideo(ctx context.Context, p jobs.CreateVideoParams) (*models.VideoJob, error)
	Videos() jobs.Lifecycle
	ListStale(ctx context.Context, createdBefore time.Time) ([]models.Job, error)
	ListStaleVideos(ctx context.Context, createdBefore time.Time) ([]models.VideoJob, error)
}

type Artifacts interface {
	GetProductImage(ctx context.Context, userID, imageID uuid.UUID) (*models.ProductImage, error)
	GetModelPhoto(ctx context.Context, userID, photoID uuid.UUID) (*models.ModelPhoto, error)
}

type ObjectStore interface {
	Put(ctx context.Context, userID, jobID uuid.UUID, filename, contentType string, data []byte) (string, string, error)
	DeleteJobFiles(ctx context.Context, userID, jobID uuid.UUID) error
}

type Downloader interface {
	Download(ctx context.Context, url string) ([]byte, string, error)
}

type Config struct {
	TryOnCost        int
	RegenerationCost int
	VideoCost        int
	ImageAttempts    int
	VideoAttempts    int
	PollInterval     time.Duration
	WebPQuality      float32
}

type Deps struct {
	Ledger     Ledger
	Jobs       JobStore
	Gateway    inference.Gateway
	Artifacts  Artifacts
	Objects    ObjectStore
	Downloader Downloader
	Progress   progress.Publisher
}

type Orchestrator struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger

	// background poll loops outlive the request that started them
	baseCtx context.Context
	wg      sync.WaitGroup
	active  sync.Map
}

// New builds an orchestrator whose background loops stop when ctx is done.
func New(ctx context.Context, deps Deps, cfg Config, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Progress == nil {
		deps.Progress = progress.NewLogPublisher(logger)
	}
	return &Orchestrator{
		deps:    deps,
		cfg:     cfg,
		logger:  logger.Named("orchestrator"),
		baseCtx: ctx,
	}
}

type VideoOptions struct {
	Duration    int
	AspectRatio string
	Prompt      string
}

type Request struct {
	Kind   string
	UserID uuid.UUID

	// try-on inputs
	ProductImageID uuid.UUID
	ModelPhotoID   uuid.UUID
	Params         map[string]interface{}

	// regeneration source or video parent
	SourceJobID uuid.UUID
	Video       VideoOptions
}

// Admission describes an accepted request whose poll loop is running.
type Admission struct {
	JobID  uuid.UUID
	Kind   string
	Cost   int
	Handle inference.Handle
}

type Result struct {
	JobID     uuid.UUID
	Kind      string
	Status    string
	ResultURL string
	Reason    string
}

// Start admits the request synchronously (debit, create, submit) and then
// polls in the background until the job is terminal.
func (o *Orchestrator) Start(ctx context.Context, req Request) (*Admission, error) {
	f, err := o.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := o.admit(ctx, f); err != nil {
		return nil, err
	}

	o.launch(f, 0)
	return &Admission{JobID: f.jobID, Kind: f.kind, Cost: f.cost, Handle: f.handle}, nil
}

// Run is Start without the background hand-off: it returns the terminal
// result, or an error if admission failed or ctx ended first.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	f, err := o.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := o.admit(ctx, f); err != nil {
		return nil, err
	}

	o.active.Store(f.jobID, struct{}{})
	defer o.active.Delete(f.jobID)
	return o.pollUntilTerminal(ctx, f, 0)
}

// Wait blocks until every background poll loop has returned.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) launch(f *flow, used int) {
	if _, loaded := o.active.LoadOrStore(f.jobID, struct{}{}); loaded {
		return
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.active.Delete(f.jobID)

		if _, err := o.pollUntilTerminal(o.baseCtx, f, used); err != nil {
			o.logger.Warn("poll loop ended without terminal state",
				zap.String("job_id", f.jobID.String()),
				zap.Error(err),
			)
		}
	}()
}

// admit runs debit -> create -> submit -> mark processing as a saga.
func (o *Orchestrator) admit(ctx context.Context, f *flow) error {
	jobRef := uuid.NullUUID{UUID: f.jobID, Valid: true}
	s := &saga{logger: o.logger.With(zap.String("job_id", f.jobID.String()))}

	s.add("debit",
		func(ctx context.Context) error {
			_, err := o.deps.Ledger.Debit(ctx, f.userID, f.cost, f.label+" generation", jobRef)
			return err
		},
		func(ctx context.Context, cause error) error {
			return o.refund(ctx, f, cause.Error())
		},
	)
	s.add("create job",
		f.create,
		func(ctx context.Context, cause error) error {
			err := f.lifecycle.Fail(ctx, f.jobID, cause.Error())
			if errors.Is(err, jobs.ErrJobTerminal) {
				return nil
			}
			return err
		},
	)
	s.add("submit",
		func(ctx context.Context) error {
			sub, err := o.deps.Gateway.Submit(ctx, f.submit)
			if err != nil {
				return err
			}
			f.handle = sub.Handle
			f.seed = sub.Seed
			return nil
		},
		nil,
	)
	s.add("mark processing",
		func(ctx context.Context) error {
			return f.lifecycle.MarkProcessing(ctx, f.jobID, f.handle.String())
		},
		nil,
	)

	if err := s.run(ctx); err != nil {
		o.publish(ctx, progress.Failed(f.jobID, err.Error()))
		return err
	}

	o.publish(ctx, progress.Queued(f.jobID, 0))
	o.logger.Info("generation admitted",
		zap.String("job_id", f.jobID.String()),
		zap.String("kind", f.kind),
		zap.Int("cost", f.cost),
		zap.String("handle", f.handle.String()),
	)
	return nil
}

func (o *Orchestrator) refund(ctx context.Context, f *flow, reason string) error {
	_, err := o.deps.Ledger.Refund(ctx, f.userID, f.cost, "refund: "+reason,
		uuid.NullUUID{UUID: f.jobID, Valid: true})
	if err != nil && !isAlreadyRefunded(err) {
		return err
	}
	return nil
}

func (o *Orchestrator) publish(ctx context.Context, e progress.Event) {
	if err := o.deps.Progress.Publish(context.WithoutCancel(ctx), e); err != nil {
		o.logger.Debug("progress publish failed", zap.String("job_id", e.JobID.String()), zap.Error(err))
	}
}

func (o *Orchestrator) budget(kind string) int {
	if kind == models.JobKindVideo {
		return o.cfg.VideoAttempts
	}
	return o.cfg.ImageAttempts
}

func (o *Orchestrator) cost(kind string) int {
	switch kind {
	case models.JobKindRegeneration:
		return o.cfg.RegenerationCost
	case models.JobKindVideo:
		return o.cfg.VideoCost
	default:
		return o.cfg.TryOnCost
	}
}

func failureMessage(reason string) string {
	if reason == "" {
		return "generation failed"
	}
	return reason
}

func isAlreadyRefunded(err error) bool {
	return errors.Is(err, ledger.ErrAlreadyRefunded)
}

func wrapInput(what string, err error) error {
	if errors.Is(err, models.ErrArtifactNotFound) || errors.Is(err, jobs.ErrJobNotFound) {
		return fmt.Errorf("%s: %w", what, err)
	}
	return fmt.Errorf("failed to load %s: %w", what, err)
}
