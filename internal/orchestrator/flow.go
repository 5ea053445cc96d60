package orchestrator

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"virtual-tryon-backend/internal/inference"
	"virtual-tryon-backend/internal/jobs"
	"virtual-tryon-backend/internal/models"
)

// flow is one job's journey through admission and polling. Image and
// video jobs differ only in cost, budget, lifecycle and how the result is
// stored.
type flow struct {
	kind   string
	label  string
	jobID  uuid.UUID
	userID uuid.UUID
	cost   int
	budget int

	lifecycle jobs.Lifecycle
	submit    inference.SubmitRequest
	create    func(ctx context.Context) error

	handle inference.Handle
	seed   int64
}

func (f *flow) isVideo() bool {
	return f.kind == models.JobKindVideo
}

func (o *Orchestrator) prepare(ctx context.Context, req Request) (*flow, error) {
	if req.UserID == uuid.Nil {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}
	switch req.Kind {
	case models.JobKindTryOn:
		return o.prepareTryOn(ctx, req)
	case models.JobKindRegeneration:
		return o.prepareRegeneration(ctx, req)
	case models.JobKindVideo:
		return o.prepareVideo(ctx, req)
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidRequest, req.Kind)
	}
}

func (o *Orchestrator) prepareTryOn(ctx context.Context, req Request) (*flow, error) {
	product, model, err := o.loadInputs(ctx, req.UserID, req.ProductImageID, req.ModelPhotoID)
	if err != nil {
		return nil, err
	}
	return o.imageFlow(req.UserID, models.JobKindTryOn, product, model, uuid.NullUUID{}, req.Params), nil
}

// prepareRegeneration builds a fresh job on the inputs of a completed one.
// The source job is never modified.
func (o *Orchestrator) prepareRegeneration(ctx context.Context, req Request) (*flow, error) {
	source, err := o.deps.Jobs.Get(ctx, req.SourceJobID, req.UserID)
	if err != nil {
		return nil, wrapInput("source job", err)
	}
	if source.Status != models.JobStatusCompleted {
		return nil, ErrSourceNotCompleted
	}

	product, model, err := o.loadInputs(ctx, req.UserID, source.ProductImageID, source.ModelPhotoID)
	if err != nil {
		return nil, err
	}
	return o.imageFlow(req.UserID, models.JobKindRegeneration, product, model,
		uuid.NullUUID{UUID: source.ID, Valid: true}, req.Params), nil
}

func (o *Orchestrator) prepareVideo(ctx context.Context, req Request) (*flow, error) {
	parent, err := o.deps.Jobs.Get(ctx, req.SourceJobID, req.UserID)
	if err != nil {
		return nil, wrapInput("parent job", err)
	}
	if parent.Status != models.JobStatusCompleted || !parent.ResultURL.Valid {
		return nil, ErrSourceNotCompleted
	}

	opts, err := normalizeVideoOptions(req.Video)
	if err != nil {
		return nil, err
	}

	f := &flow{
		kind:      models.JobKindVideo,
		label:     "video",
		jobID:     uuid.New(),
		userID:    req.UserID,
		cost:      o.cfg.VideoCost,
		budget:    o.cfg.VideoAttempts,
		lifecycle: o.deps.Jobs.Videos(),
		submit: inference.SubmitRequest{
			Kind:      inference.KindVideo,
			InputURLs: []string{parent.ResultURL.String},
			Params: map[string]interface{}{
				"duration":     opts.Duration,
				"aspect_ratio": opts.AspectRatio,
				"prompt":       opts.Prompt,
			},
		},
	}
	f.create = func(ctx context.Context) error {
		_, err := o.deps.Jobs.CreateVideo(ctx, jobs.CreateVideoParams{
			ID:              f.jobID,
			UserID:          f.userID,
			ParentJobID:     parent.ID,
			CreditsUsed:     f.cost,
			DurationSeconds: opts.Duration,
			AspectRatio:     opts.AspectRatio,
			Prompt:          opts.Prompt,
		})
		return err
	}
	return f, nil
}

func (o *Orchestrator) loadInputs(ctx context.Context, userID, productID, modelID uuid.UUID) (*models.ProductImage, *models.ModelPhoto, error) {
	product, err := o.deps.Artifacts.GetProductImage(ctx, userID, productID)
	if err != nil {
		return nil, nil, wrapInput("product image", err)
	}
	model, err := o.deps.Artifacts.GetModelPhoto(ctx, userID, modelID)
	if err != nil {
		return nil, nil, wrapInput("model photo", err)
	}
	return product, model, nil
}

func (o *Orchestrator) imageFlow(userID uuid.UUID, kind string, product *models.ProductImage, model *models.ModelPhoto, source uuid.NullUUID, params map[string]interface{}) *flow {
	f := &flow{
		kind:      kind,
		label:     "try-on",
		jobID:     uuid.New(),
		userID:    userID,
		cost:      o.cost(kind),
		budget:    o.cfg.ImageAttempts,
		lifecycle: o.deps.Jobs,
		submit: inference.SubmitRequest{
			Kind:      inference.KindTryOn,
			InputURLs: []string{model.ImageURL, product.ImageURL},
			Params:    make(map[string]interface{}, len(params)+1),
		},
	}
	for k, v := range params {
		f.submit.Params[k] = v
	}
	if kind == models.JobKindRegeneration {
		f.label = "regeneration"
	}
	if _, set := f.submit.Params["category"]; !set && product.Category != "" {
		f.submit.Params["category"] = product.Category
	}

	f.create = func(ctx context.Context) error {
		_, err := o.deps.Jobs.Create(ctx, jobs.CreateParams{
			ID:             f.jobID,
			UserID:         userID,
			ProductImageID: product.ID,
			ModelPhotoID:   model.ID,
			Kind:           kind,
			CreditsUsed:    f.cost,
			SourceJobID:    source,
			ProductName:    product.Name,
			ModelName:      model.Name,
			ModelGender:    model.Gender,
		})
		return err
	}
	return f
}

// flowFromJob rebuilds the polling half of a flow from a stored job.
func (o *Orchestrator) flowFromJob(job *models.Job) *flow {
	f := &flow{
		kind:      job.Kind,
		label:     "try-on",
		jobID:     job.ID,
		userID:    job.UserID,
		cost:      job.CreditsUsed,
		budget:    o.budget(job.Kind),
		lifecycle: o.deps.Jobs,
	}
	if job.ExternalHandle.Valid {
		f.handle = inference.Handle(job.ExternalHandle.String)
	}
	return f
}

func (o *Orchestrator) flowFromVideo(video *models.VideoJob) *flow {
	f := &flow{
		kind:      models.JobKindVideo,
		label:     "video",
		jobID:     video.ID,
		userID:    video.UserID,
		cost:      video.CreditsUsed,
		budget:    o.cfg.VideoAttempts,
		lifecycle: o.deps.Jobs.Videos(),
	}
	if video.ExternalHandle.Valid {
		f.handle = inference.Handle(video.ExternalHandle.String)
	}
	return f
}

func normalizeVideoOptions(opts VideoOptions) (VideoOptions, error) {
	if opts.Duration == 0 {
		opts.Duration = 5
	}
	if opts.Duration != 5 && opts.Duration != 10 {
		return opts, fmt.Errorf("%w: duration must be 5 or 10 seconds", ErrInvalidRequest)
	}
	switch opts.AspectRatio {
	case "":
		opts.AspectRatio = "9:16"
	case "9:16", "16:9", "1:1":
	default:
		return opts, fmt.Errorf("%w: unsupported aspect ratio %q", ErrInvalidRequest, opts.AspectRatio)
	}
	return opts, nil
}
