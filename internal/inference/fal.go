package inference

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"virtual-tryon-backend/internal/fal"
)

type FalConfig struct {
	TryOnModel string
	VideoModel string
	// TryOnMode is the provider quality/speed knob: performance, balanced, quality.
	TryOnMode string
}

// FalGateway runs try-on and video requests on the fal queue.
type FalGateway struct {
	client *fal.Client
	cfg    FalConfig
	logger *zap.Logger
	seed   func() int64
}

func NewFalGateway(client *fal.Client, cfg FalConfig, logger *zap.Logger) *FalGateway {
	if cfg.TryOnMode == "" {
		cfg.TryOnMode = "balanced"
	}
	return &FalGateway{
		client: client,
		cfg:    cfg,
		logger: logger.Named("inference"),
		seed:   func() int64 { return rand.Int64N(1 << 31) },
	}
}

type tryOnInput struct {
	ModelImage   string `json:"model_image"`
	GarmentImage string `json:"garment_image"`
	Category     string `json:"category"`
	Mode         string `json:"mode"`
	Seed         int64  `json:"seed"`
	NumSamples   int    `json:"num_samples"`
	OutputFormat string `json:"output_format"`
}

type videoInput struct {
	ImageURL       string  `json:"image_url"`
	Prompt         string  `json:"prompt"`
	Duration       string  `json:"duration"`
	AspectRatio    string  `json:"aspect_ratio,omitempty"`
	NegativePrompt string  `json:"negative_prompt,omitempty"`
	CFGScale       float64 `json:"cfg_scale"`
	Seed           int64   `json:"seed"`
}

const defaultVideoPrompt = "The model turns slowly to show the outfit, natural movement, studio lighting"

func (g *FalGateway) Submit(ctx context.Context, req SubmitRequest) (*Submission, error) {
	seed := g.seed()

	var (
		model string
		input interface{}
	)
	switch req.Kind {
	case KindTryOn:
		if len(req.InputURLs) != 2 {
			return nil, &SubmissionError{Reason: "try-on needs a model photo and a garment image"}
		}
		model = g.cfg.TryOnModel
		input = tryOnInput{
			ModelImage:   req.InputURLs[0],
			GarmentImage: req.InputURLs[1],
			Category:     stringParam(req.Params, "category", "auto"),
			Mode:         stringParam(req.Params, "mode", g.cfg.TryOnMode),
			Seed:         seed,
			NumSamples:   1,
			OutputFormat: "png",
		}
	case KindVideo:
		if len(req.InputURLs) != 1 {
			return nil, &SubmissionError{Reason: "video needs exactly one source image"}
		}
		model = g.cfg.VideoModel
		input = videoInput{
			ImageURL:       req.InputURLs[0],
			Prompt:         stringParam(req.Params, "prompt", defaultVideoPrompt),
			Duration:       fmt.Sprint(intParam(req.Params, "duration", 5)),
			AspectRatio:    stringParam(req.Params, "aspect_ratio", ""),
			NegativePrompt: "blur, distort, low quality",
			CFGScale:       0.5,
			Seed:           seed,
		}
	default:
		return nil, &SubmissionError{Reason: fmt.Sprintf("unsupported kind %q", req.Kind)}
	}

	var (
		resp      *fal.SubmitResponse
		rejectErr error
	)
	err := g.client.RetryWithBackoff(ctx, func() error {
		var err error
		resp, err = g.client.Submit(ctx, model, input)
		var apiErr *fal.APIError
		if errors.As(err, &apiErr) && !apiErr.Temporary() {
			// rejection, not worth retrying
			rejectErr = err
			return nil
		}
		return err
	}, 3)
	if rejectErr != nil {
		return nil, &SubmissionError{Reason: "provider rejected request", Err: rejectErr}
	}
	if err != nil {
		return nil, &SubmissionError{Reason: "provider unreachable", Err: err}
	}

	g.logger.Info("request submitted",
		zap.String("model", model),
		zap.String("request_id", resp.RequestID),
		zap.Int64("seed", seed),
	)
	return &Submission{Handle: NewHandle(model, resp.RequestID), Seed: seed}, nil
}

func (g *FalGateway) Poll(ctx context.Context, handle Handle) (*PollResult, error) {
	model, requestID, err := handle.Parse()
	if err != nil {
		return nil, err
	}

	status, err := g.client.Status(ctx, model, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to poll %s: %w", requestID, err)
	}

	result := &PollResult{Progress: -1}
	switch strings.ToUpper(status.Status) {
	case fal.StatusInQueue:
		result.State = StateQueued
		if status.QueuePosition != nil {
			result.Message = fmt.Sprintf("queue position %d", *status.QueuePosition)
		}
	case fal.StatusInProgress:
		result.State = StateProcessing
		if n := len(status.Logs); n > 0 {
			result.Message = status.Logs[n-1].Message
		}
	case fal.StatusCompleted:
		result.State = StateCompleted
		result.Progress = 100
		if status.Error != "" {
			result.State = StateFailed
			result.Message = status.Error
		}
	case "FAILED", "ERROR", "CANCELLED":
		result.State = StateFailed
		result.Message = status.Error
	default:
		return nil, fmt.Errorf("unknown provider status %q", status.Status)
	}
	return result, nil
}

type imageResult struct {
	Images []struct {
		URL         string `json:"url"`
		ContentType string `json:"content_type"`
	} `json:"images"`
}

type videoResult struct {
	Video struct {
		URL string `json:"url"`
	} `json:"video"`
}

func (g *FalGateway) FetchResult(ctx context.Context, handle Handle) (string, error) {
	model, requestID, err := handle.Parse()
	if err != nil {
		return "", err
	}

	var url string
	if model == g.cfg.VideoModel {
		var out videoResult
		err = g.client.Result(ctx, model, requestID, &out)
		url = out.Video.URL
	} else {
		var out imageResult
		err = g.client.Result(ctx, model, requestID, &out)
		if len(out.Images) > 0 {
			url = out.Images[0].URL
		}
	}

	if err != nil {
		var apiErr *fal.APIError
		if errors.As(err, &apiErr) {
			switch {
			case apiErr.StatusCode == http.StatusAccepted || apiErr.StatusCode == http.StatusConflict:
				return "", ErrNotReady
			case apiErr.Temporary():
				return "", fmt.Errorf("failed to fetch result: %w", err)
			default:
				return "", fmt.Errorf("%w: %s", ErrResultFailed, apiErr.Body)
			}
		}
		return "", fmt.Errorf("failed to fetch result: %w", err)
	}
	if url == "" {
		return "", ErrNoArtifact
	}
	return url, nil
}

// Download fetches the artifact bytes.
func (g *FalGateway) Download(ctx context.Context, url string) ([]byte, string, error) {
	return g.client.Download(ctx, url)
}

func stringParam(params map[string]interface{}, key, def string) string {
	if v, ok := params[key].(string); ok && v != "" {
		return v
	}
	return def
}

func intParam(params map[string]interface{}, key string, def int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return def
}
