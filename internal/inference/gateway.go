// Package inference hides the external generation provider behind
// submit / poll / fetch-result on an opaque handle.
package inference

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

type Kind string

const (
	KindTryOn Kind = "tryon"
	KindVideo Kind = "video"
)

type State string

const (
	StateQueued     State = "queued"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

var (
	ErrNotReady     = errors.New("result not ready")
	ErrResultFailed = errors.New("generation failed")
	ErrNoArtifact   = errors.New("no result artifact")
	ErrBadHandle    = errors.New("malformed handle")
)

// SubmissionError means the provider refused the request outright.
type SubmissionError struct {
	Reason string
	Err    error
}

func (e *SubmissionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("submission rejected: %s: %v", e.Reason, e.Err)
	}
	return "submission rejected: " + e.Reason
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// SubmitRequest inputs are ordered by kind:
// try-on takes [model photo, garment image], video takes [source image].
type SubmitRequest struct {
	Kind      Kind
	InputURLs []string
	Params    map[string]interface{}
}

type Submission struct {
	Handle Handle
	Seed   int64
}

type PollResult struct {
	State State
	// Progress is 0..100, or -1 when the provider gives no hint.
	Progress int
	Message  string
}

type Gateway interface {
	Submit(ctx context.Context, req SubmitRequest) (*Submission, error)
	// Poll is read-only and safe to repeat.
	Poll(ctx context.Context, handle Handle) (*PollResult, error)
	// FetchResult is valid once Poll reported StateCompleted.
	FetchResult(ctx context.Context, handle Handle) (string, error)
}

// Handle identifies a submitted request as "<model>|<request id>".
type Handle string

func NewHandle(model, requestID string) Handle {
	return Handle(model + "|" + requestID)
}

func (h Handle) Parse() (model, requestID string, err error) {
	model, requestID, ok := strings.Cut(string(h), "|")
	if !ok || model == "" || requestID == "" {
		return "", "", fmt.Errorf("%w: %q", ErrBadHandle, string(h))
	}
	return model, requestID, nil
}

func (h Handle) String() string {
	return string(h)
}
