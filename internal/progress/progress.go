// Package progress carries job status updates from the poll loop to
// whoever is watching the job.
package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Event struct {
	JobID    uuid.UUID `json:"job_id"`
	Status   string    `json:"status"`
	Progress int       `json:"progress"`
	Message  string    `json:"message,omitempty"`
	Attempt  int       `json:"attempt,omitempty"`
	At       time.Time `json:"at"`
}

func (e Event) Terminal() bool {
	return e.Status == "completed" || e.Status == "failed"
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Subscriber streams events for a single job. The returned func releases
// the subscription. The last known event, if any, is delivered first.
type Subscriber interface {
	Subscribe(ctx context.Context, jobID uuid.UUID) (<-chan Event, func(), error)
}

type Broker interface {
	Publisher
	Subscriber
}

func Channel(jobID uuid.UUID) string {
	return fmt.Sprintf("jobs:%s:progress", jobID.String())
}

func lastKey(jobID uuid.UUID) string {
	return fmt.Sprintf("jobs:%s:last", jobID.String())
}

func Queued(jobID uuid.UUID, attempt int) Event {
	return Event{JobID: jobID, Status: "pending", Progress: 5, Message: "waiting in queue", Attempt: attempt, At: time.Now().UTC()}
}

func Processing(jobID uuid.UUID, percent, attempt int, message string) Event {
	if message == "" {
		message = "generating"
	}
	return Event{JobID: jobID, Status: "processing", Progress: percent, Message: message, Attempt: attempt, At: time.Now().UTC()}
}

func Completed(jobID uuid.UUID, resultURL string) Event {
	return Event{JobID: jobID, Status: "completed", Progress: 100, Message: resultURL, At: time.Now().UTC()}
}

func Failed(jobID uuid.UUID, reason string) Event {
	return Event{JobID: jobID, Status: "failed", Progress: 100, Message: reason, At: time.Now().UTC()}
}

// Estimate maps a poll attempt onto 10..95 when the provider gives no
// percentage of its own.
func Estimate(attempt, budget int) int {
	if budget <= 0 {
		return 10
	}
	p := 10 + attempt*85/budget
	if p > 95 {
		p = 95
	}
	return p
}

// LogPublisher is used when no broker is configured.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.Named("progress")}
}

func (p *LogPublisher) Publish(_ context.Context, e Event) error {
	p.logger.Debug("job progress",
		zap.String("job_id", e.JobID.String()),
		zap.String("status", e.Status),
		zap.Int("progress", e.Progress),
		zap.String("message", e.Message),
	)
	return nil
}
