package progress_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"virtual-tryon-backend/internal/progress"
)

func TestEstimate(t *testing.T) {
	assert.Equal(t, 10, progress.Estimate(0, 120))
	assert.Equal(t, 52, progress.Estimate(60, 120))
	assert.Equal(t, 95, progress.Estimate(120, 120))
	assert.Equal(t, 95, progress.Estimate(500, 120))
	assert.Equal(t, 10, progress.Estimate(3, 0))
}

func TestChannel(t *testing.T) {
	id := uuid.MustParse("6f1c2a9e-0000-4000-8000-000000000001")
	assert.Equal(t, "jobs:6f1c2a9e-0000-4000-8000-000000000001:progress", progress.Channel(id))
}

func TestMemoryBroker_LateSubscriberGetsLastEvent(t *testing.T) {
	b := progress.NewMemoryBroker(time.Hour)
	jobID := uuid.New()

	require.NoError(t, b.Publish(context.Background(), progress.Queued(jobID, 0)))
	require.NoError(t, b.Publish(context.Background(), progress.Processing(jobID, 40, 3, "")))

	events, cancel, err := b.Subscribe(context.Background(), jobID)
	require.NoError(t, err)
	defer cancel()

	first := <-events
	assert.Equal(t, "processing", first.Status)
	assert.Equal(t, 40, first.Progress)

	require.NoError(t, b.Publish(context.Background(), progress.Completed(jobID, "https://cdn/x.webp")))
	done := <-events
	assert.True(t, done.Terminal())
	assert.Equal(t, 100, done.Progress)
}

func TestMemoryBroker_LateSubscriberGetsTerminalEvent(t *testing.T) {
	now := time.Now()
	b := progress.NewMemoryBroker(time.Minute).WithClock(func() time.Time { return now })
	jobID := uuid.New()

	require.NoError(t, b.Publish(context.Background(), progress.Processing(jobID, 40, 3, "")))
	require.NoError(t, b.Publish(context.Background(), progress.Completed(jobID, "https://cdn/x.webp")))

	events, cancel, err := b.Subscribe(context.Background(), jobID)
	require.NoError(t, err)
	defer cancel()

	select {
	case e := <-events:
		assert.True(t, e.Terminal())
		assert.Equal(t, "completed", e.Status)
	default:
		t.Fatal("terminal event not replayed to late subscriber")
	}

	// gone once the retention window has passed
	now = now.Add(2 * time.Minute)
	require.NoError(t, b.Publish(context.Background(), progress.Failed(uuid.New(), "other job")))
	late, cancelLate, err := b.Subscribe(context.Background(), jobID)
	require.NoError(t, err)
	defer cancelLate()
	select {
	case e := <-late:
		t.Fatalf("expired event delivered: %+v", e)
	default:
	}
}

func TestMemoryBroker_IsolatesJobs(t *testing.T) {
	b := progress.NewMemoryBroker(time.Hour)
	a, other := uuid.New(), uuid.New()

	events, cancel, err := b.Subscribe(context.Background(), a)
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, b.Publish(context.Background(), progress.Queued(other, 1)))
	require.NoError(t, b.Publish(context.Background(), progress.Failed(a, "boom")))

	e := <-events
	assert.Equal(t, a, e.JobID)
	assert.Equal(t, "boom", e.Message)
}

func TestMemoryBroker_CancelClosesChannel(t *testing.T) {
	b := progress.NewMemoryBroker(time.Hour)
	events, cancel, err := b.Subscribe(context.Background(), uuid.New())
	require.NoError(t, err)

	cancel()
	cancel()
	_, open := <-events
	assert.False(t, open)
}

// Runs against a real Redis when REDIS_URL is set.
func TestRedisBroker(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rdb, err := progress.NewRedisClient(ctx, url)
	require.NoError(t, err)
	defer rdb.Close()

	b := progress.NewRedisBroker(rdb, time.Minute, zap.NewNop())
	jobID := uuid.New()

	require.NoError(t, b.Publish(ctx, progress.Processing(jobID, 20, 1, "")))
	last, err := b.Last(ctx, jobID)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, 20, last.Progress)

	events, unsubscribe, err := b.Subscribe(ctx, jobID)
	require.NoError(t, err)
	defer unsubscribe()

	assert.Equal(t, "processing", (<-events).Status)

	require.NoError(t, b.Publish(ctx, progress.Completed(jobID, "https://cdn/x.webp")))
	assert.Equal(t, "completed", (<-events).Status)
}
