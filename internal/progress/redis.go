package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBroker fans events out over Redis pub/sub so any server instance can
// serve a job's stream, and keeps the latest event for late subscribers.
type RedisBroker struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return rdb, nil
}

func NewRedisBroker(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisBroker {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisBroker{rdb: rdb, ttl: ttl, logger: logger.Named("progress")}
}

func (b *RedisBroker) Publish(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	pipe := b.rdb.TxPipeline()
	pipe.Set(ctx, lastKey(e.JobID), payload, b.ttl)
	pipe.Publish(ctx, Channel(e.JobID), payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

func (b *RedisBroker) Last(ctx context.Context, jobID uuid.UUID) (*Event, error) {
	raw, err := b.rdb.Get(ctx, lastKey(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read last event: %w", err)
	}
	var e Event
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("failed to parse last event: %w", err)
	}
	return &e, nil
}

func (b *RedisBroker) Subscribe(ctx context.Context, jobID uuid.UUID) (<-chan Event, func(), error) {
	sub := b.rdb.Subscribe(ctx, Channel(jobID))
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	out := make(chan Event, 16)
	last, err := b.Last(ctx, jobID)
	if err != nil {
		b.logger.Warn("last event unavailable", zap.String("job_id", jobID.String()), zap.Error(err))
	}
	if last != nil {
		out <- *last
	}

	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			var e Event
			if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
				b.logger.Warn("dropping malformed event", zap.Error(err))
				continue
			}
			select {
			case out <- e:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, func() { sub.Close() }, nil
}
