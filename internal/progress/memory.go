package progress

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryBroker is the single-instance broker used without Redis. Like
// RedisBroker it keeps each job's last event, terminal ones included, for
// ttl so a subscriber that shows up after completion still gets it.
type MemoryBroker struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	subs map[uuid.UUID]map[chan Event]struct{}
	last map[uuid.UUID]lastEvent
}

type lastEvent struct {
	event   Event
	expires time.Time
}

func NewMemoryBroker(ttl time.Duration) *MemoryBroker {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &MemoryBroker{
		ttl:  ttl,
		now:  time.Now,
		subs: make(map[uuid.UUID]map[chan Event]struct{}),
		last: make(map[uuid.UUID]lastEvent),
	}
}

// WithClock replaces the clock used for expiry.
func (b *MemoryBroker) WithClock(now func() time.Time) *MemoryBroker {
	b.now = now
	return b
}

func (b *MemoryBroker) Publish(_ context.Context, e Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if e.Terminal() {
		b.evictExpired(now)
	}
	b.last[e.JobID] = lastEvent{event: e, expires: now.Add(b.ttl)}

	for ch := range b.subs[e.JobID] {
		select {
		case ch <- e:
		default:
			// slow consumer; it will catch up on the next event
		}
	}
	return nil
}

func (b *MemoryBroker) Subscribe(_ context.Context, jobID uuid.UUID) (<-chan Event, func(), error) {
	ch := make(chan Event, 16)

	b.mu.Lock()
	if b.subs[jobID] == nil {
		b.subs[jobID] = make(map[chan Event]struct{})
	}
	b.subs[jobID][ch] = struct{}{}
	if l, ok := b.last[jobID]; ok && b.now().Before(l.expires) {
		ch <- l.event
	}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[jobID], ch)
			if len(b.subs[jobID]) == 0 {
				delete(b.subs, jobID)
			}
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel, nil
}

// evictExpired runs on terminal publishes, which happen once per job.
func (b *MemoryBroker) evictExpired(now time.Time) {
	for id, l := range b.last {
		if !now.Before(l.expires) {
			delete(b.last, id)
		}
	}
}
