package fluentd

import (
	"context"
	"errors"
	"sync"
	"time"
)

// BatchEmitter receives ordered batches of events. *Forwarder implements it.
type BatchEmitter interface {
	EmitBatch(events []*LogEvent)
}

// Batcher queues events and hands them to a BatchEmitter every BatchingPeriod,
// or sooner once BatchPostingLimit events are waiting. Batches are emitted
// from a single goroutine, so EmitBatch calls never overlap.
type Batcher struct {
	emitter BatchEmitter
	period  time.Duration
	limit   int

	mu      sync.Mutex
	queue   []*LogEvent
	stopped bool

	flushCh chan struct{}
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewBatcher starts a Batcher using the BatchingPeriod and BatchPostingLimit
// of settings.
func NewBatcher(emitter BatchEmitter, settings *Settings) (*Batcher, error) {
	if emitter == nil {
		return nil, errors.New("batch emitter required")
	}
	if settings == nil {
		return nil, ErrNilSettings
	}

	s := *settings
	s.resolve()

	b := &Batcher{
		emitter: emitter,
		period:  s.BatchingPeriod,
		limit:   s.BatchPostingLimit,
		queue:   make([]*LogEvent, 0, s.BatchPostingLimit),
		flushCh: make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go b.run()

	return b, nil
}

// Add queues e. It reports false, dropping e, once Shutdown has been called.
func (b *Batcher) Add(e *LogEvent) bool {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return false
	}
	b.queue = append(b.queue, e)
	full := len(b.queue) >= b.limit
	b.mu.Unlock()

	if full {
		select {
		case b.flushCh <- struct{}{}:
		default:
		}
	}
	return true
}

func (b *Batcher) run() {
	defer close(b.doneCh)

	ticker := time.NewTicker(b.period)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.flush()
		case <-b.flushCh:
			b.flush()
		case <-b.stopCh:
			b.flush()
			return
		}
	}
}

// flush emits everything queued, at most limit events per batch.
func (b *Batcher) flush() {
	b.mu.Lock()
	events := b.queue
	b.queue = make([]*LogEvent, 0, b.limit)
	b.mu.Unlock()

	for len(events) > 0 {
		n := min(len(events), b.limit)
		b.emitter.EmitBatch(events[:n])
		events = events[n:]
	}
}

// Shutdown stops accepting events, emits what is still queued and waits for
// that to finish, or for ctx to expire, whichever comes first. It may be called
// more than once.
func (b *Batcher) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	if !b.stopped {
		b.stopped = true
		close(b.stopCh)
	}
	b.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.doneCh:
		return nil
	}
}
