package fluentd

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// recordingEmitter is a BatchEmitter that keeps every batch it receives.
type recordingEmitter struct {
	mu      sync.Mutex
	batches [][]*LogEvent
	ch      chan int // batch sizes
	block   chan struct{}
}

func newRecordingEmitter() *recordingEmitter {
	return &recordingEmitter{ch: make(chan int, 64)}
}

func (r *recordingEmitter) EmitBatch(events []*LogEvent) {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	r.batches = append(r.batches, append([]*LogEvent(nil), events...))
	r.mu.Unlock()
	r.ch <- len(events)
}

func (r *recordingEmitter) waitBatch(t *testing.T) int {
	t.Helper()
	select {
	case n := <-r.ch:
		return n
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a batch")
	}
	return 0
}

func (r *recordingEmitter) events() []*LogEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*LogEvent
	for _, b := range r.batches {
		out = append(out, b...)
	}
	return out
}

func newTestBatcher(t *testing.T, r *recordingEmitter, period time.Duration, limit int) *Batcher {
	t.Helper()
	b, err := NewBatcher(r, &Settings{BatchingPeriod: period, BatchPostingLimit: limit})
	if err != nil {
		t.Fatalf("failed to create Batcher: %v", err)
	}
	t.Cleanup(func() { b.Shutdown(context.Background()) })
	return b
}

func TestBatcher_FlushesAtLimit(t *testing.T) {
	r := newRecordingEmitter()
	b := newTestBatcher(t, r, time.Hour, 3)

	for i := 0; i < 3; i++ {
		b.Add(testEvent(i))
	}
	if n := r.waitBatch(t); n != 3 {
		t.Fatalf("expected a batch of 3, got: %d", n)
	}
}

func TestBatcher_FlushesEveryPeriod(t *testing.T) {
	r := newRecordingEmitter()
	b := newTestBatcher(t, r, 20*time.Millisecond, 100)

	b.Add(testEvent(1))
	if n := r.waitBatch(t); n != 1 {
		t.Fatalf("expected a batch of 1, got: %d", n)
	}
}

func TestBatcher_ShutdownFlushes(t *testing.T) {
	r := newRecordingEmitter()
	b := newTestBatcher(t, r, time.Hour, 100)

	for i := 0; i < 5; i++ {
		b.Add(testEvent(i))
	}
	if err := b.Shutdown(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := r.events()
	if len(got) != 5 {
		t.Fatalf("expected 5 events, got: %d", len(got))
	}
	for i, e := range got {
		if v, _ := e.property("Seq"); v != (ScalarValue{V: i}) {
			t.Fatalf("event %d out of order: %v", i, v)
		}
	}

	if b.Add(testEvent(9)) {
		t.Fatal("Add after Shutdown must report false")
	}
	if err := b.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown returned: %v", err)
	}
}

func TestBatcher_ChunksByLimit(t *testing.T) {
	r := newRecordingEmitter()
	r.block = make(chan struct{})

	b := newTestBatcher(t, r, time.Hour, 4)

	// the first flush blocks in the emitter while the rest queues up
	for i := 0; i < 4; i++ {
		b.Add(testEvent(i))
	}
	time.Sleep(20 * time.Millisecond)
	for i := 4; i < 14; i++ {
		b.Add(testEvent(i))
	}
	close(r.block)

	if err := b.Shutdown(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	total := 0
	for total < 14 {
		n := r.waitBatch(t)
		if n > 4 {
			t.Fatalf("batch of %d exceeds the limit", n)
		}
		total += n
	}
}

func TestBatcher_ShutdownHonorsContext(t *testing.T) {
	r := newRecordingEmitter()
	r.block = make(chan struct{})
	defer close(r.block)

	b, err := NewBatcher(r, &Settings{BatchingPeriod: time.Hour, BatchPostingLimit: 10})
	if err != nil {
		t.Fatalf("failed to create Batcher: %v", err)
	}
	b.Add(testEvent(1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := b.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got: %v", err)
	}
}

func TestNewBatcher_InvalidArguments(t *testing.T) {
	if _, err := NewBatcher(nil, DefaultSettings()); err == nil {
		t.Fatal("expected an error for a nil emitter")
	}
	if _, err := NewBatcher(newRecordingEmitter(), nil); !errors.Is(err, ErrNilSettings) {
		t.Fatalf("expected ErrNilSettings, got: %v", err)
	}
}
