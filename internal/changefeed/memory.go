package changefeed

import (
	"context"
	"sync"

	"lms-backend/internal/models"
)

// MemoryFeed is a single-process feed for tests and local runs. A slow
// subscriber whose buffer is full misses events rather than blocking
// publishers.
type MemoryFeed struct {
	mu     sync.Mutex
	subs   map[string]map[chan models.ChangeEvent]struct{}
	buffer int
}

func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{
		subs:   make(map[string]map[chan models.ChangeEvent]struct{}),
		buffer: 64,
	}
}

func (f *MemoryFeed) Publish(ctx context.Context, ev models.ChangeEvent) error {
	ev = stamp(ev)
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs[ev.Table] {
		select {
		case ch <- ev:
		default:
		}
	}
	return nil
}

func (f *MemoryFeed) Subscribe(ctx context.Context, table string) (<-chan models.ChangeEvent, error) {
	ch := make(chan models.ChangeEvent, f.buffer)

	f.mu.Lock()
	if f.subs[table] == nil {
		f.subs[table] = make(map[chan models.ChangeEvent]struct{})
	}
	f.subs[table][ch] = struct{}{}
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		delete(f.subs[table], ch)
		close(ch)
		f.mu.Unlock()
	}()
	return ch, nil
}

// Recorder captures every published event. Service tests use it to assert
// which invalidations a write produced.
type Recorder struct {
	mu     sync.Mutex
	events []models.ChangeEvent
}

func (r *Recorder) Publish(ctx context.Context, ev models.ChangeEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, stamp(ev))
	return nil
}

func (r *Recorder) Events(table string) []models.ChangeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ChangeEvent
	for _, ev := range r.events {
		if table == "" || ev.Table == table {
			out = append(out, ev)
		}
	}
	return out
}
