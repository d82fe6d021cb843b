// Package eventbus fans lifecycle events out to in-process subscribers
// (history journal, logging) without coupling them to the controller.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the controller, dispatcher and cleanup service.
const (
	ActivityCreated   = "activity.created"
	ActivityUpdated   = "activity.updated"
	ActivityCompleted = "activity.completed"
	ActivityRemoved   = "activity.removed"
	ActivityFailed    = "activity.failed"

	RenderDeduped = "render.deduped"
	RenderFailed  = "render.failed"

	CleanupDone   = "cleanup.done"
	CleanupFailed = "cleanup.failed"
)

// Event is one published signal. Publish never blocks; a subscriber whose
// buffer is full misses the event.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// ActivityEvent is the payload of every event type above.
type ActivityEvent struct {
	ID           string  `json:"id,omitempty"`
	Tag          string  `json:"tag,omitempty"`
	Backend      string  `json:"backend,omitempty"`
	Op           string  `json:"op,omitempty"`
	Title        string  `json:"title,omitempty"`
	Progress     float32 `json:"progress"`
	ProgressText string  `json:"progress_text,omitempty"`
	Error        string  `json:"error,omitempty"`
}

type Bus interface {
	Publish(e Event)
	// Subscribe delivers events of the given types, or all events when none
	// are given. The returned func unsubscribes and closes the channel.
	Subscribe(buffer int, types ...string) (ch <-chan Event, unsubscribe func())
	// Dropped counts deliveries lost to full subscriber buffers.
	Dropped() uint64
}

func New() Bus {
	return &memBus{subs: map[uint64]*sub{}}
}

type sub struct {
	ch    chan Event
	types map[string]struct{}
}

func (s *sub) wants(t string) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[t]
	return ok
}

type memBus struct {
	mu      sync.RWMutex
	subs    map[uint64]*sub
	seq     atomic.Uint64
	dropped atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if !s.wants(e.Type) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *memBus) Subscribe(buffer int, types ...string) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &sub{ch: make(chan Event, buffer)}
	if len(types) > 0 {
		s.types = make(map[string]struct{}, len(types))
		for _, t := range types {
			s.types[t] = struct{}{}
		}
	}
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			// Closing under the write lock keeps Publish from sending on a
			// closed channel.
			b.mu.Lock()
			delete(b.subs, id)
			close(s.ch)
			b.mu.Unlock()
		})
	}
}

func (b *memBus) Dropped() uint64 { return b.dropped.Load() }
