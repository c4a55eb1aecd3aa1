// Package eventbus publishes task lifecycle events to any number of
// subscribers without ever blocking the publisher.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types.
const (
	TaskStarted   = "task.started"
	TaskCompleted = "task.completed"
	TaskFailed    = "task.failed"
	TaskRetrying  = "task.retrying"
)

// Event is one lifecycle signal. Data holds the task.Value for TaskCompleted
// and the orchestrator.Failure otherwise.
type Event struct {
	Type   string    `json:"type"`
	Time   time.Time `json:"time"`
	TaskID int       `json:"task_id"`
	Data   any       `json:"data,omitempty"`
}

// Bus fans events out to subscribers. Slow subscribers lose events instead of
// stalling the scheduling loop.
type Bus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	seq     atomic.Uint64
	dropped atomic.Uint64
	now     func() time.Time
}

func New() *Bus {
	return &Bus{subs: map[uint64]chan Event{}, now: time.Now}
}

func (b *Bus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = b.now()
	}
	// The read lock is held across the sends so Unsubscribe cannot close a
	// channel mid-send; every send is non-blocking.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribe returns a buffered channel of events and a func that closes it.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}

// Dropped reports how many deliveries were skipped because a subscriber's
// buffer was full.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }
