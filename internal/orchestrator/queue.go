package orchestrator

import (
	"time"

	"mtman/internal/task"
)

// descriptor is the orchestrator-owned record of one submitted task.
// Only the retry handler mutates retries and eligibleAt.
type descriptor struct {
	id         int
	callable   *task.Callable
	args       task.Args
	retries    int
	eligibleAt time.Time
}

// pendingQueue is a FIFO of descriptors. Retries go to the tail with a later
// eligibleAt than anything already queued, so checking only the head keeps
// strict FIFO without stalling tasks behind a waiting retry.
type pendingQueue struct {
	items []*descriptor
}

func (q *pendingQueue) push(d *descriptor) { q.items = append(q.items, d) }

func (q *pendingQueue) len() int { return len(q.items) }

// peek returns the head or nil.
func (q *pendingQueue) peek() *descriptor {
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}

func (q *pendingQueue) pop() *descriptor {
	if len(q.items) == 0 {
		return nil
	}
	d := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return d
}
