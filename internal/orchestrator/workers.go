package orchestrator

import (
	"sync"
	"time"

	"mtman/internal/worker"
)

type runningWorker struct {
	id      WorkerID
	task    *descriptor
	attempt int
	handle  worker.Handle
	started time.Time
}

// workerSet holds the running set (loop-owned) and the retained status table.
// The status table has its own lock so snapshots can be taken from hooks or
// other goroutines while a run is in progress.
type workerSet struct {
	running []*runningWorker
	seq     uint64

	mu      sync.Mutex
	records map[WorkerID]*WorkerStatus
	order   []WorkerID
}

func newWorkerSet() *workerSet {
	return &workerSet{records: make(map[WorkerID]*WorkerStatus)}
}

func (s *workerSet) len() int { return len(s.running) }

func (s *workerSet) add(d *descriptor, h worker.Handle, now time.Time) *runningWorker {
	s.seq++
	w := &runningWorker{id: WorkerID(s.seq), task: d, attempt: d.retries + 1, handle: h, started: now}
	s.running = append(s.running, w)

	s.mu.Lock()
	s.records[w.id] = &WorkerStatus{ID: w.id, TaskID: d.id, Attempt: w.attempt, PID: h.PID(), State: StateRunning, Started: now, ExitCode: -1}
	s.order = append(s.order, w.id)
	s.mu.Unlock()
	return w
}

// snapshot copies the running slice so callers may remove while iterating.
func (s *workerSet) snapshot() []*runningWorker {
	return append([]*runningWorker(nil), s.running...)
}

func (s *workerSet) remove(w *runningWorker) {
	for i, r := range s.running {
		if r == w {
			s.running = append(s.running[:i], s.running[i+1:]...)
			return
		}
	}
}

// finish moves a worker to a terminal state. Transitions out of a terminal
// state are ignored.
func (s *workerSet) finish(w *runningWorker, st State, exitCode int, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.records[w.id]
	if rec == nil || rec.State.terminal() {
		return
	}
	rec.State = st
	rec.ExitCode = exitCode
	rec.Duration = now.Sub(rec.Started)
}

func (s *workerSet) status() map[WorkerID]State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[WorkerID]State, len(s.records))
	for id, rec := range s.records {
		out[id] = rec.State
	}
	return out
}

func (s *workerSet) list() []WorkerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]WorkerStatus, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.records[id])
	}
	return out
}
