package orchestrator

import "mtman/internal/task"

// Observer receives task lifecycle callbacks. Callbacks run synchronously on
// the scheduling loop at the moment of the transition, so they must return
// quickly.
type Observer interface {
	OnTaskStart(taskID int)
	OnTaskComplete(taskID int, v task.Value)
	OnTaskError(taskID int, f Failure)
}

// Hooks adapts plain functions to Observer. Nil fields are skipped.
type Hooks struct {
	Start    func(taskID int)
	Complete func(taskID int, v task.Value)
	Error    func(taskID int, f Failure)
}

func (h Hooks) OnTaskStart(id int) {
	if h.Start != nil {
		h.Start(id)
	}
}

func (h Hooks) OnTaskComplete(id int, v task.Value) {
	if h.Complete != nil {
		h.Complete(id, v)
	}
}

func (h Hooks) OnTaskError(id int, f Failure) {
	if h.Error != nil {
		h.Error(id, f)
	}
}

// Observers fans out to every non-nil observer in order.
type Observers []Observer

func (obs Observers) OnTaskStart(id int) {
	for _, o := range obs {
		if o != nil {
			o.OnTaskStart(id)
		}
	}
}

func (obs Observers) OnTaskComplete(id int, v task.Value) {
	for _, o := range obs {
		if o != nil {
			o.OnTaskComplete(id, v)
		}
	}
}

func (obs Observers) OnTaskError(id int, f Failure) {
	for _, o := range obs {
		if o != nil {
			o.OnTaskError(id, f)
		}
	}
}
