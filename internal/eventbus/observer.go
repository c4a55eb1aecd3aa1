package eventbus

import (
	"mtman/internal/orchestrator"
	"mtman/internal/task"
)

// Observer returns an orchestrator.Observer that publishes to b.
func Observer(b *Bus) orchestrator.Observer {
	return orchestrator.Hooks{
		Start: func(id int) {
			b.Publish(Event{Type: TaskStarted, TaskID: id})
		},
		Complete: func(id int, v task.Value) {
			b.Publish(Event{Type: TaskCompleted, TaskID: id, Data: v})
		},
		Error: func(id int, f orchestrator.Failure) {
			typ := TaskRetrying
			if f.Permanent {
				typ = TaskFailed
			}
			b.Publish(Event{Type: typ, TaskID: id, Data: f})
		},
	}
}
