package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mtman/internal/orchestrator"
	"mtman/internal/task"
)

func TestPublishFansOut(t *testing.T) {
	b := New()
	a, unsubA := b.Subscribe(4)
	c, unsubC := b.Subscribe(4)
	defer unsubA()
	defer unsubC()

	b.Publish(Event{Type: TaskStarted, TaskID: 3})

	for _, ch := range []<-chan Event{a, c} {
		e := <-ch
		assert.Equal(t, TaskStarted, e.Type)
		assert.Equal(t, 3, e.TaskID)
		assert.False(t, e.Time.IsZero())
	}
}

func TestSlowSubscriberDrops(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: TaskStarted, TaskID: 0})
	b.Publish(Event{Type: TaskStarted, TaskID: 1})

	assert.Equal(t, uint64(1), b.Dropped())
	assert.Equal(t, 0, (<-ch).TaskID)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()

	_, ok := <-ch
	assert.False(t, ok)
	b.Publish(Event{Type: TaskStarted})
}

func TestObserverPublishesLifecycle(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(8)
	defer unsub()

	obs := Observer(b)
	obs.OnTaskStart(1)
	obs.OnTaskError(1, orchestrator.Failure{TaskID: 1, Retries: 1})
	obs.OnTaskError(1, orchestrator.Failure{TaskID: 1, Retries: 2, Permanent: true})
	obs.OnTaskComplete(2, task.Value("4"))

	var types []string
	for i := 0; i < 4; i++ {
		types = append(types, (<-ch).Type)
	}
	require.Equal(t, []string{TaskStarted, TaskRetrying, TaskFailed, TaskCompleted}, types)
}
