package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mtman/internal/orchestrator"
	"mtman/internal/task"
)

func TestCollectorCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := New(reg)
	require.NoError(t, err)

	c.OnTaskStart(0)
	c.OnTaskStart(1)
	c.OnTaskComplete(0, task.Value("42"))
	c.OnTaskError(1, orchestrator.Failure{TaskID: 1, Retries: 1})
	c.OnTaskStart(1)
	c.OnTaskError(1, orchestrator.Failure{TaskID: 1, Retries: 1, Permanent: true})

	assert.Equal(t, 3.0, testutil.ToFloat64(c.started))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.completed))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.failures.WithLabelValues("false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.failures.WithLabelValues("true")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.running))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.bytes))
}

func TestDoubleRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	assert.Error(t, err)
}
