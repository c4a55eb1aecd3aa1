// Package metrics exports task lifecycle counters to Prometheus.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"mtman/internal/orchestrator"
	"mtman/internal/task"
)

const namespace = "mtman"

// Collector is an orchestrator.Observer that counts task transitions.
type Collector struct {
	started   prometheus.Counter
	completed prometheus.Counter
	failures  *prometheus.CounterVec
	running   prometheus.Gauge
	bytes     prometheus.Counter
}

var _ orchestrator.Observer = (*Collector)(nil)

// New creates the collector and registers it on reg. A nil reg means the
// default registerer.
func New(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collector{
		started: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "task_attempts_started_total",
			Help: "Task attempts handed to a worker.",
		}),
		completed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "tasks_completed_total",
			Help: "Tasks whose result was collected.",
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "task_failures_total",
			Help: "Failed task attempts, split by whether the failure was permanent.",
		}, []string{"permanent"}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "tasks_running",
			Help: "Attempts started and not yet completed or failed.",
		}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "result_bytes_total",
			Help: "Encoded size of collected results.",
		}),
	}
	for _, col := range []prometheus.Collector{c.started, c.completed, c.failures, c.running, c.bytes} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Collector) OnTaskStart(int) {
	c.started.Inc()
	c.running.Inc()
}

func (c *Collector) OnTaskComplete(_ int, v task.Value) {
	c.completed.Inc()
	c.running.Dec()
	c.bytes.Add(float64(len(v)))
}

func (c *Collector) OnTaskError(_ int, f orchestrator.Failure) {
	c.failures.WithLabelValues(strconv.FormatBool(f.Permanent)).Inc()
	c.running.Dec()
}
