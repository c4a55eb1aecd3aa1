package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"mtman/internal/worker"
	logx "mtman/pkg/logx"
)

// handleFailure applies the retry policy to a task whose worker exited
// unsuccessfully. The task is re-enqueued at the tail while it has retries
// left; otherwise it fails permanently and is never seen again.
func (o *Orchestrator) handleFailure(w *runningWorker, ex worker.Exit, now time.Time) Failure {
	d := w.task
	f := Failure{
		TaskID:   d.id,
		Attempt:  w.attempt,
		ExitCode: ex.Code,
		Reason:   exitReason(ex),
	}

	if d.retries < o.cfg.MaxRetries {
		o.mu.Lock()
		d.retries++
		o.mu.Unlock()
		d.eligibleAt = now.Add(o.cfg.RetryDelay)
		o.queue.push(d)
		f.Retries = d.retries
		o.log.Warn("task.retry",
			logx.Int("task", d.id),
			logx.Int("retry", d.retries),
			logx.Int("max_retries", o.cfg.MaxRetries),
			logx.Int("exit_code", ex.Code),
			logx.Duration("delay", o.cfg.RetryDelay),
		)
		return f
	}

	f.Permanent = true
	f.Retries = d.retries
	o.log.Error("task.failed",
		logx.Int("task", d.id),
		logx.Int("retries", d.retries),
		logx.Int("exit_code", ex.Code),
		logx.String("reason", f.Reason),
	)
	return f
}

func exitReason(ex worker.Exit) string {
	if ex.Err != nil {
		// Panic errors carry a stack; the first line is enough here.
		msg := ex.Err.Error()
		if i := strings.IndexByte(msg, '\n'); i >= 0 {
			msg = msg[:i]
		}
		return msg
	}
	if ex.Code == worker.ExitTerminated {
		return "worker terminated"
	}
	return fmt.Sprintf("exit status %d", ex.Code)
}
