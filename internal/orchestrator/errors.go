package orchestrator

import (
	"errors"
	"fmt"
	"time"
)

// Fatal error kinds. Run returns errors that match exactly one of them via
// errors.Is, or a wrapped context error when the caller cancels.
// Task failures never surface here; they go through the retry handler.
var (
	ErrForkFailure    = errors.New("fork failure")
	ErrStorageFailure = errors.New("storage failure")
	ErrTimeout        = errors.New("execution timeout")

	ErrAlreadyRun  = errors.New("orchestrator: run already started")
	ErrNilCallable = errors.New("orchestrator: nil callable")
	ErrForeign     = errors.New("orchestrator: callable is not in the worker registry")
)

// TimeoutError is returned when the global deadline passes.
//
// Run itself returns no results on timeout; Partial holds whatever had
// completed so a caller can inspect it after the fact.
type TimeoutError struct {
	Limit      time.Duration
	Elapsed    time.Duration
	Terminated int
	Partial    Results
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("execution timeout: %s elapsed, limit %s (%d workers terminated)", e.Elapsed.Round(time.Millisecond), e.Limit, e.Terminated)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }
