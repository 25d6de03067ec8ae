package health

import (
	"context"
	"fmt"
)

// Runner is a background component that reports whether it is running.
type Runner interface {
	IsRunning() bool
}

// WorkerChecker fails while a background worker is stopped, so that a pod
// whose exposure writers have shut down stops receiving feed traffic.
type WorkerChecker struct {
	name   string
	runner Runner
}

// NewWorkerChecker creates a checker for runner, named for error messages.
func NewWorkerChecker(name string, runner Runner) *WorkerChecker {
	return &WorkerChecker{name: name, runner: runner}
}

// HealthCheck returns an error if the worker is not running.
func (w *WorkerChecker) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !w.runner.IsRunning() {
		return fmt.Errorf("%s is not running", w.name)
	}
	return nil
}
