package services

import (
	"context"
	"log/slog"
)

type compensation struct {
	name string
	undo func(context.Context) error
}

// rollback records compensating actions for side effects that succeeded and
// runs them in reverse order if the enclosing operation fails.
type rollback struct {
	logger *slog.Logger
	steps  []compensation
}

func newRollback(logger *slog.Logger) *rollback {
	return &rollback{logger: logger}
}

func (r *rollback) add(name string, undo func(context.Context) error) {
	r.steps = append(r.steps, compensation{name: name, undo: undo})
}

// discard forgets every recorded action once the operation has committed.
func (r *rollback) discard() {
	r.steps = nil
}

// run executes the recorded actions newest first. It ignores caller
// cancellation, and failures are logged but never returned.
func (r *rollback) run(ctx context.Context) {
	if len(r.steps) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for i := len(r.steps) - 1; i >= 0; i-- {
		step := r.steps[i]
		if err := step.undo(ctx); err != nil {
			r.logger.WarnContext(ctx, "compensating action failed", "action", step.name, "error", err)
			continue
		}
		r.logger.InfoContext(ctx, "compensating action done", "action", step.name)
	}
	r.steps = nil
}
