package attachment

import (
	"context"

	"go.uber.org/zap"
)

// undoStack collects compensating actions for side effects already
// performed. unwind runs them newest first.
type undoStack struct {
	steps []undoStep
	log   *zap.Logger
}

type undoStep struct {
	name string
	fn   func(ctx context.Context) error
}

func newUndoStack(log *zap.Logger) *undoStack {
	return &undoStack{log: log}
}

func (u *undoStack) push(name string, fn func(ctx context.Context) error) {
	u.steps = append(u.steps, undoStep{name: name, fn: fn})
}

// unwind runs every step even when the request context is already gone.
func (u *undoStack) unwind(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	for i := len(u.steps) - 1; i >= 0; i-- {
		step := u.steps[i]
		if err := step.fn(ctx); err != nil {
			u.log.Warn("rollback step failed", zap.String("step", step.name), zap.Error(err))
		}
	}
	u.steps = nil
}
