package flow

import (
	"context"
	"fmt"
	"time"
)

// executeStep runs one step with panic containment and optional timeout
// enforcement.
//
// A panic inside a step is converted to a step failure so a misbehaving
// collaborator cannot take down the coordinating process; the engine records
// it through the same path as a returned error. A timed-out step is likewise
// an ordinary step failure, not a retry state: retry policy belongs to the
// step's own collaborator call, not the engine.
func executeStep(ctx context.Context, step Step, name string, state State, cfg RunConfig, timeout time.Duration) (result StepResult) {
	defer func() {
		if r := recover(); r != nil {
			result = Fail(fmt.Errorf("step %s panicked: %v", name, r))
		}
	}()

	if timeout <= 0 {
		return step.Run(ctx, state, cfg)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result = step.Run(timeoutCtx, state, cfg)
	if timeoutCtx.Err() == context.DeadlineExceeded {
		return Fail(fmt.Errorf("step %s exceeded timeout of %v: %w", name, timeout, ErrStepTimeout))
	}
	return result
}
