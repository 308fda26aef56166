package soar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"boundary-soar/internal/action"
	soarerr "boundary-soar/internal/errors"
	"boundary-soar/internal/incident"
	"boundary-soar/internal/playbook"
)

// StepExecutor runs a single playbook step against its action.
type StepExecutor struct {
	actions *action.Registry
	metrics Recorder
	logger  *slog.Logger
}

// NewStepExecutor creates a step executor over the given registry.
func NewStepExecutor(actions *action.Registry, metrics Recorder, logger *slog.Logger) *StepExecutor {
	if metrics == nil {
		metrics = nopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StepExecutor{actions: actions, metrics: metrics, logger: logger}
}

// ResolveInputs picks the step inputs out of the execution context. Missing
// keys resolve to nil.
func ResolveInputs(step playbook.Step, execCtx map[string]any) action.Inputs {
	in := make(action.Inputs, len(step.Inputs))
	for _, name := range step.Inputs {
		v, _ := playbook.Lookup(execCtx, name)
		in[name] = v
	}
	return in
}

// Execute runs the step, retrying per its RetryPolicy, and returns the
// settled StepExecution.
func (x *StepExecutor) Execute(ctx context.Context, step playbook.Step, execCtx map[string]any) incident.StepExecution {
	se := incident.StepExecution{
		StepID:    step.ID,
		Action:    step.Action,
		Status:    incident.StepRunning,
		Inputs:    ResolveInputs(step, execCtx),
		StartTime: time.Now(),
	}

	act, err := x.actions.Lookup(step.Action)
	if err != nil {
		return x.finish(se, nil, err)
	}

	maxAttempts := 1
	if step.RetryPolicy != nil && step.RetryPolicy.MaxAttempts > 1 {
		maxAttempts = step.RetryPolicy.MaxAttempts
	}
	timeout := step.EffectiveTimeout()

	var out action.Outputs
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			delay := step.RetryPolicy.Delay(attempt)
			x.logger.Debug("retrying step",
				"step_id", step.ID,
				"action", step.Action,
				"attempt", attempt,
				"delay", delay,
			)
			if err := sleep(ctx, delay); err != nil {
				break
			}
		}

		se.Attempts = attempt
		out, err = runWithTimeout(ctx, act, maps.Clone(se.Inputs), timeout)
		if err == nil || ctx.Err() != nil {
			break
		}
	}
	return x.finish(se, out, err)
}

func (x *StepExecutor) finish(se incident.StepExecution, out action.Outputs, err error) incident.StepExecution {
	se.EndTime = time.Now()
	if err != nil {
		se.Status = incident.StepFailed
		se.Error = err.Error()
	} else {
		se.Status = incident.StepCompleted
		se.Outputs = out
	}
	x.metrics.StepFinished(se.Action, string(se.Status), se.EndTime.Sub(se.StartTime))
	return se
}

type runResult struct {
	out action.Outputs
	err error
}

// runWithTimeout races the action against the step timeout. The action
// context is cancelled when the timeout fires and a late result is dropped.
func runWithTimeout(ctx context.Context, act action.Action, in action.Inputs, timeout time.Duration) (action.Outputs, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan runResult, 1)
	go func() {
		var res runResult
		defer func() {
			if r := recover(); r != nil {
				res = runResult{err: fmt.Errorf("action %s panicked: %v", act.Name, r)}
			}
			done <- res
		}()
		res.out, res.err = act.Run(runCtx, in)
	}()

	timedOut := func() error {
		return fmt.Errorf("%w after %s", soarerr.ErrStepTimeout, timeout)
	}

	select {
	case res := <-done:
		if res.err != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, timedOut()
		}
		return res.out, res.err
	case <-runCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, timedOut()
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
