package soar

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"boundary-soar/internal/incident"
	"boundary-soar/internal/playbook"

	"github.com/google/uuid"
)

// Workflow runs the steps of one playbook against one incident.
type Workflow struct {
	steps   *StepExecutor
	metrics Recorder
	logger  *slog.Logger
}

// NewWorkflow creates a playbook executor.
func NewWorkflow(steps *StepExecutor, metrics Recorder, logger *slog.Logger) *Workflow {
	if metrics == nil {
		metrics = nopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Workflow{steps: steps, metrics: metrics, logger: logger}
}

// Run executes pb sequentially. The execution context starts as a shallow
// copy of the incident context and only grows from step outputs. A step
// whose condition is false is skipped; a failed step without a retry policy
// stops the playbook. A panic is recovered and fails the execution.
func (w *Workflow) Run(ctx context.Context, pb *playbook.Playbook, inc *incident.Incident) (exec *incident.Execution) {
	exec = &incident.Execution{
		ID:         uuid.NewString(),
		PlaybookID: pb.ID,
		IncidentID: inc.ID,
		Status:     incident.ExecutionRunning,
		Steps:      make([]incident.StepExecution, 0, len(pb.Steps)),
		Context:    maps.Clone(inc.Context),
		StartedAt:  time.Now(),
	}
	if exec.Context == nil {
		exec.Context = make(map[string]any)
	}

	logger := w.logger.With("execution_id", exec.ID, "playbook_id", pb.ID, "incident_id", inc.ID)

	defer func() {
		if r := recover(); r != nil {
			exec.Status = incident.ExecutionFailed
			exec.Error = fmt.Sprintf("playbook engine failure: %v", r)
			logger.Error("playbook execution failed", "error", exec.Error)
		}
		exec.CompletedAt = time.Now()
		w.metrics.ExecutionFinished(pb.ID, string(exec.Status), exec.Duration())
	}()

	logger.Info("playbook execution started", "steps", len(pb.Steps))

	for _, step := range pb.Steps {
		if ctx.Err() != nil {
			return cancelled(ctx, exec, logger)
		}

		if step.Condition != nil && !step.Condition.Evaluate(exec.Context) {
			now := time.Now()
			exec.Steps = append(exec.Steps, incident.StepExecution{
				StepID:    step.ID,
				Action:    step.Action,
				Status:    incident.StepSkipped,
				StartTime: now,
				EndTime:   now,
			})
			logger.Debug("step skipped", "step_id", step.ID, "condition", step.Condition.String())
			continue
		}

		se := w.steps.Execute(ctx, step, exec.Context)
		exec.Steps = append(exec.Steps, se)

		for k, v := range se.Outputs {
			exec.Context[k] = v
		}

		if se.Status == incident.StepFailed {
			logger.Warn("step failed",
				"step_id", step.ID,
				"action", step.Action,
				"attempts", se.Attempts,
				"error", se.Error,
			)
			if step.RetryPolicy == nil {
				break
			}
		}
	}

	// A step cut short by cancellation fails the execution rather than
	// halting it.
	if n := len(exec.Steps); ctx.Err() != nil && n > 0 && exec.Steps[n-1].Status == incident.StepFailed {
		return cancelled(ctx, exec, logger)
	}

	exec.Status = incident.ExecutionCompleted
	logger.Info("playbook execution completed",
		"steps_run", len(exec.Steps),
		"duration", time.Since(exec.StartedAt),
	)
	return exec
}

func cancelled(ctx context.Context, exec *incident.Execution, logger *slog.Logger) *incident.Execution {
	exec.Status = incident.ExecutionFailed
	exec.Error = fmt.Sprintf("execution cancelled: %v", ctx.Err())
	logger.Warn("playbook execution cancelled", "steps_run", len(exec.Steps), "error", exec.Error)
	return exec
}
