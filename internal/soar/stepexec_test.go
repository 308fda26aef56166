package soar

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"boundary-soar/internal/action"
	soarerr "boundary-soar/internal/errors"
	"boundary-soar/internal/incident"
	"boundary-soar/internal/playbook"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newExecutor(actions ...action.Action) *StepExecutor {
	return NewStepExecutor(action.MustRegistry(actions...), nil, quietLogger())
}

func TestResolveInputs(t *testing.T) {
	step := playbook.Step{Inputs: []string{"user_id", "missing", "alert.id"}}
	ctx := map[string]any{
		"user_id": "u-1",
		"alert":   map[string]any{"id": "a-1"},
	}

	in := ResolveInputs(step, ctx)
	if in["user_id"] != "u-1" {
		t.Errorf("user_id = %v", in["user_id"])
	}
	if v, ok := in["missing"]; !ok || v != nil {
		t.Errorf("missing input should resolve to nil, got %v (present=%v)", v, ok)
	}
	if in["alert.id"] != "a-1" {
		t.Errorf("alert.id = %v", in["alert.id"])
	}
}

func TestStepExecutor_Execute(t *testing.T) {
	tests := []struct {
		name       string
		action     action.Action
		step       playbook.Step
		wantStatus incident.StepStatus
		wantErr    string
		wantOut    action.Outputs
	}{
		{
			name: "success",
			action: action.Func("score", func(ctx context.Context, in action.Inputs) (action.Outputs, error) {
				return action.Outputs{"final_risk_score": 0.8}, nil
			}),
			step:       playbook.Step{ID: "s1", Action: "score", Timeout: time.Second},
			wantStatus: incident.StepCompleted,
			wantOut:    action.Outputs{"final_risk_score": 0.8},
		},
		{
			name: "action error",
			action: action.Func("score", func(ctx context.Context, in action.Inputs) (action.Outputs, error) {
				return nil, errors.New("scoring backend down")
			}),
			step:       playbook.Step{ID: "s1", Action: "score", Timeout: time.Second},
			wantStatus: incident.StepFailed,
			wantErr:    "scoring backend down",
		},
		{
			name: "missing action",
			action: action.Func("other", func(ctx context.Context, in action.Inputs) (action.Outputs, error) {
				return nil, nil
			}),
			step:       playbook.Step{ID: "s1", Action: "score", Timeout: time.Second},
			wantStatus: incident.StepFailed,
			wantErr:    "action not found: score",
		},
		{
			name: "panic",
			action: action.Func("score", func(ctx context.Context, in action.Inputs) (action.Outputs, error) {
				panic("boom")
			}),
			step:       playbook.Step{ID: "s1", Action: "score", Timeout: time.Second},
			wantStatus: incident.StepFailed,
			wantErr:    "panicked: boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x := newExecutor(tt.action)
			se := x.Execute(context.Background(), tt.step, map[string]any{})

			if se.Status != tt.wantStatus {
				t.Fatalf("status = %s, want %s (error %q)", se.Status, tt.wantStatus, se.Error)
			}
			if tt.wantErr != "" && !strings.Contains(se.Error, tt.wantErr) {
				t.Errorf("error = %q, want it to contain %q", se.Error, tt.wantErr)
			}
			for k, v := range tt.wantOut {
				if se.Outputs[k] != v {
					t.Errorf("output %s = %v, want %v", k, se.Outputs[k], v)
				}
			}
			if se.EndTime.Before(se.StartTime) {
				t.Error("end time before start time")
			}
		})
	}
}

func TestStepExecutor_MissingActionNotRetried(t *testing.T) {
	x := newExecutor()
	step := playbook.Step{
		ID:          "s1",
		Action:      "nope",
		RetryPolicy: &playbook.RetryPolicy{MaxAttempts: 5},
	}
	se := x.Execute(context.Background(), step, nil)
	if se.Status != incident.StepFailed {
		t.Fatalf("status = %s", se.Status)
	}
	if se.Attempts != 0 {
		t.Errorf("attempts = %d, want 0", se.Attempts)
	}
}

func TestStepExecutor_Timeout(t *testing.T) {
	var cancelled atomic.Bool
	slow := action.Func("slow", func(ctx context.Context, in action.Inputs) (action.Outputs, error) {
		select {
		case <-ctx.Done():
			cancelled.Store(true)
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return action.Outputs{"late": true}, nil
		}
	})

	timeout := 50 * time.Millisecond
	x := newExecutor(slow)
	start := time.Now()
	se := x.Execute(context.Background(), playbook.Step{ID: "s", Action: "slow", Timeout: timeout}, nil)
	elapsed := time.Since(start)

	if se.Status != incident.StepFailed {
		t.Fatalf("status = %s", se.Status)
	}
	if se.Error != "step timed out after 50ms" {
		t.Errorf("error = %q", se.Error)
	}
	if elapsed < timeout {
		t.Errorf("failed after %s, before the %s timeout", elapsed, timeout)
	}
	if elapsed > 2*time.Second {
		t.Errorf("timeout took %s", elapsed)
	}
	if se.Outputs != nil {
		t.Errorf("late outputs should be discarded, got %v", se.Outputs)
	}

	deadline := time.Now().Add(time.Second)
	for !cancelled.Load() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !cancelled.Load() {
		t.Error("action context was not cancelled")
	}
}

func TestStepExecutor_TimeoutIgnoringContext(t *testing.T) {
	stubborn := action.Func("stubborn", func(ctx context.Context, in action.Inputs) (action.Outputs, error) {
		time.Sleep(300 * time.Millisecond)
		return action.Outputs{"done": true}, nil
	})

	x := newExecutor(stubborn)
	start := time.Now()
	se := x.Execute(context.Background(), playbook.Step{ID: "s", Action: "stubborn", Timeout: 30 * time.Millisecond}, nil)
	if time.Since(start) >= 300*time.Millisecond {
		t.Error("executor waited for the action instead of the timeout")
	}
	if !strings.HasPrefix(se.Error, soarerr.ErrStepTimeout.Error()) {
		t.Errorf("error = %q", se.Error)
	}
}

func TestStepExecutor_Retry(t *testing.T) {
	var calls atomic.Int32
	flaky := action.Func("notify", func(ctx context.Context, in action.Inputs) (action.Outputs, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("temporarily unavailable")
		}
		return action.Outputs{"notification_sent": true}, nil
	})

	x := newExecutor(flaky)
	step := playbook.Step{
		ID:          "notify",
		Action:      "notify",
		Timeout:     time.Second,
		RetryPolicy: &playbook.RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond},
	}
	se := x.Execute(context.Background(), step, nil)

	if se.Status != incident.StepCompleted {
		t.Fatalf("status = %s (%s)", se.Status, se.Error)
	}
	if se.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", se.Attempts)
	}

	calls.Store(-100)
	se = x.Execute(context.Background(), step, nil)
	if se.Status != incident.StepFailed || se.Attempts != 3 {
		t.Errorf("exhausted retries: status = %s attempts = %d", se.Status, se.Attempts)
	}
}

func TestStepExecutor_InputsAreCopied(t *testing.T) {
	mutate := action.Func("mutate", func(ctx context.Context, in action.Inputs) (action.Outputs, error) {
		in["user_id"] = "changed"
		return nil, nil
	})
	x := newExecutor(mutate)
	se := x.Execute(context.Background(), playbook.Step{ID: "m", Action: "mutate", Inputs: []string{"user_id"}}, map[string]any{"user_id": "u-1"})
	if se.Inputs["user_id"] != "u-1" {
		t.Errorf("recorded input was mutated: %v", se.Inputs["user_id"])
	}
}
