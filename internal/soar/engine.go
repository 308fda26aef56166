// Package soar implements the orchestration engine: it selects playbooks for
// an alert, opens an incident, runs each playbook as a workflow of timed
// steps and escalates incidents whose final execution context calls for it.
package soar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"boundary-soar/internal/action"
	"boundary-soar/internal/dispatch"
	soarerr "boundary-soar/internal/errors"
	"boundary-soar/internal/incident"
	"boundary-soar/internal/logging"
	"boundary-soar/internal/metrics"
	"boundary-soar/internal/playbook"
	"boundary-soar/internal/queue"
	"boundary-soar/internal/schema"

	"github.com/google/uuid"
)

// Archiver stores a completed execution as an audit record.
type Archiver interface {
	ArchiveExecution(ctx context.Context, exec *incident.Execution) error
}

// Options configures an Engine. Playbooks and Actions are required.
type Options struct {
	Playbooks  *playbook.Registry
	Actions    *action.Registry
	Store      incident.Store
	Dispatcher dispatch.Dispatcher
	Archiver   Archiver
	// Queue defers archive uploads to the drainer. Without it archiving
	// happens inline.
	Queue *queue.TaskQueue
	// AlertTimeout bounds the handling of one alert across all of its
	// playbooks. Zero means unbounded.
	AlertTimeout time.Duration
	Metrics      Recorder
	Logger       *slog.Logger
}

// Engine is the SOAR orchestration engine. It is safe for concurrent use.
type Engine struct {
	playbooks  *playbook.Registry
	actions    *action.Registry
	workflow   *Workflow
	store      incident.Store
	dispatcher dispatch.Dispatcher
	archiver   Archiver
	queue      *queue.TaskQueue
	timeout    time.Duration
	validator  *schema.Validator
	metrics    Recorder
	logger     *slog.Logger
	now        func() time.Time
}

// Result is the outcome of processing one alert.
type Result struct {
	Success          bool                  `json:"success"`
	IncidentID       string                `json:"incident_id,omitempty"`
	Playbooks        []string              `json:"playbooks,omitempty"`
	ExecutionResults []*incident.Execution `json:"execution_results,omitempty"`
	Message          string                `json:"message,omitempty"`
	Err              error                 `json:"-"`
}

// New creates an engine. A nil Store defaults to an in-memory store and a nil
// Dispatcher to a router that only logs hand-offs.
func New(opts Options) (*Engine, error) {
	if opts.Playbooks == nil {
		return nil, errors.New("soar: playbook registry is required")
	}
	if opts.Actions == nil {
		return nil, errors.New("soar: action registry is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = nopRecorder{}
	}
	if opts.Store == nil {
		opts.Store = incident.NewMemoryStore()
	}
	if opts.Dispatcher == nil {
		router := dispatch.NewRouter(dispatch.DefaultConfig(), opts.Logger)
		router.AddChannel(dispatch.NewLogChannel(opts.Logger), true)
		opts.Dispatcher = router
	}

	for _, pb := range opts.Playbooks.All() {
		for _, name := range pb.ActionNames() {
			if _, ok := opts.Actions.Get(name); !ok {
				opts.Logger.Warn("playbook references unregistered action",
					"playbook_id", pb.ID, "action", name)
			}
		}
	}

	steps := NewStepExecutor(opts.Actions, opts.Metrics, opts.Logger)
	return &Engine{
		playbooks:  opts.Playbooks,
		actions:    opts.Actions,
		workflow:   NewWorkflow(steps, opts.Metrics, opts.Logger),
		store:      opts.Store,
		dispatcher: opts.Dispatcher,
		archiver:   opts.Archiver,
		queue:      opts.Queue,
		timeout:    opts.AlertTimeout,
		validator:  schema.NewValidator(),
		metrics:    opts.Metrics,
		logger:     opts.Logger,
		now:        time.Now,
	}, nil
}

// ProcessAlert validates the alert, opens an incident for the matching
// playbooks and runs them in priority order.
func (e *Engine) ProcessAlert(ctx context.Context, alert *schema.Alert) Result {
	if err := e.validator.Validate(alert); err != nil {
		e.metrics.AlertProcessed(metrics.OutcomeInvalid)
		err = fmt.Errorf("%w: %w", soarerr.ErrInvalidAlert, err)
		return Result{Message: soarerr.SafeErrorMessage(err), Err: err}
	}

	matched := e.FindMatchingPlaybooks(alert)
	if len(matched) == 0 {
		e.metrics.AlertProcessed(metrics.OutcomeNoMatch)
		e.logger.Debug("no matching playbooks",
			"alert_id", alert.ID, "type", alert.Type, "source", alert.Source)
		return Result{
			Message: soarerr.ErrNoMatchingPlaybooks.Error(),
			Err:     soarerr.ErrNoMatchingPlaybooks,
		}
	}

	return e.respond(ctx, alert, matched, incident.SourceAlert)
}

// OpenIncident opens an incident for a synthesized alert. Unlike
// ProcessAlert the incident is created even when no playbook matches.
func (e *Engine) OpenIncident(ctx context.Context, alert *schema.Alert, source incident.Source) Result {
	if err := e.validator.Validate(alert); err != nil {
		e.metrics.AlertProcessed(metrics.OutcomeInvalid)
		err = fmt.Errorf("%w: %w", soarerr.ErrInvalidAlert, err)
		return Result{Message: soarerr.SafeErrorMessage(err), Err: err}
	}
	return e.respond(ctx, alert, e.FindMatchingPlaybooks(alert), source)
}

func (e *Engine) respond(ctx context.Context, alert *schema.Alert, matched []*playbook.Playbook, source incident.Source) Result {
	ids := make([]string, len(matched))
	for i, pb := range matched {
		ids[i] = pb.ID
	}

	inc := &incident.Incident{
		ID:        uuid.NewString(),
		AlertID:   alert.ID,
		Severity:  alert.Severity,
		Status:    incident.StatusInvestigating,
		Source:    source,
		Context:   alert.Context(),
		Playbooks: ids,
		CreatedAt: e.now(),
	}
	if err := e.store.Create(ctx, inc); err != nil {
		e.metrics.AlertProcessed(metrics.OutcomeError)
		e.logger.Error("failed to create incident", "alert_id", alert.ID, "error", err)
		return Result{
			Message: soarerr.SafeErrorMessage(fmt.Errorf("create incident: %w", err)),
			Err:     err,
		}
	}

	logger := e.logger.With("incident_id", inc.ID, "alert_id", alert.ID)
	logger.Info("incident opened",
		"severity", inc.Severity,
		"source", inc.Source,
		"playbooks", ids,
		"context", logging.SafeContext(map[string]any{
			"user_id":    alert.UserID,
			"session_id": alert.SessionID,
			"ip_address": alert.IPAddress,
		}),
	)

	// The timeout bounds the workflows only; escalation and persistence
	// still run for an execution cut short by it.
	runCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	results := make([]*incident.Execution, 0, len(matched))
	for _, pb := range matched {
		exec := e.workflow.Run(runCtx, pb, inc)
		e.escalate(ctx, pb, exec)
		e.persist(ctx, exec)
		results = append(results, exec)
	}

	e.metrics.AlertProcessed(metrics.OutcomeIncident)
	return Result{
		Success:          true,
		IncidentID:       inc.ID,
		Playbooks:        ids,
		ExecutionResults: results,
	}
}

// persist saves the execution and hands it to the archiver.
func (e *Engine) persist(ctx context.Context, exec *incident.Execution) {
	if err := e.store.SaveExecution(ctx, exec); err != nil {
		e.logger.Error("failed to save execution",
			"execution_id", exec.ID, "incident_id", exec.IncidentID, "error", err)
	}
	if e.archiver == nil {
		return
	}

	archive := func(ctx context.Context) error {
		return e.archiver.ArchiveExecution(ctx, exec)
	}
	if e.queue != nil {
		err := e.queue.Push(queue.Task{Name: "archive_execution:" + exec.ID, Run: archive})
		if err == nil {
			return
		}
		e.logger.Warn("archive queue unavailable, archiving inline",
			"execution_id", exec.ID, "error", err)
	}
	if err := archive(ctx); err != nil {
		e.logger.Error("failed to archive execution", "execution_id", exec.ID, "error", err)
	}
}

// FindMatchingPlaybooks returns the playbooks whose trigger matches alert,
// highest priority first.
func (e *Engine) FindMatchingPlaybooks(alert *schema.Alert) []*playbook.Playbook {
	return e.playbooks.Match(alert)
}

// Playbooks returns every registered playbook.
func (e *Engine) Playbooks() []*playbook.Playbook {
	return e.playbooks.All()
}

// Actions returns the names of the registered actions.
func (e *Engine) Actions() []string {
	return e.actions.Names()
}

// Incident returns one incident.
func (e *Engine) Incident(ctx context.Context, id string) (*incident.Incident, error) {
	return e.store.Get(ctx, id)
}

// AllIncidents returns every incident, oldest first.
func (e *Engine) AllIncidents(ctx context.Context) ([]*incident.Incident, error) {
	return e.store.List(ctx)
}

// ActiveIncidents returns incidents still investigating or escalated.
func (e *Engine) ActiveIncidents(ctx context.Context) ([]*incident.Incident, error) {
	all, err := e.store.List(ctx)
	if err != nil {
		return nil, err
	}
	active := all[:0]
	for _, inc := range all {
		if inc.Status.IsActive() {
			active = append(active, inc)
		}
	}
	return active, nil
}

// Executions returns the executions recorded for an incident.
func (e *Engine) Executions(ctx context.Context, incidentID string) ([]*incident.Execution, error) {
	if _, err := e.store.Get(ctx, incidentID); err != nil {
		return nil, err
	}
	return e.store.Executions(ctx, incidentID)
}

// Stats summarizes the incident store.
func (e *Engine) Stats(ctx context.Context) (incident.Stats, error) {
	all, err := e.store.List(ctx)
	if err != nil {
		return incident.Stats{}, err
	}
	n, err := e.store.ExecutionCount(ctx)
	if err != nil {
		return incident.Stats{}, err
	}
	return incident.ComputeStats(all, n, e.now()), nil
}

// Dispatcher returns the hand-off dispatcher used for escalations.
func (e *Engine) Dispatcher() dispatch.Dispatcher {
	return e.dispatcher
}
