package soar

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"

	"boundary-soar/internal/action"
	"boundary-soar/internal/dispatch"
	soarerr "boundary-soar/internal/errors"
	"boundary-soar/internal/incident"
	"boundary-soar/internal/playbook"
	"boundary-soar/internal/queue"
	"boundary-soar/internal/schema"
)

// fraudActions scores every alert with the given risk.
func fraudActions(risk float64) *action.Registry {
	return action.MustRegistry(
		constant("calculate_risk_score", action.Outputs{"final_risk_score": risk}),
		constant("suspend_session", action.Outputs{"session_suspended": true}),
		constant("notify_fraud_team", action.Outputs{"notification_sent": true}),
		constant("verify_user_identity", action.Outputs{"identity_verified": true}),
		constant("force_password_reset", action.Outputs{"password_reset": true}),
		constant("revoke_sessions", action.Outputs{"sessions_revoked": 1}),
	)
}

type engineFixture struct {
	engine     *Engine
	store      *incident.MemoryStore
	dispatcher *dispatch.Recorder
}

func newEngine(t *testing.T, actions *action.Registry, pbs ...*playbook.Playbook) engineFixture {
	t.Helper()
	if len(pbs) == 0 {
		pbs = playbook.Builtin()
	}
	reg, err := playbook.NewRegistry(pbs...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	store := incident.NewMemoryStore()
	rec := dispatch.NewRecorder(nil)
	e, err := New(Options{
		Playbooks:  reg,
		Actions:    actions,
		Store:      store,
		Dispatcher: rec,
		Logger:     quietLogger(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return engineFixture{engine: e, store: store, dispatcher: rec}
}

func fraudAlert() *schema.Alert {
	return &schema.Alert{
		ID:        "alert-1",
		Type:      "payment_anomaly",
		Source:    "fraud_detection",
		Severity:  schema.SeverityHigh,
		UserID:    "user-42",
		SessionID: "sess-9",
		IPAddress: "203.0.113.7",
		Fields:    map[string]any{"amount": 9800},
	}
}

func TestNew_RequiresRegistries(t *testing.T) {
	if _, err := New(Options{Actions: action.MustRegistry()}); err == nil {
		t.Error("expected error without playbooks")
	}
	reg, _ := playbook.NewRegistry()
	if _, err := New(Options{Playbooks: reg}); err == nil {
		t.Error("expected error without actions")
	}
}

func TestProcessAlert_FraudResponse(t *testing.T) {
	f := newEngine(t, fraudActions(0.8))
	ctx := context.Background()

	res := f.engine.ProcessAlert(ctx, fraudAlert())
	if !res.Success {
		t.Fatalf("ProcessAlert failed: %s", res.Message)
	}
	if len(res.ExecutionResults) != 1 {
		t.Fatalf("executions = %d, want 1", len(res.ExecutionResults))
	}

	inc, err := f.engine.Incident(ctx, res.IncidentID)
	if err != nil {
		t.Fatalf("Incident: %v", err)
	}
	if !slices.Equal(inc.Playbooks, []string{"fraud_response"}) {
		t.Errorf("playbooks = %v", inc.Playbooks)
	}
	if inc.Status != incident.StatusInvestigating || inc.EscalationLevel != 0 {
		t.Errorf("status = %s level = %d", inc.Status, inc.EscalationLevel)
	}
	if inc.Context["user_id"] != "user-42" || inc.Context["amount"] != 9800 {
		t.Errorf("incident context = %v", inc.Context)
	}
	if _, ok := inc.Context["final_risk_score"]; ok {
		t.Error("step outputs must not enrich the incident context")
	}

	exec := res.ExecutionResults[0]
	if exec.Status != incident.ExecutionCompleted || exec.Escalated {
		t.Errorf("execution status = %s escalated = %v", exec.Status, exec.Escalated)
	}
	for _, se := range exec.Steps {
		if se.Status != incident.StepCompleted {
			t.Errorf("step %s = %s", se.StepID, se.Status)
		}
	}
	if got := f.dispatcher.Names(); len(got) != 0 {
		t.Errorf("unexpected hand-offs %v", got)
	}

	stored, err := f.engine.Executions(ctx, res.IncidentID)
	if err != nil || len(stored) != 1 {
		t.Fatalf("Executions = %d, %v", len(stored), err)
	}
}

func TestProcessAlert_FraudEscalation(t *testing.T) {
	f := newEngine(t, fraudActions(0.95))
	ctx := context.Background()

	res := f.engine.ProcessAlert(ctx, fraudAlert())
	if !res.Success {
		t.Fatalf("ProcessAlert failed: %s", res.Message)
	}

	inc, err := f.engine.Incident(ctx, res.IncidentID)
	if err != nil {
		t.Fatalf("Incident: %v", err)
	}
	if inc.Status != incident.StatusEscalated {
		t.Errorf("status = %s, want escalated", inc.Status)
	}
	if inc.EscalationLevel != 1 {
		t.Errorf("escalation level = %d, want 1", inc.EscalationLevel)
	}
	if inc.EscalatedAt == nil {
		t.Error("escalated_at not set")
	}
	if !res.ExecutionResults[0].Escalated {
		t.Error("execution not marked escalated")
	}

	want := []string{dispatch.EscalateToAnalyst, dispatch.CreateHighPriorityTicket}
	if got := f.dispatcher.Names(); !slices.Equal(got, want) {
		t.Errorf("hand-offs = %v, want %v", got, want)
	}
	h := f.dispatcher.HandOffs()[0]
	if h.IncidentID != inc.ID || h.PlaybookID != "fraud_response" || h.EscalationLevel != 1 {
		t.Errorf("hand-off = %+v", h)
	}
}

func TestProcessAlert_NoMatch(t *testing.T) {
	f := newEngine(t, fraudActions(0.5))
	ctx := context.Background()

	alert := fraudAlert()
	alert.Severity = schema.SeverityLow

	res := f.engine.ProcessAlert(ctx, alert)
	if res.Success {
		t.Fatal("expected failure")
	}
	if res.Message != "no matching playbooks" {
		t.Errorf("message = %q", res.Message)
	}
	if !errors.Is(res.Err, soarerr.ErrNoMatchingPlaybooks) {
		t.Errorf("err = %v", res.Err)
	}
	all, _ := f.engine.AllIncidents(ctx)
	if len(all) != 0 {
		t.Errorf("incidents = %d, want 0", len(all))
	}
}

func TestProcessAlert_Invalid(t *testing.T) {
	f := newEngine(t, fraudActions(0.5))

	res := f.engine.ProcessAlert(context.Background(), &schema.Alert{ID: "a", Source: "fraud_detection", Severity: "urgent"})
	if res.Success {
		t.Fatal("expected failure")
	}
	if !errors.Is(res.Err, soarerr.ErrInvalidAlert) {
		t.Errorf("err = %v", res.Err)
	}
}

func TestProcessAlert_MultiplePlaybooksInPriorityOrder(t *testing.T) {
	low := &playbook.Playbook{
		ID: "audit", Name: "Audit", Priority: 1,
		Steps: []playbook.Step{{ID: "log", Action: "ok"}},
	}
	high := &playbook.Playbook{
		ID: "contain", Name: "Contain", Priority: 50,
		Trigger: playbook.Trigger{Source: "edr"},
		Steps:   []playbook.Step{{ID: "broken", Action: "broken"}},
	}
	f := newEngine(t, action.MustRegistry(constant("ok", nil), failing("broken")), low, high)

	res := f.engine.ProcessAlert(context.Background(), &schema.Alert{
		ID: "a-2", Type: "process", Source: "edr", Severity: schema.SeverityMedium,
	})
	if !res.Success {
		t.Fatalf("ProcessAlert failed: %s", res.Message)
	}
	if !slices.Equal(res.Playbooks, []string{"contain", "audit"}) {
		t.Errorf("playbooks = %v", res.Playbooks)
	}
	if len(res.ExecutionResults) != 2 {
		t.Fatalf("executions = %d", len(res.ExecutionResults))
	}
	if res.ExecutionResults[1].Steps[0].Status != incident.StepCompleted {
		t.Error("a failing playbook must not stop the next one")
	}
}

func TestEscalation_AllConditionsMustHold(t *testing.T) {
	pb := func() *playbook.Playbook {
		return &playbook.Playbook{
			ID: "two_conditions", Name: "Two conditions",
			Steps: []playbook.Step{{ID: "score", Action: "score"}},
			Escalation: &playbook.Escalation{
				Conditions: []playbook.Condition{
					{Field: "risk", Operator: playbook.OpGreater, Value: 0.5},
					{Field: "region", Operator: playbook.OpEqual, Value: "eu"},
				},
				Actions: []string{dispatch.EscalateToSOC, "page_the_ceo"},
			},
		}
	}

	tests := []struct {
		name     string
		out      action.Outputs
		escalate bool
	}{
		{"both hold", action.Outputs{"risk": 0.9, "region": "eu"}, true},
		{"first only", action.Outputs{"risk": 0.9, "region": "us"}, false},
		{"second only", action.Outputs{"risk": 0.1, "region": "eu"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newEngine(t, action.MustRegistry(constant("score", tt.out)), pb())
			res := f.engine.ProcessAlert(context.Background(), fraudAlert())
			if !res.Success {
				t.Fatalf("ProcessAlert failed: %s", res.Message)
			}
			inc, _ := f.engine.Incident(context.Background(), res.IncidentID)
			if got := inc.Status == incident.StatusEscalated; got != tt.escalate {
				t.Errorf("escalated = %v, want %v", got, tt.escalate)
			}
			wantLevel := 0
			if tt.escalate {
				wantLevel = 1
			}
			if inc.EscalationLevel != wantLevel {
				t.Errorf("escalation level = %d, want %d", inc.EscalationLevel, wantLevel)
			}
			if !tt.escalate && len(f.dispatcher.Names()) != 0 {
				t.Errorf("unexpected hand-offs = %v", f.dispatcher.Names())
			}
			if tt.escalate && len(f.dispatcher.Names()) != 2 {
				t.Errorf("hand-offs = %v", f.dispatcher.Names())
			}
		})
	}
}

func TestEscalation_UnknownHandOffSkipped(t *testing.T) {
	router := dispatch.NewRouter(dispatch.Config{MaxAttempts: 1}, quietLogger())
	sent := dispatch.NewRecorder(nil)
	router.AddChannel(recordingChannel{sent}, true)

	pb := playbook.FraudResponse()
	pb.ID = "fraud_custom"
	pb.Escalation.Actions = []string{"page_the_ceo", dispatch.EscalateToAnalyst}
	reg, err := playbook.NewRegistry(pb)
	if err != nil {
		t.Fatal(err)
	}

	e, err := New(Options{Playbooks: reg, Actions: fraudActions(0.99), Dispatcher: router, Logger: quietLogger()})
	if err != nil {
		t.Fatal(err)
	}
	res := e.ProcessAlert(context.Background(), fraudAlert())
	if !res.Success {
		t.Fatalf("ProcessAlert failed: %s", res.Message)
	}
	if got := sent.Names(); !slices.Equal(got, []string{dispatch.EscalateToAnalyst}) {
		t.Errorf("delivered = %v", got)
	}
}

type recordingChannel struct{ rec *dispatch.Recorder }

func (c recordingChannel) Name() string { return "recording" }

func (c recordingChannel) Send(ctx context.Context, h dispatch.HandOff) error {
	return c.rec.Dispatch(ctx, h.Name, h)
}

func TestOpenIncident_WithoutMatch(t *testing.T) {
	f := newEngine(t, fraudActions(0.5))
	alert := &schema.Alert{
		ID:       "corr-1",
		Type:     "correlation",
		Source:   "correlation_engine",
		Severity: schema.SeverityHigh,
	}

	res := f.engine.OpenIncident(context.Background(), alert, incident.SourceCorrelation)
	if !res.Success {
		t.Fatalf("OpenIncident failed: %s", res.Message)
	}
	inc, err := f.engine.Incident(context.Background(), res.IncidentID)
	if err != nil {
		t.Fatal(err)
	}
	if inc.Source != incident.SourceCorrelation || len(inc.Playbooks) != 0 {
		t.Errorf("incident = %+v", inc)
	}
}

func TestEngine_StatsAndActive(t *testing.T) {
	f := newEngine(t, fraudActions(0.95))
	ctx := context.Background()

	for _, id := range []string{"a-1", "a-2"} {
		alert := fraudAlert()
		alert.ID = id
		if res := f.engine.ProcessAlert(ctx, alert); !res.Success {
			t.Fatalf("ProcessAlert(%s): %s", id, res.Message)
		}
	}
	all, _ := f.engine.AllIncidents(ctx)
	if _, err := f.store.Update(ctx, all[0].ID, func(inc *incident.Incident) error {
		inc.Status = incident.StatusResolved
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	active, err := f.engine.ActiveIncidents(ctx)
	if err != nil || len(active) != 1 {
		t.Fatalf("active = %d, %v", len(active), err)
	}

	stats, err := f.engine.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalIncidents != 2 || stats.ActiveIncidents != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.EscalatedLast24h != 2 || stats.TotalExecutions != 2 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.BySeverity[schema.SeverityHigh] != 2 || stats.ByStatus[incident.StatusResolved] != 1 {
		t.Errorf("stats = %+v", stats)
	}

	if _, err := f.engine.Executions(ctx, "missing"); !errors.Is(err, soarerr.ErrIncidentNotFound) {
		t.Errorf("Executions(missing) err = %v", err)
	}
}

type memArchiver struct {
	mu    sync.Mutex
	execs []string
}

func (a *memArchiver) ArchiveExecution(ctx context.Context, exec *incident.Execution) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.execs = append(a.execs, exec.ID)
	return nil
}

func TestEngine_ArchiveDeferredToQueue(t *testing.T) {
	reg, _ := playbook.NewRegistry(playbook.FraudResponse())
	arch := &memArchiver{}
	q := queue.NewTaskQueue(8)
	e, err := New(Options{
		Playbooks:  reg,
		Actions:    fraudActions(0.5),
		Dispatcher: dispatch.NewRecorder(nil),
		Archiver:   arch,
		Queue:      q,
		Logger:     quietLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}

	res := e.ProcessAlert(context.Background(), fraudAlert())
	if !res.Success {
		t.Fatalf("ProcessAlert failed: %s", res.Message)
	}
	if len(arch.execs) != 0 {
		t.Fatal("archive should wait for the drainer")
	}
	if q.Len() != 1 {
		t.Fatalf("queued tasks = %d", q.Len())
	}

	d := queue.NewDrainer(q, 0, 0, quietLogger())
	if n := d.Flush(context.Background()); n != 1 {
		t.Errorf("flushed %d tasks", n)
	}
	if len(arch.execs) != 1 || arch.execs[0] != res.ExecutionResults[0].ID {
		t.Errorf("archived = %v", arch.execs)
	}
}
