package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"boundary-soar/internal/correlation"
	soarerr "boundary-soar/internal/errors"
	"boundary-soar/internal/schema"
	"boundary-soar/internal/storage"
)

// handleAlert handles POST /v1/alerts. A processed alert answers 201 with
// the incident; an alert no playbook matches answers 200 with success false.
func (s *Server) handleAlert(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)

	var alert schema.Alert
	if err := json.NewDecoder(r.Body).Decode(&alert); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "payload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "invalid JSON body")
		return
	}

	res := s.engine.ProcessAlert(r.Context(), &alert)
	switch {
	case res.Success:
		writeJSON(w, http.StatusCreated, res)
	case errors.Is(res.Err, soarerr.ErrNoMatchingPlaybooks):
		writeJSON(w, http.StatusOK, res)
	case errors.Is(res.Err, soarerr.ErrInvalidAlert):
		writeJSON(w, http.StatusBadRequest, res)
	default:
		s.logger.Error("alert processing failed", "alert_id", alert.ID, "error", res.Err)
		writeJSON(w, http.StatusInternalServerError, res)
	}
}

func (s *Server) handlePlaybooks(w http.ResponseWriter, r *http.Request) {
	pbs := s.engine.Playbooks()
	writeJSON(w, http.StatusOK, map[string]any{"playbooks": pbs, "count": len(pbs)})
}

func (s *Server) handlePlaybook(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	for _, pb := range s.engine.Playbooks() {
		if pb.ID == id {
			writeJSON(w, http.StatusOK, pb)
			return
		}
	}
	writeError(w, http.StatusNotFound, "NOT_FOUND", "playbook not found")
}

func (s *Server) handleActions(w http.ResponseWriter, r *http.Request) {
	names := s.engine.Actions()
	writeJSON(w, http.StatusOK, map[string]any{"actions": names, "count": len(names)})
}

func (s *Server) handleIncidents(w http.ResponseWriter, r *http.Request) {
	all, err := s.engine.AllIncidents(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"incidents": all, "count": len(all)})
}

func (s *Server) handleActiveIncidents(w http.ResponseWriter, r *http.Request) {
	active, err := s.engine.ActiveIncidents(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"incidents": active, "count": len(active)})
}

func (s *Server) handleIncident(w http.ResponseWriter, r *http.Request) {
	inc, err := s.engine.Incident(r.Context(), r.PathValue("id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

func (s *Server) handleExecutions(w http.ResponseWriter, r *http.Request) {
	execs, err := s.engine.Executions(r.Context(), r.PathValue("id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": execs, "count": len(execs)})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.Stats(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	ds, ok := s.engine.Dispatcher().(dispatchStats)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"dead_letters": []any{}, "count": 0})
		return
	}
	dead := ds.DeadLetters()
	writeJSON(w, http.StatusOK, map[string]any{"dead_letters": dead, "count": len(dead)})
}

// ruleView is the JSON form of a correlation rule.
type ruleView struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	TimeWindow  string          `json:"time_window"`
	Conditions  []string        `json:"conditions"`
	Action      string          `json:"action"`
	Severity    schema.Severity `json:"severity,omitempty"`
	SuppressFor string          `json:"suppress_for,omitempty"`
	Tags        []string        `json:"tags,omitempty"`
}

func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	rules := s.correlation.Rules().All()
	views := make([]ruleView, 0, len(rules))
	for _, rule := range rules {
		views = append(views, newRuleView(rule))
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": views, "count": len(views)})
}

func newRuleView(rule *correlation.Rule) ruleView {
	v := ruleView{
		Name:        rule.Name,
		Description: rule.Description,
		TimeWindow:  rule.TimeWindow.String(),
		Action:      rule.Action,
		Severity:    rule.Severity,
		Tags:        rule.Tags,
	}
	if rule.SuppressFor > 0 {
		v.SuppressFor = rule.SuppressFor.String()
	}
	for _, c := range rule.Conditions {
		v.Conditions = append(v.Conditions, c.String())
	}
	return v
}

// handleHealth runs the dependency checks. Any failing check degrades the
// service and answers 503. A lost database connection reports "unreachable".
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	code := http.StatusOK
	checks := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			s.logger.Warn("health check failed", "check", name, "error", err)
			checks[name] = soarerr.SafeErrorMessage(err)
			if storage.IsConnectionError(err) {
				checks[name] = "unreachable"
			}
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	writeJSON(w, code, map[string]any{
		"status":         status,
		"checks":         checks,
		"playbooks":      len(s.engine.Playbooks()),
		"actions":        len(s.engine.Actions()),
		"uptime_seconds": int(time.Since(s.started).Seconds()),
	})
}
