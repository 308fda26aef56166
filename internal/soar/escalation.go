package soar

import (
	"context"
	"errors"
	"maps"

	"boundary-soar/internal/dispatch"
	soarerr "boundary-soar/internal/errors"
	"boundary-soar/internal/incident"
	"boundary-soar/internal/playbook"
)

// escalate checks the playbook escalation against the final execution
// context. When every condition holds the incident level is raised through
// the store and each escalation action is handed off in order.
func (e *Engine) escalate(ctx context.Context, pb *playbook.Playbook, exec *incident.Execution) {
	if !pb.Escalation.ShouldEscalate(exec.Context) {
		return
	}

	logger := e.logger.With("incident_id", exec.IncidentID, "playbook_id", pb.ID)

	updated, err := e.store.Update(ctx, exec.IncidentID, func(inc *incident.Incident) error {
		now := e.now()
		inc.EscalationLevel++
		inc.Status = incident.StatusEscalated
		inc.EscalatedAt = &now
		return nil
	})
	if err != nil {
		logger.Error("failed to escalate incident", "error", err)
		return
	}

	exec.Escalated = true
	e.metrics.Escalated(pb.ID)
	logger.Warn("incident escalated",
		"escalation_level", updated.EscalationLevel,
		"actions", pb.Escalation.Actions,
	)

	for _, name := range pb.Escalation.Actions {
		h := dispatch.HandOff{
			Name:            name,
			IncidentID:      updated.ID,
			AlertID:         updated.AlertID,
			PlaybookID:      pb.ID,
			Severity:        updated.Severity,
			EscalationLevel: updated.EscalationLevel,
			Context:         maps.Clone(exec.Context),
			CreatedAt:       e.now(),
		}
		if err := e.dispatcher.Dispatch(ctx, name, h); err != nil {
			if errors.Is(err, soarerr.ErrUnknownHandOff) {
				logger.Warn("unknown escalation action, skipping", "action", name)
				continue
			}
			logger.Error("escalation hand-off failed", "action", name, "error", err)
		}
	}
}
