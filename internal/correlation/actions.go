package correlation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"boundary-soar/internal/dispatch"
	"boundary-soar/internal/incident"
	"boundary-soar/internal/schema"
	"boundary-soar/internal/soar"

	"github.com/google/uuid"
)

// Correlated alerts are synthesized with this type and source.
const (
	AlertType   = "correlation"
	AlertSource = "correlation_engine"
)

// maxEventIDs bounds the event ids copied into a correlated alert.
const maxEventIDs = 50

// IncidentOpener opens an incident for a synthesized alert.
type IncidentOpener interface {
	OpenIncident(ctx context.Context, alert *schema.Alert, source incident.Source) soar.Result
}

// RegisterDefaultActions binds the built-in correlation actions.
func RegisterDefaultActions(e *Engine, opener IncidentOpener, d dispatch.Dispatcher, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	e.RegisterAction(ActionCreateIncident, CreateIncidentAction(opener, logger))
	e.RegisterAction(ActionTriggerAccountProtection, HandOffAction(d, dispatch.TriggerAccountProtection))
	e.RegisterAction(ActionEscalateToSOC, HandOffAction(d, dispatch.EscalateToSOC))
}

// CreateIncidentAction synthesizes a correlation alert from the firing and
// opens an incident for it, running any playbooks that match.
func CreateIncidentAction(opener IncidentOpener, logger *slog.Logger) ActionFunc {
	return func(ctx context.Context, f Firing) error {
		alert := CorrelatedAlert(f)
		res := opener.OpenIncident(ctx, alert, incident.SourceCorrelation)
		if !res.Success {
			if res.Err != nil {
				return res.Err
			}
			return errors.New(res.Message)
		}
		logger.Info("correlated incident opened",
			"rule", f.Rule.Name,
			"incident_id", res.IncidentID,
			"playbooks", res.Playbooks,
		)
		return nil
	}
}

// HandOffAction dispatches the firing as the named hand-off.
func HandOffAction(d dispatch.Dispatcher, name string) ActionFunc {
	return func(ctx context.Context, f Firing) error {
		h := dispatch.HandOff{
			Rule:       f.Rule.Name,
			Severity:   f.Rule.Severity,
			EventCount: f.EventCount(),
			Context:    firingContext(f),
			CreatedAt:  f.FiredAt,
		}
		if err := d.Dispatch(ctx, name, h); err != nil {
			return fmt.Errorf("dispatch %s: %w", name, err)
		}
		return nil
	}
}

// CorrelatedAlert builds the alert raised for a firing.
func CorrelatedAlert(f Firing) *schema.Alert {
	return &schema.Alert{
		ID:        uuid.NewString(),
		Type:      AlertType,
		Source:    AlertSource,
		Severity:  f.Rule.Severity,
		Patterns:  []string{f.Rule.Name},
		Timestamp: f.FiredAt,
		Fields:    firingContext(f),
	}
}

func firingContext(f Firing) map[string]any {
	counts := make(map[string]any, len(f.Matches))
	var ids []string
	users := make(map[string]struct{})
	for _, m := range f.Matches {
		counts[m.Condition.Source+"/"+m.Condition.EventType] = len(m.Events)
		for _, ev := range m.Events {
			if len(ids) < maxEventIDs {
				ids = append(ids, ev.ID)
			}
			if ev.UserID != "" {
				users[ev.UserID] = struct{}{}
			}
		}
	}

	ctx := map[string]any{
		"rule":           f.Rule.Name,
		"time_window":    f.Rule.TimeWindow.String(),
		"event_count":    f.EventCount(),
		"event_counts":   counts,
		"event_ids":      ids,
		"affected_users": len(users),
	}
	if f.Rule.MITRE != nil {
		ctx["mitre_technique"] = f.Rule.MITRE.TechniqueID
	}
	return ctx
}
