package soar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	soarerr "boundary-soar/internal/errors"
	"boundary-soar/internal/kafka"
	"boundary-soar/internal/metrics"
	"boundary-soar/internal/schema"
)

// HandleAlertMessage decodes an alert record and processes it. It is the
// handler for the alert topic consumer. An alert that matches no playbook
// is not an error.
func (e *Engine) HandleAlertMessage(ctx context.Context, msg kafka.Message) error {
	var alert schema.Alert
	if err := json.Unmarshal(msg.Value, &alert); err != nil {
		e.metrics.AlertProcessed(metrics.OutcomeInvalid)
		return fmt.Errorf("decode alert at offset %d: %w", msg.Offset, err)
	}

	res := e.ProcessAlert(ctx, &alert)
	if res.Err != nil && !errors.Is(res.Err, soarerr.ErrNoMatchingPlaybooks) {
		return fmt.Errorf("alert %s: %w", alert.ID, res.Err)
	}
	return nil
}
