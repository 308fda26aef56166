package storage

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"boundary-soar/internal/correlation"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Querier runs ClickHouse queries. *ClickHouseClient implements it.
type Querier interface {
	Query(ctx context.Context, query string, args ...any) (driver.Rows, error)
}

// ClickHouseEventSource counts SIEM events for correlation rules. A rule
// condition's source maps to source_product and its event type to action.
type ClickHouseEventSource struct {
	db        Querier
	table     string
	tenantID  string
	maxEvents int
}

// NewClickHouseEventSource creates an event source over the events table.
func NewClickHouseEventSource(db Querier, cfg ClickHouseConfig) (*ClickHouseEventSource, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &ClickHouseEventSource{
		db:        db,
		table:     cfg.Table,
		tenantID:  cfg.TenantID,
		maxEvents: cfg.MaxEvents,
	}, nil
}

func (s *ClickHouseEventSource) query(limit int) string {
	return fmt.Sprintf(`
		SELECT
			toString(event_id),
			timestamp,
			actor_id,
			actor_ip
		FROM %s
		WHERE tenant_id = ?
			AND source_product = ?
			AND action = ?
			AND timestamp >= ?
		ORDER BY timestamp DESC
		LIMIT %d
	`, s.table, limit)
}

// EventsForCorrelation returns the events of cond since the given time,
// newest first. The result is capped at the configured maximum or the
// condition threshold, whichever is larger, so a threshold stays reachable.
func (s *ClickHouseEventSource) EventsForCorrelation(ctx context.Context, cond correlation.RuleCondition, since time.Time) ([]correlation.Event, error) {
	limit := max(s.maxEvents, cond.Threshold)
	rows, err := s.db.Query(ctx, s.query(limit), s.tenantID, cond.Source, cond.EventType, since)
	if err != nil {
		return nil, WrapQueryError("EventsForCorrelation", s.table, err)
	}
	defer rows.Close()

	var events []correlation.Event
	for rows.Next() {
		e := correlation.Event{Source: cond.Source, EventType: cond.EventType}
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.UserID, &e.IPAddress); err != nil {
			return nil, WrapQueryError("Scan", s.table, err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, WrapQueryError("Rows", s.table, err)
	}
	return events, nil
}
