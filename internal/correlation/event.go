package correlation

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"boundary-soar/internal/kafka"

	"github.com/google/uuid"
)

// Event is a low-level security event counted by correlation rules.
type Event struct {
	ID        string         `json:"id"`
	Source    string         `json:"source"`
	EventType string         `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	UserID    string         `json:"user_id,omitempty"`
	IPAddress string         `json:"ip_address,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// EventSource returns the events of one condition that occurred since a
// point in time.
type EventSource interface {
	EventsForCorrelation(ctx context.Context, cond RuleCondition, since time.Time) ([]Event, error)
}

// DefaultRetention bounds how long MemoryEventSource keeps events.
const DefaultRetention = 24 * time.Hour

// MemoryEventSource keeps recent events in process memory. It is fed by the
// events consumer and is safe for concurrent use.
type MemoryEventSource struct {
	mu        sync.RWMutex
	events    map[sourceKey][]Event
	retention time.Duration
	maxEvents int
	now       func() time.Time
}

type sourceKey struct {
	source    string
	eventType string
}

// NewMemoryEventSource creates an in-memory event source. Events older than
// retention are dropped and at most maxEvents are kept per source and event
// type; zero values select the defaults.
func NewMemoryEventSource(retention time.Duration, maxEvents int) *MemoryEventSource {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if maxEvents <= 0 {
		maxEvents = 100000
	}
	return &MemoryEventSource{
		events:    make(map[sourceKey][]Event),
		retention: retention,
		maxEvents: maxEvents,
		now:       time.Now,
	}
}

// Add records an event. A missing ID or timestamp is filled in.
func (m *MemoryEventSource) Add(e Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = m.now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := sourceKey{e.Source, e.EventType}
	list := append(m.events[key], e)
	cutoff := m.now().Add(-m.retention)
	drop := 0
	for drop < len(list) && (list[drop].Timestamp.Before(cutoff) || len(list)-drop > m.maxEvents) {
		drop++
	}
	m.events[key] = list[drop:]
}

// EventsForCorrelation returns the matching events at or after since.
func (m *MemoryEventSource) EventsForCorrelation(ctx context.Context, cond RuleCondition, since time.Time) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Event
	for _, e := range m.events[sourceKey{cond.Source, cond.EventType}] {
		if !e.Timestamp.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Len returns the number of buffered events.
func (m *MemoryEventSource) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, list := range m.events {
		n += len(list)
	}
	return n
}

// HandleMessage decodes a JSON event from the events topic and records it.
func (m *MemoryEventSource) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var e Event
	if err := json.Unmarshal(msg.Value, &e); err != nil {
		return fmt.Errorf("decode event at offset %d: %w", msg.Offset, err)
	}
	if e.Source == "" || e.EventType == "" {
		return fmt.Errorf("event at offset %d: source and event_type are required", msg.Offset)
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = msg.Time
	}
	m.Add(e)
	return nil
}
