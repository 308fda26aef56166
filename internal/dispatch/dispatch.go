// Package dispatch delivers hand-offs (escalations, tickets, notifications)
// from the SOAR engine to downstream integrations.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	soarerr "boundary-soar/internal/errors"
	"boundary-soar/internal/schema"

	"github.com/google/uuid"
)

// Well-known hand-off names.
const (
	EscalateToAnalyst        = "escalate_to_analyst"
	CreateHighPriorityTicket = "create_high_priority_ticket"
	EscalateToSOC            = "escalate_to_soc"
	NotifySecurityTeam       = "notify_security_team"
	TriggerAccountProtection = "trigger_account_protection"
)

// KnownHandOffs lists the hand-off names every router accepts.
var KnownHandOffs = []string{
	EscalateToAnalyst,
	CreateHighPriorityTicket,
	EscalateToSOC,
	NotifySecurityTeam,
	TriggerAccountProtection,
}

// HandOff is the payload delivered to downstream integrations.
type HandOff struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	IncidentID      string          `json:"incident_id,omitempty"`
	AlertID         string          `json:"alert_id,omitempty"`
	PlaybookID      string          `json:"playbook_id,omitempty"`
	Rule            string          `json:"rule,omitempty"`
	Severity        schema.Severity `json:"severity"`
	EscalationLevel int             `json:"escalation_level,omitempty"`
	EventCount      int             `json:"event_count,omitempty"`
	Context         map[string]any  `json:"context,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Dispatcher delivers named hand-offs.
type Dispatcher interface {
	Dispatch(ctx context.Context, name string, h HandOff) error
}

// Channel is a delivery target for hand-offs.
type Channel interface {
	Name() string
	Send(ctx context.Context, h HandOff) error
}

// Config configures delivery retries and routing.
type Config struct {
	MaxAttempts    int                 `yaml:"max_attempts"`
	InitialBackoff time.Duration       `yaml:"initial_backoff"`
	MaxBackoff     time.Duration       `yaml:"max_backoff"`
	AttemptTimeout time.Duration       `yaml:"attempt_timeout"`
	Routes         map[string][]string `yaml:"routes"`
}

// DefaultConfig returns delivery defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		AttemptTimeout: 10 * time.Second,
	}
}

// DeliveryStatus is the outcome of delivering to one channel.
type DeliveryStatus string

const (
	DeliverySent       DeliveryStatus = "sent"
	DeliveryDeadLetter DeliveryStatus = "dead_letter"
)

// DeliveryRecord tracks the delivery of one hand-off to one channel.
type DeliveryRecord struct {
	HandOffID string         `json:"handoff_id"`
	Name      string         `json:"name"`
	Channel   string         `json:"channel"`
	Status    DeliveryStatus `json:"status"`
	Attempts  int            `json:"attempts"`
	LastError string         `json:"last_error,omitempty"`
	At        time.Time      `json:"at"`
}

// maxDeadLetters bounds the in-memory dead-letter list.
const maxDeadLetters = 1000

// Router maps hand-off names to channels and delivers with retries. A name
// without an explicit route goes to the default channels.
type Router struct {
	config   Config
	logger   *slog.Logger
	mu       sync.RWMutex
	channels map[string]Channel
	defaults []string
	dead     []DeliveryRecord
	sent     int
}

// NewRouter creates a router. Channels are added with AddChannel.
func NewRouter(cfg Config, logger *slog.Logger) *Router {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		config:   cfg,
		logger:   logger,
		channels: make(map[string]Channel),
	}
}

// AddChannel registers a channel. Default channels receive every hand-off
// that has no explicit route.
func (r *Router) AddChannel(ch Channel, isDefault bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[ch.Name()] = ch
	if isDefault && !slices.Contains(r.defaults, ch.Name()) {
		r.defaults = append(r.defaults, ch.Name())
	}
}

// Accepts reports whether name is a routable hand-off.
func (r *Router) Accepts(name string) bool {
	if slices.Contains(KnownHandOffs, name) {
		return true
	}
	_, ok := r.config.Routes[name]
	return ok
}

// Dispatch delivers h to every channel routed for name. Delivery is
// synchronous so that hand-offs leave in the order they were requested.
func (r *Router) Dispatch(ctx context.Context, name string, h HandOff) error {
	if !r.Accepts(name) {
		return fmt.Errorf("%w: %s", soarerr.ErrUnknownHandOff, name)
	}
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	h.Name = name
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now()
	}

	targets := r.targets(name)
	if len(targets) == 0 {
		r.logger.Warn("hand-off has no delivery channel", "handoff", name, "incident_id", h.IncidentID)
		return nil
	}

	var errs []error
	for _, ch := range targets {
		if err := r.deliver(ctx, ch, h); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ch.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (r *Router) targets(name string) []Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names, routed := r.config.Routes[name]
	if !routed {
		names = r.defaults
	}
	out := make([]Channel, 0, len(names))
	for _, n := range names {
		if ch, ok := r.channels[n]; ok {
			out = append(out, ch)
		} else {
			r.logger.Warn("hand-off route names unknown channel", "handoff", name, "channel", n)
		}
	}
	return out
}

// deliver attempts delivery with exponential backoff and records a dead
// letter when every attempt fails.
func (r *Router) deliver(ctx context.Context, ch Channel, h HandOff) error {
	backoff := r.config.InitialBackoff
	var lastErr error

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		attemptCtx := ctx
		cancel := func() {}
		if r.config.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, r.config.AttemptTimeout)
		}
		lastErr = ch.Send(attemptCtx, h)
		cancel()

		if lastErr == nil {
			r.mu.Lock()
			r.sent++
			r.mu.Unlock()
			r.logger.Debug("hand-off delivered",
				"handoff", h.Name,
				"channel", ch.Name(),
				"incident_id", h.IncidentID,
				"attempts", attempt,
			)
			return nil
		}

		r.logger.Warn("hand-off delivery failed",
			"handoff", h.Name,
			"channel", ch.Name(),
			"attempt", attempt,
			"error", lastErr,
		)

		if attempt < r.config.MaxAttempts {
			select {
			case <-ctx.Done():
				r.deadLetter(ch, h, attempt, ctx.Err())
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if r.config.MaxBackoff > 0 && backoff > r.config.MaxBackoff {
				backoff = r.config.MaxBackoff
			}
		}
	}

	r.deadLetter(ch, h, r.config.MaxAttempts, lastErr)
	return lastErr
}

func (r *Router) deadLetter(ch Channel, h HandOff, attempts int, err error) {
	rec := DeliveryRecord{
		HandOffID: h.ID,
		Name:      h.Name,
		Channel:   ch.Name(),
		Status:    DeliveryDeadLetter,
		Attempts:  attempts,
		At:        time.Now(),
	}
	if err != nil {
		rec.LastError = err.Error()
	}

	r.mu.Lock()
	r.dead = append(r.dead, rec)
	if len(r.dead) > maxDeadLetters {
		r.dead = r.dead[len(r.dead)-maxDeadLetters:]
	}
	r.mu.Unlock()

	r.logger.Error("hand-off moved to dead letter list",
		"handoff", h.Name,
		"channel", ch.Name(),
		"incident_id", h.IncidentID,
		"attempts", attempts,
		"error", rec.LastError,
	)
}

// DeadLetters returns the failed deliveries.
func (r *Router) DeadLetters() []DeliveryRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]DeliveryRecord, len(r.dead))
	copy(out, r.dead)
	return out
}

// Stats returns delivery counters.
func (r *Router) Stats() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.channels))
	for n := range r.channels {
		names = append(names, n)
	}
	slices.Sort(names)
	return map[string]any{
		"delivered":         r.sent,
		"dead_letter_count": len(r.dead),
		"channels":          names,
	}
}
