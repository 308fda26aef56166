package correlation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultInterval is the time between evaluation passes.
const DefaultInterval = 60 * time.Second

// Match holds the events that satisfied one rule condition.
type Match struct {
	Condition RuleCondition `json:"condition"`
	Events    []Event       `json:"events"`
}

// Firing describes one rule firing.
type Firing struct {
	Rule    *Rule     `json:"rule"`
	Matches []Match   `json:"matches"`
	FiredAt time.Time `json:"fired_at"`
}

// EventCount returns the number of matched events across all conditions.
func (f Firing) EventCount() int {
	n := 0
	for _, m := range f.Matches {
		n += len(m.Events)
	}
	return n
}

// ActionFunc handles a rule firing.
type ActionFunc func(ctx context.Context, f Firing) error

// Recorder receives correlation measurements. *metrics.Metrics implements it.
type Recorder interface {
	RuleFired(rule string)
	RuleFailed(rule string)
	PassFinished(d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RuleFired(string)           {}
func (nopRecorder) RuleFailed(string)          {}
func (nopRecorder) PassFinished(time.Duration) {}

// Config configures the correlation engine.
type Config struct {
	Interval time.Duration `yaml:"interval"`
	// QueryTimeout bounds each event source query. Zero means no bound
	// beyond the pass context.
	QueryTimeout time.Duration `yaml:"query_timeout"`
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		Interval:     DefaultInterval,
		QueryTimeout: 10 * time.Second,
	}
}

// Engine evaluates correlation rules on a fixed interval, independently of
// alert processing.
type Engine struct {
	config  Config
	rules   *Registry
	source  EventSource
	metrics Recorder
	logger  *slog.Logger
	now     func() time.Time

	mu        sync.Mutex
	actions   map[string]ActionFunc
	lastFired map[string]time.Time
}

// NewEngine creates a correlation engine over rules and source.
func NewEngine(cfg Config, rules *Registry, source EventSource, metrics Recorder, logger *slog.Logger) *Engine {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if metrics == nil {
		metrics = nopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		config:    cfg,
		rules:     rules,
		source:    source,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
		actions:   make(map[string]ActionFunc),
		lastFired: make(map[string]time.Time),
	}
}

// RegisterAction binds a rule action name to a handler.
func (e *Engine) RegisterAction(name string, fn ActionFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.actions[name] = fn
}

// Rules returns the rule registry.
func (e *Engine) Rules() *Registry {
	return e.rules
}

// Run evaluates every rule once per interval until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.config.Interval)
	defer ticker.Stop()

	e.logger.Info("correlation engine started",
		"rules", e.rules.Len(),
		"interval", e.config.Interval,
	)

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("correlation engine stopped")
			return
		case <-ticker.C:
			e.Evaluate(ctx)
		}
	}
}

// Evaluate runs one pass over all rules and returns the names of the rules
// that fired. A failing rule is logged and does not stop the pass.
func (e *Engine) Evaluate(ctx context.Context) []string {
	start := time.Now()
	defer func() { e.metrics.PassFinished(time.Since(start)) }()

	now := e.now()
	var fired []string
	for _, rule := range e.rules.All() {
		if ctx.Err() != nil {
			break
		}
		ok, err := e.evaluateRule(ctx, rule, now)
		if err != nil {
			e.metrics.RuleFailed(rule.Name)
			e.logger.Error("correlation rule failed", "rule", rule.Name, "error", err)
			continue
		}
		if ok {
			fired = append(fired, rule.Name)
		}
	}
	return fired
}

func (e *Engine) evaluateRule(ctx context.Context, rule *Rule, now time.Time) (fired bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rule evaluation panicked: %v", r)
		}
	}()

	if e.suppressed(rule, now) {
		return false, nil
	}

	since := now.Add(-rule.TimeWindow)
	matches := make([]Match, 0, len(rule.Conditions))
	for _, cond := range rule.Conditions {
		events, err := e.query(ctx, cond, since)
		if err != nil {
			return false, fmt.Errorf("query %s: %w", cond, err)
		}
		if !cond.Passes(len(events)) {
			return false, nil
		}
		matches = append(matches, Match{Condition: cond, Events: events})
	}

	e.mu.Lock()
	fn, ok := e.actions[rule.Action]
	e.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("unknown correlation action %q", rule.Action)
	}

	f := Firing{Rule: rule, Matches: matches, FiredAt: now}
	e.metrics.RuleFired(rule.Name)
	e.logger.Warn("correlation rule fired",
		"rule", rule.Name,
		"action", rule.Action,
		"severity", rule.Severity,
		"events", f.EventCount(),
	)
	if err := fn(ctx, f); err != nil {
		return true, fmt.Errorf("action %s: %w", rule.Action, err)
	}

	// Only a successful fire starts the quiet period.
	e.mu.Lock()
	e.lastFired[rule.Name] = now
	e.mu.Unlock()
	return true, nil
}

func (e *Engine) query(ctx context.Context, cond RuleCondition, since time.Time) ([]Event, error) {
	if e.config.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.QueryTimeout)
		defer cancel()
	}
	return e.source.EventsForCorrelation(ctx, cond, since)
}

func (e *Engine) suppressed(rule *Rule, now time.Time) bool {
	if rule.SuppressFor <= 0 {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	last, ok := e.lastFired[rule.Name]
	return ok && now.Sub(last) < rule.SuppressFor
}
