package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"boundary-soar/internal/logging"
	"boundary-soar/internal/schema"
)

// Publisher is implemented by *kafka.Producer.
type Publisher interface {
	PublishJSON(ctx context.Context, key string, value any, headers map[string]string) error
}

// KafkaChannel publishes hand-offs to the hand-off topic, keyed by incident.
type KafkaChannel struct {
	publisher Publisher
}

// NewKafkaChannel creates a Kafka-backed channel.
func NewKafkaChannel(p Publisher) *KafkaChannel {
	return &KafkaChannel{publisher: p}
}

func (k *KafkaChannel) Name() string {
	return "kafka"
}

func (k *KafkaChannel) Send(ctx context.Context, h HandOff) error {
	key := h.IncidentID
	if key == "" {
		key = h.ID
	}
	return k.publisher.PublishJSON(ctx, key, h, map[string]string{
		"handoff":  h.Name,
		"severity": string(h.Severity),
	})
}

// WebhookChannel POSTs hand-offs as JSON.
type WebhookChannel struct {
	name    string
	url     string
	headers map[string]string
	client  *http.Client
}

// NewWebhookChannel creates a webhook channel.
func NewWebhookChannel(name, url string, headers map[string]string) *WebhookChannel {
	return &WebhookChannel{
		name:    name,
		url:     url,
		headers: headers,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (w *WebhookChannel) Name() string {
	return w.name
}

func (w *WebhookChannel) Send(ctx context.Context, h HandOff) error {
	h.Context = logging.SafeContext(h.Context)
	payload, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("failed to marshal hand-off: %w", err)
	}
	return post(ctx, w.client, w.url, payload, w.headers)
}

// SlackChannel posts a formatted message to a Slack incoming webhook.
type SlackChannel struct {
	webhookURL string
	channel    string
	username   string
	client     *http.Client
}

// NewSlackChannel creates a Slack channel.
func NewSlackChannel(webhookURL, channel, username string) *SlackChannel {
	return &SlackChannel{
		webhookURL: webhookURL,
		channel:    channel,
		username:   username,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (s *SlackChannel) Name() string {
	return "slack"
}

func (s *SlackChannel) Send(ctx context.Context, h HandOff) error {
	payload := map[string]any{
		"channel":  s.channel,
		"username": s.username,
		"attachments": []map[string]any{
			{
				"color":  severityColor(h.Severity),
				"title":  fmt.Sprintf("[%s] %s", strings.ToUpper(string(h.Severity)), slackTitle(h)),
				"fields": slackFields(h),
				"footer": fmt.Sprintf("Hand-off: %s | Incident: %s", h.Name, shortID(h.IncidentID)),
				"ts":     h.CreatedAt.Unix(),
			},
		},
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return post(ctx, s.client, s.webhookURL, data, nil)
}

func slackTitle(h HandOff) string {
	switch {
	case h.Rule != "":
		return fmt.Sprintf("Correlation rule %s fired", h.Rule)
	case h.PlaybookID != "":
		return fmt.Sprintf("Playbook %s escalated", h.PlaybookID)
	}
	return h.Name
}

func slackFields(h HandOff) []map[string]any {
	fields := []map[string]any{
		{"title": "Severity", "value": string(h.Severity), "short": true},
	}
	if h.EscalationLevel > 0 {
		fields = append(fields, map[string]any{
			"title": "Escalation level", "value": fmt.Sprintf("%d", h.EscalationLevel), "short": true,
		})
	}
	if h.EventCount > 0 {
		fields = append(fields, map[string]any{
			"title": "Events", "value": fmt.Sprintf("%d", h.EventCount), "short": true,
		})
	}
	if h.AlertID != "" {
		fields = append(fields, map[string]any{
			"title": "Alert", "value": h.AlertID, "short": true,
		})
	}
	return fields
}

func severityColor(sev schema.Severity) string {
	switch sev {
	case schema.SeverityCritical:
		return "#FF0000"
	case schema.SeverityHigh:
		return "#FFA500"
	case schema.SeverityMedium:
		return "#FFFF00"
	case schema.SeverityLow:
		return "#00FF00"
	}
	return "#808080"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func post(ctx context.Context, client *http.Client, url string, body []byte, headers map[string]string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("endpoint returned %d: %s", resp.StatusCode, string(msg))
	}
	return nil
}

// LogChannel writes hand-offs to the structured log. It is the fallback
// when no integration is configured.
type LogChannel struct {
	logger *slog.Logger
}

// NewLogChannel creates a log channel.
func NewLogChannel(logger *slog.Logger) *LogChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogChannel{logger: logger}
}

func (l *LogChannel) Name() string {
	return "log"
}

func (l *LogChannel) Send(ctx context.Context, h HandOff) error {
	l.logger.Info("hand-off",
		"handoff", h.Name,
		"incident_id", h.IncidentID,
		"severity", h.Severity,
		"escalation_level", h.EscalationLevel,
		"rule", h.Rule,
	)
	return nil
}

// Recorder is an in-memory Dispatcher that records every hand-off.
type Recorder struct {
	mu       sync.Mutex
	handOffs []HandOff
	err      error
}

// NewRecorder creates a recorder. If err is non-nil every dispatch fails
// with it after being recorded.
func NewRecorder(err error) *Recorder {
	return &Recorder{err: err}
}

func (r *Recorder) Dispatch(ctx context.Context, name string, h HandOff) error {
	h.Name = name
	r.mu.Lock()
	r.handOffs = append(r.handOffs, h)
	r.mu.Unlock()
	return r.err
}

// HandOffs returns the recorded hand-offs in dispatch order.
func (r *Recorder) HandOffs() []HandOff {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]HandOff, len(r.handOffs))
	copy(out, r.handOffs)
	return out
}

// Names returns the recorded hand-off names in dispatch order.
func (r *Recorder) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.handOffs))
	for i, h := range r.handOffs {
		out[i] = h.Name
	}
	return out
}
