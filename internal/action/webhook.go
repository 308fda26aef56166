package action

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	soarerr "boundary-soar/internal/errors"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// WebhookConfig declares an action served by an HTTP endpoint.
type WebhookConfig struct {
	Name    string            `yaml:"name" validate:"required"`
	URL     string            `yaml:"url" validate:"required,url"`
	Method  string            `yaml:"method,omitempty" validate:"omitempty,oneof=POST PUT"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Inputs  []string          `yaml:"inputs,omitempty"`
	Outputs []string          `yaml:"outputs,omitempty"`
}

// maxWebhookResponse bounds the decoded response body.
const maxWebhookResponse = 1 << 20

var webhookValidator = validator.New()

// NewWebhookAction creates an action that POSTs its inputs as JSON and
// returns the decoded JSON object as outputs. The request is bound to the
// step context, so the step timeout aborts it.
func NewWebhookAction(cfg WebhookConfig, client *http.Client) (Action, error) {
	if err := webhookValidator.Struct(cfg); err != nil {
		return Action{}, soarerr.InvalidDefinition("webhook action", cfg.Name, err)
	}
	if client == nil {
		client = &http.Client{}
	}
	method := cfg.Method
	if method == "" {
		method = http.MethodPost
	}

	run := func(ctx context.Context, in Inputs) (Outputs, error) {
		payload, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal inputs: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, method, cfg.URL, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-SOAR-Action", cfg.Name)
		for k, v := range cfg.Headers {
			req.Header.Set(k, os.ExpandEnv(v))
		}

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("webhook request failed: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxWebhookResponse))
		if err != nil {
			return nil, fmt.Errorf("failed to read webhook response: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("webhook returned %d: %s", resp.StatusCode, string(body))
		}

		out := Outputs{}
		if len(bytes.TrimSpace(body)) == 0 {
			return out, nil
		}
		if err := json.Unmarshal(body, &out); err != nil {
			return nil, fmt.Errorf("webhook response is not a JSON object: %w", err)
		}
		return out, nil
	}

	return Action{
		Name:    cfg.Name,
		Inputs:  cfg.Inputs,
		Outputs: cfg.Outputs,
		Run:     run,
	}, nil
}

// ParseWebhooks parses a YAML document with a top-level "actions" list.
func ParseWebhooks(data []byte) ([]WebhookConfig, error) {
	var doc struct {
		Actions []WebhookConfig `yaml:"actions"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse actions: %w", err)
	}
	return doc.Actions, nil
}

// LoadWebhooks reads webhook action definitions from a file and builds
// actions sharing one HTTP client.
func LoadWebhooks(path string, timeout time.Duration) ([]Action, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	cfgs, err := ParseWebhooks(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	client := &http.Client{Timeout: timeout}
	actions := make([]Action, 0, len(cfgs))
	for _, cfg := range cfgs {
		a, err := NewWebhookAction(cfg, client)
		if err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	return actions, nil
}
