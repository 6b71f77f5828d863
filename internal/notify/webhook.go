package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/kumodash/kumodash/internal/alerts"
)

// Version is stamped into the webhook metadata envelope.
const Version = "1.0.0"

const (
	webhookSendTimeout  = 10 * time.Second
	webhookBatchTimeout = 30 * time.Second
)

// ErrNotConfigured is returned by adapters whose required configuration was
// absent at construction. The adapter stays unconfigured for its lifetime.
var ErrNotConfigured = errors.New("notify: channel not configured")

// WebhookSender delivers alert notifications as JSON envelopes to a generic
// webhook endpoint.
type WebhookSender struct {
	defaultURL string
	client     *http.Client
	batch      *http.Client
}

// NewWebhookSender builds a WebhookSender with defaultURL as the target when
// no per-call override is given. An empty defaultURL leaves the adapter
// usable only with explicit URL overrides; if both are empty, sends fail
// without network I/O.
func NewWebhookSender(defaultURL string) *WebhookSender {
	if defaultURL == "" {
		slog.Warn("notify: webhook URL not configured, webhook channel needs per-call overrides")
	}
	return &WebhookSender{
		defaultURL: defaultURL,
		client:     &http.Client{Timeout: webhookSendTimeout},
		batch:      &http.Client{Timeout: webhookBatchTimeout},
	}
}

// webhookEnvelope is the single-alert wire format.
type webhookEnvelope struct {
	Event     string          `json:"event"`
	Timestamp int64           `json:"timestamp"` // milliseconds
	Alert     webhookAlert    `json:"alert"`
	Rule      webhookRule     `json:"rule"`
	Metadata  webhookMetadata `json:"metadata"`
}

// webhookBatchEnvelope is the batch wire format: the per-item shape nested
// under alerts, plus a count in the metadata.
type webhookBatchEnvelope struct {
	Event     string          `json:"event"`
	Timestamp int64           `json:"timestamp"`
	Alerts    []webhookItem   `json:"alerts"`
	Metadata  webhookMetadata `json:"metadata"`
}

type webhookItem struct {
	Alert webhookAlert `json:"alert"`
	Rule  webhookRule  `json:"rule"`
}

type webhookAlert struct {
	ID           string  `json:"id"`
	Severity     string  `json:"severity"`
	Message      string  `json:"message"`
	Acknowledged bool    `json:"acknowledged"`
	Value        float64 `json:"value"`
	Threshold    float64 `json:"threshold"`
}

type webhookRule struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Condition   webhookCondition `json:"condition"`
}

type webhookCondition struct {
	Type       string  `json:"type"`
	Operator   string  `json:"operator"`
	Threshold  float64 `json:"threshold"`
	TimeWindow int64   `json:"timeWindow,omitempty"` // milliseconds
}

type webhookMetadata struct {
	Source  string `json:"source"`
	Version string `json:"version"`
	Count   int    `json:"count,omitempty"`
}

// Send delivers one alert envelope. urlOverride, when non-empty, replaces
// the configured default URL for this call only.
func (s *WebhookSender) Send(ctx context.Context, p alerts.NotificationPayload, urlOverride string) error {
	url := s.target(urlOverride)
	if url == "" {
		return ErrNotConfigured
	}

	env := webhookEnvelope{
		Event:     "kumomta.alert",
		Timestamp: time.Now().UnixMilli(),
		Alert:     toWebhookAlert(p.Alert),
		Rule:      toWebhookRule(p.Rule),
		Metadata:  webhookMetadata{Source: "kumodash", Version: Version},
	}
	return s.post(ctx, s.client, url, env)
}

// SendBatch delivers all payloads in a single request. The webhook format
// carries arrays natively, so a batch is one external call regardless of
// payload count.
func (s *WebhookSender) SendBatch(ctx context.Context, payloads []alerts.NotificationPayload, urlOverride string) error {
	url := s.target(urlOverride)
	if url == "" {
		return ErrNotConfigured
	}

	items := make([]webhookItem, 0, len(payloads))
	for _, p := range payloads {
		items = append(items, webhookItem{
			Alert: toWebhookAlert(p.Alert),
			Rule:  toWebhookRule(p.Rule),
		})
	}
	env := webhookBatchEnvelope{
		Event:     "kumomta.alerts.batch",
		Timestamp: time.Now().UnixMilli(),
		Alerts:    items,
		Metadata:  webhookMetadata{Source: "kumodash", Version: Version, Count: len(items)},
	}
	return s.post(ctx, s.batch, url, env)
}

// Verify posts an innocuous test envelope to the configured URL. The test
// event name keeps receivers from surfacing it as a real alert.
func (s *WebhookSender) Verify(ctx context.Context) error {
	if s.defaultURL == "" {
		return ErrNotConfigured
	}
	env := map[string]any{
		"event":     "kumomta.test",
		"timestamp": time.Now().UnixMilli(),
		"metadata":  webhookMetadata{Source: "kumodash", Version: Version},
	}
	return s.post(ctx, s.client, s.defaultURL, env)
}

func (s *WebhookSender) target(override string) string {
	if override != "" {
		return override
	}
	return s.defaultURL
}

func (s *WebhookSender) post(ctx context.Context, client *http.Client, url string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(detail))
	}
	return nil
}

func toWebhookAlert(a alerts.Alert) webhookAlert {
	return webhookAlert{
		ID:           a.ID,
		Severity:     string(a.Severity),
		Message:      a.Message,
		Acknowledged: a.Acknowledged,
		Value:        a.Value,
		Threshold:    a.Threshold,
	}
}

func toWebhookRule(r alerts.Rule) webhookRule {
	return webhookRule{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Condition: webhookCondition{
			Type:       string(r.Condition.Type),
			Operator:   string(r.Condition.Operator),
			Threshold:  r.Condition.Threshold,
			TimeWindow: r.Condition.TimeWindow.Milliseconds(),
		},
	}
}
