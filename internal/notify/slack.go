package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/kumodash/kumodash/internal/alerts"
)

const slackSendTimeout = 10 * time.Second

// SlackSender delivers alert notifications to a Slack incoming webhook as a
// colored attachment message.
type SlackSender struct {
	webhookURL     string
	defaultChannel string
	client         *http.Client
}

// NewSlackSender builds a SlackSender. An empty webhookURL leaves the
// adapter permanently unconfigured: every Send and Verify fails immediately
// without network I/O.
func NewSlackSender(webhookURL, defaultChannel string) *SlackSender {
	if webhookURL == "" {
		slog.Warn("notify: slack webhook URL not configured, slack channel disabled")
	}
	return &SlackSender{
		webhookURL:     webhookURL,
		defaultChannel: defaultChannel,
		client:         &http.Client{Timeout: slackSendTimeout},
	}
}

type slackMessage struct {
	Channel     string            `json:"channel,omitempty"`
	Attachments []slackAttachment `json:"attachments"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title"`
	Text   string       `json:"text"`
	Fields []slackField `json:"fields"`
	Footer string       `json:"footer"`
	Ts     int64        `json:"ts"` // Unix seconds
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// Send posts one alert as an attachment message. channelOverride, when
// non-empty, targets that channel instead of the configured default.
func (s *SlackSender) Send(ctx context.Context, p alerts.NotificationPayload, channelOverride string) error {
	if s.webhookURL == "" {
		return ErrNotConfigured
	}

	channel := channelOverride
	if channel == "" {
		channel = s.defaultChannel
	}

	msg := slackMessage{
		Channel: channel,
		Attachments: []slackAttachment{{
			Color: "#" + severityColor(p.Alert.Severity),
			Title: fmt.Sprintf("%s %s", severityEmoji(p.Alert.Severity), p.Rule.Name),
			Text:  p.Rule.Description,
			Fields: []slackField{
				{Title: "Severity", Value: severityLabel(p.Alert.Severity), Short: true},
				{Title: "Alert ID", Value: p.Alert.ID, Short: true},
				{Title: "Message", Value: p.Alert.Message},
				{Title: "Current Value", Value: fmt.Sprintf("%.2f", p.Alert.Value), Short: true},
				{Title: "Threshold", Value: fmt.Sprintf("%g", p.Alert.Threshold), Short: true},
				{Title: "Condition", Value: conditionSummary(p.Rule)},
				{Title: "Time", Value: formatTimestamp(p), Short: true},
			},
			Footer: "KumoMTA Dashboard",
			Ts:     p.Alert.Timestamp.UnixMilli() / 1000,
		}},
	}
	return s.post(ctx, msg)
}

// Verify posts a minimal connectivity-check message to the webhook. Slack
// incoming webhooks have no side-effect-free ping, so the check posts a
// short self-identifying line rather than an alert-shaped attachment.
func (s *SlackSender) Verify(ctx context.Context) error {
	if s.webhookURL == "" {
		return ErrNotConfigured
	}
	return s.post(ctx, map[string]string{
		"text": "kumodash channel verification, no action needed",
	})
}

func (s *SlackSender) post(ctx context.Context, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack returned HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(detail))
	}
	return nil
}
