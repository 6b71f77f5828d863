package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kumodash/kumodash/internal/alerts"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kumodash.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
kumomta:
  endpoint: http://localhost:8000
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.HTTPPort != DefaultHTTPPort {
		t.Errorf("http_port: got %d, want default %d", cfg.Server.HTTPPort, DefaultHTTPPort)
	}
	if cfg.KumoMTA.PollInterval != DefaultPollInterval {
		t.Errorf("poll_interval: got %v, want default %v", cfg.KumoMTA.PollInterval, DefaultPollInterval)
	}
	if cfg.Store.TTL != DefaultStoreTTL {
		t.Errorf("store.ttl: got %v, want default %v", cfg.Store.TTL, DefaultStoreTTL)
	}
	if len(cfg.Rules) != 0 {
		t.Errorf("rules: got %d, want none", len(cfg.Rules))
	}
}

func TestLoadFull(t *testing.T) {
	path := writeConfig(t, `
server:
  http_port: 9090
kumomta:
  endpoint: http://mta:8000
  poll_interval: 10s
  api_key_env: KUMO_API_KEY
  header: x-api-key
store:
  ttl: 2m
channels:
  email:
    host: smtp.example.com
    port: 587
    username: dash
    password_env: SMTP_PASSWORD
    from: dash@example.com
    recipients: [ops@example.com]
  slack:
    webhook_url_env: SLACK_WEBHOOK_URL
    channel: "#mail-ops"
  webhook:
    url_env: ALERT_WEBHOOK_URL
rules:
  - id: deep-queue
    name: Deep queue
    enabled: true
    severity: critical
    condition:
      type: queue_depth
      operator: ">"
      threshold: 1000
    channels: [slack, webhook]
    throttle:
      period: 5m
      max_alerts: 3
  - id: bounce-spike
    name: Bounce spike
    enabled: true
    severity: warning
    condition:
      type: bounce_rate
      operator: ">="
      threshold: 5
      time_window: 10m
      aggregation: avg
    channels: [email]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.HTTPPort != 9090 {
		t.Errorf("http_port: got %d, want 9090", cfg.Server.HTTPPort)
	}
	if cfg.KumoMTA.PollInterval != 10*time.Second {
		t.Errorf("poll_interval: got %v, want 10s", cfg.KumoMTA.PollInterval)
	}
	if cfg.Store.TTL != 2*time.Minute {
		t.Errorf("store.ttl: got %v, want 2m", cfg.Store.TTL)
	}
	if cfg.Channels.Email.Host != "smtp.example.com" || cfg.Channels.Email.Port != 587 {
		t.Errorf("email channel: got %+v", cfg.Channels.Email)
	}
	if len(cfg.Rules) != 2 {
		t.Fatalf("rules: got %d, want 2", len(cfg.Rules))
	}
	r := cfg.Rules[0]
	if r.Condition.Type != alerts.ConditionQueueDepth || r.Condition.Operator != alerts.OpGreater {
		t.Errorf("rule[0].condition: got %+v", r.Condition)
	}
	if r.Throttle == nil || r.Throttle.Period != 5*time.Minute || r.Throttle.MaxAlerts != 3 {
		t.Errorf("rule[0].throttle: got %+v", r.Throttle)
	}
	if cfg.Rules[1].Condition.TimeWindow != 10*time.Minute {
		t.Errorf("rule[1].time_window: got %v, want 10m", cfg.Rules[1].Condition.TimeWindow)
	}
	if cfg.Rules[1].Condition.Aggregation != alerts.AggAvg {
		t.Errorf("rule[1].aggregation: got %q, want avg", cfg.Rules[1].Condition.Aggregation)
	}
}

func TestSecretsResolvedFromEnv(t *testing.T) {
	t.Setenv("TEST_SMTP_PASSWORD", "hunter2")
	t.Setenv("TEST_SLACK_URL", "https://hooks.slack.example/T000")
	t.Setenv("TEST_WEBHOOK_URL", "https://alerts.example/hook")
	t.Setenv("TEST_KUMO_KEY", "k-123")

	cfg := Config{
		KumoMTA: KumoMTAConfig{APIKeyEnv: "TEST_KUMO_KEY"},
		Channels: ChannelsConfig{
			Email:   EmailChannelConfig{PasswordEnv: "TEST_SMTP_PASSWORD"},
			Slack:   SlackChannelConfig{WebhookURLEnv: "TEST_SLACK_URL"},
			Webhook: WebhookChannelConfig{URLEnv: "TEST_WEBHOOK_URL"},
		},
	}

	if got := cfg.KumoMTA.APIKey(); got != "k-123" {
		t.Errorf("APIKey: got %q", got)
	}
	if got := cfg.Channels.Email.Password(); got != "hunter2" {
		t.Errorf("Password: got %q", got)
	}
	if got := cfg.Channels.Slack.WebhookURL(); got != "https://hooks.slack.example/T000" {
		t.Errorf("Slack WebhookURL: got %q", got)
	}
	if got := cfg.Channels.Webhook.URL(); got != "https://alerts.example/hook" {
		t.Errorf("Webhook URL: got %q", got)
	}

	empty := EmailChannelConfig{}
	if empty.Password() != "" {
		t.Error("empty env name must resolve to empty secret")
	}
}

func TestLoadValidationFailures(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{
			name: "missing endpoint",
			body: "server:\n  http_port: 8080\n",
			want: "endpoint",
		},
		{
			name: "bad port",
			body: "server:\n  http_port: 70000\nkumomta:\n  endpoint: http://x\n",
			want: "http_port",
		},
		{
			name: "negative poll interval",
			body: "kumomta:\n  endpoint: http://x\n  poll_interval: -1s\n",
			want: "poll_interval",
		},
		{
			name: "rule without id",
			body: `
kumomta:
  endpoint: http://x
rules:
  - name: n
    severity: info
    condition: {type: queue_depth, operator: ">", threshold: 1}
`,
			want: "rules[0]",
		},
		{
			name: "unknown severity",
			body: `
kumomta:
  endpoint: http://x
rules:
  - id: r
    name: n
    severity: fatal
    condition: {type: queue_depth, operator: ">", threshold: 1}
`,
			want: "severity",
		},
		{
			name: "unknown condition type",
			body: `
kumomta:
  endpoint: http://x
rules:
  - id: r
    name: n
    severity: info
    condition: {type: cpu_load, operator: ">", threshold: 1}
`,
			want: "condition.type",
		},
		{
			name: "unknown operator",
			body: `
kumomta:
  endpoint: http://x
rules:
  - id: r
    name: n
    severity: info
    condition: {type: queue_depth, operator: "~", threshold: 1}
`,
			want: "condition.operator",
		},
		{
			name: "unknown channel",
			body: `
kumomta:
  endpoint: http://x
rules:
  - id: r
    name: n
    severity: info
    condition: {type: queue_depth, operator: ">", threshold: 1}
    channels: [pager]
`,
			want: "channel",
		},
		{
			name: "throttle without period",
			body: `
kumomta:
  endpoint: http://x
rules:
  - id: r
    name: n
    severity: info
    condition: {type: queue_depth, operator: ">", threshold: 1}
    throttle: {max_alerts: 3}
`,
			want: "throttle.period",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			if err == nil {
				t.Fatal("Load: got nil error, want validation failure")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q must mention %q", err, tc.want)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Load of missing file: got nil error")
	}
}

func TestLoadBadYAML(t *testing.T) {
	if _, err := Load(writeConfig(t, "kumomta: [")); err == nil {
		t.Error("Load of malformed yaml: got nil error")
	}
}
