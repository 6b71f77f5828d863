package notify

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/kumodash/kumodash/internal/alerts"
)

func TestSlackSend_Message(t *testing.T) {
	cs, srv := newCaptureServer(http.StatusOK)
	defer srv.Close()

	s := NewSlackSender(srv.URL, "#mail-ops")
	if err := s.Send(context.Background(), testPayload("a1"), ""); err != nil {
		t.Fatalf("Send: %v", err)
	}

	body := cs.last(t)
	if body["channel"] != "#mail-ops" {
		t.Errorf("channel: got %v, want #mail-ops", body["channel"])
	}
	atts := body["attachments"].([]any)
	if len(atts) != 1 {
		t.Fatalf("attachments: got %d, want 1", len(atts))
	}
	att := atts[0].(map[string]any)
	if att["color"] != "#FF4F6A" {
		t.Errorf("color: got %v, want #FF4F6A (critical)", att["color"])
	}
	title := att["title"].(string)
	if !strings.Contains(title, "deep queue") {
		t.Errorf("title %q must contain the rule name", title)
	}
	if att["footer"] != "KumoMTA Dashboard" {
		t.Errorf("footer: got %v", att["footer"])
	}

	p := testPayload("a1")
	wantTs := float64(p.Alert.Timestamp.UnixMilli() / 1000)
	// The fake payload uses a fresh timestamp per call, so allow one second
	// of skew between the two constructions.
	if got := att["ts"].(float64); got < wantTs-1 || got > wantTs+1 {
		t.Errorf("ts: got %v, want about %v (unix seconds)", got, wantTs)
	}

	fields := att["fields"].([]any)
	byTitle := map[string]string{}
	for _, f := range fields {
		m := f.(map[string]any)
		byTitle[m["title"].(string)] = m["value"].(string)
	}
	if byTitle["Severity"] != "CRITICAL" {
		t.Errorf("Severity field: got %q, want CRITICAL (upper-cased)", byTitle["Severity"])
	}
	if byTitle["Current Value"] != "1500.00" {
		t.Errorf("Current Value field: got %q, want 1500.00 (two decimals)", byTitle["Current Value"])
	}
	if byTitle["Condition"] != "queue_depth > 1000" {
		t.Errorf("Condition field: got %q, want %q", byTitle["Condition"], "queue_depth > 1000")
	}
	if byTitle["Alert ID"] != "a1" {
		t.Errorf("Alert ID field: got %q, want a1", byTitle["Alert ID"])
	}
}

func TestSlackSend_ChannelOverride(t *testing.T) {
	cs, srv := newCaptureServer(http.StatusOK)
	defer srv.Close()

	s := NewSlackSender(srv.URL, "#default")
	if err := s.Send(context.Background(), testPayload("a1"), "#override"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := cs.last(t)["channel"]; got != "#override" {
		t.Errorf("channel: got %v, want #override", got)
	}
}

func TestSlackSend_Unconfigured(t *testing.T) {
	s := NewSlackSender("", "")
	if err := s.Send(context.Background(), testPayload("a1"), ""); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("unconfigured send: got %v, want ErrNotConfigured", err)
	}
	if err := s.Verify(context.Background()); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("unconfigured verify: got %v, want ErrNotConfigured", err)
	}
}

func TestSlackSend_Non2xx(t *testing.T) {
	_, srv := newCaptureServer(http.StatusNotFound)
	defer srv.Close()

	s := NewSlackSender(srv.URL, "")
	if err := s.Send(context.Background(), testPayload("a1"), ""); err == nil {
		t.Error("Send to 404 endpoint: got nil error, want failure")
	}
}

func TestSlackVerify_NoAttachment(t *testing.T) {
	cs, srv := newCaptureServer(http.StatusOK)
	defer srv.Close()

	s := NewSlackSender(srv.URL, "")
	if err := s.Verify(context.Background()); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	body := cs.last(t)
	if _, hasAttachments := body["attachments"]; hasAttachments {
		t.Error("verify message must not carry an alert-shaped attachment")
	}
}

func TestConditionSummary_TimeWindowSeconds(t *testing.T) {
	r := alerts.Rule{Condition: alerts.Condition{
		Type:      alerts.ConditionBounceRate,
		Operator:  alerts.OpGreaterEqual,
		Threshold: 5,
	}}
	if got := conditionSummary(r); got != "bounce_rate >= 5" {
		t.Errorf("summary: got %q", got)
	}

	r.Condition.TimeWindow = 60 * time.Second
	if got := conditionSummary(r); got != "bounce_rate >= 5 over 60s" {
		t.Errorf("summary with window: got %q", got)
	}
}

func TestSeverityLookups_UnknownFallback(t *testing.T) {
	if severityColor("mystery") == "" {
		t.Error("unknown severity must map to a fallback color")
	}
	if severityEmoji("mystery") == "" {
		t.Error("unknown severity must map to a fallback emoji")
	}
	if severityColor(alerts.SeverityInfo) == severityColor("mystery") {
		t.Error("fallback color must differ from info")
	}
}
