// Package notify implements the notification router and the email, Slack,
// and webhook channel adapters. Adapters convert transport failures into
// error returns; the router converts those into per-channel booleans so one
// channel's failure never affects another.
package notify

import (
	"fmt"
	"strings"

	"github.com/kumodash/kumodash/internal/alerts"
)

// Channel identifiers accepted by the router.
const (
	ChannelEmail   = "email"
	ChannelSlack   = "slack"
	ChannelWebhook = "webhook"
)

// severityColor maps a severity to its presentation color (hex, no '#').
// Unknown severities fall back to a neutral grey.
func severityColor(s alerts.Severity) string {
	switch s {
	case alerts.SeverityInfo:
		return "2196F3"
	case alerts.SeverityWarning:
		return "FFAB40"
	case alerts.SeverityError:
		return "FF5722"
	case alerts.SeverityCritical:
		return "FF4F6A"
	default:
		return "9E9E9E"
	}
}

// severityEmoji maps a severity to its display icon, with a fallback for
// unknown severities.
func severityEmoji(s alerts.Severity) string {
	switch s {
	case alerts.SeverityInfo:
		return "ℹ️" // information
	case alerts.SeverityWarning:
		return "⚠️" // warning sign
	case alerts.SeverityError:
		return "\U0001f534" // red circle
	case alerts.SeverityCritical:
		return "\U0001f6a8" // rotating light
	default:
		return "\U0001f514" // bell
	}
}

// severityLabel returns the upper-cased display form of a severity.
func severityLabel(s alerts.Severity) string {
	return strings.ToUpper(string(s))
}

// conditionSummary renders a rule's condition as "type operator threshold",
// with the time window in seconds appended when one is set.
func conditionSummary(rule alerts.Rule) string {
	c := rule.Condition
	summary := fmt.Sprintf("%s %s %g", c.Type, c.Operator, c.Threshold)
	if c.TimeWindow > 0 {
		summary += fmt.Sprintf(" over %gs", c.TimeWindow.Seconds())
	}
	return summary
}

// formatTimestamp renders an alert timestamp for human-facing surfaces.
func formatTimestamp(p alerts.NotificationPayload) string {
	return p.Alert.Timestamp.UTC().Format("2006-01-02 15:04:05 UTC")
}
