package api

import (
	"time"

	"github.com/kumodash/kumodash/internal/alerts"
)

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	Connected      bool `json:"connected"`
	RuleCount      int  `json:"rule_count"`
	AlertCount     int  `json:"alert_count"`
	Unacknowledged int  `json:"unacknowledged_count"`
	QueueCount     int  `json:"queue_count"`
}

// QueueResponse is one queue entry in GET /api/v1/queues.
type QueueResponse struct {
	QueueName string  `json:"queue_name"`
	Size      float64 `json:"size"`
	Ready     float64 `json:"ready"`
	Scheduled float64 `json:"scheduled"`
	LastSeen  string  `json:"last_seen"` // RFC3339
}

// RuleResponse is the JSON representation of an alert rule. Durations cross
// the wire in milliseconds.
type RuleResponse struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Enabled     bool              `json:"enabled"`
	Severity    string            `json:"severity"`
	Condition   ConditionResponse `json:"condition"`
	Channels    []string          `json:"channels"`
	Throttle    *ThrottleResponse `json:"throttle,omitempty"`
}

// ConditionResponse is the wire form of a rule condition.
type ConditionResponse struct {
	Type        string  `json:"type"`
	Operator    string  `json:"operator"`
	Threshold   float64 `json:"threshold"`
	TimeWindow  int64   `json:"time_window_ms,omitempty"`
	Aggregation string  `json:"aggregation,omitempty"`
}

// ThrottleResponse is the wire form of a rule throttle.
type ThrottleResponse struct {
	Period    int64 `json:"period_ms"`
	MaxAlerts int   `json:"max_alerts"`
}

// verifyRequest is the body of POST /api/v1/channels/verify.
type verifyRequest struct {
	Channels []string `json:"channels"`
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}

// toRuleResponse maps an alerts.Rule to its JSON representation.
func toRuleResponse(r alerts.Rule) RuleResponse {
	out := RuleResponse{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Enabled:     r.Enabled,
		Severity:    string(r.Severity),
		Condition: ConditionResponse{
			Type:        string(r.Condition.Type),
			Operator:    string(r.Condition.Operator),
			Threshold:   r.Condition.Threshold,
			TimeWindow:  r.Condition.TimeWindow.Milliseconds(),
			Aggregation: string(r.Condition.Aggregation),
		},
		Channels: r.Channels,
	}
	if r.Throttle != nil {
		out.Throttle = &ThrottleResponse{
			Period:    r.Throttle.Period.Milliseconds(),
			MaxAlerts: r.Throttle.MaxAlerts,
		}
	}
	return out
}

// fromRuleResponse maps the wire form back to an alerts.Rule.
func fromRuleResponse(r RuleResponse) alerts.Rule {
	out := alerts.Rule{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Enabled:     r.Enabled,
		Severity:    alerts.Severity(r.Severity),
		Condition: alerts.Condition{
			Type:        alerts.ConditionType(r.Condition.Type),
			Operator:    alerts.Operator(r.Condition.Operator),
			Threshold:   r.Condition.Threshold,
			TimeWindow:  time.Duration(r.Condition.TimeWindow) * time.Millisecond,
			Aggregation: alerts.Aggregation(r.Condition.Aggregation),
		},
		Channels: r.Channels,
	}
	if r.Throttle != nil {
		out.Throttle = &alerts.Throttle{
			Period:    time.Duration(r.Throttle.Period) * time.Millisecond,
			MaxAlerts: r.Throttle.MaxAlerts,
		}
	}
	return out
}
