// Package alerts implements the rule model, the condition evaluator, and the
// engine that turns metric and queue samples into alerts and hands them to
// the notification router.
package alerts

import "time"

// Severity is the operator-facing weight of a rule and its alerts.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// ConditionType selects the metric dimension a rule inspects.
type ConditionType string

const (
	ConditionQueueDepth       ConditionType = "queue_depth"
	ConditionBounceRate       ConditionType = "bounce_rate"
	ConditionDeliveryRate     ConditionType = "delivery_rate"
	ConditionDomainSuspension ConditionType = "domain_suspension"
	ConditionSystemHealth     ConditionType = "system_health"
)

// Operator is the comparison applied between the measured value and the
// threshold. Comparisons are exact, including == and != on floating-point
// rates.
type Operator string

const (
	OpGreater      Operator = ">"
	OpLess         Operator = "<"
	OpGreaterEqual Operator = ">="
	OpLessEqual    Operator = "<="
	OpEqual        Operator = "=="
	OpNotEqual     Operator = "!="
)

// Aggregation selects how windowed samples are reduced before comparison.
type Aggregation string

const (
	AggAvg Aggregation = "avg"
	AggSum Aggregation = "sum"
	AggMax Aggregation = "max"
	AggMin Aggregation = "min"
)

// Condition is the trigger expression of a rule. TimeWindow, when non-zero,
// aggregates samples over that duration before comparing; a zero window
// compares the latest sample only.
type Condition struct {
	Type        ConditionType `yaml:"type" json:"type"`
	Operator    Operator      `yaml:"operator" json:"operator"`
	Threshold   float64       `yaml:"threshold" json:"threshold"`
	TimeWindow  time.Duration `yaml:"time_window,omitempty" json:"time_window,omitempty"`
	Aggregation Aggregation   `yaml:"aggregation,omitempty" json:"aggregation,omitempty"`
}

// Throttle caps alert frequency per rule: at most MaxAlerts fires within any
// rolling Period. Applied by the engine, never by the evaluator.
type Throttle struct {
	Period    time.Duration `yaml:"period" json:"period"`
	MaxAlerts int           `yaml:"max_alerts" json:"max_alerts"`
}

// Rule is one configured alert rule. Rules are evaluated repeatedly but
// mutated only through explicit engine operations.
type Rule struct {
	ID          string    `yaml:"id" json:"id"`
	Name        string    `yaml:"name" json:"name"`
	Description string    `yaml:"description,omitempty" json:"description,omitempty"`
	Enabled     bool      `yaml:"enabled" json:"enabled"`
	Severity    Severity  `yaml:"severity" json:"severity"`
	Condition   Condition `yaml:"condition" json:"condition"`
	Channels    []string  `yaml:"channels" json:"channels"`
	Throttle    *Throttle `yaml:"throttle,omitempty" json:"throttle,omitempty"`
}

// Alert is one rule-trigger artifact. Acknowledged is the only field mutated
// after creation.
type Alert struct {
	ID           string    `json:"id"`
	RuleID       string    `json:"rule_id"`
	RuleName     string    `json:"rule_name"`
	Severity     Severity  `json:"severity"`
	Message      string    `json:"message"`
	Value        float64   `json:"value"`
	Threshold    float64   `json:"threshold"`
	Timestamp    time.Time `json:"timestamp"`
	Acknowledged bool      `json:"acknowledged"`
}

// NotificationPayload is the immutable unit handed to the notification
// router, constructed fresh per dispatch.
type NotificationPayload struct {
	Alert Alert `json:"alert"`
	Rule  Rule  `json:"rule"`
}
