package alerts

import (
	"log/slog"
	"sync"
	"time"

	"github.com/kumodash/kumodash/internal/kumo"
)

// maxHistorySamples bounds each history buffer. Appending beyond the cap
// evicts the oldest sample (FIFO).
const maxHistorySamples = 1000

// Evaluator decides whether a rule's condition holds against the current
// sample, maintaining a bounded history of recent samples for time-windowed
// conditions. It performs no I/O and never blocks.
//
// Evaluator is safe for concurrent use.
type Evaluator struct {
	mu             sync.Mutex
	metricsHistory []kumo.MetricsUpdate
	queueHistory   map[string][]kumo.QueueUpdate
	now            func() time.Time // injectable for deterministic tests
}

// NewEvaluator creates an Evaluator with empty history.
func NewEvaluator() *Evaluator {
	return &Evaluator{
		queueHistory: make(map[string][]kumo.QueueUpdate),
		now:          time.Now,
	}
}

// EvaluateRule reports whether rule's condition holds for sample.
// Disabled rules evaluate to false without touching history. Unknown
// condition types evaluate to false: an alerting system fails closed rather
// than crashing the evaluation loop.
func (e *Evaluator) EvaluateRule(rule Rule, sample kumo.Sample) bool {
	fired, _ := e.Evaluate(rule, sample)
	return fired
}

// Evaluate is EvaluateRule plus the measured value that was compared against
// the threshold, for use in alert messages. The value is 0 when evaluation
// short-circuits before a comparison.
func (e *Evaluator) Evaluate(rule Rule, sample kumo.Sample) (bool, float64) {
	if !rule.Enabled {
		return false, 0
	}

	cond := rule.Condition
	switch cond.Type {
	case ConditionQueueDepth:
		q, ok := sample.(kumo.QueueUpdate)
		if !ok {
			slog.Warn("alerts: queue_depth rule fed a non-queue sample", "rule", rule.ID)
			return false, 0
		}
		return compare(q.Size, cond.Operator, cond.Threshold), q.Size

	case ConditionBounceRate:
		m, ok := sample.(kumo.MetricsUpdate)
		if !ok {
			slog.Warn("alerts: bounce_rate rule fed a non-metrics sample", "rule", rule.ID)
			return false, 0
		}
		e.addMetrics(m)
		if cond.TimeWindow > 0 {
			window := e.metricsWindow(cond.TimeWindow)
			if len(window) < 2 {
				return false, 0
			}
			var delivered, bounced float64
			for _, s := range window {
				delivered += s.Delivered
				bounced += s.Bounced
			}
			total := delivered + bounced
			if total == 0 {
				return false, 0
			}
			rate := 100 * bounced / total
			return compare(rate, cond.Operator, cond.Threshold), rate
		}
		total := m.Delivered + m.Bounced
		if total == 0 {
			return false, 0
		}
		rate := 100 * m.Bounced / total
		return compare(rate, cond.Operator, cond.Threshold), rate

	case ConditionDeliveryRate:
		m, ok := sample.(kumo.MetricsUpdate)
		if !ok {
			slog.Warn("alerts: delivery_rate rule fed a non-metrics sample", "rule", rule.ID)
			return false, 0
		}
		e.addMetrics(m)
		if cond.TimeWindow > 0 {
			window := e.metricsWindow(cond.TimeWindow)
			if len(window) < 2 {
				return false, 0
			}
			values := make([]float64, len(window))
			for i, s := range window {
				values[i] = s.Throughput
			}
			v := aggregate(values, cond.Aggregation)
			return compare(v, cond.Operator, cond.Threshold), v
		}
		return compare(m.Throughput, cond.Operator, cond.Threshold), m.Throughput

	case ConditionSystemHealth:
		m, ok := sample.(kumo.MetricsUpdate)
		if !ok {
			slog.Warn("alerts: system_health rule fed a non-metrics sample", "rule", rule.ID)
			return false, 0
		}
		total := m.Delivered + m.Bounced + m.Deferred
		if total == 0 {
			return false, 0
		}
		ratio := 100 * m.Deferred / total
		return compare(ratio, cond.Operator, cond.Threshold), ratio

	default:
		slog.Warn("alerts: unknown condition type, treating as not met",
			"rule", rule.ID, "type", cond.Type)
		return false, 0
	}
}

// AddQueueUpdate records update into the per-queue history, independent of
// rule evaluation. The per-queue buffer is bounded like the metrics history.
func (e *Evaluator) AddQueueUpdate(update kumo.QueueUpdate) {
	e.mu.Lock()
	defer e.mu.Unlock()
	h := append(e.queueHistory[update.QueueName], update)
	if len(h) > maxHistorySamples {
		h = h[len(h)-maxHistorySamples:]
	}
	e.queueHistory[update.QueueName] = h
}

// ClearHistory resets both history buffers. Test and reset hook, not part of
// the normal runtime flow.
func (e *Evaluator) ClearHistory() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.metricsHistory = nil
	e.queueHistory = make(map[string][]kumo.QueueUpdate)
}

// MetricsHistoryLen returns the current metrics history depth.
func (e *Evaluator) MetricsHistoryLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.metricsHistory)
}

// QueueHistoryLen returns the history depth for one queue name.
func (e *Evaluator) QueueHistoryLen(queueName string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queueHistory[queueName])
}

// addMetrics appends m to the metrics history, evicting the oldest sample
// beyond the cap.
func (e *Evaluator) addMetrics(m kumo.MetricsUpdate) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.metricsHistory = append(e.metricsHistory, m)
	if len(e.metricsHistory) > maxHistorySamples {
		e.metricsHistory = e.metricsHistory[len(e.metricsHistory)-maxHistorySamples:]
	}
}

// metricsWindow returns the history samples whose timestamp falls within
// window of now. "Now" is recomputed per call, so two evaluations moments
// apart may include different boundary samples.
func (e *Evaluator) metricsWindow(window time.Duration) []kumo.MetricsUpdate {
	cutoff := e.now().Add(-window)
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]kumo.MetricsUpdate, 0, len(e.metricsHistory))
	for _, s := range e.metricsHistory {
		if !s.Timestamp.Before(cutoff) {
			out = append(out, s)
		}
	}
	return out
}

// aggregate reduces values with the given aggregation, defaulting to the
// arithmetic mean.
func aggregate(values []float64, agg Aggregation) float64 {
	if len(values) == 0 {
		return 0
	}
	switch agg {
	case AggSum:
		var sum float64
		for _, v := range values {
			sum += v
		}
		return sum
	case AggMax:
		max := values[0]
		for _, v := range values[1:] {
			if v > max {
				max = v
			}
		}
		return max
	case AggMin:
		min := values[0]
		for _, v := range values[1:] {
			if v < min {
				min = v
			}
		}
		return min
	default: // AggAvg and unset
		var sum float64
		for _, v := range values {
			sum += v
		}
		return sum / float64(len(values))
	}
}

// compare applies a comparison operator to two float64 values.
// Equality comparisons are exact, no epsilon.
func compare(v float64, op Operator, threshold float64) bool {
	switch op {
	case OpGreater:
		return v > threshold
	case OpGreaterEqual:
		return v >= threshold
	case OpLess:
		return v < threshold
	case OpLessEqual:
		return v <= threshold
	case OpEqual:
		return v == threshold
	case OpNotEqual:
		return v != threshold
	default:
		return false
	}
}
