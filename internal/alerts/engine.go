package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kumodash/kumodash/internal/bus"
	"github.com/kumodash/kumodash/internal/kumo"
)

// Notifier dispatches one notification to the named channels and reports
// per-channel success. Implemented by notify.Router.
type Notifier interface {
	Route(ctx context.Context, payload NotificationPayload, channels []string) map[string]bool
}

// Engine owns the rule set and the alert list. It consumes samples from the
// event bus, runs the evaluator per enabled rule, applies per-rule
// throttling, records alerts, and triggers notification dispatch.
//
// Engine is safe for concurrent use.
type Engine struct {
	evaluator *Evaluator
	notifier  Notifier
	bus       *bus.Bus

	mu     sync.Mutex
	rules  []Rule
	alerts []*Alert
	fires  map[string][]time.Time // recent fire times per rule ID, for throttling
	now    func() time.Time
}

// NewEngine creates an Engine with the given initial rule set. notifier may
// be nil, in which case triggered alerts are recorded but not delivered.
func NewEngine(ev *Evaluator, notifier Notifier, b *bus.Bus, rules []Rule) *Engine {
	return &Engine{
		evaluator: ev,
		notifier:  notifier,
		bus:       b,
		rules:     append([]Rule(nil), rules...),
		fires:     make(map[string][]time.Time),
		now:       time.Now,
	}
}

// Run consumes metric and queue events from the bus until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	events, cancel := e.bus.Subscribe(64, bus.KindMetrics, bus.KindQueue)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch data := ev.Data.(type) {
			case kumo.MetricsUpdate:
				e.HandleMetrics(ctx, data)
			case kumo.QueueUpdate:
				e.HandleQueue(ctx, data)
			}
		}
	}
}

// HandleMetrics evaluates every enabled metrics-shaped rule against m.
func (e *Engine) HandleMetrics(ctx context.Context, m kumo.MetricsUpdate) {
	for _, rule := range e.snapshotRules() {
		if !rule.Enabled || rule.Condition.Type == ConditionQueueDepth {
			continue
		}
		if fired, value := e.evaluator.Evaluate(rule, m); fired {
			e.trigger(ctx, rule, value)
		}
	}
}

// HandleQueue records q into the evaluator's queue history and evaluates
// every enabled queue_depth rule against it. The history recording happens
// independently of evaluation.
func (e *Engine) HandleQueue(ctx context.Context, q kumo.QueueUpdate) {
	e.evaluator.AddQueueUpdate(q)
	for _, rule := range e.snapshotRules() {
		if !rule.Enabled || rule.Condition.Type != ConditionQueueDepth {
			continue
		}
		if fired, value := e.evaluator.Evaluate(rule, q); fired {
			e.trigger(ctx, rule, value)
		}
	}
}

// trigger creates an Alert for rule, subject to throttling, and dispatches
// notifications asynchronously.
func (e *Engine) trigger(ctx context.Context, rule Rule, value float64) {
	now := e.now()

	e.mu.Lock()
	if !e.throttleAllows(rule, now) {
		e.mu.Unlock()
		slog.Debug("alerts: fire throttled", "rule", rule.ID)
		return
	}
	e.fires[rule.ID] = append(e.fires[rule.ID], now)

	a := &Alert{
		ID:        uuid.NewString(),
		RuleID:    rule.ID,
		RuleName:  rule.Name,
		Severity:  rule.Severity,
		Message: fmt.Sprintf("%s: %s %s %g (current value %.2f)",
			rule.Name, rule.Condition.Type, rule.Condition.Operator,
			rule.Condition.Threshold, value),
		Value:     value,
		Threshold: rule.Condition.Threshold,
		Timestamp: now,
	}
	e.alerts = append(e.alerts, a)
	alertCopy := *a
	e.mu.Unlock()

	slog.Warn("alert fired",
		"rule", rule.Name,
		"severity", rule.Severity,
		"value", value,
		"threshold", rule.Condition.Threshold,
	)

	e.bus.Publish(bus.Event{Kind: bus.KindAlert, Data: alertCopy})

	if e.notifier == nil || len(rule.Channels) == 0 {
		return
	}
	payload := NotificationPayload{Alert: alertCopy, Rule: rule}
	go func() {
		results := e.notifier.Route(ctx, payload, rule.Channels)
		for channel, ok := range results {
			if !ok {
				slog.Error("alerts: notification delivery failed",
					"rule", rule.ID, "channel", channel)
			}
		}
	}()
}

// throttleAllows reports whether rule may fire at now. Caller holds e.mu.
// Fire times older than the throttle period are pruned as a side effect.
func (e *Engine) throttleAllows(rule Rule, now time.Time) bool {
	t := rule.Throttle
	if t == nil || t.Period <= 0 || t.MaxAlerts <= 0 {
		return true
	}
	cutoff := now.Add(-t.Period)
	recent := e.fires[rule.ID][:0]
	for _, ts := range e.fires[rule.ID] {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}
	e.fires[rule.ID] = recent
	return len(recent) < t.MaxAlerts
}

// snapshotRules copies the rule set under lock so evaluation iterates over a
// stable view while rules may be mutated concurrently.
func (e *Engine) snapshotRules() []Rule {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Rule(nil), e.rules...)
}

// --- rule management --------------------------------------------------------

// Rules returns a copy of the current rule set.
func (e *Engine) Rules() []Rule {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Rule(nil), e.rules...)
}

// AddRule appends rule. A rule with an empty ID gets a generated one.
// The (possibly updated) rule is returned.
func (e *Engine) AddRule(rule Rule) Rule {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append(e.rules, rule)
	return rule
}

// RemoveRule deletes the rule with the given ID, reporting whether it existed.
func (e *Engine) RemoveRule(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, r := range e.rules {
		if r.ID == id {
			e.rules = append(e.rules[:i], e.rules[i+1:]...)
			delete(e.fires, id)
			return true
		}
	}
	return false
}

// SetEnabled flips the enabled flag on one rule, reporting whether it exists.
func (e *Engine) SetEnabled(id string, enabled bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.rules {
		if e.rules[i].ID == id {
			e.rules[i].Enabled = enabled
			return true
		}
	}
	return false
}

// ReplaceRules swaps the whole rule set atomically. Used by config reload.
// Throttle bookkeeping for removed rules is dropped.
func (e *Engine) ReplaceRules(rules []Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append([]Rule(nil), rules...)
	keep := make(map[string]struct{}, len(rules))
	for _, r := range rules {
		keep[r.ID] = struct{}{}
	}
	for id := range e.fires {
		if _, ok := keep[id]; !ok {
			delete(e.fires, id)
		}
	}
}

// --- alert management -------------------------------------------------------

// Alerts returns copies of all recorded alerts, newest last.
func (e *Engine) Alerts() []Alert {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Alert, 0, len(e.alerts))
	for _, a := range e.alerts {
		out = append(out, *a)
	}
	return out
}

// Acknowledge marks the alert with the given ID as acknowledged, reporting
// whether it exists. Acknowledging never re-triggers evaluation.
func (e *Engine) Acknowledge(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, a := range e.alerts {
		if a.ID == id {
			a.Acknowledged = true
			return true
		}
	}
	return false
}
