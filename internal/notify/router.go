package notify

import (
	"context"
	"log/slog"
	"sync"

	"github.com/kumodash/kumodash/internal/alerts"
)

// EmailAdapter is the email channel as the router sees it.
type EmailAdapter interface {
	Send(ctx context.Context, p alerts.NotificationPayload, recipients []string) error
	Verify(ctx context.Context) error
}

// SlackAdapter is the Slack channel as the router sees it.
type SlackAdapter interface {
	Send(ctx context.Context, p alerts.NotificationPayload, channelOverride string) error
	Verify(ctx context.Context) error
}

// WebhookAdapter is the generic webhook channel as the router sees it.
type WebhookAdapter interface {
	Send(ctx context.Context, p alerts.NotificationPayload, urlOverride string) error
	SendBatch(ctx context.Context, payloads []alerts.NotificationPayload, urlOverride string) error
	Verify(ctx context.Context) error
}

// RouteConfig carries per-dispatch delivery options.
type RouteConfig struct {
	// EmailRecipients must be non-empty for the email channel to attempt
	// delivery.
	EmailRecipients []string

	// SlackChannel overrides the adapter's default Slack channel.
	SlackChannel string

	// WebhookURL overrides the adapter's default webhook URL.
	WebhookURL string
}

// Router fans one notification out to multiple independently-failing
// channels and aggregates a per-channel success map. Stateless with respect
// to per-call data.
type Router struct {
	email   EmailAdapter
	slack   SlackAdapter
	webhook WebhookAdapter
	cfg     RouteConfig // defaults when Route is called without overrides
}

// NewRouter wires the three channel adapters and the default route config.
func NewRouter(email EmailAdapter, slack SlackAdapter, webhook WebhookAdapter, cfg RouteConfig) *Router {
	return &Router{email: email, slack: slack, webhook: webhook, cfg: cfg}
}

// Route satisfies alerts.Notifier using the router's default RouteConfig.
func (r *Router) Route(ctx context.Context, payload alerts.NotificationPayload, channels []string) map[string]bool {
	return r.RouteWith(ctx, payload, channels, r.cfg)
}

// RouteWith dispatches payload to every requested channel concurrently and
// returns only after all dispatches settle. The result map has exactly one
// entry per requested channel; failures (including panics inside an adapter)
// record false, never propagate.
func (r *Router) RouteWith(ctx context.Context, payload alerts.NotificationPayload, channels []string, cfg RouteConfig) map[string]bool {
	results := newResultMap(channels)
	var wg sync.WaitGroup
	for _, channel := range channels {
		channel := channel
		wg.Add(1)
		go func() {
			defer wg.Done()
			results.set(channel, r.dispatch(ctx, channel, payload, cfg))
		}()
	}
	wg.Wait()
	return results.done()
}

// RouteBatch dispatches payloads to the requested channels. The webhook
// channel receives one true batch call; every other channel is dispatched
// once per payload, and its aggregate result is the logical AND across all
// payloads.
func (r *Router) RouteBatch(ctx context.Context, payloads []alerts.NotificationPayload, channels []string, cfg RouteConfig) map[string]bool {
	results := newResultMap(channels)
	var wg sync.WaitGroup
	for _, channel := range channels {
		channel := channel
		wg.Add(1)
		go func() {
			defer wg.Done()
			if channel == ChannelWebhook {
				results.set(channel, r.guard(channel, func() error {
					return r.webhook.SendBatch(ctx, payloads, cfg.WebhookURL)
				}))
				return
			}
			ok := true
			for _, p := range payloads {
				if !r.dispatch(ctx, channel, p, cfg) {
					ok = false
				}
			}
			results.set(channel, ok)
		}()
	}
	wg.Wait()
	return results.done()
}

// VerifyChannels runs each requested channel's connectivity self-test
// concurrently. Errors become false, independently per channel.
func (r *Router) VerifyChannels(ctx context.Context, channels []string) map[string]bool {
	results := newResultMap(channels)
	var wg sync.WaitGroup
	for _, channel := range channels {
		channel := channel
		wg.Add(1)
		go func() {
			defer wg.Done()
			switch channel {
			case ChannelEmail:
				results.set(channel, r.guard(channel, func() error { return r.email.Verify(ctx) }))
			case ChannelSlack:
				results.set(channel, r.guard(channel, func() error { return r.slack.Verify(ctx) }))
			case ChannelWebhook:
				results.set(channel, r.guard(channel, func() error { return r.webhook.Verify(ctx) }))
			default:
				slog.Warn("notify: unknown channel requested for verification", "channel", channel)
				results.set(channel, false)
			}
		}()
	}
	wg.Wait()
	return results.done()
}

// dispatch sends payload on one channel, converting every failure mode to a
// boolean.
func (r *Router) dispatch(ctx context.Context, channel string, payload alerts.NotificationPayload, cfg RouteConfig) bool {
	switch channel {
	case ChannelEmail:
		if len(cfg.EmailRecipients) == 0 {
			slog.Warn("notify: email channel requested without recipients", "rule", payload.Rule.ID)
			return false
		}
		return r.guard(channel, func() error {
			return r.email.Send(ctx, payload, cfg.EmailRecipients)
		})
	case ChannelSlack:
		return r.guard(channel, func() error {
			return r.slack.Send(ctx, payload, cfg.SlackChannel)
		})
	case ChannelWebhook:
		return r.guard(channel, func() error {
			return r.webhook.Send(ctx, payload, cfg.WebhookURL)
		})
	default:
		slog.Warn("notify: unknown channel requested", "channel", channel)
		return false
	}
}

// guard runs fn, converting errors and panics to false so one channel cannot
// take down the fan-out.
func (r *Router) guard(channel string, fn func() error) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("notify: channel adapter panicked", "channel", channel, "panic", rec)
			ok = false
		}
	}()
	if err := fn(); err != nil {
		slog.Error("notify: channel delivery failed", "channel", channel, "err", err)
		return false
	}
	return true
}

// resultMap accumulates per-channel booleans from concurrent dispatches.
// Every requested channel starts at false so the final map always has
// exactly one entry per channel.
type resultMap struct {
	mu sync.Mutex
	m  map[string]bool
}

func newResultMap(channels []string) *resultMap {
	m := make(map[string]bool, len(channels))
	for _, c := range channels {
		m[c] = false
	}
	return &resultMap{m: m}
}

func (r *resultMap) set(channel string, ok bool) {
	r.mu.Lock()
	r.m[channel] = ok
	r.mu.Unlock()
}

func (r *resultMap) done() map[string]bool { return r.m }
