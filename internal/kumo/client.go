package kumo

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// KumoMTA metric names we track on the server's /metrics endpoint.
const (
	// Lifetime delivery counter — messages handed off successfully.
	kumoDelivered = "total_messages_delivered"

	// Permanent failure counter — messages that bounced.
	kumoBounced = "total_messages_fail"

	// Transient failure counter — messages deferred for retry.
	kumoDeferred = "total_messages_transfail"

	// Injection counter — messages accepted for delivery.
	kumoReceived = "total_messages_received"

	// Per-queue gauges, labelled with the scheduled queue name.
	kumoScheduled = "scheduled_count"
	kumoReady     = "ready_count"

	// Label key carrying the queue name on the per-queue gauges.
	queueLabel = "queue"
)

const defaultFetchTimeout = 10 * time.Second

// ClientOptions configures a Client.
type ClientOptions struct {
	// Endpoint is the base URL of the KumoMTA HTTP listener,
	// e.g. "http://localhost:8000".
	Endpoint string

	// APIKey, if non-empty, is sent on every request in Header.
	APIKey string

	// Header is the request header carrying APIKey. Defaults to "x-api-key".
	Header string

	// Timeout bounds each fetch. Defaults to 10s.
	Timeout time.Duration
}

// Client fetches delivery counters and queue state from a KumoMTA server.
// Both fetches read the Prometheus text exposition on /metrics; KumoMTA
// publishes the lifetime counters and the per-queue gauges on the same
// endpoint.
type Client struct {
	endpoint string
	client   *http.Client
}

// NewClient builds a Client for the given options. The HTTP client is built
// once and reused across fetches.
func NewClient(opts ClientOptions) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	var rt http.RoundTripper = http.DefaultTransport
	if opts.APIKey != "" {
		header := opts.Header
		if header == "" {
			header = "x-api-key"
		}
		rt = &authRoundTripper{base: rt, header: header, key: opts.APIKey}
	}
	return &Client{
		endpoint: opts.Endpoint,
		client:   &http.Client{Transport: rt, Timeout: timeout},
	}
}

// authRoundTripper injects the API key header into every outgoing request.
type authRoundTripper struct {
	base   http.RoundTripper
	header string
	key    string
}

func (t *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set(t.header, t.key)
	return t.base.RoundTrip(req)
}

// FetchTotals scrapes /metrics and returns the lifetime delivery counters.
func (c *Client) FetchTotals(ctx context.Context) (*Totals, error) {
	mfs, err := c.fetchMetrics(ctx)
	if err != nil {
		return nil, fmt.Errorf("kumo: fetch totals: %w", err)
	}
	return &Totals{
		Delivered: sumFamily(mfs[kumoDelivered]),
		Bounced:   sumFamily(mfs[kumoBounced]),
		Deferred:  sumFamily(mfs[kumoDeferred]),
		Received:  sumFamily(mfs[kumoReceived]),
		ScrapedAt: time.Now().UTC(),
	}, nil
}

// FetchQueues scrapes /metrics and returns one QueueUpdate per scheduled
// queue name, sorted by name. Queues present on only one of the two gauges
// still produce an update (the missing side reads as zero).
func (c *Client) FetchQueues(ctx context.Context) ([]QueueUpdate, error) {
	mfs, err := c.fetchMetrics(ctx)
	if err != nil {
		return nil, fmt.Errorf("kumo: fetch queues: %w", err)
	}

	now := time.Now().UTC()
	scheduled := valuesByLabel(mfs[kumoScheduled], queueLabel)
	ready := valuesByLabel(mfs[kumoReady], queueLabel)

	names := make(map[string]struct{}, len(scheduled)+len(ready))
	for name := range scheduled {
		names[name] = struct{}{}
	}
	for name := range ready {
		names[name] = struct{}{}
	}

	out := make([]QueueUpdate, 0, len(names))
	for name := range names {
		s, r := scheduled[name], ready[name]
		out = append(out, QueueUpdate{
			QueueName: name,
			Size:      s + r,
			Ready:     r,
			Scheduled: s,
			Timestamp: now,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QueueName < out[j].QueueName })
	return out, nil
}

// fetchMetrics performs an HTTP GET on /metrics and returns parsed families.
func (c *Client) fetchMetrics(ctx context.Context) (map[string]*dto.MetricFamily, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/metrics", nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", string(expfmt.NewFormat(expfmt.TypeTextPlain)))

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return parseMetrics(resp.Body)
}

// parseMetrics decodes a Prometheus text exposition from r into metric
// families. A partial result with a non-fatal parse warning is still
// returned successfully.
func parseMetrics(r io.Reader) (map[string]*dto.MetricFamily, error) {
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(r)
	if err != nil && len(mfs) == 0 {
		return nil, fmt.Errorf("parse prometheus text: %w", err)
	}
	return mfs, nil
}

// sumFamily adds up all counter, gauge, or untyped values in a MetricFamily.
// Returns 0 if mf is nil (metric not present in the scrape).
func sumFamily(mf *dto.MetricFamily) float64 {
	if mf == nil {
		return 0
	}
	var total float64
	for _, m := range mf.GetMetric() {
		total += metricValue(m)
	}
	return total
}

// valuesByLabel maps the value of the given label to the summed metric value
// for every series in the family. Series without the label are skipped.
func valuesByLabel(mf *dto.MetricFamily, label string) map[string]float64 {
	out := make(map[string]float64)
	if mf == nil {
		return out
	}
	for _, m := range mf.GetMetric() {
		for _, lp := range m.GetLabel() {
			if lp.GetName() == label {
				out[lp.GetValue()] += metricValue(m)
				break
			}
		}
	}
	return out
}

func metricValue(m *dto.Metric) float64 {
	switch {
	case m.Counter != nil:
		return m.Counter.GetValue()
	case m.Gauge != nil:
		return m.Gauge.GetValue()
	case m.Untyped != nil:
		return m.Untyped.GetValue()
	default:
		return 0
	}
}
