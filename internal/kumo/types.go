// Package kumo defines the sample types produced by polling a KumoMTA server
// and the HTTP client that fetches them from the server's metrics endpoints.
package kumo

import "time"

// MetricsUpdate is one delivery-metrics sample covering a single poll
// interval. Delivered, Bounced and Deferred are per-interval message counts
// (the poller derives them from the server's cumulative counters);
// Throughput is messages per minute over the same interval.
type MetricsUpdate struct {
	Delivered  float64   `json:"delivered"`
	Bounced    float64   `json:"bounced"`
	Deferred   float64   `json:"deferred"`
	Throughput float64   `json:"throughput"`
	Timestamp  time.Time `json:"timestamp"`
}

// QueueUpdate is one per-queue sample. Size is the total number of messages
// in the queue (ready + scheduled).
type QueueUpdate struct {
	QueueName string    `json:"queue_name"`
	Size      float64   `json:"size"`
	Ready     float64   `json:"ready"`
	Scheduled float64   `json:"scheduled"`
	Timestamp time.Time `json:"timestamp"`
}

// Sample is implemented by both sample kinds so the rule evaluator can accept
// either without knowing which event stream produced it.
type Sample interface {
	SampleTime() time.Time
}

// SampleTime returns the time the sample was taken.
func (m MetricsUpdate) SampleTime() time.Time { return m.Timestamp }

// SampleTime returns the time the sample was taken.
func (q QueueUpdate) SampleTime() time.Time { return q.Timestamp }

// Totals holds the raw cumulative counters scraped from KumoMTA. Counter
// fields are lifetime totals, not rates; callers derive per-interval deltas.
type Totals struct {
	Delivered float64
	Bounced   float64
	Deferred  float64
	Received  float64
	ScrapedAt time.Time
}
