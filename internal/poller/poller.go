// Package poller drives the fixed-cadence polling of the upstream KumoMTA
// server and publishes the resulting samples on the event bus.
package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kumodash/kumodash/internal/bus"
	"github.com/kumodash/kumodash/internal/kumo"
	"github.com/kumodash/kumodash/internal/store"
)

// Poller polls the KumoMTA client on a fixed interval. Within one cycle the
// metrics fetch and the queue fetch run concurrently with each other; cycles
// themselves are not mutually exclusive: a tick fires on schedule even if
// the previous cycle has not settled, so a slow upstream can produce
// overlapping polls. Consumers must tolerate out-of-order or duplicate
// samples.
type Poller struct {
	client   *kumo.Client
	bus      *bus.Bus
	store    *store.Store
	interval time.Duration

	mu         sync.Mutex
	prevTotals *kumo.Totals
	connected  bool
}

// New creates a Poller.
func New(client *kumo.Client, b *bus.Bus, st *store.Store, interval time.Duration) *Poller {
	return &Poller{
		client:   client,
		bus:      b,
		store:    st,
		interval: interval,
	}
}

// Run polls immediately, then on every tick until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	t := time.NewTicker(p.interval)
	defer t.Stop()

	go p.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			go p.poll(ctx)
		}
	}
}

// poll runs one cycle: both fetches concurrently, then publication.
func (p *Poller) poll(ctx context.Context) {
	var (
		wg        sync.WaitGroup
		totals    *kumo.Totals
		totalsErr error
		queues    []kumo.QueueUpdate
		queuesErr error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		totals, totalsErr = p.client.FetchTotals(ctx)
	}()
	go func() {
		defer wg.Done()
		queues, queuesErr = p.client.FetchQueues(ctx)
	}()
	wg.Wait()

	if totalsErr != nil || queuesErr != nil {
		err := totalsErr
		if err == nil {
			err = queuesErr
		}
		slog.Warn("poller: poll cycle failed", "err", err)
		p.setConnected(false, err.Error())
		return
	}
	p.setConnected(true, "")

	if m, ok := p.toMetricsUpdate(totals); ok {
		p.store.PutMetrics(m)
		p.bus.Publish(bus.Event{Kind: bus.KindMetrics, Data: m})
	}

	for _, q := range queues {
		p.store.PutQueue(q)
		p.bus.Publish(bus.Event{Kind: bus.KindQueue, Data: q})
	}
}

// toMetricsUpdate converts cumulative counters into a per-interval sample by
// diffing against the previous cycle's totals. The first cycle only seeds
// the baseline and produces no sample. Counter resets (server restart) clamp
// deltas to zero.
func (p *Poller) toMetricsUpdate(cur *kumo.Totals) (kumo.MetricsUpdate, bool) {
	p.mu.Lock()
	prev := p.prevTotals
	p.prevTotals = cur
	p.mu.Unlock()

	if prev == nil {
		return kumo.MetricsUpdate{}, false
	}

	elapsed := cur.ScrapedAt.Sub(prev.ScrapedAt)
	if elapsed <= 0 {
		return kumo.MetricsUpdate{}, false
	}

	delivered := counterDelta(prev.Delivered, cur.Delivered)
	bounced := counterDelta(prev.Bounced, cur.Bounced)
	deferred := counterDelta(prev.Deferred, cur.Deferred)

	return kumo.MetricsUpdate{
		Delivered:  delivered,
		Bounced:    bounced,
		Deferred:   deferred,
		Throughput: delivered / elapsed.Minutes(),
		Timestamp:  cur.ScrapedAt,
	}, true
}

// setConnected publishes a connection:status event on every transition.
func (p *Poller) setConnected(connected bool, detail string) {
	p.mu.Lock()
	changed := p.connected != connected
	p.connected = connected
	p.mu.Unlock()

	if !changed {
		return
	}
	if connected {
		slog.Info("poller: upstream reachable")
	} else {
		slog.Warn("poller: upstream unreachable", "detail", detail)
	}
	p.bus.Publish(bus.Event{
		Kind: bus.KindConnection,
		Data: bus.ConnectionStatus{Connected: connected, Detail: detail},
	})
}

// Connected reports the last observed upstream reachability.
func (p *Poller) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func counterDelta(prev, cur float64) float64 {
	if cur < prev {
		// Counter reset.
		return 0
	}
	return cur - prev
}
