package poller

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kumodash/kumodash/internal/bus"
	"github.com/kumodash/kumodash/internal/kumo"
	"github.com/kumodash/kumodash/internal/store"
)

func totalsAt(delivered, bounced, deferred float64, at time.Time) *kumo.Totals {
	return &kumo.Totals{
		Delivered: delivered,
		Bounced:   bounced,
		Deferred:  deferred,
		ScrapedAt: at,
	}
}

func TestToMetricsUpdate_FirstCycleSeedsBaseline(t *testing.T) {
	p := New(nil, bus.New(), store.New(time.Minute), time.Second)

	_, ok := p.toMetricsUpdate(totalsAt(100, 5, 2, time.Now()))
	if ok {
		t.Error("first cycle must only seed the baseline, not emit a sample")
	}
}

func TestToMetricsUpdate_Delta(t *testing.T) {
	p := New(nil, bus.New(), store.New(time.Minute), time.Second)
	base := time.Now()

	p.toMetricsUpdate(totalsAt(100, 5, 2, base))
	got, ok := p.toMetricsUpdate(totalsAt(160, 8, 2, base.Add(30*time.Second)))
	if !ok {
		t.Fatal("second cycle must emit a sample")
	}
	if got.Delivered != 60 {
		t.Errorf("Delivered: got %g, want 60", got.Delivered)
	}
	if got.Bounced != 3 {
		t.Errorf("Bounced: got %g, want 3", got.Bounced)
	}
	if got.Deferred != 0 {
		t.Errorf("Deferred: got %g, want 0", got.Deferred)
	}
	// 60 delivered over half a minute is 120 per minute.
	if got.Throughput != 120 {
		t.Errorf("Throughput: got %g, want 120", got.Throughput)
	}
}

func TestToMetricsUpdate_CounterResetClampsToZero(t *testing.T) {
	p := New(nil, bus.New(), store.New(time.Minute), time.Second)
	base := time.Now()

	p.toMetricsUpdate(totalsAt(1000, 50, 10, base))
	got, ok := p.toMetricsUpdate(totalsAt(20, 1, 0, base.Add(time.Minute)))
	if !ok {
		t.Fatal("reset cycle must still emit a sample")
	}
	if got.Delivered != 0 || got.Bounced != 0 || got.Deferred != 0 {
		t.Errorf("reset deltas: got %+v, want all zero", got)
	}

	// The reset totals become the new baseline.
	next, _ := p.toMetricsUpdate(totalsAt(50, 2, 0, base.Add(2*time.Minute)))
	if next.Delivered != 30 {
		t.Errorf("Delivered after reset baseline: got %g, want 30", next.Delivered)
	}
}

func TestToMetricsUpdate_NonPositiveElapsed(t *testing.T) {
	p := New(nil, bus.New(), store.New(time.Minute), time.Second)
	base := time.Now()

	p.toMetricsUpdate(totalsAt(100, 0, 0, base))
	if _, ok := p.toMetricsUpdate(totalsAt(200, 0, 0, base)); ok {
		t.Error("zero elapsed time must not emit a sample")
	}
}

func TestSetConnected_PublishesTransitionsOnly(t *testing.T) {
	b := bus.New()
	p := New(nil, b, store.New(time.Minute), time.Second)

	ch, cancel := b.Subscribe(8, bus.KindConnection)
	defer cancel()

	p.setConnected(true, "")
	p.setConnected(true, "")
	p.setConnected(false, "dial refused")
	p.setConnected(false, "dial refused")

	if got := len(ch); got != 2 {
		t.Fatalf("connection events: got %d, want 2 (transitions only)", got)
	}
	first := (<-ch).Data.(bus.ConnectionStatus)
	if !first.Connected {
		t.Error("first transition must report connected")
	}
	second := (<-ch).Data.(bus.ConnectionStatus)
	if second.Connected || second.Detail != "dial refused" {
		t.Errorf("second transition: got %+v", second)
	}
	if p.Connected() {
		t.Error("Connected: got true after disconnect")
	}
}

func TestPoll_PublishesQueuesAndStoresState(t *testing.T) {
	body := `# TYPE scheduled_count gauge
scheduled_count{queue="gmail.com"} 40
# TYPE ready_count gauge
ready_count{queue="gmail.com"} 10
# TYPE total_messages_delivered counter
total_messages_delivered 100
`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(body))
	}))
	defer srv.Close()

	b := bus.New()
	st := store.New(time.Minute)
	p := New(kumo.NewClient(kumo.ClientOptions{Endpoint: srv.URL}), b, st, time.Second)

	ch, cancel := b.Subscribe(8, bus.KindQueue)
	defer cancel()

	p.poll(context.Background())

	select {
	case ev := <-ch:
		q := ev.Data.(kumo.QueueUpdate)
		if q.QueueName != "gmail.com" || q.Size != 50 {
			t.Errorf("queue event: got %+v, want gmail.com size 50", q)
		}
	case <-time.After(time.Second):
		t.Fatal("no queue event published")
	}

	if got := st.Queues(); len(got) != 1 {
		t.Errorf("stored queues: got %d, want 1", len(got))
	}
	if !p.Connected() {
		t.Error("Connected: got false after successful poll")
	}

	// First poll only seeds the metrics baseline.
	if _, ok := st.Metrics(); ok {
		t.Error("metrics stored on first cycle; baseline seeding expected")
	}
}

func TestPoll_FailureMarksDisconnected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	b := bus.New()
	p := New(kumo.NewClient(kumo.ClientOptions{Endpoint: srv.URL}), b, store.New(time.Minute), time.Second)

	// Establish a connected state first so the failure is a transition.
	p.setConnected(true, "")

	ch, cancel := b.Subscribe(4, bus.KindConnection)
	defer cancel()

	p.poll(context.Background())

	if p.Connected() {
		t.Error("Connected: got true after failed poll")
	}
	select {
	case ev := <-ch:
		cs := ev.Data.(bus.ConnectionStatus)
		if cs.Connected {
			t.Errorf("connection event: got %+v, want disconnected", cs)
		}
	case <-time.After(time.Second):
		t.Fatal("no connection event published on failure")
	}
}
