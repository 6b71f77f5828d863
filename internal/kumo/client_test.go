package kumo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const sampleExposition = `# TYPE total_messages_delivered counter
total_messages_delivered{service="smtp_client"} 1200
total_messages_delivered{service="http_injector"} 300
# TYPE total_messages_fail counter
total_messages_fail{service="smtp_client"} 40
# TYPE total_messages_transfail counter
total_messages_transfail{service="smtp_client"} 15
# TYPE total_messages_received counter
total_messages_received{service="esmtp_listener"} 1600
# TYPE scheduled_count gauge
scheduled_count{queue="gmail.com"} 120
scheduled_count{queue="yahoo.com"} 30
# TYPE ready_count gauge
ready_count{queue="gmail.com"} 25
ready_count{queue="outlook.com"} 7
`

func newMetricsServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/metrics" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		w.Write([]byte(body))
	}))
	return srv
}

func TestFetchTotals(t *testing.T) {
	srv := newMetricsServer(t, sampleExposition)
	defer srv.Close()

	c := NewClient(ClientOptions{Endpoint: srv.URL})
	got, err := c.FetchTotals(context.Background())
	if err != nil {
		t.Fatalf("FetchTotals: %v", err)
	}

	// Delivered sums across the per-service series.
	if got.Delivered != 1500 {
		t.Errorf("Delivered: got %g, want 1500", got.Delivered)
	}
	if got.Bounced != 40 {
		t.Errorf("Bounced: got %g, want 40", got.Bounced)
	}
	if got.Deferred != 15 {
		t.Errorf("Deferred: got %g, want 15", got.Deferred)
	}
	if got.Received != 1600 {
		t.Errorf("Received: got %g, want 1600", got.Received)
	}
	if got.ScrapedAt.IsZero() {
		t.Error("ScrapedAt must be set")
	}
}

func TestFetchTotals_MissingFamiliesReadZero(t *testing.T) {
	srv := newMetricsServer(t, "# TYPE something_else counter\nsomething_else 9\n")
	defer srv.Close()

	c := NewClient(ClientOptions{Endpoint: srv.URL})
	got, err := c.FetchTotals(context.Background())
	if err != nil {
		t.Fatalf("FetchTotals: %v", err)
	}
	if got.Delivered != 0 || got.Bounced != 0 || got.Deferred != 0 || got.Received != 0 {
		t.Errorf("absent families must read zero, got %+v", got)
	}
}

func TestFetchQueues(t *testing.T) {
	srv := newMetricsServer(t, sampleExposition)
	defer srv.Close()

	c := NewClient(ClientOptions{Endpoint: srv.URL})
	got, err := c.FetchQueues(context.Background())
	if err != nil {
		t.Fatalf("FetchQueues: %v", err)
	}

	if len(got) != 3 {
		t.Fatalf("queues: got %d, want 3", len(got))
	}
	// Sorted by queue name.
	names := []string{got[0].QueueName, got[1].QueueName, got[2].QueueName}
	want := []string{"gmail.com", "outlook.com", "yahoo.com"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("queue order: got %v, want %v", names, want)
		}
	}

	gmail := got[0]
	if gmail.Scheduled != 120 || gmail.Ready != 25 || gmail.Size != 145 {
		t.Errorf("gmail.com: got scheduled=%g ready=%g size=%g, want 120/25/145",
			gmail.Scheduled, gmail.Ready, gmail.Size)
	}

	// outlook.com exists only on the ready gauge; scheduled reads zero.
	outlook := got[1]
	if outlook.Scheduled != 0 || outlook.Ready != 7 || outlook.Size != 7 {
		t.Errorf("outlook.com: got scheduled=%g ready=%g size=%g, want 0/7/7",
			outlook.Scheduled, outlook.Ready, outlook.Size)
	}

	for _, q := range got {
		if q.Timestamp.IsZero() {
			t.Errorf("%s: Timestamp must be set", q.QueueName)
		}
	}
}

func TestFetch_Non200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(ClientOptions{Endpoint: srv.URL})
	if _, err := c.FetchTotals(context.Background()); err == nil {
		t.Error("FetchTotals against 503: got nil error")
	}
	if _, err := c.FetchQueues(context.Background()); err == nil {
		t.Error("FetchQueues against 503: got nil error")
	}
}

func TestClientSendsAPIKeyHeader(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-api-key")
		w.Write([]byte(sampleExposition))
	}))
	defer srv.Close()

	c := NewClient(ClientOptions{Endpoint: srv.URL, APIKey: "secret-1"})
	if _, err := c.FetchTotals(context.Background()); err != nil {
		t.Fatalf("FetchTotals: %v", err)
	}
	if gotKey != "secret-1" {
		t.Errorf("x-api-key header: got %q, want secret-1", gotKey)
	}
}

func TestClientCustomHeader(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("Authorization")
		w.Write([]byte(sampleExposition))
	}))
	defer srv.Close()

	c := NewClient(ClientOptions{Endpoint: srv.URL, APIKey: "Bearer tok", Header: "Authorization"})
	if _, err := c.FetchTotals(context.Background()); err != nil {
		t.Fatalf("FetchTotals: %v", err)
	}
	if gotKey != "Bearer tok" {
		t.Errorf("Authorization header: got %q, want Bearer tok", gotKey)
	}
}

func TestParseMetrics_Garbage(t *testing.T) {
	if _, err := parseMetrics(strings.NewReader("{not prometheus text")); err == nil {
		t.Error("parse of garbage input: got nil error")
	}
}
