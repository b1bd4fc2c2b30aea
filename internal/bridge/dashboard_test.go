package bridge

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"coretrader/internal/bus"
	"coretrader/internal/model"
)

type capturedPost struct {
	path string
	body []byte
}

func newCapturingServer(t *testing.T) (*httptest.Server, <-chan capturedPost) {
	t.Helper()
	posts := make(chan capturedPost, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posts <- capturedPost{path: r.URL.Path, body: mustReadBody(t, r)}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, posts
}

func mustReadBody(t *testing.T, r *http.Request) []byte {
	t.Helper()
	var buf [4096]byte
	n, _ := r.Body.Read(buf[:])
	return buf[:n]
}

func TestDashboardRelaysTickToIngestPath(t *testing.T) {
	srv, posts := newCapturingServer(t)
	b := bus.New()
	cfg := DefaultDashboardConfig()
	cfg.BaseURL = srv.URL
	d := NewDashboard(b, cfg)
	d.Start()
	defer d.Stop()

	b.Publish(TopicTicks, model.Tick{Symbol: "AAPL", Mid: 101.5, Ts: time.Now()})

	select {
	case got := <-posts:
		if got.path != cfg.IngestPath {
			t.Fatalf("expected a post to %s, got %s", cfg.IngestPath, got.path)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a tick to be relayed")
	}
}

func TestDashboardRelaysFillToFillPath(t *testing.T) {
	srv, posts := newCapturingServer(t)
	b := bus.New()
	cfg := DefaultDashboardConfig()
	cfg.BaseURL = srv.URL
	d := NewDashboard(b, cfg)
	d.Start()
	defer d.Stop()

	b.Publish(TopicFills, model.Fill{OrderID: "1", Symbol: "AAPL", Px: 100, Qty: 10, Kind: model.FillPaper})

	select {
	case got := <-posts:
		if got.path != cfg.FillPath {
			t.Fatalf("expected a post to %s, got %s", cfg.FillPath, got.path)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a fill to be relayed")
	}
}

func TestDashboardIgnoresFillWithoutSymbol(t *testing.T) {
	srv, posts := newCapturingServer(t)
	b := bus.New()
	cfg := DefaultDashboardConfig()
	cfg.BaseURL = srv.URL
	d := NewDashboard(b, cfg)
	d.Start()
	defer d.Stop()

	b.Publish(TopicFills, model.Fill{OrderID: "1", Symbol: ""})

	select {
	case got := <-posts:
		t.Fatalf("expected no relay for a fill missing a symbol, got post to %s", got.path)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestDashboardRelaysGuardrailToGuardrailPath(t *testing.T) {
	srv, posts := newCapturingServer(t)
	b := bus.New()
	cfg := DefaultDashboardConfig()
	cfg.BaseURL = srv.URL
	d := NewDashboard(b, cfg)
	d.Start()
	defer d.Stop()

	b.Publish(TopicGuardrails, model.GuardrailEvent{Rule: "SPREAD", Symbol: "AAPL", Severity: model.SeverityBlock})

	select {
	case got := <-posts:
		if got.path != cfg.GuardrailPath {
			t.Fatalf("expected a post to %s, got %s", cfg.GuardrailPath, got.path)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a guardrail event to be relayed")
	}
}

func TestEnqueueDropsWhenQueueFull(t *testing.T) {
	d := &Dashboard{queue: make(chan postTask), done: make(chan struct{})}
	// No consumer goroutine is draining the unbuffered queue, so this
	// must fall through the default branch rather than block.
	d.enqueue("/x", tickIngest{Symbol: "AAPL"})
}

func TestPostTracksFailureBackoffState(t *testing.T) {
	var mu sync.Mutex
	failing := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if failing {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := DefaultDashboardConfig()
	cfg.BaseURL = srv.URL
	d := NewDashboard(bus.New(), cfg)

	d.post("/x", tickIngest{Symbol: "AAPL"})
	if d.failures != 1 {
		t.Fatalf("expected failures to be tracked, got %d", d.failures)
	}

	mu.Lock()
	failing = false
	mu.Unlock()
	d.nextFailureLog = time.Time{}
	d.post("/x", tickIngest{Symbol: "AAPL"})
	if d.failures != 0 {
		t.Fatalf("expected a successful post to reset the failure count, got %d", d.failures)
	}
}
