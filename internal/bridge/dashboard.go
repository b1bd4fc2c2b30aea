// Package bridge relays selected bus topics to external sinks: an
// HTTP dashboard ingest API, and an embedded NATS server for any
// process that wants a live mirror of the bus. Grounded on the
// original services/reports/next_bridge.py and the teacher's NATS
// wiring (execution_service.go, ops_api.go).
package bridge

import (
	"log"
	"math"
	"time"

	"github.com/go-resty/resty/v2"

	"coretrader/internal/bus"
	"coretrader/internal/model"
)

// Bus topics consumed by the dashboard bridge.
const (
	TopicTicks      = "ticks"
	TopicFills      = "broker.fills"
	TopicGuardrails = "broker.guardrails"
)

// DashboardConfig configures Dashboard.
type DashboardConfig struct {
	BaseURL       string `mapstructure:"base_url"`
	IngestPath    string `mapstructure:"ingest_path"`
	FillPath      string `mapstructure:"fill_path"`
	GuardrailPath string `mapstructure:"guardrail_path"`
	IngestKey     string `mapstructure:"ingest_key"`
}

// DefaultDashboardConfig matches the original bridge's defaults.
func DefaultDashboardConfig() DashboardConfig {
	return DashboardConfig{
		BaseURL:       "http://127.0.0.1:3000",
		IngestPath:    "/api/ingest",
		FillPath:      "/api/fill",
		GuardrailPath: "/api/guardrail",
	}
}

type tickIngest struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	Ts     int64   `json:"ts"`
}

type fillIngest struct {
	OrderID string         `json:"orderId"`
	Px      float64        `json:"px"`
	Qty     float64        `json:"qty"`
	Symbol  string         `json:"symbol"`
	Kind    model.FillKind `json:"kind"`
}

type guardrailIngest struct {
	Rule     string    `json:"rule"`
	Message  string    `json:"message"`
	Symbol   string    `json:"symbol"`
	Severity string    `json:"severity"`
	Ts       time.Time `json:"ts"`
}

type postTask struct {
	path string
	body any
}

// Dashboard relays ticks, fills, and guardrail events to an external
// HTTP dashboard. Each event is POSTed once; a failed POST is not
// retried. Repeated failures only back off the warning log, at most
// one line per min(60, 2^min(failures,5)) seconds. A single worker
// goroutine owns the failure/backoff state so concurrent bus callbacks
// never race on it.
type Dashboard struct {
	b    *bus.Bus
	cfg  DashboardConfig
	http *resty.Client

	queue chan postTask
	done  chan struct{}

	failures       int
	nextFailureLog time.Time
}

// NewDashboard returns a Dashboard ready for Start.
func NewDashboard(b *bus.Bus, cfg DashboardConfig) *Dashboard {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(5 * time.Second).
		SetHeader("User-Agent", "coretrader-bridge/0.1")
	if cfg.IngestKey != "" {
		client.SetHeader("x-ingest-key", cfg.IngestKey)
	}
	return &Dashboard{b: b, cfg: cfg, http: client, queue: make(chan postTask, 1024), done: make(chan struct{})}
}

// Start subscribes to the relayed topics and launches the post worker.
func (d *Dashboard) Start() {
	d.b.Subscribe(TopicTicks, d.onTick)
	d.b.Subscribe(TopicFills, d.onFill)
	d.b.Subscribe(TopicGuardrails, d.onGuardrail)
	go d.run()
}

// Stop unsubscribes from the relayed topics and drains the worker.
func (d *Dashboard) Stop() {
	d.b.Unsubscribe(TopicTicks, d.onTick)
	d.b.Unsubscribe(TopicFills, d.onFill)
	d.b.Unsubscribe(TopicGuardrails, d.onGuardrail)
	close(d.queue)
	<-d.done
}

func (d *Dashboard) run() {
	defer close(d.done)
	for task := range d.queue {
		d.post(task.path, task.body)
	}
}

func (d *Dashboard) enqueue(path string, body any) {
	select {
	case d.queue <- postTask{path: path, body: body}:
	default:
		log.Printf("bridge: post queue full, dropping %s", path)
	}
}

func (d *Dashboard) onTick(payload any) {
	tick, ok := payload.(model.Tick)
	if !ok {
		return
	}
	d.enqueue(d.cfg.IngestPath, tickIngest{Symbol: tick.Symbol, Price: tick.Mid, Ts: tick.Ts.UnixMilli()})
}

func (d *Dashboard) onFill(payload any) {
	fill, ok := payload.(model.Fill)
	if !ok || fill.Symbol == "" {
		return
	}
	d.enqueue(d.cfg.FillPath, fillIngest{OrderID: fill.OrderID, Px: fill.Px, Qty: fill.Qty, Symbol: fill.Symbol, Kind: fill.Kind})
}

func (d *Dashboard) onGuardrail(payload any) {
	evt, ok := payload.(model.GuardrailEvent)
	if !ok {
		return
	}
	d.enqueue(d.cfg.GuardrailPath, guardrailIngest{
		Rule:     evt.Rule,
		Message:  evt.Message,
		Symbol:   evt.Symbol,
		Severity: string(evt.Severity),
		Ts:       evt.Ts,
	})
}

// post sends body to path, logging at most once per exponential
// backoff window (capped at 60s) while failures persist. Only called
// from run, so the failure/backoff fields need no lock.
func (d *Dashboard) post(path string, body any) {
	resp, err := d.http.R().SetBody(body).Post(path)
	if err == nil && !resp.IsError() {
		if d.failures > 0 {
			log.Printf("bridge: POST %s recovered after %d failures", path, d.failures)
		}
		d.failures = 0
		d.nextFailureLog = time.Time{}
		return
	}

	d.failures++
	now := time.Now()
	if now.Before(d.nextFailureLog) {
		return
	}
	if err != nil {
		log.Printf("bridge: POST %s failed (%d attempts): %v", path, d.failures, err)
	} else {
		log.Printf("bridge: POST %s failed (%d attempts): status %d", path, d.failures, resp.StatusCode())
	}
	backoff := math.Min(60, math.Pow(2, math.Min(float64(d.failures), 5)))
	d.nextFailureLog = now.Add(time.Duration(backoff) * time.Second)
}
