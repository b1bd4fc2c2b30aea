// Package ops exposes an HTTP surface for health checks, Prometheus
// metrics, and runtime trading-mode control, grounded on the
// teacher's ops_api.go APIServer.
package ops

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics are module-level Prometheus collectors, registered once in
// init so any package can import and use them without a shared
// registry argument. Only TradingMode is updated, by Server; nothing in
// this module updates OrdersAccepted, OrdersBlocked or FillLatency.
var (
	TradingMode = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "coretrader_trading_mode", Help: "Current trading mode, one gauge per mode set to 1"},
		[]string{"mode"},
	)
	OrdersAccepted = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "coretrader_orders_accepted_total", Help: "Orders accepted by the broker"},
		[]string{"symbol"},
	)
	OrdersBlocked = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "coretrader_orders_blocked_total", Help: "Orders blocked by a guardrail rule"},
		[]string{"symbol", "rule"},
	)
	FillLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "coretrader_fill_latency_ms", Help: "Latency between order acceptance and fill", Buckets: prometheus.ExponentialBuckets(1, 2, 12)},
	)
)

func init() {
	prometheus.MustRegister(TradingMode, OrdersAccepted, OrdersBlocked, FillLatency)
}

// BrokerView is the subset of broker.Broker's state the ops API reads.
type BrokerView interface {
	SetTradingEnabled(enabled bool)
}

// ModeResponse is the /api/mode payload.
type ModeResponse struct {
	Mode string `json:"mode"`
}

// HealthResponse is the /healthz payload.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Server is the ops HTTP API: health, metrics, and mode control.
type Server struct {
	addr   string
	broker BrokerView
	server *http.Server

	mu   sync.Mutex
	mode string
}

// New returns a Server bound to addr (":8082"-style) controlling broker.
func New(addr string, broker BrokerView, initialMode string) *Server {
	return &Server{addr: addr, broker: broker, mode: initialMode}
}

// Start registers handlers and begins serving in a background goroutine.
func (s *Server) Start() {
	TradingMode.Reset()
	TradingMode.With(prometheus.Labels{"mode": s.mode}).Set(1)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/mode", s.handleMode)

	s.server = &http.Server{Addr: s.addr, Handler: mux}
	log.Printf("ops: API listening on %s", s.addr)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("ops: HTTP server error: %v", err)
		}
	}()
}

// Stop gracefully shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(HealthResponse{Status: "healthy", Timestamp: time.Now()})
}

func (s *Server) handleMode(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch r.Method {
	case http.MethodGet:
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ModeResponse{Mode: s.mode})
	case http.MethodPost:
		var req ModeResponse
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if err := validateMode(req.Mode); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		enabled := req.Mode != "halted"
		s.broker.SetTradingEnabled(enabled)
		s.mode = req.Mode
		TradingMode.Reset()
		TradingMode.With(prometheus.Labels{"mode": s.mode}).Set(1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ModeResponse{Mode: s.mode})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func validateMode(mode string) error {
	switch mode {
	case "paper", "live", "replay", "halted":
		return nil
	default:
		return fmt.Errorf("invalid mode %q", mode)
	}
}
