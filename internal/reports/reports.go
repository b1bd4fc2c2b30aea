// Package reports turns the broker's realized P&L stream into a
// periodic performance summary: total trades, win rate, cumulative
// P&L, max drawdown, and a Sharpe-style ratio over the realized P&L
// series. Generalizes the teacher's reporter.go, which published the
// same shape of report on a fixed ticker but with placeholder numbers;
// this version derives every field from real broker.pnl events.
package reports

import (
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"coretrader/internal/bus"
	"coretrader/internal/model"
)

// TopicPerformance is where Service publishes each periodic report.
const TopicPerformance = "reports.performance"

var (
	totalPnLGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "coretrader_total_pnl", Help: "Cumulative realized P&L across all symbols",
	})
	drawdownGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "coretrader_max_drawdown", Help: "Max peak-to-trough drawdown of the realized P&L equity curve",
	})
	winRateGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "coretrader_win_rate", Help: "Fraction of P&L-realizing fills that were profitable",
	})
)

func init() {
	prometheus.MustRegister(totalPnLGauge, drawdownGauge, winRateGauge)
}

// PerformanceReport is the reports.performance payload.
type PerformanceReport struct {
	Ts          time.Time `json:"ts"`
	TotalTrades int       `json:"totalTrades"`
	WinRate     float64   `json:"winRate"`
	TotalPnL    float64   `json:"totalPnL"`
	MaxDrawdown float64   `json:"maxDrawdown"`
	SharpeRatio float64   `json:"sharpeRatio"`
}

// Service accumulates realized P&L events and periodically publishes a
// PerformanceReport. A single consumer goroutine owns all accumulator
// state; bus callbacks only enqueue.
type Service struct {
	b        *bus.Bus
	interval time.Duration

	events chan model.RealizedPnL
	done   chan struct{}

	trades   int
	wins     int
	equity   float64
	peak     float64
	maxDD    float64
	history  []float64 // per-trade realized P&L, for the Sharpe-style ratio
}

// New returns a Service publishing a report every interval (default 1m).
func New(b *bus.Bus, interval time.Duration) *Service {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Service{b: b, interval: interval, events: make(chan model.RealizedPnL, 1024), done: make(chan struct{})}
}

// Start subscribes to realized P&L events and launches the accumulator
// and publish-ticker goroutine.
func (s *Service) Start() {
	s.b.Subscribe(brokerPnLTopic, s.onPnL)
	go s.run()
}

// Stop unsubscribes and waits for the accumulator goroutine to exit.
func (s *Service) Stop() {
	s.b.Unsubscribe(brokerPnLTopic, s.onPnL)
	close(s.events)
	<-s.done
}

const brokerPnLTopic = "broker.pnl"

func (s *Service) onPnL(payload any) {
	evt, ok := payload.(model.RealizedPnL)
	if !ok {
		return
	}
	select {
	case s.events <- evt:
	default:
	}
}

func (s *Service) run() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case evt, ok := <-s.events:
			if !ok {
				return
			}
			s.accumulate(evt)
		case <-ticker.C:
			s.publish()
		}
	}
}

func (s *Service) accumulate(evt model.RealizedPnL) {
	if evt.Realized == 0 {
		return
	}
	s.trades++
	if evt.Realized > 0 {
		s.wins++
	}
	s.history = append(s.history, evt.Realized)
	s.equity += evt.Realized
	if s.equity > s.peak {
		s.peak = s.equity
	}
	if dd := s.peak - s.equity; dd > s.maxDD {
		s.maxDD = dd
	}
}

func (s *Service) publish() {
	report := PerformanceReport{
		Ts:          time.Now(),
		TotalTrades: s.trades,
		TotalPnL:    s.equity,
		MaxDrawdown: s.maxDD,
		SharpeRatio: sharpe(s.history),
	}
	if s.trades > 0 {
		report.WinRate = float64(s.wins) / float64(s.trades)
	}

	totalPnLGauge.Set(report.TotalPnL)
	drawdownGauge.Set(report.MaxDrawdown)
	winRateGauge.Set(report.WinRate)

	s.b.Publish(TopicPerformance, report)
}

// sharpe returns the mean-over-stdev ratio of the realized P&L series,
// 0 with fewer than 2 samples or zero variance.
func sharpe(history []float64) float64 {
	n := len(history)
	if n < 2 {
		return 0
	}
	var sum float64
	for _, v := range history {
		sum += v
	}
	mean := sum / float64(n)
	var sq float64
	for _, v := range history {
		d := v - mean
		sq += d * d
	}
	std := math.Sqrt(sq / float64(n-1))
	if std <= 1e-9 {
		return 0
	}
	return mean / std
}
