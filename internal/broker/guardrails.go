package broker

import (
	"fmt"
	"math"
	"time"

	"coretrader/internal/model"
)

// Rule names, checked in this fixed order by GuardrailEngine.Evaluate.
const (
	RuleSpread   = "SPREAD"
	RulePosition = "POS"
	RuleCooldown = "COOLDOWN"
	RuleLatency  = "LATENCY"
	RuleDrawdown = "DD"
	RuleKill     = "KILL"
)

// GuardrailState accumulates the per-symbol inputs the engine checks
// against. Touched only by the broker's single consumer goroutine.
type GuardrailState struct {
	CurrentPos   float64
	LastFlipTs   time.Time
	IntradayPnL  float64
	LastSpreadBp float64
	LatencyMs    float64
}

// GuardrailConfig holds the thresholds risk is gated on.
type GuardrailConfig struct {
	MaxSpreadBp   float64       `mapstructure:"max_spread_bp"`
	MaxPosition   float64       `mapstructure:"max_position"`
	CooldownMs    int64         `mapstructure:"cooldown_ms"`
	LatencyMsLimit float64      `mapstructure:"latency_ms_limit"`
	MaxDrawdown   float64       `mapstructure:"max_drawdown"`
}

// DefaultGuardrailConfig matches the original service's defaults.
func DefaultGuardrailConfig() GuardrailConfig {
	return GuardrailConfig{
		MaxSpreadBp:    50,
		MaxPosition:    100,
		CooldownMs:     5_000,
		LatencyMsLimit: 1_000,
		MaxDrawdown:    5_000,
	}
}

// GuardrailEngine gates order submission against per-symbol risk
// state. All methods assume single-threaded use by the broker's
// consumer goroutine; it takes no lock of its own.
type GuardrailEngine struct {
	cfg   GuardrailConfig
	state map[string]*GuardrailState
}

func NewGuardrailEngine(cfg GuardrailConfig) *GuardrailEngine {
	return &GuardrailEngine{cfg: cfg, state: make(map[string]*GuardrailState)}
}

func (g *GuardrailEngine) stateFor(symbol string) *GuardrailState {
	s, ok := g.state[symbol]
	if !ok {
		s = &GuardrailState{}
		g.state[symbol] = s
	}
	return s
}

// Evaluate returns "" when order is accepted, or the first violated
// rule name in fixed precedence order: SPREAD, POS, COOLDOWN, LATENCY, DD.
func (g *GuardrailEngine) Evaluate(symbol string, order model.OrderRequest) string {
	s := g.stateFor(symbol)

	if s.LastSpreadBp > g.cfg.MaxSpreadBp {
		return RuleSpread
	}

	signed := order.Qty
	if order.Side == model.Sell {
		signed = -order.Qty
	}
	if proposed := s.CurrentPos + signed; math.Abs(proposed) > g.cfg.MaxPosition {
		return RulePosition
	}

	if !s.LastFlipTs.IsZero() {
		elapsed := time.Since(s.LastFlipTs)
		if elapsed.Milliseconds() < g.cfg.CooldownMs {
			return RuleCooldown
		}
	}

	if s.LatencyMs > g.cfg.LatencyMsLimit {
		return RuleLatency
	}

	if s.IntradayPnL < -g.cfg.MaxDrawdown {
		return RuleDrawdown
	}

	return ""
}

// ReasonText builds the human-readable message for a broker.guardrails event.
func (g *GuardrailEngine) ReasonText(rule, symbol string) string {
	s := g.state[symbol]
	switch rule {
	case RuleSpread:
		if s != nil {
			return fmt.Sprintf("spread %.2fbp exceeds limit", s.LastSpreadBp)
		}
		return "spread exceeds limit"
	case RulePosition:
		current := 0.0
		if s != nil {
			current = s.CurrentPos
		}
		return fmt.Sprintf("position limit hit (current %.4f)", current)
	case RuleCooldown:
		return "cooldown in effect"
	case RuleLatency:
		return "latency above limit"
	case RuleDrawdown:
		return "drawdown limit breached"
	case RuleKill:
		return "trading disabled"
	default:
		return fmt.Sprintf("blocked by %s", rule)
	}
}

func (g *GuardrailEngine) UpdateSpread(symbol string, spreadBp float64) {
	g.stateFor(symbol).LastSpreadBp = spreadBp
}

// UpdatePosition records the new signed position and, on a sign flip
// (including to/from flat), stamps LastFlipTs so the cooldown window
// restarts.
func (g *GuardrailEngine) UpdatePosition(symbol string, qty float64) {
	s := g.stateFor(symbol)
	prev := s.CurrentPos
	s.CurrentPos = qty
	if prev == 0 || qty == 0 {
		s.LastFlipTs = time.Now()
	} else if (prev > 0 && qty < 0) || (prev < 0 && qty > 0) {
		s.LastFlipTs = time.Now()
	}
}

func (g *GuardrailEngine) UpdateLatency(symbol string, latencyMs float64) {
	g.stateFor(symbol).LatencyMs = latencyMs
}

func (g *GuardrailEngine) UpdatePnL(symbol string, intradayPnL float64) {
	g.stateFor(symbol).IntradayPnL = intradayPnL
}

// Snapshot returns a copy of the per-symbol state. Like every other
// method on GuardrailEngine, it must only be called from the broker's
// consumer goroutine; callers that need this from elsewhere (the ops
// API) should go through Broker.GetSnapshot, which caches a copy behind
// its own mutex after each processed order.
func (g *GuardrailEngine) Snapshot() map[string]GuardrailState {
	out := make(map[string]GuardrailState, len(g.state))
	for sym, st := range g.state {
		out[sym] = *st
	}
	return out
}
