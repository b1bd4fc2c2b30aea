// Package algo turns per-symbol feature ticks into order intents via
// an HMM regime inference call and a simple threshold policy, then
// submits accepted intents to the broker. Grounded on the original
// services/algo package: service.py's queue-and-debounce wiring,
// policy.py's SimplePolicy, and hmm_client.py's inference client.
package algo

import "coretrader/internal/model"

// PolicyConfig tunes SimplePolicy's decision thresholds.
type PolicyConfig struct {
	BaseQty             float64 `mapstructure:"base_qty"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
	ForceTrade          bool    `mapstructure:"force_trade"`
	AlternateSides      bool    `mapstructure:"alternate_sides"`
}

// DefaultPolicyConfig matches the original service's defaults.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		BaseQty:             10,
		ConfidenceThreshold: 0.55,
		ForceTrade:          false,
		AlternateSides:      true,
	}
}

// SimplePolicy maps an HMM regime inference into a market order
// intent, or no action. When ForceTrade is set it trades every call
// regardless of inference, alternating sides if AlternateSides is set
// and always selling otherwise, useful for smoke-testing the rest of
// the pipeline without a live model.
type SimplePolicy struct {
	cfg      PolicyConfig
	lastSide model.Side
}

// NewSimplePolicy returns a policy seeded so its first ForceTrade
// decision is BUY, matching the original's last_side="SELL" seed.
func NewSimplePolicy(cfg PolicyConfig) *SimplePolicy {
	return &SimplePolicy{cfg: cfg, lastSide: model.Sell}
}

// Decide returns an order intent for symbol given probs (indexed
// down/flat/up) and confidence, or nil for no action.
func (p *SimplePolicy) Decide(symbol string, probs []float64, confidence float64) *model.OrderRequest {
	if p.cfg.ForceTrade {
		side := model.Sell
		if p.cfg.AlternateSides && p.lastSide == model.Sell {
			side = model.Buy
		}
		p.lastSide = side
		return &model.OrderRequest{Side: side, Qty: p.cfg.BaseQty, Type: model.Market}
	}

	if confidence < p.cfg.ConfidenceThreshold {
		return nil
	}

	var upProb, downProb float64
	if len(probs) > 2 {
		upProb = probs[2]
	}
	if len(probs) > 0 {
		downProb = probs[0]
	}

	switch {
	case upProb-downProb > 0.05:
		return &model.OrderRequest{Side: model.Buy, Qty: p.cfg.BaseQty, Type: model.Market}
	case downProb-upProb > 0.05:
		return &model.OrderRequest{Side: model.Sell, Qty: p.cfg.BaseQty, Type: model.Market}
	default:
		return nil
	}
}
