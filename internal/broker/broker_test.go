package broker

import (
	"testing"
	"time"

	"coretrader/internal/bus"
	"coretrader/internal/model"
)

func newTestBroker(t *testing.T) (*Broker, *bus.Bus) {
	t.Helper()
	b := bus.New()
	// Cooldown off so a test can reverse a fresh position at once; the
	// COOLDOWN rule has its own tests in guardrails_test.go.
	cfg := DefaultGuardrailConfig()
	cfg.CooldownMs = 0
	br := New(b, cfg, true)
	br.Start()
	t.Cleanup(br.Stop)
	return br, b
}

// Paper fill + P&L scenario from spec.md §8: an accepted market order
// synthesizes an immediate fill at the last mid, updates the position,
// and publishes a realized P&L delta.
func TestPlaceAcceptedOrderSynthesizesFillAndPosition(t *testing.T) {
	br, b := newTestBroker(t)

	fills := make(chan model.Fill, 4)
	positions := make(chan model.Position, 4)
	b.Subscribe(TopicFills, func(p any) { fills <- p.(model.Fill) })
	b.Subscribe(TopicPositions, func(p any) { positions <- p.(model.Position) })

	b.Publish(TopicTicks, model.Tick{Symbol: "AAPL", Mid: 100})

	ack, err := br.Place("AAPL", model.OrderRequest{Side: model.Buy, Qty: 10, Type: model.Market})
	if err != nil {
		t.Fatalf("expected order to be accepted, got error: %v", err)
	}
	if ack.OrderID == "" {
		t.Fatal("expected a non-empty order id")
	}

	select {
	case fill := <-fills:
		if fill.Px != 100 || fill.Qty != 10 {
			t.Fatalf("expected fill at px=100 qty=10, got %+v", fill)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for fill")
	}

	select {
	case pos := <-positions:
		if pos.Qty != 10 || pos.AvgPx != 100 {
			t.Fatalf("expected position qty=10 avgPx=100, got %+v", pos)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for position")
	}
}

func TestApplyFillRealizesPnLOnReduction(t *testing.T) {
	br, b := newTestBroker(t)

	pnls := make(chan model.RealizedPnL, 4)
	b.Subscribe(TopicPnL, func(p any) { pnls <- p.(model.RealizedPnL) })

	b.Publish(TopicTicks, model.Tick{Symbol: "AAPL", Mid: 100})
	if _, err := br.Place("AAPL", model.OrderRequest{Side: model.Buy, Qty: 10, Type: model.Market}); err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	<-pnls // opening fill, realized == 0

	b.Publish(TopicTicks, model.Tick{Symbol: "AAPL", Mid: 110})
	if _, err := br.Place("AAPL", model.OrderRequest{Side: model.Sell, Qty: 10, Type: model.Market}); err != nil {
		t.Fatalf("sell failed: %v", err)
	}

	select {
	case evt := <-pnls:
		if evt.Realized != 100 { // (110-100) * 10
			t.Fatalf("expected realized P&L of 100, got %v", evt.Realized)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for realized P&L")
	}
}

func TestPlaceBlockedByGuardrailReturnsError(t *testing.T) {
	b := bus.New()
	cfg := DefaultGuardrailConfig()
	cfg.MaxPosition = 1
	br := New(b, cfg, true)
	br.Start()
	t.Cleanup(br.Stop)

	blocked := make(chan model.GuardrailEvent, 1)
	b.Subscribe(TopicGuardrails, func(p any) { blocked <- p.(model.GuardrailEvent) })

	_, err := br.Place("AAPL", model.OrderRequest{Side: model.Buy, Qty: 10, Type: model.Market})
	if err == nil {
		t.Fatal("expected an error for an order exceeding max position")
	}

	select {
	case evt := <-blocked:
		if evt.Rule != RulePosition {
			t.Fatalf("expected POS guardrail event, got %q", evt.Rule)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for guardrail event")
	}
}

func TestPlaceWhileTradingDisabledIsBlocked(t *testing.T) {
	b := bus.New()
	br := New(b, DefaultGuardrailConfig(), false)
	br.Start()
	t.Cleanup(br.Stop)

	_, err := br.Place("AAPL", model.OrderRequest{Side: model.Buy, Qty: 1, Type: model.Market})
	if err == nil {
		t.Fatal("expected trading-disabled error")
	}
}

func TestFlattenOnFlatSymbolIsNoop(t *testing.T) {
	br, _ := newTestBroker(t)
	if err := br.Flatten("AAPL"); err != nil {
		t.Fatalf("expected no error flattening a flat symbol, got %v", err)
	}
}

func TestFlattenSubmitsOppositeSideOrder(t *testing.T) {
	br, b := newTestBroker(t)
	positions := make(chan model.Position, 8)
	b.Subscribe(TopicPositions, func(p any) { positions <- p.(model.Position) })

	b.Publish(TopicTicks, model.Tick{Symbol: "AAPL", Mid: 50})
	if _, err := br.Place("AAPL", model.OrderRequest{Side: model.Buy, Qty: 5, Type: model.Market}); err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	<-positions

	if err := br.Flatten("AAPL"); err != nil {
		t.Fatalf("flatten failed: %v", err)
	}

	select {
	case pos := <-positions:
		if pos.Qty != 0 {
			t.Fatalf("expected flat position after Flatten, got %+v", pos)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for flattened position")
	}
}
