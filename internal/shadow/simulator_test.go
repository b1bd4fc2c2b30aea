package shadow

import (
	"testing"
	"time"

	"coretrader/internal/model"
)

// Shadow queue scenario from spec.md §8: a resting buy only fills
// once the tape shows enough volume trading through its price to have
// cleared what was already displayed ahead of it.
func TestTryFillsWaitsForQueueToClear(t *testing.T) {
	sim := NewQueueAwareSimulator()
	sim.LatencyMs = 0
	sim.OnBook([][2]float64{{100, 500}}, nil)

	placedAt := time.Now().Add(-time.Second)
	sim.PlaceLimit(RestingOrder{OrderID: "o1", Side: model.Buy, Price: 100, Qty: 50, Placed: placedAt})

	// A sell aggressor at 100 executes against the BUY side of the book.
	sim.OnTrade(100, 200, model.Sell)
	if fills := sim.TryFills(time.Now()); len(fills) != 0 {
		t.Fatalf("expected no fill yet, only 200 of 500 queued ahead has traded, got %+v", fills)
	}

	sim.OnTrade(100, 400, model.Sell) // cumulative 600 > 500 ahead
	fills := sim.TryFills(time.Now())
	if len(fills) != 1 {
		t.Fatalf("expected exactly one fill once the queue clears, got %+v", fills)
	}
	if fills[0].OrderID != "o1" {
		t.Fatalf("expected fill for o1, got %+v", fills[0])
	}
	if fills[0].Qty != 50 {
		t.Fatalf("expected full qty 50 filled, got %v", fills[0].Qty)
	}
}

func TestTryFillsRespectsLatencyGate(t *testing.T) {
	sim := NewQueueAwareSimulator()
	sim.LatencyMs = 1000
	sim.OnBook([][2]float64{{100, 0}}, nil)
	sim.PlaceLimit(RestingOrder{OrderID: "o1", Side: model.Buy, Price: 100, Qty: 10, Placed: time.Now()})
	sim.OnTrade(100, 1000, model.Sell)

	if fills := sim.TryFills(time.Now()); len(fills) != 0 {
		t.Fatalf("expected no fill before the latency gate elapses, got %+v", fills)
	}
}

func TestTryFillsRemovesOrderAfterAnyFill(t *testing.T) {
	sim := NewQueueAwareSimulator()
	sim.LatencyMs = 0
	sim.OnBook(nil, nil)
	placedAt := time.Now().Add(-time.Second)
	sim.PlaceLimit(RestingOrder{OrderID: "o1", Side: model.Buy, Price: 100, Qty: 100, Placed: placedAt})

	// Only enough volume to partially fill; the order should still be
	// removed entirely, matching the original simulator's behavior.
	sim.OnTrade(100, 30, model.Sell)
	fills := sim.TryFills(time.Now())
	if len(fills) != 1 || fills[0].Qty != 30 {
		t.Fatalf("expected a partial fill of 30, got %+v", fills)
	}

	sim.OnTrade(100, 1000, model.Sell)
	if fills := sim.TryFills(time.Now()); len(fills) != 0 {
		t.Fatalf("expected the order to have been removed after its first fill, got %+v", fills)
	}
}

func TestCancelRemovesRestingOrder(t *testing.T) {
	sim := NewQueueAwareSimulator()
	sim.LatencyMs = 0
	sim.PlaceLimit(RestingOrder{OrderID: "o1", Side: model.Buy, Price: 100, Qty: 10, Placed: time.Now().Add(-time.Second)})
	sim.Cancel("o1")
	sim.OnTrade(100, 10_000, model.Sell)

	if fills := sim.TryFills(time.Now()); len(fills) != 0 {
		t.Fatalf("expected no fills for a cancelled order, got %+v", fills)
	}
}

func TestDisplayedSizeAtMatchesBookLevel(t *testing.T) {
	sim := NewQueueAwareSimulator()
	sim.OnBook([][2]float64{{100.0001, 250}}, [][2]float64{{101, 75}})

	if got := sim.DisplayedSizeAt(model.Buy, 100.0001); got != 250 {
		t.Fatalf("expected 250, got %v", got)
	}
	if got := sim.DisplayedSizeAt(model.Sell, 101); got != 75 {
		t.Fatalf("expected 75, got %v", got)
	}
	if got := sim.DisplayedSizeAt(model.Buy, 999); got != 0 {
		t.Fatalf("expected 0 for a missing level, got %v", got)
	}
}
