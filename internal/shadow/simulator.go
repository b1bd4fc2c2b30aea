// Package shadow runs a queue-position-aware fill simulator alongside
// the paper broker, so resting limit orders that would realistically
// queue behind displayed size only fill once the tape shows enough
// trading through their price, per spec.md §4.6.
package shadow

import (
	"math"
	"time"

	"coretrader/internal/model"
)

// Fill is a synthetic shadow execution.
type Fill struct {
	OrderID string
	Ts      time.Time
	AvgPx   float64
	Qty     float64
}

// RestingOrder is a virtual limit order the simulator is queued behind.
type RestingOrder struct {
	OrderID string
	Side    model.Side
	Price   float64
	Qty     float64
	Placed  time.Time
}

// QueueAwareSimulator tracks, per side and price level, how much size
// was queued ahead of each resting order and how much has since
// traded through that level, filling an order only once the traded
// volume has caught up past what was ahead of it.
//
// Not safe for concurrent use; Service serializes all access
// through its own consumer goroutine.
type QueueAwareSimulator struct {
	LatencyMs int64

	orders     map[string]RestingOrder
	queueAhead map[model.Side]map[float64]float64
	execSince  map[model.Side]map[float64]float64
	bids       [][2]float64
	asks       [][2]float64
}

// NewQueueAwareSimulator returns a simulator with the original
// service's 60ms cold-start latency gate.
func NewQueueAwareSimulator() *QueueAwareSimulator {
	return &QueueAwareSimulator{
		LatencyMs: 60,
		orders:    make(map[string]RestingOrder),
		queueAhead: map[model.Side]map[float64]float64{
			model.Buy:  {},
			model.Sell: {},
		},
		execSince: map[model.Side]map[float64]float64{
			model.Buy:  {},
			model.Sell: {},
		},
	}
}

// OnBook records the latest top-of-book depth snapshot used to size
// the queue ahead of a newly placed order.
func (s *QueueAwareSimulator) OnBook(bids, asks [][2]float64) {
	s.bids = bids
	s.asks = asks
}

// OnTrade credits the print to the resting side it executed against:
// a BUY aggressor takes liquidity from the SELL side of the book.
func (s *QueueAwareSimulator) OnTrade(price, size float64, aggressor model.Side) {
	sideHit := model.Sell
	if aggressor == model.Sell {
		sideHit = model.Buy
	}
	s.execSince[sideHit][price] = s.execSince[sideHit][price] + size
}

// PlaceLimit registers order, capturing the currently displayed size
// at its price as the queue it must trade through before filling.
func (s *QueueAwareSimulator) PlaceLimit(order RestingOrder) {
	s.orders[order.OrderID] = order
	ahead := s.queueAhead[order.Side]
	ahead[order.Price] = ahead[order.Price] + s.DisplayedSizeAt(order.Side, order.Price)
}

// Cancel removes order from the resting set, if present.
func (s *QueueAwareSimulator) Cancel(orderID string) {
	delete(s.orders, orderID)
}

// TryFills scans every resting order and fills those whose cold-start
// latency has elapsed and whose price has traded through more volume
// than was queued ahead of it. Each eligible order fills exactly once,
// for min(available, order qty), and is then removed regardless of
// whether the fill was partial, mirroring the original simulator.
func (s *QueueAwareSimulator) TryFills(now time.Time) []Fill {
	var fills []Fill
	for orderID, order := range s.orders {
		if now.Sub(order.Placed) < time.Duration(s.LatencyMs)*time.Millisecond {
			continue
		}
		executed := s.execSince[order.Side][order.Price]
		ahead := s.queueAhead[order.Side][order.Price]
		available := executed - ahead
		if available <= 0 {
			continue
		}
		qty := math.Min(available, order.Qty)
		fills = append(fills, Fill{OrderID: orderID, Ts: now, AvgPx: order.Price, Qty: qty})
		delete(s.orders, orderID)
	}
	return fills
}

// DisplayedSizeAt returns the displayed size at price on side's book,
// or 0 if no level matches within tolerance.
func (s *QueueAwareSimulator) DisplayedSizeAt(side model.Side, price float64) float64 {
	book := s.bids
	if side == model.Sell {
		book = s.asks
	}
	for _, lvl := range book {
		if math.Abs(lvl[0]-price) < 1e-9 {
			return lvl[1]
		}
	}
	return 0
}
