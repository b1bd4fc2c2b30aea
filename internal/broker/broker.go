// Package broker owns order intake, guardrail gating, paper fill
// synthesis, and position/P&L accounting for the core trading
// pipeline. It generalizes the teacher's PaperBroker (execution_service.go)
// from a NATS-subject consumer into an in-process EventBus subscriber
// with a single-writer intake queue, per spec.md §4.4.
package broker

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"coretrader/internal/bus"
	"coretrader/internal/model"

	"github.com/google/uuid"
)

// Topic names on the shared bus.
const (
	TopicTicks      = "ticks"
	TopicOrders     = "broker.orders"
	TopicFills      = "broker.fills"
	TopicPositions  = "broker.positions"
	TopicGuardrails = "broker.guardrails"
	TopicPnL        = "broker.pnl"
)

// submitTask is one order intake request. future is resolved exactly
// once by the consumer goroutine before it dequeues the next task,
// which is what linearizes state transitions.
type submitTask struct {
	symbol string
	order  model.OrderRequest
	result chan submitResult
}

// queue carries one closure per unit of work — an order submission or
// a tick update — so both are linearized through the same consumer
// goroutine in the order they were enqueued, mirroring shadow.Service's
// queue chan func() pattern.

type submitResult struct {
	ack *model.OrderAck
	err error
}

type pendingOrder struct {
	symbol      string
	order       model.OrderRequest
	submittedAt time.Time
}

// Broker is the single owner of orders/positions/P&L/guardrail state;
// every field below is touched only by run's consumer goroutine,
// except the cached snapshot guarded by snapMu and tradingEnabled
// which is set from the ops API's HTTP goroutine.
type Broker struct {
	bus            *bus.Bus
	guardrails     *GuardrailEngine
	tradingEnabled atomic.Bool

	// queue carries one closure per unit of work — an order submission
	// or a tick update — so both are linearized through run's single
	// consumer goroutine in the order they were enqueued, the same
	// queue chan func() pattern shadow.Service uses.
	queue chan func()
	done  chan struct{}

	pending   map[string]pendingOrder
	positions map[string]*model.Position
	lastMid   map[string]float64
	pnl       map[string]float64

	snapMu   sync.RWMutex
	snapshot Snapshot
}

// Snapshot is a read-only, concurrency-safe view of broker state for
// the ops API.
type Snapshot struct {
	TradingEnabled bool
	Positions      map[string]model.Position
	PnL            map[string]float64
	Guardrails     map[string]GuardrailState
}

// New constructs a Broker subscribed to nothing yet; call Start to
// subscribe to ticks and begin processing submissions.
func New(b *bus.Bus, guardrailCfg GuardrailConfig, tradingEnabled bool) *Broker {
	br := &Broker{
		bus:        b,
		guardrails: NewGuardrailEngine(guardrailCfg),
		queue:      make(chan func(), 256),
		done:       make(chan struct{}),
		pending:    make(map[string]pendingOrder),
		positions:  make(map[string]*model.Position),
		lastMid:    make(map[string]float64),
		pnl:        make(map[string]float64),
	}
	br.tradingEnabled.Store(tradingEnabled)
	return br
}

// Start subscribes to ticks and launches the single consumer
// goroutine. Call Stop to drain and shut down.
func (b *Broker) Start() {
	b.bus.Subscribe(TopicTicks, b.onTick)
	go b.run()
}

// Stop closes the work queue and returns once the consumer goroutine
// has exited. Submissions and ticks already queued are still processed
// in full before it exits (a queued order is evaluated and, if
// accepted, filled as usual); they are not failed.
func (b *Broker) Stop() {
	close(b.queue)
	<-b.done
	b.bus.Unsubscribe(TopicTicks, b.onTick)
}

// onTick only enqueues; it runs on whatever goroutine published the
// tick (the live/replay feed's own goroutine, not the broker's), so it
// must never touch lastMid or guardrails state directly — that happens
// in handleTick on run's consumer goroutine instead.
func (b *Broker) onTick(payload any) {
	tick, ok := payload.(model.Tick)
	if !ok {
		return
	}
	if tick.Symbol == "" {
		return
	}
	select {
	case b.queue <- func() { b.handleTick(tick) }:
	default:
		log.Printf("broker: work queue full, dropping tick for %s", tick.Symbol)
	}
}

func (b *Broker) handleTick(tick model.Tick) {
	b.lastMid[tick.Symbol] = tick.Mid
	b.guardrails.UpdateSpread(tick.Symbol, tick.SpreadBp)
}

// Place enqueues order for symbol and blocks until the broker's
// consumer goroutine has resolved it (accepted or rejected).
func (b *Broker) Place(symbol string, order model.OrderRequest) (*model.OrderAck, error) {
	result := make(chan submitResult, 1)
	task := submitTask{symbol: symbol, order: order, result: result}
	select {
	case b.queue <- func() { b.handle(task) }:
	case <-b.done:
		return nil, fmt.Errorf("broker stopping")
	}
	r := <-result
	return r.ack, r.err
}

func (b *Broker) run() {
	defer close(b.done)
	for work := range b.queue {
		work()
	}
	// Drain: anything still in the channel after close has no reader
	// other than us, but range already exhausts it; nothing left to fail.
}

func (b *Broker) handle(task submitTask) {
	symbol, order := task.symbol, task.order

	if !b.tradingEnabled.Load() {
		log.Printf("broker: order blocked (trading disabled): %+v", order)
		b.emitGuardrail(symbol, order, RuleKill, b.guardrails.ReasonText(RuleKill, symbol))
		task.result <- submitResult{err: fmt.Errorf("trading disabled")}
		return
	}

	if rule := b.guardrails.Evaluate(symbol, order); rule != "" {
		log.Printf("broker: order blocked by %s: %+v", rule, order)
		reason := b.guardrails.ReasonText(rule, symbol)
		b.emitGuardrail(symbol, order, rule, reason)
		b.bus.Publish(TopicOrders, model.OrderEvent{
			Status: model.StatusBlocked,
			Symbol: symbol,
			Order:  order,
			Reason: rule,
		})
		task.result <- submitResult{err: fmt.Errorf("order blocked by %s", rule)}
		b.refreshSnapshot()
		return
	}

	orderID := uuid.NewString()
	b.pending[orderID] = pendingOrder{symbol: symbol, order: order, submittedAt: time.Now()}
	ack := &model.OrderAck{OrderID: orderID}
	b.bus.Publish(TopicOrders, model.OrderEvent{
		Status:  model.StatusAccepted,
		Symbol:  symbol,
		Order:   order,
		OrderID: orderID,
	})
	log.Printf("broker: order accepted %s -> %s", symbol, orderID)
	task.result <- submitResult{ack: ack}

	px := b.lastMid[symbol]
	if order.Price != nil {
		px = *order.Price
	}
	signed := order.Qty
	if order.Side == model.Sell {
		signed = -order.Qty
	}
	fill := model.Fill{
		OrderID: orderID,
		Symbol:  symbol,
		Ts:      time.Now(),
		Px:      px,
		Qty:     signed,
		Kind:    model.FillPaper,
		Venue:   "SIM",
	}
	b.bus.Publish(TopicFills, fill)

	pending, hadPending := b.pending[orderID]
	delete(b.pending, orderID)
	latencyMs := 0.0
	if hadPending {
		latencyMs = float64(time.Since(pending.submittedAt).Microseconds()) / 1000.0
		if latencyMs < 0 {
			latencyMs = 0
		}
	}
	b.guardrails.UpdateLatency(symbol, latencyMs)

	realized, pos := b.applyFill(symbol, fill)
	total := b.pnl[symbol] + realized
	b.pnl[symbol] = total
	b.guardrails.UpdatePnL(symbol, total)
	b.bus.Publish(TopicPnL, model.RealizedPnL{Symbol: symbol, OrderID: orderID, Ts: fill.Ts, Realized: realized, Total: total})
	b.bus.Publish(TopicPositions, pos)
	b.guardrails.UpdatePosition(symbol, pos.Qty)

	b.refreshSnapshot()
}

func (b *Broker) emitGuardrail(symbol string, order model.OrderRequest, rule, message string) {
	b.bus.Publish(TopicGuardrails, model.GuardrailEvent{
		Rule:     rule,
		Message:  message,
		Symbol:   symbol,
		Order:    order,
		Severity: model.SeverityBlock,
		Ts:       time.Now(),
	})
}

// applyFill updates positions[symbol] per the P&L rules in spec.md §3:
// reducing fills realize P&L against the pre-fill average; a fill
// that crosses zero realizes only the closing portion and starts a
// fresh position at the fill price for the residual.
func (b *Broker) applyFill(symbol string, fill model.Fill) (realized float64, pos model.Position) {
	p, ok := b.positions[symbol]
	if !ok {
		p = &model.Position{Symbol: symbol}
		b.positions[symbol] = p
	}

	qtyBefore := p.Qty
	avgBefore := p.AvgPx
	qtyAfter := qtyBefore + fill.Qty

	switch {
	case qtyBefore == 0:
		p.AvgPx = fill.Px
	case qtyBefore > 0 && fill.Qty < 0:
		closing := min(qtyBefore, -fill.Qty)
		realized = (fill.Px - avgBefore) * closing
		switch {
		case qtyAfter > 0:
			p.AvgPx = avgBefore
		case qtyAfter < 0:
			p.AvgPx = fill.Px
		default:
			p.AvgPx = 0
		}
	case qtyBefore < 0 && fill.Qty > 0:
		closing := min(-qtyBefore, fill.Qty)
		realized = (avgBefore - fill.Px) * closing
		switch {
		case qtyAfter < 0:
			p.AvgPx = avgBefore
		case qtyAfter > 0:
			p.AvgPx = fill.Px
		default:
			p.AvgPx = 0
		}
	default:
		if qtyAfter != 0 {
			p.AvgPx = (avgBefore*qtyBefore + fill.Px*fill.Qty) / qtyAfter
		} else {
			p.AvgPx = 0
		}
	}

	p.Qty = qtyAfter
	if p.Qty == 0 {
		p.AvgPx = 0
	}
	return realized, *p
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// Flatten submits a market order opposite the current signed position
// for its full magnitude. A no-op if the symbol is already flat.
func (b *Broker) Flatten(symbol string) error {
	pos, ok := b.positions[symbol]
	if !ok || pos.Qty == 0 {
		return nil
	}
	side := model.Sell
	if pos.Qty < 0 {
		side = model.Buy
	}
	qty := pos.Qty
	if qty < 0 {
		qty = -qty
	}
	_, err := b.Place(symbol, model.OrderRequest{Side: side, Qty: qty, Type: model.Market})
	return err
}

// FlattenAll sequences one Flatten per non-flat symbol.
func (b *Broker) FlattenAll() error {
	var symbols []string
	for sym, pos := range b.positions {
		if pos.Qty != 0 {
			symbols = append(symbols, sym)
		}
	}
	for _, sym := range symbols {
		if err := b.Flatten(sym); err != nil {
			return err
		}
	}
	return nil
}

// Cancel is a no-op acknowledgement; real broker cancel plumbing is
// out of scope for the paper core.
func (b *Broker) Cancel(orderID string) error {
	log.Printf("broker: cancel requested for %s (no-op)", orderID)
	return nil
}

func (b *Broker) refreshSnapshot() {
	positions := make(map[string]model.Position, len(b.positions))
	for sym, p := range b.positions {
		positions[sym] = *p
	}
	pnl := make(map[string]float64, len(b.pnl))
	for sym, v := range b.pnl {
		pnl[sym] = v
	}
	snap := Snapshot{
		TradingEnabled: b.tradingEnabled.Load(),
		Positions:      positions,
		PnL:            pnl,
		Guardrails:     b.guardrails.Snapshot(),
	}
	b.snapMu.Lock()
	b.snapshot = snap
	b.snapMu.Unlock()
}

// GetSnapshot returns the most recently published state, safe to call
// from any goroutine (e.g. the ops HTTP API).
func (b *Broker) GetSnapshot() Snapshot {
	b.snapMu.RLock()
	defer b.snapMu.RUnlock()
	return b.snapshot
}

// SetTradingEnabled flips the KILL switch. Safe to call from any
// goroutine; the consumer goroutine reads it fresh on every order.
func (b *Broker) SetTradingEnabled(enabled bool) {
	b.tradingEnabled.Store(enabled)
}
