package shadow

import (
	"log"
	"time"

	"coretrader/internal/bus"
	"coretrader/internal/model"
)

// Bus topic names, matching the broker and blotter packages.
const (
	TopicBook        = "ticks.book"
	TopicTrades      = "ticks.trades"
	TopicOrders      = "broker.orders"
	TopicShadowFills = "shadow.fills"
)

type tradeEvent struct {
	price     float64
	size      float64
	aggressor model.Side
	symbol    string
	ts        time.Time
}

// Service wires QueueAwareSimulator to the shared bus. All bus
// callbacks just enqueue work; a single goroutine drains the queue so
// the simulator itself never needs its own lock, mirroring the
// broker's single-writer intake pattern.
type Service struct {
	b   *bus.Bus
	sim *QueueAwareSimulator

	queue chan func()
	done  chan struct{}
}

// New returns a Service ready to Start.
func New(b *bus.Bus) *Service {
	return &Service{
		b:     b,
		sim:   NewQueueAwareSimulator(),
		queue: make(chan func(), 1024),
		done:  make(chan struct{}),
	}
}

// Start subscribes to book, trade, and order topics and launches the
// consumer goroutine.
func (s *Service) Start() {
	s.b.Subscribe(TopicBook, s.onBook)
	s.b.Subscribe(TopicTrades, s.onTrade)
	s.b.Subscribe(TopicOrders, s.onOrder)
	go s.run()
}

// Stop closes the work queue and waits for the consumer to exit.
func (s *Service) Stop() {
	s.b.Unsubscribe(TopicBook, s.onBook)
	s.b.Unsubscribe(TopicTrades, s.onTrade)
	s.b.Unsubscribe(TopicOrders, s.onOrder)
	close(s.queue)
	<-s.done
}

func (s *Service) run() {
	defer close(s.done)
	for task := range s.queue {
		task()
	}
}

func (s *Service) enqueue(task func()) {
	select {
	case s.queue <- task:
	default:
		log.Printf("shadow: work queue full, dropping task")
	}
}

func (s *Service) onBook(payload any) {
	book, ok := payload.(model.BookSnapshot)
	if !ok {
		return
	}
	s.enqueue(func() { s.sim.OnBook(book.Bids, book.Asks) })
}

func (s *Service) onTrade(payload any) {
	trade, ok := payload.(model.TradePrint)
	if !ok {
		return
	}
	s.enqueue(func() {
		s.sim.OnTrade(trade.Price, trade.Size, trade.Aggressor)
		for _, fill := range s.sim.TryFills(trade.Ts) {
			s.b.Publish(TopicShadowFills, model.Fill{
				OrderID: fill.OrderID,
				Symbol:  trade.Symbol,
				Ts:      fill.Ts,
				Px:      fill.AvgPx,
				Qty:     fill.Qty,
				Kind:    model.FillShadow,
				Venue:   "SIM",
			})
		}
	})
}

func (s *Service) onOrder(payload any) {
	evt, ok := payload.(model.OrderEvent)
	if !ok {
		return
	}
	if evt.Status != model.StatusAccepted {
		return
	}
	if evt.Order.Type != model.Limit || evt.Order.Price == nil {
		return
	}
	order := RestingOrder{
		OrderID: evt.OrderID,
		Side:    evt.Order.Side,
		Price:   *evt.Order.Price,
		Qty:     evt.Order.Qty,
		Placed:  time.Now(),
	}
	s.enqueue(func() { s.sim.PlaceLimit(order) })
}
