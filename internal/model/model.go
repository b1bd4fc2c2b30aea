// Package model holds the wire-level records shared across the core
// trading pipeline's event bus topics. Every payload that crosses a
// topic boundary is parsed into one of these before any subsystem
// touches it; nothing downstream of ingress deals in bare maps.
package model

import "time"

// Side is an order or aggressor direction.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// OrderType distinguishes market from resting limit orders.
type OrderType string

const (
	Market OrderType = "MKT"
	Limit  OrderType = "LMT"
)

// TimeInForce is optional on an OrderRequest.
type TimeInForce string

const (
	TIFDay TimeInForce = "DAY"
	TIFIOC TimeInForce = "IOC"
	TIFFOK TimeInForce = "FOK"
)

// TradeLeg is an embedded trade reported on a Tick.
type TradeLeg struct {
	Px   float64 `json:"px"`
	Size float64 `json:"size"`
	Side Side    `json:"side"`
}

// Tick is the normalized per-symbol top-of-book-plus-features snapshot
// emitted by the blotter on every qualifying book update.
type Tick struct {
	Symbol   string       `json:"symbol"`
	Ts       time.Time    `json:"ts"`
	Mid      float64      `json:"mid"`
	SpreadBp float64      `json:"spreadBp"`
	Imb      float64      `json:"imb"`
	Depth    [][2]float64 `json:"depth,omitempty"`
	Trades   []TradeLeg   `json:"trades,omitempty"`
	Features []float64    `json:"features"`
}

// BookSnapshot is the top-5-per-side depth event.
type BookSnapshot struct {
	Symbol string       `json:"symbol"`
	Ts     time.Time    `json:"ts"`
	Bids   [][2]float64 `json:"bids"`
	Asks   [][2]float64 `json:"asks"`
}

// TradePrint is a single reported execution on the tape.
type TradePrint struct {
	Symbol    string    `json:"symbol"`
	Ts        time.Time `json:"ts"`
	Price     float64   `json:"price"`
	Size      float64   `json:"size"`
	Aggressor Side      `json:"aggressor"`
}

// OrderRequest is an inbound order intent from Algo or an external caller.
type OrderRequest struct {
	Side  Side        `json:"side"`
	Qty   float64     `json:"qty"`
	Type  OrderType   `json:"type"`
	Price *float64    `json:"price,omitempty"`
	TIF   TimeInForce `json:"tif,omitempty"`
}

// OrderAck confirms broker acceptance with a globally unique order id.
type OrderAck struct {
	OrderID string `json:"orderId"`
}

// FillKind distinguishes paper, live, and shadow executions.
type FillKind string

const (
	FillPaper  FillKind = "paper"
	FillLive   FillKind = "live"
	FillShadow FillKind = "shadow"
)

// Fill is a single execution report, signed by direction.
type Fill struct {
	OrderID string    `json:"orderId"`
	Symbol  string    `json:"symbol"`
	Ts      time.Time `json:"ts"`
	Px      float64   `json:"px"`
	Qty     float64   `json:"qty"` // signed: +buy, -sell
	Kind    FillKind  `json:"kind"`
	Venue   string    `json:"venue"`
}

// RealizedPnL is published for every paper fill, carrying just the
// P&L delta that fill realized (0 for a pure position-building fill).
type RealizedPnL struct {
	Symbol   string    `json:"symbol"`
	OrderID  string    `json:"orderId"`
	Ts       time.Time `json:"ts"`
	Realized float64   `json:"realized"`
	Total    float64   `json:"total"`
}

// Position is the broker's per-symbol signed inventory and average cost.
type Position struct {
	Symbol string  `json:"symbol"`
	Qty    float64 `json:"qty"`
	AvgPx  float64 `json:"avgPx"`
}

// OrderEventStatus is the status field on a broker.orders event.
type OrderEventStatus string

const (
	StatusAccepted OrderEventStatus = "accepted"
	StatusBlocked  OrderEventStatus = "blocked"
)

// OrderEvent is published on broker.orders for both accepted and
// blocked submissions.
type OrderEvent struct {
	Status  OrderEventStatus `json:"status"`
	Symbol  string           `json:"symbol"`
	Order   OrderRequest     `json:"order"`
	Reason  string           `json:"reason,omitempty"`
	OrderID string           `json:"orderId,omitempty"`
}

// GuardrailSeverity labels a broker.guardrails event.
type GuardrailSeverity string

const (
	SeverityBlock GuardrailSeverity = "block"
	SeverityWarn  GuardrailSeverity = "warn"
)

// GuardrailEvent is published whenever a rule fires.
type GuardrailEvent struct {
	Rule     string            `json:"rule"`
	Message  string            `json:"message"`
	Symbol   string            `json:"symbol"`
	Order    OrderRequest      `json:"order"`
	Severity GuardrailSeverity `json:"severity"`
	Ts       time.Time         `json:"ts"`
}

// SymbolSnapshot is the screener's session-scoped running total for a symbol.
type SymbolSnapshot struct {
	Symbol        string
	DollarVolume  float64
	Trades        int
	SpreadSum     float64
	SpreadSamples int
	LastSeen      time.Time
}

// AvgSpreadBp returns the session average spread, or 0 with no samples.
func (s *SymbolSnapshot) AvgSpreadBp() float64 {
	if s.SpreadSamples == 0 {
		return 0
	}
	return s.SpreadSum / float64(s.SpreadSamples)
}

// TopSymbol is one ranked entry in a screener refresh payload.
type TopSymbol struct {
	Symbol       string  `json:"symbol"`
	DollarVolume float64 `json:"dollarVolume"`
	TotalTrades  int     `json:"totalTrades"`
	AvgSpreadBp  float64 `json:"avgSpreadBp"`
	LastSeen     time.Time `json:"lastSeen"`
}

// ScreenerRefresh is the screener.today_top10 payload.
type ScreenerRefresh struct {
	Ts            time.Time   `json:"ts"`
	NextRefreshTs time.Time   `json:"nextRefreshTs"`
	TodayTop      []TopSymbol `json:"todayTop"`
}

// ActiveStatus labels a symbol's membership transition in the active set.
type ActiveStatus string

const (
	StatusAdded    ActiveStatus = "added"
	StatusKept     ActiveStatus = "kept"
	StatusRetained ActiveStatus = "retained"
	StatusRetired  ActiveStatus = "retired"
)

// ActiveSymbol is one entry in the universe.active_symbols payload.
type ActiveSymbol struct {
	Symbol string       `json:"symbol"`
	Traded bool         `json:"traded"`
	Reason string       `json:"reason,omitempty"`
	Status ActiveStatus `json:"status"`
}

// RetiredSymbol records a symbol that fell out of the active set.
type RetiredSymbol struct {
	Symbol string `json:"symbol"`
	Status string `json:"status"`
}

// ActiveSetSummary is the universe.active_symbols payload.
type ActiveSetSummary struct {
	Ts             time.Time       `json:"ts"`
	NextRefreshTs  time.Time       `json:"nextRefreshTs"`
	NextChurnTs    *time.Time      `json:"nextChurnTs,omitempty"`
	ActiveSymbols  []ActiveSymbol  `json:"activeSymbols"`
	RetiredSymbols []RetiredSymbol `json:"retiredSymbols"`
	ReadyModels    []string        `json:"readyModels"`
	MissingModels  []string        `json:"missingModels"`
}
