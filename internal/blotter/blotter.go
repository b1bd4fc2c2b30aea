// Package blotter turns raw market data, whether from a live
// websocket feed or a historical replay, into the normalized Tick,
// BookSnapshot, and TradePrint events the rest of the pipeline
// consumes. Grounded on the original services/blotter/service.py for
// the symbol hot-reload and feature pipeline, and the teacher's
// feed_handler.go/replay_service.go for the Go-native feed shapes.
package blotter

import (
	"encoding/json"
	"log"
	"os"
	"strings"
	"time"

	"coretrader/internal/bus"
	"coretrader/internal/features"
	"coretrader/internal/model"
)

// Bus topics published by a feed.
const (
	TopicTicks  = "ticks"
	TopicBook   = "ticks.book"
	TopicTrades = "ticks.trades"
)

// RawUpdate is one normalized book/trade update a feed hands to the
// shared pipeline, regardless of whether it came over a websocket or
// out of a replay file.
type RawUpdate struct {
	Symbol string
	Ts     time.Time
	Bids   [][2]float64
	Asks   [][2]float64
	Last   *TradeUpdate
}

// TradeUpdate is an optional last-trade print attached to a RawUpdate.
type TradeUpdate struct {
	Price float64
	Size  float64
}

// Pipeline turns RawUpdate events into Tick/BookSnapshot/TradePrint
// bus publications, standardizing features per symbol. Shared by the
// live and replay feeds so both produce identical downstream shapes.
type Pipeline struct {
	b            *bus.Bus
	standardizer *features.Standardizer
	recorder     *Recorder
}

// NewPipeline returns a Pipeline publishing onto b, standardizing
// features over the given rolling window.
func NewPipeline(b *bus.Bus, featureWindow int, recorder *Recorder) *Pipeline {
	return &Pipeline{b: b, standardizer: features.NewStandardizer(featureWindow), recorder: recorder}
}

// Ingest computes features for update and publishes the resulting
// Tick, plus a BookSnapshot and, if present, a TradePrint.
func (p *Pipeline) Ingest(update RawUpdate) {
	if len(update.Bids) == 0 || len(update.Asks) == 0 {
		return
	}
	bestBid, bestAsk := update.Bids[0], update.Asks[0]
	if bestBid[0] <= 0 || bestAsk[0] <= 0 {
		return
	}

	mid := features.Mid(bestBid[0], bestAsk[0])
	spread := features.SpreadBp(bestBid[0], bestAsk[0])
	imb := features.OrderFlowImbalance(update.Bids, update.Asks)
	micro := features.Microprice(bestBid[0], bestBid[1], bestAsk[0], bestAsk[1])
	vol := features.RollingVolatility([]float64{mid, micro})

	raw := []float64{mid, spread, imb, micro, vol}
	standardized := p.standardizer.Transform(update.Symbol, raw)

	var trades []model.TradeLeg
	var tradePrint *model.TradePrint
	if update.Last != nil {
		aggressor := model.Buy
		if update.Last.Price < mid {
			aggressor = model.Sell
		}
		trades = []model.TradeLeg{{Px: update.Last.Price, Size: update.Last.Size, Side: aggressor}}
		tradePrint = &model.TradePrint{Symbol: update.Symbol, Ts: update.Ts, Price: update.Last.Price, Size: update.Last.Size, Aggressor: aggressor}
	}

	depth := make([][2]float64, 0, 6)
	depth = append(depth, firstN(update.Bids, 3)...)
	depth = append(depth, firstN(update.Asks, 3)...)

	tick := model.Tick{
		Symbol:   update.Symbol,
		Ts:       update.Ts,
		Mid:      mid,
		SpreadBp: spread,
		Imb:      imb,
		Depth:    depth,
		Trades:   trades,
		Features: standardized,
	}
	p.b.Publish(TopicTicks, tick)
	if p.recorder != nil {
		p.recorder.Record(tick)
	}

	p.b.Publish(TopicBook, model.BookSnapshot{
		Symbol: update.Symbol,
		Ts:     update.Ts,
		Bids:   firstN(update.Bids, 5),
		Asks:   firstN(update.Asks, 5),
	})

	if tradePrint != nil {
		p.b.Publish(TopicTrades, *tradePrint)
	}
}

func firstN(levels [][2]float64, n int) [][2]float64 {
	if len(levels) <= n {
		return levels
	}
	return levels[:n]
}

// SymbolFile polls a JSON file of symbols on an interval and reports
// changes, mirroring the original blotter's symbols_file hot-reload.
type SymbolFile struct {
	path        string
	lastModTime time.Time
	lastSymbols []string
}

// NewSymbolFile returns a watcher for path, or nil if path is empty.
func NewSymbolFile(path string) *SymbolFile {
	if path == "" {
		return nil
	}
	return &SymbolFile{path: path}
}

// Poll returns the current symbol list and whether it changed since
// the last call. A missing or unreadable file returns the previous list.
func (f *SymbolFile) Poll() ([]string, bool) {
	info, err := os.Stat(f.path)
	if err != nil {
		return f.lastSymbols, false
	}
	if !info.ModTime().After(f.lastModTime) && f.lastSymbols != nil {
		return f.lastSymbols, false
	}
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return f.lastSymbols, false
	}
	var payload struct {
		Symbols []string `json:"symbols"`
	}
	var list []string
	if err := json.Unmarshal(raw, &payload); err == nil && len(payload.Symbols) > 0 {
		list = payload.Symbols
	} else if err := json.Unmarshal(raw, &list); err != nil {
		log.Printf("blotter: invalid symbol file %s: %v", f.path, err)
		return f.lastSymbols, false
	}

	seen := make(map[string]bool, len(list))
	var normalized []string
	for _, sym := range list {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" || seen[sym] {
			continue
		}
		seen[sym] = true
		normalized = append(normalized, sym)
	}
	if len(normalized) == 0 {
		return f.lastSymbols, false
	}

	f.lastModTime = info.ModTime()
	changed := !equalStrings(f.lastSymbols, normalized)
	f.lastSymbols = normalized
	return normalized, changed
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
