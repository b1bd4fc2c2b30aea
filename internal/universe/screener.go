// Package universe ranks symbols by session dollar volume and
// maintains a churn-guarded active trading set from that ranking,
// grounded on the original services/universe package.
package universe

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"coretrader/internal/bus"
	"coretrader/internal/model"
)

// Bus topics.
const (
	TopicTicks          = "ticks"
	TopicScreenerOutput = "screener.today_top10"
)

var eastern = mustLoadEastern()

func mustLoadEastern() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		log.Printf("universe: falling back to UTC, could not load America/New_York: %v", err)
		return time.UTC
	}
	return loc
}

// ScreenerConfig configures Screener.
type ScreenerConfig struct {
	StateFile  string `mapstructure:"state_file"`
	MaxSymbols int    `mapstructure:"max_symbols"`
}

// DefaultScreenerConfig matches the original service's defaults.
func DefaultScreenerConfig() ScreenerConfig {
	return ScreenerConfig{StateFile: "sessions/universe-state.json", MaxSymbols: 10}
}

// Screener accumulates per-symbol session dollar volume from ticks
// and periodically emits a ranked top-N, on an adaptive cadence that
// tightens near the open. Not safe for concurrent use; the run
// goroutine that Start launches serializes all access.
type Screener struct {
	b   *bus.Bus
	cfg ScreenerConfig

	snapshots    map[string]*model.SymbolSnapshot
	sessionStart time.Time
	nextRefresh  time.Time

	tickCh chan model.Tick
	done   chan struct{}
}

// NewScreener returns a Screener ready for Start.
func NewScreener(b *bus.Bus, cfg ScreenerConfig) *Screener {
	return &Screener{
		b:         b,
		cfg:       cfg,
		snapshots: make(map[string]*model.SymbolSnapshot),
		tickCh:    make(chan model.Tick, 1024),
		done:      make(chan struct{}),
	}
}

// Start subscribes to ticks and launches the refresh loop.
func (s *Screener) Start() {
	s.b.Subscribe(TopicTicks, s.onTick)
	go s.run()
}

// Stop unsubscribes and shuts down the refresh loop.
func (s *Screener) Stop() {
	s.b.Unsubscribe(TopicTicks, s.onTick)
	close(s.done)
}

func (s *Screener) onTick(payload any) {
	tick, ok := payload.(model.Tick)
	if !ok || tick.Symbol == "" {
		return
	}
	select {
	case s.tickCh <- tick:
	default:
		log.Printf("screener: tick queue full, dropping sample for %s", tick.Symbol)
	}
}

func (s *Screener) run() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case tick := <-s.tickCh:
			s.handleTick(tick)
		case <-ticker.C:
			now := time.Now().UTC()
			if !s.nextRefresh.IsZero() && !now.Before(s.nextRefresh) {
				s.emitRefresh(now)
			}
		}
	}
}

func (s *Screener) handleTick(tick model.Tick) {
	now := tick.Ts
	if now.IsZero() {
		now = time.Now().UTC()
	}
	if s.sessionStart.IsZero() || now.In(eastern).YearDay() != s.sessionStart.In(eastern).YearDay() ||
		now.In(eastern).Year() != s.sessionStart.In(eastern).Year() {
		s.resetSession(now)
	}

	snap, ok := s.snapshots[tick.Symbol]
	if !ok {
		snap = &model.SymbolSnapshot{Symbol: tick.Symbol}
		s.snapshots[tick.Symbol] = snap
	}

	var dollarVolume float64
	var trades int
	for _, leg := range tick.Trades {
		if leg.Px > 0 && leg.Size > 0 {
			dollarVolume += leg.Px * leg.Size
			trades++
		}
	}
	snap.DollarVolume += dollarVolume
	snap.Trades += trades
	if tick.SpreadBp >= 0 {
		snap.SpreadSum += tick.SpreadBp
		snap.SpreadSamples++
	}
	snap.LastSeen = now
}

func (s *Screener) resetSession(ts time.Time) {
	log.Printf("screener: resetting session for %s", ts.In(eastern).Format("2006-01-02"))
	s.snapshots = make(map[string]*model.SymbolSnapshot)
	s.sessionStart = ts
	s.scheduleNextRefresh(ts)
}

// scheduleNextRefresh implements the adaptive cadence: 5 minutes
// before 10:30 ET, 15 minutes before noon ET, 60 minutes after.
func (s *Screener) scheduleNextRefresh(now time.Time) {
	et := now.In(eastern)
	marketOpen := time.Date(et.Year(), et.Month(), et.Day(), 9, 30, 0, 0, eastern)
	if et.Before(marketOpen) {
		et = marketOpen
	}
	var interval time.Duration
	switch {
	case et.Hour() < 10 || (et.Hour() == 10 && et.Minute() < 30):
		interval = 5 * time.Minute
	case et.Hour() < 12:
		interval = 15 * time.Minute
	default:
		interval = 60 * time.Minute
	}
	s.nextRefresh = et.Add(interval).UTC()
}

func (s *Screener) emitRefresh(now time.Time) {
	s.scheduleNextRefresh(now)

	snapshots := make([]*model.SymbolSnapshot, 0, len(s.snapshots))
	for _, snap := range s.snapshots {
		snapshots = append(snapshots, snap)
	}
	sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].DollarVolume > snapshots[j].DollarVolume })
	if len(snapshots) > s.cfg.MaxSymbols {
		snapshots = snapshots[:s.cfg.MaxSymbols]
	}

	top := make([]model.TopSymbol, len(snapshots))
	for i, snap := range snapshots {
		top[i] = model.TopSymbol{
			Symbol:       snap.Symbol,
			DollarVolume: snap.DollarVolume,
			TotalTrades:  snap.Trades,
			AvgSpreadBp:  snap.AvgSpreadBp(),
			LastSeen:     snap.LastSeen,
		}
	}

	refresh := model.ScreenerRefresh{Ts: now, NextRefreshTs: s.nextRefresh, TodayTop: top}
	s.b.Publish(TopicScreenerOutput, refresh)
	s.writeState(refresh)
	log.Printf("screener: emitted top %d symbols", len(top))
}

func (s *Screener) writeState(refresh model.ScreenerRefresh) {
	if s.cfg.StateFile == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(s.cfg.StateFile), 0o755); err != nil {
		log.Printf("screener: failed creating state dir: %v", err)
		return
	}
	data, err := json.MarshalIndent(refresh, "", "  ")
	if err != nil {
		log.Printf("screener: failed marshaling state: %v", err)
		return
	}
	if err := os.WriteFile(s.cfg.StateFile, data, 0o644); err != nil {
		log.Printf("screener: failed writing state: %v", err)
	}
}
