package universe

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"coretrader/internal/bus"
	"coretrader/internal/model"
)

// Bus topics.
const (
	TopicPositions = "broker.positions"
	TopicOutput    = "universe.active_symbols"
)

// Reason codes attached to an active symbol's ActiveSymbol entry.
const (
	ReasonNoReadyModel = "NO_READY_MODEL"
	ReasonOpenPosition = "OPEN_POSITION"
	ReasonChurnGuard   = "CHURN_GUARD"
)

// Config configures Controller.
type Config struct {
	StateFile    string `mapstructure:"state_file"`
	ModelDir     string `mapstructure:"model_dir"`
	MaxSymbols   int    `mapstructure:"max_symbols"`
	ChurnMinutes int    `mapstructure:"churn_minutes"`
}

// DefaultConfig matches the original service's defaults.
func DefaultConfig() Config {
	return Config{
		StateFile:    "sessions/universe-state.json",
		ModelDir:     "ml-service/models",
		MaxSymbols:   10,
		ChurnMinutes: 15,
	}
}

// Controller turns a ranked screener refresh into a churn-guarded
// active trading set: once full, a symbol only drops out of the set
// after ChurnMinutes have elapsed since the last swap, and a symbol
// with an open position is retained even if it falls out of the
// ranking, so Algo never flattens a live position by starvation.
//
// Not safe for concurrent use; all bus callbacks run serialized
// through the run goroutine that Start launches.
type Controller struct {
	b   *bus.Bus
	cfg Config

	positions  map[string]float64
	active     []string
	lastActive []string
	lastSwapAt time.Time

	screenerCh chan model.ScreenerRefresh
	positionCh chan model.Position
	done       chan struct{}
}

// New returns a Controller ready for Start.
func New(b *bus.Bus, cfg Config) *Controller {
	return &Controller{
		b:          b,
		cfg:        cfg,
		positions:  make(map[string]float64),
		screenerCh: make(chan model.ScreenerRefresh, 16),
		positionCh: make(chan model.Position, 256),
		done:       make(chan struct{}),
	}
}

// Start subscribes to screener and position topics and launches the
// consumer goroutine.
func (c *Controller) Start() {
	c.b.Subscribe(TopicScreenerOutput, c.onScreener)
	c.b.Subscribe(TopicPositions, c.onPosition)
	go c.run()
}

// Stop unsubscribes and shuts down the consumer goroutine.
func (c *Controller) Stop() {
	c.b.Unsubscribe(TopicScreenerOutput, c.onScreener)
	c.b.Unsubscribe(TopicPositions, c.onPosition)
	close(c.done)
}

func (c *Controller) onScreener(payload any) {
	refresh, ok := payload.(model.ScreenerRefresh)
	if !ok {
		return
	}
	select {
	case c.screenerCh <- refresh:
	default:
		log.Printf("universe: screener queue full, dropping refresh")
	}
}

func (c *Controller) onPosition(payload any) {
	pos, ok := payload.(model.Position)
	if !ok {
		return
	}
	select {
	case c.positionCh <- pos:
	default:
	}
}

func (c *Controller) run() {
	for {
		select {
		case <-c.done:
			return
		case refresh := <-c.screenerCh:
			c.handleScreener(refresh)
		case pos := <-c.positionCh:
			c.positions[strings.ToUpper(pos.Symbol)] = pos.Qty
		}
	}
}

func (c *Controller) handleScreener(refresh model.ScreenerRefresh) {
	now := time.Now().UTC()
	readyModels := c.discoverReadyModels()

	reasons := make(map[string]string)
	var candidate []string
	for _, entry := range refresh.TodayTop {
		symbol := strings.ToUpper(entry.Symbol)
		if symbol == "" {
			continue
		}
		if readyModels[symbol] {
			candidate = append(candidate, symbol)
		} else {
			reasons[symbol] = ReasonNoReadyModel
		}
	}

	switch {
	case len(c.active) == 0:
		c.active = truncate(candidate, c.cfg.MaxSymbols)
		c.lastSwapAt = now
	default:
		churnElapsed := time.Duration(0)
		churnReady := c.lastSwapAt.IsZero()
		if !c.lastSwapAt.IsZero() {
			churnElapsed = now.Sub(c.lastSwapAt)
			churnReady = churnElapsed >= time.Duration(c.cfg.ChurnMinutes)*time.Minute
		}
		if churnReady {
			c.rebalance(candidate, reasons, now)
		} else {
			for _, symbol := range candidate {
				if !contains(c.active, symbol) {
					reasons[symbol] = ReasonChurnGuard
				}
			}
		}
	}

	activeSymbols, retiredSymbols := c.buildSummaries(reasons)

	var nextChurnTs *time.Time
	if !c.lastSwapAt.IsZero() {
		t := c.lastSwapAt.Add(time.Duration(c.cfg.ChurnMinutes) * time.Minute)
		nextChurnTs = &t
	}

	summary := model.ActiveSetSummary{
		Ts:             now,
		NextRefreshTs:  refresh.NextRefreshTs,
		NextChurnTs:    nextChurnTs,
		ActiveSymbols:  activeSymbols,
		RetiredSymbols: retiredSymbols,
		ReadyModels:    sortedKeys(readyModels),
		MissingModels:  missing(reasons, ReasonNoReadyModel),
	}

	c.b.Publish(TopicOutput, summary)
	c.writeState(summary)
	c.lastActive = append([]string(nil), c.active...)
	log.Printf("universe: active set: %s", strings.Join(c.active, ","))
}

// rebalance keeps currently-active symbols whose position is still
// open even if they fell out of candidate, then fills remaining slots
// from candidate in ranked order.
func (c *Controller) rebalance(candidate []string, reasons map[string]string, now time.Time) {
	desired := make(map[string]bool, len(candidate))
	for _, symbol := range truncate(candidate, c.cfg.MaxSymbols) {
		desired[symbol] = true
	}

	var next []string
	for _, symbol := range c.active {
		if desired[symbol] {
			next = append(next, symbol)
			continue
		}
		if qty := c.positions[symbol]; qty != 0 {
			reasons[symbol] = ReasonOpenPosition
			next = append(next, symbol)
		}
	}
	for _, symbol := range candidate {
		if contains(next, symbol) {
			continue
		}
		if len(next) >= c.cfg.MaxSymbols {
			break
		}
		next = append(next, symbol)
	}

	retired := diff(c.active, next)
	c.active = next
	if len(retired) > 0 {
		c.lastSwapAt = now
	} else {
		for _, symbol := range next {
			if !contains(c.lastActive, symbol) {
				c.lastSwapAt = now
				break
			}
		}
	}
}

func (c *Controller) buildSummaries(reasons map[string]string) ([]model.ActiveSymbol, []model.RetiredSymbol) {
	previous := toSet(c.lastActive)
	current := toSet(c.active)

	activeSymbols := make([]model.ActiveSymbol, 0, len(c.active))
	for _, symbol := range c.active {
		status := model.StatusAdded
		if previous[symbol] {
			status = model.StatusKept
		}
		if reasons[symbol] == ReasonOpenPosition {
			status = model.StatusRetained
		}
		traded := reasons[symbol] != ReasonOpenPosition
		activeSymbols = append(activeSymbols, model.ActiveSymbol{
			Symbol: symbol,
			Traded: traded,
			Reason: reasons[symbol],
			Status: status,
		})
	}

	var retiredSymbols []model.RetiredSymbol
	for _, symbol := range c.lastActive {
		if current[symbol] {
			continue
		}
		if c.positions[symbol] == 0 {
			retiredSymbols = append(retiredSymbols, model.RetiredSymbol{Symbol: symbol, Status: "retired after flat"})
		}
	}
	return activeSymbols, retiredSymbols
}

func (c *Controller) discoverReadyModels() map[string]bool {
	ready := make(map[string]bool)
	if c.cfg.ModelDir == "" {
		return ready
	}
	if err := os.MkdirAll(c.cfg.ModelDir, 0o755); err != nil {
		return ready
	}
	entries, err := filepath.Glob(filepath.Join(c.cfg.ModelDir, "*_metadata.json"))
	if err != nil {
		return ready
	}
	for _, path := range entries {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var meta struct {
			Symbol string `json:"symbol"`
		}
		if err := json.Unmarshal(data, &meta); err != nil {
			continue
		}
		symbol := strings.ToUpper(meta.Symbol)
		if symbol != "" {
			ready[symbol] = true
		}
	}
	return ready
}

func (c *Controller) writeState(summary model.ActiveSetSummary) {
	if c.cfg.StateFile == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(c.cfg.StateFile), 0o755); err != nil {
		log.Printf("universe: failed creating state dir: %v", err)
		return
	}
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		log.Printf("universe: failed marshaling state: %v", err)
		return
	}
	if err := os.WriteFile(c.cfg.StateFile, data, 0o644); err != nil {
		log.Printf("universe: failed writing state: %v", err)
	}
}

func truncate(symbols []string, max int) []string {
	if len(symbols) > max {
		return append([]string(nil), symbols[:max]...)
	}
	return append([]string(nil), symbols...)
}

func contains(list []string, target string) bool {
	for _, s := range list {
		if s == target {
			return true
		}
	}
	return false
}

func diff(from, remove []string) []string {
	removeSet := toSet(remove)
	var out []string
	for _, s := range from {
		if !removeSet[s] {
			out = append(out, s)
		}
	}
	return out
}

func toSet(list []string) map[string]bool {
	set := make(map[string]bool, len(list))
	for _, s := range list {
		set[s] = true
	}
	return set
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func missing(reasons map[string]string, reason string) []string {
	var out []string
	for symbol, r := range reasons {
		if r == reason {
			out = append(out, symbol)
		}
	}
	return out
}
