package blotter

import (
	"encoding/json"
	"log"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
)

// LiveConfig configures a LiveFeed.
type LiveConfig struct {
	URL            string   `mapstructure:"url"`
	Symbols        []string `mapstructure:"symbols"`
	SymbolFile     string   `mapstructure:"symbol_file"`
	SymbolPollSecs int      `mapstructure:"symbol_poll_seconds"`
	RecordPath     string   `mapstructure:"record_path"`
	FeatureWindow  int      `mapstructure:"feature_window"`
	ReconnectMin   int      `mapstructure:"reconnect_min_seconds"`
	ReconnectMax   int      `mapstructure:"reconnect_max_seconds"`
}

// DefaultLiveConfig mirrors the original blotter's IBKR feed defaults,
// generalized to a generic depth+trade websocket venue.
func DefaultLiveConfig() LiveConfig {
	return LiveConfig{
		Symbols:        []string{"AAPL", "MSFT", "NVDA"},
		SymbolPollSecs: 30,
		FeatureWindow:  120,
		ReconnectMin:   1,
		ReconnectMax:   30,
	}
}

// wireMessage is the venue's book/trade update shape. Venues vary, but
// depth-plus-trade-print over a single JSON websocket stream is the
// common case this feed is written against; a different venue's wire
// format plugs in by replacing decodeMessage.
type wireMessage struct {
	Symbol string      `json:"symbol"`
	Ts     int64       `json:"ts"` // unix millis
	Bids   [][2]string `json:"bids"`
	Asks   [][2]string `json:"asks"`
	Trade  *struct {
		Price string `json:"price"`
		Size  string `json:"size"`
	} `json:"trade,omitempty"`
}

// LiveFeed streams book and trade updates for a symbol set over a
// websocket connection, reconnecting with exponential backoff on
// failure, and hot-reloading its symbol set from an optional file.
// Generalizes the original IBKRFeed (services/blotter/service.py) from
// a single vendor SDK into a venue-agnostic websocket client.
type LiveFeed struct {
	cfg      LiveConfig
	pipeline *Pipeline
	symFile  *SymbolFile
	symbols  map[string]bool

	done chan struct{}
}

// NewLiveFeed returns a LiveFeed publishing decoded ticks through pipeline.
func NewLiveFeed(cfg LiveConfig, pipeline *Pipeline) *LiveFeed {
	symbols := make(map[string]bool, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		symbols[s] = true
	}
	return &LiveFeed{
		cfg:      cfg,
		pipeline: pipeline,
		symFile:  NewSymbolFile(cfg.SymbolFile),
		symbols:  symbols,
		done:     make(chan struct{}),
	}
}

// Run connects and streams until Stop is called, reconnecting on any
// read or dial error with exponential backoff between ReconnectMin and
// ReconnectMax seconds. Blocks; call from its own goroutine.
func (f *LiveFeed) Run() {
	backoff := time.Duration(f.cfg.ReconnectMin) * time.Second
	maxBackoff := time.Duration(f.cfg.ReconnectMax) * time.Second
	if maxBackoff <= 0 {
		maxBackoff = 30 * time.Second
	}

	for {
		select {
		case <-f.done:
			return
		default:
		}

		if err := f.connectAndStream(); err != nil {
			log.Printf("blotter: live feed error, reconnecting in %s: %v", backoff, err)
		}

		select {
		case <-f.done:
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// Stop signals Run to exit after its current connection attempt.
func (f *LiveFeed) Stop() {
	close(f.done)
}

func (f *LiveFeed) connectAndStream() error {
	conn, _, err := websocket.DefaultDialer.Dial(f.cfg.URL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	log.Printf("blotter: live feed connected to %s", f.cfg.URL)

	symbolPollInterval := time.Duration(f.cfg.SymbolPollSecs) * time.Second
	if symbolPollInterval <= 0 {
		symbolPollInterval = 30 * time.Second
	}
	lastPoll := time.Now()

	for {
		select {
		case <-f.done:
			return nil
		default:
		}

		if f.symFile != nil && time.Since(lastPoll) >= symbolPollInterval {
			if symbols, changed := f.symFile.Poll(); changed {
				f.applySymbols(symbols)
			}
			lastPoll = time.Now()
		}

		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		update, ok := f.decode(data)
		if !ok {
			continue
		}
		f.pipeline.Ingest(update)
	}
}

func (f *LiveFeed) applySymbols(symbols []string) {
	next := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		next[s] = true
	}
	f.symbols = next
	log.Printf("blotter: live feed symbol set updated to %v", symbols)
}

func (f *LiveFeed) decode(data []byte) (RawUpdate, bool) {
	var msg wireMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("blotter: dropping unparseable message: %v", err)
		return RawUpdate{}, false
	}
	if !f.symbols[msg.Symbol] {
		return RawUpdate{}, false
	}

	bids, ok1 := decodeLevels(msg.Bids)
	asks, ok2 := decodeLevels(msg.Asks)
	if !ok1 || !ok2 {
		return RawUpdate{}, false
	}

	update := RawUpdate{
		Symbol: msg.Symbol,
		Ts:     time.UnixMilli(msg.Ts),
		Bids:   bids,
		Asks:   asks,
	}
	if msg.Trade != nil {
		px, errPx := strconv.ParseFloat(msg.Trade.Price, 64)
		sz, errSz := strconv.ParseFloat(msg.Trade.Size, 64)
		if errPx == nil && errSz == nil {
			update.Last = &TradeUpdate{Price: px, Size: sz}
		}
	}
	return update, true
}

func decodeLevels(raw [][2]string) ([][2]float64, bool) {
	out := make([][2]float64, 0, len(raw))
	for _, lvl := range raw {
		px, errPx := strconv.ParseFloat(lvl[0], 64)
		sz, errSz := strconv.ParseFloat(lvl[1], 64)
		if errPx != nil || errSz != nil {
			return nil, false
		}
		out = append(out, [2]float64{px, sz})
	}
	return out, true
}
