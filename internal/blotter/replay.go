package blotter

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"
)

// ReplayConfig configures a ReplayFeed. Grounded on the teacher's
// ReplayConfig (replay_service.go), generalized from a single-symbol
// OHLCV bar source to a multi-symbol one.
type ReplayConfig struct {
	Source string `mapstructure:"source"`
	Speed  string `mapstructure:"speed"`
	Start  string `mapstructure:"start"`
	End    string `mapstructure:"end"`
}

// ReplayCommand controls a running replay: pause, resume, or seek to a
// timestamp.
type ReplayCommand struct {
	Command   string `json:"command"`
	Timestamp string `json:"timestamp,omitempty"`
}

// replayBar is one OHLCV row read from CSV or parquet, independent of
// source format.
type replayBar struct {
	Symbol string
	Ts     time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// ReplayFeed replays a historical CSV or parquet OHLCV series as
// synthesized book/trade updates, at a configurable speed, with
// pause/resume/seek control. It reconstructs a plausible top-of-book
// from each bar the same way the teacher's replay_service.go does for
// its NATS-subject renderer, feeding the result through the same
// Pipeline a live feed uses so downstream consumers can't tell the two
// apart.
type ReplayFeed struct {
	cfg      ReplayConfig
	pipeline *Pipeline

	commands chan ReplayCommand
	done     chan struct{}
}

// NewReplayFeed returns a ReplayFeed publishing decoded ticks through pipeline.
func NewReplayFeed(cfg ReplayConfig, pipeline *Pipeline) *ReplayFeed {
	return &ReplayFeed{
		cfg:      cfg,
		pipeline: pipeline,
		commands: make(chan ReplayCommand, 16),
		done:     make(chan struct{}),
	}
}

// Control enqueues a pause/resume/seek command for the running replay.
// Non-blocking; drops the command and returns false if the control
// channel is saturated.
func (f *ReplayFeed) Control(cmd ReplayCommand) bool {
	select {
	case f.commands <- cmd:
		return true
	default:
		return false
	}
}

// Stop signals Run to exit.
func (f *ReplayFeed) Stop() {
	close(f.done)
}

// Run loads the configured source, then plays it back at Speed,
// applying Start/End filters first. Blocks until the series is
// exhausted or Stop is called; call from its own goroutine.
func (f *ReplayFeed) Run() error {
	bars, err := readBars(f.cfg.Source)
	if err != nil {
		return err
	}

	bars = filterRange(bars, f.cfg.Start, f.cfg.End)
	sort.Slice(bars, func(i, j int) bool { return bars[i].Ts.Before(bars[j].Ts) })
	if len(bars) == 0 {
		return fmt.Errorf("blotter: no replay data in %s", f.cfg.Source)
	}

	speed := parseSpeed(f.cfg.Speed)
	ticker := time.NewTicker(time.Second / time.Duration(speed))
	defer ticker.Stop()

	paused := false
	index := 0
	for index < len(bars) {
		select {
		case <-f.done:
			return nil
		case cmd := <-f.commands:
			index = f.applyCommand(cmd, bars, index, &paused)
		case <-ticker.C:
			if paused {
				continue
			}
			f.pipeline.Ingest(barToUpdate(bars[index]))
			index++
		}
	}
	return nil
}

func (f *ReplayFeed) applyCommand(cmd ReplayCommand, bars []replayBar, index int, paused *bool) int {
	switch strings.ToLower(cmd.Command) {
	case "pause":
		*paused = true
	case "resume":
		*paused = false
	case "seek":
		ts, err := time.Parse(time.RFC3339, cmd.Timestamp)
		if err != nil {
			return index
		}
		if idx := seekIndex(bars, ts); idx >= 0 {
			return idx
		}
	}
	return index
}

func seekIndex(bars []replayBar, target time.Time) int {
	for i, bar := range bars {
		if !bar.Ts.Before(target) {
			return i
		}
	}
	if len(bars) == 0 {
		return 0
	}
	return len(bars) - 1
}

func parseSpeed(spec string) int {
	trimmed := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(spec)), "x")
	speed, err := strconv.Atoi(trimmed)
	if err != nil || speed <= 0 {
		return 1
	}
	return speed
}

func filterRange(bars []replayBar, start, end string) []replayBar {
	startTime, startOK := parseRangeBound(start)
	endTime, endOK := parseRangeBound(end)
	if !startOK && !endOK {
		return bars
	}
	var out []replayBar
	for _, bar := range bars {
		if startOK && bar.Ts.Before(startTime) {
			continue
		}
		if endOK && bar.Ts.After(endTime) {
			continue
		}
		out = append(out, bar)
	}
	if len(out) == 0 {
		return bars
	}
	return out
}

func parseRangeBound(spec string) (time.Time, bool) {
	if spec == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, spec)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// barToUpdate reconstructs a plausible top-of-book from a single OHLCV
// bar: spread widens with the bar's own range, sizes scale off volume.
// Matches the teacher's buildMarketData heuristic exactly so recorded
// replay sessions line up with what a live feed would have produced.
func barToUpdate(bar replayBar) RawUpdate {
	volume := math.Max(bar.Volume, 1)
	spread := math.Max((bar.High-bar.Low)*0.2, math.Max(bar.Close*0.0004, 0.5))
	bestBid := bar.Close - spread/2
	bestAsk := bar.Close + spread/2
	size := math.Max(volume*0.25, 1)
	lastSize := math.Max(volume*0.1, 1)

	return RawUpdate{
		Symbol: bar.Symbol,
		Ts:     bar.Ts,
		Bids:   [][2]float64{{bestBid, size}},
		Asks:   [][2]float64{{bestAsk, size}},
		Last:   &TradeUpdate{Price: bar.Close, Size: lastSize},
	}
}

func readBars(source string) ([]replayBar, error) {
	source = strings.TrimSpace(source)
	scheme, path := parseSource(source)

	switch scheme {
	case "csv":
		return readCSVBars(path)
	case "parquet":
		return readParquetBars(path)
	case "":
		switch {
		case strings.HasSuffix(strings.ToLower(path), ".csv"):
			return readCSVBars(path)
		case strings.HasSuffix(strings.ToLower(path), ".parquet"):
			return readParquetBars(path)
		}
	}
	return nil, fmt.Errorf("unsupported replay source: %s", source)
}

func parseSource(source string) (scheme string, path string) {
	if idx := strings.Index(source, "://"); idx != -1 {
		return strings.ToLower(source[:idx]), source[idx+3:]
	}
	return "", source
}

func readCSVBars(path string) ([]replayBar, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	cr := csv.NewReader(file)
	records, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("csv file %s has no data rows", path)
	}

	header := make(map[string]int, len(records[0]))
	for idx, col := range records[0] {
		header[strings.ToLower(strings.TrimSpace(col))] = idx
	}
	required := []string{"timestamp", "open", "high", "low", "close"}
	for _, key := range required {
		if _, ok := header[key]; !ok {
			return nil, fmt.Errorf("csv file %s missing required column %q", path, key)
		}
	}
	symbolIdx, hasSymbol := header["symbol"]
	volumeIdx, hasVolume := header["volume"]

	var bars []replayBar
	for _, record := range records[1:] {
		ts, err := time.Parse(time.RFC3339, record[header["timestamp"]])
		if err != nil {
			return nil, fmt.Errorf("invalid timestamp %q: %w", record[header["timestamp"]], err)
		}
		open, err := strconv.ParseFloat(record[header["open"]], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid open price: %w", err)
		}
		high, err := strconv.ParseFloat(record[header["high"]], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid high price: %w", err)
		}
		low, err := strconv.ParseFloat(record[header["low"]], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid low price: %w", err)
		}
		closeVal, err := strconv.ParseFloat(record[header["close"]], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid close price: %w", err)
		}

		volume := 0.0
		if hasVolume && volumeIdx < len(record) && record[volumeIdx] != "" {
			if volume, err = strconv.ParseFloat(record[volumeIdx], 64); err != nil {
				volume = 0
			}
		}
		symbol := "UNKNOWN"
		if hasSymbol && symbolIdx < len(record) && record[symbolIdx] != "" {
			symbol = record[symbolIdx]
		}

		bars = append(bars, replayBar{Symbol: symbol, Ts: ts.UTC(), Open: open, High: high, Low: low, Close: closeVal, Volume: volume})
	}
	return bars, nil
}

type parquetBarRow struct {
	Timestamp int64   `parquet:"name=timestamp"`
	Symbol    string  `parquet:"name=symbol"`
	Open      float64 `parquet:"name=open"`
	High      float64 `parquet:"name=high"`
	Low       float64 `parquet:"name=low"`
	Close     float64 `parquet:"name=close"`
	Volume    float64 `parquet:"name=volume"`
}

func readParquetBars(path string) ([]replayBar, error) {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, err
	}
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, new(parquetBarRow), 4)
	if err != nil {
		return nil, err
	}
	defer pr.ReadStop()

	numRows := int(pr.GetNumRows())
	rows := make([]parquetBarRow, numRows)
	if err := pr.Read(&rows); err != nil {
		return nil, err
	}

	bars := make([]replayBar, 0, len(rows))
	for _, row := range rows {
		var ts time.Time
		switch {
		case row.Timestamp > 1e16:
			ts = time.Unix(0, row.Timestamp).UTC()
		case row.Timestamp > 1e12:
			ts = time.Unix(0, row.Timestamp*int64(time.Millisecond)).UTC()
		case row.Timestamp > 1e9:
			ts = time.Unix(row.Timestamp, 0).UTC()
		default:
			ts = time.Unix(row.Timestamp, 0).UTC()
		}
		symbol := row.Symbol
		if symbol == "" {
			symbol = "UNKNOWN"
		}
		bars = append(bars, replayBar{Symbol: symbol, Ts: ts, Open: row.Open, High: row.High, Low: row.Low, Close: row.Close, Volume: row.Volume})
	}
	return bars, nil
}
