package blotter

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"coretrader/internal/model"
)

// Recorder appends every ingested tick to a per-symbol, per-day CSV
// file under a base directory, off the ingest hot path. Grounded on
// the original blotter's _enqueue_record/_record_worker/_append_record:
// a single background goroutine owns the filesystem writes so an
// ingest burst never blocks on disk I/O.
type Recorder struct {
	basePath string
	queue    chan model.Tick
	done     chan struct{}

	headerWritten map[string]bool
}

// NewRecorder returns a Recorder writing under basePath, or nil if
// basePath is empty (recording disabled).
func NewRecorder(basePath string) *Recorder {
	if basePath == "" {
		return nil
	}
	return &Recorder{
		basePath:      basePath,
		queue:         make(chan model.Tick, 4096),
		done:          make(chan struct{}),
		headerWritten: make(map[string]bool),
	}
}

// Start creates basePath if needed and launches the writer goroutine.
func (r *Recorder) Start() error {
	if err := os.MkdirAll(r.basePath, 0o755); err != nil {
		return fmt.Errorf("recorder: create %s: %w", r.basePath, err)
	}
	go r.run()
	return nil
}

// Stop drains the queue and waits for the writer goroutine to exit.
func (r *Recorder) Stop() {
	close(r.queue)
	<-r.done
}

// Record enqueues tick for writing. Non-blocking; drops and logs if
// the writer has fallen behind.
func (r *Recorder) Record(tick model.Tick) {
	select {
	case r.queue <- tick:
	default:
		log.Printf("recorder: queue full, dropping tick for %s", tick.Symbol)
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for tick := range r.queue {
		if err := r.append(tick); err != nil {
			log.Printf("recorder: write failed for %s: %v", tick.Symbol, err)
		}
	}
}

func (r *Recorder) append(tick model.Tick) error {
	day := tick.Ts.UTC().Format("2006-01-02")
	path := filepath.Join(r.basePath, fmt.Sprintf("%s_%s.csv", tick.Symbol, day))

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if !r.headerWritten[path] {
		if info, statErr := os.Stat(path); statErr == nil && info.Size() == 0 {
			if err := w.Write([]string{"ts", "mid", "spreadBp", "imb", "features"}); err != nil {
				return err
			}
		}
		r.headerWritten[path] = true
	}

	featureStrs := make([]string, len(tick.Features))
	for i, v := range tick.Features {
		featureStrs[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}

	return w.Write([]string{
		tick.Ts.UTC().Format(time.RFC3339Nano),
		strconv.FormatFloat(tick.Mid, 'g', -1, 64),
		strconv.FormatFloat(tick.SpreadBp, 'g', -1, 64),
		strconv.FormatFloat(tick.Imb, 'g', -1, 64),
		strings.Join(featureStrs, ";"),
	})
}
