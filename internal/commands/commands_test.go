package commands

import (
	"os"
	"path/filepath"
	"testing"
)

type fakeBroker struct {
	flattened    []string
	flattenedAll bool
	err          error
}

func (f *fakeBroker) Flatten(symbol string) error {
	f.flattened = append(f.flattened, symbol)
	return f.err
}

func (f *fakeBroker) FlattenAll() error {
	f.flattenedAll = true
	return f.err
}

func newTestWatcher(t *testing.T, broker Broker) *Watcher {
	t.Helper()
	dir := t.TempDir()
	cfg := Config{CommandsDir: dir, PollInterval: 0}
	w := New(cfg, broker)
	if err := w.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(w.Stop)
	return w
}

func writeCommand(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("writing command file: %v", err)
	}
}

func TestProcessCommandsDispatchesFlattenSymbol(t *testing.T) {
	broker := &fakeBroker{}
	w := newTestWatcher(t, broker)
	writeCommand(t, w.cfg.CommandsDir, "a.json", `{"command":"flatten_symbol","symbol":"aapl"}`)

	w.processCommands()

	if len(broker.flattened) != 1 || broker.flattened[0] != "AAPL" {
		t.Fatalf("expected Flatten(AAPL), got %v", broker.flattened)
	}
	if _, err := os.Stat(filepath.Join(w.cfg.ProcessedDir, "ok", "a.json")); err != nil {
		t.Fatalf("expected command file moved to processed/ok: %v", err)
	}
}

func TestProcessCommandsDispatchesFlattenAll(t *testing.T) {
	broker := &fakeBroker{}
	w := newTestWatcher(t, broker)
	writeCommand(t, w.cfg.CommandsDir, "b.json", `{"command":"flatten_all"}`)

	w.processCommands()

	if !broker.flattenedAll {
		t.Fatal("expected FlattenAll to be called")
	}
}

func TestProcessCommandsMarksUnknownCommandFailed(t *testing.T) {
	broker := &fakeBroker{}
	w := newTestWatcher(t, broker)
	writeCommand(t, w.cfg.CommandsDir, "c.json", `{"command":"launch_nukes"}`)

	w.processCommands()

	if _, err := os.Stat(filepath.Join(w.cfg.ProcessedDir, "failed", "c.json")); err != nil {
		t.Fatalf("expected unknown command moved to processed/failed: %v", err)
	}
}

func TestProcessCommandsMarksInvalidJSONFailed(t *testing.T) {
	broker := &fakeBroker{}
	w := newTestWatcher(t, broker)
	writeCommand(t, w.cfg.CommandsDir, "d.json", `not json`)

	w.processCommands()

	if _, err := os.Stat(filepath.Join(w.cfg.ProcessedDir, "failed", "d.json")); err != nil {
		t.Fatalf("expected invalid JSON moved to processed/failed: %v", err)
	}
}

func TestProcessCommandsMarksMissingSymbolFailed(t *testing.T) {
	broker := &fakeBroker{}
	w := newTestWatcher(t, broker)
	writeCommand(t, w.cfg.CommandsDir, "e.json", `{"command":"flatten_symbol","symbol":""}`)

	w.processCommands()

	if _, err := os.Stat(filepath.Join(w.cfg.ProcessedDir, "failed", "e.json")); err != nil {
		t.Fatalf("expected missing-symbol command moved to processed/failed: %v", err)
	}
}
