// Command coretrader runs the full paper-trading core as a single
// process: one shared event bus with the blotter, broker, shadow
// simulator, algo service, screener, universe controller, command
// watcher, dashboard bridge, NATS mirror, and ops API all wired onto
// it. Grounded on the teacher's per-service main()s (ops_api.go,
// feed_handler.go, execution_service.go, replay_service.go), unified
// here because the pipeline runs in-process rather than as separate
// NATS-subject microservices.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"coretrader/internal/algo"
	"coretrader/internal/blotter"
	"coretrader/internal/bridge"
	"coretrader/internal/broker"
	"coretrader/internal/bus"
	"coretrader/internal/commands"
	"coretrader/internal/config"
	"coretrader/internal/ops"
	"coretrader/internal/reports"
	"coretrader/internal/shadow"
	"coretrader/internal/universe"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file (optional; defaults + env vars otherwise)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("coretrader: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("coretrader: %v", err)
	}

	b := bus.New()

	br := broker.New(b, cfg.Guardrails, cfg.Mode != "halted")
	shadowSvc := shadow.New(b)
	algoSvc := algo.New(b, br, cfg.Algo, cfg.Policy)
	screener := universe.NewScreener(b, cfg.Screener)
	universeCtl := universe.New(b, cfg.Universe)
	cmdWatcher := commands.New(cfg.Commands, br)
	dashboard := bridge.NewDashboard(b, cfg.Dashboard)
	natsMirror := bridge.NewNatsMirror(b, cfg.NatsMirror)
	opsServer := ops.New(cfg.Ops.Addr, br, cfg.Ops.InitialMode)
	reportsSvc := reports.New(b, cfg.Reports.Interval)

	var recorder *blotter.Recorder
	if cfg.Live.RecordPath != "" {
		recorder = blotter.NewRecorder(cfg.Live.RecordPath)
		if err := recorder.Start(); err != nil {
			log.Fatalf("coretrader: %v", err)
		}
	}
	pipeline := blotter.NewPipeline(b, cfg.Live.FeatureWindow, recorder)

	br.Start()
	shadowSvc.Start()
	algoSvc.Start()
	screener.Start()
	universeCtl.Start()
	if err := cmdWatcher.Start(); err != nil {
		log.Fatalf("coretrader: command watcher: %v", err)
	}
	dashboard.Start()
	if err := natsMirror.Start(); err != nil {
		log.Printf("coretrader: nats mirror disabled: %v", err)
	}
	opsServer.Start()
	reportsSvc.Start()

	var liveFeed *blotter.LiveFeed
	var replayFeed *blotter.ReplayFeed
	switch cfg.Mode {
	case "live":
		liveFeed = blotter.NewLiveFeed(cfg.Live, pipeline)
		go liveFeed.Run()
	case "replay":
		replayFeed = blotter.NewReplayFeed(cfg.Replay, pipeline)
		go func() {
			if err := replayFeed.Run(); err != nil {
				log.Printf("coretrader: replay feed ended: %v", err)
			}
		}()
	default:
		log.Printf("coretrader: mode %q runs with no feed attached; the command watcher can still flatten positions", cfg.Mode)
	}

	log.Printf("coretrader: running in %s mode, ops API on %s", cfg.Mode, cfg.Ops.Addr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("coretrader: received shutdown signal")
		cancel()
	}()
	<-ctx.Done()

	shutdown(opsServer, liveFeed, replayFeed, cmdWatcher, dashboard, natsMirror, recorder, algoSvc, shadowSvc, screener, universeCtl, reportsSvc, br)
	log.Println("coretrader: stopped")
}

func shutdown(
	opsServer *ops.Server,
	liveFeed *blotter.LiveFeed,
	replayFeed *blotter.ReplayFeed,
	cmdWatcher *commands.Watcher,
	dashboard *bridge.Dashboard,
	natsMirror *bridge.NatsMirror,
	recorder *blotter.Recorder,
	algoSvc *algo.Service,
	shadowSvc *shadow.Service,
	screener *universe.Screener,
	universeCtl *universe.Controller,
	reportsSvc *reports.Service,
	br *broker.Broker,
) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := opsServer.Stop(shutdownCtx); err != nil {
		log.Printf("coretrader: ops server shutdown: %v", err)
	}
	if liveFeed != nil {
		liveFeed.Stop()
	}
	if replayFeed != nil {
		replayFeed.Stop()
	}
	cmdWatcher.Stop()
	dashboard.Stop()
	natsMirror.Stop()
	if recorder != nil {
		recorder.Stop()
	}
	algoSvc.Stop()
	shadowSvc.Stop()
	screener.Stop()
	universeCtl.Stop()
	reportsSvc.Stop()
	br.Stop()
}
