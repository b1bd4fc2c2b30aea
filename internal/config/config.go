// Package config loads the single YAML configuration file that
// parameterizes every subsystem of the core trading pipeline, with
// env var overrides for anything operators need to change without
// editing the file on disk. Grounded on the polymarket market-maker's
// internal/config/config.go: one viper instance, one Load, one
// mapstructure-tagged tree mirroring the YAML file's shape.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"coretrader/internal/algo"
	"coretrader/internal/blotter"
	"coretrader/internal/bridge"
	"coretrader/internal/broker"
	"coretrader/internal/commands"
	"coretrader/internal/universe"
)

// ReportsConfig controls the performance reporting cadence.
type ReportsConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// DefaultReportsConfig publishes a performance report once a minute,
// matching the teacher's reporter.go ticker.
func DefaultReportsConfig() ReportsConfig {
	return ReportsConfig{Interval: time.Minute}
}

// OpsConfig controls the health/metrics/mode HTTP API.
type OpsConfig struct {
	Addr        string `mapstructure:"addr"`
	InitialMode string `mapstructure:"initial_mode"`
}

// DefaultOpsConfig matches the teacher's ops_api.go default bind address.
func DefaultOpsConfig() OpsConfig {
	return OpsConfig{Addr: ":8082", InitialMode: "paper"}
}

// Config is the top-level configuration tree. Maps directly onto the
// YAML config file's structure; every subsystem owns its own section
// and its own defaults so this package stays a pure aggregator.
type Config struct {
	Mode string `mapstructure:"mode"` // "live", "paper", or "replay"

	Guardrails broker.GuardrailConfig `mapstructure:"guardrails"`
	Policy     algo.PolicyConfig      `mapstructure:"policy"`
	Algo       algo.Config            `mapstructure:"algo"`

	Screener universe.ScreenerConfig `mapstructure:"screener"`
	Universe universe.Config         `mapstructure:"universe"`
	Commands commands.Config         `mapstructure:"commands"`

	Live   blotter.LiveConfig   `mapstructure:"live"`
	Replay blotter.ReplayConfig `mapstructure:"replay"`

	Dashboard  bridge.DashboardConfig  `mapstructure:"dashboard"`
	NatsMirror bridge.NatsMirrorConfig `mapstructure:"nats_mirror"`

	Ops     OpsConfig     `mapstructure:"ops"`
	Reports ReportsConfig `mapstructure:"reports"`
}

// Defaults returns a Config pre-populated with each subsystem's
// defaults, suitable as the unmarshal target so unset YAML keys keep
// their sane defaults instead of zero-valuing the struct.
func Defaults() Config {
	return Config{
		Mode:       "paper",
		Guardrails: broker.DefaultGuardrailConfig(),
		Policy:     algo.DefaultPolicyConfig(),
		Algo:       algo.Config{Symbols: []string{"AAPL", "MSFT", "NVDA"}, HMMURL: "http://127.0.0.1:8090"},
		Screener:   universe.DefaultScreenerConfig(),
		Universe:   universe.DefaultConfig(),
		Commands:   commands.DefaultConfig(),
		Live:       blotter.DefaultLiveConfig(),
		Dashboard:  bridge.DefaultDashboardConfig(),
		NatsMirror: bridge.DefaultNatsMirrorConfig(),
		Ops:        DefaultOpsConfig(),
		Reports:    DefaultReportsConfig(),
	}
}

// Load reads config from a YAML file at path, applying CORETRADER_*
// environment overrides (dots replaced with underscores, so
// guardrails.max_position becomes CORETRADER_GUARDRAILS_MAX_POSITION).
// An empty path skips the file read and returns defaults plus env
// overrides, for running entirely off environment variables.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	v := viper.New()
	v.SetEnvPrefix("CORETRADER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}

// Validate checks cross-cutting invariants that a malformed config
// file would otherwise only surface as a confusing runtime failure.
func (c *Config) Validate() error {
	switch c.Mode {
	case "live", "paper", "replay":
	default:
		return fmt.Errorf("config: mode must be one of live, paper, replay, got %q", c.Mode)
	}
	if c.Mode == "replay" && c.Replay.Source == "" {
		return fmt.Errorf("config: replay.source is required when mode is replay")
	}
	if c.Mode == "live" && c.Live.URL == "" {
		return fmt.Errorf("config: live.url is required when mode is live")
	}
	if len(c.Algo.Symbols) == 0 {
		return fmt.Errorf("config: algo.symbols must not be empty")
	}
	if c.Guardrails.MaxPosition <= 0 {
		return fmt.Errorf("config: guardrails.max_position must be > 0")
	}
	return nil
}
