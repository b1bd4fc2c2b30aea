package bridge

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"coretrader/internal/bus"
)

// NatsMirrorConfig configures NatsMirror.
type NatsMirrorConfig struct {
	Enabled   bool     `mapstructure:"enabled"`
	Port      int      `mapstructure:"port"`
	SubjectFn string   `mapstructure:"subject_prefix"`
	Topics    []string `mapstructure:"topics"`
}

// DefaultNatsMirrorConfig mirrors the core topics an external
// dashboard or research process would want a live feed of.
func DefaultNatsMirrorConfig() NatsMirrorConfig {
	return NatsMirrorConfig{
		Enabled:   true,
		Port:      4222,
		SubjectFn: "coretrader",
		Topics: []string{
			"ticks", "ticks.book", "ticks.trades",
			"broker.orders", "broker.fills", "broker.positions", "broker.guardrails",
			"shadow.fills", "screener.today_top10", "universe.active_symbols",
		},
	}
}

// NatsMirror runs an embedded NATS server and republishes select bus
// topics onto NATS subjects, so an external process (a dashboard, a
// research notebook) can tail the core's event stream without being
// in-process. It never feeds events back into the bus: the in-process
// Bus remains the single source of truth for ordering.
type NatsMirror struct {
	b   *bus.Bus
	cfg NatsMirrorConfig

	srv *server.Server
	nc  *nats.Conn

	unsubs []func()
}

// NewNatsMirror returns a NatsMirror ready for Start.
func NewNatsMirror(b *bus.Bus, cfg NatsMirrorConfig) *NatsMirror {
	return &NatsMirror{b: b, cfg: cfg}
}

// Start boots the embedded NATS server and subscribes to the
// configured bus topics for republishing. A no-op when Enabled is false.
func (m *NatsMirror) Start() error {
	if !m.cfg.Enabled {
		return nil
	}
	opts := &server.Options{Port: m.cfg.Port, NoLog: true, NoSigs: true}
	srv, err := server.NewServer(opts)
	if err != nil {
		return fmt.Errorf("nats mirror: start embedded server: %w", err)
	}
	go srv.Start()
	if !srv.ReadyForConnections(5 * time.Second) {
		return fmt.Errorf("nats mirror: embedded server not ready")
	}

	nc, err := nats.Connect(srv.ClientURL())
	if err != nil {
		return fmt.Errorf("nats mirror: connect: %w", err)
	}

	m.srv = srv
	m.nc = nc
	for _, topic := range m.cfg.Topics {
		topic := topic
		unsub := m.b.Subscription(topic, func(payload any) { m.republish(topic, payload) })
		m.unsubs = append(m.unsubs, unsub)
	}
	log.Printf("nats mirror: listening at %s, mirroring %d topics", srv.ClientURL(), len(m.cfg.Topics))
	return nil
}

// Stop unsubscribes from the bus, drains the NATS connection, and
// shuts down the embedded server.
func (m *NatsMirror) Stop() {
	for _, unsub := range m.unsubs {
		unsub()
	}
	m.unsubs = nil
	if m.nc != nil {
		m.nc.Close()
	}
	if m.srv != nil {
		m.srv.Shutdown()
	}
}

func (m *NatsMirror) republish(topic string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("nats mirror: marshal failed for %s: %v", topic, err)
		return
	}
	subject := m.cfg.SubjectFn + "." + topic
	if err := m.nc.Publish(subject, data); err != nil {
		log.Printf("nats mirror: publish failed for %s: %v", subject, err)
	}
}
