package bridge

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"coretrader/internal/bus"
)

func TestStartDisabledIsNoop(t *testing.T) {
	m := NewNatsMirror(bus.New(), NatsMirrorConfig{Enabled: false})
	if err := m.Start(); err != nil {
		t.Fatalf("expected a disabled mirror to start cleanly, got %v", err)
	}
	if m.srv != nil {
		t.Fatal("expected no embedded server for a disabled mirror")
	}
	m.Stop()
}

func TestMirrorRepublishesBusTopicToNatsSubject(t *testing.T) {
	b := bus.New()
	cfg := NatsMirrorConfig{Enabled: true, Port: -1, SubjectFn: "coretrader", Topics: []string{"ticks"}}
	m := NewNatsMirror(b, cfg)
	if err := m.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer m.Stop()

	sub, err := nats.Connect(m.srv.ClientURL())
	if err != nil {
		t.Fatalf("connecting a verification client: %v", err)
	}
	defer sub.Close()

	msgs := make(chan *nats.Msg, 1)
	nsub, err := sub.ChanSubscribe("coretrader.ticks", msgs)
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}
	defer nsub.Unsubscribe()

	type payload struct {
		Symbol string `json:"symbol"`
	}
	b.Publish("ticks", payload{Symbol: "AAPL"})

	select {
	case msg := <-msgs:
		var got payload
		if err := json.Unmarshal(msg.Data, &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if got.Symbol != "AAPL" {
			t.Fatalf("expected symbol AAPL, got %q", got.Symbol)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected the tick to be republished onto the mirrored subject")
	}
}

func TestRepublishSwallowsUnmarshalableValue(t *testing.T) {
	m := &NatsMirror{cfg: NatsMirrorConfig{SubjectFn: "coretrader"}}
	// Functions can't be JSON-marshaled; republish should log and
	// return rather than panic on the nil nats connection.
	m.republish("ticks", func() {})
}
