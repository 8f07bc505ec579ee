// kpistream - real-time e-commerce KPI pipeline
// SPDX-License-Identifier: AGPL-3.0-or-later

package broker

import (
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	natsgo "github.com/nats-io/nats.go"

	"github.com/kpistream/pipeline/internal/config"
)

func startTestServer(t *testing.T) *EmbeddedServer {
	t.Helper()
	s, err := StartEmbeddedServer(EmbeddedServerConfig{
		Port:     -1, // random free port
		StoreDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("StartEmbeddedServer: %v", err)
	}
	t.Cleanup(s.Shutdown)
	return s
}

func TestEmbeddedServerServesJetStream(t *testing.T) {
	s := startTestServer(t)

	if !s.IsRunning() {
		t.Fatal("server not running after start")
	}

	nc, err := natsgo.Connect(s.ClientURL())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer nc.Close()

	js, err := nc.JetStream()
	if err != nil {
		t.Fatalf("jetstream context: %v", err)
	}

	if _, err := js.AddStream(&natsgo.StreamConfig{
		Name:     "EVENTS",
		Subjects: []string{"events.>"},
	}); err != nil {
		t.Fatalf("add stream: %v", err)
	}

	payload := []byte(`{"event_id":"e1"}`)
	if _, err := js.Publish("events.orders", payload); err != nil {
		t.Fatalf("publish: %v", err)
	}

	sub, err := js.SubscribeSync("events.orders", natsgo.DeliverAll())
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	msg, err := sub.NextMsg(5 * time.Second)
	if err != nil {
		t.Fatalf("next msg: %v", err)
	}
	if string(msg.Data) != string(payload) {
		t.Errorf("payload = %s, want %s", msg.Data, payload)
	}
}

// TestSubscriberConnectsToEmbeddedServer exercises the durable Watermill
// subscriber against a real broker, the same construction path the
// processor binary takes when nats.embedded is set.
func TestSubscriberConnectsToEmbeddedServer(t *testing.T) {
	s := startTestServer(t)

	cfg := &config.NATSConfig{
		URL:              s.ClientURL(),
		OrdersSubject:    "events.orders",
		SessionsSubject:  "events.sessions",
		DurableName:      "test-consumer",
		QueueGroup:       "test-consumer",
		DeliverPolicy:    "all",
		AckWait:          5 * time.Second,
		MaxDeliver:       3,
		MaxAckPending:    100,
		SubscribersCount: 1,
		CloseTimeout:     5 * time.Second,
		MaxReconnects:    1,
		ReconnectWait:    100 * time.Millisecond,
	}

	sub, err := New(cfg, watermill.NewStdLogger(false, false))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := sub.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
