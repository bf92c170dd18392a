//go:build integration

package mqtt

import (
	"sync"
	"testing"
	"time"

	"github.com/Trivenidigital/Vizora-sub012/internal/infrastructure/config"
)

// Integration tests require a running MQTT broker at 127.0.0.1:1883.
//
// Run with:
//   go test -tags=integration -v ./internal/infrastructure/mqtt/...

func integrationConfig(clientID string) config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: clientID,
		},
		QoS:         1,
		TopicPrefix: "fleet-test",
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

func TestIntegration_Connect(t *testing.T) {
	client, err := Connect(integrationConfig("fleetd-int-connect"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("IsConnected() = false, want true")
	}
}

func TestIntegration_ConnectRefused(t *testing.T) {
	cfg := integrationConfig("fleetd-int-refused")
	cfg.Broker.Port = 19999

	if _, err := Connect(cfg); err == nil {
		t.Fatal("Connect() expected error for unreachable broker")
	}
}

func TestIntegration_CommandRoundtrip(t *testing.T) {
	client, err := Connect(integrationConfig("fleetd-int-roundtrip"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	topics := client.Topics()
	var (
		mu       sync.Mutex
		gotID    string
		gotBody  string
		received = make(chan struct{}, 1)
	)
	err = client.Subscribe(topics.AllDisplayCommands(), 1, func(topic string, payload []byte) error {
		id, _, _ := topics.ParseDisplayTopic(topic)
		mu.Lock()
		gotID, gotBody = id, string(payload)
		mu.Unlock()
		select {
		case received <- struct{}{}:
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if n := client.SubscriptionCount(); n != 1 {
		t.Errorf("SubscriptionCount() = %d, want 1", n)
	}

	if err := client.PublishJSON(topics.DisplayCommand("d1"), map[string]string{"type": "reload"}, false); err != nil {
		t.Fatalf("PublishJSON() error = %v", err)
	}

	select {
	case <-received:
	case <-time.After(5 * time.Second):
		t.Fatal("command not received")
	}

	mu.Lock()
	defer mu.Unlock()
	if gotID != "d1" || gotBody != `{"type":"reload"}` {
		t.Errorf("received (%q, %s)", gotID, gotBody)
	}

	if err := client.Unsubscribe(topics.AllDisplayCommands()); err != nil {
		t.Errorf("Unsubscribe() error = %v", err)
	}
	if n := client.SubscriptionCount(); n != 0 {
		t.Errorf("SubscriptionCount() after Unsubscribe = %d, want 0", n)
	}
}
