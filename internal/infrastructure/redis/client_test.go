package redis

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/Trivenidigital/Vizora-sub012/internal/infrastructure/config"
)

func TestConnect_Disabled(t *testing.T) {
	_, err := Connect(context.Background(), config.RedisConfig{Addr: "localhost:6379"})
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	_, err := Connect(context.Background(), config.RedisConfig{Enabled: true, Addr: "127.0.0.1:1"})
	if err == nil {
		t.Fatal("Connect() error = nil for unreachable server")
	}
}

func TestConnect(t *testing.T) {
	addr := os.Getenv("FLEETD_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("FLEETD_TEST_REDIS_ADDR not set")
	}

	client, err := Connect(context.Background(), config.RedisConfig{Enabled: true, Addr: addr})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close() //nolint:errcheck // Test cleanup

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}
