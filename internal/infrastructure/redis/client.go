// Package redis connects fleetd to the shared key-value store used for
// pairing requests, live display status, command queues and counters.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/Trivenidigital/Vizora-sub012/internal/infrastructure/config"
)

const defaultPingTimeout = 5 * time.Second

// ErrDisabled indicates Redis is switched off in config.
var ErrDisabled = errors.New("redis: disabled in configuration")

// Client is a connected go-redis client.
type Client struct {
	*goredis.Client
}

// Connect dials Redis and verifies the connection with PING.
func Connect(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("redis: connecting to %s: %w", cfg.Addr, err)
	}

	return &Client{Client: rdb}, nil
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := c.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}
