package realtime

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher pushes streaming payloads over Redis pub/sub so external
// consumers (dashboards, CLIs) can follow deployments without attaching to
// this process.
type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher dials Redis and verifies the connection.
func NewRedisPublisher(ctx context.Context, addr, password string, db int) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisPublisher{client: client}, nil
}

// Publish sends a payload on the named channel.
func (p *RedisPublisher) Publish(ctx context.Context, channel string, payload []byte) error {
	return p.client.Publish(ctx, channel, payload).Err()
}

// Client exposes the underlying connection for components that share it.
func (p *RedisPublisher) Client() *redis.Client {
	return p.client
}

// Close releases the connection.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
