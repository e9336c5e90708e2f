package presence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/codeready-toolchain/supportdesk/pkg/config"
	"github.com/redis/go-redis/v9"
)

// Redis keeps availability in a hash (agent → "1"/"0") so every replica
// sees the same flags.
type Redis struct {
	client *redis.Client
	key    string
}

// NewRedis connects to Redis and verifies the connection with PING.
func NewRedis(ctx context.Context, cfg *config.RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis presence connection test failed: %w", err)
	}

	return &Redis{client: client, key: cfg.Key}, nil
}

// SetAvailable records the agent's flag.
func (r *Redis) SetAvailable(ctx context.Context, agent string, available bool) error {
	v := "0"
	if available {
		v = "1"
	}
	if err := r.client.HSet(ctx, r.key, agent, v).Err(); err != nil {
		return fmt.Errorf("failed to set availability for %s: %w", agent, err)
	}
	return nil
}

// IsAvailable reads the agent's flag. Unknown agents are unavailable.
func (r *Redis) IsAvailable(ctx context.Context, agent string) (bool, error) {
	v, err := r.client.HGet(ctx, r.key, agent).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read availability for %s: %w", agent, err)
	}
	return v == "1", nil
}

// Ping checks connectivity for the health endpoint.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}
