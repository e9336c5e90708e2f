package util

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var redisService = &sharedService{
	name:   "redis",
	envVar: "CI_REDIS_ADDR",
	start:  startRedis,
}

// GetRedisAddr returns a host:port of a Redis server for presence tests.
func GetRedisAddr(t *testing.T) string {
	return redisService.address(t)
}

func startRedis(ctx context.Context) (string, error) {
	container, err := testcontainers.Run(ctx, "redis:7-alpine",
		testcontainers.WithExposedPorts("6379/tcp"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("Ready to accept connections").WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		return "", fmt.Errorf("failed to start redis container: %w", err)
	}
	return container.Endpoint(ctx, "")
}
