//go:build integration
// +build integration

package backend

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Sternrassler/strategy-cache/pkg/cache"
)

// setupRedisContainer starts a Redis container for integration testing.
func setupRedisContainer(t *testing.T) *redis.Client {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "start Redis container")

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	t.Cleanup(func() {
		client.Close()
		container.Terminate(ctx)
	})

	return client
}

func TestIntegration_ManagerWithRedis(t *testing.T) {
	client := setupRedisContainer(t)
	ctx := context.Background()

	m := cache.NewManager(cache.WithBackend(NewRedis(client, Options{Timeout: time.Second})))
	_, err := m.CreateStrategy(cache.StrategyConfig{ID: "users", MaxEntries: 2})
	require.NoError(t, err)

	require.NoError(t, m.Set(ctx, "users", "a", map[string]any{"n": 1}, cache.SetOptions{}))
	require.NoError(t, m.Set(ctx, "users", "b", "two", cache.SetOptions{TTL: ptr(time.Minute)}))

	v, ok := m.Get(ctx, "users", "a")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"n": float64(1)}, v)

	ttl, err := client.TTL(ctx, "cache:users:b").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 50*time.Second)

	// LRU evicts b and removes its value from Redis.
	require.NoError(t, m.Set(ctx, "users", "c", 3, cache.SetOptions{}))
	exists, err := client.Exists(ctx, "cache:users:b").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), exists)

	assert.Equal(t, 1, m.Invalidate(ctx, "users", "c"))
	exists, err = client.Exists(ctx, "cache:users:c").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), exists)
}

func ptr[T any](v T) *T {
	return &v
}
