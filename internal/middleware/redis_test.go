package middleware

import (
	"context"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// openRedis connects to REDIS_URL or starts a throwaway Redis container.
// It skips when neither is available.
func openRedis(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping redis test in short mode")
	}
	ctx := context.Background()

	addr := os.Getenv("REDIS_URL")
	if addr == "" {
		container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: testcontainers.ContainerRequest{
				Image:        "redis:7-alpine",
				ExposedPorts: []string{"6379/tcp"},
				WaitingFor:   wait.ForListeningPort("6379/tcp"),
			},
			Started: true,
		})
		if err != nil {
			t.Skipf("Skipping redis test: container unavailable: %v", err)
		}
		t.Cleanup(func() { _ = container.Terminate(context.Background()) })

		addr, err = container.Endpoint(ctx, "")
		require.NoError(t, err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skip("Redis not available")
	}
	t.Cleanup(func() { rdb.Close() })
	require.NoError(t, rdb.FlushDB(ctx).Err())
	return rdb
}
