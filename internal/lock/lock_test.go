package lock

import (
	"context"
	"fmt"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/dvloznov/bank-batch-pipeline/internal/pipeline"
)

func TestLocalLock(t *testing.T) {
	l := NewLocalLock()
	ctx := context.Background()

	release, err := l.Acquire(ctx, "k1")
	require.NoError(t, err)

	_, err = l.Acquire(ctx, "k1")
	assert.ErrorIs(t, err, pipeline.ErrPartitionLocked)

	other, err := l.Acquire(ctx, "k2")
	require.NoError(t, err)
	other()

	release()
	release()

	again, err := l.Acquire(ctx, "k1")
	require.NoError(t, err)
	again()
}

func startRedisContainer(t *testing.T, ctx context.Context) string {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err, "failed to start redis container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate redis container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)
	return fmt.Sprintf("%s:%s", host, port.Port())
}

func TestRedisLockIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	client, err := Dial(ctx, startRedisContainer(t, ctx), "", 0)
	require.NoError(t, err)
	defer client.Close()

	l := NewRedisLock(client, time.Minute)
	key := pipeline.PartitionKey(civil.Date{Year: 2025, Month: 9, Day: 7})

	release, err := l.Acquire(ctx, key)
	require.NoError(t, err)

	_, err = l.Acquire(ctx, key)
	assert.ErrorIs(t, err, pipeline.ErrPartitionLocked)

	ttl, err := client.TTL(ctx, key).Result()
	require.NoError(t, err)
	assert.Positive(t, ttl)

	release()

	exists, err := client.Exists(ctx, key).Result()
	require.NoError(t, err)
	assert.Zero(t, exists)

	release2, err := l.Acquire(ctx, key)
	require.NoError(t, err)
	release2()
}

func TestRedisLock_ReleaseDoesNotStealForeignLock(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	client, err := Dial(ctx, startRedisContainer(t, ctx), "", 0)
	require.NoError(t, err)
	defer client.Close()

	l := NewRedisLock(client, time.Minute)
	release, err := l.Acquire(ctx, "k")
	require.NoError(t, err)

	// Simulate expiry and takeover by another owner.
	require.NoError(t, client.Set(ctx, "k", "someone-else", time.Minute).Err())
	release()

	v, err := client.Get(ctx, "k").Result()
	require.NoError(t, err)
	assert.Equal(t, "someone-else", v)
}
