package clients

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"travel-missions/logging"
)

func setupTestRedis(t *testing.T) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}
	client.FlushDB(ctx)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisLockExcludesSecondHolder(t *testing.T) {
	client := setupTestRedis(t)
	lock := NewRedisLock(client, 5*time.Second, logging.Discard())

	release, err := lock.Acquire(context.Background(), "gen:7:1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	_, err = lock.Acquire(ctx, "gen:7:1")
	assert.ErrorIs(t, err, ErrLockTimeout)

	release()

	release2, err := lock.Acquire(context.Background(), "gen:7:1")
	require.NoError(t, err)
	release2()
}

func TestRedisLockLogsFailedRelease(t *testing.T) {
	client := setupTestRedis(t)
	log, hook := logtest.NewNullLogger()
	lock := NewRedisLock(client, 5*time.Second, log.WithField("service", "test"))

	release, err := lock.Acquire(context.Background(), "gen:7:2")
	require.NoError(t, err)

	require.NoError(t, client.Close())
	release()

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "⚠️ generation lock release failed, held until ttl expires", hook.LastEntry().Message)
	assert.Equal(t, "travel-missions:lock:gen:7:2", hook.LastEntry().Data["key"])
}
