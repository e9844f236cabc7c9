package redis

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mohitkumar/flowgate/persistence"
	"github.com/mohitkumar/flowgate/persistence/persistencetest"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) Config {
	conf := Config{
		Addrs:     []string{"localhost:6379"},
		Namespace: "flowgate-test-" + uuid.NewString(),
	}
	dao := newBaseDao(conf)
	defer dao.Close()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := dao.Ping(ctx); err != nil {
		t.Skipf("redis not available on %v: %v", conf.Addrs, err)
	}
	return conf
}

func TestRedisQueue(t *testing.T) {
	persistencetest.TestQueueStore(t, func(t *testing.T) persistence.QueueStore {
		q := NewRedisQueue(testConfig(t))
		t.Cleanup(func() { _ = q.Close() })
		return q
	})
}

func TestRateLimiter(t *testing.T) {
	limiter := NewRateLimiter(testConfig(t))
	defer limiter.Close()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		ok, err := limiter.Allow(ctx, "wf", 3, time.Minute)
		require.NoError(t, err)
		require.True(t, ok, "hit %d", i)
	}
	ok, err := limiter.Allow(ctx, "wf", 3, time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = limiter.Allow(ctx, "other", 3, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
}
