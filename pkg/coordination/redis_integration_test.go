//go:build integration

package coordination

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ekaya-inc/ekaya-sqlrest/pkg/testhelpers"
)

func newTestRedis(t *testing.T) *Redis {
	t.Helper()
	return newObservedRedis(t, zap.NewNop())
}

func newObservedRedis(t *testing.T, logger *zap.Logger) *Redis {
	t.Helper()
	tr := testhelpers.GetTestRedis(t)
	// Unique prefix per test keeps shared-container state apart.
	return NewRedis(tr.Client, logger, WithKeyPrefix("test:"+uuid.NewString()+":"))
}

func TestRedis_LockLifecycle(t *testing.T) {
	ctx := context.Background()
	r := newTestRedis(t)

	lock, ok, err := r.TryAcquire(ctx, "job", 2*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = r.TryAcquire(ctx, "job", 2*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, lock.Refresh(ctx, 2*time.Second))
	require.NoError(t, lock.Release(ctx))
	assert.ErrorIs(t, lock.Refresh(ctx, time.Second), ErrLockLost)

	_, ok, err = r.TryAcquire(ctx, "job", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedis_PublishSubscribe(t *testing.T) {
	ctx := context.Background()
	r := newTestRedis(t)

	got := make(chan string, 1)
	sub, err := r.Subscribe(ctx, "digest", func(p []byte) { got <- string(p) })
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, r.Publish(ctx, "digest", []byte("abc")))

	select {
	case msg := <-got:
		assert.Equal(t, "abc", msg)
	case <-time.After(5 * time.Second):
		t.Fatal("broadcast not delivered")
	}
}

func TestRedis_LogsLostLock(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zap.WarnLevel)
	r := newObservedRedis(t, zap.New(core))

	lock, ok, err := r.TryAcquire(ctx, "job", 2*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	// Another replica's view: the key expired and was taken over.
	require.NoError(t, r.client.Del(ctx, r.lockKey("job")).Err())

	assert.ErrorIs(t, lock.Refresh(ctx, time.Second), ErrLockLost)
	require.Equal(t, 1, logs.FilterMessage("Lock lost before refresh").Len())
}

func TestRedis_LogsUnexpectedChannelClose(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zap.WarnLevel)
	r := newObservedRedis(t, zap.New(core))

	sub, err := r.Subscribe(ctx, "digest", func([]byte) {})
	require.NoError(t, err)
	require.NoError(t, sub.Unsubscribe())
	assert.Zero(t, logs.Len())

	sub, err = r.Subscribe(ctx, "digest", func([]byte) {})
	require.NoError(t, err)
	rs := sub.(*redisSubscription)
	require.NoError(t, rs.ps.Close())
	<-rs.done

	entries := logs.FilterMessage("Pub/Sub channel closed unexpectedly").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "digest", entries[0].ContextMap()["topic"])
}
