package rbac

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestBroadcasterDeliversToPeersOnly(t *testing.T) {
	client := newRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	a := NewBroadcaster(client, "", discardLogger())
	b := NewBroadcaster(client, "", discardLogger())
	assert.NotEqual(t, a.Instance(), b.Instance())

	var aBumps, bBumps atomic.Int32
	require.NoError(t, a.Listen(ctx, func(context.Context) error { aBumps.Add(1); return nil }))
	require.NoError(t, b.Listen(ctx, func(context.Context) error { bBumps.Add(1); return nil }))

	require.NoError(t, a.Publish(ctx))
	assert.Eventually(t, func() bool { return bBumps.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, aBumps.Load(), "own messages are ignored")
}

func TestBroadcasterRefreshesPeerCache(t *testing.T) {
	client := newRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	// Two replicas share one store; the writer's broadcast refreshes the reader.
	writer := newFixture(t)
	reader := NewCache(writer.store, CacheConfig{ReloadInterval: time.Hour}, discardLogger(), nil)
	readerBus := NewBroadcaster(client, "test.bump", discardLogger())
	require.NoError(t, readerBus.Listen(ctx, reader.Invalidate))

	writer.admin = NewAdmin(writer.store, writer.cache, AdminConfig{
		Publisher: NewBroadcaster(client, "test.bump", discardLogger()),
		Logger:    discardLogger(),
	})
	writer.grantRole(t, "Viewer", [][2]string{{SectionEstate, FunctionView}}, "alice")

	assert.Eventually(t, func() bool {
		return reader.Snapshot().Allows("alice", 1, 101)
	}, time.Second, 5*time.Millisecond)
}

func TestNilBroadcasterIsNoop(t *testing.T) {
	var b *Broadcaster
	assert.NoError(t, b.Publish(context.Background()))
	assert.NoError(t, b.Listen(context.Background(), func(context.Context) error { return nil }))
	assert.Empty(t, b.Instance())
}

func TestListenRequiresHandler(t *testing.T) {
	b := NewBroadcaster(newRedis(t), "", discardLogger())
	assert.Error(t, b.Listen(context.Background(), nil))
}
