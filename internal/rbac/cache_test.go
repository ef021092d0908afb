package rbac

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func grantData(user string, role uuid.UUID, cells ...[2]int) SnapshotData {
	data := SnapshotData{
		UserRoles: map[string][]uuid.UUID{user: {role}},
		Grants:    map[Cell]bool{},
	}
	for _, c := range cells {
		data.Grants[Cell{RoleID: role, SectionID: c[0], FunctionID: c[1]}] = true
	}
	return data
}

func TestCacheStartLoadsSnapshot(t *testing.T) {
	role := uuid.New()
	source := &stubSource{data: grantData("alice", role, [2]int{1, 101})}
	cache := NewCache(source, CacheConfig{ReloadInterval: time.Hour}, discardLogger(), nil)

	assert.Equal(t, uint64(0), cache.Snapshot().Version, "empty snapshot before start")
	require.NoError(t, cache.Start(context.Background()))
	t.Cleanup(cache.Stop)

	snap := cache.Snapshot()
	assert.Equal(t, uint64(1), snap.Version)
	assert.True(t, snap.Allows("alice", 1, 101))
	status := cache.Status()
	require.NotNil(t, status)
	assert.True(t, status.Succeeded)
	assert.Equal(t, TriggerStartup, status.Trigger)

	assert.Error(t, cache.Start(context.Background()), "second start is rejected")
}

func TestCacheStartFailureServesEmptyAndRecovers(t *testing.T) {
	role := uuid.New()
	source := &stubSource{err: errors.New("dial tcp: connection refused")}
	cache := NewCache(source, CacheConfig{ReloadInterval: 10 * time.Millisecond}, discardLogger(), nil)

	err := cache.Start(context.Background())
	require.ErrorIs(t, err, ErrStoreUnavailable)
	t.Cleanup(cache.Stop)
	assert.False(t, cache.Snapshot().Allows("alice", 1, 101), "deny until loaded")
	assert.False(t, cache.Status().Succeeded)

	source.set(grantData("alice", role, [2]int{1, 101}), nil)
	assert.Eventually(t, func() bool {
		return cache.Snapshot().Allows("alice", 1, 101)
	}, 2*time.Second, 5*time.Millisecond, "timer reload recovers")
}

func TestCacheKeepsLastGoodSnapshotWhenStoreFails(t *testing.T) {
	role := uuid.New()
	source := &stubSource{data: grantData("alice", role, [2]int{1, 101})}
	cache := NewCache(source, CacheConfig{ReloadInterval: time.Hour}, discardLogger(), nil)
	require.NoError(t, cache.Invalidate(context.Background()))

	source.set(SnapshotData{}, errors.New("timeout"))
	err := cache.Invalidate(context.Background())
	require.ErrorIs(t, err, ErrStoreUnavailable)

	snap := cache.Snapshot()
	assert.Equal(t, uint64(1), snap.Version)
	assert.True(t, snap.Allows("alice", 1, 101), "prior answers survive a failed refresh")
	assert.False(t, cache.Status().Succeeded)
}

func TestCacheTimerFailureKeepsEngineAnswers(t *testing.T) {
	role := uuid.New()
	source := &stubSource{data: grantData("alice", role, [2]int{1, 101})}
	cache := NewCache(source, CacheConfig{ReloadInterval: 5 * time.Millisecond}, discardLogger(), nil)
	require.NoError(t, cache.Start(context.Background()))
	t.Cleanup(cache.Stop)
	engine := NewEngine(cache, DefaultCatalogue, EngineOptions{Logger: discardLogger()})
	require.NoError(t, engine.DoIHavePermission("alice", SectionEstate, FunctionView))

	version := cache.Snapshot().Version
	source.set(SnapshotData{}, errors.New("connection reset by peer"))
	require.Eventually(t, func() bool {
		status := cache.Status()
		return status != nil && status.Trigger == TriggerTimer && !status.Succeeded
	}, 2*time.Second, 5*time.Millisecond, "timer refresh reports the failure")

	assert.ErrorIs(t, cache.Status().Err, ErrStoreUnavailable)
	assert.Equal(t, version, cache.Snapshot().Version)
	assert.NoError(t, engine.DoIHavePermission("alice", SectionEstate, FunctionView), "grant survives failed timer refreshes")
	assert.True(t, IsDenied(engine.DoIHavePermission("alice", SectionEstate, FunctionEdit)))
	assert.True(t, IsDenied(engine.DoIHavePermission("bob", SectionEstate, FunctionView)))
}

func TestCacheRefreshIsBoundedByStoreTimeout(t *testing.T) {
	source := &stubSource{release: make(chan struct{})}
	cache := NewCache(source, CacheConfig{ReloadInterval: time.Hour, StoreTimeout: 20 * time.Millisecond}, discardLogger(), nil)

	start := time.Now()
	err := cache.Invalidate(context.Background())
	require.ErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestCacheInvalidateMakesWritesVisible(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.CreateRoles(ctx, []string{"Viewer"})
	require.NoError(t, err)
	require.NoError(t, f.store.ReplaceRolePermissions(ctx, "Viewer", []GrantRequest{
		{SectionName: SectionEstate, FunctionName: FunctionView, HasAccess: true},
	}))
	require.NoError(t, f.store.AddUsersToRoles(ctx, []UserRoleRequest{{UserName: "alice", RoleName: "Viewer"}}))
	assert.False(t, f.cache.Snapshot().Allows("alice", 1, 101), "not visible before refresh")

	require.NoError(t, f.cache.Invalidate(ctx))
	assert.True(t, f.cache.Snapshot().Allows("alice", 1, 101))
}

func TestCacheCoalescesQueuedInvalidations(t *testing.T) {
	source := &stubSource{started: make(chan struct{}, 8), release: make(chan struct{})}
	cache := NewCache(source, CacheConfig{ReloadInterval: time.Hour}, discardLogger(), nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 3)
	invalidate := func() {
		defer wg.Done()
		errs <- cache.Invalidate(ctx)
	}

	wg.Add(1)
	go invalidate()
	<-source.started

	wg.Add(2)
	go invalidate()
	go invalidate()
	require.Eventually(t, func() bool { return cache.requested.Load() == 3 }, time.Second, time.Millisecond)

	close(source.release)
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 2, source.count(), "callers queued behind a running refresh share one reload")
	assert.Equal(t, uint64(2), cache.Snapshot().Version)
}

func TestCacheTimerSkipsWhileRefreshRunning(t *testing.T) {
	source := &stubSource{started: make(chan struct{}, 64)}
	cache := NewCache(source, CacheConfig{ReloadInterval: 5 * time.Millisecond, StoreTimeout: 5 * time.Second}, discardLogger(), nil)
	require.NoError(t, cache.Start(context.Background()))
	t.Cleanup(cache.Stop)

	release := make(chan struct{})
	source.mu.Lock()
	source.release = release
	for len(source.started) > 0 {
		<-source.started
	}
	source.mu.Unlock()

	<-source.started
	blocked := source.count()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, blocked, source.count(), "ticks during a refresh are skipped")

	source.mu.Lock()
	source.release = nil
	source.mu.Unlock()
	close(release)
	assert.Eventually(t, func() bool { return source.count() > blocked }, time.Second, 5*time.Millisecond)
}

func TestCacheReadersSeeWholeSnapshots(t *testing.T) {
	role := uuid.New()
	// Each version grants exactly one of (1,101) and (1,102); a reader must
	// never observe both or neither.
	source := &stubSource{data: grantData("alice", role, [2]int{1, 101})}
	cache := NewCache(source, CacheConfig{ReloadInterval: time.Hour}, discardLogger(), nil)
	require.NoError(t, cache.Invalidate(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	var torn sync.Map
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				snap := cache.Snapshot()
				a, b := snap.Allows("alice", 1, 101), snap.Allows("alice", 1, 102)
				if a == b {
					torn.Store(snap.Version, true)
				}
			}
		}()
	}

	for i := 0; i < 100; i++ {
		if i%2 == 0 {
			source.set(grantData("alice", role, [2]int{1, 102}), nil)
		} else {
			source.set(grantData("alice", role, [2]int{1, 101}), nil)
		}
		require.NoError(t, cache.Invalidate(context.Background()))
	}
	cancel()
	wg.Wait()

	count := 0
	torn.Range(func(_, _ any) bool { count++; return true })
	assert.Zero(t, count)
}

func TestCacheStopIsIdempotent(t *testing.T) {
	cache := NewCache(&stubSource{}, CacheConfig{ReloadInterval: time.Hour}, discardLogger(), nil)
	cache.Stop()
	require.NoError(t, cache.Start(context.Background()))
	cache.Stop()
	cache.Stop()
}
