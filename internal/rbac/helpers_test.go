package rbac

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fixture wires a seeded memory store, a cache, an admin and an engine.
type fixture struct {
	store  *MemoryStore
	cache  *Cache
	admin  *Admin
	engine *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := NewMemoryStore(DefaultCatalogue)
	require.NoError(t, store.SeedCatalogue(context.Background()))
	cache := NewCache(store, CacheConfig{ReloadInterval: time.Hour}, discardLogger(), nil)
	return &fixture{
		store:  store,
		cache:  cache,
		admin:  NewAdmin(store, cache, AdminConfig{Logger: discardLogger()}),
		engine: NewEngine(cache, DefaultCatalogue, EngineOptions{Logger: discardLogger()}),
	}
}

// grantRole creates role with the given cells and assigns users to it.
func (f *fixture) grantRole(t *testing.T, role string, cells [][2]string, users ...string) {
	t.Helper()
	ctx := context.Background()
	_, err := f.admin.CreateRoles(ctx, []string{role})
	require.NoError(t, err)
	grants := make([]GrantRequest, 0, len(cells))
	for _, c := range cells {
		grants = append(grants, GrantRequest{SectionName: c[0], FunctionName: c[1], HasAccess: true})
	}
	require.NoError(t, f.admin.ReplaceRolePermissions(ctx, role, grants))
	if len(users) == 0 {
		return
	}
	assignments := make([]UserRoleRequest, 0, len(users))
	for _, u := range users {
		assignments = append(assignments, UserRoleRequest{UserName: u, RoleName: role})
	}
	require.NoError(t, f.admin.AddUsersToRoles(ctx, assignments))
}

// stubSource is a SnapshotSource whose answer can be swapped and which
// counts and optionally blocks calls.
type stubSource struct {
	mu      sync.Mutex
	data    SnapshotData
	err     error
	calls   int
	started chan struct{}
	release chan struct{}
}

func (s *stubSource) set(data SnapshotData, err error) {
	s.mu.Lock()
	s.data, s.err = data, err
	s.mu.Unlock()
}

func (s *stubSource) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *stubSource) GetEffectivePermissionSnapshot(ctx context.Context) (SnapshotData, error) {
	s.mu.Lock()
	s.calls++
	started, release := s.started, s.release
	s.mu.Unlock()
	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return SnapshotData{}, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data, s.err
}
