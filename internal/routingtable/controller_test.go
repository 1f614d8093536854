package routingtable

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jupyterhub/traefik-routing-controller/internal/config"
	"github.com/jupyterhub/traefik-routing-controller/internal/ctlerrors"
)

// fakeBackend is an in-memory stand-in for backend.Backend, sufficient to
// exercise the controller's persistence and recovery logic without a real
// KV store.
type fakeBackend struct {
	mu sync.Mutex
	kv map[string]string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{kv: map[string]string{}}
}

func (f *fakeBackend) AtomicSet(ctx context.Context, kv map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, v := range kv {
		f.kv[k] = v
	}
	return nil
}

func (f *fakeBackend) AtomicDelete(ctx context.Context, keys []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		for stored := range f.kv {
			if stored == k || strings.HasPrefix(stored, k+"/") {
				delete(f.kv, stored)
			}
		}
	}
	return nil
}

func (f *fakeBackend) GetTree(ctx context.Context, prefix string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]string{}
	for k, v := range f.kv {
		if k == prefix || strings.HasPrefix(k, prefix+"/") {
			out[k] = v
		}
	}
	return out, nil
}

func (f *fakeBackend) Close() error { return nil }

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.KVJupyterHubPrefix = "/jupyterhub"
	cfg.KVTraefikPrefix = "/traefik"
	return cfg
}

func newTestController(be *fakeBackend) *Controller {
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
	return New(testConfig(), be, nil, nil, logger)
}

func TestAddRoute_PersistsBothKeySpaces(t *testing.T) {
	be := newFakeBackend()
	c := newTestController(be)
	ctx := context.Background()

	require.NoError(t, c.Start(ctx))
	require.NoError(t, c.AddRoute(ctx, "/foo", "http://10.0.0.1:8888", map[string]any{"owner": "alice"}))

	tree, err := be.GetTree(ctx, "/jupyterhub")
	require.NoError(t, err)
	assert.NotEmpty(t, tree)

	traefikTree, err := be.GetTree(ctx, "/traefik")
	require.NoError(t, err)
	found := false
	for k, v := range traefikTree {
		if strings.Contains(k, "jupyterhub_") && strings.Contains(k, "routers") && strings.Contains(k, "rule") {
			assert.Contains(t, v, "PathPrefix")
			found = true
		}
	}
	assert.True(t, found, "expected a router rule key in the traefik-prefixed tree")

	got, err := c.GetRoute("/foo")
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.1:8888", got.Target)
	assert.Equal(t, "alice", got.Data["owner"])
}

func TestAddRoute_RejectsEmptyTarget(t *testing.T) {
	be := newFakeBackend()
	c := newTestController(be)
	ctx := context.Background()
	require.NoError(t, c.Start(ctx))

	err := c.AddRoute(ctx, "/foo", "", nil)
	require.Error(t, err)
	assert.Equal(t, ctlerrors.InvalidRouteSpec, ctlerrors.KindOf(err))
}

func TestAddRoute_NonRootPathGetsStripPrefixMiddleware(t *testing.T) {
	be := newFakeBackend()
	c := newTestController(be)
	ctx := context.Background()
	require.NoError(t, c.Start(ctx))

	require.NoError(t, c.AddRoute(ctx, "/foo/bar", "http://10.0.0.1:1", nil))
	tree, _ := be.GetTree(ctx, "/traefik")
	hasMiddleware := false
	for k := range tree {
		if strings.Contains(k, "middlewares") {
			hasMiddleware = true
		}
	}
	assert.True(t, hasMiddleware)

	// Re-adding the identical spec is idempotent: the middleware the
	// same path requires is rewritten, not duplicated or dropped.
	require.NoError(t, c.AddRoute(ctx, "/foo/bar/", "http://10.0.0.1:1", nil))
	tree, _ = be.GetTree(ctx, "/traefik")
	hasMiddleware = false
	for k := range tree {
		if strings.Contains(k, "middlewares") {
			hasMiddleware = true
		}
	}
	assert.True(t, hasMiddleware)
}

func TestDeleteRoute_RemovesFromBothKeySpaces(t *testing.T) {
	be := newFakeBackend()
	c := newTestController(be)
	ctx := context.Background()
	require.NoError(t, c.Start(ctx))
	require.NoError(t, c.AddRoute(ctx, "/foo", "http://10.0.0.1:1", nil))

	require.NoError(t, c.DeleteRoute(ctx, "/foo"))

	_, err := c.GetRoute("/foo")
	require.Error(t, err)
	assert.Equal(t, ctlerrors.NotFound, ctlerrors.KindOf(err))

	tree, _ := be.GetTree(ctx, "/jupyterhub")
	assert.Empty(t, tree)
}

func TestDeleteRoute_NonexistentIsNoOp(t *testing.T) {
	be := newFakeBackend()
	c := newTestController(be)
	ctx := context.Background()
	require.NoError(t, c.Start(ctx))

	assert.NoError(t, c.DeleteRoute(ctx, "/does-not-exist"))
}

func TestGetAllRoutes_ReturnsIndependentCopy(t *testing.T) {
	be := newFakeBackend()
	c := newTestController(be)
	ctx := context.Background()
	require.NoError(t, c.Start(ctx))
	require.NoError(t, c.AddRoute(ctx, "/foo", "http://10.0.0.1:1", nil))

	routes := c.GetAllRoutes()
	require.Len(t, routes, 1)
	delete(routes, "/foo/")

	stillThere, err := c.GetRoute("/foo")
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.1:1", stillThere.Target)
}

func TestStart_RecoversRoutesAcrossRestart(t *testing.T) {
	be := newFakeBackend()
	ctx := context.Background()

	c1 := newTestController(be)
	require.NoError(t, c1.Start(ctx))
	require.NoError(t, c1.AddRoute(ctx, "/foo", "http://10.0.0.1:1", map[string]any{"k": "v"}))
	require.NoError(t, c1.AddRoute(ctx, "/", "http://10.0.0.1:2", nil))

	c2 := newTestController(be)
	require.NoError(t, c2.Start(ctx))

	got, err := c2.GetRoute("/foo")
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.1:1", got.Target)
	assert.Equal(t, "v", got.Data["k"])

	root, err := c2.GetRoute("/")
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.1:2", root.Target)

	assert.Equal(t, StateRunning, c2.State())
}

func TestLockSpec_SerializesSameSpecMutations(t *testing.T) {
	be := newFakeBackend()
	c := newTestController(be)

	unlock := c.lockSpec("/foo/")
	locked := make(chan struct{})
	go func() {
		u2 := c.lockSpec("/foo/")
		close(locked)
		u2()
	}()

	select {
	case <-locked:
		t.Fatal("second lockSpec call should have blocked while the first is held")
	default:
	}
	unlock()
	<-locked
}
