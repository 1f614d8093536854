package backend

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFileBackend_SetGetDeleteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dynamic.toml")
	fb, err := NewFileBackend(path, testLogger())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, fb.AtomicSet(ctx, map[string]string{
		"http/routers/foo/rule":    "PathPrefix(`/foo`)",
		"http/routers/foo/service": "foo",
	}))

	tree, err := fb.GetTree(ctx, "http/routers/foo")
	require.NoError(t, err)
	assert.Equal(t, "PathPrefix(`/foo`)", tree["http/routers/foo/rule"])
	assert.Equal(t, "foo", tree["http/routers/foo/service"])

	require.NoError(t, fb.AtomicDelete(ctx, []string{"http/routers/foo"}))
	tree, err = fb.GetTree(ctx, "http/routers/foo")
	require.NoError(t, err)
	assert.Empty(t, tree)
}

func TestFileBackend_PersistsAcrossReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dynamic.toml")
	ctx := context.Background()

	fb1, err := NewFileBackend(path, testLogger())
	require.NoError(t, err)
	require.NoError(t, fb1.AtomicSet(ctx, map[string]string{"http/routers/foo/rule": "PathPrefix(`/foo`)"}))

	fb2, err := NewFileBackend(path, testLogger())
	require.NoError(t, err)
	tree, err := fb2.GetTree(ctx, "http/routers")
	require.NoError(t, err)
	assert.Equal(t, "PathPrefix(`/foo`)", tree["http/routers/foo/rule"])
}

func TestFileBackend_YAMLExtensionRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dynamic.yml")
	fb, err := NewFileBackend(path, testLogger())
	require.NoError(t, err)
	assert.False(t, fb.isTOML())

	ctx := context.Background()
	require.NoError(t, fb.AtomicSet(ctx, map[string]string{"http/routers/foo/rule": "PathPrefix(`/foo`)"}))

	reloaded, err := NewFileBackend(path, testLogger())
	require.NoError(t, err)
	tree, err := reloaded.GetTree(ctx, "http/routers")
	require.NoError(t, err)
	assert.Equal(t, "PathPrefix(`/foo`)", tree["http/routers/foo/rule"])
}

func TestFileBackend_LoadMissingFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.toml")
	fb, err := NewFileBackend(path, testLogger())
	require.NoError(t, err)

	tree, err := fb.GetTree(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, tree)
}

func TestFileBackend_AtomicDeleteIgnoresMissingKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dynamic.toml")
	fb, err := NewFileBackend(path, testLogger())
	require.NoError(t, err)

	assert.NoError(t, fb.AtomicDelete(context.Background(), []string{"http/routers/nonexistent"}))
}
