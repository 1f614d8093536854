package traefikproc

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jupyterhub/traefik-routing-controller/internal/backend"
)

func TestBuildAdminBootstrap_AttachesCredentialToMiddleware(t *testing.T) {
	cfg := baseConfig("file")
	cfg.Traefik.APIUsername = "jupyterhub"
	cfg.Traefik.APIHashedPassword = "jupyterhub:$2y$05$already"

	doc, err := BuildAdminBootstrap(cfg)
	require.NoError(t, err)

	http := doc["http"].(map[string]any)
	routers := http["routers"].(map[string]any)
	router := routers[AdminRouterName].(map[string]any)
	assert.Equal(t, "api@internal", router["service"])
	assert.Equal(t, []any{cfg.Traefik.AdminEntryPoint}, router["entryPoints"])
	assert.Equal(t, []any{AdminMiddlewareName}, router["middlewares"])

	middlewares := http["middlewares"].(map[string]any)
	mw := middlewares[AdminMiddlewareName].(map[string]any)
	basicAuth := mw["basicAuth"].(map[string]any)
	assert.Equal(t, []any{"jupyterhub:$2y$05$already"}, basicAuth["users"])
}

func TestBuildAdminBootstrap_MergesExtraDynamicConfig(t *testing.T) {
	cfg := baseConfig("file")
	cfg.Traefik.APIHashedPassword = "jupyterhub:$2y$05$already"

	dir := t.TempDir()
	extra := filepath.Join(dir, "extra.yml")
	fixture := "http:\n" +
		"  routers:\n" +
		"    traefik_admin:\n" +
		"      rule: \"PathPrefix(/api) || PathPrefix(/dashboard)\"\n" +
		"    custom:\n" +
		"      rule: \"Host(internal.example.com)\"\n" +
		"      service: api@internal\n" +
		"      entryPoints:\n" +
		"        - auth_api\n"
	require.NoError(t, os.WriteFile(extra, []byte(fixture), 0o644))
	cfg.ExtraDynamicConfigPath = extra

	doc, err := BuildAdminBootstrap(cfg)
	require.NoError(t, err)

	http := doc["http"].(map[string]any)
	routers := http["routers"].(map[string]any)

	// The operator's fragment only overrides "rule" on the generated
	// admin router — Merge recurses per key rather than replacing the
	// whole router map, so the fields BuildAdminBootstrap set survive.
	admin := routers[AdminRouterName].(map[string]any)
	assert.Equal(t, "PathPrefix(/api) || PathPrefix(/dashboard)", admin["rule"])
	assert.Equal(t, "api@internal", admin["service"])

	require.Contains(t, routers, "custom")
}

func TestWriteAdminBootstrap_PersistsToBackend(t *testing.T) {
	cfg := baseConfig("file")
	cfg.Traefik.APIHashedPassword = "jupyterhub:$2y$05$already"
	cfg.Backend.DynamicConfigFile = filepath.Join(t.TempDir(), "dynamic.yml")

	be, err := backend.NewFileBackend(cfg.Backend.DynamicConfigFile, nil)
	require.NoError(t, err)
	defer be.Close()

	require.NoError(t, WriteAdminBootstrap(context.Background(), cfg, be))

	tree, err := be.GetTree(context.Background(), "http/routers/"+AdminRouterName)
	require.NoError(t, err)
	assert.Equal(t, "api@internal", tree["http/routers/"+AdminRouterName+"/service"])
}
