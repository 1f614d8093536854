package traefikproc

import (
	"context"
	"fmt"
	"os"

	yaml "gopkg.in/yaml.v3"

	"github.com/jupyterhub/traefik-routing-controller/internal/backend"
	"github.com/jupyterhub/traefik-routing-controller/internal/config"
	"github.com/jupyterhub/traefik-routing-controller/internal/document"
)

// AdminRouterName and AdminMiddlewareName name the dynamic-config
// objects that expose Traefik's internal api@internal service on the
// admin entry point, per spec §4.4 step 2.
const (
	AdminRouterName     = "traefik_admin"
	AdminMiddlewareName = "traefik_admin_auth"
)

// BuildAdminBootstrap renders the dynamic-configuration fragment that
// attaches a BasicAuth-protected router to api@internal on the admin
// entry point, seeded with AdminCredential. The built-in ping@internal
// router Traefik derives from StaticConfig.Ping is left unguarded, so
// Supervisor.waitForReady can poll /ping without credentials.
//
// Any operator-supplied cfg.ExtraDynamicConfigPath fragment is merged
// on top, with the operator's values winning on conflicts — the same
// caller-wins contract ExtraStaticConfigPath gets in WriteStaticConfig.
func BuildAdminBootstrap(cfg *config.Config) (document.Document, error) {
	cred, err := AdminCredential(cfg)
	if err != nil {
		return nil, fmt.Errorf("traefikproc: derive admin credential: %w", err)
	}

	base := document.Document{
		"http": map[string]any{
			"routers": map[string]any{
				AdminRouterName: map[string]any{
					"rule":        "PathPrefix(`/api`)",
					"service":     "api@internal",
					"entryPoints": []any{cfg.Traefik.AdminEntryPoint},
					"middlewares": []any{AdminMiddlewareName},
				},
			},
			"middlewares": map[string]any{
				AdminMiddlewareName: map[string]any{
					"basicAuth": map[string]any{
						"users": []any{cred},
					},
				},
			},
		},
	}

	if cfg.ExtraDynamicConfigPath == "" {
		return base, nil
	}

	raw, err := os.ReadFile(cfg.ExtraDynamicConfigPath)
	if err != nil {
		return nil, fmt.Errorf("traefikproc: read extra dynamic config: %w", err)
	}
	patch := document.Document{}
	if err := yaml.Unmarshal(raw, &patch); err != nil {
		return nil, fmt.Errorf("traefikproc: unmarshal extra dynamic config: %w", err)
	}
	return document.Merge(base, patch), nil
}

// WriteAdminBootstrap persists the admin bootstrap fragment to be
// under cfg.TraefikKeyPrefix(), so whichever provider Traefik is
// configured with (file, redis, etcd, consul) picks it up the same way
// it picks up route-derived keys. Callers run this once at startup,
// independent of whether this process also supervises the Traefik
// binary — an externally managed Traefik still needs this router to
// expose its admin API.
func WriteAdminBootstrap(ctx context.Context, cfg *config.Config, be backend.Backend) error {
	doc, err := BuildAdminBootstrap(cfg)
	if err != nil {
		return err
	}

	prefix := cfg.TraefikKeyPrefix()
	flat := document.FlattenToStrings(doc)
	prefixed := make(map[string]string, len(flat))
	for k, v := range flat {
		if prefix == "" {
			prefixed[k] = v
		} else {
			prefixed[prefix+"/"+k] = v
		}
	}
	return be.AtomicSet(ctx, prefixed)
}
