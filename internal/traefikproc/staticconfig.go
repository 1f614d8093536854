// Package traefikproc builds Traefik's static configuration and
// supervises it as a child process when the controller is configured
// to manage its own Traefik instance, grounded on the teacher's
// internal/container.Manager (process lifecycle, readiness polling)
// generalized from managing MCP server containers to managing a single
// Traefik binary.
package traefikproc

import (
	"fmt"
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/jupyterhub/traefik-routing-controller/internal/config"
	"github.com/jupyterhub/traefik-routing-controller/internal/credentials"
	"github.com/jupyterhub/traefik-routing-controller/internal/document"
)

// StaticConfig mirrors the subset of Traefik's static configuration
// schema this controller needs to populate: entry points, the API, and
// exactly one dynamic-configuration provider.
type StaticConfig struct {
	EntryPoints           map[string]entryPoint   `toml:"entryPoints"`
	API                   apiConfig               `toml:"api"`
	Ping                  *pingConfig             `toml:"ping,omitempty"`
	Providers             providersConfig         `toml:"providers"`
	CertificatesResolvers map[string]certResolver `toml:"certificatesResolvers,omitempty"`
	Log                   logConfig               `toml:"log"`
}

type pingConfig struct {
	EntryPoint string `toml:"entryPoint,omitempty"`
}

type entryPoint struct {
	Address string `toml:"address"`
}

type apiConfig struct {
	Dashboard bool `toml:"dashboard"`
	Insecure  bool `toml:"insecure"`
}

type logConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type providersConfig struct {
	File   *fileProvider   `toml:"file,omitempty"`
	Redis  *redisProvider  `toml:"redis,omitempty"`
	Etcd   *etcdProvider   `toml:"etcd,omitempty"`
	Consul *consulProvider `toml:"consul,omitempty"`
}

type fileProvider struct {
	Filename string `toml:"filename"`
	Watch    bool   `toml:"watch"`
}

type redisProvider struct {
	Endpoints []string `toml:"endpoints"`
	RootKey   string   `toml:"rootKey"`
}

type etcdProvider struct {
	Endpoints []string `toml:"endpoints"`
	RootKey   string   `toml:"rootKey"`
	Username  string   `toml:"username,omitempty"`
	Password  string   `toml:"password,omitempty"`
}

type consulProvider struct {
	Endpoints []string `toml:"endpoints"`
	RootKey   string   `toml:"rootKey"`
	Token     string   `toml:"token,omitempty"`
}

type certResolver struct {
	ACME acmeResolver `toml:"acme"`
}

type acmeResolver struct {
	Email         string        `toml:"email"`
	Storage       string        `toml:"storage"`
	CAServer      string        `toml:"caServer"`
	HTTPChallenge httpChallenge `toml:"httpChallenge"`
}

type httpChallenge struct {
	EntryPoint string `toml:"entryPoint"`
}

// BuildStaticConfig derives Traefik's static configuration from cfg,
// wiring exactly the provider that matches cfg.Backend.Kind.
func BuildStaticConfig(cfg *config.Config) (*StaticConfig, error) {
	sc := &StaticConfig{
		EntryPoints: map[string]entryPoint{
			cfg.Traefik.PublicEntryPoint: {Address: cfg.Traefik.PublicAddress},
			cfg.Traefik.AdminEntryPoint:  {Address: cfg.Traefik.AdminAddress},
		},
		API:  apiConfig{Dashboard: false, Insecure: false},
		Ping: &pingConfig{EntryPoint: cfg.Traefik.AdminEntryPoint},
		Log: logConfig{
			Level:  cfg.Logging.Level,
			Format: cfg.Logging.Format,
		},
	}

	switch cfg.Backend.Kind {
	case "file":
		sc.Providers.File = &fileProvider{Filename: cfg.Backend.DynamicConfigFile, Watch: true}
	case "redis":
		sc.Providers.Redis = &redisProvider{
			Endpoints: []string{redisHostPort(cfg.Backend.RedisURL)},
			RootKey:   cfg.KVTraefikPrefix,
		}
	case "etcd":
		sc.Providers.Etcd = &etcdProvider{
			Endpoints: cfg.Backend.EtcdEndpoints,
			RootKey:   cfg.KVTraefikPrefix,
			Username:  cfg.Backend.EtcdUsername,
			Password:  cfg.Backend.EtcdPassword,
		}
	case "consul":
		sc.Providers.Consul = &consulProvider{
			Endpoints: []string{cfg.Backend.ConsulAddress},
			RootKey:   cfg.KVTraefikPrefix,
			Token:     cfg.Backend.ConsulToken,
		}
	default:
		return nil, fmt.Errorf("traefikproc: unsupported backend kind %q", cfg.Backend.Kind)
	}

	if cfg.ACME.Enabled {
		const acmeEntryPoint = "acme_challenge"
		sc.EntryPoints[acmeEntryPoint] = entryPoint{Address: fmt.Sprintf(":%d", cfg.ACME.ChallengePort)}
		sc.CertificatesResolvers = map[string]certResolver{
			"letsencrypt": {
				ACME: acmeResolver{
					Email:    cfg.ACME.Email,
					Storage:  filepath.Join(filepath.Dir(cfg.Backend.StaticConfigFile), "acme.json"),
					CAServer: cfg.ACME.Server,
					HTTPChallenge: httpChallenge{
						EntryPoint: acmeEntryPoint,
					},
				},
			},
		}
	}

	return sc, nil
}

// redisHostPort strips a redis:// scheme so it fits Traefik's
// host:port endpoint list format.
func redisHostPort(url string) string {
	const scheme = "redis://"
	if len(url) > len(scheme) && url[:len(scheme)] == scheme {
		return url[len(scheme):]
	}
	return url
}

// WriteStaticConfig renders the static configuration to
// cfg.Backend.StaticConfigFile, merging any operator-supplied extra
// static config (TOML) on top with document.Merge, the operator's values
// winning on conflicts. The BasicAuth credential and admin router
// Traefik needs for its admin entry point are dynamic configuration,
// written separately by WriteAdminBootstrap into the backend.
func WriteStaticConfig(cfg *config.Config) error {
	sc, err := BuildStaticConfig(cfg)
	if err != nil {
		return err
	}

	body, err := toml.Marshal(sc)
	if err != nil {
		return fmt.Errorf("traefikproc: marshal static config: %w", err)
	}

	if cfg.ExtraStaticConfigPath != "" {
		extra, err := os.ReadFile(cfg.ExtraStaticConfigPath)
		if err != nil {
			return fmt.Errorf("traefikproc: read extra static config: %w", err)
		}
		base, patch := document.Document{}, document.Document{}
		if err := toml.Unmarshal(body, &base); err != nil {
			return fmt.Errorf("traefikproc: reparse static config: %w", err)
		}
		if err := toml.Unmarshal(extra, &patch); err != nil {
			return fmt.Errorf("traefikproc: unmarshal extra static config: %w", err)
		}
		if body, err = toml.Marshal(document.Merge(base, patch)); err != nil {
			return fmt.Errorf("traefikproc: marshal merged static config: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Backend.StaticConfigFile), 0o755); err != nil {
		return fmt.Errorf("traefikproc: mkdir: %w", err)
	}
	if err := os.WriteFile(cfg.Backend.StaticConfigFile, body, 0o644); err != nil {
		return fmt.Errorf("traefikproc: write static config: %w", err)
	}
	return nil
}

// AdminCredential derives the "user:bcrypthash" string Traefik's
// BasicAuth middleware needs to protect the admin entry point. See
// BuildAdminBootstrap for where it is attached to that middleware.
func AdminCredential(cfg *config.Config) (string, error) {
	return credentials.HashedPassword(cfg.Traefik.APIUsername, cfg.Traefik.APIPassword, cfg.Traefik.APIHashedPassword)
}
