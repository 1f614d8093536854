// Package config loads controller configuration from environment
// variables with sensible defaults, mirroring the teacher's
// internal/config.Load() helper style (getEnv/getEnvInt/getEnvDuration/
// getEnvBool/getEnvStringSlice) and covering every option spec §6 names.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds everything the controller needs to run.
type Config struct {
	Server  ServerConfig
	Backend BackendConfig
	Traefik TraefikConfig
	Logging LoggingConfig
	Audit   AuditConfig
	ACME    ACMEConfig

	KVJupyterHubPrefix string
	KVTraefikPrefix    string

	CheckRouteTimeout time.Duration

	ExtraStaticConfigPath  string
	ExtraDynamicConfigPath string
}

// ServerConfig configures the optional HTTP admin surface.
type ServerConfig struct {
	Host string
	Port int
}

// BackendConfig selects and configures the KV/file backend.
type BackendConfig struct {
	Kind string // file | redis | etcd | consul

	StaticConfigFile  string
	DynamicConfigFile string

	RedisURL        string
	RetryMaxElapsed time.Duration

	EtcdEndpoints []string
	EtcdUsername  string
	EtcdPassword  string

	ConsulAddress string
	ConsulToken   string
}

// TraefikConfig configures the admin API client, convergence waiter, and
// child-process supervisor.
type TraefikConfig struct {
	APIURL              string
	APIUsername         string
	APIPassword         string
	APIHashedPassword   string
	APIValidateCert     bool
	ShouldStart         bool
	BinaryPath          string
	StartupTimeout      time.Duration
	ShutdownGracePeriod time.Duration
	PublicEntryPoint    string
	PublicAddress       string
	AdminEntryPoint     string
	AdminAddress        string
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string
	Format string
}

// AuditConfig configures the optional Postgres-backed audit sink.
type AuditConfig struct {
	Enabled bool
	DSN     string
}

// ACMEConfig configures automatic HTTPS via Let's Encrypt.
type ACMEConfig struct {
	Enabled       bool
	Email         string
	Domains       []string
	Server        string
	ChallengePort int
}

// TraefikKeyPrefix returns the root under which the Traefik-facing
// projection is written. KV backends address it with a provider
// rootKey, so the projection keeps its KVTraefikPrefix there. The file
// backend has no rootKey concept — Traefik's file provider decodes the
// whole file as dynamic configuration and expects "http" at the
// document root — so the projection is written unprefixed for it.
func (c *Config) TraefikKeyPrefix() string {
	if c.Backend.Kind == "file" {
		return ""
	}
	return c.KVTraefikPrefix
}

// Load reads every recognized option from the environment, applying the
// defaults named in spec §6.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
			Port: getEnvInt("SERVER_PORT", 8000),
		},
		Backend: BackendConfig{
			Kind:              getEnv("BACKEND_KIND", "file"),
			StaticConfigFile:  getEnv("STATIC_CONFIG_FILE", "/etc/traefik/traefik.toml"),
			DynamicConfigFile: getEnv("DYNAMIC_CONFIG_FILE", "/etc/traefik/dynamic.yml"),
			RedisURL:          getEnv("REDIS_URL", "redis://localhost:6379"),
			RetryMaxElapsed:   getEnvDuration("BACKEND_RETRY_MAX_ELAPSED", 30*time.Second),
			EtcdEndpoints:     getEnvStringSlice("ETCD_ENDPOINTS", []string{"127.0.0.1:2379"}),
			EtcdUsername:      getEnv("ETCD_USERNAME", ""),
			EtcdPassword:      getEnv("ETCD_PASSWORD", ""),
			ConsulAddress:     getEnv("CONSUL_URL", "127.0.0.1:8500"),
			ConsulToken:       getEnv("CONSUL_TOKEN", ""),
		},
		Traefik: TraefikConfig{
			APIURL:              getEnv("TRAEFIK_API_URL", "http://127.0.0.1:8099"),
			APIUsername:         getEnv("TRAEFIK_API_USERNAME", "jupyterhub"),
			APIPassword:         getEnv("TRAEFIK_API_PASSWORD", ""),
			APIHashedPassword:   getEnv("TRAEFIK_API_HASHED_PASSWORD", ""),
			APIValidateCert:     getEnvBool("TRAEFIK_API_VALIDATE_CERT", true),
			ShouldStart:         getEnvBool("SHOULD_START", true),
			BinaryPath:          getEnv("TRAEFIK_BINARY_PATH", "traefik"),
			StartupTimeout:      getEnvDuration("TRAEFIK_STARTUP_TIMEOUT", 60*time.Second),
			ShutdownGracePeriod: getEnvDuration("TRAEFIK_SHUTDOWN_GRACE_PERIOD", 10*time.Second),
			PublicEntryPoint:    getEnv("TRAEFIK_PUBLIC_ENTRYPOINT", "http"),
			PublicAddress:       getEnv("TRAEFIK_PUBLIC_ADDRESS", ":8000"),
			AdminEntryPoint:     getEnv("TRAEFIK_ADMIN_ENTRYPOINT", "auth_api"),
			AdminAddress:        getEnv("TRAEFIK_ADMIN_ADDRESS", ":8099"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "INFO"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Audit: AuditConfig{
			Enabled: getEnvBool("AUDIT_ENABLED", false),
			DSN:     getEnv("AUDIT_DATABASE_URL", ""),
		},
		ACME: ACMEConfig{
			Enabled:       getEnvBool("TRAEFIK_AUTO_HTTPS", false),
			Email:         getEnv("TRAEFIK_LETSENCRYPT_EMAIL", ""),
			Domains:       getEnvStringSlice("TRAEFIK_LETSENCRYPT_DOMAINS", nil),
			Server:        getEnv("TRAEFIK_ACME_SERVER", "https://acme-v02.api.letsencrypt.org/directory"),
			ChallengePort: getEnvInt("TRAEFIK_ACME_CHALLENGE_PORT", 80),
		},
		KVJupyterHubPrefix: getEnv("KV_JUPYTERHUB_PREFIX", "/jupyterhub"),
		KVTraefikPrefix:    getEnv("KV_TRAEFIK_PREFIX", "/traefik"),
		CheckRouteTimeout:  getEnvDuration("CHECK_ROUTE_TIMEOUT", 60*time.Second),

		ExtraStaticConfigPath:  getEnv("EXTRA_STATIC_CONFIG", ""),
		ExtraDynamicConfigPath: getEnv("EXTRA_DYNAMIC_CONFIG", ""),
	}
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		return out
	}
	return defaultValue
}
