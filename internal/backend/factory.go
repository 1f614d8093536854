package backend

import (
	"fmt"
	"log/slog"

	"github.com/jupyterhub/traefik-routing-controller/internal/config"
)

// Kind identifies which concrete Backend a configuration selects.
type Kind string

const (
	KindFile   Kind = "file"
	KindRedis  Kind = "redis"
	KindEtcd   Kind = "etcd"
	KindConsul Kind = "consul"
)

// New constructs the Backend selected by cfg.Backend.Kind, mirroring the
// teacher's providers.ProviderManager.GetProvider dispatch-by-type shape
// (there: docker vs url provider; here: which KV store implements the
// contract).
func New(cfg *config.Config, logger *slog.Logger) (Backend, error) {
	switch Kind(cfg.Backend.Kind) {
	case KindFile:
		return NewFileBackend(cfg.Backend.DynamicConfigFile, logger)
	case KindRedis:
		return NewRedisBackend(RedisOptions{
			URL:             cfg.Backend.RedisURL,
			RetryMaxElapsed: cfg.Backend.RetryMaxElapsed,
		}, logger), nil
	case KindEtcd:
		return NewEtcdBackend(EtcdOptions{
			Endpoints: cfg.Backend.EtcdEndpoints,
			Username:  cfg.Backend.EtcdUsername,
			Password:  cfg.Backend.EtcdPassword,
		})
	case KindConsul:
		logger.Warn("consul backend is deprecated; prefer redis for new deployments")
		return NewConsulBackend(ConsulOptions{
			Address: cfg.Backend.ConsulAddress,
			Token:   cfg.Backend.ConsulToken,
		})
	default:
		return nil, fmt.Errorf("backend: unsupported kind %q (want one of file, redis, etcd, consul)", cfg.Backend.Kind)
	}
}
