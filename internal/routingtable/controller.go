// Package routingtable implements the proxy core: translating
// add_route/delete_route/get_route/get_all_routes into backend
// mutations and, when convergence waiting is enabled, blocking until
// Traefik's admin API reflects them. Grounded on the teacher's
// internal/proxy.RouteRegistry (RWMutex-guarded map keyed by route
// identity) and internal/proxy.RouteManager (validate, delegate,
// log), generalized from a slug-keyed container registry to a
// routespec-keyed Traefik router registry, plus the
// new→starting→running→stopping→stopped lifecycle the teacher's
// internal/container.Manager drives via Initialize/Shutdown.
package routingtable

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jupyterhub/traefik-routing-controller/internal/adminapi"
	"github.com/jupyterhub/traefik-routing-controller/internal/audit"
	"github.com/jupyterhub/traefik-routing-controller/internal/backend"
	"github.com/jupyterhub/traefik-routing-controller/internal/config"
	"github.com/jupyterhub/traefik-routing-controller/internal/ctlerrors"
	"github.com/jupyterhub/traefik-routing-controller/internal/document"
	"github.com/jupyterhub/traefik-routing-controller/internal/route"
	"github.com/jupyterhub/traefik-routing-controller/internal/routespec"
)

// State is the controller's lifecycle stage.
type State string

const (
	StateNew      State = "new"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
)

// Controller is the routing-table proxy core. It owns an in-memory
// cache of known routes, a persistence backend, and (when configured)
// a convergence waiter against Traefik's admin API.
type Controller struct {
	cfg    *config.Config
	logger *slog.Logger
	be     backend.Backend
	waiter *adminapi.Waiter
	audit  *audit.Sink

	stateMu sync.RWMutex
	state   State

	cacheMu sync.RWMutex
	cache   map[string]route.Route

	specLocksMu sync.Mutex
	specLocks   map[string]*sync.Mutex
}

// New constructs a Controller in the "new" state.
func New(cfg *config.Config, be backend.Backend, waiter *adminapi.Waiter, auditSink *audit.Sink, logger *slog.Logger) *Controller {
	return &Controller{
		cfg:       cfg,
		logger:    logger,
		be:        be,
		waiter:    waiter,
		audit:     auditSink,
		state:     StateNew,
		cache:     make(map[string]route.Route),
		specLocks: make(map[string]*sync.Mutex),
	}
}

// State reports the controller's current lifecycle stage.
func (c *Controller) State() State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
}

// Start loads the existing route tree from the backend into the
// in-memory cache, recovering whatever state a prior process left
// behind.
func (c *Controller) Start(ctx context.Context) error {
	c.setState(StateStarting)

	tree, err := c.be.GetTree(ctx, c.cfg.KVJupyterHubPrefix)
	if err != nil {
		c.setState(StateStopped)
		return ctlerrors.New("routingtable.Start", ctlerrors.BackendUnavailable, "", err)
	}

	flat := make(map[string]string, len(tree))
	prefixLen := len(c.cfg.KVJupyterHubPrefix) + 1
	for k, v := range tree {
		if len(k) > prefixLen {
			flat[k[prefixLen:]] = v
		}
	}
	doc := document.UnflattenFromStrings(flat)

	c.cacheMu.Lock()
	for encodedSpec, raw := range doc {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		r, err := decodeRoute(encodedSpec, m)
		if err != nil {
			c.logger.Warn("routingtable: skipping unrecoverable cached route",
				slog.String("key", encodedSpec), slog.String("error", err.Error()))
			continue
		}
		c.cache[r.Spec] = r
	}
	c.cacheMu.Unlock()

	c.logger.Info("routing table started", slog.Int("routes_recovered", len(c.cache)))
	c.setState(StateRunning)
	return nil
}

func decodeRoute(encodedSpec string, m map[string]any) (route.Route, error) {
	canonical, err := routespec.Decode(encodedSpec)
	if err != nil {
		return route.Route{}, err
	}
	r := route.Route{Spec: canonical, Data: map[string]any{}}
	if target, ok := m["target"].(string); ok {
		r.Target = target
	}
	if data, ok := m["data"].(map[string]any); ok {
		r.Data = data
	}
	return r, nil
}

// Stop marks the controller stopped. It does not touch the backend or
// Traefik, since routes persisted there must outlive this process.
func (c *Controller) Stop(ctx context.Context) error {
	c.setState(StateStopping)
	c.setState(StateStopped)
	return nil
}

// AddRoute creates or replaces the route at spec, persists it to the
// backend, updates the in-memory cache, and — when a waiter is
// configured — blocks until Traefik's admin API reflects the change.
func (c *Controller) AddRoute(ctx context.Context, spec, target string, data map[string]any) error {
	canonical, err := routespec.Canonicalize(spec)
	if err != nil {
		return ctlerrors.New("routingtable.AddRoute", ctlerrors.InvalidRouteSpec, spec, err)
	}
	if target == "" {
		return ctlerrors.New("routingtable.AddRoute", ctlerrors.InvalidRouteSpec, spec, fmt.Errorf("target must not be empty"))
	}

	unlock := c.lockSpec(canonical)
	defer unlock()

	r := route.Route{Spec: canonical, Target: target, Data: data}

	recordDoc := document.Document{
		routespec.Encode(canonical): map[string]any{
			"target": target,
			"data":   data,
		},
	}
	recordSet := c.prefixWith(c.cfg.KVJupyterHubPrefix, document.FlattenToStrings(recordDoc))

	traefikSet, traefikDel := document.RenderAdd(r)
	traefikSetPrefixed := c.prefixWith(c.cfg.TraefikKeyPrefix(), traefikSet)
	traefikDelPrefixed := c.prefixKeysWith(c.cfg.TraefikKeyPrefix(), traefikDel)

	merged := make(map[string]string, len(recordSet)+len(traefikSetPrefixed))
	for k, v := range recordSet {
		merged[k] = v
	}
	for k, v := range traefikSetPrefixed {
		merged[k] = v
	}

	if err := c.be.AtomicSet(ctx, merged); err != nil {
		return err
	}
	if len(traefikDelPrefixed) > 0 {
		if err := c.be.AtomicDelete(ctx, traefikDelPrefixed); err != nil {
			return err
		}
	}

	c.cacheMu.Lock()
	c.cache[canonical] = r
	c.cacheMu.Unlock()

	if c.waiter != nil {
		if err := c.waiter.WaitForRouter(ctx, canonical, route.RouterName(canonical)); err != nil {
			return err
		}
	}

	c.audit.Record(ctx, audit.Entry{Operation: "add_route", RouteSpec: canonical, Target: target})
	c.logger.Info("route added", slog.String("route_spec", canonical), slog.String("target", target))
	return nil
}

// DeleteRoute removes the route at spec from the backend and cache.
// Deleting a route that does not exist is a no-op, matching the
// idempotent semantics the JupyterHub proxy contract requires.
func (c *Controller) DeleteRoute(ctx context.Context, spec string) error {
	canonical, err := routespec.Canonicalize(spec)
	if err != nil {
		return ctlerrors.New("routingtable.DeleteRoute", ctlerrors.InvalidRouteSpec, spec, err)
	}

	unlock := c.lockSpec(canonical)
	defer unlock()

	c.cacheMu.RLock()
	_, exists := c.cache[canonical]
	c.cacheMu.RUnlock()
	if !exists {
		return nil
	}

	keys := c.prefixKeysWith(c.cfg.TraefikKeyPrefix(), document.RenderDelete(canonical))
	keys = append(keys, c.cfg.KVJupyterHubPrefix+"/"+routespec.Encode(canonical))
	if err := c.be.AtomicDelete(ctx, keys); err != nil {
		return err
	}

	c.cacheMu.Lock()
	delete(c.cache, canonical)
	c.cacheMu.Unlock()

	if c.waiter != nil {
		if err := c.waiter.WaitForAbsence(ctx, canonical, route.RouterName(canonical)); err != nil {
			return err
		}
	}

	c.audit.Record(ctx, audit.Entry{Operation: "delete_route", RouteSpec: canonical})
	c.logger.Info("route deleted", slog.String("route_spec", canonical))
	return nil
}

// GetRoute returns the route registered at spec, or
// ctlerrors.NotFound if none exists.
func (c *Controller) GetRoute(spec string) (route.Route, error) {
	canonical, err := routespec.Canonicalize(spec)
	if err != nil {
		return route.Route{}, ctlerrors.New("routingtable.GetRoute", ctlerrors.InvalidRouteSpec, spec, err)
	}

	c.cacheMu.RLock()
	defer c.cacheMu.RUnlock()
	r, ok := c.cache[canonical]
	if !ok {
		return route.Route{}, ctlerrors.New("routingtable.GetRoute", ctlerrors.NotFound, canonical, fmt.Errorf("no route registered"))
	}
	return r, nil
}

// GetAllRoutes returns every registered route, keyed by canonical
// route spec.
func (c *Controller) GetAllRoutes() map[string]route.Route {
	c.cacheMu.RLock()
	defer c.cacheMu.RUnlock()

	out := make(map[string]route.Route, len(c.cache))
	for k, v := range c.cache {
		out[k] = v
	}
	return out
}

func (c *Controller) prefixWith(prefix string, flat map[string]string) map[string]string {
	out := make(map[string]string, len(flat))
	for k, v := range flat {
		out[joinKey(prefix, k)] = v
	}
	return out
}

func (c *Controller) prefixKeysWith(prefix string, keys []string) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = joinKey(prefix, k)
	}
	return out
}

// joinKey joins prefix and key with a "/", or returns key unchanged
// when prefix is empty (the file backend's unprefixed Traefik
// projection, per Config.TraefikKeyPrefix).
func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}

// lockSpec serializes concurrent mutations of the same route spec
// without blocking mutations of unrelated specs, mirroring the
// per-resource locking discipline of the teacher's
// internal/container.Manager (a single mutex per manager, held only
// across the critical section of each mutation).
func (c *Controller) lockSpec(canonical string) func() {
	c.specLocksMu.Lock()
	l, ok := c.specLocks[canonical]
	if !ok {
		l = &sync.Mutex{}
		c.specLocks[canonical] = l
	}
	c.specLocksMu.Unlock()

	l.Lock()
	return l.Unlock
}
