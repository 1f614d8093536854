package adminapi

import (
	"context"
	"strings"
	"time"

	"github.com/jupyterhub/traefik-routing-controller/internal/ctlerrors"
)

// Waiter polls a Client until a router reaches (or leaves) the
// expected state, bounding how long add_route/delete_route block
// waiting for Traefik to pick up a dynamic configuration change.
type Waiter struct {
	client  *Client
	timeout time.Duration
}

// NewWaiter constructs a Waiter bound to timeout.
func NewWaiter(client *Client, timeout time.Duration) *Waiter {
	return &Waiter{client: client, timeout: timeout}
}

// WaitForRouter blocks until a router named routerName exists with a
// status other than "disabled", or returns ctlerrors.RouteNotConverged
// once the waiter's timeout elapses. Traefik v2 and v3 both report
// "enabled"/"warning"/"disabled"; "enabled" and "warning" both count as
// converged and only "disabled" counts as not-yet-converged.
func (w *Waiter) WaitForRouter(ctx context.Context, routeSpec, routerName string) error {
	return w.poll(ctx, routeSpec, func(routers []RouterInfo) bool {
		for _, r := range routers {
			if r.Name == routerName || strings.HasPrefix(r.Name, routerName+"@") {
				return r.Status != "disabled"
			}
		}
		return false
	})
}

// WaitForAbsence blocks until no router named routerName remains.
func (w *Waiter) WaitForAbsence(ctx context.Context, routeSpec, routerName string) error {
	return w.poll(ctx, routeSpec, func(routers []RouterInfo) bool {
		for _, r := range routers {
			if r.Name == routerName || strings.HasPrefix(r.Name, routerName+"@") {
				return false
			}
		}
		return true
	})
}

func (w *Waiter) poll(ctx context.Context, routeSpec string, satisfied func([]RouterInfo) bool) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	delay := 50 * time.Millisecond
	for {
		routers, err := w.client.Routers(ctx)
		if err == nil && satisfied(routers) {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctlerrors.New("adminapi.WaitForRouter", ctlerrors.RouteNotConverged, routeSpec, ctx.Err())
		case <-time.After(delay):
		}

		delay *= 2
		if delay > time.Second {
			delay = time.Second
		}
	}
}
