// Package route defines the core entities of the routing table: Route,
// its canonical specification, and the Traefik primitives derived from it,
// per spec §3.
package route

import "github.com/jupyterhub/traefik-routing-controller/internal/routespec"

// Route is the tuple (routeSpec, targetURL, data) the controller manages.
// Data is caller-supplied and opaque; it must round-trip byte-preserving
// through persistence, so it is kept as a raw JSON-serializable map rather
// than a typed struct.
type Route struct {
	Spec   string         `json:"routespec"`
	Target string         `json:"target"`
	Data   map[string]any `json:"data"`
}

// IsDefault reports whether r is the default route ("/").
func (r Route) IsDefault() bool { return routespec.IsDefault(r.Spec) }

// RouterName derives the Traefik router name for a canonical spec: it is
// also the service name, and the middleware name with "_strip" appended.
func RouterName(canonicalSpec string) string {
	return "jupyterhub_" + routespec.Encode(canonicalSpec)
}

// ServiceName is identical to the router name, per spec §6.
func ServiceName(canonicalSpec string) string { return RouterName(canonicalSpec) }

// MiddlewareName is the router name suffixed "_strip", used only when the
// spec has a non-root path.
func MiddlewareName(canonicalSpec string) string { return RouterName(canonicalSpec) + "_strip" }
