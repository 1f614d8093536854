package document

import (
	"github.com/jupyterhub/traefik-routing-controller/internal/route"
	"github.com/jupyterhub/traefik-routing-controller/internal/routespec"
)

// EntryPoint is the Traefik entry point a router is attached to for
// traffic the controller manages.
const EntryPoint = "http"

// RenderAdd produces the minimal atomic change to the Traefik projection
// for adding or replacing r, per spec §4.2: one router, one service, and a
// strip-prefix middleware iff the spec has a non-root path. Any
// middleware key is explicitly deleted when not needed, so a replacement
// that drops a path prefix cleans up the orphaned middleware from the
// previous add (invariant 5).
func RenderAdd(r route.Route) (set map[string]string, del []string) {
	canonical := r.Spec
	name := route.RouterName(canonical)

	doc := Document{
		"http": map[string]any{
			"routers": map[string]any{
				name: routerFields(canonical, name),
			},
			"services": map[string]any{
				name: map[string]any{
					"loadBalancer": map[string]any{
						"servers": []any{
							map[string]any{"url": r.Target},
						},
					},
				},
			},
		},
	}

	middlewareName := route.MiddlewareName(canonical)
	if routespec.HasNonRootPath(canonical) {
		httpSection := doc["http"].(map[string]any)
		httpSection["middlewares"] = map[string]any{
			middlewareName: map[string]any{
				"stripPrefix": map[string]any{
					"prefixes": []any{routespec.StripPrefix(canonical)},
				},
			},
		}
		// The router must reference the middleware it owns.
		routers := httpSection["routers"].(map[string]any)
		router := routers[name].(map[string]any)
		router["middlewares"] = []any{middlewareName}
	}

	set = FlattenToStrings(doc)
	if !routespec.HasNonRootPath(canonical) {
		// No middleware wanted for this add. Delete any middleware left
		// behind by a previous add of the same spec that did have a path
		// (invariant 5: no orphan from the prior value survives).
		del = []string{
			"http/middlewares/" + middlewareName,
			"http/routers/" + name + "/middlewares",
		}
	}
	return set, del
}

func routerFields(canonical, name string) map[string]any {
	return map[string]any{
		"rule":        routespec.Rule(canonical),
		"service":     name,
		"priority":    routespec.Priority(canonical),
		"entryPoints": []any{EntryPoint},
	}
}

// RenderDelete enumerates every key belonging to canonical's route — router,
// service, and middleware — without reading the backend, since the key set
// is a pure function of the spec (spec §4.6). Missing keys are not an
// error for atomic_delete.
func RenderDelete(canonical string) []string {
	name := route.RouterName(canonical)
	middlewareName := route.MiddlewareName(canonical)
	return []string{
		"http/routers/" + name,
		"http/services/" + name,
		"http/middlewares/" + middlewareName,
	}
}

// ProjectFromIndex rebuilds the full Traefik dynamic-configuration document
// from a set of routes (as held in the JupyterHub index sub-tree). Neither
// the file backend nor Controller.Start calls it.
func ProjectFromIndex(routes []route.Route) Document {
	routers := map[string]any{}
	services := map[string]any{}
	middlewares := map[string]any{}

	for _, r := range routes {
		canonical := r.Spec
		name := route.RouterName(canonical)
		fields := routerFields(canonical, name)
		routers[name] = fields

		services[name] = map[string]any{
			"loadBalancer": map[string]any{
				"servers": []any{
					map[string]any{"url": r.Target},
				},
			},
		}

		if routespec.HasNonRootPath(canonical) {
			middlewareName := route.MiddlewareName(canonical)
			middlewares[middlewareName] = map[string]any{
				"stripPrefix": map[string]any{
					"prefixes": []any{routespec.StripPrefix(canonical)},
				},
			}
			fields["middlewares"] = []any{middlewareName}
		}
	}

	http := map[string]any{
		"routers":  routers,
		"services": services,
	}
	if len(middlewares) > 0 {
		http["middlewares"] = middlewares
	}
	return Document{"http": http}
}
