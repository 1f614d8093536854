// Package ctlerrors defines the typed error taxonomy surfaced across the
// controller's public API. Internal causes (connection resets, backend
// 5xx) are wrapped with %w so callers can still inspect them, but every
// error that crosses the routingtable.Controller boundary carries a Kind.
package ctlerrors

import (
	"errors"
	"fmt"
)

// Kind identifies one of the terminal failure categories the programmatic
// API may surface, per spec §7.
type Kind string

const (
	InvalidRouteSpec  Kind = "invalid_route_spec"
	BackendUnavailable Kind = "backend_unavailable"
	StartupFailed     Kind = "startup_failed"
	RouteNotConverged Kind = "route_not_converged"
	PartialWrite      Kind = "partial_write"
	NotFound          Kind = "not_found"
)

// Error wraps a Kind with an underlying cause and free-form context.
type Error struct {
	Kind    Kind
	RouteSpec string
	Op      string
	Err     error
}

func (e *Error) Error() string {
	if e.RouteSpec != "" {
		return fmt.Sprintf("%s: %s (spec=%q): %v", e.Op, e.Kind, e.RouteSpec, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a typed error for op failing with kind because of cause.
func New(op string, kind Kind, spec string, cause error) *Error {
	return &Error{Kind: kind, RouteSpec: spec, Op: op, Err: cause}
}

// Is makes errors.Is(err, &ctlerrors.Error{Kind: k}) report true for any
// *Error of Kind k in err's chain; callers typically use KindOf instead.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// KindOf extracts the Kind from err, or "" if err is not (or does not wrap)
// a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
