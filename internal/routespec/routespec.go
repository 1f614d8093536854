// Package routespec implements the bijection between route specifications
// ("[host]/path/") and the percent-encoded key paths the backends store,
// per spec §4.1.
package routespec

import (
	"fmt"
	"net/url"
	"strings"
)

// unreserved is the set of bytes that pass through percent-encoding
// unescaped: [A-Za-z0-9._-].
func isUnreserved(b byte) bool {
	switch {
	case b >= 'A' && b <= 'Z', b >= 'a' && b <= 'z', b >= '0' && b <= '9':
		return true
	case b == '.' || b == '_' || b == '-':
		return true
	}
	return false
}

// Canonicalize normalizes spec so that "/prefix" and "/prefix/" compare
// equal, and the root "/" is its own canonical form.
func Canonicalize(spec string) (string, error) {
	if spec == "" || spec[0] != '/' {
		// A host-prefixed spec never starts with '/'; a host-less one
		// always does. Both are valid as long as the path portion,
		// wherever it begins, is present.
		if !strings.Contains(spec, "/") {
			return "", fmt.Errorf("routespec: invalid spec %q: missing path component", spec)
		}
	}
	if spec == "/" {
		return "/", nil
	}
	if !strings.HasSuffix(spec, "/") {
		spec += "/"
	}
	return spec, nil
}

// HasHost reports whether the canonical spec carries a host component
// (i.e. does not start with '/').
func HasHost(canonical string) bool {
	return canonical != "" && canonical[0] != '/'
}

// SplitHostPath splits a canonical spec into its host (possibly empty) and
// path (always starting with '/') components.
func SplitHostPath(canonical string) (host, path string) {
	if HasHost(canonical) {
		idx := strings.Index(canonical, "/")
		return canonical[:idx], canonical[idx:]
	}
	return "", canonical
}

// Encode maps a canonical spec to the payload appended after a backend's
// fixed key prefix. Every byte outside [A-Za-z0-9._-] is percent-encoded,
// including '/', so the result is safe as a single flat KV key even on
// stores (Consul, etcd) for which '/' is structural. The top-level
// separator between the caller's fixed prefix and this payload is a
// literal '/', added by the caller, not by Encode.
func Encode(canonical string) string {
	var b strings.Builder
	for i := 0; i < len(canonical); i++ {
		c := canonical[i]
		if isUnreserved(c) {
			b.WriteByte(c)
		} else {
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

// Decode inverts Encode, returning the canonical spec encoded in payload.
func Decode(payload string) (string, error) {
	// Percent-decoding is exactly what url.PathUnescape does for the
	// escape sequences Encode emits; Encode never leaves a literal '+'
	// in its output (it becomes %2B).
	decoded, err := url.PathUnescape(payload)
	if err != nil {
		return "", fmt.Errorf("routespec: invalid encoded payload %q: %w", payload, err)
	}
	return decoded, nil
}

// Validate reports whether spec is acceptable input to AddRoute: it must,
// after canonicalization, either start with '/' (host-less) or contain a
// '/' introducing the path portion (host-prefixed).
func Validate(spec string) error {
	_, err := Canonicalize(spec)
	return err
}

// IsDefault reports whether canonical is the default route "/".
func IsDefault(canonical string) bool {
	return canonical == "/"
}

// Priority derives the Traefik router priority for canonical per spec §6:
// it grows with spec length so longer, more specific routes win, and
// the default route "/" always has priority 1 (the lowest).
func Priority(canonical string) int {
	if IsDefault(canonical) {
		return 1
	}
	// Longer, more specific specs must outrank shorter ones; +1 keeps
	// every non-default route strictly above the default's priority 1.
	return len(canonical) + 1
}

// Rule derives the Traefik router rule expression for canonical, per
// spec §3: PathPrefix only when host-less, Host only when the path is
// root, Host && PathPrefix otherwise.
func Rule(canonical string) string {
	host, path := SplitHostPath(canonical)
	trimmedPath := strings.TrimSuffix(path, "/")

	switch {
	case host == "" && trimmedPath == "":
		return "PathPrefix(`/`)"
	case host == "":
		return fmt.Sprintf("PathPrefix(`%s`)", trimmedPath)
	case trimmedPath == "":
		return fmt.Sprintf("Host(`%s`)", host)
	default:
		return fmt.Sprintf("Host(`%s`) && PathPrefix(`%s`)", host, trimmedPath)
	}
}

// HasNonRootPath reports whether canonical's path component is anything
// other than "/" — used to decide whether a strip-prefix middleware is
// needed.
func HasNonRootPath(canonical string) bool {
	_, path := SplitHostPath(canonical)
	return path != "/"
}

// StripPrefix returns the path segment (no trailing slash) that a
// strip-prefix middleware should remove, or "" if none is needed.
func StripPrefix(canonical string) string {
	if !HasNonRootPath(canonical) {
		return ""
	}
	_, path := SplitHostPath(canonical)
	return strings.TrimSuffix(path, "/")
}
