// Package backend implements the KV protocol of spec §4.3: atomic
// multi-key set/delete, recursive prefix reads, and optional change
// notifications, with four concrete implementations (file, Redis, etcd,
// Consul) behind one interface. Grounded on the teacher's
// internal/backends.Backend capability-set shape, generalized from
// container-instance CRUD to scalar KV operations.
package backend

import "context"

// Backend is the contract every persistence layer implements. All
// operations are suspendable (they take a context) per spec §5.
type Backend interface {
	// AtomicSet writes every key in kv, all-or-nothing. On failure no key
	// is modified.
	AtomicSet(ctx context.Context, kv map[string]string) error

	// AtomicDelete removes every key in keys together with every key
	// nested under it ("<key>/..."), all-or-nothing. Missing keys are not
	// an error.
	AtomicDelete(ctx context.Context, keys []string) error

	// GetTree returns a recursive snapshot of every key under prefix, as
	// it existed at some recent point in time.
	GetTree(ctx context.Context, prefix string) (map[string]string, error)

	// Close releases any held connections.
	Close() error
}

// ChangeEvent is one notification delivered by a Watchable backend.
type ChangeEvent struct {
	Key string
}

// Watchable is the optional capability a Backend may also implement. A
// Backend that does not implement it has no push notifications; callers
// fall back to polling, per spec §4.3.
type Watchable interface {
	Watch(ctx context.Context, prefix string) (<-chan ChangeEvent, error)
}
