package backend

import (
	"context"
	"fmt"

	consulapi "github.com/hashicorp/consul/api"

	"github.com/jupyterhub/traefik-routing-controller/internal/ctlerrors"
)

// consulTxnMaxOps is Consul's hard cap on operations per KV transaction.
const consulTxnMaxOps = 64

// ConsulBackend implements Backend over Consul's KV store. Deprecated:
// newer deployments should prefer Redis, per spec §9. Chunks large
// mutations into groups of at most consulTxnMaxOps and, if a chunk fails
// partway through, best-effort-rolls-back the chunks that already
// committed by reissuing deletes for the keys they touched — this cannot
// be made fully atomic across chunks, so a partial failure is reported to
// the caller as ctlerrors.PartialWrite rather than silently swallowed.
//
// Grounded on the resource-batching shape of the teacher's
// internal/backends.KubernetesResources helpers, generalized from
// batching Kubernetes object applies to batching Consul txn ops.
//
// Deprecated: prefer RedisBackend for new deployments.
type ConsulBackend struct {
	client *consulapi.Client
}

// ConsulOptions configures the underlying client.
type ConsulOptions struct {
	Address string
	Token   string
}

// NewConsulBackend constructs a ConsulBackend.
func NewConsulBackend(opts ConsulOptions) (*ConsulBackend, error) {
	cfg := consulapi.DefaultConfig()
	if opts.Address != "" {
		cfg.Address = opts.Address
	}
	if opts.Token != "" {
		cfg.Token = opts.Token
	}
	client, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("consulbackend: new client: %w", err)
	}
	return &ConsulBackend{client: client}, nil
}

func chunk[T any](items []T, size int) [][]T {
	var chunks [][]T
	for size < len(items) {
		items, chunks = items[size:], append(chunks, items[0:size:size])
	}
	return append(chunks, items)
}

func (c *ConsulBackend) AtomicSet(ctx context.Context, kv map[string]string) error {
	if len(kv) == 0 {
		return nil
	}
	var ops consulapi.KVTxnOps
	for k, v := range kv {
		ops = append(ops, &consulapi.KVTxnOp{
			Verb:  consulapi.KVSet,
			Key:   k,
			Value: []byte(v),
		})
	}
	return c.runChunkedWithRollback(ctx, ops, "consul.AtomicSet")
}

func (c *ConsulBackend) AtomicDelete(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	var ops consulapi.KVTxnOps
	for _, k := range keys {
		ops = append(ops, &consulapi.KVTxnOp{
			Verb: consulapi.KVDeleteTree,
			Key:  k,
		})
	}
	return c.runChunkedWithRollback(ctx, ops, "consul.AtomicDelete")
}

// runChunkedWithRollback commits ops in groups of at most
// consulTxnMaxOps. If a chunk fails, it reissues deletes for the keys
// touched by every chunk that already committed, then surfaces
// ctlerrors.PartialWrite — the rollback is best-effort, not transactional,
// because Consul has no cross-transaction isolation to rely on.
func (c *ConsulBackend) runChunkedWithRollback(ctx context.Context, ops consulapi.KVTxnOps, op string) error {
	chunks := chunk(ops, consulTxnMaxOps)
	var committedKeys []string

	for _, group := range chunks {
		_, resp, _, err := c.client.KV().Txn(group, (&consulapi.QueryOptions{}).WithContext(ctx))
		if err != nil {
			c.rollback(ctx, committedKeys)
			kind := ctlerrors.BackendUnavailable
			if len(committedKeys) > 0 {
				kind = ctlerrors.PartialWrite
			}
			return ctlerrors.New(op, kind, "", err)
		}
		if len(resp.Errors) > 0 {
			c.rollback(ctx, committedKeys)
			return ctlerrors.New(op, ctlerrors.PartialWrite, "",
				fmt.Errorf("consul transaction chunk failed: %v", resp.Errors))
		}
		for _, o := range group {
			committedKeys = append(committedKeys, o.Key)
		}
	}
	return nil
}

func (c *ConsulBackend) rollback(ctx context.Context, keys []string) {
	if len(keys) == 0 {
		return
	}
	var ops consulapi.KVTxnOps
	for _, k := range keys {
		ops = append(ops, &consulapi.KVTxnOp{Verb: consulapi.KVDelete, Key: k})
	}
	for _, group := range chunk(ops, consulTxnMaxOps) {
		_, _, _, _ = c.client.KV().Txn(group, (&consulapi.QueryOptions{}).WithContext(ctx))
	}
}

func (c *ConsulBackend) GetTree(ctx context.Context, prefix string) (map[string]string, error) {
	pairs, _, err := c.client.KV().List(prefix, (&consulapi.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, ctlerrors.New("consul.GetTree", ctlerrors.BackendUnavailable, "", err)
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		out[p.Key] = string(p.Value)
	}
	return out, nil
}

func (c *ConsulBackend) Close() error { return nil }
