package backend

import (
	"context"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/jupyterhub/traefik-routing-controller/internal/ctlerrors"
)

// EtcdBackend implements Backend over etcd v3, grounded on the
// transactional CRUD shape of the teacher's
// internal/backends.KubernetesBackend (Create/Update/Delete issued
// against an API that itself enforces atomicity) — here the API is a
// single clientv3.Txn instead of the Kubernetes apiserver.
type EtcdBackend struct {
	client *clientv3.Client
}

// EtcdOptions configures the underlying client.
type EtcdOptions struct {
	Endpoints   []string
	DialTimeout time.Duration
	Username    string
	Password    string
}

// NewEtcdBackend dials endpoints and returns a ready EtcdBackend.
func NewEtcdBackend(opts EtcdOptions) (*EtcdBackend, error) {
	dialTimeout := opts.DialTimeout
	if dialTimeout == 0 {
		dialTimeout = 5 * time.Second
	}
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   opts.Endpoints,
		DialTimeout: dialTimeout,
		Username:    opts.Username,
		Password:    opts.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("etcdbackend: dial %v: %w", opts.Endpoints, err)
	}
	return &EtcdBackend{client: cli}, nil
}

func (e *EtcdBackend) AtomicSet(ctx context.Context, kv map[string]string) error {
	if len(kv) == 0 {
		return nil
	}
	txn := e.client.Txn(ctx)
	var ops []clientv3.Op
	for k, v := range kv {
		ops = append(ops, clientv3.OpPut(k, v))
	}
	resp, err := txn.Then(ops...).Commit()
	if err != nil {
		return ctlerrors.New("etcd.AtomicSet", ctlerrors.BackendUnavailable, "", err)
	}
	if !resp.Succeeded {
		return ctlerrors.New("etcd.AtomicSet", ctlerrors.BackendUnavailable, "", fmt.Errorf("transaction did not succeed"))
	}
	return nil
}

func (e *EtcdBackend) AtomicDelete(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	txn := e.client.Txn(ctx)
	var ops []clientv3.Op
	for _, k := range keys {
		// Delete both the exact key and anything nested under it as a
		// prefix, since a route's middleware subtree may have children.
		ops = append(ops, clientv3.OpDelete(k))
		ops = append(ops, clientv3.OpDelete(k+"/", clientv3.WithPrefix()))
	}
	resp, err := txn.Then(ops...).Commit()
	if err != nil {
		return ctlerrors.New("etcd.AtomicDelete", ctlerrors.BackendUnavailable, "", err)
	}
	if !resp.Succeeded {
		return ctlerrors.New("etcd.AtomicDelete", ctlerrors.BackendUnavailable, "", fmt.Errorf("transaction did not succeed"))
	}
	return nil
}

func (e *EtcdBackend) GetTree(ctx context.Context, prefix string) (map[string]string, error) {
	resp, err := e.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, ctlerrors.New("etcd.GetTree", ctlerrors.BackendUnavailable, "", err)
	}
	out := make(map[string]string, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		out[string(kv.Key)] = string(kv.Value)
	}
	return out, nil
}

func (e *EtcdBackend) Close() error { return e.client.Close() }

// Watch streams etcd's native prefix watch, translated into ChangeEvents.
func (e *EtcdBackend) Watch(ctx context.Context, prefix string) (<-chan ChangeEvent, error) {
	out := make(chan ChangeEvent, 16)
	watchCh := e.client.Watch(ctx, prefix, clientv3.WithPrefix())
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case resp, ok := <-watchCh:
				if !ok {
					return
				}
				for _, ev := range resp.Events {
					select {
					case out <- ChangeEvent{Key: string(ev.Kv.Key)}:
					default:
					}
				}
			}
		}
	}()
	return out, nil
}
