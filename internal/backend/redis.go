package backend

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	redis "github.com/go-redis/redis/v8"

	"github.com/jupyterhub/traefik-routing-controller/internal/ctlerrors"
)

// RedisBackend implements Backend over Redis, grounded on the teacher's
// internal/events.EventPublisher/EventSubscriber (same client construction
// from a URL, same pubsub-channel consumption loop), generalized from
// publishing JSON events to storing KV scalars.
//
// AtomicSet/AtomicDelete use a MULTI/EXEC pipeline for all-or-nothing
// semantics. GetTree uses SCAN with the prefix as MATCH. Watch subscribes
// to Redis keyspace notifications, which require `notify-keyspace-events`
// enabled on the server — if the server doesn't have it enabled the
// subscription simply never fires and callers fall back to polling.
type RedisBackend struct {
	client *redis.Client
	logger *slog.Logger

	retryMaxElapsed time.Duration
}

// RedisOptions configures connection and retry policy.
type RedisOptions struct {
	URL             string
	RetryMaxElapsed time.Duration
}

// NewRedisBackend parses url (falling back to treating it as a bare
// host:port, exactly as the teacher's events package does) and constructs
// a client. Durability across restarts requires the server to run with
// append-only persistence, per spec §4.3 — that is an operational
// requirement on the Redis deployment, not something this client enforces.
func NewRedisBackend(opts RedisOptions, logger *slog.Logger) *RedisBackend {
	var redisOpts *redis.Options
	if parsed, err := redis.ParseURL(opts.URL); err == nil {
		redisOpts = parsed
	} else {
		addr := opts.URL
		if cut, found := strings.CutPrefix(opts.URL, "redis://"); found {
			addr = cut
		}
		redisOpts = &redis.Options{Addr: addr}
	}

	maxElapsed := opts.RetryMaxElapsed
	if maxElapsed == 0 {
		maxElapsed = 30 * time.Second
	}

	return &RedisBackend{
		client:          redis.NewClient(redisOpts),
		logger:          logger,
		retryMaxElapsed: maxElapsed,
	}
}

func (r *RedisBackend) AtomicSet(ctx context.Context, kv map[string]string) error {
	op := func() error {
		pipe := r.client.TxPipeline()
		for k, v := range kv {
			pipe.Set(ctx, k, v, 0)
		}
		_, err := pipe.Exec(ctx)
		return err
	}
	if err := r.withRetry(ctx, op); err != nil {
		return ctlerrors.New("redis.AtomicSet", ctlerrors.BackendUnavailable, "", err)
	}
	return nil
}

// AtomicDelete deletes every key in keys along with everything nested under
// it, matching the subtree-delete semantics of the etcd, Consul, and file
// backends (callers always pass subtree roots — a router/service/middleware
// key or a JupyterHub index entry — never a single scalar leaf).
func (r *RedisBackend) AtomicDelete(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	op := func() error {
		matched, err := r.expandSubtrees(ctx, keys)
		if err != nil {
			return err
		}
		if len(matched) == 0 {
			return nil
		}
		pipe := r.client.TxPipeline()
		pipe.Del(ctx, matched...)
		_, err = pipe.Exec(ctx)
		return err
	}
	if err := r.withRetry(ctx, op); err != nil {
		return ctlerrors.New("redis.AtomicDelete", ctlerrors.BackendUnavailable, "", err)
	}
	return nil
}

// expandSubtrees resolves each of keys to the exact key (if it exists) plus
// every key nested under it (via SCAN MATCH "<key>/*"), so AtomicDelete can
// DEL the full set in one pass.
func (r *RedisBackend) expandSubtrees(ctx context.Context, keys []string) ([]string, error) {
	seen := map[string]bool{}
	var all []string
	add := func(k string) {
		if !seen[k] {
			seen[k] = true
			all = append(all, k)
		}
	}

	for _, k := range keys {
		exists, err := r.client.Exists(ctx, k).Result()
		if err != nil {
			return nil, err
		}
		if exists > 0 {
			add(k)
		}

		var cursor uint64
		pattern := k + "/*"
		for {
			matched, next, err := r.client.Scan(ctx, cursor, pattern, 100).Result()
			if err != nil {
				return nil, err
			}
			for _, m := range matched {
				add(m)
			}
			cursor = next
			if cursor == 0 {
				break
			}
		}
	}
	return all, nil
}

func (r *RedisBackend) GetTree(ctx context.Context, prefix string) (map[string]string, error) {
	out := map[string]string{}
	var cursor uint64
	pattern := prefix + "*"
	for {
		keys, next, err := r.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, ctlerrors.New("redis.GetTree", ctlerrors.BackendUnavailable, "", err)
		}
		for _, k := range keys {
			v, err := r.client.Get(ctx, k).Result()
			if err != nil && err != redis.Nil {
				return nil, ctlerrors.New("redis.GetTree", ctlerrors.BackendUnavailable, "", err)
			}
			if err == nil {
				out[k] = v
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return out, nil
}

func (r *RedisBackend) Close() error { return r.client.Close() }

// Watch subscribes to keyspace notifications for prefix, mirroring the
// teacher's EventSubscriber.Start pubsub-channel drain loop.
func (r *RedisBackend) Watch(ctx context.Context, prefix string) (<-chan ChangeEvent, error) {
	db := r.client.Options().DB
	channel := fmt.Sprintf("__keyspace@%d__:%s*", db, prefix)
	pubsub := r.client.PSubscribe(ctx, channel)

	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("redisbackend: subscribe %s: %w", channel, err)
	}

	out := make(chan ChangeEvent, 16)
	go func() {
		defer pubsub.Close()
		defer close(out)
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				key := strings.TrimPrefix(msg.Channel, fmt.Sprintf("__keyspace@%d__:", db))
				select {
				case out <- ChangeEvent{Key: key}:
				default:
				}
			}
		}
	}()
	return out, nil
}

// withRetry retries op with exponential backoff (starting at 50ms, capped
// at 1s between attempts) until it succeeds or retryMaxElapsed has passed.
func (r *RedisBackend) withRetry(ctx context.Context, op func() error) error {
	deadline := time.Now().Add(r.retryMaxElapsed)
	delay := 50 * time.Millisecond
	var lastErr error
	for {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("exceeded retry budget %s: %w", r.retryMaxElapsed, lastErr)
		}
		r.logger.Warn("redisbackend: retrying after error",
			slog.String("error", lastErr.Error()), slog.Duration("delay", delay))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > time.Second {
			delay = time.Second
		}
	}
}
