// Package audit records every routing-table mutation to Postgres when
// enabled, grounded on the connection-setup shape of the teacher's
// internal/secrets.NewDatabaseSecretResolver (same pgx stdlib driver,
// same connect-and-ping-on-construction pattern) generalized from
// reading secrets to appending an audit trail.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Sink records route mutations. A nil *Sink is valid and Record becomes
// a no-op, so callers don't need to branch on whether auditing is
// enabled.
type Sink struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Entry is one audited mutation.
type Entry struct {
	Operation string // add_route | delete_route
	RouteSpec string
	Target    string
	Actor     string
}

// New connects to dsn and ensures the audit table exists. Pass an
// empty dsn to get a nil, no-op Sink.
func New(ctx context.Context, dsn string, logger *slog.Logger) (*Sink, error) {
	if dsn == "" {
		return nil, nil
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: connect: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("audit: ping: %w", err)
	}

	const schema = `
CREATE TABLE IF NOT EXISTS route_audit_log (
	id          BIGSERIAL PRIMARY KEY,
	operation   TEXT NOT NULL,
	route_spec  TEXT NOT NULL,
	target      TEXT NOT NULL DEFAULT '',
	actor       TEXT NOT NULL DEFAULT '',
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("audit: create table: %w", err)
	}

	logger.Info("audit sink connected")
	return &Sink{pool: pool, logger: logger}, nil
}

// Record appends entry to the audit log. Failures are logged, not
// returned, since a broken audit trail must never block a route
// mutation that otherwise succeeded.
func (s *Sink) Record(ctx context.Context, e Entry) {
	if s == nil {
		return
	}
	const stmt = `INSERT INTO route_audit_log (operation, route_spec, target, actor) VALUES ($1, $2, $3, $4)`
	if _, err := s.pool.Exec(ctx, stmt, e.Operation, e.RouteSpec, e.Target, e.Actor); err != nil {
		s.logger.Warn("audit: failed to record entry",
			slog.String("operation", e.Operation),
			slog.String("route_spec", e.RouteSpec),
			slog.String("error", err.Error()))
	}
}

// Close releases the underlying connection pool.
func (s *Sink) Close() {
	if s == nil {
		return
	}
	s.pool.Close()
}
