// Package store persists documents and chunks in PostgreSQL through two
// independent connection pools: one read-only, one read-write. Transient
// database errors are retried with backoff; after retries are exhausted on
// a transport error both pools are closed and re-created.
package store

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/normatech/normrag/internal/config"
	"github.com/normatech/normrag/internal/errors"
)

// Manager owns the dual connection pools.
type Manager struct {
	cfg   config.DatabaseConfig
	retry errors.RetryConfig

	mu    sync.RWMutex
	read  *pgxpool.Pool
	write *pgxpool.Pool
}

// Open creates both pools and verifies connectivity.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*Manager, error) {
	m := &Manager{
		cfg: cfg,
		retry: errors.RetryConfig{
			MaxRetries: cfg.MaxRetries,
			BaseDelay:  cfg.BaseDelay,
			MaxDelay:   cfg.MaxDelay,
			Multiplier: 2.0,
		},
	}
	if err := m.initPools(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// initPools builds the read and write pools from configuration.
func (m *Manager) initPools(ctx context.Context) error {
	writeCfg, err := m.poolConfig(false)
	if err != nil {
		return err
	}
	readCfg, err := m.poolConfig(true)
	if err != nil {
		return err
	}

	write, err := pgxpool.NewWithConfig(ctx, writeCfg)
	if err != nil {
		return errors.Wrap(errors.KindFatal, "create write pool", err)
	}
	read, err := pgxpool.NewWithConfig(ctx, readCfg)
	if err != nil {
		write.Close()
		return errors.Wrap(errors.KindFatal, "create read pool", err)
	}

	m.mu.Lock()
	m.read, m.write = read, write
	m.mu.Unlock()
	return nil
}

// poolConfig parses the DSN and applies pool bounds. The read pool sets
// read-only transaction mode on every new connection.
func (m *Manager) poolConfig(readOnly bool) (*pgxpool.Config, error) {
	cfg, err := pgxpool.ParseConfig(m.cfg.DSN)
	if err != nil {
		return nil, errors.Wrap(errors.KindFatal, "parse database dsn", err)
	}
	cfg.MinConns = m.cfg.MinConnections
	cfg.MaxConns = m.cfg.MaxConnections
	if readOnly {
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			_, err := conn.Exec(ctx, "SET default_transaction_read_only = on")
			return err
		}
	}
	return cfg, nil
}

// Recreate closes both pools and re-initializes them. Called after
// exhausting retries on a fatal transport error.
func (m *Manager) Recreate(ctx context.Context) error {
	m.mu.Lock()
	if m.read != nil {
		m.read.Close()
	}
	if m.write != nil {
		m.write.Close()
	}
	m.read, m.write = nil, nil
	m.mu.Unlock()

	slog.Warn("db_pools_recreating")
	if err := m.initPools(ctx); err != nil {
		return err
	}
	slog.Info("db_pools_recreated")
	return nil
}

// Close releases both pools.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.read != nil {
		m.read.Close()
		m.read = nil
	}
	if m.write != nil {
		m.write.Close()
		m.write = nil
	}
}

func (m *Manager) readPool() *pgxpool.Pool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read
}

func (m *Manager) writePool() *pgxpool.Pool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.write
}

// withRead runs fn against the read pool with retry; withWrite against the
// write pool. On exhausted retries over a transport error the pools are
// recreated and the error escalates to Fatal.
func (m *Manager) withRead(ctx context.Context, op string, fn func(pool *pgxpool.Pool) error) error {
	return m.execute(ctx, op, m.readPool, fn)
}

func (m *Manager) withWrite(ctx context.Context, op string, fn func(pool *pgxpool.Pool) error) error {
	return m.execute(ctx, op, m.writePool, fn)
}

func (m *Manager) execute(ctx context.Context, op string, pool func() *pgxpool.Pool, fn func(pool *pgxpool.Pool) error) error {
	err := errors.Retry(ctx, m.retry, func() error {
		p := pool()
		if p == nil {
			return errors.New(errors.KindTransient, "pool not initialized")
		}
		if err := fn(p); err != nil {
			return Classify(op, err)
		}
		return nil
	})
	if err == nil {
		return nil
	}

	if errors.IsKind(err, errors.KindTransient) {
		if rerr := m.Recreate(ctx); rerr != nil {
			return errors.Wrap(errors.KindFatal, op+": pool recreation failed", rerr)
		}
		return errors.Wrap(errors.KindFatal, op+": retries exhausted, pools recreated", err)
	}
	return err
}

// Classify maps pgx errors onto the error taxonomy. Connection-level
// failures are Transient; constraint and schema violations are Corrupt
// (except the document_hash unique violation, which is the duplicate
// rejection); missing rows are NotFound.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505" && strings.Contains(pgErr.ConstraintName, "document_hash"):
			return errors.Wrap(errors.KindInputInvalid, op+": duplicate document hash", err).
				WithDetail("document_hash", pgErr.Detail)
		case pgErr.Code == "40001", pgErr.Code == "40P01": // serialization failure, deadlock
			return errors.Wrap(errors.KindTransient, op, err)
		case strings.HasPrefix(pgErr.Code, "08"), strings.HasPrefix(pgErr.Code, "57"):
			return errors.Wrap(errors.KindTransient, op, err)
		case strings.HasPrefix(pgErr.Code, "53"):
			return errors.Wrap(errors.KindOverload, op, err)
		default:
			return errors.Wrap(errors.KindCorrupt, op, err)
		}
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) || stderrors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(errors.KindTransient, op, err)
	}
	if isNoRows(err) {
		return errors.Wrap(errors.KindNotFound, op, err)
	}
	if pgconn.SafeToRetry(err) {
		return errors.Wrap(errors.KindTransient, op, err)
	}
	return errors.Wrap(errors.KindFatal, op, err)
}

// isNoRows reports the pgx no-rows sentinel.
func isNoRows(err error) bool {
	return stderrors.Is(err, pgx.ErrNoRows)
}
