// Package storage owns the backend connection pool and the statements run against topic tables.
// Every error leaving this package is a gRPC status classified once, here.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/doug-martin/goqu/v9"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/db2q/db2q/cfg"
)

// Options configures a Pool
type Options struct {
	Driver             string
	DSN                string
	Namespace          string
	PoolSize           int
	MaxIdle            int
	AcquireTimeout     time.Duration
	MaxIdleTime        time.Duration
	MaxLifetime        time.Duration
	StatementCacheSize int
}

// OptionsFromConfig builds Options from the global configuration
func OptionsFromConfig(c *cfg.Configuration) Options {
	return Options{
		Driver:             c.Backend.Driver,
		DSN:                c.Backend.DSN,
		Namespace:          c.Backend.Namespace,
		PoolSize:           c.ConnectionPool.PoolSize,
		MaxIdle:            c.ConnectionPool.MaxIdle,
		AcquireTimeout:     time.Duration(c.ConnectionPool.AcquireTimeoutMS) * time.Millisecond,
		MaxIdleTime:        time.Duration(c.ConnectionPool.MaxIdleTimeSeconds) * time.Second,
		MaxLifetime:        time.Duration(c.ConnectionPool.MaxLifetimeSeconds) * time.Second,
		StatementCacheSize: c.Backend.StatementCacheSize,
	}
}

// tableStatements holds the goqu datasets of one table.
// Datasets are immutable, so callers refine copies without locking.
type tableStatements struct {
	insert *goqu.InsertDataset
	count  *goqu.SelectDataset
	scan   *goqu.SelectDataset
	keys   *goqu.SelectDataset
}

// Pool hands out one dedicated backend connection per call
type Pool struct {
	db             *sql.DB
	dialect        Dialect
	namespace      string
	acquireTimeout time.Duration
	statements     *lru.Cache[string, *tableStatements]
	closed         atomic.Bool
}

// Open creates a pool. No connection is made until the first Acquire.
func Open(opts Options) (*Pool, error) {
	dialect, err := DialectFor(opts.Driver)
	if err != nil {
		return nil, err
	}
	if opts.PoolSize < 1 {
		return nil, fmt.Errorf("pool size must be >= 1")
	}
	if opts.AcquireTimeout <= 0 {
		return nil, fmt.Errorf("acquire timeout must be positive")
	}
	if opts.StatementCacheSize < 1 {
		opts.StatementCacheSize = 1024
	}

	db, err := sql.Open(dialect.DriverName(), opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s backend: %w", dialect.Name(), err)
	}
	db.SetMaxOpenConns(opts.PoolSize)
	db.SetMaxIdleConns(opts.MaxIdle)
	db.SetConnMaxIdleTime(opts.MaxIdleTime)
	db.SetConnMaxLifetime(opts.MaxLifetime)

	cache, err := lru.New[string, *tableStatements](opts.StatementCacheSize)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create statement cache: %w", err)
	}

	log.Info().
		Str("driver", dialect.Name()).
		Int("pool_size", opts.PoolSize).
		Dur("acquire_timeout", opts.AcquireTimeout).
		Msg("Backend pool opened")

	return &Pool{
		db:             db,
		dialect:        dialect,
		namespace:      opts.Namespace,
		acquireTimeout: opts.AcquireTimeout,
		statements:     cache,
	}, nil
}

// Dialect returns the backend dialect
func (p *Pool) Dialect() Dialect {
	return p.dialect
}

// Acquire obtains a connection for the duration of one call.
// The caller must Close the session.
func (p *Pool) Acquire(ctx context.Context) (*Session, error) {
	if p.closed.Load() {
		return nil, status.Error(codes.FailedPrecondition, msgPoolClosed)
	}

	actx, cancel := context.WithTimeout(ctx, p.acquireTimeout)
	defer cancel()

	conn, err := p.db.Conn(actx)
	if err != nil {
		return nil, p.classifyAcquire(ctx, err)
	}
	return &Session{pool: p, conn: conn}, nil
}

// Ping verifies the backend is reachable
func (p *Pool) Ping(ctx context.Context) error {
	s, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer s.Close()
	return p.classify(s.conn.PingContext(ctx))
}

// Stats exposes database/sql pool statistics
func (p *Pool) Stats() sql.DBStats {
	return p.db.Stats()
}

// Close closes the pool. Sessions already handed out fail on their next statement.
func (p *Pool) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	return p.db.Close()
}

// statementsFor returns the cached datasets of a table, building them on miss
func (p *Pool) statementsFor(table string) *tableStatements {
	if st, ok := p.statements.Get(table); ok {
		return st
	}

	b := p.dialect.Builder()
	ident := p.dialect.Table(p.namespace, table)
	key := goqu.C(KeyColumn)

	insert := b.Insert(ident).Prepared(true)
	if p.dialect.ReturnsKey() {
		insert = insert.Returning(key)
	}

	st := &tableStatements{
		insert: insert,
		count:  b.From(ident).Select(goqu.COUNT(goqu.Star())).Prepared(true),
		scan:   b.From(ident).Select(key, goqu.C(ValueColumn)).Order(key.Asc()).Limit(1).Prepared(true),
		keys:   b.From(ident).Select(key).Order(key.Asc()).Prepared(true),
	}
	p.statements.Add(table, st)
	return st
}
