package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Record is one stored queue item
type Record struct {
	Key   int64
	Value []byte
}

// Session is a dedicated backend connection used by a single call.
// Not safe for concurrent use.
type Session struct {
	pool *Pool
	conn *sql.Conn
}

// Close returns the connection to the pool
func (s *Session) Close() error {
	return s.conn.Close()
}

// Append inserts one value and returns its backend-assigned key
func (s *Session) Append(ctx context.Context, table string, value []byte) (int64, error) {
	if value == nil {
		value = []byte{}
	}
	query, args, err := s.pool.statementsFor(table).insert.
		Rows(goqu.Record{ValueColumn: value}).
		ToSQL()
	if err != nil {
		return 0, status.Errorf(codes.Internal, "failed to build insert: %v", err)
	}

	if s.pool.dialect.ReturnsKey() {
		var key int64
		if err := s.conn.QueryRowContext(ctx, query, args...).Scan(&key); err != nil {
			return 0, s.pool.classify(err)
		}
		return key, nil
	}

	res, err := s.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, s.pool.classify(err)
	}
	key, err := res.LastInsertId()
	if err != nil {
		return 0, s.pool.classify(err)
	}
	return key, nil
}

// Count returns the number of records in a table
func (s *Session) Count(ctx context.Context, table string) (uint64, error) {
	query, args, err := s.pool.statementsFor(table).count.ToSQL()
	if err != nil {
		return 0, status.Errorf(codes.Internal, "failed to build count: %v", err)
	}

	var n int64
	if err := s.conn.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, s.pool.classify(err)
	}
	return uint64(n), nil
}

// First returns the record with the smallest key.
// An empty table yields NotFound "Empty queue".
func (s *Session) First(ctx context.Context, table string) (Record, error) {
	query, args, err := s.pool.statementsFor(table).scan.ToSQL()
	if err != nil {
		return Record{}, status.Errorf(codes.Internal, "failed to build select: %v", err)
	}
	rec, err := s.scanOne(ctx, query, args)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, status.Error(codes.NotFound, "Empty queue")
	}
	return rec, err
}

// After returns the record with the smallest key strictly greater than previous.
// No such record yields NotFound naming the previous key.
func (s *Session) After(ctx context.Context, table string, previous int64) (Record, error) {
	query, args, err := s.pool.statementsFor(table).scan.
		Where(goqu.C(KeyColumn).Gt(previous)).
		ToSQL()
	if err != nil {
		return Record{}, status.Errorf(codes.Internal, "failed to build select: %v", err)
	}
	rec, err := s.scanOne(ctx, query, args)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, status.Errorf(codes.NotFound, "No more queue items. previous key: %d", previous)
	}
	return rec, err
}

// scanOne returns sql.ErrNoRows unclassified so callers can choose the message
func (s *Session) scanOne(ctx context.Context, query string, args []interface{}) (Record, error) {
	var rec Record
	err := s.conn.QueryRowContext(ctx, query, args...).Scan(&rec.Key, &rec.Value)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, err
	}
	if err != nil {
		return Record{}, s.pool.classify(err)
	}
	if rec.Value == nil {
		rec.Value = []byte{}
	}
	return rec, nil
}

// Keys opens a cursor over at most limit keys in ascending order.
// The cursor borrows the session connection until closed.
func (s *Session) Keys(ctx context.Context, table string, limit uint64) (*KeyCursor, error) {
	if limit == 0 {
		return &KeyCursor{}, nil
	}
	query, args, err := s.pool.statementsFor(table).keys.
		Limit(uint(limit)).
		ToSQL()
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to build select: %v", err)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.pool.classify(err)
	}
	return &KeyCursor{pool: s.pool, rows: rows}, nil
}

// CreateTable creates an empty topic table.
// Creating an existing table fails with the backend's error.
func (s *Session) CreateTable(ctx context.Context, table string) error {
	_, err := s.conn.ExecContext(ctx, s.pool.dialect.CreateTableSQL(s.pool.namespace, table))
	return s.pool.classify(err)
}

// DropTable removes a topic table; a missing table is not an error
func (s *Session) DropTable(ctx context.Context, table string) error {
	_, err := s.conn.ExecContext(ctx, s.pool.dialect.DropTableSQL(s.pool.namespace, table))
	if err == nil {
		s.pool.statements.Remove(table)
	}
	return s.pool.classify(err)
}

// ListTables returns every table name in the configured namespace
func (s *Session) ListTables(ctx context.Context) ([]string, error) {
	query, args := s.pool.dialect.ListTablesSQL(s.pool.namespace)
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.pool.classify(err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, s.pool.classify(err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, s.pool.classify(err)
	}
	return names, nil
}

// KeyCursor iterates keys produced by Session.Keys
type KeyCursor struct {
	pool *Pool
	rows *sql.Rows
}

// Next returns the next key; ok is false once the cursor is exhausted
func (c *KeyCursor) Next() (key int64, ok bool, err error) {
	if c.rows == nil {
		return 0, false, nil
	}
	if !c.rows.Next() {
		if err := c.rows.Err(); err != nil {
			return 0, false, c.pool.classify(err)
		}
		return 0, false, nil
	}
	if err := c.rows.Scan(&key); err != nil {
		return 0, false, c.pool.classify(fmt.Errorf("scan key: %w", err))
	}
	return key, true, nil
}

// Close releases the result set
func (c *KeyCursor) Close() error {
	if c.rows == nil {
		return nil
	}
	return c.rows.Close()
}
