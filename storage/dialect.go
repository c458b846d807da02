package storage

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/mysql"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/mattn/go-sqlite3"

	"github.com/db2q/db2q/cfg"
)

// Column names of every topic table
const (
	KeyColumn   = "key"
	ValueColumn = "val"
)

// Dialect captures what differs between backends
type Dialect interface {
	// Name is the backend name from configuration
	Name() string
	// DriverName is the database/sql driver to open
	DriverName() string
	// Builder returns the goqu dialect used for DML
	Builder() goqu.DialectWrapper
	// Table returns the possibly schema-qualified identifier of a table
	Table(namespace, table string) exp.IdentifierExpression
	// CreateTableSQL returns DDL creating an empty topic table
	CreateTableSQL(namespace, table string) string
	// DropTableSQL returns DDL dropping a topic table if it exists
	DropTableSQL(namespace, table string) string
	// ListTablesSQL returns a query yielding table names and its arguments
	ListTablesSQL(namespace string) (string, []interface{})
	// ReturnsKey reports whether INSERT ... RETURNING yields the new key
	ReturnsKey() bool
	// IsDisconnect reports whether err means the connection is unusable
	IsDisconnect(err error) bool
}

// DialectFor returns the dialect for a configured driver name
func DialectFor(name string) (Dialect, error) {
	switch name {
	case cfg.DriverSQLite:
		return sqliteDialect{}, nil
	case cfg.DriverPostgres:
		return postgresDialect{}, nil
	case cfg.DriverMySQL:
		return mysqlDialect{}, nil
	}
	return nil, fmt.Errorf("unsupported backend driver: %q", name)
}

// isGenericDisconnect covers failures every driver reports the same way
func isGenericDisconnect(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func quoteWith(q string, parts ...string) string {
	quoted := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		quoted = append(quoted, q+strings.ReplaceAll(p, q, q+q)+q)
	}
	return strings.Join(quoted, ".")
}

type postgresDialect struct{}

func (postgresDialect) Name() string                 { return cfg.DriverPostgres }
func (postgresDialect) DriverName() string           { return "pgx" }
func (postgresDialect) Builder() goqu.DialectWrapper { return goqu.Dialect("postgres") }
func (postgresDialect) ReturnsKey() bool             { return true }

func (postgresDialect) Table(namespace, table string) exp.IdentifierExpression {
	if namespace == "" {
		return goqu.T(table)
	}
	return goqu.S(namespace).Table(table)
}

func (postgresDialect) CreateTableSQL(namespace, table string) string {
	return fmt.Sprintf(`CREATE TABLE %s ("key" BIGSERIAL PRIMARY KEY, "val" BYTEA NOT NULL)`, quoteWith(`"`, namespace, table))
}

func (postgresDialect) DropTableSQL(namespace, table string) string {
	return fmt.Sprintf(`DROP TABLE IF EXISTS %s`, quoteWith(`"`, namespace, table))
}

func (postgresDialect) ListTablesSQL(namespace string) (string, []interface{}) {
	if namespace == "" {
		namespace = "public"
	}
	return `SELECT table_name FROM information_schema.tables WHERE table_schema = $1 AND table_type = 'BASE TABLE' ORDER BY table_name`,
		[]interface{}{namespace}
}

func (postgresDialect) IsDisconnect(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08: connection exception; 57P01..57P03: server shutting down
		return strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "57P0")
	}
	if pgconn.SafeToRetry(err) {
		return true
	}
	return isGenericDisconnect(err)
}

type mysqlDialect struct{}

func (mysqlDialect) Name() string                 { return cfg.DriverMySQL }
func (mysqlDialect) DriverName() string           { return "mysql" }
func (mysqlDialect) Builder() goqu.DialectWrapper { return goqu.Dialect("mysql") }
func (mysqlDialect) ReturnsKey() bool             { return false }

func (mysqlDialect) Table(namespace, table string) exp.IdentifierExpression {
	if namespace == "" {
		return goqu.T(table)
	}
	return goqu.S(namespace).Table(table)
}

func (mysqlDialect) CreateTableSQL(namespace, table string) string {
	return fmt.Sprintf("CREATE TABLE %s (`key` BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY, `val` LONGBLOB NOT NULL)", quoteWith("`", namespace, table))
}

func (mysqlDialect) DropTableSQL(namespace, table string) string {
	return fmt.Sprintf("DROP TABLE IF EXISTS %s", quoteWith("`", namespace, table))
}

func (mysqlDialect) ListTablesSQL(namespace string) (string, []interface{}) {
	return "SELECT table_name FROM information_schema.tables WHERE table_schema = COALESCE(NULLIF(?, ''), DATABASE()) AND table_type = 'BASE TABLE' ORDER BY table_name",
		[]interface{}{namespace}
}

func (mysqlDialect) IsDisconnect(err error) bool {
	if errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		// ER_SERVER_SHUTDOWN, ER_CON_COUNT_ERROR
		return myErr.Number == 1053 || myErr.Number == 1040
	}
	return isGenericDisconnect(err)
}

type sqliteDialect struct{}

func (sqliteDialect) Name() string                 { return cfg.DriverSQLite }
func (sqliteDialect) DriverName() string           { return SQLiteDriverName }
func (sqliteDialect) Builder() goqu.DialectWrapper { return goqu.Dialect("sqlite3") }
func (sqliteDialect) ReturnsKey() bool             { return false }

// Table ignores the namespace: topic tables live in the main database
func (sqliteDialect) Table(_, table string) exp.IdentifierExpression {
	return goqu.T(table)
}

func (sqliteDialect) CreateTableSQL(_, table string) string {
	return fmt.Sprintf(`CREATE TABLE %s ("key" INTEGER PRIMARY KEY AUTOINCREMENT, "val" BLOB NOT NULL)`, quoteWith(`"`, table))
}

func (sqliteDialect) DropTableSQL(_, table string) string {
	return fmt.Sprintf(`DROP TABLE IF EXISTS %s`, quoteWith(`"`, table))
}

func (sqliteDialect) ListTablesSQL(string) (string, []interface{}) {
	return `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite\_%' ESCAPE '\' ORDER BY name`, nil
}

func (sqliteDialect) IsDisconnect(err error) bool {
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrIoErr || liteErr.Code == sqlite3.ErrCantOpen || liteErr.Code == sqlite3.ErrNotADB
	}
	return isGenericDisconnect(err)
}
