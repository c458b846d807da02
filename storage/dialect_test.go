package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestDialectFor(t *testing.T) {
	for _, name := range []string{"sqlite3", "postgres", "mysql"} {
		d, err := DialectFor(name)
		require.NoError(t, err)
		assert.Equal(t, name, d.Name())
	}
	_, err := DialectFor("oracle")
	assert.Error(t, err)
}

func TestDialect_DDL(t *testing.T) {
	pg := postgresDialect{}
	assert.Equal(t, `CREATE TABLE "t1" ("key" BIGSERIAL PRIMARY KEY, "val" BYTEA NOT NULL)`, pg.CreateTableSQL("", "t1"))
	assert.Equal(t, `DROP TABLE IF EXISTS "queues"."t1"`, pg.DropTableSQL("queues", "t1"))

	my := mysqlDialect{}
	assert.Equal(t, "CREATE TABLE `t1` (`key` BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY, `val` LONGBLOB NOT NULL)", my.CreateTableSQL("", "t1"))

	lite := sqliteDialect{}
	assert.Equal(t, `DROP TABLE IF EXISTS "t1"`, lite.DropTableSQL("ignored", "t1"))
}

func TestDialect_TableIdentifiers(t *testing.T) {
	pg := postgresDialect{}
	query, _, err := pg.Builder().From(pg.Table("queues", "t1")).Select(goqu.C(KeyColumn)).ToSQL()
	require.NoError(t, err)
	assert.Equal(t, `SELECT "key" FROM "queues"."t1"`, query)

	query, _, err = pg.Builder().From(pg.Table("", "t1")).Select(goqu.C(KeyColumn)).ToSQL()
	require.NoError(t, err)
	assert.Equal(t, `SELECT "key" FROM "t1"`, query)

	my := mysqlDialect{}
	query, _, err = my.Builder().From(my.Table("db2q", "t1")).Select(goqu.C(KeyColumn)).ToSQL()
	require.NoError(t, err)
	assert.Equal(t, "SELECT `key` FROM `db2q`.`t1`", query)

	lite := sqliteDialect{}
	query, _, err = lite.Builder().From(lite.Table("ignored", "t1")).Select(goqu.C(KeyColumn)).ToSQL()
	require.NoError(t, err)
	assert.Contains(t, query, "t1")
	assert.NotContains(t, query, "ignored")
}

func TestDialect_ListDefaultsToPublicSchema(t *testing.T) {
	_, args := postgresDialect{}.ListTablesSQL("")
	assert.Equal(t, []interface{}{"public"}, args)

	_, args = postgresDialect{}.ListTablesSQL("queues")
	assert.Equal(t, []interface{}{"queues"}, args)
}

func TestDialect_IsDisconnect(t *testing.T) {
	tests := []struct {
		name    string
		dialect Dialect
		err     error
		want    bool
	}{
		{"bad conn", sqliteDialect{}, driver.ErrBadConn, true},
		{"wrapped bad conn", mysqlDialect{}, fmt.Errorf("exec: %w", driver.ErrBadConn), true},
		{"deadline is not a disconnect", postgresDialect{}, context.DeadlineExceeded, false},
		{"pg class 08", postgresDialect{}, &pgconn.PgError{Code: "08006"}, true},
		{"pg shutdown", postgresDialect{}, &pgconn.PgError{Code: "57P01"}, true},
		{"pg unique violation", postgresDialect{}, &pgconn.PgError{Code: "23505"}, false},
		{"mysql invalid conn", mysqlDialect{}, mysql.ErrInvalidConn, true},
		{"mysql syntax", mysqlDialect{}, &mysql.MySQLError{Number: 1064}, false},
		{"sqlite io", sqliteDialect{}, sqlite3.Error{Code: sqlite3.ErrIoErr}, true},
		{"sqlite constraint", sqliteDialect{}, sqlite3.Error{Code: sqlite3.ErrConstraint}, false},
		{"plain", sqliteDialect{}, errors.New("boom"), false},
	}

	for _, tt := range tests {
		assert.Equalf(t, tt.want, tt.dialect.IsDisconnect(tt.err), tt.name)
	}
}

func TestPool_Classify(t *testing.T) {
	p := &Pool{dialect: sqliteDialect{}}

	assert.NoError(t, p.classify(nil))
	assert.Equal(t, codes.Unavailable, status.Code(p.classify(sql.ErrConnDone)))
	assert.Equal(t, codes.Unavailable, status.Code(p.classify(driver.ErrBadConn)))
	assert.Equal(t, codes.NotFound, status.Code(p.classify(sql.ErrNoRows)))
	assert.Equal(t, codes.Internal, status.Code(p.classify(errors.New("syntax error"))))

	already := status.Error(codes.NotFound, "Empty queue")
	assert.Equal(t, already, p.classify(already))
}

func TestPool_ClassifyAcquire(t *testing.T) {
	p := &Pool{dialect: postgresDialect{}}
	bg := context.Background()

	assert.Equal(t, codes.Unavailable, status.Code(p.classifyAcquire(bg, context.DeadlineExceeded)))
	assert.Equal(t, codes.Unavailable, status.Code(p.classifyAcquire(bg, &pgconn.PgError{Code: "08001"})))
	assert.Equal(t, codes.Internal, status.Code(p.classifyAcquire(bg, errors.New("auth failed"))))

	cancelled, cancel := context.WithCancel(bg)
	cancel()
	assert.Equal(t, codes.Canceled, status.Code(p.classifyAcquire(cancelled, context.Canceled)))

	expired, cancelExpired := context.WithDeadline(bg, time.Now().Add(-time.Second))
	defer cancelExpired()
	assert.Equal(t, codes.DeadlineExceeded, status.Code(p.classifyAcquire(expired, context.DeadlineExceeded)))

	p.closed.Store(true)
	assert.Equal(t, codes.FailedPrecondition, status.Code(p.classifyAcquire(bg, errors.New("sql: database is closed"))))
}

func TestPool_StatementCache(t *testing.T) {
	pool, err := Open(Options{Driver: "postgres", DSN: "postgres://localhost/none", PoolSize: 1, AcquireTimeout: 1, StatementCacheSize: 2})
	require.NoError(t, err)
	defer pool.Close()

	st := pool.statementsFor("t1")
	assert.Same(t, st, pool.statementsFor("t1"))

	query, args, err := st.insert.Rows(goqu.Record{ValueColumn: []byte("x")}).ToSQL()
	require.NoError(t, err)
	assert.Contains(t, query, `INSERT INTO "t1"`)
	assert.Contains(t, query, `RETURNING "key"`)
	assert.Equal(t, []interface{}{[]byte("x")}, args)

	query, _, err = st.count.ToSQL()
	require.NoError(t, err)
	assert.Contains(t, query, `COUNT(*)`)

	pool.statementsFor("t2")
	pool.statementsFor("t3")
	assert.Equal(t, 2, pool.statements.Len())
}
