package storage_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/db2q/db2q/storage"
	"github.com/db2q/db2q/storage/storagetest"
)

const table = "t0000000000000001000000000000000a"

func newTable(t *testing.T) (*storage.Pool, *storage.Session) {
	t.Helper()
	pool := storagetest.NewPool(t)
	s, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.CreateTable(context.Background(), table))
	return pool, s
}

func TestSession_AppendAssignsIncreasingKeys(t *testing.T) {
	ctx := context.Background()
	_, s := newTable(t)

	var prev int64
	for i := 0; i < 20; i++ {
		key, err := s.Append(ctx, table, []byte{byte(i)})
		require.NoError(t, err)
		assert.Greater(t, key, prev)
		prev = key
	}

	n, err := s.Count(ctx, table)
	require.NoError(t, err)
	assert.Equal(t, uint64(20), n)
}

func TestSession_FirstAndAfter(t *testing.T) {
	ctx := context.Background()
	_, s := newTable(t)

	_, err := s.First(ctx, table)
	assert.Equal(t, codes.NotFound, status.Code(err))
	assert.Contains(t, err.Error(), "Empty queue")

	k1, err := s.Append(ctx, table, []byte("a"))
	require.NoError(t, err)
	k2, err := s.Append(ctx, table, []byte("b"))
	require.NoError(t, err)

	rec, err := s.First(ctx, table)
	require.NoError(t, err)
	assert.Equal(t, storage.Record{Key: k1, Value: []byte("a")}, rec)

	rec, err = s.After(ctx, table, k1)
	require.NoError(t, err)
	assert.Equal(t, storage.Record{Key: k2, Value: []byte("b")}, rec)

	_, err = s.After(ctx, table, k2)
	assert.Equal(t, codes.NotFound, status.Code(err))
	assert.Contains(t, err.Error(), "No more queue items. previous key:")
}

func TestSession_EmptyValueRoundTrips(t *testing.T) {
	ctx := context.Background()
	_, s := newTable(t)

	key, err := s.Append(ctx, table, nil)
	require.NoError(t, err)

	rec, err := s.First(ctx, table)
	require.NoError(t, err)
	assert.Equal(t, key, rec.Key)
	assert.NotNil(t, rec.Value)
	assert.Empty(t, rec.Value)
}

func TestSession_Keys(t *testing.T) {
	ctx := context.Background()
	_, s := newTable(t)

	var keys []int64
	for i := 0; i < 10; i++ {
		k, err := s.Append(ctx, table, []byte("v"))
		require.NoError(t, err)
		keys = append(keys, k)
	}

	cur, err := s.Keys(ctx, table, 3)
	require.NoError(t, err)
	var got []int64
	for {
		k, ok, err := cur.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, k)
	}
	require.NoError(t, cur.Close())
	assert.Equal(t, keys[:3], got)

	cur, err = s.Keys(ctx, table, 0)
	require.NoError(t, err)
	_, ok, err := cur.Next()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSession_MissingTableIsInternal(t *testing.T) {
	ctx := context.Background()
	pool := storagetest.NewPool(t)
	s, err := pool.Acquire(ctx)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Count(ctx, "t00000000000000000000000000000fff")
	assert.Equal(t, codes.Internal, status.Code(err))
}

func TestSession_CreateDropList(t *testing.T) {
	ctx := context.Background()
	_, s := newTable(t)

	err := s.CreateTable(ctx, table)
	assert.Equal(t, codes.Internal, status.Code(err), "repeat create surfaces backend error")

	names, err := s.ListTables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{table}, names, "sqlite internal tables are excluded")

	require.NoError(t, s.DropTable(ctx, table))
	require.NoError(t, s.DropTable(ctx, table), "dropping a missing table is not an error")

	names, err = s.ListTables(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestPool_AcquireTimeoutIsUnavailable(t *testing.T) {
	opts := storagetest.Options(t)
	opts.PoolSize = 1
	opts.AcquireTimeout = 50 * time.Millisecond
	pool := storagetest.NewPoolWith(t, opts)

	held, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	defer held.Close()

	start := time.Now()
	_, err = pool.Acquire(context.Background())
	assert.Equal(t, codes.Unavailable, status.Code(err))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestPool_ClosedIsFailedPrecondition(t *testing.T) {
	pool := storagetest.NewPool(t)
	require.NoError(t, pool.Close())

	_, err := pool.Acquire(context.Background())
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
	assert.Contains(t, err.Error(), "All connection closed")
}

func TestPool_ParentCancelIsCanceled(t *testing.T) {
	opts := storagetest.Options(t)
	opts.PoolSize = 1
	pool := storagetest.NewPoolWith(t, opts)

	held, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	defer held.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = pool.Acquire(ctx)
	assert.Equal(t, codes.Canceled, status.Code(err))

	deadline, cancelDeadline := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancelDeadline()
	_, err = pool.Acquire(deadline)
	assert.Equal(t, codes.DeadlineExceeded, status.Code(err))
}

func TestPool_ConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	pool, _ := newTable(t)

	const writers = 3
	const each = 20

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[int64]bool)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := pool.Acquire(ctx)
			if !assert.NoError(t, err) {
				return
			}
			defer s.Close()
			for i := 0; i < each; i++ {
				k, err := s.Append(ctx, table, []byte("x"))
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				seen[k] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, writers*each)
}

func TestPool_Ping(t *testing.T) {
	pool := storagetest.NewPool(t)
	require.NoError(t, pool.Ping(context.Background()))
	assert.Equal(t, 4, pool.Stats().MaxOpenConnections)
}
