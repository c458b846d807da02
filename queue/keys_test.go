package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/db2q/db2q/queue"
)

func collectKeys(t *testing.T, ch <-chan queue.KeyItem) ([]int64, error) {
	t.Helper()
	var keys []int64
	timeout := time.After(5 * time.Second)
	for {
		select {
		case item, ok := <-ch:
			if !ok {
				return keys, nil
			}
			if item.Err != nil {
				_, more := <-ch
				require.False(t, more, "error must be the final element")
				return keys, item.Err
			}
			keys = append(keys, item.Key)
		case <-timeout:
			t.Fatal("timeout collecting keys")
		}
	}
}

func allKeys(t *testing.T, f *fixture) []int64 {
	t.Helper()
	var keys []int64
	prev := queue.NoPrevious
	for {
		rec, err := f.svc.Next(context.Background(), queue.NextRequest{Topic: testTopic, Previous: prev})
		if status.Code(err) == codes.NotFound {
			return keys
		}
		require.NoError(t, err)
		keys = append(keys, rec.Key)
		prev = rec.Key
	}
}

func TestKeys_LimitReturnsSmallest(t *testing.T) {
	f := newFixture(t, false)
	for i := 0; i < 10; i++ {
		f.push(t, "v")
	}
	expected := allKeys(t, f)

	ch, err := f.svc.Keys(context.Background(), queue.KeysRequest{Topic: testTopic, Limit: 3})
	require.NoError(t, err)

	keys, err := collectKeys(t, ch)
	require.NoError(t, err)
	assert.Equal(t, expected[:3], keys)
}

func TestKeys_LimitLargerThanTable(t *testing.T) {
	f := newFixture(t, false)
	for i := 0; i < 4; i++ {
		f.push(t, "v")
	}

	ch, err := f.svc.Keys(context.Background(), queue.KeysRequest{Topic: testTopic, Limit: 100})
	require.NoError(t, err)

	keys, err := collectKeys(t, ch)
	require.NoError(t, err)
	assert.Len(t, keys, 4)
}

func TestKeys_ZeroLimitIsEmpty(t *testing.T) {
	f := newFixture(t, false)
	f.push(t, "v")

	ch, err := f.svc.Keys(context.Background(), queue.KeysRequest{Topic: testTopic, Limit: 0})
	require.NoError(t, err)

	keys, err := collectKeys(t, ch)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestKeys_QueryErrorIsFinalElement(t *testing.T) {
	f := newFixture(t, false)

	sess, err := f.pool.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, sess.DropTable(context.Background(), f.codec.Encode(testTopic)))
	sess.Close()

	ch, err := f.svc.Keys(context.Background(), queue.KeysRequest{Topic: testTopic, Limit: 5})
	require.NoError(t, err)

	keys, err := collectKeys(t, ch)
	assert.Empty(t, keys)
	assert.Equal(t, codes.Internal, status.Code(err))
}

func TestKeys_ConsumerCancelStopsProducer(t *testing.T) {
	f := newFixture(t, false)
	for i := 0; i < 10; i++ {
		f.push(t, "v")
	}

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := f.svc.Keys(ctx, queue.KeysRequest{Topic: testTopic, Limit: 10})
	require.NoError(t, err)

	first := <-ch
	require.NoError(t, first.Err)
	cancel()

	assert.Eventually(t, func() bool { return f.svc.Sessions().Len() == 0 }, 2*time.Second, 5*time.Millisecond)

	// The session connection must be back in the pool
	_, err = f.svc.Count(context.Background(), queue.CountRequest{Topic: testTopic})
	assert.NoError(t, err)
}
