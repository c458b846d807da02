package queue_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/db2q/db2q/queue"
)

func startGate(t *testing.T, writable bool) *queue.Gate {
	t.Helper()
	g := queue.NewGate(writable)
	ctx, cancel := context.WithCancel(context.Background())
	go g.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-g.Done()
	})
	return g
}

func TestGate_Transitions(t *testing.T) {
	ctx := context.Background()
	g := startGate(t, false)

	w, err := g.Writable(ctx)
	require.NoError(t, err)
	assert.False(t, w)

	require.NoError(t, g.MakeWritable(ctx))
	w, err = g.Writable(ctx)
	require.NoError(t, err)
	assert.True(t, w)

	require.NoError(t, g.MakeReadOnly(ctx))
	w, err = g.Writable(ctx)
	require.NoError(t, err)
	assert.False(t, w)
}

func TestGate_StoppedIsInternal(t *testing.T) {
	g := queue.NewGate(true)
	ctx, cancel := context.WithCancel(context.Background())
	go g.Run(ctx)
	cancel()
	<-g.Done()

	_, err := g.Writable(context.Background())
	assert.Equal(t, codes.Internal, status.Code(err))

	err = g.SetWritable(context.Background(), false)
	assert.Equal(t, codes.Internal, status.Code(err))
}

func TestGate_NoLostUpdate(t *testing.T) {
	ctx := context.Background()
	g := startGate(t, false)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, g.SetWritable(ctx, i%2 == 0))
		}(i)
		go func() {
			defer wg.Done()
			_, err := g.Writable(ctx)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// Once a set returns, every later query observes it
	require.NoError(t, g.SetWritable(ctx, true))
	w, err := g.Writable(ctx)
	require.NoError(t, err)
	assert.True(t, w)
}

func TestGated_RejectsWritesWhenReadOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	f.push(t, "seed")

	g := startGate(t, false)
	gated := queue.NewGated(f.svc, g)

	_, err := gated.PushBack(ctx, queue.PushRequest{Topic: testTopic, Value: []byte("x")})
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
	assert.Contains(t, err.Error(), "read only queue")

	err = gated.PopFront(ctx, queue.PopRequest{Topic: testTopic})
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	// Reads pass through in read-only mode
	n, err := gated.Count(ctx, queue.CountRequest{Topic: testTopic})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)

	rec, err := gated.Next(ctx, queue.NextRequest{Topic: testTopic, Previous: queue.NoPrevious})
	require.NoError(t, err)
	assert.Equal(t, "seed", string(rec.Value))

	require.NoError(t, g.MakeWritable(ctx))
	_, err = gated.PushBack(ctx, queue.PushRequest{Topic: testTopic, Value: []byte("x")})
	require.NoError(t, err)

	err = gated.PopFront(ctx, queue.PopRequest{Topic: testTopic})
	assert.Equal(t, codes.Unimplemented, status.Code(err), "writable pop reaches the inner service")
}

func TestGated_StreamsPassThrough(t *testing.T) {
	f := newFixture(t, false)
	f.push(t, "a")
	gated := queue.NewGated(f.svc, startGate(t, false))

	ch, err := gated.WaitNext(context.Background(), queue.WaitNextRequest{
		Topic:    testTopic,
		Previous: queue.NoPrevious,
		Interval: 10 * time.Millisecond,
		Timeout:  time.Second,
	})
	require.NoError(t, err)
	item := waitOne(t, ch)
	require.NoError(t, item.Err)

	keys, err := gated.Keys(context.Background(), queue.KeysRequest{Topic: testTopic, Limit: 1})
	require.NoError(t, err)
	got, err := collectKeys(t, keys)
	require.NoError(t, err)
	assert.Equal(t, []int64{item.Record.Key}, got)
}

func TestSessions_Snapshot(t *testing.T) {
	f := newFixture(t, false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, err := f.svc.WaitNext(ctx, queue.WaitNextRequest{
		RequestID: testRequest,
		Topic:     testTopic,
		Previous:  queue.NoPrevious,
		Interval:  10 * time.Millisecond,
		Timeout:   10 * time.Second,
	})
	require.NoError(t, err)

	snap := f.svc.Sessions().Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, queue.KindWaitNext, snap[0].Kind)
	assert.Equal(t, testTopic.String(), snap[0].Topic)
	assert.Equal(t, testRequest.String(), snap[0].RequestID)

	assert.Eventually(t, func() bool {
		s := f.svc.Sessions().Snapshot()
		return len(s) == 1 && s[0].Progress > 0
	}, time.Second, 5*time.Millisecond)
}
