package queue_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/db2q/db2q/id"
	"github.com/db2q/db2q/notify"
	"github.com/db2q/db2q/queue"
	"github.com/db2q/db2q/storage"
	"github.com/db2q/db2q/storage/storagetest"
	"github.com/db2q/db2q/topic"
)

var (
	testTopic   = id.UUID{Hi: 0x0123456789abcdef, Lo: 0xfedcba9876543210}
	testRequest = id.UUID{Hi: 1, Lo: 2}
)

type fixture struct {
	pool  *storage.Pool
	codec topic.Codec
	hub   *notify.Hub
	svc   *queue.Service
}

func newFixture(t *testing.T, withHub bool) *fixture {
	t.Helper()

	f := &fixture{
		pool:  storagetest.NewPool(t),
		codec: topic.DefaultCodec(),
	}
	if withHub {
		f.hub = notify.NewHub()
	}

	svc, err := queue.NewService(queue.ServiceConfig{
		Pool:  f.pool,
		Codec: f.codec,
		Hub:   f.hub,
	})
	require.NoError(t, err)
	f.svc = svc

	sess, err := f.pool.Acquire(context.Background())
	require.NoError(t, err)
	defer sess.Close()
	require.NoError(t, sess.CreateTable(context.Background(), f.codec.Encode(testTopic)))

	return f
}

func (f *fixture) push(t *testing.T, value string) {
	t.Helper()
	_, err := f.svc.PushBack(context.Background(), queue.PushRequest{
		RequestID: testRequest,
		Topic:     testTopic,
		Value:     []byte(value),
	})
	require.NoError(t, err)
}
