package topic_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/db2q/db2q/id"
	"github.com/db2q/db2q/storage"
	"github.com/db2q/db2q/storage/storagetest"
	"github.com/db2q/db2q/topic"
)

var request = id.UUID{Hi: 7, Lo: 7}

func newService(t *testing.T) (*topic.Service, *storage.Pool) {
	t.Helper()
	pool := storagetest.NewPool(t)
	svc, err := topic.NewService(pool, topic.DefaultCodec())
	require.NoError(t, err)
	return svc, pool
}

func TestService_CreateListDrop(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	a := id.UUID{Hi: 1, Lo: 1}
	b := id.UUID{Hi: 2, Lo: 2}

	_, err := svc.Create(ctx, topic.CreateRequest{RequestID: request, Topic: a})
	require.NoError(t, err)
	_, err = svc.Create(ctx, topic.CreateRequest{RequestID: request, Topic: b})
	require.NoError(t, err)

	topics, err := svc.List(ctx, topic.ListRequest{RequestID: request})
	require.NoError(t, err)
	assert.ElementsMatch(t, []id.UUID{a, b}, topics)

	_, err = svc.Drop(ctx, topic.DropRequest{RequestID: request, Topic: a})
	require.NoError(t, err)

	topics, err = svc.List(ctx, topic.ListRequest{RequestID: request})
	require.NoError(t, err)
	assert.Equal(t, []id.UUID{b}, topics)
}

func TestService_CreateTwiceIsInternal(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	tp := id.UUID{Hi: 3, Lo: 3}

	_, err := svc.Create(ctx, topic.CreateRequest{Topic: tp})
	require.NoError(t, err)

	_, err = svc.Create(ctx, topic.CreateRequest{Topic: tp})
	assert.Equal(t, codes.Internal, status.Code(err))
}

func TestService_DropMissingIsOK(t *testing.T) {
	svc, _ := newService(t)

	_, err := svc.Drop(context.Background(), topic.DropRequest{Topic: id.UUID{Hi: 9}})
	assert.NoError(t, err)
}

func TestService_ListEmpty(t *testing.T) {
	svc, _ := newService(t)

	topics, err := svc.List(context.Background(), topic.ListRequest{})
	require.NoError(t, err)
	assert.Empty(t, topics)
}

func TestService_ListUndecodableFailsWithRequestInfo(t *testing.T) {
	ctx := context.Background()
	svc, pool := newService(t)

	_, err := svc.Create(ctx, topic.CreateRequest{Topic: id.UUID{Hi: 4}})
	require.NoError(t, err)

	sess, err := pool.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, sess.CreateTable(ctx, "unrelated"))
	sess.Close()

	_, err = svc.List(ctx, topic.ListRequest{RequestID: request})
	require.Error(t, err)

	st := status.Convert(err)
	assert.Equal(t, codes.Internal, st.Code())
	assert.Contains(t, st.Message(), "unrelated")

	var info *errdetails.RequestInfo
	for _, d := range st.Details() {
		if ri, ok := d.(*errdetails.RequestInfo); ok {
			info = ri
		}
	}
	require.NotNil(t, info)
	assert.Equal(t, request.String(), info.RequestId)
}

func TestNewService_Validation(t *testing.T) {
	_, err := topic.NewService(nil, topic.DefaultCodec())
	assert.Error(t, err)

	_, err = topic.NewService(storagetest.NewPool(t), nil)
	assert.Error(t, err)
}
