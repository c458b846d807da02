package grpc

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/db2q/db2q/count"
	"github.com/db2q/db2q/guard"
	"github.com/db2q/db2q/id"
	"github.com/db2q/db2q/queue"
	"github.com/db2q/db2q/storage/storagetest"
	"github.com/db2q/db2q/topic"
)

var (
	testTopic   = id.UUID{Hi: 0xaabbccddeeff0011, Lo: 0x2233445566778899}
	testRequest = id.UUID{Hi: 7, Lo: 42}
)

type harness struct {
	client *Client
	server *Server
	gate   *queue.Gate
	lis    *bufconn.Listener
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	pool := storagetest.NewPool(t)
	codec := topic.DefaultCodec()

	topics, err := topic.NewService(pool, codec)
	require.NoError(t, err)
	qsvc, err := queue.NewService(queue.ServiceConfig{
		Pool:            pool,
		Codec:           codec,
		DefaultInterval: 50 * time.Millisecond,
		DefaultTimeout:  500 * time.Millisecond,
	})
	require.NoError(t, err)
	counts, err := count.NewService(pool, codec)
	require.NoError(t, err)

	gate := queue.NewGate(true)
	ctx, cancel := context.WithCancel(context.Background())
	go gate.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-gate.Done()
	})

	locked := guard.NewLocked(queue.NewGated(qsvc, gate), topics)
	server, err := NewServer(ServerConfig{
		NodeID: 1,
		Queue:  locked,
		Topics: locked,
		Counts: counts,
	})
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 20)
	require.NoError(t, server.StartListener(lis))
	t.Cleanup(server.Stop)

	client, err := NewClient(
		ClientConfig{Address: "passthrough:///bufnet", CompressionLevel: 1},
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return &harness{client: client, server: server, gate: gate, lis: lis}
}

func (h *harness) createTopic(t *testing.T, topicID id.UUID) {
	t.Helper()
	_, err := h.client.CreateTopic(context.Background(), &CreateTopicRequest{
		RequestID: Ptr(testRequest),
		TopicID:   Ptr(topicID),
	})
	require.NoError(t, err)
}

func (h *harness) push(t *testing.T, value string) {
	t.Helper()
	_, err := h.client.PushBack(context.Background(), &PushBackRequest{
		RequestID: Ptr(testRequest),
		TopicID:   Ptr(testTopic),
		Value:     []byte(value),
	})
	require.NoError(t, err)
}

func TestServer_TopicLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	before := time.Now()
	created, err := h.client.CreateTopic(ctx, &CreateTopicRequest{RequestID: Ptr(testRequest), TopicID: Ptr(testTopic)})
	require.NoError(t, err)
	assert.False(t, created.Created.Before(before.Add(-time.Second)))

	listed, err := h.client.ListTopics(ctx, &ListTopicsRequest{RequestID: Ptr(testRequest)})
	require.NoError(t, err)
	assert.Equal(t, []id.UUID{testTopic}, listed.Topics)

	_, err = h.client.DropTopic(ctx, &DropTopicRequest{RequestID: Ptr(testRequest), TopicID: Ptr(testTopic)})
	require.NoError(t, err)

	listed, err = h.client.ListTopics(ctx, &ListTopicsRequest{RequestID: Ptr(testRequest)})
	require.NoError(t, err)
	assert.Empty(t, listed.Topics)
}

func TestServer_PushNextCount(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.createTopic(t, testTopic)

	for _, v := range []string{"a", "b", "c"} {
		h.push(t, v)
	}

	first, err := h.client.Next(ctx, &NextRequest{RequestID: Ptr(testRequest), TopicID: Ptr(testTopic), Previous: -1})
	require.NoError(t, err)
	assert.Equal(t, "a", string(first.Value))

	second, err := h.client.Next(ctx, &NextRequest{RequestID: Ptr(testRequest), TopicID: Ptr(testTopic), Previous: first.Key})
	require.NoError(t, err)
	assert.Equal(t, "b", string(second.Value))
	assert.Greater(t, second.Key, first.Key)

	n, err := h.client.Count(ctx, &CountRequest{RequestID: Ptr(testRequest), TopicID: Ptr(testTopic)})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), n.Count)

	exact, err := h.client.ExactCount(ctx, &ExactCountRequest{RequestID: Ptr(testRequest), TopicID: Ptr(testTopic)})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), exact.Count)
}

func TestServer_NextOnEmptyTopic(t *testing.T) {
	h := newHarness(t)
	h.createTopic(t, testTopic)

	_, err := h.client.Next(context.Background(), &NextRequest{RequestID: Ptr(testRequest), TopicID: Ptr(testTopic), Previous: -1})
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestServer_RequestValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.client.PushBack(ctx, &PushBackRequest{TopicID: Ptr(testTopic), Value: []byte("x")})
	require.Equal(t, codes.InvalidArgument, status.Code(err))
	assert.Equal(t, "request id missing", status.Convert(err).Message())

	_, err = h.client.PushBack(ctx, &PushBackRequest{RequestID: Ptr(testRequest), Value: []byte("x")})
	require.Equal(t, codes.InvalidArgument, status.Code(err))
	assert.Equal(t, "topic id missing. request id: "+testRequest.String(), status.Convert(err).Message())

	_, err = h.client.ListTopics(ctx, &ListTopicsRequest{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = h.client.WaitNext(ctx, &WaitNextRequest{RequestID: Ptr(testRequest)})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = h.client.CollectKeys(ctx, &KeysRequest{TopicID: Ptr(testTopic), MaxKeys: 1})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestServer_PopFrontUnimplemented(t *testing.T) {
	h := newHarness(t)
	h.createTopic(t, testTopic)

	_, err := h.client.PopFront(context.Background(), &PopFrontRequest{RequestID: Ptr(testRequest), TopicID: Ptr(testTopic)})
	assert.Equal(t, codes.Unimplemented, status.Code(err))
}

func TestServer_ReadOnlyRejectsPush(t *testing.T) {
	h := newHarness(t)
	h.createTopic(t, testTopic)
	require.NoError(t, h.gate.MakeReadOnly(context.Background()))

	_, err := h.client.PushBack(context.Background(), &PushBackRequest{
		RequestID: Ptr(testRequest),
		TopicID:   Ptr(testTopic),
		Value:     []byte("x"),
	})
	require.Equal(t, codes.FailedPrecondition, status.Code(err))
	assert.Equal(t, "read only queue", status.Convert(err).Message())

	n, err := h.client.Count(context.Background(), &CountRequest{RequestID: Ptr(testRequest), TopicID: Ptr(testTopic)})
	require.NoError(t, err)
	assert.Zero(t, n.Count)
}

func TestServer_WaitNextTimeout(t *testing.T) {
	h := newHarness(t)
	h.createTopic(t, testTopic)

	_, err := h.client.WaitNext(context.Background(), &WaitNextRequest{
		RequestID: Ptr(testRequest),
		TopicID:   Ptr(testTopic),
		Previous:  -1,
		Interval:  Ptr(20 * time.Millisecond),
		Timeout:   Ptr(100 * time.Millisecond),
	})
	require.Equal(t, codes.DeadlineExceeded, status.Code(err))

	retried, ok := queue.RetriedFromError(err)
	require.True(t, ok, "retry count travels in the status details")
	assert.GreaterOrEqual(t, retried, uint64(3))
	assert.LessOrEqual(t, retried, uint64(6))
}

func TestServer_WaitNextLatePush(t *testing.T) {
	h := newHarness(t)
	h.createTopic(t, testTopic)

	pushed := make(chan error, 1)
	go func() {
		time.Sleep(100 * time.Millisecond)
		_, err := h.client.PushBack(context.Background(), &PushBackRequest{
			RequestID: Ptr(testRequest),
			TopicID:   Ptr(testTopic),
			Value:     []byte("late"),
		})
		pushed <- err
	}()
	t.Cleanup(func() { assert.NoError(t, <-pushed) })

	resp, err := h.client.WaitNext(context.Background(), &WaitNextRequest{
		RequestID: Ptr(testRequest),
		TopicID:   Ptr(testTopic),
		Previous:  -1,
		Interval:  Ptr(20 * time.Millisecond),
		Timeout:   Ptr(2 * time.Second),
	})
	require.NoError(t, err)
	assert.Equal(t, "late", string(resp.Value))
	assert.GreaterOrEqual(t, resp.Retried, uint64(1))
	assert.GreaterOrEqual(t, resp.Elapsed, 75*time.Millisecond)
}

func TestServer_Keys(t *testing.T) {
	h := newHarness(t)
	h.createTopic(t, testTopic)
	for i := 0; i < 10; i++ {
		h.push(t, "v")
	}
	ctx := context.Background()

	all, err := h.client.CollectKeys(ctx, &KeysRequest{RequestID: Ptr(testRequest), TopicID: Ptr(testTopic), MaxKeys: 100})
	require.NoError(t, err)
	require.Len(t, all, 10)

	limited, err := h.client.CollectKeys(ctx, &KeysRequest{RequestID: Ptr(testRequest), TopicID: Ptr(testTopic), MaxKeys: 3})
	require.NoError(t, err)
	assert.Equal(t, all[:3], limited)

	none, err := h.client.CollectKeys(ctx, &KeysRequest{RequestID: Ptr(testRequest), TopicID: Ptr(testTopic), MaxKeys: 0})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestServer_KeysOnMissingTopic(t *testing.T) {
	h := newHarness(t)

	_, err := h.client.CollectKeys(context.Background(), &KeysRequest{
		RequestID: Ptr(testRequest),
		TopicID:   Ptr(id.UUID{Lo: 404}),
		MaxKeys:   5,
	})
	assert.Equal(t, codes.Internal, status.Code(err))
}

func TestServer_HTTPSharesPort(t *testing.T) {
	h := newHarness(t)

	httpClient := &http.Client{
		Timeout: 5 * time.Second,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				return h.lis.DialContext(ctx)
			},
		},
	}

	resp, err := httpClient.Get("http://bufnet/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))

	// gRPC keeps working on the same listener
	h.createTopic(t, testTopic)
}

func TestNewServer_Validation(t *testing.T) {
	_, err := NewServer(ServerConfig{})
	assert.Error(t, err)
}
