package grpc

import (
	"context"
	"fmt"
	"io"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
)

// ClientConfig holds client dial settings
type ClientConfig struct {
	Address          string
	CompressionLevel int
	MaxMessageSizeMB int
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// Client is a typed client of the db2q services over one connection
type Client struct {
	conn *grpc.ClientConn
}

// createDialOptions returns the dial options implied by config
func createDialOptions(config ClientConfig) []grpc.DialOption {
	maxMsg := 16 * 1024 * 1024
	if config.MaxMessageSizeMB > 0 {
		maxMsg = config.MaxMessageSizeMB * 1024 * 1024
	}
	keepaliveTime := 10 * time.Second
	if config.KeepaliveTime > 0 {
		keepaliveTime = config.KeepaliveTime
	}
	keepaliveTimeout := 3 * time.Second
	if config.KeepaliveTimeout > 0 {
		keepaliveTimeout = config.KeepaliveTimeout
	}

	callOpts := []grpc.CallOption{
		grpc.CallContentSubtype(CodecName),
		grpc.MaxCallRecvMsgSize(maxMsg),
		grpc.MaxCallSendMsgSize(maxMsg),
	}
	if name := CompressionName(config.CompressionLevel); name != "" {
		callOpts = append(callOpts, grpc.UseCompressor(name))
	}

	return []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                keepaliveTime,
			Timeout:             keepaliveTimeout,
			PermitWithoutStream: true,
		}),
		grpc.WithDefaultCallOptions(callOpts...),
	}
}

// NewClient creates a client; extra options are applied after the defaults
func NewClient(config ClientConfig, extra ...grpc.DialOption) (*Client, error) {
	opts := append(createDialOptions(config), extra...)
	conn, err := grpc.NewClient(config.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", config.Address, err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the underlying connection
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, service, method string, in, out interface{}) error {
	return c.conn.Invoke(ctx, "/"+service+"/"+method, in, out)
}

// CreateTopic calls TopicService.Create
func (c *Client) CreateTopic(ctx context.Context, in *CreateTopicRequest) (*CreateTopicResponse, error) {
	out := new(CreateTopicResponse)
	if err := c.invoke(ctx, TopicServiceName, "Create", in, out); err != nil {
		return nil, err
	}
	return out, nil
}

// DropTopic calls TopicService.Drop
func (c *Client) DropTopic(ctx context.Context, in *DropTopicRequest) (*DropTopicResponse, error) {
	out := new(DropTopicResponse)
	if err := c.invoke(ctx, TopicServiceName, "Drop", in, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListTopics calls TopicService.List
func (c *Client) ListTopics(ctx context.Context, in *ListTopicsRequest) (*ListTopicsResponse, error) {
	out := new(ListTopicsResponse)
	if err := c.invoke(ctx, TopicServiceName, "List", in, out); err != nil {
		return nil, err
	}
	return out, nil
}

// PushBack calls QueueService.PushBack
func (c *Client) PushBack(ctx context.Context, in *PushBackRequest) (*PushBackResponse, error) {
	out := new(PushBackResponse)
	if err := c.invoke(ctx, QueueServiceName, "PushBack", in, out); err != nil {
		return nil, err
	}
	return out, nil
}

// PopFront calls QueueService.PopFront
func (c *Client) PopFront(ctx context.Context, in *PopFrontRequest) (*PopFrontResponse, error) {
	out := new(PopFrontResponse)
	if err := c.invoke(ctx, QueueServiceName, "PopFront", in, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Count calls QueueService.Count
func (c *Client) Count(ctx context.Context, in *CountRequest) (*CountResponse, error) {
	out := new(CountResponse)
	if err := c.invoke(ctx, QueueServiceName, "Count", in, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Next calls QueueService.Next
func (c *Client) Next(ctx context.Context, in *NextRequest) (*NextResponse, error) {
	out := new(NextResponse)
	if err := c.invoke(ctx, QueueServiceName, "Next", in, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ExactCount calls CountService.Exact
func (c *Client) ExactCount(ctx context.Context, in *ExactCountRequest) (*ExactCountResponse, error) {
	out := new(ExactCountResponse)
	if err := c.invoke(ctx, CountServiceName, "Exact", in, out); err != nil {
		return nil, err
	}
	return out, nil
}

// openServerStream sends the single request of a server-streaming call
func (c *Client) openServerStream(ctx context.Context, service, method string, in interface{}) (grpc.ClientStream, error) {
	desc := &grpc.StreamDesc{StreamName: method, ServerStreams: true}
	stream, err := c.conn.NewStream(ctx, desc, "/"+service+"/"+method)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return stream, nil
}

// WaitNext calls QueueService.WaitNext and returns its single result
func (c *Client) WaitNext(ctx context.Context, in *WaitNextRequest) (*WaitNextResponse, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := c.openServerStream(ctx, QueueServiceName, "WaitNext", in)
	if err != nil {
		return nil, err
	}

	out := new(WaitNextResponse)
	if err := stream.RecvMsg(out); err != nil {
		if err == io.EOF {
			return nil, status.Error(codes.Internal, "wait-next stream ended without a result")
		}
		return nil, err
	}
	return out, nil
}

// KeysStream receives the keys of one QueueService.Keys call
type KeysStream struct {
	stream grpc.ClientStream
}

// Recv returns the next key; io.EOF once the stream completed
func (s *KeysStream) Recv() (*KeysResponse, error) {
	out := new(KeysResponse)
	if err := s.stream.RecvMsg(out); err != nil {
		return nil, err
	}
	return out, nil
}

// Keys calls QueueService.Keys; cancel ctx to abandon the stream early
func (c *Client) Keys(ctx context.Context, in *KeysRequest) (*KeysStream, error) {
	stream, err := c.openServerStream(ctx, QueueServiceName, "Keys", in)
	if err != nil {
		return nil, err
	}
	return &KeysStream{stream: stream}, nil
}

// CollectKeys drains a Keys call into a slice
func (c *Client) CollectKeys(ctx context.Context, in *KeysRequest) ([]int64, error) {
	stream, err := c.Keys(ctx, in)
	if err != nil {
		return nil, err
	}

	var collected []int64
	for {
		resp, err := stream.Recv()
		if err == io.EOF {
			return collected, nil
		}
		if err != nil {
			return collected, err
		}
		collected = append(collected, resp.Key)
	}
}
