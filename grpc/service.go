package grpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/db2q/db2q/count"
	"github.com/db2q/db2q/queue"
	"github.com/db2q/db2q/topic"
)

// Full service names, kept compatible with the db2q.proto.queue.v1 package
const (
	TopicServiceName = "db2q.proto.queue.v1.TopicService"
	QueueServiceName = "db2q.proto.queue.v1.QueueService"
	CountServiceName = "db2q.proto.queue.v1.CountService"
)

// ExactCounter is the count service surface
type ExactCounter interface {
	Exact(ctx context.Context, req count.ExactRequest) (uint64, error)
}

// unaryHandler adapts a typed call to a grpc.MethodHandler
func unaryHandler[Req any](fullMethod string, call func(srv interface{}, ctx context.Context, in *Req) (interface{}, error)) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv, ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// =======================
// TOPIC SERVICE
// =======================

var topicServiceDesc = grpc.ServiceDesc{
	ServiceName: TopicServiceName,
	HandlerType: (*topic.Operations)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Create", Handler: unaryHandler("/"+TopicServiceName+"/Create", createTopic)},
		{MethodName: "Drop", Handler: unaryHandler("/"+TopicServiceName+"/Drop", dropTopic)},
		{MethodName: "List", Handler: unaryHandler("/"+TopicServiceName+"/List", listTopics)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "db2q/proto/queue/v1/topic.proto",
}

func createTopic(srv interface{}, ctx context.Context, in *CreateTopicRequest) (interface{}, error) {
	rid, tid, err := requireTopic(in.RequestID, in.TopicID)
	if err != nil {
		return nil, err
	}
	created, err := srv.(topic.Operations).Create(ctx, topic.CreateRequest{RequestID: rid, Topic: tid})
	if err != nil {
		return nil, err
	}
	return &CreateTopicResponse{Created: created}, nil
}

func dropTopic(srv interface{}, ctx context.Context, in *DropTopicRequest) (interface{}, error) {
	rid, tid, err := requireTopic(in.RequestID, in.TopicID)
	if err != nil {
		return nil, err
	}
	dropped, err := srv.(topic.Operations).Drop(ctx, topic.DropRequest{RequestID: rid, Topic: tid})
	if err != nil {
		return nil, err
	}
	return &DropTopicResponse{Dropped: dropped}, nil
}

func listTopics(srv interface{}, ctx context.Context, in *ListTopicsRequest) (interface{}, error) {
	rid, err := requireRequestID(in.RequestID)
	if err != nil {
		return nil, err
	}
	topics, err := srv.(topic.Operations).List(ctx, topic.ListRequest{RequestID: rid})
	if err != nil {
		return nil, err
	}
	return &ListTopicsResponse{Topics: topics}, nil
}

// =======================
// QUEUE SERVICE
// =======================

var queueServiceDesc = grpc.ServiceDesc{
	ServiceName: QueueServiceName,
	HandlerType: (*queue.Operations)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "PushBack", Handler: unaryHandler("/"+QueueServiceName+"/PushBack", pushBack)},
		{MethodName: "PopFront", Handler: unaryHandler("/"+QueueServiceName+"/PopFront", popFront)},
		{MethodName: "Count", Handler: unaryHandler("/"+QueueServiceName+"/Count", countQueue)},
		{MethodName: "Next", Handler: unaryHandler("/"+QueueServiceName+"/Next", next)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "WaitNext", Handler: waitNext, ServerStreams: true},
		{StreamName: "Keys", Handler: keys, ServerStreams: true},
	},
	Metadata: "db2q/proto/queue/v1/queue.proto",
}

func pushBack(srv interface{}, ctx context.Context, in *PushBackRequest) (interface{}, error) {
	rid, tid, err := requireTopic(in.RequestID, in.TopicID)
	if err != nil {
		return nil, err
	}
	at, err := srv.(queue.Operations).PushBack(ctx, queue.PushRequest{RequestID: rid, Topic: tid, Value: in.Value})
	if err != nil {
		return nil, err
	}
	return &PushBackResponse{PushedAt: at}, nil
}

func popFront(srv interface{}, ctx context.Context, in *PopFrontRequest) (interface{}, error) {
	rid, tid, err := requireTopic(in.RequestID, in.TopicID)
	if err != nil {
		return nil, err
	}
	if err := srv.(queue.Operations).PopFront(ctx, queue.PopRequest{RequestID: rid, Topic: tid}); err != nil {
		return nil, err
	}
	return &PopFrontResponse{}, nil
}

func countQueue(srv interface{}, ctx context.Context, in *CountRequest) (interface{}, error) {
	rid, tid, err := requireTopic(in.RequestID, in.TopicID)
	if err != nil {
		return nil, err
	}
	n, err := srv.(queue.Operations).Count(ctx, queue.CountRequest{RequestID: rid, Topic: tid})
	if err != nil {
		return nil, err
	}
	return &CountResponse{Count: n}, nil
}

func next(srv interface{}, ctx context.Context, in *NextRequest) (interface{}, error) {
	rid, tid, err := requireTopic(in.RequestID, in.TopicID)
	if err != nil {
		return nil, err
	}
	rec, err := srv.(queue.Operations).Next(ctx, queue.NextRequest{RequestID: rid, Topic: tid, Previous: in.Previous})
	if err != nil {
		return nil, err
	}
	return &NextResponse{Key: rec.Key, Value: rec.Value}, nil
}

// waitNext sends the single result of a wait-next session and ends the stream
func waitNext(srv interface{}, stream grpc.ServerStream) error {
	in := new(WaitNextRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	rid, tid, err := requireTopic(in.RequestID, in.TopicID)
	if err != nil {
		return err
	}

	items, err := srv.(queue.Operations).WaitNext(stream.Context(), queue.WaitNextRequest{
		RequestID: rid,
		Topic:     tid,
		Previous:  in.Previous,
		Interval:  durationOrZero(in.Interval),
		Timeout:   durationOrZero(in.Timeout),
	})
	if err != nil {
		return err
	}

	for item := range items {
		if item.Err != nil {
			return item.Err
		}
		if err := stream.SendMsg(&WaitNextResponse{
			Key:     item.Record.Key,
			Value:   item.Record.Value,
			Elapsed: item.Elapsed,
			Retried: item.Retried,
		}); err != nil {
			return err
		}
	}
	return nil
}

// keys forwards the key stream; an error item ends the call with that status
func keys(srv interface{}, stream grpc.ServerStream) error {
	in := new(KeysRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	rid, tid, err := requireTopic(in.RequestID, in.TopicID)
	if err != nil {
		return err
	}

	items, err := srv.(queue.Operations).Keys(stream.Context(), queue.KeysRequest{
		RequestID: rid,
		Topic:     tid,
		Limit:     in.MaxKeys,
	})
	if err != nil {
		return err
	}

	for item := range items {
		if item.Err != nil {
			return item.Err
		}
		if err := stream.SendMsg(&KeysResponse{Key: item.Key}); err != nil {
			return err
		}
	}
	return nil
}

// =======================
// COUNT SERVICE
// =======================

var countServiceDesc = grpc.ServiceDesc{
	ServiceName: CountServiceName,
	HandlerType: (*ExactCounter)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Exact", Handler: unaryHandler("/"+CountServiceName+"/Exact", exactCount)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "db2q/proto/queue/v1/count.proto",
}

func exactCount(srv interface{}, ctx context.Context, in *ExactCountRequest) (interface{}, error) {
	rid, tid, err := requireTopic(in.RequestID, in.TopicID)
	if err != nil {
		return nil, err
	}
	n, err := srv.(ExactCounter).Exact(ctx, count.ExactRequest{RequestID: rid, Topic: tid})
	if err != nil {
		return nil, err
	}
	return &ExactCountResponse{Count: n}, nil
}

// RegisterTopicService registers t under TopicServiceName
func RegisterTopicService(s grpc.ServiceRegistrar, t topic.Operations) {
	s.RegisterService(&topicServiceDesc, t)
}

// RegisterQueueService registers q under QueueServiceName
func RegisterQueueService(s grpc.ServiceRegistrar, q queue.Operations) {
	s.RegisterService(&queueServiceDesc, q)
}

// RegisterCountService registers c under CountServiceName
func RegisterCountService(s grpc.ServiceRegistrar, c ExactCounter) {
	s.RegisterService(&countServiceDesc, c)
}
