package grpc

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/db2q/db2q/id"
	"github.com/db2q/db2q/telemetry"
)

// requestIdentified is implemented by every request message
type requestIdentified interface {
	GetRequestID() *id.UUID
}

// UnaryServerInterceptor records metrics and logs failed calls
func UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		observeCall(info.FullMethod, req, start, err)
		return resp, err
	}
}

// StreamServerInterceptor records metrics and logs failed streams.
// The request id is taken from the first received message.
func StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		rs := &recordingStream{ServerStream: ss}
		err := handler(srv, rs)
		observeCall(info.FullMethod, rs.first, start, err)
		return err
	}
}

type recordingStream struct {
	grpc.ServerStream
	first interface{}
}

func (r *recordingStream) RecvMsg(m interface{}) error {
	if err := r.ServerStream.RecvMsg(m); err != nil {
		return err
	}
	if r.first == nil {
		r.first = m
	}
	return nil
}

func observeCall(fullMethod string, req interface{}, start time.Time, err error) {
	service, method := splitMethodName(fullMethod)
	code := status.Code(err)

	telemetry.RequestsTotal.With(service, method, code.String()).Inc()
	telemetry.ObserveSince(telemetry.RequestDurationSeconds.With(service, method), start)

	if err == nil {
		return
	}

	event := log.Debug().
		Err(err).
		Str("method", fullMethod).
		Str("code", code.String()).
		Dur("elapsed", time.Since(start))
	if r, ok := req.(requestIdentified); ok && r.GetRequestID() != nil {
		event = event.Str("request_id", r.GetRequestID().String())
	}
	event.Msg("Call failed")
}

// splitMethodName splits "/package.Service/Method" into its short service and method names
func splitMethodName(fullMethod string) (string, string) {
	fullMethod = strings.TrimPrefix(fullMethod, "/")
	service, method, ok := strings.Cut(fullMethod, "/")
	if !ok {
		return "unknown", fullMethod
	}
	if i := strings.LastIndex(service, "."); i >= 0 {
		service = service[i+1:]
	}
	return service, method
}
