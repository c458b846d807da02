package grpc

import (
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/db2q/db2q/id"
)

func requireRequestID(requestID *id.UUID) (id.UUID, error) {
	if requestID == nil {
		return id.UUID{}, status.Error(codes.InvalidArgument, "request id missing")
	}
	return *requestID, nil
}

// requireTopic validates the ids every topic-scoped request carries
func requireTopic(requestID, topicID *id.UUID) (id.UUID, id.UUID, error) {
	rid, err := requireRequestID(requestID)
	if err != nil {
		return id.UUID{}, id.UUID{}, err
	}
	if topicID == nil {
		return id.UUID{}, id.UUID{}, status.Errorf(codes.InvalidArgument, "topic id missing. request id: %s", rid)
	}
	return rid, *topicID, nil
}

func durationOrZero(d *time.Duration) time.Duration {
	if d == nil {
		return 0
	}
	return *d
}
