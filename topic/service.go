package topic

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/db2q/db2q/id"
	"github.com/db2q/db2q/storage"
)

// CreateRequest asks for the table backing Topic
type CreateRequest struct {
	RequestID id.UUID
	Topic     id.UUID
}

// DropRequest asks to remove the table backing Topic
type DropRequest struct {
	RequestID id.UUID
	Topic     id.UUID
}

// ListRequest asks for every topic in the namespace
type ListRequest struct {
	RequestID id.UUID
}

// Operations is the topic lifecycle surface
type Operations interface {
	Create(ctx context.Context, req CreateRequest) (time.Time, error)
	Drop(ctx context.Context, req DropRequest) (time.Time, error)
	List(ctx context.Context, req ListRequest) ([]id.UUID, error)
}

// Service manages topic tables through the backend pool
type Service struct {
	pool  *storage.Pool
	codec Codec
}

// NewService creates a topic service
func NewService(pool *storage.Pool, codec Codec) (*Service, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if codec == nil {
		return nil, fmt.Errorf("codec is required")
	}
	return &Service{pool: pool, codec: codec}, nil
}

// Create creates the topic table. Creating an existing topic fails like any other backend error.
func (s *Service) Create(ctx context.Context, req CreateRequest) (time.Time, error) {
	sess, err := s.pool.Acquire(ctx)
	if err != nil {
		return time.Time{}, err
	}
	defer sess.Close()

	table := s.codec.Encode(req.Topic)
	if err := sess.CreateTable(ctx, table); err != nil {
		return time.Time{}, err
	}

	log.Info().
		Str("request_id", req.RequestID.String()).
		Str("topic", req.Topic.String()).
		Str("table", table).
		Msg("Topic created")
	return time.Now(), nil
}

// Drop removes the topic table; a missing topic is not an error
func (s *Service) Drop(ctx context.Context, req DropRequest) (time.Time, error) {
	sess, err := s.pool.Acquire(ctx)
	if err != nil {
		return time.Time{}, err
	}
	defer sess.Close()

	table := s.codec.Encode(req.Topic)
	if err := sess.DropTable(ctx, table); err != nil {
		return time.Time{}, err
	}

	log.Info().
		Str("request_id", req.RequestID.String()).
		Str("topic", req.Topic.String()).
		Msg("Topic dropped")
	return time.Now(), nil
}

// List returns the topic of every table in the namespace.
// A single table whose name does not decode fails the whole call.
// Every failure after acquisition carries the caller's request id.
func (s *Service) List(ctx context.Context, req ListRequest) ([]id.UUID, error) {
	sess, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	return s.list(ctx, req, sess)
}

// tableLister is the part of a storage session List needs
type tableLister interface {
	ListTables(ctx context.Context) ([]string, error)
}

func (s *Service) list(ctx context.Context, req ListRequest, lister tableLister) ([]id.UUID, error) {
	tables, err := lister.ListTables(ctx)
	if err != nil {
		return nil, withRequestInfo(req.RequestID, err)
	}

	topics := make([]id.UUID, 0, len(tables))
	for _, table := range tables {
		t, err := s.codec.Decode(table)
		if err != nil {
			return nil, withRequestInfo(req.RequestID,
				status.Errorf(codes.Internal, "failed to decode table name %q: %v", table, err))
		}
		topics = append(topics, t)
	}
	return topics, nil
}

// withRequestInfo attaches the request id to err, keeping its code and message
func withRequestInfo(request id.UUID, err error) error {
	st := status.Convert(err)
	detailed, derr := st.WithDetails(&errdetails.RequestInfo{RequestId: request.String()})
	if derr != nil {
		return st.Err()
	}
	return detailed.Err()
}

var _ Operations = (*Service)(nil)
