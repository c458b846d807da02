// Package count serves exact record counts.
package count

import (
	"context"
	"fmt"

	"github.com/db2q/db2q/id"
	"github.com/db2q/db2q/storage"
	"github.com/db2q/db2q/topic"
)

// ExactRequest asks for the exact number of records in Topic
type ExactRequest struct {
	RequestID id.UUID
	Topic     id.UUID
}

// Service counts records on its own pooled connection
type Service struct {
	pool  *storage.Pool
	codec topic.Codec
}

// NewService creates a count service
func NewService(pool *storage.Pool, codec topic.Codec) (*Service, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if codec == nil {
		return nil, fmt.Errorf("codec is required")
	}
	return &Service{pool: pool, codec: codec}, nil
}

// Exact returns the number of records in the topic table
func (s *Service) Exact(ctx context.Context, req ExactRequest) (uint64, error) {
	sess, err := s.pool.Acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer sess.Close()

	return sess.Count(ctx, s.codec.Encode(req.Topic))
}
