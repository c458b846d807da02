package storage

import (
	"context"
	"database/sql"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Messages of the pool-level failures
const (
	msgAcquireTimeout = "timed out waiting for a backend connection"
	msgPoolClosed     = "All connection closed"
)

// classifyAcquire maps a failure to obtain a pooled connection.
// parent is the caller's context: its own end is reported as Canceled or DeadlineExceeded,
// never as an acquire timeout.
func (p *Pool) classifyAcquire(parent context.Context, err error) error {
	switch {
	case p.closed.Load():
		return status.Error(codes.FailedPrecondition, msgPoolClosed)
	case parent.Err() != nil:
		return status.FromContextError(parent.Err()).Err()
	case errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil:
		return status.Error(codes.Unavailable, msgAcquireTimeout)
	case p.dialect.IsDisconnect(err):
		return status.Errorf(codes.Unavailable, "backend unreachable: %v", err)
	}
	return status.Errorf(codes.Internal, "backend connection error: %v", err)
}

// classify maps a failure of a statement on an acquired connection.
// Errors that already carry a status pass through unchanged.
func (p *Pool) classify(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, sql.ErrConnDone) || p.dialect.IsDisconnect(err):
		return status.Errorf(codes.Unavailable, "backend connection lost: %v", err)
	case errors.Is(err, sql.ErrNoRows):
		return status.Error(codes.NotFound, "no rows")
	}
	return status.Errorf(codes.Internal, "backend error: %v", err)
}
