package queue

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/db2q/db2q/telemetry"
)

const (
	msgReadOnly    = "read only queue"
	msgGateStopped = "read/write gate is not running"
)

type setRequest struct {
	writable bool
	reply    chan struct{}
}

type queryRequest struct {
	reply chan bool
}

// Gate owns the read/write mode. The mode lives in the Run goroutine only;
// callers talk to it over channels.
type Gate struct {
	setCh   chan setRequest
	queryCh chan queryRequest
	done    chan struct{}
	initial bool
}

// NewGate creates a gate; call Run to start serving it
func NewGate(writable bool) *Gate {
	return &Gate{
		setCh:   make(chan setRequest),
		queryCh: make(chan queryRequest),
		done:    make(chan struct{}),
		initial: writable,
	}
}

// Run serves mode changes and queries until ctx is cancelled.
// Both request kinds are selected together, so neither can starve the other.
func (g *Gate) Run(ctx context.Context) {
	defer close(g.done)

	writable := g.initial
	log.Info().Bool("writable", writable).Msg("Read/write gate started")

	for {
		select {
		case req := <-g.setCh:
			if writable != req.writable {
				log.Info().Bool("writable", req.writable).Msg("Queue mode changed")
				telemetry.GateTransitionsTotal.With(modeName(req.writable)).Inc()
			}
			writable = req.writable
			req.reply <- struct{}{}
		case req := <-g.queryCh:
			req.reply <- writable
		case <-ctx.Done():
			log.Info().Msg("Read/write gate stopped")
			return
		}
	}
}

// Done is closed once Run returns
func (g *Gate) Done() <-chan struct{} {
	return g.done
}

// SetWritable changes the mode. It returns once the change is applied.
func (g *Gate) SetWritable(ctx context.Context, writable bool) error {
	req := setRequest{writable: writable, reply: make(chan struct{}, 1)}
	select {
	case g.setCh <- req:
	case <-g.done:
		return status.Error(codes.Internal, msgGateStopped)
	case <-ctx.Done():
		return status.FromContextError(ctx.Err()).Err()
	}
	select {
	case <-req.reply:
		return nil
	case <-g.done:
		return status.Error(codes.Internal, msgGateStopped)
	}
}

// MakeWritable is SetWritable(ctx, true)
func (g *Gate) MakeWritable(ctx context.Context) error {
	return g.SetWritable(ctx, true)
}

// MakeReadOnly is SetWritable(ctx, false)
func (g *Gate) MakeReadOnly(ctx context.Context) error {
	return g.SetWritable(ctx, false)
}

// Writable reports the current mode
func (g *Gate) Writable(ctx context.Context) (bool, error) {
	req := queryRequest{reply: make(chan bool, 1)}
	select {
	case g.queryCh <- req:
	case <-g.done:
		return false, status.Error(codes.Internal, msgGateStopped)
	case <-ctx.Done():
		return false, status.FromContextError(ctx.Err()).Err()
	}
	select {
	case w := <-req.reply:
		return w, nil
	case <-g.done:
		return false, status.Error(codes.Internal, msgGateStopped)
	}
}

func modeName(writable bool) string {
	if writable {
		return "writable"
	}
	return "read_only"
}

// Gated checks the gate before every write and forwards everything else to inner
type Gated struct {
	inner Operations
	gate  *Gate
}

// NewGated wraps inner with gate checks
func NewGated(inner Operations, gate *Gate) *Gated {
	return &Gated{inner: inner, gate: gate}
}

// Gate returns the gate consulted by writes
func (g *Gated) Gate() *Gate {
	return g.gate
}

func (g *Gated) checkWritable(ctx context.Context) error {
	writable, err := g.gate.Writable(ctx)
	if err != nil {
		return err
	}
	if !writable {
		telemetry.WritesRejectedTotal.Inc()
		return status.Error(codes.FailedPrecondition, msgReadOnly)
	}
	return nil
}

func (g *Gated) PushBack(ctx context.Context, req PushRequest) (time.Time, error) {
	if err := g.checkWritable(ctx); err != nil {
		return time.Time{}, err
	}
	return g.inner.PushBack(ctx, req)
}

func (g *Gated) PopFront(ctx context.Context, req PopRequest) error {
	if err := g.checkWritable(ctx); err != nil {
		return err
	}
	return g.inner.PopFront(ctx, req)
}

func (g *Gated) Count(ctx context.Context, req CountRequest) (uint64, error) {
	return g.inner.Count(ctx, req)
}

func (g *Gated) Next(ctx context.Context, req NextRequest) (Record, error) {
	return g.inner.Next(ctx, req)
}

func (g *Gated) WaitNext(ctx context.Context, req WaitNextRequest) (<-chan WaitNextItem, error) {
	return g.inner.WaitNext(ctx, req)
}

func (g *Gated) Keys(ctx context.Context, req KeysRequest) (<-chan KeyItem, error) {
	return g.inner.Keys(ctx, req)
}

var _ Operations = (*Gated)(nil)
