// Package guard serializes queue and topic calls through one exclusive region.
package guard

import (
	"context"
	"time"

	"google.golang.org/grpc/status"

	"github.com/db2q/db2q/id"
	"github.com/db2q/db2q/queue"
	"github.com/db2q/db2q/telemetry"
	"github.com/db2q/db2q/topic"
)

// Locked runs every call of the wrapped services one at a time.
// Streaming calls hold the region only while the stream starts; producers run outside it.
type Locked struct {
	queue queue.Operations
	topic topic.Operations
	sem   chan struct{}
}

// NewLocked wraps q and t behind a shared exclusive region
func NewLocked(q queue.Operations, t topic.Operations) *Locked {
	return &Locked{
		queue: q,
		topic: t,
		sem:   make(chan struct{}, 1),
	}
}

// acquire blocks until the region is free or ctx ends
func (l *Locked) acquire(ctx context.Context) error {
	start := time.Now()
	select {
	case l.sem <- struct{}{}:
		telemetry.ObserveSince(telemetry.LockWaitSeconds, start)
		return nil
	case <-ctx.Done():
		return status.FromContextError(ctx.Err()).Err()
	}
}

func (l *Locked) release() {
	<-l.sem
}

func (l *Locked) PushBack(ctx context.Context, req queue.PushRequest) (time.Time, error) {
	if err := l.acquire(ctx); err != nil {
		return time.Time{}, err
	}
	defer l.release()
	return l.queue.PushBack(ctx, req)
}

func (l *Locked) PopFront(ctx context.Context, req queue.PopRequest) error {
	if err := l.acquire(ctx); err != nil {
		return err
	}
	defer l.release()
	return l.queue.PopFront(ctx, req)
}

func (l *Locked) Count(ctx context.Context, req queue.CountRequest) (uint64, error) {
	if err := l.acquire(ctx); err != nil {
		return 0, err
	}
	defer l.release()
	return l.queue.Count(ctx, req)
}

func (l *Locked) Next(ctx context.Context, req queue.NextRequest) (queue.Record, error) {
	if err := l.acquire(ctx); err != nil {
		return queue.Record{}, err
	}
	defer l.release()
	return l.queue.Next(ctx, req)
}

func (l *Locked) WaitNext(ctx context.Context, req queue.WaitNextRequest) (<-chan queue.WaitNextItem, error) {
	if err := l.acquire(ctx); err != nil {
		return nil, err
	}
	defer l.release()
	return l.queue.WaitNext(ctx, req)
}

func (l *Locked) Keys(ctx context.Context, req queue.KeysRequest) (<-chan queue.KeyItem, error) {
	if err := l.acquire(ctx); err != nil {
		return nil, err
	}
	defer l.release()
	return l.queue.Keys(ctx, req)
}

func (l *Locked) Create(ctx context.Context, req topic.CreateRequest) (time.Time, error) {
	if err := l.acquire(ctx); err != nil {
		return time.Time{}, err
	}
	defer l.release()
	return l.topic.Create(ctx, req)
}

func (l *Locked) Drop(ctx context.Context, req topic.DropRequest) (time.Time, error) {
	if err := l.acquire(ctx); err != nil {
		return time.Time{}, err
	}
	defer l.release()
	return l.topic.Drop(ctx, req)
}

func (l *Locked) List(ctx context.Context, req topic.ListRequest) ([]id.UUID, error) {
	if err := l.acquire(ctx); err != nil {
		return nil, err
	}
	defer l.release()
	return l.topic.List(ctx, req)
}

var (
	_ queue.Operations = (*Locked)(nil)
	_ topic.Operations = (*Locked)(nil)
)
