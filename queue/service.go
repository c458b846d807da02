package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/db2q/db2q/cfg"
	"github.com/db2q/db2q/notify"
	"github.com/db2q/db2q/storage"
	"github.com/db2q/db2q/telemetry"
	"github.com/db2q/db2q/topic"
)

const (
	// DefaultInterval applies when a wait-next request carries no usable interval
	DefaultInterval = 1000 * time.Millisecond
	// DefaultTimeout applies when a wait-next request carries no usable timeout
	DefaultTimeout = 2000 * time.Millisecond
)

const msgPopUnsupported = "No plan to pop(delete) a queue(row) from a table for now"

// ServiceConfig wires a Service
type ServiceConfig struct {
	Pool            *storage.Pool
	Codec           topic.Codec
	Hub             *notify.Hub // Optional: push signals waking wait-next sessions
	Mirror          Mirror      // Optional: receives accepted pushes
	Sessions        *Sessions   // Optional: registry of live streams
	DefaultInterval time.Duration
	DefaultTimeout  time.Duration
}

// Service implements Operations against the backend pool.
// Every call acquires its own connection.
type Service struct {
	pool            *storage.Pool
	codec           topic.Codec
	hub             *notify.Hub
	mirror          Mirror
	sessions        *Sessions
	defaultInterval time.Duration
	defaultTimeout  time.Duration
}

// NewService creates a queue service
func NewService(c ServiceConfig) (*Service, error) {
	if c.Pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if c.Codec == nil {
		return nil, fmt.Errorf("codec is required")
	}
	if c.DefaultInterval <= 0 {
		c.DefaultInterval = DefaultInterval
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = DefaultTimeout
	}
	if c.Sessions == nil {
		c.Sessions = NewSessions()
	}

	return &Service{
		pool:            c.Pool,
		codec:           c.Codec,
		hub:             c.Hub,
		mirror:          c.Mirror,
		sessions:        c.Sessions,
		defaultInterval: c.DefaultInterval,
		defaultTimeout:  c.DefaultTimeout,
	}, nil
}

// Sessions returns the live stream registry
func (s *Service) Sessions() *Sessions {
	return s.sessions
}

// PushBack appends the value and returns the time the append completed
func (s *Service) PushBack(ctx context.Context, req PushRequest) (time.Time, error) {
	sess, err := s.pool.Acquire(ctx)
	if err != nil {
		return time.Time{}, err
	}
	defer sess.Close()

	key, err := sess.Append(ctx, s.codec.Encode(req.Topic), req.Value)
	if err != nil {
		return time.Time{}, err
	}
	at := time.Now()

	telemetry.PushesTotal.Inc()
	telemetry.PushBytes.Observe(float64(len(req.Value)))

	if s.hub != nil {
		s.hub.Signal(req.Topic, key)
	}
	if s.mirror != nil {
		if err := s.mirror.Mirror(req.Topic, key, req.Value, at); err != nil {
			log.Warn().
				Err(err).
				Str("request_id", req.RequestID.String()).
				Str("topic", req.Topic.String()).
				Int64("key", key).
				Msg("Failed to mirror push")
		}
	}

	return at, nil
}

// PopFront is not supported: records are never deleted
func (s *Service) PopFront(context.Context, PopRequest) error {
	return status.Error(codes.Unimplemented, msgPopUnsupported)
}

// Count returns the number of records in the topic
func (s *Service) Count(ctx context.Context, req CountRequest) (uint64, error) {
	sess, err := s.pool.Acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer sess.Close()

	return sess.Count(ctx, s.codec.Encode(req.Topic))
}

// Next returns the first record, or the first record after req.Previous
func (s *Service) Next(ctx context.Context, req NextRequest) (Record, error) {
	sess, err := s.pool.Acquire(ctx)
	if err != nil {
		return Record{}, err
	}
	defer sess.Close()

	return next(ctx, sess, s.codec.Encode(req.Topic), req.Previous)
}

func next(ctx context.Context, sess *storage.Session, table string, previous int64) (Record, error) {
	if previous < 0 {
		return sess.First(ctx, table)
	}
	return sess.After(ctx, table, previous)
}

// WaitNext starts a long-poll session; see WaitNextRequest
func (s *Service) WaitNext(ctx context.Context, req WaitNextRequest) (<-chan WaitNextItem, error) {
	sess, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	p := &poller{
		session:  sess,
		table:    s.codec.Encode(req.Topic),
		topic:    req.Topic,
		request:  req.RequestID,
		previous: req.Previous,
		interval: s.interval(req.Interval),
		timeout:  s.timeout(req.Timeout),
		out:      make(chan WaitNextItem, 1),
		entry:    s.sessions.register(KindWaitNext, req.RequestID, req.Topic),
		sessions: s.sessions,
	}
	if s.hub != nil {
		p.wake, p.unsubscribe = s.hub.Subscribe(req.Topic)
	}

	go p.run(ctx)
	return p.out, nil
}

func (s *Service) interval(d time.Duration) time.Duration {
	if d <= 0 {
		d = s.defaultInterval
	}
	return cfg.ClampInterval(d)
}

func (s *Service) timeout(d time.Duration) time.Duration {
	if d <= 0 {
		return s.defaultTimeout
	}
	return d
}

// Keys starts a key stream; see KeysRequest
func (s *Service) Keys(ctx context.Context, req KeysRequest) (<-chan KeyItem, error) {
	out := make(chan KeyItem, 1)
	if req.Limit == 0 {
		close(out)
		return out, nil
	}

	sess, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	st := &keyStreamer{
		session:  sess,
		table:    s.codec.Encode(req.Topic),
		limit:    req.Limit,
		request:  req.RequestID,
		topic:    req.Topic,
		out:      out,
		entry:    s.sessions.register(KindKeys, req.RequestID, req.Topic),
		sessions: s.sessions,
	}
	go st.run(ctx)
	return out, nil
}

var _ Operations = (*Service)(nil)
