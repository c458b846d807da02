package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/db2q/db2q/cfg"
	"github.com/db2q/db2q/publisher"
)

func init() {
	publisher.RegisterSink("redis", func(config cfg.SinkConfiguration) (publisher.Sink, error) {
		if config.URL == "" {
			return nil, fmt.Errorf("redis sink requires url")
		}
		opts, err := redis.ParseURL(config.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		return NewRedisSink(redis.NewClient(opts), config.MaxLen)
	})
}

// streamAdder is the subset of the go-redis client used by the sink
type streamAdder interface {
	Ping(ctx context.Context) *redis.StatusCmd
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	Close() error
}

// RedisSink appends to one Redis stream per destination topic
type RedisSink struct {
	cli    streamAdder
	maxLen int64
}

// NewRedisSink verifies the client is reachable and takes ownership of it
func NewRedisSink(cli streamAdder, maxLen int64) (*RedisSink, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := cli.Ping(ctx).Err(); err != nil {
		cli.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisSink{cli: cli, maxLen: maxLen}, nil
}

// Publish adds an entry with fields "k" (record key) and "p" (payload)
func (r *RedisSink) Publish(topic, key string, value []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	args := &redis.XAddArgs{
		Stream: topic,
		Values: map[string]interface{}{"k": key, "p": value},
	}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}
	if err := r.cli.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to append to stream %s: %w", topic, err)
	}
	return nil
}

// Close closes the client
func (r *RedisSink) Close() error {
	return r.cli.Close()
}
