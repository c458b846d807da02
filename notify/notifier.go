package notify

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	"github.com/db2q/db2q/id"
)

// defaultSignalBufferSize is the buffer size for push signal channels.
// A waiter only needs to know that something landed, so drops are harmless.
const defaultSignalBufferSize = 4

const shardCount = 32

// Signal announces that a record was appended to a topic
type Signal struct {
	Topic id.UUID
	Key   int64
}

// subscription represents a single subscriber.
type subscription struct {
	id     uint64
	topic  id.UUID
	ch     chan Signal
	closed atomic.Bool
}

// close closes the subscription channel if not already closed.
func (s *subscription) close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.ch)
	}
}

type shard struct {
	mu            sync.RWMutex
	subscriptions map[uint64]*subscription
}

// Hub is a thread-safe notification hub for push signals.
// Subscriptions are spread across shards by topic hash.
type Hub struct {
	shards [shardCount]shard
	nextID atomic.Uint64
}

// NewHub creates a new push notification hub.
func NewHub() *Hub {
	h := &Hub{}
	for i := range h.shards {
		h.shards[i].subscriptions = make(map[uint64]*subscription)
	}
	return h
}

func (h *Hub) shardFor(topic id.UUID) *shard {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], topic.Hi)
	binary.BigEndian.PutUint64(buf[8:], topic.Lo)
	return &h.shards[xxhash.Sum64(buf[:])%shardCount]
}

// Signal sends a push signal to all subscribers of the topic (non-blocking).
func (h *Hub) Signal(topic id.UUID, key int64) {
	signal := Signal{Topic: topic, Key: key}

	s := h.shardFor(topic)
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sub := range s.subscriptions {
		if sub.topic != topic {
			continue
		}

		// Non-blocking send - drop if buffer full
		select {
		case sub.ch <- signal:
		default:
		}
	}
}

// Subscribe creates a new subscription for one topic and returns the signal channel and cancel function.
// The cancel function is idempotent.
func (h *Hub) Subscribe(topic id.UUID) (<-chan Signal, func()) {
	sub := &subscription{
		id:    h.nextID.Add(1),
		topic: topic,
		ch:    make(chan Signal, defaultSignalBufferSize),
	}

	s := h.shardFor(topic)
	s.mu.Lock()
	s.subscriptions[sub.id] = sub
	s.mu.Unlock()

	cancel := func() {
		h.unsubscribe(s, sub.id)
	}

	return sub.ch, cancel
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	n := 0
	for i := range h.shards {
		s := &h.shards[i]
		s.mu.RLock()
		n += len(s.subscriptions)
		s.mu.RUnlock()
	}
	return n
}

// unsubscribe removes a subscription and closes its channel.
func (h *Hub) unsubscribe(s *shard, id uint64) {
	s.mu.Lock()
	sub, ok := s.subscriptions[id]
	if ok {
		delete(s.subscriptions, id)
	}
	s.mu.Unlock()

	if ok {
		sub.close()
	}
}
