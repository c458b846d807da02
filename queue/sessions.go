package queue

import (
	"sort"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/db2q/db2q/id"
	"github.com/db2q/db2q/telemetry"
)

// Stream kinds
const (
	KindWaitNext = "wait_next"
	KindKeys     = "keys"
)

// SessionInfo describes one live streaming session
type SessionInfo struct {
	ID        uint64    `json:"id"`
	Kind      string    `json:"kind"`
	RequestID string    `json:"request_id"`
	Topic     string    `json:"topic"`
	Started   time.Time `json:"started"`
	Progress  uint64    `json:"progress"` // Retries for wait_next, keys sent for keys
}

type sessionEntry struct {
	info     SessionInfo
	progress atomic.Uint64
}

// Sessions tracks live streaming sessions
type Sessions struct {
	entries *xsync.MapOf[uint64, *sessionEntry]
	nextID  atomic.Uint64
}

// NewSessions creates an empty registry
func NewSessions() *Sessions {
	return &Sessions{
		entries: xsync.NewMapOf[uint64, *sessionEntry](),
	}
}

func (s *Sessions) register(kind string, request, topic id.UUID) *sessionEntry {
	e := &sessionEntry{
		info: SessionInfo{
			ID:        s.nextID.Add(1),
			Kind:      kind,
			RequestID: request.String(),
			Topic:     topic.String(),
			Started:   time.Now(),
		},
	}
	s.entries.Store(e.info.ID, e)
	telemetry.ActiveStreams.With(kind).Inc()
	return e
}

func (s *Sessions) unregister(e *sessionEntry) {
	if _, ok := s.entries.LoadAndDelete(e.info.ID); ok {
		telemetry.ActiveStreams.With(e.info.Kind).Dec()
	}
}

// Len returns the number of live sessions
func (s *Sessions) Len() int {
	return s.entries.Size()
}

// Snapshot returns the live sessions ordered by start
func (s *Sessions) Snapshot() []SessionInfo {
	out := make([]SessionInfo, 0, s.entries.Size())
	s.entries.Range(func(_ uint64, e *sessionEntry) bool {
		info := e.info
		info.Progress = e.progress.Load()
		out = append(out, info)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
