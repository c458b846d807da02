package hlc

import (
	"sync"
	"time"
)

// Clock is a hybrid logical clock used to mint roughly time-ordered request ids
type Clock struct {
	nodeID   uint64
	wallTime int64
	logical  uint32
	mu       sync.Mutex
}

// Timestamp represents one tick of the clock
type Timestamp struct {
	WallTime int64
	Logical  uint32
	NodeID   uint64
}

// NewClock creates a new HLC instance
func NewClock(nodeID uint64) *Clock {
	return &Clock{
		nodeID:   nodeID,
		wallTime: time.Now().UnixNano(),
	}
}

// Now generates a new timestamp for a local event.
// Timestamps from one clock are strictly increasing even if the wall clock steps back.
func (c *Clock) Now() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	physicalNow := time.Now().UnixNano()
	if physicalNow > c.wallTime {
		c.wallTime = physicalNow
		c.logical = 0
	} else {
		c.logical++
		// Logical wrapped: borrow one nanosecond from the future
		if c.logical == 0 {
			c.wallTime++
		}
	}

	return Timestamp{
		WallTime: c.wallTime,
		Logical:  c.logical,
		NodeID:   c.nodeID,
	}
}

// Compare compares two timestamps
// Returns: -1 if a < b, 0 if a == b, 1 if a > b
func Compare(a, b Timestamp) int {
	switch {
	case a.WallTime < b.WallTime:
		return -1
	case a.WallTime > b.WallTime:
		return 1
	case a.Logical < b.Logical:
		return -1
	case a.Logical > b.Logical:
		return 1
	case a.NodeID < b.NodeID:
		return -1
	case a.NodeID > b.NodeID:
		return 1
	}
	return 0
}

// After returns true if a happened after b
func After(a, b Timestamp) bool {
	return Compare(a, b) > 0
}

// PhysicalTime returns the physical time component as time.Time
func (t Timestamp) PhysicalTime() time.Time {
	return time.Unix(0, t.WallTime)
}

// String returns a human-readable representation
func (t Timestamp) String() string {
	return t.PhysicalTime().Format(time.RFC3339Nano)
}

// Halves packs the timestamp into two 64-bit words.
//
// Layout:
//   - hi: wall time in nanoseconds
//   - lo: node id in the upper 32 bits, logical counter in the lower 32 bits
//
// Ordering of (hi, lo) matches Compare for timestamps of a single node.
func (t Timestamp) Halves() (hi, lo uint64) {
	return uint64(t.WallTime), (t.NodeID << 32) | uint64(t.Logical)
}
