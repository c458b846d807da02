package main

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// OpType is a benchmark operation
type OpType int

const (
	OpPush OpType = iota
	OpNext
)

// Stats tracks benchmark statistics using atomic operations.
type Stats struct {
	pushOps  uint64
	nextOps  uint64
	empty    uint64 // Next calls that found nothing new
	pushErrs uint64
	nextErrs uint64

	// Latency tracking (microseconds)
	mu        sync.Mutex
	latencies []int64
}

// NewStats creates a new stats tracker.
func NewStats() *Stats {
	return &Stats{
		latencies: make([]int64, 0, 100000),
	}
}

// RecordOp records a successful operation.
func (s *Stats) RecordOp(op OpType, latency time.Duration) {
	switch op {
	case OpPush:
		atomic.AddUint64(&s.pushOps, 1)
	case OpNext:
		atomic.AddUint64(&s.nextOps, 1)
	}

	s.mu.Lock()
	s.latencies = append(s.latencies, latency.Microseconds())
	s.mu.Unlock()
}

// RecordEmpty records a read that reached the end of a topic.
func (s *Stats) RecordEmpty() {
	atomic.AddUint64(&s.empty, 1)
}

// RecordError records a failed operation.
func (s *Stats) RecordError(op OpType) {
	switch op {
	case OpPush:
		atomic.AddUint64(&s.pushErrs, 1)
	case OpNext:
		atomic.AddUint64(&s.nextErrs, 1)
	}
}

// Snapshot is a copy of the counters.
type Snapshot struct {
	PushOps uint64
	NextOps uint64
	Empty   uint64
	Errors  uint64
}

// Total returns successful operations in the snapshot.
func (s Snapshot) Total() uint64 {
	return s.PushOps + s.NextOps
}

// GetSnapshot returns current stats snapshot.
func (s *Stats) GetSnapshot() Snapshot {
	return Snapshot{
		PushOps: atomic.LoadUint64(&s.pushOps),
		NextOps: atomic.LoadUint64(&s.nextOps),
		Empty:   atomic.LoadUint64(&s.empty),
		Errors:  atomic.LoadUint64(&s.pushErrs) + atomic.LoadUint64(&s.nextErrs),
	}
}

// GetLatencyPercentiles returns p50, p90, p99 in microseconds.
func (s *Stats) GetLatencyPercentiles() (p50, p90, p99 int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.latencies) == 0 {
		return 0, 0, 0
	}

	sorted := make([]int64, len(s.latencies))
	copy(sorted, s.latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	return nearestRank(sorted, 50), nearestRank(sorted, 90), nearestRank(sorted, 99)
}

// nearestRank returns the smallest sample with at least pct percent of samples at or below it
func nearestRank(sorted []int64, pct int) int64 {
	rank := (pct*len(sorted) + 99) / 100
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}

// PrintFinal prints final statistics.
func (s *Stats) PrintFinal(elapsed time.Duration) {
	snap := s.GetSnapshot()

	fmt.Println()
	fmt.Printf("Total time:    %.2fs\n", elapsed.Seconds())
	fmt.Printf("Throughput:    %.2f ops/sec\n", float64(snap.Total())/elapsed.Seconds())
	fmt.Println()

	fmt.Println("Operations:")
	fmt.Printf("  PUSH:   %d\n", snap.PushOps)
	fmt.Printf("  NEXT:   %d (%d at end of topic)\n", snap.NextOps, snap.Empty)
	fmt.Printf("  TOTAL:  %d\n", snap.Total())
	fmt.Println()

	if snap.Errors > 0 {
		fmt.Println("Errors:")
		fmt.Printf("  PUSH errors: %d\n", atomic.LoadUint64(&s.pushErrs))
		fmt.Printf("  NEXT errors: %d\n", atomic.LoadUint64(&s.nextErrs))
		fmt.Println()
	}

	p50, p90, p99 := s.GetLatencyPercentiles()
	fmt.Println("Latency (microseconds):")
	fmt.Printf("  P50:   %d\n", p50)
	fmt.Printf("  P90:   %d\n", p90)
	fmt.Printf("  P99:   %d\n", p99)
}
