package telemetry

import (
	"database/sql"
	"sync"
	"time"
)

// PoolStatsProvider exposes backend pool statistics
type PoolStatsProvider interface {
	Stats() sql.DBStats
}

// LagProvider reports undelivered events per sink
type LagProvider interface {
	Lag() map[string]uint64
}

// MetricsCollector periodically collects stats and updates telemetry gauges
type MetricsCollector struct {
	pool     PoolStatsProvider
	lag      LagProvider
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewMetricsCollector creates a new metrics collector; lag may be nil
func NewMetricsCollector(pool PoolStatsProvider, lag LagProvider, interval time.Duration) *MetricsCollector {
	return &MetricsCollector{
		pool:     pool,
		lag:      lag,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic collection
func (mc *MetricsCollector) Start() {
	mc.wg.Add(1)
	go mc.collectLoop()
}

// Stop stops the collector
func (mc *MetricsCollector) Stop() {
	close(mc.stopCh)
	mc.wg.Wait()
}

func (mc *MetricsCollector) collectLoop() {
	defer mc.wg.Done()

	ticker := time.NewTicker(mc.interval)
	defer ticker.Stop()

	mc.collect()

	for {
		select {
		case <-ticker.C:
			mc.collect()
		case <-mc.stopCh:
			return
		}
	}
}

func (mc *MetricsCollector) collect() {
	if mc.pool != nil {
		stats := mc.pool.Stats()
		PoolConnections.With("open").Set(float64(stats.OpenConnections))
		PoolConnections.With("in_use").Set(float64(stats.InUse))
		PoolConnections.With("idle").Set(float64(stats.Idle))
		PoolWaitCount.Set(float64(stats.WaitCount))
		PoolWaitSeconds.Set(stats.WaitDuration.Seconds())
	}

	if mc.lag != nil {
		for sink, lag := range mc.lag.Lag() {
			PublisherLag.With(sink).Set(float64(lag))
		}
	}
}
