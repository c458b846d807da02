package telemetry

import (
	"database/sql"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/db2q/db2q/cfg"
)

type fakePool struct{ stats sql.DBStats }

func (f fakePool) Stats() sql.DBStats { return f.stats }

type fakeLag map[string]uint64

func (f fakeLag) Lag() map[string]uint64 { return f }

func TestNoopWhenDisabled(t *testing.T) {
	if registry != nil {
		t.Skip("registry already initialized")
	}
	assert.Nil(t, GetMetricsHandler())

	c := NewCounter("unused_total", "unused")
	_, isNoop := c.(NoopStat)
	assert.True(t, isNoop)

	// Must not panic
	NewCounterVec("x", "x", []string{"a"}).With("b").Inc()
	ObserveSince(NewHistogram("h", "h"), time.Now())
}

func TestMetricsEndpoint(t *testing.T) {
	original := cfg.Config.Prometheus.Enabled
	defer func() {
		cfg.Config.Prometheus.Enabled = original
		registry = nil
	}()

	cfg.Config.Prometheus.Enabled = true
	InitializeTelemetry()
	InitMetrics()

	RequestsTotal.With("QueueService", "PushBack", "OK").Inc()

	mc := NewMetricsCollector(fakePool{stats: sql.DBStats{OpenConnections: 3, InUse: 2, Idle: 1}}, fakeLag{"events": 7}, time.Hour)
	mc.Start()
	mc.Stop()

	handler := GetMetricsHandler()
	require.NotNil(t, handler)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	text := string(body)
	assert.True(t, strings.Contains(text, "db2q_v1_requests_total"), "requests counter exported")
	assert.True(t, strings.Contains(text, `db2q_v1_pool_connections{backend=`), "pool gauge exported")
	assert.True(t, strings.Contains(text, `sink="events"`), "lag gauge exported")
}
