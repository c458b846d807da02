package telemetry

// Histogram bucket definitions for different latency profiles
var (
	// RequestBuckets for unary queue and topic calls against the backend
	RequestBuckets = []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1}

	// WaitBuckets for long-poll sessions bounded by the caller's timeout
	WaitBuckets = []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30}

	// RetryBuckets for the number of empty polls before a wait-next session ends
	RetryBuckets = []float64{0, 1, 2, 3, 5, 8, 13, 21, 34, 55}

	// SizeBuckets for pushed value sizes in bytes
	SizeBuckets = []float64{16, 64, 256, 1024, 4096, 16384, 65536, 262144, 1048576}
)

// RPC Metrics
var (
	// RequestsTotal counts calls by service, method and status code
	RequestsTotal CounterVec = noopCounterVec{}

	// RequestDurationSeconds measures call latency by service and method
	RequestDurationSeconds HistogramVec = noopHistogramVec{}
)

// Queue Metrics
var (
	// PushesTotal counts accepted pushes
	PushesTotal Counter = NoopStat{}

	// PushBytes measures pushed value sizes
	PushBytes Histogram = NoopStat{}

	// WaitNextTotal counts wait-next sessions by outcome (found, timeout, error, cancelled)
	WaitNextTotal CounterVec = noopCounterVec{}

	// WaitNextRetries measures empty polls per wait-next session
	WaitNextRetries Histogram = NoopStat{}

	// WaitNextSeconds measures wait-next session duration
	WaitNextSeconds Histogram = NoopStat{}

	// KeysStreamedTotal counts keys delivered by key streams
	KeysStreamedTotal Counter = NoopStat{}

	// ActiveStreams tracks live streaming sessions by kind (wait_next, keys)
	ActiveStreams GaugeVec = noopGaugeVec{}

	// GateTransitionsTotal counts read/write mode changes by target mode
	GateTransitionsTotal CounterVec = noopCounterVec{}

	// WritesRejectedTotal counts writes refused while the queue is read only
	WritesRejectedTotal Counter = NoopStat{}

	// LockWaitSeconds measures time waiting for the service lock
	LockWaitSeconds Histogram = NoopStat{}
)

// Backend Pool Metrics
var (
	// PoolConnections tracks backend connections by state (open, in_use, idle)
	PoolConnections GaugeVec = noopGaugeVec{}

	// PoolWaitCount tracks the cumulative number of waits for a connection
	PoolWaitCount Gauge = NoopStat{}

	// PoolWaitSeconds tracks the cumulative time spent waiting for a connection
	PoolWaitSeconds Gauge = NoopStat{}
)

// Publisher Metrics
var (
	// PublisherAppendsTotal counts pushes mirrored to the publish log by result
	PublisherAppendsTotal CounterVec = noopCounterVec{}

	// PublisherEventsTotal counts events delivered per sink by result (published, filtered, failed)
	PublisherEventsTotal CounterVec = noopCounterVec{}

	// PublisherLag tracks events not yet delivered per sink
	PublisherLag GaugeVec = noopGaugeVec{}
)

// InitMetrics initializes all Prometheus metrics.
// Must be called after InitializeTelemetry().
func InitMetrics() {
	// RPC Metrics
	RequestsTotal = NewCounterVec(
		"requests_total",
		"Total calls by service, method and status code",
		[]string{"service", "method", "code"},
	)
	RequestDurationSeconds = NewHistogramVec(
		"request_duration_seconds",
		"Call duration in seconds",
		[]string{"service", "method"},
		RequestBuckets,
	)

	// Queue Metrics
	PushesTotal = NewCounter(
		"pushes_total",
		"Total accepted pushes",
	)
	PushBytes = NewHistogramWithBuckets(
		"push_bytes",
		"Pushed value size in bytes",
		SizeBuckets,
	)
	WaitNextTotal = NewCounterVec(
		"wait_next_total",
		"Wait-next sessions by outcome",
		[]string{"outcome"},
	)
	WaitNextRetries = NewHistogramWithBuckets(
		"wait_next_retries",
		"Empty polls per wait-next session",
		RetryBuckets,
	)
	WaitNextSeconds = NewHistogramWithBuckets(
		"wait_next_seconds",
		"Wait-next session duration in seconds",
		WaitBuckets,
	)
	KeysStreamedTotal = NewCounter(
		"keys_streamed_total",
		"Total keys delivered by key streams",
	)
	ActiveStreams = NewGaugeVec(
		"active_streams",
		"Live streaming sessions by kind",
		[]string{"kind"},
	)
	GateTransitionsTotal = NewCounterVec(
		"gate_transitions_total",
		"Read/write mode changes by target mode",
		[]string{"mode"},
	)
	WritesRejectedTotal = NewCounter(
		"writes_rejected_total",
		"Writes refused while the queue is read only",
	)
	LockWaitSeconds = NewHistogramWithBuckets(
		"lock_wait_seconds",
		"Time waiting for the service lock in seconds",
		RequestBuckets,
	)

	// Backend Pool Metrics
	PoolConnections = NewGaugeVec(
		"pool_connections",
		"Backend connections by state",
		[]string{"state"},
	)
	PoolWaitCount = NewGauge(
		"pool_wait_count",
		"Cumulative number of waits for a backend connection",
	)
	PoolWaitSeconds = NewGauge(
		"pool_wait_seconds",
		"Cumulative seconds spent waiting for a backend connection",
	)

	// Publisher Metrics
	PublisherAppendsTotal = NewCounterVec(
		"publisher_appends_total",
		"Pushes mirrored to the publish log by result",
		[]string{"result"},
	)
	PublisherEventsTotal = NewCounterVec(
		"publisher_events_total",
		"Events handled per sink by result",
		[]string{"sink", "result"},
	)
	PublisherLag = NewGaugeVec(
		"publisher_lag",
		"Events not yet delivered per sink",
		[]string{"sink"},
	)
}
