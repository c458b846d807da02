package publisher

import (
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/db2q/db2q/cfg"
	"github.com/db2q/db2q/id"
	"github.com/db2q/db2q/telemetry"
)

// RegistryConfig configures the publisher registry
type RegistryConfig struct {
	DataDir     string                  // Parent of the publish log directory
	NodeID      uint64                  // Stamped on every event
	SinkConfigs []cfg.SinkConfiguration // From config
}

// Registry owns the publish log and one worker per sink.
// It receives accepted pushes through Mirror.
type Registry struct {
	log     *PublishLog
	workers []*Worker
	nodeID  uint64
	running atomic.Bool
	mu      sync.Mutex
}

// NewRegistry opens the publish log and creates a worker per sink
func NewRegistry(config RegistryConfig) (*Registry, error) {
	if config.DataDir == "" {
		return nil, fmt.Errorf("data directory is required")
	}

	pubLog, err := NewPublishLog(filepath.Join(config.DataDir, "publish_log"))
	if err != nil {
		return nil, fmt.Errorf("failed to create publish log: %w", err)
	}

	registry := &Registry{
		log:     pubLog,
		workers: make([]*Worker, 0, len(config.SinkConfigs)),
		nodeID:  config.NodeID,
	}

	for _, sinkCfg := range config.SinkConfigs {
		if err := registry.AddSink(sinkCfg); err != nil {
			for _, worker := range registry.workers {
				worker.config.Sink.Close()
			}
			pubLog.Close()
			return nil, fmt.Errorf("failed to add sink %q: %w", sinkCfg.Name, err)
		}
	}

	log.Info().
		Int("workers", len(registry.workers)).
		Msg("Publisher registry initialized")

	return registry, nil
}

// AddSink creates and adds a worker for the given sink configuration
func (r *Registry) AddSink(config cfg.SinkConfiguration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snk, err := createSink(config)
	if err != nil {
		return fmt.Errorf("failed to create sink: %w", err)
	}

	trans, err := createTransformer(config.Format)
	if err != nil {
		snk.Close()
		return fmt.Errorf("failed to create transformer: %w", err)
	}

	filter, err := NewGlobFilter(config.FilterTopics)
	if err != nil {
		snk.Close()
		return fmt.Errorf("failed to create filter: %w", err)
	}

	worker, err := NewWorker(WorkerConfig{
		Name:            config.Name,
		Log:             r.log,
		Sink:            snk,
		Transformer:     trans,
		Filter:          filter,
		TopicPrefix:     config.TopicPrefix,
		BatchSize:       config.BatchSize,
		PollInterval:    time.Duration(config.PollIntervalMS) * time.Millisecond,
		RetryInitial:    time.Duration(config.RetryInitialMS) * time.Millisecond,
		RetryMax:        time.Duration(config.RetryMaxMS) * time.Millisecond,
		RetryMultiplier: config.RetryMultiplier,
	})
	if err != nil {
		snk.Close()
		return fmt.Errorf("failed to create worker: %w", err)
	}

	r.workers = append(r.workers, worker)
	if r.running.Load() {
		worker.Start()
	}

	log.Info().
		Str("sink", config.Name).
		Str("type", config.Type).
		Str("format", config.Format).
		Msg("Added publisher sink")

	return nil
}

// Start starts all workers
func (r *Registry) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running.Load() {
		return fmt.Errorf("registry already running")
	}

	for _, worker := range r.workers {
		worker.Start()
	}
	r.running.Store(true)

	return nil
}

// Stop stops all workers, closes their sinks and closes the publish log
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running.Swap(false) {
		return
	}

	for _, worker := range r.workers {
		worker.Stop()
		if err := worker.config.Sink.Close(); err != nil {
			log.Warn().Err(err).Str("sink", worker.config.Name).Msg("Failed to close sink")
		}
	}

	if err := r.log.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close publish log")
	}

	log.Info().Msg("Publisher registry stopped")
}

// Mirror appends one accepted push to the publish log
func (r *Registry) Mirror(topic id.UUID, key int64, value []byte, at time.Time) error {
	if !r.running.Load() {
		telemetry.PublisherAppendsTotal.With("rejected").Inc()
		return fmt.Errorf("registry not running")
	}

	events := []PushEvent{NewPushEvent(topic, key, value, at, r.nodeID)}
	if err := r.log.Append(events); err != nil {
		telemetry.PublisherAppendsTotal.With("failed").Inc()
		return err
	}

	telemetry.PublisherAppendsTotal.With("ok").Inc()
	return nil
}

// Lag reports undelivered events per sink
func (r *Registry) Lag() map[string]uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	lag := make(map[string]uint64, len(r.workers))
	for _, worker := range r.workers {
		lag[worker.config.Name] = r.log.Lag(worker.config.Name)
	}
	return lag
}

// createSink creates a sink based on the configuration
func createSink(config cfg.SinkConfiguration) (Sink, error) {
	factory, exists := SinkFactoryFor(config.Type)
	if !exists {
		return nil, fmt.Errorf("unknown sink type: %s", config.Type)
	}

	return factory(config)
}

// SinkFactory is a function that creates a Sink from a configuration
type SinkFactory func(cfg.SinkConfiguration) (Sink, error)

// TransformerFactory is a function that creates a Transformer
type TransformerFactory func() Transformer

var (
	sinkFactories        = make(map[string]SinkFactory)
	transformerFactories = map[string]TransformerFactory{
		FormatJSON:    func() Transformer { return JSONTransformer{} },
		FormatMsgpack: func() Transformer { return MsgpackTransformer{} },
	}
	factoryMu sync.RWMutex
)

// RegisterSink registers a sink factory for a type
func RegisterSink(sinkType string, factory SinkFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	sinkFactories[sinkType] = factory
}

// SinkFactoryFor returns the factory registered for a sink type
func SinkFactoryFor(sinkType string) (SinkFactory, bool) {
	factoryMu.RLock()
	defer factoryMu.RUnlock()
	factory, ok := sinkFactories[sinkType]
	return factory, ok
}

// RegisterTransformer registers a transformer factory for a format
func RegisterTransformer(format string, factory TransformerFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	transformerFactories[format] = factory
}

// createTransformer creates a transformer based on the format; empty means JSON
func createTransformer(format string) (Transformer, error) {
	if format == "" {
		format = FormatJSON
	}

	factoryMu.RLock()
	factory, exists := transformerFactories[format]
	factoryMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown format: %s", format)
	}

	return factory(), nil
}
