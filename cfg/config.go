package cfg

import (
	"flag"
	"fmt"
	"hash/fnv"
	"os"
	"regexp"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/rs/zerolog/log"
)

// Supported backend drivers
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// ServerConfiguration controls the listener shared by gRPC and HTTP
type ServerConfiguration struct {
	BindAddress string `toml:"bind_address"`
	Port        int    `toml:"port"`
}

// BackendConfiguration selects the relational store holding topic tables
type BackendConfiguration struct {
	Driver             string `toml:"driver"`               // sqlite3, postgres or mysql
	DSN                string `toml:"dsn"`                  // Driver specific data source name
	Namespace          string `toml:"namespace"`            // Schema (postgres) or database (mysql) listed by TopicService.List
	TablePrefix        string `toml:"table_prefix"`         // Prefix of every topic table name
	StatementCacheSize int    `toml:"statement_cache_size"` // Generated SQL statements kept per process
}

// ConnectionPoolConfiguration controls database connection pooling
type ConnectionPoolConfiguration struct {
	PoolSize           int `toml:"pool_size"`             // Max open connections
	MaxIdle            int `toml:"max_idle"`              // Max idle connections
	AcquireTimeoutMS   int `toml:"acquire_timeout_ms"`    // Max wait for a free connection
	MaxIdleTimeSeconds int `toml:"max_idle_time_seconds"` // Max time connection can be idle
	MaxLifetimeSeconds int `toml:"max_lifetime_seconds"`  // Max lifetime of a connection
}

// QueueConfiguration controls queue semantics
type QueueConfiguration struct {
	Serialize         bool `toml:"serialize"`          // Run queue and topic calls one at a time
	InitiallyWritable bool `toml:"initially_writable"` // Start the read/write gate writable
	DefaultIntervalMS int  `toml:"default_interval_ms"`
	DefaultTimeoutMS  int  `toml:"default_timeout_ms"`
	WakeOnPush        bool `toml:"wake_on_push"` // Re-poll wait-next sessions as soon as a push lands
}

// SinkConfiguration describes one mirror destination for accepted pushes
type SinkConfiguration struct {
	Name            string   `toml:"name"`
	Type            string   `toml:"type"`   // nats, kafka, amqp, redis
	Format          string   `toml:"format"` // json or msgpack
	URL             string   `toml:"url"`
	Brokers         []string `toml:"brokers"`
	Exchange        string   `toml:"exchange"` // amqp: topic exchange, routing key is the destination topic
	MaxLen          int64    `toml:"max_len"`  // redis: approximate stream length cap, 0 keeps everything
	FilterTopics    []string `toml:"filter_topics"` // Glob patterns over topic ids
	TopicPrefix     string   `toml:"topic_prefix"`
	BatchSize       int      `toml:"batch_size"`
	PollIntervalMS  int      `toml:"poll_interval_ms"`
	RetryInitialMS  int      `toml:"retry_initial_ms"`
	RetryMaxMS      int      `toml:"retry_max_ms"`
	RetryMultiplier float64  `toml:"retry_multiplier"`
}

// PublisherConfiguration controls push mirroring
type PublisherConfiguration struct {
	Enabled bool                `toml:"enabled"`
	Sinks   []SinkConfiguration `toml:"sinks"`
}

// AdminConfiguration controls the HTTP admin API
type AdminConfiguration struct {
	Enabled bool   `toml:"enabled"`
	Secret  string `toml:"secret"`
}

// GRPCConfiguration controls the gRPC transport
type GRPCConfiguration struct {
	MaxMessageSizeMB        int `toml:"max_message_size_mb"`
	CompressionLevel        int `toml:"compression_level"` // zstd level, 0 disables
	KeepaliveTimeSeconds    int `toml:"keepalive_time_seconds"`
	KeepaliveTimeoutSeconds int `toml:"keepalive_timeout_seconds"`
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics
type PrometheusConfiguration struct {
	Enabled bool `toml:"enabled"`
}

// Configuration is the main configuration structure
type Configuration struct {
	NodeID  uint64 `toml:"node_id"`
	DataDir string `toml:"data_dir"`

	Server         ServerConfiguration         `toml:"server"`
	Backend        BackendConfiguration        `toml:"backend"`
	ConnectionPool ConnectionPoolConfiguration `toml:"connection_pool"`
	Queue          QueueConfiguration          `toml:"queue"`
	Publisher      PublisherConfiguration      `toml:"publisher"`
	Admin          AdminConfiguration          `toml:"admin"`
	GRPC           GRPCConfiguration           `toml:"grpc"`
	Logging        LoggingConfiguration        `toml:"logging"`
	Prometheus     PrometheusConfiguration     `toml:"prometheus"`
}

// Command line flags
var (
	ConfigPathFlag = flag.String("config", "config.toml", "Path to configuration file")
	DataDirFlag    = flag.String("data-dir", "", "Data directory (overrides config)")
	NodeIDFlag     = flag.Uint64("node-id", 0, "Node ID (overrides config, 0=auto)")
	GRPCPortFlag   = flag.Int("grpc-port", 0, "gRPC port (overrides config)")
	BackendDSNFlag = flag.String("backend-dsn", "", "Backend data source name (overrides config)")
)

// Default configuration
var Config = &Configuration{
	NodeID:  0, // Auto-generate
	DataDir: "./db2q-data",

	Server: ServerConfiguration{
		BindAddress: "0.0.0.0",
		Port:        50051,
	},

	Backend: BackendConfiguration{
		Driver:             DriverSQLite,
		DSN:                "file:db2q.db?_busy_timeout=5000",
		Namespace:          "",
		TablePrefix:        "t",
		StatementCacheSize: 1024,
	},

	ConnectionPool: ConnectionPoolConfiguration{
		PoolSize:           4,
		MaxIdle:            4,
		AcquireTimeoutMS:   1000,
		MaxIdleTimeSeconds: 10,
		MaxLifetimeSeconds: 300,
	},

	Queue: QueueConfiguration{
		Serialize:         true,
		InitiallyWritable: false,
		DefaultIntervalMS: 1000,
		DefaultTimeoutMS:  2000,
		WakeOnPush:        true,
	},

	Publisher: PublisherConfiguration{
		Enabled: false,
	},

	Admin: AdminConfiguration{
		Enabled: true,
	},

	GRPC: GRPCConfiguration{
		MaxMessageSizeMB:        16,
		CompressionLevel:        1,
		KeepaliveTimeSeconds:    10,
		KeepaliveTimeoutSeconds: 3,
	},

	Logging: LoggingConfiguration{
		Verbose: false,
		Format:  "console",
	},

	Prometheus: PrometheusConfiguration{
		Enabled: true,
	},
}

var identifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Load loads configuration from file and applies CLI overrides
func Load(configPath string) error {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	// Apply CLI overrides
	if *DataDirFlag != "" {
		Config.DataDir = *DataDirFlag
	}
	if *NodeIDFlag != 0 {
		Config.NodeID = *NodeIDFlag
	}
	if *GRPCPortFlag != 0 {
		Config.Server.Port = *GRPCPortFlag
	}
	if *BackendDSNFlag != "" {
		Config.Backend.DSN = *BackendDSNFlag
	}

	if Config.NodeID == 0 {
		var err error
		Config.NodeID, err = generateNodeID()
		if err != nil {
			return fmt.Errorf("failed to generate node ID: %w", err)
		}
		log.Info().Uint64("node_id", Config.NodeID).Msg("Auto-generated node ID")
	}

	if err := os.MkdirAll(Config.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	return nil
}

// generateNodeID creates a unique node ID based on machine ID
func generateNodeID() (uint64, error) {
	id, err := machineid.ProtectedID("db2q")
	if err != nil {
		return 0, err
	}

	h := fnv.New64a()
	h.Write([]byte(id))
	return h.Sum64(), nil
}

// Validate checks configuration for errors
func Validate() error {
	if Config.Server.Port < 1 || Config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", Config.Server.Port)
	}

	switch Config.Backend.Driver {
	case DriverSQLite, DriverPostgres, DriverMySQL:
	default:
		return fmt.Errorf("unsupported backend driver: %q", Config.Backend.Driver)
	}

	if Config.Backend.DSN == "" {
		return fmt.Errorf("backend DSN is required")
	}

	if !identifierPattern.MatchString(Config.Backend.TablePrefix) {
		return fmt.Errorf("invalid table prefix %q: must match %s", Config.Backend.TablePrefix, identifierPattern)
	}

	if Config.Backend.StatementCacheSize < 1 {
		return fmt.Errorf("statement cache size must be >= 1")
	}

	if Config.ConnectionPool.PoolSize < 1 {
		return fmt.Errorf("connection pool size must be >= 1")
	}

	if Config.ConnectionPool.MaxIdle < 0 {
		return fmt.Errorf("connection pool max idle must be >= 0")
	}

	if Config.ConnectionPool.AcquireTimeoutMS < 1 {
		return fmt.Errorf("connection pool acquire timeout must be >= 1ms")
	}

	if Config.ConnectionPool.MaxIdleTimeSeconds < 0 {
		return fmt.Errorf("connection pool max idle time must be >= 0")
	}

	if Config.ConnectionPool.MaxLifetimeSeconds < 0 {
		return fmt.Errorf("connection pool max lifetime must be >= 0")
	}

	if Config.Queue.DefaultIntervalMS < 1 {
		return fmt.Errorf("queue default interval must be >= 1ms")
	}

	if Config.Queue.DefaultTimeoutMS < 1 {
		return fmt.Errorf("queue default timeout must be >= 1ms")
	}

	if Config.GRPC.MaxMessageSizeMB < 1 {
		return fmt.Errorf("gRPC max message size must be >= 1MB")
	}

	if Config.GRPC.CompressionLevel < 0 || Config.GRPC.CompressionLevel > 4 {
		return fmt.Errorf("gRPC compression level must be between 0 and 4")
	}

	if Config.GRPC.KeepaliveTimeSeconds < 1 {
		return fmt.Errorf("gRPC keepalive time must be >= 1 second")
	}

	if Config.GRPC.KeepaliveTimeoutSeconds < 1 {
		return fmt.Errorf("gRPC keepalive timeout must be >= 1 second")
	}

	if Config.Publisher.Enabled {
		names := make(map[string]bool, len(Config.Publisher.Sinks))
		for i, s := range Config.Publisher.Sinks {
			if s.Name == "" {
				return fmt.Errorf("publisher sink %d: name is required", i)
			}
			if names[s.Name] {
				return fmt.Errorf("publisher sink %q: duplicate name", s.Name)
			}
			names[s.Name] = true
			if s.Type == "" {
				return fmt.Errorf("publisher sink %q: type is required", s.Name)
			}
		}
	}

	if Config.Logging.Format != "console" && Config.Logging.Format != "json" {
		return fmt.Errorf("invalid logging format: %q", Config.Logging.Format)
	}

	return nil
}
