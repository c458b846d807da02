package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/db2q/db2q/admin"
	"github.com/db2q/db2q/cfg"
	"github.com/db2q/db2q/count"
	db2qgrpc "github.com/db2q/db2q/grpc"
	"github.com/db2q/db2q/guard"
	"github.com/db2q/db2q/hlc"
	"github.com/db2q/db2q/id"
	"github.com/db2q/db2q/notify"
	"github.com/db2q/db2q/publisher"
	_ "github.com/db2q/db2q/publisher/sink"
	"github.com/db2q/db2q/queue"
	"github.com/db2q/db2q/storage"
	"github.com/db2q/db2q/telemetry"
	"github.com/db2q/db2q/topic"
)

func main() {
	flag.Parse()

	// Load configuration
	err := cfg.Load(*cfg.ConfigPathFlag)
	if err != nil {
		panic(err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	// Setup logging
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Uint64("node_id", cfg.Config.NodeID).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	log.Info().Msg("db2q - queues over relational tables")
	log.Debug().Msg("Initializing telemetry")
	telemetry.InitializeTelemetry()
	telemetry.InitMetrics()
	db2qgrpc.RegisterZstdCompressor(cfg.Config.GRPC.CompressionLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatal().Err(err).Msg("db2q stopped with an error")
	}
	log.Info().Msg("db2q stopped")
}

func run(ctx context.Context) error {
	log.Info().
		Str("driver", cfg.Config.Backend.Driver).
		Msg("Opening backend pool")
	pool, err := storage.Open(storage.OptionsFromConfig(cfg.Config))
	if err != nil {
		return fmt.Errorf("failed to open backend: %w", err)
	}
	defer pool.Close()

	codec, err := topic.NewPrefixCodec(cfg.Config.Backend.TablePrefix)
	if err != nil {
		return err
	}

	var hub *notify.Hub
	if cfg.Config.Queue.WakeOnPush {
		hub = notify.NewHub()
	}

	var registry *publisher.Registry
	var mirror queue.Mirror
	if cfg.Config.Publisher.Enabled {
		registry, err = publisher.NewRegistry(publisher.RegistryConfig{
			DataDir:     cfg.Config.DataDir,
			NodeID:      cfg.Config.NodeID,
			SinkConfigs: cfg.Config.Publisher.Sinks,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize publisher: %w", err)
		}
		if err := registry.Start(); err != nil {
			return err
		}
		defer registry.Stop()
		mirror = registry
	}

	sessions := queue.NewSessions()
	queueService, err := queue.NewService(queue.ServiceConfig{
		Pool:            pool,
		Codec:           codec,
		Hub:             hub,
		Mirror:          mirror,
		Sessions:        sessions,
		DefaultInterval: time.Duration(cfg.Config.Queue.DefaultIntervalMS) * time.Millisecond,
		DefaultTimeout:  time.Duration(cfg.Config.Queue.DefaultTimeoutMS) * time.Millisecond,
	})
	if err != nil {
		return err
	}

	topicService, err := topic.NewService(pool, codec)
	if err != nil {
		return err
	}

	countService, err := count.NewService(pool, codec)
	if err != nil {
		return err
	}

	gate := queue.NewGate(cfg.Config.Queue.InitiallyWritable)
	gateCtx, stopGate := context.WithCancel(context.Background())
	go gate.Run(gateCtx)
	defer func() {
		stopGate()
		<-gate.Done()
	}()

	var queueOps queue.Operations = queue.NewGated(queueService, gate)
	var topicOps topic.Operations = topicService
	if cfg.Config.Queue.Serialize {
		locked := guard.NewLocked(queueOps, topicOps)
		queueOps, topicOps = locked, locked
		log.Info().Msg("Queue and topic calls are serialized")
	}

	server, err := db2qgrpc.NewServer(db2qgrpc.ServerConfig{
		NodeID:           cfg.Config.NodeID,
		Address:          cfg.Config.Server.BindAddress,
		Port:             cfg.Config.Server.Port,
		MaxMessageSizeMB: cfg.Config.GRPC.MaxMessageSizeMB,
		KeepaliveTime:    time.Duration(cfg.Config.GRPC.KeepaliveTimeSeconds) * time.Second,
		KeepaliveTimeout: time.Duration(cfg.Config.GRPC.KeepaliveTimeoutSeconds) * time.Second,
		Queue:            queueOps,
		Topics:           topicOps,
		Counts:           countService,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize gRPC server: %w", err)
	}

	if handler := telemetry.GetMetricsHandler(); handler != nil {
		server.SetMetricsHandler(handler)
	}

	var lag telemetry.LagProvider
	if registry != nil {
		lag = registry
	}

	if cfg.Config.Admin.Enabled {
		handlers, err := admin.NewAdminHandlers(admin.Config{
			Gate:     gate,
			Topics:   topicOps,
			Sessions: sessions,
			Backend:  pool,
			Lag:      lag,
			IDs:      id.NewHLCGenerator(hlc.NewClock(cfg.Config.NodeID)),
			Secret:   cfg.Config.Admin.Secret,
		})
		if err != nil {
			return err
		}
		admin.RegisterRoutes(server.HTTPMux(), handlers)
	}

	collector := telemetry.NewMetricsCollector(pool, lag, 10*time.Second)
	collector.Start()
	defer collector.Stop()

	if err := server.Start(); err != nil {
		return fmt.Errorf("failed to start gRPC server: %w", err)
	}
	defer server.Stop()

	log.Info().
		Uint64("node_id", cfg.Config.NodeID).
		Int("port", cfg.Config.Server.Port).
		Bool("writable", cfg.Config.Queue.InitiallyWritable).
		Str("data_dir", cfg.Config.DataDir).
		Msg("Node is operational")

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	return nil
}
