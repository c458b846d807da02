package grpc

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/soheilhy/cmux"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"

	"github.com/db2q/db2q/queue"
	"github.com/db2q/db2q/topic"
)

// ServerConfig holds configuration for the gRPC server
type ServerConfig struct {
	NodeID           uint64
	Address          string
	Port             int
	MaxMessageSizeMB int
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration

	Queue  queue.Operations
	Topics topic.Operations
	Counts ExactCounter
}

// Server serves the db2q gRPC services and the HTTP endpoints on one port
type Server struct {
	config   ServerConfig
	server   *grpc.Server
	httpMux  *http.ServeMux
	http     *http.Server
	listener net.Listener
	mux      cmux.CMux

	mu      sync.Mutex
	started bool
}

// NewServer creates the server and registers the queue, topic and count services
func NewServer(config ServerConfig) (*Server, error) {
	if config.Queue == nil {
		return nil, fmt.Errorf("queue operations are required")
	}
	if config.Topics == nil {
		return nil, fmt.Errorf("topic operations are required")
	}
	if config.Counts == nil {
		return nil, fmt.Errorf("count service is required")
	}
	if config.MaxMessageSizeMB <= 0 {
		config.MaxMessageSizeMB = 16
	}
	if config.KeepaliveTime <= 0 {
		config.KeepaliveTime = 60 * time.Second
	}
	if config.KeepaliveTimeout <= 0 {
		config.KeepaliveTimeout = 10 * time.Second
	}

	maxMsg := config.MaxMessageSizeMB * 1024 * 1024
	server := grpc.NewServer(
		grpc.MaxRecvMsgSize(maxMsg),
		grpc.MaxSendMsgSize(maxMsg),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second, // Minimum time between client pings
			PermitWithoutStream: true,
		}),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    config.KeepaliveTime,
			Timeout: config.KeepaliveTimeout,
		}),
		grpc.ChainUnaryInterceptor(UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(StreamServerInterceptor()),
	)

	RegisterTopicService(server, config.Topics)
	RegisterQueueService(server, config.Queue)
	RegisterCountService(server, config.Counts)
	reflection.Register(server)

	httpMux := http.NewServeMux()
	httpMux.HandleFunc("/debug/pprof/", pprof.Index)
	httpMux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	httpMux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	httpMux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	httpMux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	httpMux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return &Server{
		config:  config,
		server:  server,
		httpMux: httpMux,
	}, nil
}

// SetMetricsHandler sets the Prometheus metrics HTTP handler
func (s *Server) SetMetricsHandler(handler http.Handler) {
	s.httpMux.Handle("/metrics", handler)
	log.Info().Msg("Metrics endpoint enabled at /metrics")
}

// HTTPMux returns the mux served next to gRPC; routes must be added before Start
func (s *Server) HTTPMux() *http.ServeMux {
	return s.httpMux
}

// Start listens on the configured address and serves in the background
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Address, s.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.StartListener(listener)
}

// StartListener serves gRPC and HTTP on an existing listener in the background
func (s *Server) StartListener(listener net.Listener) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("server already started")
	}
	s.started = true
	s.listener = listener

	log.Info().
		Str("address", listener.Addr().String()).
		Uint64("node_id", s.config.NodeID).
		Msg("Starting gRPC server")

	// HTTP/1 requests go to the HTTP mux, everything else is gRPC
	s.mux = cmux.New(listener)
	httpListener := s.mux.Match(cmux.HTTP1Fast())
	grpcListener := s.mux.Match(cmux.Any())

	s.http = &http.Server{
		Handler:           s.httpMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.http.Serve(httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, cmux.ErrListenerClosed) {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	go func() {
		if err := s.server.Serve(grpcListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) && !errors.Is(err, cmux.ErrListenerClosed) {
			log.Error().Err(err).Msg("gRPC server failed")
		}
	}()

	go func() {
		if err := s.mux.Serve(); err != nil && !errors.Is(err, cmux.ErrServerClosed) && !errors.Is(err, net.ErrClosed) {
			log.Debug().Err(err).Msg("cmux stopped")
		}
	}()

	return nil
}

// Addr returns the listening address once started
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop drains in-flight calls and closes the listener
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	log.Info().Msg("Stopping gRPC server")
	s.server.GracefulStop()
	if err := s.http.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close HTTP server")
	}
	s.mux.Close()
	if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		log.Debug().Err(err).Msg("Failed to close listener")
	}
	s.started = false
}
