package admin

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/db2q/db2q/id"
	"github.com/db2q/db2q/queue"
	"github.com/db2q/db2q/telemetry"
	"github.com/db2q/db2q/topic"
)

// Backend is the part of the storage pool the admin API reports on
type Backend interface {
	Ping(ctx context.Context) error
	Stats() sql.DBStats
}

// Config wires the admin handlers
type Config struct {
	Gate     *queue.Gate
	Topics   topic.Operations
	Sessions *queue.Sessions
	Backend  Backend
	Lag      telemetry.LagProvider // Optional: publisher lag per sink
	IDs      id.Generator          // Request ids for calls made on behalf of the API
	Secret   string                // Empty disables authentication
}

// AdminHandlers serves the admin API
type AdminHandlers struct {
	config Config
}

// NewAdminHandlers creates the handlers
func NewAdminHandlers(config Config) (*AdminHandlers, error) {
	if config.Gate == nil {
		return nil, fmt.Errorf("gate is required")
	}
	if config.Topics == nil {
		return nil, fmt.Errorf("topic operations are required")
	}
	if config.Sessions == nil {
		return nil, fmt.Errorf("sessions registry is required")
	}
	if config.Backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	if config.IDs == nil {
		return nil, fmt.Errorf("id generator is required")
	}
	return &AdminHandlers{config: config}, nil
}

// writeJSONResponse writes a successful JSON response
func writeJSONResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": data}); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error JSON response
func writeErrorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"error": message}); err != nil {
		log.Error().Err(err).Msg("Failed to encode error response")
	}
}

// writeStatusError maps a gRPC status error onto an HTTP error response
func writeStatusError(w http.ResponseWriter, err error) {
	st := status.Convert(err)
	writeErrorResponse(w, httpStatusFor(st.Code()), st.Message())
}

func httpStatusFor(code codes.Code) int {
	switch code {
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.NotFound:
		return http.StatusNotFound
	case codes.AlreadyExists:
		return http.StatusConflict
	case codes.FailedPrecondition:
		return http.StatusConflict
	case codes.Unimplemented:
		return http.StatusNotImplemented
	case codes.DeadlineExceeded, codes.Canceled:
		return http.StatusGatewayTimeout
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// modeBody is the body of GET and PUT /mode
type modeBody struct {
	Writable *bool  `json:"writable"`
	Mode     string `json:"mode,omitempty"`
}

func modeName(writable bool) string {
	if writable {
		return "read_write"
	}
	return "read_only"
}

// handleGetMode reports the read/write mode
func (h *AdminHandlers) handleGetMode(w http.ResponseWriter, r *http.Request) {
	writable, err := h.config.Gate.Writable(r.Context())
	if err != nil {
		writeStatusError(w, err)
		return
	}
	writeJSONResponse(w, modeBody{Writable: &writable, Mode: modeName(writable)})
}

// handleSetMode switches between read only and read/write
func (h *AdminHandlers) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var body modeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if body.Writable == nil {
		writeErrorResponse(w, http.StatusBadRequest, "writable is required")
		return
	}

	if err := h.config.Gate.SetWritable(r.Context(), *body.Writable); err != nil {
		writeStatusError(w, err)
		return
	}

	log.Info().
		Str("mode", modeName(*body.Writable)).
		Str("remote", r.RemoteAddr).
		Msg("Queue mode changed through admin API")

	writeJSONResponse(w, modeBody{Writable: body.Writable, Mode: modeName(*body.Writable)})
}

// handleListTopics lists every topic table
func (h *AdminHandlers) handleListTopics(w http.ResponseWriter, r *http.Request) {
	topics, err := h.config.Topics.List(r.Context(), topic.ListRequest{RequestID: h.config.IDs.Next()})
	if err != nil {
		writeStatusError(w, err)
		return
	}

	names := make([]string, 0, len(topics))
	for _, t := range topics {
		names = append(names, t.String())
	}
	writeJSONResponse(w, names)
}

// handleCreateTopic creates the topic named in the path
func (h *AdminHandlers) handleCreateTopic(w http.ResponseWriter, r *http.Request, topicID id.UUID) {
	created, err := h.config.Topics.Create(r.Context(), topic.CreateRequest{RequestID: h.config.IDs.Next(), Topic: topicID})
	if err != nil {
		writeStatusError(w, err)
		return
	}
	writeJSONResponse(w, map[string]interface{}{
		"topic":   topicID.String(),
		"created": created.UTC().Format(time.RFC3339Nano),
	})
}

// handleDropTopic drops the topic named in the path
func (h *AdminHandlers) handleDropTopic(w http.ResponseWriter, r *http.Request, topicID id.UUID) {
	dropped, err := h.config.Topics.Drop(r.Context(), topic.DropRequest{RequestID: h.config.IDs.Next(), Topic: topicID})
	if err != nil {
		writeStatusError(w, err)
		return
	}
	writeJSONResponse(w, map[string]interface{}{
		"topic":   topicID.String(),
		"dropped": dropped.UTC().Format(time.RFC3339Nano),
	})
}

// handleStreams lists live wait-next and key streams
func (h *AdminHandlers) handleStreams(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, h.config.Sessions.Snapshot())
}

// handleStats reports backend pool and publisher statistics
func (h *AdminHandlers) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := h.config.Backend.Stats()
	response := map[string]interface{}{
		"pool": map[string]interface{}{
			"open":          stats.OpenConnections,
			"in_use":        stats.InUse,
			"idle":          stats.Idle,
			"wait_count":    stats.WaitCount,
			"wait_duration": stats.WaitDuration.String(),
		},
		"streams": h.config.Sessions.Len(),
	}
	if h.config.Lag != nil {
		response["publisher_lag"] = h.config.Lag.Lag()
	}
	writeJSONResponse(w, response)
}

// handleHealth pings the backend
func (h *AdminHandlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.config.Backend.Ping(ctx); err != nil {
		writeStatusError(w, err)
		return
	}
	writeJSONResponse(w, map[string]interface{}{"status": "ok"})
}
