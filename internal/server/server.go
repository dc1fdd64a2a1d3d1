// Package server exposes the dispatcher over HTTP. Chat runs are streamed
// back as server-sent events.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/ShayCichocki/relay/internal/dispatch"
	"github.com/ShayCichocki/relay/internal/stream"
	"github.com/ShayCichocki/relay/internal/version"
)

// maxChatBodySize limits the size of chat request bodies.
const maxChatBodySize = 1 << 20 // 1 MB

// Runner starts a chat run. *dispatch.Dispatcher satisfies it.
type Runner interface {
	Run(ctx context.Context, conversationID, query string) (<-chan stream.Event, error)
}

// ChatRequest is the request body for POST /v1/chat.
type ChatRequest struct {
	// ConversationID empty starts a new conversation.
	ConversationID string `json:"conversation_id" validate:"omitempty,max=128,printascii"`
	// Query empty resumes an unfinished plan.
	Query string `json:"query" validate:"max=8000"`
}

// Server routes HTTP requests to a Runner.
type Server struct {
	runner   Runner
	metrics  http.Handler
	validate *validator.Validate
	logger   *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithMetricsHandler serves h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a Server.
func New(runner Runner, opts ...Option) (*Server, error) {
	if runner == nil {
		return nil, errors.New("server: runner must not be nil")
	}
	s := &Server{
		runner:   runner,
		validate: validator.New(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat", s.handleChat)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	return mux
}

// handleChat handles POST /v1/chat.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxChatBodySize)

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	events, err := s.runner.Run(r.Context(), req.ConversationID, req.Query)
	switch {
	case errors.Is(err, dispatch.ErrConversationBusy):
		writeError(w, http.StatusConflict, "conversation is busy")
		return
	case errors.Is(err, dispatch.ErrEmptyQuery):
		writeError(w, http.StatusBadRequest, "query is required")
		return
	case err != nil:
		s.logger.Error("failed to start run", "conversation", req.ConversationID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to start run")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sawDone := false
	for ev := range events {
		if err := stream.WriteSSE(w, ev); err != nil {
			s.logger.Debug("client disconnected during stream", "error", err)
			// Drain so the run can finish its cancellation checkpoint.
			for range events {
			}
			return
		}
		flusher.Flush()
		sawDone = ev.Type == stream.EventDone
	}
	// The run gave up on delivering done; the client is owed a terminator.
	if !sawDone && stream.WriteSSE(w, stream.Done()) == nil {
		flusher.Flush()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Get(),
	})
}

func validationMessage(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return "invalid request"
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, "invalid "+jsonFieldName(fe.Field())+": failed "+fe.Tag())
	}
	return strings.Join(msgs, "; ")
}

func jsonFieldName(field string) string {
	switch field {
	case "ConversationID":
		return "conversation_id"
	case "Query":
		return "query"
	default:
		return strings.ToLower(field)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
