// Package api implements the pharmacy assistant HTTP API: the SSE chat
// stream, health and version endpoints, and the operational WebSocket.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/farmalink/rxagent/internal/agent"
	"github.com/farmalink/rxagent/internal/auth"
	"github.com/farmalink/rxagent/internal/buildinfo"
	"github.com/farmalink/rxagent/internal/events"
	"github.com/farmalink/rxagent/internal/llm"
	"github.com/farmalink/rxagent/internal/policy"
	"github.com/farmalink/rxagent/internal/tools"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the HTTP API server.
type Server struct {
	address     string
	port        int
	loop        *agent.Loop
	verifier    *auth.Verifier
	bus         *events.Bus
	corsOrigins []string
	logger      *slog.Logger
	server      *http.Server
}

// NewServer creates a new API server. verifier may be nil (auth
// disabled); bus may be nil (no WebSocket event feed).
func NewServer(address string, port int, loop *agent.Loop, verifier *auth.Verifier, bus *events.Bus, corsOrigins []string, logger *slog.Logger) *Server {
	return &Server{
		address:     address,
		port:        port,
		loop:        loop,
		verifier:    verifier,
		bus:         bus,
		corsOrigins: corsOrigins,
		logger:      logger,
	}
}

// Handler builds the full route table. Exposed separately from Start so
// tests can drive the server through httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/chat/stream", s.withAuth(s.handleChatStream))

	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /", s.handleRoot)

	mux.HandleFunc("GET /v1/events/ws", s.handleEventsWS)

	return s.withLogging(s.withCORS(mux))
}

// Start begins serving HTTP requests.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		// No WriteTimeout: chat streams are open-ended, per-write
		// deadlines are managed by the SSE emitter instead.
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	return slices.Contains(s.corsOrigins, "*") || slices.Contains(s.corsOrigins, origin)
}

// withAuth verifies the bearer token and injects the authenticated
// user id into the request context. With auth disabled every request
// runs anonymous; identity-sensitive tools then answer
// authentication_required on their own.
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.verifier.Enabled() {
			next(w, r)
			return
		}

		token := auth.BearerToken(r)
		if token == "" {
			s.errorResponse(w, http.StatusUnauthorized, "missing or invalid Authorization header")
			return
		}
		userID, err := s.verifier.UserID(token)
		if err != nil {
			s.logger.Debug("token rejected", "error", err)
			s.errorResponse(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next(w, r.WithContext(tools.WithUserID(r.Context(), userID)))
	}
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "rxagent",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.Info(), s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "healthy"}, s.logger)
}

// ChatMessage is one turn supplied by the client. Only user and
// assistant turns are accepted; system and tool turns are owned by the
// server.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatStreamRequest is the POST /v1/chat/stream body.
type ChatStreamRequest struct {
	Messages []ChatMessage `json:"messages"`
	Locale   string        `json:"locale,omitempty"`
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req ChatStreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Messages) == 0 {
		s.errorResponse(w, http.StatusBadRequest, "messages is required")
		return
	}

	messages := make([]llm.Message, 0, len(req.Messages)+1)
	messages = append(messages, llm.Message{
		Role:    llm.RoleSystem,
		Content: policy.BuildSystemPrompt(req.Locale),
	})
	for _, m := range req.Messages {
		if m.Role != llm.RoleUser && m.Role != llm.RoleAssistant {
			s.errorResponse(w, http.StatusBadRequest,
				fmt.Sprintf("unsupported message role %q", m.Role))
			return
		}
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}

	em, ok := newSSEEmitter(w, s.logger)
	if !ok {
		s.errorResponse(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	s.loop.Run(r.Context(), messages, em)
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    "invalid_request_error",
			"code":    code,
		},
	}, s.logger)
}
