// Package server exposes the relay over HTTP: SSE and WebSocket log
// streams, a metrics stream, REST health and snapshot endpoints, and the
// chat agent.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/saint0x/flywatch/internal/agent"
	"github.com/saint0x/flywatch/internal/state"
)

// shutdownGrace bounds how long in-flight handlers may drain on shutdown.
const shutdownGrace = 10 * time.Second

// Config holds the HTTP surface parameters.
type Config struct {
	Addr      string
	AuthToken string
}

// Server wires the handlers around the shared state.
type Server struct {
	cfg    Config
	st     *state.State
	agent  *agent.Agent
	logger zerolog.Logger

	httpServer *http.Server
	// chatLimiter bounds external LLM spend, not client fairness.
	chatLimiter *rate.Limiter
}

// New builds the server. The agent may be unconfigured; /chat then
// answers 501.
func New(cfg Config, st *state.State, ag *agent.Agent, logger zerolog.Logger) *Server {
	s := &Server{
		cfg:         cfg,
		st:          st,
		agent:       ag,
		logger:      logger.With().Str("component", "http").Logger(),
		chatLimiter: rate.NewLimiter(rate.Limit(2), 5),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/ready", s.handleReady)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.Handle("/metrics/prometheus", promhttp.Handler())
	mux.HandleFunc("/logs/stream", s.handleSSE)
	mux.HandleFunc("/logs/ws", s.handleLogsWS)
	mux.HandleFunc("/metrics/ws", s.handleMetricsWS)
	mux.HandleFunc("/chat", s.handleChat)

	s.httpServer = &http.Server{
		Addr:        cfg.Addr,
		Handler:     s.authMiddleware(mux),
		ReadTimeout: 30 * time.Second,
		// No WriteTimeout: SSE and WS connections are long-lived.
	}
	return s
}

// Handler exposes the full middleware-wrapped handler for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// ListenAndServe blocks until the listener fails or Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.logger.Info().Str("addr", s.cfg.Addr).Msg("HTTP server listening")
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and drains in-flight handlers
// within the grace window.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// healthExempt lists the paths that never require authentication.
func healthExempt(path string) bool {
	switch path {
	case "/health", "/healthz", "/ready":
		return true
	}
	return false
}

// authMiddleware enforces the bearer token on all non-health endpoints
// when one is configured. Token comparison is constant-time.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AuthToken == "" || healthExempt(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, ok := bearerToken(r)
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AuthToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// bearerToken extracts the token from the Authorization header. WebSocket
// browser clients cannot set headers, so a token query parameter is
// accepted as a fallback.
func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer "), true
	}
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok, true
	}
	return "", false
}

type healthResponse struct {
	Status            string  `json:"status"`
	NATSConnected     bool    `json:"nats_connected"`
	ActiveConnections int64   `json:"active_connections"`
	MessagesForwarded uint64  `json:"messages_forwarded"`
	UptimeSeconds     float64 `json:"uptime_seconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	connected := s.st.Stats.BusConnected()
	status := "degraded"
	if connected {
		status = "healthy"
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:            status,
		NATSConnected:     connected,
		ActiveConnections: s.st.Stats.SSEActive() + s.st.Stats.WSActive(),
		MessagesForwarded: s.st.Stats.MessagesForwarded(),
		UptimeSeconds:     s.st.Stats.Uptime(),
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.st.Stats.BusConnected() {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "bus disconnected")
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ready"))
}

// handleMetrics serves the latest snapshot, taken on demand.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.st.Collector.Snapshot())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Headers are gone; nothing left to do for this request.
		return
	}
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: code, Message: msg})
}
