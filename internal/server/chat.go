package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/saint0x/flywatch/internal/agent"
)

type chatRequest struct {
	Message string `json:"message"`
	Model   string `json:"model,omitempty"`
}

// handleChat runs one agent exchange. Error kinds map to statuses: not
// configured → 501, bad input → 400, upstream failure → 502, deadline →
// 504.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST required")
		return
	}
	if !s.agent.Configured() {
		writeError(w, http.StatusNotImplemented, "not_configured", "no LLM API key configured")
		return
	}
	if !s.chatLimiter.Allow() {
		writeError(w, http.StatusTooManyRequests, "rate_limited", "chat rate limit exceeded")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "message is required")
		return
	}

	result, err := s.agent.Ask(r.Context(), req.Message, req.Model)
	if err != nil {
		switch {
		case errors.Is(err, agent.ErrMessageTooLong):
			writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		case errors.Is(err, agent.ErrNotConfigured):
			writeError(w, http.StatusNotImplemented, "not_configured", err.Error())
		case errors.Is(err, context.DeadlineExceeded):
			writeError(w, http.StatusGatewayTimeout, "timeout", "chat request timed out")
		case errors.Is(err, agent.ErrUpstream):
			writeError(w, http.StatusBadGateway, "upstream_error", err.Error())
		default:
			s.logger.Error().Err(err).Msg("Chat request failed")
			writeError(w, http.StatusInternalServerError, "internal", "chat request failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, result)
}
