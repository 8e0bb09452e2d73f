package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// keepaliveInterval is how long an SSE connection may sit idle before a
// comment frame is sent to keep intermediaries from reaping it.
const keepaliveInterval = 15 * time.Second

// handleSSE streams log records as Server-Sent Events. Each record's
// original envelope is emitted verbatim as one data frame; drops surface
// as comment frames rather than tearing the connection down.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "unsupported", "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s.st.Stats.SSEConnected()
	defer s.st.Stats.SSEDisconnected()

	sub := s.st.Logs.Subscribe()
	defer sub.Close()

	logger := s.logger.With().Str("stream", "sse").Str("remote", r.RemoteAddr).Logger()
	logger.Debug().Msg("SSE client connected")
	defer logger.Debug().Msg("SSE client disconnected")

	ctx := r.Context()
	for {
		recvCtx, cancel := context.WithTimeout(ctx, keepaliveInterval)
		rec, dropped, err := sub.Recv(recvCtx)
		cancel()
		if err != nil {
			if !errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				return // client went away or stream closed
			}
			// Idle past the keepalive interval.
			if _, werr := fmt.Fprint(w, ": keepalive\n\n"); werr != nil {
				return
			}
			flusher.Flush()
			continue
		}

		if dropped > 0 {
			if _, werr := fmt.Fprintf(w, ": lagged %d\n\n", dropped); werr != nil {
				return
			}
		}
		if _, werr := fmt.Fprintf(w, "data: %s\n\n", rec.Raw); werr != nil {
			return
		}
		flusher.Flush()
	}
}
