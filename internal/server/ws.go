package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	pingInterval = 20 * time.Second
	pongWait     = 2 * pingInterval
	writeWait    = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The dashboard is served from another origin; auth is the bearer
	// token, not the Origin header.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsFrame is the typed JSON frame sent on both WebSocket streams.
type wsFrame struct {
	Type    string `json:"type"`
	Data    any    `json:"data,omitempty"`
	Dropped uint64 `json:"dropped,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// handleLogsWS streams log records as JSON text frames.
func (s *Server) handleLogsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}

	s.st.Stats.WSConnected()
	defer s.st.Stats.WSDisconnected()

	sub := s.st.Logs.Subscribe()
	defer sub.Close()

	logger := s.logger.With().Str("stream", "logs_ws").Str("remote", r.RemoteAddr).Logger()

	s.runWS(r.Context(), conn, logger, func(ctx context.Context) (*websocket.PreparedMessage, uint64, error) {
		rec, dropped, err := sub.Recv(ctx)
		if err != nil {
			return nil, 0, err
		}
		// Raw is the original envelope; re-serializing would lose unknown
		// fields.
		msg, err := websocket.NewPreparedMessage(websocket.TextMessage, []byte(rec.Raw))
		return msg, dropped, err
	})
	_ = conn.Close()
}

// handleMetricsWS streams one metrics frame per collector tick.
func (s *Server) handleMetricsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	s.st.Stats.WSConnected()
	defer s.st.Stats.WSDisconnected()

	sub := s.st.Collector.Broadcast.Subscribe()
	defer sub.Close()

	logger := s.logger.With().Str("stream", "metrics_ws").Str("remote", r.RemoteAddr).Logger()

	s.runWS(r.Context(), conn, logger, func(ctx context.Context) (*websocket.PreparedMessage, uint64, error) {
		snap, dropped, err := sub.Recv(ctx)
		if err != nil {
			return nil, 0, err
		}
		payload, err := json.Marshal(wsFrame{Type: "metrics", Data: snap})
		if err != nil {
			return nil, 0, err
		}
		msg, err := websocket.NewPreparedMessage(websocket.TextMessage, payload)
		return msg, dropped, err
	})
	_ = conn.Close()
}

// next produces the next outbound frame for a WS stream, along with the
// number of items the subscriber missed since the previous frame.
type nextFrame func(ctx context.Context) (*websocket.PreparedMessage, uint64, error)

// runWS drives one WebSocket connection: a reader pump that discards
// client input but services pong deadlines, and a writer loop
// interleaving stream frames, lag notices and pings. Returns when the
// client disconnects, the context ends, or a write fails.
func (s *Server) runWS(ctx context.Context, conn *websocket.Conn, logger zerolog.Logger, next nextFrame) {
	logger.Debug().Msg("WebSocket client connected")
	defer logger.Debug().Msg("WebSocket client disconnected")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Reader pump: the protocol requires reading to process control
	// frames. Client text frames are ignored.
	conn.SetReadLimit(1024)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		recvCtx, recvCancel := context.WithTimeout(ctx, pingInterval)
		msg, dropped, err := next(recvCtx)
		recvCancel()

		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
				continue
			}
			if ctx.Err() == nil {
				// Stream error rather than client departure: tell the
				// client before closing.
				s.writeWSError(conn, "stream_error", err.Error())
			}
			return
		}

		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if dropped > 0 {
			lag, merr := json.Marshal(wsFrame{Type: "lagged", Dropped: dropped})
			if merr == nil {
				if err := conn.WriteMessage(websocket.TextMessage, lag); err != nil {
					return
				}
			}
		}
		if err := conn.WritePreparedMessage(msg); err != nil {
			return
		}
	}
}

func (s *Server) writeWSError(conn *websocket.Conn, code, msg string) {
	payload, err := json.Marshal(wsFrame{Type: "error", Code: code, Message: msg})
	if err != nil {
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.TextMessage, payload)
}
