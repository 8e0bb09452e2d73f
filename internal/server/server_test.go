package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/saint0x/flywatch/internal/agent"
	"github.com/saint0x/flywatch/internal/metrics"
	"github.com/saint0x/flywatch/internal/state"
)

type stubSampler struct{}

func (stubSampler) CPUPercent() (float64, error)    { return 5.0, nil }
func (stubSampler) Memory() (uint64, uint64, error) { return 1 << 30, 4 << 30, nil }

func newTestServer(t *testing.T, authToken string) (*Server, *state.State) {
	t.Helper()
	st := state.New(metrics.NewStats(nil), stubSampler{}, 1000, time.Hour, zerolog.Nop())
	ag := agent.New(agent.Config{}, st, zerolog.Nop())
	srv := New(Config{Addr: ":0", AuthToken: authToken}, st, ag, zerolog.Nop())
	return srv, st
}

func TestHealthEndpoint(t *testing.T) {
	srv, st := newTestServer(t, "")

	t.Run("degraded when bus down", func(t *testing.T) {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		var body healthResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.Status != "degraded" || body.NATSConnected {
			t.Errorf("body = %+v, want degraded/disconnected", body)
		}
	})

	t.Run("healthy when bus up", func(t *testing.T) {
		st.Stats.SetBusConnected(true)
		defer st.Stats.SetBusConnected(false)

		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
		var body healthResponse
		json.Unmarshal(rec.Body.Bytes(), &body)
		if body.Status != "healthy" || !body.NATSConnected {
			t.Errorf("body = %+v, want healthy/connected", body)
		}
	})
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, "")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Errorf("healthz = %d %q", rec.Code, rec.Body.String())
	}
}

func TestReady(t *testing.T) {
	srv, st := newTestServer(t, "")

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("ready with bus down = %d, want 503", rec.Code)
	}

	st.Stats.SetBusConnected(true)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/ready", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("ready with bus up = %d, want 200", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, st := newTestServer(t, "")
	st.Ingest([]byte(`{"message":"x"}`))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var snap metrics.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.MessagesForwarded != 1 {
		t.Errorf("messages_forwarded = %d, want 1", snap.MessagesForwarded)
	}
	if snap.System == nil {
		t.Error("system block missing")
	}
}

func TestAuthMiddleware(t *testing.T) {
	srv, _ := newTestServer(t, "sekret")

	cases := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"health exempt", "/health", "", http.StatusOK},
		{"healthz exempt", "/healthz", "", http.StatusOK},
		{"ready exempt", "/ready", "", http.StatusServiceUnavailable},
		{"metrics no token", "/metrics", "", http.StatusUnauthorized},
		{"metrics wrong token", "/metrics", "Bearer nope", http.StatusUnauthorized},
		{"metrics malformed header", "/metrics", "Basic sekret", http.StatusUnauthorized},
		{"metrics good token", "/metrics", "Bearer sekret", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tc.path, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestAuthQueryParamFallback(t *testing.T) {
	srv, _ := newTestServer(t, "sekret")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics?token=sekret", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 with token query param", rec.Code)
	}
}

func TestChatNotConfigured(t *testing.T) {
	srv, _ := newTestServer(t, "")
	req := httptest.NewRequest("POST", "/chat", strings.NewReader(`{"message":"hi"}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotImplemented {
		t.Errorf("status = %d, want 501 without API key", rec.Code)
	}
}

func TestChatBadRequests(t *testing.T) {
	st := state.New(metrics.NewStats(nil), stubSampler{}, 1000, time.Hour, zerolog.Nop())
	ag := agent.New(agent.Config{APIKey: "k", BaseURL: "http://unused"}, st, zerolog.Nop())
	srv := New(Config{Addr: ":0"}, st, ag, zerolog.Nop())

	t.Run("invalid json", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/chat", strings.NewReader(`{`))
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("empty message", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/chat", strings.NewReader(`{"message":""}`))
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("message too long", func(t *testing.T) {
		long := strings.Repeat("x", agent.MaxMessageLength+1)
		req := httptest.NewRequest("POST", "/chat",
			strings.NewReader(`{"message":"`+long+`"}`))
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("get rejected", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/chat", nil)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("status = %d, want 405", rec.Code)
		}
	})
}
