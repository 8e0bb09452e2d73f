package server

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialWS(t *testing.T, ts *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	return conn
}

func TestLogsWSDeliversRawEnvelope(t *testing.T) {
	srv, st := newTestServer(t, "")
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn := dialWS(t, ts, "/logs/ws")
	defer conn.Close()
	waitForSubscribers(t, st.Logs, 1)

	line := `{"fly":{"region":"iad"},"log":{"level":"info"},"message":"hello","custom_field":42}`
	st.Ingest([]byte(line))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if kind != websocket.TextMessage {
		t.Errorf("message type = %d, want text", kind)
	}
	// Unknown envelope fields pass through untouched.
	if string(payload) != line {
		t.Errorf("payload = %s, want raw line", payload)
	}
}

func TestLogsWSLagFrame(t *testing.T) {
	srv, st := newTestServer(t, "")
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn := dialWS(t, ts, "/logs/ws")
	defer conn.Close()
	waitForSubscribers(t, st.Logs, 1)

	padding := strings.Repeat("p", 400)
	total := 2000
	for i := 0; i < total; i++ {
		st.Ingest([]byte(`{"message":"` + padding + `"}`))
	}

	sawLag := false
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for i := 0; i < total; i++ {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var frame wsFrame
		if json.Unmarshal(payload, &frame) == nil && frame.Type == "lagged" {
			if frame.Dropped == 0 {
				t.Error("lag frame with zero dropped count")
			}
			sawLag = true
			break
		}
	}
	if !sawLag {
		t.Error("no lag frame observed after overflow")
	}
}

func TestMetricsWSFrames(t *testing.T) {
	srv, st := newTestServer(t, "")
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn := dialWS(t, ts, "/metrics/ws")
	defer conn.Close()
	waitForSubscribers(t, st.Collector.Broadcast, 1)

	st.Collector.Broadcast.Publish(st.Collector.Snapshot())

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var frame struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(payload, &frame); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if frame.Type != "metrics" {
		t.Errorf("frame type = %q, want metrics", frame.Type)
	}
	if !strings.Contains(string(frame.Data), "uptime_seconds") {
		t.Errorf("snapshot payload missing fields: %s", frame.Data)
	}
}

func TestWSConnectionGauges(t *testing.T) {
	srv, st := newTestServer(t, "")
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn := dialWS(t, ts, "/logs/ws")
	waitForSubscribers(t, st.Logs, 1)

	if got := st.Stats.WSActive(); got != 1 {
		t.Errorf("active = %d, want 1", got)
	}

	conn.Close()
	deadline := time.Now().Add(2 * time.Second)
	for st.Stats.WSActive() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("active = %d after close, want 0", st.Stats.WSActive())
		}
		time.Sleep(time.Millisecond)
	}
	if got := st.Stats.WSTotal(); got != 1 {
		t.Errorf("total = %d, want 1", got)
	}
}

func TestWSRejectsWithoutToken(t *testing.T) {
	srv, _ := newTestServer(t, "sekret")
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/logs/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("dial succeeded without token")
	}
	if resp == nil || resp.StatusCode != 401 {
		t.Errorf("handshake status = %v, want 401", resp)
	}

	// The query-param fallback admits browser clients.
	conn, _, err := websocket.DefaultDialer.Dial(url+"?token=sekret", nil)
	if err != nil {
		t.Fatalf("dial with token param: %v", err)
	}
	conn.Close()
}
