package state

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/saint0x/flywatch/internal/logtail"
	"github.com/saint0x/flywatch/internal/metrics"
)

func TestIngestFansOut(t *testing.T) {
	st := New(metrics.NewStats(nil), nil, 100, time.Hour, zerolog.Nop())

	sub := st.Logs.Subscribe()
	defer sub.Close()

	line := `{"log":{"level":"error"},"message":"boom"}`
	st.Ingest([]byte(line))

	if got := st.Buffer.Len(); got != 1 {
		t.Errorf("buffer len = %d, want 1", got)
	}
	if got := st.Stats.MessagesForwarded(); got != 1 {
		t.Errorf("messages_forwarded = %d, want 1", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	rec, dropped, err := sub.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if dropped != 0 {
		t.Errorf("dropped = %d", dropped)
	}
	if rec.Raw != line {
		t.Errorf("raw = %q", rec.Raw)
	}
	if rec.Level != logtail.LevelError {
		t.Errorf("level = %q", rec.Level)
	}
}

func TestIngestCounterPrecedesPublish(t *testing.T) {
	st := New(metrics.NewStats(nil), nil, 100, time.Hour, zerolog.Nop())
	sub := st.Logs.Subscribe()
	defer sub.Close()

	st.Ingest([]byte(`{"message":"one"}`))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, _, err := sub.Recv(ctx); err != nil {
		t.Fatalf("Recv: %v", err)
	}
	// A received record implies its forwarded increment already happened.
	if got := st.Stats.MessagesForwarded(); got != 1 {
		t.Errorf("messages_forwarded = %d, want 1", got)
	}
}
