// Package state holds the process-wide shared handle. It is the only
// singleton: every handler and background task receives a *State rather
// than reaching for globals.
package state

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/saint0x/flywatch/internal/broadcast"
	"github.com/saint0x/flywatch/internal/logtail"
	"github.com/saint0x/flywatch/internal/metrics"
)

// LogQueueDepth bounds each log subscriber's backlog. A client that falls
// more than this many records behind starts losing the oldest ones and
// sees a lag signal.
const LogQueueDepth = 256

// State bundles the rolling buffer, the two broadcast streams, the metrics
// collector and the counter set.
type State struct {
	Buffer    *logtail.RollingBuffer
	Logs      *broadcast.Broadcaster[*logtail.Record]
	Stats     *metrics.Stats
	Collector *metrics.Collector
}

// New assembles the shared state.
func New(stats *metrics.Stats, sampler metrics.Sampler, maxEntries int, maxAge time.Duration, logger zerolog.Logger) *State {
	return &State{
		Buffer:    logtail.NewRollingBuffer(maxEntries, maxAge, nil),
		Logs:      broadcast.New[*logtail.Record](LogQueueDepth),
		Stats:     stats,
		Collector: metrics.NewCollector(stats, sampler, time.Second, logger),
	}
}

// Ingest parses one bus payload into the window and fan-out. The forwarded
// counter increments strictly before the publish.
func (s *State) Ingest(data []byte) {
	rec := logtail.ParseLine(data, time.Now())
	s.Buffer.Push(rec)
	s.Stats.IncrMessagesForwarded()
	s.Logs.Publish(rec)
}
