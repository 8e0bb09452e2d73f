package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Stats is the process-wide counter and gauge set. Counters are monotonic
// within a process lifetime; gauges are sampled. All fields are atomic so
// the hot path never takes a lock, and cross-counter consistency is not
// guaranteed.
//
// Every value is mirrored to a Prometheus collector so the same numbers
// are scrapeable at /metrics/prometheus.
type Stats struct {
	startTime time.Time

	subscriptionErrors atomic.Uint64
	messagesForwarded  atomic.Uint64
	sseTotal           atomic.Uint64
	wsTotal            atomic.Uint64
	sseActive          atomic.Int64
	wsActive           atomic.Int64
	busConnected       atomic.Bool

	promSubErrors prometheus.Counter
	promForwarded prometheus.Counter
	promSSETotal  prometheus.Counter
	promWSTotal   prometheus.Counter
	promSSEActive prometheus.Gauge
	promWSActive  prometheus.Gauge
	promBusUp     prometheus.Gauge
}

// NewStats creates the counter set and registers its Prometheus mirror on
// reg. A nil registerer skips registration (tests).
func NewStats(reg prometheus.Registerer) *Stats {
	s := &Stats{
		startTime: time.Now(),
		promSubErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flywatch_subscription_errors_total",
			Help: "Bus disconnects and subscription failures.",
		}),
		promForwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flywatch_messages_forwarded_total",
			Help: "Log records parsed and published to subscribers.",
		}),
		promSSETotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flywatch_sse_connections_total",
			Help: "SSE connections accepted since start.",
		}),
		promWSTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flywatch_ws_connections_total",
			Help: "WebSocket connections accepted since start.",
		}),
		promSSEActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flywatch_active_sse_connections",
			Help: "Currently connected SSE clients.",
		}),
		promWSActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flywatch_active_ws_connections",
			Help: "Currently connected WebSocket clients.",
		}),
		promBusUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flywatch_bus_connected",
			Help: "1 when the NATS subscription is live.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			s.promSubErrors, s.promForwarded,
			s.promSSETotal, s.promWSTotal,
			s.promSSEActive, s.promWSActive,
			s.promBusUp,
		)
	}
	return s
}

func (s *Stats) IncrSubscriptionErrors() {
	s.subscriptionErrors.Add(1)
	s.promSubErrors.Inc()
}

func (s *Stats) IncrMessagesForwarded() {
	s.messagesForwarded.Add(1)
	s.promForwarded.Inc()
}

func (s *Stats) SSEConnected() {
	s.sseTotal.Add(1)
	s.sseActive.Add(1)
	s.promSSETotal.Inc()
	s.promSSEActive.Inc()
}

func (s *Stats) SSEDisconnected() {
	s.sseActive.Add(-1)
	s.promSSEActive.Dec()
}

func (s *Stats) WSConnected() {
	s.wsTotal.Add(1)
	s.wsActive.Add(1)
	s.promWSTotal.Inc()
	s.promWSActive.Inc()
}

func (s *Stats) WSDisconnected() {
	s.wsActive.Add(-1)
	s.promWSActive.Dec()
}

func (s *Stats) SetBusConnected(up bool) {
	s.busConnected.Store(up)
	if up {
		s.promBusUp.Set(1)
	} else {
		s.promBusUp.Set(0)
	}
}

func (s *Stats) BusConnected() bool { return s.busConnected.Load() }

func (s *Stats) SubscriptionErrors() uint64 { return s.subscriptionErrors.Load() }
func (s *Stats) MessagesForwarded() uint64  { return s.messagesForwarded.Load() }
func (s *Stats) SSETotal() uint64           { return s.sseTotal.Load() }
func (s *Stats) WSTotal() uint64            { return s.wsTotal.Load() }
func (s *Stats) SSEActive() int64           { return s.sseActive.Load() }
func (s *Stats) WSActive() int64            { return s.wsActive.Load() }

// Uptime reports seconds since process start.
func (s *Stats) Uptime() float64 {
	return time.Since(s.startTime).Seconds()
}
