package metrics

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/saint0x/flywatch/internal/broadcast"
)

// SystemStats is the sampled process/host block of a snapshot. Omitted
// entirely when sampling fails.
type SystemStats struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryUsed    uint64  `json:"memory_used_bytes"`
	MemoryTotal   uint64  `json:"memory_total_bytes"`
	MemoryPercent float64 `json:"memory_percent"`
}

// Snapshot is one point-in-time reading of counters, gauges and system
// stats.
type Snapshot struct {
	Timestamp         time.Time    `json:"timestamp"`
	UptimeSeconds     float64      `json:"uptime_seconds"`
	BusConnected      bool         `json:"nats_connected"`
	SubscriptionErrs  uint64       `json:"subscription_errors"`
	MessagesForwarded uint64       `json:"messages_forwarded"`
	SSETotal          uint64       `json:"sse_connections_total"`
	WSTotal           uint64       `json:"ws_connections_total"`
	SSEActive         int64        `json:"active_sse_connections"`
	WSActive          int64        `json:"active_ws_connections"`
	System            *SystemStats `json:"system,omitempty"`
}

// Sampler abstracts the platform probes so tests can substitute fixed
// values. CPUPercent returns a non-negative value (0 when unavailable);
// Memory returns used and total bytes.
type Sampler interface {
	CPUPercent() (float64, error)
	Memory() (used, total uint64, err error)
}

// processSampler reads the relay's own process CPU and host memory via
// gopsutil.
type processSampler struct {
	proc *process.Process
}

// NewProcessSampler probes the current process.
func NewProcessSampler() (Sampler, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &processSampler{proc: proc}, nil
}

func (p *processSampler) CPUPercent() (float64, error) {
	// Percent(0) compares against the previous call, so successive ticks
	// yield a rolling per-interval figure.
	pct, err := p.proc.Percent(0)
	if err != nil {
		return 0, err
	}
	if pct < 0 {
		pct = 0
	}
	return pct, nil
}

func (p *processSampler) Memory() (uint64, uint64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, err
	}
	return vm.Used, vm.Total, nil
}

// Collector produces snapshots, both on demand and on a fixed tick onto
// its broadcaster.
type Collector struct {
	stats    *Stats
	sampler  Sampler
	interval time.Duration
	logger   zerolog.Logger

	// Broadcast carries one snapshot per tick to /metrics/ws clients.
	Broadcast *broadcast.Broadcaster[*Snapshot]
}

// MetricsQueueDepth bounds the per-subscriber metrics backlog. Snapshots
// supersede each other, so the queue stays shallow.
const MetricsQueueDepth = 8

// NewCollector wires the collector. interval <= 0 defaults to 1s.
func NewCollector(stats *Stats, sampler Sampler, interval time.Duration, logger zerolog.Logger) *Collector {
	if interval <= 0 {
		interval = time.Second
	}
	return &Collector{
		stats:     stats,
		sampler:   sampler,
		interval:  interval,
		logger:    logger.With().Str("component", "metrics").Logger(),
		Broadcast: broadcast.New[*Snapshot](MetricsQueueDepth),
	}
}

// Snapshot builds a reading of all counters and gauges plus, when sampling
// succeeds, the system block. A sampling failure is logged and drops only
// the system block, never the snapshot.
func (c *Collector) Snapshot() *Snapshot {
	snap := &Snapshot{
		Timestamp:         time.Now(),
		UptimeSeconds:     c.stats.Uptime(),
		BusConnected:      c.stats.BusConnected(),
		SubscriptionErrs:  c.stats.SubscriptionErrors(),
		MessagesForwarded: c.stats.MessagesForwarded(),
		SSETotal:          c.stats.SSETotal(),
		WSTotal:           c.stats.WSTotal(),
		SSEActive:         c.stats.SSEActive(),
		WSActive:          c.stats.WSActive(),
	}

	if c.sampler == nil {
		return snap
	}

	cpuPct, cpuErr := c.sampler.CPUPercent()
	used, total, memErr := c.sampler.Memory()
	if cpuErr != nil || memErr != nil {
		c.logger.Warn().
			AnErr("cpu_error", cpuErr).
			AnErr("mem_error", memErr).
			Msg("System sampling failed, omitting system block")
		return snap
	}

	sys := &SystemStats{
		CPUPercent:  cpuPct,
		MemoryUsed:  used,
		MemoryTotal: total,
	}
	if total > 0 {
		sys.MemoryPercent = float64(used) / float64(total) * 100
	}
	snap.System = sys
	return snap
}

// Run emits one snapshot per tick onto the broadcaster until ctx is done.
func (c *Collector) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.logger.Info().Dur("interval", c.interval).Msg("Metrics collector started")

	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Msg("Metrics collector stopped")
			return
		case <-ticker.C:
			c.Broadcast.Publish(c.Snapshot())
		}
	}
}
