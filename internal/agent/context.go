package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/saint0x/flywatch/internal/logtail"
	"github.com/saint0x/flywatch/internal/metrics"
)

// initialContextTokenBudget is the soft cap on the situation block handed
// to the model on the first turn. Token count is approximated at four
// bytes per token; trimming removes the oldest rendered log lines first.
const initialContextTokenBudget = 400

// renderLine is the compact rendering used both in the initial context and
// in get_logs results.
func renderLine(rec *logtail.Record) string {
	return fmt.Sprintf("[%s] %s %s %s: %s",
		rec.Time.Format("15:04:05"),
		strings.ToUpper(string(rec.Level)),
		rec.Instance,
		rec.Region,
		rec.Message,
	)
}

func renderLines(recs []*logtail.Record) string {
	if len(recs) == 0 {
		return "(no logs)"
	}
	lines := make([]string, len(recs))
	for i, rec := range recs {
		lines[i] = renderLine(rec)
	}
	return strings.Join(lines, "\n")
}

// situationLine is the one-line current state used by get_metrics("all")
// and the initial context.
func situationLine(snap *metrics.Snapshot) string {
	var b strings.Builder
	if snap.System != nil {
		fmt.Fprintf(&b, "CPU %.1f%%, memory %dMB/%dMB (%.1f%%), ",
			snap.System.CPUPercent,
			snap.System.MemoryUsed/1024/1024,
			snap.System.MemoryTotal/1024/1024,
			snap.System.MemoryPercent,
		)
	} else {
		b.WriteString("CPU n/a, memory n/a, ")
	}
	busState := "disconnected"
	if snap.BusConnected {
		busState = "connected"
	}
	fmt.Fprintf(&b, "%d SSE + %d WS clients, bus %s, uptime %.0fs",
		snap.SSEActive, snap.WSActive, busState, snap.UptimeSeconds)
	return b.String()
}

func summaryLine(s logtail.Summary) string {
	window := "empty window"
	if s.Oldest != nil && s.Newest != nil {
		window = fmt.Sprintf("window %s", s.Newest.Sub(*s.Oldest).Round(time.Second))
	}
	return fmt.Sprintf("%d logs buffered (%s), %d errors, %d warnings",
		s.TotalCount, window, s.ErrorCount, s.WarnCount)
}

func recentErrorsBlock(s logtail.Summary) string {
	if len(s.RecentErrors) == 0 {
		return "Recent errors: none"
	}
	var b strings.Builder
	b.WriteString("Recent errors:")
	for _, e := range s.RecentErrors {
		fmt.Fprintf(&b, "\n- %s (×%d in last %d min)", e.Message, e.Count, e.Minutes)
	}
	return b.String()
}

// buildInitialContext assembles the compressed situation block for the
// first model turn: current state, log summary, recent errors, and the
// last 20 logs. Log lines are trimmed oldest-first to honor the token
// budget; the other sections are never trimmed.
func buildInitialContext(snap *metrics.Snapshot, summary logtail.Summary, recent []*logtail.Record) string {
	head := fmt.Sprintf("Current state: %s\nLogs: %s\n%s\n\nLast %d logs:\n",
		situationLine(snap),
		summaryLine(summary),
		recentErrorsBlock(summary),
		len(recent),
	)

	lines := make([]string, len(recent))
	for i, rec := range recent {
		lines[i] = renderLine(rec)
	}

	budgetBytes := initialContextTokenBudget * 4
	for len(lines) > 0 && len(head)+lineLen(lines) > budgetBytes {
		lines = lines[1:]
	}
	if len(lines) == 0 {
		return head + "(trimmed)"
	}
	return head + strings.Join(lines, "\n")
}

func lineLen(lines []string) int {
	total := 0
	for _, l := range lines {
		total += len(l) + 1
	}
	return total
}

const systemPrompt = `You are Flywatch, an observability assistant for a single application. ` +
	`You answer questions about the application's recent logs and current system metrics. ` +
	`Use the get_logs and get_metrics tools to inspect live state before answering. ` +
	`Be concise and ground every claim in tool output or the provided context.`
