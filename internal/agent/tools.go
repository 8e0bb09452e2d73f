package agent

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/saint0x/flywatch/internal/logtail"
)

// The tool set is closed: two tools, both reading in-memory state only.
// Execution cannot fail; malformed arguments degrade to defaults.

var toolDefs = buildToolDefs()

func buildToolDefs() []toolDef {
	logs := toolDef{Type: "function"}
	logs.Function.Name = "get_logs"
	logs.Function.Description = "Fetch recent application logs. Provide either count (number of " +
		"most recent lines) or minutes (lookback window); count wins if both are given. " +
		"Optionally filter to a single severity level."
	logs.Function.Parameters = json.RawMessage(`{
		"type": "object",
		"properties": {
			"count":   {"type": "integer", "description": "Number of most recent log lines"},
			"minutes": {"type": "integer", "description": "Lookback window in minutes"},
			"level":   {"type": "string", "enum": ["error", "warn", "info", "debug"]}
		}
	}`)

	mets := toolDef{Type: "function"}
	mets.Function.Name = "get_metrics"
	mets.Function.Description = "Fetch current system metrics as a one-line summary."
	mets.Function.Parameters = json.RawMessage(`{
		"type": "object",
		"properties": {
			"type": {"type": "string", "enum": ["cpu", "memory", "connections", "all"]}
		}
	}`)

	return []toolDef{logs, mets}
}

type getLogsArgs struct {
	Count   int    `json:"count"`
	Minutes int    `json:"minutes"`
	Level   string `json:"level"`
}

type getMetricsArgs struct {
	Type string `json:"type"`
}

// executeTool runs one tool call against the shared state and returns the
// tool result plus the invocation string recorded in the response payload.
func (a *Agent) executeTool(tc toolCall) (result, invocation string) {
	switch tc.Function.Name {
	case "get_logs":
		var args getLogsArgs
		// Malformed arguments fall through to the zero value; the tool
		// then applies its defaults.
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		return a.getLogs(args), formatInvocation("get_logs", logArgPairs(args))

	case "get_metrics":
		var args getMetricsArgs
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		if args.Type == "" {
			args.Type = "all"
		}
		return a.getMetrics(args), formatInvocation("get_metrics", []string{"type=" + args.Type})

	default:
		return fmt.Sprintf("unknown tool %q", tc.Function.Name),
			formatInvocation(tc.Function.Name, nil)
	}
}

func logArgPairs(args getLogsArgs) []string {
	var pairs []string
	if args.Count > 0 {
		pairs = append(pairs, fmt.Sprintf("count=%d", args.Count))
	}
	if args.Minutes > 0 {
		pairs = append(pairs, fmt.Sprintf("minutes=%d", args.Minutes))
	}
	if args.Level != "" {
		pairs = append(pairs, "level="+args.Level)
	}
	return pairs
}

func formatInvocation(name string, pairs []string) string {
	return name + "(" + strings.Join(pairs, ",") + ")"
}

func (a *Agent) getLogs(args getLogsArgs) string {
	var recs []*logtail.Record

	switch {
	case args.Count > 0:
		recs = a.st.Buffer.Recent(args.Count)
	case args.Minutes > 0:
		recs = a.st.Buffer.Since(time.Duration(args.Minutes) * time.Minute)
	default:
		recs = a.st.Buffer.Recent(50)
	}

	if args.Level != "" {
		level := logtail.ParseLevel(args.Level)
		filtered := recs[:0:0]
		for _, rec := range recs {
			if rec.Level == level {
				filtered = append(filtered, rec)
			}
		}
		recs = filtered
	}

	return renderLines(recs)
}

func (a *Agent) getMetrics(args getMetricsArgs) string {
	snap := a.st.Collector.Snapshot()

	switch args.Type {
	case "cpu":
		if snap.System == nil {
			return "CPU n/a"
		}
		return fmt.Sprintf("CPU %.1f%%", snap.System.CPUPercent)
	case "memory":
		if snap.System == nil {
			return "memory n/a"
		}
		return fmt.Sprintf("memory %dMB/%dMB (%.1f%%)",
			snap.System.MemoryUsed/1024/1024,
			snap.System.MemoryTotal/1024/1024,
			snap.System.MemoryPercent)
	case "connections":
		return fmt.Sprintf("%d SSE + %d WS clients", snap.SSEActive, snap.WSActive)
	default:
		return situationLine(snap)
	}
}
