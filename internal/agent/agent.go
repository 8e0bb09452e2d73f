// Package agent answers questions about the log window and current
// metrics through a bounded tool-calling exchange with an external chat
// completion endpoint.
package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/saint0x/flywatch/internal/state"
)

// MaxMessageLength bounds the user message; longer ones are rejected with
// ErrMessageTooLong before any external call.
const MaxMessageLength = 500

var (
	// ErrNotConfigured means no API key is set; handlers map it to 501.
	ErrNotConfigured = errors.New("chat agent not configured")
	// ErrMessageTooLong maps to 400.
	ErrMessageTooLong = fmt.Errorf("message exceeds %d characters", MaxMessageLength)
)

// Config tunes the agent.
type Config struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxRounds    int
	Timeout      time.Duration
}

// Agent holds the external endpoint parameters and the shared state its
// tools read.
type Agent struct {
	apiKey       string
	baseURL      string
	defaultModel string
	maxRounds    int
	timeout      time.Duration
	httpc        *http.Client
	st           *state.State
	logger       zerolog.Logger
}

// Result is the /chat response payload.
type Result struct {
	Response         string   `json:"response"`
	Model            string   `json:"model"`
	Usage            *Usage   `json:"usage,omitempty"`
	Cost             *Cost    `json:"cost,omitempty"`
	ToolsCalled      []string `json:"tools_called"`
	ProcessingTimeMS int64    `json:"processing_time_ms"`
}

// New creates the agent. An empty API key yields an agent whose Ask always
// returns ErrNotConfigured.
func New(cfg Config, st *state.State, logger zerolog.Logger) *Agent {
	if cfg.MaxRounds < 1 {
		cfg.MaxRounds = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Agent{
		apiKey:       cfg.APIKey,
		baseURL:      cfg.BaseURL,
		defaultModel: cfg.DefaultModel,
		maxRounds:    cfg.MaxRounds,
		timeout:      cfg.Timeout,
		httpc:        &http.Client{Timeout: cfg.Timeout},
		st:           st,
		logger:       logger.With().Str("component", "agent").Logger(),
	}
}

// Configured reports whether an API key is present.
func (a *Agent) Configured() bool { return a.apiKey != "" }

// Ask runs the full multi-round exchange for one user message. Tool calls
// requested by the model are executed locally against the buffer and
// collector; the loop ends when the model returns plain text or the round
// cap is reached.
func (a *Agent) Ask(ctx context.Context, message, model string) (*Result, error) {
	if !a.Configured() {
		return nil, ErrNotConfigured
	}
	if utf8.RuneCountInString(message) > MaxMessageLength {
		return nil, ErrMessageTooLong
	}
	if model == "" {
		model = a.defaultModel
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	initial := buildInitialContext(
		a.st.Collector.Snapshot(),
		a.st.Buffer.Summary(),
		a.st.Buffer.Recent(20),
	)

	messages := []chatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "system", Content: initial},
		{Role: "user", Content: message},
	}

	res := &Result{
		Model:       model,
		ToolsCalled: []string{},
	}
	usage := &Usage{}
	lastText := ""

	for round := 0; round < a.maxRounds; round++ {
		resp, err := a.complete(ctx, chatRequest{
			Model:    model,
			Messages: messages,
			Tools:    toolDefs,
		})
		if err != nil {
			return nil, err
		}
		usage.add(resp.Usage)

		msg := resp.Choices[0].Message
		if msg.Content != "" {
			lastText = msg.Content
		}

		if len(msg.ToolCalls) == 0 {
			res.Response = msg.Content
			res.Usage = usage
			res.Cost = computeCost(*usage, model)
			res.ProcessingTimeMS = time.Since(start).Milliseconds()
			return res, nil
		}

		messages = append(messages, msg)
		for _, tc := range msg.ToolCalls {
			output, invocation := a.executeTool(tc)
			res.ToolsCalled = append(res.ToolsCalled, invocation)
			a.logger.Debug().Str("tool", invocation).Msg("Executed tool call")
			messages = append(messages, chatMessage{
				Role:       "tool",
				Content:    output,
				ToolCallID: tc.ID,
			})
		}
	}

	// Round cap reached while the model was still asking for tools.
	if lastText == "" {
		lastText = "(truncated: tool-call budget exhausted)"
	}
	res.Response = lastText
	res.Usage = usage
	res.Cost = computeCost(*usage, model)
	res.ProcessingTimeMS = time.Since(start).Milliseconds()
	return res, nil
}
