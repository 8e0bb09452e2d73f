package logtail

import (
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"
)

// Level is a log severity as carried on the bus.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
	LevelDebug Level = "debug"
)

// ParseLevel coerces an arbitrary level string to a known Level.
// Unknown values map to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "warn", "warning":
		return LevelWarn
	case "error", "err":
		return LevelError
	case "debug":
		return LevelDebug
	default:
		return LevelInfo
	}
}

// Record is one parsed log line from the bus. Records are immutable after
// construction and shared by pointer between the buffer and all
// subscribers; nothing may mutate them after ParseLine returns.
type Record struct {
	Time     time.Time
	Level    Level
	Instance string
	Region   string
	App      string
	Message  string

	// Raw is the original line verbatim. Stream handlers re-emit it so
	// unknown envelope fields pass through untouched.
	Raw string
}

// envelope mirrors the bus's log event shape. Only the fields the relay
// reads are declared; everything else survives in Record.Raw.
type envelope struct {
	Event struct {
		Provider string `json:"provider"`
	} `json:"event"`
	Fly struct {
		App struct {
			Instance string `json:"instance"`
			Name     string `json:"name"`
		} `json:"app"`
		Region string `json:"region"`
	} `json:"fly"`
	Log struct {
		Level string `json:"level"`
	} `json:"log"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

const unknownField = "unknown"

// ParseLine builds a Record from one bus payload. It never fails: payloads
// that are not JSON objects become info-level Records carrying the whole
// line as the message, and missing envelope fields fall back to sentinels.
// Non-UTF-8 bytes are lossy-decoded before parsing.
func ParseLine(data []byte, now time.Time) *Record {
	line := sanitizeUTF8(data)

	rec := &Record{
		Time:     now.Truncate(time.Millisecond),
		Level:    LevelInfo,
		Instance: unknownField,
		Region:   unknownField,
		App:      unknownField,
		Message:  line,
		Raw:      line,
	}

	var env envelope
	if err := json.Unmarshal([]byte(line), &env); err != nil {
		return rec
	}

	if env.Fly.App.Instance != "" {
		rec.Instance = env.Fly.App.Instance
	}
	if env.Fly.App.Name != "" {
		rec.App = env.Fly.App.Name
	}
	if env.Fly.Region != "" {
		rec.Region = env.Fly.Region
	}
	if env.Log.Level != "" {
		rec.Level = ParseLevel(env.Log.Level)
	}
	if env.Message != "" {
		rec.Message = env.Message
	} else {
		rec.Message = unknownField
	}
	if env.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339Nano, env.Timestamp); err == nil {
			rec.Time = ts.Truncate(time.Millisecond)
		}
	}

	return rec
}

// sanitizeUTF8 replaces invalid byte sequences with the replacement rune.
// The common case (valid UTF-8) allocates once.
func sanitizeUTF8(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	return strings.ToValidUTF8(string(data), string(utf8.RuneError))
}
