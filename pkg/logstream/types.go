// Package logstream consumes the server-sent log/progress stream of a
// long-running enrichment job and keeps a resilient connection to it.
//
// A Client owns at most one live connection per correlation ID. All state
// changes are applied by a single dispatch goroutine reading one inbound
// channel; transport goroutines and reconnect timers only post messages to
// it. Messages from a connection that has since been closed are dropped.
package logstream

import (
	"encoding/json"
	"time"
)

// Level is the severity of a LogEntry
type Level string

// Log levels emitted by the enrichment service
const (
	LevelDebug   Level = "debug"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// LogEntry is one line of a job's log stream
type LogEntry struct {
	// Timestamp is an ISO-8601 timestamp
	Timestamp string `json:"timestamp"`

	// Level is the entry severity
	Level Level `json:"level"`

	// Message is the human-readable text
	Message string `json:"message"`

	// Step names the pipeline step that produced the entry
	Step string `json:"step,omitempty"`

	// DurationMs is the step duration in milliseconds
	DurationMs *float64 `json:"duration_ms,omitempty"`

	// Metadata carries arbitrary structured context
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// UnmarshalJSON accepts both duration_ms and durationMs.
func (e *LogEntry) UnmarshalJSON(data []byte) error {
	type plain LogEntry
	var aux struct {
		plain
		DurationMsCamel *float64 `json:"durationMs,omitempty"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*e = LogEntry(aux.plain)
	if e.DurationMs == nil {
		e.DurationMs = aux.DurationMsCamel
	}
	return nil
}

// State is the connection state of a Client
type State string

// Connection states
const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateError        State = "error"
)

// StreamStatus is the authoritative connection state for rendering
type StreamStatus struct {
	State State  `json:"state"`
	Error string `json:"error,omitempty"`
}

// Progress reports how far the job has come
type Progress struct {
	// PercentComplete is in [0,100]
	PercentComplete float64 `json:"percent_complete"`

	// IsComplete never reverts to false within a session
	IsComplete bool `json:"is_complete"`
}

// Snapshot is a consistent copy of a Client's observable state
type Snapshot struct {
	CorrelationID string       `json:"correlation_id"`
	Logs          []LogEntry   `json:"logs"`
	// Epoch changes whenever Logs is restarted: a new session or ClearLogs
	Epoch         uint64       `json:"epoch"`
	Status        StreamStatus `json:"status"`
	Progress      Progress     `json:"progress"`
	Attempt       int          `json:"reconnect_attempt"`
	UpdatedAt     time.Time    `json:"updated_at"`
}
