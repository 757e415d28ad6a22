package logstream

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

// Event names on the enrichment log stream
const (
	EventLog       = "log"
	EventStatus    = "status"
	EventComplete  = "complete"
	EventError     = "error"
	EventHeartbeat = "heartbeat"
)

// genericErrorMessage is used when an error event has no usable payload.
const genericErrorMessage = "An error occurred"

var errNotObject = errors.New("payload is not a JSON object")

// statusPayload is the body of a status event
type statusPayload struct {
	Status          string   `json:"status"`
	PercentComplete *float64 `json:"percent_complete"`
	Message         string   `json:"message,omitempty"`
}

// errorPayload is the body of an application-level error event
type errorPayload struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// DecodeLogEntry parses a log event payload.
func DecodeLogEntry(data []byte) (LogEntry, error) {
	var entry LogEntry
	if err := decodeObject(data, &entry); err != nil {
		return LogEntry{}, &ParseError{Event: EventLog, Err: err}
	}
	return entry, nil
}

func decodeStatus(data []byte) (statusPayload, error) {
	var p statusPayload
	if err := decodeObject(data, &p); err != nil {
		return statusPayload{}, &ParseError{Event: EventStatus, Err: err}
	}
	return p, nil
}

// isFinalStatus reports whether a status value ends the job.
func isFinalStatus(status string) bool {
	switch strings.ToLower(status) {
	case "completed", "failed":
		return true
	}
	return false
}

// applicationErrorEntry turns an error event into a log line. A missing and
// an unparseable payload both yield the generic message.
func applicationErrorEntry(data []byte, timestamp string) LogEntry {
	entry := LogEntry{
		Timestamp: timestamp,
		Level:     LevelError,
		Message:   genericErrorMessage,
	}

	var p errorPayload
	if err := decodeObject(data, &p); err != nil {
		return entry
	}
	switch {
	case p.Message != "":
		entry.Message = p.Message
	case p.Error != "":
		entry.Message = p.Error
	}

	var meta map[string]interface{}
	if json.Unmarshal(data, &meta) == nil {
		delete(meta, "message")
		if len(meta) > 0 {
			entry.Metadata = meta
		}
	}
	return entry
}

func decodeObject(data []byte, v interface{}) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return errNotObject
	}
	return json.Unmarshal(trimmed, v)
}

func clampPercent(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}
