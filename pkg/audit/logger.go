// Package audit records structured settlement audit events as JSON lines.
// The audit trail is an operator-facing journal of what a run did; it is not
// itself evidence (evidence is the hash-anchored bundle).
package audit

import (
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType categorizes an audit event.
type EventType string

const (
	EventRun      EventType = "RUN"
	EventStage    EventType = "STAGE"
	EventArtifact EventType = "ARTIFACT"
	EventWarning  EventType = "WARNING"
)

// Event is one structured audit record.
type Event struct {
	ID        string         `json:"id"`
	Period    string         `json:"period"`
	Type      EventType      `json:"type"`
	Action    string         `json:"action"`
	Resource  string         `json:"resource,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Logger records audit events.
type Logger interface {
	Record(eventType EventType, period, action, resource string, metadata map[string]any) error
}

type logger struct {
	mu     sync.Mutex
	writer io.Writer
}

// NewLogger creates a Logger writing to os.Stdout.
func NewLogger() Logger {
	return NewLoggerWithWriter(os.Stdout)
}

// NewLoggerWithWriter creates a Logger writing to the given writer.
// This allows injection for testing and custom sinks.
func NewLoggerWithWriter(w io.Writer) Logger {
	if w == nil {
		w = os.Stdout
	}
	return &logger{writer: w}
}

func (l *logger) Record(eventType EventType, period, action, resource string, metadata map[string]any) error {
	event := Event{
		ID:        uuid.New().String(),
		Period:    period,
		Type:      eventType,
		Action:    action,
		Resource:  resource,
		Timestamp: time.Now().UTC(),
		Metadata:  metadata,
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	// Prefix with AUDIT: for easy filtering
	_, err = l.writer.Write(append([]byte("AUDIT: "), append(data, '\n')...))
	return err
}

// Nop returns a Logger that discards everything.
func Nop() Logger {
	return &logger{writer: io.Discard}
}
