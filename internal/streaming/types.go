// Package streaming fans out batch ingestion progress to in-process
// subscribers such as the CLI progress renderer.
package streaming

import (
	"encoding/json"
	"time"
)

// EventType represents the type of progress event
type EventType string

const (
	EventTypeDocument EventType = "document"
	EventTypeProgress EventType = "progress"
	EventTypeComplete EventType = "complete"
	EventTypeError    EventType = "error"
)

// Event is one progress notification. The payload is reachable only through
// the typed accessors.
type Event struct {
	Type      EventType
	Timestamp time.Time
	data      any
}

// MarshalJSON renders the event as {"type", "timestamp", "data"}.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type      EventType `json:"type"`
		Timestamp time.Time `json:"timestamp"`
		Data      any       `json:"data"`
	}{e.Type, e.Timestamp, e.data})
}

// Data returns the raw payload.
func (e Event) Data() any { return e.data }

// Critical events are delivered with a grace period instead of being dropped.
func (e Event) Critical() bool {
	return e.Type == EventTypeComplete || e.Type == EventTypeError
}

// DocumentEvent reports one document's outcome.
type DocumentEvent struct {
	BatchID     string `json:"batchId"`
	Index       int    `json:"index"`
	Document    string `json:"document"`
	Plugin      string `json:"plugin,omitempty"`
	Status      string `json:"status"`
	Stage       string `json:"stage,omitempty"`
	StatementID string `json:"statementId,omitempty"`
	Duplicates  int    `json:"duplicates,omitempty"`
	Error       string `json:"error,omitempty"`
}

// ProgressEvent represents batch progress
type ProgressEvent struct {
	BatchID    string  `json:"batchId"`
	Processed  int     `json:"processed"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
}

// CompleteEvent closes a batch.
type CompleteEvent struct {
	BatchID  string         `json:"batchId"`
	Counts   map[string]int `json:"counts"`
	Duration time.Duration  `json:"duration"`
}

// ErrorEvent represents a batch-level failure, e.g. cancellation
type ErrorEvent struct {
	BatchID string `json:"batchId"`
	Message string `json:"message"`
}

func newEvent(t EventType, data any) Event {
	return Event{Type: t, Timestamp: time.Now(), data: data}
}

// NewDocumentEvent creates a document event.
func NewDocumentEvent(d DocumentEvent) Event { return newEvent(EventTypeDocument, d) }

// NewProgressEvent creates a progress event, filling in Percentage.
func NewProgressEvent(p ProgressEvent) Event {
	if p.Total > 0 {
		p.Percentage = float64(p.Processed) / float64(p.Total) * 100
	}
	return newEvent(EventTypeProgress, p)
}

// NewCompleteEvent creates a complete event.
func NewCompleteEvent(c CompleteEvent) Event { return newEvent(EventTypeComplete, c) }

// NewErrorEvent creates an error event.
func NewErrorEvent(e ErrorEvent) Event { return newEvent(EventTypeError, e) }

// Document returns the payload of a document event.
func (e Event) Document() (DocumentEvent, bool) {
	d, ok := e.data.(DocumentEvent)
	return d, ok
}

// Progress returns the payload of a progress event.
func (e Event) Progress() (ProgressEvent, bool) {
	p, ok := e.data.(ProgressEvent)
	return p, ok
}

// Complete returns the payload of a complete event.
func (e Event) Complete() (CompleteEvent, bool) {
	c, ok := e.data.(CompleteEvent)
	return c, ok
}

// Failure returns the payload of an error event.
func (e Event) Failure() (ErrorEvent, bool) {
	er, ok := e.data.(ErrorEvent)
	return er, ok
}
