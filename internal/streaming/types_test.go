package streaming

import (
	"encoding/json"
	"testing"
)

// TestJSONMarshaling verifies Event marshals correctly with its private data field
func TestJSONMarshaling(t *testing.T) {
	event := NewDocumentEvent(DocumentEvent{
		BatchID:  "b1",
		Index:    2,
		Document: "feb.pdf",
		Plugin:   "citi-pdf",
		Status:   "unreconciled",
	})

	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("Failed to marshal event: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("Failed to unmarshal JSON: %v", err)
	}
	if result["type"] != string(EventTypeDocument) {
		t.Errorf("Expected type=%s, got %v", EventTypeDocument, result["type"])
	}
	if _, ok := result["timestamp"]; !ok {
		t.Error("Expected timestamp field")
	}
	dataField, ok := result["data"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected data field to be object, got %T", result["data"])
	}
	if dataField["document"] != "feb.pdf" || dataField["status"] != "unreconciled" {
		t.Errorf("unexpected data %v", dataField)
	}
	if _, present := dataField["error"]; present {
		t.Error("empty error should be omitted")
	}
}

// TestTypeSafeAccessors verifies accessors only return their own payload type
func TestTypeSafeAccessors(t *testing.T) {
	event := NewErrorEvent(ErrorEvent{BatchID: "b1", Message: "cancelled"})

	if _, ok := event.Progress(); ok {
		t.Error("Progress() should fail on an error event")
	}
	if _, ok := event.Document(); ok {
		t.Error("Document() should fail on an error event")
	}
	got, ok := event.Failure()
	if !ok || got.Message != "cancelled" {
		t.Errorf("Failure() = %+v, %v", got, ok)
	}
	if !event.Critical() {
		t.Error("error events are critical")
	}
}

func TestNewProgressEventPercentage(t *testing.T) {
	p, ok := NewProgressEvent(ProgressEvent{Processed: 1, Total: 4}).Progress()
	if !ok || p.Percentage != 25 {
		t.Errorf("expected 25%%, got %+v", p)
	}
	p, _ = NewProgressEvent(ProgressEvent{}).Progress()
	if p.Percentage != 0 {
		t.Errorf("empty batch percentage = %v", p.Percentage)
	}

	c := NewCompleteEvent(CompleteEvent{Counts: map[string]int{"committed": 2}})
	if cc, ok := c.Complete(); !ok || cc.Counts["committed"] != 2 || !c.Critical() {
		t.Errorf("unexpected complete event %+v", c)
	}
	if NewDocumentEvent(DocumentEvent{}).Critical() {
		t.Error("document events are not critical")
	}
}
