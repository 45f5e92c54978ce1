package types

import (
	"bytes"
	"encoding/json"
)

// EventKind discriminates ProgressEvent payloads.
type EventKind string

const (
	EventStep     EventKind = "step"
	EventPhase    EventKind = "phase"
	EventProgress EventKind = "progress" // engine spelling of a step tick
	EventComplete EventKind = "complete"
	EventError    EventKind = "error"
)

// DataPrefix starts every payload line of an event stream.
const DataPrefix = "data: "

// ProgressEvent is one progress update of a long-running engine job. It is the
// wire contract between engine, relay and consumer; optional numeric fields are
// pointers so that "absent" survives a JSON round trip.
type ProgressEvent struct {
	Event        EventKind `json:"event"`
	Step         *int      `json:"step,omitempty"`
	TotalSteps   *int      `json:"total_steps,omitempty"`
	Percentage   *float64  `json:"percentage,omitempty"`
	Message      string    `json:"message,omitempty"`
	ImagePath    string    `json:"image_path,omitempty"`
	LoraPath     string    `json:"lora_path,omitempty"`
	ModelID      string    `json:"model_id,omitempty"`
	DownloadedMB *float64  `json:"downloaded_mb,omitempty"`
	TotalMB      *float64  `json:"total_mb,omitempty"`
	Error        string    `json:"error,omitempty"`
	Success      bool      `json:"success"`
}

// Terminal reports whether no further events follow this one.
func (e ProgressEvent) Terminal() bool {
	return e.Event == EventComplete || e.Event == EventError
}

// ErrorEvent builds the synthetic error event emitted when a stream fails locally.
func ErrorEvent(msg string) ProgressEvent {
	return ProgressEvent{Event: EventError, Success: false, Error: msg, Message: msg}
}

// EncodeSSE renders e as one server-push event: a single data line followed by
// the blank line that terminates the event.
func EncodeSSE(e ProgressEvent) []byte {
	b, err := json.Marshal(e)
	if err != nil {
		// only reachable with NaN/Inf percentages
		b, _ = json.Marshal(ErrorEvent("unencodable progress event"))
	}
	var buf bytes.Buffer
	buf.Grow(len(DataPrefix) + len(b) + 2)
	buf.WriteString(DataPrefix)
	buf.Write(b)
	buf.WriteString("\n\n")
	return buf.Bytes()
}

// Ptr returns a pointer to v; handy for optional event fields.
func Ptr[T any](v T) *T { return &v }
