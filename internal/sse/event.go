package sse

import (
	"encoding/json"
	"strings"
)

// doneSentinel is the literal terminator payload. It marks end-of-stream and
// is never emitted as an event.
const doneSentinel = "[DONE]"

// Event is one parsed SSE event.
type Event struct {
	// Name is the value of the "event:" field, empty for the default type.
	Name string
	// Data is the payload when it is valid JSON, nil otherwise.
	Data json.RawMessage
	// Raw is the payload text (multiple data: lines joined with "\n").
	Raw string
	// Index is the event's position in the stream, strictly increasing.
	Index int
}

// Kind resolves the logical event kind: the JSON "type" field when present,
// otherwise the SSE event name.
func (e Event) Kind() string {
	if len(e.Data) > 0 {
		var probe struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(e.Data, &probe); err == nil && probe.Type != "" {
			return probe.Type
		}
	}
	return e.Name
}

// Parse decodes a raw SSE byte buffer into its ordered event sequence.
//
// Events are delimited by blank lines. Multiple "data:" lines within one
// event are joined with a newline, as SSE clients do. A trailing
// block without its blank-line terminator is dropped: the stream was cut off
// mid-frame and partial data must never be merged. The "[DONE]" sentinel
// ends parsing without producing an event.
func Parse(raw []byte) []Event {
	normalized := strings.ReplaceAll(string(raw), "\r\n", "\n")
	blocks := strings.Split(normalized, "\n\n")

	var events []Event
	for i, block := range blocks {
		if i == len(blocks)-1 && strings.TrimSpace(block) != "" {
			// Unterminated trailing frame.
			break
		}

		var name string
		var dataLines []string
		for _, line := range strings.Split(block, "\n") {
			switch {
			case strings.HasPrefix(line, ":"):
				// Comment line.
			case strings.HasPrefix(line, "data:"):
				dataLines = append(dataLines, trimFieldValue(line, "data:"))
			case strings.HasPrefix(line, "event:"):
				name = trimFieldValue(line, "event:")
			default:
				// id:, retry:, and unknown fields carry nothing we merge.
			}
		}
		if len(dataLines) == 0 {
			continue
		}

		payload := strings.Join(dataLines, "\n")
		if payload == doneSentinel {
			return events
		}

		event := Event{Name: name, Raw: payload, Index: len(events)}
		if json.Valid([]byte(payload)) {
			event.Data = json.RawMessage(payload)
		}
		events = append(events, event)
	}
	return events
}

// trimFieldValue strips the field prefix and the single optional leading
// space the SSE grammar allows.
func trimFieldValue(line, field string) string {
	value := strings.TrimPrefix(line, field)
	return strings.TrimPrefix(value, " ")
}
