// Package export serializes extracted flows into the original and merged
// JSON documents. Both documents are ordered JSON arrays, pretty-printed,
// and safe to re-extract into: entries are deduplicated by a stable identity
// so repeated runs over a growing capture store never duplicate or reorder
// what was already written.
package export

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"flowlog/internal/merge"
)

// Response type markers.
const (
	TypeOriginal = "original"
	TypeMerged   = "merged"
)

// Response is the response portion of an export entry. Original entries and
// plain passthrough entries carry Body verbatim; merged streaming entries
// carry the reconstructed Message instead.
type Response struct {
	StatusCode int             `json:"status_code,omitempty"`
	Body       json.RawMessage `json:"response_body,omitempty"`
	Message    *merge.Message  `json:"message,omitempty"`
	Incomplete bool            `json:"incomplete,omitempty"`
	Type       string          `json:"type"`
}

// Entry is one exported flow.
type Entry struct {
	Timestamp   time.Time       `json:"timestamp"`
	RequestBody json.RawMessage `json:"request_body"`
	Response    Response        `json:"response"`
}

// Identity returns the stable dedup key for the entry: the capture timestamp
// plus a hash of the request body. The body is compacted first so identity
// survives re-indentation when a document is reloaded.
func (e Entry) Identity() string {
	body := compactJSON(e.RequestBody)
	sum := sha256.Sum256(body)
	return e.Timestamp.UTC().Format(time.RFC3339Nano) + ":sha256:" + hex.EncodeToString(sum[:])
}

func compactJSON(raw json.RawMessage) []byte {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return buf.Bytes()
}

// JSONValue normalizes a raw body for export: valid JSON is kept as-is,
// anything else is retained as a JSON string, and an empty body becomes null.
func JSONValue(raw []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return json.RawMessage("null")
	}
	if json.Valid(trimmed) {
		return json.RawMessage(bytes.Clone(trimmed))
	}
	encoded, err := json.Marshal(string(raw))
	if err != nil {
		return json.RawMessage("null")
	}
	return encoded
}
