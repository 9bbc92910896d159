// Package merge folds an ordered SSE event sequence into one complete
// message document, equivalent to what a non-streaming call would have
// returned.
package merge

import "encoding/json"

// Usage tracks token accounting for a merged message.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ContentBlock is one block of merged message content. Text blocks carry
// Text; tool_use blocks carry ID, Name and the Input document accumulated
// from input_json_delta fragments.
type ContentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

// Message is the reconstructed logical response for one streamed flow.
type Message struct {
	ID           string         `json:"id,omitempty"`
	Type         string         `json:"type"`
	Role         string         `json:"role,omitempty"`
	Model        string         `json:"model,omitempty"`
	Content      []ContentBlock `json:"content"`
	StopReason   string         `json:"stop_reason,omitempty"`
	StopSequence string         `json:"stop_sequence,omitempty"`
	Usage        Usage          `json:"usage"`
}
