package merge

import (
	"encoding/json"
	"fmt"
	"strings"

	"flowlog/internal/sse"
)

// UsageRule decides how usage counters in message_delta events are applied.
// The upstream protocol determines whether they are cumulative totals or
// increments, so the choice is configuration, not a hard-coded assumption.
type UsageRule int

const (
	// UsageAbsolute treats message_delta usage as cumulative totals that
	// overwrite the running counters. This matches the Anthropic Messages
	// protocol and is the default.
	UsageAbsolute UsageRule = iota
	// UsageDelta treats message_delta usage as increments to be summed.
	UsageDelta
)

// ParseUsageRule maps a configuration string to a UsageRule.
func ParseUsageRule(value string) (UsageRule, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "absolute":
		return UsageAbsolute, nil
	case "delta", "additive":
		return UsageDelta, nil
	default:
		return UsageAbsolute, fmt.Errorf("unknown usage mode %q (want absolute or delta)", value)
	}
}

// MergeError reports an event that violates the merge protocol's structural
// expectations. The flow's merge is abandoned; the run continues.
type MergeError struct {
	EventIndex int
	Kind       string
	Reason     string
}

func (e *MergeError) Error() string {
	return fmt.Sprintf("merge event %d (%s): %s", e.EventIndex, e.Kind, e.Reason)
}

type state int

const (
	stateInit state = iota
	stateAccumulating
	stateTerminal
)

// Merger folds recognized event kinds into a Message. The fold is pure and
// deterministic: the same ordered event sequence always yields the same
// message, regardless of timing.
type Merger struct {
	rule  UsageRule
	state state
	msg   Message

	// inputBufs accumulates input_json_delta fragments per content block,
	// parallel to msg.Content.
	inputBufs []*strings.Builder
}

// NewMerger returns a Merger ready to consume one flow's event sequence.
func NewMerger(rule UsageRule) *Merger {
	return &Merger{
		rule: rule,
		msg:  Message{Type: "message", Content: []ContentBlock{}},
	}
}

type messageStartPayload struct {
	Message struct {
		ID    string `json:"id"`
		Role  string `json:"role"`
		Model string `json:"model"`
		Usage Usage  `json:"usage"`
	} `json:"message"`
}

type blockStartPayload struct {
	Index        int `json:"index"`
	ContentBlock struct {
		Type string `json:"type"`
		Text string `json:"text"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block"`
}

type blockDeltaPayload struct {
	Index int `json:"index"`
	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
	} `json:"delta"`
}

type blockStopPayload struct {
	Index int `json:"index"`
}

type messageDeltaPayload struct {
	Delta struct {
		StopReason   string `json:"stop_reason"`
		StopSequence string `json:"stop_sequence"`
	} `json:"delta"`
	// Pointer fields distinguish an absent counter from an explicit zero:
	// a payload carrying only one counter must not clobber the other.
	Usage *struct {
		InputTokens  *int `json:"input_tokens"`
		OutputTokens *int `json:"output_tokens"`
	} `json:"usage"`
}

// Apply folds one event into the message. Unrecognized event kinds are
// ignored so new protocol events never abort a merge.
func (m *Merger) Apply(event sse.Event) error {
	kind := event.Kind()
	if m.state == stateTerminal {
		return &MergeError{EventIndex: event.Index, Kind: kind, Reason: "event after message_stop"}
	}

	switch kind {
	case "message_start":
		if m.state != stateInit {
			return &MergeError{EventIndex: event.Index, Kind: kind, Reason: "duplicate message_start"}
		}
		var payload messageStartPayload
		if err := decode(event, kind, &payload); err != nil {
			return err
		}
		m.msg.ID = payload.Message.ID
		m.msg.Role = payload.Message.Role
		m.msg.Model = payload.Message.Model
		m.msg.Usage = payload.Message.Usage
		m.state = stateAccumulating

	case "content_block_start":
		if err := m.requireAccumulating(event, kind); err != nil {
			return err
		}
		var payload blockStartPayload
		if err := decode(event, kind, &payload); err != nil {
			return err
		}
		if payload.Index != len(m.msg.Content) {
			return &MergeError{EventIndex: event.Index, Kind: kind,
				Reason: fmt.Sprintf("content block index %d out of sequence (have %d blocks)", payload.Index, len(m.msg.Content))}
		}
		m.msg.Content = append(m.msg.Content, ContentBlock{
			Type: payload.ContentBlock.Type,
			Text: payload.ContentBlock.Text,
			ID:   payload.ContentBlock.ID,
			Name: payload.ContentBlock.Name,
		})
		m.inputBufs = append(m.inputBufs, &strings.Builder{})

	case "content_block_delta":
		if err := m.requireAccumulating(event, kind); err != nil {
			return err
		}
		var payload blockDeltaPayload
		if err := decode(event, kind, &payload); err != nil {
			return err
		}
		if payload.Index < 0 || payload.Index >= len(m.msg.Content) {
			return &MergeError{EventIndex: event.Index, Kind: kind,
				Reason: fmt.Sprintf("content block index %d out of range", payload.Index)}
		}
		switch payload.Delta.Type {
		case "input_json_delta":
			m.inputBufs[payload.Index].WriteString(payload.Delta.PartialJSON)
		default:
			// text_delta and friends: fragments are concatenated in exact
			// arrival order, never reordered or deduplicated.
			m.msg.Content[payload.Index].Text += payload.Delta.Text
		}

	case "content_block_stop":
		if err := m.requireAccumulating(event, kind); err != nil {
			return err
		}
		var payload blockStopPayload
		if err := decode(event, kind, &payload); err != nil {
			return err
		}
		if payload.Index < 0 || payload.Index >= len(m.msg.Content) {
			return &MergeError{EventIndex: event.Index, Kind: kind,
				Reason: fmt.Sprintf("content block index %d out of range", payload.Index)}
		}
		m.finalizeBlock(payload.Index)

	case "message_delta":
		if err := m.requireAccumulating(event, kind); err != nil {
			return err
		}
		var payload messageDeltaPayload
		if err := decode(event, kind, &payload); err != nil {
			return err
		}
		if payload.Delta.StopReason != "" {
			m.msg.StopReason = payload.Delta.StopReason
		}
		if payload.Delta.StopSequence != "" {
			m.msg.StopSequence = payload.Delta.StopSequence
		}
		if payload.Usage != nil {
			switch m.rule {
			case UsageDelta:
				if payload.Usage.InputTokens != nil {
					m.msg.Usage.InputTokens += *payload.Usage.InputTokens
				}
				if payload.Usage.OutputTokens != nil {
					m.msg.Usage.OutputTokens += *payload.Usage.OutputTokens
				}
			default:
				if payload.Usage.InputTokens != nil {
					m.msg.Usage.InputTokens = *payload.Usage.InputTokens
				}
				if payload.Usage.OutputTokens != nil {
					m.msg.Usage.OutputTokens = *payload.Usage.OutputTokens
				}
			}
		}

	case "message_stop":
		if err := m.requireAccumulating(event, kind); err != nil {
			return err
		}
		m.finalizeAll()
		m.state = stateTerminal

	default:
		// Unknown event kinds (ping, future additions) are ignored.
	}
	return nil
}

// requireAccumulating rejects content events before message_start.
func (m *Merger) requireAccumulating(event sse.Event, kind string) error {
	if m.state != stateAccumulating {
		return &MergeError{EventIndex: event.Index, Kind: kind, Reason: "event before message_start"}
	}
	return nil
}

// finalizeBlock parses any accumulated tool input for the block. Invalid or
// truncated JSON is left unset rather than merged partially.
func (m *Merger) finalizeBlock(index int) {
	buf := m.inputBufs[index]
	if buf.Len() == 0 {
		return
	}
	if raw := buf.String(); json.Valid([]byte(raw)) {
		m.msg.Content[index].Input = json.RawMessage(raw)
	}
	buf.Reset()
}

func (m *Merger) finalizeAll() {
	for i := range m.msg.Content {
		m.finalizeBlock(i)
	}
}

// Complete reports whether message_stop was observed.
func (m *Merger) Complete() bool { return m.state == stateTerminal }

// Message returns the merged message accumulated so far. For streams that
// were cut off before message_stop this is the best-effort partial result.
func (m *Merger) Message() Message {
	m.finalizeAll()
	return m.msg
}

// Merge folds a full event sequence into a message. The boolean reports
// whether the stream terminated cleanly with message_stop. An empty event
// sequence yields an empty message, not an error.
func Merge(events []sse.Event, rule UsageRule) (Message, bool, error) {
	m := NewMerger(rule)
	for _, event := range events {
		if err := m.Apply(event); err != nil {
			return Message{}, false, err
		}
	}
	return m.Message(), m.Complete(), nil
}

func decode(event sse.Event, kind string, dst any) error {
	if len(event.Data) == 0 {
		return &MergeError{EventIndex: event.Index, Kind: kind, Reason: "payload is not valid JSON"}
	}
	if err := json.Unmarshal(event.Data, dst); err != nil {
		return &MergeError{EventIndex: event.Index, Kind: kind, Reason: err.Error()}
	}
	return nil
}
