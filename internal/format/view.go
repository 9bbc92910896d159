package format

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"flowlog/internal/merge"
)

// RenderMessage converts a merged message into printable lines.
func RenderMessage(msg merge.Message, wrapWidth int) []string {
	var lines []string

	header := fmt.Sprintf("[%s]", displayRole(msg.Role))
	if msg.Model != "" {
		header += fmt.Sprintf(" %s", msg.Model)
	}
	if msg.ID != "" {
		header += fmt.Sprintf(" (%s)", msg.ID)
	}
	lines = append(lines, header)

	for _, block := range msg.Content {
		lines = append(lines, renderBlock(block, wrapWidth)...)
	}

	footer := fmt.Sprintf("tokens: %d in / %d out", msg.Usage.InputTokens, msg.Usage.OutputTokens)
	if msg.StopReason != "" {
		footer += fmt.Sprintf(", stop: %s", msg.StopReason)
	}
	lines = append(lines, footer)
	return lines
}

func renderBlock(block merge.ContentBlock, wrapWidth int) []string {
	switch block.Type {
	case "text", "":
		body := wrapBody(strings.TrimSpace(block.Text), wrapWidth)
		if body == "" {
			return nil
		}
		return strings.Split(body, "\n")
	case "tool_use":
		line := fmt.Sprintf("Tool: %s (ID: %s)", block.Name, block.ID)
		out := []string{line}
		if len(block.Input) > 0 {
			out = append(out, "Input:")
			out = append(out, strings.Split(formatJSON(string(block.Input)), "\n")...)
		}
		return out
	default:
		line := fmt.Sprintf("[%s]", block.Type)
		if block.Text != "" {
			line += " " + block.Text
		}
		return []string{line}
	}
}

func displayRole(role string) string {
	if role == "" {
		return "message"
	}
	return role
}

// wrapBody re-wraps text at word boundaries. A wrapWidth of zero disables
// wrapping.
func wrapBody(body string, wrapWidth int) string {
	if wrapWidth <= 0 || body == "" {
		return body
	}

	var out []string
	for _, line := range strings.Split(body, "\n") {
		out = append(out, wrapLine(line, wrapWidth)...)
	}
	return strings.Join(out, "\n")
}

func wrapLine(line string, width int) []string {
	if len(line) <= width {
		return []string{line}
	}

	words := strings.Fields(line)
	if len(words) == 0 {
		return []string{line}
	}

	var wrapped []string
	current := words[0]
	for _, word := range words[1:] {
		if len(current)+1+len(word) > width {
			wrapped = append(wrapped, current)
			current = word
			continue
		}
		current += " " + word
	}
	wrapped = append(wrapped, current)
	return wrapped
}

// formatJSON pretty-prints text when it is valid JSON, and returns it
// unchanged otherwise.
func formatJSON(text string) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(text), "", "  "); err != nil {
		return text
	}
	return buf.String()
}
