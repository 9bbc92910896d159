// Package sse classifies response bodies and parses Server-Sent-Events
// payloads into ordered event sequences.
package sse

import (
	"bytes"
	"strings"
)

// Kind is the shape of a response body.
type Kind int

const (
	// KindPlain is a single JSON or text body.
	KindPlain Kind = iota
	// KindEventStream is an SSE-framed token stream.
	KindEventStream
)

func (k Kind) String() string {
	if k == KindEventStream {
		return "stream"
	}
	return "plain"
}

// Classify decides whether a response body is a plain document or an SSE
// stream. An empty body is always plain; otherwise the declared content type
// wins, with a fallback sniff for "data: " framing in the body itself.
func Classify(headers map[string]string, body []byte) Kind {
	if len(bytes.TrimSpace(body)) == 0 {
		return KindPlain
	}

	contentType := strings.ToLower(headerValue(headers, "Content-Type"))
	if strings.Contains(contentType, "text/event-stream") {
		return KindEventStream
	}

	head := bytes.TrimLeft(body, "\r\n")
	if bytes.HasPrefix(head, []byte("data: ")) || bytes.HasPrefix(head, []byte("event: ")) {
		return KindEventStream
	}
	if bytes.Contains(body, []byte("\ndata: ")) {
		return KindEventStream
	}
	return KindPlain
}

// headerValue finds a header case-insensitively. Capture stores preserve
// header names exactly as sent, so lookups cannot assume canonical casing.
func headerValue(headers map[string]string, name string) string {
	for key, value := range headers {
		if strings.EqualFold(key, name) {
			return value
		}
	}
	return ""
}
