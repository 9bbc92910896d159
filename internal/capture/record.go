// Package capture reads and writes HTTP flow capture stores.
//
// A capture store is an append-only file of length-prefixed, msgpack-encoded
// flow records produced by the intercepting proxy. This package only deals
// with record framing; body interpretation (JSON vs. event stream) happens
// downstream. Stores named *.zst are zstd-compressed.
package capture

import "time"

// Record is one captured request/response exchange. Records are immutable
// once written to a store; readers never modify them.
type Record struct {
	ID        string    `msgpack:"id"`
	Timestamp time.Time `msgpack:"ts"`
	Request   Request   `msgpack:"request"`
	Response  Response  `msgpack:"response"`
}

// Request holds the captured client request.
type Request struct {
	Method  string            `msgpack:"method"`
	URL     string            `msgpack:"url"`
	Headers map[string]string `msgpack:"headers"`
	Body    []byte            `msgpack:"body"`
}

// Response holds the captured upstream response. Body keeps the raw bytes
// exactly as received, including full SSE payloads for streaming responses.
type Response struct {
	StatusCode int               `msgpack:"status_code"`
	Headers    map[string]string `msgpack:"headers"`
	Body       []byte            `msgpack:"body"`
}
