package extract

import (
	"errors"
	"fmt"
	"io"
	"time"

	"flowlog/internal/capture"
	"flowlog/internal/sse"
)

// FlowInfo is the listing summary for one captured flow.
type FlowInfo struct {
	Index      int       `json:"index"`
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Method     string    `json:"method"`
	URL        string    `json:"url"`
	StatusCode int       `json:"status_code"`
	Kind       string    `json:"kind"`
	BodyBytes  int       `json:"body_bytes"`
}

// ListFlows enumerates the flows of a capture store without exporting them.
// Undecodable records are reported as warnings, matching Run's behavior.
func ListFlows(storePath string) ([]FlowInfo, []error, error) {
	reader, err := capture.Open(storePath)
	if err != nil {
		return nil, nil, err
	}
	defer reader.Close() //nolint:errcheck

	var flows []FlowInfo
	var warnings []error
	for {
		rec, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, capture.ErrTruncated) {
			warnings = append(warnings, err)
			break
		}
		var frameErr *capture.FrameError
		if errors.As(err, &frameErr) {
			warnings = append(warnings, frameErr)
			continue
		}
		if err != nil {
			return flows, warnings, err
		}

		flows = append(flows, FlowInfo{
			Index:      len(flows),
			ID:         rec.ID,
			Timestamp:  rec.Timestamp,
			Method:     rec.Request.Method,
			URL:        rec.Request.URL,
			StatusCode: rec.Response.StatusCode,
			Kind:       sse.Classify(rec.Response.Headers, rec.Response.Body).String(),
			BodyBytes:  len(rec.Response.Body),
		})
	}

	if len(flows) == 0 && len(warnings) == 0 {
		return nil, nil, fmt.Errorf("%s: %w", storePath, capture.ErrEmpty)
	}
	return flows, warnings, nil
}

// FlowAt returns the record at the given position in the store.
func FlowAt(storePath string, index int) (*capture.Record, error) {
	if index < 0 {
		return nil, fmt.Errorf("flow index %d out of range", index)
	}

	reader, err := capture.Open(storePath)
	if err != nil {
		return nil, err
	}
	defer reader.Close() //nolint:errcheck

	seen := 0
	for {
		rec, err := reader.Next()
		if errors.Is(err, io.EOF) || errors.Is(err, capture.ErrTruncated) {
			return nil, fmt.Errorf("flow index %d out of range (store has %d readable flows)", index, seen)
		}
		var frameErr *capture.FrameError
		if errors.As(err, &frameErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if seen == index {
			return rec, nil
		}
		seen++
	}
}
