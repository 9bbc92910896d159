// Package extract drives the capture-to-JSON extraction pipeline: read
// flows, classify bodies, merge event streams, and write the original and
// merged export documents.
package extract

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"flowlog/internal/capture"
	"flowlog/internal/export"
	"flowlog/internal/merge"
	"flowlog/internal/sse"
)

// Options configures one extraction run. Each run carries its own store and
// export paths, so independent stores can be extracted in one process.
type Options struct {
	// StorePath is the capture store to extract.
	StorePath string
	// OutputDir receives the export documents. Empty means the store's own
	// directory.
	OutputDir string
	// UsageRule decides how message_delta usage counters are applied.
	UsageRule merge.UsageRule
	// Logger receives per-flow diagnostics. Defaults to slog.Default.
	Logger *slog.Logger
}

// Result summarizes one extraction run. Warnings carry every per-flow skip;
// none of them abort the batch.
type Result struct {
	OriginalPath string
	MergedPath   string

	Flows            int // records read successfully
	Streamed         int // flows classified as event streams
	Merged           int // streamed flows folded into a message
	SkippedRecords   int // corrupt frames skipped
	SkippedMerges    int // flows excluded from the merged document
	AppendedOriginal int
	AppendedMerged   int

	Warnings []error
}

// Run extracts one capture store into its original and merged documents.
// Store-level errors (missing, unreadable, empty) are fatal and nothing is
// written; per-flow problems become Warnings and the run continues. Write
// failures are reported per document: a merged-document failure never
// prevents the original document from being written.
func Run(opts Options) (Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var res Result
	res.OriginalPath, res.MergedPath = OutputPaths(opts.StorePath, opts.OutputDir)

	reader, err := capture.Open(opts.StorePath)
	if err != nil {
		return res, err
	}
	defer reader.Close() //nolint:errcheck

	original, err := export.OpenDocument(res.OriginalPath)
	if err != nil {
		return res, err
	}
	merged, err := export.OpenDocument(res.MergedPath)
	if err != nil {
		return res, err
	}

	for {
		rec, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, capture.ErrTruncated) {
			// Partial trailing frame: most likely the proxy is still
			// appending. A later idempotent run will pick it up.
			logger.Warn("capture store ends mid-record, stopping at last complete record",
				"store", opts.StorePath, "records", res.Flows)
			break
		}
		var frameErr *capture.FrameError
		if errors.As(err, &frameErr) {
			res.SkippedRecords++
			res.Warnings = append(res.Warnings, fmt.Errorf("skipping record %d: %w", frameErr.Index, frameErr))
			logger.Warn("skipping undecodable record", "store", opts.StorePath, "record", frameErr.Index, "error", frameErr.Err)
			continue
		}
		if err != nil {
			return res, err
		}

		res.Flows++

		entry := export.Entry{
			Timestamp:   rec.Timestamp,
			RequestBody: export.JSONValue(rec.Request.Body),
			Response: export.Response{
				StatusCode: rec.Response.StatusCode,
				Body:       export.JSONValue(rec.Response.Body),
				Type:       export.TypeOriginal,
			},
		}
		if original.Append(entry) {
			res.AppendedOriginal++
		}

		mergedEntry, ok := mergeFlow(rec, entry, opts.UsageRule, &res, logger)
		if ok && merged.Append(mergedEntry) {
			res.AppendedMerged++
		}
	}

	if res.Flows == 0 {
		if res.SkippedRecords > 0 {
			return res, fmt.Errorf("%s: no decodable records (%d skipped): %w",
				opts.StorePath, res.SkippedRecords, capture.ErrEmpty)
		}
		return res, fmt.Errorf("%s: %w", opts.StorePath, capture.ErrEmpty)
	}

	// The two documents are independent sinks: flush both, report both.
	var writeErrs []error
	if err := original.Flush(); err != nil {
		writeErrs = append(writeErrs, fmt.Errorf("write original document: %w", err))
	}
	if err := merged.Flush(); err != nil {
		writeErrs = append(writeErrs, fmt.Errorf("write merged document: %w", err))
	}
	return res, errors.Join(writeErrs...)
}

// mergeFlow builds the merged-document entry for one flow. It reports false
// when the flow cannot be represented there (undecodable plain body, merge
// protocol violation); the original document still carries it verbatim.
func mergeFlow(rec *capture.Record, entry export.Entry, rule merge.UsageRule, res *Result, logger *slog.Logger) (export.Entry, bool) {
	if sse.Classify(rec.Response.Headers, rec.Response.Body) == sse.KindPlain {
		body := bytes.TrimSpace(rec.Response.Body)
		if len(body) > 0 && !json.Valid(body) {
			res.SkippedMerges++
			res.Warnings = append(res.Warnings, fmt.Errorf(
				"flow %s at %s: response body is neither JSON nor an event stream, kept verbatim in original only",
				rec.ID, rec.Timestamp.Format("2006-01-02T15:04:05Z07:00")))
			logger.Warn("response body not mergeable", "flow", rec.ID, "timestamp", rec.Timestamp)
			return export.Entry{}, false
		}
		// Plain JSON passes through unchanged.
		entry.Response.Type = export.TypeMerged
		return entry, true
	}

	res.Streamed++
	events := sse.Parse(rec.Response.Body)
	msg, complete, err := merge.Merge(events, rule)
	if err != nil {
		res.SkippedMerges++
		res.Warnings = append(res.Warnings, fmt.Errorf("flow %s at %s: %w",
			rec.ID, rec.Timestamp.Format("2006-01-02T15:04:05Z07:00"), err))
		logger.Warn("abandoning merge for flow", "flow", rec.ID, "timestamp", rec.Timestamp, "error", err)
		return export.Entry{}, false
	}
	res.Merged++
	if !complete {
		logger.Debug("stream ended without message_stop, exporting partial merge", "flow", rec.ID)
	}

	entry.Response = export.Response{
		StatusCode: rec.Response.StatusCode,
		Message:    &msg,
		Incomplete: !complete,
		Type:       export.TypeMerged,
	}
	return entry, true
}

// OutputPaths derives the original and merged document paths for a store.
func OutputPaths(storePath, outputDir string) (original, merged string) {
	base := filepath.Base(storePath)
	base = strings.TrimSuffix(base, ".zst")
	base = strings.TrimSuffix(base, filepath.Ext(base))

	dir := outputDir
	if dir == "" {
		dir = filepath.Dir(storePath)
	}
	return filepath.Join(dir, base+"_original.json"), filepath.Join(dir, base+"_merged.json")
}
