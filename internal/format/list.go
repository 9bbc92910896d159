// Package format provides formatting and rendering functions for flow data.
package format

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-runewidth"

	"flowlog/internal/extract"
)

// WriteFlows writes flow summaries to w in the requested format.
func WriteFlows(w io.Writer, items []extract.FlowInfo, includeHeader bool, format string, urlWidth int) error {
	format = strings.ToLower(format)
	switch format {
	case "", "table":
		return writeFlowsTable(w, items, includeHeader, urlWidth)
	case "plain":
		return writeFlowsPlain(w, items, includeHeader)
	case "json":
		return writeFlowsJSON(w, items)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

func writeFlowsPlain(w io.Writer, items []extract.FlowInfo, includeHeader bool) error {
	if includeHeader {
		if _, err := fmt.Fprintln(w, "index\ttimestamp\tmethod\turl\tstatus\tkind\tbytes"); err != nil {
			return err
		}
	}

	for _, item := range items {
		line := fmt.Sprintf(
			"%d\t%s\t%s\t%s\t%d\t%s\t%d",
			item.Index,
			item.Timestamp.Format(time.RFC3339),
			item.Method,
			item.URL,
			item.StatusCode,
			item.Kind,
			item.BodyBytes,
		)
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

func writeFlowsJSON(w io.Writer, items []extract.FlowInfo) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(items)
}

func writeFlowsTable(w io.Writer, items []extract.FlowInfo, includeHeader bool, urlWidth int) error {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleRounded)
	tw.Style().Options.SeparateHeader = true
	tw.Style().Options.DrawBorder = true

	if urlWidth <= 0 {
		urlWidth = 60
	}

	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight, AlignHeader: text.AlignCenter},
		{Number: 2, Align: text.AlignLeft, AlignHeader: text.AlignCenter},
		{Number: 3, Align: text.AlignLeft, AlignHeader: text.AlignCenter},
		{Number: 4, Align: text.AlignLeft, AlignHeader: text.AlignCenter, WidthMax: urlWidth},
		{Number: 5, Align: text.AlignRight, AlignHeader: text.AlignCenter},
		{Number: 6, Align: text.AlignCenter, AlignHeader: text.AlignCenter},
		{Number: 7, Align: text.AlignRight, AlignHeader: text.AlignCenter},
	})

	if includeHeader {
		tw.AppendHeader(table.Row{"#", "Timestamp", "Method", "URL", "Status", "Kind", "Bytes"})
	}

	for _, item := range items {
		tw.AppendRow(table.Row{
			item.Index,
			item.Timestamp.Format(time.RFC3339),
			item.Method,
			runewidth.Truncate(item.URL, urlWidth, "…"),
			item.StatusCode,
			item.Kind,
			item.BodyBytes,
		})
	}

	if len(items) == 0 {
		tw.AppendRow(table.Row{"-", "(no flows)", "-", "-", "-", "-", "-"})
	}

	_ = tw.Render()
	return nil
}

// WriteSummary prints the per-store extraction result.
func WriteSummary(w io.Writer, res extract.Result) {
	fmt.Fprintf(w, "Extracted %d flows (%d streamed, %d merged)\n", res.Flows, res.Streamed, res.Merged)
	fmt.Fprintf(w, "  original: %s (+%d)\n", res.OriginalPath, res.AppendedOriginal)
	fmt.Fprintf(w, "  merged:   %s (+%d)\n", res.MergedPath, res.AppendedMerged)
	if res.SkippedRecords > 0 || res.SkippedMerges > 0 {
		fmt.Fprintf(w, "  skipped:  %d records, %d merges (see warnings)\n", res.SkippedRecords, res.SkippedMerges)
	}
}
