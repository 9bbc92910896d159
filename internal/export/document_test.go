package export

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"flowlog/internal/merge"
)

func testEntry(ts time.Time, reqBody string) Entry {
	return Entry{
		Timestamp:   ts,
		RequestBody: JSONValue([]byte(reqBody)),
		Response: Response{
			StatusCode: 200,
			Body:       JSONValue([]byte(`{"ok":true}`)),
			Type:       TypeOriginal,
		},
	}
}

func TestJSONValue(t *testing.T) {
	require.Equal(t, json.RawMessage("null"), JSONValue(nil))
	require.Equal(t, json.RawMessage("null"), JSONValue([]byte("  \n")))
	require.Equal(t, json.RawMessage(`{"a":1}`), JSONValue([]byte(` {"a":1} `)))
	require.Equal(t, json.RawMessage(`"not json"`), JSONValue([]byte("not json")))
}

func TestIdentityStableAcrossIndentation(t *testing.T) {
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	compact := testEntry(ts, `{"model":"m","messages":[]}`)
	indented := compact
	indented.RequestBody = json.RawMessage("{\n  \"model\": \"m\",\n  \"messages\": []\n}")

	require.Equal(t, compact.Identity(), indented.Identity())
}

func TestIdentityDiffersByTimestampAndBody(t *testing.T) {
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	a := testEntry(ts, `{"q":1}`)
	b := testEntry(ts, `{"q":2}`)
	c := testEntry(ts.Add(time.Second), `{"q":1}`)

	require.NotEqual(t, a.Identity(), b.Identity())
	require.NotEqual(t, a.Identity(), c.Identity())
}

func TestDocumentAppendDedup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	doc, err := OpenDocument(path)
	require.NoError(t, err)

	require.True(t, doc.Append(testEntry(ts, `{"q":1}`)))
	require.False(t, doc.Append(testEntry(ts, `{"q":1}`)))
	require.True(t, doc.Append(testEntry(ts.Add(time.Second), `{"q":1}`)))
	require.Equal(t, 2, doc.Len())
	require.Equal(t, 2, doc.Added())
}

func TestDocumentReopenSkipsExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	doc, err := OpenDocument(path)
	require.NoError(t, err)
	require.True(t, doc.Append(testEntry(ts, `{"q":1}`)))
	require.NoError(t, doc.Flush())

	reopened, err := OpenDocument(path)
	require.NoError(t, err)
	require.Equal(t, 1, reopened.Len())
	require.False(t, reopened.Append(testEntry(ts, `{"q":1}`)))
	require.True(t, reopened.Append(testEntry(ts.Add(time.Minute), `{"q":1}`)))
	require.NoError(t, reopened.Flush())

	final, err := OpenDocument(path)
	require.NoError(t, err)
	require.Equal(t, 2, final.Len())
}

func TestFlushIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	doc, err := OpenDocument(path)
	require.NoError(t, err)
	doc.Append(testEntry(ts, `{"q":1}`))
	require.NoError(t, doc.Flush())

	first, err := os.ReadFile(path)
	require.NoError(t, err)

	reopened, err := OpenDocument(path)
	require.NoError(t, err)
	require.NoError(t, reopened.Flush())

	second, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, string(first), string(second))
}

func TestFlushEmptyDocumentWritesArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")

	doc, err := OpenDocument(path)
	require.NoError(t, err)
	require.NoError(t, doc.Flush())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.JSONEq(t, "[]", string(data))
}

func TestMergedEntryRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "merged.json")
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	msg := merge.Message{
		ID:    "msg_1",
		Type:  "message",
		Role:  "assistant",
		Model: "m",
		Content: []merge.ContentBlock{
			{Type: "text", Text: "Hello"},
		},
		StopReason: "end_turn",
		Usage:      merge.Usage{InputTokens: 10, OutputTokens: 15},
	}
	entry := Entry{
		Timestamp:   ts,
		RequestBody: JSONValue([]byte(`{"model":"m"}`)),
		Response: Response{
			StatusCode: 200,
			Message:    &msg,
			Type:       TypeMerged,
		},
	}

	doc, err := OpenDocument(path)
	require.NoError(t, err)
	require.True(t, doc.Append(entry))
	require.NoError(t, doc.Flush())

	reopened, err := OpenDocument(path)
	require.NoError(t, err)
	require.Equal(t, 1, reopened.Len())
	require.False(t, reopened.Append(entry), "identity must survive a round trip")
}
