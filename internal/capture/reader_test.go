package capture

import (
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testRecord(id string, ts time.Time) *Record {
	return &Record{
		ID:        id,
		Timestamp: ts,
		Request: Request{
			Method:  "POST",
			URL:     "https://api.example.com/v1/messages",
			Headers: map[string]string{"Content-Type": "application/json"},
			Body:    []byte(`{"model":"test","max_tokens":16}`),
		},
		Response: Response{
			StatusCode: 200,
			Headers:    map[string]string{"Content-Type": "application/json"},
			Body:       []byte(`{"ok":true}`),
		},
	}
}

func readAll(t *testing.T, path string) ([]*Record, []error) {
	t.Helper()

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close() //nolint:errcheck

	var records []*Record
	var warnings []error
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return records, warnings
		}
		if errors.Is(err, ErrTruncated) {
			warnings = append(warnings, err)
			return records, warnings
		}
		var frameErr *FrameError
		if errors.As(err, &frameErr) {
			warnings = append(warnings, err)
			continue
		}
		require.NoError(t, err)
		records = append(records, rec)
	}
}

func TestRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.cap")
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	w, err := NewWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.Append(testRecord("flow-1", ts)))
	require.NoError(t, w.Append(testRecord("flow-2", ts.Add(time.Second))))
	require.NoError(t, w.Close())

	records, warnings := readAll(t, path)
	require.Empty(t, warnings)
	require.Len(t, records, 2)
	require.Equal(t, "flow-1", records[0].ID)
	require.Equal(t, "flow-2", records[1].ID)
	require.True(t, records[0].Timestamp.Equal(ts))
	require.Equal(t, 200, records[0].Response.StatusCode)
	require.Equal(t, []byte(`{"ok":true}`), records[0].Response.Body)
}

func TestRoundTripCompressed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.cap.zst")

	w, err := NewWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.Append(testRecord("flow-1", time.Now().UTC())))
	require.NoError(t, w.Close())

	records, warnings := readAll(t, path)
	require.Empty(t, warnings)
	require.Len(t, records, 1)
	require.Equal(t, "flow-1", records[0].ID)
}

func TestWriterAssignsIDAndTimestamp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.cap")

	w, err := NewWriter(path)
	require.NoError(t, err)
	rec := &Record{Request: Request{Method: "GET", URL: "https://example.com"}}
	require.NoError(t, w.Append(rec))
	require.NoError(t, w.Close())

	records, _ := readAll(t, path)
	require.Len(t, records, 1)
	require.NotEmpty(t, records[0].ID)
	require.False(t, records[0].Timestamp.IsZero())
}

func TestCorruptFrameIsolation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.cap")
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	w, err := NewWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.Append(testRecord("flow-1", ts)))
	require.NoError(t, w.Close())

	// Inject a well-framed but undecodable record. 0xc1 is reserved and
	// never valid msgpack.
	junk := []byte{0xc1, 0xc1, 0xc1, 0xc1}
	appendFrame(t, path, junk)

	w, err = NewWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.Append(testRecord("flow-3", ts.Add(2*time.Second))))
	require.NoError(t, w.Close())

	records, warnings := readAll(t, path)
	require.Len(t, records, 2)
	require.Equal(t, "flow-1", records[0].ID)
	require.Equal(t, "flow-3", records[1].ID)
	require.Len(t, warnings, 1)

	var frameErr *FrameError
	require.ErrorAs(t, warnings[0], &frameErr)
	require.Equal(t, 1, frameErr.Index)
}

func TestTruncatedTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.cap")

	w, err := NewWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.Append(testRecord("flow-1", time.Now().UTC())))
	require.NoError(t, w.Close())

	// A frame header promising more bytes than the file holds.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], 1024)
	_, err = f.Write(prefix[:])
	require.NoError(t, err)
	_, err = f.Write([]byte("partial"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	records, warnings := readAll(t, path)
	require.Len(t, records, 1)
	require.Len(t, warnings, 1)
	require.ErrorIs(t, warnings[0], ErrTruncated)
}

func TestImplausibleFrameSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.cap")

	f, err := os.Create(path)
	require.NoError(t, err)
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], 0xffffffff)
	_, err = f.Write(prefix[:])
	require.NoError(t, err)
	_, err = f.Write([]byte("garbage"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close() //nolint:errcheck

	_, err = r.Next()
	require.ErrorIs(t, err, ErrTruncated)
}

func TestOpenMissingStore(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "does-not-exist.cap"))
	require.Error(t, err)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestRestartableRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.cap")

	w, err := NewWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.Append(testRecord("flow-1", time.Now().UTC())))
	require.NoError(t, w.Close())

	first, _ := readAll(t, path)
	second, _ := readAll(t, path)
	require.Len(t, first, 1)
	require.Len(t, second, 1)
	require.Equal(t, first[0].ID, second[0].ID)
}

func appendFrame(t *testing.T, path string, payload []byte) {
	t.Helper()

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
	_, err = f.Write(prefix[:])
	require.NoError(t, err)
	_, err = f.Write(payload)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}
