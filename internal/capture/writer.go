package capture

import (
	"encoding/binary"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

// Writer appends records to a capture store. Frames are written whole, so a
// crashed writer leaves at most one truncated trailing frame behind, which
// readers skip with a warning.
type Writer struct {
	file *os.File
	zw   *zstd.Encoder
}

// NewWriter opens a capture store for appending, creating it if needed.
func NewWriter(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open capture store for append: %w", err)
	}

	w := &Writer{file: f}
	if strings.HasSuffix(path, ".zst") {
		zw, err := zstd.NewWriter(f)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("open compressed capture store for append: %w", err)
		}
		w.zw = zw
	}
	return w, nil
}

// Append writes one record frame. Missing IDs and timestamps are filled in.
func (w *Writer) Append(rec *Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	payload, err := msgpack.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))

	out := w.file
	if w.zw != nil {
		if _, err := w.zw.Write(prefix[:]); err != nil {
			return fmt.Errorf("write frame header: %w", err)
		}
		if _, err := w.zw.Write(payload); err != nil {
			return fmt.Errorf("write frame payload: %w", err)
		}
		return nil
	}
	if _, err := out.Write(prefix[:]); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if _, err := out.Write(payload); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}
	return nil
}

// Close flushes pending compressed data and closes the store.
func (w *Writer) Close() error {
	if w.zw != nil {
		if err := w.zw.Close(); err != nil {
			_ = w.file.Close()
			return fmt.Errorf("flush compressed capture store: %w", err)
		}
	}
	return w.file.Close()
}
