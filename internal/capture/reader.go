package capture

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

// maxFrameSize bounds a single record frame. A length prefix beyond this is
// treated as corruption rather than an allocation request.
const maxFrameSize = 256 << 20

var (
	// ErrEmpty reports a store that yields no well-formed records at all.
	ErrEmpty = errors.New("capture store contains no records")

	// ErrTruncated reports a partial trailing frame. The store may still be
	// growing; everything before the truncation point has been read.
	ErrTruncated = errors.New("capture store ends with a truncated record")
)

// FrameError reports a frame whose payload could not be decoded. The reader
// stays positioned at the next frame, so callers may log and continue.
type FrameError struct {
	Index int
	Err   error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("decode record %d: %v", e.Index, e.Err)
}

func (e *FrameError) Unwrap() error { return e.Err }

// Reader iterates the records of one capture store from the beginning.
// It reads the store as a finite snapshot: bytes appended after the read
// cursor are left for a later run.
type Reader struct {
	file  *os.File
	zr    *zstd.Decoder
	br    *bufio.Reader
	index int
}

// Open opens a capture store for reading. The caller must Close the reader.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open capture store: %w", err)
	}

	r := &Reader{file: f}
	if strings.HasSuffix(path, ".zst") {
		zr, err := zstd.NewReader(f)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("open compressed capture store: %w", err)
		}
		r.zr = zr
		r.br = bufio.NewReader(zr)
	} else {
		r.br = bufio.NewReader(f)
	}
	return r, nil
}

// Next returns the next record. It returns io.EOF at a clean end of store,
// ErrTruncated when the store ends mid-frame, and *FrameError when a frame
// is present but undecodable (the caller may keep calling Next afterwards).
func (r *Reader) Next() (*Record, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r.br, prefix[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrTruncated
		}
		return nil, fmt.Errorf("read frame header: %w", err)
	}

	size := binary.BigEndian.Uint32(prefix[:])
	if size == 0 || size > maxFrameSize {
		// The length itself is untrustworthy, so there is no boundary to
		// resynchronize on. Everything from here is unreadable.
		return nil, fmt.Errorf("%w: implausible frame size %d", ErrTruncated, size)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r.br, payload); err != nil {
		return nil, ErrTruncated
	}

	idx := r.index
	r.index++

	var rec Record
	if err := msgpack.Unmarshal(payload, &rec); err != nil {
		return nil, &FrameError{Index: idx, Err: err}
	}
	return &rec, nil
}

// Index returns the number of frames consumed so far.
func (r *Reader) Index() int { return r.index }

// Close releases the underlying file.
func (r *Reader) Close() error {
	if r.zr != nil {
		r.zr.Close()
	}
	return r.file.Close()
}
