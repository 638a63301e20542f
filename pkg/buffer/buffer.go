// Package buffer provides memory-efficient storage for response bodies,
// spilling to a temp file once the payload crosses a configurable
// threshold (spec §6: large bodies must not force unbounded memory use).
package buffer

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/nilcode/httplite/pkg/constants"
	"github.com/nilcode/httplite/pkg/errors"
)

// DefaultMemoryLimit is the default memory threshold before spilling to disk.
const DefaultMemoryLimit = constants.DefaultBodyMemLimit

// Buffer stores data either in memory or spooled to a temporary file when
// exceeding a threshold.
type Buffer struct {
	buf    bytes.Buffer
	file   *os.File
	path   string
	size   int64
	limit  int64
	mu     sync.Mutex
	closed bool
}

// New creates a new Buffer with the provided memory limit.
func New(limit int64) *Buffer {
	if limit <= 0 {
		limit = DefaultMemoryLimit
	}
	return &Buffer{limit: limit}
}

// NewWithData creates a new buffer with existing data.
func NewWithData(data []byte) *Buffer {
	b := &Buffer{
		limit: DefaultMemoryLimit,
		size:  int64(len(data)),
	}
	b.buf.Write(data)
	return b
}

// Write stores the provided bytes, spilling to disk once above the configured
// memory threshold.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, errors.NewIOError("buffer.write", "", 0, io.ErrClosedPipe)
	}

	if b.size+int64(len(p)) > constants.MaxRawBufferSize {
		return 0, errors.NewIOError("buffer.write", "", 0, fmt.Errorf("buffer exceeds %d byte cap", constants.MaxRawBufferSize))
	}

	b.size += int64(len(p))

	if b.file == nil && int64(b.buf.Len()+len(p)) <= b.limit {
		return b.buf.Write(p)
	}

	if b.file == nil {
		tmp, err := os.CreateTemp("", "httplite-buffer-*.tmp")
		if err != nil {
			return 0, errors.NewIOError("buffer.spill", "", 0, err)
		}

		b.file = tmp
		b.path = tmp.Name()

		if b.buf.Len() > 0 {
			if _, err := tmp.Write(b.buf.Bytes()); err != nil {
				b.Close()
				return 0, errors.NewIOError("buffer.spill", "", 0, err)
			}
		}

		b.buf.Reset()
	}

	n, err := b.file.Write(p)
	if err != nil {
		return n, errors.NewIOError("buffer.write", "", 0, err)
	}
	return n, nil
}

// Bytes returns the in-memory data. If the payload spilled to disk this will be
// empty.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.file != nil {
		return nil
	}
	return b.buf.Bytes()
}

// Path returns the filesystem path backing the spilled payload.
func (b *Buffer) Path() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.path
}

// Size returns the total number of bytes written.
func (b *Buffer) Size() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// IsSpilled returns true if the buffer has spilled to disk.
func (b *Buffer) IsSpilled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.file != nil
}

// Reader provides a fresh reader for the stored data.
func (b *Buffer) Reader() (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, errors.NewIOError("buffer.reader", "", 0, io.ErrClosedPipe)
	}

	if b.file != nil {
		if err := b.file.Sync(); err != nil {
			return nil, errors.NewIOError("buffer.reader", "", 0, err)
		}

		f, err := os.Open(b.path)
		if err != nil {
			return nil, errors.NewIOError("buffer.reader", "", 0, err)
		}
		return f, nil
	}

	return io.NopCloser(bytes.NewReader(b.buf.Bytes())), nil
}

// Close flushes and closes the underlying file, if any, and removes the temp file.
// Safe for concurrent calls and idempotent.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	b.closed = true

	if b.file != nil {
		err := b.file.Close()
		if removeErr := os.Remove(b.path); removeErr != nil && err == nil {
			err = removeErr
		}
		b.file = nil
		b.path = ""
		if err != nil {
			return errors.NewIOError("buffer.close", "", 0, err)
		}
	}
	return nil
}

// Reset clears the buffer and prepares it for reuse.
func (b *Buffer) Reset() error {
	if err := b.Close(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf.Reset()
	b.size = 0
	b.closed = false
	return nil
}
