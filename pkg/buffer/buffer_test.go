package buffer

import (
	"bytes"
	"io"
	"testing"

	"github.com/nilcode/httplite/pkg/constants"
)

func TestBufferInMemory(t *testing.T) {
	b := New(1024)
	defer b.Close()

	if _, err := b.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if b.IsSpilled() {
		t.Fatal("small write should not spill")
	}
	if got := string(b.Bytes()); got != "hello" {
		t.Errorf("Bytes() = %q, want %q", got, "hello")
	}
	if b.Size() != 5 {
		t.Errorf("Size() = %d, want 5", b.Size())
	}
}

func TestBufferSpillsPastLimit(t *testing.T) {
	b := New(4)
	defer b.Close()

	if _, err := b.Write([]byte("hello world")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !b.IsSpilled() {
		t.Fatal("write past limit should spill to disk")
	}
	if b.Path() == "" {
		t.Fatal("spilled buffer should report a path")
	}

	r, err := b.Reader()
	if err != nil {
		t.Fatalf("Reader: %v", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(data, []byte("hello world")) {
		t.Errorf("data = %q, want %q", data, "hello world")
	}
}

func TestBufferReaderInMemory(t *testing.T) {
	b := NewWithData([]byte("payload"))
	defer b.Close()

	r, err := b.Reader()
	if err != nil {
		t.Fatalf("Reader: %v", err)
	}
	defer r.Close()

	data, _ := io.ReadAll(r)
	if string(data) != "payload" {
		t.Errorf("data = %q, want %q", data, "payload")
	}
}

func TestBufferCloseIsIdempotent(t *testing.T) {
	b := New(4)
	if _, err := b.Write([]byte("spill me now")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got: %v", err)
	}
}

func TestBufferWriteAfterCloseFails(t *testing.T) {
	b := New(1024)
	b.Close()
	if _, err := b.Write([]byte("x")); err == nil {
		t.Fatal("expected an error writing to a closed buffer")
	}
}

func TestBufferRejectsPastRawCap(t *testing.T) {
	b := New(constants.MaxRawBufferSize)
	defer b.Close()

	oversized := make([]byte, constants.MaxRawBufferSize+1)
	if _, err := b.Write(oversized); err == nil {
		t.Fatal("expected an error writing past the raw buffer cap")
	}
}

func TestBufferReset(t *testing.T) {
	b := New(4)
	b.Write([]byte("spill me now"))
	if err := b.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if b.Size() != 0 || b.IsSpilled() {
		t.Fatalf("buffer should be empty after Reset: size=%d spilled=%v", b.Size(), b.IsSpilled())
	}
	if _, err := b.Write([]byte("again")); err != nil {
		t.Fatalf("Write after Reset: %v", err)
	}
}
