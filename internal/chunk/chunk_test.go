package chunk

import (
	"bytes"
	"errors"
	"testing"

	"github.com/blockvault/barc/internal/barerr"
)

func TestWriteReadSingleChunkNoAlignment(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, 1)
	if err := w.WriteChunk(TypeOf("DATA"), []byte("hello world")); err != nil {
		t.Fatalf("WriteChunk: %v", err)
	}

	r := NewReader(&buf, 1)
	typ, payload, err := r.ReadChunk()
	if err != nil {
		t.Fatalf("ReadChunk: %v", err)
	}
	if typ.String() != "DATA" {
		t.Errorf("type = %q, want DATA", typ.String())
	}
	if string(payload) != "hello world" {
		t.Errorf("payload = %q", payload)
	}

	_, _, err = r.ReadChunk()
	if !errors.Is(err, ErrEndOfArchive) {
		t.Fatalf("expected ErrEndOfArchive, got %v", err)
	}
}

func TestBlockAlignmentPadding(t *testing.T) {
	const blockSize = 16
	var buf bytes.Buffer
	w := NewWriter(&buf, blockSize)

	if err := w.WriteChunk(TypeOf("DATA"), []byte("short")); err != nil {
		t.Fatalf("WriteChunk: %v", err)
	}
	if w.Pos()%blockSize != 0 {
		t.Fatalf("writer position %d not block aligned", w.Pos())
	}
	if buf.Len()%blockSize != 0 {
		t.Fatalf("buffer length %d not block aligned", buf.Len())
	}

	if err := w.WriteChunk(TypeOf("DATA"), []byte("a second chunk of different length")); err != nil {
		t.Fatalf("WriteChunk: %v", err)
	}
	if w.Pos()%blockSize != 0 {
		t.Fatalf("writer position %d not block aligned after second chunk", w.Pos())
	}

	r := NewReader(&buf, blockSize)
	typ1, payload1, err := r.ReadChunk()
	if err != nil {
		t.Fatalf("ReadChunk: %v", err)
	}
	if typ1.String() != "DATA" || string(payload1) != "short" {
		t.Fatalf("first chunk mismatch: %q %q", typ1, payload1)
	}

	typ2, payload2, err := r.ReadChunk()
	if err != nil {
		t.Fatalf("ReadChunk: %v", err)
	}
	if typ2.String() != "DATA" || string(payload2) != "a second chunk of different length" {
		t.Fatalf("second chunk mismatch: %q %q", typ2, payload2)
	}

	_, _, err = r.ReadChunk()
	if !errors.Is(err, ErrEndOfArchive) {
		t.Fatalf("expected ErrEndOfArchive, got %v", err)
	}
}

func TestUnknownChunkTypeSkippedIntact(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, 1)
	_ = w.WriteChunk(TypeOf("WEIR"), []byte("payload from the future"))
	_ = w.WriteChunk(TypeOf("DATA"), []byte("known chunk"))

	r := NewReader(&buf, 1)
	var seen []string
	for {
		typ, payload, err := r.ReadChunk()
		if errors.Is(err, ErrEndOfArchive) {
			break
		}
		if err != nil {
			t.Fatalf("ReadChunk: %v", err)
		}
		// A caller that doesn't recognize the type just ignores the
		// payload and moves on; the reader never needs to know this.
		seen = append(seen, typ.String()+":"+string(payload))
	}
	if len(seen) != 2 {
		t.Fatalf("expected 2 chunks, got %d: %v", len(seen), seen)
	}
}

func TestTruncatedHeaderIsCorruptArchive(t *testing.T) {
	buf := bytes.NewReader([]byte{0x01, 0x02, 0x03}) // shorter than HeaderSize
	r := NewReader(buf, 1)
	_, _, err := r.ReadChunk()
	if err == nil {
		t.Fatal("expected error for truncated header")
	}
	var corrupt *barerr.CorruptArchive
	if !errors.As(err, &corrupt) {
		t.Fatalf("expected *barerr.CorruptArchive, got %T", err)
	}
}

func TestTruncatedPayloadIsCorruptArchive(t *testing.T) {
	var buf bytes.Buffer
	header := make([]byte, HeaderSize)
	copy(header[:4], "DATA")
	// Declare a length far longer than the bytes actually supplied.
	header[4], header[5], header[6], header[7] = 0, 0, 0, 0
	header[8], header[9], header[10], header[11] = 0, 0, 0, 100
	buf.Write(header)
	buf.WriteString("short")

	r := NewReader(&buf, 1)
	_, _, err := r.ReadChunk()
	if err == nil {
		t.Fatal("expected error for truncated payload")
	}
}

func TestNestedContainerSequence(t *testing.T) {
	const blockSize = 8
	childBytes, err := EncodeSequence(blockSize, func(w *Writer) error {
		if err := w.WriteChunk(TypeOf("DATA"), []byte("child one")); err != nil {
			return err
		}
		return w.WriteChunk(TypeOf("DATA"), []byte("child two"))
	})
	if err != nil {
		t.Fatalf("EncodeSequence: %v", err)
	}

	var outer bytes.Buffer
	w := NewWriter(&outer, blockSize)
	if err := w.WriteChunk(TypeOf("CONT"), childBytes); err != nil {
		t.Fatalf("WriteChunk: %v", err)
	}

	r := NewReader(&outer, blockSize)
	typ, payload, err := r.ReadChunk()
	if err != nil {
		t.Fatalf("ReadChunk: %v", err)
	}
	if typ.String() != "CONT" {
		t.Fatalf("type = %q, want CONT", typ)
	}

	var children []string
	err = DecodeSequence(bytes.NewReader(payload), blockSize, func(typ Type, payload []byte) error {
		children = append(children, string(payload))
		return nil
	})
	if err != nil {
		t.Fatalf("DecodeSequence: %v", err)
	}
	if len(children) != 2 || children[0] != "child one" || children[1] != "child two" {
		t.Fatalf("children = %v", children)
	}
}
