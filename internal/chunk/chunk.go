// Package chunk implements the archive container's wire format: a flat
// sequence of type-tagged, length-prefixed records, some of which recurse
// into a nested sequence of further chunks. It knows nothing about what any
// particular chunk type means; the archive engine owns that.
package chunk

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/blockvault/barc/internal/barerr"
)

// HeaderSize is the fixed 4-octet type tag plus 8-octet big-endian length.
const HeaderSize = 4 + 8

// Type is a 4-octet chunk type tag.
type Type [4]byte

// TypeOf builds a Type from a 4-character ASCII literal, e.g. TypeOf("DATA").
func TypeOf(s string) Type {
	var t Type
	copy(t[:], s)
	return t
}

func (t Type) String() string { return string(t[:]) }

// Header is the parsed 12-octet chunk prefix.
type Header struct {
	Type   Type
	Length uint64
}

// Writer emits a flat sequence of chunks to an underlying stream, tracking
// its own byte position so each chunk can be padded to the next block
// boundary before the following chunk's header begins. A Writer used for a
// container chunk's nested payload is constructed fresh against a separate
// buffer, so its position always starts at 0 — which is always block
// aligned, keeping nested chunks self-consistently aligned too.
type Writer struct {
	w         io.Writer
	blockSize int
	pos       int64
}

// NewWriter constructs a Writer. blockSize must be >= 1; pass 1 for an
// unencrypted archive where no alignment padding is needed.
func NewWriter(w io.Writer, blockSize int) *Writer {
	barerr.Invariant(blockSize >= 1, "chunk block size must be >= 1, got %d", blockSize)
	return &Writer{w: w, blockSize: blockSize}
}

// Pos reports the number of octets written so far through this Writer.
func (w *Writer) Pos() int64 { return w.pos }

// WriteChunk writes one chunk (header, payload, then zero-fill padding up
// to the next block boundary). The header records the payload's unpadded
// length.
func (w *Writer) WriteChunk(typ Type, payload []byte) error {
	header := make([]byte, HeaderSize)
	copy(header[:4], typ[:])
	binary.BigEndian.PutUint64(header[4:], uint64(len(payload)))

	if _, err := w.w.Write(header); err != nil {
		return &barerr.Io{Op: "chunk-write-header", Err: err}
	}
	if len(payload) > 0 {
		if _, err := w.w.Write(payload); err != nil {
			return &barerr.Io{Op: "chunk-write-payload", Err: err}
		}
	}
	w.pos += int64(HeaderSize + len(payload))

	if w.blockSize > 1 {
		if rem := w.pos % int64(w.blockSize); rem != 0 {
			padLen := int64(w.blockSize) - rem
			if _, err := w.w.Write(make([]byte, padLen)); err != nil {
				return &barerr.Io{Op: "chunk-write-padding", Err: err}
			}
			w.pos += padLen
		}
	}
	return nil
}

// EncodeSequence writes a flat sequence of chunks into a fresh in-memory
// buffer, suitable for use as a container chunk's payload.
func EncodeSequence(blockSize int, emit func(w *Writer) error) ([]byte, error) {
	buf := &byteBuffer{}
	w := NewWriter(buf, blockSize)
	if err := emit(w); err != nil {
		return nil, err
	}
	return buf.data, nil
}

// byteBuffer is a minimal growable io.Writer; avoids pulling in bytes.Buffer
// just to keep this package's behavior obvious at a glance.
type byteBuffer struct{ data []byte }

func (b *byteBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}

// Reader reads a flat sequence of chunks from an underlying stream,
// tracking position the same way Writer does so it can skip padding.
type Reader struct {
	r         io.Reader
	blockSize int
	pos       int64
}

// NewReader constructs a Reader over r with the given block alignment.
func NewReader(r io.Reader, blockSize int) *Reader {
	barerr.Invariant(blockSize >= 1, "chunk block size must be >= 1, got %d", blockSize)
	return &Reader{r: r, blockSize: blockSize}
}

// Pos reports the number of octets consumed so far.
func (r *Reader) Pos() int64 { return r.pos }

// ErrEndOfArchive is returned by ReadChunk when the stream ends cleanly
// exactly on a chunk boundary (the expected end of a top-level archive).
var ErrEndOfArchive = errors.New("chunk: end of archive")

// ReadChunk reads and returns the next chunk's type and payload. Unknown
// chunk types are returned exactly like known ones: the caller that
// doesn't recognize a type simply discards the payload, which satisfies
// the forward-compatibility "skip unknown chunks intact" requirement
// without this package needing a type registry.
func (r *Reader) ReadChunk() (Type, []byte, error) {
	header := make([]byte, HeaderSize)
	n, err := io.ReadFull(r.r, header)
	if err != nil {
		if n == 0 && errors.Is(err, io.EOF) {
			return Type{}, nil, ErrEndOfArchive
		}
		return Type{}, nil, &barerr.CorruptArchive{Offset: r.pos, Reason: "truncated chunk header"}
	}

	var typ Type
	copy(typ[:], header[:4])
	length := binary.BigEndian.Uint64(header[4:])

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r.r, payload); err != nil {
			return Type{}, nil, &barerr.CorruptArchive{Offset: r.pos + HeaderSize, Reason: "truncated chunk payload"}
		}
	}
	r.pos += int64(HeaderSize) + int64(length)

	if r.blockSize > 1 {
		if rem := r.pos % int64(r.blockSize); rem != 0 {
			padLen := int64(r.blockSize) - rem
			if _, err := io.CopyN(io.Discard, r.r, padLen); err != nil {
				return Type{}, nil, &barerr.CorruptArchive{Offset: r.pos, Reason: "truncated chunk padding"}
			}
			r.pos += padLen
		}
	}
	return typ, payload, nil
}

// DecodeSequence reads every chunk from r until ErrEndOfArchive, invoking
// visit for each one. Used to walk a container chunk's already-decrypted,
// already-decompressed nested payload.
func DecodeSequence(r io.Reader, blockSize int, visit func(typ Type, payload []byte) error) error {
	reader := NewReader(r, blockSize)
	for {
		typ, payload, err := reader.ReadChunk()
		if errors.Is(err, ErrEndOfArchive) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := visit(typ, payload); err != nil {
			return err
		}
	}
}
