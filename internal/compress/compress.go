// Package compress implements the pluggable streaming compressor family
// used to shrink entry data before it reaches the crypto codec. Every
// algorithm exposes the same init/feed/flush/done shape so the archive
// engine can treat them uniformly regardless of which library backs a
// given algorithm id.
package compress

import (
	"bytes"
	"io"

	pgzip "github.com/klauspost/pgzip"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/blockvault/barc/internal/barerr"
)

// Algorithm identifies a supported compressor.
type Algorithm string

const (
	NoneAlgo  Algorithm = "none"
	Gzip      Algorithm = "gzip"
	ParallelGzip Algorithm = "pgzip"
	Zstd      Algorithm = "zstd"
)

// Compressor streams plaintext in and produces compressed octets out.
// Feed may buffer internally and return no output; Flush drains whatever
// the underlying codec can emit without ending the stream (the output
// decodes to everything fed so far, but is not a complete stream on its
// own, so part boundaries use Done instead); Done finalizes the stream and
// must not be followed by further Feed calls.
type Compressor interface {
	Feed(p []byte) ([]byte, error)
	Flush() ([]byte, error)
	Done() ([]byte, error)
}

// Decompressor mirrors Compressor in the opposite direction.
type Decompressor interface {
	Feed(p []byte) ([]byte, error)
	Done() ([]byte, error)
}

// NewCompressor constructs a streaming compressor for algo.
func NewCompressor(algo Algorithm) (Compressor, error) {
	switch algo {
	case NoneAlgo, "":
		return &passthroughCompressor{}, nil
	case Gzip:
		return newFlateCompressor(func(w io.Writer) (flushCloser, error) {
			return gzip.NewWriter(w), nil
		})
	case ParallelGzip:
		return newFlateCompressor(func(w io.Writer) (flushCloser, error) {
			return pgzip.NewWriter(w), nil
		})
	case Zstd:
		return newFlateCompressor(func(w io.Writer) (flushCloser, error) {
			return zstd.NewWriter(w)
		})
	default:
		return nil, &barerr.UnsupportedCompression{Algorithm: string(algo)}
	}
}

// NewDecompressor constructs a streaming decompressor for algo.
func NewDecompressor(algo Algorithm) (Decompressor, error) {
	switch algo {
	case NoneAlgo, "":
		return &passthroughDecompressor{}, nil
	case Gzip:
		return newPipeDecompressor(func(r io.Reader) (io.ReadCloser, error) {
			return gzip.NewReader(r)
		}), nil
	case ParallelGzip:
		return newPipeDecompressor(func(r io.Reader) (io.ReadCloser, error) {
			return pgzip.NewReader(r)
		}), nil
	case Zstd:
		return newPipeDecompressor(func(r io.Reader) (io.ReadCloser, error) {
			dec, err := zstd.NewReader(r)
			if err != nil {
				return nil, err
			}
			return dec.IOReadCloser(), nil
		}), nil
	default:
		return nil, &barerr.UnsupportedCompression{Algorithm: string(algo)}
	}
}

// passthroughCompressor implements the None algorithm: data passes through
// unchanged, satisfying the spec's requirement that compression be
// uniformly addressable (including "no compression") through one API.
type passthroughCompressor struct{}

func (c *passthroughCompressor) Feed(p []byte) ([]byte, error) {
	out := make([]byte, len(p))
	copy(out, p)
	return out, nil
}
func (c *passthroughCompressor) Flush() ([]byte, error) { return nil, nil }
func (c *passthroughCompressor) Done() ([]byte, error)  { return nil, nil }

type passthroughDecompressor struct{}

func (d *passthroughDecompressor) Feed(p []byte) ([]byte, error) {
	out := make([]byte, len(p))
	copy(out, p)
	return out, nil
}
func (d *passthroughDecompressor) Done() ([]byte, error) { return nil, nil }

// flushCloser is satisfied by gzip.Writer, pgzip.Writer, and zstd.Encoder.
type flushCloser interface {
	io.Writer
	Flush() error
	Close() error
}

// flateCompressor wraps a flushCloser writer backed by an in-memory buffer,
// so Feed/Flush/Done can drain whatever the codec chose to emit so far.
type flateCompressor struct {
	buf *bytes.Buffer
	w   flushCloser
}

func newFlateCompressor(open func(io.Writer) (flushCloser, error)) (Compressor, error) {
	buf := &bytes.Buffer{}
	w, err := open(buf)
	if err != nil {
		return nil, &barerr.UnsupportedCompression{Algorithm: err.Error()}
	}
	return &flateCompressor{buf: buf, w: w}, nil
}

func (c *flateCompressor) drain() []byte {
	if c.buf.Len() == 0 {
		return nil
	}
	out := make([]byte, c.buf.Len())
	copy(out, c.buf.Bytes())
	c.buf.Reset()
	return out
}

func (c *flateCompressor) Feed(p []byte) ([]byte, error) {
	if _, err := c.w.Write(p); err != nil {
		return nil, &barerr.Io{Op: "compress-feed", Err: err}
	}
	return c.drain(), nil
}

func (c *flateCompressor) Flush() ([]byte, error) {
	if err := c.w.Flush(); err != nil {
		return nil, &barerr.Io{Op: "compress-flush", Err: err}
	}
	return c.drain(), nil
}

func (c *flateCompressor) Done() ([]byte, error) {
	if err := c.w.Close(); err != nil {
		return nil, &barerr.Io{Op: "compress-done", Err: err}
	}
	return c.drain(), nil
}

// pipeDecompressor runs the underlying pull-based reader (gzip.Reader,
// zstd.Decoder) in a background goroutine fed through an io.Pipe, so the
// push-based Feed API required by the spec can still drive a reader
// designed around io.Reader. Decoded output produced so far is drained
// non-blockingly on every Feed call; anything the reader can't yet decode
// (not enough input buffered) simply waits for the next Feed.
type pipeDecompressor struct {
	writes chan []byte
	out    chan []byte
	errc   chan error
	closed bool
}

func newPipeDecompressor(open func(io.Reader) (io.ReadCloser, error)) *pipeDecompressor {
	pr, pw := io.Pipe()
	d := &pipeDecompressor{
		writes: make(chan []byte, 64),
		out:    make(chan []byte, 64),
		errc:   make(chan error, 1),
	}

	// The pump owns the write end: the pipe is closed only after every
	// buffered chunk has been drained into it, so the reader never sees
	// EOF ahead of input that was already Fed.
	go func() {
		defer pw.Close()
		for chunk := range d.writes {
			if _, err := pw.Write(chunk); err != nil {
				return
			}
		}
	}()

	go func() {
		defer close(d.out)
		// Closing the read end on exit unblocks a pump stuck in pw.Write
		// when decoding stops early on a corrupt stream.
		defer pr.Close()
		r, err := open(pr)
		if err != nil {
			d.errc <- err
			return
		}
		defer r.Close()
		buf := make([]byte, 64*1024)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				d.out <- chunk
			}
			if err == io.EOF {
				return
			}
			if err != nil {
				d.errc <- err
				return
			}
		}
	}()

	return d
}

func (d *pipeDecompressor) Feed(p []byte) ([]byte, error) {
	if len(p) > 0 {
		cp := make([]byte, len(p))
		copy(cp, p)
		d.writes <- cp
	}
	return d.drainAvailable()
}

func (d *pipeDecompressor) drainAvailable() ([]byte, error) {
	var out []byte
	for {
		select {
		case chunk, ok := <-d.out:
			if !ok {
				return out, nil
			}
			out = append(out, chunk...)
		case err := <-d.errc:
			return out, &barerr.CorruptArchive{Reason: err.Error()}
		default:
			return out, nil
		}
	}
}

// Done signals end of input, waits for the reader goroutine to finish, and
// returns any octets it decoded after the last Feed call plus any trailing
// decode error (e.g. truncated stream).
func (d *pipeDecompressor) Done() ([]byte, error) {
	if d.closed {
		return nil, nil
	}
	d.closed = true
	close(d.writes)

	var out []byte
	for chunk := range d.out {
		out = append(out, chunk...)
	}
	select {
	case err := <-d.errc:
		return out, &barerr.CorruptArchive{Reason: err.Error()}
	default:
		return out, nil
	}
}
