package archive

import (
	"io"

	"github.com/blockvault/barc/internal/barerr"
	"github.com/blockvault/barc/internal/cryptocodec"
	"github.com/blockvault/barc/internal/util/buffers"
)

// encryptWriter buffers written octets up to the codec's block size and
// encrypts each full block as it completes, CBC-chaining the IV (each
// ciphertext block feeds the next call). It operates underneath the chunk
// layer: every chunk.Writer call funnels header, payload and padding
// bytes through here uniformly, so the whole chunk stream is encrypted, not
// just entry data. chunk.Writer guarantees the cumulative position is a
// block multiple at the end of every chunk, so buf is expected to be empty
// again at every chunk boundary.
type encryptWriter struct {
	codec     *cryptocodec.Codec
	blockSize int
	iv        []byte
	buf       []byte
	out       io.Writer
}

func (e *encryptWriter) Write(p []byte) (int, error) {
	e.buf = append(e.buf, p...)
	full := (len(e.buf) / e.blockSize) * e.blockSize
	if full == 0 {
		return len(p), nil
	}

	block := e.buf[:full]
	ciphertext, err := e.codec.EncryptBlocks(block, e.iv)
	if err != nil {
		return 0, err
	}
	if e.blockSize > 1 && len(ciphertext) >= e.blockSize {
		e.iv = append([]byte(nil), ciphertext[len(ciphertext)-e.blockSize:]...)
	}
	if _, err := e.out.Write(ciphertext); err != nil {
		return 0, &barerr.Io{Op: "encrypt-write", Err: err}
	}
	e.buf = append([]byte(nil), e.buf[full:]...)
	return len(p), nil
}

// drainPadded flushes any stray leftover bytes, zero-padding to a full
// block first. Under correct block-size agreement with chunk.Writer this is
// always a no-op; kept as a safety net rather than a silent data drop.
func (e *encryptWriter) drainPadded() error {
	if len(e.buf) == 0 {
		return nil
	}
	pad := e.blockSize - len(e.buf)%e.blockSize
	if pad != e.blockSize {
		e.buf = append(e.buf, make([]byte, pad)...)
	}
	ciphertext, err := e.codec.EncryptBlocks(e.buf, e.iv)
	if err != nil {
		return err
	}
	if _, err := e.out.Write(ciphertext); err != nil {
		return &barerr.Io{Op: "encrypt-write", Err: err}
	}
	e.buf = nil
	return nil
}

// decryptReader is encryptWriter's mirror: it reads whole ciphertext blocks
// from the underlying stream on demand, decrypts them, and serves plaintext
// octets to chunk.Reader's io.ReadFull calls in whatever increments they ask
// for, buffering any decrypted remainder between calls.
type decryptReader struct {
	codec     *cryptocodec.Codec
	blockSize int
	iv        []byte
	in        io.Reader
	plainBuf  []byte
	blockPool *buffers.SizedPool
}

// newDecryptReader pools its per-read ciphertext scratch block: every
// ReadChunk on the archive's chunk.Reader drives at least one Read here, so
// over a large archive this is the hottest allocation site on the read path.
func newDecryptReader(codec *cryptocodec.Codec, blockSize int, iv []byte, in io.Reader) *decryptReader {
	return &decryptReader{
		codec:     codec,
		blockSize: blockSize,
		iv:        iv,
		in:        in,
		blockPool: buffers.NewSizedPool(blockSize),
	}
}

func (d *decryptReader) Read(p []byte) (int, error) {
	if len(d.plainBuf) == 0 {
		blockPtr := d.blockPool.Get()
		block := *blockPtr
		n, err := io.ReadFull(d.in, block)
		if err != nil {
			d.blockPool.Put(blockPtr)
			if n == 0 {
				return 0, io.EOF
			}
			return 0, &barerr.CorruptArchive{Reason: "truncated ciphertext block"}
		}
		plain, err := d.codec.DecryptBlocks(block, d.iv)
		if err != nil {
			d.blockPool.Put(blockPtr)
			return 0, err
		}
		if d.blockSize > 1 {
			d.iv = append([]byte(nil), block[len(block)-d.blockSize:]...)
		}
		d.blockPool.Put(blockPtr)
		d.plainBuf = plain
	}
	n := copy(p, d.plainBuf)
	d.plainBuf = d.plainBuf[n:]
	return n, nil
}
