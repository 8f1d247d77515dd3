// Package archive implements the chunk-structured archive engine: the
// write path that turns a sequence of ArchiveEntry descriptions plus their
// raw data into a block-aligned, encrypted, compressed chunk stream split
// across one or more physical parts, and the read path that reverses it.
//
// Crypto and compression are layered the same way on both sides: every
// chunk after the plaintext BAR0 marker and PHDR part header (entry
// headers and markers included) passes through the part's crypto codec
// uniformly, while compression is applied only to an entry's File/
// Image data before it becomes a Data chunk's payload. Compression is
// fully finalized (Compressor.Done, not just Flush) at every part boundary
// so each physical part's compressed segment decodes standalone, matching
// the "each part replayable independently" requirement: a Flush-only
// boundary would leave later parts depending on an earlier part's gzip/
// zstd dictionary, which a reader given only the later part could never
// reconstruct.
package archive

import (
	"errors"
	"io"
	"sync"

	"github.com/blockvault/barc/internal/barerr"
	"github.com/blockvault/barc/internal/chunk"
	"github.com/blockvault/barc/internal/compress"
	"github.com/blockvault/barc/internal/cryptocodec"
	"github.com/blockvault/barc/internal/secret"
)

// ErrNoMorePart is returned by a ReadVolumeOpener when asked for a part
// ordinal past the archive's last physical part.
var ErrNoMorePart = errors.New("archive: no further part")

// WriteVolumeOpener opens the physical backing store for part ordinal
// (0-based), creating it if necessary. The archive engine calls this once
// up front and again every time a part boundary is crossed.
type WriteVolumeOpener func(partOrdinal int) (io.WriteCloser, error)

// ReadVolumeOpener opens the physical backing store for part ordinal for
// reading. Returning an error wrapping ErrNoMorePart signals there is no
// such part, ending the archive.
type ReadVolumeOpener func(partOrdinal int) (io.ReadCloser, error)

// WriteOptions configures a new archive write session.
type WriteOptions struct {
	BaseName   string
	Opener     WriteVolumeOpener
	PartSize   uint64 // 0 = unlimited, single part
	Cipher     cryptocodec.Algorithm
	Compressor compress.Algorithm
	Password   *secret.Password
	Progress   ProgressSink
	Abort      AbortPredicate
}

// ArchiveWriter drives the write path: NewEntry, WriteEntryData, CloseEntry
// for each archived item, Close when done. Part splitting happens
// transparently inside WriteEntryData/CloseEntry when opts.PartSize is hit.
type ArchiveWriter struct {
	opts WriteOptions
	mu   sync.Mutex

	partOrdinal int
	raw         io.WriteCloser
	enc         *encryptWriter
	chunkW      *chunk.Writer
	blockSize   int

	cur        *EntryHandle
	entryCount int
	totalBytes uint64
}

// EntryHandle tracks one open entry across (possibly several) WriteEntryData
// calls and part rollovers.
type EntryHandle struct {
	entry        *ArchiveEntry
	comp         compress.Compressor
	totalWritten uint64 // logical (pre-compression) bytes fed so far
}

// Entry returns the ArchiveEntry this handle was opened with. Its
// PartOffset is updated by the engine across part rollovers.
func (h *EntryHandle) Entry() *ArchiveEntry { return h.entry }

// Create opens a new archive write session, creating part 0.
func Create(opts WriteOptions) (*ArchiveWriter, error) {
	barerr.Invariant(opts.Opener != nil, "archive: WriteOptions.Opener is required")
	w := &ArchiveWriter{opts: opts}
	if err := w.openPart(0); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *ArchiveWriter) openPart(ordinal int) error {
	raw, err := w.opts.Opener(ordinal)
	if err != nil {
		return &barerr.Io{Op: "open-part", Err: err}
	}

	salt, err := cryptocodec.RandomSalt(w.opts.Cipher)
	if err != nil {
		raw.Close()
		return err
	}
	derived, err := cryptocodec.DeriveKey(w.opts.Cipher, w.opts.Password, salt)
	if err != nil {
		raw.Close()
		return err
	}
	codec, err := cryptocodec.NewEncoder(w.opts.Cipher, derived)
	if err != nil {
		raw.Close()
		return err
	}
	blockSize, err := cryptocodec.BlockSize(w.opts.Cipher)
	if err != nil {
		raw.Close()
		return err
	}

	plain := chunk.NewWriter(raw, 1)
	if err := plain.WriteChunk(TypeMagicContainer, nil); err != nil {
		raw.Close()
		return err
	}
	ph := &partHeader{
		Cipher:      w.opts.Cipher,
		Compressor:  w.opts.Compressor,
		Salt:        salt,
		IV:          derived.IV,
		PartOrdinal: uint32(ordinal),
		BaseName:    w.opts.BaseName,
	}
	if err := plain.WriteChunk(TypePartHeader, encodePartHeader(ph)); err != nil {
		raw.Close()
		return err
	}

	w.raw = raw
	w.enc = &encryptWriter{codec: codec, blockSize: blockSize, iv: derived.IV, out: raw}
	w.chunkW = chunk.NewWriter(w.enc, blockSize)
	w.blockSize = blockSize
	w.partOrdinal = ordinal
	return nil
}

// NewEntry opens e for writing: its header chunk is emitted immediately.
// Callers must CloseEntry the returned handle (even for Directory/Link/
// Special entries, which never receive WriteEntryData calls) before
// opening another entry or closing the archive.
func (w *ArchiveWriter) NewEntry(e *ArchiveEntry) (*EntryHandle, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	barerr.Invariant(w.cur == nil, "archive: NewEntry called with an entry already open")

	e.Cipher = w.opts.Cipher
	e.Compressor = w.opts.Compressor
	e.PartOffset = 0
	e.PartSize = 0

	comp, err := compress.NewCompressor(w.opts.Compressor)
	if err != nil {
		return nil, err
	}
	h := &EntryHandle{entry: e, comp: comp}
	w.cur = h

	typ, err := kindToType(e.Kind)
	if err != nil {
		return nil, err
	}
	if err := w.chunkW.WriteChunk(typ, encodeHeader(e)); err != nil {
		return nil, err
	}
	return h, nil
}

// WriteEntryData feeds the next slice of h's raw (pre-compression) data.
// Transparently rolls to a new physical part when opts.PartSize is reached.
func (w *ArchiveWriter) WriteEntryData(h *EntryHandle, p []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	barerr.Invariant(w.cur == h, "archive: WriteEntryData called on an entry that isn't open")

	if w.opts.Abort != nil && w.opts.Abort() {
		return &barerr.Aborted{}
	}

	out, err := h.comp.Feed(p)
	if err != nil {
		return err
	}
	if len(out) > 0 {
		if err := w.chunkW.WriteChunk(TypeData, out); err != nil {
			return err
		}
	}
	h.totalWritten += uint64(len(p))
	w.totalBytes += uint64(len(p))

	if w.opts.Progress != nil {
		if !w.opts.Progress(w.totalBytes, w.partOrdinal+1, 0, "", "") {
			return &barerr.Aborted{}
		}
	}

	if w.opts.PartSize > 0 && uint64(w.chunkW.Pos()) >= w.opts.PartSize {
		return w.rollPart(h)
	}
	return nil
}

// rollPart finalizes h's compressed stream and this part, opens the next
// part, and re-emits h's header as a continuation so the new part is
// independently decodable and splices back onto h via PartOffset.
func (w *ArchiveWriter) rollPart(h *EntryHandle) error {
	out, err := h.comp.Done()
	if err != nil {
		return err
	}
	if len(out) > 0 {
		if err := w.chunkW.WriteChunk(TypeData, out); err != nil {
			return err
		}
	}
	if err := w.chunkW.WriteChunk(TypeEntryEnd, nil); err != nil {
		return err
	}
	if err := w.raw.Close(); err != nil {
		return &barerr.Io{Op: "close-part", Err: err}
	}

	if err := w.openPart(w.partOrdinal + 1); err != nil {
		return err
	}

	comp, err := compress.NewCompressor(w.opts.Compressor)
	if err != nil {
		return err
	}
	h.comp = comp
	h.entry.PartOffset = h.totalWritten
	h.entry.PartSize = 0

	typ, err := kindToType(h.entry.Kind)
	if err != nil {
		return err
	}
	return w.chunkW.WriteChunk(typ, encodeHeader(h.entry))
}

// CloseEntry finalizes h: flushes any remaining compressed bytes and emits
// the closing marker.
func (w *ArchiveWriter) CloseEntry(h *EntryHandle) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	barerr.Invariant(w.cur == h, "archive: CloseEntry called on an entry that isn't open")

	out, err := h.comp.Done()
	if err != nil {
		return err
	}
	if len(out) > 0 {
		if err := w.chunkW.WriteChunk(TypeData, out); err != nil {
			return err
		}
	}
	if err := w.chunkW.WriteChunk(TypeEntryEnd, nil); err != nil {
		return err
	}

	w.entryCount++
	w.cur = nil
	return nil
}

// Close finalizes the archive. An entry must not still be open.
func (w *ArchiveWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cur != nil {
		return &barerr.CorruptArchive{Reason: "archive closed with an entry still open"}
	}
	if err := w.enc.drainPadded(); err != nil {
		return err
	}
	return w.raw.Close()
}

// PartOrdinal reports the currently active (0-based) part.
func (w *ArchiveWriter) PartOrdinal() int { return w.partOrdinal }

// EntryCount reports how many entries have been fully closed so far.
func (w *ArchiveWriter) EntryCount() int { return w.entryCount }

// TotalBytes reports the cumulative logical (pre-compression) bytes written
// across all entries so far.
func (w *ArchiveWriter) TotalBytes() uint64 { return w.totalBytes }

// ReadOptions configures a new archive read session.
type ReadOptions struct {
	BaseName string
	Opener   ReadVolumeOpener
	Password *secret.Password
}

// ArchiveReader drives the read path: ReadEntry then repeated
// ReadEntryData calls (until io.EOF) per entry, until ReadEntry itself
// returns io.EOF for the whole archive.
type ArchiveReader struct {
	opts ReadOptions

	partOrdinal int
	raw         io.ReadCloser
	chunkR      *chunk.Reader
	partHeader  *partHeader

	curEntry     *ArchiveEntry
	curDecomp    compress.Decompressor
	curBytesRead uint64

	pending *pendingChunk
}

type pendingChunk struct {
	typ     chunk.Type
	payload []byte
}

// Open opens an archive for reading, starting at part 0.
func Open(opts ReadOptions) (*ArchiveReader, error) {
	barerr.Invariant(opts.Opener != nil, "archive: ReadOptions.Opener is required")
	r := &ArchiveReader{opts: opts}
	if err := r.openPart(0); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *ArchiveReader) openPart(ordinal int) error {
	raw, err := r.opts.Opener(ordinal)
	if err != nil {
		return err
	}
	return r.openPartFromHandle(ordinal, raw)
}

func (r *ArchiveReader) openPartFromHandle(ordinal int, raw io.ReadCloser) error {
	plainR := chunk.NewReader(raw, 1)
	typ, _, err := plainR.ReadChunk()
	if err != nil {
		return err
	}
	if typ != TypeMagicContainer {
		return &barerr.CorruptArchive{Reason: "missing archive magic at start of part"}
	}
	typ2, payload, err := plainR.ReadChunk()
	if err != nil {
		return err
	}
	if typ2 != TypePartHeader {
		return &barerr.CorruptArchive{Reason: "missing part header at start of part"}
	}
	ph, err := decodePartHeader(payload)
	if err != nil {
		return err
	}

	derived, err := cryptocodec.DeriveKey(ph.Cipher, r.opts.Password, ph.Salt)
	if err != nil {
		return err
	}
	codec, err := cryptocodec.NewDecoder(ph.Cipher, derived)
	if err != nil {
		return err
	}
	blockSize, err := cryptocodec.BlockSize(ph.Cipher)
	if err != nil {
		return err
	}

	r.raw = raw
	r.partHeader = ph
	r.partOrdinal = ordinal
	dec := newDecryptReader(codec, blockSize, derived.IV, raw)
	r.chunkR = chunk.NewReader(dec, blockSize)
	return nil
}

// tryNextPart closes the currently open part and opens partOrdinal+1.
// Returns an error wrapping ErrNoMorePart if there is no such part, in
// which case the current part is left open (not consumed).
func (r *ArchiveReader) tryNextPart() error {
	next := r.partOrdinal + 1
	raw, err := r.opts.Opener(next)
	if err != nil {
		if errors.Is(err, ErrNoMorePart) {
			return err
		}
		return &barerr.Io{Op: "open-next-part", Err: err}
	}
	r.raw.Close()
	return r.openPartFromHandle(next, raw)
}

// ReadEntry returns the next entry's metadata, or io.EOF once the archive
// (across all its parts) is exhausted. A previously open entry must have
// already been fully drained via ReadEntryData.
func (r *ArchiveReader) ReadEntry() (*ArchiveEntry, error) {
	if r.pending != nil {
		p := r.pending
		r.pending = nil
		return r.startEntry(p.typ, p.payload)
	}

	typ, payload, err := r.nextTopLevelChunk()
	if errors.Is(err, io.EOF) {
		return nil, io.EOF
	}
	if err != nil {
		return nil, err
	}
	return r.startEntry(typ, payload)
}

// nextTopLevelChunk returns the next entry-kind chunk, skipping unknown
// chunk types and transparently crossing into the next part whenever the
// current part's own stream is exhausted. Returns io.EOF once there is no
// further part.
func (r *ArchiveReader) nextTopLevelChunk() (chunk.Type, []byte, error) {
	for {
		typ, payload, err := r.chunkR.ReadChunk()
		if errors.Is(err, chunk.ErrEndOfArchive) {
			if nerr := r.tryNextPart(); nerr != nil {
				if errors.Is(nerr, ErrNoMorePart) {
					return chunk.Type{}, nil, io.EOF
				}
				return chunk.Type{}, nil, nerr
			}
			continue
		}
		if err != nil {
			return chunk.Type{}, nil, err
		}
		if _, ok := typeToKind(typ); ok {
			return typ, payload, nil
		}
		// Unknown/forward-compatible top-level chunk: skip it and keep looking.
	}
}

func (r *ArchiveReader) startEntry(typ chunk.Type, payload []byte) (*ArchiveEntry, error) {
	kind, _ := typeToKind(typ)
	e, err := decodeHeader(kind, payload)
	if err != nil {
		return nil, err
	}
	comp, err := compress.NewDecompressor(r.partHeader.Compressor)
	if err != nil {
		return nil, err
	}
	r.curEntry = e
	r.curDecomp = comp
	r.curBytesRead = 0
	return e, nil
}

// ReadEntryData returns the next slice of decompressed entry data, or
// io.EOF once the current entry (across however many parts it spans) is
// exhausted. Handles part splicing transparently: when a part ends mid-
// entry it looks ahead into the next part to decide whether the entry
// continues there or is genuinely complete.
func (r *ArchiveReader) ReadEntryData() ([]byte, error) {
	barerr.Invariant(r.curEntry != nil, "archive: ReadEntryData called with no entry open")

	for {
		typ, payload, err := r.chunkR.ReadChunk()
		if errors.Is(err, chunk.ErrEndOfArchive) {
			if nerr := r.tryNextPart(); nerr != nil {
				if errors.Is(nerr, ErrNoMorePart) {
					return nil, &barerr.CorruptArchive{Reason: "archive ended mid-entry without a closing marker"}
				}
				return nil, nerr
			}
			continue
		}
		if err != nil {
			return nil, err
		}

		switch typ {
		case TypeData:
			out, derr := r.curDecomp.Feed(payload)
			if derr != nil {
				return nil, derr
			}
			if len(out) > 0 {
				r.curBytesRead += uint64(len(out))
				return out, nil
			}
		case TypeEntryEnd:
			out, derr := r.curDecomp.Done()
			if derr != nil {
				return nil, derr
			}
			r.curBytesRead += uint64(len(out))

			cont, cerr := r.lookAheadContinuation()
			if cerr != nil {
				return nil, cerr
			}
			if cont {
				if len(out) > 0 {
					return out, nil
				}
				continue
			}
			r.curEntry = nil
			r.curDecomp = nil
			// Per io.Reader convention, a final non-empty read may report
			// io.EOF in the same call rather than requiring a trailing
			// empty call (curEntry is already cleared, so a trailing call
			// would otherwise trip the "no entry open" invariant).
			return out, io.EOF
		default:
			// Unknown/forward-compatible chunk mid-entry: skip.
		}
	}
}

// lookAheadContinuation checks whether the entry just closed continues in
// a later part. nextTopLevelChunk only crosses into a new part once the
// current part's own stream is exhausted, so if another entry follows in
// this same part (the common case: the entry simply finished, no part
// rollover involved) that entry's header is read right here without ever
// touching the next part. If it does continue, it installs a fresh
// decompressor and leaves the reader positioned to keep draining Data
// chunks. Otherwise the header chunk it had to read ahead is stashed in
// r.pending for the next ReadEntry call.
func (r *ArchiveReader) lookAheadContinuation() (bool, error) {
	entryName, entryKind := r.curEntry.Name, r.curEntry.Kind

	typ, payload, err := r.nextTopLevelChunk()
	if errors.Is(err, io.EOF) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	kind, _ := typeToKind(typ) // always ok: nextTopLevelChunk only returns entry-kind chunks
	e, err := decodeHeader(kind, payload)
	if err != nil {
		return false, err
	}

	if e.Name == entryName && e.Kind == entryKind && e.PartOffset == r.curBytesRead {
		comp, cerr := compress.NewDecompressor(r.partHeader.Compressor)
		if cerr != nil {
			return false, cerr
		}
		r.curEntry = e
		r.curDecomp = comp
		return true, nil
	}

	r.pending = &pendingChunk{typ: typ, payload: payload}
	return false, nil
}

// Close closes the currently open part's underlying handle.
func (r *ArchiveReader) Close() error {
	return r.raw.Close()
}
