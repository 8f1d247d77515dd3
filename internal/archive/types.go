package archive

import (
	"encoding/binary"
	"time"

	"github.com/blockvault/barc/internal/barerr"
	"github.com/blockvault/barc/internal/chunk"
	"github.com/blockvault/barc/internal/compress"
	"github.com/blockvault/barc/internal/cryptocodec"
)

// Chunk type tags. Every part opens with MagicContainer (a zero-length
// marker) followed by a PartHeader chunk, then a flat sequence of entries:
// one entry-kind chunk (its payload is the entry's encoded header) followed,
// for File/Image variants, by zero or more Data chunks, closed by an
// EntryEnd marker. TypeHeader is reserved but unused by this package's own
// framing: the entry-kind chunk carries the header payload directly rather
// than nesting a separate Header chunk inside an entry container.
var (
	TypeMagicContainer = chunk.TypeOf("BAR0")
	TypeFile           = chunk.TypeOf("FILE")
	TypeDirectory      = chunk.TypeOf("DIR ")
	TypeLink           = chunk.TypeOf("LINK")
	TypeSpecial        = chunk.TypeOf("SPEC")
	TypeImage          = chunk.TypeOf("IMAG")
	TypeHeader         = chunk.TypeOf("HDR ")
	TypeData           = chunk.TypeOf("DAT ")
	TypeEntryEnd       = chunk.TypeOf("EEND")
)

// EntryKind is the variant tag for ArchiveEntry.
type EntryKind byte

const (
	KindFile EntryKind = iota + 1
	KindDirectory
	KindLink
	KindSpecial
	KindImage
)

func kindToType(k EntryKind) (chunk.Type, error) {
	switch k {
	case KindFile:
		return TypeFile, nil
	case KindDirectory:
		return TypeDirectory, nil
	case KindLink:
		return TypeLink, nil
	case KindSpecial:
		return TypeSpecial, nil
	case KindImage:
		return TypeImage, nil
	default:
		return chunk.Type{}, &barerr.CorruptArchive{Reason: "unknown entry kind"}
	}
}

func typeToKind(t chunk.Type) (EntryKind, bool) {
	switch t {
	case TypeFile:
		return KindFile, true
	case TypeDirectory:
		return KindDirectory, true
	case TypeLink:
		return KindLink, true
	case TypeSpecial:
		return KindSpecial, true
	case TypeImage:
		return KindImage, true
	default:
		return 0, false
	}
}

// SpecialKind distinguishes the four POSIX special-file variants.
type SpecialKind byte

const (
	SpecialChar SpecialKind = iota + 1
	SpecialBlock
	SpecialFifo
	SpecialSocket
)

// ArchiveEntry is the logical item being archived. Name is octet-string,
// path-separator normalized by the caller before construction; this
// package does not itself normalize paths.
type ArchiveEntry struct {
	Kind EntryKind
	Name string

	OwnerID, GroupID uint32
	Mode             uint32 // POSIX permission bits
	AccessTime       time.Time
	ModTime          time.Time
	ChangeTime       time.Time

	// File/Image only.
	Size uint64

	// Link only.
	LinkTarget string

	// Special/Image only.
	Special           SpecialKind
	DeviceMajor       uint32
	DeviceMinor       uint32

	// Set when this entry chunk is a part-continuation of an earlier
	// physical part: PartOffset is this physical part's
	// starting byte offset within the logical entry. A zero PartOffset
	// means "not a continuation" (the entry's data starts in this part).
	// PartSize is encoded in the header, but the writer always records 0
	// and the reader splices parts by PartOffset alone, so it carries no
	// per-part length.
	PartOffset uint64
	PartSize   uint64

	Cipher     cryptocodec.Algorithm
	Compressor compress.Algorithm
}

// encodeHeader serializes an entry's metadata into the payload of its
// entry-kind chunk (FILE/DIR /LINK/SPEC/IMAG).
// All integers are big-endian. Variable-length fields are length-prefixed
// with a uint32.
func encodeHeader(e *ArchiveEntry) []byte {
	var buf []byte
	putU32 := func(v uint32) { buf = appendU32(buf, v) }
	putU64 := func(v uint64) { buf = appendU64(buf, v) }
	putI64 := func(v int64) { buf = appendU64(buf, uint64(v)) }
	putStr := func(s string) {
		putU32(uint32(len(s)))
		buf = append(buf, s...)
	}

	buf = append(buf, byte(e.Kind))
	putStr(e.Name)
	putU32(e.OwnerID)
	putU32(e.GroupID)
	putU32(e.Mode)
	putI64(e.AccessTime.Unix())
	putI64(e.ModTime.Unix())
	putI64(e.ChangeTime.Unix())
	putU64(e.Size)
	putStr(e.LinkTarget)
	buf = append(buf, byte(e.Special))
	putU32(e.DeviceMajor)
	putU32(e.DeviceMinor)
	putU64(e.PartOffset)
	putU64(e.PartSize)
	putStr(string(e.Cipher))
	putStr(string(e.Compressor))

	return buf
}

// decodeHeader is the inverse of encodeHeader. Returns barerr.CorruptArchive
// if the payload is too short for any declared field.
func decodeHeader(kind EntryKind, payload []byte) (*ArchiveEntry, error) {
	r := &byteReader{data: payload}
	e := &ArchiveEntry{Kind: kind}

	kindByte, err := r.readByte()
	if err != nil {
		return nil, err
	}
	e.Kind = EntryKind(kindByte)

	if e.Name, err = r.readString(); err != nil {
		return nil, err
	}
	if e.OwnerID, err = r.readU32(); err != nil {
		return nil, err
	}
	if e.GroupID, err = r.readU32(); err != nil {
		return nil, err
	}
	if e.Mode, err = r.readU32(); err != nil {
		return nil, err
	}
	accessUnix, err := r.readI64()
	if err != nil {
		return nil, err
	}
	e.AccessTime = time.Unix(accessUnix, 0).UTC()
	modUnix, err := r.readI64()
	if err != nil {
		return nil, err
	}
	e.ModTime = time.Unix(modUnix, 0).UTC()
	changeUnix, err := r.readI64()
	if err != nil {
		return nil, err
	}
	e.ChangeTime = time.Unix(changeUnix, 0).UTC()
	if e.Size, err = r.readU64(); err != nil {
		return nil, err
	}
	if e.LinkTarget, err = r.readString(); err != nil {
		return nil, err
	}
	specialByte, err := r.readByte()
	if err != nil {
		return nil, err
	}
	e.Special = SpecialKind(specialByte)
	if e.DeviceMajor, err = r.readU32(); err != nil {
		return nil, err
	}
	if e.DeviceMinor, err = r.readU32(); err != nil {
		return nil, err
	}
	if e.PartOffset, err = r.readU64(); err != nil {
		return nil, err
	}
	if e.PartSize, err = r.readU64(); err != nil {
		return nil, err
	}
	cipherStr, err := r.readString()
	if err != nil {
		return nil, err
	}
	e.Cipher = cryptocodec.Algorithm(cipherStr)
	compressStr, err := r.readString()
	if err != nil {
		return nil, err
	}
	e.Compressor = compress.Algorithm(compressStr)

	return e, nil
}

func appendU32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendU64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

// byteReader is a small big-endian cursor over a header payload, used
// instead of bytes.Reader + binary.Read so every short-read produces the
// same CorruptArchive error the chunk layer uses for truncation.
type byteReader struct {
	data []byte
	pos  int
}

func (r *byteReader) need(n int) error {
	if r.pos+n > len(r.data) {
		return &barerr.CorruptArchive{Reason: "truncated entry header"}
	}
	return nil
}

func (r *byteReader) readByte() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *byteReader) readU32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *byteReader) readU64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(r.data[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *byteReader) readI64() (int64, error) {
	v, err := r.readU64()
	return int64(v), err
}

func (r *byteReader) readString() (string, error) {
	n, err := r.readU32()
	if err != nil {
		return "", err
	}
	if err := r.need(int(n)); err != nil {
		return "", err
	}
	s := string(r.data[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s, nil
}
