package archive

import (
	"github.com/blockvault/barc/internal/chunk"
	"github.com/blockvault/barc/internal/compress"
	"github.com/blockvault/barc/internal/cryptocodec"
)

// TypePartHeader is a plaintext marker chunk immediately following the
// magic container at the start of every part, naming the algorithms and
// key-derivation salt needed to construct this part's crypto/compress
// state before anything else in the part can be decoded. Carrying a fresh
// salt and IV per part (so each part derives its own key from the same
// password) is what makes each part independently decodable without
// chaining cipher state across parts.
var TypePartHeader = chunk.TypeOf("PHDR")

// partHeader is the parsed PHDR payload.
type partHeader struct {
	Cipher      cryptocodec.Algorithm
	Compressor  compress.Algorithm
	Salt        []byte
	IV          []byte
	PartOrdinal uint32
	BaseName    string
}

func encodePartHeader(h *partHeader) []byte {
	var buf []byte
	putStr := func(s string) {
		buf = appendU32(buf, uint32(len(s)))
		buf = append(buf, s...)
	}
	putBytes := func(b []byte) {
		buf = appendU32(buf, uint32(len(b)))
		buf = append(buf, b...)
	}

	putStr(string(h.Cipher))
	putStr(string(h.Compressor))
	putBytes(h.Salt)
	putBytes(h.IV)
	buf = appendU32(buf, h.PartOrdinal)
	putStr(h.BaseName)
	return buf
}

func decodePartHeader(payload []byte) (*partHeader, error) {
	r := &byteReader{data: payload}
	h := &partHeader{}

	cipherStr, err := r.readString()
	if err != nil {
		return nil, err
	}
	h.Cipher = cryptocodec.Algorithm(cipherStr)

	compressorStr, err := r.readString()
	if err != nil {
		return nil, err
	}
	h.Compressor = compress.Algorithm(compressorStr)

	saltLen, err := r.readU32()
	if err != nil {
		return nil, err
	}
	if err := r.need(int(saltLen)); err != nil {
		return nil, err
	}
	h.Salt = append([]byte(nil), r.data[r.pos:r.pos+int(saltLen)]...)
	r.pos += int(saltLen)

	ivLen, err := r.readU32()
	if err != nil {
		return nil, err
	}
	if err := r.need(int(ivLen)); err != nil {
		return nil, err
	}
	h.IV = append([]byte(nil), r.data[r.pos:r.pos+int(ivLen)]...)
	r.pos += int(ivLen)

	if h.PartOrdinal, err = r.readU32(); err != nil {
		return nil, err
	}
	if h.BaseName, err = r.readString(); err != nil {
		return nil, err
	}
	return h, nil
}
