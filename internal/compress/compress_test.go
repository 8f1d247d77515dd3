package compress

import (
	"bytes"
	"testing"
)

func roundTripAlgo(t *testing.T, algo Algorithm) {
	t.Helper()

	comp, err := NewCompressor(algo)
	if err != nil {
		t.Fatalf("NewCompressor(%s): %v", algo, err)
	}

	plaintext := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog\n"), 200)

	var ciphertext []byte
	mid := len(plaintext) / 2
	part1, err := comp.Feed(plaintext[:mid])
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	ciphertext = append(ciphertext, part1...)

	part2, err := comp.Feed(plaintext[mid:])
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	ciphertext = append(ciphertext, part2...)

	flushed, err := comp.Flush()
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	ciphertext = append(ciphertext, flushed...)

	final, err := comp.Done()
	if err != nil {
		t.Fatalf("Done: %v", err)
	}
	ciphertext = append(ciphertext, final...)

	if algo != NoneAlgo && len(ciphertext) >= len(plaintext) {
		t.Errorf("%s: compressed output (%d) not smaller than input (%d)", algo, len(ciphertext), len(plaintext))
	}

	decomp, err := NewDecompressor(algo)
	if err != nil {
		t.Fatalf("NewDecompressor(%s): %v", algo, err)
	}

	var recovered []byte
	out, err := decomp.Feed(ciphertext)
	if err != nil {
		t.Fatalf("decompressor Feed: %v", err)
	}
	recovered = append(recovered, out...)

	tail, err := decomp.Done()
	if err != nil {
		t.Fatalf("decompressor Done: %v", err)
	}
	recovered = append(recovered, tail...)

	if !bytes.Equal(recovered, plaintext) {
		t.Fatalf("%s: round trip mismatch, got %d bytes want %d bytes", algo, len(recovered), len(plaintext))
	}
}

func TestRoundTripAllAlgorithms(t *testing.T) {
	for _, algo := range []Algorithm{NoneAlgo, Gzip, ParallelGzip, Zstd} {
		t.Run(string(algo), func(t *testing.T) {
			roundTripAlgo(t, algo)
		})
	}
}

func TestUnsupportedAlgorithmRejected(t *testing.T) {
	if _, err := NewCompressor("bogus"); err == nil {
		t.Fatal("expected error for unknown compressor algorithm")
	}
	if _, err := NewDecompressor("bogus"); err == nil {
		t.Fatal("expected error for unknown decompressor algorithm")
	}
}

func TestFlushProducesIndependentlyDecodableBoundary(t *testing.T) {
	comp, err := NewCompressor(Gzip)
	if err != nil {
		t.Fatalf("NewCompressor: %v", err)
	}
	first := bytes.Repeat([]byte("part one data "), 500)

	var volume1 []byte
	fed, _ := comp.Feed(first)
	volume1 = append(volume1, fed...)
	flushed, err := comp.Flush()
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	volume1 = append(volume1, flushed...)

	// Simulate closing the archive here: volume1 must be independently
	// decodable even though the compressor stream isn't Done()-finalized.
	decomp, err := NewDecompressor(Gzip)
	if err != nil {
		t.Fatalf("NewDecompressor: %v", err)
	}
	out, err := decomp.Feed(volume1)
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	tail, err := decomp.Done()
	if err != nil {
		t.Fatalf("Done: %v", err)
	}
	out = append(out, tail...)

	if !bytes.Equal(out, first) {
		t.Fatalf("flushed boundary not independently decodable: got %d bytes want %d", len(out), len(first))
	}

	_ = comp // remaining compressor state discarded in this test
}

func TestPassthroughIsIdentity(t *testing.T) {
	comp, _ := NewCompressor(NoneAlgo)
	data := []byte("raw bytes, unmodified")
	out, err := comp.Feed(data)
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if !bytes.Equal(out, data) {
		t.Fatal("None compressor must be an identity transform")
	}
}
