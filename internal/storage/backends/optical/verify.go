package optical

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/blockvault/barc/internal/barerr"
)

// Verifier compares every staged file against its counterpart on the
// medium, block by block. A mismatch reports barerr.VerifyFailed naming
// the file and byte offset.
type Verifier interface {
	Verify(ctx context.Context, stagingDir string, stagedFiles []string, mediumDir string) error
}

// BlockVerifier implements Verifier by opening each staged file and its
// on-medium counterpart and comparing isoBlockSize-byte blocks (the
// ISO9660 logical block size). mediumDir stands in
// for the mounted ISO9660 filesystem (MountDir in tests/simulated runs, or
// an OS-mounted optical device path in a real deployment).
type BlockVerifier struct{}

func (v *BlockVerifier) Verify(ctx context.Context, stagingDir string, stagedFiles []string, mediumDir string) error {
	for _, path := range stagedFiles {
		rel, err := filepath.Rel(stagingDir, path)
		if err != nil {
			return &barerr.Io{Op: "verify-relpath", Path: path, Err: err}
		}
		mediumPath := filepath.Join(mediumDir, rel)

		if err := compareFiles(path, mediumPath); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return &barerr.Aborted{}
		}
	}
	return nil
}

func compareFiles(stagedPath, mediumPath string) error {
	a, err := os.Open(stagedPath)
	if err != nil {
		return &barerr.Io{Op: "verify-open-staged", Path: stagedPath, Err: err}
	}
	defer a.Close()

	b, err := os.Open(mediumPath)
	if err != nil {
		return &barerr.OpenOptical{Device: mediumPath, Err: err}
	}
	defer b.Close()

	bufA := make([]byte, isoBlockSize)
	bufB := make([]byte, isoBlockSize)
	var offset int64

	for {
		nA, errA := io.ReadFull(a, bufA)
		nB, errB := io.ReadFull(b, bufB)

		if nA == 0 && nB == 0 {
			return nil
		}
		if !bytes.Equal(bufA[:nA], bufB[:nB]) {
			return &barerr.VerifyFailed{Path: stagedPath, Offset: offset}
		}
		offset += int64(nA)

		aDone := errA == io.EOF || errA == io.ErrUnexpectedEOF
		bDone := errB == io.EOF || errB == io.ErrUnexpectedEOF
		if aDone != bDone {
			return &barerr.VerifyFailed{Path: stagedPath, Offset: offset}
		}
		if aDone && bDone {
			return nil
		}
		if errA != nil && !aDone {
			return &barerr.Io{Op: "verify-read-staged", Path: stagedPath, Err: errA}
		}
		if errB != nil && !bDone {
			return &barerr.OpenOptical{Device: mediumPath, Err: errB}
		}
	}
}
