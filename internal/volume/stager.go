package volume

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/blockvault/barc/internal/barerr"
)

// Stager owns one volumed backend's staging directory: the accumulated
// archive parts written there before the post-process pipeline assembles
// and burns/writes them to the physical medium. The same shape serves the
// block-device backend, which stages identically but skips blank/verify.
type Stager struct {
	mu sync.Mutex

	dir       string
	staged    []string // absolute paths, flush order
	accSize   int64
	volumeNum int
	newVolume bool
}

// NewStager creates (if needed) dir and returns a Stager rooted there.
// While any handle is open for write, the staging directory exists and is
// owned by this Stager.
func NewStager(dir string) (*Stager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &barerr.Io{Op: "mkdir-staging", Path: dir, Err: err}
	}
	return &Stager{dir: dir, volumeNum: 1}, nil
}

// Dir returns the staging directory path.
func (s *Stager) Dir() string { return s.dir }

// StageFile copies src's contents into the staging directory under name,
// returning the bytes written. Accumulated size only ever grows until a
// successful post-process resets it.
func (s *Stager) StageFile(name string, src io.Reader) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dst := filepath.Join(s.dir, name)
	f, err := os.Create(dst)
	if err != nil {
		return 0, &barerr.Io{Op: "stage-create", Path: dst, Err: err}
	}
	defer f.Close()

	n, err := io.Copy(f, src)
	if err != nil {
		return n, &barerr.Io{Op: "stage-write", Path: dst, Err: err}
	}
	s.staged = append(s.staged, dst)
	s.accSize += n
	return n, nil
}

// RegisterStaged records a file already written directly into the staging
// directory (by a handle opened via Backend.Create rather than StageFile's
// copy-from-reader path) so it counts toward AccumulatedSize and appears in
// StagedFiles.
func (s *Stager) RegisterStaged(path string, size int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staged = append(s.staged, path)
	s.accSize += size
}

// AccumulatedSize reports the running total of staged bytes since the last
// successful Reset.
func (s *Stager) AccumulatedSize() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accSize
}

// StagedFiles returns the staged file paths sorted by name.
func (s *Stager) StagedFiles() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.staged))
	copy(out, s.staged)
	sort.Strings(out)
	return out
}

// VolumeNumber reports the currently active (1-based) volume ordinal.
func (s *Stager) VolumeNumber() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volumeNum
}

// RequestNewVolume advances the volume ordinal and sets the "new volume
// requested" flag once a successful post-process completes.
func (s *Stager) RequestNewVolume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volumeNum++
	s.newVolume = true
}

// ConsumeNewVolumeRequest reports and clears the pending flag; the optical
// backend's PreProcess calls this to decide whether the volume-request
// protocol needs to run at all.
func (s *Stager) ConsumeNewVolumeRequest() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := s.newVolume
	s.newVolume = false
	return pending
}

// Reset deletes the staged files, keeping the staging directory, and
// clears the staged-file bookkeeping and accumulated size after a
// successful post-process, per the monotonic-until-success invariant.
func (s *Stager) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.staged {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			return &barerr.Io{Op: "clear-staged", Path: f, Err: err}
		}
	}
	s.staged = nil
	s.accSize = 0
	return nil
}

// Close removes the staging directory entirely, releasing ownership. Must
// be called on every exit path (success, error, cancel) so staged
// temporaries never outlive the session that created them.
func (s *Stager) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.RemoveAll(s.dir); err != nil {
		return &barerr.Io{Op: "remove-staging", Path: s.dir, Err: err}
	}
	return nil
}
