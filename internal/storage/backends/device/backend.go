package device

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/blockvault/barc/internal/barerr"
	"github.com/blockvault/barc/internal/storage"
	"github.com/blockvault/barc/internal/storage/backends/optical"
	"github.com/blockvault/barc/internal/volume"
)

// Backend implements storage.Backend for the device scheme: archive parts
// stage into a directory exactly like the optical backend, and Write runs
// the image/ecc/write pipeline with no blank step and verify off by
// default. The write step copies the staged files into MountDir, or into a
// "device" directory beside the staging directory when MountDir is empty;
// nothing is written to the Device node itself, which only reaches the
// command templates.
type Backend struct {
	storage.Unsupported

	cfg      Config
	stager   *volume.Stager
	progress volume.ProgressFunc
	abort    func() bool
}

func New(cfg Config, stagingDir string) (*Backend, error) {
	stager, err := volume.NewStager(stagingDir)
	if err != nil {
		return nil, err
	}
	if cfg.Builder == nil {
		cfg.Builder = &optical.ExternalToolBuilder{Template: cfg.Templates.Image}
	}
	if cfg.ECCCoder == nil {
		cfg.ECCCoder = &optical.ReedSolomonECC{}
	}
	if cfg.Verifier == nil {
		cfg.Verifier = &optical.BlockVerifier{}
	}
	return &Backend{
		Unsupported: storage.NewUnsupported(storage.KindDevice),
		cfg:         cfg,
		stager:      stager,
	}, nil
}

func (b *Backend) SetProgress(p volume.ProgressFunc) { b.progress = p }

func (b *Backend) SetAbort(f func() bool) { b.abort = f }

func (b *Backend) Kind() storage.Kind { return storage.KindDevice }

func (b *Backend) Create(ctx context.Context, spec *storage.Specifier, policy storage.CreatePolicy) (storage.Handle, error) {
	name := filepath.Base(spec.Path)
	path := filepath.Join(b.stager.Dir(), name)

	flags := os.O_RDWR | os.O_CREATE
	switch policy {
	case storage.PolicyStop:
		if _, statErr := os.Stat(path); statErr == nil {
			return nil, &barerr.FileExists{Path: path}
		}
		flags |= os.O_TRUNC
	case storage.PolicyAppend:
		flags |= os.O_APPEND
	default:
		flags |= os.O_TRUNC
	}

	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, &barerr.Io{Op: "stage-create", Path: path, Err: err}
	}
	return &stagingHandle{f: f, path: path, stager: b.stager, direction: storage.DirectionWrite}, nil
}

func (b *Backend) Open(ctx context.Context, spec *storage.Specifier) (storage.Handle, error) {
	name := filepath.Base(spec.Path)
	path := filepath.Join(b.stager.Dir(), name)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &barerr.FileNotFound{Path: path}
		}
		return nil, &barerr.Io{Op: "stage-open", Path: path, Err: err}
	}
	info, _ := f.Stat()
	var size int64
	if info != nil {
		size = info.Size()
	}
	return &stagingHandle{f: f, path: path, direction: storage.DirectionRead, size: size, sizeKnown: info != nil}, nil
}

func (b *Backend) Exists(ctx context.Context, spec *storage.Specifier) (bool, error) {
	_, err := os.Stat(filepath.Join(b.stager.Dir(), filepath.Base(spec.Path)))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, &barerr.Io{Op: "stat", Path: spec.Path, Err: err}
}

// PostProcess triggers Write once accumulated staged size reaches
// cfg.Capacity. A Capacity of 0 disables the automatic trigger; call
// Finalize to force the write at archive-session end. There is no
// volume-rotation/request protocol here, since a single fixed device node
// has no media to swap.
func (b *Backend) PostProcess(ctx context.Context, spec *storage.Specifier) error {
	if b.cfg.Capacity <= 0 || b.stager.AccumulatedSize() < b.cfg.Capacity {
		return nil
	}
	return b.Write(ctx)
}

// Finalize forces a write of whatever is currently staged and releases the
// staging directory.
func (b *Backend) Finalize(ctx context.Context) error {
	if b.stager.AccumulatedSize() > 0 {
		if err := b.Write(ctx); err != nil {
			return err
		}
	}
	return b.stager.Close()
}

// Write runs the device pipeline: image-pre, create-image,
// image-post (when WriteImage), ecc-pre/ecc/ecc-post (when ECC),
// write-pre, write, write-post, and verify only when explicitly enabled.
// With Verify off (the default), this runs the pipeline exactly once; with
// Verify on, the whole attempt retries up to MaxWriteAttempts times on
// verify failure, mirroring the optical backend's retry shape but with no
// volume-request prompt between attempts (there is nothing to swap).
func (b *Backend) Write(ctx context.Context) error {
	stagedFiles := b.stager.StagedFiles()
	targetDir := b.cfg.MountDir
	if targetDir == "" {
		targetDir = filepath.Join(b.stager.Dir(), "..", "device")
	}

	tracker := 0
	progress := func(step string, completed, total, pct int) {
		if total <= 0 {
			return
		}
		v := (completed*100 + pct) / total
		if v > tracker {
			tracker = v
		}
		if b.progress != nil {
			b.progress(step, tracker, 100, pct)
		}
	}

	attempt := func(attemptCtx context.Context) error {
		tracker = 0
		imagePath := filepath.Join(b.stager.Dir(), "..", "image.iso")
		imageVars := volume.TemplateVars{Device: b.cfg.Device, Directory: b.stager.Dir(), Image: imagePath}

		pipeline := &volume.Pipeline{
			Abort:    b.abort,
			Progress: progress,
		}

		if b.cfg.WriteImage {
			pipeline.Steps = append(pipeline.Steps,
				volume.Step{Name: "image-pre", Template: b.cfg.Templates.ImagePre, Vars: imageVars, ProgressWeight: 1},
				volume.Step{
					Name:           "create-image",
					ProgressWeight: 1,
					Run: func(ctx context.Context) error {
						return b.cfg.Builder.Build(ctx, b.stager.Dir(), imagePath)
					},
				},
				volume.Step{Name: "image-post", Template: b.cfg.Templates.ImagePost, Vars: imageVars, ProgressWeight: 1},
			)
		}
		if b.cfg.ECC {
			pipeline.Steps = append(pipeline.Steps,
				volume.Step{Name: "ecc-pre", Template: b.cfg.Templates.EccPre, Vars: imageVars, ProgressWeight: 1},
				volume.Step{
					Name:           "ecc",
					ProgressWeight: 1,
					Run: func(ctx context.Context) error {
						_, err := b.cfg.ECCCoder.Encode(ctx, imagePath)
						return err
					},
				},
				volume.Step{Name: "ecc-post", Template: b.cfg.Templates.EccPost, Vars: imageVars, ProgressWeight: 1},
			)
		}

		pipeline.Steps = append(pipeline.Steps,
			volume.Step{Name: "write-pre", Template: b.cfg.Templates.WritePre, Vars: imageVars, ProgressWeight: 1},
			volume.Step{
				Name:           "write",
				ProgressWeight: 1,
				Run: func(ctx context.Context) error {
					if b.cfg.WriteImage {
						if _, err := os.Stat(imagePath); err != nil {
							return &barerr.CreateIso{Detail: "missing built image: " + err.Error()}
						}
					}
					return copyStagedToDevice(stagedFiles, b.stager.Dir(), targetDir)
				},
			},
			volume.Step{Name: "write-post", Template: b.cfg.Templates.WritePost, Vars: imageVars, ProgressWeight: 1},
		)

		if b.cfg.Verify {
			pipeline.Steps = append(pipeline.Steps, volume.Step{
				Name:           "verify",
				ProgressWeight: 1,
				Run: func(ctx context.Context) error {
					return b.cfg.Verifier.Verify(ctx, b.stager.Dir(), stagedFiles, targetDir)
				},
			})
		}

		return pipeline.Run(attemptCtx)
	}

	if err := volume.RetryLoop(ctx, b.cfg.maxWriteAttempts(), attempt, nil); err != nil {
		return err
	}

	if err := b.stager.Reset(ctx); err != nil {
		return err
	}
	return nil
}

func copyStagedToDevice(stagedFiles []string, stagingDir, targetDir string) error {
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return &barerr.Io{Op: "mkdir-device-target", Path: targetDir, Err: err}
	}
	for _, path := range stagedFiles {
		rel, err := filepath.Rel(stagingDir, path)
		if err != nil {
			return &barerr.Io{Op: "device-relpath", Path: path, Err: err}
		}
		dst := filepath.Join(targetDir, rel)
		if err := copyFile(path, dst); err != nil {
			return &barerr.Io{Op: "device-write", Path: dst, Err: err}
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

// stagingHandle implements storage.Handle over a staged file, registering
// its size with the owning Stager on Close.
type stagingHandle struct {
	f         *os.File
	path      string
	stager    *volume.Stager
	direction storage.Direction
	pos       int64
	size      int64
	sizeKnown bool
	written   int64
}

func (h *stagingHandle) Read(p []byte) (int, error) {
	n, err := h.f.Read(p)
	h.pos += int64(n)
	return n, err
}

func (h *stagingHandle) Write(p []byte) (int, error) {
	n, err := h.f.Write(p)
	h.pos += int64(n)
	h.written += int64(n)
	return n, err
}

func (h *stagingHandle) Close() error {
	err := h.f.Close()
	if h.stager != nil && h.direction == storage.DirectionWrite {
		h.stager.RegisterStaged(h.path, h.written)
	}
	if err != nil {
		return &barerr.Io{Op: "close", Path: h.path, Err: err}
	}
	return nil
}

func (h *stagingHandle) Seek(ctx context.Context, offset int64, whence int) (int64, error) {
	pos, err := h.f.Seek(offset, whence)
	if err != nil {
		return 0, &barerr.Io{Op: "seek", Path: h.path, Err: err}
	}
	h.pos = pos
	return pos, nil
}

func (h *stagingHandle) Tell() (int64, error)         { return h.pos, nil }
func (h *stagingHandle) Size() (int64, bool)          { return h.size, h.sizeKnown }
func (h *stagingHandle) Direction() storage.Direction { return h.direction }
func (h *stagingHandle) IsReadable() bool             { return h.direction == storage.DirectionRead }
func (h *stagingHandle) IsWritable() bool             { return h.direction == storage.DirectionWrite }
