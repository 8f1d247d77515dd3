package storage

import (
	"context"
	"errors"
	"io"
	"strconv"
	"sync"

	"github.com/blockvault/barc/internal/archive"
	"github.com/blockvault/barc/internal/barerr"
)

func notSupportedErr(kind Kind, op string) error {
	return &barerr.NotSupported{Kind: string(kind), Op: op}
}

// Dispatcher routes every storage operation to the Backend registered for
// the Specifier's Kind. It owns no backend-specific state itself; each
// Backend owns whatever session/connection state it needs.
type Dispatcher struct {
	mu       sync.RWMutex
	backends map[Kind]Backend
}

// NewDispatcher constructs an empty Dispatcher. Backends are registered
// with Register, normally once at process start by the external CLI/
// daemon front end (mirrors CoreRuntime's "constructed once" contract).
func NewDispatcher() *Dispatcher {
	return &Dispatcher{backends: make(map[Kind]Backend)}
}

// Register installs b as the handler for its own Kind(). Registering a
// second backend for the same kind replaces the first, useful for tests
// that substitute a fake backend.
func (d *Dispatcher) Register(b Backend) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.backends[b.Kind()] = b
}

func (d *Dispatcher) lookup(kind Kind) (Backend, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	b, ok := d.backends[kind]
	if !ok {
		return nil, notSupportedErr(kind, "(no backend registered)")
	}
	return b, nil
}

func (d *Dispatcher) Create(ctx context.Context, spec *Specifier, policy CreatePolicy) (Handle, error) {
	b, err := d.lookup(spec.Kind)
	if err != nil {
		return nil, err
	}
	return b.Create(ctx, spec, policy)
}

func (d *Dispatcher) Open(ctx context.Context, spec *Specifier) (Handle, error) {
	b, err := d.lookup(spec.Kind)
	if err != nil {
		return nil, err
	}
	return b.Open(ctx, spec)
}

func (d *Dispatcher) Exists(ctx context.Context, spec *Specifier) (bool, error) {
	b, err := d.lookup(spec.Kind)
	if err != nil {
		return false, err
	}
	return b.Exists(ctx, spec)
}

func (d *Dispatcher) IsFile(ctx context.Context, spec *Specifier) (bool, error) {
	b, err := d.lookup(spec.Kind)
	if err != nil {
		return false, err
	}
	return b.IsFile(ctx, spec)
}

func (d *Dispatcher) IsDirectory(ctx context.Context, spec *Specifier) (bool, error) {
	b, err := d.lookup(spec.Kind)
	if err != nil {
		return false, err
	}
	return b.IsDirectory(ctx, spec)
}

func (d *Dispatcher) IsReadable(ctx context.Context, spec *Specifier) (bool, error) {
	b, err := d.lookup(spec.Kind)
	if err != nil {
		return false, err
	}
	return b.IsReadable(ctx, spec)
}

func (d *Dispatcher) IsWritable(ctx context.Context, spec *Specifier) (bool, error) {
	b, err := d.lookup(spec.Kind)
	if err != nil {
		return false, err
	}
	return b.IsWritable(ctx, spec)
}

func (d *Dispatcher) Rename(ctx context.Context, spec *Specifier, newPath string) error {
	b, err := d.lookup(spec.Kind)
	if err != nil {
		return err
	}
	return b.Rename(ctx, spec, newPath)
}

func (d *Dispatcher) MakeDirectory(ctx context.Context, spec *Specifier) error {
	b, err := d.lookup(spec.Kind)
	if err != nil {
		return err
	}
	return b.MakeDirectory(ctx, spec)
}

// PruneDirectories is idempotent: calling it twice yields the same set
// of surviving directories. That property is the backend implementation's
// responsibility (it must not error on an already-pruned tree); the
// dispatcher only routes.
func (d *Dispatcher) PruneDirectories(ctx context.Context, spec *Specifier) error {
	b, err := d.lookup(spec.Kind)
	if err != nil {
		return err
	}
	return b.PruneDirectories(ctx, spec)
}

func (d *Dispatcher) Delete(ctx context.Context, spec *Specifier) error {
	b, err := d.lookup(spec.Kind)
	if err != nil {
		return err
	}
	return b.Delete(ctx, spec)
}

func (d *Dispatcher) GetFileInfo(ctx context.Context, spec *Specifier) (FileInfo, error) {
	b, err := d.lookup(spec.Kind)
	if err != nil {
		return FileInfo{}, err
	}
	return b.GetFileInfo(ctx, spec)
}

func (d *Dispatcher) OpenDirectoryList(ctx context.Context, spec *Specifier) (DirLister, error) {
	b, err := d.lookup(spec.Kind)
	if err != nil {
		return nil, err
	}
	return b.OpenDirectoryList(ctx, spec)
}

func (d *Dispatcher) PreProcess(ctx context.Context, spec *Specifier) error {
	b, err := d.lookup(spec.Kind)
	if err != nil {
		return err
	}
	return b.PreProcess(ctx, spec)
}

func (d *Dispatcher) PostProcess(ctx context.Context, spec *Specifier) error {
	b, err := d.lookup(spec.Kind)
	if err != nil {
		return err
	}
	return b.PostProcess(ctx, spec)
}

func (d *Dispatcher) TransferFromFile(ctx context.Context, spec *Specifier, localPath string) error {
	b, err := d.lookup(spec.Kind)
	if err != nil {
		return err
	}
	return b.TransferFromFile(ctx, spec, localPath)
}

func (d *Dispatcher) CopyToLocal(ctx context.Context, spec *Specifier, localPath string) error {
	b, err := d.lookup(spec.Kind)
	if err != nil {
		return err
	}
	return b.CopyToLocal(ctx, spec, localPath)
}

func (d *Dispatcher) ForAll(ctx context.Context, spec *Specifier, visit func(FileInfo) error) error {
	b, err := d.lookup(spec.Kind)
	if err != nil {
		return err
	}
	return b.ForAll(ctx, spec, visit)
}

// VolumeOpener adapts the Dispatcher into an archive.WriteVolumeOpener/
// ReadVolumeOpener pair for one archive session, applying the part-name
// template (baseName, baseName.2, baseName.3, ...).
type VolumeOpener struct {
	Disp   *Dispatcher
	Base   *Specifier
	Policy CreatePolicy
	Ctx    context.Context
}

// PartSpecifier returns a copy of o.Base with its Path rewritten to the
// part-ordinal naming template: part 0 keeps the base path; part N>0
// appends ".N+1", so a.bar's second part lands at a.bar.2.
func (o *VolumeOpener) PartSpecifier(ordinal int) *Specifier {
	cp := *o.Base
	if ordinal > 0 {
		cp.Path = o.Base.Path + "." + strconv.Itoa(ordinal+1)
	}
	return &cp
}

// OpenForWrite opens (creating) the part at ordinal and wraps it as an
// io.WriteCloser, running PreProcess first so it happens before any
// write of that volume.
func (o *VolumeOpener) OpenForWrite(ordinal int) (handleWriteCloser, error) {
	spec := o.PartSpecifier(ordinal)
	if err := o.Disp.PreProcess(o.Ctx, spec); err != nil {
		return handleWriteCloser{}, err
	}
	h, err := o.Disp.Create(o.Ctx, spec, o.Policy)
	if err != nil {
		return handleWriteCloser{}, err
	}
	return handleWriteCloser{h: h, disp: o.Disp, ctx: o.Ctx, spec: spec}, nil
}

// OpenForRead opens the part at ordinal for reading. Returns
// barerr.FileNotFound wrapped so callers can detect "no such part" and
// translate it to archive.ErrNoMorePart.
func (o *VolumeOpener) OpenForRead(ordinal int) (Handle, error) {
	spec := o.PartSpecifier(ordinal)
	return o.Disp.Open(o.Ctx, spec)
}

// handleWriteCloser adapts a Handle into a plain io.WriteCloser for the
// archive engine's WriteVolumeOpener, running the backend's PostProcess
// (burn pipeline, rotation, etc.) on Close.
type handleWriteCloser struct {
	h    Handle
	disp *Dispatcher
	ctx  context.Context
	spec *Specifier
}

func (h handleWriteCloser) Write(p []byte) (int, error) { return h.h.Write(p) }

func (h handleWriteCloser) Close() error {
	if err := h.h.Close(); err != nil {
		return err
	}
	return h.disp.PostProcess(h.ctx, h.spec)
}

// WriteVolumeOpener adapts o into the function type archive.Create expects.
func (o *VolumeOpener) WriteVolumeOpener() archive.WriteVolumeOpener {
	return func(ordinal int) (io.WriteCloser, error) {
		return o.OpenForWrite(ordinal)
	}
}

// ReadVolumeOpener adapts o into the function type archive.Open expects,
// translating a missing-part error into archive.ErrNoMorePart.
func (o *VolumeOpener) ReadVolumeOpener() archive.ReadVolumeOpener {
	return func(ordinal int) (io.ReadCloser, error) {
		h, err := o.OpenForRead(ordinal)
		if err != nil {
			var notFound *barerr.FileNotFound
			if errors.As(err, &notFound) {
				return nil, errors.Join(err, archive.ErrNoMorePart)
			}
			return nil, err
		}
		return handleReadCloser{h}, nil
	}
}

// handleReadCloser adapts a Handle to a plain io.ReadCloser.
type handleReadCloser struct{ h Handle }

func (h handleReadCloser) Read(p []byte) (int, error) { return h.h.Read(p) }
func (h handleReadCloser) Close() error               { return h.h.Close() }
