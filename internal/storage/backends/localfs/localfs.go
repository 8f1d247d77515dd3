// Package localfs implements the filesystem storage backend: direct
// reads and writes against the local filesystem, with create/append/
// overwrite/rename-on-conflict policies.
package localfs

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/blockvault/barc/internal/barerr"
	"github.com/blockvault/barc/internal/pathutil"
	"github.com/blockvault/barc/internal/storage"
)

// Backend implements storage.Backend directly against os.* calls; writes
// are unbuffered and synchronous.
type Backend struct{}

func New() *Backend { return &Backend{} }

func (b *Backend) Kind() storage.Kind { return storage.KindFilesystem }

func resolvedPath(spec *storage.Specifier) (string, error) {
	p, err := pathutil.ResolveAbsolutePath(spec.Path)
	if err != nil {
		return "", &barerr.Io{Op: "resolve-path", Path: spec.Path, Err: err}
	}
	return p, nil
}

func (b *Backend) Create(ctx context.Context, spec *storage.Specifier, policy storage.CreatePolicy) (storage.Handle, error) {
	path, err := resolvedPath(spec)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, &barerr.Io{Op: "mkdir-parent", Path: path, Err: err}
	}

	flags := os.O_RDWR | os.O_CREATE
	switch policy {
	case storage.PolicyStop:
		if _, statErr := os.Stat(path); statErr == nil {
			return nil, &barerr.FileExists{Path: path}
		}
		flags |= os.O_TRUNC
	case storage.PolicyAppend:
		flags |= os.O_APPEND
	case storage.PolicyOverwrite:
		flags |= os.O_TRUNC
	case storage.PolicyRenameOnConflict:
		path = renameOnConflict(path)
		flags |= os.O_TRUNC
	}

	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, &barerr.Io{Op: "create", Path: path, Err: err}
	}
	pos, _ := f.Seek(0, io.SeekCurrent)
	return &handle{f: f, direction: storage.DirectionWrite, pos: pos}, nil
}

func renameOnConflict(path string) string {
	if _, err := os.Stat(path); err != nil {
		return path
	}
	ext := filepath.Ext(path)
	base := path[:len(path)-len(ext)]
	for i := 1; ; i++ {
		candidate := base + "-" + itoa(i) + ext
		if _, err := os.Stat(candidate); err != nil {
			return candidate
		}
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func (b *Backend) Open(ctx context.Context, spec *storage.Specifier) (storage.Handle, error) {
	path, err := resolvedPath(spec)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &barerr.FileNotFound{Path: path}
		}
		return nil, &barerr.Io{Op: "open", Path: path, Err: err}
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, &barerr.Io{Op: "stat", Path: path, Err: err}
	}
	return &handle{f: f, direction: storage.DirectionRead, size: info.Size(), sizeKnown: true}, nil
}

func (b *Backend) Exists(ctx context.Context, spec *storage.Specifier) (bool, error) {
	path, err := resolvedPath(spec)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, &barerr.Io{Op: "stat", Path: path, Err: err}
}

func (b *Backend) IsFile(ctx context.Context, spec *storage.Specifier) (bool, error) {
	info, err := b.statInfo(spec)
	if err != nil {
		return false, err
	}
	return !info.IsDir(), nil
}

func (b *Backend) IsDirectory(ctx context.Context, spec *storage.Specifier) (bool, error) {
	info, err := b.statInfo(spec)
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}

func (b *Backend) statInfo(spec *storage.Specifier) (fs.FileInfo, error) {
	path, err := resolvedPath(spec)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &barerr.FileNotFound{Path: path}
		}
		return nil, &barerr.Io{Op: "stat", Path: path, Err: err}
	}
	return info, nil
}

func (b *Backend) IsReadable(ctx context.Context, spec *storage.Specifier) (bool, error) {
	path, err := resolvedPath(spec)
	if err != nil {
		return false, err
	}
	f, err := os.Open(path)
	if err != nil {
		return false, nil
	}
	f.Close()
	return true, nil
}

// IsWritable probes writability by attempting to create and immediately
// remove a throwaway file in the target's parent directory, since os has
// no portable "would this write succeed" query short of attempting one.
func (b *Backend) IsWritable(ctx context.Context, spec *storage.Specifier) (bool, error) {
	path, err := resolvedPath(spec)
	if err != nil {
		return false, err
	}
	dir := filepath.Dir(path)
	probe := filepath.Join(dir, ".barc-write-probe")
	f, err := os.OpenFile(probe, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return false, nil
	}
	f.Close()
	os.Remove(probe)
	return true, nil
}

func (b *Backend) Rename(ctx context.Context, spec *storage.Specifier, newPath string) error {
	path, err := resolvedPath(spec)
	if err != nil {
		return err
	}
	target, err := pathutil.ResolveAbsolutePath(newPath)
	if err != nil {
		return &barerr.Io{Op: "resolve-path", Path: newPath, Err: err}
	}
	if err := os.Rename(path, target); err != nil {
		return &barerr.Io{Op: "rename", Path: path, Err: err}
	}
	return nil
}

func (b *Backend) MakeDirectory(ctx context.Context, spec *storage.Specifier) error {
	path, err := resolvedPath(spec)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return &barerr.Io{Op: "mkdir", Path: path, Err: err}
	}
	return nil
}

// PruneDirectories walks spec's path bottom-up, removing every directory
// that is (transitively) empty. Idempotent: a second call finds nothing
// left to remove and succeeds silently.
func (b *Backend) PruneDirectories(ctx context.Context, spec *storage.Specifier) error {
	path, err := resolvedPath(spec)
	if err != nil {
		return err
	}
	return pruneEmptyDirs(path)
}

func pruneEmptyDirs(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return &barerr.Io{Op: "readdir", Path: dir, Err: err}
	}
	for _, e := range entries {
		if e.IsDir() {
			if err := pruneEmptyDirs(filepath.Join(dir, e.Name())); err != nil {
				return err
			}
		}
	}
	entries, err = os.ReadDir(dir)
	if err != nil {
		return nil
	}
	if len(entries) == 0 {
		_ = os.Remove(dir)
	}
	return nil
}

func (b *Backend) Delete(ctx context.Context, spec *storage.Specifier) error {
	path, err := resolvedPath(spec)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(path); err != nil {
		return &barerr.Io{Op: "delete", Path: path, Err: err}
	}
	return nil
}

func (b *Backend) GetFileInfo(ctx context.Context, spec *storage.Specifier) (storage.FileInfo, error) {
	info, err := b.statInfo(spec)
	if err != nil {
		return storage.FileInfo{}, err
	}
	return storage.FileInfo{
		Name:    info.Name(),
		Size:    info.Size(),
		ModTime: info.ModTime(),
		IsDir:   info.IsDir(),
		Mode:    uint32(info.Mode().Perm()),
	}, nil
}

type dirLister struct {
	entries []fs.DirEntry
	idx     int
}

func (d *dirLister) Next() (storage.FileInfo, error) {
	if d.idx >= len(d.entries) {
		return storage.FileInfo{}, io.EOF
	}
	e := d.entries[d.idx]
	d.idx++
	info, err := e.Info()
	if err != nil {
		return storage.FileInfo{}, &barerr.Io{Op: "stat", Path: e.Name(), Err: err}
	}
	return storage.FileInfo{
		Name:    info.Name(),
		Size:    info.Size(),
		ModTime: info.ModTime(),
		IsDir:   info.IsDir(),
		Mode:    uint32(info.Mode().Perm()),
	}, nil
}

func (d *dirLister) Close() error { return nil }

func (b *Backend) OpenDirectoryList(ctx context.Context, spec *storage.Specifier) (storage.DirLister, error) {
	path, err := resolvedPath(spec)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, &barerr.Io{Op: "readdir", Path: path, Err: err}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	return &dirLister{entries: entries}, nil
}

// PreProcess/PostProcess are no-ops for the filesystem backend: writes
// are direct, there is no staged volume pipeline.
func (b *Backend) PreProcess(ctx context.Context, spec *storage.Specifier) error  { return nil }
func (b *Backend) PostProcess(ctx context.Context, spec *storage.Specifier) error { return nil }

func (b *Backend) TransferFromFile(ctx context.Context, spec *storage.Specifier, localPath string) error {
	src, err := os.Open(localPath)
	if err != nil {
		return &barerr.Io{Op: "open-local", Path: localPath, Err: err}
	}
	defer src.Close()

	h, err := b.Create(ctx, spec, storage.PolicyOverwrite)
	if err != nil {
		return err
	}
	defer h.Close()
	if _, err := io.Copy(h, src); err != nil {
		return &barerr.Io{Op: "transfer-from-file", Path: localPath, Err: err}
	}
	return nil
}

func (b *Backend) CopyToLocal(ctx context.Context, spec *storage.Specifier, localPath string) error {
	h, err := b.Open(ctx, spec)
	if err != nil {
		return err
	}
	defer h.Close()

	dst, err := os.Create(localPath)
	if err != nil {
		return &barerr.Io{Op: "create-local", Path: localPath, Err: err}
	}
	defer dst.Close()
	if _, err := io.Copy(dst, h); err != nil {
		return &barerr.Io{Op: "copy-to-local", Path: localPath, Err: err}
	}
	return nil
}

// ForAll enumerates spec's directory recursively (or a single file if spec
// names one), invoking visit once per regular file.
func (b *Backend) ForAll(ctx context.Context, spec *storage.Specifier, visit func(storage.FileInfo) error) error {
	path, err := resolvedPath(spec)
	if err != nil {
		return err
	}
	return filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return &barerr.Io{Op: "walk", Path: p, Err: err}
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return &barerr.Io{Op: "stat", Path: p, Err: err}
		}
		return visit(storage.FileInfo{
			Name:    p,
			Size:    info.Size(),
			ModTime: info.ModTime(),
			IsDir:   false,
			Mode:    uint32(info.Mode().Perm()),
		})
	})
}

// handle implements storage.Handle over an *os.File.
type handle struct {
	f         *os.File
	direction storage.Direction
	pos       int64
	size      int64
	sizeKnown bool
}

func (h *handle) Read(p []byte) (int, error) {
	n, err := h.f.Read(p)
	h.pos += int64(n)
	return n, err
}

func (h *handle) Write(p []byte) (int, error) {
	n, err := h.f.Write(p)
	h.pos += int64(n)
	return n, err
}

func (h *handle) Close() error { return h.f.Close() }

func (h *handle) Seek(ctx context.Context, offset int64, whence int) (int64, error) {
	pos, err := h.f.Seek(offset, whence)
	if err != nil {
		return 0, &barerr.Io{Op: "seek", Err: err}
	}
	h.pos = pos
	return pos, nil
}

func (h *handle) Tell() (int64, error) { return h.pos, nil }

func (h *handle) Size() (int64, bool) { return h.size, h.sizeKnown }

func (h *handle) Direction() storage.Direction { return h.direction }
func (h *handle) IsReadable() bool             { return h.direction == storage.DirectionRead }
func (h *handle) IsWritable() bool             { return h.direction == storage.DirectionWrite }
