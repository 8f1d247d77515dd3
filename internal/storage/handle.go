package storage

import (
	"context"
	"io"
	"time"
)

// CreatePolicy selects the collision behavior for Backend.Create when the
// target already exists: refuse, append, overwrite, or pick a fresh name.
type CreatePolicy int

const (
	PolicyStop CreatePolicy = iota
	PolicyAppend
	PolicyOverwrite
	PolicyRenameOnConflict
)

// Direction distinguishes a read-session handle from a write-session one.
type Direction int

const (
	DirectionRead Direction = iota
	DirectionWrite
)

// FileInfo is the backend-agnostic answer to get-file-info / directory
// listing, narrow enough that every backend (including the FTP three-
// dialect listing parser) can populate it without leaking OS-specific
// stat shapes.
type FileInfo struct {
	Name    string
	Size    int64
	ModTime time.Time
	IsDir   bool
	Mode    uint32
}

// Handle is the open archive part at one backend: direction, current byte
// index, size where known, and the read/write/seek surface the archive
// engine's WriteVolumeOpener/ReadVolumeOpener close over. Every backend's
// concrete handle type implements this without exposing its own session
// fields to the dispatcher.
type Handle interface {
	io.Reader
	io.Writer
	io.Closer

	// Seek repositions the handle. Protocols without native seek
	// implement this as a restart-at-offset.
	Seek(ctx context.Context, offset int64, whence int) (int64, error)
	// Tell reports the current byte index.
	Tell() (int64, error)
	// Size reports the total size and whether it is known; only some
	// backend/direction combinations learn the size at open time.
	Size() (size int64, known bool)

	Direction() Direction
	IsReadable() bool
	IsWritable() bool
}

// DirLister iterates one directory listing (open-directory-list /
// read-directory-list as a single Go-idiomatic iterator rather than two
// separate dispatcher calls).
type DirLister interface {
	// Next returns the next entry, or io.EOF when the listing is exhausted.
	Next() (FileInfo, error)
	Close() error
}

// Backend is the capability set one storage kind implements; the
// dispatcher routes each operation to the Backend registered for the
// specifier's Kind. A backend that cannot perform an operation returns
// barerr.NotSupported rather than guessing at stub semantics.
type Backend interface {
	Kind() Kind

	Create(ctx context.Context, spec *Specifier, policy CreatePolicy) (Handle, error)
	Open(ctx context.Context, spec *Specifier) (Handle, error)

	Exists(ctx context.Context, spec *Specifier) (bool, error)
	IsFile(ctx context.Context, spec *Specifier) (bool, error)
	IsDirectory(ctx context.Context, spec *Specifier) (bool, error)
	IsReadable(ctx context.Context, spec *Specifier) (bool, error)
	IsWritable(ctx context.Context, spec *Specifier) (bool, error)

	Rename(ctx context.Context, spec *Specifier, newPath string) error
	MakeDirectory(ctx context.Context, spec *Specifier) error
	PruneDirectories(ctx context.Context, spec *Specifier) error
	Delete(ctx context.Context, spec *Specifier) error

	GetFileInfo(ctx context.Context, spec *Specifier) (FileInfo, error)
	OpenDirectoryList(ctx context.Context, spec *Specifier) (DirLister, error)

	// PreProcess/PostProcess bracket one volume's writes. Filesystem and
	// most network backends treat
	// these as no-ops; volumed backends (optical, device) run their staged
	// post-process pipeline here.
	PreProcess(ctx context.Context, spec *Specifier) error
	PostProcess(ctx context.Context, spec *Specifier) error

	// TransferFromFile streams localPath's contents directly to spec,
	// bypassing the generic Handle.Write path when a backend has a more
	// efficient native transfer primitive (e.g. SFTP's copy, SMB's
	// WriteFrom). CopyToLocal is its mirror for reads.
	TransferFromFile(ctx context.Context, spec *Specifier, localPath string) error
	CopyToLocal(ctx context.Context, spec *Specifier, localPath string) error

	// ForAll enumerates every archive part/file reachable under spec,
	// invoking visit once per entry. Used by restore tooling to discover
	// all parts of a multi-part archive without a priori knowledge of the
	// part-naming template.
	ForAll(ctx context.Context, spec *Specifier, visit func(FileInfo) error) error
}

// Unsupported embeds into a concrete backend to make every operation
// default to barerr.NotSupported; the backend then overrides only the
// operations it actually implements. This keeps each backend file short
// and makes "not implemented" the explicit, visible default rather than a
// missing-method compile error.
type Unsupported struct{ kind Kind }

func NewUnsupported(kind Kind) Unsupported { return Unsupported{kind: kind} }

func (u Unsupported) Kind() Kind { return u.kind }

func (u Unsupported) notSupported(op string) error {
	return notSupportedErr(u.kind, op)
}

func (u Unsupported) Create(ctx context.Context, spec *Specifier, policy CreatePolicy) (Handle, error) {
	return nil, u.notSupported("create")
}
func (u Unsupported) Open(ctx context.Context, spec *Specifier) (Handle, error) {
	return nil, u.notSupported("open")
}
func (u Unsupported) Exists(ctx context.Context, spec *Specifier) (bool, error) {
	return false, u.notSupported("exists")
}
func (u Unsupported) IsFile(ctx context.Context, spec *Specifier) (bool, error) {
	return false, u.notSupported("is-file")
}
func (u Unsupported) IsDirectory(ctx context.Context, spec *Specifier) (bool, error) {
	return false, u.notSupported("is-directory")
}
func (u Unsupported) IsReadable(ctx context.Context, spec *Specifier) (bool, error) {
	return false, u.notSupported("is-readable")
}
func (u Unsupported) IsWritable(ctx context.Context, spec *Specifier) (bool, error) {
	return false, u.notSupported("is-writable")
}
func (u Unsupported) Rename(ctx context.Context, spec *Specifier, newPath string) error {
	return u.notSupported("rename")
}
func (u Unsupported) MakeDirectory(ctx context.Context, spec *Specifier) error {
	return u.notSupported("make-directory")
}
func (u Unsupported) PruneDirectories(ctx context.Context, spec *Specifier) error {
	return u.notSupported("prune-directories")
}
func (u Unsupported) Delete(ctx context.Context, spec *Specifier) error {
	return u.notSupported("delete")
}
func (u Unsupported) GetFileInfo(ctx context.Context, spec *Specifier) (FileInfo, error) {
	return FileInfo{}, u.notSupported("get-file-info")
}
func (u Unsupported) OpenDirectoryList(ctx context.Context, spec *Specifier) (DirLister, error) {
	return nil, u.notSupported("open-directory-list")
}
func (u Unsupported) PreProcess(ctx context.Context, spec *Specifier) error {
	return nil // no-op default, not an error: most backends need no pre-process step.
}
func (u Unsupported) PostProcess(ctx context.Context, spec *Specifier) error {
	return nil // no-op default; volumed backends override.
}
func (u Unsupported) TransferFromFile(ctx context.Context, spec *Specifier, localPath string) error {
	return u.notSupported("transfer-from-file")
}
func (u Unsupported) CopyToLocal(ctx context.Context, spec *Specifier, localPath string) error {
	return u.notSupported("copy-to-local")
}
func (u Unsupported) ForAll(ctx context.Context, spec *Specifier, visit func(FileInfo) error) error {
	return u.notSupported("for-all")
}
