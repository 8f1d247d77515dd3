package ftpback

import (
	"context"
	"fmt"
	"io"
	"path"
	"sync"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/blockvault/barc/internal/archive"
	"github.com/blockvault/barc/internal/barerr"
	"github.com/blockvault/barc/internal/storage"
)

// Backend implements storage.Backend against one FTP server. A single
// control connection is dialed and authenticated lazily on first use and
// reused across operations; network backends have no staging directory or
// volume-rotation protocol, so every method talks to the server directly.
type Backend struct {
	storage.Unsupported

	cfg Config

	mu   sync.Mutex
	conn *ftp.ServerConn
}

func New(cfg Config) *Backend {
	return &Backend{Unsupported: storage.NewUnsupported(storage.KindFTP), cfg: cfg}
}

func (b *Backend) Kind() storage.Kind { return storage.KindFTP }

// connection returns the shared control connection, dialing and
// authenticating it on first use via the netauth credential chain.
func (b *Backend) connection(ctx context.Context) (*ftp.ServerConn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn != nil {
		if err := b.conn.NoOp(); err == nil {
			return b.conn, nil
		}
		b.conn = nil
	}

	addr := fmt.Sprintf("%s:%d", b.cfg.Host, b.cfg.Port)
	conn, err := ftp.Dial(addr, ftp.DialWithTimeout(b.cfg.dialTimeout()), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, &barerr.Network{Kind: barerr.NetworkConnect, Host: b.cfg.Host, Err: err}
	}

	if b.cfg.Auth != nil {
		err = b.cfg.Auth.Authenticate(ctx, b.cfg.Host, string(storage.KindFTP), func(creds archive.HostCredentials) error {
			password := ""
			if creds.Secret != nil {
				d := creds.Secret.Deploy()
				password = d.String()
				d.Release()
			}
			return conn.Login(creds.User, password)
		})
	} else {
		err = conn.Login("anonymous", "anonymous@")
	}
	if err != nil {
		_ = conn.Quit()
		return nil, err
	}

	b.conn = conn
	return conn, nil
}

func (b *Backend) Exists(ctx context.Context, spec *storage.Specifier) (bool, error) {
	conn, err := b.connection(ctx)
	if err != nil {
		return false, err
	}
	_, err = conn.FileSize(spec.Path)
	if err != nil {
		return false, nil
	}
	return true, nil
}

func (b *Backend) GetFileInfo(ctx context.Context, spec *storage.Specifier) (storage.FileInfo, error) {
	conn, err := b.connection(ctx)
	if err != nil {
		return storage.FileInfo{}, err
	}
	size, err := conn.FileSize(spec.Path)
	if err != nil {
		return storage.FileInfo{}, &barerr.FileNotFound{Path: spec.Path}
	}
	return storage.FileInfo{Name: path.Base(spec.Path), Size: size}, nil
}

func (b *Backend) OpenDirectoryList(ctx context.Context, spec *storage.Specifier) (storage.DirLister, error) {
	conn, err := b.connection(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := conn.List(spec.Path)
	if err != nil {
		return nil, &barerr.Network{Kind: barerr.NetworkRecv, Host: b.cfg.Host, Err: err}
	}
	return &dirLister{entries: entries}, nil
}

func (b *Backend) MakeDirectory(ctx context.Context, spec *storage.Specifier) error {
	conn, err := b.connection(ctx)
	if err != nil {
		return err
	}
	if err := conn.MakeDir(spec.Path); err != nil {
		return &barerr.Network{Kind: barerr.NetworkSend, Host: b.cfg.Host, Err: err}
	}
	return nil
}

func (b *Backend) Delete(ctx context.Context, spec *storage.Specifier) error {
	conn, err := b.connection(ctx)
	if err != nil {
		return err
	}
	if err := conn.Delete(spec.Path); err != nil {
		return &barerr.Network{Kind: barerr.NetworkSend, Host: b.cfg.Host, Err: err}
	}
	return nil
}

func (b *Backend) Rename(ctx context.Context, spec *storage.Specifier, newPath string) error {
	conn, err := b.connection(ctx)
	if err != nil {
		return err
	}
	if err := conn.Rename(spec.Path, newPath); err != nil {
		return &barerr.Network{Kind: barerr.NetworkSend, Host: b.cfg.Host, Err: err}
	}
	return nil
}

// Create opens spec for writing, honoring policy. The
// returned Handle streams into the server through an io.Pipe and a
// background StorFrom/Stor call rather than buffering the whole part in
// memory.
func (b *Backend) Create(ctx context.Context, spec *storage.Specifier, policy storage.CreatePolicy) (storage.Handle, error) {
	conn, err := b.connection(ctx)
	if err != nil {
		return nil, err
	}

	targetPath := spec.Path
	var offset uint64

	switch policy {
	case storage.PolicyStop:
		if _, sizeErr := conn.FileSize(targetPath); sizeErr == nil {
			return nil, &barerr.FileExists{Path: targetPath}
		}
	case storage.PolicyAppend:
		if size, sizeErr := conn.FileSize(targetPath); sizeErr == nil {
			offset = uint64(size)
		}
	case storage.PolicyRenameOnConflict:
		if _, sizeErr := conn.FileSize(targetPath); sizeErr == nil {
			targetPath = renamedConflictPath(targetPath)
		}
	case storage.PolicyOverwrite:
		// Stor/StorFrom at offset 0 truncates server-side by convention.
	}

	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		if offset > 0 {
			done <- conn.StorFrom(targetPath, pr, offset)
		} else {
			done <- conn.Stor(targetPath, pr)
		}
	}()

	return &writeHandle{
		backend: b,
		ctx:     ctx,
		path:    targetPath,
		pw:      pw,
		done:    done,
		pos:     int64(offset),
	}, nil
}

func (b *Backend) Open(ctx context.Context, spec *storage.Specifier) (storage.Handle, error) {
	conn, err := b.connection(ctx)
	if err != nil {
		return nil, err
	}
	size, sizeErr := conn.FileSize(spec.Path)
	resp, err := conn.RetrFrom(spec.Path, 0)
	if err != nil {
		return nil, &barerr.FileNotFound{Path: spec.Path}
	}
	return &readHandle{
		backend:   b,
		ctx:       ctx,
		path:      spec.Path,
		resp:      resp,
		size:      size,
		sizeKnown: sizeErr == nil,
		buf:       make([]byte, b.cfg.readAheadBytes()),
	}, nil
}

func renamedConflictPath(p string) string {
	dir, base := path.Split(p)
	ext := path.Ext(base)
	stem := base[:len(base)-len(ext)]
	return dir + stem + "_1" + ext
}

// readHandle implements storage.Handle over one FTP RETR stream. Seek is
// implemented as restart-at-offset: it closes the current
// data connection and reissues RetrFrom at the new offset, since the FTP
// protocol has no native in-stream seek.
type readHandle struct {
	backend   *Backend
	// ctx is the owning session's context: a cancellation mid-transfer
	// preempts the bandwidth limiter's sleep instead of waiting it out.
	ctx       context.Context
	path      string
	resp      *ftp.Response
	size      int64
	sizeKnown bool
	pos       int64
	buf       []byte
}

func (h *readHandle) Read(p []byte) (int, error) {
	start := time.Now()
	n, err := h.resp.Read(p)
	h.pos += int64(n)
	if h.backend.cfg.Limiter != nil && n > 0 {
		if lerr := h.backend.cfg.Limiter.Record(h.ctx, int64(n), time.Since(start)); lerr != nil {
			return n, &barerr.Aborted{}
		}
	}
	if err != nil && err != io.EOF {
		return n, &barerr.Network{Kind: barerr.NetworkRecv, Host: h.backend.cfg.Host, Err: err}
	}
	return n, err
}

func (h *readHandle) Write(p []byte) (int, error) { return 0, &barerr.NotSupported{Kind: "ftp", Op: "write-on-read-handle"} }

func (h *readHandle) Close() error {
	return h.resp.Close()
}

func (h *readHandle) Seek(ctx context.Context, offset int64, whence int) (int64, error) {
	target := offset
	switch whence {
	case io.SeekCurrent:
		target = h.pos + offset
	case io.SeekEnd:
		if !h.sizeKnown {
			return 0, &barerr.NotSupported{Kind: "ftp", Op: "seek-from-end-unknown-size"}
		}
		target = h.size + offset
	}

	if err := h.resp.Close(); err != nil {
		return 0, &barerr.Network{Kind: barerr.NetworkSend, Host: h.backend.cfg.Host, Err: err}
	}
	conn, err := h.backend.connection(ctx)
	if err != nil {
		return 0, err
	}
	resp, err := conn.RetrFrom(h.path, uint64(target))
	if err != nil {
		return 0, &barerr.Network{Kind: barerr.NetworkRecv, Host: h.backend.cfg.Host, Err: err}
	}
	h.resp = resp
	h.pos = target
	return target, nil
}

func (h *readHandle) Tell() (int64, error)         { return h.pos, nil }
func (h *readHandle) Size() (int64, bool)          { return h.size, h.sizeKnown }
func (h *readHandle) Direction() storage.Direction { return storage.DirectionRead }
func (h *readHandle) IsReadable() bool             { return true }
func (h *readHandle) IsWritable() bool             { return false }

// writeHandle implements storage.Handle over one FTP STOR stream, piping
// writes to a background Stor/StorFrom call since jlaffaye/ftp's upload
// API takes a blocking io.Reader rather than an incremental write call.
type writeHandle struct {
	backend *Backend
	ctx     context.Context
	path    string
	pw      *io.PipeWriter
	done    chan error
	pos     int64
	closed  bool
}

func (h *writeHandle) Read(p []byte) (int, error) {
	return 0, &barerr.NotSupported{Kind: "ftp", Op: "read-on-write-handle"}
}

func (h *writeHandle) Write(p []byte) (int, error) {
	start := time.Now()
	n, err := h.pw.Write(p)
	h.pos += int64(n)
	if h.backend.cfg.Limiter != nil && n > 0 {
		if lerr := h.backend.cfg.Limiter.Record(h.ctx, int64(n), time.Since(start)); lerr != nil {
			return n, &barerr.Aborted{}
		}
	}
	if err != nil {
		return n, &barerr.Network{Kind: barerr.NetworkSend, Host: h.backend.cfg.Host, Err: err}
	}
	return n, nil
}

func (h *writeHandle) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true
	if err := h.pw.Close(); err != nil {
		return &barerr.Network{Kind: barerr.NetworkSend, Host: h.backend.cfg.Host, Err: err}
	}
	if err := <-h.done; err != nil {
		return &barerr.Network{Kind: barerr.NetworkSend, Host: h.backend.cfg.Host, Err: err}
	}
	return nil
}

func (h *writeHandle) Seek(ctx context.Context, offset int64, whence int) (int64, error) {
	return 0, &barerr.NotSupported{Kind: "ftp", Op: "seek-on-write-handle"}
}

func (h *writeHandle) Tell() (int64, error)         { return h.pos, nil }
func (h *writeHandle) Size() (int64, bool)          { return 0, false }
func (h *writeHandle) Direction() storage.Direction { return storage.DirectionWrite }
func (h *writeHandle) IsReadable() bool             { return false }
func (h *writeHandle) IsWritable() bool             { return true }
