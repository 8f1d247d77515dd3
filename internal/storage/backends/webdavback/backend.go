package webdavback

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/blockvault/barc/internal/archive"
	"github.com/blockvault/barc/internal/barerr"
	"github.com/blockvault/barc/internal/storage"
)

// Backend implements storage.Backend against one WebDAV(s) server. Unlike
// FTP/SSH, WebDAV carries credentials on every request rather than once
// per connection, so this backend resolves credentials once via the
// netauth chain (on first use) and replays the same user/password on
// every subsequent request rather than re-running the chain each time.
type Backend struct {
	storage.Unsupported

	cfg    Config
	client *retryablehttp.Client

	mu   sync.Mutex
	user string
	pass string
	auth bool
}

func New(cfg Config) *Backend {
	return &Backend{
		Unsupported: storage.NewUnsupported(cfg.Scheme),
		cfg:         cfg,
		client:      cfg.newHTTPClient(),
	}
}

func (b *Backend) Kind() storage.Kind { return b.cfg.Scheme }

func (b *Backend) url(p string) string {
	return b.cfg.baseURL() + "/" + strings.TrimLeft(p, "/")
}

// credentials resolves and caches the user/password this backend attaches
// to every request, running the netauth chain's "attempt" as a cheap
// PROPFIND against the server root.
func (b *Backend) credentials(ctx context.Context) (string, string, error) {
	b.mu.Lock()
	if b.auth {
		user, pass := b.user, b.pass
		b.mu.Unlock()
		return user, pass, nil
	}
	b.mu.Unlock()

	if b.cfg.Auth == nil {
		return "", "", nil
	}

	var user, pass string
	err := b.cfg.Auth.Authenticate(ctx, b.cfg.Host, string(b.cfg.Scheme), func(creds archive.HostCredentials) error {
		password := ""
		if creds.Secret != nil {
			d := creds.Secret.Deploy()
			password = d.String()
			d.Release()
		}
		req, reqErr := b.newRequest(ctx, "PROPFIND", "/", nil, creds.User, password)
		if reqErr != nil {
			return reqErr
		}
		req.Header.Set("Depth", "0")
		resp, doErr := b.client.Do(req)
		if doErr != nil {
			return doErr
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return fmt.Errorf("webdav auth rejected: %s", resp.Status)
		}
		user, pass = creds.User, password
		return nil
	})
	if err != nil {
		return "", "", err
	}

	b.mu.Lock()
	b.user, b.pass, b.auth = user, pass, true
	b.mu.Unlock()
	return user, pass, nil
}

func (b *Backend) newRequest(ctx context.Context, method, path string, body io.Reader, user, pass string) (*retryablehttp.Request, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, method, b.url(path), body)
	if err != nil {
		return nil, &barerr.Network{Kind: barerr.NetworkSend, Host: b.cfg.Host, Err: err}
	}
	if user != "" || pass != "" {
		req.SetBasicAuth(user, pass)
	}
	return req, nil
}

func (b *Backend) do(ctx context.Context, method, path string, body io.Reader, headers map[string]string) (*http.Response, error) {
	user, pass, err := b.credentials(ctx)
	if err != nil {
		return nil, &barerr.Network{Kind: barerr.NetworkAuth, Host: b.cfg.Host, Err: err}
	}
	req, err := b.newRequest(ctx, method, path, body, user, pass)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, &barerr.Network{Kind: barerr.NetworkSend, Host: b.cfg.Host, Err: err}
	}
	return resp, nil
}

func (b *Backend) Exists(ctx context.Context, spec *storage.Specifier) (bool, error) {
	resp, err := b.do(ctx, "PROPFIND", spec.Path, nil, map[string]string{"Depth": "0"})
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	return resp.StatusCode < 400, nil
}

func (b *Backend) GetFileInfo(ctx context.Context, spec *storage.Specifier) (storage.FileInfo, error) {
	resp, err := b.do(ctx, "PROPFIND", spec.Path, nil, map[string]string{"Depth": "0"})
	if err != nil {
		return storage.FileInfo{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return storage.FileInfo{}, &barerr.FileNotFound{Path: spec.Path}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return storage.FileInfo{}, &barerr.Network{Kind: barerr.NetworkRecv, Host: b.cfg.Host, Err: err}
	}
	entries, err := parseMultistatus(body, spec.Path)
	if err != nil || len(entries) == 0 {
		return storage.FileInfo{}, &barerr.FileNotFound{Path: spec.Path}
	}
	return entries[0], nil
}

func (b *Backend) OpenDirectoryList(ctx context.Context, spec *storage.Specifier) (storage.DirLister, error) {
	resp, err := b.do(ctx, "PROPFIND", spec.Path, nil, map[string]string{"Depth": "1"})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, &barerr.FileNotFound{Path: spec.Path}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &barerr.Network{Kind: barerr.NetworkRecv, Host: b.cfg.Host, Err: err}
	}
	entries, err := parseMultistatus(body, spec.Path)
	if err != nil {
		return nil, &barerr.Network{Kind: barerr.NetworkRecv, Host: b.cfg.Host, Err: err}
	}
	return &dirLister{entries: entries}, nil
}

func (b *Backend) MakeDirectory(ctx context.Context, spec *storage.Specifier) error {
	resp, err := b.do(ctx, "MKCOL", spec.Path, nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusMethodNotAllowed {
		return &barerr.Io{Op: "webdav-mkcol", Path: spec.Path, Err: fmt.Errorf("%s", resp.Status)}
	}
	return nil
}

func (b *Backend) Delete(ctx context.Context, spec *storage.Specifier) error {
	resp, err := b.do(ctx, http.MethodDelete, spec.Path, nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return &barerr.Io{Op: "webdav-delete", Path: spec.Path, Err: fmt.Errorf("%s", resp.Status)}
	}
	return nil
}

func (b *Backend) Rename(ctx context.Context, spec *storage.Specifier, newPath string) error {
	resp, err := b.do(ctx, "MOVE", spec.Path, nil, map[string]string{
		"Destination": b.url(newPath),
		"Overwrite":   "T",
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return &barerr.Io{Op: "webdav-move", Path: spec.Path, Err: fmt.Errorf("%s", resp.Status)}
	}
	return nil
}

func (b *Backend) Create(ctx context.Context, spec *storage.Specifier, policy storage.CreatePolicy) (storage.Handle, error) {
	targetPath := spec.Path
	switch policy {
	case storage.PolicyStop:
		if exists, _ := b.Exists(ctx, spec); exists {
			return nil, &barerr.FileExists{Path: targetPath}
		}
	case storage.PolicyRenameOnConflict:
		if exists, _ := b.Exists(ctx, spec); exists {
			targetPath = renamedConflictPath(targetPath)
		}
	case storage.PolicyAppend:
		// WebDAV PUT has no append primitive; buffer existing content and
		// prepend it, since every PUT replaces the whole resource.
	}
	return &writeHandle{backend: b, ctx: ctx, path: targetPath, append: policy == storage.PolicyAppend, buf: &bytes.Buffer{}}, nil
}

func (b *Backend) Open(ctx context.Context, spec *storage.Specifier) (storage.Handle, error) {
	info, infoErr := b.GetFileInfo(ctx, spec)
	resp, err := b.do(ctx, http.MethodGet, spec.Path, nil, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, &barerr.FileNotFound{Path: spec.Path}
	}
	return &readHandle{backend: b, ctx: ctx, path: spec.Path, body: resp.Body, size: info.Size, sizeKnown: infoErr == nil}, nil
}

func renamedConflictPath(p string) string {
	dir, base := splitPath(p)
	ext := extOf(base)
	stem := base[:len(base)-len(ext)]
	return dir + stem + "_1" + ext
}

func splitPath(p string) (dir, base string) {
	if idx := strings.LastIndex(p, "/"); idx >= 0 {
		return p[:idx+1], p[idx+1:]
	}
	return "", p
}

func extOf(base string) string {
	if idx := strings.LastIndex(base, "."); idx > 0 {
		return base[idx:]
	}
	return ""
}

// readHandle streams a GET response body; WebDAV's Range header gives it
// real seek support (unlike FTP's restart-at-offset), so Seek reissues the
// GET with a Range header rather than buffering.
type readHandle struct {
	backend   *Backend
	// ctx is the owning session's context: a cancellation mid-transfer
	// preempts the bandwidth limiter's sleep instead of waiting it out.
	ctx       context.Context
	path      string
	body      io.ReadCloser
	size      int64
	sizeKnown bool
	pos       int64
}

func (h *readHandle) Read(p []byte) (int, error) {
	start := time.Now()
	n, err := h.body.Read(p)
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

func (h *readHandle) Write(p []byte) (int, error) {
	return 0, &barerr.NotSupported{Kind: "webdav", Op: "write-on-read-handle"}
}

func (h *readHandle) Close() error { return h.body.Close() }

func (h *readHandle) Seek(ctx context.Context, offset int64, whence int) (int64, error) {
	target := offset
	switch whence {
	case io.SeekCurrent:
		target = h.pos + offset
	case io.SeekEnd:
		if !h.sizeKnown {
			return 0, &barerr.NotSupported{Kind: "webdav", Op: "seek-from-end-unknown-size"}
		}
		target = h.size + offset
	}
	h.body.Close()
	resp, err := h.backend.do(ctx, http.MethodGet, h.path, nil, map[string]string{
		"Range": fmt.Sprintf("bytes=%d-", target),
	})
	if err != nil {
		return 0, err
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return 0, &barerr.Network{Kind: barerr.NetworkRecv, Host: h.backend.cfg.Host, Err: fmt.Errorf("%s", resp.Status)}
	}
	h.body = resp.Body
	h.pos = target
	return target, nil
}

func (h *readHandle) Tell() (int64, error)         { return h.pos, nil }
func (h *readHandle) Size() (int64, bool)          { return h.size, h.sizeKnown }
func (h *readHandle) Direction() storage.Direction { return storage.DirectionRead }
func (h *readHandle) IsReadable() bool             { return true }
func (h *readHandle) IsWritable() bool             { return false }

// writeHandle buffers the whole resource body before a single PUT on
// Close, since WebDAV's PUT is a whole-resource replace with no
// incremental append/write primitive.
type writeHandle struct {
	backend *Backend
	ctx     context.Context
	path    string
	append  bool
	buf     *bytes.Buffer
	pos     int64
}

func (h *writeHandle) Read(p []byte) (int, error) {
	return 0, &barerr.NotSupported{Kind: "webdav", Op: "read-on-write-handle"}
}

func (h *writeHandle) Write(p []byte) (int, error) {
	n, _ := h.buf.Write(p)
	h.pos += int64(n)
	return n, nil
}

func (h *writeHandle) Close() error {
	ctx := h.ctx
	if h.append {
		if existing, err := h.backend.do(ctx, http.MethodGet, h.path, nil, nil); err == nil && existing.StatusCode < 400 {
			prefix, _ := io.ReadAll(existing.Body)
			existing.Body.Close()
			h.buf = bytes.NewBuffer(append(prefix, h.buf.Bytes()...))
		}
	}

	resp, err := h.backend.do(ctx, http.MethodPut, h.path, bytes.NewReader(h.buf.Bytes()), map[string]string{
		"Content-Length": strconv.Itoa(h.buf.Len()),
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return &barerr.Io{Op: "webdav-put", Path: h.path, Err: fmt.Errorf("%s", resp.Status)}
	}
	return nil
}

func (h *writeHandle) Seek(ctx context.Context, offset int64, whence int) (int64, error) {
	return 0, &barerr.NotSupported{Kind: "webdav", Op: "seek-on-write-handle"}
}

func (h *writeHandle) Tell() (int64, error)         { return h.pos, nil }
func (h *writeHandle) Size() (int64, bool)          { return 0, false }
func (h *writeHandle) Direction() storage.Direction { return storage.DirectionWrite }
func (h *writeHandle) IsReadable() bool             { return false }
func (h *writeHandle) IsWritable() bool             { return true }
