package sshfile

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/blockvault/barc/internal/barerr"
	"github.com/blockvault/barc/internal/storage"
	"github.com/blockvault/barc/internal/storage/backends/ftpback"
)

// The scp scheme has no directory-listing/rename/delete/mkdir primitives
// of its own — the scp protocol is a file-transfer-only exchange run over
// an exec session. Every non-transfer operation below runs as a plain
// remote shell command instead, exactly what the scp command line tool
// itself falls back to (e.g. its -r recursive mode shells out to find a
// remote directory tree). quoteRemotePath guards against the remote path
// containing shell metacharacters.

func quoteRemotePath(p string) string {
	return "'" + strings.ReplaceAll(p, "'", `'\''`) + "'"
}

func (b *Backend) runRemote(ctx context.Context, command string) (string, error) {
	conn, err := b.connection(ctx)
	if err != nil {
		return "", err
	}
	session, err := conn.NewSession()
	if err != nil {
		return "", &barerr.Network{Kind: barerr.NetworkSend, Host: b.cfg.Host, Err: err}
	}
	defer session.Close()

	var out strings.Builder
	session.Stdout = &out
	if err := session.Run(command); err != nil {
		return "", &barerr.Network{Kind: barerr.NetworkSend, Host: b.cfg.Host, Err: err}
	}
	return out.String(), nil
}

func (b *Backend) scpExists(ctx context.Context, spec *storage.Specifier) (bool, error) {
	out, err := b.runRemote(ctx, "test -e "+quoteRemotePath(spec.Path)+" && echo 1 || echo 0")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) == "1", nil
}

func (b *Backend) scpFileInfo(ctx context.Context, spec *storage.Specifier) (storage.FileInfo, error) {
	out, err := b.runRemote(ctx, "ls -la "+quoteRemotePath(spec.Path))
	if err != nil {
		return storage.FileInfo{}, &barerr.FileNotFound{Path: spec.Path}
	}
	info, ok := ftpback.ParseDirectoryLine(strings.TrimSpace(out), time.Now())
	if !ok {
		return storage.FileInfo{}, &barerr.FileNotFound{Path: spec.Path}
	}
	return info, nil
}

func (b *Backend) scpMakeDirectory(ctx context.Context, spec *storage.Specifier) error {
	_, err := b.runRemote(ctx, "mkdir -p "+quoteRemotePath(spec.Path))
	return err
}

func (b *Backend) scpDelete(ctx context.Context, spec *storage.Specifier) error {
	_, err := b.runRemote(ctx, "rm -f "+quoteRemotePath(spec.Path))
	return err
}

func (b *Backend) scpRename(ctx context.Context, spec *storage.Specifier, newPath string) error {
	_, err := b.runRemote(ctx, "mv "+quoteRemotePath(spec.Path)+" "+quoteRemotePath(newPath))
	return err
}

func (b *Backend) scpDirList(ctx context.Context, spec *storage.Specifier) (storage.DirLister, error) {
	out, err := b.runRemote(ctx, "ls -la "+quoteRemotePath(spec.Path))
	if err != nil {
		return nil, err
	}
	now := time.Now()
	var entries []storage.FileInfo
	for _, line := range strings.Split(out, "\n") {
		if info, ok := ftpback.ParseDirectoryLine(line, now); ok {
			entries = append(entries, info)
		}
	}
	return &scpDirLister{entries: entries}, nil
}

type scpDirLister struct {
	entries []storage.FileInfo
	idx     int
}

func (d *scpDirLister) Next() (storage.FileInfo, error) {
	if d.idx >= len(d.entries) {
		return storage.FileInfo{}, io.EOF
	}
	info := d.entries[d.idx]
	d.idx++
	return info, nil
}

func (d *scpDirLister) Close() error { return nil }

// scpCreate stages writes to a local temp file, since the scp wire
// protocol's "C<mode> <size> <name>" header requires the exact byte count
// upfront — a real protocol constraint, not an implementation shortcut —
// and uploads it over a fresh "scp -t" exec session on Close.
func (b *Backend) scpCreate(ctx context.Context, spec *storage.Specifier, policy storage.CreatePolicy) (storage.Handle, error) {
	if policy == storage.PolicyStop {
		if exists, _ := b.scpExists(ctx, spec); exists {
			return nil, &barerr.FileExists{Path: spec.Path}
		}
	}
	targetPath := spec.Path
	if policy == storage.PolicyRenameOnConflict {
		if exists, _ := b.scpExists(ctx, spec); exists {
			targetPath = renamedConflictPath(targetPath)
		}
	}

	tmp, err := os.CreateTemp("", "sshfile-scp-stage-*")
	if err != nil {
		return nil, &barerr.Io{Op: "scp-stage-create", Path: spec.Path, Err: err}
	}
	return &scpWriteHandle{backend: b, ctx: ctx, remotePath: targetPath, append: policy == storage.PolicyAppend, tmp: tmp}, nil
}

type scpWriteHandle struct {
	backend    *Backend
	ctx        context.Context
	remotePath string
	append     bool
	tmp        *os.File
	pos        int64
}

func (h *scpWriteHandle) Read(p []byte) (int, error) {
	return 0, &barerr.NotSupported{Kind: "scp", Op: "read-on-write-handle"}
}

func (h *scpWriteHandle) Write(p []byte) (int, error) {
	n, err := h.tmp.Write(p)
	h.pos += int64(n)
	if err != nil {
		return n, &barerr.Io{Op: "scp-stage-write", Path: h.remotePath, Err: err}
	}
	return n, nil
}

func (h *scpWriteHandle) Seek(ctx context.Context, offset int64, whence int) (int64, error) {
	pos, err := h.tmp.Seek(offset, whence)
	if err != nil {
		return 0, &barerr.Io{Op: "scp-stage-seek", Path: h.remotePath, Err: err}
	}
	h.pos = pos
	return pos, nil
}

func (h *scpWriteHandle) Tell() (int64, error)         { return h.pos, nil }
func (h *scpWriteHandle) Size() (int64, bool)          { return 0, false }
func (h *scpWriteHandle) Direction() storage.Direction { return storage.DirectionWrite }
func (h *scpWriteHandle) IsReadable() bool             { return false }
func (h *scpWriteHandle) IsWritable() bool             { return true }

func (h *scpWriteHandle) Close() error {
	defer os.Remove(h.tmp.Name())
	if err := h.tmp.Close(); err != nil {
		return &barerr.Io{Op: "scp-stage-close", Path: h.remotePath, Err: err}
	}

	if h.append {
		return h.appendRemote()
	}
	return h.uploadRemote()
}

// uploadRemote speaks the scp "sink" side of the protocol: start a remote
// "scp -t <dir>" process, wait for its initial ready ack, send the
// "C<mode> <size> <name>" header, wait for that ack, stream the file
// bytes, then send the trailing null byte and wait for the final ack.
func (h *scpWriteHandle) uploadRemote() error {
	conn, err := h.backend.connection(h.ctx)
	if err != nil {
		return err
	}
	session, err := conn.NewSession()
	if err != nil {
		return &barerr.Network{Kind: barerr.NetworkSend, Host: h.backend.cfg.Host, Err: err}
	}
	defer session.Close()

	f, err := os.Open(h.tmp.Name())
	if err != nil {
		return &barerr.Io{Op: "scp-stage-reopen", Path: h.remotePath, Err: err}
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return &barerr.Io{Op: "scp-stage-stat", Path: h.remotePath, Err: err}
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		return &barerr.Network{Kind: barerr.NetworkSend, Host: h.backend.cfg.Host, Err: err}
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		return &barerr.Network{Kind: barerr.NetworkSend, Host: h.backend.cfg.Host, Err: err}
	}

	if err := session.Start("scp -qt " + quoteRemotePath(dirnameOf(h.remotePath))); err != nil {
		return &barerr.Network{Kind: barerr.NetworkSend, Host: h.backend.cfg.Host, Err: err}
	}

	netErr := func() error {
		if err := readAck(stdout); err != nil {
			return err
		}
		fmt.Fprintf(stdin, "C0644 %d %s\n", info.Size(), basenameOf(h.remotePath))
		if err := readAck(stdout); err != nil {
			return err
		}
		if _, err := io.Copy(stdin, f); err != nil {
			return err
		}
		fmt.Fprint(stdin, "\x00")
		return readAck(stdout)
	}()
	stdin.Close()

	if waitErr := session.Wait(); waitErr != nil && netErr == nil {
		netErr = waitErr
	}
	if netErr != nil {
		return &barerr.Network{Kind: barerr.NetworkSend, Host: h.backend.cfg.Host, Err: netErr}
	}
	return nil
}

func (h *scpWriteHandle) appendRemote() error {
	// scp has no native append; concatenate remotely via shell after a
	// plain upload to a temp remote name.
	tmpRemote := h.remotePath + ".sshfile-append-tmp"
	orig := h.remotePath
	h.remotePath = tmpRemote
	if err := h.uploadRemote(); err != nil {
		h.remotePath = orig
		return err
	}
	h.remotePath = orig
	_, err := h.backend.runRemote(h.ctx,
		fmt.Sprintf("cat %s >> %s && rm -f %s", quoteRemotePath(tmpRemote), quoteRemotePath(orig), quoteRemotePath(tmpRemote)))
	return err
}

func basenameOf(p string) string {
	if idx := strings.LastIndex(p, "/"); idx >= 0 {
		return p[idx+1:]
	}
	return p
}

func dirnameOf(p string) string {
	if idx := strings.LastIndex(p, "/"); idx >= 0 {
		return p[:idx+1]
	}
	return "."
}

func readAck(r io.Reader) error {
	buf := make([]byte, 1)
	if _, err := r.Read(buf); err != nil {
		return err
	}
	if buf[0] != 0 {
		msg, _ := bufio.NewReader(r).ReadString('\n')
		return fmt.Errorf("scp ack error: %s", strings.TrimSpace(msg))
	}
	return nil
}

// scpOpen downloads spec into a local temp file over "scp -f" and returns
// a handle reading from it, since the protocol streams the whole file in
// one shot rather than supporting partial/seekable reads.
func (b *Backend) scpOpen(ctx context.Context, spec *storage.Specifier) (storage.Handle, error) {
	conn, err := b.connection(ctx)
	if err != nil {
		return nil, err
	}
	session, err := conn.NewSession()
	if err != nil {
		return nil, &barerr.Network{Kind: barerr.NetworkConnect, Host: b.cfg.Host, Err: err}
	}
	defer session.Close()

	stdout, err := session.StdoutPipe()
	if err != nil {
		return nil, &barerr.Network{Kind: barerr.NetworkRecv, Host: b.cfg.Host, Err: err}
	}
	stdin, err := session.StdinPipe()
	if err != nil {
		return nil, &barerr.Network{Kind: barerr.NetworkRecv, Host: b.cfg.Host, Err: err}
	}

	if err := session.Start("scp -qf " + quoteRemotePath(spec.Path)); err != nil {
		return nil, &barerr.Network{Kind: barerr.NetworkRecv, Host: b.cfg.Host, Err: err}
	}

	fmt.Fprint(stdin, "\x00")
	reader := bufio.NewReader(stdout)
	header, err := reader.ReadString('\n')
	if err != nil {
		return nil, &barerr.FileNotFound{Path: spec.Path}
	}
	fields := strings.Fields(header)
	if len(fields) < 3 {
		return nil, &barerr.FileNotFound{Path: spec.Path}
	}
	size, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return nil, &barerr.FileNotFound{Path: spec.Path}
	}
	fmt.Fprint(stdin, "\x00")

	tmp, err := os.CreateTemp("", "sshfile-scp-download-*")
	if err != nil {
		return nil, &barerr.Io{Op: "scp-download-stage", Path: spec.Path, Err: err}
	}
	if _, err := io.CopyN(tmp, reader, size); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, &barerr.Network{Kind: barerr.NetworkRecv, Host: b.cfg.Host, Err: err}
	}
	// The source sends one trailing status byte after the file's data;
	// no ack is sent back for it, and closing stdin below ends the remote scp.
	if err := readAck(reader); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, &barerr.Network{Kind: barerr.NetworkRecv, Host: b.cfg.Host, Err: err}
	}
	stdin.Close()
	_ = session.Wait()
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, &barerr.Io{Op: "scp-download-rewind", Path: spec.Path, Err: err}
	}

	return &scpReadHandle{path: spec.Path, tmp: tmp, size: size}, nil
}

type scpReadHandle struct {
	path string
	tmp  *os.File
	size int64
	pos  int64
}

func (h *scpReadHandle) Read(p []byte) (int, error) {
	n, err := h.tmp.Read(p)
	h.pos += int64(n)
	return n, err
}

func (h *scpReadHandle) Write(p []byte) (int, error) {
	return 0, &barerr.NotSupported{Kind: "scp", Op: "write-on-read-handle"}
}

func (h *scpReadHandle) Close() error {
	defer os.Remove(h.tmp.Name())
	return h.tmp.Close()
}

func (h *scpReadHandle) Seek(ctx context.Context, offset int64, whence int) (int64, error) {
	pos, err := h.tmp.Seek(offset, whence)
	if err != nil {
		return 0, &barerr.Io{Op: "scp-seek", Path: h.path, Err: err}
	}
	h.pos = pos
	return pos, nil
}

func (h *scpReadHandle) Tell() (int64, error)         { return h.pos, nil }
func (h *scpReadHandle) Size() (int64, bool)          { return h.size, true }
func (h *scpReadHandle) Direction() storage.Direction { return storage.DirectionRead }
func (h *scpReadHandle) IsReadable() bool             { return true }
func (h *scpReadHandle) IsWritable() bool             { return false }
