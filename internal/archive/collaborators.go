package archive

import (
	"context"
	"os"
	"time"

	"github.com/blockvault/barc/internal/secret"
)

// FileWalker enumerates directory entries with stat info, standing in for
// the operator's real filesystem (or a test fixture) so the engine never
// calls os.* directly. Each external dependency gets its own narrow
// interface rather than one monolithic "environment" interface.
type FileWalker interface {
	// Walk enumerates path and everything beneath it, invoking visit once
	// per entry (files, directories, symlinks, specials) with its path
	// relative to the walk root and its os.FileInfo-equivalent stat data.
	Walk(ctx context.Context, root string, visit func(relPath string, info os.FileInfo) error) error
	// Lstat returns stat info without following symlinks, needed to detect
	// Link entries rather than following them into their targets.
	Lstat(path string) (os.FileInfo, error)
	// Readlink returns a symlink's target string.
	Readlink(path string) (string, error)
	// Open opens a regular file for reading its data parts.
	Open(path string) (*os.File, error)
}

// PatternMatcher compiles a glob and tests path matches, used both for
// include/exclude filtering on write and for StorageSpecifier path
// patterns on read (e.g. restoring only entries under a glob).
type PatternMatcher interface {
	Compile(pattern string) (CompiledPattern, error)
}

// CompiledPattern tests one compiled glob against entry names.
type CompiledPattern interface {
	Match(name string) bool
}

// HostCredentials is the per-host answer from a ConfigServer: the
// credentials and command templates to use for storage operations against
// one host.
type HostCredentials struct {
	User     string
	Secret   *secret.Password
	PreCmd   string
	PostCmd  string
}

// ConfigServer yields per-host credentials and per-scheme pre/post command
// templates. An external collaborator: the engine never reads a config
// file directly.
type ConfigServer interface {
	CredentialsFor(ctx context.Context, host string, scheme string) (*HostCredentials, error)
}

// CompletionRecord is an opaque-to-the-core record of one successful
// archive completion, handed to an IndexSink for external bookkeeping.
type CompletionRecord struct {
	BaseName    string
	Parts       []string
	EntryCount  int
	TotalBytes  uint64
	CompletedAt time.Time
}

// IndexSink receives successful archive completion records. Opaque to the
// core: the engine doesn't know or care what the sink does with them
// (write to a database, append to a log, notify a scheduler).
type IndexSink interface {
	RecordCompletion(ctx context.Context, rec CompletionRecord) error
}

// ProgressSink is the progress callback: it must be cheap and
// reentrancy-safe, and is polled from deep call stacks rather than driven
// by an async event loop. Returning false requests cancellation.
type ProgressSink func(bytesDone uint64, volumeNumber int, volumeDonePct int, messageCode string, messageText string) bool

// PasswordPrompt fills pw given a human-readable prompt label, used when
// no password was supplied up front (interactive CLI mode).
type PasswordPrompt func(ctx context.Context, label string, pw *secret.Password) error

// VolumeRequestKind distinguishes the three volume-request protocol
// channels: a command-template invocation, a console prompt, or a
// programmatic callback notification.
type VolumeRequestKind int

const (
	VolumeRequestCallback VolumeRequestKind = iota
	VolumeRequestCommand
	VolumeRequestConsole
)

// VolumeRequestSink is invoked when a backend needs a new volume (optical
// disc, removable device, or a rotated network target) loaded before it
// can continue. It returns when the volume is ready, or an error if the
// operator declined/timed out.
type VolumeRequestSink func(ctx context.Context, kind VolumeRequestKind, volumeNumber int, message string) error

// AbortPredicate is polled on every suspension point: any storage
// read/write, any volume-request prompt, any bandwidth-limiter sleep, any
// external-command wait.
type AbortPredicate func() bool
