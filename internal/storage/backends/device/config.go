// Package device implements the raw block-device backend (C10): the same
// staged assemble-and-write shape as internal/storage/backends/optical, with
// blank and verify off by default (a block device has no "blank" concept and
// is not media that round-trips an eject/reinsert cycle) but still
// supporting image build, optional ECC, and write-pre/write-post hooks.
// Built on the same internal/volume staging/pipeline plumbing as the
// optical backend.
package device

import "github.com/blockvault/barc/internal/storage/backends/optical"

// CommandTemplates holds the externally-invoked command templates for
// this backend's pipeline steps. ImagePre, ImagePost, EccPre, EccPost,
// WritePre and WritePost run as pipeline steps, and Image feeds the default
// ExternalToolBuilder. Ecc and Write are not run: the ecc step uses
// ECCCoder and the write step copies the staged files. An empty template
// means "skip this step".
type CommandTemplates struct {
	ImagePre  string
	Image     string
	ImagePost string
	EccPre    string
	Ecc       string
	EccPost   string
	WritePre  string
	Write     string
	WritePost string
}

// Config configures one device Backend instance.
type Config struct {
	Device     string // raw device node path (e.g. /dev/sdb)
	Capacity   int64  // usable bytes per volume; 0 means "no capacity trigger, Finalize only"
	ECC        bool
	WriteImage bool // true: build and write an image file; false: write staged files directly
	Verify     bool // off by default
	Templates  CommandTemplates

	Builder  optical.Builder
	ECCCoder optical.ECCCoder
	Verifier optical.Verifier

	MaxWriteAttempts int // used only when Verify is on (0 means 3); with Verify off every write is a single attempt

	// MountDir, if set, simulates the device node as a plain directory, the
	// same hardware-free approach internal/storage/backends/optical uses for
	// its MountDir.
	MountDir string
}

func (c *Config) maxWriteAttempts() int {
	if !c.Verify {
		return 1
	}
	if c.MaxWriteAttempts <= 0 {
		return 3
	}
	return c.MaxWriteAttempts
}
