// Package optical implements the CD/DVD/BD optical-media backend: the
// multi-step burn pipeline (stage → blank → image → ECC → write → verify)
// and the volume-request protocol for media rotation. Built on the shared
// internal/volume package (Stager/Pipeline/Requester) this backend and
// internal/storage/backends/device both use.
package optical

import "time"

// Medium identifies the optical media family, each with its own target
// capacity.
type Medium int

const (
	MediumCD Medium = iota
	MediumDVD
	MediumBD
)

// Capacity bytes per medium, with and without Reed-Solomon ECC overhead.
const (
	capacityCD    = 700_000_000
	capacityCDEcc = 560_000_000

	capacityDVD    = 4_400_000_000
	capacityDVDEcc = 3_600_000_000

	capacityBD    = 25_000_000_000
	capacityBDEcc = 20_000_000_000
)

// UsableBytes returns the per-volume capacity for m, reduced if ecc is
// enabled (ECC data shares the medium with payload data).
func (m Medium) UsableBytes(ecc bool) int64 {
	switch m {
	case MediumCD:
		if ecc {
			return capacityCDEcc
		}
		return capacityCD
	case MediumDVD:
		if ecc {
			return capacityDVDEcc
		}
		return capacityDVD
	case MediumBD:
		if ecc {
			return capacityBDEcc
		}
		return capacityBD
	default:
		return capacityCD
	}
}

// isoBlockSize is the ISO9660 logical block size used by the verify
// step's block-by-block comparison.
const isoBlockSize = 2048

// CommandTemplates holds the externally-invoked command templates. Request
// feeds the volume requester, Unload runs before verify, Image feeds the
// default ExternalToolBuilder, and Blank, ImagePre, ImagePost, EccPre and
// EccPost run as pipeline steps. Load, Ecc, Write, WriteImage, WritePre and
// WritePost are not run by Burn: the ecc step uses ECCCoder and the write
// step copies the staged files. Placeholders are expanded before
// invocation; an empty template means "skip this step".
type CommandTemplates struct {
	Request    string
	Unload     string
	Load       string
	ImagePre   string
	Image      string
	ImagePost  string
	EccPre     string
	Ecc        string
	EccPost    string
	Blank      string
	Write      string
	WriteImage string
	WritePre   string
	WritePost  string
}

// Config configures one optical Backend instance.
type Config struct {
	Device    string
	Medium    Medium
	ECC       bool
	Blank     bool
	WriteISO  bool // true: build the ISO image first and require it before the write step; false: no image. Either way the write step copies the staged files
	Templates CommandTemplates

	Builder  Builder
	ECCCoder ECCCoder
	Verifier Verifier

	MaxBurnAttempts int // default 3
	UnmountSleep    time.Duration

	// MountDir, if set, simulates "the medium" as a plain directory the
	// burn steps write into and the verify step reads back from. Real
	// hardware burn drivers live behind the command templates; this lets
	// the backend's state machine, progress model, and verify comparison
	// run end-to-end without a physical drive.
	MountDir string
}

func (c *Config) maxBurnAttempts() int {
	if c.MaxBurnAttempts <= 0 {
		return 3
	}
	return c.MaxBurnAttempts
}
