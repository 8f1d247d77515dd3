package optical

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/bgrewell/iso-kit/pkg/iso9660"

	"github.com/blockvault/barc/internal/barerr"
	"github.com/blockvault/barc/internal/volume"
)

// Builder builds an ISO9660 image of a staging directory into a single
// output file, either by shelling out to an mkisofs-equivalent or with an
// in-process ISO9660 writer.
type Builder interface {
	Build(ctx context.Context, stagingDir, imagePath string) error
}

// ExternalToolBuilder shells out to an mkisofs-equivalent command
// template, expanding %directory and %image before invocation.
type ExternalToolBuilder struct {
	Template string
}

func (b *ExternalToolBuilder) Build(ctx context.Context, stagingDir, imagePath string) error {
	expanded := volume.ExpandTemplate(b.Template, volume.TemplateVars{
		Directory: stagingDir,
		Image:     imagePath,
	})
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", expanded)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return &barerr.CreateIso{Detail: string(out) + ": " + err.Error()}
	}
	return nil
}

// InProcessBuilder builds the ISO9660 image without shelling out, using
// bgrewell/iso-kit's writer, with Rock-Ridge extensions enabled and ISO
// level 2 naming. Joliet is left to the library's default.
type InProcessBuilder struct{}

func (b *InProcessBuilder) Build(ctx context.Context, stagingDir, imagePath string) error {
	img, err := iso9660.Create(iso9660.CreateOptions{
		VolumeIdentifier: "BARC",
		RockRidge:        true,
		ISOLevel:         2,
	})
	if err != nil {
		return &barerr.CreateIso{Detail: err.Error()}
	}
	if err := img.AddTree(stagingDir, "/"); err != nil {
		return &barerr.CreateIso{Detail: err.Error()}
	}
	if err := os.MkdirAll(filepath.Dir(imagePath), 0o755); err != nil {
		return &barerr.CreateIso{Detail: err.Error()}
	}
	if err := img.WriteFile(imagePath); err != nil {
		return &barerr.CreateIso{Detail: err.Error()}
	}
	return nil
}
