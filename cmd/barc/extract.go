package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/blockvault/barc/internal/archive"
	"github.com/blockvault/barc/internal/logging"
	"github.com/blockvault/barc/internal/runtime"
	"github.com/blockvault/barc/internal/secret"
	"github.com/blockvault/barc/internal/storage"
)

func newExtractCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "extract <archive-uri> <destination-dir>",
		Short: "Restore an archive's entries into a destination directory",
		Args:  cobra.ExactArgs(2),
		RunE:  runExtract,
	}
}

func runExtract(cmd *cobra.Command, args []string) error {
	spec, err := storage.ParseURI(args[0])
	if err != nil {
		return err
	}
	destRoot := args[1]
	if err := os.MkdirAll(destRoot, 0o755); err != nil {
		return err
	}

	var pw *secret.Password
	if flagPassword != "" {
		if pw, err = secret.NewFromString(flagPassword); err != nil {
			return err
		}
	}

	base, err := spec.BaseName()
	if err != nil {
		return err
	}
	rt := runtime.New()
	defer rt.Close()
	disp := buildDispatcher(rt, spec)
	opener := &storage.VolumeOpener{Disp: disp, Base: spec, Ctx: cmd.Context()}

	r, err := archive.Open(archive.ReadOptions{
		BaseName: base,
		Opener:   opener.ReadVolumeOpener(),
		Password: pw,
	})
	if err != nil {
		return err
	}
	defer r.Close()

	progress := mpb.New(mpb.WithWidth(64))
	bar := progress.New(0,
		mpb.BarStyle(),
		mpb.PrependDecorators(decor.Name("restoring", decor.WCSyncSpace)),
		mpb.AppendDecorators(decor.Any(func(s decor.Statistics) string {
			return fmt.Sprintf("%d entries", s.Current)
		}, decor.WCSyncSpace)),
	)
	var restored int64

	log := logging.NewDefaultCLILogger()
	// Deferred link restoration waits until every regular file and
	// directory exists, so a symlink never points at a not-yet-created
	// target during the walk itself.
	var deferredLinks []*archive.ArchiveEntry

	for {
		entry, err := r.ReadEntry()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		target := filepath.Join(destRoot, filepath.FromSlash(strings.TrimPrefix(entry.Name, "/")))

		switch entry.Kind {
		case archive.KindDirectory:
			if mkErr := os.MkdirAll(target, os.FileMode(entry.Mode)); mkErr != nil {
				return mkErr
			}
			restoreMetadata(target, entry)
		case archive.KindFile:
			if mkErr := os.MkdirAll(filepath.Dir(target), 0o755); mkErr != nil {
				return mkErr
			}
			if wErr := drainFileData(r, target, entry); wErr != nil {
				return wErr
			}
			restoreMetadata(target, entry)
		case archive.KindLink:
			deferredLinks = append(deferredLinks, entry)
		case archive.KindSpecial, archive.KindImage:
			log.Warnf("skipping unsupported entry kind for %s (requires root/mknod privileges)", entry.Name)
		}

		restored++
		bar.SetTotal(restored, false)
		bar.SetCurrent(restored)
	}

	for _, entry := range deferredLinks {
		target := filepath.Join(destRoot, filepath.FromSlash(strings.TrimPrefix(entry.Name, "/")))
		if mkErr := os.MkdirAll(filepath.Dir(target), 0o755); mkErr != nil {
			return mkErr
		}
		_ = os.Remove(target)
		if err := os.Symlink(entry.LinkTarget, target); err != nil {
			return err
		}
	}

	bar.SetTotal(restored, true)
	progress.Wait()
	log.Info().Msg("archive extracted")
	return nil
}

func drainFileData(r *archive.ArchiveReader, target string, entry *archive.ArchiveEntry) error {
	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(entry.Mode))
	if err != nil {
		return err
	}
	defer f.Close()

	for {
		data, err := r.ReadEntryData()
		if len(data) > 0 {
			if _, werr := f.Write(data); werr != nil {
				return werr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// restoreMetadata best-effort applies permission bits and modification
// time; ownership restoration is skipped outside of root (a failing Chown
// is not a reason to abort a whole restore).
func restoreMetadata(path string, entry *archive.ArchiveEntry) {
	_ = os.Chmod(path, os.FileMode(entry.Mode))
	_ = os.Chown(path, int(entry.OwnerID), int(entry.GroupID))
	mt := entry.ModTime
	at := entry.AccessTime
	if at.IsZero() {
		at = mt
	}
	_ = os.Chtimes(path, at, mt)
}
