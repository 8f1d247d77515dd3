package main

import (
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/blockvault/barc/internal/archive"
	"github.com/blockvault/barc/internal/compress"
	"github.com/blockvault/barc/internal/cryptocodec"
	"github.com/blockvault/barc/internal/logging"
	"github.com/blockvault/barc/internal/runtime"
	"github.com/blockvault/barc/internal/storage"
	barstrings "github.com/blockvault/barc/internal/util/strings"
)

func newCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <archive-uri> <path> [paths...]",
		Short: "Create an archive from one or more files or directories",
		Args:  cobra.MinimumNArgs(2),
		RunE:  runCreate,
	}
}

func runCreate(cmd *cobra.Command, args []string) error {
	spec, err := storage.ParseURI(args[0])
	if err != nil {
		return err
	}
	sources := args[1:]

	cipher := cryptocodec.Algorithm(flagCipher)
	compressor := compress.Algorithm(flagCompress)

	pw, err := resolveArchivePassword(cipher)
	if err != nil {
		return err
	}

	base, err := spec.BaseName()
	if err != nil {
		return err
	}
	rt := runtime.New()
	defer rt.Close()
	disp := buildDispatcher(rt, spec)
	opener := &storage.VolumeOpener{Disp: disp, Base: spec, Policy: storage.PolicyOverwrite, Ctx: cmd.Context()}

	bar := progressbar.DefaultBytes(-1, "archiving")
	w, err := archive.Create(archive.WriteOptions{
		BaseName:   base,
		Opener:     opener.WriteVolumeOpener(),
		PartSize:   uint64(flagPartSize),
		Cipher:     cipher,
		Compressor: compressor,
		Password:   pw,
		Progress: func(bytesDone uint64, volumeNumber int, volumeDonePct int, messageCode, messageText string) bool {
			_ = bar.Set64(int64(bytesDone))
			return true
		},
	})
	if err != nil {
		return err
	}

	for _, src := range sources {
		if addErr := addTree(w, src, ""); addErr != nil {
			_ = w.Close()
			return addErr
		}
	}
	if err := w.Close(); err != nil {
		return err
	}
	_ = bar.Finish()

	parts := w.PartOrdinal() + 1
	log := logging.NewDefaultCLILogger()
	log.Info().
		Int("entries", w.EntryCount()).
		Uint64("bytes", w.TotalBytes()).
		Int("parts", parts).
		Msgf("archived %d %s across %d %s", w.EntryCount(), barstrings.Pluralize("item", int64(w.EntryCount())), parts, barstrings.Pluralize("part", int64(parts)))
	return nil
}
