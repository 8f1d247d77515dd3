package main

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/blockvault/barc/internal/archive"
)

// entryFromLstat builds an ArchiveEntry from one filesystem node's lstat
// info, including POSIX owner/group/major/minor pulled from the raw
// syscall.Stat_t the same way the standard library's own archive/tar
// package derives tar.Header fields from os.FileInfo.Sys() on unix. path is
// the node's on-disk path, used to read a symlink's target.
func entryFromLstat(relPath, path string, info fs.FileInfo) (*archive.ArchiveEntry, error) {
	e := &archive.ArchiveEntry{
		Name:    filepath.ToSlash(relPath),
		Mode:    uint32(info.Mode().Perm()),
		ModTime: info.ModTime(),
	}

	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		e.OwnerID = st.Uid
		e.GroupID = st.Gid
		e.AccessTime = time.Unix(st.Atim.Sec, st.Atim.Nsec)
		e.ChangeTime = time.Unix(st.Ctim.Sec, st.Ctim.Nsec)
		if info.Mode()&(os.ModeDevice|os.ModeCharDevice) != 0 {
			e.DeviceMajor = uint32(unix.Major(uint64(st.Rdev)))
			e.DeviceMinor = uint32(unix.Minor(uint64(st.Rdev)))
		}
	} else {
		e.AccessTime = info.ModTime()
		e.ChangeTime = info.ModTime()
	}

	switch {
	case info.Mode()&os.ModeSymlink != 0:
		e.Kind = archive.KindLink
		target, err := os.Readlink(path)
		if err != nil {
			return nil, err
		}
		e.LinkTarget = target
	case info.IsDir():
		e.Kind = archive.KindDirectory
	case info.Mode()&os.ModeCharDevice != 0:
		e.Kind = archive.KindSpecial
		e.Special = archive.SpecialChar
	case info.Mode()&os.ModeDevice != 0:
		e.Kind = archive.KindSpecial
		e.Special = archive.SpecialBlock
	case info.Mode()&os.ModeNamedPipe != 0:
		e.Kind = archive.KindSpecial
		e.Special = archive.SpecialFifo
	case info.Mode()&os.ModeSocket != 0:
		e.Kind = archive.KindSpecial
		e.Special = archive.SpecialSocket
	default:
		e.Kind = archive.KindFile
		e.Size = uint64(info.Size())
	}
	return e, nil
}

// addTree walks root (a file or directory), writing one entry per node
// under relBase into w. Symlinks are archived as links, never followed.
func addTree(w *archive.ArchiveWriter, root, relBase string) error {
	base := filepath.Clean(root)
	return filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		info, lerr := os.Lstat(p)
		if lerr != nil {
			return lerr
		}
		rel, relErr := filepath.Rel(filepath.Dir(base), p)
		if relErr != nil {
			return relErr
		}
		if relBase != "" {
			rel = filepath.Join(relBase, rel)
		}

		e, entErr := entryFromLstat(rel, p, info)
		if entErr != nil {
			return entErr
		}

		h, newErr := w.NewEntry(e)
		if newErr != nil {
			return newErr
		}

		if e.Kind == archive.KindFile {
			if werr := writeFileData(w, h, p); werr != nil {
				return werr
			}
		}
		return w.CloseEntry(h)
	})
}

// writeFileData streams p's contents into h in fixed-size chunks, the
// shape every archive engine write path in this module uses rather than
// reading whole files into memory.
func writeFileData(w *archive.ArchiveWriter, h *archive.EntryHandle, p string) error {
	f, err := os.Open(p)
	if err != nil {
		return err
	}
	defer f.Close()

	buf := make([]byte, 256*1024)
	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			if werr := w.WriteEntryData(h, buf[:n]); werr != nil {
				return werr
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				return nil
			}
			return rerr
		}
	}
}
