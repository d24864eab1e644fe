// Package treebuild populates a tree.Tree from a host directory, the
// filesystem-facing counterpart to the teacher's ISOBuilder.ScanSourceDirectory
// (iso9660/scanner.go). Where the teacher's scanner walks the source tree
// into a flat fileEntries slice addressed by parentIndex/children fields it
// maintains by hand, this walks directly into tree.Tree's own arena via
// AddChild, and additionally classifies symlinks and device/FIFO/socket
// special files the teacher's regular-files-and-directories-only scanner
// never had to handle.
package treebuild

import (
	"os"
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/sys/unix"

	"github.com/kdsys/isoimage/internal/ierr"
	"github.com/kdsys/isoimage/stream"
	"github.com/kdsys/isoimage/tree"
)

// Options controls which host entries FromDirectory skips.
type Options struct {
	// Hidden lists base names excluded from the tree, matching the
	// teacher's MarkFileNamesAsHidden (iso9660/builder.go) by omission
	// instead of a post-hoc hidden-flag pass.
	Hidden map[string]bool
	// FollowSymlinks stores a symlink's target content (a file or special
	// file) instead of recording it as a KindSymlink node. Symlinks to
	// directories and dangling symlinks are skipped.
	FollowSymlinks bool
}

// FromDirectory builds a new tree.Tree rooted at root, recursively adding
// every entry under root not excluded by opts.Hidden.
func FromDirectory(root string, opts Options) (*tree.Tree, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, ierr.New(ierr.CodeWrongArgument, ierr.SevFailure, "resolving source directory "+root, err)
	}
	t := tree.New()
	if fi, err := os.Lstat(absRoot); err == nil {
		applyStat(t.Node(t.Root()), fi)
	}
	if err := addDirectoryChildren(t, t.Root(), absRoot, opts); err != nil {
		return nil, err
	}
	return t, nil
}

func addDirectoryChildren(t *tree.Tree, parent int, diskDir string, opts Options) error {
	entries, err := os.ReadDir(diskDir)
	if err != nil {
		return ierr.New(ierr.CodeFileReadFailed, ierr.SevSorry, "reading directory "+diskDir, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, e := range entries {
		if opts.Hidden[e.Name()] {
			continue
		}
		diskPath := filepath.Join(diskDir, e.Name())
		fi, err := os.Lstat(diskPath)
		if err != nil {
			return ierr.New(ierr.CodeFileReadFailed, ierr.SevSorry, "stat "+diskPath, err)
		}
		if fi.Mode()&os.ModeSymlink != 0 && opts.FollowSymlinks {
			if tfi, err := os.Stat(diskPath); err == nil && !tfi.IsDir() {
				fi = tfi
			}
		}

		node := tree.Node{Name: e.Name()}
		applyStat(&node, fi)

		switch {
		case fi.Mode()&os.ModeSymlink != 0 && !opts.FollowSymlinks:
			target, err := os.Readlink(diskPath)
			if err != nil {
				return ierr.New(ierr.CodeFileReadFailed, ierr.SevSorry, "reading symlink "+diskPath, err)
			}
			node.Kind = tree.KindSymlink
			node.SymlinkTarget = []byte(target)
			if _, err := t.AddChild(parent, node); err != nil {
				return err
			}

		case fi.IsDir():
			node.Kind = tree.KindDirectory
			idx, err := t.AddChild(parent, node)
			if err != nil {
				return err
			}
			if err := addDirectoryChildren(t, idx, diskPath, opts); err != nil {
				return err
			}

		case fi.Mode().IsRegular():
			node.Kind = tree.KindFile
			node.Content = stream.NewFileSource(diskPath)
			node.ContentSize = fi.Size()
			if _, err := t.AddChild(parent, node); err != nil {
				return err
			}

		case fi.Mode()&(os.ModeDevice|os.ModeCharDevice|os.ModeNamedPipe|os.ModeSocket) != 0:
			applySpecial(&node, fi)
			if _, err := t.AddChild(parent, node); err != nil {
				return err
			}

		default:
			// Unsupported host entry kind (e.g. a door or a procfs oddity); skip it
			// rather than fail the whole scan.
		}
	}
	return nil
}

func applyStat(n *tree.Node, fi os.FileInfo) {
	n.Mode = uint32(fi.Mode().Perm())
	n.Mtime = fi.ModTime()
	n.Atime = fi.ModTime()
	n.Ctime = fi.ModTime()
	if st, ok := fi.Sys().(*unix.Stat_t); ok {
		n.UID = st.Uid
		n.GID = st.Gid
		n.Mtime = timeFromStat(st.Mtim)
		n.Atime = timeFromStat(st.Atim)
		n.Ctime = timeFromStat(st.Ctim)
	}
}

func applySpecial(n *tree.Node, fi os.FileInfo) {
	n.Kind = tree.KindSpecial
	switch {
	case fi.Mode()&os.ModeNamedPipe != 0:
		n.SpecialClass = tree.SpecialFIFO
	case fi.Mode()&os.ModeSocket != 0:
		n.SpecialClass = tree.SpecialSocket
	case fi.Mode()&os.ModeCharDevice != 0:
		n.SpecialClass = tree.SpecialCharDevice
	default:
		n.SpecialClass = tree.SpecialBlockDevice
	}
	if st, ok := fi.Sys().(*unix.Stat_t); ok {
		n.DeviceMajor = uint32(unix.Major(uint64(st.Rdev)))
		n.DeviceMinor = uint32(unix.Minor(uint64(st.Rdev)))
	}
}

func timeFromStat(ts unix.Timespec) time.Time {
	return time.Unix(ts.Sec, ts.Nsec)
}
