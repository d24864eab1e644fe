package stream

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"

	"github.com/kdsys/isoimage/internal/ierr"
)

// FileSource opens a host file and serves its bytes, computing Identity
// from the underlying device/inode via unix.Stat so two hard-linked paths
// (or the same path seen twice) dedup to the same FileContentEntry.
type FileSource struct {
	path string
	f    *os.File
	size int64
	id   Identity
	idOK bool
}

// NewFileSource returns a repeatable Stream backed by path. The file is not
// opened until Open is called.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (s *FileSource) Open() error {
	if s.f != nil {
		return ierr.New(ierr.CodeWrongArgument, ierr.SevFailure, "file source already open: "+s.path, nil)
	}
	f, err := os.Open(s.path)
	if err != nil {
		return ierr.New(ierr.CodeFileOpenFailed, ierr.SevSorry, "opening "+s.path, err)
	}
	s.f = f
	if fi, err := f.Stat(); err == nil {
		s.size = fi.Size()
	}
	if !s.idOK {
		var st unix.Stat_t
		if err := unix.Stat(s.path, &st); err == nil {
			s.id = Identity{FSID: uint64(st.Dev), DevID: uint64(st.Dev), InoID: st.Ino}
		} else {
			s.id = NextSyntheticIdentity()
		}
		s.idOK = true
	}
	return nil
}

func (s *FileSource) Close() error {
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

func (s *FileSource) Read(buf []byte) (int, error) {
	if s.f == nil {
		return 0, ierr.New(ierr.CodeWrongArgument, ierr.SevFailure, "read on closed file source", nil)
	}
	n, err := io.ReadFull(s.f, buf)
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}
	return n, err
}

func (s *FileSource) Size() (int64, error) {
	if s.f != nil {
		return s.size, nil
	}
	fi, err := os.Stat(s.path)
	if err != nil {
		return 0, ierr.New(ierr.CodeFileReadFailed, ierr.SevSorry, "stat "+s.path, err)
	}
	s.size = fi.Size()
	return s.size, nil
}

func (s *FileSource) IsRepeatable() bool { return true }

func (s *FileSource) StreamIdentity() Identity {
	if !s.idOK {
		var st unix.Stat_t
		if err := unix.Stat(s.path, &st); err == nil {
			s.id = Identity{FSID: uint64(st.Dev), DevID: uint64(st.Dev), InoID: st.Ino}
		} else {
			s.id = NextSyntheticIdentity()
		}
		s.idOK = true
	}
	return s.id
}

func (s *FileSource) Compare(other Stream) int {
	return compareIdentity(s.StreamIdentity(), other.StreamIdentity())
}

func (s *FileSource) Clone() (Stream, error) {
	clone := NewFileSource(s.path)
	clone.id = s.StreamIdentity()
	clone.idOK = true
	return clone, nil
}

func (s *FileSource) Input() Stream { return nil }

func (s *FileSource) String() string { return fmt.Sprintf("FileSource(%s)", s.path) }
