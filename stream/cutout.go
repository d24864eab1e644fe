package stream

import (
	"io"

	"github.com/kdsys/isoimage/internal/ierr"
)

// CutOut serves a byte-range [offset, offset+size) of another stream, such
// as one file's content area inside a larger image. No code in this module
// constructs one from an imported session's DataSource.
type CutOut struct {
	base         Stream
	offset, size int64
	pos          int64
	open         bool
}

// NewCutOut returns a Stream over [offset, offset+size) of base. base must
// support re-opening at arbitrary positions via its own Open/Read contract;
// CutOut reads and discards up to offset bytes on Open.
func NewCutOut(base Stream, offset, size int64) *CutOut {
	return &CutOut{base: base, offset: offset, size: size}
}

func (c *CutOut) Open() error {
	if c.open {
		return ierr.New(ierr.CodeWrongArgument, ierr.SevFailure, "cut-out already open", nil)
	}
	if err := c.base.Open(); err != nil {
		return err
	}
	remaining := c.offset
	skip := make([]byte, 32*1024)
	for remaining > 0 {
		chunk := int64(len(skip))
		if remaining < chunk {
			chunk = remaining
		}
		n, err := c.base.Read(skip[:chunk])
		remaining -= int64(n)
		if err != nil && err != io.EOF {
			c.base.Close()
			return err
		}
		if n == 0 {
			break
		}
	}
	c.pos = 0
	c.open = true
	return nil
}

func (c *CutOut) Close() error {
	if !c.open {
		return nil
	}
	c.open = false
	return c.base.Close()
}

func (c *CutOut) Read(buf []byte) (int, error) {
	if !c.open {
		return 0, ierr.New(ierr.CodeWrongArgument, ierr.SevFailure, "read on closed cut-out", nil)
	}
	remaining := c.size - c.pos
	if remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(buf)) > remaining {
		buf = buf[:remaining]
	}
	n, err := c.base.Read(buf)
	c.pos += int64(n)
	return n, err
}

func (c *CutOut) Size() (int64, error) { return c.size, nil }

func (c *CutOut) IsRepeatable() bool { return c.base.IsRepeatable() }

func (c *CutOut) StreamIdentity() Identity { return c.base.StreamIdentity() }

func (c *CutOut) Compare(other Stream) int {
	oc, ok := other.(*CutOut)
	if ok && oc.offset == c.offset && oc.size == c.size {
		return c.base.Compare(oc.base)
	}
	return compareIdentity(c.StreamIdentity(), other.StreamIdentity())
}

func (c *CutOut) Clone() (Stream, error) {
	baseClone, err := c.base.Clone()
	if err != nil {
		return nil, err
	}
	return NewCutOut(baseClone, c.offset, c.size), nil
}

func (c *CutOut) Input() Stream { return c.base }
