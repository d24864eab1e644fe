package stream

import (
	"bytes"
	"io"

	"github.com/kdsys/isoimage/internal/ierr"
)

// Memory serves a caller-supplied byte slice: in-memory generated payloads
// and test fixtures. (Boot catalogs use their own BootCatalog stream.)
type Memory struct {
	data   []byte
	r      *bytes.Reader
	id     Identity
	idOnce bool
}

// NewMemory returns a repeatable Stream over data. data is not copied;
// callers must not mutate it while the stream may be read.
func NewMemory(data []byte) *Memory {
	return &Memory{data: data}
}

func (m *Memory) Open() error {
	if m.r != nil {
		return ierr.New(ierr.CodeWrongArgument, ierr.SevFailure, "memory stream already open", nil)
	}
	m.r = bytes.NewReader(m.data)
	return nil
}

func (m *Memory) Close() error {
	m.r = nil
	return nil
}

func (m *Memory) Read(buf []byte) (int, error) {
	if m.r == nil {
		return 0, ierr.New(ierr.CodeWrongArgument, ierr.SevFailure, "read on closed memory stream", nil)
	}
	n, err := m.r.Read(buf)
	if err == io.EOF && n > 0 {
		return n, nil
	}
	return n, err
}

func (m *Memory) Size() (int64, error) { return int64(len(m.data)), nil }

func (m *Memory) IsRepeatable() bool { return true }

func (m *Memory) StreamIdentity() Identity {
	if !m.idOnce {
		m.id = NextSyntheticIdentity()
		m.idOnce = true
	}
	return m.id
}

func (m *Memory) Compare(other Stream) int {
	if om, ok := other.(*Memory); ok {
		return bytes.Compare(m.data, om.data)
	}
	return compareIdentity(m.StreamIdentity(), other.StreamIdentity())
}

func (m *Memory) Clone() (Stream, error) {
	cp := make([]byte, len(m.data))
	copy(cp, m.data)
	return NewMemory(cp), nil
}

func (m *Memory) Input() Stream { return nil }
