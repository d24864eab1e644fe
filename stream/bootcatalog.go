package stream

import (
	"bytes"
	"io"

	"github.com/kdsys/isoimage/internal/ierr"
)

// BootCatalog is a placeholder stream for the El Torito boot catalog
// (spec.md §3, "BootPlaceholder"). Its bytes are not known until the
// El Torito writer's ComputeDataBlocks phase has assigned every boot
// image's LBA; the writer calls Finalize with the encoded catalog once that
// is known, before the write-data pass reaches this stream.
type BootCatalog struct {
	reservedSize int64
	data         []byte
	r            *bytes.Reader
	id           Identity
}

// NewBootCatalog returns an unfinalized boot catalog stream. reservedSize is
// the catalog's byte length as the file-content planner must reserve it
// before the real boot-image LBAs (and so the real encoded bytes) are
// known; it must equal len(data) at Finalize time.
func NewBootCatalog(reservedSize int64) *BootCatalog {
	return &BootCatalog{reservedSize: reservedSize, id: NextSyntheticIdentity()}
}

// Finalize installs the encoded catalog bytes. Must be called before Open.
func (b *BootCatalog) Finalize(data []byte) { b.data = data }

func (b *BootCatalog) Open() error {
	if b.data == nil {
		return ierr.New(ierr.CodeWrongArgument, ierr.SevFailure, "boot catalog read before Finalize", nil)
	}
	b.r = bytes.NewReader(b.data)
	return nil
}

func (b *BootCatalog) Close() error {
	b.r = nil
	return nil
}

func (b *BootCatalog) Read(buf []byte) (int, error) {
	if b.r == nil {
		return 0, ierr.New(ierr.CodeWrongArgument, ierr.SevFailure, "read on closed boot catalog", nil)
	}
	n, err := b.r.Read(buf)
	if err == io.EOF && n > 0 {
		return n, nil
	}
	return n, err
}

func (b *BootCatalog) Size() (int64, error) {
	if b.data == nil {
		return b.reservedSize, nil
	}
	return int64(len(b.data)), nil
}

func (b *BootCatalog) IsRepeatable() bool { return true }

func (b *BootCatalog) StreamIdentity() Identity { return b.id }

func (b *BootCatalog) Compare(other Stream) int {
	return compareIdentity(b.id, other.StreamIdentity())
}

func (b *BootCatalog) Clone() (Stream, error) { return nil, errNoClone }

func (b *BootCatalog) Input() Stream { return nil }
