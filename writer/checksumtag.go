package writer

import "github.com/kdsys/isoimage/checksum"

// ChecksumTagWriter emits one of spec.md §4.7's four tag blocks. RangeStart
// is set at construction or, during the compute pass, by SetRangeStart (the
// session or tree start LBA this tag covers); RangeSize follows from the
// tag's own LBA, and the accumulated MD5 is read from Accum at WriteData
// time, after every preceding writer has fed it their blocks.
type ChecksumTagWriter struct {
	Type       checksum.Type
	RangeStart uint32
	Accum      *checksum.Accumulator

	lba uint32
}

func NewChecksumTagWriter(typ checksum.Type, rangeStart uint32, accum *checksum.Accumulator) *ChecksumTagWriter {
	return &ChecksumTagWriter{Type: typ, RangeStart: rangeStart, Accum: accum}
}

// SetRangeStart overrides the tag's covered range start, for tags whose
// start LBA (the position a writer earlier in the list ends up at) is only
// known once the compute pass reaches this point.
func (w *ChecksumTagWriter) SetRangeStart(lba uint32) { w.RangeStart = lba }

// LBA returns this tag's on-image block address, valid after
// ComputeDataBlocks.
func (w *ChecksumTagWriter) LBA() uint32 { return w.lba }

func (w *ChecksumTagWriter) ComputeDataBlocks(curblock uint32) (uint32, error) {
	w.lba = curblock
	return curblock + 1, nil
}

func (w *ChecksumTagWriter) WriteVolDesc(sink Sink) error { return nil }

func (w *ChecksumTagWriter) WriteData(sink Sink) error {
	tag := checksum.Tag{
		Type:        w.Type,
		ExpectedLBA: w.lba,
		RangeStart:  w.RangeStart,
		RangeSize:   w.lba - w.RangeStart,
		MD5:         w.Accum.Sum(),
	}
	return sink.EmitBlock(w.lba, tag.Marshal())
}

func (w *ChecksumTagWriter) FreeData() error { return nil }
