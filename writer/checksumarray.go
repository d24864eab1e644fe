package writer

import "github.com/kdsys/isoimage/checksum"

// ChecksumArrayWriter implements writer-list item 9: it packs the per-file
// MD5 array into whole blocks and follows it with the session checksum
// tag, per spec.md §4.5/§4.7. The per-file slots must already be populated
// (by the file-content writer, which runs earlier in the list) by the time
// WriteData is called.
type ChecksumArrayWriter struct {
	Array      *checksum.Array
	Accum      *checksum.Accumulator
	RangeStart uint32 // session start LBA (ms_block)

	lba         uint32
	sessionLBA  uint32
	packedBlocks int
}

func NewChecksumArrayWriter(array *checksum.Array, accum *checksum.Accumulator, rangeStart uint32) *ChecksumArrayWriter {
	return &ChecksumArrayWriter{Array: array, Accum: accum, RangeStart: rangeStart}
}

// SessionTagLBA returns the final session-tag block's address, valid after
// ComputeDataBlocks.
func (w *ChecksumArrayWriter) SessionTagLBA() uint32 { return w.sessionLBA }

func (w *ChecksumArrayWriter) ComputeDataBlocks(curblock uint32) (uint32, error) {
	w.lba = curblock
	w.packedBlocks = w.Array.PackedBlocks()
	w.sessionLBA = curblock + uint32(w.packedBlocks)
	return w.sessionLBA + 1, nil
}

func (w *ChecksumArrayWriter) WriteVolDesc(sink Sink) error { return nil }

func (w *ChecksumArrayWriter) WriteData(sink Sink) error {
	// The array's own session slot records the digest of everything before
	// the array; the session tag that follows records the digest of
	// everything up to (and not including) the tag block itself, so it
	// also covers the array's own bytes. The two are deliberately distinct
	// digests serving distinct purposes, resolving an otherwise circular
	// definition (spec.md §9).
	w.Array.SetSession(w.Accum.Sum())
	packed := w.Array.Finalize()
	blocks := packArrayBlocks(packed, w.packedBlocks)
	for i, b := range blocks {
		if err := sink.EmitBlock(w.lba+uint32(i), b); err != nil {
			return err
		}
	}

	tag := checksum.Tag{
		Type:        checksum.TypeSession,
		ExpectedLBA: w.sessionLBA,
		RangeStart:  w.RangeStart,
		RangeSize:   w.sessionLBA - w.RangeStart,
		MD5:         w.Accum.Sum(),
	}
	return sink.EmitBlock(w.sessionLBA, tag.Marshal())
}

func (w *ChecksumArrayWriter) FreeData() error { return nil }

func packArrayBlocks(packed [][16]byte, numBlocks int) [][]byte {
	flat := make([]byte, numBlocks*BlockSize)
	for i, s := range packed {
		copy(flat[i*16:], s[:])
	}
	out := make([][]byte, numBlocks)
	for i := 0; i < numBlocks; i++ {
		out[i] = flat[i*BlockSize : (i+1)*BlockSize]
	}
	return out
}
