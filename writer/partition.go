package writer

import (
	"io"

	"github.com/kdsys/isoimage/stream"
)

// AppendedPartitionWriter is writer-list item 11: one per appended-
// partition entry (spec.md §6.1), streaming a caller-supplied payload
// aligned to its own boundary after the main session.
type AppendedPartitionWriter struct {
	Content stream.Stream
	Align   int // block alignment; 1 if none requested

	lba       uint32
	numBlocks uint32
}

func NewAppendedPartitionWriter(content stream.Stream, align int) *AppendedPartitionWriter {
	if align < 1 {
		align = 1
	}
	return &AppendedPartitionWriter{Content: content, Align: align}
}

func (w *AppendedPartitionWriter) ComputeDataBlocks(curblock uint32) (uint32, error) {
	aligned := curblock
	if rem := aligned % uint32(w.Align); rem != 0 {
		aligned += uint32(w.Align) - rem
	}
	size, err := w.Content.Size()
	if err != nil {
		return 0, err
	}
	w.lba = aligned
	w.numBlocks = uint32(blocksFor(int(size)))
	return aligned + w.numBlocks, nil
}

func (w *AppendedPartitionWriter) WriteVolDesc(sink Sink) error { return nil }

func (w *AppendedPartitionWriter) WriteData(sink Sink) error {
	if err := w.Content.Open(); err != nil {
		return err
	}
	defer w.Content.Close()

	buf := make([]byte, BlockSize)
	lba := w.lba
	for {
		n, err := w.Content.Read(buf)
		if n > 0 {
			block := buf
			if n < BlockSize {
				block = make([]byte, BlockSize)
				copy(block, buf[:n])
			}
			if werr := sink.EmitBlock(lba, block); werr != nil {
				return werr
			}
			lba++
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
	}
}

func (w *AppendedPartitionWriter) FreeData() error { return nil }
