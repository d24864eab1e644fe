package writer

// SystemAreaWriter occupies the fixed 16-block system area at the very
// start of the session (spec.md §6.1), carrying whatever boot-loader
// payload (MBR, GPT, APM, SUN label, CHRP) the caller supplied via options.
type SystemAreaWriter struct {
	Data []byte // caller-supplied system area content, zero-padded to 16 blocks

	lba uint32
}

const SystemAreaBlocks = 16

func NewSystemAreaWriter(data []byte) *SystemAreaWriter {
	return &SystemAreaWriter{Data: data}
}

func (w *SystemAreaWriter) ComputeDataBlocks(curblock uint32) (uint32, error) {
	w.lba = curblock
	return curblock + SystemAreaBlocks, nil
}

func (w *SystemAreaWriter) WriteVolDesc(sink Sink) error {
	blocks := padOrTruncate(w.Data, SystemAreaBlocks)
	for i := 0; i < SystemAreaBlocks; i++ {
		if err := sink.EmitBlock(w.lba+uint32(i), blocks[i*BlockSize:(i+1)*BlockSize]); err != nil {
			return err
		}
	}
	return nil
}

func (w *SystemAreaWriter) WriteData(sink Sink) error { return nil }
func (w *SystemAreaWriter) FreeData() error           { w.Data = nil; return nil }

// VolDescWriter emits exactly one volume-descriptor block. Render is called
// at WriteVolDesc time, after every writer's ComputeDataBlocks has run, so
// it may reference final LBAs (tree roots, path tables) computed by other
// writers that ran earlier in the compute pass.
type VolDescWriter struct {
	Render func() []byte

	lba uint32
}

func NewVolDescWriter(render func() []byte) *VolDescWriter {
	return &VolDescWriter{Render: render}
}

// LBA returns this descriptor's on-image block address, valid after
// ComputeDataBlocks.
func (w *VolDescWriter) LBA() uint32 { return w.lba }

func (w *VolDescWriter) ComputeDataBlocks(curblock uint32) (uint32, error) {
	w.lba = curblock
	return curblock + 1, nil
}

func (w *VolDescWriter) WriteVolDesc(sink Sink) error {
	return sink.EmitBlock(w.lba, padOrTruncate(w.Render(), 1))
}

func (w *VolDescWriter) WriteData(sink Sink) error { return nil }
func (w *VolDescWriter) FreeData() error           { w.Render = nil; return nil }

// PaddingWriter emits a run of zero blocks, used for the tail-padding
// option and for any fixed reservation that carries no content of its own.
type PaddingWriter struct {
	NumBlocks int

	lba uint32
}

func NewPaddingWriter(numBlocks int) *PaddingWriter {
	return &PaddingWriter{NumBlocks: numBlocks}
}

func (w *PaddingWriter) ComputeDataBlocks(curblock uint32) (uint32, error) {
	w.lba = curblock
	return curblock + uint32(w.NumBlocks), nil
}

func (w *PaddingWriter) WriteVolDesc(sink Sink) error { return nil }

func (w *PaddingWriter) WriteData(sink Sink) error {
	zero := make([]byte, BlockSize)
	for i := 0; i < w.NumBlocks; i++ {
		if err := sink.EmitBlock(w.lba+uint32(i), zero); err != nil {
			return err
		}
	}
	return nil
}

func (w *PaddingWriter) FreeData() error { return nil }
