package writer

import (
	"crypto/md5"

	"github.com/kdsys/isoimage/filesrc"
	"github.com/kdsys/isoimage/internal/ierr"
)

// digestRecorderAdapter adapts a plain function into filesrc.DigestRecorder.
type digestRecorderAdapter struct {
	Record func(index uint32, digest [md5.Size]byte)
}

func (d digestRecorderAdapter) RecordFileDigest(index uint32, digest [md5.Size]byte) {
	d.Record(index, digest)
}

// FileContentWriter is writer-list item 8: it owns the file-content
// planner and is responsible for emitting the shared empty-file block plus
// every file's content in planner-determined order.
type FileContentWriter struct {
	Planner         *filesrc.Planner
	VerifyStability bool
	Sink            ierr.EventSink
	ReuseEmptyBlock *uint32

	digests digestRecorderAdapter
}

// NewFileContentWriter returns a writer over planner, recording finished
// per-file digests through record.
func NewFileContentWriter(planner *filesrc.Planner, record func(index uint32, digest [md5.Size]byte), verifyStability bool, sink ierr.EventSink) *FileContentWriter {
	return &FileContentWriter{
		Planner:         planner,
		VerifyStability: verifyStability,
		Sink:            sink,
		digests:         digestRecorderAdapter{Record: record},
	}
}

func (w *FileContentWriter) ComputeDataBlocks(curblock uint32) (uint32, error) {
	w.Planner.PreCompute(w.ReuseEmptyBlock)
	w.Planner.ComputeDataBlocks(curblock)
	return curblock + w.Planner.TotalBlocks(), nil
}

func (w *FileContentWriter) WriteVolDesc(sink Sink) error { return nil }

func (w *FileContentWriter) WriteData(sink Sink) error {
	return w.Planner.Write(sink, w.digests, w.VerifyStability, w.Sink)
}

func (w *FileContentWriter) FreeData() error { return nil }
