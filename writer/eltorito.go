package writer

import (
	"github.com/kdsys/isoimage/eltorito"
	"github.com/kdsys/isoimage/filesrc"
	"github.com/kdsys/isoimage/stream"
)

// BootImage is one boot entry backed by a file-content planner entry; its
// content address is only known once the file-content writer's compute
// pass has run.
type BootImage struct {
	Platform    eltorito.Platform
	Emulation   eltorito.Emulation
	LoadSegment uint16
	SystemType  byte
	SectorCount uint16
	Bootable    bool

	Source *filesrc.Entry
}

// ElToritoCatalogWriter is writer-list item 7. It contributes no blocks of
// its own: the catalog stream was already inserted into the file-content
// planner like any other file, so its space is accounted for there. This
// writer's job is to build the catalog's bytes from the now-resolved boot
// image addresses and hand them to the catalog stream before the
// file-content writer (item 8) reads it, relying on the same whole-list
// compute-before-any-write ordering TreeWriter depends on for directory
// records.
type ElToritoCatalogWriter struct {
	Images  []BootImage
	Catalog *stream.BootCatalog
}

func NewElToritoCatalogWriter(catalog *stream.BootCatalog, images []BootImage) *ElToritoCatalogWriter {
	return &ElToritoCatalogWriter{Catalog: catalog, Images: images}
}

func (w *ElToritoCatalogWriter) ComputeDataBlocks(curblock uint32) (uint32, error) {
	return curblock, nil
}

func (w *ElToritoCatalogWriter) WriteVolDesc(sink Sink) error { return nil }

func (w *ElToritoCatalogWriter) WriteData(sink Sink) error {
	entries := make([]eltorito.Entry, len(w.Images))
	for i, img := range w.Images {
		entries[i] = eltorito.Entry{
			Platform:    img.Platform,
			Emulation:   img.Emulation,
			LoadSegment: img.LoadSegment,
			SystemType:  img.SystemType,
			SectorCount: img.SectorCount,
			Bootable:    img.Bootable,
			LoadLBA:     img.Source.Sections[0].Block,
		}
	}
	w.Catalog.Finalize(eltorito.BuildCatalog(entries))
	return nil
}

func (w *ElToritoCatalogWriter) FreeData() error { return nil }

// BootRecordDescriptor renders the volume descriptor announcing the
// catalog's address, for use as one of item 2's VolDescWriter.Render
// functions; catalog is read at write time, after its own planner entry
// has a resolved address.
func BootRecordDescriptor(catalog *filesrc.Entry) []byte {
	return eltorito.BootRecordDescriptor(catalog.Sections[0].Block)
}
