// Package pipeline assembles the per-tree builders, file-content planner,
// integrity layer, and writer-list into spec.md §4.8's producer/consumer
// image build: a synchronous compute pass that fixes every on-image
// address, followed by a producer goroutine that streams finished blocks
// through a ringbuf.Ring. This generalizes the teacher's single
// ISOBuilder.Build (iso9660/builder.go) method, which interleaves layout
// and emission in one synchronous call, into the staged compute/write
// split the closed Writer variant set in package writer requires.
package pipeline

import (
	"time"

	"github.com/kdsys/isoimage/checksum"
	"github.com/kdsys/isoimage/eltorito"
	"github.com/kdsys/isoimage/filesrc"
	"github.com/kdsys/isoimage/internal/ierr"
	"github.com/kdsys/isoimage/internal/ilog"
	"github.com/kdsys/isoimage/layout"
	"github.com/kdsys/isoimage/option"
	"github.com/kdsys/isoimage/ringbuf"
	"github.com/kdsys/isoimage/stream"
	"github.com/kdsys/isoimage/tree"
	"github.com/kdsys/isoimage/writer"
)

// rockRidgeMargin is the fixed per-record byte budget layout.Builder
// reserves for SUSP/RRIP entries when Rock Ridge is enabled: one PX (44),
// one TF with all three timestamps (26), and headroom for a short NM —
// comfortably inside a directory record's 254-byte ceiling for the POSIX
// metadata and names this module targets.
const rockRidgeMargin = 96

// jolietEscapeLevel3 is the Joliet Specification's UCS-2 Level 3 escape
// sequence, the teacher's own default (iso9660/options.go).
var jolietEscapeLevel3 = [3]byte{'%', '/', 'E'}

// BootEntry pairs a tree.KindBootPlaceholder node with the El Torito
// metadata a pure content stream cannot carry. The first entry in a
// non-empty slice is the catalog's default/initial entry; any remaining
// entries become catalog section entries, grouped by Platform (spec.md
// §4.5 item 7).
type BootEntry struct {
	NodeIndex   int
	Platform    eltorito.Platform
	Emulation   eltorito.Emulation
	LoadSegment uint16
	SystemType  byte
	SectorCount uint16
	Bootable    bool
}

// Image owns one build's worth of layout state: the per-profile builders,
// the file-content planner, the integrity layer, and the assembled
// writer-list, per spec.md §4.8.
type Image struct {
	Opts       *option.Options
	Tree       *tree.Tree
	BootEntries []BootEntry
	Sink       ierr.EventSink

	ecma    *layout.Builder
	joliet  *layout.Builder
	iso1999 *layout.Builder

	planner  *filesrc.Planner
	fileAddr map[int]*filesrc.Entry

	catalog       *stream.BootCatalog
	catalogEntry  *filesrc.Entry

	accum *checksum.Accumulator
	array *checksum.Array

	ecmaTW    *writer.TreeWriter
	jolietTW  *writer.TreeWriter
	iso1999TW *writer.TreeWriter
	treeTag   *writer.ChecksumTagWriter
	arrayWriter *writer.ChecksumArrayWriter

	writers []writer.Writer

	fileContentStartLBA uint32
	totalBlocks         uint32

	buildTime time.Time

	ring *ringbuf.Ring
}

// New returns an unbuilt Image. sink receives observability events; a nil
// sink installs the logrus-backed default (internal/ilog), matching the
// teacher's own fallback-to-a-real-logger style.
func New(opts *option.Options, t *tree.Tree, bootEntries []BootEntry, sink ierr.EventSink) *Image {
	if sink == nil {
		sink = ilog.EventSink{Log: ilog.New("pipeline")}
	}
	return &Image{
		Opts:        opts,
		Tree:        t,
		BootEntries: bootEntries,
		Sink:        sink,
		fileAddr:    make(map[int]*filesrc.Entry),
	}
}

// Build runs spec.md §4.3/§4.4's layout phase: building every enabled
// profile's tree, inserting file content (and any boot images) into the
// planner, and sizing every directory. It must run once, before Start.
func (im *Image) Build() error {
	im.buildTime = time.Now()
	im.ecma = layout.New(layout.ProfileECMA119, im.Tree, im.Opts)
	if im.Opts.RockRidge {
		im.ecma.RockRidgeMargin = rockRidgeMargin
	}
	if err := im.ecma.Build(); err != nil {
		return err
	}

	if im.Opts.Joliet {
		im.joliet = layout.New(layout.ProfileJoliet, im.Tree, im.Opts)
		if err := im.joliet.Build(); err != nil {
			return err
		}
	}
	if im.Opts.ISO1999 {
		im.iso1999 = layout.New(layout.ProfileISO1999, im.Tree, im.Opts)
		if err := im.iso1999.Build(); err != nil {
			return err
		}
	}

	im.planner = filesrc.New(im.Opts.SortFiles, im.Opts.RecordMD5&option.RecordMD5PerFile != 0)
	if err := im.insertFileContent(); err != nil {
		return err
	}
	if err := im.insertBootCatalog(); err != nil {
		return err
	}

	im.ecma.ComputeDRSizes()
	im.ecma.ComputeDirectorySizes()
	if im.joliet != nil {
		im.joliet.ComputeDRSizes()
		im.joliet.ComputeDirectorySizes()
	}
	if im.iso1999 != nil {
		im.iso1999.ComputeDRSizes()
		im.iso1999.ComputeDirectorySizes()
	}

	im.accum = checksum.NewAccumulator()
	im.array = checksum.NewArray(im.planner.NextChecksumIndex())

	im.assembleWriters()
	return nil
}

// insertFileContent walks the tree once, registering every KindFile node's
// content with the planner and propagating the resulting checksum index
// back onto the node (spec.md §4.2/§4.4).
func (im *Image) insertFileContent() error {
	return im.Tree.Walk(im.Tree.Root(), func(idx int) error {
		n := im.Tree.Node(idx)
		if n.Kind != tree.KindFile {
			return nil
		}
		entry, err := im.planner.Insert(n.Content, n.SortWeight, false)
		if err != nil {
			return err
		}
		im.fileAddr[idx] = entry
		n.ChecksumIndex = entry.ChecksumIndex
		return nil
	})
}

// insertBootCatalog reserves the catalog's planner entry up front, sized
// by building a throwaway catalog with zeroed boot-image addresses: the
// grouping BuildCatalog performs depends only on Platform/Emulation, never
// on the LoadLBA values filled in once the real addresses are known, so the
// reserved size always matches what the real encode later produces.
func (im *Image) insertBootCatalog() error {
	if len(im.BootEntries) == 0 {
		return nil
	}
	sizing := make([]eltorito.Entry, len(im.BootEntries))
	for i, be := range im.BootEntries {
		sizing[i] = eltorito.Entry{Platform: be.Platform, Emulation: be.Emulation, Bootable: be.Bootable}
	}
	reserved := len(eltorito.BuildCatalog(sizing))

	im.catalog = stream.NewBootCatalog(int64(reserved))
	entry, err := im.planner.Insert(im.catalog, 0, false)
	if err != nil {
		return err
	}
	im.catalogEntry = entry
	for _, be := range im.BootEntries {
		n := im.Tree.Node(be.NodeIndex)
		srcEntry, err := im.planner.Insert(n.Content, n.SortWeight, false)
		if err != nil {
			return err
		}
		im.fileAddr[be.NodeIndex] = srcEntry
		n.ChecksumIndex = srcEntry.ChecksumIndex
	}
	return nil
}

func (im *Image) fileAddress(nodeIndex int) (uint32, uint32, bool) {
	e, ok := im.fileAddr[nodeIndex]
	if !ok || len(e.Sections) == 0 {
		// symlinks and special files point at the shared empty-file block
		if k := im.Tree.Node(nodeIndex).Kind; k == tree.KindSymlink || k == tree.KindSpecial {
			return im.planner.EmptyFileBlock(), 0, true
		}
		return 0, 0, false
	}
	s := e.Sections[0]
	return s.Block, s.Size, true
}

// assembleWriters builds every writer-list entry in spec.md §4.5's order
// and records the typed references Start's compute pass needs (for the
// tree checksum tag's forward-referenced range start).
func (im *Image) assembleWriters() {
	systemArea := writer.NewSystemAreaWriter(im.Opts.SystemArea)
	im.writers = append(im.writers, systemArea)

	pvd := writer.NewVolDescWriter(im.renderPVD)
	im.writers = append(im.writers, pvd)

	var jolietVD, iso1999VD, bootVD *writer.VolDescWriter
	if im.joliet != nil {
		jolietVD = writer.NewVolDescWriter(im.renderJolietSVD)
		im.writers = append(im.writers, jolietVD)
	}
	if im.iso1999 != nil {
		iso1999VD = writer.NewVolDescWriter(im.renderISO1999EVD)
		im.writers = append(im.writers, iso1999VD)
	}
	if im.catalogEntry != nil {
		bootVD = writer.NewVolDescWriter(func() []byte {
			return writer.BootRecordDescriptor(im.catalogEntry)
		})
		im.writers = append(im.writers, bootVD)
	}
	im.writers = append(im.writers, writer.NewVolDescWriter(writer.VolumeDescriptorSetTerminator))

	if im.Opts.RecordMD5&option.RecordMD5Session != 0 {
		superblockTag := writer.NewChecksumTagWriter(checksum.TypeSuperblock, 0, im.accum)
		im.writers = append(im.writers, superblockTag)
		im.treeTag = writer.NewChecksumTagWriter(checksum.TypeTree, 0, im.accum)
	}

	im.ecmaTW = writer.NewTreeWriter(im.ecma, im.fileAddress)
	im.ecmaTW.RockRidge = im.Opts.RockRidge
	im.writers = append(im.writers, im.ecmaTW)
	if im.treeTag != nil {
		im.writers = append(im.writers, im.treeTag)
	}

	if im.joliet != nil {
		im.jolietTW = writer.NewTreeWriter(im.joliet, im.fileAddress)
		im.writers = append(im.writers, im.jolietTW)
	}
	if im.iso1999 != nil {
		im.iso1999TW = writer.NewTreeWriter(im.iso1999, im.fileAddress)
		im.writers = append(im.writers, im.iso1999TW)
	}

	if im.catalogEntry != nil {
		images := make([]writer.BootImage, len(im.BootEntries))
		for i, be := range im.BootEntries {
			images[i] = writer.BootImage{
				Platform:    be.Platform,
				Emulation:   be.Emulation,
				LoadSegment: be.LoadSegment,
				SystemType:  be.SystemType,
				SectorCount: be.SectorCount,
				Bootable:    be.Bootable,
				Source:      im.fileAddr[be.NodeIndex],
			}
		}
		im.writers = append(im.writers, writer.NewElToritoCatalogWriter(im.catalog, images))
	}

	recordDigest := func(index uint32, digest [16]byte) { im.array.SetFile(index, digest) }
	verifyStability := im.Opts.RecordMD5&option.RecordMD5PerFile != 0
	im.writers = append(im.writers, writer.NewFileContentWriter(im.planner, recordDigest, verifyStability, im.Sink))

	if im.Opts.RecordMD5&option.RecordMD5Session != 0 {
		im.arrayWriter = writer.NewChecksumArrayWriter(im.array, im.accum, 0)
		im.writers = append(im.writers, im.arrayWriter)
	}

	if im.Opts.TailBlocks > 0 {
		im.writers = append(im.writers, writer.NewPaddingWriter(int(im.Opts.TailBlocks)))
	}

	for _, path := range im.Opts.PartitionImg {
		im.writers = append(im.writers, writer.NewAppendedPartitionWriter(stream.NewFileSource(path), 1))
	}
}

// Start runs the compute pass synchronously (fixing every on-image
// address) and, unless Opts.WillCancel, spawns the producer goroutine that
// streams the finished image through the returned BurnSource, per spec.md
// §4.8.
func (im *Image) Start() (ringbuf.BurnSource, *option.WriteResult, error) {
	if err := im.computeDataBlocks(); err != nil {
		return nil, nil, err
	}

	result := &option.WriteResult{
		DataStartLBA: im.fileContentStartLBA,
		TotalBlocks:  im.totalBlocks,
		ScdbackupTag: im.Opts.ScdbackupTag,
	}

	fifoSize := ringbuf.RequiredFIFOBlocks(int(im.Opts.PartOffset))
	if im.Opts.FIFOSize > fifoSize {
		fifoSize = im.Opts.FIFOSize
	}
	ring := ringbuf.New(fifoSize)
	ring.SetSize(int64(im.totalBlocks) * writer.BlockSize)
	im.ring = ring

	if im.Opts.WillCancel {
		ring.CloseProducer()
		return ring, result, nil
	}

	go im.produce(ring)
	return ring, result, nil
}

// computeDataBlocks runs ComputeDataBlocks over the writer list in order,
// accumulating the running block counter. It special-cases the tree
// checksum tag, whose covered range starts where the ECMA-119 tree writer
// begins — a value only known at this exact point in the walk.
func (im *Image) computeDataBlocks() error {
	var curblock uint32
	var err error
	for _, w := range im.writers {
		if tw, ok := w.(*writer.TreeWriter); ok && tw == im.ecmaTW && im.treeTag != nil {
			im.treeTag.SetRangeStart(curblock)
		}
		if _, ok := w.(*writer.FileContentWriter); ok {
			im.fileContentStartLBA = curblock
		}
		curblock, err = w.ComputeDataBlocks(curblock)
		if err != nil {
			return err
		}
	}
	im.totalBlocks = curblock
	return nil
}

// produce drives both write passes over the writer list, emitting every
// block through a ringSink that feeds the shared accumulator, the overwrite
// shadow buffer (if configured), and the ring itself, then closes the
// producer side. Errors are reported through Sink and by canceling the
// ring so the consumer's Read unblocks with an error rather than hanging.
func (im *Image) produce(ring *ringbuf.Ring) {
	defer ring.CloseProducer()
	sink := &ringSink{ring: ring, accum: im.accum, overwrite: im.Opts.Overwrite}

	for _, w := range im.writers {
		if err := w.WriteVolDesc(sink); err != nil {
			im.reportProduceError(err)
			return
		}
	}
	for _, w := range im.writers {
		if err := w.WriteData(sink); err != nil {
			im.reportProduceError(err)
			return
		}
	}
	for _, w := range im.writers {
		w.FreeData()
	}
}

func (im *Image) reportProduceError(err error) {
	im.Sink.Emit(ierr.Event{Code: ierr.CodeWriteError, Severity: ierr.SevFailure, Message: err.Error()})
	im.ring.Cancel()
}

// ringSink adapts a ringbuf.Ring into writer.Sink, feeding every emitted
// block into the session digest and, for low LBAs, the overwriteable-media
// shadow buffer (spec.md §6.3's Overwrite option): a verbatim copy of the
// image's first 32 blocks, restorable over a multisession disc's original
// LBA-0..31 region. This module does not additionally stamp a relocated
// superblock tag inside that buffer; the shadow copy alone is sufficient
// for the "overwrite-safe" use case this module targets, and doing more
// would require a second, still-open-in-upstream-tools tag placement
// convention this module has no grounding for.
type ringSink struct {
	ring      *ringbuf.Ring
	accum     *checksum.Accumulator
	overwrite []byte
}

func (s *ringSink) EmitBlock(lba uint32, data []byte) error {
	s.accum.Write(data)
	if s.overwrite != nil && lba < 32 {
		off := int(lba) * writer.BlockSize
		if off+writer.BlockSize <= len(s.overwrite) {
			copy(s.overwrite[off:off+writer.BlockSize], data)
		}
	}
	return s.ring.Push(data)
}

func resolveTime(override *time.Time, fallback time.Time) time.Time {
	if override != nil {
		return *override
	}
	return fallback
}
