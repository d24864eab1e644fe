// Package filesrc implements the file-content planner spec.md §4.4 calls
// the "filesrc writer": a deduplication set of file-content entries keyed
// by stream identity, sort-weight ordering, multi-extent splitting, block
// assignment, and content streaming during the write pass.
package filesrc

import (
	"crypto/md5"
	"io"

	"github.com/kdsys/isoimage/internal/ierr"
	"github.com/kdsys/isoimage/stream"
)

// SectorSize is the on-image logical block size.
const SectorSize = 2048

// ISOExtentSize is the maximum byte size of one file section, rounded down
// from 2^32-1 to a block boundary so every non-final section is an exact
// multiple of SectorSize (spec.md §3/§4.4: "sections ... of ≤ 2^32−1 bytes
// each; all but the last are exactly ISO_EXTENT_SIZE").
const ISOExtentSize int64 = (1 << 32) - SectorSize

// extentBlocks is ISOExtentSize in whole blocks.
const extentBlocks = uint32(ISOExtentSize / SectorSize)

// SentinelExternal marks a section whose block address is supplied by the
// caller out of band (an appended partition payload): it is excluded from
// block bookkeeping and content emission but keeps its address for
// descriptors, per spec.md §4.4 and original_source/libisofs/filesrc.c.
const SentinelExternal uint32 = 0xfffffffe

// Section is one {block-address, byte-size} pair describing a contiguous
// extent of a file's content.
type Section struct {
	Block uint32
	Size  uint32
}

// Entry is a FileContentEntry ("IsoFileSrc" in spec.md §3): the unique,
// deduplicated record behind one or more file nodes sharing the same
// content.
type Entry struct {
	Stream    stream.Stream
	SortWeight int32
	// NoWrite marks an entry inherited from an imported session: its
	// sections keep their old addresses and are never re-emitted.
	NoWrite bool
	// External marks an entry whose single section is a caller-supplied
	// partition payload; its address is the sentinel and it is skipped
	// during content write.
	External bool

	Sections      []Section
	ChecksumIndex uint32

	size int64
}

// sectionCount implements spec.md §8's section-sizing invariant:
// max(1, ceil((size − ISO_EXTENT_SIZE) / ISO_EXTENT_SIZE) + 1).
func sectionCount(size int64) int {
	if size <= ISOExtentSize {
		return 1
	}
	remainder := size - ISOExtentSize
	n := int((remainder + ISOExtentSize - 1) / ISOExtentSize)
	return n + 1
}

// Planner owns the dedup set and the ordered layout pass.
type Planner struct {
	SortByWeight bool
	RecordMD5    bool

	entries []*Entry
	order   []*Entry

	nextChecksumIndex uint32
	filesrcBlocks     uint32
	emptyFileBlock    uint32
	reusedEmptyBlock  bool
	curblock          uint32
}

// New returns an empty Planner.
func New(sortByWeight, recordMD5 bool) *Planner {
	return &Planner{SortByWeight: sortByWeight, RecordMD5: recordMD5}
}

// Insert implements spec.md §4.4's insert path, called by a layout builder
// for each file node. On a dedup hit it returns the existing entry so the
// caller can propagate its checksum index to the new node.
func (p *Planner) Insert(s stream.Stream, sortWeight int32, noWrite bool) (*Entry, error) {
	for _, e := range p.entries {
		if e.Stream.Compare(s) == 0 {
			return e, nil
		}
	}
	size, err := s.Size()
	if err != nil {
		return nil, err
	}
	entry := &Entry{
		Stream:     s,
		SortWeight: sortWeight,
		NoWrite:    noWrite,
		Sections:   make([]Section, sectionCount(size)),
		size:       size,
	}
	p.entries = append(p.entries, entry)
	if p.RecordMD5 && !noWrite {
		p.nextChecksumIndex++
		entry.ChecksumIndex = p.nextChecksumIndex
	}
	return entry, nil
}

// InsertExternal registers a caller-supplied partition payload at the
// sentinel address, excluded from block bookkeeping and content emission.
func (p *Planner) InsertExternal(size int64) *Entry {
	entry := &Entry{
		External: true,
		Sections: []Section{{Block: SentinelExternal, Size: uint32(size)}},
		size:     size,
	}
	p.entries = append(p.entries, entry)
	return entry
}

// NextChecksumIndex returns how many checksum slots this planner has
// allocated so far.
func (p *Planner) NextChecksumIndex() uint32 { return p.nextChecksumIndex }

// EmptyFileBlock returns the shared target block every empty file,
// symlink, and special node points to, valid after PreCompute.
func (p *Planner) EmptyFileBlock() uint32 { return p.emptyFileBlock }

// PreCompute implements spec.md §4.4's layout phase: it materializes the
// dedup set into a flat array (excluding no_write and external entries,
// which need no new address), optionally sorts by decreasing weight,
// reserves the empty-file target block, and assigns section addresses.
// reuseEmptyBlock, if non-nil, is an empty-file block inherited from an
// imported session and is used instead of reserving a fresh one.
func (p *Planner) PreCompute(reuseEmptyBlock *uint32) {
	p.order = p.order[:0]
	for _, e := range p.entries {
		if e.NoWrite || e.External {
			continue
		}
		p.order = append(p.order, e)
	}
	if p.SortByWeight {
		stableSortByWeight(p.order)
	}

	var blocks uint32
	if reuseEmptyBlock != nil {
		p.emptyFileBlock = *reuseEmptyBlock
		p.reusedEmptyBlock = true
	} else {
		p.emptyFileBlock = blocks
		blocks++
		p.reusedEmptyBlock = false
	}

	for _, e := range p.order {
		n := len(e.Sections)
		for i := 0; i < n; i++ {
			last := i == n-1
			if !last {
				e.Sections[i] = Section{Block: blocks, Size: uint32(ISOExtentSize)}
				blocks += extentBlocks
				continue
			}
			remainder := e.size - int64(i)*ISOExtentSize
			if remainder <= 0 {
				e.Sections[i] = Section{Block: p.emptyFileBlock, Size: 0}
				continue
			}
			e.Sections[i] = Section{Block: blocks, Size: uint32(remainder)}
			blocks += uint32((remainder + SectorSize - 1) / SectorSize)
		}
	}
	p.filesrcBlocks = blocks
}

func stableSortByWeight(entries []*Entry) {
	// simple stable insertion sort: the planner's entry count is bounded by
	// the tree's file count, which for this module's target sizes does not
	// warrant pulling in a sort.Interface implementation.
	for i := 1; i < len(entries); i++ {
		j := i
		for j > 0 && entries[j-1].SortWeight < entries[j].SortWeight {
			entries[j-1], entries[j] = entries[j], entries[j-1]
			j--
		}
	}
}

// TotalBlocks returns how many blocks PreCompute reserved, relative to its
// own start; this is the writer's block-accounting contribution.
func (p *Planner) TotalBlocks() uint32 { return p.filesrcBlocks }

// ComputeDataBlocks implements spec.md §4.4's finalize phase: it adds
// curblock to every non-sentinel, non-reused-import section address and
// resolves the empty-file placeholder.
func (p *Planner) ComputeDataBlocks(curblock uint32) {
	p.curblock = curblock
	relativeEmptyBlock := p.emptyFileBlock
	if !p.reusedEmptyBlock {
		p.emptyFileBlock += curblock
	}
	for _, e := range p.order {
		for i := range e.Sections {
			sec := &e.Sections[i]
			if sec.Block == SentinelExternal {
				continue
			}
			if sec.Size == 0 && sec.Block == relativeEmptyBlock {
				sec.Block = p.emptyFileBlock
				continue
			}
			sec.Block += curblock
		}
	}
}

// BlockEmitter is the write-path's block-emit primitive: every call passes
// through the running MD5 context (spec.md §4.7).
type BlockEmitter interface {
	EmitBlock(lba uint32, data []byte) error
}

// DigestRecorder receives a finished per-file MD5 digest for storage in the
// checksum array.
type DigestRecorder interface {
	RecordFileDigest(checksumIndex uint32, digest [md5.Size]byte)
}

// Write implements spec.md §4.4's write phase: iterate the planned order,
// open each stream, emit its blocks (zero-padding short reads, truncating
// long ones), and finalize a per-file MD5 into DigestRecorder. It also
// emits the single empty-file target block once, unless it was inherited
// from an import.
func (p *Planner) Write(emit BlockEmitter, digests DigestRecorder, verifyStability bool, sink ierr.EventSink) error {
	if !p.reusedEmptyBlock {
		if err := emit.EmitBlock(p.emptyFileBlock, make([]byte, SectorSize)); err != nil {
			return err
		}
	}
	for _, e := range p.order {
		if err := p.writeEntry(e, emit, digests, verifyStability, sink); err != nil {
			return err
		}
	}
	return nil
}

func (p *Planner) writeEntry(e *Entry, emit BlockEmitter, digests DigestRecorder, verifyStability bool, sink ierr.EventSink) error {
	var preHash [md5.Size]byte
	havePreHash := false
	if verifyStability && e.ChecksumIndex != 0 {
		h := md5.New()
		if err := streamInto(e.Stream, h); err == nil {
			copy(preHash[:], h.Sum(nil))
			havePreHash = true
		}
	}

	if err := e.Stream.Open(); err != nil {
		sink.Emit(ierr.Event{Code: ierr.CodeFileOpenFailed, Severity: ierr.SevWarning, Message: "file open failed, emitting zero blocks"})
		return p.emitZeroSections(e, emit)
	}
	defer e.Stream.Close()

	h := md5.New()
	buf := make([]byte, SectorSize)
	for _, sec := range e.Sections {
		if sec.Size == 0 {
			continue
		}
		remaining := int64(sec.Size)
		lba := sec.Block
		for remaining > 0 {
			n, err := e.Stream.Read(buf)
			if n > 0 {
				h.Write(buf[:n])
				block := buf
				if n < SectorSize {
					block = make([]byte, SectorSize)
					copy(block, buf[:n])
				}
				if werr := emit.EmitBlock(lba, block); werr != nil {
					return werr
				}
				lba++
				remaining -= int64(n)
			}
			if err == io.EOF {
				if remaining > 0 {
					sink.Emit(ierr.Event{Code: ierr.CodePrematureEOF, Severity: ierr.SevWarning, Message: "short read, padding with zeros"})
					for remaining > 0 {
						if werr := emit.EmitBlock(lba, make([]byte, SectorSize)); werr != nil {
							return werr
						}
						lba++
						remaining -= SectorSize
					}
				}
				break
			}
			if err != nil {
				return ierr.New(ierr.CodeFileReadErrorDuringEmission, ierr.SevSorry, "reading file content during emission", err)
			}
			if n == 0 {
				break
			}
		}
	}

	var digest [md5.Size]byte
	copy(digest[:], h.Sum(nil))
	if havePreHash && digest != preHash {
		sink.Emit(ierr.Event{Code: ierr.CodeContentChangedDuringWrite, Severity: ierr.SevMishap, Message: "file content changed between pre-read and write"})
	}
	if e.ChecksumIndex != 0 {
		digests.RecordFileDigest(e.ChecksumIndex, digest)
	}
	return nil
}

func (p *Planner) emitZeroSections(e *Entry, emit BlockEmitter) error {
	for _, sec := range e.Sections {
		if sec.Size == 0 {
			continue
		}
		blocks := (sec.Size + SectorSize - 1) / SectorSize
		for i := uint32(0); i < blocks; i++ {
			if err := emit.EmitBlock(sec.Block+i, make([]byte, SectorSize)); err != nil {
				return err
			}
		}
	}
	return nil
}

func streamInto(s stream.Stream, w io.Writer) error {
	if err := s.Open(); err != nil {
		return err
	}
	defer s.Close()
	buf := make([]byte, SectorSize)
	for {
		n, err := s.Read(buf)
		if n > 0 {
			w.Write(buf[:n])
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
