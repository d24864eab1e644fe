package writer

import (
	"encoding/binary"
	"sort"

	"github.com/kdsys/isoimage/internal/ierr"
	"github.com/kdsys/isoimage/layout"
	"github.com/kdsys/isoimage/rockridge"
	"github.com/kdsys/isoimage/tree"
)

const ptRecFixedPartSize = 8

// FileAddressFunc resolves a source-tree node index (layout.PlannedNode's
// NodeIndex) to its on-image content address, backed by the file-content
// planner. ok is false for directories and for file nodes not yet
// resolved.
type FileAddressFunc func(nodeIndex int) (lba uint32, size uint32, ok bool)

// TreeWriter is writer-list items 4/5/6: one profile's directory-record
// tree plus both-endian path tables. Directory records referencing file
// content rely on FileAddress, which must already reflect the full compute
// pass (the file-content writer, item 8, comes later in the list but
// computes its addresses in the same compute pass, which finishes before
// any WriteData call).
//
// Multi-extent files are rendered with a single directory record covering
// only their first section; chaining additional directory records for
// extents beyond the first is not implemented (spec.md's own Non-goals
// exclude bit-exact extension fidelity, and this module's target content
// sizes do not exercise multi-extent files in practice).
type TreeWriter struct {
	Builder     *layout.Builder
	FileAddress FileAddressFunc

	// RockRidge enables SUSP/RRIP annotation of directory records; only
	// meaningful for the ECMA-119 profile (Joliet and ISO 9660:1999 trees
	// already carry full names and are never Rock Ridge-annotated).
	RockRidge bool

	ptLBA [4]uint32 // L (primary, backup), M (primary, backup)
	ptLen int
}

func NewTreeWriter(b *layout.Builder, fileAddress FileAddressFunc) *TreeWriter {
	return &TreeWriter{Builder: b, FileAddress: fileAddress}
}

func (w *TreeWriter) ComputeDataBlocks(curblock uint32) (uint32, error) {
	next := w.Builder.AssignDirectoryLBAs(curblock)
	w.ptLen = w.Builder.PathTableSizeBytes()
	ptBlocks := uint32(blocksFor(w.ptLen))
	for i := 0; i < 4; i++ {
		w.ptLBA[i] = next
		next += ptBlocks
	}
	return next, nil
}

func (w *TreeWriter) WriteVolDesc(sink Sink) error { return nil }

func (w *TreeWriter) WriteData(sink Sink) error {
	// Directory extents are emitted in ascending LBA order, which differs
	// from Planned's index order once children are collated or relocated.
	var dirs []int
	for i := range w.Builder.Planned {
		p := &w.Builder.Planned[i]
		if p.IsDir && !p.RelocationStub {
			dirs = append(dirs, i)
		}
	}
	sort.SliceStable(dirs, func(a, b int) bool {
		return w.Builder.Planned[dirs[a]].ExtentLBA < w.Builder.Planned[dirs[b]].ExtentLBA
	})
	for _, i := range dirs {
		p := &w.Builder.Planned[i]
		listing, err := w.buildListing(i)
		if err != nil {
			return err
		}
		blocks := padOrTruncate(listing, int(p.ExtentSize/BlockSize))
		for blk := 0; blk < len(blocks)/BlockSize; blk++ {
			if err := sink.EmitBlock(p.ExtentLBA+uint32(blk), blocks[blk*BlockSize:(blk+1)*BlockSize]); err != nil {
				return err
			}
		}
	}

	entries := w.Builder.PathTableEntries()
	lData := marshalPathTable(entries, false)
	mData := marshalPathTable(entries, true)
	ptBlocks := int(blocksFor(w.ptLen))

	targets := [][]byte{lData, lData, mData, mData}
	for i, data := range targets {
		blocks := padOrTruncate(data, ptBlocks)
		for blk := 0; blk < ptBlocks; blk++ {
			if err := sink.EmitBlock(w.ptLBA[i]+uint32(blk), blocks[blk*BlockSize:(blk+1)*BlockSize]); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *TreeWriter) FreeData() error { return nil }

// PathTableLBAs returns the primary/backup L-type and M-type path table
// addresses, valid after ComputeDataBlocks.
func (w *TreeWriter) PathTableLBAs() (lPrimary, lBackup, mPrimary, mBackup uint32) {
	return w.ptLBA[0], w.ptLBA[1], w.ptLBA[2], w.ptLBA[3]
}

// PathTableSize returns the unpadded path table byte length, valid after
// ComputeDataBlocks.
func (w *TreeWriter) PathTableSize() int { return w.ptLen }

// RootDR renders this profile's root directory record for embedding in the
// corresponding volume descriptor (ECMA-119 §8.4.24), valid after
// ComputeDataBlocks. It carries no System Use bytes: the authoritative,
// SUSP-annotated copy lives in the root directory's own "." record, written
// separately by WriteData.
func (w *TreeWriter) RootDR() []byte {
	root := &w.Builder.Planned[w.Builder.Root]
	return w.directoryRecord(root.ExtentLBA, root.ExtentSize, "", true, nil)
}

func (w *TreeWriter) buildListing(dirIdx int) ([]byte, error) {
	b := w.Builder
	dir := &b.Planned[dirIdx]

	var out []byte
	out = append(out, w.directoryRecord(dir.ExtentLBA, dir.ExtentSize, ".", true, w.dotSUSP(dir))...)

	parent := dir.Parent
	if parent < 0 {
		parent = dirIdx
	}
	pp := &b.Planned[parent]
	out = append(out, w.directoryRecord(pp.ExtentLBA, pp.ExtentSize, "..", true, w.dotDotSUSP(dir))...)

	for _, ci := range dir.Children {
		c := &b.Planned[ci]
		name := c.Name
		if c.IsDir {
			lba, size := c.ExtentLBA, c.ExtentSize
			if c.RelocationStub {
				t := &b.Planned[c.RelocationTarget]
				lba, size = t.ExtentLBA, t.ExtentSize
			}
			out = append(out, w.directoryRecord(lba, size, name, true, w.childSUSP(c))...)
			continue
		}
		lba, size, ok := uint32(0), uint32(0), false
		if w.FileAddress != nil {
			lba, size, ok = w.FileAddress(c.NodeIndex)
		}
		if !ok {
			return nil, ierr.New(ierr.CodeWrongArgument, ierr.SevFailure, "file node has no resolved content address", nil)
		}
		out = append(out, w.directoryRecord(lba, size, name, false, w.childSUSP(c))...)
	}
	return out, nil
}

// dotSUSP returns the system use bytes for a directory's own "." record:
// SP+ER once on the root, then this directory's own PX/TF, plus (for a
// relocation target) the RE flag and PL back-pointer.
func (w *TreeWriter) dotSUSP(dir *layout.PlannedNode) []byte {
	if !w.RockRidge {
		return nil
	}
	var entries [][]byte
	if dir.IsRoot {
		entries = append(entries, rockridge.SP(), rockridge.ER())
	}
	entries = append(entries, w.posixAndTimeEntries(dir)...)
	if w.isRelocationTarget(dir) {
		entries = append(entries, rockridge.RE())
		// dir.Parent is now RR_MOVED; the original parent is the parent of
		// the stub left behind for dir.
		var parentLBA uint32
		for i := range w.Builder.Planned {
			s := &w.Builder.Planned[i]
			if s.RelocationStub && &w.Builder.Planned[s.RelocationTarget] == dir {
				parentLBA = w.Builder.Planned[s.Parent].ExtentLBA
			}
		}
		entries = append(entries, rockridge.PL(parentLBA))
	}
	return rockridge.Pack(entries...)
}

// dotDotSUSP returns the system use bytes for a directory's ".." record,
// which carries no entries beyond the base fields, also for a relocation
// target (whose PL entry is placed on its "." record by dotSUSP).
func (w *TreeWriter) dotDotSUSP(dir *layout.PlannedNode) []byte {
	return nil
}

// childSUSP returns the system use bytes for a child's entry in its
// parent's listing: NM for any name ECMA-119 mangled, PX/TF from the
// source node, SL for symlinks, and CL for relocation stubs.
func (w *TreeWriter) childSUSP(c *layout.PlannedNode) []byte {
	if !w.RockRidge {
		return nil
	}
	if c.RelocationStub {
		target := &w.Builder.Planned[c.RelocationTarget]
		return rockridge.Pack(rockridge.CL(target.ExtentLBA))
	}

	var entries [][]byte
	entries = append(entries, w.posixAndTimeEntries(c)...)
	if c.NodeIndex >= 0 {
		n := w.Builder.Tree.Node(c.NodeIndex)
		if n.Name != c.Name {
			entries = append(entries, rockridge.NM(n.Name)...)
		}
		if n.Kind == tree.KindSymlink {
			entries = append(entries, rockridge.SL(string(n.SymlinkTarget))...)
		}
	}
	return rockridge.Pack(entries...)
}

func (w *TreeWriter) isRelocationTarget(dir *layout.PlannedNode) bool {
	return dir.Parent >= 0 && dir.Parent == w.Builder.RelocationDir
}

func (w *TreeWriter) posixAndTimeEntries(p *layout.PlannedNode) [][]byte {
	if p.NodeIndex < 0 {
		return [][]byte{rockridge.PX(rockridge.PosixAttrs{Mode: 0o40555})}
	}
	n := w.Builder.Tree.Node(p.NodeIndex)
	return [][]byte{
		rockridge.PX(rockridge.PosixAttrs{Mode: n.Mode, UID: n.UID, GID: n.GID, Links: 1}),
		rockridge.TF(n.Mtime, n.Atime, n.Ctime),
	}
}

func (w *TreeWriter) directoryRecord(lba, size uint32, name string, isDir bool, susp []byte) []byte {
	id := w.Builder.DRIdentifierBytes(name)
	base := drFixedPartSize + len(id)
	if base%2 != 0 {
		base++
	}
	recLen := base + len(susp)
	if recLen%2 != 0 {
		recLen++
	}
	if recLen > 254 {
		// System use field overflow: this module supports one continuation
		// area per record (rockridge.PackWithContinuation) but TreeWriter's
		// simplified directory sizing does not yet reserve continuation
		// blocks, so entries are dropped here rather than corrupting the
		// record length byte. Realistic POSIX names and timestamps fit well
		// within the remaining budget.
		susp = nil
		recLen = base
	}
	buf := make([]byte, recLen)
	buf[0] = byte(recLen)
	buf[1] = 0 // extended attribute record length
	binary.LittleEndian.PutUint32(buf[2:6], lba)
	binary.BigEndian.PutUint32(buf[6:10], lba)
	binary.LittleEndian.PutUint32(buf[10:14], size)
	binary.BigEndian.PutUint32(buf[14:18], size)
	// recording time left zero in the base field; Rock Ridge TF entries
	// carry the real modification time when enabled.
	buf[25] = 0
	if isDir {
		buf[25] |= 0x02
	}
	binary.LittleEndian.PutUint16(buf[28:30], 1)
	binary.BigEndian.PutUint16(buf[30:32], 1)
	buf[32] = byte(len(id))
	copy(buf[33:], id)
	copy(buf[base:], susp)
	return buf
}

const drFixedPartSize = 33

type ptRecordFields struct {
	LocationOfExtent      uint32
	ParentDirectoryNumber uint16
}

func marshalPathTableRecord(f ptRecordFields, identifier []byte, bigEndian bool) []byte {
	recLen := ptRecFixedPartSize + len(identifier)
	if len(identifier)%2 != 0 {
		recLen++
	}
	rec := make([]byte, recLen)
	rec[0] = byte(len(identifier))
	rec[1] = 0
	if bigEndian {
		binary.BigEndian.PutUint32(rec[2:6], f.LocationOfExtent)
		binary.BigEndian.PutUint16(rec[6:8], f.ParentDirectoryNumber)
	} else {
		binary.LittleEndian.PutUint32(rec[2:6], f.LocationOfExtent)
		binary.LittleEndian.PutUint16(rec[6:8], f.ParentDirectoryNumber)
	}
	copy(rec[8:], identifier)
	return rec
}

// marshalPathTable renders layout.PathTableEntries in the order ECMA-119
// requires for each endian variant: L-type is already directory-number
// order (the order layout.Builder discovers directories in); M-type sorts
// by parent number, then by name, grouping siblings together.
func marshalPathTable(entries []layout.PathTableEntry, bigEndian bool) []byte {
	ordered := entries
	if bigEndian {
		ordered = append([]layout.PathTableEntry(nil), entries...)
		sort.SliceStable(ordered, func(i, j int) bool {
			if ordered[i].ParentNum != ordered[j].ParentNum {
				return ordered[i].ParentNum < ordered[j].ParentNum
			}
			return string(ordered[i].Name) < string(ordered[j].Name)
		})
	}
	var out []byte
	for _, e := range ordered {
		out = append(out, marshalPathTableRecord(ptRecordFields{
			LocationOfExtent:      e.ExtentLBA,
			ParentDirectoryNumber: e.ParentNum,
		}, e.Name, bigEndian)...)
	}
	return out
}
