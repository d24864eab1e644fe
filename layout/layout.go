// Package layout implements the per-tree builders spec.md §4.3 describes:
// one builder per on-image directory tree (ECMA-119/Rock Ridge, Joliet,
// ISO 9660:1999), each producing a parallel lower-level tree with
// name-mangling, collation, directory sizing and LBA assignment proper to
// its format. This generalizes the teacher's single ISO9660+Joliet
// ISOBuilder (iso9660/builder.go, iso9660/layout.go) to a profile-parameterized
// builder plus the depth-flattening relocation ECMA-119 requires.
package layout

import (
	"sort"
	"unicode/utf16"

	"github.com/kdsys/isoimage/internal/ierr"
	"github.com/kdsys/isoimage/option"
	"github.com/kdsys/isoimage/tree"
)

// SectorSize is the logical block size every on-image structure aligns to.
const SectorSize = 2048

// drFixedPartSize mirrors ECMA-119 §9.1's fixed Directory Record prefix.
const drFixedPartSize = 33

// Profile selects which on-image tree a Builder produces.
type Profile int

const (
	ProfileECMA119 Profile = iota
	ProfileJoliet
	ProfileISO1999
)

func (p Profile) hideFlag() tree.HideFlag {
	switch p {
	case ProfileJoliet:
		return tree.HideJoliet
	case ProfileISO1999:
		return tree.HideISO1999
	default:
		return tree.HideECMA119
	}
}

// maxDepthBeforeRelocation is ECMA-119's 8-level path-depth ceiling
// (spec.md §4.3, "directories deeper than 8 levels are relocated").
const maxDepthBeforeRelocation = 8

// PlannedNode is one entry in a Builder's output tree: the teacher's
// fileEntry idiom generalized across profiles and carrying a back
// reference to the originating tree.Node rather than a disk path.
type PlannedNode struct {
	NodeIndex int // index into the source tree.Tree, -1 for the synthetic relocation directory
	Name      string
	IsDir     bool
	IsRoot    bool

	Parent   int // index into Builder.Planned, -1 for root
	Children []int

	DRSize     int // this node's Directory Record length as it appears in its parent's listing
	ExtentLBA  uint32
	ExtentSize uint32 // directories: padded byte size of the listing; files: filled in by filesrc

	PathTableDirNum uint16 // 1-based, directories only

	// Relocated directories (depth > maxDepthBeforeRelocation) are physically
	// reparented under the synthetic RR_MOVED directory; RelocationStub marks
	// the node left behind at the true parent, carrying a Rock Ridge CL entry
	// (encoded by package rockridge) to RelocationTarget, which in turn gets a
	// PL entry back and the RE flag.
	RelocationStub   bool
	RelocationTarget int
}

// Builder produces one on-image tree for Profile from Tree.
type Builder struct {
	Profile Profile
	Opts    *option.Options
	Tree    *tree.Tree

	// RockRidgeMargin reserves extra bytes in every child Directory Record
	// for SUSP/RRIP system use fields (package rockridge), and an
	// additional fixed margin on the root's "." record for the SP/ER
	// entries. Zero when Rock Ridge annotation is disabled. This is a
	// fixed-budget estimate rather than an exact SUSP size computation:
	// TreeWriter falls back to dropping entries for any record that still
	// overflows it.
	RockRidgeMargin int

	Planned []PlannedNode
	Root    int

	// RelocationDir is the planned index of the synthetic RR_MOVED
	// directory, or -1 if no relocation was needed.
	RelocationDir int

	treeToPlanned map[int]int
}

// New returns an unbuilt Builder for profile over t.
func New(profile Profile, t *tree.Tree, opts *option.Options) *Builder {
	return &Builder{Profile: profile, Opts: opts, Tree: t, RelocationDir: -1, treeToPlanned: make(map[int]int)}
}

// Build walks Tree, translating names, collating and mangling each
// directory's children, and (for ECMA-119 without allow_deep_paths)
// relocating directories beyond the depth ceiling. It does not assign LBAs;
// call AssignDirectoryLBAs afterward once the pipeline driver knows the
// starting block.
func (b *Builder) Build() error {
	rootIdx, err := b.buildNode(b.Tree.Root(), -1, 0)
	if err != nil {
		return err
	}
	b.Root = rootIdx
	if b.Profile == ProfileECMA119 && !b.Opts.AllowDeepPaths {
		if err := b.relocateDeepDirectories(); err != nil {
			return err
		}
	}
	return nil
}

func (b *Builder) isHidden(n *tree.Node) bool {
	return n.HideFlags&b.Profile.hideFlag() != 0
}

func (b *Builder) translateName(n *tree.Node, isRoot bool) string {
	if isRoot {
		return ""
	}
	switch b.Profile {
	case ProfileJoliet:
		return translateJolietName(n.Name, b.Opts)
	case ProfileISO1999:
		return translateISO1999Name(n.Name, n.Kind == tree.KindDirectory, b.Opts)
	default:
		return translateECMA119Name(n.Name, n.Kind == tree.KindDirectory, b.Opts)
	}
}

// buildNode recursively builds the planned subtree rooted at treeIdx.
func (b *Builder) buildNode(treeIdx, parentPlanned, depth int) (int, error) {
	n := b.Tree.Node(treeIdx)
	isRoot := treeIdx == b.Tree.Root()
	pn := PlannedNode{
		NodeIndex: treeIdx,
		Name:      b.translateName(n, isRoot),
		IsDir:     n.Kind == tree.KindDirectory,
		IsRoot:    isRoot,
		Parent:    parentPlanned,
	}
	idx := len(b.Planned)
	b.Planned = append(b.Planned, pn)
	b.treeToPlanned[treeIdx] = idx
	if parentPlanned >= 0 {
		b.Planned[parentPlanned].Children = append(b.Planned[parentPlanned].Children, idx)
	}

	if n.Kind == tree.KindDirectory {
		for _, ci := range n.Children {
			cn := b.Tree.Node(ci)
			if b.isHidden(cn) {
				continue
			}
			if _, err := b.buildNode(ci, idx, depth+1); err != nil {
				return 0, err
			}
		}
		if err := b.collateAndMangle(idx); err != nil {
			return 0, err
		}
	}
	return idx, nil
}

// collation orders children the way each format demands. Joliet uses
// big-endian byte-wise comparison on UCS-2BE (spec.md §4.3.3); the other
// profiles order by the translated byte string directly, which is
// equivalent for their narrower character sets.
func (b *Builder) collateAndMangle(dirIdx int) error {
	children := b.Planned[dirIdx].Children
	sort.SliceStable(children, func(i, j int) bool {
		return b.collationKey(children[i]) < b.collationKey(children[j])
	})
	return b.mangleDuplicates(dirIdx, children)
}

func (b *Builder) collationKey(plannedIdx int) string {
	name := b.Planned[plannedIdx].Name
	if b.Profile == ProfileJoliet {
		u := utf16.Encode([]rune(name))
		buf := make([]byte, len(u)*2)
		for i, v := range u {
			buf[2*i] = byte(v >> 8)
			buf[2*i+1] = byte(v)
		}
		return string(buf)
	}
	return name
}

// mangleDuplicates implements spec.md §4.3's numeric-suffix disambiguation:
// for each run of children sharing a final name, try stems with an
// appended d-digit numeric suffix, d growing from 1 to 7; fail with
// MANGLE_TOO_MANY_FILES if 7 digits still collide.
func (b *Builder) mangleDuplicates(dirIdx int, children []int) error {
	seen := make(map[string][]int)
	for _, ci := range children {
		name := b.Planned[ci].Name
		seen[name] = append(seen[name], ci)
	}
	taken := make(map[string]bool, len(children))
	for name := range seen {
		taken[name] = true
	}
	for name, group := range seen {
		if len(group) < 2 {
			continue
		}
		for i, ci := range group {
			if i == 0 {
				continue // first occupant keeps the unmangled name
			}
			stem, ext := splitStemExt(name)
			mangled := ""
			ok := false
			for d := 1; d <= 7; d++ {
				candidate := applySuffix(stem, ext, d, i)
				if !taken[candidate] {
					mangled = candidate
					ok = true
					break
				}
			}
			if !ok {
				return ierr.New(ierr.CodeMangleTooManyFiles, ierr.SevFailure, "too many colliding names in one directory: "+name, nil)
			}
			taken[mangled] = true
			b.Planned[ci].Name = mangled
		}
	}
	return nil
}

func splitStemExt(name string) (string, string) {
	// a trailing ";N" version number stays with the extension
	end := len(name)
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == ';' {
			end = i
			break
		}
	}
	for i := end - 1; i >= 0 && i > end-5; i-- {
		if name[i] == '.' {
			return name[:i], name[i:]
		}
	}
	return name[:end], name[end:]
}

func applySuffix(stem, ext string, digits, ordinal int) string {
	suffix := padNumber(ordinal, digits)
	maxStem := len(stem)
	if maxStem+len(suffix) > 8 {
		maxStem = 8 - len(suffix)
		if maxStem < 0 {
			maxStem = 0
		}
	}
	trimmedStem := stem
	if maxStem < len(trimmedStem) {
		trimmedStem = trimmedStem[:maxStem]
	}
	return trimmedStem + suffix + ext
}

func padNumber(n, digits int) string {
	s := itoa(n)
	for len(s) < digits {
		s = "0" + s
	}
	if len(s) > digits {
		s = s[len(s)-digits:]
	}
	return s
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var b []byte
	for n > 0 {
		b = append([]byte{byte('0' + n%10)}, b...)
		n /= 10
	}
	return string(b)
}

// relocateDeepDirectories moves every directory deeper than
// maxDepthBeforeRelocation under a synthetic RR_MOVED directory at level 1,
// leaving a relocation stub at the true parent (spec.md §4.3).
func (b *Builder) relocateDeepDirectories() error {
	var deep []int
	var walk func(idx, depth int)
	walk = func(idx, depth int) {
		p := &b.Planned[idx]
		if p.IsDir && depth > maxDepthBeforeRelocation {
			deep = append(deep, idx)
		}
		for _, ci := range p.Children {
			walk(ci, depth+1)
		}
	}
	walk(b.Root, 0)
	if len(deep) == 0 {
		return nil
	}

	relocDir := PlannedNode{NodeIndex: -1, Name: "RR_MOVED", IsDir: true, Parent: b.Root}
	relocIdx := len(b.Planned)
	b.Planned = append(b.Planned, relocDir)
	b.Planned[b.Root].Children = append(b.Planned[b.Root].Children, relocIdx)
	b.RelocationDir = relocIdx

	for _, idx := range deep {
		origParent := b.Planned[idx].Parent
		stub := PlannedNode{
			NodeIndex:        b.Planned[idx].NodeIndex,
			Name:             b.Planned[idx].Name,
			IsDir:            true,
			Parent:           origParent,
			RelocationStub:   true,
			RelocationTarget: idx,
		}
		stubIdx := len(b.Planned)
		b.Planned = append(b.Planned, stub)

		siblings := b.Planned[origParent].Children
		for i, ci := range siblings {
			if ci == idx {
				siblings[i] = stubIdx
				break
			}
		}
		b.Planned[origParent].Children = siblings

		b.Planned[idx].Parent = relocIdx
		b.Planned[relocIdx].Children = append(b.Planned[relocIdx].Children, idx)
	}
	return nil
}

// DRIdentifierBytes returns the on-image identifier bytes for a planned
// node's name, handling the "." / ".." / root special cases per format.
func (b *Builder) DRIdentifierBytes(name string) []byte {
	switch b.Profile {
	case ProfileJoliet:
		switch name {
		case "":
			return []byte{0x00}
		case ".":
			return []byte{0x00}
		case "..":
			return []byte{0x01}
		default:
			return encodeUTF16BE(name)
		}
	default:
		switch name {
		case "", ".":
			return []byte{0x00}
		case "..":
			return []byte{0x01}
		default:
			return []byte(name)
		}
	}
}

func encodeUTF16BE(s string) []byte {
	u := utf16.Encode([]rune(s))
	buf := make([]byte, len(u)*2)
	for i, v := range u {
		buf[2*i] = byte(v >> 8)
		buf[2*i+1] = byte(v)
	}
	return buf
}

// drSize computes a Directory Record's total length (including the parity
// padding byte), ECMA-119 §9.1.
func drSize(identifier []byte) int {
	n := drFixedPartSize + len(identifier)
	if n%2 != 0 {
		n++
	}
	return n
}

// ComputeDRSizes fills DRSize for every planned node, as it will appear in
// its parent's directory listing.
func (b *Builder) ComputeDRSizes() {
	for i := range b.Planned {
		p := &b.Planned[i]
		name := p.Name
		if p.IsRoot {
			name = ""
		}
		p.DRSize = drSize(b.DRIdentifierBytes(name)) + b.RockRidgeMargin
	}
}

// rootSUSPMargin is extra headroom reserved on the root directory's "."
// record for its one-time SP and ER entries, on top of RockRidgeMargin's
// per-record PX/TF/NM budget.
const rootSUSPMargin = 200

// dotDRSize and dotDotDRSize are the fixed sizes of the "." and ".."
// entries every directory listing carries.
func (b *Builder) dotDRSize() int    { return drSize(b.DRIdentifierBytes(".")) + b.RockRidgeMargin }
func (b *Builder) dotDotDRSize() int { return drSize(b.DRIdentifierBytes("..")) + b.RockRidgeMargin }

// ComputeDirectorySizes computes each directory's on-image byte size
// (sum of "." + ".." + every child's DR length, padded to SectorSize),
// spec.md §4.3 step 5.
func (b *Builder) ComputeDirectorySizes() {
	dot, dotdot := b.dotDRSize(), b.dotDotDRSize()
	for i := range b.Planned {
		p := &b.Planned[i]
		if !p.IsDir {
			continue
		}
		total := dot + dotdot
		if p.IsRoot {
			total += rootSUSPMargin
		}
		for _, ci := range p.Children {
			total += b.Planned[ci].DRSize
		}
		sectors := (uint32(total) + SectorSize - 1) / SectorSize
		if sectors == 0 {
			sectors = 1
		}
		p.ExtentSize = sectors * SectorSize
	}
}

// AssignDirectoryLBAs assigns LBAs to every directory extent in a stable
// pre-order, starting at startLBA, and returns the next free LBA.
func (b *Builder) AssignDirectoryLBAs(startLBA uint32) uint32 {
	lba := startLBA
	var walk func(idx int)
	walk = func(idx int) {
		p := &b.Planned[idx]
		if !p.IsDir || p.RelocationStub {
			return
		}
		p.ExtentLBA = lba
		lba += p.ExtentSize / SectorSize
		for _, ci := range p.Children {
			walk(ci)
		}
	}
	walk(b.Root)
	if b.RelocationDir >= 0 {
		// RelocationDir is already reachable from root's children; nothing
		// further to do, it was walked above.
	}
	return lba
}

// PathTableEntry is one ECMA-119 §9.4 path table record.
type PathTableEntry struct {
	Name       []byte
	ExtentLBA  uint32
	ParentNum  uint16
}

// PathTableEntries returns every directory's path table record in path
// table order (parent before child, siblings in directory order), with
// PathTableDirNum populated as a side effect.
func (b *Builder) PathTableEntries() []PathTableEntry {
	var order []int
	var walk func(idx int)
	walk = func(idx int) {
		p := &b.Planned[idx]
		if !p.IsDir || p.RelocationStub {
			return
		}
		order = append(order, idx)
		for _, ci := range p.Children {
			walk(ci)
		}
	}
	walk(b.Root)

	numOf := make(map[int]uint16, len(order))
	for i, idx := range order {
		numOf[idx] = uint16(i + 1)
		b.Planned[idx].PathTableDirNum = uint16(i + 1)
	}

	entries := make([]PathTableEntry, 0, len(order))
	for _, idx := range order {
		p := &b.Planned[idx]
		name := p.Name
		if p.IsRoot {
			name = ""
		}
		parentNum := uint16(1)
		if p.Parent >= 0 {
			parentNum = numOf[p.Parent]
		}
		entries = append(entries, PathTableEntry{
			Name:      b.DRIdentifierBytes(name),
			ExtentLBA: p.ExtentLBA,
			ParentNum: parentNum,
		})
	}
	return entries
}

// PathTableSizeBytes returns the unpadded byte length of the path table
// records, per ECMA-119 §9.4.
func (b *Builder) PathTableSizeBytes() int {
	total := 0
	for _, e := range b.PathTableEntries() {
		n := 8 + len(e.Name)
		if n%2 != 0 {
			n++
		}
		total += n
	}
	return total
}
