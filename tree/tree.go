// Package tree implements the in-memory image tree: directories, files,
// symlinks, special nodes and boot placeholders, addressed by arena index
// rather than pointer, per spec.md §9's design note that cyclic
// parent/child ownership is better modeled with parent indices than back
// pointers in a systems language.
package tree

import (
	"time"

	"github.com/kdsys/isoimage/internal/ierr"
	"github.com/kdsys/isoimage/stream"
)

// Kind identifies a Node variant. The set is closed, unlike the open Stream
// capability interface: spec.md §9 calls for a closed sum type here.
type Kind int

const (
	KindDirectory Kind = iota
	KindFile
	KindSymlink
	KindSpecial
	KindBootPlaceholder
)

func (k Kind) String() string {
	switch k {
	case KindDirectory:
		return "directory"
	case KindFile:
		return "file"
	case KindSymlink:
		return "symlink"
	case KindSpecial:
		return "special"
	case KindBootPlaceholder:
		return "boot-placeholder"
	default:
		return "unknown"
	}
}

// SpecialClass distinguishes the device/fifo/socket variants a Special node
// may carry.
type SpecialClass int

const (
	SpecialCharDevice SpecialClass = iota
	SpecialBlockDevice
	SpecialFIFO
	SpecialSocket
)

// HideFlag is a bit per on-image tree; a node hidden from a given tree is
// skipped entirely by that tree's builder.
type HideFlag uint8

const (
	HideECMA119 HideFlag = 1 << iota
	HideJoliet
	HideISO1999
)

// NoParent marks the root node's Parent field.
const NoParent = -1

// Node is one entry in the image tree. Only the fields relevant to Kind are
// meaningful; this mirrors the source's tagged-union-via-opaque-pointer
// layout collapsed into one struct, which is cheaper in Go than an
// interface hierarchy given nodes are stored by value in Tree.nodes.
type Node struct {
	Kind Kind
	Name string

	Mode      uint32 // POSIX mode: type bits + permission bits
	UID, GID  uint32
	Mtime     time.Time
	Atime     time.Time
	Ctime     time.Time
	HideFlags HideFlag
	// SortWeight orders file content placement when sort_files is enabled;
	// higher sorts earlier.
	SortWeight int32

	Parent   int
	Children []int // valid for KindDirectory only, insertion order

	// KindFile
	Content     stream.Stream
	ContentSize int64

	// KindSymlink
	SymlinkTarget []byte

	// KindSpecial
	SpecialClass        SpecialClass
	DeviceMajor         uint32
	DeviceMinor         uint32

	// ChecksumIndex is the 1-based slot in the image's checksum array, or 0
	// if this node has no per-file digest.
	ChecksumIndex uint32

	ext map[string]ExtendedInfo
}

// ExtendedInfo is a registered extension-specific attachment (AAIP entries,
// zisofs parameters, HFS+ attributes, an inode number recovered on import).
// The source models this as a (key-function, value-pointer) pair with a
// parallel clone-function registry; a self-cloning interface is the
// idiomatic Go equivalent and needs no separate registry.
type ExtendedInfo interface {
	// Clone returns an independent copy of the receiver.
	Clone() (ExtendedInfo, error)
}

// Tree owns every Node in one image by arena index.
type Tree struct {
	nodes []Node
	root  int
}

// New returns a Tree containing only a root directory.
func New() *Tree {
	t := &Tree{}
	t.nodes = append(t.nodes, Node{
		Kind:   KindDirectory,
		Parent: NoParent,
		Mode:   0o755,
		Mtime:  time.Now(),
	})
	t.root = 0
	return t
}

// Root returns the root directory's index.
func (t *Tree) Root() int { return t.root }

// Node returns a pointer to the node at index i. The pointer is valid only
// until the next AddChild call, which may reallocate the backing slice.
func (t *Tree) Node(i int) *Node { return &t.nodes[i] }

// Len returns the number of nodes in the tree, including the root.
func (t *Tree) Len() int { return len(t.nodes) }

// AddChild appends child under the directory at parent, enforcing the
// per-directory name-uniqueness invariant spec.md §3 assigns to the public
// tree API (never to the core writers). Returns the new node's index.
func (t *Tree) AddChild(parent int, child Node) (int, error) {
	if parent < 0 || parent >= len(t.nodes) {
		return 0, ierr.New(ierr.CodeWrongArgument, ierr.SevFailure, "AddChild: invalid parent index", nil)
	}
	p := &t.nodes[parent]
	if p.Kind != KindDirectory {
		return 0, ierr.New(ierr.CodeWrongArgument, ierr.SevFailure, "AddChild: parent is not a directory", nil)
	}
	for _, ci := range p.Children {
		if t.nodes[ci].Name == child.Name {
			return 0, ierr.New(ierr.CodeDuplicateName, ierr.SevFailure, "duplicate name in directory: "+child.Name, nil)
		}
	}
	child.Parent = parent
	idx := len(t.nodes)
	t.nodes = append(t.nodes, child)
	t.nodes[parent].Children = append(t.nodes[parent].Children, idx)
	return idx, nil
}

// SetExtendedInfo attaches or replaces an extension-specific value under
// key on the node at idx.
func (t *Tree) SetExtendedInfo(idx int, key string, v ExtendedInfo) {
	n := &t.nodes[idx]
	if n.ext == nil {
		n.ext = make(map[string]ExtendedInfo)
	}
	n.ext[key] = v
}

// ExtendedInfo retrieves the value attached under key on the node at idx.
func (t *Tree) ExtendedInfo(idx int, key string) (ExtendedInfo, bool) {
	n := &t.nodes[idx]
	if n.ext == nil {
		return nil, false
	}
	v, ok := n.ext[key]
	return v, ok
}

// Walk visits every node reachable from idx, depth first, calling fn with
// each node's index before recursing into its children. Stops and returns
// fn's error if it returns non-nil.
func (t *Tree) Walk(idx int, fn func(idx int) error) error {
	if err := fn(idx); err != nil {
		return err
	}
	n := &t.nodes[idx]
	if n.Kind != KindDirectory {
		return nil
	}
	for _, ci := range n.Children {
		if err := t.Walk(ci, fn); err != nil {
			return err
		}
	}
	return nil
}

// Depth returns idx's distance from the root (root is depth 0).
func (t *Tree) Depth(idx int) int {
	d := 0
	for t.nodes[idx].Parent != NoParent {
		idx = t.nodes[idx].Parent
		d++
	}
	return d
}

// Path returns the slash-joined name sequence from root to idx, excluding
// the root's own (empty) name.
func (t *Tree) Path(idx int) []string {
	var parts []string
	for idx != t.root {
		n := &t.nodes[idx]
		parts = append([]string{n.Name}, parts...)
		idx = n.Parent
	}
	return parts
}

// Clone produces a detached copy of the whole tree: file nodes get an
// independently operable clone of their stream (taking a fresh reference
// rather than sharing the original's handle), and extended-info values are
// deep-copied via their registered Clone method. Clone failure on any
// node's stream or extended info fails the whole tree clone, matching
// spec.md §4.2's "clone failure on any item fails the whole node clone".
func (t *Tree) Clone() (*Tree, error) {
	out := &Tree{root: t.root, nodes: make([]Node, len(t.nodes))}
	for i, n := range t.nodes {
		cn := n
		cn.Children = append([]int(nil), n.Children...)
		cn.SymlinkTarget = append([]byte(nil), n.SymlinkTarget...)
		if n.Content != nil {
			sc, err := n.Content.Clone()
			if err != nil {
				return nil, ierr.New(ierr.CodeNoClone, ierr.SevFailure, "cloning node content stream", err)
			}
			cn.Content = sc
		}
		if n.ext != nil {
			cn.ext = make(map[string]ExtendedInfo, len(n.ext))
			for k, v := range n.ext {
				cv, err := v.Clone()
				if err != nil {
					return nil, ierr.New(ierr.CodeWrongArgument, ierr.SevFailure, "cloning extended info "+k, err)
				}
				cn.ext[k] = cv
			}
		}
		out.nodes[i] = cn
	}
	return out, nil
}
