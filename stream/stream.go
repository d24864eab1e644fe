// Package stream implements the polymorphic byte sources described in
// spec.md §3/§4.1: a capability interface (open/close/read/size/...)
// implemented by file, memory, cut-out, boot-catalog, and filter streams,
// plus the fingerprinting relation the file-content planner uses for
// deduplication.
package stream

import (
	"github.com/google/uuid"
	"github.com/sasha-s/go-deadlock"

	"github.com/kdsys/isoimage/internal/ierr"
)

// Identity is the (filesystem, device, inode) triple spec.md §3 uses for
// deduplication. The source library packs this into three 32-bit counters
// that the source itself flags as liable to roll over (spec.md §9, Open
// Questions); this module follows the spec's own recommendation and uses
// 64-bit fields fed by a process-wide mutex-guarded counter, so rollover is not a
// practical concern within one process's lifetime.
type Identity struct {
	FSID, DevID, InoID uint64
}

var identityCounter struct {
	mu   deadlock.Mutex
	next uint64
}

// NextSyntheticIdentity returns a fresh Identity for streams with no natural
// device/inode (Memory, ExternalFilter, Gzip, Zisofs at the tip of a filter
// chain with a non-file origin). The FSID is derived from a random UUID so
// identities stay distinct even across process restarts that reuse PIDs.
func NextSyntheticIdentity() Identity {
	identityCounter.mu.Lock()
	defer identityCounter.mu.Unlock()
	identityCounter.next++
	u := uuid.New()
	return Identity{
		FSID:  uint64(u[0])<<56 | uint64(u[1])<<48 | uint64(u[2])<<40 | uint64(u[3])<<32 | uint64(u[4])<<24 | uint64(u[5])<<16 | uint64(u[6])<<8 | uint64(u[7]),
		DevID: 0,
		InoID: identityCounter.next,
	}
}

// Stream is the capability set every content source implements: open,
// close, read, size, repeatability, identity, comparison, cloning, and (for
// filter streams) access to the wrapped input. Polymorphism here is
// intentionally open — third-party streams may implement this interface —
// unlike the closed Writer variant set in package writer.
type Stream interface {
	// Open acquires resources. Calling Open on an already-open stream is an
	// error.
	Open() error
	// Close releases resources. Close on an already-closed stream is a
	// no-op.
	Close() error
	// Read fills buf and returns the number of bytes read. Per spec.md
	// §4.1, every call but the one that reaches end of content must fill
	// buf completely; only the final call may be short, signalled by
	// returning io.EOF together with n < len(buf), or n == 0, io.EOF.
	Read(buf []byte) (int, error)
	// Size returns the logical byte length of the stream's content. Filter
	// streams that cannot know this without running must perform a
	// size-determination pass and cache the result (see FilterSizer).
	Size() (int64, error)
	// IsRepeatable reports whether re-opening the stream yields identical
	// output. Only repeatable streams may back file content.
	IsRepeatable() bool
	// StreamIdentity returns the (fs, dev, inode) triple used as the
	// fallback term of the deduplication relation.
	StreamIdentity() Identity
	// Compare defines the equivalence spec.md §3 requires for
	// deduplication: two streams compare equal iff they are guaranteed to
	// produce byte-identical content.
	Compare(other Stream) int
	// Clone produces an independently operable copy, or CodeNoClone if
	// unsupported.
	Clone() (Stream, error)
	// Input returns the wrapped stream for filter streams, or nil for leaf
	// streams. Does not add a reference.
	Input() Stream
}

// FilterSizer is implemented by streams whose size can only be discovered
// by running them to completion (external filters, zisofs, gzip
// compressors). Size() on these streams performs the determination run on
// first call and returns the cached value thereafter; UpdateSize lets a
// caller invalidate that cache before the compute phase if the underlying
// source changed.
type FilterSizer interface {
	Stream
	UpdateSize() error
}

// compareFilterChain implements the default recursion spec.md §3
// describes: if both streams are the same filter class with the same
// parameters, compare their inputs; otherwise fall back to Identity.
// Concrete filter streams call this from their Compare method, passing a
// same-class predicate.
func compareFilterChain(a, b Stream, sameClassSameParams bool) int {
	if sameClassSameParams {
		ai, bi := a.Input(), b.Input()
		if ai != nil && bi != nil {
			return ai.Compare(bi)
		}
	}
	return compareIdentity(a.StreamIdentity(), b.StreamIdentity())
}

func compareIdentity(a, b Identity) int {
	switch {
	case a.FSID != b.FSID:
		return cmpUint64(a.FSID, b.FSID)
	case a.DevID != b.DevID:
		return cmpUint64(a.DevID, b.DevID)
	default:
		return cmpUint64(a.InoID, b.InoID)
	}
}

func cmpUint64(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// FilterBehavior names what should happen to a filter whose
// size-determination run fails to improve on the input, per
// original_source/libisofs/filter.c and spec.md §4.1.1/§9. It is stored on
// ExternalFilterCommand; no code in this module consults it, so a filter
// stays in place whatever its output size.
type FilterBehavior uint8

const (
	// FilterKeepAlways keeps the filter regardless of the result.
	FilterKeepAlways FilterBehavior = 0
	// FilterKeepIfSmaller selects dropping the filter if its output is not
	// smaller than its input, in bytes.
	FilterKeepIfSmaller FilterBehavior = 1 << iota
	// FilterKeepIfFewerBlocks selects dropping the filter if its output does
	// not occupy fewer 2048-byte blocks than its input.
	FilterKeepIfFewerBlocks
)

// errNoClone is returned by Clone on streams that cannot support it (child
// processes, in particular).
var errNoClone = ierr.New(ierr.CodeNoClone, ierr.SevFailure, "stream does not support Clone", nil)

// ErrNoClone is exported so callers can detect the NO_CLONE condition with
// errors.Is.
func ErrNoClone() error { return errNoClone }
