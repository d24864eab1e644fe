// Package ringbuf implements spec.md §4.8/§6.2's bounded block ring
// between the producer thread that drives the write-data pass and the
// consumer that pulls finished blocks, plus the BurnSource contract
// exposed to that consumer.
package ringbuf

import (
	"io"
	"sync"

	"github.com/kdsys/isoimage/internal/ierr"
)

// BlockSize is the logical block size pushed through the ring.
const BlockSize = 2048

// MinFIFOBlocks is the minimum ring capacity spec.md §6.3 requires; with a
// nonzero partition offset the minimum grows by that offset.
const MinFIFOBlocks = 32

// RequiredFIFOBlocks returns the minimum fifo_size for a given partition
// offset, per spec.md §6.3.
func RequiredFIFOBlocks(partitionOffset int) int {
	if partitionOffset <= 0 {
		return MinFIFOBlocks
	}
	return MinFIFOBlocks + partitionOffset
}

// BurnSource is the pull-based interface spec.md §4.8 exposes to the
// consumer: Read fills buf fully except for the final, possibly short,
// read which precedes EOF; GetSize reports the predicted image size (0 if
// unpredictable); SetSize lets the consumer record an explicit size for
// padding/truncation; Cancel terminates the producer.
type BurnSource interface {
	Read(buf []byte) (int, error)
	GetSize() int64
	SetSize(size int64)
	Cancel()
}

// Ring is a fixed-capacity FIFO of BlockSize-byte blocks between one
// producer goroutine and one consumer. Capacity is expressed in blocks, not
// bytes, matching spec.md's fifo_size option.
type Ring struct {
	blocks chan []byte
	cancel chan struct{}

	cancelOnce sync.Once
	closeOnce  sync.Once

	pending []byte

	sizeMu sync.Mutex
	size   int64
}

// New returns a Ring with room for capacityBlocks blocks in flight.
// capacityBlocks is clamped up to MinFIFOBlocks.
func New(capacityBlocks int) *Ring {
	if capacityBlocks < MinFIFOBlocks {
		capacityBlocks = MinFIFOBlocks
	}
	return &Ring{
		blocks: make(chan []byte, capacityBlocks),
		cancel: make(chan struct{}),
	}
}

// Push is called by the producer for every block it emits, in strict LBA
// order. It blocks while the ring is full and returns CodeWriteCanceled if
// the consumer cancels first.
func (r *Ring) Push(block []byte) error {
	cp := make([]byte, len(block))
	copy(cp, block)
	select {
	case r.blocks <- cp:
		return nil
	case <-r.cancel:
		return ierr.New(ierr.CodeWriteCanceled, ierr.SevFailure, "write canceled by consumer", nil)
	}
}

// CloseProducer signals end of stream after the last Push. Calling it more
// than once is a no-op.
func (r *Ring) CloseProducer() {
	r.closeOnce.Do(func() { close(r.blocks) })
}

// Cancel implements BurnSource.Cancel: it unblocks any pending Push with
// CodeWriteCanceled and any pending Read with a CodeWriteCanceled error.
// Calling it more than once is a no-op.
func (r *Ring) Cancel() {
	r.cancelOnce.Do(func() { close(r.cancel) })
}

// Read implements BurnSource.Read. It fills buf completely from queued
// blocks except for the final read, which may be short when the producer
// has closed the ring with a partial tail (not itself a protocol violation
// at this layer; callers needing 2048-byte alignment get it for free since
// blocks are pushed whole).
func (r *Ring) Read(buf []byte) (int, error) {
	filled := 0
	for filled < len(buf) {
		if len(r.pending) == 0 {
			select {
			case b, ok := <-r.blocks:
				if !ok {
					if filled > 0 {
						return filled, nil
					}
					return 0, io.EOF
				}
				r.pending = b
			case <-r.cancel:
				return filled, ierr.New(ierr.CodeWriteCanceled, ierr.SevFailure, "read canceled", nil)
			}
		}
		n := copy(buf[filled:], r.pending)
		filled += n
		r.pending = r.pending[n:]
	}
	return filled, nil
}

// GetSize returns the predicted image size in bytes, or 0 if unset.
func (r *Ring) GetSize() int64 {
	r.sizeMu.Lock()
	defer r.sizeMu.Unlock()
	return r.size
}

// SetSize installs an explicit expected size.
func (r *Ring) SetSize(size int64) {
	r.sizeMu.Lock()
	defer r.sizeMu.Unlock()
	r.size = size
}

// Canceled reports whether Cancel has been called, for producers that need
// to check cooperatively between blocks rather than only at Push time.
func (r *Ring) Canceled() bool {
	select {
	case <-r.cancel:
		return true
	default:
		return false
	}
}
