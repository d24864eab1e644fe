package filesrc

import (
	"crypto/md5"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kdsys/isoimage/internal/ierr"
	"github.com/kdsys/isoimage/stream"
)

type fakeSink struct{ events []ierr.Event }

func (s *fakeSink) Emit(e ierr.Event) { s.events = append(s.events, e) }

type recordingEmitter struct {
	blocks map[uint32][]byte
	order  []uint32
}

func newRecordingEmitter() *recordingEmitter {
	return &recordingEmitter{blocks: map[uint32][]byte{}}
}

func (e *recordingEmitter) EmitBlock(lba uint32, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	e.blocks[lba] = cp
	e.order = append(e.order, lba)
	return nil
}

type recordingDigests struct {
	digests map[uint32][md5.Size]byte
}

func newRecordingDigests() *recordingDigests {
	return &recordingDigests{digests: map[uint32][md5.Size]byte{}}
}

func (d *recordingDigests) RecordFileDigest(idx uint32, digest [md5.Size]byte) {
	d.digests[idx] = digest
}

func TestInsertDedupsByStreamCompare(t *testing.T) {
	p := New(false, true)
	a := stream.NewMemory([]byte("hello"))
	b := stream.NewMemory([]byte("hello"))

	ea, err := p.Insert(a, 0, false)
	require.NoError(t, err)
	eb, err := p.Insert(b, 0, false)
	require.NoError(t, err)

	assert.Same(t, ea, eb)
	assert.EqualValues(t, 1, p.NextChecksumIndex())
}

func TestInsertDistinctContentGetsDistinctEntries(t *testing.T) {
	p := New(false, true)
	a := stream.NewMemory([]byte("hello"))
	b := stream.NewMemory([]byte("world"))

	ea, err := p.Insert(a, 0, false)
	require.NoError(t, err)
	eb, err := p.Insert(b, 0, false)
	require.NoError(t, err)

	assert.NotSame(t, ea, eb)
	assert.EqualValues(t, 2, p.NextChecksumIndex())
}

func TestSectionCountSplitsAtExtentBoundary(t *testing.T) {
	assert.Equal(t, 1, sectionCount(0))
	assert.Equal(t, 1, sectionCount(ISOExtentSize))
	assert.Equal(t, 2, sectionCount(ISOExtentSize+1))
	assert.Equal(t, 2, sectionCount(ISOExtentSize*2))
	assert.Equal(t, 3, sectionCount(ISOExtentSize*2+1))
}

func TestPreComputeAssignsSequentialBlocksAndReservesEmptyBlock(t *testing.T) {
	p := New(false, false)
	s1, err := p.Insert(stream.NewMemory(make([]byte, SectorSize*3)), 0, false)
	require.NoError(t, err)
	s2, err := p.Insert(stream.NewMemory([]byte{}), 0, false)
	require.NoError(t, err)

	p.PreCompute(nil)

	assert.EqualValues(t, 0, p.EmptyFileBlock())
	assert.EqualValues(t, 1, s1.Sections[0].Block)
	assert.EqualValues(t, p.EmptyFileBlock(), s2.Sections[0].Block)
	assert.EqualValues(t, 0, s2.Sections[0].Size)
	assert.EqualValues(t, 4, p.TotalBlocks())
}

func TestPreComputeReusesImportedEmptyBlock(t *testing.T) {
	p := New(false, false)
	_, err := p.Insert(stream.NewMemory([]byte{}), 0, false)
	require.NoError(t, err)

	reused := uint32(555)
	p.PreCompute(&reused)
	assert.EqualValues(t, 555, p.EmptyFileBlock())
}

func TestComputeDataBlocksOffsetsAddressesButSkipsSentinel(t *testing.T) {
	p := New(false, false)
	entry, err := p.Insert(stream.NewMemory(make([]byte, SectorSize)), 0, false)
	require.NoError(t, err)
	ext := p.InsertExternal(2048)

	p.PreCompute(nil)
	p.ComputeDataBlocks(1000)

	assert.EqualValues(t, 1000, p.EmptyFileBlock())
	assert.EqualValues(t, 1001, entry.Sections[0].Block)
	assert.EqualValues(t, SentinelExternal, ext.Sections[0].Block)
}

func TestWriteEmitsContentAndRecordsDigest(t *testing.T) {
	p := New(false, true)
	content := make([]byte, SectorSize*2+10)
	for i := range content {
		content[i] = byte(i)
	}
	entry, err := p.Insert(stream.NewMemory(content), 0, false)
	require.NoError(t, err)

	p.PreCompute(nil)
	p.ComputeDataBlocks(0)

	emitter := newRecordingEmitter()
	digests := newRecordingDigests()
	sink := &fakeSink{}

	require.NoError(t, p.Write(emitter, digests, false, sink))

	want := md5.Sum(content)
	got, ok := digests.digests[entry.ChecksumIndex]
	require.True(t, ok)
	assert.Equal(t, want, got)

	// the short final block must be zero-padded to a full sector
	lastBlock := entry.Sections[len(entry.Sections)-1].Block
	assert.Len(t, emitter.blocks[lastBlock], SectorSize)
}

func TestWriteZeroFillsOnOpenFailure(t *testing.T) {
	p := New(false, false)
	broken := &alwaysFailsOpen{size: SectorSize}
	entry, err := p.Insert(broken, 0, false)
	require.NoError(t, err)

	p.PreCompute(nil)
	p.ComputeDataBlocks(0)

	emitter := newRecordingEmitter()
	digests := newRecordingDigests()
	sink := &fakeSink{}

	require.NoError(t, p.Write(emitter, digests, false, sink))

	block := emitter.blocks[entry.Sections[0].Block]
	require.Len(t, block, SectorSize)
	for _, b := range block {
		assert.EqualValues(t, 0, b)
	}
}

// alwaysFailsOpen is a minimal Stream whose Open always errors, used to
// exercise the write path's zero-fill-on-failure branch.
type alwaysFailsOpen struct {
	size int64
	id   stream.Identity
}

func (a *alwaysFailsOpen) Open() error                          { return ierr.New(ierr.CodeFileOpenFailed, ierr.SevWarning, "nope", nil) }
func (a *alwaysFailsOpen) Close() error                          { return nil }
func (a *alwaysFailsOpen) Read(buf []byte) (int, error)          { return 0, nil }
func (a *alwaysFailsOpen) Size() (int64, error)                  { return a.size, nil }
func (a *alwaysFailsOpen) IsRepeatable() bool                    { return true }
func (a *alwaysFailsOpen) StreamIdentity() stream.Identity       { return a.id }
func (a *alwaysFailsOpen) Compare(other stream.Stream) int       { return 1 }
func (a *alwaysFailsOpen) Clone() (stream.Stream, error)         { return a, nil }
func (a *alwaysFailsOpen) Input() stream.Stream                  { return nil }
