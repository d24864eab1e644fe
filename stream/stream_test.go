package stream

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func readAll(t *testing.T, s Stream) []byte {
	t.Helper()
	require.NoError(t, s.Open())
	defer s.Close()
	var out []byte
	buf := make([]byte, 17)
	for {
		n, err := s.Read(buf)
		out = append(out, buf[:n]...)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}
	return out
}

func TestFileSourceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	content := []byte("the quick brown fox jumps over the lazy dog")
	path := writeTempFile(t, dir, "a.txt", content)

	fs := NewFileSource(path)
	assert.True(t, fs.IsRepeatable())
	assert.Equal(t, content, readAll(t, fs))
	size, err := fs.Size()
	require.NoError(t, err)
	assert.EqualValues(t, len(content), size)
}

func TestFileSourceIdentityDedup(t *testing.T) {
	dir := t.TempDir()
	path := writeTempFile(t, dir, "a.txt", []byte("same file seen twice"))

	a := NewFileSource(path)
	b := NewFileSource(path)
	require.NoError(t, a.Open())
	require.NoError(t, b.Open())
	defer a.Close()
	defer b.Close()

	assert.Equal(t, 0, a.Compare(b))
}

func TestFileSourceDistinctFilesDoNotDedup(t *testing.T) {
	dir := t.TempDir()
	p1 := writeTempFile(t, dir, "a.txt", []byte("aaaa"))
	p2 := writeTempFile(t, dir, "b.txt", []byte("bbbb"))

	a := NewFileSource(p1)
	b := NewFileSource(p2)
	require.NoError(t, a.Open())
	require.NoError(t, b.Open())
	defer a.Close()
	defer b.Close()

	assert.NotEqual(t, 0, a.Compare(b))
}

func TestMemoryCompareByContent(t *testing.T) {
	a := NewMemory([]byte("hello"))
	b := NewMemory([]byte("hello"))
	c := NewMemory([]byte("world"))

	assert.Equal(t, 0, a.Compare(b))
	assert.NotEqual(t, 0, a.Compare(c))
}

func TestCutOutSkipsAndClamps(t *testing.T) {
	base := NewMemory([]byte("0123456789abcdef"))
	co := NewCutOut(base, 4, 6)

	got := readAll(t, co)
	assert.Equal(t, []byte("456789"), got)
	size, err := co.Size()
	require.NoError(t, err)
	assert.EqualValues(t, 6, size)
}

func TestCutOutCompareSameRangeRecursesIntoBase(t *testing.T) {
	base1 := NewMemory([]byte("same content here"))
	base2 := NewMemory([]byte("same content here"))
	a := NewCutOut(base1, 2, 5)
	b := NewCutOut(base2, 2, 5)

	assert.Equal(t, 0, a.Compare(b))
}

func TestGzipRoundTrip(t *testing.T) {
	content := []byte("repeated repeated repeated repeated data data data")
	mem := NewMemory(content)
	gz := NewGzipCompressor(mem)

	compressed := readAll(t, gz)
	assert.NotEmpty(t, compressed)

	back := NewGzipDecompressor(NewMemory(compressed))
	decompressed := readAll(t, back)
	assert.Equal(t, content, decompressed)
}

func TestGzipCompareSameParamsRecurses(t *testing.T) {
	a := NewGzipCompressor(NewMemory([]byte("xyz")))
	b := NewGzipCompressor(NewMemory([]byte("xyz")))
	assert.Equal(t, 0, a.Compare(b))

	c := NewGzipCompressor(NewMemory([]byte("different")))
	assert.NotEqual(t, 0, a.Compare(c))
}

func TestSetGzipLevelRejectsWhileLive(t *testing.T) {
	gz := NewGzipCompressor(NewMemory([]byte("data")))
	require.NoError(t, gz.Open())

	err := SetGzipLevel(9)
	assert.Error(t, err)

	gz.Close()
	require.NoError(t, SetGzipLevel(6))
}

func TestZisofsRoundTripSingleBlock(t *testing.T) {
	content := make([]byte, 500)
	for i := range content {
		content[i] = byte(i % 251)
	}
	comp := NewZisofsCompressor(NewMemory(content))
	encoded := readAll(t, comp)
	assert.Greater(t, len(encoded), zisofsHeaderSize)

	decomp := NewZisofsDecompressor(NewMemory(encoded))
	decoded := readAll(t, decomp)
	assert.Equal(t, content, decoded)
}

func TestZisofsRoundTripMultiBlockWithZeroBlock(t *testing.T) {
	blockSize := 1 << 15
	content := make([]byte, blockSize*2+123)
	for i := 0; i < blockSize; i++ {
		content[i] = byte(i)
	}
	// second block left all zero

	comp := NewZisofsCompressor(NewMemory(content))
	encoded := readAll(t, comp)

	decomp := NewZisofsDecompressor(NewMemory(encoded))
	decoded := readAll(t, decomp)
	assert.Equal(t, content, decoded)
}

func TestZisofsTooLarge(t *testing.T) {
	comp := NewZisofsCompressor(&fakeBigStream{size: zisofsMaxUncompressedSize + 1})
	err := comp.Open()
	assert.Error(t, err)
}

// fakeBigStream reports a large size without allocating the content, to
// exercise the 32-bit ceiling check.
type fakeBigStream struct {
	size int64
	pos  int64
}

func (f *fakeBigStream) Open() error { f.pos = 0; return nil }
func (f *fakeBigStream) Close() error { return nil }
func (f *fakeBigStream) Read(buf []byte) (int, error) {
	if f.pos >= f.size {
		return 0, io.EOF
	}
	n := int64(len(buf))
	if f.pos+n > f.size {
		n = f.size - f.pos
	}
	f.pos += n
	if f.pos >= f.size {
		return int(n), io.EOF
	}
	return int(n), nil
}
func (f *fakeBigStream) Size() (int64, error)         { return f.size, nil }
func (f *fakeBigStream) IsRepeatable() bool           { return true }
func (f *fakeBigStream) StreamIdentity() Identity     { return NextSyntheticIdentity() }
func (f *fakeBigStream) Compare(other Stream) int     { return compareIdentity(f.StreamIdentity(), other.StreamIdentity()) }
func (f *fakeBigStream) Clone() (Stream, error)       { return &fakeBigStream{size: f.size}, nil }
func (f *fakeBigStream) Input() Stream                { return nil }

func TestExternalFilterRunsThroughCat(t *testing.T) {
	if _, err := os.Stat("/bin/cat"); err != nil {
		t.Skip("/bin/cat not available")
	}
	content := []byte("piped through cat")
	cmdDesc := NewExternalFilterCommand([]string{"/bin/cat"}, FilterKeepAlways)
	ef := NewExternalFilter(NewMemory(content), cmdDesc)

	got := readAll(t, ef)
	assert.Equal(t, content, got)
}

func TestBootCatalogRequiresFinalize(t *testing.T) {
	bc := NewBootCatalog(2048)
	err := bc.Open()
	assert.Error(t, err)

	bc.Finalize([]byte("catalog bytes"))
	require.NoError(t, bc.Open())
	defer bc.Close()
	buf := make([]byte, 32)
	n, err := bc.Read(buf)
	assert.True(t, err == io.EOF || err == nil)
	assert.Equal(t, "catalog bytes", string(buf[:n]))
}
