package checksum

import (
	"crypto/md5"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccumulatorMatchesDirectMD5(t *testing.T) {
	a := NewAccumulator()
	a.Write([]byte("hello "))
	a.Write([]byte("world"))

	want := md5.Sum([]byte("hello world"))
	assert.Equal(t, want, a.Sum())
}

func TestTagMarshalParseRoundTrip(t *testing.T) {
	tag := Tag{
		Type:        TypeSuperblock,
		ExpectedLBA: 16,
		RangeStart:  0,
		RangeSize:   16,
		MD5:         md5.Sum([]byte("some content")),
	}
	block := tag.Marshal()
	assert.Len(t, block, BlockSize)

	parsed, err := ParseTag(block)
	require.NoError(t, err)
	assert.Equal(t, tag.Type, parsed.Type)
	assert.Equal(t, tag.ExpectedLBA, parsed.ExpectedLBA)
	assert.Equal(t, tag.RangeStart, parsed.RangeStart)
	assert.Equal(t, tag.RangeSize, parsed.RangeSize)
	assert.Equal(t, tag.MD5, parsed.MD5)
}

func TestParseTagRejectsTamperedSelf(t *testing.T) {
	tag := Tag{Type: TypeSession, ExpectedLBA: 1, RangeStart: 0, RangeSize: 1, MD5: md5.Sum(nil)}
	block := tag.Marshal()
	selfAt := indexOf(block, []byte("self=")) + len("self=")
	block[selfAt] ^= 0xff // corrupt a byte inside the self hex digits

	_, err := ParseTag(block)
	assert.Error(t, err)
}

func TestParseTagRejectsNonTagBlock(t *testing.T) {
	_, err := ParseTag(make([]byte, BlockSize))
	assert.Error(t, err)
}

func TestArrayFinalizeIsDeterministicAndGuardsTampering(t *testing.T) {
	a := NewArray(2)
	a.SetSession(md5.Sum([]byte("session")))
	a.SetFile(1, md5.Sum([]byte("file1")))
	a.SetFile(2, md5.Sum([]byte("file2")))

	packed := a.Finalize()
	require.Len(t, packed, 4)

	b := NewArray(2)
	b.SetSession(md5.Sum([]byte("session")))
	b.SetFile(1, md5.Sum([]byte("file1")))
	b.SetFile(2, md5.Sum([]byte("file2")))
	packedAgain := b.Finalize()
	assert.Equal(t, packed, packedAgain)

	c := NewArray(2)
	c.SetSession(md5.Sum([]byte("session")))
	c.SetFile(1, md5.Sum([]byte("different")))
	c.SetFile(2, md5.Sum([]byte("file2")))
	packedTampered := c.Finalize()
	assert.NotEqual(t, packed[3], packedTampered[3])
}

func TestArrayPackSizeIsWholeBlocks(t *testing.T) {
	a := NewArray(300)
	packed := a.Pack()
	assert.Equal(t, 0, len(packed)%BlockSize)
	assert.GreaterOrEqual(t, len(packed), (302*16))
}

func TestAAIPCARoundTrip(t *testing.T) {
	enc := EncodeCA(12345, 3, 300)
	lba, size, count, digestSize, algo, err := DecodeCA(enc)
	require.NoError(t, err)
	assert.EqualValues(t, 12345, lba)
	assert.EqualValues(t, 3, size)
	assert.EqualValues(t, 300, count)
	assert.EqualValues(t, 16, digestSize)
	assert.Equal(t, "MD5", algo)
}

func TestAAIPCXRoundTrip(t *testing.T) {
	enc := EncodeCX(77)
	idx, err := DecodeCX(enc)
	require.NoError(t, err)
	assert.EqualValues(t, 77, idx)
}
