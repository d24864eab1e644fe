package ringbuf

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func block(fill byte) []byte {
	b := make([]byte, BlockSize)
	for i := range b {
		b[i] = fill
	}
	return b
}

func TestPushReadPreservesOrderAndContent(t *testing.T) {
	r := New(4)
	go func() {
		require.NoError(t, r.Push(block(1)))
		require.NoError(t, r.Push(block(2)))
		r.CloseProducer()
	}()

	buf := make([]byte, BlockSize*2)
	n, err := r.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, BlockSize*2, n)
	assert.Equal(t, byte(1), buf[0])
	assert.Equal(t, byte(2), buf[BlockSize])

	n, err = r.Read(buf[:1])
	assert.Equal(t, 0, n)
	assert.Equal(t, io.EOF, err)
}

func TestReadAcrossMultiplePushedBlocksInSmallerChunks(t *testing.T) {
	r := New(4)
	go func() {
		require.NoError(t, r.Push(block(7)))
		require.NoError(t, r.Push(block(8)))
		r.CloseProducer()
	}()

	total := make([]byte, 0, BlockSize*2)
	buf := make([]byte, 512)
	for {
		n, err := r.Read(buf)
		total = append(total, buf[:n]...)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}
	assert.Len(t, total, BlockSize*2)
	assert.Equal(t, byte(7), total[0])
	assert.Equal(t, byte(8), total[BlockSize])
}

func TestCancelUnblocksPush(t *testing.T) {
	r := New(1) // clamped up to MinFIFOBlocks
	for i := 0; i < MinFIFOBlocks; i++ {
		require.NoError(t, r.Push(block(1))) // fills the ring to capacity
	}

	errc := make(chan error, 1)
	go func() { errc <- r.Push(block(2)) }()

	r.Cancel()
	err := <-errc
	assert.Error(t, err)
	assert.True(t, r.Canceled())
}

func TestCancelUnblocksRead(t *testing.T) {
	r := New(2)
	resultc := make(chan error, 1)
	go func() {
		_, err := r.Read(make([]byte, BlockSize))
		resultc <- err
	}()

	r.Cancel()
	err := <-resultc
	assert.Error(t, err)
}

func TestGetSetSize(t *testing.T) {
	r := New(4)
	assert.EqualValues(t, 0, r.GetSize())
	r.SetSize(123456)
	assert.EqualValues(t, 123456, r.GetSize())
}

func TestRequiredFIFOBlocks(t *testing.T) {
	assert.Equal(t, MinFIFOBlocks, RequiredFIFOBlocks(0))
	assert.Equal(t, MinFIFOBlocks+10, RequiredFIFOBlocks(10))
}
