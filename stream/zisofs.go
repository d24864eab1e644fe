package stream

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/klauspost/compress/zlib"
	"github.com/sasha-s/go-deadlock"

	"github.com/kdsys/isoimage/internal/ierr"
)

// zisofs wire-format constants, from spec.md §4.1.3.
const (
	zisofsMagic0 = 0x37
	zisofsMagic1 = 0xE4
	zisofsHeaderSize = 16
	zisofsMaxUncompressedSize = int64(1)<<32 - 1 // must fit in 32 bits
)

var zisofsMagic = [8]byte{0x37, 0xE4, 0x53, 0x96, 0xC9, 0xDB, 0xD6, 0x07}

// zisofsParams holds the process-wide compression level and block size,
// guarded by a live-instance reference counter per spec.md §4.1.3/§9: they
// cannot change while any compressor is live.
var zisofsParams = struct {
	mu           deadlock.Mutex
	level        int
	blockSizeLog int
	liveCnt      int
}{level: 6, blockSizeLog: 15}

// SetZisofsParams changes the process-wide zisofs level (0-9) and block
// size (log2, one of 15/16/17). Fails if a compressor instance is live.
func SetZisofsParams(level, blockSizeLog int) error {
	zisofsParams.mu.Lock()
	defer zisofsParams.mu.Unlock()
	if zisofsParams.liveCnt > 0 {
		return ierr.New(ierr.CodeWrongArgument, ierr.SevFailure, "cannot change zisofs parameters while compressors are live", nil)
	}
	if level < 0 || level > 9 {
		return ierr.New(ierr.CodeWrongArgument, ierr.SevFailure, "zisofs level out of range", nil)
	}
	if blockSizeLog != 15 && blockSizeLog != 16 && blockSizeLog != 17 {
		return ierr.New(ierr.CodeWrongArgument, ierr.SevFailure, "zisofs block_size_log2 must be 15, 16 or 17", nil)
	}
	zisofsParams.blockSizeLog = blockSizeLog
	zisofsParams.level = level
	return nil
}

// Zisofs implements the transparently-decompressible block format spec.md
// §4.1.3 describes. The real library runs a three-state machine (header,
// block-pointer table, data blocks) across two passes so it can stream
// arbitrarily large content with bounded memory; this implementation keeps
// the same wire format and state machine but produces the whole encoded
// buffer in one pass during size determination, which is sufficient given
// the format's own 32-bit uncompressed-size ceiling. Decompression remains
// fully streaming: blocks are read and inflated on demand, in order, with
// no seeking required since the source stream is consumed sequentially.
type Zisofs struct {
	input    Stream
	compress bool

	blockSizeLog int
	level        int

	// compressor state
	encoded    []byte
	encodedPos int

	// decompressor state
	header       zisofsHeader
	pointers     []uint32
	blockIdx     int
	pending      []byte
	headerParsed bool

	id Identity
}

type zisofsHeader struct {
	uncompressedSize uint32
	headerSizeDiv4   byte
	blockSizeLog2    byte
}

// NewZisofsCompressor compresses input into the zisofs block format using
// the current process-wide level/block size.
func NewZisofsCompressor(input Stream) *Zisofs {
	zisofsParams.mu.Lock()
	bs, lvl := zisofsParams.blockSizeLog, zisofsParams.level
	zisofsParams.mu.Unlock()
	return &Zisofs{input: input, compress: true, blockSizeLog: bs, level: lvl, id: NextSyntheticIdentity()}
}

// NewZisofsDecompressor expands zisofs-formatted input back to raw bytes.
func NewZisofsDecompressor(input Stream) *Zisofs {
	return &Zisofs{input: input, compress: false, id: NextSyntheticIdentity()}
}

func (z *Zisofs) Open() error {
	if err := z.input.Open(); err != nil {
		return err
	}
	if z.compress {
		zisofsParams.mu.Lock()
		zisofsParams.liveCnt++
		zisofsParams.mu.Unlock()
		if z.encoded == nil {
			if err := z.encodeAll(); err != nil {
				z.input.Close()
				return err
			}
		}
		z.encodedPos = 0
		return nil
	}
	return z.readHeader()
}

func (z *Zisofs) Close() error {
	if z.compress {
		zisofsParams.mu.Lock()
		zisofsParams.liveCnt--
		zisofsParams.mu.Unlock()
	}
	z.headerParsed = false
	z.pointers = nil
	z.pending = nil
	z.blockIdx = 0
	return z.input.Close()
}

// encodeAll runs the full three-state machine (header, pointer table, data
// blocks) and caches the result, giving Read something to stream from.
func (z *Zisofs) encodeAll() error {
	if size, err := z.input.Size(); err == nil && size > zisofsMaxUncompressedSize {
		return ierr.New(ierr.CodeZisofsTooLarge, ierr.SevFailure, "zisofs input exceeds 32-bit size limit", nil)
	}
	raw, err := io.ReadAll(&rawReader{z.input})
	if err != nil {
		return ierr.New(ierr.CodePrematureEOF, ierr.SevSorry, "reading zisofs input", err)
	}
	if int64(len(raw)) > zisofsMaxUncompressedSize {
		return ierr.New(ierr.CodeZisofsTooLarge, ierr.SevFailure, "zisofs input exceeds 32-bit size limit", nil)
	}
	blockSize := 1 << uint(z.blockSizeLog)
	numBlocks := (len(raw) + blockSize - 1) / blockSize
	if len(raw) == 0 {
		numBlocks = 0
	}

	var out bytes.Buffer
	out.Write(zisofsMagic[:])
	var sizeBuf [4]byte
	binary.LittleEndian.PutUint32(sizeBuf[:], uint32(len(raw)))
	out.Write(sizeBuf[:])
	out.WriteByte(zisofsHeaderSize / 4)
	out.WriteByte(byte(z.blockSizeLog))
	out.Write([]byte{0, 0}) // reserved

	pointers := make([]uint32, numBlocks+1)
	blockData := make([][]byte, numBlocks)
	cursor := uint32(zisofsHeaderSize + 4*(numBlocks+1))
	for i := 0; i < numBlocks; i++ {
		pointers[i] = cursor
		start := i * blockSize
		end := start + blockSize
		if end > len(raw) {
			end = len(raw)
		}
		chunk := raw[start:end]
		if allZero(chunk) {
			blockData[i] = nil
		} else {
			var cbuf bytes.Buffer
			zw, err := zlib.NewWriterLevel(&cbuf, z.level)
			if err != nil {
				return ierr.New(ierr.CodeZlibError, ierr.SevSorry, "initializing zisofs block compressor", err)
			}
			if _, err := zw.Write(chunk); err != nil {
				return ierr.New(ierr.CodeZlibError, ierr.SevSorry, "compressing zisofs block", err)
			}
			if err := zw.Close(); err != nil {
				return ierr.New(ierr.CodeZlibError, ierr.SevSorry, "finalizing zisofs block", err)
			}
			blockData[i] = cbuf.Bytes()
		}
		cursor += uint32(len(blockData[i]))
	}
	pointers[numBlocks] = cursor

	for _, p := range pointers {
		binary.Write(&out, binary.LittleEndian, p)
	}
	for _, bd := range blockData {
		out.Write(bd)
	}
	z.encoded = out.Bytes()
	return nil
}

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

func (z *Zisofs) readHeader() error {
	var hdr [zisofsHeaderSize]byte
	if _, err := io.ReadFull(&rawReader{z.input}, hdr[:]); err != nil {
		return ierr.New(ierr.CodeZisofsCorruptHeader, ierr.SevFailure, "reading zisofs header", err)
	}
	if !bytes.Equal(hdr[0:8], zisofsMagic[:]) {
		return ierr.New(ierr.CodeZisofsCorruptHeader, ierr.SevFailure, "bad zisofs magic", nil)
	}
	z.header.uncompressedSize = binary.LittleEndian.Uint32(hdr[8:12])
	z.header.headerSizeDiv4 = hdr[12]
	z.header.blockSizeLog2 = hdr[13]

	blockSize := 1 << uint(z.header.blockSizeLog2)
	numBlocks := 0
	if z.header.uncompressedSize > 0 {
		numBlocks = (int(z.header.uncompressedSize) + blockSize - 1) / blockSize
	}
	// The pointer table has numBlocks+1 entries: one per block plus a
	// terminator giving the end offset of the last block. See spec.md §9's
	// open question about block_pointers sizing; this is the resolution.
	z.pointers = make([]uint32, numBlocks+1)
	for i := range z.pointers {
		var pbuf [4]byte
		if _, err := io.ReadFull(&rawReader{z.input}, pbuf[:]); err != nil {
			return ierr.New(ierr.CodeZisofsCorruptHeader, ierr.SevFailure, "reading zisofs block pointer table", err)
		}
		z.pointers[i] = binary.LittleEndian.Uint32(pbuf[:])
	}
	z.headerParsed = true
	z.blockIdx = 0
	return nil
}

func (z *Zisofs) Read(buf []byte) (int, error) {
	if z.compress {
		if z.encoded == nil {
			return 0, ierr.New(ierr.CodeWrongArgument, ierr.SevFailure, "read on closed zisofs stream", nil)
		}
		if z.encodedPos >= len(z.encoded) {
			return 0, io.EOF
		}
		n := copy(buf, z.encoded[z.encodedPos:])
		z.encodedPos += n
		var err error
		if z.encodedPos >= len(z.encoded) {
			err = io.EOF
		}
		return n, err
	}

	if !z.headerParsed {
		return 0, ierr.New(ierr.CodeWrongArgument, ierr.SevFailure, "read on closed zisofs stream", nil)
	}
	for len(z.pending) == 0 {
		if z.blockIdx >= len(z.pointers)-1 {
			return 0, io.EOF
		}
		blockSize := 1 << uint(z.header.blockSizeLog2)
		todo := z.pointers[z.blockIdx+1] - z.pointers[z.blockIdx]
		outLen := blockSize
		remaining := int(z.header.uncompressedSize) - z.blockIdx*blockSize
		if remaining < outLen {
			outLen = remaining
		}
		if todo == 0 {
			z.pending = make([]byte, outLen) // zero-length block expands to zeros
		} else {
			compressed := make([]byte, todo)
			if _, err := io.ReadFull(&rawReader{z.input}, compressed); err != nil {
				return 0, ierr.New(ierr.CodeZisofsCorruptHeader, ierr.SevFailure, "reading zisofs block payload", err)
			}
			zr, err := zlib.NewReader(bytes.NewReader(compressed))
			if err != nil {
				return 0, ierr.New(ierr.CodeZlibError, ierr.SevSorry, "inflating zisofs block", err)
			}
			decoded, err := io.ReadAll(zr)
			zr.Close()
			if err != nil {
				return 0, ierr.New(ierr.CodeZlibError, ierr.SevSorry, "inflating zisofs block", err)
			}
			if len(decoded) > outLen {
				decoded = decoded[:outLen]
			}
			z.pending = decoded
		}
		z.blockIdx++
	}
	n := copy(buf, z.pending)
	z.pending = z.pending[n:]
	if n < len(buf) {
		// block boundary: continue filling buf from the next block
		m, err := z.Read(buf[n:])
		return n + m, err
	}
	return n, nil
}

func (z *Zisofs) UpdateSize() error {
	if z.compress {
		z.encoded = nil
		return z.encodeAll()
	}
	return z.readHeader()
}

func (z *Zisofs) Size() (int64, error) {
	if z.compress {
		if z.encoded == nil {
			if err := z.encodeAll(); err != nil {
				return 0, err
			}
		}
		return int64(len(z.encoded)), nil
	}
	if !z.headerParsed {
		if err := z.readHeader(); err != nil {
			return 0, err
		}
	}
	return int64(z.header.uncompressedSize), nil
}

func (z *Zisofs) IsRepeatable() bool { return z.input.IsRepeatable() }

func (z *Zisofs) StreamIdentity() Identity { return z.id }

func (z *Zisofs) Compare(other Stream) int {
	oz, ok := other.(*Zisofs)
	same := ok && oz.compress == z.compress && oz.blockSizeLog == z.blockSizeLog
	return compareFilterChain(z, other, same)
}

func (z *Zisofs) Clone() (Stream, error) {
	inClone, err := z.input.Clone()
	if err != nil {
		return nil, err
	}
	if z.compress {
		c := NewZisofsCompressor(inClone)
		c.blockSizeLog, c.level = z.blockSizeLog, z.level
		return c, nil
	}
	return NewZisofsDecompressor(inClone), nil
}

func (z *Zisofs) Input() Stream { return z.input }
