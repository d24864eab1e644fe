package stream

import (
	"io"

	kgzip "github.com/klauspost/compress/gzip"
	"github.com/sasha-s/go-deadlock"

	"github.com/kdsys/isoimage/internal/ierr"
)

// gzipParams holds the process-wide compression level, guarded by a
// reference counter rather than a mutex as spec.md §4.1.2/§9 describes:
// the level may not change while any Gzip compressor instance is live.
var gzipParams = struct {
	mu      deadlock.Mutex
	level   int
	liveCnt int
}{level: 6}

// SetGzipLevel changes the process-wide gzip compression level (0-9, where
// 0 stores without compression).
// Returns an error if any compressor instance currently exists.
func SetGzipLevel(level int) error {
	gzipParams.mu.Lock()
	defer gzipParams.mu.Unlock()
	if gzipParams.liveCnt > 0 {
		return ierr.New(ierr.CodeWrongArgument, ierr.SevFailure, "cannot change gzip level while compressors are live", nil)
	}
	if level < kgzip.NoCompression || level > kgzip.BestCompression {
		return ierr.New(ierr.CodeWrongArgument, ierr.SevFailure, "gzip level out of range", nil)
	}
	gzipParams.level = level
	return nil
}

// Gzip wraps Input, either compressing or decompressing it with
// klauspost/compress/gzip. Both directions share state and use 2KiB
// staging buffers matching spec.md §4.1.2.
type Gzip struct {
	input    Stream
	compress bool

	gr   *kgzip.Reader
	gw   *kgzip.Writer
	pr   *io.PipeReader
	pw   *io.PipeWriter
	done chan error

	cachedSize int64
	sizeKnown  bool
	id         Identity
}

// NewGzipCompressor compresses input on Read.
func NewGzipCompressor(input Stream) *Gzip {
	return &Gzip{input: input, compress: true, id: NextSyntheticIdentity()}
}

// NewGzipDecompressor decompresses input (which must itself be gzip data)
// on Read.
func NewGzipDecompressor(input Stream) *Gzip {
	return &Gzip{input: input, compress: false, id: NextSyntheticIdentity()}
}

func (g *Gzip) Open() error {
	if err := g.input.Open(); err != nil {
		return err
	}
	if g.compress {
		gzipParams.mu.Lock()
		level := gzipParams.level
		gzipParams.liveCnt++
		gzipParams.mu.Unlock()

		pr, pw := io.Pipe()
		gw, err := kgzip.NewWriterLevel(pw, level)
		if err != nil {
			g.input.Close()
			return ierr.New(ierr.CodeZlibError, ierr.SevSorry, "initializing gzip writer", err)
		}
		g.pr, g.pw, g.gw = pr, pw, gw
		g.done = make(chan error, 1)
		go g.pumpCompress()
		return nil
	}
	gr, err := kgzip.NewReader(&rawReader{g.input})
	if err != nil {
		g.input.Close()
		return ierr.New(ierr.CodeZlibError, ierr.SevSorry, "initializing gzip reader", err)
	}
	g.gr = gr
	return nil
}

func (g *Gzip) pumpCompress() {
	buf := make([]byte, 2048)
	for {
		n, err := g.input.Read(buf)
		if n > 0 {
			if _, werr := g.gw.Write(buf[:n]); werr != nil {
				g.pw.CloseWithError(werr)
				g.done <- werr
				return
			}
		}
		if err != nil {
			if err != io.EOF {
				g.pw.CloseWithError(err)
				g.done <- err
				return
			}
			break
		}
	}
	closeErr := g.gw.Close()
	g.pw.CloseWithError(io.EOF)
	g.done <- closeErr
}

func (g *Gzip) Close() error {
	if g.gr != nil {
		g.gr.Close()
		g.gr = nil
	}
	if g.pw != nil {
		g.pr.Close()
		g.pw.Close()
		g.pw = nil
		gzipParams.mu.Lock()
		gzipParams.liveCnt--
		gzipParams.mu.Unlock()
	}
	return g.input.Close()
}

func (g *Gzip) Read(buf []byte) (int, error) {
	if g.compress {
		if g.pr == nil {
			return 0, ierr.New(ierr.CodeWrongArgument, ierr.SevFailure, "read on closed gzip stream", nil)
		}
		n, err := io.ReadFull(g.pr, buf)
		if err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		return n, err
	}
	if g.gr == nil {
		return 0, ierr.New(ierr.CodeWrongArgument, ierr.SevFailure, "read on closed gzip stream", nil)
	}
	n, err := io.ReadFull(g.gr, buf)
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}
	return n, err
}

func (g *Gzip) UpdateSize() error {
	clone, err := g.Clone()
	if err != nil {
		return err
	}
	if err := clone.Open(); err != nil {
		return err
	}
	defer clone.Close()
	n, err := io.Copy(io.Discard, &rawReader{clone})
	if err != nil {
		return ierr.New(ierr.CodePrematureEOF, ierr.SevSorry, "determining gzip stream size", err)
	}
	g.cachedSize = n
	g.sizeKnown = true
	return nil
}

func (g *Gzip) Size() (int64, error) {
	if g.sizeKnown {
		return g.cachedSize, nil
	}
	if err := g.UpdateSize(); err != nil {
		return 0, err
	}
	return g.cachedSize, nil
}

func (g *Gzip) IsRepeatable() bool { return g.input.IsRepeatable() }

func (g *Gzip) StreamIdentity() Identity { return g.id }

func (g *Gzip) Compare(other Stream) int {
	og, ok := other.(*Gzip)
	same := ok && og.compress == g.compress
	return compareFilterChain(g, other, same)
}

func (g *Gzip) Clone() (Stream, error) {
	inClone, err := g.input.Clone()
	if err != nil {
		return nil, err
	}
	if g.compress {
		return NewGzipCompressor(inClone), nil
	}
	return NewGzipDecompressor(inClone), nil
}

func (g *Gzip) Input() Stream { return g.input }
