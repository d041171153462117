package cloudfiles

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"sync"
)

// Default transfer sizes
const (
	DefaultChunkSize       = 64 * 1024
	DefaultOutputChunkSize = 4096
)

// byteRange is an offset and an optional size; size < 0 means to the end.
type byteRange struct {
	offset int64
	size   int64
}

// whole reports whether the range covers the entire object.
func (r byteRange) whole() bool {
	return r.offset == 0 && r.size < 0
}

// empty reports whether the range selects no bytes.
func (r byteRange) empty() bool {
	return r.size == 0
}

// header renders the HTTP Range header value, or "" for the whole object.
func (r byteRange) header() string {
	switch {
	case r.whole():
		return ""
	case r.size < 0:
		return fmt.Sprintf("bytes=%d-", r.offset)
	default:
		return fmt.Sprintf("bytes=%d-%d", r.offset, r.offset+r.size-1)
	}
}

// nextWindow returns the window starting at cursor, clipped to end.
func nextWindow(cursor, end int64, chunk int) (byteRange, bool) {
	if cursor >= end {
		return byteRange{}, false
	}
	size := int64(chunk)
	if cursor+size > end {
		size = end - cursor
	}
	return byteRange{offset: cursor, size: size}, true
}

// windows partitions [offset, end) into consecutive chunk sized windows. Only
// the last window may be shorter and no window is empty.
func windows(offset, end int64, chunk int) []byteRange {
	var out []byteRange
	for cursor := offset; ; {
		w, ok := nextWindow(cursor, end, chunk)
		if !ok {
			return out
		}
		out = append(out, w)
		cursor += w.size
	}
}

// copyChunks streams src into dst in pieces of exactly chunk bytes, the last
// piece possibly shorter. One buffer is reused, so dst must not retain p.
func copyChunks(ctx context.Context, dst Sink, src io.Reader, chunk int) (int64, error) {
	buf := make([]byte, chunk)
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := io.ReadFull(src, buf)
		if n > 0 {
			if werr := dst.WriteChunk(ctx, buf[:n]); werr != nil {
				return total, werr
			}
			total += int64(n)
		}
		switch err {
		case nil:
		case io.EOF, io.ErrUnexpectedEOF:
			return total, nil
		default:
			return total, err
		}
	}
}

// hashingReader computes MD5 and a byte count of everything read through it.
type hashingReader struct {
	r io.Reader
	h hash.Hash
	n int64
}

func newHashingReader(r io.Reader) *hashingReader {
	return &hashingReader{r: r, h: md5.New()}
}

func (h *hashingReader) Read(p []byte) (int, error) {
	n, err := h.r.Read(p)
	if n > 0 {
		h.h.Write(p[:n])
		h.n += int64(n)
	}
	return n, err
}

// Sum returns the lower-case hex MD5 of the bytes read so far.
func (h *hashingReader) Sum() string {
	return hex.EncodeToString(h.h.Sum(nil))
}

// chunkedBody adapts a ChunkIterator to io.Reader, so each source chunk is
// handed to the HTTP client as it is produced. A source failure is kept so the
// writer can report it instead of the transport error it causes.
type chunkedBody struct {
	it  *ChunkIterator
	buf []byte

	mu  sync.Mutex
	err error
}

func newChunkedBody(it *ChunkIterator) *chunkedBody {
	return &chunkedBody{it: it}
}

func (b *chunkedBody) Read(p []byte) (int, error) {
	for len(b.buf) == 0 {
		if !b.it.Next() {
			if err := b.it.Err(); err != nil {
				b.mu.Lock()
				b.err = err
				b.mu.Unlock()
				return 0, err
			}
			return 0, io.EOF
		}
		b.buf = b.it.Chunk()
	}
	n := copy(p, b.buf)
	b.buf = b.buf[n:]
	return n, nil
}

// Err returns the source error that ended the body, if any
func (b *chunkedBody) Err() error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// md5Hex is the digest of an in-memory payload.
func md5Hex(p []byte) string {
	sum := md5.Sum(p)
	return hex.EncodeToString(sum[:])
}

// ChunkIterator yields consecutive non-empty chunks.
//
//	it := obj.Chunks(ctx, cloudfiles.WithChunkSize(1<<20))
//	for it.Next() {
//	    process(it.Chunk())
//	}
//	if err := it.Err(); err != nil { ... }
type ChunkIterator struct {
	ctx   context.Context
	next  func(ctx context.Context) ([]byte, error)
	chunk []byte
	err   error
	done  bool
}

func newChunkIterator(ctx context.Context, next func(ctx context.Context) ([]byte, error)) *ChunkIterator {
	return &ChunkIterator{ctx: ctx, next: next}
}

func errIterator(err error) *ChunkIterator {
	return &ChunkIterator{err: err, done: true}
}

// Next advances to the next chunk. It returns false at the end of the
// sequence or on error.
func (it *ChunkIterator) Next() bool {
	if it.done {
		return false
	}
	for {
		if err := it.ctx.Err(); err != nil {
			it.err, it.done = err, true
			return false
		}
		chunk, err := it.next(it.ctx)
		if err == io.EOF {
			it.done = true
			return false
		}
		if err != nil {
			it.err, it.done = err, true
			return false
		}
		if len(chunk) > 0 {
			it.chunk = chunk
			return true
		}
	}
}

// Chunk returns the current chunk. It is valid until the next call to Next.
func (it *ChunkIterator) Chunk() []byte {
	return it.chunk
}

// Err returns the error that stopped iteration, if any.
func (it *ChunkIterator) Err() error {
	return it.err
}

// ReadOption configures Read and Chunks
type ReadOption func(*readConfig)

type readConfig struct {
	offset          int64
	size            int64
	output          Sink
	outputChunkSize int
	chunkSize       int
}

func newReadConfig(opts []ReadOption) readConfig {
	cfg := readConfig{
		size:            -1,
		outputChunkSize: DefaultOutputChunkSize,
		chunkSize:       DefaultChunkSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func (c readConfig) validate() error {
	if c.offset < 0 {
		return fmt.Errorf("%w: negative offset %d", ErrInvalidRange, c.offset)
	}
	if c.size < -1 {
		return fmt.Errorf("%w: negative size %d", ErrInvalidRange, c.size)
	}
	if c.chunkSize <= 0 || c.outputChunkSize <= 0 {
		return fmt.Errorf("%w: chunk size must be positive", ErrInvalidRange)
	}
	return nil
}

func (c readConfig) byteRange() byteRange {
	return byteRange{offset: c.offset, size: c.size}
}

// WithOffset starts reading at byte n
func WithOffset(n int64) ReadOption {
	return func(c *readConfig) {
		c.offset = n
	}
}

// WithSize reads at most n bytes
func WithSize(n int64) ReadOption {
	return func(c *readConfig) {
		if n < 0 {
			n = -2
		}
		c.size = n
	}
}

// WithOutput streams the read into sink instead of returning the bytes
func WithOutput(sink Sink) ReadOption {
	return func(c *readConfig) {
		c.output = sink
	}
}

// WithOutputChunkSize sets the piece size handed to the output sink
func WithOutputChunkSize(n int) ReadOption {
	return func(c *readConfig) {
		c.outputChunkSize = n
	}
}

// WithChunkSize sets the window size used by Chunks
func WithChunkSize(n int) ReadOption {
	return func(c *readConfig) {
		c.chunkSize = n
	}
}
