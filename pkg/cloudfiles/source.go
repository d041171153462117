package cloudfiles

import (
	"context"
	"io"
	"sync"
)

// Bytes is an in-memory payload. Written without a chunk size it is sent as a
// single fixed-length body.
type Bytes []byte

// String is a convenience for Bytes([]byte(s)).
func String(s string) Bytes {
	return Bytes(s)
}

// Chunks yields b in WithChunkSize pieces, honoring WithOffset and WithSize.
func (b Bytes) Chunks(ctx context.Context, opts ...ReadOption) *ChunkIterator {
	cfg := newReadConfig(opts)
	if err := cfg.validate(); err != nil {
		return errIterator(err)
	}

	end := int64(len(b))
	if cfg.size >= 0 && cfg.offset+cfg.size < end {
		end = cfg.offset + cfg.size
	}
	cursor := cfg.offset
	return newChunkIterator(ctx, func(context.Context) ([]byte, error) {
		w, ok := nextWindow(cursor, end, cfg.chunkSize)
		if !ok {
			return nil, io.EOF
		}
		cursor += w.size
		return b[w.offset : w.offset+w.size], nil
	})
}

// ReaderSource uploads from an io.Reader. A reader that is also an io.Seeker
// is rewound to its starting position on every pass; any other reader can be
// consumed once.
type ReaderSource struct {
	r     io.Reader
	start int64

	mu   sync.Mutex
	used bool
}

// Reader wraps r as a ChunkSource
func Reader(r io.Reader) *ReaderSource {
	src := &ReaderSource{r: r}
	if s, ok := r.(io.Seeker); ok {
		if pos, err := s.Seek(0, io.SeekCurrent); err == nil {
			src.start = pos
		}
	}
	return src
}

// Chunks yields the reader's content in WithChunkSize pieces. WithOffset and
// WithSize are ignored.
func (s *ReaderSource) Chunks(ctx context.Context, opts ...ReadOption) *ChunkIterator {
	cfg := newReadConfig(opts)
	if err := cfg.validate(); err != nil {
		return errIterator(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if seeker, ok := s.r.(io.Seeker); ok {
		if _, err := seeker.Seek(s.start, io.SeekStart); err != nil {
			return errIterator(err)
		}
	} else if s.used {
		return errIterator(ErrSourceConsumed)
	}
	s.used = true

	buf := make([]byte, cfg.chunkSize)
	return newChunkIterator(ctx, func(context.Context) ([]byte, error) {
		n, err := io.ReadFull(s.r, buf)
		if n > 0 {
			return buf[:n], nil
		}
		if err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		return nil, err
	})
}

// writerSink appends every chunk to an io.Writer
type writerSink struct {
	w io.Writer
}

// WriterSink adapts w to a Sink that appends each chunk.
func WriterSink(w io.Writer) Sink {
	return writerSink{w: w}
}

func (s writerSink) WriteChunk(_ context.Context, p []byte) error {
	_, err := s.w.Write(p)
	return err
}
