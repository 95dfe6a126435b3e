package filesystem

import (
	"errors"
	"fmt"
	"io"
)

// ChunkReader adapts a ChunkSource to an io.Reader.
type ChunkReader struct {
	src  ChunkSource
	buf  []byte
	done bool
}

// NewChunkReader returns a reader that drains src until its empty chunk.
func NewChunkReader(src ChunkSource) *ChunkReader {
	return &ChunkReader{src: src}
}

func (r *ChunkReader) Read(p []byte) (int, error) {
	for len(r.buf) == 0 {
		if r.done {
			return 0, io.EOF
		}
		chunk, err := r.src()
		if err != nil {
			r.done = true
			return 0, fmt.Errorf("error reading upload chunk: %w", err)
		}
		if len(chunk) == 0 {
			r.done = true
			return 0, io.EOF
		}
		r.buf = chunk
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

// ReaderChunks pulls chunks of at most size bytes from r.
// Each chunk is a freshly allocated slice, so callers may keep it.
func ReaderChunks(r io.Reader, size int) ChunkSource {
	if size <= 0 {
		size = 32 * 1024
	}
	done := false
	return func() ([]byte, error) {
		if done {
			return nil, nil
		}
		buf := make([]byte, size)
		n, err := io.ReadFull(r, buf)
		switch {
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			done = true
		case err != nil:
			return nil, err
		}
		return buf[:n], nil
	}
}
