package buffer

import (
	"errors"
	"fmt"
	"io"

	"github.com/valyala/bytebufferpool"
)

// BufferPool is a thread-safe pool of byte buffers backed by valyala/bytebufferpool.
// Buffers are handed out reset and grown to at least the configured size.
type BufferPool struct {
	pool       *bytebufferpool.Pool
	bufferSize int
}

// NewBufferPool creates a new BufferPool that hands out buffers of at least bufferSize capacity.
func NewBufferPool(bufferSize int64) *BufferPool {
	return &BufferPool{
		bufferSize: int(bufferSize),
		pool:       &bytebufferpool.Pool{},
	}
}

// Get retrieves a reset buffer from the pool.
func (bp *BufferPool) Get() *bytebufferpool.ByteBuffer {
	buf := bp.pool.Get()
	buf.Reset()
	// Only grow if necessary, don't replace
	if cap(buf.B) < bp.bufferSize {
		buf.B = make([]byte, 0, bp.bufferSize)
	}
	return buf
}

// Put returns a buffer to the pool.
func (bp *BufferPool) Put(buf *bytebufferpool.ByteBuffer) {
	if buf != nil {
		bp.pool.Put(buf)
	}
}

// Copy streams src to dst through a pooled chunk, calling flush after every
// chunk written. It returns the number of bytes written to dst.
func (bp *BufferPool) Copy(dst io.Writer, src io.Reader, flush func()) (int64, error) {
	buf := bp.Get()
	defer bp.Put(buf)

	chunk := buf.B[:cap(buf.B)]
	var total int64
	for {
		n, readErr := src.Read(chunk)
		if n > 0 {
			written, writeErr := dst.Write(chunk[:n])
			total += int64(written)
			if writeErr != nil {
				return total, writeErr
			}
			if flush != nil {
				flush()
			}
		}
		if readErr == io.EOF {
			return total, nil
		}
		if readErr != nil {
			return total, readErr
		}
	}
}

// ErrTooLarge is returned by ReadAll when src holds more than limit bytes.
var ErrTooLarge = errors.New("body exceeds size limit")

// ReadAll reads src into a pooled buffer and returns a copy of its contents.
// limit bounds the number of bytes accepted; 0 means no limit. A source longer
// than limit yields ErrTooLarge rather than a truncated body.
func (bp *BufferPool) ReadAll(src io.Reader, limit int64) ([]byte, error) {
	buf := bp.Get()
	defer bp.Put(buf)

	if limit > 0 {
		src = io.LimitReader(src, limit+1)
	}
	if _, err := buf.ReadFrom(src); err != nil {
		return nil, err
	}
	if limit > 0 && int64(buf.Len()) > limit {
		return nil, fmt.Errorf("read more than %d bytes: %w", limit, ErrTooLarge)
	}
	return append([]byte(nil), buf.B...), nil
}
