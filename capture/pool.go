package capture

import (
	"runtime"
	"sync"
	"time"

	"github.com/voc/tsmon/stream"
)

// bufferPool recycles read buffers. A buffer handed to the queue may be
// referenced by any number of records, so storage only returns to the pool
// once the capture buffer is unreachable.
type bufferPool struct {
	pool *sync.Pool
}

func newBufferPool(size int) *bufferPool {
	return &bufferPool{
		pool: &sync.Pool{
			New: func() interface{} {
				buf := make([]byte, size)
				return &buf
			},
		},
	}
}

func (p *bufferPool) get() *[]byte {
	return p.pool.Get().(*[]byte)
}

func (p *bufferPool) put(buf *[]byte) {
	p.pool.Put(buf)
}

// wrap turns the first n bytes of buf into a capture buffer
func (p *bufferPool) wrap(buf *[]byte, n int, arrival time.Time) *stream.Buffer {
	b := stream.NewBuffer((*buf)[:n], arrival)
	runtime.SetFinalizer(b, func(*stream.Buffer) {
		p.pool.Put(buf)
	})
	return b
}
