package pool

import (
	"bytes"
	"sync"
)

// Buffers larger than this are not returned to the pool.
const maxPooledBufferSize = 64 * 1024

var bufPool = sync.Pool{
	New: func() any {
		return new(bytes.Buffer)
	},
}

// GetBuffer returns an empty *bytes.Buffer from the pool.
// The caller should call ReleaseBuffer after use.
func GetBuffer() *bytes.Buffer {
	return bufPool.Get().(*bytes.Buffer)
}

// ReleaseBuffer resets b and returns it to the pool.
// After calling ReleaseBuffer, the caller MUST NOT access b.
func ReleaseBuffer(b *bytes.Buffer) {
	if b.Cap() > maxPooledBufferSize {
		return
	}
	b.Reset()
	bufPool.Put(b)
}
