// Package buffers provides reusable byte buffers to reduce heap allocations
// during chunk encode/decode and backend I/O. Buffers are zeroed before
// being returned to the pool since they may have carried plaintext or
// key material.
package buffers

import (
	"sync"
	"sync/atomic"
)

// SizedPool hands out []byte slices of a fixed size. Mismatched-size
// buffers passed to Put are dropped rather than pooled.
type SizedPool struct {
	size        int
	pool        sync.Pool
	allocations int64
	reuses      int64
}

// NewSizedPool creates a pool of buffers of exactly size bytes.
func NewSizedPool(size int) *SizedPool {
	p := &SizedPool{size: size}
	p.pool.New = func() interface{} {
		atomic.AddInt64(&p.allocations, 1)
		buf := make([]byte, p.size)
		return &buf
	}
	return p
}

// Get retrieves a buffer from the pool, allocating a new one if empty.
func (p *SizedPool) Get() *[]byte {
	buf := p.pool.Get().(*[]byte)
	return buf
}

// Put returns a buffer to the pool. Buffers of the wrong size are discarded
// rather than cached, and the contents are cleared first since the pool
// is used for both plaintext and key-derived material.
func (p *SizedPool) Put(buf *[]byte) {
	if buf == nil || len(*buf) != p.size {
		return
	}
	clear(*buf)
	atomic.AddInt64(&p.reuses, 1)
	p.pool.Put(buf)
}

// Stats reports allocation/reuse counters, useful for diagnosing GC pressure
// in long-running backup sessions.
type Stats struct {
	Size        int
	Allocations int64
	Reuses      int64
}

func (p *SizedPool) Stats() Stats {
	return Stats{
		Size:        p.size,
		Allocations: atomic.LoadInt64(&p.allocations),
		Reuses:      atomic.LoadInt64(&p.reuses),
	}
}
