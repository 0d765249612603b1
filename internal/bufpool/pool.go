package bufpool

import (
	"math/bits"
	"sync"
)

// Pool provides a pool of byte buffers of a fixed size.
// Buffers are reused to reduce allocations and GC pressure.
type Pool struct {
	pool    sync.Pool
	bufSize int
}

// New creates a new buffer pool that returns buffers of exactly bufSize bytes.
func New(bufSize int) *Pool {
	if bufSize <= 0 {
		panic("bufSize must be positive")
	}
	return &Pool{
		bufSize: bufSize,
		pool: sync.Pool{
			New: func() any {
				return make([]byte, bufSize)
			},
		},
	}
}

// Get returns a buffer of exactly bufSize bytes.
func (p *Pool) Get() []byte {
	buf := p.pool.Get().([]byte)
	if cap(buf) < p.bufSize {
		return make([]byte, p.bufSize)
	}
	return buf[:p.bufSize]
}

// Put returns a buffer obtained from Get. Buffers smaller than bufSize
// are dropped.
func (p *Pool) Put(buf []byte) {
	if cap(buf) < p.bufSize {
		return
	}
	p.pool.Put(buf[:cap(buf)])
}

// BufSize returns the size of buffers in this pool.
func (p *Pool) BufSize() int {
	return p.bufSize
}

const (
	minClassShift = 13 // 8 KiB, the smallest packet
	maxClassShift = 28 // 256 MiB; larger requests are allocated directly
)

// Classes hands out buffers from power-of-two size classes so callers with
// varying sizes still share pooled memory.
type Classes struct {
	pools [maxClassShift - minClassShift + 1]*Pool
}

// NewClasses creates pools for every class from 8 KiB to 256 MiB.
func NewClasses() *Classes {
	c := &Classes{}
	for i := range c.pools {
		c.pools[i] = New(1 << (minClassShift + i))
	}
	return c
}

func classFor(n int) int {
	if n <= 1<<minClassShift {
		return 0
	}
	return bits.Len(uint(n-1)) - minClassShift
}

// Get returns a buffer of length n. Sizes above the largest class are
// allocated directly and never pooled.
func (c *Classes) Get(n int) []byte {
	idx := classFor(n)
	if idx >= len(c.pools) {
		return make([]byte, n)
	}
	return c.pools[idx].Get()[:n]
}

// Put returns a buffer obtained from Get to its class.
func (c *Classes) Put(buf []byte) {
	idx := classFor(cap(buf))
	if idx >= len(c.pools) || cap(buf) != c.pools[idx].BufSize() {
		return
	}
	c.pools[idx].Put(buf)
}
