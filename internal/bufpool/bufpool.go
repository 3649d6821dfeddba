// Package bufpool pools the scratch buffers the pipelined kernel needs per
// tile invocation (the stencil shift registers and the line cache), so
// repeated tile and pass invocations reuse backing arrays instead of
// reallocating them on every call.
package bufpool

import "sync"

// key identifies a pool by the shape of buffer it holds.
type key struct {
	tileWidth, tileHeight, stencilRadius, depth int
}

// Pool hands out reusable cell slices keyed by kernel shape. Using
// sync.Map avoids a mutex on the hot path; in practice only a handful of
// distinct (tile, radius, depth) shapes exist per run, so the map stays
// small.
type Pool[C any] struct {
	pools sync.Map // key -> *sync.Pool
}

// New creates an empty pool.
func New[C any]() *Pool[C] {
	return &Pool[C]{}
}

// Get returns a slice of length size for the given shape, either reused
// from the pool or freshly allocated.
func (p *Pool[C]) Get(tileWidth, tileHeight, stencilRadius, depth, size int) []C {
	k := key{tileWidth, tileHeight, stencilRadius, depth}
	if v, ok := p.pools.Load(k); ok {
		if got := v.(*sync.Pool).Get(); got != nil {
			buf := got.([]C)
			if cap(buf) >= size {
				return buf[:size]
			}
		}
	}
	return make([]C, size)
}

// Put returns a slice to the pool for the given shape for later reuse.
// Nil slices are silently ignored.
func (p *Pool[C]) Put(tileWidth, tileHeight, stencilRadius, depth int, buf []C) {
	if buf == nil {
		return
	}
	k := key{tileWidth, tileHeight, stencilRadius, depth}
	sp, _ := p.pools.LoadOrStore(k, &sync.Pool{})
	sp.(*sync.Pool).Put(buf)
}
