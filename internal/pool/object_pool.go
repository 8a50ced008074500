// Package pool provides typed object pools over sync.Pool.
package pool

import (
	"bytes"
	"sync"
	"sync/atomic"
)

// maxPooledBuffer is the largest buffer ByteBufferPool keeps. Larger
// buffers, such as those grown by an oversized submission, are dropped.
const maxPooledBuffer = 1 << 20

// Pool is a generic object pool.
type Pool[T any] struct {
	pool  sync.Pool
	reset func(*T) bool

	// Metrics
	gets      atomic.Int64
	puts      atomic.Int64
	news      atomic.Int64
	discarded atomic.Int64
}

// NewPool creates a new object pool. reset prepares an object for reuse
// and reports whether it should be kept.
func NewPool[T any](newFunc func() T, reset func(*T) bool) *Pool[T] {
	p := &Pool[T]{reset: reset}
	p.pool.New = func() any {
		p.news.Add(1)
		return newFunc()
	}
	return p
}

// Get retrieves an object from the pool.
func (p *Pool[T]) Get() T {
	p.gets.Add(1)
	return p.pool.Get().(T)
}

// Put returns an object to the pool.
func (p *Pool[T]) Put(obj T) {
	p.puts.Add(1)
	if p.reset != nil && !p.reset(&obj) {
		p.discarded.Add(1)
		return
	}
	p.pool.Put(obj)
}

// Stats returns pool statistics.
func (p *Pool[T]) Stats() PoolStats {
	return PoolStats{
		Gets:      p.gets.Load(),
		Puts:      p.puts.Load(),
		News:      p.news.Load(),
		Discarded: p.discarded.Load(),
	}
}

// PoolStats contains pool statistics.
type PoolStats struct {
	Gets      int64 `json:"gets"`
	Puts      int64 `json:"puts"`
	News      int64 `json:"news"`
	Discarded int64 `json:"discarded"`
}

// HitRate returns the fraction of Gets served without allocating.
func (s PoolStats) HitRate() float64 {
	if s.Gets == 0 {
		return 0
	}
	return float64(s.Gets-s.News) / float64(s.Gets)
}

// ByteBufferPool provides pooled buffers for reading submitted bodies.
var ByteBufferPool = NewPool(
	func() *bytes.Buffer {
		return bytes.NewBuffer(make([]byte, 0, 4096))
	},
	func(b **bytes.Buffer) bool {
		if (*b).Cap() > maxPooledBuffer {
			return false
		}
		(*b).Reset()
		return true
	},
)
