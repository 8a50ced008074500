package pool

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPool_GetPutStats(t *testing.T) {
	p := NewPool(func() []int { return make([]int, 0, 4) }, func(s *[]int) bool {
		*s = (*s)[:0]
		return true
	})

	s := p.Get()
	s = append(s, 1, 2)
	p.Put(s)
	_ = p.Get()

	stats := p.Stats()
	assert.Equal(t, int64(2), stats.Gets)
	assert.Equal(t, int64(1), stats.Puts)
	assert.GreaterOrEqual(t, stats.News, int64(1))
	assert.Zero(t, stats.Discarded)
}

func TestPool_ResetCanDiscard(t *testing.T) {
	p := NewPool(func() int { return 0 }, func(*int) bool { return false })
	p.Put(5)
	assert.Equal(t, int64(1), p.Stats().Discarded)
}

func TestByteBufferPool_Reset(t *testing.T) {
	buf := ByteBufferPool.Get()
	buf.WriteString("events {}")
	ByteBufferPool.Put(buf)

	again := ByteBufferPool.Get()
	assert.Zero(t, again.Len())
	ByteBufferPool.Put(again)
}

func TestByteBufferPool_DropsOversized(t *testing.T) {
	before := ByteBufferPool.Stats().Discarded
	big := bytes.NewBuffer(make([]byte, 0, maxPooledBuffer+1))
	ByteBufferPool.Put(big)
	assert.Equal(t, before+1, ByteBufferPool.Stats().Discarded)
}

func TestPoolStats_HitRate(t *testing.T) {
	assert.Zero(t, PoolStats{}.HitRate())
	assert.InDelta(t, 0.75, PoolStats{Gets: 4, News: 1}.HitRate(), 0.001)
}
