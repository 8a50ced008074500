// Package channel provides the bounded, self-sizing queue that decouples
// reload publication from its side effects (audit journal, Redis mirror).
package channel

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned by Receive once a closed queue is drained.
var ErrClosed = errors.New("channel closed")

// TunableConfig bounds the queue. Tune moves the limit between MinSize and
// MaxSize by GrowFactor/ShrinkFactor, at most once per SampleWindow.
type TunableConfig struct {
	InitialSize  int           `json:"initial_size" yaml:"initial_size"`
	MinSize      int           `json:"min_size" yaml:"min_size"`
	MaxSize      int           `json:"max_size" yaml:"max_size"`
	GrowFactor   float64       `json:"grow_factor" yaml:"grow_factor"`
	ShrinkFactor float64       `json:"shrink_factor" yaml:"shrink_factor"`
	SampleWindow time.Duration `json:"sample_window" yaml:"sample_window"`
}

func DefaultTunableConfig() TunableConfig {
	return TunableConfig{
		InitialSize:  64,
		MinSize:      16,
		MaxSize:      4096,
		GrowFactor:   2.0,
		ShrinkFactor: 0.5,
		SampleWindow: 10 * time.Second,
	}
}

func (c TunableConfig) normalized() TunableConfig {
	def := DefaultTunableConfig()
	c.MinSize = max(c.MinSize, 1)
	c.InitialSize = max(c.InitialSize, c.MinSize)
	c.MaxSize = max(c.MaxSize, c.InitialSize)
	if c.GrowFactor <= 1 {
		c.GrowFactor = def.GrowFactor
	}
	if c.ShrinkFactor <= 0 || c.ShrinkFactor >= 1 {
		c.ShrinkFactor = def.ShrinkFactor
	}
	return c
}

// TunableChannel is a FIFO whose limit follows its load. Producers never
// block: TrySend drops when the queue is at its limit, and the drop counts
// toward the next Tune. Resizing only moves the limit, so queued values
// are never copied or lost.
type TunableChannel[T any] struct {
	config TunableConfig

	mu     sync.Mutex
	items  []T
	limit  int
	closed bool
	// ready holds at most one wake-up token for a waiting receiver.
	ready chan struct{}

	sends, receives, drops int64
	// rejected since the last Tune; drives growth
	rejected int64
	// accepted since the last Tune
	accepted int64
	lastTune time.Time
}

func NewTunableChannel[T any](config TunableConfig) *TunableChannel[T] {
	config = config.normalized()
	return &TunableChannel[T]{
		config:   config,
		items:    make([]T, 0, config.InitialSize),
		limit:    config.InitialSize,
		ready:    make(chan struct{}, 1),
		lastTune: time.Now(),
	}
}

func (tc *TunableChannel[T]) wake() {
	select {
	case tc.ready <- struct{}{}:
	default:
	}
}

// TrySend enqueues v unless the queue is full or closed.
func (tc *TunableChannel[T]) TrySend(v T) bool {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	if tc.closed || len(tc.items) >= tc.limit {
		tc.drops++
		if !tc.closed {
			tc.rejected++
		}
		return false
	}
	tc.items = append(tc.items, v)
	tc.sends++
	tc.accepted++
	tc.wake()
	return true
}

// popLocked removes the head; caller holds mu and has checked len > 0.
func (tc *TunableChannel[T]) popLocked() T {
	var zero T
	v := tc.items[0]
	tc.items[0] = zero
	tc.items = tc.items[1:]
	if len(tc.items) == 0 {
		tc.items = tc.items[:0:0]
	}
	tc.receives++
	return v
}

// Receive waits for the next value. A closed queue keeps yielding what it
// holds and then returns ErrClosed.
func (tc *TunableChannel[T]) Receive(ctx context.Context) (T, error) {
	for {
		tc.mu.Lock()
		if len(tc.items) > 0 {
			v := tc.popLocked()
			if len(tc.items) > 0 || tc.closed {
				tc.wake()
			}
			tc.mu.Unlock()
			return v, nil
		}
		if tc.closed {
			tc.wake()
			tc.mu.Unlock()
			var zero T
			return zero, ErrClosed
		}
		tc.mu.Unlock()

		select {
		case <-tc.ready:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

func (tc *TunableChannel[T]) TryReceive() (T, bool) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if len(tc.items) == 0 {
		var zero T
		return zero, false
	}
	return tc.popLocked(), true
}

func (tc *TunableChannel[T]) Len() int {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return len(tc.items)
}

// Cap is the current limit, not the backing array's capacity.
func (tc *TunableChannel[T]) Cap() int {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.limit
}

// Tune grows the limit when more than 10% of sends since the last call were
// rejected, and shrinks it when the queue sat under a quarter full without
// rejections. Calls closer together than SampleWindow are ignored.
func (tc *TunableChannel[T]) Tune() {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	now := time.Now()
	if tc.closed || now.Sub(tc.lastTune) < tc.config.SampleWindow {
		return
	}
	tc.lastTune = now
	rejected, accepted := tc.rejected, tc.accepted
	tc.rejected, tc.accepted = 0, 0
	if rejected+accepted == 0 {
		return
	}

	rejectRate := float64(rejected) / float64(rejected+accepted)
	fill := float64(len(tc.items)) / float64(tc.limit)
	switch {
	case rejectRate > 0.1:
		tc.limit = min(int(float64(tc.limit)*tc.config.GrowFactor), tc.config.MaxSize)
	case rejected == 0 && fill < 0.25:
		tc.limit = max(int(float64(tc.limit)*tc.config.ShrinkFactor), tc.config.MinSize, len(tc.items))
	}
}

// TunableChannelStats are cumulative except Size and Length.
type TunableChannelStats struct {
	Size        int     `json:"size"`
	Length      int     `json:"length"`
	Sends       int64   `json:"sends"`
	Receives    int64   `json:"receives"`
	Drops       int64   `json:"drops"`
	Utilization float64 `json:"utilization"`
}

func (tc *TunableChannel[T]) Stats() TunableChannelStats {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return TunableChannelStats{
		Size:        tc.limit,
		Length:      len(tc.items),
		Sends:       tc.sends,
		Receives:    tc.receives,
		Drops:       tc.drops,
		Utilization: float64(len(tc.items)) / float64(tc.limit),
	}
}

// Close stops accepting values; queued values can still be received.
func (tc *TunableChannel[T]) Close() {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if tc.closed {
		return
	}
	tc.closed = true
	tc.wake()
}
