package ir

import (
	"errors"
	"fmt"
	"sync"
)

// ErrNoDecoder is returned when no ambisonic decoder instance can serve a
// request.
var ErrNoDecoder = errors.New("ir: no ambisonic decoder instance available")

// DefaultPool is shared by every simulator that does not bring its own.
var DefaultPool = NewDecoderPool(16, MaxOrder)

// DecoderPool hands out a bounded number of ambisonic decoder instances.
type DecoderPool struct {
	mu       sync.Mutex
	capacity int
	maxOrder int
	inUse    int
}

// NewDecoderPool creates a pool of capacity instances that encode up to
// maxOrder.
func NewDecoderPool(capacity, maxOrder int) *DecoderPool {
	return &DecoderPool{capacity: capacity, maxOrder: maxOrder}
}

// Acquire reserves an instance for order. It never blocks.
func (p *DecoderPool) Acquire(order int) (*Decoder, error) {
	if order < 0 || order > p.maxOrder {
		return nil, fmt.Errorf("%w: order %d exceeds %d", ErrNoDecoder, order, p.maxOrder)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inUse >= p.capacity {
		return nil, fmt.Errorf("%w: all %d instances in use", ErrNoDecoder, p.capacity)
	}
	p.inUse++
	return &Decoder{pool: p, order: order, scratch: make([]float64, ChannelsForOrder(order))}, nil
}

// InUse returns the number of acquired instances.
func (p *DecoderPool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inUse
}

// Capacity returns the pool size.
func (p *DecoderPool) Capacity() int {
	return p.capacity
}

// MaxOrder returns the highest order an instance can serve.
func (p *DecoderPool) MaxOrder() int {
	return p.maxOrder
}

// Decoder is one acquired instance. It is not safe for concurrent use.
type Decoder struct {
	pool    *DecoderPool
	order   int
	scratch []float64
}

// Order returns the order the decoder was acquired for.
func (d *Decoder) Order() int {
	return d.order
}

// Release returns the instance to its pool. Releasing twice is a no-op.
func (d *Decoder) Release() {
	if d == nil || d.pool == nil {
		return
	}
	d.pool.mu.Lock()
	d.pool.inUse--
	d.pool.mu.Unlock()
	d.pool = nil
}
