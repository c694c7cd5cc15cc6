package tsch

import (
	"errors"
	"sync"

	"github.com/uwbmesh/tschcore/internal/frame"
	"github.com/uwbmesh/tschcore/internal/sched"
)

// PoolSize is the fixed frame-pool capacity of spec.md 5: 16 frames of
// 125 bytes each.
const PoolSize = 16

// ErrPoolExhausted is returned by Alloc when no frame is free and
// eviction could not make room (spec.md 7: pool exhaustion).
var ErrPoolExhausted = errors.New("tsch: frame pool exhausted")

// FramePool is a fixed-capacity, non-blocking allocator for frame
// buffers. When exhausted, Alloc may evict the oldest queued frame
// from a caller-supplied slot and retry once (spec.md 4.5).
type FramePool struct {
	mu   sync.Mutex
	free int
}

// NewFramePool returns a pool with PoolSize frames available.
func NewFramePool() *FramePool {
	return &FramePool{free: PoolSize}
}

// Alloc returns a freshly-zeroed frame of the given type. If the pool
// is exhausted and evictFrom is non-nil, the oldest queued frame in
// evictFrom is dropped and released, and allocation is retried once.
func (p *FramePool) Alloc(t frame.Type, evictFrom *sched.Slot) (*frame.Frame, error) {
	p.mu.Lock()
	if p.free > 0 {
		p.free--
		p.mu.Unlock()
		return frame.New(t), nil
	}
	p.mu.Unlock()

	if evictFrom != nil {
		if f := evictFrom.Drop(); f != nil {
			return frame.New(t), nil
		}
	}
	return nil, ErrPoolExhausted
}

// Release returns one frame's capacity to the pool.
func (p *FramePool) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.free < PoolSize {
		p.free++
	}
}

// Available reports the current free count, for diagnostics.
func (p *FramePool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.free
}
