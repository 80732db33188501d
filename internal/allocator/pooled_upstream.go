package allocator

import (
	"sync"
	"unsafe"
)

// poolKey identifies a recycling class: deallocated blocks are only ever
// handed back out for a request with the identical (bytes, alignment)
// pair, mirroring the exact-size contract Upstream.Deallocate requires.
type poolKey struct {
	bytes     uintptr
	alignment uintptr
}

// PooledUpstream wraps another Upstream and caches its deallocated blocks
// by size class, handing them back out before ever calling through. It
// implements spec.md §1's "managed pool" upstream kind.
//
// This is the teacher's PoolAllocatorImpl/Pool (internal/allocator/pool.go
// in the teacher repo) retargeted: instead of serving fixed-size object
// allocations directly to a caller, it now sits in front of another
// Upstream and recycles whole superblock/superpage-sized acquisitions, so
// an arena or buddy engine that churns through same-sized growth requests
// doesn't keep re-hitting a slow device/pinned-host upstream.
type PooledUpstream struct {
	mu       sync.Mutex
	upstream Upstream
	free     map[poolKey][]unsafe.Pointer
	stats    PooledUpstreamStats
}

// PooledUpstreamStats reports cache effectiveness, the same hit/miss
// bookkeeping the teacher's PoolStats tracked.
type PooledUpstreamStats struct {
	Hits   uint64
	Misses uint64
}

// NewPooledUpstream wraps upstream with a recycling cache.
func NewPooledUpstream(upstream Upstream) *PooledUpstream {
	return &PooledUpstream{
		upstream: upstream,
		free:     make(map[poolKey][]unsafe.Pointer),
	}
}

// Allocate implements Upstream.
func (p *PooledUpstream) Allocate(bytes, alignment uintptr) (unsafe.Pointer, error) {
	key := poolKey{bytes: bytes, alignment: alignment}

	p.mu.Lock()
	if cached := p.free[key]; len(cached) > 0 {
		ptr := cached[len(cached)-1]
		p.free[key] = cached[:len(cached)-1]
		p.stats.Hits++
		p.mu.Unlock()

		return ptr, nil
	}
	p.stats.Misses++
	p.mu.Unlock()

	return p.upstream.Allocate(bytes, alignment)
}

// Deallocate implements Upstream. The block is cached, not returned to the
// wrapped upstream, so the underlying allocation is only ever released
// when the PooledUpstream itself is drained via Close.
func (p *PooledUpstream) Deallocate(ptr unsafe.Pointer, bytes, alignment uintptr) {
	key := poolKey{bytes: bytes, alignment: alignment}

	p.mu.Lock()
	p.free[key] = append(p.free[key], ptr)
	p.mu.Unlock()
}

// IsEqual implements Upstream.
func (p *PooledUpstream) IsEqual(other Upstream) bool {
	o, ok := other.(*PooledUpstream)

	return ok && o == p
}

// Stats returns the pool's hit/miss counters.
func (p *PooledUpstream) Stats() PooledUpstreamStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.stats
}

// Close releases every cached block back to the wrapped upstream. Callers
// that own a PooledUpstream for the lifetime of an engine should call this
// after the engine itself has been torn down.
func (p *PooledUpstream) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for key, ptrs := range p.free {
		for _, ptr := range ptrs {
			p.upstream.Deallocate(ptr, key.bytes, key.alignment)
		}
	}

	p.free = make(map[poolKey][]unsafe.Pointer)
}
