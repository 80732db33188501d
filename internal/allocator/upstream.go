package allocator

import (
	"runtime"
	"sync"
	"unsafe"

	allocerrors "github.com/vecmem-go/vecmem/internal/errors"
)

// Upstream is the minimal byte source both engines consume: allocate
// bytes at an alignment, deallocate the exact same (pointer, bytes,
// alignment) triple later. Implementations may be a general heap, a
// pinned-host pool, a device pool, or a managed pool (spec.md §1).
type Upstream interface {
	// Allocate returns a pointer to at least bytes bytes aligned to
	// alignment, or an error wrapping errors.OutOfMemory if it cannot.
	Allocate(bytes, alignment uintptr) (unsafe.Pointer, error)
	// Deallocate returns a region previously handed out by Allocate with
	// the identical bytes and alignment. Infallible.
	Deallocate(ptr unsafe.Pointer, bytes, alignment uintptr)
	// IsEqual reports whether other is the same upstream instance. Only
	// identity comparison is required (spec.md §6).
	IsEqual(other Upstream) bool
}

// HeapUpstream is the general-heap Upstream: it satisfies arbitrary
// alignment by over-allocating and keeps the owning slice alive via a
// tracking map, the same way the teacher's SystemAllocatorImpl keeps
// allocatedSlices alive to prevent the GC from reclaiming memory that is
// only reachable through unsafe.Pointer arithmetic.
type HeapUpstream struct {
	mu      sync.Mutex
	backing map[unsafe.Pointer][]byte
}

// NewHeapUpstream constructs a HeapUpstream.
func NewHeapUpstream() *HeapUpstream {
	return &HeapUpstream{backing: make(map[unsafe.Pointer][]byte)}
}

// Allocate implements Upstream.
func (h *HeapUpstream) Allocate(bytes, alignment uintptr) (unsafe.Pointer, error) {
	if bytes == 0 {
		return nil, allocerrors.OutOfMemory(0, 0, "HeapUpstream.Allocate")
	}

	raw := make([]byte, bytes+alignment)
	base := uintptr(unsafe.Pointer(&raw[0]))
	aligned := alignUp(base, alignment)
	ptr := unsafe.Pointer(aligned)

	h.mu.Lock()
	h.backing[ptr] = raw
	h.mu.Unlock()

	runtime.KeepAlive(raw)

	return ptr, nil
}

// Deallocate implements Upstream.
func (h *HeapUpstream) Deallocate(ptr unsafe.Pointer, _, _ uintptr) {
	h.mu.Lock()
	delete(h.backing, ptr)
	h.mu.Unlock()
}

// IsEqual implements Upstream.
func (h *HeapUpstream) IsEqual(other Upstream) bool {
	o, ok := other.(*HeapUpstream)

	return ok && o == h
}
