package allocator

import (
	"math"
	"unsafe"

	allocerrors "github.com/vecmem-go/vecmem/internal/errors"
)

// Arena is a coalescing free-list allocator (spec.md §3/§4.3, component
// C3). It amortizes upstream acquisitions by pulling in large superblocks
// and servicing many small requests from them, coalescing adjacent freed
// regions on release.
//
// This replaces the teacher's ArenaAllocatorImpl, which was a bump-pointer
// arena (no individual free, no coalescing) — exactly the "contiguous
// bump allocator" spec.md §1 calls out as a separate, out-of-scope
// component. The free-list/coalescing algorithm here is a direct port of
// original_source/core/src/memory/arena.hpp, kept in the teacher's
// constructor-with-functional-options idiom.
//
// Arena is not safe for concurrent use: spec.md §5 scopes synchronization
// to the caller, so unlike most of the teacher's allocator types this one
// carries no mutex.
type Arena struct {
	upstream       Upstream
	superblockSize uintptr
	maxSize        uintptr
	currentSize    uintptr
	free           blockSet
	allocated      blockSet
	superblocks    []Block // every block ever acquired from upstream, for Close
}

// NewArena constructs an Arena. WithUpstream is required; WithInitialSize
// and WithMaxSize are optional (see their doc comments for defaults).
func NewArena(opts ...ArenaOption) (*Arena, error) {
	cfg := defaultArenaConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.Upstream == nil {
		return nil, allocerrors.InvalidConfig("NewArena requires WithUpstream")
	}

	initial := cfg.InitialSize
	if initial == 0 {
		initial = MinSuperblockSize
	}

	if initial < MinSuperblockSize {
		initial = MinSuperblockSize
	}

	maxSize := cfg.MaxSize
	if maxSize == 0 {
		maxSize = math.MaxUint64
	}

	return &Arena{
		upstream:       cfg.Upstream,
		superblockSize: alignUp(initial, AllocAlign),
		maxSize:        maxSize,
	}, nil
}

// CurrentSize returns the bytes currently held from upstream.
func (a *Arena) CurrentSize() uintptr { return a.currentSize }

// MaxSize returns the arena's configured upstream acquisition cap.
func (a *Arena) MaxSize() uintptr { return a.maxSize }

// SuperblockSize returns the next growth quantum.
func (a *Arena) SuperblockSize() uintptr { return a.superblockSize }

// Allocate returns a pointer to at least bytes bytes, aligned to
// AllocAlign (spec.md §4.3).
func (a *Arena) Allocate(bytes uintptr) (unsafe.Pointer, error) {
	need := alignUp(bytes, AllocAlign)

	b, ok := a.free.FirstFit(need)
	if !ok {
		if err := a.expand(need); err != nil {
			return nil, err
		}

		b, ok = a.free.FirstFit(need)
		if !ok {
			return nil, allocerrors.OutOfMemory(need, 0, "Arena.Allocate")
		}
	}

	a.free.Remove(b.Pointer())

	head, tail := b.Split(need)
	if tail.Size() > 0 {
		a.free.Insert(tail)
	}

	a.allocated.Insert(head)

	return head.Pointer(), nil
}

// Deallocate returns the block starting at ptr to the free list, coalescing
// it with any address-contiguous neighbors. It reports false — rather than
// erroring — if ptr is not a live allocation of this arena, which spec.md
// §7 classifies as INVALID_DEALLOCATE rather than a fatal condition (the
// caller may simply have mixed allocators).
func (a *Arena) Deallocate(ptr unsafe.Pointer, bytes uintptr) bool {
	need := alignUp(bytes, AllocAlign)

	b, ok := a.allocated.Remove(ptr)
	if !ok {
		return false
	}

	if b.Size() != need {
		// Size mismatch: put it back rather than silently corrupting the
		// free list with the wrong extent.
		a.allocated.Insert(b)

		return false
	}

	a.free.Coalesce(b)

	return true
}

// expand acquires a fresh superblock from upstream sized to fit at least
// need bytes, growing the arena's geometric quantum (spec.md §4.3,
// "Growth policy").
func (a *Arena) expand(need uintptr) error {
	grow := need
	if a.superblockSize > grow {
		grow = a.superblockSize
	}

	budget := a.budget()
	if a.currentSize+grow > budget {
		return allocerrors.OutOfMemory(need, a.remainingCap(), "Arena.expand")
	}

	ptr, err := a.upstream.Allocate(grow, AllocAlign)
	if err != nil {
		return err
	}

	block := NewBlock(ptr, grow)
	a.free.Insert(block)
	a.superblocks = append(a.superblocks, block)
	a.currentSize += grow

	next := a.superblockSize * 2
	if cap := a.remainingCap(); next > cap {
		next = cap
	}

	if next > a.superblockSize {
		a.superblockSize = next
	}

	return nil
}

// budget returns the total bytes this arena may ever hold from upstream.
// When maxSize exceeds ReservedSize, RESERVED bytes are carved out as
// headroom for peer subsystems (spec.md §9); when maxSize doesn't even
// cover that margin, treating the check as "unbounded" or "always zero"
// would both contradict the growth-bound property (spec.md §8, property
// 2), so maxSize itself becomes the cap instead of maxSize-RESERVED.
func (a *Arena) budget() uintptr {
	if a.maxSize > ReservedSize {
		return a.maxSize - ReservedSize
	}

	return a.maxSize
}

// remainingCap reports how many more bytes expand could acquire before
// hitting budget(), used both to decide whether the next doubling of
// superblockSize would overshoot and to report capacity in an OUT_OF_MEMORY
// error.
func (a *Arena) remainingCap() uintptr {
	budget := a.budget()
	if a.currentSize >= budget {
		return 0
	}

	return budget - a.currentSize
}

// Close returns every superblock ever acquired back to upstream with its
// original size and alignment, the arena's destructor (spec.md §3,
// "Lifecycles").
func (a *Arena) Close() error {
	for _, b := range a.superblocks {
		a.upstream.Deallocate(b.Pointer(), b.Size(), AllocAlign)
	}

	a.superblocks = nil
	a.free = blockSet{}
	a.allocated = blockSet{}
	a.currentSize = 0

	return nil
}

// IsEqual reports whether other is the same arena instance.
func (a *Arena) IsEqual(other *Arena) bool { return other == a }
