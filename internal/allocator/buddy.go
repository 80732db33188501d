package allocator

import (
	"math/bits"
	"unsafe"

	allocerrors "github.com/vecmem-go/vecmem/internal/errors"
)

// BuddyEngine is a binary buddy page allocator (spec.md §3/§4.5, component
// C5): a list of superpages, each a complete binary tree over one
// contiguous upstream allocation, searched for an exactly-sized vacant
// page before ever splitting a larger one.
//
// Ported from original_source/core/src/memory/binary_page_memory_resource_impl.cpp.
// The teacher repo has no buddy allocator of its own to adapt; this
// package's style (constructor options, exported Allocate/Deallocate,
// Close as destructor) mirrors the Arena in arena.go instead, which is
// itself in the teacher's idiom.
//
// Like Arena, BuddyEngine carries no internal synchronization: spec.md §5
// scopes single-mutator use to the caller.
type BuddyEngine struct {
	upstream         Upstream
	newSuperpageLog2 uint
	superpages       []*Superpage // append-only: pageRef values borrow these pointers
}

// NewBuddyEngine constructs a BuddyEngine. WithBuddyUpstream is required.
func NewBuddyEngine(opts ...BuddyOption) (*BuddyEngine, error) {
	cfg := defaultBuddyConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.Upstream == nil {
		return nil, allocerrors.InvalidConfig("NewBuddyEngine requires WithBuddyUpstream")
	}

	return &BuddyEngine{upstream: cfg.Upstream, newSuperpageLog2: cfg.NewSuperpageLog2}, nil
}

// ceilLog2 returns the smallest n such that 2^n >= bytes (round_up in the
// original implementation).
func ceilLog2(bytes uintptr) uint {
	if bytes <= 1 {
		return 0
	}

	return uint(bits.Len(uint(bytes - 1)))
}

func maxUint(a, b uint) uint {
	if a > b {
		return a
	}

	return b
}

// Allocate returns a pointer to a page of at least bytes bytes (spec.md
// §4.5, step-by-step).
func (e *BuddyEngine) Allocate(bytes uintptr) (unsafe.Pointer, error) {
	goal := maxUint(MinPageLog2, ceilLog2(bytes))

	cand, ok := e.findFreePage(goal)
	if !ok {
		if err := e.growSuperpage(goal); err != nil {
			return nil, err
		}

		cand, ok = e.findFreePage(goal)
		if !ok {
			return nil, allocerrors.OutOfMemory(bytes, 0, "BuddyEngine.Allocate")
		}
	}

	if cand.state() == split {
		cand.unsplit()
	}

	for cand.size() > goal {
		cand.split()
		cand = cand.leftChild()
	}

	cand.changeVacantToOccupied()

	return cand.addr(), nil
}

// findFreePage implements spec.md §4.5's search loop: scan every superpage
// for a page of exactly `goal` size first, only climbing to a bigger size
// once no superpage has one, so allocations are biased toward exact fits
// and large free pages aren't prematurely split.
//
// A page qualifies either by being directly VACANT, or by being SPLIT with
// an entirely free subtree — the latter is what makes lazy unsplit actually
// reachable: without it, a node that has been split once never becomes a
// candidate again, even after every allocation beneath it is released.
func (e *BuddyEngine) findFreePage(goal uint) (pageRef, bool) {
	for {
		anyCandidate := false

		for _, sp := range e.superpages {
			if sp.sizeLog2 < goal {
				continue
			}

			anyCandidate = true

			i := 0
			for newPageRef(sp, i).size() > goal {
				i = 2*i + 1
			}

			j := 2*i + 1

			for p := i; p < j; p++ {
				pr := newPageRef(sp, p)
				if pr.state() == vacant || (pr.state() == split && pr.isFullyFree()) {
					return pr, true
				}
			}
		}

		if !anyCandidate {
			return pageRef{}, false
		}

		goal++
	}
}

// growSuperpage acquires a fresh superpage from upstream sized to at least
// 2^goal bytes (and never smaller than the engine's default fresh-
// superpage size), aligned to its own size so every page address it ever
// hands out is aligned to that page's own size (spec.md §8, property 4).
func (e *BuddyEngine) growSuperpage(goal uint) error {
	sizeLog2 := maxUint(goal, e.newSuperpageLog2)
	size := uintptr(1) << sizeLog2

	ptr, err := e.upstream.Allocate(size, size)
	if err != nil {
		return err
	}

	e.superpages = append(e.superpages, newSuperpage(sizeLog2, ptr))

	return nil
}

// Deallocate marks the page that owns ptr vacant again (spec.md §4.5).
// Unsplitting of now-fully-free ancestor pages is deferred to the next
// allocation that needs a bigger page (the "lazy unsplit" design choice).
// A ptr outside every superpage this engine owns is silently ignored; a ptr
// inside one that does not match an occupied page of the given size panics
// with an INVARIANT_VIOLATION error. Pairing allocate/deallocate exactly is
// the caller's contract (spec.md §6).
func (e *BuddyEngine) Deallocate(ptr unsafe.Pointer, bytes uintptr) {
	sp := e.ownerOf(ptr)
	if sp == nil {
		return
	}

	goal := maxUint(MinPageLog2, ceilLog2(bytes))

	pMin := 0
	for newPageRef(sp, pMin).size() > goal {
		pMin = 2*pMin + 1
	}

	offset := uintptr(ptr) - uintptr(sp.memory)
	pageIndex := pMin + int(offset>>goal)

	newPageRef(sp, pageIndex).changeOccupiedToVacant()
}

func (e *BuddyEngine) ownerOf(ptr unsafe.Pointer) *Superpage {
	for _, sp := range e.superpages {
		if sp.contains(ptr) {
			return sp
		}
	}

	return nil
}

// Close returns every superpage ever acquired back to upstream.
func (e *BuddyEngine) Close() error {
	for _, sp := range e.superpages {
		size := uintptr(1) << sp.sizeLog2
		e.upstream.Deallocate(sp.memory, size, size)
	}

	e.superpages = nil

	return nil
}

// IsEqual reports whether other is the same engine instance.
func (e *BuddyEngine) IsEqual(other *BuddyEngine) bool { return other == e }

// SuperpageCount returns the number of superpages the engine currently
// owns, exposed for tests exercising growth behavior.
func (e *BuddyEngine) SuperpageCount() int { return len(e.superpages) }
