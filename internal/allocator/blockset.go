package allocator

import (
	"sort"
	"unsafe"
)

// blockSet is an address-ordered collection of non-overlapping blocks. It
// backs both the arena's free list and its live-allocation table.
//
// Design Notes (§9) call for a structure with logarithmic predecessor/
// successor lookups and explicitly rule out a hash set. No repo in the
// retrieved pack imports a verified ordered-tree or skip-list dependency
// for this role (see DESIGN.md), so this is a sorted slice searched with
// sort.Search: O(log n) lookup, O(n) insert/erase. That is the same
// trade-off AzkZzz04-kivi's own "Skiplist" memtable index makes.
type blockSet struct {
	blocks []Block // sorted ascending by Pointer()
}

// search returns the index of the first block whose pointer is >= ptr.
func (s *blockSet) search(ptr unsafe.Pointer) int {
	return sort.Search(len(s.blocks), func(i int) bool {
		return uintptr(s.blocks[i].ptr) >= uintptr(ptr)
	})
}

// Insert adds b, keeping the set ordered by address. b must not overlap any
// existing entry.
func (s *blockSet) Insert(b Block) {
	i := s.search(b.ptr)
	s.blocks = append(s.blocks, Block{})
	copy(s.blocks[i+1:], s.blocks[i:])
	s.blocks[i] = b
}

// Remove deletes and returns the block starting at ptr, if present.
func (s *blockSet) Remove(ptr unsafe.Pointer) (Block, bool) {
	i := s.search(ptr)
	if i >= len(s.blocks) || s.blocks[i].ptr != ptr {
		return Block{}, false
	}

	b := s.blocks[i]
	s.blocks = append(s.blocks[:i], s.blocks[i+1:]...)

	return b, true
}

// Len returns the number of blocks in the set.
func (s *blockSet) Len() int { return len(s.blocks) }

// At returns the block at position i in address order.
func (s *blockSet) At(i int) Block { return s.blocks[i] }

// FirstFit performs the linear address-order scan spec.md §4.3 step 2
// describes, returning the first block that fits need.
func (s *blockSet) FirstFit(need uintptr) (Block, bool) {
	for _, b := range s.blocks {
		if b.Fits(need) {
			return b, true
		}
	}

	return Block{}, false
}

// neighbors returns copies of the predecessor and successor blocks that ptr
// would be inserted between, were it already in the set. Copies are
// returned (not pointers into s.blocks) because Coalesce mutates the
// underlying slice between looking up the predecessor and the successor.
func (s *blockSet) neighbors(ptr unsafe.Pointer) (prev Block, hasPrev bool, next Block, hasNext bool) {
	i := s.search(ptr)
	if i > 0 {
		prev, hasPrev = s.blocks[i-1], true
	}

	if i < len(s.blocks) {
		next, hasNext = s.blocks[i], true
	}

	return prev, hasPrev, next, hasNext
}

// Coalesce inserts b into the set, merging it with an address-contiguous
// predecessor and/or successor. This is the arena's deallocate-time
// coalescing step (spec.md §4.3, step 4): the result is maximal, i.e. no
// two free blocks remain adjacent afterward.
func (s *blockSet) Coalesce(b Block) {
	prev, hasPrev, next, hasNext := s.neighbors(b.ptr)

	merged := b

	if hasPrev && prev.IsContiguousBefore(merged) {
		s.Remove(prev.ptr)
		merged = prev.Merge(merged)
	}

	if hasNext && merged.IsContiguousBefore(next) {
		s.Remove(next.ptr)
		merged = merged.Merge(next)
	}

	s.Insert(merged)
}
