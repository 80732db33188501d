package allocator

import "unsafe"

// Block is an immutable value describing a contiguous byte range: a
// pointer plus a size. It is the unit the arena's free list and
// allocation table move around; see original_source/core/src/memory/arena.hpp
// for the value this type is a direct port of.
type Block struct {
	ptr  unsafe.Pointer
	size uintptr
}

// NewBlock constructs a block from a pointer and a size.
func NewBlock(ptr unsafe.Pointer, size uintptr) Block {
	return Block{ptr: ptr, size: size}
}

// Pointer returns the block's starting address.
func (b Block) Pointer() unsafe.Pointer { return b.ptr }

// Size returns the block's size in bytes.
func (b Block) Size() uintptr { return b.size }

// IsValid reports whether the block has a non-nil pointer.
func (b Block) IsValid() bool { return b.ptr != nil }

// Fits reports whether the block is at least n bytes.
func (b Block) Fits(n uintptr) bool { return b.size >= n }

// IsContiguousBefore reports whether b immediately precedes other in
// address space, i.e. b.Pointer()+b.Size() == other.Pointer().
func (b Block) IsContiguousBefore(other Block) bool {
	return uintptr(b.ptr)+b.size == uintptr(other.ptr)
}

// Split divides the block into two at offset n. The caller must have
// checked b.Fits(n). The tail may come back empty-sized (when n ==
// b.size); callers must discard it rather than insert it into a set.
func (b Block) Split(n uintptr) (head, tail Block) {
	head = Block{ptr: b.ptr, size: n}
	tail = Block{ptr: unsafe.Pointer(uintptr(b.ptr) + n), size: b.size - n}

	return head, tail
}

// Merge coalesces b with a block it is contiguous before, returning the
// combined range. The caller must have checked b.IsContiguousBefore(other).
func (b Block) Merge(other Block) Block {
	return Block{ptr: b.ptr, size: b.size + other.size}
}

// Less orders blocks by address, the ordering blockSet relies on.
func (b Block) Less(other Block) bool {
	return uintptr(b.ptr) < uintptr(other.ptr)
}
