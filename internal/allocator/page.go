package allocator

import (
	"math/bits"
	"unsafe"

	allocerrors "github.com/vecmem-go/vecmem/internal/errors"
)

// pageState is a buddy-tree node's state (spec.md §3, component C4).
type pageState uint8

const (
	nonExtant pageState = iota
	vacant
	occupied
	split
)

// Superpage is a contiguous upstream allocation of size 2^sizeLog2,
// organized as a complete binary tree for buddy allocation. Node i's
// children are 2i+1 and 2i+2 (the standard heap layout); node 0 is the
// root and covers the whole superpage.
//
// Ported from original_source/core/src/memory/binary_page_memory_resource_impl.cpp's
// `superpage` type.
type Superpage struct {
	sizeLog2 uint
	pages    []pageState
	memory   unsafe.Pointer // owned by the engine's upstream, not this struct
}

func newSuperpage(sizeLog2 uint, memory unsafe.Pointer) *Superpage {
	numPages := (2 << (sizeLog2 - MinPageLog2)) - 1
	pages := make([]pageState, numPages)
	pages[0] = vacant

	for i := 1; i < numPages; i++ {
		pages[i] = nonExtant
	}

	return &Superpage{sizeLog2: sizeLog2, pages: pages, memory: memory}
}

// contains reports whether ptr falls within this superpage's memory.
func (sp *Superpage) contains(ptr unsafe.Pointer) bool {
	base := uintptr(sp.memory)
	addr := uintptr(ptr)

	return addr >= base && addr < base+(uintptr(1)<<sp.sizeLog2)
}

// pageRef is a lightweight, non-owning view over node index in a
// superpage's tree. It must never outlive its superpage; the buddy engine
// guarantees that by never removing superpages from its list.
type pageRef struct {
	sp    *Superpage
	index int
}

func newPageRef(sp *Superpage, index int) pageRef {
	return pageRef{sp: sp, index: index}
}

// depth returns floor(log2(index+1)) via bits.Len, the count-leading-zeros
// primitive spec.md §3 calls for (bits.Len is backed by a hardware
// instruction on every architecture Go's compiler targets; no software
// fallback loop is needed on top of it).
func depth(index int) uint {
	return uint(bits.Len(uint(index+1))) - 1
}

// size returns the log2 byte size node index covers.
func (p pageRef) size() uint {
	return p.sp.sizeLog2 - depth(p.index)
}

// addr returns the address of the leftmost byte node index covers.
func (p pageRef) addr() unsafe.Pointer {
	d := depth(p.index)
	firstAtDepth := (1 << d) - 1
	offset := uintptr(p.index-firstAtDepth) << p.size()

	return unsafe.Pointer(uintptr(p.sp.memory) + offset)
}

func (p pageRef) state() pageState { return p.sp.pages[p.index] }

func (p pageRef) leftChild() pageRef  { return newPageRef(p.sp, 2*p.index+1) }
func (p pageRef) rightChild() pageRef { return newPageRef(p.sp, 2*p.index+2) }

func (p pageRef) requireState(want pageState, op string) {
	if p.state() != want {
		panic(allocerrors.InvariantViolation(op))
	}
}

func (p pageRef) setState(s pageState) { p.sp.pages[p.index] = s }

// split subdivides a vacant node into two vacant children (spec.md §4.4).
// Preconditions: the node is vacant and larger than the minimum leaf size.
func (p pageRef) split() {
	p.requireState(vacant, "split: node not vacant")
	if p.size() <= MinPageLog2 {
		panic(allocerrors.InvariantViolation("split: node already at minimum page size"))
	}
	p.setState(split)
	p.leftChild().requireState(nonExtant, "split: left child not non-extant")
	p.leftChild().setState(vacant)
	p.rightChild().requireState(nonExtant, "split: right child not non-extant")
	p.rightChild().setState(vacant)
}

// unsplit recursively collapses a split node whose entire subtree is free
// back down to a single vacant node (spec.md §4.4, "lazy unsplit").
func (p pageRef) unsplit() {
	if p.leftChild().state() == split {
		p.leftChild().unsplit()
	}

	if p.rightChild().state() == split {
		p.rightChild().unsplit()
	}

	p.requireState(split, "unsplit: node not split")
	p.setState(vacant)
	p.leftChild().setState(nonExtant)
	p.rightChild().setState(nonExtant)
}

func (p pageRef) changeVacantToOccupied() {
	p.requireState(vacant, "allocate: node not vacant")
	p.setState(occupied)
}

func (p pageRef) changeOccupiedToVacant() {
	p.requireState(occupied, "deallocate: node not occupied")
	p.setState(vacant)
}

// isFullyFree reports whether p and everything below it is free: either p
// itself is vacant, or p is split and both children are fully free. This is
// what lets the buddy engine's search recognize a SPLIT ancestor as usable
// (via unsplit) once every allocation beneath it has been released, rather
// than only ever matching already-VACANT nodes.
func (p pageRef) isFullyFree() bool {
	switch p.state() {
	case vacant:
		return true
	case split:
		return p.leftChild().isFullyFree() && p.rightChild().isFullyFree()
	default:
		return false
	}
}
