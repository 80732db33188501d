package allocator

import (
	"testing"
)

func TestArenaRequiresUpstream(t *testing.T) {
	if _, err := NewArena(); err == nil {
		t.Fatalf("expected an error constructing an arena with no upstream")
	}
}

// TestArenaFirstFitAndCoalesce reproduces scenario A1: three allocations
// land in the same superblock at offsets 0, 256, 512; deallocating the
// last two in turn must leave a single coalesced free block.
func TestArenaFirstFitAndCoalesce(t *testing.T) {
	a, err := NewArena(
		WithInitialSize(1<<18),
		WithMaxSize(1<<30),
		WithUpstream(NewHeapUpstream()),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	x, err := a.Allocate(100)
	if err != nil {
		t.Fatalf("allocate a: %v", err)
	}

	y, err := a.Allocate(200)
	if err != nil {
		t.Fatalf("allocate b: %v", err)
	}

	z, err := a.Allocate(300)
	if err != nil {
		t.Fatalf("allocate c: %v", err)
	}

	if uintptr(y)-uintptr(x) != 256 {
		t.Fatalf("expected b to start 256 bytes after a, got offset %d", uintptr(y)-uintptr(x))
	}

	if uintptr(z)-uintptr(y) != 256 {
		t.Fatalf("expected c to start 256 bytes after b, got offset %d", uintptr(z)-uintptr(y))
	}

	if !a.Deallocate(y, 200) {
		t.Fatalf("expected deallocate of b to succeed")
	}

	if !a.Deallocate(z, 300) {
		t.Fatalf("expected deallocate of c to succeed")
	}

	if a.free.Len() != 1 {
		t.Fatalf("expected a single coalesced free block, got %d", a.free.Len())
	}

	merged := a.free.At(0)
	if merged.Pointer() != y {
		t.Fatalf("expected the merged free block to start where b did")
	}

	wantSize := (uintptr(1) << 18) - 256
	if merged.Size() != wantSize {
		t.Fatalf("expected merged block to cover [256, 2^18), size %d, got %d", wantSize, merged.Size())
	}
}

// TestArenaGrowthDoubles reproduces scenario A2: repeated allocations force
// a second upstream acquisition, doubling the growth quantum.
func TestArenaGrowthDoubles(t *testing.T) {
	a, err := NewArena(
		WithInitialSize(1<<18),
		WithMaxSize(3<<18),
		WithUpstream(NewHeapUpstream()),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	const chunk = 100 * 1024

	for i := 0; i < 3; i++ {
		if _, err := a.Allocate(chunk); err != nil {
			t.Fatalf("allocate %d: %v", i, err)
		}
	}

	if a.CurrentSize() <= 1<<18 {
		t.Fatalf("expected a second superblock acquisition, current size stayed at %d", a.CurrentSize())
	}

	if a.SuperblockSize() <= 1<<18 {
		t.Fatalf("expected superblock_size to have doubled, got %d", a.SuperblockSize())
	}
}

func TestArenaOutOfMemory(t *testing.T) {
	a, err := NewArena(
		WithInitialSize(1<<18),
		WithMaxSize(1<<18),
		WithUpstream(NewHeapUpstream()),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := a.Allocate(1 << 20); err == nil {
		t.Fatalf("expected OUT_OF_MEMORY allocating beyond max_size")
	}
}

func TestArenaDeallocateUnknownPointerFails(t *testing.T) {
	a, err := NewArena(WithUpstream(NewHeapUpstream()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := a.Allocate(16); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if a.Deallocate(ptrAt(0xdeadbeef), 16) {
		t.Fatalf("expected deallocate of an unknown pointer to fail")
	}
}

func TestArenaDeallocateSizeMismatchFails(t *testing.T) {
	a, err := NewArena(WithUpstream(NewHeapUpstream()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ptr, err := a.Allocate(16)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if a.Deallocate(ptr, 512) {
		t.Fatalf("expected deallocate with a mismatched size to fail")
	}

	// The allocation must still be intact after the failed attempt.
	if !a.Deallocate(ptr, 16) {
		t.Fatalf("expected deallocate with the correct size to still succeed afterward")
	}
}

func TestArenaCloseReturnsSuperblocksToUpstream(t *testing.T) {
	heap := NewHeapUpstream()

	a, err := NewArena(WithUpstream(heap))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := a.Allocate(16); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := a.Close(); err != nil {
		t.Fatalf("unexpected error closing arena: %v", err)
	}

	if len(heap.backing) != 0 {
		t.Fatalf("expected Close to return every superblock to upstream")
	}

	if a.CurrentSize() != 0 {
		t.Fatalf("expected current size to reset to 0 after Close")
	}
}

func TestArenaIsEqual(t *testing.T) {
	a, _ := NewArena(WithUpstream(NewHeapUpstream()))
	b, _ := NewArena(WithUpstream(NewHeapUpstream()))

	if !a.IsEqual(a) || a.IsEqual(b) {
		t.Fatalf("IsEqual must be identity comparison")
	}
}
