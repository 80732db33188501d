package allocator

import "testing"

func TestPageRefDepthAndSize(t *testing.T) {
	sp := newSuperpage(20, ptrAt(0x10000))

	cases := []struct {
		index     int
		wantDepth uint
		wantSize  uint
	}{
		{0, 0, 20},
		{1, 1, 19},
		{2, 1, 19},
		{3, 2, 18},
		{6, 2, 18},
	}

	for _, c := range cases {
		pr := newPageRef(sp, c.index)
		if d := depth(c.index); d != c.wantDepth {
			t.Fatalf("index %d: want depth %d, got %d", c.index, c.wantDepth, d)
		}

		if s := pr.size(); s != c.wantSize {
			t.Fatalf("index %d: want size %d, got %d", c.index, c.wantSize, s)
		}
	}
}

func TestPageRefAddr(t *testing.T) {
	sp := newSuperpage(10, ptrAt(0x10000)) // 1 KiB superpage, leaves at 256 B (MinPageLog2)

	// Node 0 covers the whole page; its two children (1, 2) cover 512 B
	// each; split once to reach the 256 B leaves (3..6).
	root := newPageRef(sp, 0)
	root.split()
	root.leftChild().split()
	root.rightChild().split()

	wantAddrs := []uintptr{0x10000, 0x10100, 0x10200, 0x10300}
	for i, idx := range []int{3, 4, 5, 6} {
		pr := newPageRef(sp, idx)
		if got := uintptr(pr.addr()); got != wantAddrs[i] {
			t.Fatalf("index %d: want addr %x, got %x", idx, wantAddrs[i], got)
		}
	}
}

func TestPageRefSplitAndUnsplit(t *testing.T) {
	sp := newSuperpage(10, ptrAt(0x10000))
	root := newPageRef(sp, 0)

	root.split()

	if root.state() != split {
		t.Fatalf("expected root to be split")
	}

	if root.leftChild().state() != vacant || root.rightChild().state() != vacant {
		t.Fatalf("expected both children vacant after split")
	}

	root.unsplit()

	if root.state() != vacant {
		t.Fatalf("expected root to be vacant after unsplit")
	}

	if root.leftChild().state() != nonExtant || root.rightChild().state() != nonExtant {
		t.Fatalf("expected both children non-extant after unsplit")
	}
}

func TestPageRefUnsplitRecursesThroughSplitChildren(t *testing.T) {
	sp := newSuperpage(10, ptrAt(0x10000))
	root := newPageRef(sp, 0)

	root.split()
	root.leftChild().split()

	root.unsplit()

	if root.state() != vacant {
		t.Fatalf("expected root vacant after recursive unsplit")
	}

	if root.leftChild().state() != nonExtant {
		t.Fatalf("expected left child non-extant after recursive unsplit")
	}
}

func TestPageRefOccupyAndRelease(t *testing.T) {
	sp := newSuperpage(10, ptrAt(0x10000))
	root := newPageRef(sp, 0)

	root.changeVacantToOccupied()

	if root.state() != occupied {
		t.Fatalf("expected root occupied")
	}

	root.changeOccupiedToVacant()

	if root.state() != vacant {
		t.Fatalf("expected root vacant after release")
	}
}

func TestPageRefSplitPanicsWhenNotVacant(t *testing.T) {
	sp := newSuperpage(10, ptrAt(0x10000))
	root := newPageRef(sp, 0)

	root.changeVacantToOccupied()

	defer func() {
		if recover() == nil {
			t.Fatalf("expected split on an occupied node to panic")
		}
	}()

	root.split()
}

func TestSuperpageContains(t *testing.T) {
	sp := newSuperpage(10, ptrAt(0x10000))

	if !sp.contains(ptrAt(0x10000)) {
		t.Fatalf("expected base address to be contained")
	}

	if !sp.contains(ptrAt(0x103ff)) {
		t.Fatalf("expected last byte to be contained")
	}

	if sp.contains(ptrAt(0x10400)) {
		t.Fatalf("did not expect one-past-the-end to be contained")
	}
}
