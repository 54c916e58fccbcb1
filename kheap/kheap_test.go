package kheap

import (
	"testing"

	"hvnos/mem"
)

func newHeap(t *testing.T) *Heap {
	t.Helper()
	return New(mem.NewBitmapAllocator(64))
}

func TestAllocZeroedAndSized(t *testing.T) {
	h := newHeap(t)
	b := h.Alloc(40)
	if b == nil {
		t.Fatal("alloc returned nil")
	}
	if len(b) != 40 {
		t.Fatalf("expected len 40, got %d", len(b))
	}
	for _, v := range b {
		if v != 0 {
			t.Fatal("expected zeroed memory")
		}
	}
}

func TestFreeThenReallocSameClassReuses(t *testing.T) {
	h := newHeap(t)
	a := h.Alloc(20)
	a[0] = 0xAB
	h.Free(a)
	b := h.Alloc(20)
	if b[0] != 0 {
		t.Fatal("expected freshly carved or zeroed object, not stale data")
	}
	if &a[0] != &b[0] {
		t.Fatal("expected the freed object to be handed out again for the same class")
	}
}

func TestLargeAllocBypassesSlabs(t *testing.T) {
	h := newHeap(t)
	b := h.Alloc(5000)
	if b == nil {
		t.Fatal("large alloc failed")
	}
	if len(b) != 5000 {
		t.Fatalf("expected len 5000, got %d", len(b))
	}
	h.Free(b)
}

func TestReallocShrinkInPlace(t *testing.T) {
	h := newHeap(t)
	b := h.Alloc(10)
	for i := range b {
		b[i] = byte(i + 1)
	}
	shrunk := h.Realloc(b, 4)
	if len(shrunk) != 4 {
		t.Fatalf("expected len 4, got %d", len(shrunk))
	}
	for i := 0; i < 4; i++ {
		if shrunk[i] != byte(i+1) {
			t.Fatalf("byte %d corrupted on shrink: %v", i, shrunk[i])
		}
	}
}

func TestReallocGrowCopies(t *testing.T) {
	h := newHeap(t)
	b := h.Alloc(4)
	copy(b, []byte{1, 2, 3, 4})
	grown := h.Realloc(b, 100)
	if len(grown) != 100 {
		t.Fatalf("expected len 100, got %d", len(grown))
	}
	for i := 0; i < 4; i++ {
		if grown[i] != byte(i+1) {
			t.Fatalf("byte %d lost on grow: %v", i, grown[i])
		}
	}
}
