package mem

import (
	"errors"
	"testing"

	"hvnos/errs"
)

func TestAllocContiguousFirstFit(t *testing.T) {
	a := NewBitmapAllocator(16)

	f1, err := a.AllocContiguous(4, 1)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if f1 != 0 {
		t.Fatalf("expected base frame 0, got %d", f1)
	}
	if got := a.FreeFrames(); got != 12 {
		t.Fatalf("expected 12 free frames, got %d", got)
	}

	f2, err := a.AllocContiguous(4, 1)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if f2 != 4 {
		t.Fatalf("expected base frame 4, got %d", f2)
	}
}

func TestAllocContiguousAlignment(t *testing.T) {
	a := NewBitmapAllocator(16)
	if _, err := a.AllocContiguous(1, 3); !errors.Is(err, errs.E(errs.InvalidAlignment)) {
		t.Fatalf("expected InvalidAlignment, got %v", err)
	}
	if _, err := a.AllocContiguous(0, 1); !errors.Is(err, errs.E(errs.InvalidSize)) {
		t.Fatalf("expected InvalidSize, got %v", err)
	}
}

func TestAllocContiguousOOM(t *testing.T) {
	a := NewBitmapAllocator(4)
	if _, err := a.AllocContiguous(5, 1); !errors.Is(err, errs.E(errs.OutOfMemory)) {
		t.Fatalf("expected OutOfMemory, got %v", err)
	}
}

func TestFreeIsIdempotent(t *testing.T) {
	a := NewBitmapAllocator(8)
	base, err := a.AllocContiguous(4, 1)
	if err != nil {
		t.Fatal(err)
	}
	a.Free(base, 4)
	before := a.FreeFrames()
	a.Free(base, 4) // double free: must not double-increment
	if got := a.FreeFrames(); got != before {
		t.Fatalf("double free changed free count: %d -> %d", before, got)
	}
}

func TestMarkUsedIdempotent(t *testing.T) {
	a := NewBitmapAllocator(8)
	a.MarkUsed(0, 2)
	a.MarkUsed(0, 2)
	if got := a.FreeFrames(); got != 6 {
		t.Fatalf("expected 6 free after idempotent mark, got %d", got)
	}
}

func TestBitmapConsistencyProperty(t *testing.T) {
	a := NewBitmapAllocator(64)
	var held []struct {
		base  Frame
		count uint32
	}
	for i := 0; i < 10; i++ {
		b, err := a.AllocContiguous(3, 1)
		if err != nil {
			continue
		}
		held = append(held, struct {
			base  Frame
			count uint32
		}{b, 3})
	}
	for _, h := range held {
		a.Free(h.base, h.count)
	}
	if got := a.FreeFrames(); got != 64 {
		t.Fatalf("expected all frames free after unwinding, got %d", got)
	}
}
