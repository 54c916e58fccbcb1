package mem

import "testing"

func TestDMABufferZeroedAndAligned(t *testing.T) {
	a := NewBitmapAllocator(16)
	d, err := NewDMABuffer(a, 100)
	if err != nil {
		t.Fatal(err)
	}
	if d.PhysAddr()%PageSize != 0 {
		t.Fatalf("phys addr not page aligned: %#x", d.PhysAddr())
	}
	for i, b := range d.Bytes() {
		if b != 0 {
			t.Fatalf("byte %d not zeroed: %#x", i, b)
		}
	}
	if d.Len() != 100 {
		t.Fatalf("expected length 100, got %d", d.Len())
	}
	if d.Frames() != 1 {
		t.Fatalf("expected 1 frame for 100 bytes, got %d", d.Frames())
	}
}

func TestDMABufferCacheDiscipline(t *testing.T) {
	a := NewBitmapAllocator(4)
	d, err := NewDMABuffer(a, PageSize)
	if err != nil {
		t.Fatal(err)
	}
	d.FlushCache()
	d.InvalidateCache()
	d.InvalidateCache()
	if d.Flushes() != 1 {
		t.Fatalf("expected 1 flush, got %d", d.Flushes())
	}
	if d.Invalidates() != 2 {
		t.Fatalf("expected 2 invalidates, got %d", d.Invalidates())
	}
}

func TestDMABufferFreeReturnsFrames(t *testing.T) {
	a := NewBitmapAllocator(4)
	d, err := NewDMABuffer(a, PageSize*2)
	if err != nil {
		t.Fatal(err)
	}
	if a.FreeFrames() != 2 {
		t.Fatalf("expected 2 free frames, got %d", a.FreeFrames())
	}
	d.Free()
	if a.FreeFrames() != 4 {
		t.Fatalf("expected all frames free after Free(), got %d", a.FreeFrames())
	}
}
