package blkalloc

import (
	"testing"

	"hvnos/blk"
)

func TestFormatThenLoadRoundTrip(t *testing.T) {
	dev := blk.NewRAMDevice(256, 4096)
	formatted, err := Format(dev, 256, 4096)
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	if formatted.FreeCount() != formatted.dataBlockCount {
		t.Fatalf("fresh format should be all-free: free=%d data=%d", formatted.FreeCount(), formatted.dataBlockCount)
	}

	loaded, err := Load(dev)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.DataStartLBA() != formatted.DataStartLBA() {
		t.Fatalf("DataStartLBA mismatch: loaded=%d formatted=%d", loaded.DataStartLBA(), formatted.DataStartLBA())
	}
	if loaded.FreeCount() != formatted.FreeCount() {
		t.Fatalf("FreeCount mismatch after load: loaded=%d formatted=%d", loaded.FreeCount(), formatted.FreeCount())
	}
}

func TestAllocFreeContiguity(t *testing.T) {
	dev := blk.NewRAMDevice(256, 4096)
	a, err := Format(dev, 256, 4096)
	if err != nil {
		t.Fatalf("Format: %v", err)
	}

	free := a.FreeCount()
	start, err := a.Alloc(10)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if a.FreeCount() != free-10 {
		t.Fatalf("FreeCount after alloc: got %d want %d", a.FreeCount(), free-10)
	}

	second, err := a.Alloc(5)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if second != start+10 {
		t.Fatalf("expected second alloc contiguous with first: start=%d second=%d", start, second)
	}

	a.Free(start, 10)
	if a.FreeCount() != free-5 {
		t.Fatalf("FreeCount after free: got %d want %d", a.FreeCount(), free-5)
	}

	// Double-free is tolerated, not an error.
	a.Free(start, 10)
	if a.FreeCount() != free-5 {
		t.Fatalf("double free changed FreeCount: got %d want %d", a.FreeCount(), free-5)
	}
}

func TestAllocExhaustion(t *testing.T) {
	dev := blk.NewRAMDevice(32, 4096)
	a, err := Format(dev, 32, 4096)
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	total := a.FreeCount()
	if _, err := a.Alloc(total + 1); err == nil {
		t.Fatal("expected Full error allocating past capacity")
	}
	if _, err := a.Alloc(total); err != nil {
		t.Fatalf("Alloc of exact remaining capacity should succeed: %v", err)
	}
	if a.FreeCount() != 0 {
		t.Fatalf("expected FreeCount 0, got %d", a.FreeCount())
	}
}

func TestReconcileRebuildsBitmapFromExtents(t *testing.T) {
	dev := blk.NewRAMDevice(256, 4096)
	a, err := Format(dev, 256, 4096)
	if err != nil {
		t.Fatalf("Format: %v", err)
	}

	// Simulate an unclean shutdown: the bitmap thinks blocks are used
	// that no file table entry actually references anymore.
	if _, err := a.Alloc(20); err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	leaked := a.FreeCount()

	// Only one extent is actually live according to "the file table".
	a.Reconcile([]Extent{{Start: 0, Count: 5}})

	if a.FreeCount() == leaked {
		t.Fatal("Reconcile should have freed the leaked blocks")
	}
	want := a.dataBlockCount - 5
	if a.FreeCount() != want {
		t.Fatalf("FreeCount after Reconcile: got %d want %d", a.FreeCount(), want)
	}
}

func TestFlushPersistsBitmap(t *testing.T) {
	dev := blk.NewRAMDevice(256, 4096)
	a, err := Format(dev, 256, 4096)
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	if _, err := a.Alloc(3); err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if err := a.Flush(dev); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	reloaded, err := Load(dev)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if reloaded.FreeCount() != a.FreeCount() {
		t.Fatalf("FreeCount after reload: got %d want %d", reloaded.FreeCount(), a.FreeCount())
	}
}
