package vfs

import (
	"bytes"
	"testing"
	"time"

	"hvnos/blk"
	"hvnos/blkalloc"
	"hvnos/filetable"
)

type fakeClock struct{ nowMillis int64 }

func (c *fakeClock) NowMillis() int64      { return c.nowMillis }
func (c *fakeClock) Sleep(d time.Duration) {}

type fakeRNG struct{ next byte }

func (r *fakeRNG) Fill(buf []byte) {
	for i := range buf {
		buf[i] = r.next
		r.next++
	}
}

func newTestFS(t *testing.T, totalBlocks uint64) (*FS, blk.Device) {
	t.Helper()
	dev := blk.NewRAMDevice(totalBlocks, 4096)
	alloc, err := blkalloc.Format(dev, totalBlocks, 4096)
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	table := filetable.New(alloc.FileTableStartLBA())
	fs := New(dev, alloc, table, &fakeClock{}, &fakeRNG{})
	return fs, dev
}

func TestOpenCreateThenOpenWithoutCreateFindsIt(t *testing.T) {
	fs, _ := newTestFS(t, 256)

	h, err := fs.Open([]byte("heaven.db"), OpenCreate)
	if err != nil {
		t.Fatalf("Open with create: %v", err)
	}
	if h.BlockCount == 0 {
		t.Fatal("expected a nonzero initial extent")
	}

	again, err := fs.Open([]byte("heaven.db"), 0)
	if err != nil {
		t.Fatalf("Open existing without create: %v", err)
	}
	if again.FileTableIndex != h.FileTableIndex || again.StartLBA != h.StartLBA {
		t.Fatalf("reopen did not find the same file: %+v vs %+v", again, h)
	}
}

func TestOpenWithoutCreateOnMissingFileFails(t *testing.T) {
	fs, _ := newTestFS(t, 256)
	if _, err := fs.Open([]byte("nope.db"), 0); err == nil {
		t.Fatal("expected error opening a nonexistent file without OpenCreate")
	}
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	fs, _ := newTestFS(t, 256)
	h, err := fs.Open([]byte("heaven.db"), OpenCreate)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	payload := bytes.Repeat([]byte{0xAB}, 100)
	if err := fs.Write(&h, payload, 4096); err != nil {
		t.Fatalf("Write: %v", err)
	}

	out := make([]byte, 100)
	if err := fs.Read(h, out, 4096); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(out, payload) {
		t.Fatal("read back data does not match what was written")
	}
}

func TestUnalignedWritePreservesNeighboringBytes(t *testing.T) {
	fs, _ := newTestFS(t, 256)
	h, err := fs.Open([]byte("heaven.db"), OpenCreate)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	full := bytes.Repeat([]byte{0x11}, 4096)
	if err := fs.Write(&h, full, 0); err != nil {
		t.Fatalf("Write aligned block: %v", err)
	}

	middle := bytes.Repeat([]byte{0x22}, 10)
	if err := fs.Write(&h, middle, 100); err != nil {
		t.Fatalf("Write unaligned window: %v", err)
	}

	whole := make([]byte, 4096)
	if err := fs.Read(h, whole, 0); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(whole[100:110], middle) {
		t.Fatal("unaligned write did not land in the expected window")
	}
	if whole[99] != 0x11 || whole[110] != 0x11 {
		t.Fatal("unaligned write clobbered a neighboring byte")
	}
}

func TestReadPastEOFIsShortRead(t *testing.T) {
	fs, _ := newTestFS(t, 256)
	h, err := fs.Open([]byte("heaven.db"), OpenCreate)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := fs.Write(&h, []byte{1, 2, 3, 4}, 0); err != nil {
		t.Fatalf("Write: %v", err)
	}

	buf := make([]byte, 16)
	for i := range buf {
		buf[i] = 0xFF
	}
	err = fs.Read(h, buf, 0)
	if err == nil {
		t.Fatal("expected a short-read error reading past EOF")
	}
	if !bytes.Equal(buf[:4], []byte{1, 2, 3, 4}) {
		t.Fatal("short read corrupted the in-range bytes")
	}
	for _, b := range buf[4:] {
		if b != 0 {
			t.Fatal("short read did not zero-fill the tail")
		}
	}
}

func TestWriteBeyondExtentRelocates(t *testing.T) {
	fs, _ := newTestFS(t, 256)
	h, err := fs.Open([]byte("heaven.db"), OpenCreate)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	original := h.BlockCount
	oldLBA := h.StartLBA

	if err := fs.Write(&h, []byte{9}, 0); err != nil {
		t.Fatalf("Write: %v", err)
	}

	farOffset := uint64(original) * 4096
	if err := fs.Write(&h, []byte{7}, farOffset); err != nil {
		t.Fatalf("Write past current extent: %v", err)
	}
	if h.BlockCount <= original {
		t.Fatalf("expected relocation to grow BlockCount beyond %d, got %d", original, h.BlockCount)
	}

	out := make([]byte, 1)
	if err := fs.Read(h, out, 0); err != nil {
		t.Fatalf("Read preserved byte after relocation: %v", err)
	}
	if out[0] != 9 {
		t.Fatal("relocation lost data from the original extent")
	}
	if h.StartLBA == oldLBA {
		t.Fatalf("expected relocation to move the extent away from LBA %d", oldLBA)
	}
}

func TestSyncIsIdempotentAndFlushesMetadata(t *testing.T) {
	fs, dev := newTestFS(t, 256)
	h, err := fs.Open([]byte("heaven.db"), OpenCreate)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	h.ByteLength = 42
	if err := fs.Sync(h); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	ram := dev.(*blk.RAMDevice)
	if ram.FlushCount() == 0 {
		t.Fatal("Sync should have issued a device flush")
	}
	reloaded, err := blkalloc.Load(dev)
	if err != nil {
		t.Fatalf("Load allocator after Sync: %v", err)
	}
	table, err := filetable.Load(dev, reloaded.FileTableStartLBA())
	if err != nil {
		t.Fatalf("Load file table after Sync: %v", err)
	}
	if _, e, ok := table.Lookup([]byte("heaven.db")); !ok || e.ByteLength != 42 {
		t.Fatalf("expected the on-disk entry to record ByteLength 42 after Sync, got %+v (found=%v)", e, ok)
	}
	if err := fs.Sync(h); err != nil {
		t.Fatalf("second Sync: %v", err)
	}
}

func TestDeleteThenAccess(t *testing.T) {
	fs, _ := newTestFS(t, 256)
	if _, err := fs.Open([]byte("heaven.db"), OpenCreate); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !fs.Access([]byte("heaven.db")) {
		t.Fatal("expected Access true before delete")
	}
	if err := fs.Delete([]byte("heaven.db")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if fs.Access([]byte("heaven.db")) {
		t.Fatal("expected Access false after delete")
	}
	// Deleting an absent file is not an error.
	if err := fs.Delete([]byte("heaven.db")); err != nil {
		t.Fatalf("Delete of absent file should not error: %v", err)
	}
}

func TestShmLockExclusiveExcludesShared(t *testing.T) {
	fs, _ := newTestFS(t, 256)
	if err := fs.ShmLock(0, 1, true, true); err != nil {
		t.Fatalf("exclusive lock: %v", err)
	}
	if err := fs.ShmLock(0, 1, false, true); err == nil {
		t.Fatal("expected shared lock to fail while exclusive is held")
	}
	fs.ShmLock(0, 1, true, false)
	if err := fs.ShmLock(0, 1, false, true); err != nil {
		t.Fatalf("shared lock should succeed once exclusive is released: %v", err)
	}
}
