package filetable

import (
	"testing"

	"hvnos/blk"
	"hvnos/limits"
)

func TestCreateLookupDelete(t *testing.T) {
	tbl := New(5)

	idx, ok := tbl.Create([]byte("heaven.db"), 10, 16)
	if !ok {
		t.Fatal("Create failed on empty table")
	}

	gotIdx, entry, ok := tbl.Lookup([]byte("heaven.db"))
	if !ok || gotIdx != idx {
		t.Fatalf("Lookup mismatch: ok=%v gotIdx=%d wantIdx=%d", ok, gotIdx, idx)
	}
	if entry.StartBlock != 10 || entry.BlockCount != 16 {
		t.Fatalf("unexpected entry: %+v", entry)
	}

	tbl.Delete(idx)
	if _, _, ok := tbl.Lookup([]byte("heaven.db")); ok {
		t.Fatal("Lookup found deleted entry")
	}

	// Deleting an already-deleted slot is idempotent.
	tbl.Delete(idx)
}

func TestTableFullRejectsCreate(t *testing.T) {
	tbl := New(5)
	for i := 0; i < limits.MaxFiles; i++ {
		name := []byte{byte('a' + i%26), byte('0' + i/26)}
		if _, ok := tbl.Create(name, uint64(i), 1); !ok {
			t.Fatalf("Create unexpectedly failed at entry %d", i)
		}
	}
	if _, ok := tbl.Create([]byte("overflow"), 999, 1); ok {
		t.Fatal("expected Create to fail once the table is full")
	}
}

func TestFlushLoadRoundTrip(t *testing.T) {
	dev := blk.NewRAMDevice(8, 4096)
	tbl := New(2)
	idx, ok := tbl.Create([]byte("heaven.db"), 3, 16)
	if !ok {
		t.Fatal("Create failed")
	}
	tbl.SetByteLength(idx, 12345)

	if err := tbl.Flush(dev); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	loaded, err := Load(dev, 2)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	gotIdx, entry, ok := loaded.Lookup([]byte("heaven.db"))
	if !ok || gotIdx != idx {
		t.Fatalf("Lookup after reload: ok=%v gotIdx=%d", ok, gotIdx)
	}
	if entry.ByteLength != 12345 || entry.StartBlock != 3 || entry.BlockCount != 16 {
		t.Fatalf("unexpected entry after reload: %+v", entry)
	}
}

func TestSetExtentAndByteLength(t *testing.T) {
	tbl := New(0)
	idx, _ := tbl.Create([]byte("f"), 1, 1)
	tbl.SetExtent(idx, 100, 32)
	tbl.SetByteLength(idx, 4096)

	entry, ok := tbl.Get(idx)
	if !ok {
		t.Fatal("Get failed on live entry")
	}
	if entry.StartBlock != 100 || entry.BlockCount != 32 || entry.ByteLength != 4096 {
		t.Fatalf("unexpected entry after updates: %+v", entry)
	}
}

func TestEntriesReturnsOnlyInUse(t *testing.T) {
	tbl := New(0)
	idx1, _ := tbl.Create([]byte("a"), 1, 1)
	_, _ = tbl.Create([]byte("b"), 2, 1)
	tbl.Delete(idx1)

	entries := tbl.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 live entry, got %d", len(entries))
	}
	if entries[0].StartBlock != 2 {
		t.Fatalf("unexpected surviving entry: %+v", entries[0])
	}
}
