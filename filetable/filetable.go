// Package filetable implements the flat, fixed-size name→extent
// directory described in spec.md §4.7/§6, grounded on the original
// implementation's FileTable (original_source's storage/file_table.rs),
// translated from a #[repr(C)] struct array into the same
// encode/decode-a-fixed-width-record idiom package blkalloc uses for
// the superblock.
package filetable

import (
	"encoding/binary"

	"hvnos/blk"
	"hvnos/errs"
	"hvnos/limits"
)

// flagInUse is bit 0 of Entry.Flags, per spec.md §6.
const flagInUse = 1

// Entry is one 96-byte file table record.
type Entry struct {
	name       [limits.MaxNameBytes + 1]byte // null-padded
	StartBlock uint64
	BlockCount uint64
	ByteLength uint64
	Flags      uint32
}

// InUse reports whether the entry's bit 0 flag is set.
func (e *Entry) InUse() bool { return e.Flags&flagInUse != 0 }

func (e *Entry) setInUse(v bool) {
	if v {
		e.Flags |= flagInUse
	} else {
		e.Flags &^= flagInUse
	}
}

// NameBytes returns the name up to its first null byte.
func (e *Entry) NameBytes() []byte {
	n := len(e.name)
	for i, b := range e.name {
		if b == 0 {
			n = i
			break
		}
	}
	return e.name[:n]
}

func (e *Entry) setName(name []byte) {
	n := len(name)
	if n > limits.MaxNameBytes {
		n = limits.MaxNameBytes
	}
	for i := range e.name {
		e.name[i] = 0
	}
	copy(e.name[:n], name[:n])
}

func encodeEntry(e Entry, buf []byte) {
	copy(buf[0:64], e.name[:])
	binary.LittleEndian.PutUint64(buf[64:72], e.StartBlock)
	binary.LittleEndian.PutUint64(buf[72:80], e.BlockCount)
	binary.LittleEndian.PutUint64(buf[80:88], e.ByteLength)
	binary.LittleEndian.PutUint32(buf[88:92], e.Flags)
	binary.LittleEndian.PutUint32(buf[92:96], 0) // reserved
}

func decodeEntry(buf []byte) Entry {
	var e Entry
	copy(e.name[:], buf[0:64])
	e.StartBlock = binary.LittleEndian.Uint64(buf[64:72])
	e.BlockCount = binary.LittleEndian.Uint64(buf[72:80])
	e.ByteLength = binary.LittleEndian.Uint64(buf[80:88])
	e.Flags = binary.LittleEndian.Uint32(buf[88:92])
	return e
}

// Table is the in-RAM mirror of the on-device file table, cached with a
// dirty flag and flushed at the granularity of the whole block, per
// spec.md §4.7.
type Table struct {
	entries [limits.MaxFiles]Entry
	lba     uint64
	dirty   bool
}

// New returns an empty table that will be written at lba on its first Flush.
func New(lba uint64) *Table {
	return &Table{lba: lba}
}

// Load reads the single file-table block at lba and decodes its entries.
func Load(dev blk.Device, lba uint64) (*Table, error) {
	block := make([]byte, dev.BlockSize())
	if err := dev.ReadBlocks(lba, 1, block); err != nil {
		return nil, errs.Wrap(errs.MediaError, err)
	}
	t := &Table{lba: lba}
	for i := 0; i < limits.MaxFiles; i++ {
		off := i * limits.FileEntrySize
		t.entries[i] = decodeEntry(block[off : off+limits.FileEntrySize])
	}
	return t, nil
}

// Flush serializes the array into one block and writes it if dirty, per
// spec.md §4.7 "flush".
func (t *Table) Flush(dev blk.Device) error {
	if !t.dirty {
		return nil
	}
	block := make([]byte, dev.BlockSize())
	for i := 0; i < limits.MaxFiles; i++ {
		off := i * limits.FileEntrySize
		encodeEntry(t.entries[i], block[off:off+limits.FileEntrySize])
	}
	if err := dev.WriteBlocks(t.lba, 1, block); err != nil {
		return errs.Wrap(errs.MediaError, err)
	}
	t.dirty = false
	return nil
}

// Lookup performs an exact-match linear scan over in-use entries, per
// spec.md §4.7 "lookup" — name uniqueness across in-use entries is a
// caller invariant this package does not itself enforce.
func (t *Table) Lookup(name []byte) (int, Entry, bool) {
	for i := range t.entries {
		if t.entries[i].InUse() && bytesEqual(t.entries[i].NameBytes(), name) {
			return i, t.entries[i], true
		}
	}
	return 0, Entry{}, false
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Create finds the first not-in-use slot, populates it, and marks the
// table dirty. Returns ok=false when the table is full, per spec.md
// §4.7 "create".
func (t *Table) Create(name []byte, startBlock, blockCount uint64) (int, bool) {
	for i := range t.entries {
		if !t.entries[i].InUse() {
			e := &t.entries[i]
			e.setName(name)
			e.StartBlock = startBlock
			e.BlockCount = blockCount
			e.ByteLength = 0
			e.setInUse(true)
			t.dirty = true
			return i, true
		}
	}
	return 0, false
}

// Delete zeroes the entry at slot and marks the table dirty, per
// spec.md §4.7 "delete".
func (t *Table) Delete(slot int) {
	t.entries[slot] = Entry{}
	t.dirty = true
}

// Get returns a copy of the in-use entry at slot.
func (t *Table) Get(slot int) (Entry, bool) {
	if slot < 0 || slot >= limits.MaxFiles || !t.entries[slot].InUse() {
		return Entry{}, false
	}
	return t.entries[slot], true
}

// SetExtent updates an entry's extent (used by relocation) and marks
// the table dirty.
func (t *Table) SetExtent(slot int, startBlock, blockCount uint64) {
	t.entries[slot].StartBlock = startBlock
	t.entries[slot].BlockCount = blockCount
	t.dirty = true
}

// SetByteLength updates an entry's byte length (used by sync/close) and
// marks the table dirty.
func (t *Table) SetByteLength(slot int, length uint64) {
	t.entries[slot].ByteLength = length
	t.dirty = true
}

// Entries returns every currently in-use entry, for recovery
// reconciliation (package vfs calls this to rebuild the bitmap).
func (t *Table) Entries() []Entry {
	out := make([]Entry, 0, limits.MaxFiles)
	for _, e := range t.entries {
		if e.InUse() {
			out = append(out, e)
		}
	}
	return out
}
