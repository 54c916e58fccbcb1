// Package vfs implements the SQLite VFS adapter of spec.md §4.8 — the
// hardest layer of the core, reconciling SQLite's byte-granular,
// offset-indexed, growth-requiring file abstraction with a block
// device that only understands whole 4 KiB blocks. Grounded on the
// original implementation's HeavenVfs (original_source's
// vfs/sqlite_vfs.rs) and its C-FFI bridge (sqlite/vfs_bridge.rs);
// package sqlitevfs adapts this type to the psanford/sqlite3vfs
// interface the way vfs_bridge.rs adapts it to sqlite3_vfs.
package vfs

import (
	"log"
	"sync"

	"hvnos/blk"
	"hvnos/blkalloc"
	"hvnos/errs"
	"hvnos/filetable"
	"hvnos/limits"
	"hvnos/platform"
)

// OpenFlag mirrors the one SQLite open flag this VFS cares about,
// spelled independently of any particular SQLite binding's constant
// values so package vfs has no dependency on package sqlitevfs.
type OpenFlag uint32

const OpenCreate OpenFlag = 1

// Handle is a consistent snapshot of one open file, per spec.md §3: the
// handle's ByteLength is updated by writes, StartLBA/BlockCount by
// relocation, and Close writes ByteLength back to the file table entry.
type Handle struct {
	FileTableIndex int
	StartLBA       uint64
	BlockCount     uint64
	ByteLength     uint64
	BlockSize      uint32
}

// FS is the VFS adapter: one block device, one block allocator, one
// file table, one WAL shared-memory region, and the platform
// collaborators SQLite's clock/randomness/sleep hooks need. Locks nest
// in the order device (devMu) → file table (tableMu) → allocator. The
// allocator's mutex is internal to blkalloc.Allocator, held only for
// the span of one of its method calls and never while devMu or tableMu
// is being acquired, so it is always innermost; Open and Sync call into
// the allocator while holding tableMu. The allocator is not locked
// ahead of the file table.
type FS struct {
	devMu sync.Mutex
	dev   blk.Device

	alloc *blkalloc.Allocator // internally synchronized

	tableMu sync.Mutex
	table   *filetable.Table

	shm *SharedMemory

	Clock platform.Clock
	RNG   platform.RNG

	// Logger receives relocation and sync-barrier diagnostics. Callers
	// set this field right after New returns; a nil Logger keeps the
	// adapter silent, which is what every test in this package relies
	// on.
	Logger *log.Logger
}

// New wires a ready (formatted-or-loaded) allocator and file table to
// dev. Callers are expected to have called blkalloc.Load/Format and
// filetable.Load/New, and — after a Load following an unclean shutdown
// — Reconcile, before constructing the FS (cmd/heavenfsd does this).
func New(dev blk.Device, alloc *blkalloc.Allocator, table *filetable.Table, clock platform.Clock, rng platform.RNG) *FS {
	return &FS{dev: dev, alloc: alloc, table: table, shm: newSharedMemory(), Clock: clock, RNG: rng}
}

func (f *FS) logf(format string, args ...any) {
	if f.Logger != nil {
		f.Logger.Printf(format, args...)
	}
}

// Open looks up name in the file table. With OpenCreate set and no
// matching entry, it allocates limits.InitialAllocBlocks contiguous
// blocks and creates a fresh entry; without OpenCreate on an absent
// name it returns errs.CantOpen. tableMu is held for the whole call,
// and a full file table is reported as errs.Full before any blocks are
// reserved.
func (f *FS) Open(name []byte, flags OpenFlag) (Handle, error) {
	f.tableMu.Lock()
	defer f.tableMu.Unlock()

	if idx, entry, ok := f.table.Lookup(name); ok {
		return Handle{
			FileTableIndex: idx,
			StartLBA:       f.alloc.ToLBA(entry.StartBlock),
			BlockCount:     entry.BlockCount,
			ByteLength:     entry.ByteLength,
			BlockSize:      f.alloc.BlockSize(),
		}, nil
	}

	if flags&OpenCreate == 0 {
		return Handle{}, errs.E(errs.CantOpen)
	}

	if len(f.table.Entries()) >= limits.MaxFiles {
		return Handle{}, errs.E(errs.Full)
	}

	startBlock, err := f.alloc.Alloc(limits.InitialAllocBlocks)
	if err != nil {
		return Handle{}, err
	}

	idx, ok := f.table.Create(name, startBlock, limits.InitialAllocBlocks)
	if !ok {
		// The table had no free slot. The check above makes this
		// unreachable while tableMu is held; the rollback keeps the
		// allocator consistent regardless.
		f.alloc.Free(startBlock, limits.InitialAllocBlocks)
		return Handle{}, errs.E(errs.Full)
	}

	return Handle{
		FileTableIndex: idx,
		StartLBA:       f.alloc.ToLBA(startBlock),
		BlockCount:     limits.InitialAllocBlocks,
		ByteLength:     0,
		BlockSize:      f.alloc.BlockSize(),
	}, nil
}

// Close writes the handle's cached ByteLength back to the file table
// entry, per spec.md §3's open-handle state machine.
func (f *FS) Close(h Handle) error {
	f.tableMu.Lock()
	defer f.tableMu.Unlock()
	f.table.SetByteLength(h.FileTableIndex, h.ByteLength)
	return nil
}

// Read clamps to the handle's ByteLength, DMA-reads the covering
// extent, and copies the requested window out, per spec.md §4.8
// "Read". Past EOF it zero-fills buf and returns errs.ShortRead; a
// partial read past EOF also zero-fills the tail and returns
// errs.ShortRead. A device read failure zero-fills buf and returns
// errs.MediaError.
func (f *FS) Read(h Handle, buf []byte, offset uint64) error {
	if offset >= h.ByteLength {
		zero(buf)
		return errs.E(errs.ShortRead)
	}

	available := h.ByteLength - offset
	toRead := uint64(len(buf))
	short := toRead > available
	if short {
		toRead = available
	}

	bs := uint64(h.BlockSize)
	firstBlock := offset / bs
	lastBlock := (offset + toRead - 1) / bs
	blockCount := lastBlock - firstBlock + 1
	if firstBlock+blockCount > h.BlockCount {
		zero(buf)
		return errs.E(errs.ShortRead)
	}

	f.devMu.Lock()
	defer f.devMu.Unlock()

	tmp := make([]byte, blockCount*bs)
	if err := f.dev.ReadBlocks(h.StartLBA+firstBlock, uint32(blockCount), tmp); err != nil {
		zero(buf)
		return errs.Wrap(errs.MediaError, err)
	}

	windowStart := offset % bs
	copy(buf[:toRead], tmp[windowStart:windowStart+toRead])
	if short {
		zero(buf[toRead:])
		return errs.E(errs.ShortRead)
	}
	return nil
}

// Write implements spec.md §4.8 "Write": grow-by-relocation when the
// new span exceeds the current extent, then either an aligned direct
// write or an unaligned read-modify-write, finally bumping the
// handle's ByteLength if the write extended EOF. The file table's
// ByteLength is deliberately not touched here — that is deferred to
// Sync/Close so the write path costs O(1) metadata I/O.
func (f *FS) Write(h *Handle, data []byte, offset uint64) error {
	bs := uint64(h.BlockSize)
	amount := uint64(len(data))
	if amount == 0 {
		return nil
	}

	firstBlock := offset / bs
	lastBlock := (offset + amount - 1) / bs
	blockCount := lastBlock - firstBlock + 1
	need := firstBlock + blockCount

	if need > h.BlockCount {
		if err := f.grow(h, need); err != nil {
			return err
		}
	}

	f.devMu.Lock()
	defer f.devMu.Unlock()

	startLBA := h.StartLBA + firstBlock
	windowStart := offset % bs
	aligned := windowStart == 0 && amount%bs == 0

	span := make([]byte, blockCount*bs)
	if aligned {
		copy(span, data)
	} else {
		if err := f.dev.ReadBlocks(startLBA, uint32(blockCount), span); err != nil {
			return errs.Wrap(errs.MediaError, err)
		}
		copy(span[windowStart:windowStart+amount], data)
	}
	if err := f.dev.WriteBlocks(startLBA, uint32(blockCount), span); err != nil {
		return errs.Wrap(errs.IOErrWrite, err)
	}

	if end := offset + amount; end > h.ByteLength {
		h.ByteLength = end
	}
	return nil
}

// grow relocates the file to a fresh need-block extent, per spec.md
// §4.8's five-step crash-safe ordering:
//  1. allocate the new extent
//  2. copy the old blocks into it
//  3. NVMe Flush — the new copy is now durable
//  4. update the handle, then the file-table entry
//  5. only now free the old extent
//
// A device error mid-copy frees the new extent and returns
// errs.MediaError (read failed), errs.IOErrWrite (write failed) or
// errs.Fsync (flush failed), leaving the old extent untouched and
// still the file table's extent of record.
func (f *FS) grow(h *Handle, need uint64) error {
	newStart, err := f.alloc.Alloc(need)
	if err != nil {
		f.logf("vfs: grow: alloc of %d blocks failed for file %d", need, h.FileTableIndex)
		return errs.E(errs.Full)
	}

	f.devMu.Lock()
	oldLBA := h.StartLBA
	newLBA := f.alloc.ToLBA(newStart)
	bs := uint64(h.BlockSize)

	f.logf("vfs: grow: relocating file %d from %d blocks at LBA %d to %d blocks at LBA %d",
		h.FileTableIndex, h.BlockCount, oldLBA, need, newLBA)

	block := make([]byte, bs)
	for i := uint64(0); i < h.BlockCount; i++ {
		if err := f.dev.ReadBlocks(oldLBA+i, 1, block); err != nil {
			f.devMu.Unlock()
			f.alloc.Free(newStart, need)
			return errs.Wrap(errs.MediaError, err)
		}
		if err := f.dev.WriteBlocks(newLBA+i, 1, block); err != nil {
			f.devMu.Unlock()
			f.alloc.Free(newStart, need)
			return errs.Wrap(errs.IOErrWrite, err)
		}
	}
	if err := f.dev.Flush(); err != nil {
		f.devMu.Unlock()
		f.alloc.Free(newStart, need)
		return errs.Wrap(errs.Fsync, err)
	}
	f.devMu.Unlock()

	oldStart := oldLBA - f.alloc.DataStartLBA()
	oldCount := h.BlockCount

	h.StartLBA = newLBA
	h.BlockCount = need

	f.tableMu.Lock()
	f.table.SetExtent(h.FileTableIndex, newStart, need)
	f.tableMu.Unlock()

	// Only now is it safe to free the old extent: the file table
	// already points at the new one.
	f.alloc.Free(oldStart, oldCount)
	return nil
}

// Sync is the durability barrier of spec.md §4.8: copy the handle's
// ByteLength into the file table entry, flush the bitmap, flush the
// file table, then issue the NVMe Flush — in that order, through the
// same device so the Flush covers every preceding write. This is the
// only path SQLite's journal/WAL protocol may rely on for durability.
func (f *FS) Sync(h Handle) error {
	f.devMu.Lock()
	defer f.devMu.Unlock()
	f.tableMu.Lock()
	f.table.SetByteLength(h.FileTableIndex, h.ByteLength)
	if err := f.alloc.Flush(f.dev); err != nil {
		f.tableMu.Unlock()
		f.logf("vfs: sync: bitmap flush failed: %v", err)
		return errs.E(errs.Fsync)
	}
	if err := f.table.Flush(f.dev); err != nil {
		f.tableMu.Unlock()
		f.logf("vfs: sync: file table flush failed: %v", err)
		return errs.E(errs.Fsync)
	}
	f.tableMu.Unlock()

	if err := f.dev.Flush(); err != nil {
		f.logf("vfs: sync: device flush failed: %v", err)
		return errs.E(errs.Fsync)
	}
	return nil
}

// Truncate is a no-op when growing (matching SQLite's own semantics);
// when shrinking it frees the tail blocks back to the allocator and
// shrinks the file table entry's block count, per spec.md §4.8
// "Truncate".
func (f *FS) Truncate(h *Handle, newSize uint64) error {
	if newSize >= h.ByteLength {
		return nil
	}
	h.ByteLength = newSize

	bs := uint64(h.BlockSize)
	needed := (newSize + bs - 1) / bs
	if needed == 0 {
		needed = 1
	}
	if needed < h.BlockCount {
		freedCount := h.BlockCount - needed

		f.tableMu.Lock()
		entry, _ := f.table.Get(h.FileTableIndex)
		tailStart := entry.StartBlock + needed
		f.table.SetExtent(h.FileTableIndex, entry.StartBlock, needed)
		f.table.SetByteLength(h.FileTableIndex, newSize)
		f.tableMu.Unlock()

		f.alloc.Free(tailStart, freedCount)
		h.BlockCount = needed
	}
	return nil
}

// Delete removes name's file table entry and frees its extent. A
// missing name is not an error, matching SQLite's expectation that
// deleting an absent file succeeds (spec.md §4.8 "Delete").
func (f *FS) Delete(name []byte) error {
	f.tableMu.Lock()
	idx, entry, ok := f.table.Lookup(name)
	if !ok {
		f.tableMu.Unlock()
		return nil
	}
	f.table.Delete(idx)
	f.tableMu.Unlock()

	f.alloc.Free(entry.StartBlock, entry.BlockCount)
	return nil
}

// Access reports whether name has a file table entry.
func (f *FS) Access(name []byte) bool {
	f.tableMu.Lock()
	defer f.tableMu.Unlock()
	_, _, ok := f.table.Lookup(name)
	return ok
}

// Extents returns the live (start-block, block-count) pairs of every
// in-use file, for blkalloc.Allocator.Reconcile to rebuild the bitmap
// from after an unclean shutdown (SPEC_FULL.md §9's decided recovery
// strategy).
func (f *FS) Extents() []blkalloc.Extent {
	f.tableMu.Lock()
	defer f.tableMu.Unlock()
	entries := f.table.Entries()
	out := make([]blkalloc.Extent, len(entries))
	for i, e := range entries {
		out[i] = blkalloc.Extent{Start: e.StartBlock, Count: e.BlockCount}
	}
	return out
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
