package blkalloc

import (
	"encoding/binary"
	"log"
	"math/bits"
	"sync"

	"hvnos/blk"
	"hvnos/errs"
	"hvnos/limits"
)

// fileTableBlocks is fixed at one block: 42 entries of 96 bytes fit in a
// single 4096-byte block, per spec.md §6.
const fileTableBlocks = 1

// Extent describes one file's contiguous data-block range, in the units
// Reconcile needs (data-block index, not LBA). Package vfs builds these
// from the live file table entries.
type Extent struct {
	Start uint64
	Count uint64
}

// Allocator is the in-RAM mirror of the on-device free bitmap, described
// in spec.md §4.6, grounded on the original implementation's
// BlockAllocator (original_source's storage/block_alloc.rs).
type Allocator struct {
	mu sync.Mutex

	bitmap []uint64 // one bit per data block; 0=free, 1=used

	blockSize         uint32
	dataBlockCount    uint64
	dataStartLBA      uint64
	bitmapStartLBA    uint64
	bitmapBlockCount  uint64
	fileTableStartLBA uint64

	freeCount uint64
	dirty     bool

	// Logger receives format/load/reconcile/flush diagnostics. Callers
	// set this field right after Format/Load returns; a nil Logger
	// keeps the allocator silent, which is what every test in this
	// package relies on.
	Logger *log.Logger
}

func (a *Allocator) logf(format string, args ...any) {
	if a.Logger != nil {
		a.Logger.Printf(format, args...)
	}
}

// BlockSize reports the device block size this allocator was formatted/loaded with.
func (a *Allocator) BlockSize() uint32 { return a.blockSize }

// DataStartLBA reports the first LBA of the data region.
func (a *Allocator) DataStartLBA() uint64 { return a.dataStartLBA }

// FileTableStartLBA reports the LBA of the (single-block) file table.
func (a *Allocator) FileTableStartLBA() uint64 { return a.fileTableStartLBA }

// FreeCount reports the number of unallocated data blocks.
func (a *Allocator) FreeCount() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.freeCount
}

// ToLBA converts a data-block index to an absolute LBA.
func (a *Allocator) ToLBA(dataBlock uint64) uint64 { return a.dataStartLBA + dataBlock }

// layout computes the fixed-point bitmap/data sizing spec.md §4.6 step 1
// describes: bitmap size depends on data-block count, which itself
// depends on bitmap size, so the bitmap is sized once from the "all
// non-metadata blocks are data" approximation. That count ignores the
// bitmap's own blocks, so it is never smaller than the resulting
// dataBlocks and the bitmap always covers every data block.
func layout(totalBlocks uint64, blockSize uint32) (bitmapBlocks, dataStart, dataBlocks uint64) {
	bitsPerBlock := uint64(blockSize) * 8
	overhead := uint64(1) // superblock
	approxData := uint64(0)
	if totalBlocks > overhead+fileTableBlocks {
		approxData = totalBlocks - overhead - fileTableBlocks
	}
	bitmapBlocks = (approxData + bitsPerBlock - 1) / bitsPerBlock
	dataStart = overhead + bitmapBlocks + fileTableBlocks
	if totalBlocks > dataStart {
		dataBlocks = totalBlocks - dataStart
	}
	return
}

// Format writes a fresh superblock, a zeroed bitmap, and a zeroed file
// table to dev, then issues an NVMe Flush, per spec.md §4.6 "format".
func Format(dev blk.Device, totalBlocks uint64, blockSize uint32) (*Allocator, error) {
	bitmapBlocks, dataStart, dataBlocks := layout(totalBlocks, blockSize)

	sb := Superblock{
		Magic:               Magic,
		Version:             Version,
		BlockSize:           blockSize,
		TotalBlocks:         totalBlocks,
		BitmapStartLBA:      1,
		BitmapBlockCount:    bitmapBlocks,
		FileTableStartLBA:   1 + bitmapBlocks,
		FileTableBlockCount: fileTableBlocks,
		DataStartLBA:        dataStart,
		DataBlockCount:      dataBlocks,
	}

	sbBlock := sb.Encode()
	if err := dev.WriteBlocks(limits.SuperblockLBA, 1, sbBlock); err != nil {
		return nil, errs.Wrap(errs.MediaError, err)
	}

	zero := make([]byte, blockSize)
	for i := uint64(0); i < bitmapBlocks; i++ {
		if err := dev.WriteBlocks(1+i, 1, zero); err != nil {
			return nil, errs.Wrap(errs.MediaError, err)
		}
	}
	if err := dev.WriteBlocks(sb.FileTableStartLBA, fileTableBlocks, zero); err != nil {
		return nil, errs.Wrap(errs.MediaError, err)
	}
	if err := dev.Flush(); err != nil {
		return nil, errs.Wrap(errs.Fsync, err)
	}

	words := int((dataBlocks + 63) / 64)
	return &Allocator{
		bitmap:            make([]uint64, words),
		blockSize:         blockSize,
		dataBlockCount:    dataBlocks,
		dataStartLBA:      dataStart,
		bitmapStartLBA:    1,
		bitmapBlockCount:  bitmapBlocks,
		fileTableStartLBA: sb.FileTableStartLBA,
		freeCount:         dataBlocks,
	}, nil
}

// Load reads LBA 0, verifies magic+version, and reads the entire bitmap
// into RAM, recomputing the free counter by popcount over the valid
// region (the last word may have a partial remainder), per spec.md
// §4.6 "load".
func Load(dev blk.Device) (*Allocator, error) {
	blockSize := dev.BlockSize()
	sbBlock := make([]byte, blockSize)
	if err := dev.ReadBlocks(limits.SuperblockLBA, 1, sbBlock); err != nil {
		return nil, errs.Wrap(errs.MediaError, err)
	}
	sb := DecodeSuperblock(sbBlock)
	if !sb.IsValid() {
		return nil, errs.E(errs.MediaError)
	}

	words := int((sb.DataBlockCount + 63) / 64)
	bitmap := make([]uint64, words)

	wordsPerBlock := int(blockSize) / 8
	block := make([]byte, blockSize)
	for b := uint64(0); b < sb.BitmapBlockCount; b++ {
		if err := dev.ReadBlocks(sb.BitmapStartLBA+b, 1, block); err != nil {
			return nil, errs.Wrap(errs.MediaError, err)
		}
		wordOffset := int(b) * wordsPerBlock
		for w := 0; w < wordsPerBlock && wordOffset+w < words; w++ {
			off := w * 8
			bitmap[wordOffset+w] = binary.LittleEndian.Uint64(block[off : off+8])
		}
	}

	var freeCount uint64
	for i, word := range bitmap {
		validBits := uint64(64)
		if i == words-1 {
			if rem := sb.DataBlockCount % 64; rem != 0 {
				validBits = rem
			}
		}
		freeCount += validBits - uint64(bits.OnesCount64(word))
	}

	return &Allocator{
		bitmap:            bitmap,
		blockSize:         blockSize,
		dataBlockCount:    sb.DataBlockCount,
		dataStartLBA:      sb.DataStartLBA,
		bitmapStartLBA:    sb.BitmapStartLBA,
		bitmapBlockCount:  sb.BitmapBlockCount,
		fileTableStartLBA: sb.FileTableStartLBA,
		freeCount:         freeCount,
	}, nil
}

func (a *Allocator) bitSet(i uint64) bool {
	return a.bitmap[i/64]&(1<<(i%64)) != 0
}

func (a *Allocator) setBit(i uint64, used bool) {
	word, bit := i/64, uint64(1)<<(i%64)
	if used {
		a.bitmap[word] |= bit
	} else {
		a.bitmap[word] &^= bit
	}
}

// Alloc reserves count contiguous data blocks via a first-fit linear
// scan, returning the starting data-block index (not LBA), per spec.md
// §4.6 "alloc".
func (a *Allocator) Alloc(count uint64) (uint64, error) {
	if count == 0 {
		return 0, errs.E(errs.InvalidSize)
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.freeCount < count {
		a.logf("blkalloc: out of space (want %d blocks, %d free)", count, a.freeCount)
		return 0, errs.E(errs.Full)
	}

	start := uint64(0)
	for start+count <= a.dataBlockCount {
		found := true
		var i uint64
		for i = 0; i < count; i++ {
			if a.bitSet(start + i) {
				start = start + i + 1
				found = false
				break
			}
		}
		if found {
			for i = 0; i < count; i++ {
				a.setBit(start+i, true)
			}
			a.freeCount -= count
			a.dirty = true
			return start, nil
		}
	}
	return 0, errs.E(errs.Full)
}

// Free clears count bits starting at start. Clearing an already-clear
// bit is tolerated (not asserted) so that crash recovery replaying a
// free is idempotent, per spec.md §4.6 "free".
func (a *Allocator) Free(start, count uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := uint64(0); i < count; i++ {
		idx := start + i
		if a.bitSet(idx) {
			a.setBit(idx, false)
			a.freeCount++
		}
	}
	a.dirty = true
}

// markUsedLocked idempotently reserves a range without touching the free
// counter for bits already set — used by Reconcile to rebuild the
// bitmap from live file-table extents after a crash.
func (a *Allocator) markUsedLocked(start, count uint64) {
	for i := uint64(0); i < count; i++ {
		idx := start + i
		if !a.bitSet(idx) {
			a.setBit(idx, true)
			a.freeCount--
		}
	}
}

// Reconcile rebuilds the bitmap from scratch using the given live
// extents, clearing every bit and then marking only the ranges the file
// table still references. This implements the recovery strategy
// SPEC_FULL.md's open-question decision picks: re-derive the bitmap from
// the file table (the ground truth for every live extent) rather than
// accept leaked blocks a crash left reserved but unreferenced.
func (a *Allocator) Reconcile(extents []Extent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.bitmap {
		a.bitmap[i] = 0
	}
	a.freeCount = a.dataBlockCount
	for _, e := range extents {
		a.markUsedLocked(e.Start, e.Count)
	}
	a.dirty = true
	a.logf("blkalloc: reconciled bitmap against %d live extents, %d blocks free", len(extents), a.freeCount)
}

// Flush writes every bitmap block to dev if the in-RAM bitmap is dirty,
// packing little-endian u64 words, per spec.md §4.6 "flush". It does
// not itself issue an NVMe Flush — callers (package vfs's Sync) do that
// once after both the bitmap and the file table have been written.
func (a *Allocator) Flush(dev blk.Device) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.dirty {
		return nil
	}

	wordsPerBlock := int(a.blockSize) / 8
	block := make([]byte, a.blockSize)
	for blkIdx := uint64(0); blkIdx < a.bitmapBlockCount; blkIdx++ {
		for i := range block {
			block[i] = 0
		}
		wordOffset := int(blkIdx) * wordsPerBlock
		for w := 0; w < wordsPerBlock && wordOffset+w < len(a.bitmap); w++ {
			binary.LittleEndian.PutUint64(block[w*8:w*8+8], a.bitmap[wordOffset+w])
		}
		if err := dev.WriteBlocks(a.bitmapStartLBA+blkIdx, 1, block); err != nil {
			a.logf("blkalloc: flush failed at bitmap block %d: %v", blkIdx, err)
			return errs.Wrap(errs.MediaError, err)
		}
	}
	a.dirty = false
	return nil
}
