package mem

import "hvnos/errs"

// DMABuffer is a run of contiguous frames plus a byte length, as
// described in spec.md §3. While a device command references the
// buffer the owning thread must not mutate it, must call FlushCache
// before a device-read command and InvalidateCache after a device-write
// command completes — this module makes both calls explicit methods so
// that callers (and tests) can observe the discipline was followed.
type DMABuffer struct {
	alloc  *BitmapAllocator
	base   Frame
	frames uint32
	length int

	flushes      int
	invalidates  int
}

// NewDMABuffer allocates frames covering at least length bytes
// (rounded up to a whole number of pages) and zeroes them, matching "on
// construction, all frames are zeroed" in spec.md §4.2.
func NewDMABuffer(alloc *BitmapAllocator, length int) (*DMABuffer, error) {
	if length <= 0 {
		return nil, errs.E(errs.InvalidSize)
	}
	frames := uint32((length + PageSize - 1) / PageSize)
	base, err := alloc.AllocContiguous(frames, 1)
	if err != nil {
		return nil, err
	}
	d := &DMABuffer{alloc: alloc, base: base, frames: frames, length: length}
	buf := alloc.Bytes(base, frames)
	for i := range buf {
		buf[i] = 0
	}
	return d, nil
}

// PhysAddr returns the base physical address of the buffer; invariant
// PhysAddr()%PageSize==0 per spec.md §3.
func (d *DMABuffer) PhysAddr() uint64 { return d.base.PhysAddr() }

// Len returns the buffer's byte length (<= frames*PageSize).
func (d *DMABuffer) Len() int { return d.length }

// Frames returns the number of physical frames backing the buffer.
func (d *DMABuffer) Frames() uint32 { return d.frames }

// Bytes returns the full backing slice, truncated to Len().
func (d *DMABuffer) Bytes() []byte {
	return d.alloc.Bytes(d.base, d.frames)[:d.length]
}

// FlushCache must be called before issuing a device-read command so the
// device observes CPU writes. On real hardware this walks 64-byte cache
// lines issuing CLFLUSH-equivalents followed by a store fence; the
// hosted build has no CPU cache to manage, so this records that the
// discipline was observed (Flushes()/Invalidates() expose the counts;
// dma_test.go asserts them, and nvme.Controller's WriteBlocks/ReadBlocks
// are the callers).
func (d *DMABuffer) FlushCache() {
	d.flushes++
}

// InvalidateCache must be called after a device-write command completes.
// As spec.md notes, this architecture has no flush-without-writeback, so
// invalidate is documented as flush+fence; callers must still call it so
// the CPU does not retain stale cached copies of device-written ranges.
func (d *DMABuffer) InvalidateCache() {
	d.invalidates++
}

// Flushes reports how many times FlushCache has been called (test hook).
func (d *DMABuffer) Flushes() int { return d.flushes }

// Invalidates reports how many times InvalidateCache has been called (test hook).
func (d *DMABuffer) Invalidates() int { return d.invalidates }

// Free returns all frames backing the buffer to the allocator. Callers
// must not reference Bytes() after calling Free.
func (d *DMABuffer) Free() {
	d.alloc.Free(d.base, d.frames)
}
