// Package kheap implements the slab-class kernel heap described in
// spec.md §4.3, adapted from the teacher kernel's header-prefixed
// allocation idiom (biscuit/src/util's Readn/Writen treat a byte slice's
// front bytes as a typed field the same way a slab header does here) and
// used by package nvme to back PRP-list pages whose lifetime must be
// tied to a command slot, not to the stack frame that built them.
package kheap

import (
	"unsafe"

	"hvnos/mem"
)

// classes are the slab size classes in bytes, per spec.md §4.3.
var classes = [...]int{8, 16, 32, 64, 128, 256, 512, 1024, 2048, 4096}

// header precedes every allocation, carrying just enough information for
// Free to locate the object's home without the caller supplying a size —
// "free(p) needs no size argument" is the spec's explicit requirement,
// essential because this heap backs a C-allocator-shaped contract.
type header struct {
	size  uint32
	class int8 // index into classes, or -1 for a large (page-backed) allocation
}

const headerSize = 16 // matches spec.md's 16-byte header, word-aligned

type slabClass struct {
	objSize int
	free    []unsafe_ptr // free list of object starts (header included)
}

// unsafe_ptr is a plain byte offset into a page's backing slice; kept as
// a named type instead of bare int so the free-list's intent reads
// clearly at call sites.
type unsafe_ptr = int

type page struct {
	dma *mem.DMABuffer
}

// Heap is the kernel slab allocator. One mutex guards the entire
// free-list array, exactly as spec.md §4.3 prescribes.
type Heap struct {
	alloc  *mem.BitmapAllocator
	mu     chan struct{} // binary semaphore; see lock()/unlock() below
	slabs  [len(classes)]slabClass
	pages  []*page
	allocs map[int]*tracked // offset within some page's bytes -> allocation record, for Free/Realloc
}

// tracked records enough about a live allocation to implement Realloc's
// shrink-in-place fast path without re-deriving it from the header alone.
type tracked struct {
	buf       []byte // header+payload, pointing into a page's backing bytes
	class     int    // index into classes, or -1 for large
	userSize  int    // size requested by the caller (excludes header)
}

// New creates a heap drawing whole-page refills from alloc.
func New(alloc *mem.BitmapAllocator) *Heap {
	h := &Heap{alloc: alloc, mu: make(chan struct{}, 1), allocs: make(map[int]*tracked)}
	h.mu <- struct{}{}
	for i, c := range classes {
		h.slabs[i] = slabClass{objSize: c}
	}
	return h
}

func (h *Heap) lock()   { <-h.mu }
func (h *Heap) unlock() { h.mu <- struct{}{} }

func classFor(size int) int {
	for i, c := range classes {
		if size <= c {
			return i
		}
	}
	return -1
}

// Alloc returns size bytes of zeroed memory, or nil on exhaustion.
func (h *Heap) Alloc(size int) []byte {
	if size <= 0 {
		return nil
	}

	h.lock()
	defer h.unlock()

	cls := classFor(size)
	if cls < 0 {
		return h.allocLargeLocked(size)
	}
	return h.allocSlabLocked(cls, size)
}

// allocSlabLocked hands out an object from the given class's free list,
// refilling from a fresh page (carving floor(4096/(class+16)) objects,
// as spec.md prescribes) when the free list is empty.
func (h *Heap) allocSlabLocked(cls, userSize int) []byte {
	sc := &h.slabs[cls]
	if len(sc.free) == 0 {
		h.refillLocked(cls)
		if len(sc.free) == 0 {
			return nil
		}
	}
	off := sc.free[len(sc.free)-1]
	sc.free = sc.free[:len(sc.free)-1]

	buf := h.bufAt(off, headerSize+sc.objSize)
	putHeader(buf, header{size: uint32(sc.objSize), class: int8(cls)})
	h.allocs[off] = &tracked{buf: buf, class: cls, userSize: userSize}
	payload := buf[headerSize:]
	for i := range payload {
		payload[i] = 0
	}
	return payload[:userSize]
}

func (h *Heap) refillLocked(cls int) {
	dma, err := mem.NewDMABuffer(h.alloc, mem.PageSize)
	if err != nil {
		return
	}
	p := &page{dma: dma}
	h.pages = append(h.pages, p)

	objTotal := headerSize + h.slabs[cls].objSize
	count := mem.PageSize / objTotal
	base := h.pageIndex(p) << 20 // encode page index into the high bits of the offset key
	for i := 0; i < count; i++ {
		h.slabs[cls].free = append(h.slabs[cls].free, base+i*objTotal)
	}
}

func (h *Heap) pageIndex(p *page) int {
	for i, q := range h.pages {
		if q == p {
			return i
		}
	}
	panic("kheap: page not tracked")
}

func (h *Heap) bufAt(encodedOff, n int) []byte {
	pageIdx := encodedOff >> 20
	off := encodedOff & (1<<20 - 1)
	return h.pages[pageIdx].dma.Bytes()[off : off+n]
}

// allocLargeLocked bypasses slabs for allocations above 4096 bytes,
// allocating ceil((size+headerSize)/PageSize) contiguous pages and
// tagging the header as large (class == -1), per spec.md.
func (h *Heap) allocLargeLocked(size int) []byte {
	total := size + headerSize
	dma, err := mem.NewDMABuffer(h.alloc, total)
	if err != nil {
		return nil
	}
	p := &page{dma: dma}
	h.pages = append(h.pages, p)
	buf := dma.Bytes()
	putHeader(buf, header{size: uint32(size), class: -1})
	off := h.pageIndex(p) << 20
	h.allocs[off] = &tracked{buf: buf, class: -1, userSize: size}
	payload := buf[headerSize:]
	for i := range payload {
		payload[i] = 0
	}
	return payload[:size]
}

// Free releases an allocation previously returned by Alloc or Realloc.
// It finds the allocation record whose payload is p, then reads the
// size class from the header preceding p — no size argument is needed,
// matching spec.md's C-allocator-shaped contract.
func (h *Heap) Free(p []byte) {
	if p == nil {
		return
	}
	h.lock()
	defer h.unlock()

	for off, t := range h.allocs {
		if sameBacking(t.buf[headerSize:], p) {
			hdr := readHeader(t.buf)
			if hdr.class >= 0 {
				sc := &h.slabs[hdr.class]
				sc.free = append(sc.free, off)
			} else {
				t.dmaOf(h).Free()
			}
			delete(h.allocs, off)
			return
		}
	}
}

func (t *tracked) dmaOf(h *Heap) *mem.DMABuffer {
	for _, p := range h.pages {
		if sameBacking(p.dma.Bytes(), t.buf) {
			return p.dma
		}
	}
	panic("kheap: large allocation missing backing page")
}

// PhysAddr returns the device-visible physical address backing p, which
// must be a slice previously returned by Alloc/Realloc (or a sub-slice
// of one). Used by package nvme to address PRP-list pages carved from
// this heap rather than allocated as a standalone DMA buffer per
// command.
func (h *Heap) PhysAddr(p []byte) (uint64, bool) {
	if len(p) == 0 {
		return 0, false
	}
	h.lock()
	defer h.unlock()
	pAddr := uintptr(unsafe.Pointer(&p[0]))
	for _, pg := range h.pages {
		base := pg.dma.Bytes()
		if len(base) == 0 {
			continue
		}
		baseAddr := uintptr(unsafe.Pointer(&base[0]))
		if pAddr >= baseAddr && pAddr+uintptr(len(p)) <= baseAddr+uintptr(len(base)) {
			return pg.dma.PhysAddr() + uint64(pAddr-baseAddr), true
		}
	}
	return 0, false
}

func sameBacking(a, b []byte) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	return &a[0] == &b[0]
}

// Realloc resizes p to newSize, shrinking in place when newSize still
// fits the object's current slab class, and falling back to
// alloc/copy/free otherwise — exactly the two paths spec.md names.
func (h *Heap) Realloc(p []byte, newSize int) []byte {
	if p == nil {
		return h.Alloc(newSize)
	}
	if newSize <= 0 {
		h.Free(p)
		return nil
	}

	h.lock()
	var cur *tracked
	for _, t := range h.allocs {
		if sameBacking(t.buf[headerSize:], p) {
			cur = t
			break
		}
	}
	h.unlock()
	if cur == nil {
		return h.Alloc(newSize)
	}

	if cur.class >= 0 && newSize <= classes[cur.class] {
		cur.userSize = newSize
		return cur.buf[headerSize : headerSize+newSize]
	}

	fresh := h.Alloc(newSize)
	if fresh == nil {
		return nil
	}
	n := cur.userSize
	if newSize < n {
		n = newSize
	}
	copy(fresh, p[:n])
	h.Free(p)
	return fresh
}

func putHeader(buf []byte, hd header) {
	buf[0] = byte(hd.size)
	buf[1] = byte(hd.size >> 8)
	buf[2] = byte(hd.size >> 16)
	buf[3] = byte(hd.size >> 24)
	buf[4] = byte(hd.class)
}

func readHeader(buf []byte) header {
	size := uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24
	return header{size: size, class: int8(buf[4])}
}
