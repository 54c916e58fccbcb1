package nvme

import (
	"encoding/binary"

	"hvnos/errs"
	"hvnos/kheap"
	"hvnos/mem"
)

// PRPList owns the lifetime of a PRP-list page for transfers spanning
// more than two pages. spec.md §4.5/§9 calls this "the one real
// ownership hazard": a naive implementation that leaks the PRP list on
// every >2-page transfer slowly exhausts physical memory. Binding the
// list's Release to the observed completion of the command slot it was
// built for (see Controller.doIO) ties its lifetime to the command
// in-flight window, not to whoever happened to call BuildPRP.
type PRPList struct {
	heap *kheap.Heap
	page []byte
}

// Release frees the list page. Safe to call once; callers must not hold
// a reference to the PRP list's physical address after calling it.
func (p *PRPList) Release() {
	if p == nil || p.page == nil {
		return
	}
	p.heap.Free(p.page)
	p.page = nil
}

// BuildPRP constructs the prp1/prp2 fields for buf, per spec.md §3: a
// single-page transfer uses prp1=buffer, prp2=0; two pages use
// prp1=page0, prp2=page1; more than two pages use prp1=page0,
// prp2=pointer to a PRP list page built from heap, itself listing the
// physical address of every subsequent page. The returned *PRPList is
// nil unless a list page was allocated; callers must Release it only
// after the command completes.
func BuildPRP(buf *mem.DMABuffer, heap *kheap.Heap) (prp1, prp2 uint64, list *PRPList, err error) {
	base := buf.PhysAddr()
	pages := int(buf.Frames())

	prp1 = base
	switch {
	case pages <= 1:
		return prp1, 0, nil, nil
	case pages == 2:
		return prp1, base + mem.PageSize, nil, nil
	}

	// pages > 2: build a PRP list page holding the physical address of
	// pages [1, pages), one little-endian uint64 per entry, per NVMe
	// 1.4 §4.3.
	listBuf := heap.Alloc(mem.PageSize)
	if listBuf == nil {
		return 0, 0, nil, errs.E(errs.OutOfMemory)
	}
	for i := 1; i < pages; i++ {
		off := (i - 1) * 8
		binary.LittleEndian.PutUint64(listBuf[off:off+8], base+uint64(i)*mem.PageSize)
	}
	listPhys, ok := heap.PhysAddr(listBuf)
	if !ok {
		heap.Free(listBuf)
		return 0, 0, nil, errs.E(errs.OutOfMemory)
	}
	return prp1, listPhys, &PRPList{heap: heap, page: listBuf}, nil
}
