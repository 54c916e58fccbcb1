package nvme

import (
	"encoding/binary"
	"sync"

	"hvnos/circbuf"
	"hvnos/limits"
	"hvnos/mem"
)

// SimDevice is a minimal, synchronous NVMe device used by this package's
// own tests and by higher layers that want to exercise Controller
// without real hardware — the same role the teacher kernel's
// ufs/driver.go file-backed disk plays for package fs. Every doorbell
// write is processed to completion before RingDoorbell returns, so
// there is no separate "device thread" to synchronize with.
type SimDevice struct {
	mu sync.Mutex

	alloc *mem.BitmapAllocator

	cap  CAP
	csts CSTS
	cc   CC

	aqaEntries       uint32
	asqPhys, acqPhys uint64
	asqSet, acqSet   bool
	admin            *simQueue

	io *simQueue

	ioCQPhysPending  uint64
	ioCQDepthPending int

	storage     []byte
	blockSize   uint32
	totalBlocks uint64
}

// NewSimDevice creates a device exposing a namespace of totalBlocks
// blocks of blockSize bytes each, backed by alloc for resolving the
// physical addresses the driver hands it (queue rings, PRP pages).
func NewSimDevice(alloc *mem.BitmapAllocator, blockSize uint32, totalBlocks uint64) *SimDevice {
	return &SimDevice{
		alloc:       alloc,
		cap:         CAP{MaxQueueEntries: uint16(limits.QueueDepth), DoorbellStride: 4, ReadyTimeout500ms: 10},
		blockSize:   blockSize,
		totalBlocks: totalBlocks,
		storage:     make([]byte, blockSize*uint32(totalBlocks)),
	}
}

func (d *SimDevice) ReadCAP() CAP { return d.cap }

func (d *SimDevice) ReadCSTS() CSTS {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.csts
}

func (d *SimDevice) WriteCC(cc CC) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cc = cc
	if !cc.Enable {
		d.csts = CSTS{}
		d.admin = nil
		return
	}
	// Real hardware takes the ready-timeout's worth of time to come up;
	// the simulated device has nothing to initialize, so it is ready as
	// soon as ASQ/ACQ/AQA have been programmed.
	if d.asqSet && d.acqSet {
		d.admin = newSimQueue(d.arena(), d.asqPhys, d.acqPhys, int(d.aqaEntries&0xFFFF)+1)
		d.csts.Ready = true
	}
}

func (d *SimDevice) WriteAQA(entries uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.aqaEntries = entries
}

func (d *SimDevice) WriteASQ(phys uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.asqPhys = phys
	d.asqSet = true
}

func (d *SimDevice) WriteACQ(phys uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.acqPhys = phys
	d.acqSet = true
}

// RingDoorbell dispatches on offset: 0 is the admin SQ tail, stride is
// the admin CQ head, 2*stride is the IO SQ tail, 3*stride is the IO CQ
// head. CQ-head doorbells are purely informational on this simulated
// device and are ignored beyond bookkeeping.
func (d *SimDevice) RingDoorbell(offset uint32, value uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	stride := d.cap.DoorbellStride

	switch offset {
	case 0:
		if d.admin != nil {
			d.admin.processToTail(int(value), d)
		}
	case stride * 2:
		if d.io != nil {
			d.io.processToTail(int(value), d)
		}
	default:
		// CQ-head doorbells: nothing to do.
	}
}

func (d *SimDevice) arena() *simArena { return &simArena{alloc: d.alloc} }

// simArena resolves a device-visible physical address to the host byte
// slice backing it, given the address was allocated from alloc.
type simArena struct{ alloc *mem.BitmapAllocator }

func (a *simArena) at(phys uint64, n int) []byte {
	frame := mem.Frame(phys >> mem.PageShift)
	off := int(phys & (mem.PageSize - 1))
	page := a.alloc.Bytes(frame, 1)
	return page[off : off+n]
}

// resolvePRPPages returns, in order, the host byte slices backing every
// page addressed by prp1/prp2 for a transfer of totalBytes — each slice
// aliasing the real host memory, never a copy, since callers must be
// able to write through them (a read command's destination) as well as
// read from them (a write command's source).
func (a *simArena) resolvePRPPages(prp1, prp2 uint64, totalBytes int) [][]byte {
	pages := (totalBytes + mem.PageSize - 1) / mem.PageSize

	var phys []uint64
	phys = append(phys, prp1)
	switch {
	case pages <= 1:
		// single page, phys already complete
	case pages == 2:
		phys = append(phys, prp2)
	default:
		list := a.at(prp2, (pages-1)*8)
		for i := 0; i < pages-1; i++ {
			phys = append(phys, binary.LittleEndian.Uint64(list[i*8:i*8+8]))
		}
	}

	out := make([][]byte, 0, len(phys))
	remaining := totalBytes
	for _, p := range phys {
		n := mem.PageSize
		if n > remaining {
			n = remaining
		}
		out = append(out, a.at(p, n))
		remaining -= n
	}
	return out
}

// copyPages copies n bytes between pages (a list of same-order page
// slices, as returned by resolvePRPPages) and a flat buffer, in either
// direction depending on toPages.
func copyPages(pages [][]byte, flat []byte, toPages bool) {
	off := 0
	for _, p := range pages {
		n := len(p)
		if off+n > len(flat) {
			n = len(flat) - off
		}
		if n <= 0 {
			break
		}
		if toPages {
			copy(p[:n], flat[off:off+n])
		} else {
			copy(flat[off:off+n], p[:n])
		}
		off += n
	}
}

// simQueue mirrors one side of a QueuePair from the device's point of
// view: it consumes submission entries and produces completion entries.
type simQueue struct {
	arena *simArena
	sq    *circbuf.Ring
	cq    *circbuf.Ring

	sqHead  int
	cqPhase bool
}

func newSimQueue(arena *simArena, sqPhys, cqPhys uint64, depth int) *simQueue {
	sqBytes := arena.at(sqPhys, depth*SubmissionEntrySize)
	cqBytes := arena.at(cqPhys, depth*CompletionEntrySize)
	return &simQueue{
		arena:   arena,
		sq:      circbuf.New(sqBytes, depth, SubmissionEntrySize),
		cq:      circbuf.New(cqBytes, depth, CompletionEntrySize),
		cqPhase: true,
	}
}

// processToTail executes every submitted entry between the queue's
// current notion of the SQ head and newTail, in order, posting one
// completion per command.
func (q *simQueue) processToTail(newTail int, d *SimDevice) {
	for q.sqHead != newTail {
		e := DecodeSubmissionEntry(q.sq.SlotAt(q.sqHead))
		q.sqHead = (q.sqHead + 1) % q.sq.Capacity()

		status := d.execute(e, q.arena, q == d.admin)
		comp := CompletionEntry{
			CommandID:   e.CommandID,
			StatusPhase: status<<1 | boolBit(q.cqPhase),
		}
		encodeCompletion(q.cq.TailSlot(), comp)
		if q.cq.AdvanceTail() {
			q.cqPhase = !q.cqPhase
		}
	}
}

func boolBit(b bool) uint16 {
	if b {
		return 1
	}
	return 0
}

// execute runs one command and returns its 15-bit status field (SCT in
// bits[2:0] of that field per the split StatusCodeType/StatusCode
// extract, collapsed here to 0 for success and 1<<3 (SCT 0, code 1)
// for any failure). Admin and I/O opcodes share numeric values (Create
// I/O SQ and Write are both 0x01), so admin reports which queue the
// command arrived on and selects the opcode table.
func (d *SimDevice) execute(e SubmissionEntry, arena *simArena, admin bool) uint16 {
	if admin {
		switch e.Opcode {
		case AdminOpIdentify:
			return d.execIdentify(e, arena)
		case AdminOpCreateIOCQ:
			depth := int(e.CDW10[0]>>16) + 1
			d.ioCQPhysPending = e.PRP1
			d.ioCQDepthPending = depth
			return 0
		case AdminOpCreateIOSQ:
			depth := int(e.CDW10[0]>>16) + 1
			d.io = newSimQueue(arena, e.PRP1, d.ioCQPhysPending, depth)
			if depth != d.ioCQDepthPending {
				// Mismatched SQ/CQ depth is a configuration bug upstream, not
				// something this simulated device can resolve; it still wires
				// the queue using the SQ's depth.
			}
			return 0
		default:
			return 1 << 3 // SCT=generic, code=1: invalid opcode
		}
	}
	switch e.Opcode {
	case OpRead:
		return d.execRead(e, arena)
	case OpWrite:
		return d.execWrite(e, arena)
	case OpFlush:
		return 0
	default:
		return 1 << 3 // SCT=generic, code=1: invalid opcode
	}
}

func (d *SimDevice) execIdentify(e SubmissionEntry, arena *simArena) uint16 {
	buf := arena.at(e.PRP1, mem.PageSize)
	for i := range buf {
		buf[i] = 0
	}
	switch e.CDW10[0] {
	case CNSNamespace:
		binary.LittleEndian.PutUint64(buf[0:8], d.totalBlocks)
		buf[26] = 0 // FLBAS = format 0
		lbads := uint8(0)
		for 1<<lbads < d.blockSize {
			lbads++
		}
		lbaf := uint32(lbads) << 16
		binary.LittleEndian.PutUint32(buf[128:132], lbaf)
	case CNSController:
		// Vendor/model/serial fields are not consulted by this driver;
		// a zeroed Identify Controller buffer is a valid enough reply.
	}
	return 0
}

func (d *SimDevice) execRead(e SubmissionEntry, arena *simArena) uint16 {
	lba := uint64(e.CDW10[0]) | uint64(e.CDW10[1])<<32
	nblocks := e.CDW10[2] + 1
	n := int(nblocks) * int(d.blockSize)
	off := int(lba) * int(d.blockSize)
	if off+n > len(d.storage) {
		return 1 << 3
	}
	pages := arena.resolvePRPPages(e.PRP1, e.PRP2, n)
	copyPages(pages, d.storage[off:off+n], true)
	return 0
}

func (d *SimDevice) execWrite(e SubmissionEntry, arena *simArena) uint16 {
	lba := uint64(e.CDW10[0]) | uint64(e.CDW10[1])<<32
	nblocks := e.CDW10[2] + 1
	n := int(nblocks) * int(d.blockSize)
	off := int(lba) * int(d.blockSize)
	if off+n > len(d.storage) {
		return 1 << 3
	}
	pages := arena.resolvePRPPages(e.PRP1, e.PRP2, n)
	copyPages(pages, d.storage[off:off+n], false)
	return 0
}
