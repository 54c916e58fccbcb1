package nvme

import (
	"encoding/binary"
	"log"

	"hvnos/errs"
	"hvnos/kheap"
	"hvnos/limits"
	"hvnos/mem"
)

// maxPollIterations bounds the CSTS.RDY spin loop in pollReady, which
// returns errs.Timeout once it is exhausted. Completion waits are not
// bounded: there is no scheduler to block on below package nvme
// (spec.md §5: "started I/O runs to completion or hangs"), and
// QueuePair.WaitCompletion spins until the phase bit flips.
const maxPollIterations = 1 << 20

// Controller drives one NVMe namespace through the admin/IO queue pair
// state machine of spec.md §4.5: reset, admin queue bring-up, enable,
// Identify Controller, Create IO CQ/SQ, Identify Namespace, and then
// steady-state Read/Write/Flush.
type Controller struct {
	regs Registers
	heap *kheap.Heap
	alloc *mem.BitmapAllocator

	admin *QueuePair
	io    *QueuePair

	adminSQ, adminCQ *mem.DMABuffer
	ioSQ, ioCQ       *mem.DMABuffer
	identBuf         *mem.DMABuffer

	stride uint32

	BlockSize   uint32
	TotalBlocks uint64

	// Logger receives the controller's init-state-machine and
	// command-failure diagnostics. Callers set it right after
	// NewController returns; a nil Logger keeps the controller silent,
	// which is what every test in this package relies on.
	Logger *log.Logger
}

// NewController wires regs to the given physical-memory allocator and
// kernel heap. DMA buffers for the queues and the Identify scratch page
// are allocated lazily, inside Init, sized from limits.AdminQueueDepth
// and limits.QueueDepth.
func NewController(regs Registers, alloc *mem.BitmapAllocator, heap *kheap.Heap) *Controller {
	return &Controller{regs: regs, alloc: alloc, heap: heap}
}

func (c *Controller) logf(format string, args ...any) {
	if c.Logger != nil {
		c.Logger.Printf(format, args...)
	}
}

// Init runs the controller bring-up state machine. It must be called
// exactly once, before any Read/Write/Flush.
func (c *Controller) Init() error {
	cap := c.regs.ReadCAP()
	c.stride = cap.DoorbellStride
	if c.stride == 0 {
		c.stride = 4
	}

	c.logf("nvme: init: doorbell stride %d", c.stride)

	// Step 1: reset. CC.EN=0, then wait for CSTS.RDY to drop.
	c.regs.WriteCC(CC{Enable: false})
	if err := c.pollReady(false); err != nil {
		c.logf("nvme: init: reset failed: %v", err)
		return err
	}

	// Step 2: allocate and program the admin queue pair.
	asq, err := mem.NewDMABuffer(c.alloc, limits.AdminQueueDepth*SubmissionEntrySize)
	if err != nil {
		return err
	}
	acq, err := mem.NewDMABuffer(c.alloc, limits.AdminQueueDepth*CompletionEntrySize)
	if err != nil {
		return err
	}
	c.adminSQ, c.adminCQ = asq, acq

	c.admin = NewQueuePair(0, asq.Bytes(), acq.Bytes(), limits.AdminQueueDepth, 0, c.stride, c.regs.RingDoorbell)
	c.regs.WriteAQA(uint32(limits.AdminQueueDepth-1)<<16 | uint32(limits.AdminQueueDepth-1))
	c.regs.WriteASQ(asq.PhysAddr())
	c.regs.WriteACQ(acq.PhysAddr())

	// Step 3: enable, with the fixed entry sizes spec.md names:
	// IOCQES=4 (16-byte completions, log2=4), IOSQES=6 (64-byte
	// submissions, log2=6), MPS=0 (4096-byte pages), CSS=0 (NVM
	// command set).
	c.regs.WriteCC(CC{Enable: true, IOCQES: 4, IOSQES: 6, MPS: 0, CSS: 0})
	if err := c.pollReady(true); err != nil {
		c.logf("nvme: init: enable failed: %v", err)
		return err
	}

	// Scratch page for Identify responses, reused across the two calls
	// below since each is waited on to completion before the next runs.
	ident, err := mem.NewDMABuffer(c.alloc, mem.PageSize)
	if err != nil {
		return err
	}
	c.identBuf = ident

	if _, err := c.identify(CNSController, 0); err != nil {
		return err
	}

	if err := c.createIOQueues(); err != nil {
		return err
	}

	nsIdent, err := c.identify(CNSNamespace, 1)
	if err != nil {
		return err
	}
	c.parseNamespace(nsIdent)
	c.logf("nvme: init: ready, block size %d, %d blocks", c.BlockSize, c.TotalBlocks)

	return nil
}

func (c *Controller) pollReady(want bool) error {
	for i := 0; i < maxPollIterations; i++ {
		csts := c.regs.ReadCSTS()
		if csts.Fatal {
			return errs.E(errs.ControllerFatal)
		}
		if csts.Ready == want {
			return nil
		}
	}
	return errs.E(errs.Timeout)
}

// doAdmin submits e on the admin queue pair and blocks for its
// completion, translating a non-zero status into errs.CommandFailed.
func (c *Controller) doAdmin(e SubmissionEntry) (CompletionEntry, error) {
	c.admin.Submit(e)
	comp := c.admin.WaitCompletion()
	if comp.StatusCodeType() != 0 || comp.StatusCode() != 0 {
		c.logf("nvme: admin opcode %#x failed: status %#x", e.Opcode, comp.Status())
		return comp, errs.WithStatus(errs.CommandFailed, comp.Status())
	}
	return comp, nil
}

func (c *Controller) identify(cns uint32, nsid uint32) ([]byte, error) {
	e := SubmissionEntry{
		Opcode: AdminOpIdentify,
		NSID:   nsid,
		PRP1:   c.identBuf.PhysAddr(),
		CDW10:  [6]uint32{cns, 0, 0, 0, 0, 0},
	}
	if _, err := c.doAdmin(e); err != nil {
		return nil, err
	}
	return c.identBuf.Bytes(), nil
}

// createIOQueues issues Create I/O CQ (qid=1) followed by Create I/O SQ
// (qid=1, bound to that CQ), per spec.md §4.5 step 6 — CQ must exist
// before the SQ that targets it.
func (c *Controller) createIOQueues() error {
	ioCQ, err := mem.NewDMABuffer(c.alloc, limits.QueueDepth*CompletionEntrySize)
	if err != nil {
		return err
	}
	ioSQ, err := mem.NewDMABuffer(c.alloc, limits.QueueDepth*SubmissionEntrySize)
	if err != nil {
		return err
	}
	c.ioCQ, c.ioSQ = ioCQ, ioSQ

	const ioQID = uint16(1)
	qsizeMinus1 := uint32(limits.QueueDepth - 1)

	cqCmd := SubmissionEntry{
		Opcode: AdminOpCreateIOCQ,
		PRP1:   ioCQ.PhysAddr(),
		CDW10:  [6]uint32{qsizeMinus1<<16 | uint32(ioQID), 1, 0, 0, 0, 0}, // CDW11 bit0: physically contiguous
	}
	if _, err := c.doAdmin(cqCmd); err != nil {
		return err
	}

	sqCmd := SubmissionEntry{
		Opcode: AdminOpCreateIOSQ,
		PRP1:   ioSQ.PhysAddr(),
		CDW10:  [6]uint32{qsizeMinus1<<16 | uint32(ioQID), uint32(ioQID)<<16 | 1, 0, 0, 0, 0},
	}
	if _, err := c.doAdmin(sqCmd); err != nil {
		return err
	}

	doorbellBase := c.stride * 2 // admin SQ/CQ occupy doorbell slot 0; IO queue 1 occupies slot 1
	c.io = NewQueuePair(ioQID, ioSQ.Bytes(), ioCQ.Bytes(), limits.QueueDepth, doorbellBase, c.stride, c.regs.RingDoorbell)
	return nil
}

// parseNamespace reads NSZE (bytes 0:8) and the active LBA format entry
// selected by FLBAS (byte 26, low 4 bits index into the LBAF table
// starting at byte 128, 4 bytes per entry with LBADS in bits 23:16),
// per NVMe 1.4 §5.15.2.1.
func (c *Controller) parseNamespace(ident []byte) {
	nsze := binary.LittleEndian.Uint64(ident[0:8])
	flbas := ident[26] & 0xF
	lbaf := binary.LittleEndian.Uint32(ident[128+4*int(flbas) : 128+4*int(flbas)+4])
	lbads := uint8(lbaf >> 16)

	c.TotalBlocks = nsze
	c.BlockSize = 1 << lbads
}

// doIO submits a Read or Write command addressing buf via a freshly
// built PRP list, waits for completion, and releases the list — see
// PRPList's doc comment for why release is tied to this window instead
// of to BuildPRP's caller.
func (c *Controller) doIO(opcode uint8, lba uint64, buf *mem.DMABuffer) error {
	if c.BlockSize == 0 {
		return errs.E(errs.ControllerFatal)
	}
	nblocks := uint32(buf.Len()) / c.BlockSize
	if nblocks == 0 {
		return errs.E(errs.InvalidSize)
	}

	prp1, prp2, list, err := BuildPRP(buf, c.heap)
	if err != nil {
		return err
	}
	defer list.Release()

	e := SubmissionEntry{
		Opcode: opcode,
		NSID:   1,
		PRP1:   prp1,
		PRP2:   prp2,
		CDW10:  [6]uint32{uint32(lba), uint32(lba >> 32), nblocks - 1, 0, 0, 0},
	}
	c.io.Submit(e)
	comp := c.io.WaitCompletion()
	if comp.StatusCodeType() != 0 || comp.StatusCode() != 0 {
		c.logf("nvme: io opcode %#x at lba %d failed: status %#x", opcode, lba, comp.Status())
		return errs.WithStatus(errs.MediaError, comp.Status())
	}
	return nil
}

// ReadBlocks reads len(buf.Bytes())/BlockSize blocks starting at lba
// into buf, invalidating buf's cache line after completion so the CPU
// observes what the device wrote.
func (c *Controller) ReadBlocks(lba uint64, buf *mem.DMABuffer) error {
	if err := c.doIO(OpRead, lba, buf); err != nil {
		return err
	}
	buf.InvalidateCache()
	return nil
}

// WriteBlocks flushes buf's cache line before submission, so the device
// reads bytes the CPU actually wrote, then writes len(buf.Bytes())/BlockSize
// blocks starting at lba.
func (c *Controller) WriteBlocks(lba uint64, buf *mem.DMABuffer) error {
	buf.FlushCache()
	return c.doIO(OpWrite, lba, buf)
}

// Flush issues the NVMe Flush command, the sole durability barrier
// spec.md recognizes: no write is crash-safe until Flush returns.
func (c *Controller) Flush() error {
	e := SubmissionEntry{Opcode: OpFlush, NSID: 1}
	c.io.Submit(e)
	comp := c.io.WaitCompletion()
	if comp.StatusCodeType() != 0 || comp.StatusCode() != 0 {
		c.logf("nvme: flush failed: status %#x", comp.Status())
		return errs.WithStatus(errs.Fsync, comp.Status())
	}
	return nil
}
