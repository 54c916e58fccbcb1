package nvme

// CAP mirrors the fields of the NVMe Controller Capabilities register
// this driver needs: the maximum queue depth, the doorbell stride, and
// the ready-timeout, per spec.md §4.5 step 1.
type CAP struct {
	MaxQueueEntries  uint16 // CAP.MQES + 1
	DoorbellStride   uint32 // 4 << CAP.DSTRD, in bytes
	ReadyTimeout500ms uint8 // CAP.TO
}

// CSTS mirrors the Controller Status register fields this driver polls.
type CSTS struct {
	Ready bool // CSTS.RDY
	Fatal bool // CSTS.CFS
}

// CC mirrors the Controller Configuration register fields this driver
// writes during the init state machine (spec.md §4.5 step 4).
type CC struct {
	Enable bool
	IOCQES uint8
	IOSQES uint8
	MPS    uint8
	CSS    uint8
}

// Registers abstracts the BAR0 register block (and ties doorbell writes
// to the queue pairs built on top of it). A real bring-up implementation
// maps BAR0 from the PCI capability the out-of-scope enumeration layer
// hands the driver; the hosted/test implementation in this module is an
// in-memory register file plus a simulated media backing store (see
// sim.go), in the same spirit as the teacher kernel's Disk_i
// interface standing between fs and whatever actually stores bytes.
type Registers interface {
	ReadCAP() CAP
	ReadCSTS() CSTS
	WriteCC(CC)
	WriteAQA(entries uint32)
	WriteASQ(phys uint64)
	WriteACQ(phys uint64)
	RingDoorbell(offsetBytes uint32, value uint32)
}
