// Package nvme drives NVMe submission/completion queues, builds PRP
// scatter lists, and issues the Flush durability barrier, per spec.md
// §4.4/§4.5/§6. The queue-pair ring mechanics are adapted from the
// teacher kernel's Circbuf_t head/tail bookkeeping (package circbuf);
// the submission/completion entry layouts follow the field-for-field
// encoding dswarbrick/go-nvme uses for nvmeIdentNamespace/nvmeSMARTLog.
// Identify data has no struct here; Controller.parseNamespace reads it
// by byte offset.
package nvme

import "encoding/binary"

// SubmissionEntrySize is the fixed size in bytes of one submission queue
// entry, per NVMe 1.4 §4.2 and spec.md §3/§6.
const SubmissionEntrySize = 64

// CompletionEntrySize is the fixed size in bytes of one completion queue
// entry, per NVMe 1.4 §4.6 and spec.md §3/§6.
const CompletionEntrySize = 16

// Opcodes used by this driver, per spec.md §6.
const (
	OpFlush uint8 = 0x00
	OpWrite uint8 = 0x01
	OpRead  uint8 = 0x02

	AdminOpCreateIOSQ uint8 = 0x01
	AdminOpCreateIOCQ uint8 = 0x05
	AdminOpIdentify   uint8 = 0x06
)

// CNS values for the Identify admin command.
const (
	CNSNamespace  uint32 = 0x00
	CNSController uint32 = 0x01
)

// SubmissionEntry is a 64-byte command descriptor: opcode, namespace id,
// two PRP fields, six command-specific dwords, and a 16-bit command id
// stamped into bits 31:16 of dword 0 at submit time (spec.md §3).
type SubmissionEntry struct {
	Opcode    uint8
	Flags     uint8
	CommandID uint16
	NSID      uint32
	_rsvd2    uint64
	MPTR      uint64
	PRP1      uint64
	PRP2      uint64
	CDW10     [6]uint32
}

// Encode serializes the entry into its 64-byte wire form.
func (e *SubmissionEntry) Encode(buf []byte) {
	if len(buf) != SubmissionEntrySize {
		panic("nvme: submission entry buffer must be 64 bytes")
	}
	dw0 := uint32(e.Opcode) | uint32(e.Flags)<<8 | uint32(e.CommandID)<<16
	binary.LittleEndian.PutUint32(buf[0:4], dw0)
	binary.LittleEndian.PutUint32(buf[4:8], e.NSID)
	binary.LittleEndian.PutUint64(buf[8:16], e._rsvd2)
	binary.LittleEndian.PutUint64(buf[16:24], e.MPTR)
	binary.LittleEndian.PutUint64(buf[24:32], e.PRP1)
	binary.LittleEndian.PutUint64(buf[32:40], e.PRP2)
	for i, v := range e.CDW10 {
		off := 40 + i*4
		binary.LittleEndian.PutUint32(buf[off:off+4], v)
	}
}

// DecodeSubmissionEntry parses a 64-byte wire entry.
func DecodeSubmissionEntry(buf []byte) SubmissionEntry {
	if len(buf) != SubmissionEntrySize {
		panic("nvme: submission entry buffer must be 64 bytes")
	}
	dw0 := binary.LittleEndian.Uint32(buf[0:4])
	e := SubmissionEntry{
		Opcode:    uint8(dw0),
		Flags:     uint8(dw0 >> 8),
		CommandID: uint16(dw0 >> 16),
		NSID:      binary.LittleEndian.Uint32(buf[4:8]),
		MPTR:      binary.LittleEndian.Uint64(buf[16:24]),
		PRP1:      binary.LittleEndian.Uint64(buf[24:32]),
		PRP2:      binary.LittleEndian.Uint64(buf[32:40]),
	}
	for i := range e.CDW10 {
		off := 40 + i*4
		e.CDW10[i] = binary.LittleEndian.Uint32(buf[off : off+4])
	}
	return e
}

// CompletionEntry is a 16-byte completion: command-specific result,
// queue head pointer, submission queue id, command id, and a status
// field whose bit 0 is the phase bit and whose upper 15 bits are the
// status-code-type/code pair, per spec.md §3.
type CompletionEntry struct {
	DW0         uint32
	SQHead      uint16
	SQID        uint16
	CommandID   uint16
	StatusPhase uint16 // bit0 = phase, bits[15:1] = 15-bit status
}

func (c CompletionEntry) Phase() bool    { return c.StatusPhase&1 != 0 }
func (c CompletionEntry) Status() uint16 { return c.StatusPhase >> 1 }

// StatusCodeType extracts the status-code-type (bits 2:0 of the 15-bit
// status field) and raw code, matching spec.md §6's SCT/code split.
func (c CompletionEntry) StatusCodeType() uint8 { return uint8(c.Status() & 0x7) }
func (c CompletionEntry) StatusCode() uint16    { return c.Status() >> 3 }

func encodeCompletion(buf []byte, c CompletionEntry) {
	if len(buf) != CompletionEntrySize {
		panic("nvme: completion entry buffer must be 16 bytes")
	}
	binary.LittleEndian.PutUint32(buf[0:4], c.DW0)
	binary.LittleEndian.PutUint32(buf[4:8], 0)
	binary.LittleEndian.PutUint16(buf[8:10], c.SQHead)
	binary.LittleEndian.PutUint16(buf[10:12], c.SQID)
	binary.LittleEndian.PutUint16(buf[12:14], c.CommandID)
	binary.LittleEndian.PutUint16(buf[14:16], c.StatusPhase)
}

func decodeCompletion(buf []byte) CompletionEntry {
	if len(buf) != CompletionEntrySize {
		panic("nvme: completion entry buffer must be 16 bytes")
	}
	return CompletionEntry{
		DW0:         binary.LittleEndian.Uint32(buf[0:4]),
		SQHead:      binary.LittleEndian.Uint16(buf[8:10]),
		SQID:        binary.LittleEndian.Uint16(buf[10:12]),
		CommandID:   binary.LittleEndian.Uint16(buf[12:14]),
		StatusPhase: binary.LittleEndian.Uint16(buf[14:16]),
	}
}
