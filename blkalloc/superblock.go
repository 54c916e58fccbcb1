// Package blkalloc implements the on-device superblock and persistent
// free bitmap described in spec.md §4.6/§6, grounded on the original
// implementation's BlockAllocator (original_source's
// storage/block_alloc.rs), translated from a fixed #[repr(C)] struct
// into the field-at-a-time encoding idiom package nvme already uses for
// wire structs (SubmissionEntry.Encode/DecodeSubmissionEntry).
package blkalloc

import "encoding/binary"

// Magic is "HVNOS\x01" packed little-endian into a uint64, per spec.md §6.
const Magic uint64 = 0x0000_01_534F4E5648

// Version is the only superblock format this package writes or accepts.
const Version uint32 = 1

// SuperblockSize is the fixed on-disk size of the superblock, padded to
// one block per spec.md §3 ("the superblock is written exactly once at
// format and never updated thereafter").
const SuperblockSize = 4096

// superblockWireSize is the number of bytes actually occupied by fields
// before the zero pad.
const superblockWireSize = 8 + 4 + 4 + 8 + 8 + 8 + 8 + 8 + 8 + 8

// Superblock mirrors spec.md §3/§6's fixed LBA-0 layout.
type Superblock struct {
	Magic                 uint64
	Version               uint32
	BlockSize             uint32
	TotalBlocks           uint64
	BitmapStartLBA        uint64
	BitmapBlockCount      uint64
	FileTableStartLBA     uint64
	FileTableBlockCount   uint64
	DataStartLBA          uint64
	DataBlockCount        uint64
}

// IsValid reports whether the superblock has the expected magic and a
// version this package knows how to read.
func (sb *Superblock) IsValid() bool {
	return sb.Magic == Magic && sb.Version == Version
}

// Encode serializes sb into a zero-padded SuperblockSize-byte block.
func (sb *Superblock) Encode() []byte {
	buf := make([]byte, SuperblockSize)
	binary.LittleEndian.PutUint64(buf[0:8], sb.Magic)
	binary.LittleEndian.PutUint32(buf[8:12], sb.Version)
	binary.LittleEndian.PutUint32(buf[12:16], sb.BlockSize)
	binary.LittleEndian.PutUint64(buf[16:24], sb.TotalBlocks)
	binary.LittleEndian.PutUint64(buf[24:32], sb.BitmapStartLBA)
	binary.LittleEndian.PutUint64(buf[32:40], sb.BitmapBlockCount)
	binary.LittleEndian.PutUint64(buf[40:48], sb.FileTableStartLBA)
	binary.LittleEndian.PutUint64(buf[48:56], sb.FileTableBlockCount)
	binary.LittleEndian.PutUint64(buf[56:64], sb.DataStartLBA)
	binary.LittleEndian.PutUint64(buf[64:72], sb.DataBlockCount)
	return buf
}

// DecodeSuperblock parses a SuperblockSize-byte block.
func DecodeSuperblock(buf []byte) Superblock {
	return Superblock{
		Magic:               binary.LittleEndian.Uint64(buf[0:8]),
		Version:             binary.LittleEndian.Uint32(buf[8:12]),
		BlockSize:           binary.LittleEndian.Uint32(buf[12:16]),
		TotalBlocks:         binary.LittleEndian.Uint64(buf[16:24]),
		BitmapStartLBA:      binary.LittleEndian.Uint64(buf[24:32]),
		BitmapBlockCount:    binary.LittleEndian.Uint64(buf[32:40]),
		FileTableStartLBA:   binary.LittleEndian.Uint64(buf[40:48]),
		FileTableBlockCount: binary.LittleEndian.Uint64(buf[48:56]),
		DataStartLBA:        binary.LittleEndian.Uint64(buf[56:64]),
		DataBlockCount:      binary.LittleEndian.Uint64(buf[64:72]),
	}
}
