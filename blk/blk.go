// Package blk defines the block-device capability set that package
// blkalloc, package filetable, and package vfs share, matching spec.md
// §9's "tests substitute a RAM-backed block device behind the same
// block-device capability set {read_blocks, write_blocks, flush,
// block_size, total_blocks}". This is the Go equivalent of the original
// implementation's BlockDevice trait (original_source's
// storage/block_device.rs), generalized from one concrete NVMe
// controller into an interface so the allocator and file table never
// import package nvme directly — the same "transport behind an
// interface" shape the teacher uses for fs.Disk_i.
package blk

// Device is the narrow capability every layer above the physical
// transport needs: read/write whole blocks by LBA, flush the device
// write cache, and report geometry.
type Device interface {
	// ReadBlocks reads nblocks blocks starting at lba into dst, which
	// must be exactly nblocks*BlockSize() bytes long.
	ReadBlocks(lba uint64, nblocks uint32, dst []byte) error
	// WriteBlocks writes nblocks blocks starting at lba from src, which
	// must be exactly nblocks*BlockSize() bytes long.
	WriteBlocks(lba uint64, nblocks uint32, src []byte) error
	// Flush issues the durability barrier (NVMe Flush, or fsync on a
	// hosted file-backed device). No caller may claim durability
	// without a successful Flush.
	Flush() error
	// BlockSize reports the device's logical block size in bytes.
	BlockSize() uint32
	// TotalBlocks reports the device's total addressable block count.
	TotalBlocks() uint64
}
