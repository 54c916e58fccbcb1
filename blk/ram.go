package blk

import "hvnos/errs"

// RAMDevice is an in-memory block device, grounded on the original
// implementation's RamDisk (original_source's storage/mock_device.rs):
// a flat byte arena sized blockSize*totalBlocks, with a flush counter
// tests can inspect. Used by package blkalloc's and package vfs's own
// tests in place of real NVMe hardware.
type RAMDevice struct {
	data        []byte
	blockSize   uint32
	totalBlocks uint64
	flushCount  int
}

// NewRAMDevice allocates a zero-filled RAM disk of the given geometry.
func NewRAMDevice(totalBlocks uint64, blockSize uint32) *RAMDevice {
	return &RAMDevice{
		data:        make([]byte, totalBlocks*uint64(blockSize)),
		blockSize:   blockSize,
		totalBlocks: totalBlocks,
	}
}

func (d *RAMDevice) span(lba uint64, nblocks uint32) (int, int, error) {
	bs := uint64(d.blockSize)
	start := lba * bs
	length := uint64(nblocks) * bs
	if start+length > uint64(len(d.data)) {
		return 0, 0, errs.E(errs.MediaError)
	}
	return int(start), int(start + length), nil
}

func (d *RAMDevice) ReadBlocks(lba uint64, nblocks uint32, dst []byte) error {
	start, end, err := d.span(lba, nblocks)
	if err != nil {
		return err
	}
	if len(dst) != end-start {
		return errs.E(errs.InvalidSize)
	}
	copy(dst, d.data[start:end])
	return nil
}

func (d *RAMDevice) WriteBlocks(lba uint64, nblocks uint32, src []byte) error {
	start, end, err := d.span(lba, nblocks)
	if err != nil {
		return err
	}
	if len(src) != end-start {
		return errs.E(errs.InvalidSize)
	}
	copy(d.data[start:end], src)
	return nil
}

func (d *RAMDevice) Flush() error {
	d.flushCount++
	return nil
}

func (d *RAMDevice) BlockSize() uint32    { return d.blockSize }
func (d *RAMDevice) TotalBlocks() uint64  { return d.totalBlocks }
func (d *RAMDevice) FlushCount() int      { return d.flushCount }

// RawBytes exposes the backing arena for test-only verification of exact
// on-disk byte layout (e.g. superblock/bitmap round-trip assertions).
func (d *RAMDevice) RawBytes(offset, length int) []byte {
	return d.data[offset : offset+length]
}
