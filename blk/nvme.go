package blk

import "hvnos/mem"

// nvmeController is the subset of *nvme.Controller this adapter needs.
// Declared as an interface (rather than importing package nvme
// directly) to keep the dependency edge pointing the way spec.md's lock
// order does: blk has no opinion about how its data arrives, the same
// way the original implementation's BlockDevice trait abstracts over
// both the real NvmeDriver and RamDisk (original_source's
// storage/block_device.rs).
type nvmeController interface {
	ReadBlocks(lba uint64, buf *mem.DMABuffer) error
	WriteBlocks(lba uint64, buf *mem.DMABuffer) error
	Flush() error
}

// NVMeDevice adapts an nvme.Controller (or anything with the same
// three-method I/O surface) to the Device capability set by staging
// every transfer through a freshly allocated mem.DMABuffer, matching
// spec.md §4.8's "allocate DMA of the exact span" pattern used at every
// call site above the controller.
type NVMeDevice struct {
	ctrl        nvmeController
	alloc       *mem.BitmapAllocator
	blockSize   uint32
	totalBlocks uint64
}

// NewNVMeDevice wraps ctrl, whose namespace geometry is blockSize bytes
// per block and totalBlocks blocks long (read from the controller after
// Init, per spec.md §4.5 step 7).
func NewNVMeDevice(ctrl nvmeController, alloc *mem.BitmapAllocator, blockSize uint32, totalBlocks uint64) *NVMeDevice {
	return &NVMeDevice{ctrl: ctrl, alloc: alloc, blockSize: blockSize, totalBlocks: totalBlocks}
}

func (d *NVMeDevice) ReadBlocks(lba uint64, nblocks uint32, dst []byte) error {
	buf, err := mem.NewDMABuffer(d.alloc, int(nblocks)*int(d.blockSize))
	if err != nil {
		return err
	}
	defer buf.Free()
	if err := d.ctrl.ReadBlocks(lba, buf); err != nil {
		return err
	}
	copy(dst, buf.Bytes())
	return nil
}

func (d *NVMeDevice) WriteBlocks(lba uint64, nblocks uint32, src []byte) error {
	buf, err := mem.NewDMABuffer(d.alloc, int(nblocks)*int(d.blockSize))
	if err != nil {
		return err
	}
	defer buf.Free()
	copy(buf.Bytes(), src)
	return d.ctrl.WriteBlocks(lba, buf)
}

func (d *NVMeDevice) Flush() error { return d.ctrl.Flush() }

func (d *NVMeDevice) BlockSize() uint32   { return d.blockSize }
func (d *NVMeDevice) TotalBlocks() uint64 { return d.totalBlocks }
