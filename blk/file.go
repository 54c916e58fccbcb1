package blk

import (
	"os"
	"sync"

	"hvnos/errs"
)

// FileDevice is a block device backed by an *os.File, used by cmd/mkfs
// and cmd/heavenfsd when no real NVMe BAR0 is available to hand the
// nvme package. It mirrors the teacher's ahci_disk_t
// (biscuit/src/ufs/driver.go) in holding a single mutex around each
// request; the I/O itself uses positional ReadAt/WriteAt, so there is
// no shared seek offset between requests.
type FileDevice struct {
	mu          sync.Mutex
	f           *os.File
	blockSize   uint32
	totalBlocks uint64
}

// OpenFileDevice opens (or creates) path and sizes it to
// totalBlocks*blockSize bytes if it is smaller than that.
func OpenFileDevice(path string, totalBlocks uint64, blockSize uint32) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, errs.Wrap(errs.MediaError, err)
	}
	size := int64(totalBlocks) * int64(blockSize)
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errs.Wrap(errs.MediaError, err)
	}
	if info.Size() < size {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, errs.Wrap(errs.MediaError, err)
		}
	}
	return &FileDevice{f: f, blockSize: blockSize, totalBlocks: totalBlocks}, nil
}

func (d *FileDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.f.Close()
}

func (d *FileDevice) ReadBlocks(lba uint64, nblocks uint32, dst []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	want := int(nblocks) * int(d.blockSize)
	if len(dst) != want {
		return errs.E(errs.InvalidSize)
	}
	off := int64(lba) * int64(d.blockSize)
	if _, err := d.f.ReadAt(dst, off); err != nil {
		return errs.Wrap(errs.MediaError, err)
	}
	return nil
}

func (d *FileDevice) WriteBlocks(lba uint64, nblocks uint32, src []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	want := int(nblocks) * int(d.blockSize)
	if len(src) != want {
		return errs.E(errs.InvalidSize)
	}
	off := int64(lba) * int64(d.blockSize)
	if _, err := d.f.WriteAt(src, off); err != nil {
		return errs.Wrap(errs.MediaError, err)
	}
	return nil
}

func (d *FileDevice) Flush() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.f.Sync(); err != nil {
		return errs.Wrap(errs.Fsync, err)
	}
	return nil
}

func (d *FileDevice) BlockSize() uint32   { return d.blockSize }
func (d *FileDevice) TotalBlocks() uint64 { return d.totalBlocks }
