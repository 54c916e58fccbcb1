package nvme

import (
	"bytes"
	"testing"

	"hvnos/kheap"
	"hvnos/mem"
)

func newTestController(t *testing.T, totalBlocks uint64, blockSize uint32) *Controller {
	t.Helper()
	alloc := mem.NewBitmapAllocator(4096)
	heap := kheap.New(alloc)
	dev := NewSimDevice(alloc, blockSize, totalBlocks)
	ctrl := NewController(dev, alloc, heap)
	if err := ctrl.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return ctrl
}

func TestControllerInitDiscoversGeometry(t *testing.T) {
	ctrl := newTestController(t, 64, 4096)
	if ctrl.BlockSize != 4096 {
		t.Fatalf("expected BlockSize 4096, got %d", ctrl.BlockSize)
	}
	if ctrl.TotalBlocks != 64 {
		t.Fatalf("expected TotalBlocks 64, got %d", ctrl.TotalBlocks)
	}
}

func TestControllerWriteReadFlushRoundTrip(t *testing.T) {
	ctrl := newTestController(t, 64, 4096)
	// The simulated device resolves PRP addresses through the allocator
	// it was built with, so the data buffers must come from that one.
	alloc := ctrl.alloc

	writeBuf, err := mem.NewDMABuffer(alloc, 4096)
	if err != nil {
		t.Fatalf("NewDMABuffer: %v", err)
	}
	payload := bytes.Repeat([]byte{0x5A}, 4096)
	copy(writeBuf.Bytes(), payload)

	if err := ctrl.WriteBlocks(3, writeBuf); err != nil {
		t.Fatalf("WriteBlocks: %v", err)
	}
	if err := ctrl.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	readBuf, err := mem.NewDMABuffer(alloc, 4096)
	if err != nil {
		t.Fatalf("NewDMABuffer: %v", err)
	}
	if err := ctrl.ReadBlocks(3, readBuf); err != nil {
		t.Fatalf("ReadBlocks: %v", err)
	}
	if !bytes.Equal(readBuf.Bytes(), payload) {
		t.Fatal("read back data does not match what was written")
	}
}
