// Command mkfs formats a heaven.db storage image: a fresh superblock,
// a zeroed free bitmap, and a zeroed file table, written to a
// file-backed block device. Grounded on the teacher's own mkfs CLI
// (biscuit/src/mkfs/mkfs.go): plain os.Args parsing, fmt.Printf
// diagnostics, os.Exit(1) on error, no flag package.
package main

import (
	"fmt"
	"os"
	"strconv"

	"hvnos/blk"
	"hvnos/blkalloc"
	"hvnos/limits"
)

func main() {
	if len(os.Args) < 3 {
		fmt.Printf("Usage: mkfs <image path> <total blocks>\n")
		os.Exit(1)
	}

	imagePath := os.Args[1]
	totalBlocks, err := strconv.ParseUint(os.Args[2], 10, 64)
	if err != nil {
		fmt.Printf("bad total blocks %q: %v\n", os.Args[2], err)
		os.Exit(1)
	}

	dev, err := blk.OpenFileDevice(imagePath, totalBlocks, limits.BlockSize)
	if err != nil {
		fmt.Printf("opening image %q: %v\n", imagePath, err)
		os.Exit(1)
	}
	defer dev.Close()

	alloc, err := blkalloc.Format(dev, totalBlocks, limits.BlockSize)
	if err != nil {
		fmt.Printf("formatting %q: %v\n", imagePath, err)
		os.Exit(1)
	}

	fmt.Printf("formatted %q: %d blocks total, %d data blocks free, file table at LBA %d\n",
		imagePath, totalBlocks, alloc.FreeCount(), alloc.FileTableStartLBA())
}
