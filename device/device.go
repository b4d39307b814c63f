// Package device defines the fixed-size block device abstraction the ext4
// engine reads and writes through, and a couple of concrete backings for it.
package device

import (
	"fmt"

	"github.com/dragonos-community/ext4fs/backend"
)

// Device is the only external collaborator the engine requires. A block
// device in this model is addressed by fixed-size physical block number;
// block 0 is reserved (never used for data).
type Device interface {
	ReadBlock(pblock uint64) ([]byte, error)
	WriteBlock(pblock uint64, data []byte) error
	BlockSize() uint32
}

// StorageDevice adapts a backend.Storage (a byte-offset random access
// backing, typically an image file) to the block-granularity Device
// interface the engine is written against.
type StorageDevice struct {
	storage   backend.Storage
	blockSize uint32
}

// NewStorageDevice wraps an existing backend.Storage as a Device with the
// given block size. The storage must support Writable() if the caller
// intends to call WriteBlock.
func NewStorageDevice(storage backend.Storage, blockSize uint32) *StorageDevice {
	return &StorageDevice{storage: storage, blockSize: blockSize}
}

// NewPartitionDevice wraps a byte-offset region of a larger backend.Storage
// (for example, one partition inside a larger disk image) as a Device. It
// carves out [offset, offset+size) with backend.Sub first, so the resulting
// Device's block 0 is always the partition's own first block, never the
// underlying image's.
func NewPartitionDevice(storage backend.Storage, offset, size int64, blockSize uint32) *StorageDevice {
	return NewStorageDevice(backend.Sub(storage, offset, size), blockSize)
}

func (d *StorageDevice) BlockSize() uint32 { return d.blockSize }

func (d *StorageDevice) ReadBlock(pblock uint64) ([]byte, error) {
	buf := make([]byte, d.blockSize)
	off := int64(pblock) * int64(d.blockSize)
	n, err := d.storage.ReadAt(buf, off)
	if n < len(buf) {
		// short read past end of a sparse/truncated backing file reads as zeros
		for i := n; i < len(buf); i++ {
			buf[i] = 0
		}
	}
	if err != nil && n == 0 {
		return nil, fmt.Errorf("reading block %d: %w", pblock, err)
	}
	return buf, nil
}

func (d *StorageDevice) WriteBlock(pblock uint64, data []byte) error {
	if uint32(len(data)) != d.blockSize {
		return fmt.Errorf("writing block %d: payload is %d bytes, want %d", pblock, len(data), d.blockSize)
	}
	w, err := d.storage.Writable()
	if err != nil {
		return fmt.Errorf("writing block %d: %w", pblock, err)
	}
	off := int64(pblock) * int64(d.blockSize)
	if _, err := w.WriteAt(data, off); err != nil {
		return fmt.Errorf("writing block %d: %w", pblock, err)
	}
	return nil
}
