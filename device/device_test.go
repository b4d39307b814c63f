package device_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dragonos-community/ext4fs/backend/file"
	"github.com/dragonos-community/ext4fs/device"
)

// TestPartitionDeviceIsolation models an ext4 image living inside one
// partition of a larger disk image: two partition devices backed by the
// same file at different byte offsets must not see each other's writes, and
// each must land its writes at the expected absolute file offset.
func TestPartitionDeviceIsolation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	const partSize = 8192
	const blockSize = 4096

	storage, err := file.CreateFromPath(path, 2*partSize)
	if err != nil {
		t.Fatalf("CreateFromPath: %v", err)
	}
	defer storage.Close()

	part0 := device.NewPartitionDevice(storage, 0, partSize, blockSize)
	part1 := device.NewPartitionDevice(storage, partSize, partSize, blockSize)

	want0 := make([]byte, blockSize)
	for i := range want0 {
		want0[i] = 0xAA
	}
	want1 := make([]byte, blockSize)
	for i := range want1 {
		want1[i] = 0x55
	}

	if err := part0.WriteBlock(0, want0); err != nil {
		t.Fatalf("WriteBlock part0: %v", err)
	}
	if err := part1.WriteBlock(0, want1); err != nil {
		t.Fatalf("WriteBlock part1: %v", err)
	}

	got0, err := part0.ReadBlock(0)
	if err != nil {
		t.Fatalf("ReadBlock part0: %v", err)
	}
	got1, err := part1.ReadBlock(0)
	if err != nil {
		t.Fatalf("ReadBlock part1: %v", err)
	}

	if string(got0) != string(want0) {
		t.Fatalf("part0 block 0 was corrupted by part1's write")
	}
	if string(got1) != string(want1) {
		t.Fatalf("part1 block 0 was corrupted by part0's write")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if raw[0] != 0xAA || raw[partSize] != 0x55 {
		t.Fatalf("partition writes landed at the wrong absolute file offsets")
	}
}
