package ext4

import (
	"github.com/dragonos-community/ext4fs/crc32c"
)

// crc32cOfUUID seeds a running checksum from the filesystem UUID, the first
// step of every group-descriptor and bitmap checksum.
func crc32cOfUUID(uuid [16]byte) uint32 {
	return crc32c.Checksum(0, uuid[:])
}

// inodeChecksum computes CRC32C(uuid || inodeID LE || generation LE || b)
// with b's own checksum fields expected to already be zeroed by the caller.
func inodeChecksum(uuid [16]byte, inodeID uint32, generation uint32, b []byte) uint32 {
	seed := crc32cOfUUID(uuid)
	seed = crc32c.AppendUint32LE(seed, inodeID)
	seed = crc32c.AppendUint32LE(seed, generation)
	return crc32c.Checksum(seed, b)
}

// groupDescriptorChecksum computes CRC32C(uuid || bgid LE || descriptor
// bytes with checksum field zeroed).
func groupDescriptorChecksum(uuid [16]byte, bgid uint32, b []byte) uint16 {
	seed := crc32cOfUUID(uuid)
	seed = crc32c.AppendUint32LE(seed, bgid)
	full := crc32c.Checksum(seed, b)
	return uint16(full & 0xffff)
}

// bitmapChecksum computes CRC32C(uuid || bitmap bytes).
func bitmapChecksum(uuid [16]byte, bitmap []byte) uint32 {
	return crc32c.ChecksumUUIDSeeded(uuid, bitmap)
}
