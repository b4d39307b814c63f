// Package crc32c computes the Castagnoli CRC-32 variant used for every
// metadata checksum in the engine: inodes, group descriptors, and bitmaps.
// Built on hash/crc32's own Castagnoli table rather than a third-party CRC
// package, since the standard library ships the exact polynomial needed.
package crc32c

import (
	"encoding/binary"
	"hash/crc32"
)

var table = crc32.MakeTable(crc32.Castagnoli)

// Checksum computes CRC32C over buf, continuing from seed. Passing 0 starts
// a fresh checksum; chaining calls (seed = previous result) lets a checksum
// be built up over several discontiguous byte ranges, e.g. UUID then a
// little-endian counter then a struct body.
func Checksum(seed uint32, buf []byte) uint32 {
	return crc32.Update(seed, table, buf)
}

// ChecksumUUIDSeeded is the seeding pattern used by every group-descriptor
// and bitmap checksum: start from CRC32C(0, uuid), then continue over the
// object-specific bytes.
func ChecksumUUIDSeeded(uuid [16]byte, buf []byte) uint32 {
	return Checksum(Checksum(0, uuid[:]), buf)
}

// AppendUint32LE continues a running checksum over the little-endian bytes
// of v, a recurring need since several checksums are seeded with a
// (UUID, id, generation) triple before the struct body itself.
func AppendUint32LE(seed uint32, v uint32) uint32 {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return Checksum(seed, b[:])
}
