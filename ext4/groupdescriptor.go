package ext4

import "encoding/binary"

// groupDescriptor mirrors one 64-byte GDT entry at its real on-disk byte
// offsets (lo/hi 32-bit split fields collapse to a single field here since
// this engine never addresses devices large enough to need the hi half).
type groupDescriptor struct {
	blockBitmapBlock  uint32
	inodeBitmapBlock  uint32
	inodeTableBlock   uint32
	freeBlocksCount   uint16
	freeInodesCount   uint16
	usedDirsCount     uint16
	itableUnused      uint16
	blockBitmapCsum   uint16
	inodeBitmapCsum   uint16
	checksum          uint16
}

func groupDescriptorFromBytes(b []byte) *groupDescriptor {
	le := binary.LittleEndian
	return &groupDescriptor{
		blockBitmapBlock: le.Uint32(b[0:4]),
		inodeBitmapBlock: le.Uint32(b[4:8]),
		inodeTableBlock:  le.Uint32(b[8:12]),
		freeBlocksCount:  le.Uint16(b[12:14]),
		freeInodesCount:  le.Uint16(b[14:16]),
		usedDirsCount:    le.Uint16(b[16:18]),
		blockBitmapCsum:  le.Uint16(b[24:26]),
		inodeBitmapCsum:  le.Uint16(b[26:28]),
		itableUnused:     le.Uint16(b[28:30]),
		checksum:         le.Uint16(b[30:32]),
	}
}

func (gd *groupDescriptor) toBytes() []byte {
	b := make([]byte, groupDescriptorSize)
	le := binary.LittleEndian
	le.PutUint32(b[0:4], gd.blockBitmapBlock)
	le.PutUint32(b[4:8], gd.inodeBitmapBlock)
	le.PutUint32(b[8:12], gd.inodeTableBlock)
	le.PutUint16(b[12:14], gd.freeBlocksCount)
	le.PutUint16(b[14:16], gd.freeInodesCount)
	le.PutUint16(b[16:18], gd.usedDirsCount)
	le.PutUint16(b[24:26], gd.blockBitmapCsum)
	le.PutUint16(b[26:28], gd.inodeBitmapCsum)
	le.PutUint16(b[28:30], gd.itableUnused)
	le.PutUint16(b[30:32], gd.checksum)
	return b
}

// updateChecksum recomputes gd.checksum, zeroing the checksum field in the
// serialized copy first so the CRC never depends on itself.
func (gd *groupDescriptor) updateChecksum(uuid [16]byte, bgid uint32) {
	gd.checksum = 0
	b := gd.toBytes()
	gd.checksum = groupDescriptorChecksum(uuid, bgid, b)
}
