package ext4

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// featIncompatExtents (an incompat bit) and featRoCompatMetaCsum (a
// ro_compat bit) are the two feature bits this engine sets at format time.
// Mount-time validation requires only the extents bit, matching the
// "mount-time validation" rule in the design notes.
const (
	featIncompatExtents  uint32 = 0x40
	featRoCompatMetaCsum uint32 = 0x400
)

// superblock mirrors the subset of the real ext4 superblock this engine
// reads and writes, at the same byte offsets as the on-disk format so the
// surrounding 1024-byte record stays bit-compatible even though this engine
// does not populate every reserved field real mkfs.ext4 does.
type superblock struct {
	inodeCount        uint32
	blockCountLo      uint32
	blockCountHi      uint32
	reservedBlocksLo  uint32
	freeBlocksLo      uint32
	freeBlocksHi      uint32
	freeInodes        uint32
	firstDataBlock    uint32
	logBlockSize      uint32
	blocksPerGroup    uint32
	inodesPerGroup    uint32
	magic             uint16
	state             uint16
	firstIno          uint32
	inodeSize         uint16
	featureCompat     uint32
	featureIncompat   uint32
	featureRoCompat   uint32
	uuid              [16]byte
	volumeName        [16]byte
	descSize          uint16
	blockGroupNr      uint16
	checksumSeed      uint32
}

func newSuperblock(p Params) *superblock {
	sb := &superblock{
		inodeCount:      p.InodeCount,
		blockCountLo:     uint32(p.BlockCount),
		blockCountHi:     uint32(p.BlockCount >> 32),
		freeBlocksLo:     uint32(p.BlockCount),
		freeInodes:       p.InodeCount,
		firstDataBlock:   0, // 4 KiB blocks: block 0 holds the superblock at offset 1024
		logBlockSize:     2, // 1024 << 2 == 4096
		blocksPerGroup:   p.BlocksPerGroup,
		inodesPerGroup:   p.InodesPerGroup,
		magic:            superblockMagic,
		state:            1,
		firstIno:         FirstFreeInode,
		inodeSize:        InodeSize,
		featureIncompat:  featIncompatExtents,
		featureRoCompat:  featRoCompatMetaCsum,
		descSize:         groupDescriptorSize,
	}
	copy(sb.volumeName[:], p.VolumeLabel)
	id := p.UUID
	if id == uuid.Nil {
		id = uuid.New()
	}
	copy(sb.uuid[:], id[:])
	sb.checksumSeed = crc32cOfUUID(sb.uuid)
	return sb
}

func (sb *superblock) blockCount() uint64 {
	return uint64(sb.blockCountHi)<<32 | uint64(sb.blockCountLo)
}

func (sb *superblock) freeBlocksCount() uint64 {
	return uint64(sb.freeBlocksHi)<<32 | uint64(sb.freeBlocksLo)
}

func (sb *superblock) setFreeBlocksCount(v uint64) {
	sb.freeBlocksLo = uint32(v)
	sb.freeBlocksHi = uint32(v >> 32)
}

func (sb *superblock) blockGroupCount() uint32 {
	count := sb.blockCount() - uint64(sb.firstDataBlock)
	groups := count / uint64(sb.blocksPerGroup)
	if count%uint64(sb.blocksPerGroup) != 0 {
		groups++
	}
	return uint32(groups)
}

// inodeCountInGroup returns how many inode slots block group bgid owns;
// every group has sb.inodesPerGroup except possibly a short final group.
func (sb *superblock) inodeCountInGroup(bgid uint32) uint32 {
	last := sb.blockGroupCount() - 1
	if bgid != last {
		return sb.inodesPerGroup
	}
	total := sb.inodeCount
	return total - sb.inodesPerGroup*last
}

func (sb *superblock) toBytes() []byte {
	b := make([]byte, 1024)
	le := binary.LittleEndian
	le.PutUint32(b[0:4], sb.inodeCount)
	le.PutUint32(b[4:8], sb.blockCountLo)
	le.PutUint32(b[8:12], sb.reservedBlocksLo)
	le.PutUint32(b[12:16], sb.freeBlocksLo)
	le.PutUint32(b[16:20], sb.freeInodes)
	le.PutUint32(b[20:24], sb.firstDataBlock)
	le.PutUint32(b[24:28], sb.logBlockSize)
	le.PutUint32(b[32:36], sb.blocksPerGroup)
	le.PutUint32(b[40:44], sb.inodesPerGroup)
	le.PutUint16(b[56:58], sb.magic)
	le.PutUint16(b[58:60], sb.state)
	le.PutUint32(b[84:88], sb.firstIno)
	le.PutUint16(b[88:90], sb.inodeSize)
	le.PutUint16(b[90:92], sb.blockGroupNr)
	le.PutUint32(b[92:96], sb.featureCompat)
	le.PutUint32(b[96:100], sb.featureIncompat)
	le.PutUint32(b[100:104], sb.featureRoCompat)
	copy(b[104:120], sb.uuid[:])
	copy(b[120:136], sb.volumeName[:])
	le.PutUint16(b[254:256], sb.descSize)
	le.PutUint32(b[328:332], sb.blockCountHi)
	le.PutUint32(b[336:340], sb.freeBlocksHi)
	return b
}

func superblockFromBytes(b []byte) (*superblock, error) {
	if len(b) < 1024 {
		return nil, fmt.Errorf("superblock buffer too short: %d bytes", len(b))
	}
	le := binary.LittleEndian
	sb := &superblock{
		inodeCount:       le.Uint32(b[0:4]),
		blockCountLo:     le.Uint32(b[4:8]),
		reservedBlocksLo: le.Uint32(b[8:12]),
		freeBlocksLo:     le.Uint32(b[12:16]),
		freeInodes:       le.Uint32(b[16:20]),
		firstDataBlock:   le.Uint32(b[20:24]),
		logBlockSize:     le.Uint32(b[24:28]),
		blocksPerGroup:   le.Uint32(b[32:36]),
		inodesPerGroup:   le.Uint32(b[40:44]),
		magic:            le.Uint16(b[56:58]),
		state:            le.Uint16(b[58:60]),
		firstIno:         le.Uint32(b[84:88]),
		inodeSize:        le.Uint16(b[88:90]),
		blockGroupNr:     le.Uint16(b[90:92]),
		featureCompat:    le.Uint32(b[92:96]),
		featureIncompat:  le.Uint32(b[96:100]),
		featureRoCompat:  le.Uint32(b[100:104]),
		descSize:         le.Uint16(b[254:256]),
		blockCountHi:     le.Uint32(b[328:332]),
		freeBlocksHi:     le.Uint32(b[336:340]),
	}
	copy(sb.uuid[:], b[104:120])
	copy(sb.volumeName[:], b[120:136])
	sb.checksumSeed = crc32cOfUUID(sb.uuid)
	if sb.magic != superblockMagic {
		return nil, fmt.Errorf("bad superblock magic 0x%x", sb.magic)
	}
	if sb.inodeSize != InodeSize {
		return nil, fmt.Errorf("unsupported inode size %d, want %d", sb.inodeSize, InodeSize)
	}
	if sb.featureIncompat&featIncompatExtents == 0 {
		return nil, fmt.Errorf("extents feature not active")
	}
	return sb, nil
}
