package ext4

import (
	"encoding/binary"
)

// mode bit layout: low 12 bits are permission bits, high 4 bits (shifted by
// 12) are the file-type nibble, matching traditional POSIX S_IFMT values.
const modePermMask = 0x0FFF

// inode is the in-memory form of the fixed 256-byte on-disk inode record.
// Field names and byte offsets below follow the real ext4 inode layout so
// the image stays readable by the Linux ext4 driver.
type inode struct {
	mode          uint16
	uid           uint32
	size          uint64
	atime         uint32
	ctime         uint32
	mtime         uint32
	dtime         uint32
	gid           uint32
	linkCount     uint16
	// blockCount is in BlockSize units (a simplification from real ext4's
	// 512-byte-sector units, documented in DESIGN.md).
	blockCount    uint64
	flags         uint32
	// inline is the 60-byte area holding either the extent-tree root or a
	// fast-symlink target.
	inline        [inlineExtentAreaSize]byte
	generation    uint32
	xattrBlock    uint64
	checksum      uint32
	crtime        uint32
}

const inodeFlagExtents = 0x00080000

// inodeExtraIsize is the number of bytes past the original 128-byte inode
// this layout uses, wide enough to cover the upper checksum half and the
// extra timestamp fields. Written into every inode so a reader knows the
// high checksum field is valid.
const inodeExtraIsize = 32

func newInode(mode uint16) *inode {
	in := &inode{
		mode:      mode,
		linkCount: 0,
		flags:     inodeFlagExtents,
	}
	initExtentRoot(in.inline[:])
	return in
}

func (in *inode) fileType() FileType { return fileTypeFromMode(in.mode) }

// fileTypeFromMode extracts the type nibble from a raw mode word.
func fileTypeFromMode(mode uint16) FileType {
	switch mode >> 12 {
	case typeDir:
		return TypeDirectory
	case typeSymlink:
		return TypeSymlink
	case typeRegular:
		return TypeRegular
	default:
		return TypeOther
	}
}

// dirFileTypeForMode maps a mode word to the compact file_type byte stored
// redundantly in directory entries, so a directory scan can learn an
// entry's type without a separate inode read.
func dirFileTypeForMode(mode uint16) byte {
	switch fileTypeFromMode(mode) {
	case TypeDirectory:
		return directoryFileTypeDir
	case TypeSymlink:
		return directoryFileTypeSymlink
	case TypeRegular:
		return directoryFileTypeRegular
	default:
		return directoryFileTypeUnknown
	}
}

func (in *inode) isDir() bool { return in.fileType() == TypeDirectory }

// ModeFromTypeAndPerm composes a mode word from a file type and permission
// bits.
func ModeFromTypeAndPerm(t FileType, perm uint16) uint16 {
	var nibble uint16
	switch t {
	case TypeDirectory:
		nibble = typeDir
	case TypeSymlink:
		nibble = typeSymlink
	default:
		nibble = typeRegular
	}
	return nibble<<12 | (perm & modePermMask)
}

func inodeFromBytes(b []byte) *inode {
	le := binary.LittleEndian
	in := &inode{
		mode:       le.Uint16(b[0:2]),
		uid:        uint32(le.Uint16(b[2:4])) | uint32(le.Uint16(b[120:122]))<<16,
		size:       uint64(le.Uint32(b[4:8])) | uint64(le.Uint32(b[108:112]))<<32,
		atime:      le.Uint32(b[8:12]),
		ctime:      le.Uint32(b[12:16]),
		mtime:      le.Uint32(b[16:20]),
		dtime:      le.Uint32(b[20:24]),
		gid:        uint32(le.Uint16(b[24:26])) | uint32(le.Uint16(b[122:124]))<<16,
		linkCount:  le.Uint16(b[26:28]),
		blockCount: uint64(le.Uint32(b[28:32])) | uint64(le.Uint16(b[116:118]))<<32,
		flags:      le.Uint32(b[32:36]),
		generation: le.Uint32(b[100:104]),
		xattrBlock: uint64(le.Uint32(b[104:108])) | uint64(le.Uint16(b[118:120]))<<32,
		checksum:   uint32(le.Uint16(b[124:126])) | uint32(le.Uint16(b[130:132]))<<16,
		crtime:     le.Uint32(b[144:148]),
	}
	copy(in.inline[:], b[40:100])
	return in
}

// toBytes marshals the inode. The caller is responsible for computing and
// setting in.checksum over bytesWithChecksumZeroed before calling toBytes
// to produce the final persisted record.
func (in *inode) toBytes() []byte {
	b := make([]byte, InodeSize)
	le := binary.LittleEndian
	le.PutUint16(b[0:2], in.mode)
	le.PutUint16(b[2:4], uint16(in.uid))
	le.PutUint32(b[4:8], uint32(in.size))
	le.PutUint32(b[8:12], in.atime)
	le.PutUint32(b[12:16], in.ctime)
	le.PutUint32(b[16:20], in.mtime)
	le.PutUint32(b[20:24], in.dtime)
	le.PutUint16(b[24:26], uint16(in.gid))
	le.PutUint16(b[26:28], in.linkCount)
	le.PutUint32(b[28:32], uint32(in.blockCount))
	le.PutUint32(b[32:36], in.flags)
	copy(b[40:100], in.inline[:])
	le.PutUint32(b[100:104], in.generation)
	le.PutUint32(b[104:108], uint32(in.xattrBlock))
	le.PutUint32(b[108:112], uint32(in.size>>32))
	le.PutUint16(b[116:118], uint16(in.blockCount>>32))
	le.PutUint16(b[118:120], uint16(in.xattrBlock>>32))
	le.PutUint16(b[120:122], uint16(in.uid>>16))
	le.PutUint16(b[122:124], uint16(in.gid>>16))
	le.PutUint16(b[124:126], uint16(in.checksum))
	le.PutUint16(b[128:130], inodeExtraIsize)
	le.PutUint16(b[130:132], uint16(in.checksum>>16))
	le.PutUint32(b[144:148], in.crtime)
	return b
}

// bytesWithChecksumZeroed returns the marshaled record with checksum fields
// forced to zero, the input CRC32C must be computed over.
func (in *inode) bytesWithChecksumZeroed() []byte {
	saved := in.checksum
	in.checksum = 0
	b := in.toBytes()
	in.checksum = saved
	return b
}
