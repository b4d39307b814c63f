// Package ext4 implements the on-disk engine of a read/write ext4 filesystem:
// the block/inode bitmap allocator, the extent tree, the directory entry
// store, inode lifecycle management, the xattr store, and CRC32C metadata
// checksumming. It excludes journaling, page cache, online resize,
// encryption, quotas, and concurrent multi-writer access.
package ext4

const (
	// BlockSize is the fixed physical block size this engine targets.
	BlockSize = 4096

	// InodeSize is the fixed on-disk inode record size; this engine only
	// targets the 256-byte inode layout mkfs.ext4 produces with extents.
	InodeSize = 256

	// RootInodeID is the fixed inode number of the filesystem root.
	RootInodeID = 2

	// FirstFreeInode is the first inode number an allocator may hand out
	// after the fixed reserved inodes (root, bad blocks, journal, etc).
	FirstFreeInode = 11

	superblockMagic     = 0xEF53
	superblockOffset    = 1024
	groupDescriptorSize = 64

	inlineExtentAreaSize = 60

	extentHeaderMagic     = 0xF30A
	extentEntrySize       = 12
	extentHeaderSize      = 12
	extentRootMaxEntries  = (inlineExtentAreaSize - extentHeaderSize) / extentEntrySize
	extentBlockMaxEntries = (BlockSize - extentHeaderSize) / extentEntrySize

	// MaxBlocksPerExtent is the largest block_count a single extent entry
	// can record (ext4 reserves the top bit of the 16-bit field as an
	// "uninitialized extent" flag; this engine never marks extents
	// uninitialized, so the full 15 bits are usable run length).
	MaxBlocksPerExtent = 1 << 15

	dirEntryHeaderSize = 8
	dirEntryAlignment  = 4

	xattrHeaderMagic = 0xEA020000
	xattrEntrySize   = 16
)

// file-type nibble values stored in the high bits of an inode's mode word,
// matching the traditional POSIX S_IFMT values.
const (
	typeFIFO    = 0x1
	typeChardev = 0x2
	typeDir     = 0x4
	typeBlkdev  = 0x6
	typeRegular = 0x8
	typeSymlink = 0xA
	typeSocket  = 0xC
)

// directory entry file_type byte values, ext4's compact redundant copy of
// the inode's type nibble so directory scans avoid an inode read.
const (
	directoryFileTypeUnknown byte = 0
	directoryFileTypeRegular byte = 1
	directoryFileTypeDir     byte = 2
	directoryFileTypeSymlink byte = 7
)

// FileType identifies the kind of file an inode's mode encodes.
type FileType int

const (
	TypeRegular FileType = iota
	TypeDirectory
	TypeSymlink
	TypeOther
)
