package ext4

import (
	"github.com/sirupsen/logrus"

	"github.com/dragonos-community/ext4fs/device"
	"github.com/dragonos-community/ext4fs/ext4err"
)

// FileSystem is a single object parameterized by a block device, exposing
// create/lookup/read/write/remove/link/rename/xattr operations. It owns the
// superblock and group descriptor table for its lifetime, reading them on
// demand and writing them back with fresh checksums after every mutation;
// there is no page cache between the engine and the device. Not safe for
// concurrent use without external locking.
type FileSystem struct {
	dev device.Device
	sb  *superblock
	log *logrus.Logger
}

var defaultLogger = logrus.New()

// Option configures a FileSystem at Format/Open time.
type Option func(*FileSystem)

// WithLogger overrides the logrus.Logger the engine reports allocation,
// split, and corruption events to. If never set, a package-level logger at
// InfoLevel is used.
func WithLogger(l *logrus.Logger) Option {
	return func(fs *FileSystem) { fs.log = l }
}

// Format writes a fresh filesystem image (the mkfs.ext4-equivalent step)
// and returns a FileSystem ready for use: superblock, group descriptor
// table, all bitmaps, the root directory inode, and its `.`/`..` entries.
func Format(dev device.Device, p Params, opts ...Option) (*FileSystem, error) {
	if dev.BlockSize() != BlockSize {
		return nil, ext4err.New(ext4err.EINVAL, "device block size %d, want %d", dev.BlockSize(), BlockSize)
	}
	fs := &FileSystem{dev: dev, sb: newSuperblock(p), log: defaultLogger}
	for _, o := range opts {
		o(fs)
	}

	numGroups := fs.sb.blockGroupCount()
	fs.log.Debugf("formatting: %d blocks, %d groups, %d inodes/group", fs.sb.blockCount(), numGroups, fs.sb.inodesPerGroup)

	inodeTableBlocks := fs.inodeTableBlocksPerGroup()
	gds := make([]*groupDescriptor, numGroups)
	for g := uint32(0); g < numGroups; g++ {
		base := fs.groupMetadataBase(g)
		freeInodes := fs.sb.inodeCountInGroup(g)
		if g == 0 {
			// inodes 1..FirstFreeInode-1 (root, bad blocks, etc) are
			// reserved at format time and never handed out by the allocator
			freeInodes -= FirstFreeInode - 1
		}
		gd := &groupDescriptor{
			blockBitmapBlock: uint32(base),
			inodeBitmapBlock: uint32(base + 1),
			inodeTableBlock:  uint32(base + 2),
			freeInodesCount:  uint16(freeInodes),
			itableUnused:     uint16(freeInodes),
		}
		metadataBlocks := uint64(2 + inodeTableBlocks)
		groupBlocks := fs.groupBlockCount(g)
		dataBlocks := groupBlocks - metadataBlocks
		if g == 0 {
			// group 0 additionally loses the boot block and GDT blocks to metadata
			dataBlocks -= 1 + fs.gdtBlocks()
		}
		gd.freeBlocksCount = uint16(dataBlocks)
		gds[g] = gd
	}
	fs.sb.setFreeBlocksCount(sumFreeBlocks(gds))
	fs.sb.freeInodes = sumFreeInodes(gds)

	for g, gd := range gds {
		if err := fs.formatGroupBitmaps(uint32(g), gd); err != nil {
			return nil, err
		}
		gd.updateChecksum(fs.sb.uuid, uint32(g))
		if err := fs.writeGroupDescriptor(uint32(g), gd); err != nil {
			return nil, err
		}
	}
	if err := fs.writeSuperblock(); err != nil {
		return nil, err
	}

	if _, err := fs.createRootInode(); err != nil {
		return nil, err
	}
	return fs, nil
}

// Open mounts an existing image: reads and validates the superblock
// (magic, 256-byte inodes, extents feature) before handing anything back.
func Open(dev device.Device, opts ...Option) (*FileSystem, error) {
	if dev.BlockSize() != BlockSize {
		return nil, ext4err.New(ext4err.EINVAL, "device block size %d, want %d", dev.BlockSize(), BlockSize)
	}
	fs := &FileSystem{dev: dev, log: defaultLogger}
	for _, o := range opts {
		o(fs)
	}
	block0, err := dev.ReadBlock(0)
	if err != nil {
		return nil, ext4err.Wrap(ext4err.EIO, err, "reading boot block")
	}
	sb, err := superblockFromBytes(block0[superblockOffset:])
	if err != nil {
		return nil, ext4err.Wrap(ext4err.EINVAL, err, "parsing superblock")
	}
	fs.sb = sb
	return fs, nil
}

func sumFreeBlocks(gds []*groupDescriptor) uint64 {
	var total uint64
	for _, gd := range gds {
		total += uint64(gd.freeBlocksCount)
	}
	return total
}

func sumFreeInodes(gds []*groupDescriptor) uint32 {
	var total uint32
	for _, gd := range gds {
		total += uint32(gd.freeInodesCount)
	}
	return total
}

// --- block-group geometry helpers ---

func (fs *FileSystem) gdtBlocks() uint64 {
	n := fs.sb.blockGroupCount()
	bytes := uint64(n) * groupDescriptorSize
	blocks := bytes / BlockSize
	if bytes%BlockSize != 0 {
		blocks++
	}
	return blocks
}

func (fs *FileSystem) inodeTableBlocksPerGroup() uint64 {
	bytes := uint64(fs.sb.inodesPerGroup) * InodeSize
	blocks := bytes / BlockSize
	if bytes%BlockSize != 0 {
		blocks++
	}
	return blocks
}

func (fs *FileSystem) groupBlockCount(g uint32) uint64 {
	if g != fs.sb.blockGroupCount()-1 {
		return uint64(fs.sb.blocksPerGroup)
	}
	total := fs.sb.blockCount() - uint64(fs.sb.firstDataBlock)
	return total - uint64(g)*uint64(fs.sb.blocksPerGroup)
}

// groupMetadataBase returns the first block owned by group g's own
// metadata (bitmaps + inode table); group 0 additionally yields its first
// block to the boot sector and the whole GDT.
func (fs *FileSystem) groupMetadataBase(g uint32) uint64 {
	if g == 0 {
		return 1 + fs.gdtBlocks()
	}
	return uint64(fs.sb.firstDataBlock) + uint64(g)*uint64(fs.sb.blocksPerGroup)
}

func (fs *FileSystem) groupDataStart(g uint32) uint64 {
	return fs.groupMetadataBase(g) + 2 + fs.inodeTableBlocksPerGroup()
}

func (fs *FileSystem) blockGroupForInode(id uint32) uint32 {
	return (id - 1) / fs.sb.inodesPerGroup
}

// --- raw block/superblock/GDT IO ---

func (fs *FileSystem) readBlock(pblock uint64) ([]byte, error) {
	b, err := fs.dev.ReadBlock(pblock)
	if err != nil {
		return nil, ext4err.Wrap(ext4err.EIO, err, "reading block %d", pblock)
	}
	return b, nil
}

func (fs *FileSystem) writeBlock(pblock uint64, data []byte) error {
	if err := fs.dev.WriteBlock(pblock, data); err != nil {
		return ext4err.Wrap(ext4err.EIO, err, "writing block %d", pblock)
	}
	return nil
}

func (fs *FileSystem) writeSuperblock() error {
	block0, err := fs.readBlock(0)
	if err != nil {
		block0 = make([]byte, BlockSize)
	}
	copy(block0[superblockOffset:], fs.sb.toBytes())
	return fs.writeBlock(0, block0)
}

func (fs *FileSystem) readGroupDescriptor(g uint32) (*groupDescriptor, error) {
	offset := uint64(g) * groupDescriptorSize
	blockIdx := 1 + offset/BlockSize
	within := offset % BlockSize
	block, err := fs.readBlock(blockIdx)
	if err != nil {
		return nil, err
	}
	return groupDescriptorFromBytes(block[within : within+groupDescriptorSize]), nil
}

func (fs *FileSystem) writeGroupDescriptor(g uint32, gd *groupDescriptor) error {
	offset := uint64(g) * groupDescriptorSize
	blockIdx := 1 + offset/BlockSize
	within := offset % BlockSize
	block, err := fs.readBlock(blockIdx)
	if err != nil {
		block = make([]byte, BlockSize)
	}
	copy(block[within:within+groupDescriptorSize], gd.toBytes())
	return fs.writeBlock(blockIdx, block)
}

func (fs *FileSystem) formatGroupBitmaps(g uint32, gd *groupDescriptor) error {
	blockBitmap := make([]byte, BlockSize)
	inodeBitmap := make([]byte, BlockSize)

	dataBlocks := fs.groupBlockCount(g) - (2 + fs.inodeTableBlocksPerGroup())
	if g == 0 {
		dataBlocks -= 1 + fs.gdtBlocks()
	}
	markBitsUsed(blockBitmap, 0, fs.groupBlockCount(g)-dataBlocks)
	// pad bits past the group's real block count must read as allocated so
	// a first-free scan in a short final group never walks off the device
	markBitsUsed(blockBitmap, fs.groupBlockCount(g), 8*BlockSize)

	if g == 0 {
		markBitsUsed(inodeBitmap, 0, FirstFreeInode-1)
	}
	markBitsUsed(inodeBitmap, uint64(fs.sb.inodeCountInGroup(g)), 8*BlockSize)

	gd.blockBitmapCsum = uint16(bitmapChecksum(fs.sb.uuid, blockBitmap) & 0xffff)
	gd.inodeBitmapCsum = uint16(bitmapChecksum(fs.sb.uuid, inodeBitmap) & 0xffff)

	if err := fs.writeBlock(uint64(gd.blockBitmapBlock), blockBitmap); err != nil {
		return err
	}
	return fs.writeBlock(uint64(gd.inodeBitmapBlock), inodeBitmap)
}

// markBitsUsed sets bits [from, to) of a bitmap, used at format time to
// mark a group's own metadata blocks, reserved inode slots, and
// past-the-end padding as allocated.
func markBitsUsed(bitmap []byte, from, to uint64) {
	for i := from; i < to; i++ {
		bitmap[i/8] |= 1 << (i % 8)
	}
}

func (fs *FileSystem) errorf(kind ext4err.Kind, format string, args ...interface{}) error {
	fs.log.WithField("kind", kind.String()).Errorf(format, args...)
	return ext4err.New(kind, format, args...)
}
