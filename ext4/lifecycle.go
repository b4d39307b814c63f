package ext4

import "github.com/dragonos-community/ext4fs/ext4err"

// inodeLocation returns the block holding id's inode record and the byte
// offset within that block.
func (fs *FileSystem) inodeLocation(id uint32) (uint64, uint64, error) {
	bgid := fs.blockGroupForInode(id)
	idxInGroup := uint64((id - 1) % fs.sb.inodesPerGroup)
	gd, err := fs.readGroupDescriptor(bgid)
	if err != nil {
		return 0, 0, err
	}
	byteOffset := idxInGroup * InodeSize
	block := uint64(gd.inodeTableBlock) + byteOffset/BlockSize
	within := byteOffset % BlockSize
	return block, within, nil
}

func (fs *FileSystem) readInodeRef(id uint32) (*inodeRef, error) {
	block, within, err := fs.inodeLocation(id)
	if err != nil {
		return nil, err
	}
	buf, err := fs.readBlock(block)
	if err != nil {
		return nil, err
	}
	return &inodeRef{id: id, in: inodeFromBytes(buf[within : within+InodeSize])}, nil
}

// writeInodeWithChecksum persists ref.in, recomputing its CRC32C with the
// checksum field zeroed first, per the checksum-of-self rule.
func (fs *FileSystem) writeInodeWithChecksum(ref *inodeRef) error {
	block, within, err := fs.inodeLocation(ref.id)
	if err != nil {
		return err
	}
	ref.in.checksum = inodeChecksum(fs.sb.uuid, ref.id, ref.in.generation, ref.in.bytesWithChecksumZeroed())

	buf, err := fs.readBlock(block)
	if err != nil {
		return err
	}
	copy(buf[within:within+InodeSize], ref.in.toBytes())
	return fs.writeBlock(block, buf)
}

// createInode allocates and initializes a new inode with the given mode:
// alloc, zero, set mode, initialize an empty depth-0 extent root, write
// with checksum.
func (fs *FileSystem) createInode(mode uint16) (*inodeRef, error) {
	isDir := (mode >> 12) == typeDir
	id, err := fs.allocInode(isDir)
	if err != nil {
		return nil, err
	}
	ref := &inodeRef{id: id, in: newInode(mode)}
	if err := fs.writeInodeWithChecksum(ref); err != nil {
		return nil, err
	}
	return ref, nil
}

// createRootInode bootstraps the fixed-id root directory inode, installing
// `.` and `..` (both pointing at itself) and setting link_count = 2. The
// root's bitmap bit and free-inode accounting are already covered by the
// format-time reserved-inode range; only the group's directory count needs
// recording here.
func (fs *FileSystem) createRootInode() (*inodeRef, error) {
	in := newInode(ModeFromTypeAndPerm(TypeDirectory, 0o755))
	ref := &inodeRef{id: RootInodeID, in: in}
	bgid := fs.blockGroupForInode(RootInodeID)
	gd, err := fs.readGroupDescriptor(bgid)
	if err != nil {
		return nil, err
	}
	gd.usedDirsCount++
	gd.updateChecksum(fs.sb.uuid, bgid)
	if err := fs.writeGroupDescriptor(bgid, gd); err != nil {
		return nil, err
	}
	if err := fs.writeInodeWithChecksum(ref); err != nil {
		return nil, err
	}
	if err := fs.dirAddEntry(ref, RootInodeID, ".", directoryFileTypeDir); err != nil {
		return nil, err
	}
	if err := fs.dirAddEntry(ref, RootInodeID, "..", directoryFileTypeDir); err != nil {
		return nil, err
	}
	ref.in.linkCount = 2
	if err := fs.writeInodeWithChecksum(ref); err != nil {
		return nil, err
	}
	return ref, nil
}

// freeInode reclaims every physical block an inode owns (data blocks,
// then extent-tree interior blocks, then any xattr block) before clearing
// the inode bitmap bit and zeroing the inode record. The order ensures no
// block is ever simultaneously referenced and marked free.
func (fs *FileSystem) freeInode(ref *inodeRef) error {
	// A fast symlink stores its raw target bytes in the inline area instead
	// of an extent-tree root (its EXTENTS flag is never set, see Symlink),
	// so the inline bytes must not be parsed as a tree header here.
	if ref.in.flags&inodeFlagExtents != 0 {
		dataBlocks, err := fs.ExtentAllDataBlocks(ref)
		if err != nil {
			return err
		}
		for _, pblock := range dataBlocks {
			if err := fs.deallocBlock(ref.id, pblock); err != nil {
				return err
			}
			if err := fs.writeBlock(pblock, make([]byte, BlockSize)); err != nil {
				return err
			}
		}

		treeBlocks, err := fs.ExtentAllTreeBlocks(ref)
		if err != nil {
			return err
		}
		for _, pblock := range treeBlocks {
			if err := fs.deallocBlock(ref.id, pblock); err != nil {
				return err
			}
			if err := fs.writeBlock(pblock, make([]byte, BlockSize)); err != nil {
				return err
			}
		}
	}

	if ref.in.xattrBlock != 0 {
		if err := fs.deallocBlock(ref.id, ref.in.xattrBlock); err != nil {
			return err
		}
		if err := fs.writeBlock(ref.in.xattrBlock, make([]byte, BlockSize)); err != nil {
			return err
		}
	}

	wasDir := ref.in.isDir()
	if err := fs.deallocInode(ref.id, wasDir); err != nil {
		return err
	}

	ref.in = &inode{}
	return fs.writeInodeWithChecksum(ref)
}

// inodeAppendBlock allocates the next logical data block for ref (via the
// extent tree) and advances its block-count accounting. Only blocks
// obtained this way count toward inode.blockCount; blocks the extent tree
// allocates for its own interior nodes never do.
func (fs *FileSystem) inodeAppendBlock(ref *inodeRef) (lblock uint32, pblock uint64, err error) {
	lblock = uint32(ref.in.blockCount)
	pblock, err = fs.ExtentQueryOrCreate(ref, lblock, 1)
	if err != nil {
		return 0, 0, err
	}
	ref.in.blockCount++
	if err := fs.writeInodeWithChecksum(ref); err != nil {
		return 0, 0, err
	}
	return lblock, pblock, nil
}

// blockForRead resolves a logical block id to bytes already written to
// disk, returning a zero block (never allocating) if no extent covers it
// yet — the read-past-unwritten-region behavior used by Read.
func (fs *FileSystem) blockForRead(ref *inodeRef, lblock uint32) ([]byte, error) {
	pblock, err := fs.ExtentQuery(ref, lblock)
	if err != nil {
		if e, ok := err.(*ext4err.Error); ok && e.Kind == ext4err.ENOENT {
			return make([]byte, BlockSize), nil
		}
		return nil, err
	}
	return fs.readBlock(pblock)
}
