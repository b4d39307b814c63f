package ext4

import (
	"github.com/dragonos-community/ext4fs/ext4err"
	"github.com/dragonos-community/ext4fs/util/bitmap"
)

// commitGroupAndSuperblock is the single choke point every bitmap
// mutation funnels through: persist the rewritten bitmap block, then the
// group descriptor carrying it (its checksum recomputed here so callers
// can't forget), then the superblock carrying the filesystem-wide free
// count the caller already adjusted. All four allocation/free paths in
// this file hit the same three writes in the same order; a bug that
// updates only some of them (e.g. the bitmap but not the superblock's
// running total) is the classic way an allocator's counters drift out of
// sync with its bitmaps, so that sequencing lives here exactly once
// instead of once per caller.
func (fs *FileSystem) commitGroupAndSuperblock(bgid uint32, bitmapBlock uint64, raw []byte, gd *groupDescriptor) error {
	if err := fs.writeBlock(bitmapBlock, raw); err != nil {
		return err
	}
	gd.updateChecksum(fs.sb.uuid, bgid)
	if err := fs.writeGroupDescriptor(bgid, gd); err != nil {
		return err
	}
	return fs.writeSuperblock()
}

// allocBlock allocates a new physical block for forInode's home block
// group and returns its absolute physical block number. Confined to the
// inode's home group: it does not spill to a neighboring group if the home
// group is full.
func (fs *FileSystem) allocBlock(forInode uint32) (uint64, error) {
	bgid := fs.blockGroupForInode(forInode)
	gd, err := fs.readGroupDescriptor(bgid)
	if err != nil {
		return 0, err
	}

	raw, err := fs.readBlock(uint64(gd.blockBitmapBlock))
	if err != nil {
		return 0, err
	}
	bm := bitmap.FromBytes(raw)
	free := bm.FirstFree(0)
	if free < 0 {
		return 0, fs.errorf(ext4err.ENOSPC, "no free blocks in group %d", bgid)
	}
	if err := bm.Set(free); err != nil {
		return 0, err
	}
	newRaw := bm.ToBytes()

	gd.blockBitmapCsum = uint16(bitmapChecksum(fs.sb.uuid, newRaw) & 0xffff)
	gd.freeBlocksCount--
	fs.sb.setFreeBlocksCount(fs.sb.freeBlocksCount() - 1)
	if err := fs.commitGroupAndSuperblock(bgid, uint64(gd.blockBitmapBlock), newRaw, gd); err != nil {
		return 0, err
	}

	pblock := fs.groupStartBlock(bgid) + uint64(free)
	fs.log.Tracef("alloc block %d in group %d ok", pblock, bgid)
	return pblock, nil
}

// groupStartBlock is the first block address a group's own bitmap indexes
// bit 0 against. With 4 KiB blocks the first data block is block 0, so
// group g simply starts g * blocks_per_group in.
func (fs *FileSystem) groupStartBlock(g uint32) uint64 {
	return uint64(fs.sb.firstDataBlock) + uint64(g)*uint64(fs.sb.blocksPerGroup)
}

// deallocBlock frees a block previously returned by allocBlock. Returns
// EINVAL if the bit is already clear (double-free, treated as corruption).
func (fs *FileSystem) deallocBlock(forInode uint32, pblock uint64) error {
	bgid := fs.blockGroupForInode(forInode)
	gd, err := fs.readGroupDescriptor(bgid)
	if err != nil {
		return err
	}
	idx := int(pblock - fs.groupStartBlock(bgid))

	raw, err := fs.readBlock(uint64(gd.blockBitmapBlock))
	if err != nil {
		return err
	}
	bm := bitmap.FromBytes(raw)
	set, err := bm.IsSet(idx)
	if err != nil {
		return err
	}
	if !set {
		return fs.errorf(ext4err.EINVAL, "block %d already free in group %d", pblock, bgid)
	}
	if err := bm.Clear(idx); err != nil {
		return err
	}
	newRaw := bm.ToBytes()

	gd.blockBitmapCsum = uint16(bitmapChecksum(fs.sb.uuid, newRaw) & 0xffff)
	gd.freeBlocksCount++
	fs.sb.setFreeBlocksCount(fs.sb.freeBlocksCount() + 1)
	if err := fs.commitGroupAndSuperblock(bgid, uint64(gd.blockBitmapBlock), newRaw, gd); err != nil {
		return err
	}
	fs.log.Tracef("free block %d in group %d ok", pblock, bgid)
	return nil
}

// allocInode scans groups in order, skipping any whose descriptor reports
// no free inodes, and returns the absolute inode number of the first free
// slot found (+1, since inode 0 is reserved).
func (fs *FileSystem) allocInode(isDir bool) (uint32, error) {
	numGroups := fs.sb.blockGroupCount()
	for bgid := uint32(0); bgid < numGroups; bgid++ {
		gd, err := fs.readGroupDescriptor(bgid)
		if err != nil {
			return 0, err
		}
		if gd.freeInodesCount == 0 {
			continue
		}
		inodeCount := int(fs.sb.inodeCountInGroup(bgid))

		raw, err := fs.readBlock(uint64(gd.inodeBitmapBlock))
		if err != nil {
			return 0, err
		}
		bm := bitmap.FromBytes(raw[:])
		idx := bm.FirstFree(0)
		if idx < 0 || idx >= inodeCount {
			continue
		}
		if err := bm.Set(idx); err != nil {
			return 0, err
		}
		newRaw := bm.ToBytes()

		gd.inodeBitmapCsum = uint16(bitmapChecksum(fs.sb.uuid, newRaw) & 0xffff)
		gd.freeInodesCount--
		if isDir {
			gd.usedDirsCount++
		}
		// itableUnused only shrinks when the new index crosses the
		// never-initialized frontier at the table's tail
		frontier := inodeCount - int(gd.itableUnused)
		if idx >= frontier {
			gd.itableUnused = uint16(inodeCount - (idx + 1))
		}
		fs.sb.freeInodes--
		if err := fs.commitGroupAndSuperblock(bgid, uint64(gd.inodeBitmapBlock), newRaw, gd); err != nil {
			return 0, err
		}

		id := bgid*fs.sb.inodesPerGroup + uint32(idx) + 1
		fs.log.Tracef("alloc inode %d ok", id)
		return id, nil
	}
	return 0, fs.errorf(ext4err.ENOSPC, "no free inodes")
}

// deallocInode frees the inode bitmap bit for id. It does not zero the
// inode record itself; the caller (freeInode) does that separately.
func (fs *FileSystem) deallocInode(id uint32, wasDir bool) error {
	bgid := fs.blockGroupForInode(id)
	idxInGroup := int((id - 1) % fs.sb.inodesPerGroup)

	gd, err := fs.readGroupDescriptor(bgid)
	if err != nil {
		return err
	}
	raw, err := fs.readBlock(uint64(gd.inodeBitmapBlock))
	if err != nil {
		return err
	}
	bm := bitmap.FromBytes(raw)
	set, err := bm.IsSet(idxInGroup)
	if err != nil {
		return err
	}
	if !set {
		return fs.errorf(ext4err.EINVAL, "inode %d already free in group %d", id, bgid)
	}
	if err := bm.Clear(idxInGroup); err != nil {
		return err
	}
	newRaw := bm.ToBytes()

	gd.inodeBitmapCsum = uint16(bitmapChecksum(fs.sb.uuid, newRaw) & 0xffff)
	gd.freeInodesCount++
	if wasDir && gd.usedDirsCount > 0 {
		gd.usedDirsCount--
	}
	// the freed slot counts toward the group's unused inode-table entries again
	gd.itableUnused++
	fs.sb.freeInodes++
	if err := fs.commitGroupAndSuperblock(bgid, uint64(gd.inodeBitmapBlock), newRaw, gd); err != nil {
		return err
	}
	fs.log.Tracef("free inode %d ok", id)
	return nil
}
