package ext4

import (
	"testing"

	"github.com/dragonos-community/ext4fs/util/bitmap"
)

// TestFreeCountsMatchBitmaps checks the invariant that every group
// descriptor's free_blocks_count/free_inodes_count equals what its own
// bitmap bytes actually say, and that the superblock-wide free_blocks
// total equals the sum across groups, after a sequence of allocations and
// frees. commitGroupAndSuperblock (alloc.go) is the only place any of
// these four numbers is written, so a drift here would mean its ordering
// guarantee broke down.
func TestFreeCountsMatchBitmaps(t *testing.T) {
	fs := newTestFS(t, 4096*4)

	var files []uint32
	for i := 0; i < 8; i++ {
		f, err := fs.Create(RootInodeID, string(rune('a'+i)), ModeFromTypeAndPerm(TypeRegular, 0o644))
		if err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		if _, err := fs.Write(f, 0, make([]byte, 4*BlockSize)); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
		files = append(files, f)
	}
	for i := 0; i < 4; i++ {
		if err := fs.Remove(RootInodeID, string(rune('a'+i))); err != nil {
			t.Fatalf("remove %d: %v", i, err)
		}
	}

	var summedFreeBlocks uint64
	numGroups := fs.sb.blockGroupCount()
	for bgid := uint32(0); bgid < numGroups; bgid++ {
		gd, err := fs.readGroupDescriptor(bgid)
		if err != nil {
			t.Fatalf("readGroupDescriptor(%d): %v", bgid, err)
		}

		blockRaw, err := fs.readBlock(uint64(gd.blockBitmapBlock))
		if err != nil {
			t.Fatalf("readBlock(block bitmap %d): %v", bgid, err)
		}
		blockBM := bitmap.FromBytes(blockRaw)
		blockCount := int(fs.groupBlockCount(bgid))
		if got := blockBM.CountFree(blockCount); got != int(gd.freeBlocksCount) {
			t.Fatalf("group %d: bitmap free blocks = %d, descriptor says %d",
				bgid, got, gd.freeBlocksCount)
		}

		inodeRaw, err := fs.readBlock(uint64(gd.inodeBitmapBlock))
		if err != nil {
			t.Fatalf("readBlock(inode bitmap %d): %v", bgid, err)
		}
		inodeBM := bitmap.FromBytes(inodeRaw)
		inodeCount := int(fs.sb.inodeCountInGroup(bgid))
		if inodeBM.CountFree(inodeCount) != int(gd.freeInodesCount) {
			t.Fatalf("group %d: bitmap free inodes = %d, descriptor says %d",
				bgid, inodeBM.CountFree(inodeCount), gd.freeInodesCount)
		}

		summedFreeBlocks += uint64(gd.freeBlocksCount)
	}
	if summedFreeBlocks != fs.sb.freeBlocksCount() {
		t.Fatalf("sum of per-group free_blocks_count = %d, superblock free_blocks_count = %d",
			summedFreeBlocks, fs.sb.freeBlocksCount())
	}

	for _, f := range files[4:] {
		if _, err := fs.readInodeRef(f); err != nil {
			t.Fatalf("surviving file %d unreadable: %v", f, err)
		}
	}
}
