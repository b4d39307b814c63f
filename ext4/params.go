package ext4

import "github.com/google/uuid"

// Params configures a fresh filesystem image, in the same shape as the host
// library's ext4 Params struct passed to its own Create entry point.
type Params struct {
	// BlockCount is the total number of BlockSize blocks the image spans.
	BlockCount uint64
	// InodeCount is the total number of inode slots across all groups.
	InodeCount uint32
	// BlocksPerGroup is the number of blocks each block group owns.
	BlocksPerGroup uint32
	// InodesPerGroup is the number of inode slots each block group owns.
	InodesPerGroup uint32
	// VolumeLabel is copied into the superblock's 16-byte volume name field.
	VolumeLabel string
	// UUID seeds every metadata checksum; a random UUID is generated if unset.
	UUID uuid.UUID
}

// DefaultParams returns a Params sized for a blockCount-block image at
// mkfs's conventional density: one inode per 16 KiB (4 blocks) of capacity,
// one block group per 8*BlockSize blocks (the number of bits one
// block-sized bitmap can address).
func DefaultParams(blockCount uint64) Params {
	blocksPerGroup := uint32(8 * BlockSize)
	groups := blockCount / uint64(blocksPerGroup)
	if blockCount%uint64(blocksPerGroup) != 0 {
		groups++
	}
	inodesPerGroup := uint32(blockCount / 4 / groups)
	if inodesPerGroup < 32 {
		inodesPerGroup = 32
	}
	// round up to a whole number of inode-table blocks
	inodesPerBlock := uint32(BlockSize / InodeSize)
	if inodesPerGroup%inodesPerBlock != 0 {
		inodesPerGroup += inodesPerBlock - inodesPerGroup%inodesPerBlock
	}
	return Params{
		BlockCount:     blockCount,
		InodeCount:     inodesPerGroup * uint32(groups),
		BlocksPerGroup: blocksPerGroup,
		InodesPerGroup: inodesPerGroup,
		VolumeLabel:    "",
	}
}
