package ext4

import (
	"encoding/binary"
	"sort"

	"github.com/dragonos-community/ext4fs/ext4err"
)

// An extent-tree node's 12-byte entries are either leaf Extent records or
// interior ExtentIndex records, but both put their ordering key
// (start_lblock) at byte offset 0, so search/insert/split can treat either
// kind as an opaque rawEntry and never needs to know which it holds until a
// caller decodes it.
type rawEntry [extentEntrySize]byte

func (e rawEntry) startLblock() uint32 { return binary.LittleEndian.Uint32(e[0:4]) }

func encodeExtentIndex(startLblock uint32, leaf uint64) rawEntry {
	var e rawEntry
	le := binary.LittleEndian
	le.PutUint32(e[0:4], startLblock)
	le.PutUint32(e[4:8], uint32(leaf))
	le.PutUint16(e[8:10], uint16(leaf>>32))
	return e
}

func decodeExtentIndex(e rawEntry) (startLblock uint32, leaf uint64) {
	le := binary.LittleEndian
	startLblock = le.Uint32(e[0:4])
	leaf = uint64(le.Uint32(e[4:8])) | uint64(le.Uint16(e[8:10]))<<32
	return
}

func encodeExtent(startLblock uint32, blockCount uint16, startPblock uint64) rawEntry {
	var e rawEntry
	le := binary.LittleEndian
	le.PutUint32(e[0:4], startLblock)
	le.PutUint16(e[4:6], blockCount)
	le.PutUint16(e[6:8], uint16(startPblock>>32))
	le.PutUint32(e[8:12], uint32(startPblock))
	return e
}

func decodeExtent(e rawEntry) (startLblock uint32, blockCount uint16, startPblock uint64) {
	le := binary.LittleEndian
	startLblock = le.Uint32(e[0:4])
	blockCount = le.Uint16(e[4:6])
	startPblock = uint64(le.Uint32(e[8:12])) | uint64(le.Uint16(e[6:8]))<<32
	return
}

// node header accessors operate directly on a node's backing buffer, which
// is either the inode's inline 60-byte area (the root) or a full block
// buffer (every other node).
func headerEntries(b []byte) int { return int(binary.LittleEndian.Uint16(b[2:4])) }
func setHeaderEntries(b []byte, n int) {
	binary.LittleEndian.PutUint16(b[2:4], uint16(n))
}
func headerMax(b []byte) int { return int(binary.LittleEndian.Uint16(b[4:6])) }
func headerDepth(b []byte) int { return int(binary.LittleEndian.Uint16(b[6:8])) }
func setHeaderDepth(b []byte, d int) {
	binary.LittleEndian.PutUint16(b[6:8], uint16(d))
}

func initNodeHeader(b []byte, depth, entries, max int) {
	le := binary.LittleEndian
	le.PutUint16(b[0:2], extentHeaderMagic)
	le.PutUint16(b[2:4], uint16(entries))
	le.PutUint16(b[4:6], uint16(max))
	le.PutUint16(b[6:8], uint16(depth))
	le.PutUint32(b[8:12], 0) // generation, unused by this engine
}

func initExtentRoot(inline []byte) {
	initNodeHeader(inline, 0, 0, extentRootMaxEntries)
}

func nodeRawEntry(b []byte, i int) rawEntry {
	var e rawEntry
	off := extentHeaderSize + i*extentEntrySize
	copy(e[:], b[off:off+extentEntrySize])
	return e
}

func nodeSetRawEntry(b []byte, i int, e rawEntry) {
	off := extentHeaderSize + i*extentEntrySize
	copy(b[off:off+extentEntrySize], e[:])
}

// nodeInsertRaw inserts entry at pos, shifting later entries right. If the
// node has room, it returns nil. If the node is full, it keeps roughly the
// first half of the post-insert sequence in b and returns the remainder as
// a "split residue" for the caller to place in a new sibling node.
func nodeInsertRaw(b []byte, entry rawEntry, pos, max int) []rawEntry {
	n := headerEntries(b)
	all := make([]rawEntry, 0, n+1)
	for i := 0; i < pos; i++ {
		all = append(all, nodeRawEntry(b, i))
	}
	all = append(all, entry)
	for i := pos; i < n; i++ {
		all = append(all, nodeRawEntry(b, i))
	}

	if len(all) <= max {
		for i, e := range all {
			nodeSetRawEntry(b, i, e)
		}
		setHeaderEntries(b, len(all))
		return nil
	}

	keep := (len(all) + 1) / 2
	for i := 0; i < keep; i++ {
		nodeSetRawEntry(b, i, all[i])
	}
	setHeaderEntries(b, keep)
	residue := make([]rawEntry, len(all)-keep)
	copy(residue, all[keep:])
	return residue
}

// searchExtentIndex returns the index of the entry whose start_lblock is
// the largest value <= iblock (the subtree to descend into), found by a
// binary search over the node's ordered entries. If every entry starts
// after iblock, it returns 0.
func searchExtentIndex(b []byte, iblock uint32) int {
	n := headerEntries(b)
	i := sort.Search(n, func(i int) bool { return nodeRawEntry(b, i).startLblock() > iblock })
	if i == 0 {
		return 0
	}
	return i - 1
}

// searchExtent returns (index, true) if iblock falls within leaf entry
// index's logical range, or (insertPos, false) if no entry covers it.
func searchExtent(b []byte, iblock uint32) (int, bool) {
	n := headerEntries(b)
	for i := 0; i < n; i++ {
		start, count, _ := decodeExtent(nodeRawEntry(b, i))
		if iblock >= start && iblock < start+uint32(count) {
			return i, true
		}
		if iblock < start {
			return i, false
		}
	}
	return n, false
}

// searchStep records one hop of a root-to-leaf walk: the physical block the
// node at this level lives in (0 means the root, inline in the inode), and
// either the index of a found entry or the position a new entry should be
// inserted at.
type searchStep struct {
	pblock uint64
	index  int
	found  bool
}

type inodeRef struct {
	id uint32
	in *inode
}

func (fs *FileSystem) nodeAt(ref *inodeRef, pblock uint64) ([]byte, error) {
	if pblock == 0 {
		return ref.in.inline[:], nil
	}
	return fs.readBlock(pblock)
}

func (fs *FileSystem) findExtent(ref *inodeRef, iblock uint32) ([]searchStep, error) {
	var path []searchStep
	node := ref.in.inline[:]
	pblock := uint64(0)
	for headerDepth(node) > 0 {
		idx := searchExtentIndex(node, iblock)
		path = append(path, searchStep{pblock: pblock, index: idx, found: true})
		_, leaf := decodeExtentIndex(nodeRawEntry(node, idx))
		block, err := fs.readBlock(leaf)
		if err != nil {
			return nil, err
		}
		node = block
		pblock = leaf
	}
	idx, found := searchExtent(node, iblock)
	path = append(path, searchStep{pblock: pblock, index: idx, found: found})
	return path, nil
}

// ExtentQuery resolves a logical block to its physical block, or ENOENT if
// no extent covers it.
func (fs *FileSystem) ExtentQuery(ref *inodeRef, iblock uint32) (uint64, error) {
	path, err := fs.findExtent(ref, iblock)
	if err != nil {
		return 0, err
	}
	leaf := path[len(path)-1]
	if !leaf.found {
		return 0, ext4err.New(ext4err.ENOENT, "no extent covers logical block %d", iblock)
	}
	node, err := fs.nodeAt(ref, leaf.pblock)
	if err != nil {
		return 0, err
	}
	start, _, pblock := decodeExtent(nodeRawEntry(node, leaf.index))
	return pblock + uint64(iblock-start), nil
}

// ExtentQueryOrCreate resolves a logical block to its physical block,
// allocating and inserting a new extent (capped to blockCount blocks) if
// none exists yet.
func (fs *FileSystem) ExtentQueryOrCreate(ref *inodeRef, iblock uint32, blockCount uint32) (uint64, error) {
	path, err := fs.findExtent(ref, iblock)
	if err != nil {
		return 0, err
	}
	leaf := path[len(path)-1]
	if leaf.found {
		node, err := fs.nodeAt(ref, leaf.pblock)
		if err != nil {
			return 0, err
		}
		start, _, pblock := decodeExtent(nodeRawEntry(node, leaf.index))
		return pblock + uint64(iblock-start), nil
	}

	if blockCount > MaxBlocksPerExtent {
		blockCount = MaxBlocksPerExtent
	}
	fblock, err := fs.allocBlock(ref.id)
	if err != nil {
		return 0, err
	}
	newEntry := encodeExtent(iblock, uint16(blockCount), fblock)
	if err := fs.insertExtent(ref, path, newEntry); err != nil {
		return 0, err
	}
	return fblock, nil
}

func (fs *FileSystem) insertExtent(ref *inodeRef, path []searchStep, entry rawEntry) error {
	leaf := path[len(path)-1]

	if leaf.pblock == 0 {
		residue := nodeInsertRaw(ref.in.inline[:], entry, leaf.index, extentRootMaxEntries)
		if err := fs.writeInodeWithChecksum(ref); err != nil {
			return err
		}
		if residue == nil {
			return nil
		}
		return fs.splitRoot(ref, residue)
	}

	block, err := fs.readBlock(leaf.pblock)
	if err != nil {
		return err
	}
	residue := nodeInsertRaw(block, entry, leaf.index, extentBlockMaxEntries)
	if err := fs.writeBlock(leaf.pblock, block); err != nil {
		return err
	}
	if residue == nil {
		return nil
	}

	for i := len(path) - 2; i >= 0; i-- {
		parent := path[i]
		next, err := fs.splitSibling(ref, parent.pblock, parent.index, residue)
		if err != nil {
			return err
		}
		if next == nil {
			return nil
		}
		residue = next
	}
	return fs.splitRoot(ref, residue)
}

// splitSibling stores residue in a freshly allocated right-sibling block
// and inserts an ExtentIndex pointing to it into the parent node at
// childPos+1. If that insertion itself overflows the parent, the parent's
// own residue is returned for the caller to propagate further up.
func (fs *FileSystem) splitSibling(ref *inodeRef, parentPblock uint64, childPos int, residue []rawEntry) ([]rawEntry, error) {
	rightBid, err := fs.allocBlock(ref.id)
	if err != nil {
		return nil, err
	}
	rightBlock := make([]byte, BlockSize)
	initNodeHeader(rightBlock, 0, len(residue), extentBlockMaxEntries)
	for i, e := range residue {
		nodeSetRawEntry(rightBlock, i, e)
	}

	parentNode, err := fs.nodeAt(ref, parentPblock)
	if err != nil {
		return nil, err
	}
	parentDepth := headerDepth(parentNode)
	indexEntry := encodeExtentIndex(residue[0].startLblock(), rightBid)
	max := extentBlockMaxEntries
	if parentPblock == 0 {
		max = extentRootMaxEntries
	}
	parentResidue := nodeInsertRaw(parentNode, indexEntry, childPos+1, max)

	setHeaderDepth(rightBlock, parentDepth-1)
	if err := fs.writeBlock(rightBid, rightBlock); err != nil {
		return nil, err
	}
	if parentPblock == 0 {
		if err := fs.writeInodeWithChecksum(ref); err != nil {
			return nil, err
		}
	} else if err := fs.writeBlock(parentPblock, parentNode); err != nil {
		return nil, err
	}
	return parentResidue, nil
}

// splitRoot grows the tree by one level: the root's current contents move
// into a new left block, residue moves into a new right block, and the
// root is rewritten as a depth+1 node with exactly two ExtentIndex entries.
func (fs *FileSystem) splitRoot(ref *inodeRef, residue []rawEntry) error {
	lBid, err := fs.allocBlock(ref.id)
	if err != nil {
		return err
	}
	rBid, err := fs.allocBlock(ref.id)
	if err != nil {
		return err
	}

	root := ref.in.inline[:]
	depth := headerDepth(root)
	entries := headerEntries(root)

	left := make([]byte, BlockSize)
	initNodeHeader(left, depth, entries, extentBlockMaxEntries)
	for i := 0; i < entries; i++ {
		nodeSetRawEntry(left, i, nodeRawEntry(root, i))
	}

	right := make([]byte, BlockSize)
	initNodeHeader(right, depth, len(residue), extentBlockMaxEntries)
	for i, e := range residue {
		nodeSetRawEntry(right, i, e)
	}

	leftFirst := nodeRawEntry(left, 0).startLblock()
	rightFirst := residue[0].startLblock()
	initNodeHeader(root, depth+1, 2, extentRootMaxEntries)
	nodeSetRawEntry(root, 0, encodeExtentIndex(leftFirst, lBid))
	nodeSetRawEntry(root, 1, encodeExtentIndex(rightFirst, rBid))

	if err := fs.writeBlock(lBid, left); err != nil {
		return err
	}
	if err := fs.writeBlock(rBid, right); err != nil {
		return err
	}
	return fs.writeInodeWithChecksum(ref)
}

// ExtentAllDataBlocks enumerates every physical block a leaf extent covers,
// expanding each entry's block_count into individual block ids. Drives
// freeInode's data-block reclamation phase.
func (fs *FileSystem) ExtentAllDataBlocks(ref *inodeRef) ([]uint64, error) {
	var out []uint64
	err := fs.walkExtentTree(ref.in.inline[:], func(node []byte, depth int) error {
		if depth != 0 {
			return nil
		}
		for i := 0; i < headerEntries(node); i++ {
			_, count, start := decodeExtent(nodeRawEntry(node, i))
			for j := uint16(0); j < count; j++ {
				out = append(out, start+uint64(j))
			}
		}
		return nil
	})
	return out, err
}

// ExtentAllTreeBlocks enumerates every physical block holding an interior
// node or non-root leaf node (i.e. every ExtentIndex.leaf value reachable
// from the root). The root itself lives inline in the inode and is never
// included.
func (fs *FileSystem) ExtentAllTreeBlocks(ref *inodeRef) ([]uint64, error) {
	var out []uint64
	err := fs.walkExtentTree(ref.in.inline[:], func(node []byte, depth int) error {
		if depth == 0 {
			return nil
		}
		for i := 0; i < headerEntries(node); i++ {
			_, leaf := decodeExtentIndex(nodeRawEntry(node, i))
			out = append(out, leaf)
		}
		return nil
	})
	return out, err
}

// walkExtentTree calls visit once per node in the tree rooted at root
// (which may be the inode's inline area), pre-order, then recurses into
// every interior entry's child.
func (fs *FileSystem) walkExtentTree(root []byte, visit func(node []byte, depth int) error) error {
	depth := headerDepth(root)
	if err := visit(root, depth); err != nil {
		return err
	}
	if depth == 0 {
		return nil
	}
	for i := 0; i < headerEntries(root); i++ {
		_, leaf := decodeExtentIndex(nodeRawEntry(root, i))
		child, err := fs.readBlock(leaf)
		if err != nil {
			return err
		}
		if err := fs.walkExtentTree(child, visit); err != nil {
			return err
		}
	}
	return nil
}
