package ext4

import (
	"encoding/binary"

	"github.com/dragonos-community/ext4fs/ext4err"
)

// dirEntry is the in-memory form of one packed variable-length directory
// record: inode (0 = tombstone/free slack), rec_len (covers the entry
// including padding), name_len, file_type, and the raw name.
type dirEntry struct {
	inodeID  uint32
	recLen   uint16
	fileType byte
	name     string
}

func align4(n int) int { return (n + dirEntryAlignment - 1) &^ (dirEntryAlignment - 1) }

func entrySize(nameLen int) int { return align4(dirEntryHeaderSize + nameLen) }

func parseDirEntry(b []byte, off int) dirEntry {
	le := binary.LittleEndian
	inodeID := le.Uint32(b[off : off+4])
	recLen := le.Uint16(b[off+4 : off+6])
	nameLen := int(b[off+6])
	fileType := b[off+7]
	name := string(b[off+8 : off+8+nameLen])
	return dirEntry{inodeID: inodeID, recLen: recLen, fileType: fileType, name: name}
}

func writeDirEntry(b []byte, off int, e dirEntry) {
	le := binary.LittleEndian
	le.PutUint32(b[off:off+4], e.inodeID)
	le.PutUint16(b[off+4:off+6], e.recLen)
	b[off+6] = byte(len(e.name))
	b[off+7] = e.fileType
	copy(b[off+8:off+8+len(e.name)], e.name)
}

func (fs *FileSystem) dirNumBlocks(ref *inodeRef) int {
	return int(ref.in.size / BlockSize)
}

// dirLookup scans every data block of ref's directory looking for name,
// returning its inode id if found.
func (fs *FileSystem) dirLookup(ref *inodeRef, name string) (uint32, bool, error) {
	numBlocks := fs.dirNumBlocks(ref)
	for lb := 0; lb < numBlocks; lb++ {
		pblock, err := fs.ExtentQuery(ref, uint32(lb))
		if err != nil {
			return 0, false, err
		}
		block, err := fs.readBlock(pblock)
		if err != nil {
			return 0, false, err
		}
		off := 0
		for off < BlockSize {
			e := parseDirEntry(block, off)
			if e.recLen == 0 {
				break
			}
			if e.inodeID != 0 && e.name == name {
				return e.inodeID, true, nil
			}
			off += int(e.recLen)
		}
	}
	return 0, false, nil
}

// dirList returns every live (non-tombstone) entry across all blocks, in
// on-disk order.
func (fs *FileSystem) dirList(ref *inodeRef) ([]dirEntry, error) {
	var out []dirEntry
	numBlocks := fs.dirNumBlocks(ref)
	for lb := 0; lb < numBlocks; lb++ {
		pblock, err := fs.ExtentQuery(ref, uint32(lb))
		if err != nil {
			return nil, err
		}
		block, err := fs.readBlock(pblock)
		if err != nil {
			return nil, err
		}
		off := 0
		for off < BlockSize {
			e := parseDirEntry(block, off)
			if e.recLen == 0 {
				break
			}
			if e.inodeID != 0 {
				out = append(out, e)
			}
			off += int(e.recLen)
		}
	}
	return out, nil
}

// dirAddEntry inserts a new (name -> targetID) record, splitting the first
// slot whose slack covers it, or appending a fresh data block if no
// existing block has room.
func (fs *FileSystem) dirAddEntry(ref *inodeRef, targetID uint32, name string, fileType byte) error {
	needed := entrySize(len(name))
	if needed > BlockSize {
		return ext4err.New(ext4err.EINVAL, "name %q too long", name)
	}

	numBlocks := fs.dirNumBlocks(ref)
	for lb := 0; lb < numBlocks; lb++ {
		pblock, err := fs.ExtentQuery(ref, uint32(lb))
		if err != nil {
			return err
		}
		block, err := fs.readBlock(pblock)
		if err != nil {
			return err
		}
		if fs.tryInsertIntoBlock(block, needed, targetID, name, fileType) {
			if err := fs.writeBlock(pblock, block); err != nil {
				return err
			}
			return nil
		}
	}

	_, pblock, err := fs.inodeAppendBlock(ref)
	if err != nil {
		return err
	}
	block := make([]byte, BlockSize)
	writeDirEntry(block, 0, dirEntry{recLen: uint16(BlockSize)}) // whole block starts as one free slot
	if !fs.tryInsertIntoBlock(block, needed, targetID, name, fileType) {
		return ext4err.New(ext4err.EINVAL, "entry %q does not fit in a fresh block", name)
	}
	if err := fs.writeBlock(pblock, block); err != nil {
		return err
	}
	ref.in.size += BlockSize
	return fs.writeInodeWithChecksum(ref)
}

// tryInsertIntoBlock finds the first slot in block whose slack is >= needed
// and splits it, writing the new entry and, if room remains, a trailing
// free placeholder. Returns false if no slot in this block has room.
func (fs *FileSystem) tryInsertIntoBlock(block []byte, needed int, targetID uint32, name string, fileType byte) bool {
	off := 0
	for off < BlockSize {
		e := parseDirEntry(block, off)
		if e.recLen == 0 {
			return false
		}
		used := 0
		if e.inodeID != 0 {
			used = entrySize(len(e.name))
		}
		slack := int(e.recLen) - used
		if slack >= needed {
			remainder := slack - needed
			if used > 0 {
				occupant := e
				occupant.recLen = uint16(used)
				writeDirEntry(block, off, occupant)
				off += used
			}
			if remainder >= dirEntryHeaderSize {
				writeDirEntry(block, off, dirEntry{inodeID: targetID, recLen: uint16(needed), fileType: fileType, name: name})
				writeDirEntry(block, off+needed, dirEntry{recLen: uint16(remainder)})
			} else {
				writeDirEntry(block, off, dirEntry{inodeID: targetID, recLen: uint16(needed + remainder), fileType: fileType, name: name})
			}
			return true
		}
		off += int(e.recLen)
	}
	return false
}

// dirRemoveEntry clears name's entry (sets inode = 0, a tombstone) and
// coalesces it into the preceding live entry's rec_len in place.
// Reclamation of an all-tombstone block is left lazy.
func (fs *FileSystem) dirRemoveEntry(ref *inodeRef, name string) error {
	numBlocks := fs.dirNumBlocks(ref)
	for lb := 0; lb < numBlocks; lb++ {
		pblock, err := fs.ExtentQuery(ref, uint32(lb))
		if err != nil {
			return err
		}
		block, err := fs.readBlock(pblock)
		if err != nil {
			return err
		}
		off := 0
		prevOff := -1
		for off < BlockSize {
			e := parseDirEntry(block, off)
			if e.recLen == 0 {
				break
			}
			if e.inodeID != 0 && e.name == name {
				if prevOff >= 0 {
					prev := parseDirEntry(block, prevOff)
					prev.recLen += e.recLen
					writeDirEntry(block, prevOff, prev)
				} else {
					writeDirEntry(block, off, dirEntry{recLen: e.recLen})
				}
				return fs.writeBlock(pblock, block)
			}
			prevOff = off
			off += int(e.recLen)
		}
	}
	return ext4err.New(ext4err.ENOENT, "directory entry %q not found", name)
}

// dirSetEntryInode rewrites name's target inode id in place, used by
// RenameExchange to swap two entries without touching rec_len/name bytes.
func (fs *FileSystem) dirSetEntryInode(ref *inodeRef, name string, newID uint32) error {
	numBlocks := fs.dirNumBlocks(ref)
	for lb := 0; lb < numBlocks; lb++ {
		pblock, err := fs.ExtentQuery(ref, uint32(lb))
		if err != nil {
			return err
		}
		block, err := fs.readBlock(pblock)
		if err != nil {
			return err
		}
		off := 0
		for off < BlockSize {
			e := parseDirEntry(block, off)
			if e.recLen == 0 {
				break
			}
			if e.inodeID != 0 && e.name == name {
				binary.LittleEndian.PutUint32(block[off:off+4], newID)
				return fs.writeBlock(pblock, block)
			}
			off += int(e.recLen)
		}
	}
	return ext4err.New(ext4err.ENOENT, "directory entry %q not found", name)
}
