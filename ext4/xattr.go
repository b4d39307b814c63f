package ext4

import (
	"encoding/binary"

	"github.com/dragonos-community/ext4fs/ext4err"
)

// xattrHeaderSize is the fixed prefix of a xattr block: magic, refcount,
// and reserved padding, matching the real ext4_xattr_header layout this
// engine targets byte-for-byte.
const xattrHeaderSize = 32

// xattr namespace prefixes, ext4's way of avoiding storing the common
// "user."/"system."/etc prefix in every entry's name bytes.
var xattrPrefixes = []struct {
	index  byte
	prefix string
}{
	{1, "user."},
	{4, "trusted."},
	{6, "security."},
	{7, "system."},
}

// splitXattrName separates a fully-qualified xattr name into its namespace
// index and the bare suffix stored on disk. Names with no recognized
// namespace prefix are stored whole under index 0.
func splitXattrName(name string) (index byte, suffix string) {
	for _, p := range xattrPrefixes {
		if len(name) > len(p.prefix) && name[:len(p.prefix)] == p.prefix {
			return p.index, name[len(p.prefix):]
		}
	}
	return 0, name
}

func joinXattrName(index byte, suffix string) string {
	for _, p := range xattrPrefixes {
		if p.index == index {
			return p.prefix + suffix
		}
	}
	return suffix
}

// xattrEntry is the in-memory form of one on-disk entry plus its value
// bytes, used both when parsing a block and when rebuilding one.
type xattrEntry struct {
	index byte
	name  string
	value []byte
}

// parseXattrBlock reads every entry out of a raw xattr block. Entries are
// packed forward from xattrHeaderSize and terminate at the first
// zero-length name, the same IS_LAST_ENTRY convention real ext4 relies on
// since the block is zero-initialized at allocation.
func parseXattrBlock(block []byte) []xattrEntry {
	var out []xattrEntry
	off := xattrHeaderSize
	for off+xattrEntrySize <= BlockSize {
		nameLen := int(block[off])
		if nameLen == 0 {
			break
		}
		index := block[off+1]
		valueOffs := int(binary.LittleEndian.Uint16(block[off+2 : off+4]))
		// bytes 4..8 are e_value_block, always 0 for a single-block store
		valueSize := int(binary.LittleEndian.Uint32(block[off+8 : off+12]))
		name := string(block[off+16 : off+16+nameLen])
		value := make([]byte, valueSize)
		copy(value, block[valueOffs:valueOffs+valueSize])
		out = append(out, xattrEntry{index: index, name: name, value: value})
		off += align4(xattrEntrySize + nameLen)
	}
	return out
}

// buildXattrBlock serializes entries into a fresh block: entry headers
// packed forward from xattrHeaderSize, value bytes packed backward from
// the block tail. Returns ok=false if entries do not fit together.
func buildXattrBlock(entries []xattrEntry) (block []byte, ok bool) {
	forward := xattrHeaderSize
	backward := 0
	for _, e := range entries {
		forward += align4(xattrEntrySize + len(e.name))
		backward += len(e.value)
	}
	if forward+backward > BlockSize {
		return nil, false
	}

	block = make([]byte, BlockSize)
	binary.LittleEndian.PutUint32(block[0:4], xattrHeaderMagic)
	binary.LittleEndian.PutUint32(block[4:8], 1)

	off := xattrHeaderSize
	valueEnd := BlockSize
	for _, e := range entries {
		valueEnd -= len(e.value)
		copy(block[valueEnd:valueEnd+len(e.value)], e.value)

		block[off] = byte(len(e.name))
		block[off+1] = e.index
		binary.LittleEndian.PutUint16(block[off+2:off+4], uint16(valueEnd))
		binary.LittleEndian.PutUint32(block[off+8:off+12], uint32(len(e.value)))
		copy(block[off+16:off+16+len(e.name)], e.name)
		off += align4(xattrEntrySize + len(e.name))
	}
	return block, true
}

// xattrSet replaces a prior entry of the same (namespace, name) by
// dropping it from the parsed list and rebuilding the block, which
// naturally compacts both the entry table and the value region.
func (fs *FileSystem) xattrSet(ref *inodeRef, name string, value []byte) error {
	index, suffix := splitXattrName(name)

	var entries []xattrEntry
	if ref.in.xattrBlock != 0 {
		block, err := fs.readBlock(ref.in.xattrBlock)
		if err != nil {
			return err
		}
		for _, e := range parseXattrBlock(block) {
			if e.index == index && e.name == suffix {
				continue
			}
			entries = append(entries, e)
		}
	}
	valueCopy := make([]byte, len(value))
	copy(valueCopy, value)
	entries = append(entries, xattrEntry{index: index, name: suffix, value: valueCopy})

	block, ok := buildXattrBlock(entries)
	if !ok {
		return fs.errorf(ext4err.ENOSPC, "xattr block full, cannot set %q", name)
	}

	if ref.in.xattrBlock == 0 {
		pblock, err := fs.allocBlock(ref.id)
		if err != nil {
			return err
		}
		ref.in.xattrBlock = pblock
	}
	if err := fs.writeBlock(ref.in.xattrBlock, block); err != nil {
		return err
	}
	return fs.writeInodeWithChecksum(ref)
}

// xattrGet is a linear scan returning a copy of the matching value, or
// ENOENT.
func (fs *FileSystem) xattrGet(ref *inodeRef, name string) ([]byte, error) {
	if ref.in.xattrBlock == 0 {
		return nil, fs.errorf(ext4err.ENOENT, "no xattr %q", name)
	}
	block, err := fs.readBlock(ref.in.xattrBlock)
	if err != nil {
		return nil, err
	}
	index, suffix := splitXattrName(name)
	for _, e := range parseXattrBlock(block) {
		if e.index == index && e.name == suffix {
			out := make([]byte, len(e.value))
			copy(out, e.value)
			return out, nil
		}
	}
	return nil, fs.errorf(ext4err.ENOENT, "no xattr %q", name)
}

// xattrList returns every name, namespace-prefixed, in on-disk (insertion)
// order.
func (fs *FileSystem) xattrList(ref *inodeRef) ([]string, error) {
	if ref.in.xattrBlock == 0 {
		return nil, nil
	}
	block, err := fs.readBlock(ref.in.xattrBlock)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range parseXattrBlock(block) {
		names = append(names, joinXattrName(e.index, e.name))
	}
	return names, nil
}

// xattrRemove drops the matching entry and rebuilds the block; if no
// entries remain, the xattr block itself is freed and inode.xattr_block
// cleared.
func (fs *FileSystem) xattrRemove(ref *inodeRef, name string) error {
	if ref.in.xattrBlock == 0 {
		return fs.errorf(ext4err.ENOENT, "no xattr %q", name)
	}
	block, err := fs.readBlock(ref.in.xattrBlock)
	if err != nil {
		return err
	}
	index, suffix := splitXattrName(name)

	found := false
	var remaining []xattrEntry
	for _, e := range parseXattrBlock(block) {
		if e.index == index && e.name == suffix {
			found = true
			continue
		}
		remaining = append(remaining, e)
	}
	if !found {
		return fs.errorf(ext4err.ENOENT, "no xattr %q", name)
	}

	if len(remaining) == 0 {
		xattrBlock := ref.in.xattrBlock
		if err := fs.deallocBlock(ref.id, xattrBlock); err != nil {
			return err
		}
		if err := fs.writeBlock(xattrBlock, make([]byte, BlockSize)); err != nil {
			return err
		}
		ref.in.xattrBlock = 0
		return fs.writeInodeWithChecksum(ref)
	}

	newBlock, ok := buildXattrBlock(remaining)
	if !ok {
		return fs.errorf(ext4err.EINVAL, "xattr block corrupt: remaining entries do not fit")
	}
	return fs.writeBlock(ref.in.xattrBlock, newBlock)
}

// SetXattr stores name=value on ino, replacing any prior value for name.
func (fs *FileSystem) SetXattr(ino uint32, name string, value []byte) error {
	ref, err := fs.readInodeRef(ino)
	if err != nil {
		return err
	}
	return fs.xattrSet(ref, name, value)
}

// GetXattr returns a copy of ino's value for name, or ENOENT.
func (fs *FileSystem) GetXattr(ino uint32, name string) ([]byte, error) {
	ref, err := fs.readInodeRef(ino)
	if err != nil {
		return nil, err
	}
	return fs.xattrGet(ref, name)
}

// ListXattr returns every xattr name set on ino, namespace-prefixed, in
// insertion order.
func (fs *FileSystem) ListXattr(ino uint32) ([]string, error) {
	ref, err := fs.readInodeRef(ino)
	if err != nil {
		return nil, err
	}
	return fs.xattrList(ref)
}

// RemoveXattr deletes name from ino, or returns ENOENT if not set.
func (fs *FileSystem) RemoveXattr(ino uint32, name string) error {
	ref, err := fs.readInodeRef(ino)
	if err != nil {
		return err
	}
	return fs.xattrRemove(ref, name)
}
