package ext4

import (
	"strings"

	"github.com/dragonos-community/ext4fs/ext4err"
	"github.com/dragonos-community/ext4fs/util/timestamp"
)

// maxNameLen is ext4's on-disk limit for a single directory entry's name
// (name_len is a single byte, but real ext4 additionally caps names at 255
// to leave room for file_type in the same byte range of tooling that packs
// the two together).
const maxNameLen = 255

func validateName(name string) error {
	if name == "" {
		return ext4err.New(ext4err.EINVAL, "name is empty")
	}
	if strings.Contains(name, "/") {
		return ext4err.New(ext4err.EINVAL, "name %q contains '/'", name)
	}
	if len(name) > maxNameLen {
		return ext4err.New(ext4err.EINVAL, "name %q exceeds %d bytes", name, maxNameLen)
	}
	return nil
}

func now() uint32 { return timestamp.Now() }

// Create allocates a new inode of the given mode and links it into parent
// under name. Directories additionally receive their `.`/`..` entries and
// the parent's link_count is bumped.
func (fs *FileSystem) Create(parent uint32, name string, mode uint16) (uint32, error) {
	if err := validateName(name); err != nil {
		return 0, err
	}
	parentRef, err := fs.readInodeRef(parent)
	if err != nil {
		return 0, err
	}
	if !parentRef.in.isDir() {
		return 0, fs.errorf(ext4err.ENOTDIR, "parent inode %d is not a directory", parent)
	}
	if _, exists, err := fs.dirLookup(parentRef, name); err != nil {
		return 0, err
	} else if exists {
		return 0, fs.errorf(ext4err.EEXIST, "%q already exists", name)
	}

	childRef, err := fs.createInode(mode)
	if err != nil {
		return 0, err
	}
	ts := now()
	childRef.in.atime, childRef.in.ctime, childRef.in.mtime, childRef.in.crtime = ts, ts, ts, ts

	isDir := childRef.in.isDir()
	if isDir {
		if err := fs.dirAddEntry(childRef, childRef.id, ".", directoryFileTypeDir); err != nil {
			return 0, err
		}
		if err := fs.dirAddEntry(childRef, parent, "..", directoryFileTypeDir); err != nil {
			return 0, err
		}
		childRef.in.linkCount = 2
		parentRef.in.linkCount++
	} else {
		childRef.in.linkCount = 1
	}
	if err := fs.writeInodeWithChecksum(childRef); err != nil {
		return 0, err
	}

	if err := fs.dirAddEntry(parentRef, childRef.id, name, dirFileTypeForMode(mode)); err != nil {
		return 0, err
	}
	if isDir {
		// dirAddEntry only re-persists the parent inode when it had to
		// append a fresh block; the link_count bump above must reach disk
		// regardless of whether that happened.
		if err := fs.writeInodeWithChecksum(parentRef); err != nil {
			return 0, err
		}
	}
	return childRef.id, nil
}

// Lookup resolves a `/`-separated path relative to parent, one directory
// scan per component. `.` and `..` fall out of ordinary dirLookup since
// every directory carries real entries for both. Symlinks are not followed.
func (fs *FileSystem) Lookup(parent uint32, p string) (uint32, error) {
	cur := parent
	for _, seg := range strings.Split(p, "/") {
		if seg == "" {
			continue
		}
		ref, err := fs.readInodeRef(cur)
		if err != nil {
			return 0, err
		}
		if !ref.in.isDir() {
			return 0, fs.errorf(ext4err.ENOTDIR, "%q is not a directory", seg)
		}
		id, ok, err := fs.dirLookup(ref, seg)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, fs.errorf(ext4err.ENOENT, "no such entry %q", seg)
		}
		cur = id
	}
	return cur, nil
}

// Read copies up to len(buf) bytes starting at offset into buf, returning
// the number of bytes actually read; 0 with a nil error signals EOF.
// Logical blocks never covered by an extent (a hole) read back as zeros.
func (fs *FileSystem) Read(ino uint32, offset int64, buf []byte) (int, error) {
	if offset < 0 {
		return 0, fs.errorf(ext4err.EINVAL, "negative offset %d", offset)
	}
	ref, err := fs.readInodeRef(ino)
	if err != nil {
		return 0, err
	}
	if ref.in.isDir() {
		return 0, fs.errorf(ext4err.EISDIR, "inode %d is a directory", ino)
	}
	size := int64(ref.in.size)
	if offset >= size || len(buf) == 0 {
		return 0, nil
	}
	want := int64(len(buf))
	if remain := size - offset; want > remain {
		want = remain
	}

	var done int64
	for done < want {
		lblock := uint32((offset + done) / BlockSize)
		within := int((offset + done) % BlockSize)
		block, err := fs.blockForRead(ref, lblock)
		if err != nil {
			return int(done), err
		}
		chunk := int64(BlockSize - within)
		if left := want - done; chunk > left {
			chunk = left
		}
		copy(buf[done:done+chunk], block[within:within+int(chunk)])
		done += chunk
	}
	return int(done), nil
}

// Write copies buf into ino starting at offset, allocating data blocks via
// inodeAppendBlock as needed and extending inode.size. A write whose offset
// starts beyond the current block_count fills the gap with freshly
// allocated zero blocks rather than leaving a hole.
func (fs *FileSystem) Write(ino uint32, offset int64, buf []byte) (int, error) {
	if offset < 0 {
		return 0, fs.errorf(ext4err.EINVAL, "negative offset %d", offset)
	}
	ref, err := fs.readInodeRef(ino)
	if err != nil {
		return 0, err
	}
	if ref.in.isDir() {
		return 0, fs.errorf(ext4err.EISDIR, "inode %d is a directory", ino)
	}

	var done int64
	n := int64(len(buf))
	for done < n {
		lblock := uint32((offset + done) / BlockSize)
		within := int((offset + done) % BlockSize)
		for uint64(lblock) >= ref.in.blockCount {
			if _, _, err := fs.inodeAppendBlock(ref); err != nil {
				return int(done), err
			}
		}
		pblock, err := fs.ExtentQuery(ref, lblock)
		if err != nil {
			return int(done), err
		}
		block, err := fs.readBlock(pblock)
		if err != nil {
			return int(done), err
		}
		chunk := int64(BlockSize - within)
		if left := n - done; chunk > left {
			chunk = left
		}
		copy(block[within:within+int(chunk)], buf[done:done+chunk])
		if err := fs.writeBlock(pblock, block); err != nil {
			return int(done), err
		}
		done += chunk
	}

	if end := uint64(offset + done); end > ref.in.size {
		ref.in.size = end
	}
	ts := now()
	ref.in.mtime, ref.in.ctime = ts, ts
	if err := fs.writeInodeWithChecksum(ref); err != nil {
		return int(done), err
	}
	return int(done), nil
}

// Remove unlinks name from parent. A directory target must be empty
// (only its own `.`/`..` entries) or ENOTEMPTY is returned; the root
// inode can never be removed (EBUSY). A regular file's inode is only
// freed once its link_count reaches zero.
func (fs *FileSystem) Remove(parent uint32, name string) error {
	if name == "." || name == ".." {
		return fs.errorf(ext4err.EINVAL, "cannot remove %q", name)
	}
	parentRef, err := fs.readInodeRef(parent)
	if err != nil {
		return err
	}
	if !parentRef.in.isDir() {
		return fs.errorf(ext4err.ENOTDIR, "parent inode %d is not a directory", parent)
	}
	childID, ok, err := fs.dirLookup(parentRef, name)
	if err != nil {
		return err
	}
	if !ok {
		return fs.errorf(ext4err.ENOENT, "no such entry %q", name)
	}
	if childID == RootInodeID {
		return fs.errorf(ext4err.EBUSY, "cannot remove the root directory")
	}
	childRef, err := fs.readInodeRef(childID)
	if err != nil {
		return err
	}

	if childRef.in.isDir() {
		entries, err := fs.dirList(childRef)
		if err != nil {
			return err
		}
		if len(entries) > 2 {
			return fs.errorf(ext4err.ENOTEMPTY, "directory %q is not empty", name)
		}
		if err := fs.dirRemoveEntry(parentRef, name); err != nil {
			return err
		}
		parentRef.in.linkCount--
		if err := fs.writeInodeWithChecksum(parentRef); err != nil {
			return err
		}
		return fs.freeInode(childRef)
	}

	if err := fs.dirRemoveEntry(parentRef, name); err != nil {
		return err
	}
	childRef.in.linkCount--
	if childRef.in.linkCount == 0 {
		return fs.freeInode(childRef)
	}
	return fs.writeInodeWithChecksum(childRef)
}

// Link adds a second directory entry pointing at an existing inode,
// bumping its link_count. Hard-linking a directory is refused: the cycle
// guard in RenameExchange depends on every directory having exactly one
// `..` parent.
func (fs *FileSystem) Link(child, parent uint32, name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	parentRef, err := fs.readInodeRef(parent)
	if err != nil {
		return err
	}
	if !parentRef.in.isDir() {
		return fs.errorf(ext4err.ENOTDIR, "parent inode %d is not a directory", parent)
	}
	if _, exists, err := fs.dirLookup(parentRef, name); err != nil {
		return err
	} else if exists {
		return fs.errorf(ext4err.EEXIST, "%q already exists", name)
	}
	childRef, err := fs.readInodeRef(child)
	if err != nil {
		return err
	}
	if childRef.in.isDir() {
		return fs.errorf(ext4err.EINVAL, "cannot hard-link directory inode %d", child)
	}
	if err := fs.dirAddEntry(parentRef, child, name, dirFileTypeForMode(childRef.in.mode)); err != nil {
		return err
	}
	childRef.in.linkCount++
	return fs.writeInodeWithChecksum(childRef)
}

// Symlink creates a symlink inode. Targets that fit the inode's 60-byte
// inline area are stored there as a fast symlink with the EXTENTS flag
// left clear (so freeInode never mistakes the raw target bytes for an
// extent-tree header); longer targets fall back to a single data block
// addressed through the ordinary extent tree (a slow symlink).
func (fs *FileSystem) Symlink(parent uint32, name, target string) (uint32, error) {
	if err := validateName(name); err != nil {
		return 0, err
	}
	parentRef, err := fs.readInodeRef(parent)
	if err != nil {
		return 0, err
	}
	if !parentRef.in.isDir() {
		return 0, fs.errorf(ext4err.ENOTDIR, "parent inode %d is not a directory", parent)
	}
	if _, exists, err := fs.dirLookup(parentRef, name); err != nil {
		return 0, err
	} else if exists {
		return 0, fs.errorf(ext4err.EEXIST, "%q already exists", name)
	}

	childRef, err := fs.createInode(ModeFromTypeAndPerm(TypeSymlink, 0o777))
	if err != nil {
		return 0, err
	}
	ts := now()
	childRef.in.atime, childRef.in.ctime, childRef.in.mtime, childRef.in.crtime = ts, ts, ts, ts
	childRef.in.linkCount = 1

	if len(target) <= inlineExtentAreaSize {
		var inline [inlineExtentAreaSize]byte
		copy(inline[:], target)
		childRef.in.inline = inline
		childRef.in.flags &^= inodeFlagExtents
		childRef.in.size = uint64(len(target))
		if err := fs.writeInodeWithChecksum(childRef); err != nil {
			return 0, err
		}
	} else {
		if err := fs.writeInodeWithChecksum(childRef); err != nil {
			return 0, err
		}
		_, pblock, err := fs.inodeAppendBlock(childRef)
		if err != nil {
			return 0, err
		}
		block := make([]byte, BlockSize)
		copy(block, target)
		if err := fs.writeBlock(pblock, block); err != nil {
			return 0, err
		}
		childRef.in.size = uint64(len(target))
		if err := fs.writeInodeWithChecksum(childRef); err != nil {
			return 0, err
		}
	}

	if err := fs.dirAddEntry(parentRef, childRef.id, name, directoryFileTypeSymlink); err != nil {
		return 0, err
	}
	return childRef.id, nil
}

// ReadLink returns a symlink's target, reading it back from the inline
// area (fast symlink) or its single data block (slow symlink).
func (fs *FileSystem) ReadLink(ino uint32) (string, error) {
	ref, err := fs.readInodeRef(ino)
	if err != nil {
		return "", err
	}
	if ref.in.fileType() != TypeSymlink {
		return "", fs.errorf(ext4err.EINVAL, "inode %d is not a symlink", ino)
	}
	if ref.in.flags&inodeFlagExtents == 0 {
		return string(ref.in.inline[:ref.in.size]), nil
	}
	pblock, err := fs.ExtentQuery(ref, 0)
	if err != nil {
		return "", err
	}
	block, err := fs.readBlock(pblock)
	if err != nil {
		return "", err
	}
	return string(block[:ref.in.size]), nil
}
