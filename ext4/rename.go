package ext4

import "github.com/dragonos-community/ext4fs/ext4err"

// isAncestorOf walks upward from start via `..` entries, returning true if
// target is reached before the root (inclusive of start itself). Used by
// RenameExchange's cycle guard: moving a directory to live under one of
// its own descendants would disconnect it from the tree.
func (fs *FileSystem) isAncestorOf(target, start uint32) (bool, error) {
	cur := start
	for {
		if cur == target {
			return true, nil
		}
		if cur == RootInodeID {
			return false, nil
		}
		ref, err := fs.readInodeRef(cur)
		if err != nil {
			return false, err
		}
		parentID, ok, err := fs.dirLookup(ref, "..")
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
		cur = parentID
	}
}

// RenameExchange atomically swaps the two named directory entries,
// possibly across two different parent directories. Swapping a directory
// across parents updates its `..` entry and the two parents' link_counts
// so `link_count == 2 + subdirs` keeps holding.
func (fs *FileSystem) RenameExchange(parent1 uint32, name1 string, parent2 uint32, name2 string) error {
	for _, n := range []string{name1, name2} {
		if n == "." || n == ".." {
			return fs.errorf(ext4err.EINVAL, "cannot exchange %q", n)
		}
	}
	p1ref, err := fs.readInodeRef(parent1)
	if err != nil {
		return err
	}
	if !p1ref.in.isDir() {
		return fs.errorf(ext4err.ENOTDIR, "parent inode %d is not a directory", parent1)
	}
	p2ref := p1ref
	if parent2 != parent1 {
		p2ref, err = fs.readInodeRef(parent2)
		if err != nil {
			return err
		}
		if !p2ref.in.isDir() {
			return fs.errorf(ext4err.ENOTDIR, "parent inode %d is not a directory", parent2)
		}
	}

	id1, ok, err := fs.dirLookup(p1ref, name1)
	if err != nil {
		return err
	}
	if !ok {
		return fs.errorf(ext4err.ENOENT, "no such entry %q", name1)
	}
	id2, ok, err := fs.dirLookup(p2ref, name2)
	if err != nil {
		return err
	}
	if !ok {
		return fs.errorf(ext4err.ENOENT, "no such entry %q", name2)
	}

	if id1 == id2 {
		return nil
	}
	if id1 == RootInodeID || id2 == RootInodeID {
		return fs.errorf(ext4err.EBUSY, "cannot exchange the root directory")
	}

	ref1, err := fs.readInodeRef(id1)
	if err != nil {
		return err
	}
	ref2, err := fs.readInodeRef(id2)
	if err != nil {
		return err
	}

	if ref1.in.isDir() {
		if anc, err := fs.isAncestorOf(id1, parent2); err != nil {
			return err
		} else if anc {
			return fs.errorf(ext4err.EINVAL, "rename would create a cycle through %q", name1)
		}
	}
	if ref2.in.isDir() {
		if anc, err := fs.isAncestorOf(id2, parent1); err != nil {
			return err
		} else if anc {
			return fs.errorf(ext4err.EINVAL, "rename would create a cycle through %q", name2)
		}
	}

	if err := fs.dirSetEntryInode(p1ref, name1, id2); err != nil {
		return err
	}
	if err := fs.dirSetEntryInode(p2ref, name2, id1); err != nil {
		return err
	}

	if parent1 != parent2 {
		if ref1.in.isDir() {
			if err := fs.dirSetEntryInode(ref1, "..", parent2); err != nil {
				return err
			}
			p1ref.in.linkCount--
			p2ref.in.linkCount++
		}
		if ref2.in.isDir() {
			if err := fs.dirSetEntryInode(ref2, "..", parent1); err != nil {
				return err
			}
			p2ref.in.linkCount--
			p1ref.in.linkCount++
		}
		if err := fs.writeInodeWithChecksum(p1ref); err != nil {
			return err
		}
		if err := fs.writeInodeWithChecksum(p2ref); err != nil {
			return err
		}
	}
	return nil
}
