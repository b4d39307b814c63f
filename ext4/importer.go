// Image seeding: copying real files from the host OS into a fresh image,
// including their extended attributes (github.com/pkg/xattr) and the
// change/birth timestamps os.FileInfo does not expose
// (gopkg.in/djherbis/times.v1). This is fixture tooling layered on the
// public operations, not part of the on-disk engine itself.
package ext4

import (
	"os"

	"github.com/pkg/xattr"
	times "gopkg.in/djherbis/times.v1"
)

// ImportFile copies hostPath's content, user/system/trusted/security
// xattrs, and available timestamps into a new regular-file inode created
// under parent as name. It is meant for building seed images in tests.
func (fs *FileSystem) ImportFile(parent uint32, name, hostPath string) (uint32, error) {
	info, err := os.Stat(hostPath)
	if err != nil {
		return 0, err
	}
	mode := ModeFromTypeAndPerm(TypeRegular, uint16(info.Mode().Perm()))
	ino, err := fs.Create(parent, name, mode)
	if err != nil {
		return 0, err
	}

	data, err := os.ReadFile(hostPath)
	if err != nil {
		return 0, err
	}
	if len(data) > 0 {
		if _, err := fs.Write(ino, 0, data); err != nil {
			return 0, err
		}
	}

	if names, err := xattr.List(hostPath); err == nil {
		for _, n := range names {
			v, err := xattr.Get(hostPath, n)
			if err != nil {
				continue
			}
			if err := fs.SetXattr(ino, n, v); err != nil {
				fs.log.WithField("xattr", n).Warnf("importing xattr from %s: %v", hostPath, err)
			}
		}
	}

	ref, err := fs.readInodeRef(ino)
	if err != nil {
		return 0, err
	}
	ref.in.mtime = uint32(info.ModTime().Unix())
	if ts, err := times.Stat(hostPath); err == nil {
		if ts.HasChangeTime() {
			ref.in.ctime = uint32(ts.ChangeTime().Unix())
		}
		if ts.HasBirthTime() {
			ref.in.crtime = uint32(ts.BirthTime().Unix())
		}
	}
	if err := fs.writeInodeWithChecksum(ref); err != nil {
		return 0, err
	}
	return ino, nil
}
