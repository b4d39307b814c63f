// Package backend is the byte-offset random access layer the block device in
// device.Device sits on top of: it knows nothing about ext4 and everything
// about files and block devices, so device.StorageDevice can translate block
// numbers into ReadAt/WriteAt calls without caring whether the bytes behind
// it are a raw disk, a disk image, or one partition's slice of either.
package backend

import (
	"errors"
	"io"
	"io/fs"
	"os"
)

var (
	ErrIncorrectOpenMode = errors.New("disk file or device not open for write")
	ErrNotSuitable       = errors.New("backing file is not suitable")
)

type File interface {
	fs.File
	io.ReaderAt
	io.Seeker
	io.Closer
}

type WritableFile interface {
	File
	io.WriterAt
}

// Storage is what device.StorageDevice requires of its backing store: a
// seekable, readable file plus, when the caller needs to format or mutate a
// filesystem rather than just read one, a WritableFile. Sub carves a
// byte-offset region out of any Storage, which is how a single disk image
// holding several partitions' worth of ext4 filesystems gets split apart
// without each partition needing its own open file descriptor.
type Storage interface {
	File
	// OS-specific file for ioctl calls via fd
	Sys() (*os.File, error)
	// file for read-write operations
	Writable() (WritableFile, error)
}
