// Package ext4err carries the small, fixed set of error kinds the engine
// surfaces at its boundary, parameterized so a caller can distinguish
// kinds with errors.Is while still getting a descriptive message.
package ext4err

import "fmt"

// Kind is one of the POSIX-flavored error classes the engine can return.
type Kind int

const (
	// ENOENT: name or inode not present.
	ENOENT Kind = iota
	// EEXIST: name collides on create/link.
	EEXIST
	// ENOSPC: no free block or inode in the targeted group, or xattr block full.
	ENOSPC
	// ENOTDIR: directory operation attempted on a non-directory.
	ENOTDIR
	// EISDIR: file operation attempted on a directory.
	EISDIR
	// EINVAL: malformed argument, double-free, rename cycle, corrupted bitmap bit.
	EINVAL
	// ENOTEMPTY: attempt to remove a non-empty directory.
	ENOTEMPTY
	// EBUSY: attempt to remove or rename an in-use root/mountpoint-like inode.
	EBUSY
	// EIO: underlying block device failure, propagated unchanged.
	EIO
)

func (k Kind) String() string {
	switch k {
	case ENOENT:
		return "ENOENT"
	case EEXIST:
		return "EEXIST"
	case ENOSPC:
		return "ENOSPC"
	case ENOTDIR:
		return "ENOTDIR"
	case EISDIR:
		return "EISDIR"
	case EINVAL:
		return "EINVAL"
	case ENOTEMPTY:
		return "ENOTEMPTY"
	case EBUSY:
		return "EBUSY"
	case EIO:
		return "EIO"
	default:
		return "EUNKNOWN"
	}
}

// Error is the concrete error type every fallible engine operation returns.
type Error struct {
	Kind    Kind
	Context string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Context, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Context)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ext4err.Sentinel(ext4err.ENOENT)) work: any *Error
// target matches when its Kind equals e's Kind, whatever its context.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New builds an *Error with a formatted context message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Context: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error that also carries an underlying cause, used when
// propagating a block device failure as EIO.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Context: fmt.Sprintf(format, args...), Err: err}
}

// Sentinel returns a bare *Error of the given kind suitable for errors.Is
// comparisons, e.g. errors.Is(err, ext4err.Sentinel(ext4err.ENOENT)).
func Sentinel(kind Kind) *Error { return &Error{Kind: kind} }
