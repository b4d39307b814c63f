package ext4

import (
	"bytes"
	"testing"

	"github.com/dragonos-community/ext4fs/device"
)

func newTestFS(t *testing.T, blockCount uint64) *FileSystem {
	t.Helper()
	dev := device.NewMemDevice(blockCount, BlockSize)
	fs, err := Format(dev, DefaultParams(blockCount))
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	return fs
}

// TestMkdirTreeAndFileReadWrite: a nested mkdir tree followed by file
// creation and a short read/write round trip.
func TestMkdirTreeAndFileReadWrite(t *testing.T) {
	fs := newTestFS(t, 4096)

	d1, err := fs.Create(RootInodeID, "d1", ModeFromTypeAndPerm(TypeDirectory, 0o755))
	if err != nil {
		t.Fatalf("create d1: %v", err)
	}
	d2, err := fs.Create(d1, "d2", ModeFromTypeAndPerm(TypeDirectory, 0o755))
	if err != nil {
		t.Fatalf("create d1/d2: %v", err)
	}
	f, err := fs.Create(d2, "f", ModeFromTypeAndPerm(TypeRegular, 0o644))
	if err != nil {
		t.Fatalf("create d1/d2/f: %v", err)
	}

	want := []byte("hello world")
	if n, err := fs.Write(f, 0, want); err != nil || n != len(want) {
		t.Fatalf("write: n=%d err=%v", n, err)
	}

	got := make([]byte, 16)
	n, err := fs.Read(f, 0, got)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != len(want) {
		t.Fatalf("read returned %d bytes, want %d", n, len(want))
	}
	if !bytes.Equal(got[:n], want) {
		t.Fatalf("read %q, want %q", got[:n], want)
	}

	lookedUp, err := fs.Lookup(RootInodeID, "d1/d2/f")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if lookedUp != f {
		t.Fatalf("lookup returned inode %d, want %d", lookedUp, f)
	}
}

// TestLargeWriteSpansExtents: a write large enough to force root promotion
// and/or non-root leaf splits, with a faithful round-trip read afterward.
func TestLargeWriteSpansExtents(t *testing.T) {
	const totalBytes = 16 * 1024 * 1024 // 16 MiB: 4096 single-block extents, well past root capacity
	fs := newTestFS(t, 4096*32)

	f, err := fs.Create(RootInodeID, "big", ModeFromTypeAndPerm(TypeRegular, 0o644))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	payload := bytes.Repeat([]byte{0x63}, totalBytes)
	if n, err := fs.Write(f, 0, payload); err != nil || n != totalBytes {
		t.Fatalf("write: n=%d err=%v", n, err)
	}

	ref, err := fs.readInodeRef(f)
	if err != nil {
		t.Fatalf("readInodeRef: %v", err)
	}
	wantBlocks := uint64(totalBytes / BlockSize)
	if ref.in.blockCount != wantBlocks {
		t.Fatalf("fs_block_count = %d, want %d", ref.in.blockCount, wantBlocks)
	}
	if headerDepth(ref.in.inline[:]) == 0 {
		treeBlocks, err := fs.ExtentAllTreeBlocks(ref)
		if err != nil {
			t.Fatalf("ExtentAllTreeBlocks: %v", err)
		}
		if len(treeBlocks) == 0 {
			t.Fatalf("expected root depth > 0 or non-root tree blocks, got neither")
		}
	}

	got := make([]byte, totalBytes)
	n, err := fs.Read(f, 0, got)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != totalBytes || !bytes.Equal(got, payload) {
		t.Fatalf("read back %d bytes mismatched payload", n)
	}
}

// TestRemoveReclaims: free_blocks_count returns to its prior value once
// the file that consumed it is removed.
func TestRemoveReclaims(t *testing.T) {
	fs := newTestFS(t, 4096*4)

	before := fs.sb.freeBlocksCount()

	f, err := fs.Create(RootInodeID, "f", ModeFromTypeAndPerm(TypeRegular, 0o644))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	payload := bytes.Repeat([]byte{1}, 1024*1024)
	if _, err := fs.Write(f, 0, payload); err != nil {
		t.Fatalf("write: %v", err)
	}

	mid := fs.sb.freeBlocksCount()
	if before-mid < 256 {
		t.Fatalf("free_blocks_count dropped by %d, want at least 256", before-mid)
	}

	if err := fs.Remove(RootInodeID, "f"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	after := fs.sb.freeBlocksCount()
	if after != before {
		t.Fatalf("free_blocks_count after remove = %d, want %d", after, before)
	}

	if _, err := fs.Lookup(RootInodeID, "f"); err == nil {
		t.Fatalf("lookup succeeded after remove")
	}
}

// TestReadPastEndIsEOF: reading past size returns 0 with no error.
func TestReadPastEndIsEOF(t *testing.T) {
	fs := newTestFS(t, 4096)
	f, err := fs.Create(RootInodeID, "f", ModeFromTypeAndPerm(TypeRegular, 0o644))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := fs.Write(f, 0, []byte("abc")); err != nil {
		t.Fatalf("write: %v", err)
	}
	buf := make([]byte, 10)
	n, err := fs.Read(f, 100, buf)
	if err != nil {
		t.Fatalf("read past end: %v", err)
	}
	if n != 0 {
		t.Fatalf("read past end returned %d bytes, want 0", n)
	}
}

// TestCreateDuplicateNameFails checks EEXIST on a name collision.
func TestCreateDuplicateNameFails(t *testing.T) {
	fs := newTestFS(t, 4096)
	if _, err := fs.Create(RootInodeID, "dup", ModeFromTypeAndPerm(TypeRegular, 0o644)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := fs.Create(RootInodeID, "dup", ModeFromTypeAndPerm(TypeRegular, 0o644)); err == nil {
		t.Fatalf("expected EEXIST on duplicate create")
	}
}

// TestLinkAndRemove verifies a hard-linked file survives removal of one
// of its two names and stays reachable through the other.
func TestLinkAndRemove(t *testing.T) {
	fs := newTestFS(t, 4096)
	f, err := fs.Create(RootInodeID, "a", ModeFromTypeAndPerm(TypeRegular, 0o644))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := fs.Link(f, RootInodeID, "b"); err != nil {
		t.Fatalf("link: %v", err)
	}
	if err := fs.Remove(RootInodeID, "a"); err != nil {
		t.Fatalf("remove a: %v", err)
	}
	if id, err := fs.Lookup(RootInodeID, "b"); err != nil || id != f {
		t.Fatalf("lookup b: id=%d err=%v, want %d", id, err, f)
	}
}

// TestRemoveNonEmptyDirectoryFails checks ENOTEMPTY.
func TestRemoveNonEmptyDirectoryFails(t *testing.T) {
	fs := newTestFS(t, 4096)
	d, err := fs.Create(RootInodeID, "d", ModeFromTypeAndPerm(TypeDirectory, 0o755))
	if err != nil {
		t.Fatalf("create d: %v", err)
	}
	if _, err := fs.Create(d, "child", ModeFromTypeAndPerm(TypeRegular, 0o644)); err != nil {
		t.Fatalf("create d/child: %v", err)
	}
	if err := fs.Remove(RootInodeID, "d"); err == nil {
		t.Fatalf("expected ENOTEMPTY removing non-empty directory")
	}
}

// TestSymlinkRoundTrip covers both the fast (inline) and slow (data
// block) symlink paths.
func TestSymlinkRoundTrip(t *testing.T) {
	fs := newTestFS(t, 4096)

	short, err := fs.Symlink(RootInodeID, "short", "target")
	if err != nil {
		t.Fatalf("symlink short: %v", err)
	}
	got, err := fs.ReadLink(short)
	if err != nil || got != "target" {
		t.Fatalf("readlink short: got %q err %v", got, err)
	}

	longTarget := string(bytes.Repeat([]byte("a"), 200))
	long, err := fs.Symlink(RootInodeID, "long", longTarget)
	if err != nil {
		t.Fatalf("symlink long: %v", err)
	}
	got, err = fs.ReadLink(long)
	if err != nil || got != longTarget {
		t.Fatalf("readlink long: len(got)=%d err=%v", len(got), err)
	}

	// freeing a fast symlink must not misinterpret its inline target
	// bytes as an extent-tree header (see freeInode's EXTENTS guard).
	if err := fs.Remove(RootInodeID, "short"); err != nil {
		t.Fatalf("remove short symlink: %v", err)
	}
	if err := fs.Remove(RootInodeID, "long"); err != nil {
		t.Fatalf("remove long symlink: %v", err)
	}
}
