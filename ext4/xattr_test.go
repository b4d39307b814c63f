package ext4

import (
	"bytes"
	"testing"
)

// TestXattrLifecycle: set two xattrs, list them, get one back, remove it,
// and confirm both the removal and the remaining listing.
func TestXattrLifecycle(t *testing.T) {
	fs := newTestFS(t, 4096)
	f, err := fs.Create(RootInodeID, "f", ModeFromTypeAndPerm(TypeRegular, 0o644))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := fs.SetXattr(f, "user.testone", []byte("hello world")); err != nil {
		t.Fatalf("setxattr testone: %v", err)
	}
	if err := fs.SetXattr(f, "user.testtwo", []byte("world hello")); err != nil {
		t.Fatalf("setxattr testtwo: %v", err)
	}

	names, err := fs.ListXattr(f)
	if err != nil {
		t.Fatalf("listxattr: %v", err)
	}
	want := []string{"user.testone", "user.testtwo"}
	if len(names) != len(want) {
		t.Fatalf("listxattr = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("listxattr[%d] = %q, want %q", i, names[i], want[i])
		}
	}

	v, err := fs.GetXattr(f, "user.testone")
	if err != nil || !bytes.Equal(v, []byte("hello world")) {
		t.Fatalf("getxattr testone = %q, err=%v", v, err)
	}

	if err := fs.RemoveXattr(f, "user.testone"); err != nil {
		t.Fatalf("removexattr: %v", err)
	}
	if _, err := fs.GetXattr(f, "user.testone"); err == nil {
		t.Fatalf("expected ENOENT after removexattr")
	}

	names, err = fs.ListXattr(f)
	if err != nil {
		t.Fatalf("listxattr after remove: %v", err)
	}
	if len(names) != 1 || names[0] != "user.testtwo" {
		t.Fatalf("listxattr after remove = %v, want [user.testtwo]", names)
	}
}

// TestXattrRemoveLastFreesBlock checks that removing the only xattr frees
// the backing block and clears inode.xattr_block.
func TestXattrRemoveLastFreesBlock(t *testing.T) {
	fs := newTestFS(t, 4096)
	f, err := fs.Create(RootInodeID, "f", ModeFromTypeAndPerm(TypeRegular, 0o644))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	before := fs.sb.freeBlocksCount()

	if err := fs.SetXattr(f, "user.only", []byte("v")); err != nil {
		t.Fatalf("setxattr: %v", err)
	}
	ref, err := fs.readInodeRef(f)
	if err != nil {
		t.Fatalf("readInodeRef: %v", err)
	}
	if ref.in.xattrBlock == 0 {
		t.Fatalf("expected xattr_block to be set")
	}

	if err := fs.RemoveXattr(f, "user.only"); err != nil {
		t.Fatalf("removexattr: %v", err)
	}
	ref, err = fs.readInodeRef(f)
	if err != nil {
		t.Fatalf("readInodeRef: %v", err)
	}
	if ref.in.xattrBlock != 0 {
		t.Fatalf("xattr_block not cleared after removing last entry")
	}
	if fs.sb.freeBlocksCount() != before {
		t.Fatalf("free_blocks_count = %d, want %d after freeing xattr block", fs.sb.freeBlocksCount(), before)
	}
}

// TestXattrOverwrite checks that setting the same name twice replaces
// rather than duplicates the value.
func TestXattrOverwrite(t *testing.T) {
	fs := newTestFS(t, 4096)
	f, err := fs.Create(RootInodeID, "f", ModeFromTypeAndPerm(TypeRegular, 0o644))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := fs.SetXattr(f, "user.k", []byte("v1")); err != nil {
		t.Fatalf("setxattr v1: %v", err)
	}
	if err := fs.SetXattr(f, "user.k", []byte("v2")); err != nil {
		t.Fatalf("setxattr v2: %v", err)
	}
	names, err := fs.ListXattr(f)
	if err != nil {
		t.Fatalf("listxattr: %v", err)
	}
	if len(names) != 1 {
		t.Fatalf("listxattr = %v, want exactly one entry", names)
	}
	v, err := fs.GetXattr(f, "user.k")
	if err != nil || !bytes.Equal(v, []byte("v2")) {
		t.Fatalf("getxattr = %q err=%v, want v2", v, err)
	}
}
