package ext4

import (
	"testing"
)

// TestRenameExchangeSwapsContents: exchanging two names in the same
// directory swaps which inode each name resolves to, leaving both inodes'
// contents untouched.
func TestRenameExchangeSwapsContents(t *testing.T) {
	fs := newTestFS(t, 4096)

	a, err := fs.Create(RootInodeID, "a", ModeFromTypeAndPerm(TypeRegular, 0o644))
	if err != nil {
		t.Fatalf("create a: %v", err)
	}
	b, err := fs.Create(RootInodeID, "b", ModeFromTypeAndPerm(TypeRegular, 0o644))
	if err != nil {
		t.Fatalf("create b: %v", err)
	}
	if _, err := fs.Write(a, 0, []byte("A")); err != nil {
		t.Fatalf("write a: %v", err)
	}
	if _, err := fs.Write(b, 0, []byte("B")); err != nil {
		t.Fatalf("write b: %v", err)
	}

	if err := fs.RenameExchange(RootInodeID, "a", RootInodeID, "b"); err != nil {
		t.Fatalf("rename_exchange: %v", err)
	}

	gotA, err := fs.Lookup(RootInodeID, "a")
	if err != nil || gotA != b {
		t.Fatalf("lookup a = %d err=%v, want %d", gotA, err, b)
	}
	gotB, err := fs.Lookup(RootInodeID, "b")
	if err != nil || gotB != a {
		t.Fatalf("lookup b = %d err=%v, want %d", gotB, err, a)
	}

	buf := make([]byte, 1)
	if _, err := fs.Read(gotA, 0, buf); err != nil || buf[0] != 'B' {
		t.Fatalf("contents of name a = %q, want B", buf)
	}
	if _, err := fs.Read(gotB, 0, buf); err != nil || buf[0] != 'A' {
		t.Fatalf("contents of name b = %q, want A", buf)
	}
}

// TestRenameExchangeCycleRejected: swapping a directory with its own
// descendant would create a cycle and must fail with EINVAL.
func TestRenameExchangeCycleRejected(t *testing.T) {
	fs := newTestFS(t, 4096)

	parent, err := fs.Create(RootInodeID, "parent", ModeFromTypeAndPerm(TypeDirectory, 0o755))
	if err != nil {
		t.Fatalf("create parent: %v", err)
	}
	if _, err := fs.Create(parent, "child", ModeFromTypeAndPerm(TypeDirectory, 0o755)); err != nil {
		t.Fatalf("create parent/child: %v", err)
	}

	err = fs.RenameExchange(RootInodeID, "parent", parent, "child")
	if err == nil {
		t.Fatalf("expected EINVAL for cycle-forming rename_exchange")
	}
}

// TestRenameExchangeAcrossDirectoriesFixesLinkCounts checks that moving a
// subdirectory out of d1 by exchanging it with a file in d2 drops d1's
// link_count by one and repoints the subdirectory's `..` entry at d2.
func TestRenameExchangeAcrossDirectoriesFixesLinkCounts(t *testing.T) {
	fs := newTestFS(t, 4096)

	d1, err := fs.Create(RootInodeID, "d1", ModeFromTypeAndPerm(TypeDirectory, 0o755))
	if err != nil {
		t.Fatalf("create d1: %v", err)
	}
	d2, err := fs.Create(RootInodeID, "d2", ModeFromTypeAndPerm(TypeDirectory, 0o755))
	if err != nil {
		t.Fatalf("create d2: %v", err)
	}
	sub, err := fs.Create(d1, "sub", ModeFromTypeAndPerm(TypeDirectory, 0o755))
	if err != nil {
		t.Fatalf("create d1/sub: %v", err)
	}
	f, err := fs.Create(d2, "f", ModeFromTypeAndPerm(TypeRegular, 0o644))
	if err != nil {
		t.Fatalf("create d2/f: %v", err)
	}

	d1Before, err := fs.readInodeRef(d1)
	if err != nil {
		t.Fatalf("readInodeRef d1: %v", err)
	}
	linkCountBefore := d1Before.in.linkCount

	if err := fs.RenameExchange(d1, "sub", d2, "f"); err != nil {
		t.Fatalf("rename_exchange: %v", err)
	}

	d1After, err := fs.readInodeRef(d1)
	if err != nil {
		t.Fatalf("readInodeRef d1 after: %v", err)
	}
	if d1After.in.linkCount != linkCountBefore-1 {
		t.Fatalf("d1.link_count = %d, want %d", d1After.in.linkCount, linkCountBefore-1)
	}

	// sub's ".." must now point at d2.
	subRef, err := fs.readInodeRef(sub)
	if err != nil {
		t.Fatalf("readInodeRef sub: %v", err)
	}
	if !subRef.in.isDir() {
		t.Fatalf("sub is no longer a directory after exchange")
	}
	gotParent, ok, err := fs.dirLookup(subRef, "..")
	if err != nil || !ok || gotParent != d2 {
		t.Fatalf("sub's .. = %d ok=%v err=%v, want %d", gotParent, ok, err, d2)
	}

	_ = f
}
