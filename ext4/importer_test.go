package ext4

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

// TestImportFile seeds an image from a real host file and checks the
// content, permission bits, and modification time survive the copy.
func TestImportFile(t *testing.T) {
	fs := newTestFS(t, 4096)

	hostPath := filepath.Join(t.TempDir(), "seed.txt")
	want := []byte("imported file contents")
	if err := os.WriteFile(hostPath, want, 0o640); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	info, err := os.Stat(hostPath)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}

	ino, err := fs.ImportFile(RootInodeID, "seed.txt", hostPath)
	if err != nil {
		t.Fatalf("ImportFile: %v", err)
	}

	got := make([]byte, len(want)+16)
	n, err := fs.Read(ino, 0, got)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != len(want) || !bytes.Equal(got[:n], want) {
		t.Fatalf("read back %q, want %q", got[:n], want)
	}

	ref, err := fs.readInodeRef(ino)
	if err != nil {
		t.Fatalf("readInodeRef: %v", err)
	}
	if perm := ref.in.mode & modePermMask; perm != 0o640 {
		t.Fatalf("imported perm bits = %o, want 640", perm)
	}
	if ref.in.mtime != uint32(info.ModTime().Unix()) {
		t.Fatalf("imported mtime = %d, want %d", ref.in.mtime, info.ModTime().Unix())
	}

	if id, err := fs.Lookup(RootInodeID, "seed.txt"); err != nil || id != ino {
		t.Fatalf("lookup seed.txt: id=%d err=%v, want %d", id, err, ino)
	}
}
