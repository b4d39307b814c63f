package ext4

import (
	"testing"

	"github.com/dragonos-community/ext4fs/util"
)

// TestSuperblockRoundTrip: serialize, parse back, and serialize again,
// comparing the two byte streams with a hex diff on mismatch rather than
// a blind DeepEqual.
func TestSuperblockRoundTrip(t *testing.T) {
	sb := newSuperblock(DefaultParams(4096 * 8))
	b := sb.toBytes()

	parsed, err := superblockFromBytes(b)
	if err != nil {
		t.Fatalf("superblockFromBytes: %v", err)
	}
	got := parsed.toBytes()

	diff, diffString := util.DumpByteSlicesWithDiffs(got, b, 32, false, true, true)
	if diff {
		t.Errorf("superblock round trip mismatched, actual then expected\n%s", diffString)
	}
}

// TestSuperblockFromBytesRejectsBadMagic checks mount-time validation.
func TestSuperblockFromBytesRejectsBadMagic(t *testing.T) {
	sb := newSuperblock(DefaultParams(4096 * 8))
	b := sb.toBytes()
	b[0x38] = 0x00 // corrupt s_magic
	b[0x39] = 0x00
	if _, err := superblockFromBytes(b); err == nil {
		t.Fatalf("expected error from corrupted magic")
	}
}
