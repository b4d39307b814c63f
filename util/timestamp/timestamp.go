// Package timestamp provides utilities for handling timestamps
package timestamp

import (
	"os"
	"strconv"
	"time"
)

// GetTime returns the current time in UTC, honoring SOURCE_DATE_EPOCH if set.
// SOURCE_DATE_EPOCH is a Unix timestamp used for reproducible builds.
// If SOURCE_DATE_EPOCH is not set or invalid, it returns time.Now().UTC().
func GetTime() time.Time {
	if epoch := os.Getenv("SOURCE_DATE_EPOCH"); epoch != "" {
		if timestamp, err := strconv.ParseInt(epoch, 10, 64); err == nil {
			return time.Unix(timestamp, 0).UTC()
		}
	}

	return time.Now().UTC()
}

// Now returns the current time as a 32-bit Unix timestamp, the width every
// on-disk inode timestamp field (atime, ctime, mtime, dtime, crtime) is
// stored in. It wraps GetTime so SOURCE_DATE_EPOCH still produces
// reproducible inode timestamps in formatted images.
func Now() uint32 {
	return uint32(GetTime().Unix())
}
