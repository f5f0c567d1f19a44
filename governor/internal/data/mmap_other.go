//go:build !linux

package data

import (
	"fmt"
	"os"
)

// mmapFile has no portable fallback here: the governor's zero-copy read
// path (mmap-based zero-copy reads) is Linux-only. On other hosts
// OpenMmapView returns this error for every non-empty path-backed object,
// and its callers pass the error on; there is no buffered-read fallback.
func mmapFile(f *os.File, size int64) ([]byte, error) {
	return nil, fmt.Errorf("mmap not supported on this platform")
}

func munmap(b []byte) error { return nil }
