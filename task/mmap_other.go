//go:build !linux

package task

import (
	"fmt"
	"os"
)

// mmapFile always fails on this platform; DataInstance then falls back to a
// buffered read. The governor's own mmap path has no such fallback.
func mmapFile(f *os.File, size int64) ([]byte, error) {
	return nil, fmt.Errorf("mmap not supported on this platform")
}

func munmap(b []byte) error { return nil }
