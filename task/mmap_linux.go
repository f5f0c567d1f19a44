//go:build linux

package task

import (
	"os"

	"golang.org/x/sys/unix"
)

// mmapFile maps f read-only for size bytes, the same PROT_READ/MAP_SHARED
// shape the governor's own mmap view uses.
func mmapFile(f *os.File, size int64) ([]byte, error) {
	return unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
}

func munmap(b []byte) error {
	return unix.Munmap(b)
}
