//go:build linux

package data

import (
	"os"

	"golang.org/x/sys/unix"
)

// mmapFile maps f read-only for size bytes. Grounded directly on
// SnellerInc-sneller/tenant/dcache's file_linux.go: PROT_READ, MAP_SHARED,
// unix.Mmap/Munmap rather than a higher-level mmap package, since the
// governor needs only a read-only view and no resize/grow support.
func mmapFile(f *os.File, size int64) ([]byte, error) {
	return unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
}

func munmap(b []byte) error {
	return unix.Munmap(b)
}
