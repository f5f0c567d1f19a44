package data

import (
	"fmt"
	"os"
)

// TransportViewKind discriminates TransportView's three variants.
type TransportViewKind int

const (
	ViewEmpty TransportViewKind = iota
	ViewMemory
	ViewMmap
)

// TransportView is a read-only handle over one object's bytes, used both
// to serve PackStream chunks to a fetching peer and to hand bytes to an
// executor without a governor-side copy. Mmap views must be closed via
// Close to release the mapping and the underlying file descriptor.
type TransportView struct {
	Kind   TransportViewKind
	mem    []byte
	mapped []byte
	file   *os.File
}

// EmptyView represents a zero-length object; no bytes, no descriptor.
func EmptyView() *TransportView { return &TransportView{Kind: ViewEmpty} }

// MemoryView wraps an in-memory byte slice. No file descriptor is held.
func MemoryView(b []byte) *TransportView { return &TransportView{Kind: ViewMemory, mem: b} }

// OpenMmapView opens path and maps it read-only for its full size. The
// caller owns the returned view and must Close it when done; the LRU cache
// in governor/internal/cache is the typical owner, evicting by calling
// Close on the least-recently-used entry.
func OpenMmapView(path string, size int64) (*TransportView, error) {
	if size == 0 {
		return EmptyView(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s for mmap: %w", path, err)
	}
	mapped, err := mmapFile(f, size)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	return &TransportView{Kind: ViewMmap, mapped: mapped, file: f}, nil
}

// Bytes returns the view's full content. For a mapped view this is the
// mapped region itself — callers must not retain it past Close.
func (v *TransportView) Bytes() []byte {
	switch v.Kind {
	case ViewMemory:
		return v.mem
	case ViewMmap:
		return v.mapped
	default:
		return nil
	}
}

func (v *TransportView) Close() error {
	if v.Kind != ViewMmap {
		return nil
	}
	err := munmap(v.mapped)
	if cerr := v.file.Close(); err == nil {
		err = cerr
	}
	return err
}

// Size returns the number of bytes the view covers.
func (v *TransportView) Size() int64 {
	return int64(len(v.Bytes()))
}
