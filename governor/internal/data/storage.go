// Package data implements the governor's local data-object storage model:
// the tri-state Memory/Path representation, the incremental DataBuilder
// that decides between them, and the mmap-backed TransportView used for
// zero-copy reads. The mmap plumbing is grounded in
// SnellerInc-sneller/tenant/dcache's file_linux.go (syscall.Mmap with
// MAP_SHARED, explicit unmap on eviction).
package data

import "github.com/rain-io/rain/shared"

// MemoryThreshold is the nominal memory-backed size limit for a blob. The
// DataBuilder does not consult it: a builder stays in memory up to
// BuildThreshold, and fetched inputs are held in memory at any size.
const MemoryThreshold = 128 * 1024 // 128 KiB

// StorageKind discriminates Storage's two variants.
type StorageKind int

const (
	StorageMemory StorageKind = iota
	StoragePath
)

// Storage is a tri-state representation, minus the "unfinished" state
// which is modelled by DataObject.State rather than by Storage itself
// (there is nothing to store yet).
type Storage struct {
	Kind  StorageKind
	Bytes []byte // valid when Kind == StorageMemory
	Path  string // valid when Kind == StoragePath
	Size  int64
}

func MemoryStorage(b []byte) Storage {
	return Storage{Kind: StorageMemory, Bytes: b, Size: int64(len(b))}
}

func PathStorage(path string, size int64) Storage {
	return Storage{Kind: StoragePath, Path: path, Size: size}
}

// Data pairs a Storage with the object's declared type: a directory's
// Storage is always a deterministic tar stream on disk (or, if small
// enough, that tar stream's bytes in memory) — DataType is what tells a
// consumer to unpack it rather than hand it to the task as an opaque blob.
type Data struct {
	Object   shared.DataObjectID
	DataType shared.DataType
	Storage  Storage
}
