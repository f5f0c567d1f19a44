package data

import (
	"fmt"
	"os"
)

// BuildThreshold is the point at which an in-progress DataBuilder abandons
// its memory buffer and spills to a file — larger than MemoryThreshold
// because a builder is accumulating output incrementally and the final
// size is not known up front, so the spill point is set generously to
// avoid needless file churn for objects that end up just over
// MemoryThreshold.
const BuildThreshold = 256 * 1024 // 256 KiB

// DataBuilder is an incremental sink for one object's bytes. The
// memory-to-file switch happens per write, not only when the final size is
// known in advance: Write can upgrade an in-memory builder to a
// file-backed one mid-stream the moment the accumulated size would exceed
// BuildThreshold.
type DataBuilder struct {
	mem      []byte
	file     *os.File
	filePath string
	size     int64
}

// NewBuilder creates a builder that starts in memory. tmpDir is not
// retained: the spill directory is the one passed to the Write call that
// first grows the builder past BuildThreshold.
func NewBuilder(tmpDir string) (*DataBuilder, error) {
	return &DataBuilder{mem: make([]byte, 0, 4096)}, nil
}

// Write appends p to the builder's accumulated bytes, spilling to a
// tmpDir-resident file the moment doing so is required to stay under
// BuildThreshold.
func (b *DataBuilder) Write(tmpDir string, p []byte) (int, error) {
	if b.file != nil {
		n, err := b.file.Write(p)
		b.size += int64(n)
		return n, err
	}

	if int64(len(b.mem)+len(p)) <= BuildThreshold {
		b.mem = append(b.mem, p...)
		b.size += int64(len(p))
		return len(p), nil
	}

	f, err := os.CreateTemp(tmpDir, "rain-builder-*")
	if err != nil {
		return 0, fmt.Errorf("spill builder to file: %w", err)
	}
	if _, err := f.Write(b.mem); err != nil {
		f.Close()
		return 0, fmt.Errorf("write buffered bytes to spill file: %w", err)
	}
	n, err := f.Write(p)
	if err != nil {
		f.Close()
		return n, fmt.Errorf("write to spill file: %w", err)
	}
	b.file = f
	b.filePath = f.Name()
	b.mem = nil
	b.size += int64(n)
	return n, nil
}

// Size returns the number of bytes written so far.
func (b *DataBuilder) Size() int64 { return b.size }

// currentKind reports whether the builder is still memory-backed or has
// spilled to a file, for tests and diagnostics.
func (b *DataBuilder) currentKind() StorageKind {
	if b.file != nil {
		return StoragePath
	}
	return StorageMemory
}

// Finish finalises the builder into a Storage value. If file-backed, the
// temp file is renamed to finalPath (an atomic rename, matching the
// atomic-temp-file-then-rename idiom used throughout this codebase for
// state persistence). If memory-backed, no filesystem interaction happens
// at all.
func (b *DataBuilder) Finish(finalPath string) (Storage, error) {
	if b.file == nil {
		return MemoryStorage(b.mem), nil
	}
	if err := b.file.Close(); err != nil {
		return Storage{}, fmt.Errorf("close spill file: %w", err)
	}
	if err := os.Rename(b.filePath, finalPath); err != nil {
		return Storage{}, fmt.Errorf("rename spill file into place: %w", err)
	}
	return PathStorage(finalPath, b.size), nil
}

// Abandon removes any spill file without finalising it, used when a task
// fails mid-output.
func (b *DataBuilder) Abandon() {
	if b.file != nil {
		b.file.Close()
		os.Remove(b.filePath)
	}
}
