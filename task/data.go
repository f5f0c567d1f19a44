package task

import (
	"fmt"
	"os"
	"sync"

	"github.com/rain-io/rain/shared"
	"github.com/rain-io/rain/shared/wire"
)

// DataInstance is one input slot of a Call. Per the task function
// contract: if the Call carried the bytes inline, Bytes returns them
// directly; otherwise the file named by the Call's DataLocation is
// opened and memory-mapped on first access, and the mapping's lifetime
// equals the enclosing Call.
type DataInstance struct {
	Object   shared.DataObjectID
	DataType shared.DataType

	loc  wire.DataLocation
	once sync.Once
	file *os.File
	data []byte
	err  error
}

func newDataInstance(in wire.DataInstance) *DataInstance {
	return &DataInstance{Object: in.Object, DataType: in.DataType, loc: in.Location}
}

// Bytes returns this input's bytes, materializing a memory map on first
// call if the location is a path. Subsequent calls are free.
func (d *DataInstance) Bytes() ([]byte, error) {
	d.once.Do(d.materialize)
	return d.data, d.err
}

func (d *DataInstance) materialize() {
	switch d.loc.Kind {
	case wire.LocationMemory:
		d.data = d.loc.Memory
	case wire.LocationPath:
		f, err := os.Open(d.loc.Path)
		if err != nil {
			d.err = fmt.Errorf("open input %s: %w", d.loc.Path, err)
			return
		}
		mapped, err := mmapFile(f, d.loc.Size)
		if err != nil {
			// No mmap support on this platform: fall back to a buffered
			// read rather than failing the task outright.
			buf := make([]byte, d.loc.Size)
			if _, readErr := f.ReadAt(buf, 0); readErr != nil {
				f.Close()
				d.err = fmt.Errorf("read input %s: %w", d.loc.Path, readErr)
				return
			}
			f.Close()
			d.data = buf
			return
		}
		d.file = f
		d.data = mapped
	default:
		d.err = fmt.Errorf("unsupported input location kind %q", d.loc.Kind)
	}
}

// close releases the mapping, if one was made. Called once the enclosing
// Call's Result has been sent.
func (d *DataInstance) close() {
	if d.file == nil {
		return
	}
	if d.data != nil {
		_ = munmap(d.data)
	}
	d.file.Close()
}
