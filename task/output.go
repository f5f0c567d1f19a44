package task

import (
	"fmt"
	"os"

	"github.com/rain-io/rain/shared"
	"github.com/rain-io/rain/shared/wire"
)

// spillThreshold mirrors the governor's own DataBuilder: an output stays
// an in-memory buffer below this size and spills to a staging file once
// it crosses it, so one enormous output doesn't balloon the executor's
// own memory.
const spillThreshold = 256 << 10

// Output is an appendable byte sink for one produced object. Writes below
// spillThreshold stay in memory; crossing it spills to a file in the
// staging directory handed to Run.
type Output struct {
	Object shared.DataObjectID

	stageDir     string
	buf          []byte
	file         *os.File
	size         int64
	pathOverride string
}

func newOutput(object shared.DataObjectID, stageDir string) *Output {
	return &Output{Object: object, stageDir: stageDir}
}

// Write implements io.Writer, spilling to a staging file the first time
// the accumulated size would exceed spillThreshold.
func (o *Output) Write(p []byte) (int, error) {
	if o.file == nil && int64(len(o.buf))+int64(len(p)) > spillThreshold {
		if err := o.spill(); err != nil {
			return 0, err
		}
	}
	if o.file != nil {
		n, err := o.file.Write(p)
		o.size += int64(n)
		return n, err
	}
	o.buf = append(o.buf, p...)
	o.size += int64(len(p))
	return len(p), nil
}

func (o *Output) spill() error {
	f, err := os.CreateTemp(o.stageDir, "rain-output-*")
	if err != nil {
		return fmt.Errorf("create staging file: %w", err)
	}
	if len(o.buf) > 0 {
		if _, err := f.Write(o.buf); err != nil {
			f.Close()
			return fmt.Errorf("write staged buffer: %w", err)
		}
	}
	o.file = f
	o.buf = nil
	return nil
}

// SetPath declares that this output's bytes are already written to path
// (e.g. a subprocess wrote them directly), bypassing Write entirely. The
// governor is told to take ownership of the file at path rather than copy
// it, matching builtin/run's own set_data_by_fs_move behavior on the
// governor side.
func (o *Output) SetPath(path string, size int64) {
	o.file = nil
	o.buf = nil
	o.pathOverride = path
	o.size = size
}

func (o *Output) result() (wire.OutputResult, error) {
	if o.pathOverride != "" {
		return wire.OutputResult{
			Object:   o.Object,
			DataType: shared.DataTypeBlob,
			Location: wire.DataLocation{Kind: wire.LocationPath, Path: o.pathOverride, Size: o.size},
		}, nil
	}
	if o.file != nil {
		name := o.file.Name()
		if err := o.file.Close(); err != nil {
			return wire.OutputResult{}, fmt.Errorf("close staging file: %w", err)
		}
		return wire.OutputResult{
			Object:   o.Object,
			DataType: shared.DataTypeBlob,
			Location: wire.DataLocation{Kind: wire.LocationPath, Path: name, Size: o.size},
		}, nil
	}
	return wire.OutputResult{
		Object:   o.Object,
		DataType: shared.DataTypeBlob,
		Location: wire.DataLocation{Kind: wire.LocationMemory, Memory: o.buf, Size: o.size},
	}, nil
}
