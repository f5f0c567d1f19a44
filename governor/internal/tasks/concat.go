package tasks

import (
	"fmt"

	"github.com/rain-io/rain/governor/internal/data"
	"github.com/rain-io/rain/shared"
)

// Concat implements builtin/concat: its single output is the
// byte-for-byte concatenation of all inputs, in declaration order. Inputs
// must be Blobs; Directory concatenation is not defined.
func Concat(c *Call) error {
	if len(c.Outputs) != 1 {
		return fmt.Errorf("builtin/concat requires exactly one output, got %d", len(c.Outputs))
	}
	out := c.Outputs[0]

	builder, err := data.NewBuilder(c.Layout.TmpDir())
	if err != nil {
		return fmt.Errorf("start concat output builder: %w", err)
	}
	for _, in := range c.Inputs {
		if in.DataType != shared.DataTypeBlob {
			return fmt.Errorf("builtin/concat input %s must be a Blob", in.Object)
		}
		if _, err := builder.Write(c.Layout.TmpDir(), in.View.Bytes()); err != nil {
			builder.Abandon()
			return fmt.Errorf("concat write from %s: %w", in.Object, err)
		}
	}

	storage, err := builder.Finish(c.Layout.ObjectPath(out.Object))
	if err != nil {
		return fmt.Errorf("finalise concat output: %w", err)
	}
	*out.Result = storage
	return nil
}
