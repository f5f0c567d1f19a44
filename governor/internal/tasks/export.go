package tasks

import (
	"bytes"
	"fmt"
	"os"

	"github.com/rain-io/rain/governor/internal/data"
	"github.com/rain-io/rain/shared"
)

type exportConfig struct {
	Path string `json:"path"`
}

// Export implements builtin/export: writes its single input to
// config.path on the host filesystem, the inverse of builtin/open. A Blob
// input is written as a plain file; a Directory
// input's tar stream is unpacked into config.path as a directory tree.
func Export(c *Call) error {
	if len(c.Inputs) != 1 {
		return fmt.Errorf("builtin/export requires exactly one input, got %d", len(c.Inputs))
	}
	var cfg exportConfig
	if err := unmarshalConfig(c.Config, &cfg); err != nil {
		return err
	}
	in := c.Inputs[0]

	switch in.DataType {
	case shared.DataTypeBlob:
		if err := os.WriteFile(cfg.Path, in.View.Bytes(), 0o644); err != nil {
			return fmt.Errorf("export %s to %s: %w", in.Object, cfg.Path, err)
		}
	case shared.DataTypeDirectory:
		if err := data.UnpackDirectory(bytes.NewReader(in.View.Bytes()), cfg.Path); err != nil {
			return fmt.Errorf("export directory %s to %s: %w", in.Object, cfg.Path, err)
		}
	default:
		return fmt.Errorf("export %s: unknown data type %q", in.Object, in.DataType)
	}
	return nil
}
