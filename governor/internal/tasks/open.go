package tasks

import (
	"fmt"
	"io"
	"os"

	"github.com/rain-io/rain/governor/internal/data"
)

type openConfig struct {
	Path string `json:"path"`
}

// Open implements builtin/open: reads a file from the host filesystem at
// config.path and produces it as a single output object. A directory path
// produces a Directory object via a deterministic
// tar pack; a regular file produces a Blob.
func Open(c *Call) error {
	if len(c.Outputs) != 1 {
		return fmt.Errorf("builtin/open requires exactly one output, got %d", len(c.Outputs))
	}
	var cfg openConfig
	if err := unmarshalConfig(c.Config, &cfg); err != nil {
		return err
	}
	out := c.Outputs[0]

	info, err := os.Stat(cfg.Path)
	if err != nil {
		return fmt.Errorf("open %s: %w", cfg.Path, err)
	}

	builder, err := data.NewBuilder(c.Layout.TmpDir())
	if err != nil {
		return fmt.Errorf("start open output builder: %w", err)
	}
	sink := builderWriter{builder: builder, tmpDir: c.Layout.TmpDir()}

	if info.IsDir() {
		pr, pw := io.Pipe()
		packErr := make(chan error, 1)
		go func() {
			packErr <- data.PackDirectory(cfg.Path, pw)
			pw.Close()
		}()
		if _, err := io.Copy(sink, pr); err != nil {
			builder.Abandon()
			return fmt.Errorf("pack directory %s: %w", cfg.Path, err)
		}
		if err := <-packErr; err != nil {
			builder.Abandon()
			return fmt.Errorf("pack directory %s: %w", cfg.Path, err)
		}
	} else {
		f, err := os.Open(cfg.Path)
		if err != nil {
			return fmt.Errorf("open %s: %w", cfg.Path, err)
		}
		_, copyErr := io.Copy(sink, f)
		f.Close()
		if copyErr != nil {
			builder.Abandon()
			return fmt.Errorf("read %s: %w", cfg.Path, copyErr)
		}
	}

	storage, err := builder.Finish(c.Layout.ObjectPath(out.Object))
	if err != nil {
		return fmt.Errorf("finalise open output: %w", err)
	}
	*out.Result = storage
	return nil
}
