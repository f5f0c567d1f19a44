package tasks

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/rain-io/rain/governor/internal/data"
	"github.com/rain-io/rain/shared"
)

// stderrTailLimit bounds how much of a failed run's stderr is folded into
// the task's error: the tail, up to 64 KiB.
const stderrTailLimit = 64 * 1024

type runInput struct {
	Path  string `json:"path"`
	Write bool   `json:"write"`
}

type runConfig struct {
	Args     []string   `json:"args"`
	InPaths  []runInput `json:"in_paths"`
	OutPaths []string   `json:"out_paths"`
}

// Run implements builtin/run: it runs an external program in a fresh
// per-task working directory, binds declared inputs into that directory
// by link or copy, always captures stdout/stderr to "+out"/"+err" files,
// optionally binds stdin from an input whose path is "+in", and reports
// declared outputs by their relative path once the process exits zero.
func Run(c *Call) error {
	var cfg runConfig
	if err := unmarshalConfig(c.Config, &cfg); err != nil {
		return err
	}
	if len(cfg.Args) == 0 {
		return fmt.Errorf("builtin/run config.args must be non-empty")
	}
	if len(cfg.InPaths) != len(c.Inputs) {
		return fmt.Errorf("builtin/run config.in_paths has %d entries, task has %d inputs", len(cfg.InPaths), len(c.Inputs))
	}
	if len(cfg.OutPaths) != len(c.Outputs) {
		return fmt.Errorf("builtin/run config.out_paths has %d entries, task has %d outputs", len(cfg.OutPaths), len(c.Outputs))
	}

	dir, err := c.Layout.TaskDir(c.Task)
	if err != nil {
		return err
	}
	defer c.Layout.RemoveTaskDir(c.Task)

	var stdinPath string
	for i, ipath := range cfg.InPaths {
		target := filepath.Join(dir, ipath.Path)
		if err := bindInput(c.Inputs[i], target, ipath.Write); err != nil {
			return fmt.Errorf("bind input %d (%s): %w", i, ipath.Path, err)
		}
		if ipath.Path == "+in" {
			stdinPath = target
		}
	}

	outPath := filepath.Join(dir, "+out")
	outFile, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create +out: %w", err)
	}
	defer outFile.Close()

	errPath := filepath.Join(dir, "+err")
	errFile, err := os.Create(errPath)
	if err != nil {
		return fmt.Errorf("create +err: %w", err)
	}
	defer errFile.Close()

	cmd := exec.CommandContext(c.Ctx, cfg.Args[0], cfg.Args[1:]...)
	cmd.Dir = dir
	cmd.Env = os.Environ()
	cmd.Stdout = outFile
	cmd.Stderr = errFile
	if stdinPath != "" {
		stdin, err := os.Open(stdinPath)
		if err != nil {
			return fmt.Errorf("open +in: %w", err)
		}
		defer stdin.Close()
		cmd.Stdin = stdin
	}

	if runErr := cmd.Run(); runErr != nil {
		return fmt.Errorf("builtin/run %s: %w\n%s", cfg.Args[0], runErr, tailStderr(errPath))
	}

	for i, opath := range cfg.OutPaths {
		storage, err := finalizeRunOutput(c.Layout, filepath.Join(dir, opath), c.Outputs[i])
		if err != nil {
			return fmt.Errorf("collect output %d (%s): %w", i, opath, err)
		}
		*c.Outputs[i].Result = storage
	}
	return nil
}

// bindInput makes an input's bytes available at target: a read-only hard
// link to the input's backing file when the task only reads the path, or a
// plain copy when the task declares it writes to the path, the input is
// memory-resident, or the link fails (e.g. crossing a filesystem boundary).
func bindInput(in Input, target string, write bool) error {
	if !write && in.Path != "" {
		if err := os.Link(in.Path, target); err == nil {
			return nil
		}
	}
	return os.WriteFile(target, in.View.Bytes(), 0o644)
}

// finalizeRunOutput turns the file a subprocess produced at path into the
// output's Storage. A Directory output is tar-packed into the data
// directory; a Blob output is moved into place directly (a move, never a
// copy, when source and destination share a filesystem).
func finalizeRunOutput(layout interface {
	ObjectPath(shared.DataObjectID) string
	TmpDir() string
}, path string, out Output) (data.Storage, error) {
	info, err := os.Stat(path)
	if err != nil {
		return data.Storage{}, err
	}

	if out.DataType == shared.DataTypeDirectory || info.IsDir() {
		builder, err := data.NewBuilder(layout.TmpDir())
		if err != nil {
			return data.Storage{}, err
		}
		var buf bytes.Buffer
		if err := data.PackDirectory(path, &buf); err != nil {
			builder.Abandon()
			return data.Storage{}, err
		}
		if _, err := builder.Write(layout.TmpDir(), buf.Bytes()); err != nil {
			builder.Abandon()
			return data.Storage{}, err
		}
		return builder.Finish(layout.ObjectPath(out.Object))
	}

	final := layout.ObjectPath(out.Object)
	if err := os.Rename(path, final); err != nil {
		return data.Storage{}, fmt.Errorf("move output into data dir: %w", err)
	}
	return data.PathStorage(final, info.Size()), nil
}

func tailStderr(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Sprintf("stderr unavailable: %v", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Sprintf("stderr unavailable: %v", err)
	}
	size := info.Size()
	if size > stderrTailLimit {
		if _, err := f.Seek(size-stderrTailLimit, io.SeekStart); err != nil {
			return fmt.Sprintf("stderr unavailable: %v", err)
		}
	}
	b, err := io.ReadAll(f)
	if err != nil {
		return fmt.Sprintf("stderr unavailable: %v", err)
	}
	return string(b)
}
