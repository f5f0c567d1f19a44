// Package fsdir manages a governor's on-disk working directory: the fixed
// layout (data/, tasks/, tmp/, executors/work/) and the per-task/
// per-executor subdirectory lifecycle built on top of it.
package fsdir

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rain-io/rain/shared"
)

// Layout is a governor's working directory, rooted at the path passed to
// --work-dir. The four subdirectories are created eagerly by Open so every
// other package can assume they exist.
type Layout struct {
	Root string
}

// Open creates (if necessary) the fixed subdirectory layout under root and
// returns a Layout rooted there.
func Open(root string) (*Layout, error) {
	l := &Layout{Root: root}
	for _, dir := range []string{l.DataDir(), l.TasksDir(), l.TmpDir(), l.ExecutorsWorkDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return l, nil
}

// DataDir holds immutable finalised objects, one subpath per object.
func (l *Layout) DataDir() string { return filepath.Join(l.Root, "data") }

// TasksDir holds per-task working directories, auto-cleaned after each task.
func (l *Layout) TasksDir() string { return filepath.Join(l.Root, "tasks") }

// TmpDir holds build-in-progress temp files, e.g. DataBuilder spill files.
func (l *Layout) TmpDir() string { return filepath.Join(l.Root, "tmp") }

// ExecutorsWorkDir holds per-executor working directories.
func (l *Layout) ExecutorsWorkDir() string { return filepath.Join(l.Root, "executors", "work") }

// ObjectPath returns the immutable path a finalised object's Storage.Path
// value should point at. Objects are keyed by session and ordinal so two
// sessions never collide even if the server restarts and reuses ordinals.
func (l *Layout) ObjectPath(id shared.DataObjectID) string {
	return filepath.Join(l.DataDir(), fmt.Sprintf("%d-%d", id.Session, id.Ordinal))
}

// TaskDir creates (if needed) and returns the per-task working directory
// for id, used by builtin/run and any builtin that stages files before
// producing outputs.
func (l *Layout) TaskDir(id shared.TaskID) (string, error) {
	dir := filepath.Join(l.TasksDir(), fmt.Sprintf("%d-%d", id.Session, id.Ordinal))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create task dir %s: %w", dir, err)
	}
	return dir, nil
}

// RemoveTaskDir tears down a task's working directory. Callers defer this
// immediately after TaskDir succeeds, guard-style: the directory is
// removed whether the task finishes, fails, or panics.
func (l *Layout) RemoveTaskDir(id shared.TaskID) error {
	dir := filepath.Join(l.TasksDir(), fmt.Sprintf("%d-%d", id.Session, id.Ordinal))
	return os.RemoveAll(dir)
}

// ExecutorWorkDir creates and returns the per-executor working directory
// used as the subprocess's cwd.
func (l *Layout) ExecutorWorkDir(id shared.ExecutorID) (string, error) {
	dir := filepath.Join(l.ExecutorsWorkDir(), fmt.Sprintf("%s-%d", id.Governor, id.Ordinal))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create executor work dir %s: %w", dir, err)
	}
	return dir, nil
}

// NewTempFile opens a fresh file under TmpDir for a DataBuilder spill.
func (l *Layout) NewTempFile() (*os.File, error) {
	return os.CreateTemp(l.TmpDir(), "rain-tmp-*")
}
