package fsdir

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rain-io/rain/shared"
	"github.com/stretchr/testify/require"
)

func TestOpenCreatesFixedLayout(t *testing.T) {
	root := t.TempDir()
	l, err := Open(root)
	require.NoError(t, err)

	for _, dir := range []string{l.DataDir(), l.TasksDir(), l.TmpDir(), l.ExecutorsWorkDir()} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		require.True(t, info.IsDir())
	}
}

func TestTaskDirLifecycle(t *testing.T) {
	l, err := Open(t.TempDir())
	require.NoError(t, err)

	id := shared.TaskID{Session: 1, Ordinal: 2}
	dir, err := l.TaskDir(id)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scratch"), []byte("x"), 0o644))

	require.NoError(t, l.RemoveTaskDir(id))
	_, err = os.Stat(dir)
	require.True(t, os.IsNotExist(err))
}

func TestObjectPathIsStableAndUnique(t *testing.T) {
	l, err := Open(t.TempDir())
	require.NoError(t, err)

	a := l.ObjectPath(shared.DataObjectID{Session: 1, Ordinal: 1})
	b := l.ObjectPath(shared.DataObjectID{Session: 1, Ordinal: 2})
	require.NotEqual(t, a, b)
	require.Equal(t, a, l.ObjectPath(shared.DataObjectID{Session: 1, Ordinal: 1}))
}

func TestExecutorWorkDirCreated(t *testing.T) {
	l, err := Open(t.TempDir())
	require.NoError(t, err)

	dir, err := l.ExecutorWorkDir(shared.ExecutorID{Governor: "gov-1", Ordinal: 3})
	require.NoError(t, err)
	info, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}
