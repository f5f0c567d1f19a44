package task

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rain-io/rain/shared/wire"
	"github.com/stretchr/testify/require"
)

func TestDataInstanceBytesFromMemory(t *testing.T) {
	d := newDataInstance(wire.DataInstance{Location: wire.DataLocation{Kind: wire.LocationMemory, Memory: []byte("hello")}})
	b, err := d.Bytes()
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), b)
	d.close()
}

func TestDataInstanceBytesFromPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "input.bin")
	content := []byte("mapped content")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	d := newDataInstance(wire.DataInstance{Location: wire.DataLocation{Kind: wire.LocationPath, Path: path, Size: int64(len(content))}})
	b, err := d.Bytes()
	require.NoError(t, err)
	require.Equal(t, content, b)

	b2, err := d.Bytes()
	require.NoError(t, err)
	require.Equal(t, b, b2)

	d.close()
}

func TestDataInstanceBytesFromMissingPathErrors(t *testing.T) {
	d := newDataInstance(wire.DataInstance{Location: wire.DataLocation{Kind: wire.LocationPath, Path: "/nonexistent/path", Size: 1}})
	_, err := d.Bytes()
	require.Error(t, err)
}
