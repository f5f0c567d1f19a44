package data

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDataBuilderStaysInMemoryBelowThreshold(t *testing.T) {
	tmp := t.TempDir()
	b, err := NewBuilder(tmp)
	require.NoError(t, err)
	n, err := b.Write(tmp, []byte("hello"))
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.EqualValues(t, 5, b.Size())

	storage, err := b.Finish(filepath.Join(tmp, "obj-1"))
	require.NoError(t, err)
	require.Equal(t, StorageMemory, storage.Kind)
	require.Equal(t, []byte("hello"), storage.Bytes)
}

func TestDataBuilderSpillsToFileAboveThreshold(t *testing.T) {
	tmp := t.TempDir()
	b, err := NewBuilder(tmp)
	require.NoError(t, err)

	first := bytes.Repeat([]byte("a"), BuildThreshold-1)
	_, err = b.Write(tmp, first)
	require.NoError(t, err)
	require.Equal(t, StorageMemory, b.currentKind())

	_, err = b.Write(tmp, []byte("xx"))
	require.NoError(t, err)
	require.Equal(t, StoragePath, b.currentKind())

	final := filepath.Join(tmp, "obj-2")
	storage, err := b.Finish(final)
	require.NoError(t, err)
	require.Equal(t, StoragePath, storage.Kind)
	require.Equal(t, final, storage.Path)
	require.EqualValues(t, BuildThreshold+1, storage.Size)

	content, err := os.ReadFile(final)
	require.NoError(t, err)
	require.Len(t, content, BuildThreshold+1)
}

func TestDataBuilderAbandonRemovesSpillFile(t *testing.T) {
	tmp := t.TempDir()
	b, err := NewBuilder(tmp)
	require.NoError(t, err)
	_, err = b.Write(tmp, bytes.Repeat([]byte("z"), BuildThreshold+1))
	require.NoError(t, err)
	require.Equal(t, StoragePath, b.currentKind())

	path := b.filePath
	b.Abandon()
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestTransportViewVariants(t *testing.T) {
	empty := EmptyView()
	require.Equal(t, ViewEmpty, empty.Kind)
	require.Empty(t, empty.Bytes())
	require.NoError(t, empty.Close())

	mem := MemoryView([]byte("payload"))
	require.Equal(t, ViewMemory, mem.Kind)
	require.Equal(t, []byte("payload"), mem.Bytes())
	require.EqualValues(t, 7, mem.Size())
	require.NoError(t, mem.Close())
}

func TestPackStreamBoundsChecking(t *testing.T) {
	view := MemoryView([]byte("0123456789"))
	ps := NewPackStream(view)

	got, err := ps.Read(2, 4)
	require.NoError(t, err)
	require.Equal(t, []byte("2345"), got)

	_, err = ps.Read(8, 4)
	require.Error(t, err)

	_, err = ps.Read(-1, 2)
	require.Error(t, err)
}

func TestPackDirectoryIsDeterministic(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("aaa"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "sub", "b.txt"), []byte("bbb"), 0o644))

	var buf1, buf2 bytes.Buffer
	require.NoError(t, PackDirectory(src, &buf1))
	require.NoError(t, PackDirectory(src, &buf2))
	require.Equal(t, buf1.Bytes(), buf2.Bytes())

	dst := filepath.Join(t.TempDir(), "extracted")
	require.NoError(t, UnpackDirectory(bytes.NewReader(buf1.Bytes()), dst))

	got, err := os.ReadFile(filepath.Join(dst, "sub", "b.txt"))
	require.NoError(t, err)
	require.Equal(t, []byte("bbb"), got)
}
