package tasks

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rain-io/rain/governor/internal/data"
	"github.com/rain-io/rain/governor/internal/fsdir"
	"github.com/rain-io/rain/shared"
	"github.com/stretchr/testify/require"
)

func newLayout(t *testing.T) *fsdir.Layout {
	t.Helper()
	l, err := fsdir.Open(t.TempDir())
	require.NoError(t, err)
	return l
}

func TestConcatJoinsBlobsInOrder(t *testing.T) {
	layout := newLayout(t)
	var result data.Storage
	c := &Call{
		Ctx:    context.Background(),
		Layout: layout,
		Inputs: []Input{
			{Object: shared.DataObjectID{Session: 1, Ordinal: 1}, DataType: shared.DataTypeBlob, View: data.MemoryView([]byte{1, 2, 3})},
			{Object: shared.DataObjectID{Session: 1, Ordinal: 2}, DataType: shared.DataTypeBlob, View: data.MemoryView([]byte{4, 5, 6})},
		},
		Outputs: []Output{
			{Object: shared.DataObjectID{Session: 1, Ordinal: 3}, Result: &result},
		},
	}

	require.NoError(t, Concat(c))
	require.Equal(t, data.StorageMemory, result.Kind)
	require.Equal(t, []byte{1, 2, 3, 4, 5, 6}, result.Bytes)
}

func TestConcatRejectsDirectoryInput(t *testing.T) {
	layout := newLayout(t)
	var result data.Storage
	c := &Call{
		Layout: layout,
		Inputs: []Input{
			{Object: shared.DataObjectID{Session: 1, Ordinal: 1}, DataType: shared.DataTypeDirectory, View: data.MemoryView(nil)},
		},
		Outputs: []Output{{Object: shared.DataObjectID{Session: 1, Ordinal: 2}, Result: &result}},
	}
	require.Error(t, Concat(c))
}

func TestOpenThenExportRoundtrip(t *testing.T) {
	layout := newLayout(t)
	src := filepath.Join(t.TempDir(), "in.txt")
	require.NoError(t, os.WriteFile(src, []byte("hello world"), 0o644))

	var opened data.Storage
	openCall := &Call{
		Layout:  layout,
		Config:  map[string]any{"path": src},
		Outputs: []Output{{Object: shared.DataObjectID{Session: 1, Ordinal: 1}, Result: &opened}},
	}
	require.NoError(t, Open(openCall))

	view := storageView(t, opened)
	defer view.Close()

	dst := filepath.Join(t.TempDir(), "out.txt")
	exportCall := &Call{
		Layout: layout,
		Config: map[string]any{"path": dst},
		Inputs: []Input{{Object: shared.DataObjectID{Session: 1, Ordinal: 1}, DataType: shared.DataTypeBlob, View: view}},
	}
	require.NoError(t, Export(exportCall))

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, []byte("hello world"), got)
}

func TestRunFailureReportsStderrTail(t *testing.T) {
	layout := newLayout(t)
	c := &Call{
		Ctx:    context.Background(),
		Task:   shared.TaskID{Session: 1, Ordinal: 1},
		Layout: layout,
		Config: map[string]any{
			"args":      []any{"/bin/sh", "-c", "echo boom 1>&2; exit 1"},
			"in_paths":  []any{},
			"out_paths": []any{},
		},
	}
	err := Run(c)
	require.Error(t, err)
	require.Contains(t, err.Error(), "boom")
}

func TestRunProducesDeclaredOutput(t *testing.T) {
	layout := newLayout(t)
	var result data.Storage
	c := &Call{
		Ctx:  context.Background(),
		Task: shared.TaskID{Session: 1, Ordinal: 2},
		Config: map[string]any{
			"args":      []any{"/bin/sh", "-c", "printf hi > result.txt"},
			"in_paths":  []any{},
			"out_paths": []any{"result.txt"},
		},
		Outputs: []Output{{Object: shared.DataObjectID{Session: 1, Ordinal: 5}, Result: &result}},
		Layout:  layout,
	}
	require.NoError(t, Run(c))
	require.Equal(t, data.StoragePath, result.Kind)

	got, err := os.ReadFile(result.Path)
	require.NoError(t, err)
	require.Equal(t, []byte("hi"), got)
}

func storageView(t *testing.T, s data.Storage) *data.TransportView {
	t.Helper()
	switch s.Kind {
	case data.StorageMemory:
		return data.MemoryView(s.Bytes)
	case data.StoragePath:
		v, err := data.OpenMmapView(s.Path, s.Size)
		require.NoError(t, err)
		return v
	default:
		t.Fatalf("unexpected storage kind %v", s.Kind)
		return nil
	}
}
