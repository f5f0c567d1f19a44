package task

import (
	"os"
	"strings"
	"testing"

	"github.com/rain-io/rain/shared"
	"github.com/rain-io/rain/shared/wire"
	"github.com/stretchr/testify/require"
)

func TestOutputStaysInMemoryBelowThreshold(t *testing.T) {
	o := newOutput(shared.DataObjectID{Session: 1, Ordinal: 1}, t.TempDir())
	n, err := o.Write([]byte("small"))
	require.NoError(t, err)
	require.Equal(t, 5, n)

	result, err := o.result()
	require.NoError(t, err)
	require.Equal(t, wire.LocationMemory, result.Location.Kind)
	require.Equal(t, []byte("small"), result.Location.Memory)
}

func TestOutputSpillsAboveThreshold(t *testing.T) {
	dir := t.TempDir()
	o := newOutput(shared.DataObjectID{Session: 1, Ordinal: 2}, dir)

	big := strings.Repeat("x", spillThreshold+1)
	_, err := o.Write([]byte(big))
	require.NoError(t, err)

	result, err := o.result()
	require.NoError(t, err)
	require.Equal(t, wire.LocationPath, result.Location.Kind)
	require.FileExists(t, result.Location.Path)

	content, err := os.ReadFile(result.Location.Path)
	require.NoError(t, err)
	require.Equal(t, big, string(content))
}

func TestOutputSetPathBypassesBuffering(t *testing.T) {
	dir := t.TempDir()
	o := newOutput(shared.DataObjectID{Session: 1, Ordinal: 3}, dir)
	o.SetPath("/some/already/written/path", 42)

	result, err := o.result()
	require.NoError(t, err)
	require.Equal(t, wire.LocationPath, result.Location.Kind)
	require.Equal(t, "/some/already/written/path", result.Location.Path)
	require.Equal(t, int64(42), result.Location.Size)
}
