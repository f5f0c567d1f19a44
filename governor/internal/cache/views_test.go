package cache

import (
	"testing"

	"github.com/rain-io/rain/governor/internal/data"
	"github.com/rain-io/rain/shared"
	"github.com/stretchr/testify/require"
)

func TestGetOpensOnceAndReusesCachedView(t *testing.T) {
	c, err := New(2)
	require.NoError(t, err)

	opens := 0
	id := shared.DataObjectID{Session: 1, Ordinal: 1}
	open := func() (*data.TransportView, error) {
		opens++
		return data.MemoryView([]byte("x")), nil
	}

	v1, err := c.Get(id, open)
	require.NoError(t, err)
	v2, err := c.Get(id, open)
	require.NoError(t, err)
	require.Same(t, v1, v2)
	require.Equal(t, 1, opens)
}

func TestEvictionKeepsAtMostCapacity(t *testing.T) {
	c, err := New(1)
	require.NoError(t, err)

	a := shared.DataObjectID{Session: 1, Ordinal: 1}
	b := shared.DataObjectID{Session: 1, Ordinal: 2}

	_, err = c.Get(a, func() (*data.TransportView, error) { return data.MemoryView([]byte("a")), nil })
	require.NoError(t, err)
	_, err = c.Get(b, func() (*data.TransportView, error) { return data.MemoryView([]byte("b")), nil })
	require.NoError(t, err)

	require.Equal(t, 1, c.Len())
}

func TestDropRemovesFromCache(t *testing.T) {
	c, err := New(2)
	require.NoError(t, err)
	id := shared.DataObjectID{Session: 1, Ordinal: 1}
	_, err = c.Get(id, func() (*data.TransportView, error) { return data.MemoryView([]byte("x")), nil })
	require.NoError(t, err)
	require.Equal(t, 1, c.Len())

	c.Drop(id)
	require.Equal(t, 0, c.Len())
}
