package fetch

import (
	"context"
	"net"
	"testing"

	"github.com/rain-io/rain/governor/internal/data"
	"github.com/rain-io/rain/shared"
	"github.com/rain-io/rain/shared/wire"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestFetchRoundTrip(t *testing.T) {
	object := shared.DataObjectID{Session: 1, Ordinal: 1}
	view := data.MemoryView([]byte("hello world"))
	stream := data.NewPackStream(view)

	srv, err := Listen(zap.NewNop(), "127.0.0.1:0", func(id shared.DataObjectID) (*data.PackStream, shared.DataType, int64, bool) {
		if id != object {
			return nil, "", 0, false
		}
		return stream, shared.DataTypeBlob, view.Size(), true
	})
	require.NoError(t, err)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.Serve(ctx)

	peer := shared.GovernorID(srv.Addr())
	client := NewClient(nil)

	resp, err := client.Fetch(context.Background(), peer, object, 0, 5, true)
	require.NoError(t, err)
	require.Equal(t, wire.FetchOk, resp.Status)
	require.Equal(t, []byte("hello"), resp.Chunk)
	require.Equal(t, shared.DataTypeBlob, resp.DataType)
}

func TestFetchNotHereDoesNotError(t *testing.T) {
	srv, err := Listen(zap.NewNop(), "127.0.0.1:0", func(shared.DataObjectID) (*data.PackStream, shared.DataType, int64, bool) {
		return nil, "", 0, false
	})
	require.NoError(t, err)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.Serve(ctx)

	client := NewClient(nil)
	resp, err := client.Fetch(context.Background(), shared.GovernorID(srv.Addr()), shared.DataObjectID{Session: 9, Ordinal: 9}, 0, 1, false)
	require.NoError(t, err)
	require.Equal(t, wire.FetchNotHere, resp.Status)
}

func TestFetchRetriesOnTransportFailureThenGivesUp(t *testing.T) {
	attempts := 0
	client := NewClient(func(ctx context.Context, peer shared.GovernorID) (net.Conn, error) {
		attempts++
		return nil, context.DeadlineExceeded
	})
	_, err := client.Fetch(context.Background(), "unreachable:0", shared.DataObjectID{Session: 1, Ordinal: 1}, 0, 1, false)
	require.Error(t, err)
	require.Equal(t, MaxRetries, attempts)
}
