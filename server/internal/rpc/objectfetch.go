package rpc

import (
	"context"
	"fmt"
	"net"

	"github.com/rain-io/rain/shared"
	"github.com/rain-io/rain/shared/wire"
)

// fetchObjectBytes pulls the full contents of object from the governor that
// holds it, reusing the same FetchRequest/FetchResponse exchange governors
// use to transfer objects between each other: one dial, one request, one
// response, no persistent connection.
func fetchObjectBytes(ctx context.Context, governor shared.GovernorID, object shared.DataObjectID, size int64) ([]byte, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", string(governor))
	if err != nil {
		return nil, fmt.Errorf("dial governor %s: %w", governor, err)
	}
	defer conn.Close()

	wc := wire.NewConn(conn)
	if err := wc.WriteMagic(); err != nil {
		return nil, fmt.Errorf("send magic: %w", err)
	}
	req := wire.FetchRequest{Object: object, Offset: 0, Size: size}
	if err := wc.WriteFrame(&req); err != nil {
		return nil, fmt.Errorf("send fetch request: %w", err)
	}

	var resp wire.FetchResponse
	if err := wc.ReadFrame(&resp); err != nil {
		return nil, fmt.Errorf("read fetch response: %w", err)
	}
	if resp.Status != wire.FetchOk {
		return nil, fmt.Errorf("governor %s does not hold object %s", governor, object)
	}
	return resp.Chunk, nil
}
