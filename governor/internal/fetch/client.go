// Package fetch implements the governor-to-governor object transfer
// protocol: a dedicated TCP connection per fetch carrying one
// FetchRequest/FetchResponse exchange over the shared wire codec, guarded
// per peer by a circuit breaker so a wedged peer cannot stall every fetch
// in the fleet.
package fetch

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rain-io/rain/shared"
	"github.com/rain-io/rain/shared/wire"
	"github.com/sony/gobreaker"
)

// MaxRetries is the transport-error retry budget for a single fetch
// against one peer: transfer errors are retried up to 3 times.
const MaxRetries = 3

// Dialer opens a connection to a peer governor's fetch listener. Production
// code resolves GovernorID ("host:port") with net.Dial; tests substitute an
// in-memory pipe.
type Dialer func(ctx context.Context, peer shared.GovernorID) (net.Conn, error)

// Client fetches object ranges from peer governors, one circuit breaker per
// peer so a single unreachable peer doesn't degrade fetches from others.
type Client struct {
	dial     Dialer
	mu       sync.Mutex
	breakers map[shared.GovernorID]*gobreaker.CircuitBreaker
}

// NewClient creates a fetch client. dial defaults to plain net.Dial("tcp",
// string(peer)) when nil.
func NewClient(dial Dialer) *Client {
	if dial == nil {
		dial = func(ctx context.Context, peer shared.GovernorID) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "tcp", string(peer))
		}
	}
	return &Client{dial: dial, breakers: make(map[shared.GovernorID]*gobreaker.CircuitBreaker)}
}

func (c *Client) breaker(peer shared.GovernorID) *gobreaker.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.breakers[peer]; ok {
		return b
	}
	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    fmt.Sprintf("fetch-%s", peer),
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	c.breakers[peer] = b
	return b
}

// Fetch requests [offset, offset+size) of object from peer. A FetchNotHere
// response is returned as a normal value, not an error, and does not count
// against the peer's circuit breaker: the caller tries another of the
// object's located peers. Only transport-level failures (dial, mid-stream
// close) count against the breaker; Fetch makes up to MaxRetries attempts
// before returning the last such error.
func (c *Client) Fetch(ctx context.Context, peer shared.GovernorID, object shared.DataObjectID, offset, size int64, includeInfo bool) (*wire.FetchResponse, error) {
	breaker := c.breaker(peer)

	var lastErr error
	for attempt := 0; attempt < MaxRetries; attempt++ {
		result, err := breaker.Execute(func() (any, error) {
			return c.doFetch(ctx, peer, object, offset, size, includeInfo)
		})
		if err == nil {
			return result.(*wire.FetchResponse), nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("fetch %s from %s: %w", object, peer, lastErr)
}

func (c *Client) doFetch(ctx context.Context, peer shared.GovernorID, object shared.DataObjectID, offset, size int64, includeInfo bool) (*wire.FetchResponse, error) {
	conn, err := c.dial(ctx, peer)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", peer, err)
	}
	defer conn.Close()

	wc := wire.NewConn(conn)
	if err := wc.WriteMagic(); err != nil {
		return nil, fmt.Errorf("send magic: %w", err)
	}
	req := wire.FetchRequest{Object: object, Offset: offset, Size: size, IncludeInfo: includeInfo}
	if err := wc.WriteFrame(&req); err != nil {
		return nil, fmt.Errorf("send fetch request: %w", err)
	}

	var resp wire.FetchResponse
	if err := wc.ReadFrame(&resp); err != nil {
		return nil, fmt.Errorf("read fetch response: %w", err)
	}
	return &resp, nil
}
