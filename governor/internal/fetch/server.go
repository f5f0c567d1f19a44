package fetch

import (
	"context"
	"fmt"
	"net"

	"github.com/rain-io/rain/governor/internal/data"
	"github.com/rain-io/rain/shared"
	"github.com/rain-io/rain/shared/wire"
	"go.uber.org/zap"
)

// Lookup resolves an object this governor may have located, returning a
// PackStream over its bytes (nil, false if not held locally). The runtime
// supplies this from its object table + cache.ViewCache.
type Lookup func(shared.DataObjectID) (stream *data.PackStream, dataType shared.DataType, size int64, ok bool)

// Server answers peer Fetch requests on a TCP listener.
type Server struct {
	log    *zap.Logger
	ln     net.Listener
	lookup Lookup
}

// Listen binds addr for peer fetch requests.
func Listen(log *zap.Logger, addr string, lookup Lookup) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	return &Server{log: log, ln: ln, lookup: lookup}, nil
}

// Addr returns the bound address, useful when addr was ":0".
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Serve accepts fetch connections until ctx is cancelled. Each connection
// carries exactly one FetchRequest/FetchResponse exchange.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.ln.Close()
	}()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept fetch connection: %w", err)
		}
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	wc := wire.NewConn(conn)
	if err := wc.ExpectMagic(); err != nil {
		s.log.Warn("fetch handshake failed", zap.Error(err))
		return
	}

	var req wire.FetchRequest
	if err := wc.ReadFrame(&req); err != nil {
		s.log.Warn("read fetch request failed", zap.Error(err))
		return
	}

	stream, dataType, size, ok := s.lookup(req.Object)
	if !ok {
		wc.WriteFrame(&wire.FetchResponse{Status: wire.FetchNotHere})
		return
	}

	chunk, err := stream.Read(req.Offset, req.Size)
	if err != nil {
		s.log.Warn("fetch range out of bounds", zap.Error(err), zap.Stringer("object", req.Object))
		wc.WriteFrame(&wire.FetchResponse{Status: wire.FetchNotHere})
		return
	}

	resp := wire.FetchResponse{Status: wire.FetchOk, Chunk: chunk}
	if req.IncludeInfo {
		resp.DataType = dataType
		resp.Size = size
	}
	if err := wc.WriteFrame(&resp); err != nil {
		s.log.Warn("write fetch response failed", zap.Error(err))
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error { return s.ln.Close() }
