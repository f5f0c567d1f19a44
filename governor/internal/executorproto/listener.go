package executorproto

import (
	"context"
	"fmt"
	"net"
	"os"

	"go.uber.org/zap"
)

// Listener accepts executor connections on a Unix domain socket, one per
// spawned executor subprocess (the socket path is handed to the subprocess
// via RAIN_EXECUTOR_SOCKET).
type Listener struct {
	log     *zap.Logger
	ln      net.Listener
	path    string
	OnReady func(*Conn)
}

// Listen creates (removing any stale socket file first) and binds a Unix
// socket at path.
func Listen(log *zap.Logger, path string) (*Listener, error) {
	_ = os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", path, err)
	}
	return &Listener{log: log, ln: ln, path: path}, nil
}

// Addr returns the socket path executors should dial.
func (l *Listener) Addr() string { return l.path }

// Serve accepts connections until ctx is cancelled, completing the
// handshake for each and invoking OnReady with the resulting Conn. One
// executor subprocess is expected to connect exactly once.
func (l *Listener) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		l.ln.Close()
	}()

	for {
		raw, err := l.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept on %s: %w", l.path, err)
		}
		go func() {
			conn, err := Accept(l.log, raw)
			if err != nil {
				l.log.Warn("executor handshake failed", zap.Error(err))
				return
			}
			if l.OnReady != nil {
				l.OnReady(conn)
			}
		}()
	}
}

// Close removes the socket file.
func (l *Listener) Close() error {
	err := l.ln.Close()
	os.Remove(l.path)
	return err
}
