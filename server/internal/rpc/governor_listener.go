package rpc

import (
	"context"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/rain-io/rain/shared"
	"github.com/rain-io/rain/shared/wire"
)

// GovernorListener accepts the long-lived TCP connection each governor
// opens to the server (the GovernorUpstream channel) and feeds every
// frame into the Reactor.
type GovernorListener struct {
	log     *zap.Logger
	reactor *Reactor
}

func NewGovernorListener(log *zap.Logger, reactor *Reactor) *GovernorListener {
	return &GovernorListener{log: log.Named("governor-listener"), reactor: reactor}
}

func (l *GovernorListener) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("accept governor connection: %w", err)
			}
		}
		go l.handle(ctx, conn)
	}
}

// governorConn implements governors.Dispatcher: Dispatch calls on the
// registry end up writing frames through here, serialized by mu so the
// single outbound wire.Conn is never written from two goroutines at once.
type governorConn struct {
	mu   sync.Mutex
	wc   *wire.Conn
	id   shared.GovernorID
}

func (g *governorConn) SendAssignment(a wire.Assignment) error {
	return g.SendFrame(wire.NodeFrame{Kind: wire.NodeFrameAssignment, Assignment: &a})
}

func (g *governorConn) SendFrame(f wire.NodeFrame) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.wc.WriteFrame(f)
}

func (l *GovernorListener) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	wc := wire.NewConn(conn)
	if err := wc.ExpectMagic(); err != nil {
		l.log.Warn("bad handshake from governor", zap.Error(err))
		return
	}

	var first wire.NodeFrame
	if err := wc.ReadFrame(&first); err != nil || first.Kind != wire.NodeFrameGovernorRegister {
		l.log.Warn("expected governor_register as first frame", zap.Error(err))
		return
	}
	reg := first.GovernorRegister
	gc := &governorConn{wc: wc, id: reg.GovernorID}
	l.reactor.GovernorJoined(reg.GovernorID, reg.Resources, gc)
	l.log.Info("governor joined", zap.String("governor", string(reg.GovernorID)))

	defer l.reactor.GovernorGone(reg.GovernorID)

	for {
		var frame wire.NodeFrame
		if err := wc.ReadFrame(&frame); err != nil {
			l.log.Info("governor disconnected", zap.String("governor", string(reg.GovernorID)), zap.Error(err))
			return
		}
		switch frame.Kind {
		case wire.NodeFrameStateReport:
			if frame.StateReport != nil {
				l.reactor.ReportState(*frame.StateReport)
			}
		case wire.NodeFrameHeartbeat:
			// Heartbeats are read and dropped. A governor's FreeCPUs in
			// the graph is set at registration and not updated from
			// heartbeats or state reports.
		default:
			l.log.Warn("unexpected frame kind from governor", zap.String("kind", string(frame.Kind)))
		}

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}
