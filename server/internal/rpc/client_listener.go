package rpc

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/rain-io/rain/shared"
	"github.com/rain-io/rain/shared/wire"
)

// ClientListener accepts client connections and serves the client service
// channel: open_session, submit, wait, fetch, unkeep, close_session, and
// the standalone terminate operation.
type ClientListener struct {
	log     *zap.Logger
	reactor *Reactor
}

func NewClientListener(log *zap.Logger, reactor *Reactor) *ClientListener {
	return &ClientListener{log: log.Named("client-listener"), reactor: reactor}
}

func (l *ClientListener) Serve(ctx context.Context, ln net.Listener) error {
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
				return fmt.Errorf("accept client connection: %w", err)
			}
		}
		go l.handle(ctx, conn)
	}
}

func (l *ClientListener) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	wc := wire.NewConn(conn)
	if err := wc.ExpectMagic(); err != nil {
		l.log.Warn("bad handshake from client", zap.Error(err))
		return
	}

	clientID := shared.ClientID(conn.RemoteAddr().String())
	var session shared.SessionID
	opened := false

	for {
		var frame wire.ClientFrame
		if err := wc.ReadFrame(&frame); err != nil {
			if opened {
				l.log.Info("client disconnected", zap.Uint64("session", uint64(session)), zap.Error(err))
			}
			return
		}

		var resp wire.ClientFrame
		switch frame.Kind {
		case wire.ClientFrameOpenSession:
			session = l.reactor.OpenSession(clientID)
			opened = true
			resp = wire.ClientFrame{Kind: wire.ClientFrameOpenSession, OpenSessionRes: &wire.OpenSessionResponse{Session: session}}
		case wire.ClientFrameSubmit:
			req := frame.SubmitReq
			err := l.reactor.Submit(req.Session, req.Spec)
			var werr *shared.Error
			if err != nil {
				if se, ok := err.(*shared.Error); ok {
					werr = se
				} else {
					werr = shared.Submission("%s", err.Error())
				}
			}
			resp = wire.ClientFrame{Kind: wire.ClientFrameSubmit, SubmitRes: &wire.SubmitResponse{Error: werr}}
		case wire.ClientFrameWait:
			req := frame.WaitReq
			outcomes, timedOut := l.waitWithDeadline(req)
			resp = wire.ClientFrame{Kind: wire.ClientFrameWait, WaitRes: &wire.WaitResponse{Outcomes: outcomes, TimedOut: timedOut}}
		case wire.ClientFrameCloseSession:
			l.reactor.CloseSession(frame.CloseSessionReq.Session)
			resp = wire.ClientFrame{Kind: wire.ClientFrameCloseSession, CloseSessionRes: &wire.CloseSessionResponse{}}
		case wire.ClientFrameFetch:
			resp = wire.ClientFrame{Kind: wire.ClientFrameFetch, FetchRes: l.fetch(ctx, frame.FetchReq)}
		case wire.ClientFrameUnkeep:
			req := frame.UnkeepReq
			werr := l.reactor.Unkeep(req.Session, req.Objects)
			resp = wire.ClientFrame{Kind: wire.ClientFrameUnkeep, UnkeepRes: &wire.UnkeepResponse{Error: werr}}
		case wire.ClientFrameTerminate:
			l.reactor.Terminate()
			resp = wire.ClientFrame{Kind: wire.ClientFrameTerminate, TerminateRes: &wire.TerminateResponse{}}
		default:
			l.log.Warn("unexpected frame kind from client", zap.String("kind", string(frame.Kind)))
			return
		}

		if err := wc.WriteFrame(resp); err != nil {
			l.log.Info("write to client failed", zap.Error(err))
			return
		}
	}
}

// fetch resolves which governor holds req's object through the reactor,
// then dials that governor directly to pull the bytes: the reactor's
// command loop never blocks on network I/O.
func (l *ClientListener) fetch(ctx context.Context, req *wire.ObjectFetchRequest) *wire.ObjectFetchResponse {
	governor, size, dataType, ferr := l.reactor.Fetch(req.Session, req.Object)
	if ferr != nil {
		return &wire.ObjectFetchResponse{Error: ferr}
	}
	data, err := fetchObjectBytes(ctx, governor, req.Object, size)
	if err != nil {
		return &wire.ObjectFetchResponse{Error: shared.Transfer(err, "fetch object %s from governor %s", req.Object, governor)}
	}
	return &wire.ObjectFetchResponse{Data: data, DataType: dataType}
}

func (l *ClientListener) waitWithDeadline(req *wire.WaitRequest) ([]wire.TaskOutcome, bool) {
	if req.DeadlineMillis <= 0 {
		return l.reactor.Wait(req.Session, req.Tasks, req.Objects), false
	}

	done := make(chan []wire.TaskOutcome, 1)
	go func() { done <- l.reactor.Wait(req.Session, req.Tasks, req.Objects) }()

	select {
	case outcomes := <-done:
		return outcomes, false
	case <-time.After(time.Duration(req.DeadlineMillis) * time.Millisecond):
		return nil, true
	}
}
