package serverconn

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rain-io/rain/shared"
	"github.com/rain-io/rain/shared/wire"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingHandler struct {
	assignments chan wire.Assignment
}

func (h *recordingHandler) Assignment(a wire.Assignment) { h.assignments <- a }

func TestConnRegistersAndReceivesAssignment(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		raw, err := ln.Accept()
		if err != nil {
			return
		}
		defer raw.Close()
		wc := wire.NewConn(raw)
		require.NoError(t, wc.ExpectMagic())

		var frame wire.NodeFrame
		require.NoError(t, wc.ReadFrame(&frame))
		require.Equal(t, wire.NodeFrameGovernorRegister, frame.Kind)
		require.Equal(t, shared.GovernorID("gov-1"), frame.GovernorRegister.GovernorID)

		assignment := wire.Assignment{Task: shared.TaskID{Session: 1, Ordinal: 1}}
		require.NoError(t, wc.WriteFrame(&wire.NodeFrame{Kind: wire.NodeFrameAssignment, Assignment: &assignment}))
	}()

	handler := &recordingHandler{assignments: make(chan wire.Assignment, 1)}
	conn := New(zap.NewNop(), ln.Addr().String(), "gov-1", shared.Resources{CPUs: 4}, handler, func() int { return 4 })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go conn.Run(ctx)

	select {
	case a := <-handler.assignments:
		require.Equal(t, uint64(1), a.Task.Ordinal)
	case <-time.After(2 * time.Second):
		t.Fatal("assignment never received")
	}

	<-serverDone
}
