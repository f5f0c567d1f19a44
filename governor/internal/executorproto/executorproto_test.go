package executorproto

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/rain-io/rain/shared"
	"github.com/rain-io/rain/shared/wire"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeExecutor dials sockPath and answers exactly one Call with a fixed
// Result, simulating the task SDK's minimum viable behaviour for this test.
func fakeExecutor(t *testing.T, sockPath string, executorID shared.ExecutorID) {
	t.Helper()
	raw, err := net.Dial("unix", sockPath)
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })

	wc := wire.NewConn(raw)
	require.NoError(t, wc.WriteMagic())
	require.NoError(t, wc.WriteFrame(&wire.ExecutorFrame{
		Kind:     wire.FrameRegister,
		Register: &wire.Register{ExecutorID: executorID, TaskTypes: []string{"echo"}},
	}))

	var callFrame wire.ExecutorFrame
	require.NoError(t, wc.ReadFrame(&callFrame))
	require.Equal(t, wire.FrameCall, callFrame.Kind)

	require.NoError(t, wc.WriteFrame(&wire.ExecutorFrame{
		Kind: wire.FrameResult,
		Result: &wire.Result{
			CallID: callFrame.Call.CallID,
			Outputs: []wire.OutputResult{
				{Object: callFrame.Call.Outputs[0].Object, DataType: shared.DataTypeBlob, Location: wire.DataLocation{Kind: wire.LocationMemory, Memory: []byte("ok")}},
			},
		},
	}))
}

func TestExecutorHandshakeAndInvoke(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "executor.sock")
	ln, err := Listen(zap.NewNop(), sockPath)
	require.NoError(t, err)
	defer ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	ready := make(chan *Conn, 1)
	ln.OnReady = func(c *Conn) { ready <- c }
	go ln.Serve(ctx)

	executorID := shared.ExecutorID{Governor: "gov-1", Ordinal: 0}
	go fakeExecutor(t, sockPath, executorID)

	var conn *Conn
	select {
	case conn = <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("executor never registered")
	}
	require.Equal(t, executorID, conn.ExecutorID())
	require.Equal(t, []string{"echo"}, conn.TaskTypes())

	task := shared.TaskID{Session: 1, Ordinal: 1}
	out := shared.DataObjectID{Session: 1, Ordinal: 2}
	result, err := conn.Invoke(context.Background(), task, "echo", nil, []wire.OutputSlot{{Object: out}}, nil)
	require.NoError(t, err)
	require.Len(t, result.Outputs, 1)
	require.Equal(t, []byte("ok"), result.Outputs[0].Location.Memory)
}
