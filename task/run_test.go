package task

import (
	"testing"

	"github.com/rain-io/rain/shared"
	"github.com/rain-io/rain/shared/wire"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParseExecutorID(t *testing.T) {
	id, err := parseExecutorID("127.0.0.1:7763/executor-3")
	require.NoError(t, err)
	require.Equal(t, shared.GovernorID("127.0.0.1:7763"), id.Governor)
	require.Equal(t, uint32(3), id.Ordinal)
}

func TestParseExecutorIDRejectsMalformed(t *testing.T) {
	_, err := parseExecutorID("not-an-executor-id")
	require.Error(t, err)
}

func TestHandleCallDispatchesRegisteredFunc(t *testing.T) {
	registry = map[string]Func{}
	defer func() { registry = map[string]Func{} }()

	object := shared.DataObjectID{Session: 1, Ordinal: 1}
	Register("echo-test", func(ctx *Context, inputs []*DataInstance, outputs []*Output) error {
		b, err := inputs[0].Bytes()
		if err != nil {
			return err
		}
		_, err = outputs[0].Write(b)
		return err
	})

	call := wire.Call{
		CallID:   1,
		TaskType: "echo-test",
		Inputs:   []wire.DataInstance{{Object: object, Location: wire.DataLocation{Kind: wire.LocationMemory, Memory: []byte("payload")}}},
		Outputs:  []wire.OutputSlot{{Object: object}},
	}

	result := handleCall(zap.NewNop(), call, t.TempDir())
	require.Nil(t, result.Error)
	require.Len(t, result.Outputs, 1)
	require.Equal(t, []byte("payload"), result.Outputs[0].Location.Memory)
}

func TestHandleCallUnknownTaskTypeReturnsError(t *testing.T) {
	registry = map[string]Func{}
	defer func() { registry = map[string]Func{} }()

	call := wire.Call{CallID: 1, TaskType: "nonexistent"}
	result := handleCall(zap.NewNop(), call, t.TempDir())
	require.NotNil(t, result.Error)
}
