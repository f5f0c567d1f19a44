package governors

import (
	"testing"

	"github.com/rain-io/rain/shared"
	"github.com/rain-io/rain/shared/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDispatcher struct {
	assignments []wire.Assignment
	frames      []wire.NodeFrame
}

func (f *fakeDispatcher) SendAssignment(a wire.Assignment) error {
	f.assignments = append(f.assignments, a)
	return nil
}

func (f *fakeDispatcher) SendFrame(n wire.NodeFrame) error {
	f.frames = append(f.frames, n)
	return nil
}

func TestDispatchRequiresConnection(t *testing.T) {
	r := NewRegistry()
	err := r.Dispatch("governor-a:9000", wire.Assignment{})
	require.Error(t, err)
}

func TestRegisterThenDispatch(t *testing.T) {
	r := NewRegistry()
	fake := &fakeDispatcher{}
	r.Register("governor-a:9000", fake)

	assert.True(t, r.IsConnected("governor-a:9000"))
	require.NoError(t, r.Dispatch("governor-a:9000", wire.Assignment{Task: shared.TaskID{Session: 1, Ordinal: 1}}))
	require.Len(t, fake.assignments, 1)

	r.Deregister("governor-a:9000")
	assert.False(t, r.IsConnected("governor-a:9000"))
}

func TestBroadcastReachesAllConnections(t *testing.T) {
	r := NewRegistry()
	a, b := &fakeDispatcher{}, &fakeDispatcher{}
	r.Register("a:9000", a)
	r.Register("b:9000", b)

	r.Broadcast(wire.NodeFrame{Kind: wire.NodeFrameHeartbeat})
	assert.Len(t, a.frames, 1)
	assert.Len(t, b.frames, 1)
}
